package core

import (
	"context"
	"errors"
	"testing"
)

func TestCreateStage(t *testing.T) {
	forEachStore(t, func(t *testing.T, store clockedStore, _ *stepClock) {
		ctx := context.Background()
		stages := NewStageService(store)
		if stages.Store() != PersistentStore(store) {
			t.Fatalf("Store must return the backing store")
		}
		created, err := stages.CreateStage(ctx, StageInput{Name: "  Level 1 "})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if created.ID == 0 || created.Name != "Level 1" || !created.CreatedAt.Equal(baseTime) {
			t.Fatalf("unexpected stage %+v", created)
		}
		if _, err := stages.CreateStage(ctx, StageInput{Name: "   "}); !errors.Is(err, ErrStageNameRequired) {
			t.Fatalf("expected ErrStageNameRequired, got %v", err)
		}
		got, err := stages.GetStageByID(ctx, created.ID)
		if err != nil || got.Name != "Level 1" {
			t.Fatalf("get: %+v %v", got, err)
		}
	})
}

func TestGetStageByIDMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, store clockedStore, _ *stepClock) {
		_, err := NewStageService(store).GetStageByID(context.Background(), 99)
		var notFound NotFoundError
		if !errors.As(err, &notFound) || notFound.ID != 99 {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
	})
}

func TestListStagesOrderedByID(t *testing.T) {
	forEachStore(t, func(t *testing.T, store clockedStore, _ *stepClock) {
		stages := NewStageService(store)
		for _, name := range []string{"c", "a", "b"} {
			mustCreateStage(t, stages, name)
		}
		list, err := stages.ListStages(context.Background())
		if err != nil || len(list) != 3 {
			t.Fatalf("list: %d %v", len(list), err)
		}
		for i := 1; i < len(list); i++ {
			if list[i-1].ID >= list[i].ID {
				t.Fatalf("stages not ordered by id: %+v", list)
			}
		}
		if list[0].Name != "c" {
			t.Fatalf("expected creation order, got %q first", list[0].Name)
		}
	})
}

func TestUpdateStageBoundariesFirstRegionCollapses(t *testing.T) {
	forEachStore(t, func(t *testing.T, store clockedStore, _ *stepClock) {
		ctx := context.Background()
		stages := NewStageService(store)
		stage := mustCreateStage(t, stages, "collapse")
		var updated Stage
		_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = stages.UpdateStageBoundaries(tx, stage, -3, 8)
			return err
		})
		if err != nil {
			t.Fatalf("update bounds: %v", err)
		}
		if updated.MinRow != -3 || updated.MaxRow != -3 || updated.MinColumn != 8 || updated.MaxColumn != 8 {
			t.Fatalf("expected bounds collapsed on (-3,8), got %+v", updated)
		}
		if !updated.UpdatedAt.After(stage.UpdatedAt) {
			t.Fatalf("expected UpdatedAt bump")
		}
	})
}

func TestUpdateStageBoundariesIsMonotonic(t *testing.T) {
	forEachStore(t, func(t *testing.T, store clockedStore, _ *stepClock) {
		ctx := context.Background()
		stages, regions := newServices(store)
		stage := mustCreateStage(t, stages, "grow")
		mustUpsert(t, regions, stage.ID, 0, 0, "a")
		mustUpsert(t, regions, stage.ID, 4, 4, "b")
		before, _ := stages.GetStageByID(ctx, stage.ID)

		res, err := store.RunInTransaction(ctx, func(tx Transaction) error {
			got, err := stages.UpdateStageBoundaries(tx, before, 2, 3)
			if err != nil {
				return err
			}
			if !got.UpdatedAt.Equal(before.UpdatedAt) || got.MaxRow != before.MaxRow || got.MinColumn != before.MinColumn {
				t.Errorf("inside coordinate changed the stage: %+v -> %+v", before, got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("update bounds: %v", err)
		}
		if res.Affected != 0 {
			t.Fatalf("expected no writes, got %d", res.Affected)
		}

		_, err = store.RunInTransaction(ctx, func(tx Transaction) error {
			got, err := stages.UpdateStageBoundaries(tx, before, 6, -2)
			if err != nil {
				return err
			}
			if got.MinRow != 0 || got.MaxRow != 6 || got.MinColumn != -2 || got.MaxColumn != 4 {
				t.Errorf("unexpected growth %+v", got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("grow bounds: %v", err)
		}
		after, _ := stages.GetStageByID(ctx, stage.ID)
		for _, c := range []Coordinate{{Row: 0, Column: 0}, {Row: 4, Column: 4}, {Row: 6, Column: -2}, {Row: 2, Column: 3}} {
			if !after.Contains(c.Row, c.Column) {
				t.Fatalf("bounds %+v lost %+v", after, c)
			}
		}
	})
}

func TestUpdateStageBoundariesMissingStage(t *testing.T) {
	forEachStore(t, func(t *testing.T, store clockedStore, _ *stepClock) {
		stages := NewStageService(store)
		_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
			_, err := stages.UpdateStageBoundaries(tx, Stage{Base: Base{ID: 42}}, 1, 1)
			return err
		})
		var notFound NotFoundError
		if !errors.As(err, &notFound) || notFound.ID != 42 {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
	})
}

type failingUpdateTx struct {
	Transaction
}

func (failingUpdateTx) UpdateStage(int64, func(*Stage) error) (Stage, error) {
	return Stage{}, errors.New("disk full")
}

func TestUpdateStageBoundariesWrapsStoreFailure(t *testing.T) {
	forEachStore(t, func(t *testing.T, store clockedStore, _ *stepClock) {
		stages := NewStageService(store)
		stage := mustCreateStage(t, stages, "fail")
		_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
			_, err := stages.UpdateStageBoundaries(failingUpdateTx{tx}, stage, 1, 1)
			return err
		})
		var persistence PersistenceError
		if !errors.As(err, &persistence) || persistence.Err == nil || persistence.Err.Error() != "disk full" {
			t.Fatalf("expected wrapped PersistenceError, got %v", err)
		}
	})
}
