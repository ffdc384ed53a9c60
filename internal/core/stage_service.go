package core

import (
	"context"
	"errors"
	"strings"
)

// ErrStageNameRequired is returned when a stage is created without a name.
var ErrStageNameRequired = errors.New("stage name is required")

// StageInput is the caller supplied shape of a new stage.
type StageInput struct {
	Name string
}

// StageService owns stage records and their bounding boxes.
type StageService struct {
	store PersistentStore
	inst  instrumentation
}

// NewStageService constructs a stage service backed by the supplied store.
func NewStageService(store PersistentStore, opts ...ServiceOption) *StageService {
	return &StageService{store: store, inst: newInstrumentation(store, opts)}
}

// Store returns the underlying storage implementation.
func (s *StageService) Store() PersistentStore {
	return s.store
}

// CreateStage persists a new, empty stage.
func (s *StageService) CreateStage(ctx context.Context, input StageInput) (Stage, error) {
	var created Stage
	err := s.inst.observe(ctx, opCreateStage, func(ctx context.Context) (int64, error) {
		name := strings.TrimSpace(input.Name)
		if name == "" {
			return 0, ErrStageNameRequired
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateStage(Stage{Name: name})
			return err
		})
		return created.ID, err
	})
	if err != nil {
		return Stage{}, err
	}
	s.inst.opts.logger.Info("stage created", "stage_id", created.ID, "name", created.Name)
	return created, nil
}

// GetStageByID fetches a stage. A missing stage is reported as NotFoundError.
func (s *StageService) GetStageByID(ctx context.Context, id int64) (Stage, error) {
	var stage Stage
	err := s.inst.observe(ctx, opGetStage, func(ctx context.Context) (int64, error) {
		return id, s.store.View(ctx, func(v TransactionView) error {
			found, ok, err := v.FindStage(id)
			if err != nil {
				return err
			}
			if !ok {
				return NotFoundError{Entity: EntityStage, ID: id}
			}
			stage = found
			return nil
		})
	})
	return stage, err
}

// ListStages returns every stage ordered by ID.
func (s *StageService) ListStages(ctx context.Context) ([]Stage, error) {
	var stages []Stage
	err := s.inst.observe(ctx, opListStages, func(ctx context.Context) (int64, error) {
		return 0, s.store.View(ctx, func(v TransactionView) error {
			var err error
			stages, err = v.ListStages()
			return err
		})
	})
	return stages, err
}

// UpdateStageBoundaries grows the bounds of stage so they include (row, column)
// and persists the result through tx. The stage is re-read inside tx; the
// passed value only identifies it. When the stage owns no regions yet the
// bounds collapse onto the coordinate. Bounds never shrink and nothing is
// written when the coordinate is already inside.
func (s *StageService) UpdateStageBoundaries(tx Transaction, stage Stage, row, column int) (Stage, error) {
	current, ok, err := tx.FindStage(stage.ID)
	if err != nil {
		return Stage{}, err
	}
	if !ok {
		return Stage{}, NotFoundError{Entity: EntityStage, ID: stage.ID}
	}
	count, err := tx.CountRegions(current.ID)
	if err != nil {
		return Stage{}, err
	}
	first := count == 0
	probe := current
	if !probe.Expand(row, column, first) {
		return current, nil
	}
	updated, err := tx.UpdateStage(current.ID, func(st *Stage) error {
		st.Expand(row, column, first)
		return nil
	})
	if err != nil {
		var notFound NotFoundError
		var persistence PersistenceError
		if errors.As(err, &notFound) || errors.As(err, &persistence) {
			return Stage{}, err
		}
		return Stage{}, PersistenceError{Op: "update stage boundaries", Err: err}
	}
	s.inst.opts.logger.Debug("stage bounds expanded",
		"stage_id", updated.ID,
		"min_row", updated.MinRow, "max_row", updated.MaxRow,
		"min_column", updated.MinColumn, "max_column", updated.MaxColumn,
	)
	return updated, nil
}
