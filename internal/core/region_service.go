package core

import (
	"context"

	"github.com/codymaki/Bokudos-stagebuilder/pkg/domain"
)

// RegionInput is the caller supplied shape of a region upsert.
type RegionInput struct {
	StageID int64
	Row     int
	Column  int
	Data    string
}

// RegionService owns region records. Boundary growth for new coordinates is
// delegated to the StageService within the same transaction.
type RegionService struct {
	store  PersistentStore
	stages *StageService
	inst   instrumentation
}

// NewRegionService constructs a region service. stages must share store.
func NewRegionService(store PersistentStore, stages *StageService, opts ...ServiceOption) *RegionService {
	if stages == nil {
		stages = NewStageService(store, opts...)
	}
	return &RegionService{store: store, stages: stages, inst: newInstrumentation(store, opts)}
}

// AddOrUpdateRegion writes data at (StageID, Row, Column). A new coordinate
// expands the stage bounds and inserts a region; an existing one has its
// payload replaced and UpdatedAt bumped. Both paths commit atomically.
//
// A concurrent insert at the same coordinate surfaces as ConflictError from
// the store uniqueness constraint and is returned without retrying.
func (s *RegionService) AddOrUpdateRegion(ctx context.Context, input RegionInput) (Region, error) {
	var region Region
	err := s.inst.observe(ctx, opAddOrUpdateRegion, func(ctx context.Context) (int64, error) {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			existing, ok, err := tx.FindRegion(input.StageID, input.Row, input.Column)
			if err != nil {
				return err
			}
			if ok {
				region, err = tx.UpdateRegion(existing.ID, func(r *Region) error {
					r.Data = input.Data
					return nil
				})
				return err
			}
			stage, found, err := tx.FindStage(input.StageID)
			if err != nil {
				return err
			}
			if !found {
				return NotFoundError{Entity: EntityStage, ID: input.StageID}
			}
			if _, err := s.stages.UpdateStageBoundaries(tx, stage, input.Row, input.Column); err != nil {
				return err
			}
			region, err = tx.CreateRegion(Region{
				StageID: input.StageID,
				Row:     input.Row,
				Column:  input.Column,
				Data:    input.Data,
			})
			return err
		})
		if err != nil {
			return region.ID, err
		}
		if res.Affected == 0 {
			return region.ID, PersistenceError{Op: opAddOrUpdateRegion}
		}
		return region.ID, nil
	})
	if err != nil {
		return Region{}, err
	}
	return region, nil
}

// GetRegionsForStage returns the regions of a stage ordered by row then column.
func (s *RegionService) GetRegionsForStage(ctx context.Context, stageID int64) ([]Region, error) {
	var regions []Region
	err := s.inst.observe(ctx, opGetRegionsForStage, func(ctx context.Context) (int64, error) {
		return stageID, s.store.View(ctx, func(v TransactionView) error {
			var err error
			regions, err = v.ListRegions(stageID)
			return err
		})
	})
	return regions, err
}

// GetRegionByCoordinate looks up a single region. Absence is reported through
// the boolean, not as an error.
func (s *RegionService) GetRegionByCoordinate(ctx context.Context, stageID int64, row, column int) (Region, bool, error) {
	var (
		region Region
		found  bool
	)
	err := s.inst.observe(ctx, opGetRegion, func(ctx context.Context) (int64, error) {
		return stageID, s.store.View(ctx, func(v TransactionView) error {
			var err error
			region, found, err = v.FindRegion(stageID, row, column)
			return err
		})
	})
	if err != nil {
		return Region{}, false, err
	}
	return region, found, nil
}

// GetRegionNeighbors returns the existing regions in the Moore neighborhood of
// (row, column) within the same stage, excluding the cell itself, ordered by
// row then column.
func (s *RegionService) GetRegionNeighbors(ctx context.Context, stageID int64, row, column int) ([]Region, error) {
	center := domain.Coordinate{Row: row, Column: column}
	var neighbors []Region
	err := s.inst.observe(ctx, opGetRegionNeighbors, func(ctx context.Context) (int64, error) {
		return stageID, s.store.View(ctx, func(v TransactionView) error {
			candidates, err := v.ListRegionsInRect(stageID, center.Around())
			if err != nil {
				return err
			}
			for _, r := range candidates {
				if center.IsNeighbor(r.Coordinate()) {
					neighbors = append(neighbors, r)
				}
			}
			return nil
		})
	})
	return neighbors, err
}

// ListRegions returns every region of every stage.
func (s *RegionService) ListRegions(ctx context.Context) ([]Region, error) {
	var regions []Region
	err := s.inst.observe(ctx, opListRegions, func(ctx context.Context) (int64, error) {
		return 0, s.store.View(ctx, func(v TransactionView) error {
			var err error
			regions, err = v.ListAllRegions()
			return err
		})
	})
	return regions, err
}
