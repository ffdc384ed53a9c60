package core

import (
	"context"
	"fmt"

	"github.com/codymaki/Bokudos-stagebuilder/pkg/domain"
)

const (
	ruleStageBoundsContainment = "stage_bounds_containment"
	ruleStageBoundsOrdering    = "stage_bounds_ordering"
)

// NewStageBoundsContainmentRule returns the in-transaction rule requiring every
// written region to lie inside its stage bounds as they will be committed.
func NewStageBoundsContainmentRule() domain.Rule {
	return stageBoundsContainmentRule{}
}

type stageBoundsContainmentRule struct{}

func (stageBoundsContainmentRule) Name() string { return ruleStageBoundsContainment }

func (stageBoundsContainmentRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityRegion {
			continue
		}
		region, ok := change.After.(domain.Region)
		if !ok {
			continue
		}
		stage, found, err := view.FindStage(region.StageID)
		if err != nil {
			return domain.Result{}, err
		}
		switch {
		case !found:
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     ruleStageBoundsContainment,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("region %d references missing stage %d", region.ID, region.StageID),
				Entity:   domain.EntityRegion,
				EntityID: region.ID,
			})
		case !stage.Contains(region.Row, region.Column):
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     ruleStageBoundsContainment,
				Severity: domain.SeverityBlock,
				Message: fmt.Sprintf("region (%d,%d) outside stage %d bounds rows [%d,%d] columns [%d,%d]",
					region.Row, region.Column, stage.ID, stage.MinRow, stage.MaxRow, stage.MinColumn, stage.MaxColumn),
				Entity:   domain.EntityRegion,
				EntityID: region.ID,
			})
		}
	}
	return res, nil
}

// NewStageBoundsOrderingRule returns the rule rejecting inverted bounds on a
// stage that owns regions.
func NewStageBoundsOrderingRule() domain.Rule {
	return stageBoundsOrderingRule{}
}

type stageBoundsOrderingRule struct{}

func (stageBoundsOrderingRule) Name() string { return ruleStageBoundsOrdering }

func (stageBoundsOrderingRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	seen := make(map[int64]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityStage {
			continue
		}
		stage, ok := change.After.(domain.Stage)
		if !ok {
			continue
		}
		if _, dup := seen[stage.ID]; dup {
			continue
		}
		seen[stage.ID] = struct{}{}
		current, found, err := view.FindStage(stage.ID)
		if err != nil {
			return domain.Result{}, err
		}
		if !found || (current.MinRow <= current.MaxRow && current.MinColumn <= current.MaxColumn) {
			continue
		}
		count, err := view.CountRegions(current.ID)
		if err != nil {
			return domain.Result{}, err
		}
		if count == 0 {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     ruleStageBoundsOrdering,
			Severity: domain.SeverityBlock,
			Message: fmt.Sprintf("stage %d bounds inverted: rows [%d,%d] columns [%d,%d]",
				current.ID, current.MinRow, current.MaxRow, current.MinColumn, current.MaxColumn),
			Entity:   domain.EntityStage,
			EntityID: current.ID,
		})
	}
	return res, nil
}
