package core

import "github.com/codymaki/Bokudos-stagebuilder/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Stage              = domain.Stage
	Region             = domain.Region
	Coordinate         = domain.Coordinate
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RulesEngine        = domain.RulesEngine
	Rule               = domain.Rule
	RuleViolationError = domain.RuleViolationError
	NotFoundError      = domain.NotFoundError
	PersistenceError   = domain.PersistenceError
	ConflictError      = domain.ConflictError
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

const (
	EntityStage  = domain.EntityStage
	EntityRegion = domain.EntityRegion
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}
