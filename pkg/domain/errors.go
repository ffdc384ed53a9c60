package domain

import (
	"fmt"
	"strings"
)

// NotFoundError reports that a referenced record does not exist where the
// operation requires it.
type NotFoundError struct {
	Entity EntityType
	ID     int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// PersistenceError reports a write that affected no rows or a failure raised
// by the underlying store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("persist %s: no rows affected", e.Op)
	}
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// ConflictError reports a uniqueness violation detected at write time. For
// regions the caller should retry the upsert, which then takes the update path.
type ConflictError struct {
	Entity EntityType
	Key    string
	Err    error
}

func (e ConflictError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s already exists", e.Entity)
	}
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

func (e ConflictError) Unwrap() error { return e.Err }

// RegionKey formats the composite region key used in conflict errors.
func RegionKey(stageID int64, row, column int) string {
	return fmt.Sprintf("(%d,%d,%d)", stageID, row, column)
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	var names []string
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			names = append(names, v.Rule)
		}
	}
	if len(names) == 0 {
		return "transaction blocked by rules"
	}
	return "transaction blocked by rules: " + strings.Join(names, ", ")
}
