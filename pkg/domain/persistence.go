package domain

import (
	"context"
	"time"
)

// TransactionView provides read-only access to stage and region state. It is
// also the view handed to rules during evaluation.
type TransactionView interface {
	FindStage(id int64) (Stage, bool, error)
	ListStages() ([]Stage, error)
	FindRegion(stageID int64, row, column int) (Region, bool, error)
	ListRegions(stageID int64) ([]Region, error)
	ListAllRegions() ([]Region, error)
	ListRegionsInRect(stageID int64, rect Rect) ([]Region, error)
	CountRegions(stageID int64) (int, error)
}

// Transaction is a mutable unit of work. Every mutation is recorded as a
// Change and either all of them commit or none do.
type Transaction interface {
	TransactionView
	CreateStage(Stage) (Stage, error)
	UpdateStage(id int64, mutator func(*Stage) error) (Stage, error)
	CreateRegion(Region) (Region, error)
	UpdateRegion(id int64, mutator func(*Region) error) (Region, error)
	// Now is the timestamp applied to every record written by the transaction.
	Now() time.Time
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Close() error
}
