package core

import (
	"context"
	"fmt"

	"github.com/codymaki/Bokudos-stagebuilder/internal/config"
	"github.com/codymaki/Bokudos-stagebuilder/internal/infra/persistence/memory"
	"github.com/codymaki/Bokudos-stagebuilder/internal/infra/persistence/postgres"
	"github.com/codymaki/Bokudos-stagebuilder/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = config.StorageMemory   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = config.StorageSQLite   // embedded sqlite file
	StoragePostgres StorageDriver = config.StoragePostgres // PostgreSQL server
)

// OpenPersistentStore selects a backend from cfg, defaulting to sqlite when
// the driver is empty. SQL backends apply their migrations before returning.
func OpenPersistentStore(ctx context.Context, cfg config.Storage, engine *RulesEngine) (PersistentStore, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(ctx, cfg.SQLitePath, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
