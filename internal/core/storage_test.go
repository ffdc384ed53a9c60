package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/codymaki/Bokudos-stagebuilder/internal/config"
	"github.com/codymaki/Bokudos-stagebuilder/internal/infra/persistence/memory"
	"github.com/codymaki/Bokudos-stagebuilder/internal/infra/persistence/sqlite"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	engine := NewDefaultRulesEngine()
	store, err := OpenPersistentStore(context.Background(), config.Storage{Driver: config.StorageMemory}, engine)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mem, ok := store.(*memory.Store)
	if !ok || mem.RulesEngine() != engine {
		t.Fatalf("expected memory store with engine, got %T", store)
	}
}

func TestOpenPersistentStoreSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stages.db")
	for _, driver := range []string{config.StorageSQLite, ""} {
		store, err := OpenPersistentStore(context.Background(), config.Storage{Driver: driver, SQLitePath: path}, nil)
		if err != nil {
			t.Fatalf("open %q: %v", driver, err)
		}
		lite, ok := store.(*sqlite.Store)
		if !ok || lite.Path() != path {
			t.Fatalf("expected sqlite store at %s, got %T", path, store)
		}
		stage := mustCreateStage(t, NewStageService(store), "persisted")
		if stage.ID == 0 {
			t.Fatalf("expected generated id")
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	store, err := OpenPersistentStore(context.Background(), config.Storage{Driver: "cassandra"}, nil)
	if err == nil || store != nil {
		t.Fatalf("expected error for unknown driver, got %v %v", store, err)
	}
}

func TestOpenPersistentStorePostgresUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store, err := OpenPersistentStore(ctx, config.Storage{Driver: config.StoragePostgres, PostgresDSN: "postgres://127.0.0.1:1/none?sslmode=disable&connect_timeout=1"}, nil)
	if err == nil || store != nil {
		t.Fatalf("expected connection failure, got %v %v", store, err)
	}
}
