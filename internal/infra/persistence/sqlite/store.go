// Package sqlite provides the embedded SQLite backend for the stage store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codymaki/Bokudos-stagebuilder/internal/infra/persistence/sqlite/migrations"
	"github.com/codymaki/Bokudos-stagebuilder/internal/infra/persistence/sqlstore"
	"github.com/codymaki/Bokudos-stagebuilder/pkg/domain"
	msqlite "modernc.org/sqlite" // pure go sqlite driver, registers "sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const (
	defaultPath = "stagebuilder.db"
	memoryPath  = ":memory:"
)

// Dialect describes SQLite for the shared SQL store.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	IsUniqueViolation: isUniqueViolation,
}

// Store persists stages and regions in a SQLite file.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating if needed) the SQLite database at path and applies
// the embedded migrations. An empty path selects stagebuilder.db; ":memory:"
// keeps everything in process memory.
func NewStore(ctx context.Context, path string, engine *domain.RulesEngine) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		path = defaultPath
	}
	if path != memoryPath {
		path = filepath.Clean(path)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := sqlstore.ApplyMigrations(ctx, db, Dialect, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{Store: sqlstore.New(db, Dialect, engine), path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
