package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/codymaki/Bokudos-stagebuilder/pkg/domain"
	_ "modernc.org/sqlite"
)

func TestRebind(t *testing.T) {
	query := "UPDATE regions SET data = ?, updated_at = ? WHERE id = ?"
	if got := (Dialect{}).Rebind(query); got != query {
		t.Fatalf("question mark dialect must not rewrite, got %q", got)
	}
	got := Dialect{NumberedPlaceholders: true}.Rebind(query)
	if got != "UPDATE regions SET data = $1, updated_at = $2 WHERE id = $3" {
		t.Fatalf("unexpected rebind %q", got)
	}
}

func TestSplitStatements(t *testing.T) {
	script := `-- +migrate Up
CREATE TABLE a (id INTEGER);

-- trailing comment
CREATE INDEX a_idx ON a (id);
;`
	got := SplitStatements(script)
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[0] != "CREATE TABLE a (id INTEGER)" || !strings.HasPrefix(got[1], "CREATE INDEX") {
		t.Fatalf("unexpected statements %q", got)
	}
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyMigrationsRunsEachFileOnce(t *testing.T) {
	db := openSQLite(t)
	migrations := fstest.MapFS{
		"0002_seed.sql": {Data: []byte("INSERT INTO widgets (name) VALUES ('first');")},
		"0001_init.sql": {Data: []byte("CREATE TABLE widgets (name TEXT NOT NULL);")},
		"README.md":     {Data: []byte("not a migration")},
		"nested/x.sql":  {Data: []byte("SELECT broken")},
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := ApplyMigrations(ctx, db, Dialect{Name: "sqlite"}, migrations); err != nil {
			t.Fatalf("apply #%d: %v", i+1, err)
		}
	}
	var widgets, recorded int
	if err := db.QueryRow("SELECT COUNT(*) FROM widgets").Scan(&widgets); err != nil {
		t.Fatalf("count widgets: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&recorded); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if widgets != 1 || recorded != 2 {
		t.Fatalf("expected seed applied once and two recorded files, got widgets=%d recorded=%d", widgets, recorded)
	}
}

func TestApplyMigrationsRollsBackFailedFile(t *testing.T) {
	db := openSQLite(t)
	migrations := fstest.MapFS{
		"0001_bad.sql": {Data: []byte("CREATE TABLE ok (id INTEGER); INSERT INTO missing VALUES (1);")},
	}
	err := ApplyMigrations(context.Background(), db, Dialect{Name: "sqlite"}, migrations)
	if err == nil || !strings.Contains(err.Error(), "0001_bad.sql") {
		t.Fatalf("expected failure naming the file, got %v", err)
	}
	var recorded int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&recorded); err != nil {
		t.Fatalf("count: %v", err)
	}
	if recorded != 0 {
		t.Fatalf("failed migration must not be recorded")
	}
	if err := ApplyMigrations(context.Background(), nil, Dialect{}, migrations); err == nil {
		t.Fatalf("expected nil db to be rejected")
	}
}

func TestClassifyKeepsDomainErrors(t *testing.T) {
	s := New(nil, Dialect{Name: "test", IsUniqueViolation: func(err error) bool {
		return strings.Contains(err.Error(), "dup")
	}}, nil)

	nf := domain.NotFoundError{Entity: domain.EntityStage, ID: 3}
	if got := s.classify("op", nf); got != error(nf) {
		t.Fatalf("domain error should pass through, got %v", got)
	}
	var conflict domain.ConflictError
	if !errors.As(s.classify("commit", errors.New("dup key")), &conflict) {
		t.Fatalf("expected conflict classification")
	}
	var pe domain.PersistenceError
	if !errors.As(s.classify("commit", errors.New("io")), &pe) || pe.Op != "test commit" {
		t.Fatalf("expected persistence error, got %+v", pe)
	}
	if s.classify("noop", nil) != nil {
		t.Fatalf("nil stays nil")
	}
	if s.RulesEngine() == nil {
		t.Fatalf("expected default rules engine")
	}
}
