package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codymaki/Bokudos-stagebuilder/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store persists stages and regions in two relational tables. Each
// RunInTransaction call maps onto exactly one database transaction.
type Store struct {
	db      *sql.DB
	dialect Dialect
	engine  *domain.RulesEngine

	mu    sync.RWMutex
	nowFn func() time.Time
}

// New wraps an open database handle. Migrations must already be applied.
func New(db *sql.DB, d Dialect, engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		db:      db,
		dialect: d,
		engine:  engine,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the SQL dialect used by the store.
func (s *Store) Dialect() Dialect { return s.dialect }

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

// SetNowFunc overrides the transaction clock, mainly for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

// NowFunc returns the clock used to stamp transactions.
func (s *Store) NowFunc() func() time.Time { return s.now }

func (s *Store) now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Stored at microsecond precision; truncate so callers see what a re-read returns.
	return s.nowFn().UTC().Truncate(domain.TimestampResolution)
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunInTransaction executes fn inside a database transaction, evaluates the
// rules engine against the uncommitted state and commits only when no
// blocking violation was reported. Any error rolls the transaction back.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Result{}, domain.PersistenceError{Op: "begin", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &txn{ctx: ctx, tx: sqlTx, store: s, now: s.now(), writable: true}
	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx, tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return domain.Result{}, s.classify("commit", err)
	}
	committed = true
	result.Affected = len(tx.changes)
	return result, nil
}

// View executes fn against a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PersistenceError{Op: "begin", Err: err}
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(&txn{ctx: ctx, tx: sqlTx, store: s, now: s.now()})
}

func (s *Store) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var conflict domain.ConflictError
	var persistence domain.PersistenceError
	var notFound domain.NotFoundError
	if errors.As(err, &conflict) || errors.As(err, &persistence) || errors.As(err, &notFound) {
		return err
	}
	if s.dialect.uniqueViolation(err) {
		return domain.ConflictError{Entity: domain.EntityRegion, Err: err}
	}
	return domain.PersistenceError{Op: fmt.Sprintf("%s %s", s.dialect.Name, op), Err: err}
}
