package core

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/codymaki/Bokudos-stagebuilder/internal/infra/persistence/memory"
	"github.com/codymaki/Bokudos-stagebuilder/internal/infra/persistence/sqlite"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// clockedStore is the subset of store behavior the tests drive directly.
type clockedStore interface {
	PersistentStore
	SetNowFunc(func() time.Time)
}

type storeFactory struct {
	name string
	open func(t *testing.T, engine *RulesEngine) clockedStore
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{name: "memory", open: func(t *testing.T, engine *RulesEngine) clockedStore {
			return memory.NewStore(engine)
		}},
		{name: "sqlite", open: func(t *testing.T, engine *RulesEngine) clockedStore {
			t.Helper()
			store, err := sqlite.NewStore(context.Background(), filepath.Join(t.TempDir(), "stages.db"), engine)
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		}},
	}
}

// forEachStore runs fn against every backend with the default rules and a
// stepping clock installed.
func forEachStore(t *testing.T, fn func(t *testing.T, store clockedStore, clock *stepClock)) {
	for _, factory := range storeFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.open(t, NewDefaultRulesEngine())
			clock := newStepClock(baseTime, time.Second)
			store.SetNowFunc(clock.Now)
			fn(t, store, clock)
		})
	}
}

type stepClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

func newStepClock(start time.Time, step time.Duration) *stepClock {
	return &stepClock{next: start, step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.step)
	return now
}

type logRecord struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	records []logRecord
}

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, logRecord{level: level, msg: msg, args: args})
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *captureLogger) find(level, msg string) (logRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.level == level && r.msg == msg {
			return r, true
		}
	}
	return logRecord{}, false
}

// arg returns the value logged under key.
func (r logRecord) arg(key string) any {
	for i := 0; i+1 < len(r.args); i += 2 {
		if fmt.Sprint(r.args[i]) == key {
			return r.args[i+1]
		}
	}
	return nil
}

type metricCall struct {
	op      string
	success bool
}

type captureMetrics struct {
	mu    sync.Mutex
	calls []metricCall
}

func (m *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, metricCall{op: op, success: success})
}

type captureTracer struct {
	mu    sync.Mutex
	spans []*captureSpan
}

type captureSpan struct {
	op    string
	err   error
	ended int
}

func (s *captureSpan) End(err error) {
	s.err = err
	s.ended++
}

func (t *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	t.mu.Lock()
	defer t.mu.Unlock()
	span := &captureSpan{op: op}
	t.spans = append(t.spans, span)
	return ctx, span
}

type captureAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *captureAudit) Record(_ context.Context, entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *captureAudit) all() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEntry(nil), a.entries...)
}

func mustCreateStage(t *testing.T, svc *StageService, name string) Stage {
	t.Helper()
	stage, err := svc.CreateStage(context.Background(), StageInput{Name: name})
	if err != nil {
		t.Fatalf("create stage %q: %v", name, err)
	}
	return stage
}

func mustUpsert(t *testing.T, svc *RegionService, stageID int64, row, column int, data string) Region {
	t.Helper()
	region, err := svc.AddOrUpdateRegion(context.Background(), RegionInput{StageID: stageID, Row: row, Column: column, Data: data})
	if err != nil {
		t.Fatalf("upsert (%d,%d,%d): %v", stageID, row, column, err)
	}
	return region
}

func newServices(store PersistentStore, opts ...ServiceOption) (*StageService, *RegionService) {
	stages := NewStageService(store, opts...)
	return stages, NewRegionService(store, stages, opts...)
}
