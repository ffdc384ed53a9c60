package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codymaki/Bokudos-stagebuilder/internal/infra/persistence/memory"
)

func TestServiceOptionsDefaults(t *testing.T) {
	cfg := buildServiceOptions([]ServiceOption{nil, WithLogger(nil), WithMetricsRecorder(nil), WithTracer(nil), WithAuditRecorder(nil), WithClock(nil)})
	if _, ok := cfg.logger.(noopLogger); !ok {
		t.Fatalf("expected noop logger, got %T", cfg.logger)
	}
	if _, ok := cfg.metrics.(noopMetricsRecorder); !ok {
		t.Fatalf("expected noop metrics, got %T", cfg.metrics)
	}
	if _, ok := cfg.tracer.(noopTracer); !ok {
		t.Fatalf("expected noop tracer, got %T", cfg.tracer)
	}
	if _, ok := cfg.audit.(noopAuditRecorder); !ok {
		t.Fatalf("expected noop audit, got %T", cfg.audit)
	}
	if cfg.clock == nil || cfg.clock.Now().Location() != time.UTC {
		t.Fatalf("expected UTC default clock")
	}
}

func TestClockFunc(t *testing.T) {
	local := time.Date(2024, 1, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	if got := ClockFunc(func() time.Time { return local }).Now(); got.Location() != time.UTC || !got.Equal(local) {
		t.Fatalf("expected UTC conversion, got %v", got)
	}
	var nilClock ClockFunc
	if nilClock.Now().IsZero() {
		t.Fatalf("nil ClockFunc must report the current time")
	}
}

type plainStore struct {
	PersistentStore
}

func TestSelectNowFunc(t *testing.T) {
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	other := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	store := memory.NewStore(nil)
	store.SetNowFunc(func() time.Time { return fixed })
	if got := selectNowFunc(store, ClockFunc(func() time.Time { return other }))(); !got.Equal(fixed) {
		t.Fatalf("store clock must win, got %v", got)
	}
	if got := selectNowFunc(plainStore{}, ClockFunc(func() time.Time { return other }))(); !got.Equal(other) {
		t.Fatalf("expected service clock, got %v", got)
	}
	if got := selectNowFunc(plainStore{}, nil)(); got.IsZero() {
		t.Fatalf("expected system time fallback")
	}
}

func TestExtractRulesEngine(t *testing.T) {
	engine := NewDefaultRulesEngine()
	if extractRulesEngine(memory.NewStore(engine)) != engine {
		t.Fatalf("expected engine from store")
	}
	if extractRulesEngine(plainStore{}) != nil {
		t.Fatalf("expected nil engine for plain store")
	}
}

func TestServiceInstrumentation(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := memory.NewStore(NewDefaultRulesEngine())
	store.SetNowFunc(func() time.Time { return fixed })
	logger := &captureLogger{}
	metrics := &captureMetrics{}
	tracer := &captureTracer{}
	audit := &captureAudit{}
	stages, regions := newServices(store,
		WithLogger(logger), WithMetricsRecorder(metrics), WithTracer(tracer), WithAuditRecorder(audit))
	ctx := context.Background()

	stage := mustCreateStage(t, stages, "observed")
	region := mustUpsert(t, regions, stage.ID, 1, 2, "payload")
	if _, err := stages.GetStageByID(ctx, stage.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := stages.CreateStage(ctx, StageInput{}); err == nil {
		t.Fatalf("expected validation error")
	}

	entries := audit.all()
	if len(entries) != 3 {
		t.Fatalf("expected 3 audit entries (reads are not audited), got %+v", entries)
	}
	if e := entries[0]; e.Operation != opCreateStage || e.Entity != EntityStage || e.Action != ActionCreate ||
		e.EntityID != stage.ID || e.Status != AuditStatusSuccess || !e.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected create audit %+v", e)
	}
	if e := entries[1]; e.Operation != opAddOrUpdateRegion || e.Entity != EntityRegion || e.EntityID != region.ID {
		t.Fatalf("unexpected region audit %+v", e)
	}
	if e := entries[2]; e.Status != AuditStatusError || e.Error != ErrStageNameRequired.Error() {
		t.Fatalf("unexpected failure audit %+v", e)
	}

	wantOps := []metricCall{
		{op: opCreateStage, success: true},
		{op: opAddOrUpdateRegion, success: true},
		{op: opGetStage, success: true},
		{op: opCreateStage, success: false},
	}
	if len(metrics.calls) != len(wantOps) {
		t.Fatalf("unexpected metric calls %+v", metrics.calls)
	}
	for i, want := range wantOps {
		if metrics.calls[i] != want {
			t.Fatalf("metric %d: want %+v got %+v", i, want, metrics.calls[i])
		}
	}

	if len(tracer.spans) != 4 {
		t.Fatalf("expected 4 spans, got %d", len(tracer.spans))
	}
	for _, span := range tracer.spans {
		if span.ended != 1 {
			t.Fatalf("span %s ended %d times", span.op, span.ended)
		}
	}
	if !errors.Is(tracer.spans[3].err, ErrStageNameRequired) {
		t.Fatalf("failing span must carry the error, got %v", tracer.spans[3].err)
	}

	if rec, ok := logger.find("info", "stage created"); !ok || rec.arg("stage_id") != stage.ID {
		t.Fatalf("expected stage created log, got %+v", logger.records)
	}
	if rec, ok := logger.find("debug", "stage bounds expanded"); !ok || rec.arg("max_column") != 2 {
		t.Fatalf("expected bounds log, got %+v", logger.records)
	}
	if rec, ok := logger.find("error", "operation failed"); !ok || rec.arg("operation") != opCreateStage {
		t.Fatalf("expected failure log, got %+v", logger.records)
	}
}

func TestAuditUsesServiceClockWithoutStoreClock(t *testing.T) {
	fixed := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	audit := &captureAudit{}
	store := plainStore{memory.NewStore(nil)}
	stages := NewStageService(store, WithAuditRecorder(audit), WithClock(ClockFunc(func() time.Time { return fixed })))
	mustCreateStage(t, stages, "clocked")
	entries := audit.all()
	if len(entries) != 1 || !entries[0].Timestamp.Equal(fixed) {
		t.Fatalf("expected service clock timestamp, got %+v", entries)
	}
}
