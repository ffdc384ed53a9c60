package core

import (
	"context"
	"time"
)

// Logger is the structured logging surface used by the services. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// AuditStatus is the outcome recorded in an audit entry.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one mutating service operation.
type AuditEntry struct {
	Operation string
	Entity    EntityType
	Action    Action
	EntityID  int64
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries for mutating operations.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface. A nil ClockFunc reports
// the system time in UTC.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// ServiceOption configures the stage and region services.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	clock   Clock
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		audit:   noopAuditRecorder{},
		clock:   ClockFunc(nil),
	}
}

func buildServiceOptions(opts []ServiceOption) serviceOptions {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit recorder.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithClock sets the clock used for audit timestamps when the store does not
// expose its own.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

type nowFuncProvider interface {
	NowFunc() func() time.Time
}

type rulesEngineProvider interface {
	RulesEngine() *RulesEngine
}

// selectNowFunc prefers the store clock so audit timestamps line up with the
// CreatedAt/UpdatedAt values the store writes.
func selectNowFunc(store PersistentStore, clock Clock) func() time.Time {
	if provider, ok := store.(nowFuncProvider); ok {
		if fn := provider.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	if clock != nil {
		return clock.Now
	}
	return func() time.Time { return time.Now().UTC() }
}

func extractRulesEngine(store PersistentStore) *RulesEngine {
	if provider, ok := store.(rulesEngineProvider); ok {
		return provider.RulesEngine()
	}
	return nil
}

type operationMeta struct {
	entity EntityType
	action Action
}

// auditedOperations lists the mutating operations that produce audit entries.
var auditedOperations = map[string]operationMeta{
	opCreateStage:       {entity: EntityStage, action: ActionCreate},
	opAddOrUpdateRegion: {entity: EntityRegion, action: ActionUpdate},
	opExportStage:       {entity: EntityStage, action: ActionCreate},
}

const (
	opCreateStage        = "create_stage"
	opGetStage           = "get_stage"
	opListStages         = "list_stages"
	opAddOrUpdateRegion  = "add_or_update_region"
	opGetRegionsForStage = "get_regions_for_stage"
	opGetRegion          = "get_region"
	opGetRegionNeighbors = "get_region_neighbors"
	opListRegions        = "list_regions"
	opExportStage        = "export_stage"
	opListExports        = "list_exports"
	opReadExport         = "read_export"
)

// instrumentation bundles the hooks shared by every service.
type instrumentation struct {
	opts serviceOptions
	now  func() time.Time
}

func newInstrumentation(store PersistentStore, opts []ServiceOption) instrumentation {
	cfg := buildServiceOptions(opts)
	return instrumentation{opts: cfg, now: selectNowFunc(store, cfg.clock)}
}

// observe wraps fn with tracing, metrics and logging. The returned entity ID
// is used for audit entries of mutating operations.
func (in instrumentation) observe(ctx context.Context, op string, fn func(context.Context) (int64, error)) error {
	ctx, span := in.opts.tracer.Start(ctx, op)
	start := time.Now()
	id, err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	in.opts.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		in.opts.logger.Error("operation failed", "operation", op, "error", err)
		in.recordAuditError(ctx, op, id, duration, err)
		return err
	}
	in.opts.logger.Debug("operation completed", "operation", op, "duration", duration)
	in.recordAuditSuccess(ctx, op, id, duration)
	return nil
}

func (in instrumentation) recordAuditSuccess(ctx context.Context, op string, entityID int64, duration time.Duration) {
	in.recordAudit(ctx, op, entityID, duration, nil)
}

func (in instrumentation) recordAuditError(ctx context.Context, op string, entityID int64, duration time.Duration, err error) {
	in.recordAudit(ctx, op, entityID, duration, err)
}

func (in instrumentation) recordAudit(ctx context.Context, op string, entityID int64, duration time.Duration, err error) {
	meta, ok := auditedOperations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: in.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	in.opts.audit.Record(ctx, entry)
}
