package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/codymaki/Bokudos-stagebuilder/internal/adapters/httpapi"
	"github.com/codymaki/Bokudos-stagebuilder/internal/blob"
	"github.com/codymaki/Bokudos-stagebuilder/internal/config"
	"github.com/codymaki/Bokudos-stagebuilder/internal/core"
	"github.com/codymaki/Bokudos-stagebuilder/internal/telemetry"
)

const serviceName = "stagebuilder"

// app holds the fully wired process. Construction order follows the
// dependency chain: store, stage service, region service, exporter, handler.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    core.PersistentStore
	stages   *core.StageService
	regions  *core.RegionService
	exporter *core.StageExporter
	registry *prometheus.Registry

	shutdownTracing func(context.Context) error
}

func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func buildApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	logger, err := newLogger(cfg, logOut)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, shutdownTracing: func(context.Context) error { return nil }}

	opts := []core.ServiceOption{
		core.WithLogger(logger),
		core.WithAuditRecorder(slogAuditRecorder{logger: logger}),
	}
	switch cfg.Metrics {
	case config.MetricsPrometheus:
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder, err := telemetry.NewPrometheusRecorder(a.registry)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		opts = append(opts, core.WithMetricsRecorder(recorder))
	case config.MetricsExpvar:
		opts = append(opts, core.WithMetricsRecorder(core.NewExpvarMetricsRecorder("")))
	}

	shutdown, err := telemetry.SetupOTel(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.shutdownTracing = shutdown
	switch {
	case cfg.OTelEndpoint != "":
		opts = append(opts, core.WithTracer(telemetry.NewOTelTracer(nil)))
	case cfg.LogLevel == "debug":
		opts = append(opts, core.WithTracer(core.NewJSONTracer(logOut)))
	}

	store, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		_ = a.shutdownTracing(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store
	a.stages = core.NewStageService(store, opts...)
	a.regions = core.NewRegionService(store, a.stages, opts...)

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	a.exporter = core.NewStageExporter(store, blobs, opts...)
	logger.Info("stagebuilder ready",
		"storage", cfg.Storage.Driver, "blob", blobs.Driver(), "metrics", cfg.Metrics)
	return a, nil
}

// Close flushes tracing and releases the store.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// routes mounts the API next to the operational endpoints.
func (a *app) routes() http.Handler {
	api := httpapi.NewHandler(a.stages, a.regions)
	api.Exports = a.exporter
	api.Logger = a.logger

	mux := http.NewServeMux()
	mux.Handle("/api/", httpapi.CORS(a.cfg.CORSOrigin, api))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.store.View(r.Context(), func(core.TransactionView) error { return nil }); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok\n")
	})
	if a.registry != nil {
		mux.Handle("GET /metrics", telemetry.Handler(a.registry))
	}
	mux.Handle("GET /debug/vars", expvar.Handler())
	return mux
}

type slogAuditRecorder struct {
	logger *slog.Logger
}

func (r slogAuditRecorder) Record(ctx context.Context, entry core.AuditEntry) {
	level := slog.LevelInfo
	if entry.Status == core.AuditStatusError {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "audit",
		"operation", entry.Operation,
		"entity", entry.Entity,
		"action", entry.Action,
		"entity_id", entry.EntityID,
		"status", entry.Status,
		"error", entry.Error,
		"duration", entry.Duration,
		"timestamp", entry.Timestamp,
	)
}
