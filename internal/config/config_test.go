package config

import (
	"log/slog"
	"strings"
	"testing"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.CORSOrigin != "*" || cfg.Metrics != MetricsPrometheus {
		t.Fatalf("unexpected server defaults %+v", cfg)
	}
	if cfg.Storage.Driver != StorageSQLite || cfg.Storage.SQLitePath != "stagebuilder.db" {
		t.Fatalf("unexpected storage defaults %+v", cfg.Storage)
	}
	if !strings.HasPrefix(cfg.Storage.PostgresDSN, "postgres://localhost/stagebuilder") {
		t.Fatalf("unexpected dsn %q", cfg.Storage.PostgresDSN)
	}
	if cfg.Blob.Driver != BlobFilesystem || cfg.Blob.FSRoot != "./blobdata" || cfg.Blob.S3.Region != "us-east-1" {
		t.Fatalf("unexpected blob defaults %+v", cfg.Blob)
	}
	if cfg.OTelEndpoint != "" {
		t.Fatalf("tracing export should be off by default")
	}
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"STAGEBUILDER_HTTP_ADDR":          "127.0.0.1:9000",
		"STAGEBUILDER_STORAGE_DRIVER":     "postgres",
		"STAGEBUILDER_POSTGRES_DSN":       "postgres://db/stages",
		"STAGEBUILDER_BLOB_DRIVER":        "s3",
		"STAGEBUILDER_BLOB_S3_BUCKET":     "exports",
		"STAGEBUILDER_BLOB_S3_ENDPOINT":   "http://minio:9000",
		"STAGEBUILDER_BLOB_S3_PATH_STYLE": "true",
		"STAGEBUILDER_METRICS":            "expvar",
		"STAGEBUILDER_LOG_LEVEL":          "debug",
		"STAGEBUILDER_OTEL_ENDPOINT":      "collector:4318",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9000" || cfg.Storage.Driver != StoragePostgres || cfg.Storage.PostgresDSN != "postgres://db/stages" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Blob.Driver != BlobS3 || cfg.Blob.S3.Bucket != "exports" || !cfg.Blob.S3.PathStyle || cfg.Blob.S3.Endpoint != "http://minio:9000" {
		t.Fatalf("blob overrides not applied: %+v", cfg.Blob)
	}
	if cfg.Metrics != MetricsExpvar || cfg.OTelEndpoint != "collector:4318" {
		t.Fatalf("observability overrides not applied: %+v", cfg)
	}
}

func TestLoadFromRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"storage":   {"STAGEBUILDER_STORAGE_DRIVER": "mongo"},
		"blob":      {"STAGEBUILDER_BLOB_DRIVER": "ftp"},
		"s3 bucket": {"STAGEBUILDER_BLOB_DRIVER": "s3"},
		"metrics":   {"STAGEBUILDER_METRICS": "statsd"},
		"log level": {"STAGEBUILDER_LOG_LEVEL": "loud"},
		"bool":      {"STAGEBUILDER_BLOB_S3_PATH_STYLE": "maybe"},
	}
	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadFrom(environ); err == nil {
				t.Fatalf("expected error for %v", environ)
			}
		})
	}
}

func TestLoadReadsProcessEnvironment(t *testing.T) {
	t.Setenv("STAGEBUILDER_STORAGE_DRIVER", "memory")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != StorageMemory {
		t.Fatalf("expected memory driver, got %q", cfg.Storage.Driver)
	}
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("WARN")
	if err != nil || level != slog.LevelWarn {
		t.Fatalf("expected warn, got %v %v", level, err)
	}
	if _, err := ParseLogLevel(""); err == nil {
		t.Fatalf("expected empty level to be rejected")
	}
}
