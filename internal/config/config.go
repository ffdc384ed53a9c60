// Package config loads stagebuilder settings from STAGEBUILDER_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable name declared below.
const EnvPrefix = "STAGEBUILDER_"

// Storage driver names.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Blob driver names.
const (
	BlobFilesystem = "fs"
	BlobS3         = "s3"
	BlobMemory     = "memory"
)

// Metrics backend names.
const (
	MetricsPrometheus = "prometheus"
	MetricsExpvar     = "expvar"
	MetricsNone       = "none"
)

// Config is the complete process configuration.
type Config struct {
	HTTPAddr     string `env:"HTTP_ADDR"     envDefault:":8080"`
	CORSOrigin   string `env:"CORS_ORIGIN"   envDefault:"*"`
	LogLevel     string `env:"LOG_LEVEL"     envDefault:"info"`
	Metrics      string `env:"METRICS"       envDefault:"prometheus"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	Storage Storage
	Blob    Blob
}

// Storage selects and configures the stage store backend.
type Storage struct {
	Driver      string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH"    envDefault:"stagebuilder.db"`
	PostgresDSN string `env:"POSTGRES_DSN"   envDefault:"postgres://localhost/stagebuilder?sslmode=disable"`
}

// Blob selects and configures the export blob store.
type Blob struct {
	Driver string `env:"BLOB_DRIVER"  envDefault:"fs"`
	FSRoot string `env:"BLOB_FS_ROOT" envDefault:"./blobdata"`
	S3     S3
}

// S3 configures the S3 / MinIO blob driver. Credentials come from the default
// AWS chain unless AccessKeyID is set.
type S3 struct {
	Bucket          string `env:"BLOB_S3_BUCKET"`
	Region          string `env:"BLOB_S3_REGION"     envDefault:"us-east-1"`
	Endpoint        string `env:"BLOB_S3_ENDPOINT"`
	PathStyle       bool   `env:"BLOB_S3_PATH_STYLE" envDefault:"false"`
	AccessKeyID     string `env:"BLOB_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"BLOB_S3_SECRET_ACCESS_KEY"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	return LoadFrom(nil)
}

// LoadFrom parses the supplied environment map instead of the process
// environment when environ is non-nil.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown driver names and incomplete driver settings.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case BlobFilesystem, BlobMemory:
	case BlobS3:
		if strings.TrimSpace(c.Blob.S3.Bucket) == "" {
			return fmt.Errorf("%sBLOB_S3_BUCKET required for s3 driver", EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	switch c.Metrics {
	case MetricsPrometheus, MetricsExpvar, MetricsNone:
	default:
		return fmt.Errorf("unknown metrics backend %q", c.Metrics)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps debug|info|warn|error onto slog levels.
func ParseLogLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", value)
	}
	return level, nil
}
