// Package config loads exporter settings from YAML with optional environment
// overrides.
//
// The package stays free of the pipeline packages so binaries can parse and
// validate a file before wiring anything up. Defaults mirror the pipeline's
// own (batch of 500 rows, 256 KiB parquet replay chunks, in-memory registry).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config drives the exporter binaries.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Export   ExportConfig   `yaml:"export"`
	Registry RegistryConfig `yaml:"registry"`
	S3       S3Config       `yaml:"s3"`
	SQS      SQSConfig      `yaml:"sqs"`
}

// DatabaseConfig locates the relational store rows are exported from.
type DatabaseConfig struct {
	// Driver is postgres, mysql or sqlite.
	Driver string `yaml:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn"`

	// MaxConns caps the pool. Default 8.
	MaxConns int `yaml:"max_conns"`

	// ConnectTimeout bounds connection acquisition. Default 5s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// ExportConfig shapes the export queries and the parquet staging area.
type ExportConfig struct {
	// Table is the table or view to export. Default "records".
	Table string `yaml:"table"`

	// OrderBy is the field to order batches by. Default "id".
	OrderBy string `yaml:"order_by"`

	// BatchSize is rows fetched per batch. Default 500.
	BatchSize int `yaml:"batch_size"`

	// StagingDir holds parquet staging files. Default os temp dir.
	StagingDir string `yaml:"staging_dir"`

	// ParquetCompression is snappy, gzip or zstd. Default snappy.
	ParquetCompression string `yaml:"parquet_compression"`

	// ChunkSize is the parquet replay chunk in bytes. Default 256 KiB.
	ChunkSize int `yaml:"chunk_size"`
}

// RegistryConfig selects the job registry backend.
type RegistryConfig struct {
	// Backend is memory or sqlite. Default memory.
	Backend string `yaml:"backend"`

	// DBPath is the sqlite database file. Required for the sqlite backend.
	DBPath string `yaml:"db_path"`

	// TTL is how long terminal jobs stay visible. Default 24h.
	TTL time.Duration `yaml:"ttl"`

	// SweepInterval is how often expired jobs are removed. Default 1m.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// S3Config locates the delivery bucket.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// SQSConfig locates the job event queue. Empty disables notifications.
type SQSConfig struct {
	QueueURL string `yaml:"queue_url"`
}

// Load reads, defaults and validates the YAML file at path. Environment
// variables are not consulted; use LoadWithEnv for that.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithEnv loads the file at path, then applies EXPORTER_* environment
// overrides and re-validates. Environment always wins over the file.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 8
	}
	if c.Database.ConnectTimeout <= 0 {
		c.Database.ConnectTimeout = 5 * time.Second
	}

	if c.Export.Table == "" {
		c.Export.Table = "records"
	}
	if c.Export.OrderBy == "" {
		c.Export.OrderBy = "id"
	}
	if c.Export.BatchSize <= 0 {
		c.Export.BatchSize = 500
	}
	if c.Export.ParquetCompression == "" {
		c.Export.ParquetCompression = "snappy"
	}
	if c.Export.ChunkSize <= 0 {
		c.Export.ChunkSize = 256 * 1024
	}

	if c.Registry.Backend == "" {
		c.Registry.Backend = "memory"
	}
	if c.Registry.TTL <= 0 {
		c.Registry.TTL = 24 * time.Hour
	}
	if c.Registry.SweepInterval <= 0 {
		c.Registry.SweepInterval = time.Minute
	}
}

func (c *Config) applyEnv() {
	if val := os.Getenv("EXPORTER_DATABASE_DRIVER"); val != "" {
		c.Database.Driver = val
	}
	if val := os.Getenv("EXPORTER_DATABASE_DSN"); val != "" {
		c.Database.DSN = val
	}
	if val := os.Getenv("EXPORTER_DATABASE_MAX_CONNS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.Database.MaxConns = i
		}
	}
	if val := os.Getenv("EXPORTER_DATABASE_CONNECT_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Database.ConnectTimeout = d
		}
	}

	if val := os.Getenv("EXPORTER_EXPORT_TABLE"); val != "" {
		c.Export.Table = val
	}
	if val := os.Getenv("EXPORTER_EXPORT_ORDER_BY"); val != "" {
		c.Export.OrderBy = val
	}
	if val := os.Getenv("EXPORTER_EXPORT_BATCH_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.Export.BatchSize = i
		}
	}
	if val := os.Getenv("EXPORTER_EXPORT_STAGING_DIR"); val != "" {
		c.Export.StagingDir = val
	}
	if val := os.Getenv("EXPORTER_EXPORT_PARQUET_COMPRESSION"); val != "" {
		c.Export.ParquetCompression = val
	}
	if val := os.Getenv("EXPORTER_EXPORT_CHUNK_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.Export.ChunkSize = i
		}
	}

	if val := os.Getenv("EXPORTER_REGISTRY_BACKEND"); val != "" {
		c.Registry.Backend = val
	}
	if val := os.Getenv("EXPORTER_REGISTRY_DB_PATH"); val != "" {
		c.Registry.DBPath = val
	}
	if val := os.Getenv("EXPORTER_REGISTRY_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Registry.TTL = d
		}
	}
	if val := os.Getenv("EXPORTER_REGISTRY_SWEEP_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Registry.SweepInterval = d
		}
	}

	if val := os.Getenv("EXPORTER_S3_BUCKET"); val != "" {
		c.S3.Bucket = val
	}
	if val := os.Getenv("EXPORTER_S3_PREFIX"); val != "" {
		c.S3.Prefix = val
	}
	if val := os.Getenv("EXPORTER_S3_REGION"); val != "" {
		c.S3.Region = val
	}

	if val := os.Getenv("EXPORTER_SQS_QUEUE_URL"); val != "" {
		c.SQS.QueueURL = val
	}
}

// Validate rejects settings no component downstream would accept.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database dsn is required")
	}

	switch c.Export.ParquetCompression {
	case "snappy", "gzip", "zstd":
	default:
		return fmt.Errorf("config: unsupported parquet compression %q", c.Export.ParquetCompression)
	}

	switch c.Registry.Backend {
	case "memory":
	case "sqlite":
		if c.Registry.DBPath == "" {
			return fmt.Errorf("config: registry db_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("config: unsupported registry backend %q", c.Registry.Backend)
	}

	return nil
}
