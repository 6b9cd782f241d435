package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database drivers accepted by DB_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"` // postgres | sqlite
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr    string   `yaml:"grpc_addr"`
	HTTPAddr    string   `yaml:"http_addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	SweepSecret string   `yaml:"sweep_secret"`
}

// StorageConfig points at the object store holding uploaded syllabi.
type StorageConfig struct {
	Backend    string        `yaml:"backend"` // supabase | fs
	URL        string        `yaml:"url"`
	ServiceKey string        `yaml:"service_key"`
	Bucket     string        `yaml:"bucket"`
	Root       string        `yaml:"root"`
	MaxBytes   int64         `yaml:"max_bytes"`
	Timeout    time.Duration `yaml:"timeout"`
}

// PipelineConfig bounds each execution step.
type PipelineConfig struct {
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	FetchAttempts    int           `yaml:"fetch_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	ProcessTimeout   time.Duration `yaml:"process_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
}

// AnalysisConfig selects the document analysis backend.
type AnalysisConfig struct {
	Provider  string        `yaml:"provider"` // mock | openai
	MockDelay time.Duration `yaml:"mock_delay"`
	LLM       LLMConfig     `yaml:"llm"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// WatcherConfig configures the client-side job watcher.
type WatcherConfig struct {
	Interval     time.Duration `yaml:"interval"`
	SnapshotPath string        `yaml:"snapshot_path"`
	RedisAddr    string        `yaml:"redis_addr"`
	RedisPrefix  string        `yaml:"redis_prefix"`
}

// SweepConfig schedules the queued-job sweep.
type SweepConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Schedule  string `yaml:"schedule"`
	MaxPerRun int    `yaml:"max_per_run"`
}

// IngestConfig turns on the drop-folder ingester in jobsd.
type IngestConfig struct {
	Dir      string        `yaml:"dir"`
	Owner    string        `yaml:"owner"`
	Mode     string        `yaml:"mode"` // manual | queued
	Exts     []string      `yaml:"exts"`
	Debounce time.Duration `yaml:"debounce"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          DriverPostgres,
			MaxConns:        20,
			MinConns:        5,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Server: ServerConfig{
			GRPCAddr: ":8080",
			HTTPAddr: ":8081",
		},
		Storage: StorageConfig{
			Backend:  "supabase",
			Bucket:   "syllabi",
			Root:     "./tmp/artifacts",
			MaxBytes: 50 << 20,
			Timeout:  30 * time.Second,
		},
		Pipeline: PipelineConfig{
			ProbeTimeout:     5 * time.Second,
			FetchTimeout:     15 * time.Second,
			FetchAttempts:    2,
			RetryBackoff:     250 * time.Millisecond,
			ProgressInterval: 2 * time.Second,
			ProcessTimeout:   2 * time.Minute,
			WriteTimeout:     10 * time.Second,
			Workers:          4,
			QueueSize:        64,
		},
		Analysis: AnalysisConfig{
			Provider:  "mock",
			MockDelay: 4 * time.Second,
			LLM: LLMConfig{
				Model:   "gpt-4o-mini",
				BaseURL: "https://api.openai.com/v1",
				Timeout: 45 * time.Second,
			},
		},
		Watcher: WatcherConfig{
			Interval:     10 * time.Second,
			SnapshotPath: "./tmp/watcher-snapshot.json",
			RedisPrefix:  "syllabus-jobs:watcher:",
		},
		Sweep: SweepConfig{
			Schedule:  "@every 1m",
			MaxPerRun: 1,
		},
		Ingest: IngestConfig{
			Mode:     "queued",
			Debounce: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads defaults, then the YAML file named by CONFIG_FILE (if any),
// then environment variables.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("read %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("parse %s", path), err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.CORSOrigins = getEnvAsList("CORS_ORIGINS", c.Server.CORSOrigins)
	c.Server.SweepSecret = getEnv("CRON_SECRET", c.Server.SweepSecret)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.URL = getEnv("SUPABASE_URL", c.Storage.URL)
	c.Storage.ServiceKey = getEnv("SUPABASE_SERVICE_ROLE_KEY", c.Storage.ServiceKey)
	c.Storage.Bucket = getEnv("STORAGE_BUCKET", c.Storage.Bucket)
	c.Storage.Root = getEnv("STORAGE_ROOT", c.Storage.Root)
	c.Storage.MaxBytes = int64(getEnvAsInt("STORAGE_MAX_BYTES", int(c.Storage.MaxBytes)))
	c.Storage.Timeout = getEnvAsDuration("STORAGE_TIMEOUT", c.Storage.Timeout)

	c.Pipeline.ProbeTimeout = getEnvAsDuration("PROBE_TIMEOUT", c.Pipeline.ProbeTimeout)
	c.Pipeline.FetchTimeout = getEnvAsDuration("FETCH_TIMEOUT", c.Pipeline.FetchTimeout)
	c.Pipeline.FetchAttempts = getEnvAsInt("FETCH_ATTEMPTS", c.Pipeline.FetchAttempts)
	c.Pipeline.RetryBackoff = getEnvAsDuration("FETCH_RETRY_BACKOFF", c.Pipeline.RetryBackoff)
	c.Pipeline.ProgressInterval = getEnvAsDuration("FETCH_PROGRESS_INTERVAL", c.Pipeline.ProgressInterval)
	c.Pipeline.ProcessTimeout = getEnvAsDuration("PROCESS_TIMEOUT", c.Pipeline.ProcessTimeout)
	c.Pipeline.WriteTimeout = getEnvAsDuration("WRITE_TIMEOUT", c.Pipeline.WriteTimeout)
	c.Pipeline.Workers = getEnvAsInt("PIPELINE_WORKERS", c.Pipeline.Workers)
	c.Pipeline.QueueSize = getEnvAsInt("PIPELINE_QUEUE_SIZE", c.Pipeline.QueueSize)

	c.Analysis.Provider = getEnv("ANALYSIS_PROVIDER", c.Analysis.Provider)
	c.Analysis.MockDelay = getEnvAsDuration("ANALYSIS_MOCK_DELAY", c.Analysis.MockDelay)
	c.Analysis.LLM.Model = getEnv("OPENAI_MODEL", c.Analysis.LLM.Model)
	c.Analysis.LLM.APIKey = getEnv("OPENAI_API_KEY", c.Analysis.LLM.APIKey)
	c.Analysis.LLM.BaseURL = getEnv("OPENAI_BASE_URL", c.Analysis.LLM.BaseURL)
	c.Analysis.LLM.Temperature = getEnvAsFloat32("OPENAI_TEMPERATURE", c.Analysis.LLM.Temperature)
	c.Analysis.LLM.Timeout = getEnvAsDuration("OPENAI_TIMEOUT", c.Analysis.LLM.Timeout)

	c.Watcher.Interval = getEnvAsDuration("WATCH_INTERVAL", c.Watcher.Interval)
	c.Watcher.SnapshotPath = getEnv("WATCH_SNAPSHOT_PATH", c.Watcher.SnapshotPath)
	c.Watcher.RedisAddr = getEnv("WATCH_REDIS_ADDR", c.Watcher.RedisAddr)
	c.Watcher.RedisPrefix = getEnv("WATCH_REDIS_PREFIX", c.Watcher.RedisPrefix)

	c.Sweep.Enabled = getEnvAsBool("SWEEP_ENABLED", c.Sweep.Enabled)
	c.Sweep.Schedule = getEnv("SWEEP_SCHEDULE", c.Sweep.Schedule)
	c.Sweep.MaxPerRun = getEnvAsInt("SWEEP_MAX_PER_RUN", c.Sweep.MaxPerRun)

	c.Ingest.Dir = getEnv("INGEST_DIR", c.Ingest.Dir)
	c.Ingest.Owner = getEnv("INGEST_OWNER", c.Ingest.Owner)
	c.Ingest.Mode = getEnv("INGEST_MODE", c.Ingest.Mode)
	c.Ingest.Exts = getEnvAsList("INGEST_EXTS", c.Ingest.Exts)
	c.Ingest.Debounce = getEnvAsDuration("INGEST_DEBOUNCE", c.Ingest.Debounce)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the settings every binary that touches the job store needs.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unsupported DB_DRIVER %q", c.Database.Driver), ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	switch c.Storage.Backend {
	case "supabase":
		if c.Storage.URL == "" || c.Storage.ServiceKey == "" {
			return NewAppError("CONFIG_ERROR", "SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required", ErrInvalidInput)
		}
	case "fs":
		if c.Storage.Root == "" {
			return NewAppError("CONFIG_ERROR", "STORAGE_ROOT is required", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unsupported STORAGE_BACKEND %q", c.Storage.Backend), ErrInvalidInput)
	}
	switch c.Analysis.Provider {
	case "mock":
	case "openai":
		if c.Analysis.LLM.APIKey == "" {
			return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unsupported ANALYSIS_PROVIDER %q", c.Analysis.Provider), ErrInvalidInput)
	}
	if c.Pipeline.ProbeTimeout <= 0 || c.Pipeline.FetchTimeout <= 0 || c.Pipeline.ProcessTimeout <= 0 {
		return NewAppError("CONFIG_ERROR", "pipeline timeouts must be positive", ErrInvalidInput)
	}
	if c.Pipeline.FetchAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "FETCH_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	if c.Ingest.Dir != "" && c.Ingest.Owner == "" {
		return NewAppError("CONFIG_ERROR", "INGEST_OWNER is required when INGEST_DIR is set", ErrInvalidInput)
	}
	return nil
}
