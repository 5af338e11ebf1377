// Package config loads the sync core configuration from an optional YAML
// file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Supabase SupabaseConfig `yaml:"supabase"`
	Storage  StorageConfig  `yaml:"storage"`
	Notify   NotifyConfig   `yaml:"notify"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig covers the operator HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"SERVER_ADDR"`
}

// SupabaseConfig covers the remote store.
type SupabaseConfig struct {
	URL    string `yaml:"url" env:"SUPABASE_URL"`
	APIKey string `yaml:"api_key" env:"SUPABASE_KEY"`
}

// StorageConfig selects the pending-command store backend.
type StorageConfig struct {
	// Backend is "memory", "postgres" or "redis".
	Backend     string `yaml:"backend" env:"STORAGE_BACKEND"`
	PostgresDSN string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	RedisAddr   string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisDB     int    `yaml:"redis_db" env:"REDIS_DB"`
}

// NotifyConfig covers the outbound push endpoint.
type NotifyConfig struct {
	Endpoint string `yaml:"endpoint" env:"NOTIFY_ENDPOINT"`
	APIKey   string `yaml:"api_key" env:"NOTIFY_KEY"`
}

// WorkflowConfig tunes the coordination primitives.
type WorkflowConfig struct {
	EvidenceBucket   string        `yaml:"evidence_bucket" env:"EVIDENCE_BUCKET"`
	PollInterval     time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	PollMaxAttempts  int           `yaml:"poll_max_attempts" env:"POLL_MAX_ATTEMPTS"`
	InvalidationLag  time.Duration `yaml:"invalidation_lag" env:"INVALIDATION_LAG"`
	SweepSchedule    string        `yaml:"sweep_schedule" env:"SWEEP_SCHEDULE"`
	SweepGracePeriod time.Duration `yaml:"sweep_grace_period" env:"SWEEP_GRACE_PERIOD"`
	QuotaActions     []string      `yaml:"quota_actions"`
}

// LoggingConfig covers log output.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output" env:"LOG_OUTPUT"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8080"},
		Storage: StorageConfig{Backend: "memory"},
		Workflow: WorkflowConfig{
			EvidenceBucket:   "evidence",
			PollInterval:     3 * time.Second,
			PollMaxAttempts:  10,
			InvalidationLag:  300 * time.Millisecond,
			SweepSchedule:    "@every 1m",
			SweepGracePeriod: 30 * time.Second,
			QuotaActions:     []string{"submit_coupon"},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, fmt.Errorf("decode env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and cross-field constraints.
func (c Config) Validate() error {
	if c.Supabase.URL == "" {
		return fmt.Errorf("supabase url is required")
	}
	if c.Supabase.APIKey == "" {
		return fmt.Errorf("supabase api key is required")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires a DSN")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("redis backend requires an address")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Workflow.PollMaxAttempts < 1 {
		return fmt.Errorf("poll max attempts must be at least 1")
	}
	return nil
}
