package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultConfigFile is read from the working directory when present.
	DefaultConfigFile = "pneumoscan.toml"

	EnvConfigFile       = "PNEUMOSCAN_CONFIG"
	EnvHTTPAddr         = "HTTP_ADDR"
	EnvShutdownTimeout  = "SHUTDOWN_TIMEOUT"
	EnvMaxSessions      = "MAX_SESSIONS"
	EnvInferenceBaseURL = "INFERENCE_BASE_URL"
	EnvInferenceTimeout = "INFERENCE_TIMEOUT"
	EnvHistoryBackend   = "HISTORY_BACKEND"
	EnvHistoryKey       = "HISTORY_KEY"
	EnvRedisAddr        = "REDIS_ADDR"
	EnvDatabaseDSN      = "DATABASE_DSN"
)

// History backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the root configuration of the service.
type Config struct {
	HTTPAddr        string          `toml:"http_addr"`
	ShutdownTimeout string          `toml:"shutdown_timeout"`
	MaxSessions     int             `toml:"max_sessions"`
	Inference       InferenceConfig `toml:"inference"`
	History         HistoryConfig   `toml:"history"`
}

// InferenceConfig locates the remote inference service. Timeout bounds each
// request at the HTTP client; an empty or zero value means no timeout.
type InferenceConfig struct {
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`
}

// HistoryConfig selects where the history log is persisted.
type HistoryConfig struct {
	Backend     string `toml:"backend"`
	Key         string `toml:"key"`
	RedisAddr   string `toml:"redis_addr"`
	DatabaseDSN string `toml:"database_dsn"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		ShutdownTimeout: "15s",
		Inference: InferenceConfig{
			BaseURL: "http://127.0.0.1:8000",
			Timeout: "30s",
		},
		History: HistoryConfig{
			Backend:     BackendMemory,
			Key:         "scanHistory",
			RedisAddr:   "redis:6379",
			DatabaseDSN: "host=postgres user=postgres password=postgres dbname=pneumoscan port=5432 sslmode=disable",
		},
	}
}

// Load starts from Default, applies the config file when one exists and then
// environment overrides, and validates the result.
func Load() (*Config, error) {
	path := getEnv(EnvConfigFile, DefaultConfigFile)
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getEnv(EnvHTTPAddr, c.HTTPAddr)
	c.ShutdownTimeout = getEnv(EnvShutdownTimeout, c.ShutdownTimeout)
	c.Inference.BaseURL = getEnv(EnvInferenceBaseURL, c.Inference.BaseURL)
	c.Inference.Timeout = getEnv(EnvInferenceTimeout, c.Inference.Timeout)
	c.History.Backend = getEnv(EnvHistoryBackend, c.History.Backend)
	c.History.Key = getEnv(EnvHistoryKey, c.History.Key)
	c.History.RedisAddr = getEnv(EnvRedisAddr, c.History.RedisAddr)
	c.History.DatabaseDSN = getEnv(EnvDatabaseDSN, c.History.DatabaseDSN)

	if value := os.Getenv(EnvMaxSessions); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxSessions, err)
		}
		c.MaxSessions = n
	}
	return nil
}

// Validate checks backend names and durations.
func (c *Config) Validate() error {
	switch c.History.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}
	if c.Inference.BaseURL == "" {
		return errors.New("inference base url is required")
	}
	if _, err := parseDuration(c.Inference.Timeout); err != nil {
		return fmt.Errorf("invalid inference timeout: %w", err)
	}
	if _, err := parseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown timeout: %w", err)
	}
	return nil
}

// InferenceTimeout returns the per-request timeout, zero meaning none.
func (c *Config) InferenceTimeout() time.Duration {
	d, _ := parseDuration(c.Inference.Timeout)
	return d
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.ShutdownTimeout)
	return d
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
