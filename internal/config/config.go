// Package config loads and validates application configuration from
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Storage backend names accepted by ORIKATA_STORAGE.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Storage settings.
	Storage     string // "sqlite", "postgres", or "memory"
	SQLitePath  string
	DatabaseURL string // Postgres DSN, required when Storage is "postgres".

	// Graph definitions.
	GraphDir string // Directory of YAML/JSON graph definition files.

	// Run execution settings.
	RunTimeout     time.Duration
	MaxSteps       int
	DebugSnapshots bool // Capture full state snapshots on every step.
	StoreInput     bool // Persist run inputs on the run record.

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		Port:           envInt("ORIKATA_PORT", 8080, &errs),
		ReadTimeout:    envDuration("ORIKATA_READ_TIMEOUT", 30*time.Second, &errs),
		WriteTimeout:   envDuration("ORIKATA_WRITE_TIMEOUT", 30*time.Second, &errs),
		Storage:        envStr("ORIKATA_STORAGE", StorageSQLite),
		SQLitePath:     envStr("ORIKATA_SQLITE_PATH", "orikata.db"),
		DatabaseURL:    envStr("DATABASE_URL", ""),
		GraphDir:       envStr("ORIKATA_GRAPH_DIR", "graphs"),
		RunTimeout:     envDuration("ORIKATA_RUN_TIMEOUT", 5*time.Minute, &errs),
		MaxSteps:       envInt("ORIKATA_MAX_STEPS", 250, &errs),
		DebugSnapshots: envBool("ORIKATA_DEBUG_SNAPSHOTS", false, &errs),
		StoreInput:     envBool("ORIKATA_STORE_INPUT", true, &errs),
		OTELEndpoint:   envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:    envStr("OTEL_SERVICE_NAME", "orikata"),
		LogLevel:       envStr("ORIKATA_LOG_LEVEL", "info"),
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errs[0])
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: ORIKATA_SQLITE_PATH is required for sqlite storage")
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for postgres storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: ORIKATA_PORT must be in 1..65535")
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("config: ORIKATA_RUN_TIMEOUT must be positive")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("config: ORIKATA_MAX_STEPS must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q is not a valid integer", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q is not a valid boolean", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q is not a valid duration", key, v))
		return defaultVal
	}
	return d
}
