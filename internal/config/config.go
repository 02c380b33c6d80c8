// Package config holds runtime settings read from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the runtime configuration of a causeway process. Every field
// can be set from the environment; CLI flags override it.
type Config struct {
	// DB is the journal path. Empty disables the journal.
	DB string `env:"CAUSEWAY_DB"`

	LogLevel  string `env:"CAUSEWAY_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"CAUSEWAY_LOG_FORMAT" envDefault:"text"`

	// MetricsAddr serves /metrics when set, e.g. ":9464".
	MetricsAddr string `env:"CAUSEWAY_METRICS_ADDR"`

	// Workers bounds concurrent task preparation.
	Workers int `env:"CAUSEWAY_WORKERS" envDefault:"4"`

	MaxPhaseDepth int `env:"CAUSEWAY_MAX_PHASE_DEPTH" envDefault:"64"`

	// CatalogDir holds extra CUE phase definitions.
	CatalogDir string `env:"CAUSEWAY_CATALOG_DIR"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log format %q: must be text or json", c.LogFormat)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxPhaseDepth < 1 {
		return fmt.Errorf("max phase depth must be at least 1, got %d", c.MaxPhaseDepth)
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log level %q: must be debug, info, warn or error", s)
	}
}
