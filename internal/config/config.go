// Package config provides configuration management for pulse.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the default config file name
	ConfigFileName = "config.yaml"
	// PulseDir is the pulse configuration directory
	PulseDir = ".pulse"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address (default :8714)
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	// Driver is the database dialect: sqlite or postgres (default sqlite)
	Driver string `yaml:"driver"`

	// DSN is the SQLite file path or PostgreSQL connection string.
	// Empty defaults to .pulse/pulse.db
	DSN string `yaml:"dsn"`
}

// RateLimitConfig bounds job submissions per workspace.
type RateLimitConfig struct {
	// Limit is the number of submissions per window (default 10)
	Limit int `yaml:"limit"`

	// Window is the rolling window size (default 60s)
	Window time.Duration `yaml:"window"`
}

// WatchdogConfig controls the stale-run sweep.
type WatchdogConfig struct {
	// Enabled turns the watchdog on (default true)
	Enabled bool `yaml:"enabled"`

	// Interval between sweeps (default 30s)
	Interval time.Duration `yaml:"interval"`

	// StaleAfter is how long a run may go silent before timing out (default 5m)
	StaleAfter time.Duration `yaml:"stale_after"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is debug, info, warn, or error (default info)
	Level string `yaml:"level"`

	// Format is text or json (default text)
	Format string `yaml:"format"`
}

// Config represents the pulse configuration.
type Config struct {
	// Version is the config file version
	Version int `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Log       LogConfig       `yaml:"log"`

	// MaxRetries is the default retry ceiling for jobs without one (default 3)
	MaxRetries int `yaml:"max_retries"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Addr: ":8714",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(PulseDir, "pulse.db"),
		},
		RateLimit: RateLimitConfig{
			Limit:  10,
			Window: 60 * time.Second,
		},
		Watchdog: WatchdogConfig{
			Enabled:    true,
			Interval:   30 * time.Second,
			StaleAfter: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		MaxRetries: 3,
	}
}

// Load reads configuration from the given path, overlaying the defaults.
// A missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(PulseDir, ConfigFileName)
}

// Save writes the configuration to the given path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q (want sqlite or postgres)", c.Database.Driver)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.Log.Format)
	}
	if c.RateLimit.Limit < 0 {
		return fmt.Errorf("rate_limit.limit must not be negative")
	}
	return nil
}
