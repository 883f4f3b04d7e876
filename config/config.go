// Package config defines the server configuration and how it is loaded.
//
// Precedence, low to high: defaults (New), a YAML file, then environment
// variables prefixed INCENTIVE_ (INCENTIVE_DB_PATH sets db_path).
package config

import (
	"errors"
	"fmt"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INCENTIVE_"

type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite database file. ":memory:" for a throwaway database.
	DBPath string `koanf:"db_path"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `koanf:"log_level"`

	// Currency is the ISO 4217 code every ledger amount is in.
	Currency string `koanf:"currency"`

	// CORSOrigins lists the dashboard origins allowed to call the API.
	CORSOrigins []string `koanf:"cors_origins"`

	// TiersFile optionally replaces the built-in ladder (JSON or YAML).
	TiersFile string `koanf:"tiers_file"`

	ScanEnabled  bool          `koanf:"scan_enabled"`
	ScanInterval time.Duration `koanf:"scan_interval"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// New returns the defaults.
func New() *Config {
	return &Config{
		Addr:            ":8080",
		DBPath:          "incentive.db",
		LogLevel:        "info",
		Currency:        "COP",
		CORSOrigins:     []string{"http://localhost:5173", "http://localhost:8080"},
		ScanEnabled:     true,
		ScanInterval:    time.Hour,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

var ErrInvalidConfig = errors.New("invalid config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks the fields the server cannot start without.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.DBPath == "":
		return invalid("db_path must not be empty")
	case len(c.Currency) != 3:
		return invalid("currency must be a 3-letter ISO code, got %q", c.Currency)
	case c.ScanEnabled && c.ScanInterval <= 0:
		return invalid("scan_interval must be positive, got %s", c.ScanInterval)
	case c.ReadTimeout <= 0 || c.WriteTimeout <= 0:
		return invalid("read_timeout and write_timeout must be positive")
	case c.ShutdownTimeout <= 0:
		return invalid("shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}
