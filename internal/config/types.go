// Package config loads gateway configuration from defaults, an optional
// YAML file, FLUXGATE_-prefixed environment variables and command-line
// flags, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fluxstack-labs/fluxgate/internal/store"
)

// StoreConfig holds the persistence target configuration.
type StoreConfig struct {
	Type string `koanf:"type"` // duckdb, postgres

	// File-based stores (DuckDB)
	Path string `koanf:"path"`

	// Network stores (Postgres)
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// Additional driver-specific options
	Options map[string]string `koanf:"options"`
}

// ToStore converts the section into the store package's config.
func (s *StoreConfig) ToStore() store.Config {
	return store.Config{
		Type:     s.Type,
		Path:     s.Path,
		Host:     s.Host,
		Port:     s.Port,
		Database: s.Database,
		Username: s.Username,
		Password: s.Password,
		Options:  s.Options,
	}
}

// Validate checks the store section against the backend registry.
func (s *StoreConfig) Validate() error {
	if s.Type == "" {
		return fmt.Errorf("store type is required")
	}
	if !store.IsRegistered(strings.ToLower(s.Type)) {
		return &store.UnknownStoreError{
			Type:      s.Type,
			Available: store.ListStores(),
		}
	}
	return nil
}

// Config is the full gateway configuration.
type Config struct {
	Listen string `koanf:"listen"`

	SolverHost    string        `koanf:"solver_host"`
	SolverPort    int           `koanf:"solver_port"`
	SolverTimeout time.Duration `koanf:"solver_timeout"`

	Store *StoreConfig `koanf:"store"`

	UsersDB     string `koanf:"users_db"`
	AuthEnabled bool   `koanf:"auth_enabled"`

	ShutdownGrace time.Duration `koanf:"shutdown_grace"`
	Verbose       bool          `koanf:"verbose"`
}

// Validate checks the configuration for values the gateway cannot run
// with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.SolverPort <= 0 || c.SolverPort > 65535 {
		return fmt.Errorf("solver port %d is out of range", c.SolverPort)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown grace must not be negative")
	}
	if c.Store == nil {
		return fmt.Errorf("store configuration is required")
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store configuration: %w", err)
	}
	return nil
}
