package config

import "time"

// Default configuration values.
const (
	DefaultListen        = ":8815"
	DefaultSolverHost    = "localhost"
	DefaultSolverPort    = 65432
	DefaultStoreType     = "duckdb"
	DefaultStorePath     = "fluxgate.duckdb"
	DefaultUsersDB       = "fluxgate_users.db"
	DefaultShutdownGrace = 2 * time.Second
)

// ApplyStoreDefaults applies type-specific defaults to a store section.
func ApplyStoreDefaults(s *StoreConfig) {
	if s == nil {
		return
	}
	if s.Type == "postgres" && s.Port == 0 {
		s.Port = 5432
	}
	if s.Type == "duckdb" && s.Path == "" {
		s.Path = DefaultStorePath
	}
}
