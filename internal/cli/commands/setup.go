// Package commands implements the FluxGate CLI subcommands.
package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/fluxstack-labs/fluxgate/internal/config"
	"github.com/fluxstack-labs/fluxgate/internal/userdb"
)

// getConfig returns the configuration loaded by the root command. It
// falls back to defaults when a command is constructed outside the
// root, as the metadata tests do.
func getConfig() *config.Config {
	if cfg := config.CurrentConfig(); cfg != nil {
		return cfg
	}
	return &config.Config{
		Listen:        config.DefaultListen,
		SolverHost:    config.DefaultSolverHost,
		SolverPort:    config.DefaultSolverPort,
		Store:         &config.StoreConfig{Type: config.DefaultStoreType, Path: config.DefaultStorePath},
		UsersDB:       config.DefaultUsersDB,
		AuthEnabled:   true,
		ShutdownGrace: config.DefaultShutdownGrace,
	}
}

// newLogger builds the process logger. Verbose enables debug output.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openUserStore opens the account database named by the config.
func openUserStore(cfg *config.Config, logger *slog.Logger) (*userdb.Store, error) {
	st := userdb.New(logger)
	if err := st.Open(cfg.UsersDB); err != nil {
		return nil, fmt.Errorf("failed to open user database: %w", err)
	}
	return st, nil
}
