package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fluxstack-labs/fluxgate/internal/auth"
	"github.com/fluxstack-labs/fluxgate/internal/dispatch"
	"github.com/fluxstack-labs/fluxgate/internal/persist"
	"github.com/fluxstack-labs/fluxgate/internal/server"
	"github.com/fluxstack-labs/fluxgate/internal/solver"
	"github.com/fluxstack-labs/fluxgate/pkg/catalog"

	// Store backends register on import.
	_ "github.com/fluxstack-labs/fluxgate/internal/store/duckdb"
	_ "github.com/fluxstack-labs/fluxgate/internal/store/postgres"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the optimization table gateway",
		Long: `Start the gateway server.

Uploaded tables live in an in-memory catalog. Control actions forward
optimization requests to the configured solver backend and move table
bundles between the catalog and relational storage.`,
		Example: `  # Start with defaults (listens on :8815, DuckDB persistence)
  fluxgate serve

  # Custom listen address and solver backend
  fluxgate serve --listen :9000 --solver-addr opt.internal:65432

  # Without token auth (trusted networks only)
  fluxgate serve --auth=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	return cmd
}

func runServe(cmd *cobra.Command) error {
	cfg := getConfig()
	logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)

	// The shutdown action and interrupt signals share one cancellation.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			logger.Info("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	cat := catalog.NewMemory()

	sv := solver.New(solver.Config{
		Host:    cfg.SolverHost,
		Port:    cfg.SolverPort,
		Timeout: cfg.SolverTimeout,
	}, logger)

	eng := persist.NewEngine(cfg.Store.ToStore(), nil, logger)

	var authn *auth.Authenticator
	if cfg.AuthEnabled {
		users, err := openUserStore(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = users.Close() }()
		authn = auth.New(users, logger)
	}

	disp := dispatch.New(cat, sv, eng, dispatch.Config{
		GraceDelay: cfg.ShutdownGrace,
		Shutdown:   cancel,
	}, logger)

	srv := server.New(cat, disp, authn, server.Config{
		Listen:      cfg.Listen,
		AuthEnabled: cfg.AuthEnabled,
		Logger:      logger,
	})

	logger.Info("starting gateway",
		slog.String("listen", cfg.Listen),
		slog.String("solver", sv.Addr()),
		slog.String("store", cfg.Store.Type),
		slog.Bool("auth", cfg.AuthEnabled))

	fmt.Fprintf(cmd.OutOrStdout(), "Starting gateway on %s\n", cfg.Listen)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	return srv.Serve(ctx)
}
