// Package server exposes the gateway over HTTP: catalog reads and
// uploads, action dispatch and token issuance, mounted on a chi router.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/fluxstack-labs/fluxgate/internal/auth"
	"github.com/fluxstack-labs/fluxgate/internal/dispatch"
	"github.com/fluxstack-labs/fluxgate/pkg/catalog"
)

// Media types the gateway speaks.
const (
	// ContentTypeArrow is the Arrow IPC stream media type used for
	// dataset bodies.
	ContentTypeArrow = "application/vnd.apache.arrow.stream"

	// ContentTypeFrames is the media type of action responses: a
	// sequence of 4-byte little-endian length-prefixed result units
	// closed by a zero-length terminator.
	ContentTypeFrames = "application/vnd.fluxgate.frames"
)

// Dispatcher is the server's view of the action dispatcher.
type Dispatcher interface {
	Actions() []dispatch.Info
	Dispatch(ctx context.Context, name string, payload []byte) ([][]byte, error)
}

// Config holds configuration for the gateway server.
type Config struct {
	Listen      string
	AuthEnabled bool
	Logger      *slog.Logger
}

// Server is the HTTP face of the gateway.
type Server struct {
	catalog    catalog.Catalog
	dispatcher Dispatcher
	auth       *auth.Authenticator
	listen     string
	authOn     bool
	logger     *slog.Logger
}

// New creates a gateway server. A nil authenticator disables auth
// regardless of cfg.AuthEnabled.
func New(cat catalog.Catalog, disp Dispatcher, authn *auth.Authenticator, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		catalog:    cat,
		dispatcher: disp,
		auth:       authn,
		listen:     cfg.Listen,
		authOn:     cfg.AuthEnabled && authn != nil,
		logger:     logger,
	}
}

// Routes builds the chi router with all gateway endpoints mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)
	r.Use(s.logRequests)

	r.Route("/v1", func(r chi.Router) {
		// Reads are open, matching the original deployment where
		// list/get/describe required no credentials.
		r.Get("/tables", s.handleListTables)
		r.Get("/tables/cmd/{command}", s.handleGetTable)
		r.Get("/tables/cmd/{command}/schema", s.handleGetSchema)
		r.Get("/actions", s.handleListActions)
		r.Post("/auth/token", s.handleToken)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Put("/tables/cmd/{command}", s.handlePutCommand)
			r.Put("/tables/path/*", s.handlePutPath)
			r.Post("/actions/{name}", s.handleAction)
		})
	})

	return r
}

// Serve starts the server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting gateway server",
		slog.String("addr", s.listen),
		slog.Bool("auth", s.authOn))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.listen,
		Handler: s.Routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down gateway server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// requireAuth gates mutating routes behind a bearer token when auth is
// enabled.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if !s.authOn {
		return next
	}
	return s.auth.Middleware(next)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("elapsed", time.Since(start)))
	})
}
