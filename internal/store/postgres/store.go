// Package postgres provides the PostgreSQL store backend.
//
// Import this package with a blank identifier to register the backend:
//
//	import _ "github.com/fluxstack-labs/fluxgate/internal/store/postgres"
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/fluxstack-labs/fluxgate/internal/store"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
)

// Store implements the store.Store interface for PostgreSQL.
type Store struct {
	store.BaseSQLStore
}

// New creates a new PostgreSQL store instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		BaseSQLStore: store.BaseSQLStore{Logger: logger},
	}
}

// Connect establishes a connection to PostgreSQL.
func (s *Store) Connect(ctx context.Context, cfg store.Config) error {
	dsn := buildPostgresDSN(cfg)

	s.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	s.DB = db
	s.Cfg = cfg
	return nil
}

// buildPostgresDSN constructs a PostgreSQL connection string.
func buildPostgresDSN(cfg store.Config) string {
	// Build key=value format: host=localhost port=5432 user=postgres ...
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if cfg.Options != nil {
		if mode, ok := cfg.Options["sslmode"]; ok {
			sslmode = mode
		}
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		host, port, cfg.Database, sslmode)

	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}

	return dsn
}

// SchemaExists reports whether the named schema exists.
func (s *Store) SchemaExists(ctx context.Context, schema string) (bool, error) {
	if s.DB == nil {
		return false, fmt.Errorf("store connection not established")
	}

	query := `SELECT schema_name FROM information_schema.schemata WHERE schema_name = $1`
	var name string
	err := s.DB.QueryRowContext(ctx, query, schema).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query schemata: %w", err)
	}
	return true, nil
}

// ListTables returns the table names in a schema, sorted.
func (s *Store) ListTables(ctx context.Context, schema string) ([]string, error) {
	if s.DB == nil {
		return nil, fmt.Errorf("store connection not established")
	}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name
	`
	rows, err := s.DB.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tables, nil
}

// TableComment returns the table-level comment via obj_description.
func (s *Store) TableComment(ctx context.Context, schema, table string) (string, bool, error) {
	if s.DB == nil {
		return "", false, fmt.Errorf("store connection not established")
	}

	query := `
		SELECT obj_description(c.oid, 'pg_class')
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
	`
	var comment sql.NullString
	err := s.DB.QueryRowContext(ctx, query, schema, table).Scan(&comment)
	if err == sql.ErrNoRows {
		return "", false, fmt.Errorf("table %s.%s not found", schema, table)
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query table comment: %w", err)
	}
	if !comment.Valid || comment.String == "" {
		return "", false, nil
	}
	return comment.String, true, nil
}

// ColumnComments returns the per-column comments via col_description.
func (s *Store) ColumnComments(ctx context.Context, schema, table string) ([]store.ColumnComment, error) {
	if s.DB == nil {
		return nil, fmt.Errorf("store connection not established")
	}

	query := `
		SELECT a.attname, col_description(a.attrelid, a.attnum)
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
		  AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum
	`
	rows, err := s.DB.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query column comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var comments []store.ColumnComment
	for rows.Next() {
		var (
			name    string
			comment sql.NullString
		)
		if err := rows.Scan(&name, &comment); err != nil {
			return nil, fmt.Errorf("failed to scan column comment: %w", err)
		}
		comments = append(comments, store.ColumnComment{
			Column:  name,
			Comment: comment.String,
			Valid:   comment.Valid && comment.String != "",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column comments: %w", err)
	}
	return comments, nil
}

// Placeholder formats the PostgreSQL parameter placeholder.
func (s *Store) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func init() {
	store.Register("postgres", func(logger *slog.Logger) store.Store { return New(logger) })
}

// Ensure Store implements store.Store interface
var _ store.Store = (*Store)(nil)
