// Package duckdb provides the DuckDB store backend.
//
// Import this package with a blank identifier to register the backend:
//
//	import _ "github.com/fluxstack-labs/fluxgate/internal/store/duckdb"
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/fluxstack-labs/fluxgate/internal/store"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Store implements the store.Store interface for DuckDB.
type Store struct {
	store.BaseSQLStore
}

// New creates a new DuckDB store instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		BaseSQLStore: store.BaseSQLStore{Logger: logger},
	}
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" as the path for an in-memory database.
func (s *Store) Connect(ctx context.Context, cfg store.Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	s.Logger.Debug("connecting to duckdb", slog.String("path", path))

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	s.DB = db
	s.Cfg = cfg

	return nil
}

// SchemaExists reports whether the named schema exists.
func (s *Store) SchemaExists(ctx context.Context, schema string) (bool, error) {
	if s.DB == nil {
		return false, fmt.Errorf("store connection not established")
	}

	query := `SELECT schema_name FROM information_schema.schemata WHERE schema_name = ?`
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
		WHERE table_schema = ?
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

// TableComment returns the table-level comment. DuckDB surfaces
// comments through information_schema.
func (s *Store) TableComment(ctx context.Context, schema, table string) (string, bool, error) {
	if s.DB == nil {
		return "", false, fmt.Errorf("store connection not established")
	}

	query := `
		SELECT table_comment
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?
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

// ColumnComments returns the per-column comments in column order.
func (s *Store) ColumnComments(ctx context.Context, schema, table string) ([]store.ColumnComment, error) {
	if s.DB == nil {
		return nil, fmt.Errorf("store connection not established")
	}

	query := `
		SELECT column_name, column_comment
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position
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

// Placeholder formats the DuckDB parameter placeholder.
func (s *Store) Placeholder(int) string {
	return "?"
}

func init() {
	store.Register("duckdb", func(logger *slog.Logger) store.Store { return New(logger) })
}

// Ensure Store implements store.Store interface
var _ store.Store = (*Store)(nil)
