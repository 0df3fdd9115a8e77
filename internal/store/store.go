// Package store defines the relational store boundary used by the
// persistence engine. It mirrors the needs of the persist and load
// paths: transactional DDL/DML on the way in, schema introspection
// including table and column comments on the way out.
//
// Concrete backends live in subdirectories and register themselves
// with the store registry; import them with a blank identifier.
package store

import (
	"context"
	"database/sql"
	"strings"
)

// Config holds connection settings for a store backend.
type Config struct {
	Type     string
	Path     string
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Options  map[string]string
}

// ColumnComment pairs a column with its stored comment. Valid is false
// when the column carries no comment.
type ColumnComment struct {
	Column  string
	Comment string
	Valid   bool
}

// Store is the persistence engine's view of a database. A fresh store
// is opened per persist or load call and closed when the call ends.
type Store interface {
	// Connect establishes the database connection.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the connection and releases resources.
	Close() error

	// Begin starts a transaction.
	Begin(ctx context.Context) (Tx, error)

	// Query runs a read-only statement outside any transaction.
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)

	// SchemaExists reports whether the named schema exists.
	SchemaExists(ctx context.Context, schema string) (bool, error)

	// ListTables returns the table names in a schema, sorted.
	ListTables(ctx context.Context, schema string) ([]string, error)

	// TableComment returns the table-level comment. The boolean is
	// false when the table has no comment.
	TableComment(ctx context.Context, schema, table string) (string, bool, error)

	// ColumnComments returns the per-column comments in column order.
	ColumnComments(ctx context.Context, schema, table string) ([]ColumnComment, error)

	// Placeholder formats the parameter placeholder at 1-based
	// position n ("?" or "$n" depending on the backend).
	Placeholder(n int) string
}

// Tx is one database transaction. The persistence engine performs the
// whole persist mutation through a single Tx so a failure at any step
// rolls the entire schema write back.
type Tx interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...any) error

	// Query runs a statement inside the transaction.
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. Rolling back after a commit is
	// a no-op error callers may ignore.
	Rollback() error
}

// QuoteIdent quotes a schema, table or column identifier, escaping
// embedded double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal, escaping embedded single
// quotes.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
