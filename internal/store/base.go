package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// BaseSQLStore provides common database/sql functionality for store
// backends. Embed it in concrete implementations to get standard
// Close, Query and Begin implementations.
type BaseSQLStore struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger
}

// Close closes the database connection.
func (b *BaseSQLStore) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing store connection")
		}
		return b.DB.Close()
	}
	return nil
}

// Query runs a read-only statement outside any transaction.
func (b *BaseSQLStore) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("store connection not established")
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := b.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return rows, nil
}

// Begin starts a transaction.
func (b *BaseSQLStore) Begin(ctx context.Context) (Tx, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("store connection not established")
	}
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLStore) IsConnected() bool {
	return b.DB != nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return rows, nil
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}
