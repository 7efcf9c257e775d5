// Package safedb wraps *sql.DB so that only context-aware methods exist.
// Every catalog query must carry the caller's context, which keeps command
// timeouts and cancellation flowing into SQLite; code reaching for a
// context-free Query or Exec fails to compile.
package safedb

import (
	"context"
	"database/sql"
)

// DB is the context-only view of a *sql.DB.
type DB struct {
	db *sql.DB
}

// New wraps raw in the safe wrapper.
func New(raw *sql.DB) *DB {
	return &DB{db: raw}
}

// ExecContext executes a statement that returns no rows.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, query, args...)
}

// QueryContext executes a query that returns rows.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query expected to return at most one row.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return d.db.BeginTx(ctx, opts)
}

// PingContext verifies the connection.
func (d *DB) PingContext(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}
