package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/harsh9t/basalt/internal/safedb"
)

// schemaVersion is the catalog schema this build reads and writes.
const schemaVersion = 1

var createStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		pid        INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		ended_at   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions (started_at DESC)`,
}

// initSchema creates the catalog tables on first open and verifies the
// schema version on every later one. The whole step runs in a single
// transaction so a crash mid-init leaves no half-built catalog.
func initSchema(ctx context.Context, db *safedb.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range createStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create catalog schema: %w", err)
		}
	}

	var version int
	err = tx.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("catalog schema version %d not supported (want %d)", version, schemaVersion)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
