// Package store implements the basalt catalog: a SQLite database that
// lives inside an exclusively-owned store directory. Open acquires the
// directory lock before touching the catalog and every open is recorded as
// a session, so the catalog doubles as a history of who held the store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/harsh9t/basalt/internal/config"
	"github.com/harsh9t/basalt/internal/lock"
	"github.com/harsh9t/basalt/internal/paths"
	"github.com/harsh9t/basalt/internal/safedb"
)

// ErrNotFound is returned for lookups and deletes of absent keys.
var ErrNotFound = errors.New("record not found")

// Record is one key/value entry in the catalog.
type Record struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is one exclusive hold of the store. EndedAt is nil while the
// session is open (or if the holder crashed without closing).
type Session struct {
	ID        string     `json:"id"`
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Store is an open, exclusively-held catalog. It is not safe for
// concurrent use.
type Store struct {
	dir     string
	guard   *lock.Guard
	db      *safedb.DB
	session Session
	closed  bool
}

// Open acquires exclusive ownership of the store directory and opens its
// catalog. A directory without a manifest is refused. If another process
// holds the store, the returned error matches lock.ErrInUse.
func Open(ctx context.Context, dir string) (*Store, error) {
	dir, err := paths.Resolve(dir)
	if err != nil {
		return nil, err
	}
	if _, err := config.Load(dir); err != nil {
		return nil, err
	}

	guard := lock.New(paths.LockFile(dir))
	if err := guard.Acquire(true); err != nil {
		return nil, fmt.Errorf("lock store: %w", err)
	}

	raw, err := sql.Open("sqlite", paths.Catalog(dir))
	if err != nil {
		guard.Release()
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	db := safedb.New(raw)

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		guard.Release()
		return nil, err
	}

	session, err := beginSession(ctx, db)
	if err != nil {
		_ = db.Close()
		guard.Release()
		return nil, err
	}

	return &Store{dir: dir, guard: guard, db: db, session: session}, nil
}

// Close ends the session, closes the catalog and releases the directory
// lock. It is idempotent.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	ctx := context.Background()
	_, endErr := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ?`,
		formatTime(time.Now()), s.session.ID)

	closeErr := s.db.Close()
	s.guard.Release()

	if endErr != nil {
		return fmt.Errorf("end session: %w", endErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close catalog: %w", closeErr)
	}
	return nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Session returns this hold's session row as written at open.
func (s *Store) Session() Session { return s.session }

// Put inserts or replaces a record.
func (s *Store) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("put record %q: %w", key, err)
	}
	return nil
}

// Get returns the record stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (Record, error) {
	var rec Record
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM records WHERE key = ?`, key).
		Scan(&rec.Key, &rec.Value, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record %q: %w", key, err)
	}
	rec.UpdatedAt = parseTime(updated)
	return rec, nil
}

// Delete removes the record stored under key, or returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete record %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record %q: %w", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all records ordered by key.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM records ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var rec Record
		var updated string
		if err := rows.Scan(&rec.Key, &rec.Value, &updated); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.UpdatedAt = parseTime(updated)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// Sessions returns the hold history, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pid, started_at, ended_at FROM sessions ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var started string
		var ended sql.NullString
		if err := rows.Scan(&sess.ID, &sess.PID, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = parseTime(started)
		if ended.Valid {
			t := parseTime(ended.String)
			sess.EndedAt = &t
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Stats returns the record and session counts.
func (s *Store) Stats(ctx context.Context) (records, sessions int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&records); err != nil {
		return 0, 0, fmt.Errorf("count records: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&sessions); err != nil {
		return 0, 0, fmt.Errorf("count sessions: %w", err)
	}
	return records, sessions, nil
}

// Inspect briefly takes the store lock and reports catalog counts without
// recording a session, so status probes do not pollute the hold history.
// If another process holds the store the error matches lock.ErrInUse.
func Inspect(ctx context.Context, dir string) (records, sessions int, err error) {
	dir, err = paths.Resolve(dir)
	if err != nil {
		return 0, 0, err
	}
	if _, err := config.Load(dir); err != nil {
		return 0, 0, err
	}

	guard := lock.New(paths.LockFile(dir))
	if err := guard.Acquire(true); err != nil {
		return 0, 0, fmt.Errorf("lock store: %w", err)
	}
	defer guard.Release()

	raw, err := sql.Open("sqlite", paths.Catalog(dir))
	if err != nil {
		return 0, 0, fmt.Errorf("open catalog: %w", err)
	}
	db := safedb.New(raw)
	defer func() { _ = db.Close() }()

	if err := initSchema(ctx, db); err != nil {
		return 0, 0, err
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&records); err != nil {
		return 0, 0, fmt.Errorf("count records: %w", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&sessions); err != nil {
		return 0, 0, fmt.Errorf("count sessions: %w", err)
	}
	return records, sessions, nil
}

func beginSession(ctx context.Context, db *safedb.DB) (Session, error) {
	session := Session{
		ID:        ulid.Make().String(),
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC(),
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (id, pid, started_at) VALUES (?, ?, ?)`,
		session.ID, session.PID, formatTime(session.StartedAt))
	if err != nil {
		return Session{}, fmt.Errorf("record session: %w", err)
	}
	return session, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime tolerates malformed timestamps (zero time) rather than failing
// a whole listing over one bad row.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
