// Package cli implements the operations behind the basalt commands. Each
// function returns a result struct the command layer renders as text or
// JSON.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/harsh9t/basalt/internal/config"
	"github.com/harsh9t/basalt/internal/lock"
	"github.com/harsh9t/basalt/internal/paths"
	"github.com/harsh9t/basalt/internal/store"
)

// InitResult describes a freshly initialized store.
type InitResult struct {
	Dir       string    `json:"dir"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Init creates the store directory, writes its manifest and initializes
// the catalog with a first session.
func Init(ctx context.Context, dir, description string) (*InitResult, error) {
	dir, err := paths.Resolve(dir)
	if err != nil {
		return nil, err
	}
	if err := paths.Ensure(dir); err != nil {
		return nil, err
	}

	manifest, err := config.Create(dir, description)
	if err != nil {
		return nil, err
	}

	// Open once so the catalog exists before the first real caller shows
	// up. If that fails, undo the manifest so init can be retried.
	st, err := store.Open(ctx, dir)
	if err != nil {
		_ = os.Remove(paths.Manifest(dir))
		return nil, err
	}
	if err := st.Close(); err != nil {
		return nil, err
	}

	return &InitResult{Dir: dir, ID: manifest.ID, CreatedAt: manifest.CreatedAt}, nil
}

// StatusResult describes a store and whether it is currently held.
type StatusResult struct {
	Dir         string    `json:"dir"`
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Locked      bool      `json:"locked"`
	Records     int       `json:"records"`
	Sessions    int       `json:"sessions"`
}

// Status reports manifest identity plus lock state. Record and session
// counts are only populated when the store is free; probing them requires
// briefly taking the lock.
func Status(ctx context.Context, dir string) (*StatusResult, error) {
	dir, err := paths.Resolve(dir)
	if err != nil {
		return nil, err
	}
	manifest, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		Dir:         dir,
		ID:          manifest.ID,
		CreatedAt:   manifest.CreatedAt,
		Description: manifest.Description,
	}

	records, sessions, err := store.Inspect(ctx, dir)
	switch {
	case errors.Is(err, lock.ErrInUse):
		result.Locked = true
	case err != nil:
		return nil, err
	default:
		result.Records = records
		result.Sessions = sessions
	}
	return result, nil
}

// Hold acquires the store lock and keeps it until ctx is canceled or the
// lock helper dies. The manifest must exist; holding a lock on a directory
// that is not a store is almost always a typo.
func Hold(ctx context.Context, dir string, out io.Writer) error {
	dir, err := paths.Resolve(dir)
	if err != nil {
		return err
	}
	if _, err := config.Load(dir); err != nil {
		return err
	}

	guard := lock.New(paths.LockFile(dir))
	if err := guard.Acquire(true); err != nil {
		if errors.Is(err, lock.ErrInUse) {
			return err
		}
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer guard.Release()

	fmt.Fprintf(out, "holding %s (pid %d); interrupt to release\n", dir, os.Getpid())
	select {
	case <-ctx.Done():
		return nil
	case <-guard.Done():
		return errors.New("lock helper terminated unexpectedly; lock is gone")
	}
}

// Put writes one record in its own store session.
func Put(ctx context.Context, dir, key, value string) error {
	st, err := store.Open(ctx, dir)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return st.Put(ctx, key, value)
}

// Get reads one record in its own store session.
func Get(ctx context.Context, dir, key string) (store.Record, error) {
	st, err := store.Open(ctx, dir)
	if err != nil {
		return store.Record{}, err
	}
	defer func() { _ = st.Close() }()
	return st.Get(ctx, key)
}

// Delete removes one record in its own store session.
func Delete(ctx context.Context, dir, key string) error {
	st, err := store.Open(ctx, dir)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return st.Delete(ctx, key)
}

// List returns all records in its own store session.
func List(ctx context.Context, dir string) ([]store.Record, error) {
	st, err := store.Open(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()
	return st.List(ctx)
}

// Sessions returns the hold history in its own store session.
func Sessions(ctx context.Context, dir string) ([]store.Session, error) {
	st, err := store.Open(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()
	return st.Sessions(ctx)
}
