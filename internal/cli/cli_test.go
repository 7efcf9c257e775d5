//go:build unix

package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harsh9t/basalt/internal/lock"
	"github.com/harsh9t/basalt/internal/store"
)

func TestMain(m *testing.M) {
	lock.MaybeRunHelper()
	os.Exit(m.Run())
}

func TestInitThenStatus(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	result, err := Init(ctx, dir, "test store")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if result.ID == "" {
		t.Fatal("init returned no store id")
	}

	status, err := Status(ctx, dir)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.ID != result.ID {
		t.Fatalf("status id %s, want %s", status.ID, result.ID)
	}
	if status.Locked {
		t.Fatal("freshly initialized store should be free")
	}
	if status.Sessions != 1 {
		t.Fatalf("got %d sessions, want 1 (from init)", status.Sessions)
	}
	if status.Description != "test store" {
		t.Fatalf("description %q", status.Description)
	}
}

func TestInitRefusesReinit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	if _, err := Init(ctx, dir, ""); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := Init(ctx, dir, ""); err == nil {
		t.Fatal("second init should fail")
	}
}

func TestStatusReportsLocked(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	if _, err := Init(ctx, dir, ""); err != nil {
		t.Fatalf("init: %v", err)
	}
	st, err := store.Open(ctx, dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = st.Close() }()

	status, err := Status(ctx, dir)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Locked {
		t.Fatal("status should report the store as locked")
	}
}

func TestStatusUninitialized(t *testing.T) {
	if _, err := Status(context.Background(), t.TempDir()); err == nil {
		t.Fatal("status of an uninitialized directory should fail")
	}
}

func TestRecordOps(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if _, err := Init(ctx, dir, ""); err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := Put(ctx, dir, "name", "basalt"); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, err := Get(ctx, dir, "name")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Value != "basalt" {
		t.Fatalf("got %q", rec.Value)
	}

	records, err := List(ctx, dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	if err := Delete(ctx, dir, "name"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := Get(ctx, dir, "name"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get after delete: got %v, want ErrNotFound", err)
	}

	// Each operation above was its own session, plus the init open.
	sessions, err := Sessions(ctx, dir)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) < 5 {
		t.Fatalf("got %d sessions, want at least 5", len(sessions))
	}
}

// notifyWriter closes ch on the first write, so a test can wait for the
// "holding" message without polling (a Status probe would contend for the
// very lock Hold is acquiring).
type notifyWriter struct {
	once sync.Once
	ch   chan struct{}
	w    io.Writer
}

func (n *notifyWriter) Write(p []byte) (int, error) {
	n.once.Do(func() { close(n.ch) })
	return n.w.Write(p)
}

func TestHoldReleasesOnCancel(t *testing.T) {
	dir := t.TempDir()
	if _, err := Init(context.Background(), dir, ""); err != nil {
		t.Fatalf("init: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- Hold(ctx, dir, &notifyWriter{ch: ready, w: &out}) }()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("hold never took the lock")
	}

	status, err := Status(context.Background(), dir)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Locked {
		t.Fatal("status should report the held store as locked")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("hold: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("hold did not return after cancel")
	}
	if !strings.Contains(out.String(), "holding") {
		t.Fatalf("hold output %q", out.String())
	}

	// Lock must be free again.
	after, err := Status(context.Background(), dir)
	if err != nil {
		t.Fatalf("status after hold: %v", err)
	}
	if after.Locked {
		t.Fatal("lock survived the end of hold")
	}
}

func TestHoldUninitialized(t *testing.T) {
	if err := Hold(context.Background(), t.TempDir(), io.Discard); err == nil {
		t.Fatal("hold of an uninitialized directory should fail")
	}
}
