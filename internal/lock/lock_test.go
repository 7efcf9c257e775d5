//go:build unix

package lock

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	// Guards re-exec this test binary as the lock helper.
	MaybeRunHelper()
	os.Exit(m.Run())
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basalt.lock")

	g := New(path)
	if err := g.Acquire(true); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !g.Held() {
		t.Fatal("guard should report held after successful acquire")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	g.Release()
	if g.Held() {
		t.Fatal("guard should not report held after release")
	}
}

func TestMutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basalt.lock")

	// Two guards in one test process still conflict: each has its own
	// helper process holding the fcntl lock.
	a := New(path)
	if err := a.Acquire(true); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer a.Release()

	b := New(path)
	err := b.Acquire(true)
	if !errors.Is(err, ErrInUse) {
		t.Fatalf("second acquire: got %v, want ErrInUse", err)
	}
	if b.Held() {
		t.Fatal("failed acquire must leave the guard unheld")
	}
}

func TestReleaseReenablesAcquisition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basalt.lock")

	a := New(path)
	if err := a.Acquire(true); err != nil {
		t.Fatalf("acquire A: %v", err)
	}
	a.Release()

	b := New(path)
	if err := b.Acquire(true); err != nil {
		t.Fatalf("acquire B after release: %v", err)
	}
	b.Release()
}

func TestReleaseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basalt.lock")

	g := New(path)
	g.Release() // never held
	g.Release()

	if err := g.Acquire(true); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	g.Release()
	g.Release() // second release after a real hold

	// An unrelated holder must be unaffected by stray releases.
	other := New(path)
	if err := other.Acquire(true); err != nil {
		t.Fatalf("acquire by other: %v", err)
	}
	g.Release()
	b := New(path)
	if err := b.Acquire(true); !errors.Is(err, ErrInUse) {
		t.Fatalf("other's lock should survive: got %v, want ErrInUse", err)
	}
	other.Release()
}

func TestNoLeakedHelper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basalt.lock")

	g := New(path)
	if err := g.Acquire(true); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pid := g.sys.cmd.Process.Pid
	g.Release()

	if err := syscall.Kill(pid, 0); err != syscall.ESRCH {
		t.Fatalf("helper %d still exists after release (kill 0 = %v)", pid, err)
	}
}

func TestFailedAcquireLeavesNoHelper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basalt.lock")

	a := New(path)
	if err := a.Acquire(true); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer a.Release()

	b := New(path)
	if err := b.Acquire(true); !errors.Is(err, ErrInUse) {
		t.Fatalf("got %v, want ErrInUse", err)
	}
	// The losing helper must be fully reaped inside Acquire.
	if b.sys.cmd != nil {
		t.Fatal("failed acquire left helper state behind")
	}
}

func TestCrashReleasesLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basalt.lock")

	a := New(path)
	if err := a.Acquire(true); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pid := a.sys.cmd.Process.Pid

	// Kill the helper out from under the guard; the control socket hits
	// EOF and Done fires.
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		t.Fatalf("kill helper: %v", err)
	}
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done did not fire after helper was killed")
	}

	// The kernel drops the record lock with the helper, so a fresh
	// holder succeeds (allow for OS lock-release latency).
	b := New(path)
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := b.Acquire(true)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrInUse) {
			t.Fatalf("acquire after crash: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("lock survived helper death")
		}
		time.Sleep(50 * time.Millisecond)
	}
	b.Release()

	a.Release() // reaps the killed helper; must not block or panic
}

func TestDoneNilBeforeAcquire(t *testing.T) {
	g := New(filepath.Join(t.TempDir(), "basalt.lock"))
	if g.Done() != nil {
		t.Fatal("Done should be nil before the first successful acquire")
	}
}

func TestDoneFiresOnRelease(t *testing.T) {
	g := New(filepath.Join(t.TempDir(), "basalt.lock"))
	if err := g.Acquire(true); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	done := g.Done()
	g.Release()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Done did not fire on release")
	}
}

func TestAcquireUnknownOnBadPath(t *testing.T) {
	g := New(filepath.Join(t.TempDir(), "no-such-dir", "basalt.lock"))
	err := g.Acquire(true)
	if err == nil {
		t.Fatal("expected error for unwritable lock path")
	}
	if errors.Is(err, ErrInUse) || errors.Is(err, ErrUnsupported) {
		t.Fatalf("open failure must map to an unknown error, got %v", err)
	}
}

func TestAcquireSharedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Acquire(false) should panic")
		}
	}()
	New(filepath.Join(t.TempDir(), "basalt.lock")).Acquire(false)
}

func TestAcquireHeldPanics(t *testing.T) {
	g := New(filepath.Join(t.TempDir(), "basalt.lock"))
	if err := g.Acquire(true); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer g.Release()
	defer func() {
		if recover() == nil {
			t.Fatal("Acquire on a held guard should panic")
		}
	}()
	g.Acquire(true)
}
