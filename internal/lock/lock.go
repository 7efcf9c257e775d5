// Package lock grants a process exclusive, crash-safe ownership of a
// database directory.
//
// POSIX record locks are scoped per process, not per descriptor: if any
// descriptor referring to the lock file's inode is closed anywhere in the
// process, the lock is silently dropped. A long-lived process that later
// opens the same file for an unrelated reason loses its lock without
// warning. To sidestep that, the actual fcntl lock is held by a dedicated
// helper process that never touches any other file. The parent talks to the
// helper exactly once (a one-byte outcome handshake over a socketpair) and
// afterwards keeps the socket open purely as a liveness channel: EOF means
// the helper died and the lock is gone.
package lock

import (
	"errors"
	"os"
	"sync"
)

var (
	// ErrInUse means another process currently holds the lock.
	ErrInUse = errors.New("lock held by another process")

	// ErrUnsupported means the filesystem or platform cannot provide the
	// locking primitive. Retrying will not help.
	ErrUnsupported = errors.New("file locking not supported here")
)

// Outcome byte written by the helper over the control socket.
const (
	outcomeSuccess byte = iota
	outcomeInUse
	outcomeUnsupported
)

// helperEnv marks a process as a spawned lock helper. Its value is the
// lock file path (for diagnostics only; the helper works on inherited fds).
const helperEnv = "BASALT_LOCK_HELPER"

// Guard is an exclusive lock on a resource path. The zero value is not
// usable; create one with New. A Guard is owned by a single goroutine and
// is not safe for concurrent use.
type Guard struct {
	path      string
	held      bool
	done      chan struct{}
	closeDone func()
	sys       sysGuard
}

// New returns an unheld guard for the lock file at path.
func New(path string) *Guard {
	return &Guard{path: path}
}

// Path returns the lock file path.
func (g *Guard) Path() string { return g.path }

// Held reports whether the guard currently holds the lock.
func (g *Guard) Held() bool { return g.held }

// Done returns a channel that is closed once the lock is gone, whether by
// Release or because the helper process died. It returns nil before the
// first successful Acquire.
func (g *Guard) Done() <-chan struct{} { return g.done }

// MaybeRunHelper diverts the current process into the lock helper protocol
// if it was spawned as one. It must be called at the top of main(), before
// any argument parsing, and in TestMain of packages whose tests acquire
// locks. In a helper process it never returns.
func MaybeRunHelper() {
	if os.Getenv(helperEnv) == "" {
		return
	}
	runHelper()
}

// checkAcquire enforces the Acquire preconditions. Violations are
// programming errors, not runtime failures.
func (g *Guard) checkAcquire(exclusive bool) {
	if !exclusive {
		panic("lock: only exclusive locks are supported")
	}
	if g.held {
		panic("lock: Acquire called on a held guard")
	}
}

// armDone installs a fresh liveness channel for the acquisition that just
// succeeded. closeDone is idempotent so the watcher goroutine and Release
// can both fire it.
func (g *Guard) armDone() {
	done := make(chan struct{})
	var once sync.Once
	g.done = done
	g.closeDone = func() { once.Do(func() { close(done) }) }
}
