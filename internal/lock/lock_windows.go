//go:build windows

package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

type sysGuard struct {
	handle windows.Handle
}

// Acquire takes the exclusive lock. Windows has no process-scoped lock
// hazard, so the helper-process protocol collapses to a share-mode
// exclusive open of the marker file: holding the handle with deny-write
// sharing is the lock.
func (g *Guard) Acquire(exclusive bool) error {
	g.checkAcquire(exclusive)

	p, err := windows.UTF16PtrFromString(g.path)
	if err != nil {
		return fmt.Errorf("lock file path: %w", err)
	}
	h, err := windows.CreateFile(p, windows.GENERIC_WRITE, windows.FILE_SHARE_READ,
		nil, windows.OPEN_ALWAYS, windows.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		if err == windows.ERROR_SHARING_VIOLATION {
			return ErrInUse
		}
		return fmt.Errorf("open lock file: %w", err)
	}
	g.sys.handle = h
	g.held = true
	g.armDone()
	return nil
}

// Release drops the lock by closing the handle. No-op on an unheld guard.
func (g *Guard) Release() {
	if !g.held {
		return
	}
	_ = windows.CloseHandle(g.sys.handle)
	g.sys.handle = windows.InvalidHandle
	g.closeDone()
	g.held = false
}

// runHelper is never spawned on Windows; exit quietly if something does.
func runHelper() {
	os.Exit(0)
}
