//go:build unix

package lock

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

type sysGuard struct {
	conn *os.File  // parent end of the control socket
	cmd  *exec.Cmd // helper process, reaped on Release
}

// Acquire takes the exclusive lock. It returns nil on success, ErrInUse if
// another process holds the lock, ErrUnsupported if the filesystem cannot
// lock, and an error describing the OS failure otherwise. The guard must
// not already be held and exclusive must be true.
//
// The lock itself is taken by a helper child process (a re-exec of this
// executable) so that no descriptor churn in the parent can ever drop it.
// The helper inherits exactly two descriptors: the lock file (fd 3) and its
// end of a socketpair (as stdin and stdout). It reports one outcome byte
// and then blocks on the socket until the parent closes it or sends SIGHUP.
func (g *Guard) Acquire(exclusive bool) error {
	g.checkAcquire(exclusive)

	marker, err := os.OpenFile(g.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		_ = marker.Close()
		return fmt.Errorf("create control socketpair: %w", err)
	}
	// Both ends must be close-on-exec. If the helper inherited a stray
	// copy of the parent end, the socket could never reach EOF and a
	// crashed parent would leave the lock held forever. The spawn below
	// passes the child end explicitly, which clears the flag on the
	// descriptors the helper is meant to have.
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	parentEnd := os.NewFile(uintptr(fds[0]), "|lockctl")
	childEnd := os.NewFile(uintptr(fds[1]), "lockctl|")

	exe, err := os.Executable()
	if err != nil {
		_ = marker.Close()
		_ = childEnd.Close()
		_ = parentEnd.Close()
		return fmt.Errorf("locate executable: %w", err)
	}

	cmd := exec.Command(exe)
	cmd.Stdin = childEnd
	cmd.Stdout = childEnd
	cmd.ExtraFiles = []*os.File{marker} // fd 3 in the helper
	// Keep the helper off whatever mount the caller is on so it never
	// blocks an unmount.
	cmd.Dir = "/"
	cmd.Env = append(os.Environ(), helperEnv+"="+g.path)

	if err := cmd.Start(); err != nil {
		_ = marker.Close()
		_ = childEnd.Close()
		_ = parentEnd.Close()
		return fmt.Errorf("spawn lock helper: %w", err)
	}

	// The helper owns the lock file now. The parent must not keep a
	// descriptor on that inode: closing one later would be exactly the
	// hazard this design exists to avoid.
	_ = marker.Close()
	_ = childEnd.Close()

	var buf [1]byte
	n, err := parentEnd.Read(buf[:])
	switch {
	case n == 1:
		switch buf[0] {
		case outcomeSuccess:
			g.sys.conn = parentEnd
			g.sys.cmd = cmd
			g.held = true
			g.armDone()
			g.watch(parentEnd, g.closeDone)
			return nil
		case outcomeInUse:
			reapHelper(parentEnd, cmd)
			return ErrInUse
		case outcomeUnsupported:
			reapHelper(parentEnd, cmd)
			return ErrUnsupported
		default:
			reapHelper(parentEnd, cmd)
			return fmt.Errorf("unexpected response %#x from lock helper", buf[0])
		}
	case err == nil || errors.Is(err, io.EOF):
		// The helper hit an error it could not classify and exited
		// without reporting.
		reapHelper(parentEnd, cmd)
		return errors.New("unexpected end of communication with lock helper")
	default:
		reapHelper(parentEnd, cmd)
		return fmt.Errorf("read from lock helper: %w", err)
	}
}

// Release drops the lock. It closes the control socket, asks the helper to
// exit with SIGHUP and reaps it. Calling Release on an unheld guard is a
// no-op; it never fails observably.
func (g *Guard) Release() {
	if !g.held {
		return
	}
	_ = g.sys.conn.Close()
	// SIGHUP delivery can only fail in ways Wait handles anyway; the
	// helper's exit, whenever it happens, is what frees the record lock.
	_ = g.sys.cmd.Process.Signal(unix.SIGHUP)
	_ = g.sys.cmd.Wait()
	g.closeDone()
	g.sys.conn = nil
	g.sys.cmd = nil
	g.held = false
}

// watch consumes the control socket until EOF or close and then fires the
// liveness channel. The helper never writes after the handshake, so the
// only thing this ever observes is the lock going away.
func (g *Guard) watch(conn *os.File, closeDone func()) {
	go func() {
		buf := make([]byte, 1)
		for {
			if n, err := conn.Read(buf); n == 0 || err != nil {
				break
			}
		}
		closeDone()
	}()
}

// reapHelper cleans up after a failed acquisition: closing the socket
// unblocks the helper if it is still alive, and the wait avoids a zombie.
func reapHelper(conn *os.File, cmd *exec.Cmd) {
	_ = conn.Close()
	_ = cmd.Wait()
}
