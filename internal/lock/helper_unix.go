//go:build unix

package lock

import (
	"os"

	"golang.org/x/sys/unix"
)

// markerFd is where the parent passes the lock file descriptor.
const markerFd = 3

// runHelper is the body of the lock helper process. Its stdin and stdout
// are the child end of the control socket and fd 3 is the lock file; it
// inherits nothing else. It takes the record lock, reports one outcome
// byte to the parent and then holds the lock until the socket reaches EOF
// or SIGHUP arrives. It never returns.
func runHelper() {
	outcome := outcomeSuccess
	fl := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0, // SEEK_SET
		Start:  0,
		Len:    1,
	}
	for {
		err := unix.FcntlFlock(markerFd, unix.F_SETLK, &fl)
		if err == nil {
			break
		}
		if err == unix.EINTR {
			continue
		}
		switch err {
		case unix.EACCES, unix.EAGAIN:
			outcome = outcomeInUse
		case unix.ENOLCK:
			outcome = outcomeUnsupported
		default:
			// Nothing useful to report; the parent treats EOF as
			// failure.
			os.Exit(0)
		}
		break
	}

	// One byte tells the parent whether it holds the lock. If this write
	// fails there is no way left to talk to the parent; exit and let it
	// see EOF.
	if _, err := os.Stdout.Write([]byte{outcome}); err != nil {
		os.Exit(1)
	}
	if outcome != outcomeSuccess {
		os.Exit(0)
	}

	// Hold the lock with the smallest possible footprint: replace this
	// process image with cat. The exec keeps fd 3 open (the record lock
	// lives on it) and cat blocks reading the control socket until the
	// parent closes its end or SIGHUPs us. The Go runtime's own
	// descriptors are CLOEXEC and vanish here.
	_ = unix.Exec("/bin/cat", []string{"cat"}, nil)

	// No cat on this system; consume the socket in-process instead.
	buf := make([]byte, 1)
	for {
		if n, err := os.Stdin.Read(buf); n == 0 || err != nil {
			os.Exit(0)
		}
	}
}
