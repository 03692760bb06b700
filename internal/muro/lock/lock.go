// Package lock wraps the OS advisory file lock guarding commits against
// other processes (spec §4.8). It generalizes the teacher pager's
// in-process sync.RWMutex discipline (internal/storage/pager/pager.go's
// mu sync.RWMutex: many readers or one writer) to a cross-process
// equivalent via golang.org/x/sys/unix.Flock, since a Go-level mutex only
// coordinates goroutines within one process and every other page in the
// pack reaches for x/sys for this kind of syscall rather than hand-rolling
// the platform-specific flock numbers.
package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mode selects shared (read) or exclusive (write) locking.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// File holds an advisory lock on a path for as long as it is open. Multiple
// Files may hold Shared locks concurrently; at most one may hold Exclusive,
// and an Exclusive acquisition waits for all readers to drain (spec §4.8).
type File struct {
	f    *os.File
	mode Mode
}

// Acquire blocks until it obtains mode's lock on path, returning a handle
// that must be released with Release.
func Acquire(path string, mode Mode) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}

	how := unix.LOCK_SH
	if mode == Exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock: flock %s: %w", path, err)
	}
	return &File{f: f, mode: mode}, nil
}

// TryAcquire behaves like Acquire but returns (nil, false, nil) immediately
// instead of blocking if the lock is currently held incompatibly — the
// caller surfaces this as muro.ErrBusy (spec §6 "Busy (lock contention)").
func TryAcquire(path string, mode Mode) (*File, bool, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("lock: open %s: %w", path, err)
	}

	how := unix.LOCK_SH | unix.LOCK_NB
	if mode == Exclusive {
		how = unix.LOCK_EX | unix.LOCK_NB
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lock: flock %s: %w", path, err)
	}
	return &File{f: f, mode: mode}, true, nil
}

// EnsureFile creates the lock file at path if it does not already exist.
// Acquire/TryAcquire never create path themselves, since a missing lock
// file usually means a missing database rather than a first-time setup.
func EnsureFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("lock: ensure %s: %w", path, err)
	}
	return f.Close()
}

// Release drops the lock and closes the underlying file descriptor.
func (l *File) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("lock: unlock: %w", err)
	}
	return l.f.Close()
}

// Mode reports which mode this handle holds.
func (l *File) Mode() Mode { return l.mode }
