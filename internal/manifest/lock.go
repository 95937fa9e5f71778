package manifest

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// ErrLocked is returned by [Acquire] when another process already holds the
// manifest lock.
var ErrLocked = errors.New("manifest: locked by another process")

// Lock is an exclusive, advisory, process-wide lock over a manifest path.
// It is implemented as an O_EXCL lockfile next to the manifest holding the
// owner's pid; this keeps the pipeline free of platform-specific flock calls
// while still refusing concurrent runs loudly.
type Lock struct {
	path string
}

// Acquire takes the lock for path ("<path>.lock"). Returns [ErrLocked] when
// the lockfile already exists and its owning process is still alive; a
// lockfile left behind by a dead process is stolen.
func Acquire(path string) (*Lock, error) {
	lockPath := path + ".lock"

	for range 2 {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &Lock{path: lockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("manifest: create lockfile: %w", err)
		}

		if !ownerAlive(lockPath) {
			// Stale lock from a crashed run; remove and retry once.
			os.Remove(lockPath)
			continue
		}
		return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
}

// Release removes the lockfile. Safe to call once; subsequent calls are no-ops.
func (l *Lock) Release() error {
	if l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("manifest: release lock: %w", err)
	}
	return nil
}

// ownerAlive reports whether the pid recorded in the lockfile names a live
// process. Unreadable or malformed lockfiles count as dead.
func ownerAlive(lockPath string) bool {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(string(bytesTrim(data)))
	if err != nil || pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}

func bytesTrim(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return b
}
