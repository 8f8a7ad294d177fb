package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/silhouette/hive/internal/errors"
)

// lockFileName is the advisory lock inside a state directory.
const lockFileName = "scheduler.lock"

// ErrDirLocked is returned when another scheduler process holds the
// state directory.
var ErrDirLocked = errors.New("state directory locked by another process")

// DirLock is an advisory claim on a state directory. Two schedulers
// writing snapshots to the same directory would silently clobber each
// other, so the run command takes the lock before opening a FileStore.
type DirLock struct {
	path string
}

// AcquireDirLock claims the directory for the current process. It fails
// with ErrDirLocked if a live claim exists; claims left behind by dead
// processes are broken and re-taken.
func AcquireDirLock(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	path := filepath.Join(dir, lockFileName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("writing lock file: %w", errors.Join(werr, cerr))
			}
			return &DirLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}

		pid, ok := readLockOwner(path)
		if ok && processAlive(pid) {
			return nil, fmt.Errorf("%w: pid %d", ErrDirLocked, pid)
		}
		// Stale or unreadable claim: break it and retry once.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("breaking stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDirLocked, path)
}

// Release removes the claim. Safe to call more than once.
func (l *DirLock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// readLockOwner parses the pid recorded in the lock file.
func readLockOwner(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive reports whether a pid refers to a running process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
