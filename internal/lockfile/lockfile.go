// Package lockfile keeps two FlowDesk processes from sharing a state directory.
//
// The lock is an flock on a file inside the directory, so the kernel drops it
// when the process exits, however it exits.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "flowdesk.lock"

// ErrLocked is wrapped by LockError when another process holds the lock.
var ErrLocked = errors.New("state directory locked")

// Owner describes the process holding a lock.
type Owner struct {
	PID     int
	Purpose string // e.g. "sqlite session store" or "linked device"
	Started time.Time
}

// Lock represents an active directory lock.
type Lock struct {
	file     *os.File
	path     string
	acquired bool
}

// AcquireLock takes an exclusive lock on stateDir for purpose. It fails
// immediately with a *LockError if another process holds it.
func AcquireLock(stateDir, purpose string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring", "lock_path", lockPath, "purpose", purpose)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("lockfile.AcquireLock: failed to create state directory", "error", err, "state_dir", stateDir)
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// Not O_TRUNC: a held lock's owner information must survive a failed attempt.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		slog.Error("lockfile.AcquireLock: failed to open lock file", "error", err, "lock_path", lockPath)
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner, ok := readOwner(lockPath)
		slog.Error("lockfile.AcquireLock: another FlowDesk instance holds the lock",
			"error", err, "lock_path", lockPath, "owner_pid", owner.PID, "owner_purpose", owner.Purpose)
		return nil, &LockError{LockPath: lockPath, Owner: owner, OwnerKnown: ok, Cause: err}
	}

	owner := Owner{PID: os.Getpid(), Purpose: purpose, Started: time.Now().UTC()}
	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		slog.Error("lockfile.AcquireLock: failed to write owner", "error", err, "lock_path", lockPath)
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Acquired state directory lock", "lock_path", lockPath, "pid", owner.PID, "purpose", purpose)
	return &Lock{file: file, path: lockPath, acquired: true}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release releases the lock and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if !l.acquired || l.file == nil {
		return nil
	}
	// Remove before unlocking so a waiting process never sees our stale owner line.
	if err := os.Remove(l.path); err != nil {
		slog.Warn("lockfile.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("lockfile.Release: failed to release flock", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.acquired = false
	l.file = nil
	slog.Info("Released state directory lock", "lock_path", l.path)
	return err
}

// LockError is returned when another process holds the lock.
type LockError struct {
	LockPath   string
	Owner      Owner
	OwnerKnown bool
	Cause      error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another FlowDesk instance is already using this state directory (lock file %s)", e.LockPath)
	if e.OwnerKnown {
		state := "running"
		if !isProcessRunning(e.Owner.PID) {
			state = "not running, stale lock"
		}
		fmt.Fprintf(&b, "; held by PID %d (%s)", e.Owner.PID, state)
		if e.Owner.Purpose != "" {
			fmt.Fprintf(&b, " for %s", e.Owner.Purpose)
		}
		if !e.Owner.Started.IsZero() {
			fmt.Fprintf(&b, " since %s", e.Owner.Started.Format(time.RFC3339))
		}
	}
	fmt.Fprintf(&b, ". If no other instance is running, remove %s and retry", e.LockPath)
	return b.String()
}

func (e *LockError) Unwrap() []error {
	return []error{ErrLocked, e.Cause}
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "pid=%d\npurpose=%s\nstarted=%s\n", o.PID, o.Purpose, o.Started.Format(time.RFC3339)); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writeOwner: sync failed", "error", err, "lock_path", f.Name())
	}
	return nil
}

// readOwner parses the key=value lines written by writeOwner.
func readOwner(lockPath string) (Owner, bool) {
	f, err := os.Open(lockPath)
	if err != nil {
		return Owner{}, false
	}
	defer f.Close()

	var o Owner
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(value)
		case "purpose":
			o.Purpose = value
		case "started":
			o.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return o, o.PID > 0
}

// isProcessRunning sends signal 0 to pid.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
