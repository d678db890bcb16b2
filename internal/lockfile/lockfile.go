// Package lockfile guards a CarSherpa state directory against a second running
// instance. The flock is tied to an open descriptor, so the kernel drops it when the
// process exits, even on a crash.
package lockfile

import (
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

// FileName is the lock file created inside the state directory.
const FileName = "carsherpa.lock"

// ErrLocked reports that another process holds the state directory.
var ErrLocked = errors.New("state directory is locked by another instance")

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive, non-blocking lock on stateDir, creating the directory
// when needed. On conflict the error is a *LockError that matches ErrLocked.
func Acquire(stateDir string) (*Lock, error) {
	path := filepath.Join(stateDir, FileName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the holder's pid before we know whether we won.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(path)
		slog.Error("lockfile.Acquire: state directory busy", "lock_path", path, "holder", holder, "error", err)
		return nil, &LockError{Path: path, Holder: holder, Cause: err}
	}

	if err := writeOwner(file); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}
	slog.Info("lockfile.Acquire: lock held", "lock_path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

func writeOwner(file *os.File) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	info := fmt.Sprintf("pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteAt([]byte(info), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.writeOwner: sync failed", "error", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and removes the file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		// The flock is gone already; a leftover file is harmless.
		slog.Warn("Lock.Release: failed to remove lock file", "lock_path", l.path, "error", err)
	}
	l.file = nil
	slog.Info("Lock.Release: lock released", "lock_path", l.path)
	return errors.Join(errs...)
}

// LockError describes a conflicting lock holder.
type LockError struct {
	Path   string
	Holder string
	Cause  error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another CarSherpa instance is using this state directory (lock file %s", e.Path)
	if e.Holder != "" {
		fmt.Fprintf(&b, ", held by %s", e.Holder)
	}
	fmt.Fprintf(&b, "); if no instance is running, remove %s and retry", e.Path)
	return b.String()
}

// Unwrap exposes both ErrLocked and the flock error.
func (e *LockError) Unwrap() []error {
	return []error{ErrLocked, e.Cause}
}

// describeHolder summarizes the pid recorded in the lock file.
func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	pid := parsePID(string(data))
	if pid <= 0 {
		return ""
	}
	if processAlive(pid) {
		return fmt.Sprintf("pid %d", pid)
	}
	return fmt.Sprintf("pid %d (not running)", pid)
}

// parsePID reads the value of the first "pid=" line.
func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return pid
	}
	return 0
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
