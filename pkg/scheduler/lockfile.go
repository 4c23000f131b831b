package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lock is a host-local PID lockfile guarding against a second scheduler
// instance on the same machine.
type Lock struct {
	path string
}

// AcquireLock writes the current PID to path. It fails when another live
// process holds the lock; a stale lock from a dead process is replaced.
func AcquireLock(path string) (*Lock, error) {
	if data, err := os.ReadFile(path); err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && pid != os.Getpid() && processAlive(pid) {
			return nil, fmt.Errorf("scheduler already running with pid %d", pid)
		}
		// Stale or unreadable lock, fall through and replace it.
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read lockfile: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write lockfile: %w", err)
	}
	return &Lock{path: path}, nil
}

// Release removes the lockfile.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lockfile: %w", err)
	}
	return nil
}

// processAlive reports whether a process with pid exists (signal 0 probe).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
