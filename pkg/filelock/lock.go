// Package filelock serializes work on a destination path across processes
// with a "<path>.lock" file holding the owner's PID. Locks left behind by
// dead processes are reclaimed.
package filelock

import (
	"context"
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

// Suffix is appended to the locked path to name its lock file.
const Suffix = ".lock"

const (
	pollAlive  = 200 * time.Millisecond
	pollBroken = 100 * time.Millisecond
)

// Lock acquires the lock for target, waiting while a live process holds
// it, until ctx is done. The returned function releases the lock.
func Lock(ctx context.Context, target string) (func() error, error) {
	lockFile := target + Suffix

	if err := os.MkdirAll(filepath.Dir(lockFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent dir for lock: %w", err)
	}

	for {
		ok, err := create(lockFile)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() error {
				return os.Remove(lockFile)
			}, nil
		}

		wait, err := inspect(lockFile)
		if err != nil {
			return nil, err
		}
		if wait == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", lockFile, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// create makes lockFile exclusively. It reports false if it already exists.
func create(lockFile string) (bool, error) {
	f, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	content := fmt.Sprintf("%s %d", time.Now().Format(time.RFC3339), os.Getpid())
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(lockFile)
		return false, fmt.Errorf("failed to write to lock file: %w", err)
	}
	return true, f.Close()
}

// inspect looks at an existing lock file and returns how long to wait
// before the next attempt. Stale or corrupt locks are removed and zero is
// returned.
func inspect(lockFile string) (time.Duration, error) {
	content, err := os.ReadFile(lockFile)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return pollBroken, nil
	}

	parts := strings.Fields(string(content))
	if len(parts) < 2 {
		slog.Debug("Removing corrupt lock", "path", lockFile)
		_ = os.Remove(lockFile)
		return 0, nil
	}

	pid, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		slog.Debug("Removing corrupt lock", "path", lockFile)
		_ = os.Remove(lockFile)
		return 0, nil
	}

	if isPidAlive(pid) {
		return pollAlive, nil
	}

	slog.Debug("Removing stale lock", "path", lockFile, "pid", pid)
	_ = os.Remove(lockFile)
	return 0, nil
}

func isPidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return false
	}

	// EPERM: the process exists but belongs to someone else.
	return true
}
