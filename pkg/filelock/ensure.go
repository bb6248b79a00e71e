package filelock

import (
	"context"
	"os"
)

// Ensure runs fn unless target already exists, holding the lock of target
// while it does. Concurrent callers wait and then see the target fn made.
func Ensure(ctx context.Context, target string, fn func() error) error {
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	unlock, err := Lock(ctx, target)
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	// Another holder may have created it while we waited.
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	return fn()
}
