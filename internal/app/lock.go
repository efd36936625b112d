package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	appLog "timeledger/internal/log"
)

const lockRetryDelay = 250 * time.Millisecond

// lockTimeout bounds how long a run waits for another one to finish.
var lockTimeout = 30 * time.Second

// ErrLocked is returned when another run holds the lock past the timeout.
var ErrLocked = errors.New("another run is in progress")

// acquireLock takes the file lock at path, retrying until lockTimeout. It
// returns ErrLocked when the timeout expires and the caller's context error
// when that context ends first. An empty path is a no-op.
func acquireLock(ctx context.Context, path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	fl := flock.New(path)
	waitCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(waitCtx, lockRetryDelay)
	switch {
	case locked:
	case ctx.Err() != nil:
		return nil, fmt.Errorf("lock %s: %w", path, ctx.Err())
	case err != nil && waitCtx.Err() == nil:
		return nil, fmt.Errorf("lock %s: %w", path, err)
	default:
		return nil, fmt.Errorf("lock %s: %w", path, ErrLocked)
	}

	acquired := time.Now()
	appLog.Debug("run lock acquired", "path", path)
	return func() {
		if err := fl.Unlock(); err != nil {
			appLog.Error("run lock release failed", err, "path", path)
			return
		}
		appLog.Debug("run lock released", "path", path, "held_ms", time.Since(acquired).Milliseconds())
	}, nil
}
