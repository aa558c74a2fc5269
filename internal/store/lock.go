package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockFileSuffix = ".lock"
	lockRetryDelay = 100 * time.Millisecond
)

// dirLock keeps a single writer per data location.
type dirLock struct {
	lock *flock.Flock
	path string
}

func newDirLock(target string) *dirLock {
	path := target + lockFileSuffix
	return &dirLock{lock: flock.New(path), path: path}
}

// acquire waits for the lock until ctx is done.
func (l *dirLock) acquire(ctx context.Context) error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock on %s: %w", l.path, err)
	}
	if locked {
		return nil
	}
	locked, err = l.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLocked, l.path, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, l.path)
	}
	return nil
}

func (l *dirLock) release() error {
	if l == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("release lock on %s: %w", l.path, err)
	}
	return nil
}
