package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout reports that the advisory file lock could not be acquired
// within the configured wait. This is a configuration/contention error and is
// never swallowed.
var ErrLockTimeout = errors.New("store: file lock wait timed out")

// Locker guards the store's read and write paths for the duration of a
// single file operation.
type Locker interface {
	// Acquire blocks until the lock is held or the wait budget runs out,
	// returning a release function on success.
	Acquire(ctx context.Context) (release func(), err error)
}

// FlockLocker implements Locker with a cross-process advisory lock next to
// the store file.
type FlockLocker struct {
	lock *flock.Flock
	wait time.Duration
}

// NewFlockLocker creates a Locker backed by the given lock file path.
func NewFlockLocker(path string, wait time.Duration) *FlockLocker {
	return &FlockLocker{
		lock: flock.New(path),
		wait: wait,
	}
}

const lockRetryInterval = 50 * time.Millisecond

// Acquire takes the advisory lock, polling until the wait budget is spent.
func (l *FlockLocker) Acquire(ctx context.Context) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ok, err := l.lock.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, l.lock.Path(), l.wait)
		}
		return nil, fmt.Errorf("acquire file lock %s: %w", l.lock.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, l.lock.Path(), l.wait)
	}
	return func() {
		_ = l.lock.Unlock()
	}, nil
}
