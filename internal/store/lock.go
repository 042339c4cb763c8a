package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// LockPolicy bounds lock acquisition. Acquisition is non-blocking with
// bounded retries and exponential backoff; it never waits indefinitely.
type LockPolicy struct {
	Retries    int
	Backoff    time.Duration
	BackoffCap time.Duration
	Timeout    time.Duration
}

// DefaultLockPolicy matches the documented operational defaults.
func DefaultLockPolicy() LockPolicy {
	return LockPolicy{
		Retries:    5,
		Backoff:    2 * time.Millisecond,
		BackoffCap: 250 * time.Millisecond,
		Timeout:    5 * time.Second,
	}
}

// WithLock runs body while holding the exclusive advisory lock for path.
// The lock is a sibling "<path>.lock" file created with O_EXCL, so only one
// cooperating process can hold it. Release happens on every exit path,
// including panics, and the critical section must not suspend while holding
// the lock.
func (s *Store) WithLock(ctx context.Context, path string, body func() error) error {
	lockPath := s.resolve(path) + lockSuffix
	if err := s.acquire(ctx, lockPath); err != nil {
		return err
	}
	defer s.release(lockPath)
	return body()
}

const lockSuffix = ".lock"

func (s *Store) acquire(ctx context.Context, lockPath string) error {
	deadline := time.Now().Add(s.lockPolicy.Timeout)
	backoff := s.lockPolicy.Backoff

	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			// Record the holder for post-mortem debugging of leaked locks.
			fmt.Fprintf(f, "%s %d\n", s.writerID, os.Getpid())
			f.Close()
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("acquiring lock %s: %w", lockPath, err)
		}
		if attempt >= s.lockPolicy.Retries {
			return fmt.Errorf("lock %s after %d attempts: %w", lockPath, attempt+1, ErrLockContention)
		}
		if time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("lock %s: %w", lockPath, ErrTimeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("lock %s: %w", lockPath, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.lockPolicy.BackoffCap {
			backoff = s.lockPolicy.BackoffCap
		}
	}
}

func (s *Store) release(lockPath string) {
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Error("failed to release lock", "path", lockPath, "error", err)
	}
}
