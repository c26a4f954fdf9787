package lock

import (
	"context"
	"time"
)

// DistributedLockManager hands out named mutual-exclusion locks that hold
// across every process sharing the same backend.
type DistributedLockManager interface {
	// TryAcquire takes lockID without blocking and reports whether it is now held.
	TryAcquire(ctx context.Context, lockID int) (bool, error)
	Release(ctx context.Context, lockID int) error
}

// Acquire polls TryAcquire every interval until lockID is held or ctx ends.
func Acquire(ctx context.Context, m DistributedLockManager, lockID int, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := m.TryAcquire(ctx, lockID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
