package lock

import (
	"context"
	"sync"
)

// LocalLockManager only excludes goroutines of the current process. It backs
// storage drivers that have no shared lock primitive of their own.
type LocalLockManager struct {
	mu   sync.Mutex
	held map[int]struct{}
}

func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{held: make(map[int]struct{})}
}

func (l *LocalLockManager) TryAcquire(_ context.Context, lockID int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[lockID]; ok {
		return false, nil
	}
	l.held[lockID] = struct{}{}
	return true, nil
}

func (l *LocalLockManager) Release(_ context.Context, lockID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, lockID)
	return nil
}
