package mocks

import (
	"context"
	"time"

	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/types"
)

var _ store.JobStore = (*MockJobStore)(nil)

// MockJobStore is a mock implementation of store.JobStore for testing.
// Unset funcs fall through to Next when it is set.
type MockJobStore struct {
	Next store.JobStore

	CreateFunc            func(ctx context.Context, payload []byte) (types.JobID, error)
	GetFunc               func(ctx context.Context, id types.JobID) (*types.Job, error)
	TryClaimFunc          func(ctx context.Context, id types.JobID, workerID string, leaseDuration time.Duration) (*types.Job, error)
	CompleteFunc          func(ctx context.Context, lease types.Lease, result []byte) error
	FailFunc              func(ctx context.Context, lease types.Lease, message string) error
	ListExpiredClaimsFunc func(ctx context.Context, now time.Time) ([]types.JobID, error)
	ReclaimFunc           func(ctx context.Context, id types.JobID, now time.Time, maxAttempts int) (state.JobStatus, error)
	ListStalePendingFunc  func(ctx context.Context, olderThan time.Time, limit int) ([]types.JobID, error)
	CloseFunc             func() error
}

func (m *MockJobStore) Create(ctx context.Context, payload []byte) (types.JobID, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, payload)
	}
	if m.Next != nil {
		return m.Next.Create(ctx, payload)
	}
	return types.NewJobID(), nil
}

func (m *MockJobStore) Get(ctx context.Context, id types.JobID) (*types.Job, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	if m.Next != nil {
		return m.Next.Get(ctx, id)
	}
	return nil, nil
}

func (m *MockJobStore) TryClaim(ctx context.Context, id types.JobID, workerID string, leaseDuration time.Duration) (*types.Job, error) {
	if m.TryClaimFunc != nil {
		return m.TryClaimFunc(ctx, id, workerID, leaseDuration)
	}
	if m.Next != nil {
		return m.Next.TryClaim(ctx, id, workerID, leaseDuration)
	}
	return nil, nil
}

func (m *MockJobStore) Complete(ctx context.Context, lease types.Lease, result []byte) error {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, lease, result)
	}
	if m.Next != nil {
		return m.Next.Complete(ctx, lease, result)
	}
	return nil
}

func (m *MockJobStore) Fail(ctx context.Context, lease types.Lease, message string) error {
	if m.FailFunc != nil {
		return m.FailFunc(ctx, lease, message)
	}
	if m.Next != nil {
		return m.Next.Fail(ctx, lease, message)
	}
	return nil
}

func (m *MockJobStore) ListExpiredClaims(ctx context.Context, now time.Time) ([]types.JobID, error) {
	if m.ListExpiredClaimsFunc != nil {
		return m.ListExpiredClaimsFunc(ctx, now)
	}
	if m.Next != nil {
		return m.Next.ListExpiredClaims(ctx, now)
	}
	return nil, nil
}

func (m *MockJobStore) Reclaim(ctx context.Context, id types.JobID, now time.Time, maxAttempts int) (state.JobStatus, error) {
	if m.ReclaimFunc != nil {
		return m.ReclaimFunc(ctx, id, now, maxAttempts)
	}
	if m.Next != nil {
		return m.Next.Reclaim(ctx, id, now, maxAttempts)
	}
	return state.StatusPending, nil
}

func (m *MockJobStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]types.JobID, error) {
	if m.ListStalePendingFunc != nil {
		return m.ListStalePendingFunc(ctx, olderThan, limit)
	}
	if m.Next != nil {
		return m.Next.ListStalePending(ctx, olderThan, limit)
	}
	return nil, nil
}

func (m *MockJobStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	if m.Next != nil {
		return m.Next.Close()
	}
	return nil
}
