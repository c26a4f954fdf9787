package mocks

import (
	"context"

	"github.com/RezaEskandarii/jobcore/types"
)

// MockQueue is a mock implementation of queue.Queue for testing.
type MockQueue struct {
	EnqueueFunc func(ctx context.Context, id types.JobID) error
	DequeueFunc func(ctx context.Context) (types.JobID, error)
	CloseFunc   func() error
}

func (m *MockQueue) Enqueue(ctx context.Context, id types.JobID) error {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, id)
	}
	return nil
}

func (m *MockQueue) Dequeue(ctx context.Context) (types.JobID, error) {
	if m.DequeueFunc != nil {
		return m.DequeueFunc(ctx)
	}
	<-ctx.Done()
	return "", ctx.Err()
}

func (m *MockQueue) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
