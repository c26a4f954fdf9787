package queue

import (
	"context"
	"sync"

	"github.com/RezaEskandarii/jobcore/types"
)

var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is an unbounded in-process queue.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []types.JobID
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, id types.JobID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, id)
	q.signal()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (types.JobID, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return "", ErrQueueClosed
		}
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			if len(q.items) > 0 {
				// pass the wake-up on to the next waiter
				q.signal()
			}
			q.mu.Unlock()
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.done:
		case <-q.wake:
		}
	}
}

// Len returns the number of ids waiting.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// signal must be called with mu held.
func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
