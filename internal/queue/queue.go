// Package queue carries job identifiers from submitters to workers with
// at-least-once delivery. A dequeued id is only a hint: ownership of the job
// comes from a successful claim in the job store, so duplicates are harmless.
package queue

import (
	"context"
	"errors"

	"github.com/RezaEskandarii/jobcore/types"
)

var ErrQueueClosed = errors.New("queue closed")

type Queue interface {
	// Enqueue appends id. It returns ErrQueueClosed after Close.
	Enqueue(ctx context.Context, id types.JobID) error
	// Dequeue blocks until an id is available, ctx ends or the queue is closed.
	// Ordering is not guaranteed.
	Dequeue(ctx context.Context) (types.JobID, error)
	Close() error
}
