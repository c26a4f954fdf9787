package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RezaEskandarii/jobcore/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))
	assert.Equal(t, 2, q.Len())

	id, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.JobID("a"), id)

	id, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.JobID("b"), id)
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	got := make(chan types.JobID, 1)
	go func() {
		id, err := q.Dequeue(ctx)
		if err == nil {
			got <- id
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, "late"))

	select {
	case id := <-got:
		assert.Equal(t, types.JobID("late"), id)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestMemoryQueue_DequeueHonoursContext(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	errs := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("dequeue not released by close")
	}
	assert.ErrorIs(t, q.Enqueue(ctx, "x"), ErrQueueClosed)
}

func TestMemoryQueue_ManyConsumersReceiveEverything(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const items = 200
	var (
		mu   sync.Mutex
		seen = make(map[types.JobID]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[id]++
				done := len(seen) == items
				mu.Unlock()
				if done {
					cancel()
				}
			}
		}()
	}

	for i := 0; i < items; i++ {
		require.NoError(t, q.Enqueue(context.Background(), types.JobID(fmt.Sprintf("job-%d", i))))
	}
	wg.Wait()

	assert.Len(t, seen, items)
	for id, n := range seen {
		assert.Equal(t, 1, n, "id %s delivered more than once", id)
	}
}
