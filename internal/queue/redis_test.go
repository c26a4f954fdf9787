package queue

import (
	"context"
	"testing"
	"time"

	"github.com/RezaEskandarii/jobcore/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, "jobcore"), mr
}

func TestRedisQueue_EnqueueDequeue(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))

	list, err := mr.List("jobcore:queue")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, list)

	id, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.JobID("a"), id)
}

func TestRedisQueue_DequeueWaitsForPush(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx := context.Background()

	got := make(chan types.JobID, 1)
	go func() {
		id, err := q.Dequeue(ctx)
		if err == nil {
			got <- id
		}
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, "late"))

	select {
	case id := <-got:
		assert.Equal(t, types.JobID("late"), id)
	case <-time.After(3 * time.Second):
		t.Fatal("dequeue did not receive the pushed id")
	}
}

func TestRedisQueue_Close(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(ctx, "x"), ErrQueueClosed)

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestRedisQueue_DequeueCancelled(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
