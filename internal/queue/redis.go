package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/RezaEskandarii/jobcore/types"
	"github.com/redis/go-redis/v9"
)

var _ Queue = (*RedisQueue)(nil)

// RedisQueue is a Redis list: RPUSH to enqueue, BLPOP to dequeue. BLPOP runs
// in short windows so cancellation and Close are noticed promptly.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	window time.Duration
	closed atomic.Bool
}

func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	return &RedisQueue{
		client: client,
		key:    prefix + ":queue",
		window: time.Second,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, id types.JobID) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	return q.client.RPush(ctx, q.key, id.String()).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (types.JobID, error) {
	for {
		if q.closed.Load() {
			return "", ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		res, err := q.client.BLPop(ctx, q.window, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", err
		}
		// res is [key, value]
		return types.JobID(res[1]), nil
	}
}

func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}
