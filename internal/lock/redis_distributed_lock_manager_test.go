package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLock(t *testing.T) (*RedisDistributedLockManager, *miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDistributedLockManager(client, "jobcore", time.Minute), mr, client
}

func TestRedisDistributedLockManager_Exclusive(t *testing.T) {
	first, mr, client := newRedisLock(t)
	second := NewRedisDistributedLockManager(client, "jobcore", time.Minute)
	ctx := context.Background()

	ok, err := first.TryAcquire(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("jobcore:lock:3"))

	ok, err = second.TryAcquire(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Release(ctx, 3))
	assert.False(t, mr.Exists("jobcore:lock:3"))

	ok, err = second.TryAcquire(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisDistributedLockManager_ReleaseAfterExpiryKeepsNewOwner(t *testing.T) {
	first, mr, client := newRedisLock(t)
	second := NewRedisDistributedLockManager(client, "jobcore", time.Minute)
	ctx := context.Background()

	ok, err := first.TryAcquire(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = second.TryAcquire(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, first.Release(ctx, 5))
	assert.True(t, mr.Exists("jobcore:lock:5"), "stale holder must not delete the new owner's lock")
}

func TestRedisDistributedLockManager_Error(t *testing.T) {
	mgr, mr, _ := newRedisLock(t)
	mr.Close()

	_, err := mgr.TryAcquire(context.Background(), 1)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to acquire lock")
}
