package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/RezaEskandarii/jobcore/custom_errors"
	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/internal/store/storetest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisJobStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock store.Clock) store.JobStore {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisJobStore(client, "jobcore", WithClock(clock))
	})
}

func TestRedisJobStore_KeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewRedisJobStore(client, "tenant", WithClock(func() time.Time { return now }))
	ctx := context.Background()

	id, err := s.Create(ctx, []byte("p"))
	require.NoError(t, err)
	assert.Equal(t, "PENDING", mr.HGet("tenant:job:"+id.String(), "status"))
	pending, err := mr.ZMembers("tenant:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{id.String()}, pending)

	_, err = s.TryClaim(ctx, id, "w", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "w", mr.HGet("tenant:job:"+id.String(), "lease_owner"))
	assert.False(t, mr.Exists("tenant:pending"))
	score, err := mr.ZScore("tenant:claims", id.String())
	require.NoError(t, err)
	assert.Equal(t, float64(now.Add(time.Minute).UnixMilli()), score)
}

func TestRedisJobStore_UnknownStatus(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisJobStore(client, "jobcore")
	ctx := context.Background()
	id, err := s.Create(ctx, []byte("p"))
	require.NoError(t, err)

	mr.HSet("jobcore:job:"+id.String(), "status", "archived")
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, custom_errors.ErrStorage)
}

func TestRedisJobStore_ConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	s := NewRedisJobStore(client, "jobcore")
	mr.Close()

	_, err := s.Create(context.Background(), []byte("p"))
	assert.Error(t, err)
}
