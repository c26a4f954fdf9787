package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RezaEskandarii/jobcore/internal/lock"
	"github.com/RezaEskandarii/jobcore/internal/queue"
	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/internal/store/memory"
	"github.com/RezaEskandarii/jobcore/internal/store/pebblestore"
	"github.com/RezaEskandarii/jobcore/internal/store/redisstore"
	"github.com/RezaEskandarii/jobcore/internal/store/sqlstore"
	"github.com/RezaEskandarii/jobcore/types/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeListener struct {
	mu       sync.Mutex
	channels []string
	closed   bool
	ch       chan *pq.Notification
}

func (l *fakeListener) Listen(channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channels = append(l.channels, channel)
	return nil
}

func (l *fakeListener) NotificationChannel() <-chan *pq.Notification { return l.ch }

func (l *fakeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func TestNewContainer_Memory(t *testing.T) {
	cfg, err := config.NewJobCoreConfig("node-1")
	require.NoError(t, err)

	c, err := NewContainer(context.Background(), cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &memory.JobStore{}, c.Store)
	assert.IsType(t, &queue.MemoryQueue{}, c.Queue)
	assert.IsType(t, &lock.LocalLockManager{}, c.LockManager)
	assert.Nil(t, c.DB)
	assert.Nil(t, c.Redis)

	id, err := c.JobManager.Submit(context.Background(), []byte("hello"))
	require.NoError(t, err)
	job, err := c.JobManager.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, job.Status)
}

func TestNewContainer_PostgresWithNotifyQueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg, err := config.NewJobCoreConfig("node-1",
		config.WithPostgresConfig(config.PostgresConfig{ConnectionUrl: "postgres://localhost/jobs"}),
		config.WithQueueDriver(config.PostgresNotify),
	)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(7301).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS jobcore_jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS jobcore_jobs_status_lease_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS jobcore_jobs_status_updated_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(7301).WillReturnResult(sqlmock.NewResult(0, 0))

	listener := &fakeListener{ch: make(chan *pq.Notification)}
	c, err := NewContainer(context.Background(), cfg,
		WithDB(db), WithListener(listener), WithLogger(quietLogger()))
	require.NoError(t, err)

	assert.IsType(t, &sqlstore.JobStore{}, c.Store)
	assert.IsType(t, &queue.PostgresQueue{}, c.Queue)
	assert.IsType(t, &lock.PostgresDistributedLockManager{}, c.LockManager)
	assert.Equal(t, []string{"jobcore"}, listener.channels)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.NoError(t, c.Close())
	assert.True(t, listener.closed)
}

func TestNewContainer_RedisStoreAndQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg, err := config.NewJobCoreConfig("node-1",
		config.WithRedisConfig(config.RedisConfig{Address: mr.Addr()}),
		config.WithQueueDriver(config.RedisQueue),
	)
	require.NoError(t, err)

	c, err := NewContainer(context.Background(), cfg, WithRedis(rdb), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &redisstore.JobStore{}, c.Store)
	assert.IsType(t, &queue.RedisQueue{}, c.Queue)
	assert.IsType(t, &lock.RedisDistributedLockManager{}, c.LockManager)

	id, err := c.JobManager.Submit(context.Background(), []byte("hello"))
	require.NoError(t, err)
	got, err := c.Queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestNewContainer_OpensOwnRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg, err := config.NewJobCoreConfig("node-1",
		config.WithRedisConfig(config.RedisConfig{Address: mr.Addr()}))
	require.NoError(t, err)

	c, err := NewContainer(context.Background(), cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NotNil(t, c.Redis)
	require.NoError(t, c.Close())

	assert.Error(t, c.Redis.Ping(context.Background()).Err(), "container closes the client it opened")
}

func TestNewContainer_Pebble(t *testing.T) {
	cfg, err := config.NewJobCoreConfig("node-1",
		config.WithPebbleConfig(config.PebbleConfig{Dir: t.TempDir()}))
	require.NoError(t, err)

	c, err := NewContainer(context.Background(), cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &pebblestore.JobStore{}, c.Store)
}

func TestNewContainer_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg, err := config.NewJobCoreConfig("node-1",
		config.WithRedisConfig(config.RedisConfig{Address: addr}))
	require.NoError(t, err)

	c, err := NewContainer(context.Background(), cfg, WithLogger(quietLogger()))
	assert.Error(t, err)
	assert.Nil(t, c)
}
