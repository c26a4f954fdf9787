package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/RezaEskandarii/jobcore/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	listened []string
	ch       chan *pq.Notification
	closed   bool
}

func newFakeListener() *fakeListener {
	return &fakeListener{ch: make(chan *pq.Notification, 8)}
}

func (l *fakeListener) Listen(channel string) error {
	l.listened = append(l.listened, channel)
	return nil
}

func (l *fakeListener) NotificationChannel() <-chan *pq.Notification { return l.ch }

func (l *fakeListener) Close() error {
	l.closed = true
	return nil
}

func newPostgresQueue(t *testing.T, poll time.Duration) (*PostgresQueue, sqlmock.Sqlmock, *fakeListener) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	listener := newFakeListener()
	q, err := NewPostgresQueue(db, listener, PostgresQueueConfig{
		Channel:      "jobcore",
		Table:        "jobcore_jobs",
		PollInterval: poll,
		PollBatch:    10,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mock, listener
}

func TestPostgresQueue_ListensOnChannel(t *testing.T) {
	_, _, listener := newPostgresQueue(t, time.Hour)
	assert.Equal(t, []string{"jobcore"}, listener.listened)
}

func TestPostgresQueue_Enqueue(t *testing.T) {
	q, mock, _ := newPostgresQueue(t, time.Hour)

	mock.ExpectExec("SELECT pg_notify\\(\\$1, \\$2\\)").
		WithArgs("jobcore", "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Enqueue(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_DequeueFromNotification(t *testing.T) {
	q, _, listener := newPostgresQueue(t, time.Hour)

	listener.ch <- &pq.Notification{Channel: "jobcore", Extra: "job-7"}

	id, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.JobID("job-7"), id)
}

func TestPostgresQueue_DequeueFallsBackToPolling(t *testing.T) {
	q, mock, _ := newPostgresQueue(t, 10*time.Millisecond)

	mock.ExpectQuery("SELECT id FROM jobcore_jobs WHERE status = 'PENDING'").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("orphan-1").AddRow("orphan-2"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)

	assert.Equal(t, []types.JobID{"orphan-1", "orphan-2"}, []types.JobID{first, second})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_ReconnectTriggersPoll(t *testing.T) {
	q, mock, listener := newPostgresQueue(t, time.Hour)

	mock.ExpectQuery("SELECT id FROM jobcore_jobs").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("missed"))
	listener.ch <- nil

	id, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.JobID("missed"), id)
}

func TestPostgresQueue_Close(t *testing.T) {
	q, _, listener := newPostgresQueue(t, time.Hour)

	require.NoError(t, q.Close())
	assert.True(t, listener.closed)

	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, q.Enqueue(context.Background(), "x"), ErrQueueClosed)
}
