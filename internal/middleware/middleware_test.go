package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	mw "github.com/RezaEskandarii/jobcore/internal/middleware"
	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/types"
)

func newTestJob() *types.Job {
	expires := time.Now().Add(time.Minute)
	return &types.Job{
		ID:             types.NewJobID(),
		Payload:        []byte(`{"text":"hello"}`),
		Status:         state.StatusClaimed,
		AttemptCount:   1,
		LeaseOwner:     "node-1-abcd1234-w0",
		LeaseExpiresAt: &expires,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echo(_ context.Context, payload []byte) ([]byte, error) {
	return append([]byte("echo:"), payload...), nil
}

func TestChain_OrderIsOutermostFirst(t *testing.T) {
	var order []string
	record := func(name string) mw.Middleware {
		return func(ctx context.Context, job *types.Job, next mw.Handler) ([]byte, error) {
			order = append(order, name+">")
			res, err := next(ctx, job.Payload)
			order = append(order, "<"+name)
			return res, err
		}
	}

	chain := mw.Chain(record("a"), record("b"))
	res, err := chain(context.Background(), newTestJob(), func(ctx context.Context, payload []byte) ([]byte, error) {
		order = append(order, "handler")
		return echo(ctx, payload)
	})

	require.NoError(t, err)
	assert.Equal(t, `echo:{"text":"hello"}`, string(res))
	assert.Equal(t, []string{"a>", "b>", "handler", "<b", "<a"}, order)
}

func TestChain_Empty(t *testing.T) {
	res, err := mw.Chain()(context.Background(), newTestJob(), echo)
	require.NoError(t, err)
	assert.Equal(t, `echo:{"text":"hello"}`, string(res))
}

func TestTimeout_ExpiresSlowHandler(t *testing.T) {
	m := mw.Timeout(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := m(context.Background(), newTestJob(), func(_ context.Context, _ []byte) ([]byte, error) {
		// ignores its context on purpose
		<-release
		return []byte("late"), nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTimeout_PassesResultThrough(t *testing.T) {
	m := mw.Timeout(time.Second)
	res, err := m(context.Background(), newTestJob(), func(ctx context.Context, payload []byte) ([]byte, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return echo(ctx, payload)
	})
	require.NoError(t, err)
	assert.Equal(t, `echo:{"text":"hello"}`, string(res))
}

func TestTimeout_ZeroDisables(t *testing.T) {
	m := mw.Timeout(0)
	_, err := m(context.Background(), newTestJob(), func(ctx context.Context, _ []byte) ([]byte, error) {
		_, ok := ctx.Deadline()
		assert.False(t, ok)
		return nil, nil
	})
	assert.NoError(t, err)
}

func TestTimeout_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mw.Timeout(time.Minute)(ctx, newTestJob(), func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecover_TurnsPanicIntoError(t *testing.T) {
	m := mw.Recover(discardLogger())
	res, err := m(context.Background(), newTestJob(), func(context.Context, []byte) ([]byte, error) {
		panic("model exploded")
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestRecover_NoPanic(t *testing.T) {
	res, err := mw.Recover(discardLogger())(context.Background(), newTestJob(), echo)
	require.NoError(t, err)
	assert.NotEmpty(t, res)
}

func TestLogging_PassesThrough(t *testing.T) {
	m := mw.Logging(discardLogger())
	analysisErr := errors.New("bad input")

	_, err := m(context.Background(), newTestJob(), func(context.Context, []byte) ([]byte, error) {
		return nil, analysisErr
	})
	assert.ErrorIs(t, err, analysisErr)

	res, err := m(context.Background(), newTestJob(), echo)
	require.NoError(t, err)
	assert.NotEmpty(t, res)
}

func TestRateLimit_WaitsForToken(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(1), 1)
	m := mw.RateLimit(limiter)

	_, err := m(context.Background(), newTestJob(), echo)
	require.NoError(t, err)

	// the bucket is empty and the next token is a second away
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	called := false
	_, err = m(ctx, newTestJob(), func(context.Context, []byte) ([]byte, error) {
		called = true
		return nil, nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}
