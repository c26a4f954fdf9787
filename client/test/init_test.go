package test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RezaEskandarii/jobcore/client"
	"github.com/RezaEskandarii/jobcore/internal/queue"
	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/internal/store/memory"
	"github.com/RezaEskandarii/jobcore/internal/store/storetest"
	"github.com/RezaEskandarii/jobcore/types"
	"github.com/RezaEskandarii/jobcore/types/config"
)

const (
	testLease = 30 * time.Second
	testSweep = 10 * time.Second
)

type harness struct {
	clock *storetest.FakeClock
	store *memory.JobStore
	queue *queue.MemoryQueue
}

func newHarness() *harness {
	clock := storetest.NewFakeClock()
	return &harness{
		clock: clock,
		store: memory.NewJobStore(memory.WithClock(clock.Now)),
		queue: queue.NewMemoryQueue(),
	}
}

func newTestConfig(t *testing.T, opts ...config.Option) *config.JobCoreConfig {
	t.Helper()
	base := []config.Option{
		config.WithLeaseDuration(testLease),
		config.WithSweepInterval(testSweep),
		config.WithMaxAttempts(3),
		config.WithWorkerCount(2),
		config.WithShutdownGracePeriod(time.Second),
	}
	cfg, err := config.NewJobCoreConfig("test-node", append(base, opts...)...)
	require.NoError(t, err)
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startPool runs pool in the background; the returned func cancels it and
// waits for Run to return.
func startPool(t *testing.T, pool *client.WorkerPool) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	var stopped bool
	stop = func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("worker pool did not stop")
		}
	}
	t.Cleanup(stop)
	return stop
}

func waitForStatus(t *testing.T, h *harness, id types.JobID, status state.JobStatus) *types.Job {
	t.Helper()
	var job *types.Job
	require.Eventually(t, func() bool {
		j, err := h.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, 3*time.Second, 5*time.Millisecond, "job %s never reached %s", id, status)
	return job
}
