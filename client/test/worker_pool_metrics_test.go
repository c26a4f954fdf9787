package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/RezaEskandarii/jobcore/client"
	"github.com/RezaEskandarii/jobcore/client/test/mocks"
	"github.com/RezaEskandarii/jobcore/custom_errors"
	"github.com/RezaEskandarii/jobcore/internal/observability"
	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/types"
	"github.com/RezaEskandarii/jobcore/types/config"
)

func counterTotals(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals
}

func TestWorkerPool_ExhaustedCountedOnlyWhenFailStored(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	metrics := observability.NewMetricsWithMeter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))

	id, err := h.store.Create(ctx, []byte("poison"))
	require.NoError(t, err)
	_, err = h.store.TryClaim(ctx, id, "crashed-a", testLease)
	require.NoError(t, err)
	h.clock.Advance(testLease + time.Second)
	_, err = h.store.TryClaim(ctx, id, "crashed-b", testLease)
	require.NoError(t, err)
	h.clock.Advance(testLease + time.Second)

	// another claimant wins the job before the exhausted Fail lands
	rejected := make(chan struct{})
	spy := &mocks.MockJobStore{
		Next: h.store,
		FailFunc: func(_ context.Context, lease types.Lease, _ string) error {
			defer close(rejected)
			return custom_errors.InvalidTransition(lease.JobID.String(), "lease reassigned")
		},
	}
	pool := client.NewWorkerPool(spy, h.queue, types.AnalyzerFunc(nil),
		newTestConfig(t, config.WithMaxAttempts(2), config.WithWorkerCount(1)),
		client.WithPoolLogger(discardLogger()),
		client.WithPoolMetrics(metrics))
	startPool(t, pool)
	require.NoError(t, h.queue.Enqueue(ctx, id))

	select {
	case <-rejected:
	case <-time.After(3 * time.Second):
		t.Fatal("exhausted job was never failed")
	}

	require.Eventually(t, func() bool {
		return counterTotals(t, reader)["jobcore.job.stale_finalize"] == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, counterTotals(t, reader)["jobcore.job.exhausted"])
}

func TestWorkerPool_ExhaustedCounted(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	metrics := observability.NewMetricsWithMeter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))

	id, err := h.store.Create(ctx, []byte("poison"))
	require.NoError(t, err)
	_, err = h.store.TryClaim(ctx, id, "crashed-a", testLease)
	require.NoError(t, err)
	h.clock.Advance(testLease + time.Second)

	startPool(t, newPool(t, h, types.AnalyzerFunc(nil), newTestConfig(t, config.WithMaxAttempts(1)),
		client.WithPoolMetrics(metrics)))
	require.NoError(t, h.queue.Enqueue(ctx, id))

	waitForStatus(t, h, id, state.StatusFailed)
	require.Eventually(t, func() bool {
		return counterTotals(t, reader)["jobcore.job.exhausted"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}
