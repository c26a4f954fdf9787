// Package observability records job lifecycle metrics through OpenTelemetry.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/RezaEskandarii/jobcore"

// Metrics holds the lifecycle instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	created        metric.Int64Counter
	claimed        metric.Int64Counter
	claimConflicts metric.Int64Counter
	completed      metric.Int64Counter
	failed         metric.Int64Counter
	staleFinalize  metric.Int64Counter
	reclaimed      metric.Int64Counter
	exhausted      metric.Int64Counter
	rescued        metric.Int64Counter
	queueWait      metric.Float64Histogram
}

// NewMetrics uses the global MeterProvider.
func NewMetrics() *Metrics {
	return NewMetricsWithMeter(otel.Meter(instrumentationName))
}

func NewMetricsWithMeter(meter metric.Meter) *Metrics {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	wait, _ := meter.Float64Histogram(
		"jobcore.job.queue_wait",
		metric.WithDescription("Seconds a job waited between becoming pending and being claimed"),
		metric.WithUnit("s"),
	)
	return &Metrics{
		created:        counter("jobcore.job.created", "Jobs created"),
		claimed:        counter("jobcore.job.claimed", "Successful claims"),
		claimConflicts: counter("jobcore.job.claim_conflicts", "Dequeued ids that could not be claimed"),
		completed:      counter("jobcore.job.completed", "Jobs moved to COMPLETED"),
		failed:         counter("jobcore.job.failed", "Jobs moved to FAILED by a worker"),
		staleFinalize:  counter("jobcore.job.stale_finalize", "Finalize attempts rejected because the lease was reassigned"),
		reclaimed:      counter("jobcore.job.reclaimed", "Expired claims returned to PENDING"),
		exhausted:      counter("jobcore.job.exhausted", "Jobs failed after exhausting their attempts"),
		rescued:        counter("jobcore.job.rescued", "Orphaned PENDING jobs re-enqueued"),
		queueWait:      wait,
	}
}

func (m *Metrics) JobCreated(ctx context.Context) {
	if m != nil {
		m.created.Add(ctx, 1)
	}
}

// JobClaimed counts a claim and records how long the job sat pending.
func (m *Metrics) JobClaimed(ctx context.Context, pendingSince, claimedAt time.Time) {
	if m == nil {
		return
	}
	m.claimed.Add(ctx, 1)
	if wait := claimedAt.Sub(pendingSince); wait >= 0 {
		m.queueWait.Record(ctx, wait.Seconds())
	}
}

func (m *Metrics) ClaimConflict(ctx context.Context) {
	if m != nil {
		m.claimConflicts.Add(ctx, 1)
	}
}

func (m *Metrics) JobCompleted(ctx context.Context) {
	if m != nil {
		m.completed.Add(ctx, 1)
	}
}

func (m *Metrics) JobFailed(ctx context.Context) {
	if m != nil {
		m.failed.Add(ctx, 1)
	}
}

func (m *Metrics) StaleFinalize(ctx context.Context) {
	if m != nil {
		m.staleFinalize.Add(ctx, 1)
	}
}

// JobExhausted counts a job failed by a worker because its takeover claim
// already reached the attempt limit.
func (m *Metrics) JobExhausted(ctx context.Context) {
	if m != nil {
		m.exhausted.Add(ctx, 1)
	}
}

// RecordSweep adds the outcome of one reclaimer sweep.
func (m *Metrics) RecordSweep(ctx context.Context, reclaimed, exhausted, rescued int) {
	if m == nil {
		return
	}
	if reclaimed > 0 {
		m.reclaimed.Add(ctx, int64(reclaimed))
	}
	if exhausted > 0 {
		m.exhausted.Add(ctx, int64(exhausted))
	}
	if rescued > 0 {
		m.rescued.Add(ctx, int64(rescued))
	}
}
