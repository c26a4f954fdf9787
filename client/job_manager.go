package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/jobcore/custom_errors"
	"github.com/RezaEskandarii/jobcore/internal/observability"
	"github.com/RezaEskandarii/jobcore/internal/queue"
	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/types"
)

// submitterID owns the short claim used to fail a job that never reached the queue.
const submitterID = "submitter"

type JobManagerOption func(*JobManager)

// WithEnqueueRequired makes Submit fail when the id cannot be enqueued. The
// stored job is failed right away instead of waiting for an orphan rescue
// that is not running.
func WithEnqueueRequired() JobManagerOption {
	return func(m *JobManager) { m.enqueueRequired = true }
}

// JobManager is the submission boundary: it records new jobs and reports
// their status. It never changes a job after creation.
type JobManager struct {
	store   store.JobStore
	queue   queue.Queue
	logger  *slog.Logger
	metrics *observability.Metrics

	enqueueRequired bool
}

func NewJobManager(jobStore store.JobStore, q queue.Queue, logger *slog.Logger, metrics *observability.Metrics, opts ...JobManagerOption) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &JobManager{
		store:   jobStore,
		queue:   q,
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit persists payload as a PENDING job and enqueues its id. When the
// enqueue fails after a successful create the id is still returned together
// with the error: the job exists and the orphan rescue sweep will pick it up.
// With WithEnqueueRequired the job is failed instead and no id is returned.
func (m *JobManager) Submit(ctx context.Context, payload []byte) (types.JobID, error) {
	id, err := m.store.Create(ctx, payload)
	if err != nil {
		return "", err
	}
	m.metrics.JobCreated(ctx)

	if err := m.queue.Enqueue(ctx, id); err != nil {
		m.logger.Error("job created but not enqueued",
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()),
		)
		if m.enqueueRequired {
			m.abandon(ctx, id, err)
			return "", custom_errors.NewStorageError("enqueue "+id.String(), err)
		}
		return id, err
	}
	return id, nil
}

// abandon moves a job that never reached the queue to FAILED so it does not
// sit in PENDING with nobody to deliver it.
func (m *JobManager) abandon(ctx context.Context, id types.JobID, cause error) {
	job, err := m.store.TryClaim(ctx, id, submitterID, time.Minute)
	if err == nil {
		lease, ok := job.Lease()
		if !ok {
			return
		}
		if err = m.store.Fail(ctx, lease, "not enqueued: "+cause.Error()); err == nil {
			m.metrics.JobFailed(ctx)
			return
		}
	}
	m.logger.Error("could not fail unenqueued job",
		slog.String("job_id", id.String()),
		slog.String("error", err.Error()),
	)
}

func (m *JobManager) Get(ctx context.Context, id types.JobID) (*types.Job, error) {
	return m.store.Get(ctx, id)
}
