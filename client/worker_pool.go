package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RezaEskandarii/jobcore/custom_errors"
	"github.com/RezaEskandarii/jobcore/internal/middleware"
	"github.com/RezaEskandarii/jobcore/internal/observability"
	"github.com/RezaEskandarii/jobcore/internal/queue"
	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/types"
	"github.com/RezaEskandarii/jobcore/types/config"
)

const defaultErrorBackoff = time.Second

type WorkerPoolOption func(*WorkerPool)

func WithPoolLogger(logger *slog.Logger) WorkerPoolOption {
	return func(p *WorkerPool) { p.logger = logger }
}

func WithPoolMetrics(metrics *observability.Metrics) WorkerPoolOption {
	return func(p *WorkerPool) { p.metrics = metrics }
}

// WithMiddleware adds middleware around every Analyze call. They run inside
// the analysis timeout and outside panic recovery.
func WithMiddleware(mws ...middleware.Middleware) WorkerPoolOption {
	return func(p *WorkerPool) { p.middleware = append(p.middleware, mws...) }
}

// WithErrorBackoff sets the pause after a storage or queue error.
func WithErrorBackoff(d time.Duration) WorkerPoolOption {
	return func(p *WorkerPool) { p.backoff = d }
}

// WorkerPool runs a fixed number of workers. Each one dequeues an id, claims
// the job, analyzes the payload and finalizes the job under its lease.
type WorkerPool struct {
	store    store.JobStore
	queue    queue.Queue
	analyzer types.Analyzer

	instance       string
	runID          string
	workerCount    int
	leaseDuration  time.Duration
	analyzeTimeout time.Duration
	gracePeriod    time.Duration
	maxAttempts    int
	backoff        time.Duration

	logger     *slog.Logger
	metrics    *observability.Metrics
	middleware []middleware.Middleware
	chain      middleware.Middleware
}

func NewWorkerPool(jobStore store.JobStore, q queue.Queue, analyzer types.Analyzer, cfg *config.JobCoreConfig, opts ...WorkerPoolOption) *WorkerPool {
	p := &WorkerPool{
		store:          jobStore,
		queue:          q,
		analyzer:       analyzer,
		instance:       cfg.Instance,
		runID:          uuid.NewString()[:8],
		workerCount:    cfg.WorkerCount,
		leaseDuration:  cfg.LeaseDuration,
		analyzeTimeout: min(cfg.AnalyzeTimeout, cfg.LeaseDuration),
		gracePeriod:    cfg.ShutdownGracePeriod,
		maxAttempts:    cfg.MaxAttempts,
		backoff:        defaultErrorBackoff,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.analyzeTimeout <= 0 {
		p.analyzeTimeout = p.leaseDuration
	}

	// Recover sits innermost so it runs on the goroutine Timeout starts.
	mws := []middleware.Middleware{middleware.Timeout(p.analyzeTimeout)}
	mws = append(mws, p.middleware...)
	mws = append(mws, middleware.Recover(p.logger))
	p.chain = middleware.Chain(mws...)
	return p
}

// WorkerID returns the lease owner name of worker i for this process run.
func (p *WorkerPool) WorkerID(i int) string {
	return fmt.Sprintf("%s-%s-w%d", p.instance, p.runID, i)
}

// Run blocks until ctx ends or the queue is closed. After ctx ends workers
// stop dequeuing; analyses already running get the grace period, then their
// contexts are cancelled and their claims are left for the reclaimer.
func (p *WorkerPool) Run(ctx context.Context) error {
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelExec()

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			p.work(ctx, execCtx, workerID)
		}(p.WorkerID(i))
	}
	p.logger.Info("worker pool started",
		slog.String("instance", p.instance),
		slog.Int("workers", p.workerCount),
	)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped: queue closed")
		return nil
	case <-ctx.Done():
	}

	timer := time.NewTimer(p.gracePeriod)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.logger.Warn("grace period elapsed, abandoning in-flight jobs",
			slog.Duration("grace_period", p.gracePeriod))
		cancelExec()
		<-done
	}
	p.logger.Info("worker pool stopped")
	return nil
}

func (p *WorkerPool) work(ctx, execCtx context.Context, workerID string) {
	for {
		id, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			p.logger.Error("dequeue failed",
				slog.String("worker_id", workerID),
				slog.String("error", err.Error()),
			)
			p.pause(ctx)
			continue
		}

		// a dequeued id is processed to the end even if shutdown started meanwhile
		if err := p.process(execCtx, workerID, id); err != nil {
			p.logger.Error("job processing failed",
				slog.String("worker_id", workerID),
				slog.String("job_id", id.String()),
				slog.String("error", err.Error()),
			)
			p.pause(ctx)
		}
	}
}

func (p *WorkerPool) pause(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// process handles one dequeued id. Only storage failures are returned.
func (p *WorkerPool) process(ctx context.Context, workerID string, id types.JobID) error {
	job, err := p.store.TryClaim(ctx, id, workerID, p.leaseDuration)
	if err != nil {
		if errors.Is(err, custom_errors.ErrClaimConflict) || errors.Is(err, custom_errors.ErrNotFound) {
			p.metrics.ClaimConflict(ctx)
			p.logger.Debug("job not claimable, dropping",
				slog.String("worker_id", workerID),
				slog.String("job_id", id.String()),
				slog.String("reason", err.Error()),
			)
			return nil
		}
		return err
	}
	p.metrics.JobClaimed(ctx, job.CreatedAt, job.UpdatedAt)

	lease, ok := job.Lease()
	if !ok {
		return custom_errors.InvalidTransition(id.String(), "claimed job carries no lease")
	}

	if job.AttemptCount >= p.maxAttempts {
		return p.finalize(ctx, workerID, job, func() error {
			if err := p.store.Fail(ctx, lease, custom_errors.ErrExhaustedRetries.Error()); err != nil {
				return err
			}
			p.metrics.JobExhausted(ctx)
			return nil
		})
	}

	result, err := p.chain(ctx, job, p.analyzer.Analyze)
	if ctx.Err() != nil {
		p.logger.Warn("analysis abandoned on shutdown",
			slog.String("worker_id", workerID),
			slog.String("job_id", id.String()),
		)
		return nil
	}

	if err != nil {
		analysisErr := custom_errors.NewAnalysisError(err)
		p.logger.Warn("analysis failed",
			slog.String("worker_id", workerID),
			slog.String("job_id", id.String()),
			slog.String("error", analysisErr.Error()),
		)
		message := err.Error()
		return p.finalize(ctx, workerID, job, func() error {
			if err := p.store.Fail(ctx, lease, message); err != nil {
				return err
			}
			p.metrics.JobFailed(ctx)
			return nil
		})
	}

	return p.finalize(ctx, workerID, job, func() error {
		if err := p.store.Complete(ctx, lease, result); err != nil {
			return err
		}
		p.metrics.JobCompleted(ctx)
		return nil
	})
}

// finalize runs a Complete or Fail call and swallows the rejection of a
// lease that was reassigned in the meantime.
func (p *WorkerPool) finalize(ctx context.Context, workerID string, job *types.Job, call func() error) error {
	err := call()
	if err == nil {
		return nil
	}
	if errors.Is(err, custom_errors.ErrInvalidTransition) {
		p.metrics.StaleFinalize(ctx)
		p.logger.Warn("discarding result of stale claim",
			slog.String("worker_id", workerID),
			slog.String("job_id", job.ID.String()),
			slog.Int("attempt", job.AttemptCount),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return err
}
