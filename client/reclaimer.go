package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/RezaEskandarii/jobcore/custom_errors"
	"github.com/RezaEskandarii/jobcore/internal/constants"
	"github.com/RezaEskandarii/jobcore/internal/lock"
	"github.com/RezaEskandarii/jobcore/internal/observability"
	"github.com/RezaEskandarii/jobcore/internal/queue"
	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/types/config"
)

type ReclaimerOption func(*Reclaimer)

func WithReclaimerLogger(logger *slog.Logger) ReclaimerOption {
	return func(r *Reclaimer) { r.logger = logger }
}

func WithReclaimerMetrics(metrics *observability.Metrics) ReclaimerOption {
	return func(r *Reclaimer) { r.metrics = metrics }
}

// WithReclaimerClock sets the time source used as "now" for each sweep.
func WithReclaimerClock(clock store.Clock) ReclaimerOption {
	return func(r *Reclaimer) { r.now = clock }
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Reclaimed int  // expired claims returned to PENDING and re-enqueued
	Exhausted int  // expired claims failed with "exhausted retries"
	Rescued   int  // stale PENDING jobs re-enqueued
	Skipped   bool // another instance held the reclaim lock
}

// Reclaimer periodically returns jobs whose lease expired to the queue, and
// fails the ones that used up their attempts.
type Reclaimer struct {
	store store.JobStore
	queue queue.Queue
	lock  lock.DistributedLockManager

	sweepInterval time.Duration
	maxAttempts   int
	orphanAge     time.Duration
	batchSize     int

	now     store.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewReclaimer builds a reclaimer. locker may be nil when a single process
// owns the store.
func NewReclaimer(jobStore store.JobStore, q queue.Queue, locker lock.DistributedLockManager, cfg *config.JobCoreConfig, opts ...ReclaimerOption) *Reclaimer {
	r := &Reclaimer{
		store:         jobStore,
		queue:         q,
		lock:          locker,
		sweepInterval: cfg.SweepInterval,
		maxAttempts:   cfg.MaxAttempts,
		orphanAge:     cfg.OrphanAge,
		batchSize:     cfg.SweepBatchSize,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps once at start, covering claims left behind by a crash, then on
// every sweep interval until ctx ends.
func (r *Reclaimer) Run(ctx context.Context) error {
	r.sweepAndLog(ctx)

	cronLogger := slogCronLogger{r.logger}
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	spec := fmt.Sprintf("@every %s", r.sweepInterval)
	if _, err := c.AddFunc(spec, func() { r.sweepAndLog(ctx) }); err != nil {
		return fmt.Errorf("schedule reclaimer %q: %w", spec, err)
	}

	c.Start()
	r.logger.Info("reclaimer started", slog.Duration("sweep_interval", r.sweepInterval))
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("reclaimer stopped")
	return nil
}

func (r *Reclaimer) sweepAndLog(ctx context.Context) {
	report, err := r.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		r.logger.Error("sweep failed", slog.String("error", err.Error()))
	}
	if report.Reclaimed+report.Exhausted+report.Rescued > 0 {
		r.logger.Info("sweep finished",
			slog.Int("reclaimed", report.Reclaimed),
			slog.Int("exhausted", report.Exhausted),
			slog.Int("rescued", report.Rescued),
		)
	}
}

// Sweep runs one reclamation pass. Errors on individual jobs do not stop the
// pass; they are joined into the returned error.
func (r *Reclaimer) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	if r.lock != nil {
		held, err := r.lock.TryAcquire(ctx, constants.ReclaimLock)
		if err != nil {
			return report, fmt.Errorf("acquire reclaim lock: %w", err)
		}
		if !held {
			report.Skipped = true
			return report, nil
		}
		defer func() {
			if err := r.lock.Release(context.WithoutCancel(ctx), constants.ReclaimLock); err != nil {
				r.logger.Error("release reclaim lock", slog.String("error", err.Error()))
			}
		}()
	}

	now := r.now()
	var errs []error

	expired, err := r.store.ListExpiredClaims(ctx, now)
	if err != nil {
		return report, err
	}
	for _, id := range expired {
		status, err := r.store.Reclaim(ctx, id, now, r.maxAttempts)
		if err != nil {
			// finalized or taken over since the listing
			if errors.Is(err, custom_errors.ErrInvalidTransition) || errors.Is(err, custom_errors.ErrNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}

		switch status {
		case state.StatusFailed:
			report.Exhausted++
			r.logger.Warn("job exhausted its attempts",
				slog.String("job_id", id.String()),
				slog.Int("max_attempts", r.maxAttempts),
			)
		case state.StatusPending:
			report.Reclaimed++
			if err := r.queue.Enqueue(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("re-enqueue %s: %w", id, err))
			}
		}
	}

	if r.orphanAge > 0 {
		stale, err := r.store.ListStalePending(ctx, now.Add(-r.orphanAge), r.batchSize)
		if err != nil {
			errs = append(errs, err)
		}
		for _, id := range stale {
			if err := r.queue.Enqueue(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("rescue %s: %w", id, err))
				continue
			}
			report.Rescued++
		}
	}

	r.metrics.RecordSweep(ctx, report.Reclaimed, report.Exhausted, report.Rescued)
	return report, errors.Join(errs...)
}

// slogCronLogger lets cron report through the reclaimer's logger.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
