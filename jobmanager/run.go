package jobmanager

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/RezaEskandarii/jobcore/app"
	"github.com/RezaEskandarii/jobcore/client"
	"github.com/RezaEskandarii/jobcore/internal/middleware"
	"github.com/RezaEskandarii/jobcore/types"
	"github.com/RezaEskandarii/jobcore/types/config"
	"github.com/RezaEskandarii/jobcore/web"
)

type Option func(*options)

type options struct {
	logger     *slog.Logger
	middleware []middleware.Middleware
	container  []app.ContainerOption
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMiddleware appends middleware after the default logging, tracing and
// metrics wrappers.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middleware = append(o.middleware, mws...) }
}

// WithContainerOptions passes options through to app.NewContainer, e.g. to
// inject existing connections.
func WithContainerOptions(opts ...app.ContainerOption) Option {
	return func(o *options) { o.container = append(o.container, opts...) }
}

// JobCore is one running instance: the submission API, the worker pool and
// the reclaimer over a shared store and queue.
type JobCore struct {
	Jobs      *client.JobManager
	Pool      *client.WorkerPool
	Reclaimer *client.Reclaimer
	HTTP      *web.HttpRouteHandler // nil when no HTTP port is configured

	container *app.Container
	logger    *slog.Logger
}

// New initializes the whole orchestration core for cfg.
//
// It performs the following steps:
//  1. Opens the connections the configured storage and queue drivers need.
//  2. Migrates the job store under the migration lock.
//  3. Builds the worker pool around analyzer with the middleware chain.
//  4. Builds the reclaimer and, if a port is set, the HTTP submission API.
//
// Nothing runs until Run is called. Close releases the connections.
func New(ctx context.Context, cfg *config.JobCoreConfig, analyzer types.Analyzer, opts ...Option) (*JobCore, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger.Info("booting jobcore",
		slog.String("instance", cfg.Instance),
		slog.String("storage", cfg.StorageDriver.String()),
		slog.String("queue", cfg.QueueDriver.String()),
		slog.Int("gomaxprocs", runtime.GOMAXPROCS(0)),
	)

	container, err := app.NewContainer(ctx, cfg, append([]app.ContainerOption{app.WithLogger(o.logger)}, o.container...)...)
	if err != nil {
		return nil, err
	}

	mws := []middleware.Middleware{
		middleware.Logging(o.logger),
		middleware.Tracing(),
		middleware.Metrics(),
	}
	if cfg.AnalyzeRateLimit > 0 {
		burst := max(1, int(math.Ceil(cfg.AnalyzeRateLimit)))
		mws = append(mws, middleware.RateLimit(rate.NewLimiter(rate.Limit(cfg.AnalyzeRateLimit), burst)))
	}
	mws = append(mws, o.middleware...)

	core := &JobCore{
		Jobs: container.JobManager,
		Pool: client.NewWorkerPool(container.Store, container.Queue, analyzer, cfg,
			client.WithPoolLogger(o.logger),
			client.WithPoolMetrics(container.Metrics),
			client.WithMiddleware(mws...),
		),
		Reclaimer: client.NewReclaimer(container.Store, container.Queue, container.LockManager, cfg,
			client.WithReclaimerLogger(o.logger),
			client.WithReclaimerMetrics(container.Metrics),
			client.WithReclaimerClock(container.Clock),
		),
		container: container,
		logger:    o.logger,
	}
	if cfg.HTTPPort > 0 {
		core.HTTP = web.NewRouteHandler(container.JobManager, o.logger, cfg.HTTPPort)
	}
	return core, nil
}

// Run blocks until ctx ends or a component fails. The worker pool drains
// within its grace period before Run returns.
func (j *JobCore) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := j.Pool.Run(ctx); err != nil {
			return fmt.Errorf("worker pool: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := j.Reclaimer.Run(ctx); err != nil {
			return fmt.Errorf("reclaimer: %w", err)
		}
		return nil
	})
	if j.HTTP != nil {
		g.Go(func() error {
			if err := j.HTTP.Serve(ctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	j.logger.Info("jobcore stopped")
	return err
}

// Close releases the store, queue and connections. Call it after Run returned.
func (j *JobCore) Close() error {
	return j.container.Close()
}
