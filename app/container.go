package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RezaEskandarii/jobcore/client"
	"github.com/RezaEskandarii/jobcore/internal/lock"
	"github.com/RezaEskandarii/jobcore/internal/observability"
	"github.com/RezaEskandarii/jobcore/internal/queue"
	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/internal/store/memory"
	"github.com/RezaEskandarii/jobcore/internal/store/mongostore"
	"github.com/RezaEskandarii/jobcore/internal/store/pebblestore"
	"github.com/RezaEskandarii/jobcore/internal/store/postgres"
	"github.com/RezaEskandarii/jobcore/internal/store/redisstore"
	"github.com/RezaEskandarii/jobcore/internal/store/sqlite"
	"github.com/RezaEskandarii/jobcore/internal/store/sqlstore"
	"github.com/RezaEskandarii/jobcore/types/config"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.JobCoreConfig
	Logger *slog.Logger
	Clock  store.Clock

	// Storage connections (created once, shared by store, queue and lock)
	DB    *sql.DB
	Redis redis.UniversalClient

	Store       store.JobStore
	Queue       queue.Queue
	LockManager lock.DistributedLockManager
	Metrics     *observability.Metrics
	JobManager  *client.JobManager

	closers []func() error
}

// NewContainer opens the connections the configured drivers need, migrates
// the store under the migration lock and wires the submission side.
func NewContainer(ctx context.Context, cfg *config.JobCoreConfig, opts ...ContainerOption) (c *Container, err error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}
	if opt.logger == nil {
		opt.logger = slog.Default()
	}
	if opt.clock == nil {
		opt.clock = time.Now
	}

	c = &Container{
		Config:  cfg,
		Logger:  opt.logger,
		Clock:   opt.clock,
		Metrics: observability.NewMetrics(),
	}
	defer func() {
		if err != nil {
			_ = c.Close()
			c = nil
		}
	}()

	if err := c.initConnections(ctx, opt); err != nil {
		return nil, fmt.Errorf("init connections: %w", err)
	}
	c.LockManager = c.createLockManager()

	if c.Store, err = c.createStore(ctx); err != nil {
		return nil, fmt.Errorf("init %s store: %w", cfg.StorageDriver, err)
	}
	c.closers = append(c.closers, c.Store.Close)

	if c.Queue, err = c.createQueue(opt); err != nil {
		return nil, fmt.Errorf("init %s queue: %w", cfg.QueueDriver, err)
	}
	// queues close before the store they read from
	c.closers = append(c.closers, c.Queue.Close)

	var jmOpts []client.JobManagerOption
	if cfg.OrphanAge == 0 {
		jmOpts = append(jmOpts, client.WithEnqueueRequired())
	}
	c.JobManager = client.NewJobManager(c.Store, c.Queue, c.Logger, c.Metrics, jmOpts...)
	return c, nil
}

func (c *Container) initConnections(ctx context.Context, opt *containerConfig) error {
	cfg := c.Config

	if cfg.StorageDriver == config.Postgres || cfg.QueueDriver == config.PostgresNotify {
		if opt.db != nil {
			c.DB = opt.db
		} else {
			db, err := postgres.Open(ctx, cfg.PostgresConfig)
			if err != nil {
				return err
			}
			c.DB = db
			c.closers = append(c.closers, db.Close)
		}
	}

	if cfg.StorageDriver == config.Redis || cfg.QueueDriver == config.RedisQueue {
		if opt.redis != nil {
			c.Redis = opt.redis
		} else {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisConfig.Address,
				Password: cfg.RedisConfig.Password,
				DB:       cfg.RedisConfig.DB,
			})
			c.closers = append(c.closers, rdb.Close)
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping redis: %w", err)
			}
			c.Redis = rdb
		}
	}
	return nil
}

// createLockManager picks a lock that spans every process sharing the store.
// Stores without a shared lock primitive get an in-process lock; the
// reclaimer stays correct without it, it only avoids duplicate sweeps.
func (c *Container) createLockManager() lock.DistributedLockManager {
	switch c.Config.StorageDriver {
	case config.Postgres:
		return lock.NewPostgresDistributedLockManager(c.DB)
	case config.Redis:
		return lock.NewRedisDistributedLockManager(c.Redis, c.Config.RedisConfig.KeyPrefix, c.Config.LeaseDuration)
	default:
		return lock.NewLocalLockManager()
	}
}

func (c *Container) createStore(ctx context.Context) (store.JobStore, error) {
	cfg := c.Config
	switch cfg.StorageDriver {
	case config.Memory:
		return memory.NewJobStore(memory.WithClock(c.Clock)), nil
	case config.Postgres:
		s, err := postgres.NewPostgresJobStore(c.DB, cfg.PostgresConfig.Table, sqlstore.WithClock(c.Clock))
		if err != nil {
			return nil, err
		}
		if err := postgres.Init(ctx, s, c.LockManager); err != nil {
			return nil, err
		}
		return s, nil
	case config.SQLite:
		return sqlite.NewSQLiteJobStore(ctx, cfg.SQLiteConfig, sqlstore.WithClock(c.Clock))
	case config.Redis:
		return redisstore.NewRedisJobStore(c.Redis, cfg.RedisConfig.KeyPrefix, redisstore.WithClock(c.Clock)), nil
	case config.Mongo:
		return mongostore.NewMongoJobStore(ctx, cfg.MongoConfig, mongostore.WithClock(c.Clock))
	case config.Pebble:
		return pebblestore.NewPebbleJobStore(cfg.PebbleConfig, pebblestore.WithClock(c.Clock))
	default:
		return nil, fmt.Errorf("unsupported storage driver: %v", cfg.StorageDriver)
	}
}

func (c *Container) createQueue(opt *containerConfig) (queue.Queue, error) {
	cfg := c.Config
	switch cfg.QueueDriver {
	case config.MemoryQueue:
		return queue.NewMemoryQueue(), nil
	case config.RedisQueue:
		return queue.NewRedisQueue(c.Redis, cfg.RedisConfig.KeyPrefix), nil
	case config.RabbitMQ:
		return queue.NewRabbitMQQueue(cfg.RabbitMQConfig)
	case config.PostgresNotify:
		listener := opt.listener
		if listener == nil {
			listener = queue.NewPostgresListener(cfg.PostgresConfig.ConnectionUrl, c.Logger)
		}
		return queue.NewPostgresQueue(c.DB, listener, queue.PostgresQueueConfig{
			Channel: cfg.PostgresConfig.NotifyChannel,
			Table:   cfg.PostgresConfig.Table,
		})
	default:
		return nil, fmt.Errorf("unsupported queue driver: %v", cfg.QueueDriver)
	}
}

// Close releases everything the container opened, newest first.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
