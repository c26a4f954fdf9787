package app

import (
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/RezaEskandarii/jobcore/internal/queue"
	"github.com/RezaEskandarii/jobcore/internal/store"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject connections instead of creating them from config.
	// Injected connections are not closed by the container.
	db       *sql.DB
	redis    redis.UniversalClient
	listener queue.Listener

	logger *slog.Logger
	clock  store.Clock
}

// WithDB injects a PostgreSQL connection. Useful for testing.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a Redis client. Useful for testing.
func WithRedis(client redis.UniversalClient) ContainerOption {
	return func(c *containerConfig) {
		c.redis = client
	}
}

// WithListener injects the LISTEN connection used by the postgres notify queue.
func WithListener(listener queue.Listener) ContainerOption {
	return func(c *containerConfig) {
		c.listener = listener
	}
}

func WithLogger(logger *slog.Logger) ContainerOption {
	return func(c *containerConfig) {
		c.logger = logger
	}
}

// WithClock drives every store and the reclaimer from clock instead of time.Now.
func WithClock(clock store.Clock) ContainerOption {
	return func(c *containerConfig) {
		c.clock = clock
	}
}
