// Package postgres wires the SQL job store to PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RezaEskandarii/jobcore/internal/constants"
	"github.com/RezaEskandarii/jobcore/internal/lock"
	"github.com/RezaEskandarii/jobcore/internal/store/sqlstore"
	"github.com/RezaEskandarii/jobcore/types/config"
	_ "github.com/lib/pq"
)

const migrationLockPoll = 500 * time.Millisecond

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnectionUrl)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func NewPostgresJobStore(db *sql.DB, table string, opts ...sqlstore.Option) (*sqlstore.JobStore, error) {
	return sqlstore.New(db, sqlstore.Postgres, table, opts...)
}

// Init creates the jobs table. Only one process runs the migration at a time;
// the others wait on the migration lock and then find the table in place.
func Init(ctx context.Context, store *sqlstore.JobStore, distributedLock lock.DistributedLockManager) error {
	if err := lock.Acquire(ctx, distributedLock, constants.MigrationLock, migrationLockPoll); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer distributedLock.Release(context.WithoutCancel(ctx), constants.MigrationLock)

	return store.Migrate(ctx)
}
