// Package sqlite backs the SQL job store with a single SQLite file through
// mattn/go-sqlite3. It suits single-host deployments; cgo is required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/RezaEskandarii/jobcore/internal/store/sqlstore"
	"github.com/RezaEskandarii/jobcore/types/config"
	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteJobStore opens the database at cfg.Path, creates the jobs table and
// returns a store that owns the connection.
func NewSQLiteJobStore(ctx context.Context, cfg config.SQLiteConfig, opts ...sqlstore.Option) (*sqlstore.JobStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// one writer at a time; callers queue inside database/sql
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite open %s: %w", cfg.Path, err)
	}

	store, err := sqlstore.New(db, sqlstore.SQLite, cfg.Table, append(opts, sqlstore.WithOwnedDB())...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
