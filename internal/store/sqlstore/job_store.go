// Package sqlstore implements store.JobStore on database/sql. Every state
// change is a single conditional UPDATE so concurrent processes sharing the
// database never both win the same transition.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/RezaEskandarii/jobcore/custom_errors"
	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/types"
)

var _ store.JobStore = (*JobStore)(nil)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type Option func(*JobStore)

func WithClock(clock store.Clock) Option {
	return func(s *JobStore) { s.now = clock }
}

// WithOwnedDB makes Close also close the underlying *sql.DB.
func WithOwnedDB() Option {
	return func(s *JobStore) { s.ownsDB = true }
}

type JobStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	now     store.Clock
	ownsDB  bool
	q       queries
}

type queries struct {
	insert, get, tryClaim, finalize, listExpired, reclaim, listStale string
}

func New(db *sql.DB, dialect Dialect, table string, opts ...Option) (*JobStore, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	s := &JobStore{
		db:      db,
		dialect: dialect,
		table:   table,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.q = s.buildQueries()
	return s, nil
}

func (s *JobStore) buildQueries() queries {
	t := s.table
	r := s.dialect.Rebind
	return queries{
		insert: r(fmt.Sprintf(`INSERT INTO %s (id, payload, status, attempt_count, created_at, updated_at)
VALUES (?, ?, 'PENDING', 0, ?, ?)`, t)),
		get: r(fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, jobColumns, t)),
		tryClaim: r(fmt.Sprintf(`UPDATE %s SET
	attempt_count = attempt_count + CASE WHEN status = 'CLAIMED' THEN 1 ELSE 0 END,
	status = 'CLAIMED',
	lease_owner = ?,
	lease_expires_at = ?,
	updated_at = ?
WHERE id = ? AND (status = 'PENDING' OR (status = 'CLAIMED' AND lease_expires_at < ?))
RETURNING %s`, t, jobColumns)),
		finalize: r(fmt.Sprintf(`UPDATE %s SET
	status = ?,
	result = ?,
	error = ?,
	lease_owner = NULL,
	lease_expires_at = NULL,
	updated_at = ?
WHERE id = ? AND status = 'CLAIMED' AND lease_owner = ? AND attempt_count = ?`, t)),
		listExpired: r(fmt.Sprintf(`SELECT id FROM %s
WHERE status = 'CLAIMED' AND lease_expires_at < ?
ORDER BY lease_expires_at`, t)),
		reclaim: r(fmt.Sprintf(`UPDATE %s SET
	status = CASE WHEN attempt_count + 1 >= ? THEN 'FAILED' ELSE 'PENDING' END,
	error = CASE WHEN attempt_count + 1 >= ? THEN ? ELSE NULL END,
	attempt_count = attempt_count + 1,
	lease_owner = NULL,
	lease_expires_at = NULL,
	updated_at = ?
WHERE id = ? AND status = 'CLAIMED' AND lease_expires_at < ?
RETURNING status`, t)),
		listStale: r(fmt.Sprintf(`SELECT id FROM %s
WHERE status = 'PENDING' AND updated_at < ?
ORDER BY updated_at
LIMIT ?`, t)),
	}
}

// Migrate creates the jobs table and its indexes if they do not exist.
func (s *JobStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return custom_errors.NewStorageError("migrate", err)
		}
	}
	return nil
}

func (s *JobStore) DB() *sql.DB {
	return s.db
}

func (s *JobStore) Create(ctx context.Context, payload []byte) (types.JobID, error) {
	if payload == nil {
		payload = []byte{}
	}
	id := types.NewJobID()
	now := s.now().UTC()

	if _, err := s.db.ExecContext(ctx, s.q.insert, id.String(), payload, now, now); err != nil {
		return "", custom_errors.NewStorageError("create", err)
	}
	return id, nil
}

func (s *JobStore) Get(ctx context.Context, id types.JobID) (*types.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, s.q.get, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.NotFound(id.String())
	}
	if err != nil {
		return nil, custom_errors.NewStorageError("get", err)
	}
	return job, nil
}

func (s *JobStore) TryClaim(ctx context.Context, id types.JobID, workerID string, leaseDuration time.Duration) (*types.Job, error) {
	now := s.now().UTC()

	job, err := scanJob(s.db.QueryRowContext(ctx, s.q.tryClaim,
		workerID, now.Add(leaseDuration), now, id.String(), now))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.NewStorageError("try claim", err)
	}

	// no row matched: either the job does not exist or it is not claimable
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, custom_errors.ClaimConflict(id.String())
}

func (s *JobStore) Complete(ctx context.Context, lease types.Lease, result []byte) error {
	return s.finalize(ctx, "complete", lease, state.StatusCompleted, store.FinalizeResult(result), nil)
}

func (s *JobStore) Fail(ctx context.Context, lease types.Lease, message string) error {
	return s.finalize(ctx, "fail", lease, state.StatusFailed, nil, store.FailureMessage(message))
}

// finalize takes result and errMsg as any so an absent value binds as NULL.
func (s *JobStore) finalize(ctx context.Context, op string, lease types.Lease, status state.JobStatus, result, errMsg any) error {
	res, err := s.db.ExecContext(ctx, s.q.finalize,
		status.String(), result, errMsg, s.now().UTC(),
		lease.JobID.String(), lease.Owner, lease.Attempt)
	if err != nil {
		return custom_errors.NewStorageError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return custom_errors.NewStorageError(op, err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := s.Get(ctx, lease.JobID); err != nil {
		return err
	}
	return custom_errors.InvalidTransition(lease.JobID.String(), "lease is no longer held")
}

func (s *JobStore) ListExpiredClaims(ctx context.Context, now time.Time) ([]types.JobID, error) {
	ids, err := s.queryIDs(ctx, s.q.listExpired, now.UTC())
	if err != nil {
		return nil, custom_errors.NewStorageError("list expired claims", err)
	}
	return ids, nil
}

func (s *JobStore) Reclaim(ctx context.Context, id types.JobID, now time.Time, maxAttempts int) (state.JobStatus, error) {
	now = now.UTC()

	var status string
	err := s.db.QueryRowContext(ctx, s.q.reclaim,
		maxAttempts, maxAttempts, custom_errors.ErrExhaustedRetries.Error(), now,
		id.String(), now).Scan(&status)
	if err == nil {
		return state.JobStatus(status), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", custom_errors.NewStorageError("reclaim", err)
	}

	if _, err := s.Get(ctx, id); err != nil {
		return "", err
	}
	return "", custom_errors.InvalidTransition(id.String(), "not an expired claim")
}

func (s *JobStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]types.JobID, error) {
	ids, err := s.queryIDs(ctx, s.q.listStale, olderThan.UTC(), limit)
	if err != nil {
		return nil, custom_errors.NewStorageError("list stale pending", err)
	}
	return ids, nil
}

func (s *JobStore) queryIDs(ctx context.Context, query string, args ...any) ([]types.JobID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.JobID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, types.JobID(id))
	}
	return ids, rows.Err()
}

func (s *JobStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
