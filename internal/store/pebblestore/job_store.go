// Package pebblestore keeps jobs in an embedded Pebble key-value store. Records
// are JSON documents under job/<id>; two ordered index keyspaces serve the
// sweeps without scanning every job.
package pebblestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RezaEskandarii/jobcore/custom_errors"
	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/types"
	"github.com/RezaEskandarii/jobcore/types/config"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

var _ store.JobStore = (*JobStore)(nil)

var (
	jobPrefix     = []byte("job/")
	claimedPrefix = []byte("idx/claimed/")
	pendingPrefix = []byte("idx/pending/")
)

type Option func(*options)

type options struct {
	now store.Clock
	fs  vfs.FS
}

func WithClock(clock store.Clock) Option {
	return func(o *options) { o.now = clock }
}

// WithFS swaps the filesystem, e.g. vfs.NewMem() in tests.
func WithFS(fs vfs.FS) Option {
	return func(o *options) { o.fs = fs }
}

// JobStore serialises read-modify-write cycles with a mutex, so it is only
// safe for a single process. Every commit is synced.
type JobStore struct {
	mu  sync.Mutex
	db  *pebble.DB
	now store.Clock
}

type jobDoc struct {
	ID             string     `json:"id"`
	Payload        []byte     `json:"payload"`
	Status         string     `json:"status"`
	AttemptCount   int        `json:"attempt_count"`
	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	Result         []byte     `json:"result"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func NewPebbleJobStore(cfg config.PebbleConfig, opts ...Option) (*JobStore, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := pebble.Open(cfg.Dir, &pebble.Options{FS: o.fs})
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", cfg.Dir, err)
	}
	return &JobStore{db: db, now: o.now}, nil
}

func jobKey(id types.JobID) []byte {
	return append(append([]byte{}, jobPrefix...), id...)
}

func indexKey(prefix []byte, at time.Time, id types.JobID) []byte {
	key := append([]byte{}, prefix...)
	key = fmt.Appendf(key, "%016x/", uint64(at.UnixNano()))
	return append(key, id...)
}

func indexBound(prefix []byte, at time.Time) []byte {
	return fmt.Appendf(append([]byte{}, prefix...), "%016x/", uint64(at.UnixNano()))
}

func (s *JobStore) load(id types.JobID) (*types.Job, error) {
	val, closer, err := s.db.Get(jobKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, custom_errors.NotFound(id.String())
	}
	if err != nil {
		return nil, custom_errors.NewStorageError("get", err)
	}
	defer closer.Close()

	var doc jobDoc
	if err := json.Unmarshal(val, &doc); err != nil {
		return nil, custom_errors.NewStorageError("decode", err)
	}
	return fromDoc(doc)
}

// save writes job and moves its index entries away from those of prev.
func (s *JobStore) save(prev, job *types.Job) error {
	data, err := json.Marshal(toDoc(job))
	if err != nil {
		return custom_errors.NewStorageError("encode", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if prev != nil {
		for _, key := range indexKeys(prev) {
			if err := batch.Delete(key, nil); err != nil {
				return custom_errors.NewStorageError("save", err)
			}
		}
	}
	for _, key := range indexKeys(job) {
		if err := batch.Set(key, nil, nil); err != nil {
			return custom_errors.NewStorageError("save", err)
		}
	}
	if err := batch.Set(jobKey(job.ID), data, nil); err != nil {
		return custom_errors.NewStorageError("save", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return custom_errors.NewStorageError("save", err)
	}
	return nil
}

func indexKeys(job *types.Job) [][]byte {
	switch job.Status {
	case state.StatusClaimed:
		return [][]byte{indexKey(claimedPrefix, *job.LeaseExpiresAt, job.ID)}
	case state.StatusPending:
		return [][]byte{indexKey(pendingPrefix, job.UpdatedAt, job.ID)}
	default:
		return nil
	}
}

func (s *JobStore) Create(_ context.Context, payload []byte) (types.JobID, error) {
	now := s.now().UTC()
	job := &types.Job{
		ID:        types.NewJobID(),
		Payload:   append([]byte{}, payload...),
		Status:    state.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(nil, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (s *JobStore) Get(_ context.Context, id types.JobID) (*types.Job, error) {
	return s.load(id)
}

func (s *JobStore) TryClaim(_ context.Context, id types.JobID, workerID string, leaseDuration time.Duration) (*types.Job, error) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.load(id)
	if err != nil {
		return nil, err
	}
	job := *prev
	switch {
	case job.Status == state.StatusPending:
	case job.Status == state.StatusClaimed && job.LeaseExpiresAt.Before(now):
		job.AttemptCount++
	default:
		return nil, custom_errors.ClaimConflict(id.String())
	}

	expires := now.Add(leaseDuration)
	job.Status = state.StatusClaimed
	job.LeaseOwner = workerID
	job.LeaseExpiresAt = &expires
	job.UpdatedAt = now
	if err := s.save(prev, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobStore) Complete(_ context.Context, lease types.Lease, result []byte) error {
	return s.finalize(lease, func(job *types.Job) {
		job.Status = state.StatusCompleted
		job.Result = append([]byte{}, store.FinalizeResult(result)...)
	})
}

func (s *JobStore) Fail(_ context.Context, lease types.Lease, message string) error {
	return s.finalize(lease, func(job *types.Job) {
		job.Status = state.StatusFailed
		job.Error = store.FailureMessage(message)
	})
}

func (s *JobStore) finalize(lease types.Lease, apply func(job *types.Job)) error {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.load(lease.JobID)
	if err != nil {
		return err
	}
	if prev.Status != state.StatusClaimed || prev.LeaseOwner != lease.Owner || prev.AttemptCount != lease.Attempt {
		return custom_errors.InvalidTransition(lease.JobID.String(), "lease is no longer held")
	}

	job := *prev
	apply(&job)
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil
	job.UpdatedAt = now
	return s.save(prev, &job)
}

func (s *JobStore) ListExpiredClaims(_ context.Context, now time.Time) ([]types.JobID, error) {
	return s.scanIndex(claimedPrefix, indexBound(claimedPrefix, now), 0)
}

func (s *JobStore) Reclaim(_ context.Context, id types.JobID, now time.Time, maxAttempts int) (state.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.load(id)
	if err != nil {
		return "", err
	}
	if prev.Status != state.StatusClaimed || !prev.LeaseExpiresAt.Before(now) {
		return "", custom_errors.InvalidTransition(id.String(), "not an expired claim")
	}

	job := *prev
	job.AttemptCount, job.Status = store.ReclaimOutcome(prev.AttemptCount, maxAttempts)
	if job.Status == state.StatusFailed {
		job.Error = custom_errors.ErrExhaustedRetries.Error()
	}
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil
	job.UpdatedAt = now.UTC()
	if err := s.save(prev, &job); err != nil {
		return "", err
	}
	return job.Status, nil
}

func (s *JobStore) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]types.JobID, error) {
	return s.scanIndex(pendingPrefix, indexBound(pendingPrefix, olderThan), limit)
}

// scanIndex returns ids from index keys in [prefix, upper), oldest first.
func (s *JobStore) scanIndex(prefix, upper []byte, limit int) ([]types.JobID, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, custom_errors.NewStorageError("scan", err)
	}
	defer iter.Close()

	var ids []types.JobID
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		sep := bytes.LastIndexByte(key, '/')
		ids = append(ids, types.JobID(key[sep+1:]))
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, custom_errors.NewStorageError("scan", err)
	}
	return ids, nil
}

func (s *JobStore) Close() error {
	return s.db.Close()
}

func toDoc(job *types.Job) jobDoc {
	return jobDoc{
		ID:             job.ID.String(),
		Payload:        job.Payload,
		Status:         job.Status.String(),
		AttemptCount:   job.AttemptCount,
		LeaseOwner:     job.LeaseOwner,
		LeaseExpiresAt: job.LeaseExpiresAt,
		Result:         job.Result,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

func fromDoc(doc jobDoc) (*types.Job, error) {
	status, err := state.Parse(doc.Status)
	if err != nil {
		return nil, custom_errors.NewStorageError("decode "+doc.ID, err)
	}
	job := &types.Job{
		ID:             types.JobID(doc.ID),
		Payload:        doc.Payload,
		Status:         status,
		AttemptCount:   doc.AttemptCount,
		LeaseOwner:     doc.LeaseOwner,
		LeaseExpiresAt: doc.LeaseExpiresAt,
		Result:         doc.Result,
		Error:          doc.Error,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	if job.Payload == nil {
		job.Payload = []byte{}
	}
	return job, nil
}
