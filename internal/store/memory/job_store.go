// Package memory implements store.JobStore in process memory. It is meant for
// tests and single-process deployments where durability is not required.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RezaEskandarii/jobcore/custom_errors"
	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/types"
)

var _ store.JobStore = (*JobStore)(nil)

type Option func(*JobStore)

func WithClock(clock store.Clock) Option {
	return func(s *JobStore) { s.now = clock }
}

type JobStore struct {
	mu   sync.RWMutex
	jobs map[types.JobID]*types.Job
	now  store.Clock
}

func NewJobStore(opts ...Option) *JobStore {
	s := &JobStore{
		jobs: make(map[types.JobID]*types.Job),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *JobStore) Create(_ context.Context, payload []byte) (types.JobID, error) {
	now := s.now().UTC()
	job := &types.Job{
		ID:        types.NewJobID(),
		Payload:   append([]byte(nil), payload...),
		Status:    state.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return job.ID, nil
}

func (s *JobStore) Get(_ context.Context, id types.JobID) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, custom_errors.NotFound(id.String())
	}
	return clone(job), nil
}

func (s *JobStore) TryClaim(_ context.Context, id types.JobID, workerID string, leaseDuration time.Duration) (*types.Job, error) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, custom_errors.NotFound(id.String())
	}

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
	s.touch(job, now)
	return clone(job), nil
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

	job, exists := s.jobs[lease.JobID]
	if !exists {
		return custom_errors.NotFound(lease.JobID.String())
	}
	if job.Status != state.StatusClaimed || job.LeaseOwner != lease.Owner || job.AttemptCount != lease.Attempt {
		return custom_errors.InvalidTransition(lease.JobID.String(), "lease is no longer held")
	}

	apply(job)
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil
	s.touch(job, now)
	return nil
}

func (s *JobStore) ListExpiredClaims(_ context.Context, now time.Time) ([]types.JobID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []types.JobID
	for id, job := range s.jobs {
		if job.Status == state.StatusClaimed && job.LeaseExpiresAt.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *JobStore) Reclaim(_ context.Context, id types.JobID, now time.Time, maxAttempts int) (state.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return "", custom_errors.NotFound(id.String())
	}
	if job.Status != state.StatusClaimed || !job.LeaseExpiresAt.Before(now) {
		return "", custom_errors.InvalidTransition(id.String(), "not an expired claim")
	}

	job.AttemptCount, job.Status = store.ReclaimOutcome(job.AttemptCount, maxAttempts)
	if job.Status == state.StatusFailed {
		job.Error = custom_errors.ErrExhaustedRetries.Error()
	}
	job.LeaseOwner = ""
	job.LeaseExpiresAt = nil
	s.touch(job, now.UTC())
	return job.Status, nil
}

func (s *JobStore) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]types.JobID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*types.Job
	for _, job := range s.jobs {
		if job.Status == state.StatusPending && job.UpdatedAt.Before(olderThan) {
			stale = append(stale, job)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}

	ids := make([]types.JobID, 0, len(stale))
	for _, job := range stale {
		ids = append(ids, job.ID)
	}
	return ids, nil
}

func (s *JobStore) Close() error {
	return nil
}

// touch keeps UpdatedAt monotonic even if the clock steps backwards.
func (s *JobStore) touch(job *types.Job, now time.Time) {
	if now.After(job.UpdatedAt) {
		job.UpdatedAt = now
	}
}

func clone(job *types.Job) *types.Job {
	c := *job
	c.Payload = append([]byte(nil), job.Payload...)
	if job.Result != nil {
		c.Result = append([]byte{}, job.Result...)
	}
	if job.LeaseExpiresAt != nil {
		t := *job.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	return &c
}
