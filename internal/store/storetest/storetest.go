// Package storetest holds the behaviour every store.JobStore implementation
// must show. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RezaEskandarii/jobcore/custom_errors"
	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const lease = 30 * time.Second

// FakeClock is a manually advanced clock, safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory builds an empty store driven by clock.
type Factory func(t *testing.T, clock store.Clock) store.JobStore

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.JobStore, clock *FakeClock)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"GetUnknown", testGetUnknown},
		{"TryClaimSetsLease", testTryClaimSetsLease},
		{"TryClaimLiveLeaseConflicts", testTryClaimLiveLeaseConflicts},
		{"TryClaimUnknown", testTryClaimUnknown},
		{"TryClaimTakesOverExpiredLease", testTryClaimTakesOverExpiredLease},
		{"TryClaimTerminalConflicts", testTryClaimTerminalConflicts},
		{"ConcurrentTryClaimSingleWinner", testConcurrentTryClaimSingleWinner},
		{"Complete", testComplete},
		{"CompleteEmptyResult", testCompleteEmptyResult},
		{"Fail", testFail},
		{"FailEmptyMessage", testFailEmptyMessage},
		{"FinalizeWrongOwner", testFinalizeWrongOwner},
		{"FinalizeTwice", testFinalizeTwice},
		{"FinalizeExpiredButNotReassigned", testFinalizeExpiredButNotReassigned},
		{"StaleFinalizeAfterReclaim", testStaleFinalizeAfterReclaim},
		{"StaleFinalizeAfterTakeover", testStaleFinalizeAfterTakeover},
		{"ListExpiredClaims", testListExpiredClaims},
		{"ReclaimToPending", testReclaimToPending},
		{"ReclaimLiveLease", testReclaimLiveLease},
		{"ReclaimExhausted", testReclaimExhausted},
		{"ListStalePending", testListStalePending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewFakeClock()
			s := newStore(t, clock.Now)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s, clock)
		})
	}
}

func mustCreate(t *testing.T, s store.JobStore, payload string) types.JobID {
	t.Helper()
	id, err := s.Create(context.Background(), []byte(payload))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func mustClaim(t *testing.T, s store.JobStore, id types.JobID, worker string) types.Lease {
	t.Helper()
	job, err := s.TryClaim(context.Background(), id, worker, lease)
	require.NoError(t, err)
	l, ok := job.Lease()
	require.True(t, ok)
	return l
}

func mustGet(t *testing.T, s store.JobStore, id types.JobID) *types.Job {
	t.Helper()
	job, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, job.CheckInvariants(), "invariants violated: %+v", job)
	assert.False(t, job.UpdatedAt.Before(job.CreatedAt), "updated_at before created_at")
	return job
}

func testCreateAndGet(t *testing.T, s store.JobStore, clock *FakeClock) {
	id := mustCreate(t, s, `{"code":"fmt.Println(1)"}`)

	job := mustGet(t, s, id)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, []byte(`{"code":"fmt.Println(1)"}`), job.Payload)
	assert.Equal(t, state.StatusPending, job.Status)
	assert.Equal(t, 0, job.AttemptCount)
	assert.Empty(t, job.LeaseOwner)
	assert.Nil(t, job.LeaseExpiresAt)
	assert.WithinDuration(t, clock.Now(), job.CreatedAt, time.Millisecond)

	other := mustCreate(t, s, "second")
	assert.NotEqual(t, id, other)
}

func testGetUnknown(t *testing.T, s store.JobStore, _ *FakeClock) {
	_, err := s.Get(context.Background(), types.NewJobID())
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
}

func testTryClaimSetsLease(t *testing.T, s store.JobStore, clock *FakeClock) {
	id := mustCreate(t, s, "p")

	job, err := s.TryClaim(context.Background(), id, "worker-a", lease)
	require.NoError(t, err)
	assert.Equal(t, state.StatusClaimed, job.Status)
	assert.Equal(t, "worker-a", job.LeaseOwner)
	require.NotNil(t, job.LeaseExpiresAt)
	assert.WithinDuration(t, clock.Now().Add(lease), *job.LeaseExpiresAt, time.Millisecond)
	assert.Equal(t, []byte("p"), job.Payload)

	stored := mustGet(t, s, id)
	assert.Equal(t, state.StatusClaimed, stored.Status)
	assert.Equal(t, "worker-a", stored.LeaseOwner)
	assert.Equal(t, 0, stored.AttemptCount)
}

func testTryClaimLiveLeaseConflicts(t *testing.T, s store.JobStore, clock *FakeClock) {
	id := mustCreate(t, s, "p")
	mustClaim(t, s, id, "worker-a")

	clock.Advance(lease - time.Second)
	_, err := s.TryClaim(context.Background(), id, "worker-b", lease)
	assert.ErrorIs(t, err, custom_errors.ErrClaimConflict)

	job := mustGet(t, s, id)
	assert.Equal(t, "worker-a", job.LeaseOwner)
}

func testTryClaimUnknown(t *testing.T, s store.JobStore, _ *FakeClock) {
	_, err := s.TryClaim(context.Background(), types.NewJobID(), "worker-a", lease)
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
}

func testTryClaimTakesOverExpiredLease(t *testing.T, s store.JobStore, clock *FakeClock) {
	id := mustCreate(t, s, "p")
	mustClaim(t, s, id, "worker-a")

	clock.Advance(lease + time.Second)
	job, err := s.TryClaim(context.Background(), id, "worker-b", lease)
	require.NoError(t, err)
	assert.Equal(t, "worker-b", job.LeaseOwner)
	assert.Equal(t, 1, job.AttemptCount)
	assert.WithinDuration(t, clock.Now().Add(lease), *job.LeaseExpiresAt, time.Millisecond)
}

func testTryClaimTerminalConflicts(t *testing.T, s store.JobStore, clock *FakeClock) {
	id := mustCreate(t, s, "p")
	l := mustClaim(t, s, id, "worker-a")
	require.NoError(t, s.Complete(context.Background(), l, []byte("done")))

	clock.Advance(2 * lease)
	_, err := s.TryClaim(context.Background(), id, "worker-b", lease)
	assert.ErrorIs(t, err, custom_errors.ErrClaimConflict)
}

func testConcurrentTryClaimSingleWinner(t *testing.T, s store.JobStore, _ *FakeClock) {
	id := mustCreate(t, s, "p")

	const contenders = 16
	var wins, conflicts atomic.Int32
	var g errgroup.Group
	for i := 0; i < contenders; i++ {
		worker := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			_, err := s.TryClaim(context.Background(), id, worker, lease)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, custom_errors.ErrClaimConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(contenders-1), conflicts.Load())
}

func testComplete(t *testing.T, s store.JobStore, _ *FakeClock) {
	id := mustCreate(t, s, "p")
	l := mustClaim(t, s, id, "worker-a")

	require.NoError(t, s.Complete(context.Background(), l, []byte("R")))

	job := mustGet(t, s, id)
	assert.Equal(t, state.StatusCompleted, job.Status)
	assert.Equal(t, []byte("R"), job.Result)
	assert.Empty(t, job.Error)
	assert.Empty(t, job.LeaseOwner)
	assert.Nil(t, job.LeaseExpiresAt)
}

func testCompleteEmptyResult(t *testing.T, s store.JobStore, _ *FakeClock) {
	id := mustCreate(t, s, "p")
	l := mustClaim(t, s, id, "worker-a")

	require.NoError(t, s.Complete(context.Background(), l, nil))

	job := mustGet(t, s, id)
	assert.Equal(t, state.StatusCompleted, job.Status)
	assert.NotNil(t, job.Result)
	assert.Len(t, job.Result, 0)
}

func testFail(t *testing.T, s store.JobStore, _ *FakeClock) {
	id := mustCreate(t, s, "p")
	l := mustClaim(t, s, id, "worker-a")

	require.NoError(t, s.Fail(context.Background(), l, "model unavailable"))

	job := mustGet(t, s, id)
	assert.Equal(t, state.StatusFailed, job.Status)
	assert.Equal(t, "model unavailable", job.Error)
	assert.Nil(t, job.Result)
	assert.Empty(t, job.LeaseOwner)
}

func testFailEmptyMessage(t *testing.T, s store.JobStore, _ *FakeClock) {
	id := mustCreate(t, s, "p")
	l := mustClaim(t, s, id, "worker-a")

	require.NoError(t, s.Fail(context.Background(), l, ""))

	job := mustGet(t, s, id)
	assert.Equal(t, state.StatusFailed, job.Status)
	assert.NotEmpty(t, job.Error)
}

func testFinalizeWrongOwner(t *testing.T, s store.JobStore, _ *FakeClock) {
	id := mustCreate(t, s, "p")
	l := mustClaim(t, s, id, "worker-a")

	forged := l
	forged.Owner = "worker-b"
	assert.ErrorIs(t, s.Complete(context.Background(), forged, []byte("x")), custom_errors.ErrInvalidTransition)
	assert.ErrorIs(t, s.Fail(context.Background(), forged, "x"), custom_errors.ErrInvalidTransition)

	job := mustGet(t, s, id)
	assert.Equal(t, state.StatusClaimed, job.Status)
}

func testFinalizeTwice(t *testing.T, s store.JobStore, _ *FakeClock) {
	id := mustCreate(t, s, "p")
	l := mustClaim(t, s, id, "worker-a")

	require.NoError(t, s.Complete(context.Background(), l, []byte("first")))
	assert.ErrorIs(t, s.Complete(context.Background(), l, []byte("second")), custom_errors.ErrInvalidTransition)
	assert.ErrorIs(t, s.Fail(context.Background(), l, "late"), custom_errors.ErrInvalidTransition)

	job := mustGet(t, s, id)
	assert.Equal(t, []byte("first"), job.Result)
}

func testFinalizeExpiredButNotReassigned(t *testing.T, s store.JobStore, clock *FakeClock) {
	id := mustCreate(t, s, "p")
	l := mustClaim(t, s, id, "worker-a")

	clock.Advance(lease + time.Second)
	require.NoError(t, s.Complete(context.Background(), l, []byte("late but valid")))

	job := mustGet(t, s, id)
	assert.Equal(t, state.StatusCompleted, job.Status)
}

func testStaleFinalizeAfterReclaim(t *testing.T, s store.JobStore, clock *FakeClock) {
	ctx := context.Background()
	id := mustCreate(t, s, "p")
	stale := mustClaim(t, s, id, "worker-a")

	clock.Advance(lease + time.Second)
	status, err := s.Reclaim(ctx, id, clock.Now(), 5)
	require.NoError(t, err)
	require.Equal(t, state.StatusPending, status)

	// the same worker identity claiming again must not revive the old lease
	fresh := mustClaim(t, s, id, "worker-a")
	assert.Equal(t, 1, fresh.Attempt)

	assert.ErrorIs(t, s.Complete(ctx, stale, []byte("stale")), custom_errors.ErrInvalidTransition)
	require.NoError(t, s.Complete(ctx, fresh, []byte("fresh")))

	job := mustGet(t, s, id)
	assert.Equal(t, []byte("fresh"), job.Result)
}

func testStaleFinalizeAfterTakeover(t *testing.T, s store.JobStore, clock *FakeClock) {
	ctx := context.Background()
	id := mustCreate(t, s, "p")
	stale := mustClaim(t, s, id, "worker-a")

	clock.Advance(lease + time.Second)
	fresh := mustClaim(t, s, id, "worker-b")

	assert.ErrorIs(t, s.Fail(ctx, stale, "timeout"), custom_errors.ErrInvalidTransition)
	require.NoError(t, s.Complete(ctx, fresh, []byte("B")))

	job := mustGet(t, s, id)
	assert.Equal(t, state.StatusCompleted, job.Status)
	assert.Equal(t, []byte("B"), job.Result)
}

func testListExpiredClaims(t *testing.T, s store.JobStore, clock *FakeClock) {
	ctx := context.Background()
	pending := mustCreate(t, s, "pending")
	early := mustCreate(t, s, "early")
	late := mustCreate(t, s, "late")
	done := mustCreate(t, s, "done")

	mustClaim(t, s, early, "w1")
	l := mustClaim(t, s, done, "w3")
	require.NoError(t, s.Complete(ctx, l, []byte("ok")))
	clock.Advance(10 * time.Second)
	mustClaim(t, s, late, "w2")

	ids, err := s.ListExpiredClaims(ctx, clock.Now())
	require.NoError(t, err)
	assert.Empty(t, ids)

	clock.Advance(lease - 5*time.Second)
	ids, err = s.ListExpiredClaims(ctx, clock.Now())
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.JobID{early}, ids)

	clock.Advance(lease)
	ids, err = s.ListExpiredClaims(ctx, clock.Now())
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.JobID{early, late}, ids)
	assert.NotContains(t, ids, pending)
	assert.NotContains(t, ids, done)
}

func testReclaimToPending(t *testing.T, s store.JobStore, clock *FakeClock) {
	ctx := context.Background()
	id := mustCreate(t, s, "p")
	mustClaim(t, s, id, "worker-a")

	clock.Advance(lease + time.Second)
	status, err := s.Reclaim(ctx, id, clock.Now(), 3)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, status)

	job := mustGet(t, s, id)
	assert.Equal(t, state.StatusPending, job.Status)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Empty(t, job.LeaseOwner)
	assert.Nil(t, job.LeaseExpiresAt)

	_, err = s.Reclaim(ctx, id, clock.Now(), 3)
	assert.ErrorIs(t, err, custom_errors.ErrInvalidTransition)
}

func testReclaimLiveLease(t *testing.T, s store.JobStore, clock *FakeClock) {
	id := mustCreate(t, s, "p")
	mustClaim(t, s, id, "worker-a")

	_, err := s.Reclaim(context.Background(), id, clock.Now(), 3)
	assert.ErrorIs(t, err, custom_errors.ErrInvalidTransition)

	job := mustGet(t, s, id)
	assert.Equal(t, state.StatusClaimed, job.Status)
	assert.Equal(t, 0, job.AttemptCount)
}

func testReclaimExhausted(t *testing.T, s store.JobStore, clock *FakeClock) {
	ctx := context.Background()
	id := mustCreate(t, s, "p")

	mustClaim(t, s, id, "worker-a")
	clock.Advance(lease + time.Second)
	status, err := s.Reclaim(ctx, id, clock.Now(), 2)
	require.NoError(t, err)
	require.Equal(t, state.StatusPending, status)

	mustClaim(t, s, id, "worker-b")
	clock.Advance(lease + time.Second)
	status, err = s.Reclaim(ctx, id, clock.Now(), 2)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, status)

	job := mustGet(t, s, id)
	assert.Equal(t, state.StatusFailed, job.Status)
	assert.Equal(t, "exhausted retries", job.Error)
	assert.Equal(t, 2, job.AttemptCount)
	assert.Empty(t, job.LeaseOwner)
}

func testListStalePending(t *testing.T, s store.JobStore, clock *FakeClock) {
	ctx := context.Background()
	old := mustCreate(t, s, "old")
	claimed := mustCreate(t, s, "claimed")
	mustClaim(t, s, claimed, "w")

	clock.Advance(time.Minute)
	fresh := mustCreate(t, s, "fresh")

	ids, err := s.ListStalePending(ctx, clock.Now().Add(-30*time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, []types.JobID{old}, ids)

	clock.Advance(time.Minute)
	ids, err = s.ListStalePending(ctx, clock.Now(), 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.JobID{old, fresh}, ids)

	ids, err = s.ListStalePending(ctx, clock.Now(), 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}
