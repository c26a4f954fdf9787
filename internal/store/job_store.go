package store

import (
	"context"
	"time"

	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/types"
)

// JobStore is the durable record of every job. It is the only component that
// mutates job records; every mutation is a single atomic conditional update
// keyed by job id and the expected current state, so it stays correct when
// several processes share the same backend.
type JobStore interface {
	// Create inserts a new PENDING job with attempt count 0 and returns its id.
	Create(ctx context.Context, payload []byte) (types.JobID, error)

	// Get returns the job or an ErrNotFound error.
	Get(ctx context.Context, id types.JobID) (*types.Job, error)

	// TryClaim moves a PENDING job, or a CLAIMED job whose lease has expired,
	// to CLAIMED under workerID until now+leaseDuration. Taking over an expired
	// lease counts as a retry and increments the attempt count. It returns
	// ErrClaimConflict when a live lease holds the job or the job is terminal.
	TryClaim(ctx context.Context, id types.JobID, workerID string, leaseDuration time.Duration) (*types.Job, error)

	// Complete moves the job to COMPLETED with result if lease still matches
	// the current claim, otherwise it returns ErrInvalidTransition.
	Complete(ctx context.Context, lease types.Lease, result []byte) error

	// Fail moves the job to FAILED with message under the same lease rule as Complete.
	Fail(ctx context.Context, lease types.Lease, message string) error

	// ListExpiredClaims returns CLAIMED jobs whose lease expired before now.
	ListExpiredClaims(ctx context.Context, now time.Time) ([]types.JobID, error)

	// Reclaim returns an expired claim to PENDING, incrementing the attempt
	// count, or fails it with "exhausted retries" once the new count reaches
	// maxAttempts. It returns the resulting status, or ErrInvalidTransition if
	// the job is no longer an expired claim.
	Reclaim(ctx context.Context, id types.JobID, now time.Time, maxAttempts int) (state.JobStatus, error)

	// ListStalePending returns up to limit PENDING jobs last updated before olderThan.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]types.JobID, error)

	// Close releases the store's resources.
	Close() error
}

// Clock returns the current time. Stores accept one so lease expiry can be
// driven deterministically.
type Clock func() time.Time

// FinalizeResult normalises the value written by Complete/Fail so the
// result/error exclusivity invariant holds for empty inputs.
func FinalizeResult(result []byte) []byte {
	if result == nil {
		return []byte{}
	}
	return result
}

// FailureMessage never returns an empty string, so a FAILED job always
// carries an error.
func FailureMessage(message string) string {
	if message == "" {
		return "analysis failed"
	}
	return message
}

// ReclaimOutcome decides the state a reclaimed job lands in.
func ReclaimOutcome(attemptCount, maxAttempts int) (newCount int, status state.JobStatus) {
	newCount = attemptCount + 1
	if newCount >= maxAttempts {
		return newCount, state.StatusFailed
	}
	return newCount, state.StatusPending
}
