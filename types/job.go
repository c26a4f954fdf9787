package types

import (
	"time"

	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/google/uuid"
)

// JobID is the opaque identifier assigned to a job at creation.
type JobID string

func NewJobID() JobID {
	return JobID(uuid.NewString())
}

func (id JobID) String() string {
	return string(id)
}

// Job is the persisted record of one unit of work.
type Job struct {
	ID             JobID
	Payload        []byte
	Status         state.JobStatus
	AttemptCount   int
	LeaseOwner     string     // set only while Status is CLAIMED
	LeaseExpiresAt *time.Time // set only while Status is CLAIMED
	Result         []byte     // non-nil only when Status is COMPLETED
	Error          string     // non-empty only when Status is FAILED
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Lease identifies one claim of a job. Owner and Attempt together act as a
// fencing token: every reclamation bumps AttemptCount, so a lease taken
// before the reclamation can no longer finalize the job.
type Lease struct {
	JobID     JobID
	Owner     string
	Attempt   int
	ExpiresAt time.Time
}

// Lease returns the lease currently held on the job, if any.
func (j *Job) Lease() (Lease, bool) {
	if j.Status != state.StatusClaimed || j.LeaseExpiresAt == nil {
		return Lease{}, false
	}
	return Lease{
		JobID:     j.ID,
		Owner:     j.LeaseOwner,
		Attempt:   j.AttemptCount,
		ExpiresAt: *j.LeaseExpiresAt,
	}, true
}

// Expired reports whether the lease is past its expiry at now.
func (l Lease) Expired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// CheckInvariants reports whether the record is internally consistent:
// exactly one of Result/Error is set iff the job is terminal, and lease
// fields are set iff the job is claimed.
func (j *Job) CheckInvariants() bool {
	hasResult := j.Result != nil
	hasError := j.Error != ""
	switch j.Status {
	case state.StatusCompleted:
		if !hasResult || hasError {
			return false
		}
	case state.StatusFailed:
		if hasResult || !hasError {
			return false
		}
	default:
		if hasResult || hasError {
			return false
		}
	}

	leased := j.LeaseOwner != "" && j.LeaseExpiresAt != nil
	unleased := j.LeaseOwner == "" && j.LeaseExpiresAt == nil
	if j.Status == state.StatusClaimed {
		return leased
	}
	return unleased && j.AttemptCount >= 0
}
