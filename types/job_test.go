package types

import (
	"testing"
	"time"

	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/stretchr/testify/assert"
)

func TestJob_Lease(t *testing.T) {
	expires := time.Now().Add(time.Minute)
	job := &Job{
		ID:             "j1",
		Status:         state.StatusClaimed,
		AttemptCount:   2,
		LeaseOwner:     "worker-1",
		LeaseExpiresAt: &expires,
	}

	lease, ok := job.Lease()
	assert.True(t, ok)
	assert.Equal(t, JobID("j1"), lease.JobID)
	assert.Equal(t, "worker-1", lease.Owner)
	assert.Equal(t, 2, lease.Attempt)
	assert.False(t, lease.Expired(time.Now()))
	assert.True(t, lease.Expired(expires.Add(time.Second)))

	job.Status = state.StatusPending
	_, ok = job.Lease()
	assert.False(t, ok)
}

func TestJob_CheckInvariants(t *testing.T) {
	expires := time.Now()
	tests := []struct {
		name string
		job  Job
		ok   bool
	}{
		{"pending clean", Job{Status: state.StatusPending}, true},
		{"pending with result", Job{Status: state.StatusPending, Result: []byte("r")}, false},
		{"claimed with lease", Job{Status: state.StatusClaimed, LeaseOwner: "w", LeaseExpiresAt: &expires}, true},
		{"claimed without lease", Job{Status: state.StatusClaimed}, false},
		{"completed with empty result", Job{Status: state.StatusCompleted, Result: []byte{}}, true},
		{"completed without result", Job{Status: state.StatusCompleted}, false},
		{"completed with both", Job{Status: state.StatusCompleted, Result: []byte("r"), Error: "e"}, false},
		{"failed with error", Job{Status: state.StatusFailed, Error: "boom"}, true},
		{"failed keeping lease", Job{Status: state.StatusFailed, Error: "boom", LeaseOwner: "w"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.job.CheckInvariants())
		})
	}
}

func TestNewJobID_Unique(t *testing.T) {
	assert.NotEqual(t, NewJobID(), NewJobID())
}
