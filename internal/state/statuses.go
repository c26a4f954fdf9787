package state

import "fmt"

type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusClaimed   JobStatus = "CLAIMED"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition can leave s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid reports whether s is one of the known statuses.
func (s JobStatus) IsValid() bool {
	for _, status := range AllStatuses {
		if status == s {
			return true
		}
	}
	return false
}

var AllStatuses = []JobStatus{
	StatusPending,
	StatusClaimed,
	StatusCompleted,
	StatusFailed,
}

// Parse converts a persisted status back into a JobStatus and rejects
// anything outside the state machine.
func Parse(raw string) (JobStatus, error) {
	s := JobStatus(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown job status %q", raw)
	}
	return s, nil
}
