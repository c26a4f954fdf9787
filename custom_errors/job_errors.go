package custom_errors

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage marks a failure of the backing job store.
	ErrStorage = errors.New("jobcore: storage unavailable")

	ErrNotFound = errors.New("jobcore: job not found")

	// ErrClaimConflict is returned when another live lease already holds the job.
	ErrClaimConflict = errors.New("jobcore: job already claimed")

	// ErrInvalidTransition is returned when a transition does not match the
	// current state of the job, e.g. a finalize from a lease that was reassigned.
	ErrInvalidTransition = errors.New("jobcore: invalid state transition")

	ErrAnalysis = errors.New("jobcore: analysis failed")

	// ErrExhaustedRetries is recorded on jobs whose lease expired maxAttempts times.
	ErrExhaustedRetries = errors.New("exhausted retries")
)

// StorageError wraps a driver error so that both errors.Is(err, ErrStorage)
// and errors.Is(err, cause) hold.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("jobcore: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// AnalysisError wraps an error returned by the analysis capability.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("jobcore: analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() []error {
	return []error{ErrAnalysis, e.Err}
}

func NewAnalysisError(err error) error {
	return &AnalysisError{Err: err}
}

func NotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func ClaimConflict(id string) error {
	return fmt.Errorf("%w: %s", ErrClaimConflict, id)
}

func InvalidTransition(id string, reason string) error {
	return fmt.Errorf("%w: job %s: %s", ErrInvalidTransition, id, reason)
}
