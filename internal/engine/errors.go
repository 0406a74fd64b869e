package engine

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a job id does not exist in the registry.
var ErrNotFound = errors.New("job not found")

// ErrMissingTenant is returned when an operation requires a tenant id and none
// was provided.
var ErrMissingTenant = errors.New("tenant id is required")

// ResourceExhaustedError is returned by job admission when the tenant already
// has its maximum number of active jobs.
type ResourceExhaustedError struct {
	TenantID string
	Cap      int
	Current  int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("tenant %s has reached its concurrent job limit (%d/%d)", e.TenantID, e.Current, e.Cap)
}

// InvalidTransitionError is returned when a lifecycle operation is attempted
// against a job whose status does not permit it, most commonly stopping a job
// that is already in a terminal state.
type InvalidTransitionError struct {
	JobID string
	From  string
	To    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}
