package model

import "time"

// Job status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusStopping  = "stopping"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusStopped   = "stopped"
	StatusError     = "error"
)

// validTransitions maps each status to the set of statuses it may transition to.
// The four terminal statuses have no outgoing edges.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:  true,
		StatusStopping: true,
		StatusError:    true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusStopping:  true,
		StatusError:     true,
	},
	StatusStopping: {
		StatusStopped: true,
		StatusError:   true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether the status is absorbing: once a job enters it, no
// further transition is defined.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusStopped, StatusError:
		return true
	}
	return false
}

// IsActive reports whether a job in this status counts against its tenant's
// concurrency cap.
func IsActive(status string) bool {
	switch status {
	case StatusPending, StatusRunning, StatusStopping:
		return true
	}
	return false
}

// Job is a point-in-time snapshot of a scraper job.
type Job struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Status         string     `json:"status"`
	OutputDir      string     `json:"output_dir,omitempty"`
	ExitCode       *int       `json:"exit_code,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
}
