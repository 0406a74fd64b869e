package model

import "time"

// Event type constants.
const (
	EventConnection = "connection"
	EventLog        = "log"
	EventState      = "state"
)

// Event is a single message published to a tenant's room. Log events carry a
// Message; state events carry the job's new Status.
type Event struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	TenantID  string    `json:"tenant_id"`
	Message   string    `json:"message,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LogEvent builds a log event for the given job.
func LogEvent(jobID, tenantID, message string) Event {
	return Event{
		Type:      EventLog,
		JobID:     jobID,
		TenantID:  tenantID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// StateEvent builds a state event announcing a job status change.
func StateEvent(jobID, tenantID, status, message string) Event {
	return Event{
		Type:      EventState,
		JobID:     jobID,
		TenantID:  tenantID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}
