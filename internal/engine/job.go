package engine

import (
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/trawler-io/trawler/internal/model"
)

// Job is a live job owned by the registry. Status, completion time, and the
// process handle are guarded by mu; the handle is non-nil only while the job
// is running or stopping, and clearing it is part of every terminal
// transition.
type Job struct {
	id        string
	tenantID  string
	outputDir string
	startTime time.Time

	stopOnce sync.Once
	stopCh   chan struct{}

	mu             sync.Mutex
	status         string
	completionTime *time.Time
	exitCode       *int
	cmd            *exec.Cmd
}

func newJob(id, tenantID, outputDir string) *Job {
	return &Job{
		id:        id,
		tenantID:  tenantID,
		outputDir: outputDir,
		startTime: time.Now().UTC(),
		status:    model.StatusPending,
		stopCh:    make(chan struct{}),
	}
}

// ID returns the job's unique identifier.
func (j *Job) ID() string { return j.id }

// TenantID returns the owning tenant.
func (j *Job) TenantID() string { return j.tenantID }

// OutputDir returns the job's isolated artifact directory.
func (j *Job) OutputDir() string { return j.outputDir }

// Status returns the job's current status.
func (j *Job) Status() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Snapshot returns a point-in-time copy of the job suitable for serialization.
func (j *Job) Snapshot() model.Job {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := model.Job{
		ID:        j.id,
		TenantID:  j.tenantID,
		Status:    j.status,
		OutputDir: j.outputDir,
		StartTime: j.startTime,
	}
	if j.completionTime != nil {
		t := *j.completionTime
		snap.CompletionTime = &t
	}
	if j.exitCode != nil {
		c := *j.exitCode
		snap.ExitCode = &c
	}
	return snap
}

// RequestStop marks the job for cooperative cancellation. Safe to call more
// than once.
func (j *Job) RequestStop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// StopRequested reports whether cancellation has been requested.
func (j *Job) StopRequested() bool {
	select {
	case <-j.stopCh:
		return true
	default:
		return false
	}
}

// stopped is closed when cancellation has been requested.
func (j *Job) stopped() <-chan struct{} { return j.stopCh }

// transition moves the job to a non-terminal status, validating against the
// lifecycle graph.
func (j *Job) transition(to string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !model.ValidTransition(j.status, to) {
		return &InvalidTransitionError{JobID: j.id, From: j.status, To: to}
	}
	j.status = to
	return nil
}

// finish performs the terminal transition as one critical section: status
// write, completion time assignment, exit code, and process handle clearing.
func (j *Job) finish(status string, exitCode *int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !model.ValidTransition(j.status, status) {
		return &InvalidTransitionError{JobID: j.id, From: j.status, To: status}
	}
	now := time.Now().UTC()
	j.status = status
	j.completionTime = &now
	j.exitCode = exitCode
	j.cmd = nil
	return nil
}

// attachProcess stores the spawned worker's handle on the job.
func (j *Job) attachProcess(cmd *exec.Cmd) {
	j.mu.Lock()
	j.cmd = cmd
	j.mu.Unlock()
}

// signalStop sends SIGTERM to the worker if one is attached. Signalling an
// already-exited process fails harmlessly.
func (j *Job) signalStop() {
	j.mu.Lock()
	cmd := j.cmd
	j.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
}

// releaseProcess takes exclusive ownership of the attached handle, clearing it
// on the job. It returns nil if no handle is attached. The reaper uses this so
// its safety-net kill and the orchestrator's own cleanup cannot both act on
// the same handle.
func (j *Job) releaseProcess() *exec.Cmd {
	j.mu.Lock()
	defer j.mu.Unlock()

	cmd := j.cmd
	j.cmd = nil
	return cmd
}
