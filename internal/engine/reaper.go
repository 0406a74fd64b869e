package engine

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/trawler-io/trawler/internal/model"
)

// Reaper periodically force-terminates stray processes on terminal jobs and
// deletes the artifacts and registry entries of jobs past the retention
// window.
type Reaper struct {
	registry    *Registry
	broadcaster *Broadcaster
	logger      *slog.Logger
	interval    time.Duration
	retention   time.Duration
}

// NewReaper creates a reaper sweeping every interval and retaining terminal
// jobs for the given window after completion.
func NewReaper(reg *Registry, bc *Broadcaster, logger *slog.Logger, interval, retention time.Duration) *Reaper {
	return &Reaper{
		registry:    reg,
		broadcaster: bc,
		logger:      logger,
		interval:    interval,
		retention:   retention,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(time.Now().UTC())
		}
	}
}

// Sweep runs one reaping cycle against the given notion of now.
func (r *Reaper) Sweep(now time.Time) {
	for _, job := range r.registry.List() {
		snap := job.Snapshot()
		if !model.IsTerminal(snap.Status) {
			continue
		}

		// Safety net: a terminal job must not hold a live handle. Taking
		// ownership through releaseProcess keeps this from racing the
		// orchestrator's own cleanup.
		if cmd := job.releaseProcess(); cmd != nil && cmd.Process != nil {
			r.logger.Warn("terminal job still held a process, killing", "job_id", snap.ID)
			_ = cmd.Process.Kill()
		}

		if snap.CompletionTime == nil || now.Sub(*snap.CompletionTime) < r.retention {
			continue
		}

		if err := os.RemoveAll(snap.OutputDir); err != nil {
			// Leave the registry entry in place so the next cycle retries.
			r.logger.Error("delete job artifacts", "job_id", snap.ID, "error", err)
			continue
		}
		r.registry.Remove(snap.ID)
		r.broadcaster.Forget(snap.ID)
		jobsReaped.Inc()
		r.logger.Info("reaped job", "job_id", snap.ID, "tenant_id", snap.TenantID, "completed_at", snap.CompletionTime)
	}
}
