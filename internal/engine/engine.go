package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/trawler-io/trawler/internal/config"
	"github.com/trawler-io/trawler/internal/model"
	"github.com/trawler-io/trawler/internal/store"
)

// maxLineSize bounds a single worker output line.
const maxLineSize = 1 << 20

// Engine orchestrates worker process lifecycles: admission through the
// registry, spawn, output streaming into the broadcaster, cooperative stop
// with forced-kill escalation, and terminal-state resolution.
type Engine struct {
	registry    *Registry
	broadcaster *Broadcaster
	store       store.Store
	filter      *NoiseFilter
	logger      *slog.Logger

	workerCmd []string
	grace     time.Duration

	wg sync.WaitGroup
}

// New creates the orchestration engine.
func New(cfg config.Config, reg *Registry, bc *Broadcaster, st store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    reg,
		broadcaster: bc,
		store:       st,
		filter:      NewNoiseFilter(cfg.NoisePatterns),
		logger:      logger,
		workerCmd:   cfg.WorkerCommand,
		grace:       cfg.GracePeriod,
	}
}

// Registry returns the engine's job registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Broadcaster returns the engine's event broadcaster.
func (e *Engine) Broadcaster() *Broadcaster { return e.broadcaster }

// Submit admits a new job for the tenant and launches its worker
// asynchronously. The job is returned in pending status; spawn failures are
// observable only through the event stream and status queries.
func (e *Engine) Submit(ctx context.Context, tenantID string) (*Job, error) {
	sc, err := e.store.GetConfig(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		d := model.DefaultScrapeConfig()
		sc = &d
	} else if err != nil {
		return nil, fmt.Errorf("load tenant config: %w", err)
	}

	job, err := e.registry.Create(tenantID, sc.Concurrent.MaxConcurrentJobs)
	if err != nil {
		return nil, err
	}
	jobsStarted.Inc()

	scCopy := *sc
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(job, &scCopy)
	}()

	return job, nil
}

// Stop requests cancellation of a job. Already-terminal jobs yield an
// InvalidTransitionError; unknown ids yield ErrNotFound. Stop only marks the
// job; the job's supervision loop owns all process signalling, the bounded
// wait, forced-kill escalation, and the final transition to stopped.
func (e *Engine) Stop(jobID string) error {
	job, err := e.registry.Get(jobID)
	if err != nil {
		return err
	}

	job.RequestStop()
	if err := job.transition(model.StatusStopping); err != nil {
		var ite *InvalidTransitionError
		if errors.As(err, &ite) && ite.From == model.StatusStopping {
			return nil // stop already in progress
		}
		return err
	}

	e.broadcaster.Publish(model.StateEvent(job.ID(), job.TenantID(), model.StatusStopping, "Stopping scraper..."))
	return nil
}

// Wait blocks until all in-flight job goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown stops every active job and waits for their loops to finish.
func (e *Engine) Shutdown() {
	for _, job := range e.registry.List() {
		if model.IsActive(job.Status()) {
			if err := e.Stop(job.ID()); err != nil {
				e.logger.Warn("stop during shutdown", "job_id", job.ID(), "error", err)
			}
		}
	}
	e.Wait()
}

// run drives one worker process from spawn to terminal state. All internal
// failures degrade to the error status with guaranteed process cleanup; they
// never propagate out of the goroutine.
func (e *Engine) run(job *Job, sc *model.ScrapeConfig) {
	artifact, err := writeWorkerConfig(job, sc, e.registry.ActiveCount(job.TenantID()))
	if err != nil {
		e.logger.Error("create job config artifact", "job_id", job.ID(), "error", err)
		e.finish(job, model.StatusError, nil, fmt.Sprintf("failed to prepare job config: %v", err))
		return
	}

	if job.StopRequested() {
		e.finish(job, model.StatusStopped, nil, "Job stopped before start")
		return
	}

	if len(e.workerCmd) == 0 {
		e.finish(job, model.StatusError, nil, "no worker command configured")
		return
	}

	args := append(append([]string{}, e.workerCmd[1:]...), "--config", artifact)
	cmd := exec.Command(e.workerCmd[0], args...)

	// Combined stdout/stderr through a single pipe; EOF arrives when the
	// worker exits because the parent's write end closes right after spawn.
	pr, pw, err := os.Pipe()
	if err != nil {
		e.logger.Error("create output pipe", "job_id", job.ID(), "error", err)
		e.finish(job, model.StatusError, nil, fmt.Sprintf("failed to start scraper: %v", err))
		return
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		e.logger.Error("spawn worker", "job_id", job.ID(), "error", err)
		e.finish(job, model.StatusError, nil, fmt.Sprintf("failed to start scraper: %v", err))
		return
	}
	pw.Close()

	job.attachProcess(cmd)
	if err := job.transition(model.StatusRunning); err == nil {
		e.broadcaster.Publish(model.StateEvent(job.ID(), job.TenantID(), model.StatusRunning, "Starting scraper..."))
	}
	// A failed running transition means a stop raced in; the loop below bails
	// out on the first iteration.

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		e.streamOutput(job, pr)
	}()

	// Supervision: wait for a natural exit, or handle a stop request with
	// SIGTERM and SIGKILL escalation once the grace period lapses. Signalling
	// happens only here, after the handle is attached, so Stop cannot race a
	// not-yet-spawned process. The reader is independent so a worker that
	// ignores SIGTERM and goes silent cannot stall escalation.
	select {
	case <-waitCh:
	case <-job.stopped():
		job.signalStop()
		select {
		case <-waitCh:
		case <-time.After(e.grace):
			e.logger.Warn("graceful stop timed out, killing worker", "job_id", job.ID(), "grace", e.grace)
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			<-waitCh
		}
	}

	// Orphaned worker children can hold the pipe open past the worker's own
	// exit; closing the read end unblocks the reader regardless.
	pr.Close()
	<-streamDone

	exitCode := cmd.ProcessState.ExitCode()
	switch {
	case job.StopRequested():
		e.finish(job, model.StatusStopped, &exitCode, "Scraper stopped")
	case exitCode == 0:
		e.finish(job, model.StatusCompleted, &exitCode, "Scraper completed successfully")
	default:
		e.finish(job, model.StatusFailed, &exitCode, fmt.Sprintf("Scraper process exited with code %d", exitCode))
	}
}

// streamOutput relays worker output lines into the broadcaster until EOF or
// the pipe is closed under it, dropping blank and noise lines.
func (e *Engine) streamOutput(job *Job, pr *os.File) {
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if job.StopRequested() {
			e.logger.Info("job received stop signal", "job_id", job.ID())
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || e.filter.Match(line) {
			continue
		}
		e.broadcaster.Publish(model.LogEvent(job.ID(), job.TenantID(), line))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		e.logger.Warn("worker output read error", "job_id", job.ID(), "error", err)
	}
}

// finish performs the terminal transition and publishes the closing state
// event.
func (e *Engine) finish(job *Job, status string, exitCode *int, message string) {
	if err := job.finish(status, exitCode); err != nil {
		e.logger.Error("terminal transition rejected", "job_id", job.ID(), "status", status, "error", err)
		return
	}
	e.broadcaster.Publish(model.StateEvent(job.ID(), job.TenantID(), status, message))
	e.logger.Info("job finished", "job_id", job.ID(), "tenant_id", job.TenantID(), "status", status)
}
