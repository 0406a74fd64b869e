package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trawler-io/trawler/internal/config"
	"github.com/trawler-io/trawler/internal/engine"
	"github.com/trawler-io/trawler/internal/hub"
	"github.com/trawler-io/trawler/internal/model"
	"github.com/trawler-io/trawler/internal/store"
)

// fakeSender records delivered events for assertions.
type fakeSender struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (f *fakeSender) Send(ev model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSender) recorded() []model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Event, len(f.events))
	copy(out, f.events)
	return out
}

// testStack bundles a fully wired engine over a fake worker command.
type testStack struct {
	engine      *engine.Engine
	registry    *engine.Registry
	broadcaster *engine.Broadcaster
	hub         *hub.Hub
	store       *store.SQLiteStore
}

func newTestStack(t *testing.T, workerCmd ...string) *testStack {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	rooms := hub.New(logger)
	registry := engine.NewRegistry(t.TempDir(), 3)
	broadcaster := engine.NewBroadcaster(registry, rooms, logger, 100, 64)

	cfg := config.Config{
		WorkerCommand: workerCmd,
		GracePeriod:   500 * time.Millisecond,
		NoisePatterns: []string{"Exception ignored in: <function Chrome.__del__"},
	}
	eng := engine.New(cfg, registry, broadcaster, st, logger)

	return &testStack{
		engine:      eng,
		registry:    registry,
		broadcaster: broadcaster,
		hub:         rooms,
		store:       st,
	}
}

// subscribe joins a recording sender to the tenant's room.
func (ts *testStack) subscribe(t *testing.T, tenant string) *fakeSender {
	t.Helper()
	s := &fakeSender{}
	connID := ts.hub.Connect(s)
	if err := ts.hub.Init(connID, tenant); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

// waitForStatus polls the job until it reaches the expected status.
func waitForStatus(t *testing.T, job *engine.Job, expected string, timeout time.Duration) model.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if job.Status() == expected {
			return job.Snapshot()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %q within %v (current %q)", job.ID(), expected, timeout, job.Status())
	return model.Job{}
}

// waitForStateEvent polls the sender until a state event with the status has
// been delivered. The closing state event trails the status flip slightly.
func waitForStateEvent(t *testing.T, s *fakeSender, status string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, ev := range s.recorded() {
			if ev.Type == model.EventState && ev.Status == status {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state event %q not delivered within %v", status, timeout)
}

func TestSubmitHappyPath(t *testing.T) {
	ts := newTestStack(t, "/bin/sh", "-c", "echo line one; echo line two")
	sub := ts.subscribe(t, "alice")

	job, err := ts.engine.Submit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitForStatus(t, job, model.StatusCompleted, 5*time.Second)
	if snap.CompletionTime == nil {
		t.Error("completion_time is nil on terminal job")
	}
	if snap.ExitCode == nil || *snap.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", snap.ExitCode)
	}
	waitForStateEvent(t, sub, model.StatusCompleted, 5*time.Second)

	// Subscribed client observes running then completed, with both log lines
	// in between, in publish order.
	var statuses, logs []string
	for _, ev := range sub.recorded() {
		switch ev.Type {
		case model.EventState:
			statuses = append(statuses, ev.Status)
		case model.EventLog:
			logs = append(logs, ev.Message)
		}
	}
	if len(statuses) < 2 || statuses[0] != model.StatusRunning || statuses[len(statuses)-1] != model.StatusCompleted {
		t.Errorf("observed status sequence = %v, want running ... completed", statuses)
	}
	if len(logs) != 2 || logs[0] != "line one" || logs[1] != "line two" {
		t.Errorf("observed logs = %v, want [line one, line two]", logs)
	}
}

func TestSubmitWorkerFailure(t *testing.T) {
	ts := newTestStack(t, "/bin/sh", "-c", "echo boom; exit 7")

	job, err := ts.engine.Submit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitForStatus(t, job, model.StatusFailed, 5*time.Second)
	if snap.ExitCode == nil || *snap.ExitCode != 7 {
		t.Errorf("exit code = %v, want 7", snap.ExitCode)
	}
	if snap.CompletionTime == nil {
		t.Error("completion_time is nil on failed job")
	}
}

func TestSubmitSpawnFailure(t *testing.T) {
	ts := newTestStack(t, "/nonexistent/worker/binary")

	job, err := ts.engine.Submit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitForStatus(t, job, model.StatusError, 5*time.Second)
	if snap.CompletionTime == nil {
		t.Error("completion_time is nil on error job")
	}
}

func TestStopRunningJob(t *testing.T) {
	ts := newTestStack(t, "/bin/sh", "-c", "echo started; sleep 30")
	sub := ts.subscribe(t, "alice")

	job, err := ts.engine.Submit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, job, model.StatusRunning, 5*time.Second)

	start := time.Now()
	if err := ts.engine.Stop(job.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	snap := waitForStatus(t, job, model.StatusStopped, 5*time.Second)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stop took %v, want well under grace period plus slack", elapsed)
	}
	if snap.CompletionTime == nil {
		t.Error("completion_time is nil on stopped job")
	}
	waitForStateEvent(t, sub, model.StatusStopped, 5*time.Second)

	var statuses []string
	for _, ev := range sub.recorded() {
		if ev.Type == model.EventState {
			statuses = append(statuses, ev.Status)
		}
	}
	want := []string{model.StatusRunning, model.StatusStopping, model.StatusStopped}
	if len(statuses) != len(want) {
		t.Fatalf("status sequence = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("status sequence = %v, want %v", statuses, want)
		}
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	// Worker ignores SIGTERM; the engine must escalate to SIGKILL after the
	// grace period.
	ts := newTestStack(t, "/bin/sh", "-c", "trap \"\" TERM; echo ignoring; sleep 30")

	job, err := ts.engine.Submit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, job, model.StatusRunning, 5*time.Second)

	if err := ts.engine.Stop(job.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	waitForStatus(t, job, model.StatusStopped, 5*time.Second)
}

func TestStopTerminalJobIsInvalid(t *testing.T) {
	ts := newTestStack(t, "/bin/sh", "-c", "exit 0")

	job, err := ts.engine.Submit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	before := waitForStatus(t, job, model.StatusCompleted, 5*time.Second)

	err = ts.engine.Stop(job.ID())
	var ite *engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("Stop on completed job = %v, want InvalidTransitionError", err)
	}

	// The rejected stop must not mutate the job.
	after := job.Snapshot()
	if after.Status != before.Status || !after.CompletionTime.Equal(*before.CompletionTime) {
		t.Errorf("job mutated by rejected stop: %+v vs %+v", after, before)
	}
}

func TestStopUnknownJob(t *testing.T) {
	ts := newTestStack(t, "/bin/sh", "-c", "exit 0")

	if err := ts.engine.Stop("nonexistent"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("Stop unknown = %v, want ErrNotFound", err)
	}
}

func TestTenantCapFromStoredConfig(t *testing.T) {
	ts := newTestStack(t, "/bin/sh", "-c", "sleep 30")

	cfg := model.DefaultScrapeConfig()
	cfg.Concurrent.MaxConcurrentJobs = 1
	if err := ts.store.PutConfig(context.Background(), "alice", &cfg); err != nil {
		t.Fatalf("PutConfig: %v", err)
	}

	j1, err := ts.engine.Submit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, j1, model.StatusRunning, 5*time.Second)

	_, err = ts.engine.Submit(context.Background(), "alice")
	var ree *engine.ResourceExhaustedError
	if !errors.As(err, &ree) {
		t.Fatalf("second Submit = %v, want ResourceExhaustedError", err)
	}
	if ree.Cap != 1 || ree.Current != 1 {
		t.Errorf("ResourceExhausted cap/current = %d/%d, want 1/1", ree.Cap, ree.Current)
	}

	// Capacity frees up after the first job terminates.
	if err := ts.engine.Stop(j1.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitForStatus(t, j1, model.StatusStopped, 5*time.Second)

	j2, err := ts.engine.Submit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Submit after release: %v", err)
	}
	waitForStatus(t, j2, model.StatusRunning, 5*time.Second)
	if err := ts.engine.Stop(j2.ID()); err != nil {
		t.Fatalf("Stop j2: %v", err)
	}
	ts.engine.Wait()
}

func TestNoiseLinesAreFiltered(t *testing.T) {
	ts := newTestStack(t, "/bin/sh", "-c", "echo real progress; echo \"Exception ignored in: <function Chrome.__del__ at 0x1>\"; echo done")
	sub := ts.subscribe(t, "alice")

	job, err := ts.engine.Submit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, job, model.StatusCompleted, 5*time.Second)

	for _, ev := range sub.recorded() {
		if ev.Type == model.EventLog && strings.Contains(ev.Message, "Exception ignored") {
			t.Errorf("noise line delivered: %q", ev.Message)
		}
	}
}

func TestConfigArtifactWritten(t *testing.T) {
	ts := newTestStack(t, "/bin/sh", "-c", "exit 0")

	cfg := model.DefaultScrapeConfig()
	cfg.BaseURL = "https://example.com"
	if err := ts.store.PutConfig(context.Background(), "alice", &cfg); err != nil {
		t.Fatalf("PutConfig: %v", err)
	}

	job, err := ts.engine.Submit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, job, model.StatusCompleted, 5*time.Second)

	data, err := os.ReadFile(filepath.Join(job.OutputDir(), engine.ArtifactConfig))
	if err != nil {
		t.Fatalf("read config artifact: %v", err)
	}
	for _, want := range []string{job.ID(), "alice", "https://example.com", "scraped_data.json", `"headless": true`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("config artifact missing %q", want)
		}
	}
}

func TestTenantIsolation(t *testing.T) {
	ts := newTestStack(t, "/bin/sh", "-c", "echo secret for alice")
	aliceSub := ts.subscribe(t, "alice")
	bobSub := ts.subscribe(t, "bob")

	job, err := ts.engine.Submit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, job, model.StatusCompleted, 5*time.Second)

	if len(bobSub.recorded()) != 0 {
		t.Errorf("bob received %d of alice's events, want 0", len(bobSub.recorded()))
	}
	for _, ev := range aliceSub.recorded() {
		if ev.TenantID != "alice" {
			t.Errorf("event tenant = %q, want alice", ev.TenantID)
		}
	}
}

func TestShutdownStopsActiveJobs(t *testing.T) {
	ts := newTestStack(t, "/bin/sh", "-c", "sleep 30")

	job, err := ts.engine.Submit(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, job, model.StatusRunning, 5*time.Second)

	done := make(chan struct{})
	go func() {
		ts.engine.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return within 5s")
	}
	if got := job.Status(); got != model.StatusStopped {
		t.Errorf("status after shutdown = %q, want stopped", got)
	}
}
