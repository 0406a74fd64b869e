package engine_test

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/trawler-io/trawler/internal/engine"
	"github.com/trawler-io/trawler/internal/hub"
	"github.com/trawler-io/trawler/internal/model"
)

type broadcastFixture struct {
	registry    *engine.Registry
	hub         *hub.Hub
	broadcaster *engine.Broadcaster
}

func newBroadcastFixture(t *testing.T, historyLimit, dedupWindow int) *broadcastFixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	rooms := hub.New(logger)
	reg := engine.NewRegistry(t.TempDir(), 3)
	return &broadcastFixture{
		registry:    reg,
		hub:         rooms,
		broadcaster: engine.NewBroadcaster(reg, rooms, logger, historyLimit, dedupWindow),
	}
}

func (fx *broadcastFixture) join(t *testing.T, tenant string) *fakeSender {
	t.Helper()
	s := &fakeSender{}
	connID := fx.hub.Connect(s)
	if err := fx.hub.Init(connID, tenant); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestPublishDeliversToTenantRoom(t *testing.T) {
	fx := newBroadcastFixture(t, 100, 64)
	job, _ := fx.registry.Create("alice", 3)
	alice := fx.join(t, "alice")
	bob := fx.join(t, "bob")

	fx.broadcaster.Publish(model.LogEvent(job.ID(), "alice", "hello"))

	got := alice.recorded()
	if len(got) != 1 || got[0].Message != "hello" {
		t.Fatalf("alice received %v, want one hello event", got)
	}
	if len(bob.recorded()) != 0 {
		t.Errorf("bob received %d events, want 0", len(bob.recorded()))
	}
}

func TestPublishOverridesTenantFromRegistry(t *testing.T) {
	fx := newBroadcastFixture(t, 100, 64)
	job, _ := fx.registry.Create("alice", 3)
	alice := fx.join(t, "alice")

	// The publisher's claimed tenant is ignored in favor of the job's owner.
	fx.broadcaster.Publish(model.LogEvent(job.ID(), "mallory", "spoofed"))

	got := alice.recorded()
	if len(got) != 1 {
		t.Fatalf("alice received %d events, want 1", len(got))
	}
	if got[0].TenantID != "alice" {
		t.Errorf("event tenant = %q, want alice", got[0].TenantID)
	}
}

func TestPublishUnknownJobDropped(t *testing.T) {
	fx := newBroadcastFixture(t, 100, 64)
	alice := fx.join(t, "alice")

	fx.broadcaster.Publish(model.LogEvent("nope", "alice", "orphan"))

	if len(alice.recorded()) != 0 {
		t.Errorf("event for unknown job delivered, want dropped")
	}
	if h := fx.broadcaster.History("nope"); len(h) != 0 {
		t.Errorf("history recorded for unknown job: %v", h)
	}
}

func TestPublishDeduplicates(t *testing.T) {
	fx := newBroadcastFixture(t, 100, 64)
	job, _ := fx.registry.Create("alice", 3)
	alice := fx.join(t, "alice")

	fx.broadcaster.Publish(model.LogEvent(job.ID(), "alice", "repeated line"))
	fx.broadcaster.Publish(model.LogEvent(job.ID(), "alice", "repeated line"))
	fx.broadcaster.Publish(model.LogEvent(job.ID(), "alice", "another line"))

	if got := alice.recorded(); len(got) != 2 {
		t.Errorf("delivered %d events, want 2 (duplicate suppressed)", len(got))
	}
	if h := fx.broadcaster.History(job.ID()); len(h) != 2 {
		t.Errorf("history holds %d events, want 2", len(h))
	}
}

func TestDedupWindowEvicts(t *testing.T) {
	fx := newBroadcastFixture(t, 100, 2)
	job, _ := fx.registry.Create("alice", 3)
	alice := fx.join(t, "alice")

	fx.broadcaster.Publish(model.LogEvent(job.ID(), "alice", "one"))
	fx.broadcaster.Publish(model.LogEvent(job.ID(), "alice", "two"))
	fx.broadcaster.Publish(model.LogEvent(job.ID(), "alice", "three"))

	// "one" has been evicted from the window, so it delivers again.
	fx.broadcaster.Publish(model.LogEvent(job.ID(), "alice", "one"))

	if got := alice.recorded(); len(got) != 4 {
		t.Errorf("delivered %d events, want 4 after window eviction", len(got))
	}
}

func TestHistoryBounded(t *testing.T) {
	fx := newBroadcastFixture(t, 3, 1024)
	job, _ := fx.registry.Create("alice", 3)

	for i := 0; i < 5; i++ {
		fx.broadcaster.Publish(model.LogEvent(job.ID(), "alice", fmt.Sprintf("line %d", i)))
	}

	h := fx.broadcaster.History(job.ID())
	if len(h) != 3 {
		t.Fatalf("history holds %d events, want 3", len(h))
	}
	// Oldest entries are dropped first.
	for i, want := range []string{"line 2", "line 3", "line 4"} {
		if h[i].Message != want {
			t.Errorf("history[%d] = %q, want %q", i, h[i].Message, want)
		}
	}
}

func TestDeliveryFailureDoesNotAffectOthers(t *testing.T) {
	fx := newBroadcastFixture(t, 100, 64)
	job, _ := fx.registry.Create("alice", 3)

	broken := &fakeSender{err: errors.New("send buffer full")}
	fx.hub.Init(fx.hub.Connect(broken), "alice")
	healthy := fx.join(t, "alice")

	fx.broadcaster.Publish(model.LogEvent(job.ID(), "alice", "still flowing"))

	if got := healthy.recorded(); len(got) != 1 {
		t.Errorf("healthy connection received %d events, want 1", len(got))
	}
}

func TestForgetClearsHistory(t *testing.T) {
	fx := newBroadcastFixture(t, 100, 64)
	job, _ := fx.registry.Create("alice", 3)

	fx.broadcaster.Publish(model.LogEvent(job.ID(), "alice", "entry"))
	fx.broadcaster.Forget(job.ID())

	if h := fx.broadcaster.History(job.ID()); len(h) != 0 {
		t.Errorf("history after Forget = %v, want empty", h)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	fx := newBroadcastFixture(t, 100, 64)
	job, _ := fx.registry.Create("alice", 3)

	fx.broadcaster.Publish(model.LogEvent(job.ID(), "alice", "original"))

	h := fx.broadcaster.History(job.ID())
	h[0].Message = "mutated"

	if again := fx.broadcaster.History(job.ID()); again[0].Message != "original" {
		t.Error("History exposed internal storage")
	}
}
