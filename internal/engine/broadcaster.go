package engine

import (
	"log/slog"
	"sync"

	"github.com/trawler-io/trawler/internal/hub"
	"github.com/trawler-io/trawler/internal/model"
)

// Broadcaster publishes job events to the owning tenant's room. It keeps a
// bounded per-job history for replay to late-joining subscribers and a bounded
// window of recent fingerprints to suppress duplicate emission. Publishing
// never blocks on subscribers: with no room, events land in history only.
type Broadcaster struct {
	registry *Registry
	hub      *hub.Hub
	logger   *slog.Logger

	mu           sync.Mutex
	history      map[string][]model.Event
	seen         map[string]bool
	seenOrder    []string
	historyLimit int
	dedupWindow  int
}

// NewBroadcaster creates a broadcaster resolving job ownership through the
// registry and delivery targets through the hub.
func NewBroadcaster(reg *Registry, h *hub.Hub, logger *slog.Logger, historyLimit, dedupWindow int) *Broadcaster {
	return &Broadcaster{
		registry:     reg,
		hub:          h,
		logger:       logger,
		history:      make(map[string][]model.Event),
		seen:         make(map[string]bool),
		historyLimit: historyLimit,
		dedupWindow:  dedupWindow,
	}
}

// Publish records the event in the job's history and delivers it to every
// connection in the owning tenant's room. Events for unknown jobs are dropped.
// A duplicate of a recently published event is neither recorded again nor
// re-delivered. A delivery failure on one connection does not affect the
// others.
func (b *Broadcaster) Publish(ev model.Event) {
	job, err := b.registry.Get(ev.JobID)
	if err != nil {
		b.logger.Warn("dropping event for unknown job", "job_id", ev.JobID, "type", ev.Type)
		return
	}
	// The job's registered owner is authoritative for routing, whatever the
	// event claims.
	tenantID := job.TenantID()
	ev.TenantID = tenantID

	fp := fingerprint(ev)

	b.mu.Lock()
	if b.seen[fp] {
		b.mu.Unlock()
		return
	}
	b.rememberLocked(fp)

	hist := append(b.history[ev.JobID], ev)
	if len(hist) > b.historyLimit {
		hist = hist[len(hist)-b.historyLimit:]
	}
	b.history[ev.JobID] = hist
	b.mu.Unlock()

	eventsPublished.Inc()

	for connID, sender := range b.hub.ConnectionsFor(tenantID) {
		if err := sender.Send(ev); err != nil {
			b.logger.Error("event delivery failed", "conn_id", connID, "job_id", ev.JobID, "error", err)
		}
	}
}

// rememberLocked records a fingerprint, evicting the oldest once the window is
// full. Caller holds b.mu.
func (b *Broadcaster) rememberLocked(fp string) {
	b.seen[fp] = true
	b.seenOrder = append(b.seenOrder, fp)
	if len(b.seenOrder) > b.dedupWindow {
		delete(b.seen, b.seenOrder[0])
		b.seenOrder = b.seenOrder[1:]
	}
}

// History returns a copy of the job's recorded events, oldest first.
func (b *Broadcaster) History(jobID string) []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	hist := b.history[jobID]
	if len(hist) == 0 {
		return nil
	}
	out := make([]model.Event, len(hist))
	copy(out, hist)
	return out
}

// Forget drops a job's history. The reaper calls this when it removes the job.
func (b *Broadcaster) Forget(jobID string) {
	b.mu.Lock()
	delete(b.history, jobID)
	b.mu.Unlock()
}

// fingerprint derives the dedup key from the job id and event payload.
func fingerprint(ev model.Event) string {
	return ev.JobID + "\x00" + ev.Type + "\x00" + ev.Status + "\x00" + ev.Message
}
