// Package hub tracks live subscriber connections and groups them into
// per-tenant rooms. A connection joins a room only after a successful init
// handshake binds it to a tenant; until then it receives nothing.
package hub

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/trawler-io/trawler/internal/model"
)

var (
	// ErrUnknownConnection is returned for operations on a connection id that
	// was never registered or has already disconnected.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrMissingTenant is returned when an init carries an empty tenant id.
	ErrMissingTenant = errors.New("tenant id is required")
)

// Sender delivers a single event to one subscriber connection. Implementations
// must not block indefinitely; a slow subscriber should drop or error, never
// stall the caller.
type Sender interface {
	Send(ev model.Event) error
}

type connection struct {
	id       string
	tenantID string // empty until Init
	sender   Sender
}

// Hub is the connection registry. It is safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*connection
	rooms  map[string]map[string]*connection // tenant id -> conn id -> connection
	logger *slog.Logger
}

// New creates an empty Hub.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*connection),
		rooms:  make(map[string]map[string]*connection),
		logger: logger,
	}
}

// Connect registers a new connection with no tenant bound and returns its id.
func (h *Hub) Connect(sender Sender) string {
	id := uuid.NewString()

	h.mu.Lock()
	h.conns[id] = &connection{id: id, sender: sender}
	h.mu.Unlock()

	h.logger.Debug("connection registered", "conn_id", id)
	return id
}

// Init binds a connection to a tenant's room. A connection may be initialized
// at most once; re-initializing moves it between rooms, which the transport
// layer never does in practice but is harmless.
func (h *Hub) Init(connID, tenantID string) error {
	if tenantID == "" {
		return ErrMissingTenant
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}

	if c.tenantID != "" {
		h.leaveRoomLocked(c)
	}
	c.tenantID = tenantID

	room, ok := h.rooms[tenantID]
	if !ok {
		room = make(map[string]*connection)
		h.rooms[tenantID] = room
	}
	room[connID] = c

	h.logger.Info("connection joined room", "conn_id", connID, "tenant_id", tenantID, "room_size", len(room))
	return nil
}

// Disconnect removes a connection from the registry and from its room. The
// room entry is deleted once empty.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(h.conns, connID)
	if c.tenantID != "" {
		h.leaveRoomLocked(c)
		h.logger.Info("connection left room", "conn_id", connID, "tenant_id", c.tenantID)
	}
}

// leaveRoomLocked removes c from its room, dropping the room when empty.
// Caller holds h.mu.
func (h *Hub) leaveRoomLocked(c *connection) {
	room, ok := h.rooms[c.tenantID]
	if !ok {
		return
	}
	delete(room, c.id)
	if len(room) == 0 {
		delete(h.rooms, c.tenantID)
	}
}

// ConnectionsFor returns the senders currently subscribed to a tenant's room,
// keyed by connection id. The returned map is a snapshot; callers may iterate
// it without holding any hub lock.
func (h *Hub) ConnectionsFor(tenantID string) map[string]Sender {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[tenantID]
	if len(room) == 0 {
		return nil
	}
	out := make(map[string]Sender, len(room))
	for id, c := range room {
		out[id] = c.sender
	}
	return out
}

// TenantOf returns the tenant a connection is bound to, or false if the
// connection is unknown or not yet initialized.
func (h *Hub) TenantOf(connID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok || c.tenantID == "" {
		return "", false
	}
	return c.tenantID, true
}

// Count returns the total number of registered connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
