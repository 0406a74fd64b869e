package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trawler-io/trawler/internal/model"
)

const (
	// sendBufferSize is the outbound event buffer per connection. Events are
	// dropped for a subscriber that falls this far behind.
	sendBufferSize = 64

	wsWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin enforcement happens at the CORS layer / proxy.
	},
}

// initMessage is the required first frame on a new connection.
type initMessage struct {
	Type     string `json:"type"`
	TenantID string `json:"tenant_id"`
}

// wsClient adapts a gorilla connection to hub.Sender. All writes go through a
// buffered channel drained by a single write pump, so event delivery from the
// broadcaster never blocks on the network.
type wsClient struct {
	conn *websocket.Conn
	send chan model.Event
	done chan struct{}
	once sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan model.Event, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Send queues an event for delivery. It never blocks: a full buffer or closed
// connection yields an error for the broadcaster to log.
func (c *wsClient) Send(ev model.Event) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.send <- ev:
		return nil
	default:
		return errors.New("send buffer full, event dropped")
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump serializes all writes to the connection.
func (c *wsClient) writePump() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.close()
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade", "error", err)
		return
	}
	client := newWSClient(conn)

	// No tenant identity, no room membership, no events: the first frame must
	// be a valid init within the handshake deadline or the socket is closed.
	_ = conn.SetReadDeadline(time.Now().Add(s.initDeadline))
	var init initMessage
	if err := conn.ReadJSON(&init); err != nil || init.Type != "init" || init.TenantID == "" {
		s.logger.Warn("rejecting connection without valid init", "remote", conn.RemoteAddr().String())
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "init message with tenant_id required")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		client.close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	// The replay payload is snapshotted before the connection joins its room.
	// An event published after this point reaches the client live only, so the
	// client never sees it both live and in replay; one published during the
	// snapshot itself is replay-only.
	var replay []model.Event
	for _, job := range s.engine.Registry().ListByTenant(init.TenantID) {
		snap := job.Snapshot()
		replay = append(replay, model.StateEvent(snap.ID, snap.TenantID, snap.Status, "Current job status: "+snap.Status))
		replay = append(replay, s.engine.Broadcaster().History(snap.ID)...)
	}

	connID := s.hub.Connect(client)
	if err := s.hub.Init(connID, init.TenantID); err != nil {
		s.hub.Disconnect(connID)
		client.close()
		return
	}
	wsConnections.Inc()

	go client.writePump()

	// Connection confirmation, then the tenant's job states and recorded
	// history so a late joiner catches up.
	_ = client.Send(model.Event{
		Type:      model.EventConnection,
		JobID:     "system",
		TenantID:  init.TenantID,
		Status:    "connected",
		Message:   fmt.Sprintf("connection established for tenant %s", init.TenantID),
		Timestamp: time.Now().UTC(),
	})
	for _, ev := range replay {
		if err := client.Send(ev); err != nil {
			s.logger.Warn("history replay truncated", "conn_id", connID, "error", err)
			break
		}
	}

	// Inbound frames after init carry nothing the server acts on; the read
	// loop exists to notice disconnects and control frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.hub.Disconnect(connID)
	client.close()
	wsConnections.Dec()
	s.logger.Info("websocket client disconnected", "conn_id", connID, "tenant_id", init.TenantID)
}
