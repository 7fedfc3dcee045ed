package control

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ftahirops/qplane/bus"
	"github.com/ftahirops/qplane/config"
)

// Dashboard stream names. Broadcast callers use these; clients learn
// them from the welcome frame.
const (
	StreamSnapshot     = "snapshot"
	StreamBurnRate     = "burn_rate"
	StreamCorrelations = "correlations"
	StreamAlerts       = "alerts"
	StreamEvents       = "events"
)

// sendFailureLimit closes a client after this many consecutive
// undeliverable frames. Single failures only drop the frame; the
// dashboard is advisory.
const sendFailureLimit = 3

// StreamNames lists the broadcastable streams in stable order.
func StreamNames() []string {
	return []string{StreamSnapshot, StreamBurnRate, StreamCorrelations, StreamAlerts, StreamEvents}
}

// Frame is one message pushed to a dashboard client.
type Frame struct {
	Type      string `json:"type"` // welcome, update, error
	Stream    string `json:"stream,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// Welcome is the payload of the first frame after Register.
type Welcome struct {
	ClientID string   `json:"client_id"`
	Streams  []string `json:"streams"`
}

// ClientMessage is the inbound control message from a client.
type ClientMessage struct {
	Type    string            `json:"type"` // subscribe, unsubscribe, set_filters, heartbeat
	Streams []string          `json:"streams,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
}

// Conn is the transport half of one dashboard client. The api package
// adapts SSE onto it; the TUI plugs in an in-process implementation.
type Conn interface {
	Send(Frame) error
	Close()
}

type streamClient struct {
	id            string
	conn          Conn
	subscriptions map[string]bool
	filters       map[string]string
	lastHeartbeat int64
	sendFailures  int
}

// StreamHub fans control-plane updates out to dashboard clients.
// Delivery is best-effort: a frame that cannot be sent is dropped, a
// client that keeps failing or stops heartbeating is closed.
type StreamHub struct {
	mu      sync.Mutex
	clock   bus.Clock
	cfg     config.DashboardConfig
	clients map[string]*streamClient
}

func NewStreamHub(clock bus.Clock, cfg config.DashboardConfig) *StreamHub {
	return &StreamHub{
		clock:   clock,
		cfg:     cfg,
		clients: make(map[string]*streamClient),
	}
}

// Register adds a client and sends its welcome frame. The returned id
// keys all later ProcessMessage calls.
func (h *StreamHub) Register(conn Conn) (string, error) {
	if conn == nil {
		return "", NewError(ErrCodeInvalidInput, "nil connection")
	}
	now := h.clock.Now()
	c := &streamClient{
		id:            uuid.NewString(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		filters:       make(map[string]string),
		lastHeartbeat: now,
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	err := conn.Send(Frame{
		Type:      "welcome",
		Timestamp: now,
		Payload:   Welcome{ClientID: c.id, Streams: StreamNames()},
	})
	if err != nil {
		h.Unregister(c.id)
		return "", WrapError(ErrCodeCollaborator, err, "welcome frame")
	}
	return c.id, nil
}

// Unregister closes and forgets a client. Unknown ids are a no-op.
func (h *StreamHub) Unregister(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	h.mu.Unlock()

	if ok {
		c.conn.Close()
	}
}

// ProcessMessage applies one client control message.
func (h *StreamHub) ProcessMessage(clientID string, msg ClientMessage) error {
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return NewError(ErrCodeInvalidInput, "unknown client %q", clientID)
	}

	switch msg.Type {
	case "subscribe":
		for _, s := range msg.Streams {
			c.subscriptions[s] = true
		}
	case "unsubscribe":
		for _, s := range msg.Streams {
			delete(c.subscriptions, s)
		}
	case "set_filters":
		c.filters = make(map[string]string, len(msg.Filters))
		for k, v := range msg.Filters {
			c.filters[k] = v
		}
	case "heartbeat":
		c.lastHeartbeat = now
	default:
		return NewError(ErrCodeInvalidInput, "unknown message type %q", msg.Type)
	}
	return nil
}

// Broadcast pushes payload to every client subscribed to stream whose
// filters match. Returns the number of clients the frame went to.
func (h *StreamHub) Broadcast(stream string, payload any) int {
	now := h.clock.Now()
	frame := Frame{Type: "update", Stream: stream, Timestamp: now, Payload: payload}

	type target struct {
		id      string
		conn    Conn
		filters map[string]string
	}
	var targets []target
	filtered := false

	h.mu.Lock()
	for _, c := range h.clients {
		if !c.subscriptions[stream] {
			continue
		}
		t := target{id: c.id, conn: c.conn}
		if len(c.filters) > 0 {
			filtered = true
			t.filters = make(map[string]string, len(c.filters))
			for k, v := range c.filters {
				t.filters[k] = v
			}
		}
		targets = append(targets, t)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return 0
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	var fields map[string]string
	if filtered {
		fields = payloadFields(payload)
	}

	sent := 0
	for _, t := range targets {
		if len(t.filters) > 0 && !filtersMatch(t.filters, fields) {
			continue
		}
		if err := t.conn.Send(frame); err != nil {
			h.recordSendFailure(t.id)
			continue
		}
		h.clearSendFailures(t.id)
		sent++
	}
	return sent
}

func (h *StreamHub) recordSendFailure(clientID string) {
	var closing Conn
	h.mu.Lock()
	if c, ok := h.clients[clientID]; ok {
		c.sendFailures++
		if c.sendFailures >= sendFailureLimit {
			delete(h.clients, clientID)
			closing = c.conn
		}
	}
	h.mu.Unlock()

	if closing != nil {
		closing.Close()
	}
}

func (h *StreamHub) clearSendFailures(clientID string) {
	h.mu.Lock()
	if c, ok := h.clients[clientID]; ok {
		c.sendFailures = 0
	}
	h.mu.Unlock()
}

// ReapTick drops clients that have not heartbeated within twice the
// heartbeat interval. Called on the heartbeat ticker.
func (h *StreamHub) ReapTick() int {
	now := h.clock.Now()
	cutoff := 2 * h.cfg.HeartbeatInterval().Milliseconds()

	var dead []*streamClient
	h.mu.Lock()
	for id, c := range h.clients {
		if now-c.lastHeartbeat > cutoff {
			delete(h.clients, id)
			dead = append(dead, c)
		}
	}
	h.mu.Unlock()

	for _, c := range dead {
		c.conn.Close()
	}
	return len(dead)
}

// Clients reports the connected client count.
func (h *StreamHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Subscriptions returns a client's subscribed streams, sorted.
func (h *StreamHub) Subscriptions(clientID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.subscriptions))
	for s := range c.subscriptions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// payloadFields flattens a payload's top-level JSON fields to strings
// for exact-match filtering.
func payloadFields(payload any) map[string]string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64, bool, nil:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

func filtersMatch(filters, fields map[string]string) bool {
	for k, want := range filters {
		if fields[k] != want {
			return false
		}
	}
	return true
}
