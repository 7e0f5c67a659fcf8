// Package broadcast keeps the set of connected WebSocket peers and fans
// status, metrics, log and chat events out to them.
package broadcast

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"uas-server/internal/util"
)

const (
	welcomeMessage      = "Connected to UAS WebSocket server"
	subscribedMessage   = "Successfully subscribed to events"
	unsubscribedMessage = "Successfully unsubscribed from events"
	invalidFormat       = "Invalid message format"

	maxInboundBytes = 64 * 1024
)

// Recorder receives hub metrics. *monitor.Metrics implements it.
type Recorder interface {
	SetWSClients(n int)
	RecordWSMessage(msgType string)
	RecordWSDropped()
}

// Options configures a Hub.
type Options struct {
	Heartbeat  time.Duration
	SendBuffer int
	Recorder   Recorder
}

// Hub is the registry of connected peers. Peers are kept in registration
// order; each has its own writer goroutine and bounded send buffer.
type Hub struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.Mutex
	clients []*Client
}

func NewHub(opts Options, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Hub{
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// ServeHTTP upgrades the request and attaches the new peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(maxInboundBytes)
	h.Attach(conn, r.RemoteAddr, r.UserAgent())
}

// Attach registers conn, opens it, sends the welcome message and starts the
// peer's read and write loops.
func (h *Hub) Attach(conn Conn, remoteAddr, userAgent string) *Client {
	c := h.register(conn, remoteAddr, userAgent)
	c.state.Store(int32(StateOpen))

	h.logger.Info("websocket connection opened",
		"client_id", c.ID,
		"remote_addr", remoteAddr,
		"user_agent", userAgent,
	)

	c.enqueue(h.encode(TypeConnected, map[string]any{
		"message":    welcomeMessage,
		"serverTime": h.timestamp(),
	}))

	go c.writePump(h.opts.Heartbeat)
	go c.readPump()
	return c
}

func (h *Hub) register(conn Conn, remoteAddr, userAgent string) *Client {
	c := &Client{
		ID:          uuid.NewString(),
		ConnectedAt: h.now().UTC(),
		RemoteAddr:  remoteAddr,
		UserAgent:   userAgent,
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, h.opts.SendBuffer),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	h.clients = append(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	h.setClients(n)
	return c
}

// remove closes c and drops it from the registry.
func (h *Hub) remove(c *Client) {
	c.Close()

	h.mu.Lock()
	before := len(h.clients)
	h.clients = slices.DeleteFunc(h.clients, func(x *Client) bool { return x == c })
	n := len(h.clients)
	h.mu.Unlock()

	if n == before {
		return
	}
	h.setClients(n)
	h.logger.Info("websocket connection closed", "client_id", c.ID, "client_count", n)
}

func (h *Hub) handle(c *Client, data []byte) {
	if !json.Valid(data) || string(bytes.TrimSpace(data)) == "null" {
		h.logger.Debug("invalid websocket message", "client_id", c.ID)
		c.enqueue(h.encode(TypeError, map[string]any{"message": invalidFormat}))
		return
	}
	// Valid JSON that is not an object with a string type falls through
	// to the unknown-type answer.
	var in inbound
	_ = json.Unmarshal(data, &in)
	msgType := "undefined"
	if in.Type != nil {
		msgType = *in.Type
	}

	h.logger.Debug("websocket message received", "client_id", c.ID, "type", msgType)

	switch msgType {
	case "ping":
		c.enqueue(h.encode(TypePong, map[string]any{"timestamp": h.timestamp()}))
	case "subscribe":
		c.enqueue(h.encode(TypeSubscribed, map[string]any{
			"events":  requestedEvents(in.Data),
			"message": subscribedMessage,
		}))
	case "unsubscribe":
		c.enqueue(h.encode(TypeUnsubscribed, map[string]any{
			"events":  requestedEvents(in.Data),
			"message": unsubscribedMessage,
		}))
	default:
		c.enqueue(h.encode(TypeError, map[string]any{"message": "Unknown message type: " + msgType}))
	}
}

// Broadcast stamps the message and queues it for every OPEN peer in registration
// order. Peers in any other state are skipped. It returns the number of
// peers the message was queued for; a peer with a full buffer loses the
// message and is not counted.
//
// Broadcast only logs at debug level so it can back a slog handler.
func (h *Hub) Broadcast(msgType string, data any) int {
	frame := h.encode(msgType, data)

	h.mu.Lock()
	targets := slices.Clone(h.clients)
	h.mu.Unlock()

	sent, dropped := 0, 0
	for _, c := range targets {
		if c.State() != StateOpen {
			continue
		}
		if c.enqueue(frame) {
			sent++
		} else {
			dropped++
		}
	}

	if r := h.opts.Recorder; r != nil {
		r.RecordWSMessage(msgType)
		for i := 0; i < dropped; i++ {
			r.RecordWSDropped()
		}
	}
	h.logger.Debug("broadcast message", "type", msgType, "sent", sent, "dropped", dropped)
	return sent
}

// BroadcastAgentStatus announces an agent status change.
func (h *Hub) BroadcastAgentStatus(agentID, status string) int {
	return h.Broadcast(TypeAgentStatus, map[string]any{
		"agentId":   agentID,
		"status":    status,
		"timestamp": h.timestamp(),
	})
}

// BroadcastMetrics sends a metrics.update carrying every key of metrics.
func (h *Hub) BroadcastMetrics(metrics map[string]any) int {
	data := make(map[string]any, len(metrics)+1)
	for k, v := range metrics {
		data[k] = v
	}
	data["timestamp"] = h.timestamp()
	return h.Broadcast(TypeMetricsUpdate, data)
}

// BroadcastLog sends a logs.new event.
func (h *Hub) BroadcastLog(level, message string, metadata any) int {
	return h.Broadcast(TypeLogsNew, map[string]any{
		"level":     level,
		"message":   message,
		"metadata":  metadata,
		"timestamp": h.timestamp(),
	})
}

// BroadcastChatMessage sends a chat.message event. An empty model is
// reported as "default".
func (h *Hub) BroadcastChatMessage(user, assistant, model string) int {
	if model == "" {
		model = "default"
	}
	return h.Broadcast(TypeChatMessage, map[string]any{
		"user":      user,
		"assistant": assistant,
		"model":     model,
		"timestamp": h.timestamp(),
	})
}

// ClientCount returns the number of registered peers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Clients returns a snapshot of the registered peers in registration order.
func (h *Hub) Clients() []ClientInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c.info())
	}
	return out
}

// Shutdown closes every peer.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := h.clients
	h.clients = nil
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.setClients(0)
}

func (h *Hub) encode(msgType string, data any) []byte {
	b, err := json.Marshal(Message{Type: msgType, Data: data, Timestamp: h.timestamp()})
	if err != nil {
		h.logger.Debug("encode websocket message failed", "type", msgType, "err", err)
		b, _ = json.Marshal(Message{Type: msgType, Timestamp: h.timestamp()})
	}
	return b
}

func (h *Hub) timestamp() string {
	return util.Timestamp(h.now())
}

func (h *Hub) setClients(n int) {
	if h.opts.Recorder != nil {
		h.opts.Recorder.SetWSClients(n)
	}
}
