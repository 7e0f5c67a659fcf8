package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State is a peer's connection state.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

const writeWait = 10 * time.Second

var errNotOpen = errors.New("client is not open")

// Conn is the subset of *websocket.Conn the hub needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one connected peer. It is owned by its Hub.
type Client struct {
	ID          string
	ConnectedAt time.Time
	RemoteAddr  string
	UserAgent   string

	hub   *Hub
	conn  Conn
	state atomic.Int32
	send  chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// ClientInfo is a snapshot of a Client.
type ClientInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connectedAt"`
	RemoteAddr  string    `json:"remoteAddr"`
	UserAgent   string    `json:"userAgent"`
	State       string    `json:"state"`
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) info() ClientInfo {
	return ClientInfo{
		ID:          c.ID,
		ConnectedAt: c.ConnectedAt,
		RemoteAddr:  c.RemoteAddr,
		UserAgent:   c.UserAgent,
		State:       c.State().String(),
	}
}

// enqueue queues a frame without blocking. It reports false when the client
// is not OPEN or its buffer is full.
func (c *Client) enqueue(frame []byte) bool {
	if c.State() != StateOpen {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close moves the client to CLOSED and releases the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) write(frame []byte) error {
	if c.State() != StateOpen {
		return errNotOpen
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) readPump() {
	defer c.hub.remove(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read failed", "client_id", c.ID, "err", err)
			}
			return
		}
		c.hub.handle(c, data)
	}
}

// writePump is the only goroutine that writes to the socket. It also emits
// heartbeats while the client is OPEN.
func (c *Client) writePump(heartbeat time.Duration) {
	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.hub.logger.Debug("websocket write failed", "client_id", c.ID, "err", err)
				c.hub.remove(c)
				return
			}
		case <-tick:
			if c.State() != StateOpen {
				return
			}
			frame := c.hub.encode(TypeHeartbeat, map[string]any{"timestamp": c.hub.timestamp()})
			if err := c.write(frame); err != nil {
				c.hub.logger.Debug("websocket heartbeat failed", "client_id", c.ID, "err", err)
				c.hub.remove(c)
				return
			}
		}
	}
}
