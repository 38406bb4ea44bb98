package emitter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/e7canasta/tilefeed/internal/types"
)

// HubConfig configures the websocket hub.
type HubConfig struct {
	// SendBuffer is the per-client queue length; a client whose queue is
	// full misses the message.
	SendBuffer   int
	WriteTimeout time.Duration
	// CheckOrigin overrides the upgrader's same-origin check.
	CheckOrigin func(r *http.Request) bool
}

type message struct {
	kind int
	data []byte
}

type client struct {
	conn *websocket.Conn
	send chan message
}

// envelope wraps events sent as websocket text messages.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub broadcasts events to every connected websocket client. Events go out
// as JSON text messages; the screen feed as binary messages.
//
// Thread-safety: all methods are safe for concurrent use.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	joins   atomic.Uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewHub creates a hub; mount it on an http.ServeMux.
func NewHub(cfg HubConfig) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 8192,
			CheckOrigin:     cfg.CheckOrigin,
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the connection and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("emitter: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan message, h.cfg.SendBuffer)}
	if !h.register(c) {
		conn.Close()
		return
	}
	slog.Info("emitter: websocket client joined", "remote", r.RemoteAddr, "clients", h.Clients())

	go h.writeLoop(c)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.unregister(c)
	slog.Info("emitter: websocket client left", "remote", r.RemoteAddr, "clients", h.Clients())
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.joins.Add(1)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
			slog.Debug("emitter: websocket write failed", "error", err)
			return
		}
		h.sent.Add(1)
	}
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Broadcast queues data for every client without blocking.
func (h *Hub) Broadcast(kind int, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- message{kind: kind, data: data}:
		default:
			h.dropped.Add(1)
		}
	}
}

// BroadcastBinary sends data as a binary message.
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(websocket.BinaryMessage, data)
}

func (h *Hub) broadcastEvent(kind string, v any) error {
	data, err := json.Marshal(envelope{Type: kind, Data: v})
	if err != nil {
		return fmt.Errorf("emitter: marshal %s event: %w", kind, err)
	}
	h.Broadcast(websocket.TextMessage, data)
	return nil
}

// PublishFrame implements Publisher.
func (h *Hub) PublishFrame(ev types.FrameEvent) error {
	return h.broadcastEvent("frame", ev)
}

// PublishDialog implements Publisher.
func (h *Hub) PublishDialog(ev types.DialogEvent) error {
	return h.broadcastEvent("dialog", ev)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Joins returns the number of clients that ever connected.
func (h *Hub) Joins() uint64 { return h.joins.Load() }

// Stats returns hub statistics
func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients: h.Clients(),
		Joins:   h.joins.Load(),
		Sent:    h.sent.Load(),
		Dropped: h.dropped.Load(),
	}
}

// HubStats contains hub statistics
type HubStats struct {
	Clients int
	Joins   uint64
	Sent    uint64
	Dropped uint64
}
