package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rkpu-viewer/livetrack/pkg/feed"
	"github.com/rkpu-viewer/livetrack/pkg/track"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	clientSendSize = 8
)

// Frame is one websocket message pushed to the rendering layer.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// snapshotFrame is the payload of an aircraft:snapshot frame.
type snapshotFrame struct {
	Aircraft []feed.Aircraft          `json:"aircraft"`
	Trails   map[string][]track.Point `json:"trails"`
}

// Hub fans each completed poll cycle out to connected websocket clients.
// A slow client gets dropped, never blocks the engine.
type Hub struct {
	engine  Engine
	updates <-chan struct{}
	logger  *log.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub reading cycle-complete tokens from updates.
func NewHub(engine Engine, updates <-chan struct{}, logger *log.Logger) *Hub {
	return &Hub{
		engine:  engine,
		updates: updates,
		logger:  logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// CORS policy is enforced by the router middleware; the
			// websocket handshake accepts the same origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Run broadcasts a snapshot frame per completed poll cycle until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.updates:
			frame, err := h.buildSnapshotFrame()
			if err != nil {
				h.logger.Printf("api: snapshot frame: %v", err)
				continue
			}
			h.broadcast(frame)
		}
	}
}

// HandleWS upgrades the connection and registers the client. The client
// receives a full snapshot immediately, then one frame per poll cycle.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("api: websocket upgrade: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendSize)}

	if frame, err := h.buildSnapshotFrame(); err == nil {
		c.send <- frame
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) buildSnapshotFrame() ([]byte, error) {
	payload, err := json.Marshal(snapshotFrame{
		Aircraft: h.engine.Snapshot(),
		Trails:   h.engine.Trails(),
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: "aircraft:snapshot", Data: payload})
}

func (h *Hub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			// Client can't keep up; cut it loose.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client messages; the feed is one-way, so anything received
// is discarded. Its real job is noticing the close.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
