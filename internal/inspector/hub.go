// Package inspector serves the UI-facing HTTP+WebSocket surface: session
// control (start/stop/state) and a push channel carrying every capture
// and diagnostic event plus state-change broadcasts, fanned out to every
// connected inspector UI at once.
package inspector

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nimbusbrowse/netwatch/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope is the JSON shape pushed to, and read from, every inspector
// WebSocket connection.
type Envelope struct {
	Channel   string `json:"channel"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// Hub fans incoming broadcasts out to every connected client, and routes
// every client-sent frame to a single onMessage handler — generalized
// from a single-client register/unregister/broadcast loop into a client
// set, since an inspector session may have more than one UI attached
// (a window plus a headless watcher, for instance).
type Hub struct {
	log *logging.Logger

	mu      sync.RWMutex
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	onMessage func([]byte)
}

// Client is one inspector WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns a Hub whose client-sent frames are delivered to
// onMessage. onMessage may be nil, in which case inbound frames are
// read and discarded (keeping the connection alive) but otherwise
// ignored.
func NewHub(log *logging.Logger, onMessage func([]byte)) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		onMessage:  onMessage,
	}
}

// Run drives the hub's register/unregister/broadcast loop. Call it in
// its own goroutine; it never returns.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("inspector client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("inspector client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.log.Warn("inspector client send buffer full, dropping message")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast marshals channel/payload into an Envelope and fans it out to
// every connected client. Marshal failures are logged and swallowed —
// a malformed event must never interrupt capture.
func (h *Hub) Broadcast(channel string, payload any) {
	env := Envelope{Channel: channel, Payload: payload, Timestamp: time.Now().UnixMilli()}

	data, err := json.Marshal(env)
	if err != nil {
		h.log.Warn("failed to marshal inspector envelope", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("inspector broadcast channel full, dropping message")
	}
}

// ServeWS upgrades r into a WebSocket connection and registers it with
// the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("inspector websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if c.hub.onMessage != nil {
			c.hub.onMessage(data)
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
