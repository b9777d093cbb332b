package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames; clients only listen.
	maxMessageSize = 512

	sendChannelSize = 256
)

// feedMessage is the wire shape of every live-feed push.
type feedMessage struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// wsClient represents a single dashboard WebSocket connection.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans analysis lifecycle events out to connected dashboard clients so
// open views can refetch without polling.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient

	mu     sync.RWMutex
	logger *zap.SugaredLogger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// upgrader allows all origins; corsMiddleware already vetted the request.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a hub. Start must be called exactly once before use.
func NewHub(ctx context.Context, logger *zap.SugaredLogger) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		logger:     logger,
		ctx:        hubCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs the hub event loop until Stop or context cancellation.
func (h *Hub) Start() {
	defer close(h.done)
	h.logger.Info("WebSocket hub started")

	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				c.conn.Close()
			}
			h.clients = make(map[*wsClient]bool)
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow client, drop it rather than stall the feed.
					go func(dead *wsClient) {
						h.unregister <- dead
						dead.conn.Close()
					}(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast pushes an event to every connected client. Non-blocking; a stuffed
// broadcast queue drops the message rather than slowing the caller.
func (h *Hub) Broadcast(event string, payload interface{}) {
	body, err := json.Marshal(feedMessage{Event: event, Data: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.Errorw("Failed to marshal feed message", "event", event, "error", err)
		return
	}
	select {
	case h.broadcast <- body:
	default:
		h.logger.Warnw("Feed broadcast queue full, dropping message", "event", event)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts the hub down and waits for the event loop to drain.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Clients never send application messages; read only to notice close.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("WebSocket unexpected close", "error", err)
			}
			break
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
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

// serveWebSocket upgrades a dashboard connection and joins it to the hub.
func (a *API) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "Live feed is disabled", nil, a.logger)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{hub: a.hub, conn: conn, send: make(chan []byte, sendChannelSize)}
	c.hub.register <- c

	go c.writePump()
	go c.readPump()
}
