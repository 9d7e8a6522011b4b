package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vaultgate/vaultgate/internal/pkg/logger"
)

const (
	WriteWait    = 10 * time.Second
	PingPeriod   = 15 * time.Second // Keep-alive interval
	SendBufSize  = 64
)

// Event is one broadcast message: round rolls, deposits, swaps, settlements.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"ts"`
}

// Hub fans vault and bridge events out to connected websocket clients.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The gateway fronts trusted API callers; origin checks are
			// handled by the API key layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Publish satisfies the event sink used by the vault and bridge services.
// A slow client gets dropped rather than backing up the caller.
func (h *Hub) Publish(eventType string, data map[string]any) {
	ev := Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			logger.Warn("Dropping stream event for slow client", "type", eventType)
		}
	}
}

// Handler upgrades the request and serves the client until it disconnects.
func (h *Hub) Handler(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Websocket upgrade failed", "error", err)
		return
	}

	cl := &client{conn: conn, send: make(chan Event, SendBufSize)}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(cl)
	h.readLoop(cl)
}

func (h *Hub) writeLoop(cl *client) {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-cl.send:
			if !ok {
				return
			}
			cl.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames; the stream is publish-only. It exists
// to notice disconnects and process control frames.
func (h *Hub) readLoop(cl *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, cl)
		h.mu.Unlock()
		close(cl.send)
		cl.conn.Close()
	}()

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ClientCount reports connected clients, for the health endpoint.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
