// Package notify fans change notifications out to websocket subscribers.
package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"live-transcription-service/internal/models"
	"live-transcription-service/internal/observability/logging"
)

var (
	// ErrHubClosed is returned by Notify once the hub has stopped.
	ErrHubClosed = errors.New("notification hub closed")
	// ErrHubBusy is returned when the broadcast queue is full.
	ErrHubBusy = errors.New("notification hub busy, event dropped")
)

const (
	clientBuffer = 32
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn   *websocket.Conn
	tenant string // empty subscribes to every tenant
	send   chan models.ContentChanged
}

// Hub manages websocket subscribers.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan models.ContentChanged
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     zerolog.Logger
}

// NewHub creates a hub. Call Run to start delivering.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan models.ContentChanged, 100),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logging.WithComponent("notify-hub"),
	}
}

// Run delivers events until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Str("tenantId", c.tenant).Int("clients", total).Msg("Subscriber connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Str("tenantId", c.tenant).Int("clients", total).Msg("Subscriber disconnected")

		case ev := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if c.tenant != "" && c.tenant != ev.TenantID {
					continue
				}
				select {
				case c.send <- ev:
				default:
					h.logger.Warn().Str("tenantId", c.tenant).Msg("Slow subscriber dropped")
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Notify queues ev for delivery without waiting on subscribers.
func (h *Hub) Notify(ctx context.Context, ev models.ContentChanged) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case h.broadcast <- ev:
		return nil
	default:
		return ErrHubBusy
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and subscribes the connection. The optional
// tenantId query parameter restricts delivery to one tenant.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "notification hub closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	c := &client{
		conn:   conn,
		tenant: r.URL.Query().Get("tenantId"),
		send:   make(chan models.ContentChanged, clientBuffer),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.logger.Debug().Err(err).Str("tenantId", c.tenant).Msg("Subscriber write failed")
			break
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
