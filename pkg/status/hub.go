// Package status serves the gateway's observability surface: health,
// Prometheus-style metrics, a session snapshot API, and a websocket feed
// of session lifecycle events.
package status

import (
	"encoding/json"
	"sync"

	"github.com/hearthware/go-hearth/internal/log"
)

// Hub maintains the set of event-feed subscribers and broadcasts
// session notifications to them using a channel fan-out.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	mu sync.RWMutex
}

// NewHub creates a hub. Call Run in a goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Debug("status feed client connected", "total", count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Client too slow; drop it rather than block the feed.
					close(c.send)
					delete(h.clients, c)
					log.Warn("dropped slow status feed client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastJSON encodes and broadcasts an event to all subscribers.
// Events are dropped, not queued, when the feed is saturated.
func (h *Hub) BroadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn("status feed encode failed", "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Debug("status feed saturated, dropping event")
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
