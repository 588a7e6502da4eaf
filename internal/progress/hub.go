// Package progress fans analysis pipeline events out to websocket
// subscribers.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Stages reported over the progress feed.
const (
	StageProbe   = "probe"
	StageExtract = "extract"
	StageEncode  = "encode"
	StageModel   = "model"
	StageParse   = "parse"
	StageDone    = "done"
	StageError   = "error"
)

// Event is one progress update of an analysis run.
type Event struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Frame     int       `json:"frame,omitempty"`
	Total     int       `json:"total,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub broadcasts events to connected websocket clients.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run pumps registrations and broadcasts until ctx is done. Start it
// once, in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			slog.Debug("progress client connected", "clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			slog.Debug("progress client disconnected", "clients", n)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
	}
	clear(h.clients)
}

// Register adds a subscriber connection. The hub owns the connection
// from this point on.
func (h *Hub) Register(conn *websocket.Conn) { h.register <- conn }

// Unregister drops a subscriber connection.
func (h *Hub) Unregister(conn *websocket.Conn) { h.unregister <- conn }

// Publish broadcasts an event to every subscriber. Events are dropped
// rather than stalling the pipeline when the hub is saturated, and a
// nil hub drops everything, so callers can treat progress as optional.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
