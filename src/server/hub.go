package server

import (
	"context"
	"encoding/json"
	"sync"

	"cashout-mirror/src/logger"
	"cashout-mirror/src/models"
	"cashout-mirror/src/state"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// Hub fans every upstream frame out to all downstream clients, SSE and
// WebSocket alike. A single goroutine owns the client set; per-client
// buffered channels decouple the fan-out pass from slow consumers.
type Hub struct {
	Cache  *state.StateCache
	Logger *logger.Logger

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu    sync.RWMutex
	count int
}

// -----------------------------------------------------------------------------

func NewHub(cache *state.StateCache, log *logger.Logger) *Hub {
	return &Hub{
		Cache:   cache,
		Logger:  log,
		clients: make(map[*Client]struct{}),
		// Buffered queue so bursts of upstream events never block the
		// mirror's read loop
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// -----------------------------------------------------------------------------

// Run is the main Hub loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount(len(h.clients))
			// Seed initial state before any broadcast reaches the client
			h.seedClient(client)
			h.Logger.Info("Client connected: %s (total: %d)", client.ID, len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.setCount(len(h.clients))
				h.Logger.Info("Client disconnected: %s (total: %d)", client.ID, len(h.clients))
			}

		case frame := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- frame:
					// Frame queued successfully
				default:
					// Client too slow, disconnect to prevent Hub blocking
					delete(h.clients, client)
					close(client.send)
					h.setCount(len(h.clients))
					h.Logger.Warning("Client %s too slow, pruned", client.ID)
				}
			}
		}
	}
}

// -----------------------------------------------------------------------------

// Publish encodes one event frame and queues it for fan-out. The envelope
// is marshaled once per event, not once per client.
func (h *Hub) Publish(event string, data interface{}) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.Logger.Error("Unserializable frame for event %s: %v", event, err)
		return
	}
	h.broadcast <- frame
}

// -----------------------------------------------------------------------------

// seedClient sends the connection ack and current snapshots directly into
// the newcomer's queue. Runs on the hub goroutine, so no broadcast can
// interleave before the seed.
func (h *Hub) seedClient(c *Client) {
	c.trySend(mustFrame("connected", map[string]interface{}{
		"status": "ok",
		"cid":    c.ID,
	}))

	if velas := h.Cache.Velas(); len(velas) > 0 {
		c.trySend(mustFrame("vela", map[string]interface{}{
			"valores": velas,
		}))
	}

	c.trySend(mustFrame("online", map[string]interface{}{
		"count": h.Cache.OnlineOrFallback(),
	}))
}

// -----------------------------------------------------------------------------

// ClientCount reports the current fan-out audience size.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// -----------------------------------------------------------------------------

func encodeFrame(event string, data interface{}) ([]byte, error) {
	return json.Marshal(models.MEvent{Event: event, Data: data})
}

// mustFrame is for payloads built from plain maps, which cannot fail to
// marshal.
func mustFrame(event string, data interface{}) []byte {
	frame, _ := encodeFrame(event, data)
	return frame
}
