// Package notify broadcasts job and session lifecycle events to connected
// WebSocket subscribers. Delivery is at-most-once per currently-connected
// subscriber: there is no buffering or replay, and a slow subscriber is
// dropped rather than allowed to stall producers.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Event is the wire envelope pushed to subscribers.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

const (
	clientBuffer = 32
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from another origin; auth happens upstream.
	CheckOrigin: func(*http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	relay   Relay
	log     zerolog.Logger
	closed  bool
}

func NewHub(relay Relay, log zerolog.Logger) *Hub {
	if relay == nil {
		relay = NopRelay{}
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		relay:   relay,
		log:     log.With().Str("component", "notify").Logger(),
	}
}

// Broadcast fans the event out to every connected subscriber and mirrors it
// to the relay. It never blocks: subscribers whose buffers are full are
// dropped.
func (h *Hub) Broadcast(event string, data any) {
	payload, err := json.Marshal(Event{Event: event, Data: data})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("marshal event")
		return
	}

	h.mu.Lock()
	var dropped []*client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			delete(h.clients, c)
			dropped = append(dropped, c)
		}
	}
	h.mu.Unlock()

	for _, c := range dropped {
		h.log.Warn().Str("event", event).Msg("dropping slow subscriber")
		close(c.send)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := h.relay.Publish(ctx, event, payload); err != nil {
			h.log.Warn().Err(err).Str("event", event).Msg("relay publish failed")
		}
	}()
}

// SubscriberCount reports the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection as a subscriber.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	welcome, _ := json.Marshal(Event{Event: "connected", Data: map[string]any{"at": time.Now().UTC()}})
	select {
	case c.send <- welcome:
	default:
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(c)
			return
		}
	}
}

// readPump discards client frames; its job is noticing disconnects.
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if ok {
		close(c.send)
	}
	_ = c.conn.Close()
}

// Close drops all subscribers and shuts the relay.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		_ = c.conn.Close()
	}
	h.relay.Close()
}
