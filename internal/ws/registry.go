// Package ws owns the WebSocket surface: the connection registry, the
// message router, and the per-type handlers.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Conn is the transport surface the registry needs. *websocket.Conn
// satisfies it; tests use in-memory fakes.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Queue depth per client. A slow consumer drops messages rather than
// stalling the whole process.
const sendQueueSize = 256

type client struct {
	conn   Conn
	queue  chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// Registry maps client IDs to live connections. It is the only
// component that touches the transport; all sends are fire-and-forget
// and preserve per-client ordering through a single writer goroutine
// per connection.
type Registry struct {
	mu      sync.Mutex // held for O(1) map operations only
	clients map[string]*client
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*client)}
}

// Register binds conn to clientID. A prior connection for the same
// client is closed and replaced (last writer wins).
func (r *Registry) Register(clientID string, conn Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		conn:   conn,
		queue:  make(chan []byte, sendQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	r.mu.Lock()
	prev := r.clients[clientID]
	r.clients[clientID] = c
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
		_ = prev.conn.Close(websocket.StatusNormalClosure, "connection replaced")
		slog.Info("Replaced existing connection", "client_id", clientID)
	}

	go c.writeLoop(clientID)
}

// Unregister removes the client's connection. Calling it for an unknown
// client, or twice, is a no-op.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	c, ok := r.clients[clientID]
	if ok {
		delete(r.clients, clientID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	c.cancel()
	slog.Info("Unregistered connection", "client_id", clientID)
}

// Send queues v for delivery to clientID. Sending to an absent client is
// a no-op; a full queue drops the message with a warning. Messages
// queued in order are delivered in order.
func (r *Registry) Send(clientID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal outbound message", "client_id", clientID, "error", err)
		return
	}

	r.mu.Lock()
	c, ok := r.clients[clientID]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case c.queue <- data:
	case <-c.ctx.Done():
	default:
		slog.Warn("Send queue full, dropping message", "client_id", clientID)
	}
}

// Broadcast queues v for every live connection. A slow or dead
// recipient never blocks delivery to the others.
func (r *Registry) Broadcast(v any) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Send(id, v)
	}
}

// Count reports the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (c *client) writeLoop(clientID string) {
	for {
		select {
		case msg := <-c.queue:
			if err := c.conn.Write(c.ctx, websocket.MessageText, msg); err != nil {
				if c.ctx.Err() == nil {
					slog.Debug("WebSocket write error", "client_id", clientID, "error", err)
				}
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
