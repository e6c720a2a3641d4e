package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Handler processes one inbound message for a client. The raw payload is
// the full envelope; handlers decode and validate their own fields and
// must send an error event before any side effect when validation fails.
type Handler func(ctx context.Context, clientID string, raw json.RawMessage)

// Router dispatches inbound messages to exactly one handler keyed by
// the envelope's type tag.
type Router struct {
	registry *Registry
	handlers map[string]Handler
}

// NewRouter creates an empty router sending replies through registry.
func NewRouter(registry *Registry) *Router {
	return &Router{
		registry: registry,
		handlers: make(map[string]Handler),
	}
}

// Handle registers the handler for a type tag. Registering a tag twice
// panics; routes are wired once at startup.
func (r *Router) Handle(tag string, h Handler) {
	if _, dup := r.handlers[tag]; dup {
		panic(fmt.Sprintf("duplicate handler for message type %q", tag))
	}
	r.handlers[tag] = h
}

type envelope struct {
	Type string `json:"type"`
}

// Dispatch routes one raw inbound frame. Malformed JSON and unknown
// type tags produce a structured error reply; they never drop the
// connection.
func (r *Router) Dispatch(ctx context.Context, clientID string, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Error("Invalid JSON message", "client_id", clientID, "error", err)
		r.sendError(clientID, "Invalid JSON message")
		return
	}

	h, ok := r.handlers[env.Type]
	if !ok {
		slog.Warn("Unknown message type", "client_id", clientID, "type", env.Type)
		r.sendError(clientID, fmt.Sprintf("Unknown message type: %s", env.Type))
		return
	}
	h(ctx, clientID, raw)
}

func (r *Router) sendError(clientID, message string) {
	r.registry.Send(clientID, map[string]any{
		"type":    "error",
		"message": message,
	})
}
