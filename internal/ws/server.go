package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aivlingual/aivlingual-server/internal/session"
	"github.com/coder/websocket"
)

// Server upgrades HTTP requests to WebSocket connections and runs the
// per-connection read loop.
type Server struct {
	registry      *Registry
	router        *Router
	handlers      *Handlers
	sessions      *session.Manager
	allowedOrigin string
	isDev         bool
}

// NewServer creates the WebSocket endpoint handler.
func NewServer(registry *Registry, router *Router, handlers *Handlers, sessions *session.Manager, allowedOrigin string, isDev bool) *Server {
	return &Server{
		registry:      registry,
		router:        router,
		handlers:      handlers,
		sessions:      sessions,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}

	clientID := s.sessions.Create()
	slog.Info("WebSocket connected", "client_id", clientID, "ip", r.RemoteAddr)

	s.registry.Register(clientID, conn)
	defer func() {
		s.handlers.Cleanup(clientID)
		s.registry.Unregister(clientID)
		if closeErr := conn.Close(websocket.StatusNormalClosure, "connection ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "client_id", clientID, "error", closeErr)
		}
		slog.Info("WebSocket disconnected", "client_id", clientID)
	}()

	s.registry.Send(clientID, map[string]any{
		"type":      "connection",
		"status":    "connected",
		"client_id": clientID,
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.readLoop(ctx, conn, clientID)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, clientID string) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "client_id", clientID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "client_id", clientID, "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		s.router.Dispatch(ctx, clientID, data)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowedOrigin == "*" || origin == s.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", s.allowedOrigin)
	return false
}
