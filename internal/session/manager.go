// Package session manages per-client conversational state.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/domain"
	"github.com/google/uuid"
)

// Manager owns all Session records. Expiry is checked lazily on every
// access, so correctness never depends on sweep timing; the sweep only
// bounds memory.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session

	ttl        time.Duration
	sweepEvery time.Duration

	now func() time.Time
}

// NewManager creates a session manager with the given inactivity TTL.
func NewManager(ttl, sweepEvery time.Duration) *Manager {
	return &Manager{
		sessions:   make(map[string]*domain.Session),
		ttl:        ttl,
		sweepEvery: sweepEvery,
		now:        time.Now,
	}
}

// Create starts a new session and returns its client ID.
func (m *Manager) Create() string {
	clientID := uuid.NewString()
	now := m.now()

	m.mu.Lock()
	m.sessions[clientID] = &domain.Session{
		ClientID:           clientID,
		CreatedAt:          now,
		LastActivity:       now,
		LanguagePreference: "auto",
		Context:            make(map[string]any),
	}
	m.mu.Unlock()

	slog.Info("Created new session", "client_id", clientID)
	return clientID
}

// Get returns the session for clientID, or false if it does not exist.
// An expired session is deleted on access and reported as absent.
func (m *Manager) Get(clientID string) (*domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(clientID)
}

func (m *Manager) getLocked(clientID string) (*domain.Session, bool) {
	s, ok := m.sessions[clientID]
	if !ok {
		return nil, false
	}
	if s.Expired(m.ttl, m.now()) {
		delete(m.sessions, clientID)
		slog.Info("Session expired", "client_id", clientID)
		return nil, false
	}
	return s, true
}

// AppendTurn records one completed user/assistant exchange.
func (m *Manager) AppendTurn(clientID, userText, aiText string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.getLocked(clientID)
	if !ok {
		slog.Warn("Session not found for turn append", "client_id", clientID)
		return false
	}
	s.AppendTurn(userText, aiText)
	s.LastActivity = m.now()
	return true
}

// SetPreference stores a per-session preference. The "language" key maps
// to the dedicated language preference field; everything else lands in
// the context map.
func (m *Manager) SetPreference(clientID, key string, value any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.getLocked(clientID)
	if !ok {
		return false
	}
	if key == "language" {
		if lang, ok := value.(string); ok {
			s.LanguagePreference = lang
		}
	} else {
		s.Context[key] = value
	}
	s.LastActivity = m.now()
	return true
}

// Context returns the snapshot used for prompt assembly. A missing or
// expired session yields an empty context rather than an error.
func (m *Manager) Context(clientID string) domain.SessionContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.getLocked(clientID)
	if !ok {
		return domain.SessionContext{LanguagePreference: "auto"}
	}
	return domain.SessionContext{
		ConversationHistory: s.ConversationHistory,
		TurnCount:           s.TurnCount,
		LanguagePreference:  s.LanguagePreference,
		Context:             s.Context,
	}
}

// ResetContext clears the conversation history and turn count.
func (m *Manager) ResetContext(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.getLocked(clientID)
	if !ok {
		return false
	}
	s.ConversationHistory = ""
	s.TurnCount = 0
	s.LastActivity = m.now()
	slog.Info("Reset session context", "client_id", clientID)
	return true
}

// Stats returns operator-facing session details, or nil if absent.
func (m *Manager) Stats(clientID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.getLocked(clientID)
	if !ok {
		return nil
	}
	return map[string]any{
		"client_id":           s.ClientID,
		"created_at":          s.CreatedAt.UTC().Format(time.RFC3339),
		"last_activity":       s.LastActivity.UTC().Format(time.RFC3339),
		"turn_count":          s.TurnCount,
		"language_preference": s.LanguagePreference,
	}
}

// End destroys a session. Ending an unknown session is a no-op.
func (m *Manager) End(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[clientID]; !ok {
		return false
	}
	delete(m.sessions, clientID)
	slog.Info("Ended session", "client_id", clientID)
	return true
}

// Sweep deletes expired sessions and returns how many were removed.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.Expired(m.ttl, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Swept expired sessions", "count", removed)
	}
	return removed
}

// StartSweeper runs periodic sweeps until ctx is cancelled.
func (m *Manager) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.sweepEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}
