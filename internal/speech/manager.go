// Package speech manages per-client speech recognition state.
package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/domain"
)

// Manager owns all SpeechSession records, one per client recording span.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*domain.SpeechSession

	timeout      time.Duration
	sweepEvery   time.Duration
	historyLimit int

	now func() time.Time
}

// NewManager creates a speech session manager. Sessions that are
// inactive and idle past timeout are reaped by Sweep; historyLimit caps
// the retained final transcripts per session.
func NewManager(timeout, sweepEvery time.Duration, historyLimit int) *Manager {
	return &Manager{
		sessions:     make(map[string]*domain.SpeechSession),
		timeout:      timeout,
		sweepEvery:   sweepEvery,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// snapshot copies a record so callers never read session fields outside
// the manager's lock.
func snapshot(s *domain.SpeechSession) *domain.SpeechSession {
	cp := *s
	cp.FinalTranscripts = append([]domain.FinalTranscript(nil), s.FinalTranscripts...)
	if s.LastError != nil {
		e := *s.LastError
		cp.LastError = &e
	}
	return &cp
}

// Start creates a speech session for clientID, or reactivates an
// existing one with the new language. Returns a detached copy.
func (m *Manager) Start(clientID, language string) *domain.SpeechSession {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[clientID]; ok {
		s.IsActive = true
		s.Language = language
		s.LastActivity = now
		slog.Info("Reactivated speech session", "client_id", clientID, "language", language)
		return snapshot(s)
	}

	s := &domain.SpeechSession{
		ClientID:     clientID,
		Language:     language,
		StartedAt:    now,
		LastActivity: now,
		IsActive:     true,
	}
	m.sessions[clientID] = s
	slog.Info("Created speech session", "client_id", clientID, "language", language)
	return snapshot(s)
}

// Get returns a copy of the session for clientID, or false if absent.
func (m *Manager) Get(clientID string) (*domain.SpeechSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[clientID]
	if !ok {
		return nil, false
	}
	return snapshot(s), true
}

// AddInterim stores the provisional transcript for the current utterance.
func (m *Manager) AddInterim(clientID, transcript string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[clientID]
	if !ok {
		return false
	}
	s.InterimTranscript = transcript
	s.LastActivity = m.now()
	return true
}

// AddFinal commits a recognition result. The pending interim transcript
// is cleared in the same critical section as the append, so no reader
// ever observes both the stale interim and the new final entry.
func (m *Manager) AddFinal(clientID, transcript string, confidence float64, language string) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[clientID]
	if !ok {
		return false
	}

	s.InterimTranscript = ""
	s.FinalTranscripts = append(s.FinalTranscripts, domain.FinalTranscript{
		Text:       transcript,
		Confidence: confidence,
		Language:   language,
		Timestamp:  now,
	})
	s.RecognitionCount++
	s.LastActivity = now

	if len(s.FinalTranscripts) > m.historyLimit {
		s.FinalTranscripts = s.FinalTranscripts[len(s.FinalTranscripts)-m.historyLimit:]
	}
	return true
}

// RecordError counts a recognition failure and keeps the last error.
func (m *Manager) RecordError(clientID, kind, message string) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[clientID]
	if !ok {
		return false
	}
	s.ErrorCount++
	s.LastError = &domain.SpeechError{Kind: kind, Message: message, Timestamp: now}
	s.LastActivity = now

	slog.Warn("Speech recognition error", "client_id", clientID, "kind", kind, "message", message)
	return true
}

// Stop deactivates the session and freezes its total duration. The
// record survives until the sweeper reaps it, so end-of-session stats
// stay queryable. Returns a detached copy.
func (m *Manager) Stop(clientID string) (*domain.SpeechSession, bool) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[clientID]
	if !ok {
		return nil, false
	}
	s.IsActive = false
	s.TotalDuration = now.Sub(s.StartedAt).Seconds()
	s.LastActivity = now

	slog.Info("Ended speech session",
		"client_id", clientID,
		"duration_seconds", s.TotalDuration,
		"recognitions", s.RecognitionCount,
		"errors", s.ErrorCount)
	return snapshot(s), true
}

// Stats returns the operator-facing view of a session, or false if absent.
func (m *Manager) Stats(clientID string) (domain.SpeechStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[clientID]
	if !ok {
		return domain.SpeechStats{}, false
	}

	duration := s.TotalDuration
	if s.IsActive {
		duration = m.now().Sub(s.StartedAt).Seconds()
	}
	recognitions := s.RecognitionCount
	if recognitions == 0 {
		recognitions = 1
	}
	return domain.SpeechStats{
		ClientID:          s.ClientID,
		Language:          s.Language,
		IsActive:          s.IsActive,
		DurationSeconds:   duration,
		RecognitionCount:  s.RecognitionCount,
		ErrorCount:        s.ErrorCount,
		ErrorRate:         float64(s.ErrorCount) / float64(recognitions),
		LastActivity:      s.LastActivity.UTC().Format(time.RFC3339),
		TranscriptHistory: len(s.FinalTranscripts),
	}, true
}

// Sweep reaps sessions that are both inactive and idle past the timeout.
// Active-but-idle sessions are never destroyed here.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if !s.IsActive && now.Sub(s.LastActivity) > m.timeout {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Swept inactive speech sessions", "count", removed)
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
