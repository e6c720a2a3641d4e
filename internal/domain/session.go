// Package domain contains core domain types for the AIVlingual server.
package domain

import (
	"strings"
	"time"
)

// historyMaxLines bounds the retained conversation history to the last
// ten turns (two lines per turn).
const historyMaxLines = 20

// Session holds per-client conversational state. It is owned exclusively
// by the session manager; handlers read and write through it only.
type Session struct {
	ClientID            string         `json:"client_id"`
	CreatedAt           time.Time      `json:"created_at"`
	LastActivity        time.Time      `json:"last_activity"`
	LanguagePreference  string         `json:"language_preference"`
	TurnCount           int            `json:"turn_count"`
	Context             map[string]any `json:"context"`
	ConversationHistory string         `json:"conversation_history"`
}

// AppendTurn records one user/assistant exchange and truncates the
// history to the retained window.
func (s *Session) AppendTurn(userText, aiText string) {
	turn := "User: " + userText + "\nAI: " + aiText
	if s.ConversationHistory == "" {
		s.ConversationHistory = turn
	} else {
		s.ConversationHistory += "\n" + turn
	}
	s.TurnCount++

	lines := strings.Split(s.ConversationHistory, "\n")
	if len(lines) > historyMaxLines {
		s.ConversationHistory = strings.Join(lines[len(lines)-historyMaxLines:], "\n")
	}
}

// Expired reports whether the session has been inactive beyond ttl.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.LastActivity) > ttl
}

// SessionContext is the snapshot handed to prompt assembly.
type SessionContext struct {
	ConversationHistory string         `json:"conversation_history"`
	TurnCount           int            `json:"turn_count"`
	LanguagePreference  string         `json:"language_preference"`
	Context             map[string]any `json:"context,omitempty"`
}
