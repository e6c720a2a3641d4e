package domain

import "time"

// ConversationRecord is one persisted user/assistant exchange.
type ConversationRecord struct {
	ID           int64     `json:"id,omitempty"`
	SessionID    string    `json:"session_id"`
	UserMessage  string    `json:"user_message"`
	AIResponse   string    `json:"ai_response"`
	UserLanguage string    `json:"user_language"`
	AILanguage   string    `json:"ai_language"`
	Timestamp    time.Time `json:"timestamp"`
}
