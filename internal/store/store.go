// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/aivlingual/aivlingual-server/internal/domain"
)

// Repository defines the interface for persisting conversations and
// extracted vocabulary.
type Repository interface {
	// SaveConversation persists one completed user/assistant exchange.
	SaveConversation(ctx context.Context, rec *domain.ConversationRecord) error

	// RecentConversations returns the newest records for a session,
	// newest first, at most limit entries.
	RecentConversations(ctx context.Context, sessionID string, limit int) ([]*domain.ConversationRecord, error)

	// SaveVocabularyItems persists extracted vocabulary, skipping
	// duplicates of (japanese_text, source_video_id). It returns how
	// many rows were inserted.
	SaveVocabularyItems(ctx context.Context, items []*domain.VocabularyItem) (int64, error)

	// SearchVocabulary returns items whose Japanese or English text
	// contains query, newest first, at most limit entries. An empty
	// query matches everything.
	SearchVocabulary(ctx context.Context, query string, limit int) ([]*domain.VocabularyItem, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
