package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_message TEXT NOT NULL,
		ai_response TEXT NOT NULL,
		user_language TEXT NOT NULL,
		ai_language TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id, created_at);

	CREATE TABLE IF NOT EXISTS vocabulary (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		japanese_text TEXT NOT NULL,
		reading TEXT,
		english_text TEXT NOT NULL,
		context TEXT,
		difficulty_level INTEGER NOT NULL DEFAULT 1,
		tags_json TEXT,
		source TEXT NOT NULL,
		source_video_id TEXT NOT NULL DEFAULT '',
		video_timestamp REAL,
		notion_id TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE(japanese_text, source_video_id)
	);
	CREATE INDEX IF NOT EXISTS idx_vocabulary_created ON vocabulary(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveConversation persists one completed exchange.
func (s *SQLiteStore) SaveConversation(ctx context.Context, rec *domain.ConversationRecord) error {
	query := `
	INSERT INTO conversations (session_id, user_message, ai_response, user_language, ai_language, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, query,
		rec.SessionID, rec.UserMessage, rec.AIResponse,
		rec.UserLanguage, rec.AILanguage, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// RecentConversations returns the newest records for a session.
func (s *SQLiteStore) RecentConversations(ctx context.Context, sessionID string, limit int) ([]*domain.ConversationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, user_message, ai_response, user_language, ai_language, created_at
		FROM conversations WHERE session_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	var recs []*domain.ConversationRecord
	for rows.Next() {
		var rec domain.ConversationRecord
		var createdAt int64
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.UserMessage, &rec.AIResponse,
			&rec.UserLanguage, &rec.AILanguage, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		rec.Timestamp = time.Unix(createdAt, 0).UTC()
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return recs, nil
}

// SaveVocabularyItems persists extracted vocabulary, skipping duplicates.
func (s *SQLiteStore) SaveVocabularyItems(ctx context.Context, items []*domain.VocabularyItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	query := `
	INSERT INTO vocabulary (
		japanese_text, reading, english_text, context, difficulty_level,
		tags_json, source, source_video_id, video_timestamp, notion_id, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(japanese_text, source_video_id) DO NOTHING`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin vocabulary insert: %w", err)
	}
	defer tx.Rollback()

	var inserted int64
	for _, item := range items {
		ts := item.CreatedAt
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		var tagsJSON interface{}
		if len(item.Tags) > 0 {
			b, err := json.Marshal(item.Tags)
			if err != nil {
				return inserted, fmt.Errorf("marshal tags: %w", err)
			}
			tagsJSON = string(b)
		}

		res, err := tx.ExecContext(ctx, query,
			item.JapaneseText, item.Reading, item.EnglishText, item.Context,
			item.DifficultyLevel, tagsJSON, item.Source, item.SourceVideoID,
			item.VideoTimestamp, nullable(item.NotionID), ts.Unix(),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert vocabulary item: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("vocabulary rows affected: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit vocabulary insert: %w", err)
	}
	return inserted, nil
}

// SearchVocabulary returns items matching query, newest first.
func (s *SQLiteStore) SearchVocabulary(ctx context.Context, query string, limit int) ([]*domain.VocabularyItem, error) {
	if limit <= 0 {
		limit = 100
	}
	sqlQuery := `
		SELECT id, japanese_text, reading, english_text, context, difficulty_level,
		       tags_json, source, source_video_id, video_timestamp, notion_id, created_at
		FROM vocabulary
		WHERE japanese_text LIKE ? OR english_text LIKE ?
		ORDER BY created_at DESC, id DESC LIMIT ?`

	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, sqlQuery, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("query vocabulary: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close vocabulary rows", "error", closeErr)
		}
	}()

	var items []*domain.VocabularyItem
	for rows.Next() {
		var item domain.VocabularyItem
		var reading, itemContext, tagsJSON, notionID sql.NullString
		var videoTimestamp sql.NullFloat64
		var createdAt int64

		if err := rows.Scan(
			&item.ID, &item.JapaneseText, &reading, &item.EnglishText, &itemContext,
			&item.DifficultyLevel, &tagsJSON, &item.Source, &item.SourceVideoID,
			&videoTimestamp, &notionID, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan vocabulary row: %w", err)
		}

		item.Reading = reading.String
		item.Context = itemContext.String
		item.NotionID = notionID.String
		item.VideoTimestamp = videoTimestamp.Float64
		item.CreatedAt = time.Unix(createdAt, 0).UTC()
		if tagsJSON.Valid && tagsJSON.String != "" {
			if err := json.Unmarshal([]byte(tagsJSON.String), &item.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vocabulary: %w", err)
	}
	return items, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
