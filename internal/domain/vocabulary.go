package domain

import "time"

// VocabularyItem is one extracted expression with learning metadata.
type VocabularyItem struct {
	ID              int64     `json:"id,omitempty"`
	JapaneseText    string    `json:"japanese_text"`
	Reading         string    `json:"reading,omitempty"`
	EnglishText     string    `json:"english_text"`
	Context         string    `json:"context,omitempty"`
	DifficultyLevel int       `json:"difficulty_level"`
	Tags            []string  `json:"tags,omitempty"`
	Source          string    `json:"source"`
	SourceVideoID   string    `json:"source_video_id,omitempty"`
	VideoTimestamp  float64   `json:"video_timestamp,omitempty"`
	NotionID        string    `json:"notion_id,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// Vocabulary sources.
const (
	VocabSourceConversation = "conversation"
	VocabSourceVideo        = "video"
	VocabSourceManual       = "manual"
)
