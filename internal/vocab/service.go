package vocab

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/domain"
	"github.com/aivlingual/aivlingual-server/internal/store"
)

const maxVideoExpressions = 50

// VideoExtraction is the result of mining one video for vocabulary.
type VideoExtraction struct {
	VideoID   string                   `json:"video_id"`
	URL       string                   `json:"url"`
	Stats     TranscriptStats          `json:"language_stats"`
	Extracted int64                    `json:"vocabulary_extracted"`
	Items     []*domain.VocabularyItem `json:"vocabulary_items"`
}

// Syncer mirrors vocabulary items to an external notebook.
type Syncer interface {
	SyncItem(ctx context.Context, item *domain.VocabularyItem) (string, error)
}

// Service ties extraction to persistence and the optional Notion mirror.
type Service struct {
	extractor *Extractor
	source    TranscriptSource
	repo      store.Repository
	notion    Syncer
}

// NewService creates the vocabulary service. source, repo, and notion
// may each be nil, disabling the corresponding capability.
func NewService(extractor *Extractor, source TranscriptSource, repo store.Repository, notion Syncer) *Service {
	return &Service{extractor: extractor, source: source, repo: repo, notion: notion}
}

// ExtractFromConversation mines a conversation transcript and persists
// what it finds. syncNotion false skips the external mirror for this
// request even when one is configured.
func (s *Service) ExtractFromConversation(ctx context.Context, transcript string, syncNotion bool) ([]*domain.VocabularyItem, error) {
	items, err := s.extractor.ExtractFromConversation(ctx, transcript)
	if err != nil {
		return nil, err
	}
	s.persist(ctx, items, syncNotion)
	return items, nil
}

// ExtractFromVideo fetches a video's transcript, mines it, and persists
// the result. The returned Items are capped at 10 for transport; the
// full set is in the store.
func (s *Service) ExtractFromVideo(ctx context.Context, videoURL string, syncNotion bool) (*VideoExtraction, error) {
	if s.source == nil {
		return nil, fmt.Errorf("video extraction is not configured")
	}

	videoID, err := ExtractVideoID(videoURL)
	if err != nil {
		return nil, err
	}

	segments, err := s.source.Transcript(ctx, videoID, []string{"ja", "en"})
	if err != nil {
		return nil, fmt.Errorf("transcript for %s: %w", videoID, err)
	}

	stats := AnalyzeTranscript(segments)
	expressions := ExtractExpressions(segments, maxVideoExpressions)

	items := make([]*domain.VocabularyItem, 0, len(expressions))
	for _, expr := range expressions {
		items = append(items, &domain.VocabularyItem{
			JapaneseText:    expr.Japanese,
			EnglishText:     expr.English,
			Context:         expr.Context,
			DifficultyLevel: 3,
			Tags:            []string{expr.Category, "vtuber"},
			Source:          domain.VocabSourceVideo,
			SourceVideoID:   videoID,
			VideoTimestamp:  expr.Timestamp,
			CreatedAt:       time.Now().UTC(),
		})
	}

	inserted := s.persist(ctx, items, syncNotion)

	result := &VideoExtraction{
		VideoID:   videoID,
		URL:       TimestampLink(videoID, 0),
		Stats:     stats,
		Extracted: inserted,
		Items:     items,
	}
	if len(result.Items) > 10 {
		result.Items = result.Items[:10]
	}

	slog.Info("Video vocabulary extraction finished",
		"video_id", videoID,
		"segments", stats.TotalSegments,
		"expressions", len(items),
		"inserted", inserted)
	return result, nil
}

// Search queries the persisted vocabulary.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*domain.VocabularyItem, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("vocabulary store is not configured")
	}
	return s.repo.SearchVocabulary(ctx, query, limit)
}

// persist saves items locally and mirrors them to Notion best-effort.
func (s *Service) persist(ctx context.Context, items []*domain.VocabularyItem, syncNotion bool) int64 {
	if s.repo == nil || len(items) == 0 {
		return 0
	}

	if s.notion != nil && syncNotion {
		for _, item := range items {
			pageID, err := s.notion.SyncItem(ctx, item)
			if err != nil {
				slog.Warn("Notion sync failed", "japanese", item.JapaneseText, "error", err)
				continue
			}
			item.NotionID = pageID
		}
	}

	inserted, err := s.repo.SaveVocabularyItems(ctx, items)
	if err != nil {
		slog.Error("Failed to save vocabulary", "count", len(items), "error", err)
		return 0
	}
	return inserted
}
