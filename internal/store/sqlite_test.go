package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSaveAndListConversations(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		rec := &domain.ConversationRecord{
			SessionID:    "s1",
			UserMessage:  "question",
			AIResponse:   "answer",
			UserLanguage: "en-US",
			AILanguage:   "en-US",
			Timestamp:    base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.SaveConversation(ctx, rec); err != nil {
			t.Fatalf("save conversation %d: %v", i, err)
		}
		if rec.ID == 0 {
			t.Error("save should populate the record id")
		}
	}
	if err := repo.SaveConversation(ctx, &domain.ConversationRecord{
		SessionID: "other", UserMessage: "q", AIResponse: "a",
		UserLanguage: "ja-JP", AILanguage: "ja-JP", Timestamp: base,
	}); err != nil {
		t.Fatalf("save other session: %v", err)
	}

	recs, err := repo.RecentConversations(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if !recs[0].Timestamp.After(recs[1].Timestamp) {
		t.Error("records should be ordered newest first")
	}
	for _, rec := range recs {
		if rec.SessionID != "s1" {
			t.Errorf("record from wrong session: %s", rec.SessionID)
		}
	}
}

func TestSaveVocabularySkipsDuplicates(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	items := []*domain.VocabularyItem{
		{
			JapaneseText:  "草",
			EnglishText:   "lol",
			Source:        domain.VocabSourceVideo,
			SourceVideoID: "vid1",
			Tags:          []string{"internet_slang"},
		},
		{
			JapaneseText: "てぇてぇ",
			EnglishText:  "precious",
			Source:       domain.VocabSourceConversation,
		},
	}
	n, err := repo.SaveVocabularyItems(ctx, items)
	if err != nil {
		t.Fatalf("save vocabulary: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 inserts, got %d", n)
	}

	// Same expression from the same video must not insert again.
	n, err = repo.SaveVocabularyItems(ctx, items[:1])
	if err != nil {
		t.Fatalf("save duplicate: %v", err)
	}
	if n != 0 {
		t.Errorf("duplicate insert count = %d, want 0", n)
	}
}

func TestSearchVocabulary(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	_, err := repo.SaveVocabularyItems(ctx, []*domain.VocabularyItem{
		{JapaneseText: "配信", EnglishText: "stream", Source: domain.VocabSourceVideo, SourceVideoID: "v1"},
		{JapaneseText: "草", EnglishText: "lol", Source: domain.VocabSourceVideo, SourceVideoID: "v1", Tags: []string{"internet_slang"}},
	})
	if err != nil {
		t.Fatalf("save vocabulary: %v", err)
	}

	items, err := repo.SearchVocabulary(ctx, "stream", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 1 || items[0].JapaneseText != "配信" {
		t.Fatalf("unexpected search result: %+v", items)
	}

	all, err := repo.SearchVocabulary(ctx, "", 10)
	if err != nil {
		t.Fatalf("search all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("empty query should match everything, got %d", len(all))
	}
	for _, item := range all {
		if item.JapaneseText == "草" && (len(item.Tags) != 1 || item.Tags[0] != "internet_slang") {
			t.Errorf("tags not round-tripped: %+v", item.Tags)
		}
	}
}
