package vocab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/cache"
	"github.com/aivlingual/aivlingual-server/internal/domain"
)

type fakeRepo struct {
	mu    sync.Mutex
	saved []*domain.VocabularyItem
}

func (f *fakeRepo) SaveConversation(ctx context.Context, rec *domain.ConversationRecord) error {
	return nil
}

func (f *fakeRepo) RecentConversations(ctx context.Context, sessionID string, limit int) ([]*domain.ConversationRecord, error) {
	return nil, nil
}

func (f *fakeRepo) SaveVocabularyItems(ctx context.Context, items []*domain.VocabularyItem) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, items...)
	return int64(len(items)), nil
}

func (f *fakeRepo) SearchVocabulary(ctx context.Context, query string, limit int) ([]*domain.VocabularyItem, error) {
	return nil, nil
}

func (f *fakeRepo) Ping(ctx context.Context) error { return nil }
func (f *fakeRepo) Close() error                   { return nil }

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSyncer) SyncItem(ctx context.Context, item *domain.VocabularyItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "page-id", nil
}

func (f *fakeSyncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestService(syncer Syncer) (*Service, *fakeRepo) {
	repo := &fakeRepo{}
	extractor := NewExtractor(nil, cache.NewMemoryCache(), time.Hour)
	return NewService(extractor, nil, repo, syncer), repo
}

func TestExtractFromConversationMirrorsToNotionByDefault(t *testing.T) {
	syncer := &fakeSyncer{}
	svc, repo := newTestService(syncer)

	items, err := svc.ExtractFromConversation(context.Background(), "てぇてぇ配信だった", true)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("pattern extraction should find expressions")
	}
	if syncer.callCount() != len(items) {
		t.Errorf("syncer called %d times, want %d", syncer.callCount(), len(items))
	}
	for _, item := range items {
		if item.NotionID != "page-id" {
			t.Errorf("item %q missing notion page id", item.JapaneseText)
		}
	}
	if repo.count() != len(items) {
		t.Errorf("repo saved %d items, want %d", repo.count(), len(items))
	}
}

func TestExtractFromConversationCanSkipNotion(t *testing.T) {
	syncer := &fakeSyncer{}
	svc, repo := newTestService(syncer)

	items, err := svc.ExtractFromConversation(context.Background(), "てぇてぇ配信だった", false)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("pattern extraction should find expressions")
	}
	if syncer.callCount() != 0 {
		t.Errorf("opted-out request must not reach the syncer, got %d calls", syncer.callCount())
	}
	for _, item := range items {
		if item.NotionID != "" {
			t.Errorf("item %q unexpectedly carries a notion page id", item.JapaneseText)
		}
	}
	if repo.count() != len(items) {
		t.Error("local persistence must not depend on the mirror flag")
	}
}
