package vocab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/domain"
)

const (
	notionBaseURL = "https://api.notion.com/v1"
	notionVersion = "2022-06-28"

	// Notion truncates rich text at 2000 characters.
	notionTextLimit = 2000
)

// NotionSyncer mirrors vocabulary entries into a Notion database. All
// failures are soft: the local store stays the source of truth.
type NotionSyncer struct {
	token      string
	databaseID string
	client     *http.Client
}

// NewNotionSyncer creates a syncer for the given integration token and
// database.
func NewNotionSyncer(token, databaseID string) *NotionSyncer {
	return &NotionSyncer{
		token:      token,
		databaseID: databaseID,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// SyncItem creates or updates the Notion page for item and returns the
// page ID.
func (n *NotionSyncer) SyncItem(ctx context.Context, item *domain.VocabularyItem) (string, error) {
	props := n.properties(item)

	var method, endpoint string
	var payload map[string]any
	if item.NotionID != "" {
		method = http.MethodPatch
		endpoint = notionBaseURL + "/pages/" + item.NotionID
		payload = map[string]any{"properties": props}
	} else {
		method = http.MethodPost
		endpoint = notionBaseURL + "/pages"
		payload = map[string]any{
			"parent":     map[string]any{"database_id": n.databaseID},
			"properties": props,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal notion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build notion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("notion request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read notion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("notion returned %s: %s", resp.Status, truncate(string(raw), 200))
	}

	var page struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return "", fmt.Errorf("decode notion response: %w", err)
	}
	return page.ID, nil
}

// properties builds the Notion property map. Column names match the
// bilingual database schema.
func (n *NotionSyncer) properties(item *domain.VocabularyItem) map[string]any {
	props := map[string]any{
		"日本語": map[string]any{
			"title": []any{richText(item.JapaneseText)},
		},
		"English": map[string]any{
			"rich_text": []any{richText(item.EnglishText)},
		},
		"文脈 (Context)": map[string]any{
			"rich_text": []any{richText(truncate(item.Context, notionTextLimit))},
		},
		"難易度": map[string]any{
			"select": map[string]any{"name": fmt.Sprintf("レベル%d", item.DifficultyLevel)},
		},
		"作成日": map[string]any{
			"date": map[string]any{"start": itemTime(item).Format(time.RFC3339)},
		},
	}

	if item.SourceVideoID != "" {
		props["動画元"] = map[string]any{
			"url": TimestampLink(item.SourceVideoID, item.VideoTimestamp),
		}
	}
	if len(item.Tags) > 0 {
		tags := item.Tags
		if len(tags) > 5 {
			tags = tags[:5]
		}
		var sel []any
		for _, tag := range tags {
			sel = append(sel, map[string]any{"name": tag})
		}
		props["タグ"] = map[string]any{"multi_select": sel}
	}
	return props
}

func richText(content string) map[string]any {
	return map[string]any{"text": map[string]any{"content": content}}
}

func itemTime(item *domain.VocabularyItem) time.Time {
	if item.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return item.CreatedAt
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
