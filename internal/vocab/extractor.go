// Package vocab turns conversations and video transcripts into
// structured vocabulary for language learners.
package vocab

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/ai"
	"github.com/aivlingual/aivlingual-server/internal/cache"
	"github.com/aivlingual/aivlingual-server/internal/domain"
)

// Expression is one pattern match found in free text.
type Expression struct {
	Japanese  string  `json:"japanese"`
	English   string  `json:"english"`
	Category  string  `json:"category"`
	Context   string  `json:"context"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

type pattern struct {
	re       *regexp.Regexp
	meaning  string
	category string
}

// Slang and grammar patterns common in Vtuber streams. Pattern matching
// needs no AI round-trip, so it also serves as the fallback when the
// generator is unavailable.
var expressionPatterns = []pattern{
	{regexp.MustCompile(`てぇてぇ|てえてえ`), "precious/wholesome", "vtuber_slang"},
	{regexp.MustCompile(`ぽんこつ|ポンコツ`), "clumsy/airhead", "vtuber_slang"},
	{regexp.MustCompile(`スパチャ|スーパーチャット`), "super chat donation", "vtuber_slang"},
	{regexp.MustCompile(`おつかれ|お疲れ`), "good work/bye", "vtuber_slang"},
	{regexp.MustCompile(`草|くさ|ｗｗｗ`), "lol/laughing", "internet_slang"},
	{regexp.MustCompile(`りょ|了解`), "roger/understood", "internet_slang"},
	{regexp.MustCompile(`乙|おつ`), "thanks for the work", "internet_slang"},
	{regexp.MustCompile(`配信|はいしん`), "streaming", "streaming_term"},
	{regexp.MustCompile(`[\x{3041}-\x{3093}]+なきゃ`), "must do", "grammar_pattern"},
	{regexp.MustCompile(`[\x{3041}-\x{3093}]+ちゃう`), "contraction", "grammar_pattern"},
	{regexp.MustCompile(`[\x{3041}-\x{3093}]+っぽい`), "seems like", "grammar_pattern"},
	{regexp.MustCompile(`[\x{3041}-\x{3093}]+かも`), "maybe", "grammar_pattern"},
	{regexp.MustCompile(`すごい|スゴイ|凄い`), "amazing", "common"},
	{regexp.MustCompile(`かわいい`), "cute", "common"},
	{regexp.MustCompile(`ありがとう`), "thank you", "common"},
	{regexp.MustCompile(`頑張る|がんばる`), "do my best", "common"},
}

const contextPreview = 100

// Extractor extracts vocabulary from text, optionally enriched by the
// generation backend. Results are cached by content hash so repeated
// extraction of the same transcript costs nothing.
type Extractor struct {
	generator ai.Generator
	cache     cache.Cache
	cacheTTL  time.Duration
}

// NewExtractor creates an extractor. generator may be nil, in which case
// only pattern extraction is available.
func NewExtractor(generator ai.Generator, c cache.Cache, cacheTTL time.Duration) *Extractor {
	return &Extractor{generator: generator, cache: c, cacheTTL: cacheTTL}
}

// ExtractFromText runs pure pattern extraction, no AI round-trip.
// Duplicate expressions are collapsed, first occurrence wins.
func (e *Extractor) ExtractFromText(text string) []Expression {
	var out []Expression
	seen := make(map[string]bool)

	for _, p := range expressionPatterns {
		for _, match := range p.re.FindAllString(text, -1) {
			key := match + ":" + p.meaning
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Expression{
				Japanese: match,
				English:  p.meaning,
				Category: p.category,
				Context:  preview(text),
			})
		}
	}
	return out
}

// aiItem mirrors the JSON shape the analysis prompt asks for.
type aiItem struct {
	Japanese   string `json:"japanese"`
	English    string `json:"english"`
	Reading    string `json:"reading"`
	Context    string `json:"context"`
	Difficulty int    `json:"difficulty"`
	Type       string `json:"type"`
	Notes      string `json:"notes"`
}

// ExtractFromConversation asks the generation backend to pull learning
// expressions out of a transcript. Falls back to pattern extraction if
// the backend is unavailable or returns nothing parseable.
func (e *Extractor) ExtractFromConversation(ctx context.Context, transcript string) ([]*domain.VocabularyItem, error) {
	if cached, ok := e.cachedItems(ctx, transcript); ok {
		return cached, nil
	}

	items := e.aiExtract(ctx, transcript)
	if len(items) == 0 {
		for _, expr := range e.ExtractFromText(transcript) {
			items = append(items, &domain.VocabularyItem{
				JapaneseText:    expr.Japanese,
				EnglishText:     expr.English,
				Context:         expr.Context,
				DifficultyLevel: 3,
				Tags:            []string{expr.Category},
				Source:          domain.VocabSourceConversation,
				CreatedAt:       time.Now().UTC(),
			})
		}
	}

	e.cacheItems(ctx, transcript, items)
	return items, nil
}

func (e *Extractor) aiExtract(ctx context.Context, transcript string) []*domain.VocabularyItem {
	if e.generator == nil {
		return nil
	}

	prompt := fmt.Sprintf(`この会話から言語学習に価値のある表現を抽出してください：

%s

以下の形式でJSON配列として返してください：
[
  {
    "japanese": "日本語表現",
    "english": "English translation",
    "reading": "ひらがな読み",
    "context": "使用された文脈",
    "difficulty": 1,
    "type": "slang/grammar/vocabulary/phrase",
    "notes": "使い方の説明"
  }
]

特に以下に注目してください：
1. Vtuberスラングやネット用語
2. 日常会話で使える表現
3. 文法的に面白いパターン
4. 文化的な背景がある表現`, transcript)

	resp, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		slog.Warn("AI vocabulary extraction failed, falling back to patterns", "error", err)
		return nil
	}
	return parseAIItems(resp)
}

var jsonArrayRe = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)

// parseAIItems pulls a JSON array out of model output. Model responses
// routinely wrap the array in prose or code fences.
func parseAIItems(response string) []*domain.VocabularyItem {
	raw := jsonArrayRe.FindString(response)
	if raw == "" {
		return nil
	}

	var parsed []aiItem
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		slog.Warn("Unparseable vocabulary response", "error", err)
		return nil
	}

	items := make([]*domain.VocabularyItem, 0, len(parsed))
	for _, it := range parsed {
		if it.Japanese == "" {
			continue
		}
		difficulty := it.Difficulty
		if difficulty < 1 || difficulty > 5 {
			difficulty = 3
		}
		tags := []string{"general"}
		if it.Type != "" {
			tags = []string{it.Type}
		}
		items = append(items, &domain.VocabularyItem{
			JapaneseText:    it.Japanese,
			Reading:         it.Reading,
			EnglishText:     it.English,
			Context:         it.Context,
			DifficultyLevel: difficulty,
			Tags:            tags,
			Source:          domain.VocabSourceConversation,
			CreatedAt:       time.Now().UTC(),
		})
	}
	return items
}

func (e *Extractor) cachedItems(ctx context.Context, transcript string) ([]*domain.VocabularyItem, bool) {
	if e.cache == nil {
		return nil, false
	}
	raw, found, err := e.cache.Get(ctx, extractionKey(transcript))
	if err != nil || !found {
		return nil, false
	}
	var items []*domain.VocabularyItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, false
	}
	return items, true
}

func (e *Extractor) cacheItems(ctx context.Context, transcript string, items []*domain.VocabularyItem) {
	if e.cache == nil || len(items) == 0 {
		return
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, extractionKey(transcript), string(raw), e.cacheTTL); err != nil {
		slog.Debug("Failed to cache extraction", "error", err)
	}
}

func extractionKey(transcript string) string {
	sum := sha256.Sum256([]byte(transcript))
	return "vocab:" + hex.EncodeToString(sum[:8])
}

func preview(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > contextPreview {
		runes = runes[:contextPreview]
	}
	return string(runes)
}
