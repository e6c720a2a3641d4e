package ai

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"
)

// GeminiGenerator implements Generator on the Gemini API.
type GeminiGenerator struct {
	client          *genai.Client
	model           string
	temperature     float32
	maxOutputTokens int32
}

// NewGeminiGenerator creates a Gemini-backed generator. The client
// performs no network I/O until the first request.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, temperature float64, maxOutputTokens int32) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini generator requires an api key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiGenerator{
		client:          client,
		model:           model,
		temperature:     float32(temperature),
		maxOutputTokens: maxOutputTokens,
	}, nil
}

func (g *GeminiGenerator) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.temperature),
		MaxOutputTokens: g.maxOutputTokens,
	}
}

// Generate returns the complete response for prompt.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), g.config())
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if blocked(resp) {
		return "", ErrRejected
	}
	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(text), nil
}

// GenerateStream returns a cursor over ordered response fragments.
func (g *GeminiGenerator) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for chunk, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), g.config()) {
			if err != nil {
				yield("", fmt.Errorf("generation stream: %w", err))
				return
			}
			if blocked(chunk) {
				yield("", ErrRejected)
				return
			}
			text := responseText(chunk)
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

func blocked(resp *genai.GenerateContentResponse) bool {
	return resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != ""
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
