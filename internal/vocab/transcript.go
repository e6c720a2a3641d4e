package vocab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const timedTextEndpoint = "https://www.youtube.com/api/timedtext"

// HTTPTranscriptSource fetches captions from YouTube's timedtext
// endpoint. Only videos with published caption tracks are served;
// there is no fallback to speech recognition.
type HTTPTranscriptSource struct {
	client *http.Client
}

// NewHTTPTranscriptSource creates a transcript source with sane timeouts.
func NewHTTPTranscriptSource() *HTTPTranscriptSource {
	return &HTTPTranscriptSource{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// timedtext json3 wire format.
type timedTextResponse struct {
	Events []struct {
		StartMs    int64 `json:"tStartMs"`
		DurationMs int64 `json:"dDurationMs"`
		Segs       []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

// Transcript implements TranscriptSource. Languages are tried in order;
// the first track with content wins.
func (s *HTTPTranscriptSource) Transcript(ctx context.Context, videoID string, languages []string) ([]TranscriptSegment, error) {
	if len(languages) == 0 {
		languages = []string{"ja", "en"}
	}

	var lastErr error
	for _, lang := range languages {
		segments, err := s.fetch(ctx, videoID, lang)
		if err != nil {
			lastErr = err
			continue
		}
		if len(segments) > 0 {
			return segments, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("no transcript available for video %s", videoID)
}

func (s *HTTPTranscriptSource) fetch(ctx context.Context, videoID, lang string) ([]TranscriptSegment, error) {
	q := url.Values{}
	q.Set("v", videoID)
	q.Set("lang", lang)
	q.Set("fmt", "json3")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, timedTextEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build transcript request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcript request for %s returned %s", videoID, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read transcript body: %w", err)
	}
	if len(body) == 0 {
		// The endpoint answers 200 with an empty body when the track
		// does not exist.
		return nil, nil
	}

	var parsed timedTextResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}

	var segments []TranscriptSegment
	for _, ev := range parsed.Events {
		var b strings.Builder
		for _, seg := range ev.Segs {
			b.WriteString(seg.UTF8)
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			continue
		}
		segments = append(segments, TranscriptSegment{
			Text:     text,
			Start:    float64(ev.StartMs) / 1000,
			Duration: float64(ev.DurationMs) / 1000,
			Language: lang,
		})
	}
	return segments, nil
}
