package vocab

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// TranscriptSegment is one timed caption line.
type TranscriptSegment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Language string  `json:"language,omitempty"`
}

// TranscriptSource fetches captions for a video. languages lists
// preferences in order; implementations return the first available.
type TranscriptSource interface {
	Transcript(ctx context.Context, videoID string, languages []string) ([]TranscriptSegment, error)
}

// TranscriptStats summarizes a transcript for learners: how much of the
// video is Japanese, English, or code-switched.
type TranscriptStats struct {
	TotalDuration    float64 `json:"total_duration"`
	TotalSegments    int     `json:"total_segments"`
	TotalWords       int     `json:"total_words"`
	JapaneseSegments int     `json:"japanese_segments"`
	EnglishSegments  int     `json:"english_segments"`
	MixedSegments    int     `json:"mixed_segments"`
	WordsPerMinute   float64 `json:"words_per_minute"`
}

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11})(?:[&?/]|$)`),
	regexp.MustCompile(`embed/([0-9A-Za-z_-]{11})`),
	regexp.MustCompile(`youtu\.be/([0-9A-Za-z_-]{11})`),
}

// ExtractVideoID pulls the 11-character video ID out of any common
// YouTube URL shape.
func ExtractVideoID(raw string) (string, error) {
	for _, re := range videoIDPatterns {
		if m := re.FindStringSubmatch(raw); m != nil {
			return m[1], nil
		}
	}

	u, err := url.Parse(raw)
	if err == nil && (u.Hostname() == "www.youtube.com" || u.Hostname() == "youtube.com") {
		if v := u.Query().Get("v"); len(v) == 11 {
			return v, nil
		}
	}
	return "", fmt.Errorf("no video id in url %q", raw)
}

// TimestampLink builds a YouTube URL that opens at timestamp seconds.
func TimestampLink(videoID string, timestamp float64) string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s&t=%ds", videoID, int(timestamp))
}

// AnalyzeTranscript computes per-language segment statistics.
func AnalyzeTranscript(segments []TranscriptSegment) TranscriptStats {
	stats := TranscriptStats{TotalSegments: len(segments)}

	for _, seg := range segments {
		if end := seg.Start + seg.Duration; end > stats.TotalDuration {
			stats.TotalDuration = end
		}
		stats.TotalWords += len(strings.Fields(seg.Text))

		hasJapanese := containsJapanese(seg.Text)
		hasEnglish := containsLatin(seg.Text)
		switch {
		case hasJapanese && hasEnglish:
			stats.MixedSegments++
		case hasJapanese:
			stats.JapaneseSegments++
		case hasEnglish:
			stats.EnglishSegments++
		}
	}

	if stats.TotalDuration > 0 {
		stats.WordsPerMinute = float64(stats.TotalWords) / stats.TotalDuration * 60
	}
	return stats
}

// ExtractExpressions runs pattern extraction over every segment,
// carrying the segment start time. Duplicates collapse to the first
// occurrence and the result is capped at limit.
func ExtractExpressions(segments []TranscriptSegment, limit int) []Expression {
	var out []Expression
	seen := make(map[string]bool)

	for _, seg := range segments {
		for _, p := range expressionPatterns {
			for _, match := range p.re.FindAllString(seg.Text, -1) {
				key := match + ":" + p.meaning
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, Expression{
					Japanese:  match,
					English:   p.meaning,
					Category:  p.category,
					Context:   seg.Text,
					Timestamp: seg.Start,
				})
			}
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func containsJapanese(text string) bool {
	for _, r := range text {
		if (r >= 0x3000 && r <= 0x303F) ||
			(r >= 0x3040 && r <= 0x309F) ||
			(r >= 0x30A0 && r <= 0x30FF) ||
			(r >= 0x4E00 && r <= 0x9FFF) {
			return true
		}
	}
	return false
}

func containsLatin(text string) bool {
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}
