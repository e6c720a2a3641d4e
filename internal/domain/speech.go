package domain

import "time"

// FinalTranscript is one committed recognition result.
type FinalTranscript struct {
	Text       string    `json:"transcript"`
	Confidence float64   `json:"confidence"`
	Language   string    `json:"language"`
	Timestamp  time.Time `json:"timestamp"`
}

// SpeechError records the most recent recognition failure.
type SpeechError struct {
	Kind      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechSession holds per-client speech recognition state for one
// recording span.
type SpeechSession struct {
	ClientID          string            `json:"client_id"`
	Language          string            `json:"language"`
	StartedAt         time.Time         `json:"started_at"`
	LastActivity      time.Time         `json:"last_activity"`
	IsActive          bool              `json:"is_active"`
	InterimTranscript string            `json:"interim_transcript"`
	FinalTranscripts  []FinalTranscript `json:"final_transcripts"`
	ErrorCount        int               `json:"error_count"`
	RecognitionCount  int               `json:"recognition_count"`
	TotalDuration     float64           `json:"total_duration"`
	LastError         *SpeechError      `json:"last_error,omitempty"`
}

// SpeechStats is the operator-facing view of a speech session.
type SpeechStats struct {
	ClientID          string  `json:"client_id"`
	Language          string  `json:"language"`
	IsActive          bool    `json:"is_active"`
	DurationSeconds   float64 `json:"duration_seconds"`
	RecognitionCount  int     `json:"recognition_count"`
	ErrorCount        int     `json:"error_count"`
	ErrorRate         float64 `json:"error_rate"`
	LastActivity      string  `json:"last_activity"`
	TranscriptHistory int     `json:"transcript_history_length"`
}
