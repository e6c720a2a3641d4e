package ai

import (
	"context"
	"errors"
	"iter"
)

// Generation failure kinds. The orchestrator maps these to error events
// with localized fallback text.
var (
	// ErrRejected indicates the upstream refused the prompt, e.g. a
	// safety filter.
	ErrRejected = errors.New("generation rejected by upstream")
	// ErrEmptyResponse indicates the upstream returned no usable text.
	ErrEmptyResponse = errors.New("empty generation response")
)

// Generator is the external generation collaborator: submit a prompt,
// receive either a complete string or an ordered sequence of fragments
// terminated by end-of-stream. Implementations must honor ctx
// cancellation between fragments.
type Generator interface {
	// Generate returns the complete response text.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStream returns a cursor over ordered response fragments.
	// The caller owns the cursor's lifetime: breaking out of the range
	// releases the underlying stream.
	GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error]
}
