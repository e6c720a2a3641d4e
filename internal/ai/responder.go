package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/domain"
	"github.com/aivlingual/aivlingual-server/internal/ratelimit"
	"github.com/aivlingual/aivlingual-server/internal/tts"
)

// state tracks one request through the orchestrator.
type state int

const (
	stateIdle state = iota
	stateAdmitted
	stateGenerating
	stateCompleted
	stateFailed
	stateCancelled
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAdmitted:
		return "admitted"
	case stateGenerating:
		return "generating"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "failed"
	case stateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// EventType tags an orchestrator event.
type EventType string

// Event types emitted while serving one request.
const (
	EventChunk EventType = "chunk"
	EventFinal EventType = "final"
	EventError EventType = "error"
)

// Event is one ordered output of the orchestrator: a response fragment,
// the terminal full response, or an error payload.
type Event struct {
	Type       EventType
	Text       string
	Language   string
	TTSCommand *tts.Command
	Metadata   map[string]any
}

// Recorder is the persistence collaborator for completed turns.
type Recorder interface {
	SaveConversation(ctx context.Context, rec *domain.ConversationRecord) error
}

// Request describes one generation request.
type Request struct {
	ClientID       string
	Text           string
	Language       string // explicit language, or "auto"/empty for detection
	SessionContext domain.SessionContext
	Streaming      bool
	EnableTTS      bool
}

// Responder drives one request end to end: admission, language
// resolution, prompt assembly, streamed generation, synthesis command,
// persistence hand-off, and memory update. One Responder serves one
// logical conversation thread; the generator, limiter, and recorder
// are shared process-wide.
type Responder struct {
	generator Generator
	limiter   *ratelimit.Limiter
	builder   *tts.Builder
	detector  *Detector
	memory    *Memory
	recorder  Recorder
	timeout   time.Duration
}

// NewResponder creates an orchestrator with its own conversation memory.
func NewResponder(gen Generator, limiter *ratelimit.Limiter, builder *tts.Builder, detector *Detector, recorder Recorder, memoryWindow int, timeout time.Duration) *Responder {
	return &Responder{
		generator: gen,
		limiter:   limiter,
		builder:   builder,
		detector:  detector,
		memory:    NewMemory(memoryWindow),
		recorder:  recorder,
		timeout:   timeout,
	}
}

// Memory exposes the conversation memory for reset commands.
func (r *Responder) Memory() *Memory {
	return r.memory
}

// Stream serves one request, yielding ordered chunk events followed by
// exactly one final event, or a single error event on failure. The
// sequence's error half fires only for cancellation: once ctx is done no
// further events are attempted and partial text is discarded. In
// non-streaming mode the same state machine runs with zero chunk events.
func (r *Responder) Stream(ctx context.Context, req Request) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		st := stateIdle

		if !r.limiter.Check(req.ClientID) {
			retry := r.limiter.RetryAfter(req.ClientID)
			st = stateFailed
			slog.Warn("Generation request rate limited", "client_id", req.ClientID, "retry_after", retry, "state", st.String())
			yield(&Event{
				Type:     EventError,
				Text:     fmt.Sprintf("Rate limit exceeded. Please try again in %d seconds.", retry),
				Language: req.Language,
				Metadata: map[string]any{
					"error":       "rate_limit_exceeded",
					"retry_after": retry,
					"fallback":    true,
				},
			}, nil)
			return
		}
		st = stateAdmitted

		lang := req.Language
		if lang == "" || lang == LangAuto {
			lang = r.detector.DetectUserLanguage(req.Text)
			slog.Debug("Detected user language", "client_id", req.ClientID, "language", lang)
		}

		prompt := BuildPrompt(req.Text, lang, req.SessionContext, r.memory)

		genCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		st = stateGenerating

		var full strings.Builder
		if req.Streaming {
			for fragment, err := range r.generator.GenerateStream(genCtx, prompt) {
				if err != nil {
					r.yieldFailure(ctx, genCtx, yield, req, lang, err, &st)
					return
				}
				// Cooperative cancellation between fragments.
				if ctx.Err() != nil {
					st = stateCancelled
					slog.Info("Generation cancelled mid-stream", "client_id", req.ClientID, "state", st.String())
					yield(nil, ctx.Err())
					return
				}
				full.WriteString(fragment)
				chunk := &Event{
					Type:     EventChunk,
					Text:     fragment,
					Language: r.detector.ResponseLanguage(fragment, lang),
					Metadata: map[string]any{"user_language": lang, "is_final": false},
				}
				if !yield(chunk, nil) {
					st = stateCancelled
					return
				}
			}
			if genCtx.Err() != nil {
				r.yieldFailure(ctx, genCtx, yield, req, lang, genCtx.Err(), &st)
				return
			}
		} else {
			text, err := r.generator.Generate(genCtx, prompt)
			if err != nil {
				r.yieldFailure(ctx, genCtx, yield, req, lang, err, &st)
				return
			}
			full.WriteString(text)
		}

		fullText := strings.TrimSpace(full.String())
		if fullText == "" {
			r.yieldFailure(ctx, genCtx, yield, req, lang, ErrEmptyResponse, &st)
			return
		}
		if ctx.Err() != nil {
			st = stateCancelled
			yield(nil, ctx.Err())
			return
		}

		responseLang := r.detector.ResponseLanguage(fullText, lang)

		var cmd *tts.Command
		if req.EnableTTS {
			cmd = r.builder.Synthesize(fullText, responseLang, nil)
		}

		// Commit the turn only now: failures and cancellations must never
		// leave a partial exchange in memory.
		r.memory.Add("user", req.Text)
		r.memory.Add("assistant", fullText)
		st = stateCompleted

		r.persist(req.ClientID, req.Text, fullText, lang, responseLang)

		slog.Info("Generation completed",
			"client_id", req.ClientID,
			"state", st.String(),
			"user_language", lang,
			"response_language", responseLang,
			"streaming", req.Streaming)

		yield(&Event{
			Type:       EventFinal,
			Text:       fullText,
			Language:   responseLang,
			TTSCommand: cmd,
			Metadata: map[string]any{
				"user_language":      lang,
				"conversation_turns": r.memory.TurnCount(),
				"is_final":           true,
			},
		}, nil)
	}
}

// yieldFailure converts a generation error into either a cancellation
// (connection gone, nothing more is sent) or a localized error event.
func (r *Responder) yieldFailure(ctx, genCtx context.Context, yield func(*Event, error) bool, req Request, lang string, err error, st *state) {
	if ctx.Err() != nil {
		*st = stateCancelled
		slog.Info("Generation cancelled", "client_id", req.ClientID, "state", st.String())
		yield(nil, ctx.Err())
		return
	}

	*st = stateFailed
	kind := "upstream_error"
	text := fallbackText(lang)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || genCtx.Err() != nil:
		kind = "timeout"
		text = timeoutText(lang)
	case errors.Is(err, ErrRejected):
		kind = "content_filtered"
		text = filteredText(lang)
	}

	slog.Error("Generation failed",
		"client_id", req.ClientID,
		"state", st.String(),
		"kind", kind,
		"error", err)

	yield(&Event{
		Type:     EventError,
		Text:     text,
		Language: lang,
		Metadata: map[string]any{
			"error":    kind,
			"fallback": true,
		},
	}, nil)
}

// persist hands the completed turn to the persistence collaborator.
// Failures are logged, never surfaced to the client.
func (r *Responder) persist(clientID, userText, aiText, userLang, aiLang string) {
	if r.recorder == nil {
		return
	}
	rec := &domain.ConversationRecord{
		SessionID:    clientID,
		UserMessage:  userText,
		AIResponse:   aiText,
		UserLanguage: userLang,
		AILanguage:   aiLang,
		Timestamp:    time.Now().UTC(),
	}
	go func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.recorder.SaveConversation(saveCtx, rec); err != nil {
			slog.Error("Failed to save conversation", "client_id", clientID, "error", err)
		}
	}()
}

func fallbackText(lang string) string {
	if lang == LangJapanese {
		return "すみません、今は応答できません。もう一度お試しください。"
	}
	return "Sorry, I couldn't process that. Please try again."
}

func timeoutText(lang string) string {
	if lang == LangJapanese {
		return "応答がタイムアウトしました。もう一度お試しください。"
	}
	return "Response generation timed out. Please try again."
}

func filteredText(lang string) string {
	if lang == LangJapanese {
		return "そのメッセージには応答できません。"
	}
	return "I cannot respond to that message due to content filters."
}
