package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/ai"
	"github.com/aivlingual/aivlingual-server/internal/obs"
	"github.com/aivlingual/aivlingual-server/internal/session"
	"github.com/aivlingual/aivlingual-server/internal/speech"
	"github.com/aivlingual/aivlingual-server/internal/tts"
	"github.com/aivlingual/aivlingual-server/internal/vocab"
)

// Handlers implements every inbound message type. One instance serves
// all clients; per-client state (responder, in-flight generation) is
// keyed by client ID.
type Handlers struct {
	registry *Registry
	sessions *session.Manager
	speech   *speech.Manager
	vocab    *vocab.Service
	tts      *tts.Builder
	obs      *obs.Client // nil when OBS integration is not configured

	newResponder func() *ai.Responder
	streaming    bool // process-wide streaming default

	mu         sync.Mutex
	responders map[string]*ai.Responder
	inflight   map[string]*generation
}

// generation identifies one in-flight request so a finished goroutine
// only removes its own map entry.
type generation struct {
	cancel context.CancelFunc
}

// NewHandlers wires the message handlers. newResponder builds one
// orchestrator (with its own conversation memory) per client.
func NewHandlers(
	registry *Registry,
	sessions *session.Manager,
	speechMgr *speech.Manager,
	vocabSvc *vocab.Service,
	ttsBuilder *tts.Builder,
	obsClient *obs.Client,
	newResponder func() *ai.Responder,
	streaming bool,
) *Handlers {
	return &Handlers{
		registry:     registry,
		sessions:     sessions,
		speech:       speechMgr,
		vocab:        vocabSvc,
		tts:          ttsBuilder,
		obs:          obsClient,
		newResponder: newResponder,
		streaming:    streaming,
		responders:   make(map[string]*ai.Responder),
		inflight:     make(map[string]*generation),
	}
}

// Routes registers every message type on the router.
func (h *Handlers) Routes(r *Router) {
	r.Handle("ping", h.handlePing)
	r.Handle("start_recording", h.handleStartRecording)
	r.Handle("stop_recording", h.handleStopRecording)
	r.Handle("speech_recognition", h.handleSpeechResult)
	r.Handle("web_speech_result", h.handleSpeechResult)
	r.Handle("speech_error", h.handleSpeechError)
	r.Handle("language_change", h.handleLanguageChange)
	r.Handle("generate_response", h.handleGenerateResponse)
	r.Handle("generate_response_stream", h.handleGenerateResponseStream)
	r.Handle("synthesize_speech", h.handleSynthesizeSpeech)
	r.Handle("tts_status", h.handleTTSStatus)
	r.Handle("extract_vocabulary", h.handleExtractVocabulary)
	r.Handle("session_command", h.handleSessionCommand)
	r.Handle("config_update", h.handleConfigUpdate)
	r.Handle("obs_command", h.handleOBSCommand)
	r.Handle("reset_context", h.handleResetContext)
}

// Cleanup releases per-client resources on disconnect: any in-flight
// generation is cancelled and the client's orchestrator is dropped. The
// Session itself survives until its TTL expires.
func (h *Handlers) Cleanup(clientID string) {
	h.mu.Lock()
	gen := h.inflight[clientID]
	delete(h.inflight, clientID)
	delete(h.responders, clientID)
	h.mu.Unlock()

	if gen != nil {
		gen.cancel()
	}
}

func (h *Handlers) responder(clientID string) *ai.Responder {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.responders[clientID]
	if !ok {
		r = h.newResponder()
		h.responders[clientID] = r
	}
	return r
}

func (h *Handlers) sendError(clientID, message string) {
	h.registry.Send(clientID, map[string]any{
		"type":    "error",
		"message": message,
	})
}

// --- keepalive ---

func (h *Handlers) handlePing(ctx context.Context, clientID string, raw json.RawMessage) {
	var msg struct {
		Timestamp any `json:"timestamp"`
	}
	_ = json.Unmarshal(raw, &msg)

	ts := msg.Timestamp
	if ts == nil {
		ts = time.Now().UTC().Format(time.RFC3339)
	}
	h.registry.Send(clientID, map[string]any{
		"type":      "pong",
		"timestamp": ts,
	})
}

// --- recording lifecycle ---

func (h *Handlers) handleStartRecording(ctx context.Context, clientID string, raw json.RawMessage) {
	var msg struct {
		Language string `json:"language"`
		Provider string `json:"provider"`
	}
	_ = json.Unmarshal(raw, &msg)

	if msg.Language == "" {
		msg.Language = "ja-JP"
	}
	if msg.Provider == "" {
		msg.Provider = "web"
	}

	h.speech.Start(clientID, msg.Language)
	h.registry.Send(clientID, map[string]any{
		"type":     "recording_started",
		"provider": msg.Provider,
		"language": msg.Language,
	})
}

func (h *Handlers) handleStopRecording(ctx context.Context, clientID string, raw json.RawMessage) {
	reply := map[string]any{"type": "recording_stopped"}
	if s, ok := h.speech.Stop(clientID); ok {
		reply["stats"] = map[string]any{
			"duration_seconds": s.TotalDuration,
			"recognitions":     s.RecognitionCount,
			"errors":           s.ErrorCount,
		}
	}
	h.registry.Send(clientID, reply)
}

// --- speech recognition results ---

type speechResultPayload struct {
	Data struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
		IsFinal    bool    `json:"isFinal"`
		Language   string  `json:"language"`
	} `json:"data"`
}

func (h *Handlers) handleSpeechResult(ctx context.Context, clientID string, raw json.RawMessage) {
	var msg speechResultPayload
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(clientID, "Malformed speech recognition payload")
		return
	}
	d := msg.Data
	if d.Transcript == "" {
		return
	}
	if d.Language == "" {
		d.Language = "ja-JP"
	}

	if !d.IsFinal {
		h.speech.AddInterim(clientID, d.Transcript)
		return
	}

	h.speech.AddFinal(clientID, d.Transcript, d.Confidence, d.Language)
	h.registry.Send(clientID, map[string]any{
		"type":       "transcription_confirmed",
		"text":       d.Transcript,
		"language":   d.Language,
		"confidence": d.Confidence,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})

	h.runGeneration(ctx, clientID, ai.Request{
		ClientID:       clientID,
		Text:           d.Transcript,
		Language:       d.Language,
		SessionContext: h.sessions.Context(clientID),
		Streaming:      h.streaming,
		EnableTTS:      true,
	})
}

func (h *Handlers) handleSpeechError(ctx context.Context, clientID string, raw json.RawMessage) {
	var msg struct {
		Data struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		} `json:"data"`
	}
	_ = json.Unmarshal(raw, &msg)

	kind := msg.Data.Error
	if kind == "" {
		kind = "unknown"
	}
	h.speech.RecordError(clientID, kind, msg.Data.Message)

	h.registry.Send(clientID, map[string]any{
		"type":             "speech_error_handled",
		"error":            kind,
		"message":          friendlySpeechError(kind),
		"original_message": msg.Data.Message,
	})
}

func friendlySpeechError(kind string) string {
	messages := map[string]string{
		"no-speech":              "No speech was detected. Please try speaking clearly.",
		"audio-capture":          "Unable to access microphone. Please check your microphone settings.",
		"not-allowed":            "Microphone permission denied. Please allow microphone access and refresh.",
		"network":                "Network error. Please check your internet connection.",
		"aborted":                "Speech recognition was cancelled.",
		"language-not-supported": "The selected language is not supported by your browser.",
		"service-not-allowed":    "Speech recognition service is not available.",
	}
	if msg, ok := messages[kind]; ok {
		return msg
	}
	return fmt.Sprintf("Speech recognition error: %s", kind)
}

func (h *Handlers) handleLanguageChange(ctx context.Context, clientID string, raw json.RawMessage) {
	var msg struct {
		Language string `json:"language"`
	}
	_ = json.Unmarshal(raw, &msg)
	if msg.Language == "" {
		msg.Language = "ja-JP"
	}

	h.sessions.SetPreference(clientID, "language", msg.Language)
	// Conversation history in the old language would steer the model
	// back, so it is cleared with the switch.
	h.responder(clientID).Memory().Clear()

	h.registry.Send(clientID, map[string]any{
		"type":     "language_changed",
		"language": msg.Language,
		"message":  fmt.Sprintf("Language changed to %s", msg.Language),
	})
}

// --- response generation ---

type generatePayload struct {
	Text            string         `json:"text"`
	Context         map[string]any `json:"context"`
	EnableTTS       *bool          `json:"enable_tts"`
	EnableStreaming *bool          `json:"enable_streaming"`
}

func (h *Handlers) handleGenerateResponse(ctx context.Context, clientID string, raw json.RawMessage) {
	h.generate(ctx, clientID, raw, false)
}

func (h *Handlers) handleGenerateResponseStream(ctx context.Context, clientID string, raw json.RawMessage) {
	h.generate(ctx, clientID, raw, true)
}

func (h *Handlers) generate(ctx context.Context, clientID string, raw json.RawMessage, streamRequested bool) {
	var msg generatePayload
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Text == "" {
		h.sendError(clientID, "No text provided for response generation")
		return
	}

	language := ""
	if lang, ok := msg.Context["language"].(string); ok {
		language = lang
	}

	streaming := streamRequested && h.streaming
	if msg.EnableStreaming != nil && !*msg.EnableStreaming {
		streaming = false
	}
	enableTTS := true
	if msg.EnableTTS != nil {
		enableTTS = *msg.EnableTTS
	}

	h.runGeneration(ctx, clientID, ai.Request{
		ClientID:       clientID,
		Text:           msg.Text,
		Language:       language,
		SessionContext: h.sessions.Context(clientID),
		Streaming:      streaming,
		EnableTTS:      enableTTS,
	})
}

// runGeneration drives one request through the orchestrator in its own
// goroutine so the read loop keeps servicing the connection. Events are
// relayed in order through the registry's per-client queue.
func (h *Handlers) runGeneration(ctx context.Context, clientID string, req ai.Request) {
	genCtx, cancel := context.WithCancel(ctx)
	gen := &generation{cancel: cancel}

	h.mu.Lock()
	if prev := h.inflight[clientID]; prev != nil {
		prev.cancel()
	}
	h.inflight[clientID] = gen
	h.mu.Unlock()

	responder := h.responder(clientID)

	go func() {
		defer cancel()
		defer func() {
			h.mu.Lock()
			if h.inflight[clientID] == gen {
				delete(h.inflight, clientID)
			}
			h.mu.Unlock()
		}()

		for ev, err := range responder.Stream(genCtx, req) {
			if err != nil {
				// Cancelled: the connection is gone, nothing more is sent.
				slog.Debug("Generation stream ended", "client_id", clientID, "reason", err)
				return
			}
			switch ev.Type {
			case ai.EventChunk:
				h.registry.Send(clientID, map[string]any{
					"type":     "ai_response_chunk",
					"text":     ev.Text,
					"language": ev.Language,
					"metadata": ev.Metadata,
				})
			case ai.EventFinal:
				h.registry.Send(clientID, map[string]any{
					"type":        "ai_response_final",
					"text":        ev.Text,
					"language":    ev.Language,
					"tts_command": ev.TTSCommand,
					"metadata":    ev.Metadata,
				})
				h.sessions.AppendTurn(clientID, req.Text, ev.Text)
			case ai.EventError:
				h.registry.Send(clientID, map[string]any{
					"type":     "error",
					"message":  ev.Text,
					"metadata": ev.Metadata,
				})
			}
		}
	}()
}

// --- synthesis ---

func (h *Handlers) handleSynthesizeSpeech(ctx context.Context, clientID string, raw json.RawMessage) {
	var msg struct {
		Text          string             `json:"text"`
		Language      string             `json:"language"`
		VoiceSettings *tts.VoiceSettings `json:"voice_settings"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Text == "" {
		h.sendError(clientID, "No text provided for synthesis")
		return
	}
	if msg.Language == "" {
		msg.Language = "ja-JP"
	}

	cmd := h.tts.Synthesize(msg.Text, msg.Language, msg.VoiceSettings)
	h.registry.Send(clientID, map[string]any{
		"type":    "tts_command",
		"command": cmd,
	})
}

func (h *Handlers) handleTTSStatus(ctx context.Context, clientID string, raw json.RawMessage) {
	var msg struct {
		Status      string `json:"status"`
		SynthesisID string `json:"synthesis_id"`
		Error       string `json:"error"`
	}
	_ = json.Unmarshal(raw, &msg)

	switch msg.Status {
	case "started":
		h.registry.Send(clientID, map[string]any{"type": "avatar_state", "state": "talking"})
	case "completed":
		h.registry.Send(clientID, map[string]any{"type": "avatar_state", "state": "idle"})
	case "error":
		if msg.Error == "" {
			msg.Error = "Unknown TTS error"
		}
		slog.Warn("Client TTS error", "client_id", clientID, "synthesis_id", msg.SynthesisID, "error", msg.Error)
		h.sendError(clientID, fmt.Sprintf("TTS error: %s", msg.Error))
	}
}

// --- vocabulary ---

func (h *Handlers) handleExtractVocabulary(ctx context.Context, clientID string, raw json.RawMessage) {
	var msg struct {
		SourceType   string `json:"source_type"`
		Transcript   string `json:"transcript"`
		VideoID      string `json:"video_id"`
		VideoURL     string `json:"video_url"`
		SyncToNotion *bool  `json:"sync_to_notion"`
	}
	_ = json.Unmarshal(raw, &msg)
	if msg.SourceType == "" {
		msg.SourceType = "conversation"
	}
	syncNotion := msg.SyncToNotion == nil || *msg.SyncToNotion
	if h.vocab == nil {
		h.sendError(clientID, "Vocabulary extraction is not configured")
		return
	}

	switch msg.SourceType {
	case "conversation":
		if msg.Transcript == "" {
			h.sendError(clientID, "No transcript provided for vocabulary extraction")
			return
		}
		items, err := h.vocab.ExtractFromConversation(ctx, msg.Transcript, syncNotion)
		if err != nil {
			h.sendError(clientID, fmt.Sprintf("Vocabulary extraction error: %v", err))
			return
		}
		h.registry.Send(clientID, map[string]any{
			"type":  "vocabulary_extracted",
			"items": items,
			"count": len(items),
		})

	case "video":
		target := msg.VideoURL
		if target == "" && msg.VideoID != "" {
			target = vocab.TimestampLink(msg.VideoID, 0)
		}
		if target == "" {
			h.sendError(clientID, "No video ID provided for vocabulary extraction")
			return
		}
		result, err := h.vocab.ExtractFromVideo(ctx, target, syncNotion)
		if err != nil {
			h.sendError(clientID, fmt.Sprintf("Vocabulary extraction error: %v", err))
			return
		}
		h.registry.Send(clientID, map[string]any{
			"type":           "vocabulary_extracted",
			"items":          result.Items,
			"count":          result.Extracted,
			"video_id":       result.VideoID,
			"language_stats": result.Stats,
		})

	default:
		h.sendError(clientID, fmt.Sprintf("Unknown source type: %s", msg.SourceType))
	}
}

// --- session control ---

func (h *Handlers) handleSessionCommand(ctx context.Context, clientID string, raw json.RawMessage) {
	var msg struct {
		Command     string `json:"command"`
		SessionType string `json:"session_type"`
	}
	_ = json.Unmarshal(raw, &msg)

	switch msg.Command {
	case "start_session":
		sessionType := msg.SessionType
		if sessionType == "" {
			sessionType = "conversation"
		}
		h.registry.Send(clientID, map[string]any{
			"type":         "session_started",
			"session_type": sessionType,
			"client_id":    clientID,
		})

	case "end_session":
		stats := map[string]any{}
		if s, ok := h.speech.Stop(clientID); ok {
			stats["speech_duration"] = s.TotalDuration
			stats["recognitions"] = s.RecognitionCount
			stats["errors"] = s.ErrorCount
		}
		h.sessions.End(clientID)
		h.registry.Send(clientID, map[string]any{
			"type":      "session_ended",
			"client_id": clientID,
			"stats":     stats,
		})

	case "get_session_info":
		reply := map[string]any{
			"type":          "session_info",
			"client_id":     clientID,
			"connected":     true,
			"session_stats": h.sessions.Stats(clientID),
		}
		if speechStats, ok := h.speech.Stats(clientID); ok {
			reply["speech_stats"] = speechStats
		}
		h.registry.Send(clientID, reply)

	default:
		h.sendError(clientID, fmt.Sprintf("Unknown session command: %s", msg.Command))
	}
}

func (h *Handlers) handleConfigUpdate(ctx context.Context, clientID string, raw json.RawMessage) {
	var msg struct {
		ConfigType string         `json:"config_type"`
		ConfigData map[string]any `json:"config_data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.ConfigType == "" {
		h.sendError(clientID, "No config_type specified")
		return
	}

	reply := map[string]any{
		"type":        "config_updated",
		"config_type": msg.ConfigType,
		"message":     fmt.Sprintf("%s configuration updated successfully", msg.ConfigType),
	}

	switch msg.ConfigType {
	case "language":
		language := "ja-JP"
		if lang, ok := msg.ConfigData["language"].(string); ok && lang != "" {
			language = lang
		}
		h.sessions.SetPreference(clientID, "language", language)
	case "voice":
		h.sessions.SetPreference(clientID, "voice_settings", msg.ConfigData["voice_settings"])
		// The browser owns actual voice availability; these are the
		// server's suggestions for the requested language.
		language, _ := msg.ConfigData["language"].(string)
		reply["available_voices"] = h.tts.Voices(language)
		reply["supported_languages"] = tts.SupportedLanguages()
	case "obs":
		h.sessions.SetPreference(clientID, "obs_settings", msg.ConfigData["obs_settings"])
	default:
		h.sendError(clientID, fmt.Sprintf("Unknown config type: %s", msg.ConfigType))
		return
	}

	h.registry.Send(clientID, reply)
}

func (h *Handlers) handleResetContext(ctx context.Context, clientID string, raw json.RawMessage) {
	h.sessions.ResetContext(clientID)
	h.responder(clientID).Memory().Clear()
	h.registry.Send(clientID, map[string]any{
		"type":   "context_reset",
		"status": "success",
	})
}

// --- OBS control ---

func (h *Handlers) handleOBSCommand(ctx context.Context, clientID string, raw json.RawMessage) {
	var msg struct {
		Command    string `json:"command"`
		SceneName  string `json:"scene_name"`
		SourceName string `json:"source_name"`
		Visible    *bool  `json:"visible"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Command == "" {
		h.sendError(clientID, "No OBS command specified")
		return
	}
	if h.obs == nil {
		h.sendError(clientID, "OBS integration is not configured")
		return
	}

	if !h.obs.Connected() {
		if err := h.obs.Connect(ctx); err != nil {
			h.sendError(clientID, fmt.Sprintf("OBS command error: %v", err))
			return
		}
	}

	var result any
	var err error
	switch msg.Command {
	case "switch_scene":
		if msg.SceneName == "" {
			h.sendError(clientID, "No scene_name specified")
			return
		}
		err = h.obs.SwitchScene(ctx, msg.SceneName)
	case "toggle_source":
		if msg.SourceName == "" {
			h.sendError(clientID, "No source_name specified")
			return
		}
		visible := true
		if msg.Visible != nil {
			visible = *msg.Visible
		}
		err = h.obs.ToggleSource(ctx, msg.SourceName, visible)
	case "start_recording":
		err = h.obs.StartRecording(ctx)
	case "stop_recording":
		result, err = h.obs.StopRecording(ctx)
	case "get_status":
		var status *obs.RecordingStatus
		status, err = h.obs.GetRecordingStatus(ctx)
		if err == nil {
			h.registry.Send(clientID, map[string]any{
				"type":   "obs_status",
				"status": status,
			})
			return
		}
	default:
		h.sendError(clientID, fmt.Sprintf("Unknown OBS command: %s", msg.Command))
		return
	}

	if err != nil {
		h.sendError(clientID, fmt.Sprintf("OBS command error: %v", err))
		return
	}
	h.registry.Send(clientID, map[string]any{
		"type":    "obs_command_result",
		"command": msg.Command,
		"success": true,
		"result":  result,
	})
}
