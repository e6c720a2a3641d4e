package ws

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/ai"
	"github.com/aivlingual/aivlingual-server/internal/cache"
	"github.com/aivlingual/aivlingual-server/internal/config"
	"github.com/aivlingual/aivlingual-server/internal/domain"
	"github.com/aivlingual/aivlingual-server/internal/ratelimit"
	"github.com/aivlingual/aivlingual-server/internal/session"
	"github.com/aivlingual/aivlingual-server/internal/speech"
	"github.com/aivlingual/aivlingual-server/internal/tts"
	"github.com/aivlingual/aivlingual-server/internal/vocab"
)

type scriptedGenerator struct {
	fragments []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var full string
	for _, f := range g.fragments {
		full += f
	}
	return full, nil
}

func (g *scriptedGenerator) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, f := range g.fragments {
			if !yield(f, nil) {
				return
			}
		}
	}
}

type testEnv struct {
	registry *Registry
	router   *Router
	handlers *Handlers
	sessions *session.Manager
	speech   *speech.Manager
	conn     *fakeConn
	clientID string
}

func newTestEnv(t *testing.T, fragments []string, streaming bool) *testEnv {
	t.Helper()

	registry := NewRegistry()
	sessions := session.NewManager(time.Hour, time.Hour)
	speechMgr := speech.NewManager(30*time.Minute, time.Hour, 50)

	newResponder := func() *ai.Responder {
		limiter := ratelimit.New(config.RateLimitConfig{
			RequestsPerMinute: 100,
			RequestsPerHour:   1000,
			SweepEvery:        time.Hour,
			IdleThreshold:     time.Hour,
		})
		return ai.NewResponder(
			&scriptedGenerator{fragments: fragments},
			limiter,
			tts.NewBuilder(),
			ai.NewDetector(0.3, 0.5),
			nil,
			10,
			time.Second,
		)
	}

	handlers := NewHandlers(registry, sessions, speechMgr, nil, tts.NewBuilder(), nil, newResponder, streaming)
	router := NewRouter(registry)
	handlers.Routes(router)

	clientID := sessions.Create()
	conn := &fakeConn{}
	registry.Register(clientID, conn)
	t.Cleanup(func() {
		handlers.Cleanup(clientID)
		registry.Unregister(clientID)
	})

	return &testEnv{
		registry: registry,
		router:   router,
		handlers: handlers,
		sessions: sessions,
		speech:   speechMgr,
		conn:     conn,
		clientID: clientID,
	}
}

func (e *testEnv) dispatch(t *testing.T, raw string) {
	t.Helper()
	e.router.Dispatch(context.Background(), e.clientID, []byte(raw))
}

func TestPingEchoesTimestampWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t, nil, true)

	turnsBefore := env.sessions.Stats(env.clientID)["turn_count"]
	env.dispatch(t, `{"type":"ping","timestamp":"T0"}`)

	frames := waitFrames(t, env.conn, 1)
	m := decodeFrame(t, frames[0])
	if m["type"] != "pong" || m["timestamp"] != "T0" {
		t.Errorf("unexpected pong: %v", m)
	}
	if got := env.sessions.Stats(env.clientID)["turn_count"]; got != turnsBefore {
		t.Error("ping must not mutate session state")
	}
	if _, ok := env.speech.Get(env.clientID); ok {
		t.Error("ping must not create speech state")
	}
}

func TestStartAndStopRecording(t *testing.T) {
	env := newTestEnv(t, nil, true)

	env.dispatch(t, `{"type":"start_recording","language":"en-US","provider":"web"}`)
	frames := waitFrames(t, env.conn, 1)
	m := decodeFrame(t, frames[0])
	if m["type"] != "recording_started" || m["provider"] != "web" {
		t.Fatalf("unexpected reply: %v", m)
	}
	if s, ok := env.speech.Get(env.clientID); !ok || !s.IsActive {
		t.Fatal("recording start should activate a speech session")
	}

	env.dispatch(t, `{"type":"stop_recording"}`)
	frames = waitFrames(t, env.conn, 2)
	m = decodeFrame(t, frames[1])
	if m["type"] != "recording_stopped" {
		t.Fatalf("unexpected reply: %v", m)
	}
	if s, _ := env.speech.Get(env.clientID); s.IsActive {
		t.Error("stop should deactivate the speech session")
	}
}

func TestInterimTranscriptProducesNoReply(t *testing.T) {
	env := newTestEnv(t, []string{"ignored"}, true)
	env.speech.Start(env.clientID, "ja-JP")

	env.dispatch(t, `{"type":"web_speech_result","data":{"transcript":"こん","isFinal":false,"confidence":0.5,"language":"ja-JP"}}`)

	time.Sleep(20 * time.Millisecond)
	if n := len(env.conn.snapshot()); n != 0 {
		t.Errorf("interim result must not reply, got %d frames", n)
	}
	s, _ := env.speech.Get(env.clientID)
	if s.InterimTranscript != "こん" {
		t.Errorf("interim transcript not stored: %q", s.InterimTranscript)
	}
}

func TestFinalTranscriptDrivesGeneration(t *testing.T) {
	env := newTestEnv(t, []string{"A", "B", "C"}, true)
	env.speech.Start(env.clientID, "ja-JP")

	env.dispatch(t, `{"type":"speech_recognition","data":{"transcript":"こんにちは","isFinal":true,"confidence":0.9,"language":"ja-JP"}}`)

	// transcription_confirmed + 3 chunks + final
	frames := waitFrames(t, env.conn, 5)

	first := decodeFrame(t, frames[0])
	if first["type"] != "transcription_confirmed" || first["text"] != "こんにちは" {
		t.Fatalf("first frame should confirm the transcription: %v", first)
	}

	var chunks []string
	var final map[string]any
	for _, raw := range frames[1:] {
		m := decodeFrame(t, raw)
		switch m["type"] {
		case "ai_response_chunk":
			if final != nil {
				t.Fatal("chunk arrived after the final event")
			}
			chunks = append(chunks, m["text"].(string))
		case "ai_response_final":
			final = m
		}
	}
	if len(chunks) != 3 || chunks[0] != "A" || chunks[1] != "B" || chunks[2] != "C" {
		t.Fatalf("chunks out of order: %v", chunks)
	}
	if final == nil || final["text"] != "ABC" {
		t.Fatalf("unexpected final event: %v", final)
	}
	if final["tts_command"] == nil {
		t.Error("final event should carry a synthesis command")
	}

	if got := env.sessions.Stats(env.clientID)["turn_count"]; got != 1 {
		t.Errorf("completed turn should be appended to the session, turn_count = %v", got)
	}
}

func TestGenerateResponseRequiresText(t *testing.T) {
	env := newTestEnv(t, nil, true)

	env.dispatch(t, `{"type":"generate_response"}`)
	frames := waitFrames(t, env.conn, 1)
	m := decodeFrame(t, frames[0])
	if m["type"] != "error" || m["message"] != "No text provided for response generation" {
		t.Errorf("unexpected reply: %v", m)
	}
	if got := env.sessions.Stats(env.clientID)["turn_count"]; got != 0 {
		t.Error("validation failure must not mutate session state")
	}
}

func TestGenerateResponseNonStreaming(t *testing.T) {
	env := newTestEnv(t, []string{"hello there"}, false)

	env.dispatch(t, `{"type":"generate_response","text":"hi"}`)
	frames := waitFrames(t, env.conn, 1)
	m := decodeFrame(t, frames[0])
	if m["type"] != "ai_response_final" || m["text"] != "hello there" {
		t.Fatalf("unexpected reply: %v", m)
	}

	time.Sleep(20 * time.Millisecond)
	for _, raw := range env.conn.snapshot() {
		if decodeFrame(t, raw)["type"] == "ai_response_chunk" {
			t.Error("non-streaming mode must not emit chunk events")
		}
	}
}

func TestSynthesizeSpeechReturnsCommand(t *testing.T) {
	env := newTestEnv(t, nil, true)

	env.dispatch(t, `{"type":"synthesize_speech","text":"こんにちは","language":"ja-JP"}`)
	frames := waitFrames(t, env.conn, 1)
	m := decodeFrame(t, frames[0])
	if m["type"] != "tts_command" {
		t.Fatalf("unexpected reply: %v", m)
	}
	cmd := m["command"].(map[string]any)
	if cmd["text"] != "こんにちは" || cmd["language"] != "ja-JP" {
		t.Errorf("unexpected command: %v", cmd)
	}
	settings := cmd["settings"].(map[string]any)
	if settings["rate"].(float64) != 0.9 {
		t.Errorf("ja-JP rate = %v, want 0.9", settings["rate"])
	}
}

func TestSessionCommandLifecycle(t *testing.T) {
	env := newTestEnv(t, nil, true)
	env.speech.Start(env.clientID, "ja-JP")

	env.dispatch(t, `{"type":"session_command","command":"get_session_info"}`)
	frames := waitFrames(t, env.conn, 1)
	info := decodeFrame(t, frames[0])
	if info["type"] != "session_info" || info["connected"] != true {
		t.Fatalf("unexpected session info: %v", info)
	}
	if info["speech_stats"] == nil || info["session_stats"] == nil {
		t.Error("session info should include both stat blocks")
	}

	env.dispatch(t, `{"type":"session_command","command":"end_session"}`)
	frames = waitFrames(t, env.conn, 2)
	ended := decodeFrame(t, frames[1])
	if ended["type"] != "session_ended" {
		t.Fatalf("unexpected reply: %v", ended)
	}
	if _, ok := env.sessions.Get(env.clientID); ok {
		t.Error("end_session should destroy the session")
	}
}

func TestSessionCommandUnknown(t *testing.T) {
	env := newTestEnv(t, nil, true)

	env.dispatch(t, `{"type":"session_command","command":"fly"}`)
	frames := waitFrames(t, env.conn, 1)
	m := decodeFrame(t, frames[0])
	if m["type"] != "error" || m["message"] != "Unknown session command: fly" {
		t.Errorf("unexpected reply: %v", m)
	}
}

func TestLanguageChangeUpdatesPreference(t *testing.T) {
	env := newTestEnv(t, nil, true)

	env.dispatch(t, `{"type":"language_change","language":"en-US"}`)
	frames := waitFrames(t, env.conn, 1)
	m := decodeFrame(t, frames[0])
	if m["type"] != "language_changed" || m["language"] != "en-US" {
		t.Fatalf("unexpected reply: %v", m)
	}
	if got := env.sessions.Context(env.clientID).LanguagePreference; got != "en-US" {
		t.Errorf("preference = %q, want en-US", got)
	}
}

func TestResetContextClearsHistory(t *testing.T) {
	env := newTestEnv(t, nil, true)
	env.sessions.AppendTurn(env.clientID, "hi", "hello")

	env.dispatch(t, `{"type":"reset_context"}`)
	frames := waitFrames(t, env.conn, 1)
	m := decodeFrame(t, frames[0])
	if m["type"] != "context_reset" || m["status"] != "success" {
		t.Fatalf("unexpected reply: %v", m)
	}
	if ctx := env.sessions.Context(env.clientID); ctx.TurnCount != 0 || ctx.ConversationHistory != "" {
		t.Error("context should be cleared")
	}
}

func TestOBSCommandWithoutClient(t *testing.T) {
	env := newTestEnv(t, nil, true)

	env.dispatch(t, `{"type":"obs_command","command":"start_recording"}`)
	frames := waitFrames(t, env.conn, 1)
	m := decodeFrame(t, frames[0])
	if m["type"] != "error" || m["message"] != "OBS integration is not configured" {
		t.Errorf("unexpected reply: %v", m)
	}
}

func TestSpeechErrorIsRecordedAndAnswered(t *testing.T) {
	env := newTestEnv(t, nil, true)
	env.speech.Start(env.clientID, "ja-JP")

	env.dispatch(t, `{"type":"speech_error","data":{"error":"no-speech","message":"raw detail"}}`)
	frames := waitFrames(t, env.conn, 1)
	m := decodeFrame(t, frames[0])
	if m["type"] != "speech_error_handled" || m["error"] != "no-speech" {
		t.Fatalf("unexpected reply: %v", m)
	}
	if m["original_message"] != "raw detail" {
		t.Errorf("original message not echoed: %v", m)
	}

	stats, _ := env.speech.Stats(env.clientID)
	if stats.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", stats.ErrorCount)
	}
}

type recordingSyncer struct {
	mu    sync.Mutex
	calls int
}

func (f *recordingSyncer) SyncItem(ctx context.Context, item *domain.VocabularyItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "page-id", nil
}

func (f *recordingSyncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubVocabRepo struct{}

func (stubVocabRepo) SaveConversation(ctx context.Context, rec *domain.ConversationRecord) error {
	return nil
}

func (stubVocabRepo) RecentConversations(ctx context.Context, sessionID string, limit int) ([]*domain.ConversationRecord, error) {
	return nil, nil
}

func (stubVocabRepo) SaveVocabularyItems(ctx context.Context, items []*domain.VocabularyItem) (int64, error) {
	return int64(len(items)), nil
}

func (stubVocabRepo) SearchVocabulary(ctx context.Context, query string, limit int) ([]*domain.VocabularyItem, error) {
	return nil, nil
}

func (stubVocabRepo) Ping(ctx context.Context) error { return nil }
func (stubVocabRepo) Close() error                   { return nil }

func TestExtractVocabularyHonorsNotionOptOut(t *testing.T) {
	env := newTestEnv(t, nil, true)
	syncer := &recordingSyncer{}
	extractor := vocab.NewExtractor(nil, cache.NewMemoryCache(), time.Hour)
	env.handlers.vocab = vocab.NewService(extractor, nil, stubVocabRepo{}, syncer)

	env.dispatch(t, `{"type":"extract_vocabulary","transcript":"てぇてぇ配信だった","sync_to_notion":false}`)
	frames := waitFrames(t, env.conn, 1)
	m := decodeFrame(t, frames[0])
	if m["type"] != "vocabulary_extracted" {
		t.Fatalf("unexpected reply: %v", m)
	}
	if syncer.callCount() != 0 {
		t.Errorf("opted-out extraction reached the syncer %d times", syncer.callCount())
	}

	env.dispatch(t, `{"type":"extract_vocabulary","transcript":"今日の配信は草だった"}`)
	frames = waitFrames(t, env.conn, 2)
	m = decodeFrame(t, frames[1])
	if m["type"] != "vocabulary_extracted" {
		t.Fatalf("unexpected reply: %v", m)
	}
	if syncer.callCount() == 0 {
		t.Error("extraction without the flag should mirror to the syncer")
	}
}

func TestConfigUpdateVoiceListsAvailableVoices(t *testing.T) {
	env := newTestEnv(t, nil, true)

	env.dispatch(t, `{"type":"config_update","config_type":"voice","config_data":{"language":"ja-JP","voice_settings":{"rate":1.2}}}`)
	frames := waitFrames(t, env.conn, 1)
	m := decodeFrame(t, frames[0])
	if m["type"] != "config_updated" || m["config_type"] != "voice" {
		t.Fatalf("unexpected reply: %v", m)
	}

	voices, ok := m["available_voices"].([]any)
	if !ok || len(voices) == 0 {
		t.Fatalf("voice config reply should list voices, got %v", m["available_voices"])
	}
	for _, v := range voices {
		if v.(map[string]any)["lang"] != "ja-JP" {
			t.Errorf("voice for wrong language: %v", v)
		}
	}
	langs, ok := m["supported_languages"].([]any)
	if !ok || len(langs) == 0 {
		t.Error("voice config reply should list supported languages")
	}
}

func TestConfigUpdateLanguage(t *testing.T) {
	env := newTestEnv(t, nil, true)

	env.dispatch(t, `{"type":"config_update","config_type":"language","config_data":{"language":"en-US"}}`)
	frames := waitFrames(t, env.conn, 1)
	m := decodeFrame(t, frames[0])
	if m["type"] != "config_updated" || m["config_type"] != "language" {
		t.Fatalf("unexpected reply: %v", m)
	}
	if got := env.sessions.Context(env.clientID).LanguagePreference; got != "en-US" {
		t.Errorf("preference = %q, want en-US", got)
	}
}
