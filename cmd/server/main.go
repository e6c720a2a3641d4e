// AIVlingual - bilingual VTuber assistant server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aivlingual/aivlingual-server/internal/ai"
	"github.com/aivlingual/aivlingual-server/internal/api"
	"github.com/aivlingual/aivlingual-server/internal/cache"
	"github.com/aivlingual/aivlingual-server/internal/config"
	"github.com/aivlingual/aivlingual-server/internal/obs"
	"github.com/aivlingual/aivlingual-server/internal/ratelimit"
	"github.com/aivlingual/aivlingual-server/internal/session"
	"github.com/aivlingual/aivlingual-server/internal/speech"
	"github.com/aivlingual/aivlingual-server/internal/store"
	"github.com/aivlingual/aivlingual-server/internal/tts"
	"github.com/aivlingual/aivlingual-server/internal/vocab"
	"github.com/aivlingual/aivlingual-server/internal/ws"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	var extractionCache cache.Cache
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Warn("Redis unreachable, falling back to in-memory cache", "addr", cfg.RedisAddr, "error", err)
			extractionCache = cache.NewMemoryCache()
		} else {
			slog.Info("Redis cache connected", "addr", cfg.RedisAddr)
			extractionCache = redisCache
		}
	} else {
		extractionCache = cache.NewMemoryCache()
	}
	defer func() {
		if closeErr := extractionCache.Close(); closeErr != nil {
			slog.Error("Failed to close cache", "error", closeErr)
		}
	}()

	generator, err := ai.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.AITemperature, cfg.AIMaxOutputTokens)
	if err != nil {
		slog.Error("Failed to initialize Gemini client", "error", err)
		os.Exit(1)
	}
	slog.Info("Gemini client initialized", "model", cfg.GeminiModel)

	// Initialize services.
	limiter := ratelimit.New(cfg.RateLimit)
	limiter.StartSweeper(ctx)

	sessions := session.NewManager(cfg.SessionTTL, cfg.SessionSweepEvery)
	sessions.StartSweeper(ctx)

	speechMgr := speech.NewManager(cfg.SpeechTimeout, cfg.SpeechSweepEvery, cfg.TranscriptHistoryMax)
	speechMgr.StartSweeper(ctx)

	detector := ai.NewDetector(cfg.Language.UserJapaneseRatio, cfg.Language.ResponseJapaneseRatio)
	ttsBuilder := tts.NewBuilder()

	newResponder := func() *ai.Responder {
		return ai.NewResponder(generator, limiter, ttsBuilder, detector, repo, cfg.MaxConversationTurns, cfg.GenerationTimeout)
	}

	extractor := vocab.NewExtractor(generator, extractionCache, time.Hour)
	var notion vocab.Syncer
	if cfg.NotionEnabled() {
		notion = vocab.NewNotionSyncer(cfg.NotionToken, cfg.NotionDatabaseID)
		slog.Info("Notion sync enabled", "database_id", cfg.NotionDatabaseID)
	}
	vocabSvc := vocab.NewService(extractor, vocab.NewHTTPTranscriptSource(), repo, notion)

	var obsClient *obs.Client
	if cfg.OBSEnabled() {
		obsClient = obs.NewClient(cfg.OBS.Host, cfg.OBS.Port, cfg.OBS.Password)
		slog.Info("OBS integration configured", "host", cfg.OBS.Host, "port", cfg.OBS.Port)
		defer func() {
			if closeErr := obsClient.Close(); closeErr != nil {
				slog.Debug("Failed to close OBS connection", "error", closeErr)
			}
		}()
	}

	// Initialize handlers.
	registry := ws.NewRegistry()
	handlers := ws.NewHandlers(registry, sessions, speechMgr, vocabSvc, ttsBuilder, obsClient, newResponder, cfg.StreamResponses)
	router := ws.NewRouter(registry)
	handlers.Routes(router)
	wsServer := ws.NewServer(registry, router, handlers, sessions, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	api.NewVocabularyHandler(vocabSvc).RegisterRoutes(r)

	r.Get("/ws", wsServer.ServeHTTP)

	// WebSocket connections are hijacked, so the write timeout stays off.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
