// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// GeminiAPIKey is required; the server refuses to start without it.
	GeminiAPIKey string
	GeminiModel  string

	AITemperature     float64
	AIMaxOutputTokens int32

	// GenerationTimeout bounds a single generation call end to end.
	GenerationTimeout time.Duration

	// StreamResponses is the process-wide streaming default; per-request
	// flags can still disable it.
	StreamResponses bool

	// MaxConversationTurns is the conversation memory window (paired turns).
	MaxConversationTurns int

	SessionTTL           time.Duration
	SessionSweepEvery    time.Duration
	SpeechTimeout        time.Duration
	SpeechSweepEvery     time.Duration
	TranscriptHistoryMax int

	RateLimit RateLimitConfig
	Language  LanguageConfig

	RedisAddr string

	NotionToken      string
	NotionDatabaseID string
	YouTubeAPIKey    string

	OBS OBSConfig
}

// RateLimitConfig controls per-client and global admission to the
// generation backend.
type RateLimitConfig struct {
	RequestsPerMinute int
	RequestsPerHour   int
	BurstSize         int
	SweepEvery        time.Duration
	IdleThreshold     time.Duration
}

// LanguageConfig holds the script-ratio thresholds used by language
// detection. Both values are tunable rather than load-bearing.
type LanguageConfig struct {
	// UserJapaneseRatio is the Japanese-character ratio above which user
	// input is classified as Japanese.
	UserJapaneseRatio float64
	// ResponseJapaneseRatio is the majority threshold for classifying a
	// generated response as Japanese.
	ResponseJapaneseRatio float64
}

// OBSConfig holds optional OBS Studio WebSocket settings.
type OBSConfig struct {
	Host     string
	Port     int
	Password string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/aivlingual.db"),

		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		AITemperature:     getEnvFloat("AI_TEMPERATURE", 0.7),
		AIMaxOutputTokens: int32(getEnvInt("AI_MAX_OUTPUT_TOKENS", 256)),
		GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 30*time.Second),
		StreamResponses:   getEnvBool("STREAM_RESPONSES", true),

		MaxConversationTurns: getEnvInt("MAX_CONVERSATION_TURNS", 10),

		SessionTTL:           getEnvDuration("SESSION_TTL", time.Hour),
		SessionSweepEvery:    getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		SpeechTimeout:        getEnvDuration("SPEECH_SESSION_TIMEOUT", 30*time.Minute),
		SpeechSweepEvery:     getEnvDuration("SPEECH_SWEEP_INTERVAL", 5*time.Minute),
		TranscriptHistoryMax: getEnvInt("TRANSCRIPT_HISTORY_MAX", 50),

		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
			RequestsPerHour:   getEnvInt("RATE_LIMIT_PER_HOUR", 500),
			BurstSize:         getEnvInt("RATE_LIMIT_BURST", 5),
			SweepEvery:        getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", 30*time.Minute),
			IdleThreshold:     getEnvDuration("RATE_LIMIT_IDLE_THRESHOLD", 30*time.Minute),
		},

		Language: LanguageConfig{
			UserJapaneseRatio:     getEnvFloat("LANG_USER_JA_RATIO", 0.3),
			ResponseJapaneseRatio: getEnvFloat("LANG_RESPONSE_JA_RATIO", 0.5),
		},

		RedisAddr: getEnv("REDIS_ADDR", ""),

		NotionToken:      getEnv("NOTION_TOKEN", ""),
		NotionDatabaseID: getEnv("NOTION_DATABASE_ID", ""),
		YouTubeAPIKey:    getEnv("YOUTUBE_API_KEY", ""),

		OBS: OBSConfig{
			Host:     getEnv("OBS_WEBSOCKET_HOST", ""),
			Port:     getEnvInt("OBS_WEBSOCKET_PORT", 4455),
			Password: getEnv("OBS_WEBSOCKET_PASSWORD", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxConversationTurns <= 0 {
		return fmt.Errorf("MAX_CONVERSATION_TURNS must be > 0")
	}
	if c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.RequestsPerHour <= 0 {
		return fmt.Errorf("rate limit capacities must be > 0")
	}
	if c.RateLimit.BurstSize < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST cannot be negative")
	}
	if c.Language.UserJapaneseRatio <= 0 || c.Language.UserJapaneseRatio >= 1 {
		return fmt.Errorf("LANG_USER_JA_RATIO must be in (0, 1)")
	}
	if c.Language.ResponseJapaneseRatio <= 0 || c.Language.ResponseJapaneseRatio >= 1 {
		return fmt.Errorf("LANG_RESPONSE_JA_RATIO must be in (0, 1)")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// OBSEnabled reports whether an OBS endpoint has been configured.
func (c *Config) OBSEnabled() bool {
	return c.OBS.Host != ""
}

// NotionEnabled reports whether Notion sync credentials are present.
func (c *Config) NotionEnabled() bool {
	return c.NotionToken != "" && c.NotionDatabaseID != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
