package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	APIPrefix   string
	DatabaseURL string // empty = in-memory store
	TablePrefix string
	CORSOrigins string
	AuthJWKSURL string // empty = auth disabled

	// LLM configuration
	LLMProvider          string // gemini, openai, lorem
	GeminiAPIKey         string
	GeminiModel          string
	GeminiFallbackModels []string
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModel          string
	OpenAIFallbackModels []string
	Temperature          float64
	MaxTokens            int

	// TTS configuration
	TTSProvider    string // openai, none
	TTSModel       string
	TTSAPIKey      string
	TTSBaseURL     string
	AudioCacheDir  string
	RedisURL       string // non-empty = shared redis audio cache
	AudioCacheTTL  time.Duration
	MetricsEnabled bool

	// SerializeStoryWrites runs generations for the same story one at a time
	SerializeStoryWrites bool

	// Logging
	LogLevel    slog.Level
	LogDir      string
	LogMaxFiles int
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")
	geminiKey := getEnv("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY"))
	openAIKey := getEnv("OPENAI_API_KEY", os.Getenv("GROQ_API_KEY"))

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		APIPrefix:   strings.TrimRight(getEnv("API_PREFIX", "/api/v1"), "/"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		TablePrefix: getTablePrefix(env),
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		AuthJWKSURL: getEnv("AUTH_JWKS_URL", ""),

		LLMProvider:          getEnv("LLM_PROVIDER", defaultProvider(geminiKey, openAIKey)),
		GeminiAPIKey:         geminiKey,
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiFallbackModels: getList("GEMINI_FALLBACK_MODELS", []string{"gemini-2.5-flash-lite", "gemini-2.5-flash", "gemini-3.0-flash"}),
		OpenAIAPIKey:         openAIKey,
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", "llama-3.1-8b-instant"),
		OpenAIFallbackModels: getList("OPENAI_FALLBACK_MODELS", nil),
		Temperature:          getFloat("GENERATION_TEMPERATURE", 0.85),
		MaxTokens:            getInt("GENERATION_MAX_TOKENS", 2500),

		TTSProvider:    getEnv("TTS_PROVIDER", defaultTTSProvider(openAIKey)),
		TTSModel:       getEnv("TTS_MODEL", "tts-1"),
		TTSAPIKey:      getEnv("TTS_API_KEY", openAIKey),
		TTSBaseURL:     getEnv("TTS_BASE_URL", ""),
		AudioCacheDir:  getEnv("AUDIO_CACHE_DIR", "./audio_cache"),
		RedisURL:       getEnv("REDIS_URL", ""),
		AudioCacheTTL:  getDuration("AUDIO_CACHE_TTL", 0),
		MetricsEnabled: getEnv("METRICS_ENABLED", "true") == "true",

		SerializeStoryWrites: getEnv("SERIALIZE_STORY_WRITES", "true") == "true",

		LogLevel:    getLogLevel(env),
		LogDir:      getEnv("LOG_DIR", ""),
		LogMaxFiles: getInt("LOG_MAX_FILES", 10),
	}
}

// UsesDatabase reports whether a Postgres URL is configured
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

// AuthEnabled reports whether incoming requests must carry a valid JWT
func (c *Config) AuthEnabled() bool {
	return c.AuthJWKSURL != ""
}

// defaultProvider prefers Gemini, then an OpenAI-compatible endpoint, then
// the offline lorem generator
func defaultProvider(geminiKey, openAIKey string) string {
	switch {
	case geminiKey != "":
		return "gemini"
	case openAIKey != "":
		return "openai"
	default:
		return "lorem"
	}
}

func defaultTTSProvider(openAIKey string) string {
	if openAIKey != "" {
		return "openai"
	}
	return "none"
}

// getLogLevel reads LOG_LEVEL, defaulting to debug in dev
func getLogLevel(env string) slog.Level {
	defaultLevel := "info"
	if env == "dev" {
		defaultLevel = "debug"
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", defaultLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix, ok := os.LookupEnv("TABLE_PREFIX"); ok {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

func getFloat(key string, defaultValue float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return d
}

// getList splits a comma-separated value, dropping blanks
func getList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
