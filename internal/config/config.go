package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the relay service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// ActiveModel selects the provider backend: auto|anthropic|openai|local|mock.
	ActiveModel     string
	ProviderTimeout time.Duration
	Temperature     float64
	MaxTokens       int
	SystemPrompt    string

	AnthropicAPIKey string
	AnthropicModel  string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	OllamaHost       string
	OllamaModel      string
	OllamaEmbedModel string

	DatabaseURL string
	SQLitePath  string

	MemoryEnabled    bool
	MemoryMode       string // session|vector
	MemoryMaxHistory int
	MemoryTopK       int
	MemoryAsyncIndex bool
	MemoryRedactPII  bool
	VectorPath       string

	EmbedProvider     string // auto|ollama|mock
	EmbedTimeout      time.Duration
	EmbedCacheEntries int

	SessionInactivityTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "relay"),
		AllowAnyOrigin:   false,
		ActiveModel:      envOrDefault("ACTIVE_MODEL", "auto"),
		SystemPrompt:     envOrDefault("SYSTEM_PROMPT", "You are a helpful assistant."),
		AnthropicAPIKey:  stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicModel:   envOrDefault("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:    envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:      envOrDefault("OPENAI_MODEL", "gpt-4-turbo"),
		OllamaHost:       envOrDefault("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:      envOrDefault("OLLAMA_MODEL", "llama2"),
		OllamaEmbedModel: envOrDefault("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		SQLitePath:       stringsTrimSpace("MEMORY_SQLITE_PATH"),
		MemoryMode:       envOrDefault("MEMORY_MODE", "session"),
		VectorPath:       stringsTrimSpace("MEMORY_VECTOR_PATH"),
		EmbedProvider:    envOrDefault("EMBED_PROVIDER", "auto"),

		ProviderTimeout:          120 * time.Second,
		Temperature:              0.7,
		MaxTokens:                1000,
		MemoryEnabled:            true,
		MemoryMaxHistory:         10,
		MemoryTopK:               5,
		MemoryAsyncIndex:         true,
		MemoryRedactPII:          false,
		EmbedTimeout:             10 * time.Second,
		EmbedCacheEntries:        4096,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderTimeout, err = durationFromEnv("PROVIDER_TIMEOUT", cfg.ProviderTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbedTimeout, err = durationFromEnv("EMBED_TIMEOUT", cfg.EmbedTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.Temperature, err = floatFromEnv("GEN_TEMPERATURE", cfg.Temperature)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxTokens, err = intFromEnv("GEN_MAX_TOKENS", cfg.MaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryEnabled, err = boolFromEnv("MEMORY_ENABLED", cfg.MemoryEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryMaxHistory, err = intFromEnv("MEMORY_MAX_HISTORY", cfg.MemoryMaxHistory)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryTopK, err = intFromEnv("MEMORY_TOP_K", cfg.MemoryTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryAsyncIndex, err = boolFromEnv("MEMORY_ASYNC_INDEX", cfg.MemoryAsyncIndex)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRedactPII, err = boolFromEnv("MEMORY_REDACT_PII", cfg.MemoryRedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbedCacheEntries, err = intFromEnv("EMBED_CACHE_ENTRIES", cfg.EmbedCacheEntries)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.ActiveModel)) {
	case "auto", "anthropic", "openai", "local", "mock":
	default:
		return Config{}, fmt.Errorf("ACTIVE_MODEL must be one of auto|anthropic|openai|local|mock, got %q", cfg.ActiveModel)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.MemoryMode)) {
	case "session", "vector":
	default:
		return Config{}, fmt.Errorf("MEMORY_MODE must be session or vector, got %q", cfg.MemoryMode)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.EmbedProvider)) {
	case "auto", "ollama", "mock":
	default:
		return Config{}, fmt.Errorf("EMBED_PROVIDER must be auto, ollama or mock, got %q", cfg.EmbedProvider)
	}
	if cfg.MemoryMaxHistory < 0 {
		return Config{}, fmt.Errorf("MEMORY_MAX_HISTORY must be >= 0")
	}
	if cfg.MemoryTopK < 0 {
		return Config{}, fmt.Errorf("MEMORY_TOP_K must be >= 0")
	}
	if cfg.MaxTokens <= 0 {
		return Config{}, fmt.Errorf("GEN_MAX_TOKENS must be positive")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("GEN_TEMPERATURE must be in [0, 2]")
	}
	if cfg.ProviderTimeout < time.Second {
		return Config{}, fmt.Errorf("PROVIDER_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
