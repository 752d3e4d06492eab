// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Quota store settings.
	QuotaBackend string // "memory", "redis", or "postgres".
	RedisURL     string
	DatabaseURL  string

	// Agent registry settings.
	AgentsFile string // Optional JSON file merged over the built-in agents.

	// Provider settings. "auto" picks openai when an API key is present,
	// noop otherwise. "google" is valid for speech-to-text only.
	STTProvider    string
	LLMProvider    string
	TTSProvider    string
	OpenAIAPIKey   string
	OpenAIBaseURL  string // Override for proxies and tests; empty uses the public API.
	STTModel       string
	LLMModel       string
	TTSModel       string
	GoogleLanguage string

	// Pipeline settings.
	StageTimeout time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("KOE_PORT", 8080),
		ReadTimeout:         envDuration("KOE_READ_TIMEOUT", 60*time.Second),
		WriteTimeout:        envDuration("KOE_WRITE_TIMEOUT", 120*time.Second),
		QuotaBackend:        envStr("KOE_QUOTA_BACKEND", "memory"),
		RedisURL:            envStr("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		AgentsFile:          envStr("KOE_AGENTS_FILE", ""),
		STTProvider:         envStr("KOE_STT_PROVIDER", "auto"),
		LLMProvider:         envStr("KOE_LLM_PROVIDER", "auto"),
		TTSProvider:         envStr("KOE_TTS_PROVIDER", "auto"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       envStr("KOE_OPENAI_BASE_URL", ""),
		STTModel:            envStr("KOE_STT_MODEL", "whisper-1"),
		LLMModel:            envStr("KOE_LLM_MODEL", "gpt-4o-mini"),
		TTSModel:            envStr("KOE_TTS_MODEL", "tts-1"),
		GoogleLanguage:      envStr("KOE_GOOGLE_LANGUAGE", "en-US"),
		StageTimeout:        envDuration("KOE_STAGE_TIMEOUT", 30*time.Second),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "koe"),
		LogLevel:            envStr("KOE_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("KOE_MAX_REQUEST_BODY_BYTES", 25*1024*1024)), // audio uploads
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	switch c.QuotaBackend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("config: KOE_QUOTA_BACKEND must be memory, redis, or postgres (got %q)", c.QuotaBackend)
	}
	if c.QuotaBackend == "redis" && c.RedisURL == "" {
		return fmt.Errorf("config: REDIS_URL is required with the redis quota backend")
	}
	if c.QuotaBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required with the postgres quota backend")
	}
	providers := []struct{ key, value string }{
		{"KOE_STT_PROVIDER", c.STTProvider},
		{"KOE_LLM_PROVIDER", c.LLMProvider},
		{"KOE_TTS_PROVIDER", c.TTSProvider},
	}
	for _, p := range providers {
		switch p.value {
		case "auto", "openai", "noop":
		case "google":
			if p.key != "KOE_STT_PROVIDER" {
				return fmt.Errorf("config: %s does not support google", p.key)
			}
		default:
			return fmt.Errorf("config: %s: unknown provider %q", p.key, p.value)
		}
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("config: KOE_STAGE_TIMEOUT must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: KOE_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
