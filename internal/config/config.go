// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	CORSOrigins []string // allowed browser origins; "*" allows any

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Structured analyzer backend
	AnalyzerURL   string
	AnalyzerToken string // Opaque bearer credential forwarded as-is

	// Multimodal LLM backend (OpenAI-compatible chat completions)
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	DefaultBackend string

	// Capture
	CaptureCommand []string // argv of the platform capture command; empty = websocket chunk device

	// Risk rules
	RulesFile string // YAML rules file (optional, built-in rules if not set)

	// Alerts
	AlertWebhookURL    string
	AlertWebhookSecret string

	// Resilience
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Observability
	OTLPEndpoint string
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultLLMModel         = "gemini-2.0-flash"
	DefaultLLMBaseURL       = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultBackend          = "structured"
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second
)

// Backend names accepted by DEFAULT_BACKEND.
const (
	BackendStructured = "structured"
	BackendMultimodal = "multimodal"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "*")),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		AnalyzerURL:        os.Getenv("ANALYZER_URL"),
		AnalyzerToken:      os.Getenv("ANALYZER_TOKEN"),
		LLMAPIKey:          os.Getenv("LLM_API_KEY"),
		LLMBaseURL:         getEnv("LLM_BASE_URL", DefaultLLMBaseURL),
		LLMModel:           getEnv("LLM_MODEL", DefaultLLMModel),
		DefaultBackend:     getEnv("DEFAULT_BACKEND", DefaultBackend),
		CaptureCommand:     strings.Fields(os.Getenv("CAPTURE_COMMAND")),
		RulesFile:          os.Getenv("RULES_FILE"),
		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret: os.Getenv("ALERT_WEBHOOK_SECRET"),
		BreakerThreshold:   int(getEnvInt64("BREAKER_THRESHOLD", DefaultBreakerThreshold)),
		BreakerCooldown:    getEnvDuration("BREAKER_COOLDOWN", DefaultBreakerCooldown),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.AnalyzerURL == "" && c.LLMAPIKey == "" {
		return fmt.Errorf("at least one of ANALYZER_URL or LLM_API_KEY is required")
	}

	switch c.DefaultBackend {
	case BackendStructured:
		if c.AnalyzerURL == "" {
			return fmt.Errorf("DEFAULT_BACKEND=%s requires ANALYZER_URL", c.DefaultBackend)
		}
	case BackendMultimodal:
		if c.LLMAPIKey == "" {
			return fmt.Errorf("DEFAULT_BACKEND=%s requires LLM_API_KEY", c.DefaultBackend)
		}
	default:
		return fmt.Errorf("DEFAULT_BACKEND must be %q or %q, got %q", BackendStructured, BackendMultimodal, c.DefaultBackend)
	}

	if c.AlertWebhookURL != "" && c.AlertWebhookSecret == "" {
		return fmt.Errorf("ALERT_WEBHOOK_SECRET is required when ALERT_WEBHOOK_URL is set")
	}

	return nil
}

// Backends returns the names of the analyzer backends that are configured.
func (c *Config) Backends() []string {
	var out []string
	if c.AnalyzerURL != "" {
		out = append(out, BackendStructured)
	}
	if c.LLMAPIKey != "" {
		out = append(out, BackendMultimodal)
	}
	return out
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
