// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Storage; an empty DatabaseURL selects the in-memory store.
	DatabaseURL    string
	WorkspacesFile string

	// NATS settings; an empty NATSURL selects the in-process feed.
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// Carrier settings
	CarrierAPIURL           string
	CarrierAPIKey           string
	CarrierTimeout          time.Duration
	CarrierWebhookPublicKey string
	CarrierWebhookTolerance time.Duration
	EventClaimLease         time.Duration

	// Call recordings
	RecordingWebhookSecret string
	StoragePublicBaseURL   string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),

		// Storage
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		WorkspacesFile: getEnv("WORKSPACES_FILE", ""),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),

		// Carrier
		CarrierAPIURL:           getEnv("CARRIER_API_URL", "https://api.telnyx.com"),
		CarrierAPIKey:           getEnv("CARRIER_API_KEY", ""),
		CarrierTimeout:          getDurationEnv("CARRIER_TIMEOUT", 10*time.Second),
		CarrierWebhookPublicKey: getEnv("CARRIER_WEBHOOK_PUBLIC_KEY", ""),
		CarrierWebhookTolerance: getDurationEnv("CARRIER_WEBHOOK_TOLERANCE", 5*time.Minute),
		EventClaimLease:         getDurationEnv("EVENT_CLAIM_LEASE", 2*time.Minute),

		// Call recordings
		RecordingWebhookSecret: getEnv("RECORDING_WEBHOOK_SECRET", ""),
		StoragePublicBaseURL:   getEnv("STORAGE_PUBLIC_BASE_URL", ""),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
