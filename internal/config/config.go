package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabaseURL string
	LockTimeout time.Duration

	// Review operations
	OperationTimeout time.Duration

	// JWT
	JWTSecret string

	// Proposal cache (disabled when RedisURL is empty)
	RedisURL string
	CacheTTL time.Duration

	// Background Workers
	WorkerCount int

	// CORS
	AllowedOrigins []string

	// Decision email (Resend); disabled when ResendAPIKey is empty
	ResendAPIKey string
	FromEmail    string

	// Sentry
	SentryDSN string

	// Tracing
	OTelEnabled      bool
	OTelEndpoint     string
	OTelSampleRatio  float64
	OTelServiceLabel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		LockTimeout:      getEnvAsDuration("LOCK_TIMEOUT", 5*time.Second),
		OperationTimeout: getEnvAsDuration("OPERATION_TIMEOUT", 10*time.Second),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		CacheTTL:         getEnvAsDuration("CACHE_TTL", 10*time.Minute),
		WorkerCount:      getEnvAsInt("WORKER_COUNT", 4),
		AllowedOrigins:   getEnvAsSlice("ALLOWED_ORIGINS", []string{"*"}),
		ResendAPIKey:     getEnv("RESEND_API_KEY", ""),
		FromEmail:        getEnv("FROM_EMAIL", "noreply@cropcoef.app"),
		SentryDSN:        getEnv("SENTRY_DSN", ""),
		OTelEnabled:      getEnvAsBool("OTEL_ENABLED", false),
		OTelEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelSampleRatio:  getEnvAsFloat("OTEL_SAMPLER_RATIO", 0.1),
		OTelServiceLabel: getEnv("OTEL_SERVICE_NAME", "cropcoef-api"),
	}

	// Validate required configuration
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" && cfg.Environment == "production" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}

	// Set default JWT secret for development
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-change-in-production"
	}

	if cfg.OperationTimeout <= 0 {
		return nil, fmt.Errorf("OPERATION_TIMEOUT must be positive")
	}

	return cfg, nil
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as integer
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat reads an environment variable as float, clamped to [0, 1]
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// getEnvAsBool reads an environment variable as boolean
func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(getEnv(key, ""))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// getEnvAsDuration reads an environment variable as a Go duration ("5s", "250ms")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice reads an environment variable as comma-separated slice
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
