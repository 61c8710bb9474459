package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the engine
type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis (progress push channel)
	RedisURL string

	// Provider
	Provider     string // "openai" or "static"
	OpenAIAPIKey string
	OpenAIModel  string

	// Admission ceilings (fixed window, per user)
	CreatesPerMinute  int
	CreatesPerHour    int
	CreatesPerDay     int
	PreviewsPerMinute int
	PreviewsPerHour   int
	PreviewsPerDay    int

	// Worker pool
	WorkerCount   int
	WorkerBacklog int

	// Content cache
	CacheMaxEntries int
	CacheWriteTTL   time.Duration
	CacheAccessTTL  time.Duration

	// Cost accounting (USD per million tokens)
	InputCostPerMillion  float64
	OutputCostPerMillion float64

	// Request lifecycle
	DefaultMaxRetries int
	SweepStaleAge     time.Duration
	SweepInterval     time.Duration

	// Blob store
	BlobDir           string
	BlobSigningSecret string
	BlobURLTTL        time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		Provider:     getEnv("PROVIDER", "openai"),
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		CreatesPerMinute:  getEnvInt("CREATES_PER_MINUTE", 3),
		CreatesPerHour:    getEnvInt("CREATES_PER_HOUR", 5),
		CreatesPerDay:     getEnvInt("CREATES_PER_DAY", 30),
		PreviewsPerMinute: getEnvInt("PREVIEWS_PER_MINUTE", 3),
		PreviewsPerHour:   getEnvInt("PREVIEWS_PER_HOUR", 20),
		PreviewsPerDay:    getEnvInt("PREVIEWS_PER_DAY", 100),

		WorkerCount:   getEnvInt("WORKER_COUNT", 4),
		WorkerBacklog: getEnvInt("WORKER_BACKLOG", 64),

		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 500),
		CacheWriteTTL:   getEnvDuration("CACHE_WRITE_TTL", time.Hour),
		CacheAccessTTL:  getEnvDuration("CACHE_ACCESS_TTL", 30*time.Minute),

		InputCostPerMillion:  getEnvFloat("INPUT_COST_PER_MILLION", 0.15),
		OutputCostPerMillion: getEnvFloat("OUTPUT_COST_PER_MILLION", 0.60),

		DefaultMaxRetries: getEnvInt("DEFAULT_MAX_RETRIES", 3),
		SweepStaleAge:     getEnvDuration("SWEEP_STALE_AGE", 24*time.Hour),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", time.Hour),

		BlobDir:           getEnv("BLOB_DIR", "./data/blobs"),
		BlobSigningSecret: getEnv("BLOB_SIGNING_SECRET", "dev-secret"),
		BlobURLTTL:        getEnvDuration("BLOB_URL_TTL", 15*time.Minute),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.Provider == "openai" && cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required when PROVIDER=openai")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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
