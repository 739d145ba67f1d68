// Package config loads gateway configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all gateway configuration values.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Tenant store (external collaborator backing)
	RedisURL   string
	StoreKind  string // "memory" or "redis"

	// Upstream
	UpstreamURL     string
	UpstreamAPIKey  string
	UpstreamTimeout time.Duration

	// Authentication
	APIKeyHeader string

	// Coarse rate floor
	RateLimitRPM int

	// Request body cap
	MaxBodyBytes int64

	// Semantic cache
	CacheMaxEntries      int
	DefaultTTLSeconds    int64
	DefaultSimilarity    float64
	EmbeddingDimensions  int

	// Admin
	AllowCacheClear   bool
	ClearConfirmToken string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("GATEWAY_GRACEFUL_TIMEOUT_SEC", 15)
	upstreamTimeoutSec := getEnvInt("GATEWAY_UPSTREAM_TIMEOUT_SEC", 60)

	return &Config{
		Addr:                getEnv("GATEWAY_ADDR", ":8080"),
		Env:                 getEnv("ENV", "development"),
		GracefulTimeout:     time.Duration(gracefulSec) * time.Second,
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379"),
		StoreKind:           getEnv("GATEWAY_STORE_KIND", "memory"),
		UpstreamURL:         getEnv("UPSTREAM_URL", "https://api.openai.com/v1/chat/completions"),
		UpstreamAPIKey:      getEnv("UPSTREAM_API_KEY", ""),
		UpstreamTimeout:     time.Duration(upstreamTimeoutSec) * time.Second,
		APIKeyHeader:        getEnv("API_KEY_HEADER", "Authorization"),
		RateLimitRPM:        getEnvInt("GATEWAY_RATE_LIMIT_RPM", 100),
		MaxBodyBytes:        int64(getEnvInt("GATEWAY_MAX_BODY_BYTES", 10*1024)),
		CacheMaxEntries:     getEnvInt("GATEWAY_CACHE_MAX_ENTRIES", 1000),
		DefaultTTLSeconds:   int64(getEnvInt("GATEWAY_DEFAULT_TTL_SEC", 30*86400)),
		DefaultSimilarity:   getEnvFloat("GATEWAY_DEFAULT_SIMILARITY", 0.89),
		EmbeddingDimensions: getEnvInt("GATEWAY_EMBEDDING_DIM", 384),
		AllowCacheClear:     getEnvBool("GATEWAY_ALLOW_CACHE_CLEAR", false),
		ClearConfirmToken:   getEnv("GATEWAY_CLEAR_CONFIRM_TOKEN", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
