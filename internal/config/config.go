// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
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
	Port        int
	Environment string // "development" | "staging" | "production"

	// Persistence
	StoreBackend   string // "local" | "postgres"
	LocalStorePath string
	DatabaseURL    string

	// Security
	JWTSecret            string
	OperatorUser         string
	OperatorPasswordHash string // bcrypt hash of the operator password
	AllowedOrigins       []string
	RateLimitRPM         int

	// Redis (rate-limit counters; optional)
	RedisURL string

	// Mock chain behavior
	AnchorDelay     time.Duration
	VerifyFailRate  float64
	ExplorerBaseURL string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		Environment: getEnv("ENVIRONMENT", "development"),

		StoreBackend:   getEnv("STORE_BACKEND", "local"),
		LocalStorePath: getEnv("LOCAL_STORE_PATH", "data/incidents.json"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		JWTSecret:            getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		OperatorUser:         getEnv("OPERATOR_USER", "operator"),
		OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
		AllowedOrigins:       strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"), ","),
		RateLimitRPM:         getEnvInt("RATE_LIMIT_RPM", 60),

		RedisURL: getEnv("REDIS_URL", ""),

		AnchorDelay:     time.Duration(getEnvInt("ANCHOR_DELAY_MS", 2000)) * time.Millisecond,
		VerifyFailRate:  getEnvFloat("VERIFY_FAILURE_RATE", 0.10),
		ExplorerBaseURL: getEnv("EXPLORER_BASE_URL", ""),
	}

	switch cfg.StoreBackend {
	case "local", "postgres":
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be local or postgres, got %q", cfg.StoreBackend)
	}
	if cfg.VerifyFailRate < 0 || cfg.VerifyFailRate > 1 {
		return nil, fmt.Errorf("VERIFY_FAILURE_RATE must be within [0,1], got %v", cfg.VerifyFailRate)
	}

	// Validate required fields in production
	if cfg.Environment == "production" {
		if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required in production")
		}
		if cfg.JWTSecret == "dev-secret-change-in-production" {
			return nil, fmt.Errorf("JWT_SECRET must be set in production")
		}
		if cfg.OperatorPasswordHash == "" {
			return nil, fmt.Errorf("OPERATOR_PASSWORD_HASH is required in production")
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}
