// Package config assembles the portal configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-school-portal/pkg/database"
	"github.com/ovaphlow/pitchfork/service-school-portal/pkg/utilities"
)

type Config struct {
	HTTPAddr     string
	StoreTimeout time.Duration
	BcryptCost   int
	Database     database.Config
	Log          utilities.Config
	Session      SessionConfig
	TOTP         TOTPConfig
}

type SessionConfig struct {
	// Backend is one of memory, redis, postgres, bolt.
	Backend      string
	CookieName   string
	CookieSecure bool
	TTL          time.Duration
	RotateEvery  time.Duration
	RedisURL     string
	BoltPath     string
}

type TOTPConfig struct {
	Issuer      string
	StepSeconds int64
	Window      int
}

// Load reads a .env file if present and then the process environment.
func Load() *Config {
	// best-effort: a missing .env just means we use real env and defaults
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:     getEnv("HTTP_ADDR", "0.0.0.0:8431"),
		StoreTimeout: getEnvAsDuration("STORE_TIMEOUT", 3*time.Second),
		BcryptCost:   getEnvAsInt("BCRYPT_COST", 12),
		Database:     database.ConfigFromEnv(),
		Log:          utilities.ConfigFromEnv(),
		Session: SessionConfig{
			Backend:      getEnv("SESSION_BACKEND", "memory"),
			CookieName:   getEnv("SESSION_COOKIE_NAME", "school_session"),
			CookieSecure: getEnvAsBool("SESSION_COOKIE_SECURE", false),
			TTL:          getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			RotateEvery:  getEnvAsDuration("SESSION_ROTATE_EVERY", 30*time.Minute),
			RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
			BoltPath:     getEnv("SESSION_BOLT_PATH", "./data/sessions.db"),
		},
		TOTP: TOTPConfig{
			Issuer:      getEnv("TOTP_ISSUER", "Morning Star School"),
			StepSeconds: int64(getEnvAsInt("TOTP_STEP_SECONDS", 30)),
			Window:      getEnvAsInt("TOTP_WINDOW", 1),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
