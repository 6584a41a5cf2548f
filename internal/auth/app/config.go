package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/attendgrid/sessiond/pkg/jwtx"
)

type Config struct {
	Issuer   string // Required: issuer claim for access tokens
	Audience string // Required: audience claim for access tokens

	SigningKey string // Optional: HMAC signing key; generated per-process when empty

	AccessTTL  time.Duration // Optional: access token lifetime (default: 15m)
	RefreshTTL time.Duration // Optional: refresh token lifetime (default: 7d)

	DatabaseFile string // Optional: path to SQLite database file (default: ./sessiond.db)
	PepperFile   string // Optional: path to password pepper file (default: ./pepper)

	RatePerMinute int // Optional: security gate per-client budget (default: 60)
	RateBurst     int // Optional: security gate burst size (default: 10)

	RequiredHeaders   []string // Optional: response headers the gate requires (default: built-in set)
	MaliciousPatterns []string // Optional: input denylist regexps (default: built-in set)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:               getEnvOrDefault("SESSION_ISSUER", "sessiond"),
		Audience:             getEnvOrDefault("SESSION_AUDIENCE", "attendgrid"),
		SigningKey:           os.Getenv("SESSION_SIGNING_KEY"),
		AccessTTL:            getEnvDurationOrDefault("SESSION_ACCESS_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTTL:           getEnvDurationOrDefault("SESSION_REFRESH_TTL", jwtx.DefaultRefreshTokenTTL),
		DatabaseFile:         getEnvOrDefault("SESSION_DATABASE_FILE", "sessiond.db"),
		PepperFile:           getEnvOrDefault("SESSION_PEPPER_FILE", "pepper"),
		RatePerMinute:        getEnvIntOrDefault("SESSION_RATE_PER_MINUTE", 60),
		RateBurst:            getEnvIntOrDefault("SESSION_RATE_BURST", 10),
		RequiredHeaders:      getEnvListOrDefault("SESSION_REQUIRED_HEADERS", nil),
		MaliciousPatterns:    getEnvListOrDefault("SESSION_MALICIOUS_PATTERNS", nil),
		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Integer values are read as minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
