// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
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

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Clock / scheduler
	TickInterval      time.Duration // scan interval for the lifecycle clock
	TransitDelay      time.Duration // simulated shipped -> delivered delay
	TransitSimEnabled bool          // disable when a real carrier collaborator drives delivery
	StuckPendingAfter time.Duration // age at which a Pending capture is flagged for operators

	// Capture simulator (demo gateway)
	CaptureDelay        time.Duration // simulated gateway round-trip
	CaptureDeclineAbove string        // decline captures above this amount ("" = never decline)

	// Security
	RateLimitRPS int
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultTickInterval      = time.Minute
	DefaultTransitDelay      = 5 * time.Second
	DefaultStuckPendingAfter = 15 * time.Minute
	DefaultCaptureDelay      = 2 * time.Second
	DefaultRateLimit         = 100
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		TickInterval:        getEnvDuration("TICK_INTERVAL", DefaultTickInterval),
		TransitDelay:        getEnvDuration("TRANSIT_DELAY", DefaultTransitDelay),
		TransitSimEnabled:   getEnv("TRANSIT_SIM_DISABLED", "") != "true",
		StuckPendingAfter:   getEnvDuration("STUCK_PENDING_AFTER", DefaultStuckPendingAfter),
		CaptureDelay:        getEnvDuration("CAPTURE_DELAY", DefaultCaptureDelay),
		CaptureDeclineAbove: os.Getenv("CAPTURE_DECLINE_ABOVE"),
		RateLimitRPS:        getEnvInt("RATE_LIMIT_RPS", DefaultRateLimit),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}
	if c.TransitDelay <= 0 {
		return fmt.Errorf("TRANSIT_DELAY must be positive")
	}
	if c.StuckPendingAfter <= 0 {
		return fmt.Errorf("STUCK_PENDING_AFTER must be positive")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be \"text\" or \"json\"")
	}
	return nil
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
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
