// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration. It is loaded once at start-up
// and passed by pointer to constructors; nothing mutates it afterwards.
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Access control
	APIKey         string
	AllowedOrigins []string

	// Decision engine
	Sensitivity    float64
	ReviewMinScore int

	// Trust and block lists
	TrustedIPs         []string
	BlockedIPs         []string
	TrustedEmailHashes []string
	BlockedEmailHashes []string
	TrustedUserIDs     []string
	BlockedUserIDs     []string
	ListsFile          string // optional YAML list file
	DatabaseURL        string // optional PostgreSQL list source

	// Async jobs and callbacks
	AsyncDelay      time.Duration
	JobWorkers      int
	CallbackURL     string
	CallbackSecret  string
	CallbackTimeout time.Duration
	// Consecutive callback failures before deliveries pause; 0 disables.
	CallbackBreakerThreshold int
	CallbackBreakerCooldown  time.Duration

	// Result store
	ResultTTL           time.Duration // 0 keeps results for the process lifetime
	ResultSweepInterval time.Duration

	// Rate limiting
	RateLimitWindow time.Duration
	RateLimitMax    int
	RedisURL        string // optional shared limiter backend

	// Decision events
	KafkaBrokers []string
	KafkaTopic   string

	// Observability
	OTLPEndpoint string
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultSensitivity         = 0.5
	DefaultReviewMinScore      = 50
	DefaultAsyncDelay          = 1500 * time.Millisecond
	DefaultJobWorkers          = 4
	DefaultCallbackTimeout     = 10 * time.Second
	DefaultCallbackCooldown    = 30 * time.Second
	DefaultResultTTL           = time.Hour
	DefaultResultSweepInterval = time.Minute
	DefaultRateLimitWindow     = 60 * time.Second
	DefaultRateLimitMax        = 20
	DefaultKafkaTopic          = "nexid.decisions"

	// Floors applied to rate limiter settings.
	MinRateLimitWindow = time.Second
	MinRateLimitMax    = 1
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     os.Getenv("PORT"),
		Env:                      getEnv("ENV", DefaultEnv),
		LogLevel:                 getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:                getEnv("LOG_FORMAT", DefaultLogFormat),
		APIKey:                   os.Getenv("API_KEY"),
		AllowedOrigins:           getEnvList("ALLOWED_ORIGINS"),
		Sensitivity:              getEnvFloat("RISK_SENSITIVITY", DefaultSensitivity),
		ReviewMinScore:           int(getEnvInt64("REVIEW_MIN_SCORE", DefaultReviewMinScore)),
		TrustedIPs:               getEnvList("TRUSTED_IPS"),
		BlockedIPs:               getEnvList("BLOCKED_IPS"),
		TrustedEmailHashes:       getEnvList("TRUSTED_EMAIL_HASHES"),
		BlockedEmailHashes:       getEnvList("BLOCKED_EMAIL_HASHES"),
		TrustedUserIDs:           getEnvList("TRUSTED_USER_IDS"),
		BlockedUserIDs:           getEnvList("BLOCKED_USER_IDS"),
		ListsFile:                os.Getenv("LISTS_FILE"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		AsyncDelay:               getEnvDuration("ASYNC_DELAY", DefaultAsyncDelay),
		JobWorkers:               int(getEnvInt64("JOB_WORKERS", DefaultJobWorkers)),
		CallbackURL:              os.Getenv("CALLBACK_URL"),
		CallbackSecret:           os.Getenv("CALLBACK_SECRET"),
		CallbackTimeout:          getEnvDuration("CALLBACK_TIMEOUT", DefaultCallbackTimeout),
		CallbackBreakerThreshold: int(getEnvInt64("CALLBACK_BREAKER_THRESHOLD", 0)),
		CallbackBreakerCooldown:  getEnvDuration("CALLBACK_BREAKER_COOLDOWN", DefaultCallbackCooldown),
		ResultTTL:                getEnvDuration("RESULT_TTL", DefaultResultTTL),
		ResultSweepInterval:      getEnvDuration("RESULT_SWEEP_INTERVAL", DefaultResultSweepInterval),
		RateLimitWindow:          getEnvDuration("RATE_LIMIT_WINDOW", DefaultRateLimitWindow),
		RateLimitMax:             int(getEnvInt64("RATE_LIMIT_MAX", DefaultRateLimitMax)),
		RedisURL:                 os.Getenv("REDIS_URL"),
		KafkaBrokers:             getEnvList("KAFKA_BROKERS"),
		KafkaTopic:               getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		OTLPEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	cfg.applyFloors()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyFloors() {
	if c.RateLimitWindow < MinRateLimitWindow {
		c.RateLimitWindow = MinRateLimitWindow
	}
	if c.RateLimitMax < MinRateLimitMax {
		c.RateLimitMax = MinRateLimitMax
	}
	if c.JobWorkers < 1 {
		c.JobWorkers = 1
	}
}

// Validate checks that all required configuration is present and sane
func (c *Config) Validate() error {
	if c.APIKey == "" && len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("API_KEY or ALLOWED_ORIGINS is required")
	}
	if math.IsNaN(c.Sensitivity) || c.Sensitivity < 0 || c.Sensitivity > 1 {
		return fmt.Errorf("RISK_SENSITIVITY must be between 0 and 1, got %v", c.Sensitivity)
	}
	if c.ReviewMinScore < 0 || c.ReviewMinScore > 100 {
		return fmt.Errorf("REVIEW_MIN_SCORE must be between 0 and 100, got %d", c.ReviewMinScore)
	}
	if c.AsyncDelay < 0 {
		return fmt.Errorf("ASYNC_DELAY must not be negative")
	}
	if c.CallbackTimeout <= 0 {
		return fmt.Errorf("CALLBACK_TIMEOUT must be positive")
	}
	if c.CallbackBreakerThreshold < 0 {
		return fmt.Errorf("CALLBACK_BREAKER_THRESHOLD must not be negative")
	}
	if c.ResultTTL < 0 {
		return fmt.Errorf("RESULT_TTL must not be negative")
	}
	if c.ResultTTL > 0 && c.ResultSweepInterval <= 0 {
		return fmt.Errorf("RESULT_SWEEP_INTERVAL must be positive when RESULT_TTL is set")
	}
	if c.CallbackURL != "" {
		u, err := url.Parse(c.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("CALLBACK_URL must be an absolute http(s) URL")
		}
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("1500ms", "1m") and bare
// integers, which are read as milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string) []string {
	return SplitList(os.Getenv(key))
}

// SplitList splits a comma separated list, trimming entries and dropping
// blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
