package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	DatabaseURL        string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Marketplace backend (authoritative for schedules, bookings and reviews)
	MarketplaceBaseURL string
	MarketplaceTimeout time.Duration

	// Hosted payment processor
	ProcessorBaseURL       string
	ProcessorPublicKey     string
	ProcessorTimeout       time.Duration
	PaymentContainerRegion string

	// Patient session tokens issued by the marketplace identity service
	SessionJWTSecret string

	ClinicTimezone  string
	CatalogCacheTTL time.Duration
	AttemptIdleTTL  time.Duration
	AttemptSweep    time.Duration
	InflightLockTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Email notifications
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		MarketplaceBaseURL: getEnv("MARKETPLACE_BASE_URL", "http://localhost:4000/api"),
		MarketplaceTimeout: getEnvAsDuration("MARKETPLACE_TIMEOUT", 15*time.Second),

		ProcessorBaseURL:       getEnv("PROCESSOR_BASE_URL", ""),
		ProcessorPublicKey:     getEnv("PROCESSOR_PUBLIC_KEY", ""),
		ProcessorTimeout:       getEnvAsDuration("PROCESSOR_TIMEOUT", 20*time.Second),
		PaymentContainerRegion: getEnv("PAYMENT_CONTAINER_REGION", "#payment-container"),

		SessionJWTSecret: getEnv("SESSION_JWT_SECRET", ""),

		ClinicTimezone:  getEnv("CLINIC_TIMEZONE", "UTC"),
		CatalogCacheTTL: getEnvAsDuration("CATALOG_CACHE_TTL", 5*time.Minute),
		AttemptIdleTTL:  getEnvAsDuration("ATTEMPT_IDLE_TTL", 15*time.Minute),
		AttemptSweep:    getEnvAsDuration("ATTEMPT_SWEEP_INTERVAL", time.Minute),
		InflightLockTTL: getEnvAsDuration("INFLIGHT_LOCK_TTL", 45*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "CareBook"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", getEnv("SENDGRID_FROM_EMAIL", "")),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// Location resolves ClinicTimezone, falling back to UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	if c == nil || strings.TrimSpace(c.ClinicTimezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
