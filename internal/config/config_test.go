package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CLINIC_TIMEZONE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.MarketplaceTimeout != 15*time.Second {
		t.Fatalf("expected default marketplace timeout, got %s", cfg.MarketplaceTimeout)
	}
	if cfg.AttemptIdleTTL != 15*time.Minute {
		t.Fatalf("expected default attempt ttl, got %s", cfg.AttemptIdleTTL)
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("expected no cors origins, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC location by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("MARKETPLACE_BASE_URL", "https://api.example.com")
	t.Setenv("MARKETPLACE_TIMEOUT", "5s")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")
	t.Setenv("CLINIC_TIMEZONE", "America/New_York")
	t.Setenv("EMAIL_PROVIDER", " SES ")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.MarketplaceBaseURL != "https://api.example.com" {
		t.Fatalf("expected marketplace override, got %s", cfg.MarketplaceBaseURL)
	}
	if cfg.MarketplaceTimeout != 5*time.Second {
		t.Fatalf("expected timeout override, got %s", cfg.MarketplaceTimeout)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rps override, got %v", cfg.RateLimitRPS)
	}
	if !cfg.RedisTLS {
		t.Fatalf("expected redis tls enabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.EmailProvider != "ses" {
		t.Fatalf("expected normalized email provider, got %q", cfg.EmailProvider)
	}
	if got := cfg.Location().String(); got != "America/New_York" {
		t.Fatalf("expected clinic location, got %s", got)
	}
}

func TestLocationFallsBackOnBadZone(t *testing.T) {
	cfg := &Config{ClinicTimezone: "Not/AZone"}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback")
	}
}
