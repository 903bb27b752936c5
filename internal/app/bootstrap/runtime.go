package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/carebook/internal/bookings"
	appconfig "github.com/wolfman30/carebook/internal/config"
	"github.com/wolfman30/carebook/internal/inflight"
	"github.com/wolfman30/carebook/internal/payments"
	"github.com/wolfman30/carebook/internal/schedule"
	"github.com/wolfman30/carebook/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildCatalogCache shares schedule templates across replicas through Redis,
// falling back to a process-local cache.
func BuildCatalogCache(redisClient *redis.Client) schedule.Cache {
	if redisClient == nil {
		return schedule.NewMemoryCache(nil)
	}
	return schedule.NewRedisCache(redisClient)
}

// BuildInflightGuard returns the cross-replica guard when Redis is available.
// A process-local guard only protects a single BFF instance.
func BuildInflightGuard(redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) inflight.Guard {
	if redisClient == nil {
		if logger != nil {
			logger.Warn("redis disabled; in-flight guards are local to this process")
		}
		return inflight.NewMemoryGuard()
	}
	return inflight.NewRedisGuard(redisClient, ttl, logger)
}

// ConnectPostgresPool opens the pgx pool used by the attempt ledger. It
// returns nil for an empty URL.
func ConnectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("postgres pool connected")
	return pool, nil
}

// OpenAuditDB opens the database/sql handle the audit trail writes through.
func OpenAuditDB(databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open audit db: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// BuildLedger returns the Postgres attempt ledger, or an in-memory one when no
// database is configured. The in-memory ledger forgets claimed nonces on restart.
func BuildLedger(pool *pgxpool.Pool, logger *logging.Logger) bookings.Ledger {
	if pool == nil {
		if logger != nil {
			logger.Warn("DATABASE_URL not set; booking attempts are kept in memory")
		}
		return bookings.NewMemoryLedger()
	}
	return bookings.NewRepository(pool)
}

// BuildWidgetFactory selects the hosted processor, or the sandbox widget
// outside production when no processor is configured.
func BuildWidgetFactory(cfg *appconfig.Config, logger *logging.Logger) (payments.WidgetFactory, error) {
	if strings.TrimSpace(cfg.ProcessorBaseURL) != "" {
		return payments.NewHostedProcessor(cfg.ProcessorBaseURL, cfg.ProcessorPublicKey, logger).WithTimeout(cfg.ProcessorTimeout), nil
	}
	if strings.EqualFold(cfg.Env, "production") {
		return nil, fmt.Errorf("bootstrap: PROCESSOR_BASE_URL is required in production")
	}
	if logger != nil {
		logger.Warn("payment processor not configured; using sandbox widget")
	}
	return payments.NewFakeWidgetFactory(logger), nil
}
