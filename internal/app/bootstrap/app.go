package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/carebook/internal/api/router"
	"github.com/wolfman30/carebook/internal/availability"
	"github.com/wolfman30/carebook/internal/bookings"
	"github.com/wolfman30/carebook/internal/cancellation"
	"github.com/wolfman30/carebook/internal/checkout"
	"github.com/wolfman30/carebook/internal/compliance"
	appconfig "github.com/wolfman30/carebook/internal/config"
	"github.com/wolfman30/carebook/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/carebook/internal/http/middleware"
	"github.com/wolfman30/carebook/internal/marketplace"
	"github.com/wolfman30/carebook/internal/notify"
	"github.com/wolfman30/carebook/internal/observability/metrics"
	"github.com/wolfman30/carebook/internal/payments"
	"github.com/wolfman30/carebook/internal/reviews"
	"github.com/wolfman30/carebook/internal/schedule"
	"github.com/wolfman30/carebook/pkg/logging"
)

// Deps are the externally constructed clients the API is assembled from. Nil
// fields select the in-process fallbacks.
type Deps struct {
	Redis    *redis.Client
	Pool     *pgxpool.Pool
	AuditDB  *sql.DB
	SES      notify.SESAPI
	Registry *prometheus.Registry
	// Widgets overrides the processor selected from config.
	Widgets payments.WidgetFactory
}

// App is the assembled patient API.
type App struct {
	Handler  http.Handler
	Checkout *checkout.Registry
	Metrics  *metrics.BookingMetrics

	limiter *httpmiddleware.RateLimiter
	sweep   time.Duration
	logger  *logging.Logger
}

// Build wires every component of the booking API.
func Build(cfg *appconfig.Config, deps Deps, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	bookingMetrics := metrics.NewBookingMetrics(reg)

	widgets := deps.Widgets
	if widgets == nil {
		var err error
		if widgets, err = BuildWidgetFactory(cfg, logger); err != nil {
			return nil, err
		}
	}

	loc := cfg.Location()
	market := marketplace.NewClient(cfg.MarketplaceBaseURL, logger,
		marketplace.WithTimeout(cfg.MarketplaceTimeout),
		marketplace.WithLatencyObserver(bookingMetrics),
	)
	catalog := schedule.NewCatalog(market, BuildCatalogCache(deps.Redis), cfg.CatalogCacheTTL, logger)
	avail := availability.NewService(catalog, market, loc, logger)
	guard := BuildInflightGuard(deps.Redis, cfg.InflightLockTTL, logger)
	ledger := BuildLedger(deps.Pool, logger)
	notifier := notify.NewService(BuildEmailSender(cfg, deps.SES, logger), logger)

	var audit compliance.Recorder
	if deps.AuditDB != nil {
		audit = compliance.NewAuditService(deps.AuditDB)
	}

	bookingSvc := bookings.NewService(market, bookings.NewStore(), logger)
	coordinator := bookings.NewCoordinator(bookings.CoordinatorConfig{
		Backend:  market,
		Store:    bookingSvc.Store(),
		Ledger:   ledger,
		Guard:    guard,
		Audit:    audit,
		Notifier: notifier,
		Metrics:  bookingMetrics,
		Logger:   logger,
	})
	canceller := cancellation.NewManager(cancellation.Config{
		Backend:  market,
		Bookings: bookingSvc,
		Store:    bookingSvc.Store(),
		Guard:    guard,
		Audit:    audit,
		Notifier: notifier,
		Metrics:  bookingMetrics,
		Location: loc,
		Logger:   logger,
	})
	gate := reviews.NewGate(reviews.GateConfig{
		Backend:  market,
		Bookings: bookingSvc,
		Guard:    guard,
		Audit:    audit,
		Metrics:  bookingMetrics,
		Logger:   logger,
	})
	registry := checkout.NewRegistry(checkout.Config{
		Views:     avail,
		Submitter: coordinator,
		Schedules: catalog,
		Payment: payments.SessionConfig{
			Tokens:          market,
			Widgets:         widgets,
			ContainerRegion: cfg.PaymentContainerRegion,
			Observer:        bookingMetrics,
			Logger:          logger,
		},
		IdleTTL: cfg.AttemptIdleTTL,
		Logger:  logger,
	})

	checks := map[string]handlers.HealthCheck{}
	if deps.Pool != nil {
		checks["postgres"] = deps.Pool.Ping
	}
	if deps.Redis != nil {
		redisClient := deps.Redis
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var limiter *httpmiddleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	handler := router.New(&router.Config{
		Logger:             logger,
		Health:             handlers.NewHealthHandler(checks),
		Schedules:          handlers.NewSchedulesHandler(catalog, avail, logger),
		Checkout:           handlers.NewCheckoutHandler(registry, logger),
		Bookings:           handlers.NewBookingsHandler(bookingSvc, canceller, gate, logger),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		SessionJWTSecret:   cfg.SessionJWTSecret,
		RateLimiter:        limiter,
	})

	return &App{
		Handler:  handler,
		Checkout: registry,
		Metrics:  bookingMetrics,
		limiter:  limiter,
		sweep:    cfg.AttemptSweep,
		logger:   logger,
	}, nil
}

// Run expires idle checkout attempts until ctx is done, then releases every
// attempt still open.
func (a *App) Run(ctx context.Context) {
	a.Checkout.Run(ctx, a.sweep)
}

// Close stops background helpers owned by the app.
func (a *App) Close() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
}
