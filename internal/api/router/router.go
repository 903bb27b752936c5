package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/carebook/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/carebook/internal/http/middleware"
	"github.com/wolfman30/carebook/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Health             *handlers.HealthHandler
	Schedules          *handlers.SchedulesHandler
	Checkout           *handlers.CheckoutHandler
	Bookings           *handlers.BookingsHandler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// SessionJWTSecret verifies patient bearer tokens on /v1.
	SessionJWTSecret string
	// RateLimiter is applied per patient on /v1 when set.
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil)
	}
	r.Get("/health", health.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(httpmiddleware.PatientAuth(cfg.SessionJWTSecret))
		if cfg.RateLimiter != nil {
			v1.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}

		if cfg.Schedules != nil {
			v1.Get("/providers/{providerID}/schedules", cfg.Schedules.ListForProvider)
			v1.Route("/schedules/{scheduleID}", func(r chi.Router) {
				r.Get("/slots", cfg.Schedules.Slots)
				r.Get("/next-open", cfg.Schedules.NextOpen)
			})
		}

		if cfg.Checkout != nil {
			v1.Route("/checkout", func(r chi.Router) {
				r.Post("/", cfg.Checkout.Start)
				r.Route("/{attemptID}", func(attempt chi.Router) {
					attempt.Get("/", cfg.Checkout.Get)
					attempt.Delete("/", cfg.Checkout.Close)
					attempt.Post("/authorize", cfg.Checkout.Authorize)
					attempt.Post("/submit", cfg.Checkout.Submit)
				})
			})
		}

		if cfg.Bookings != nil {
			v1.Route("/bookings", func(r chi.Router) {
				r.Get("/", cfg.Bookings.List)
				r.Route("/{bookingID}", func(b chi.Router) {
					b.Get("/", cfg.Bookings.Get)
					b.Post("/cancel", cfg.Bookings.Cancel)
					b.Get("/reviewable", cfg.Bookings.Reviewable)
					b.Post("/reviews/doctor", cfg.Bookings.SubmitDoctorReview)
					b.Post("/reviews/dispensary", cfg.Bookings.SubmitDispensaryReview)
				})
			})
		}
	})

	return r
}
