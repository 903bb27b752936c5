package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/joho/godotenv"

	"github.com/wolfman30/carebook/cmd/mainconfig"
	"github.com/wolfman30/carebook/internal/app/bootstrap"
	appconfig "github.com/wolfman30/carebook/internal/config"
	"github.com/wolfman30/carebook/internal/notify"
	"github.com/wolfman30/carebook/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting carebook API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := connectDeps(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect dependencies", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	app, err := bootstrap.Build(cfg, deps, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		app.Run(ctx)
	}()

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	<-janitorDone
	logger.Info("server stopped")
}

// connectDeps opens the optional backing stores. Each one that is not
// configured is left nil and replaced by an in-process fallback.
func connectDeps(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (bootstrap.Deps, func(), error) {
	var (
		deps    bootstrap.Deps
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pool, err := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return deps, cleanup, err
	}
	if pool != nil {
		deps.Pool = pool
		closers = append(closers, pool.Close)
	}

	auditDB, err := bootstrap.OpenAuditDB(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return deps, func() {}, err
	}
	if auditDB != nil {
		deps.AuditDB = auditDB
		closers = append(closers, func() { _ = auditDB.Close() })
	}

	if client := bootstrap.BuildRedisClient(ctx, cfg, logger, true); client != nil {
		deps.Redis = client
		closers = append(closers, func() { _ = client.Close() })
	}

	if ses := setupSES(ctx, cfg, logger); ses != nil {
		deps.SES = ses
	}
	return deps, cleanup, nil
}

// setupSES returns an SES client when the email provider may use it. A
// failure to load AWS config disables SES rather than stopping the server.
func setupSES(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.SESAPI {
	if !mainconfig.WantsSES(cfg) {
		return nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Warn("failed to load AWS config; SES disabled", "error", err)
		return nil
	}
	return sesv2.NewFromConfig(awsCfg)
}
