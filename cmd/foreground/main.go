package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/api"
	"github.com/lalithlochan/vigil/internal/app"
	"github.com/lalithlochan/vigil/internal/config"
	"github.com/lalithlochan/vigil/internal/control"
	"github.com/lalithlochan/vigil/internal/delivery"
	"github.com/lalithlochan/vigil/internal/foreground"
	"github.com/lalithlochan/vigil/internal/observ"
	"github.com/lalithlochan/vigil/internal/redis"
	"github.com/lalithlochan/vigil/internal/reminder"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A local .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "foreground")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting vigil foreground",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("timezone", cfg.Location.String()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := app.Open(ctx, cfg, "foreground", logger)
	if err != nil {
		return err
	}
	defer res.Close()

	permission, err := app.Permission(ctx, cfg, res.Permissions)
	if err != nil {
		return err
	}
	notifier, breakers := app.Notifiers(ctx, cfg, logger)

	engine := delivery.New(res.Store, notifier, permission, delivery.Config{
		Driver:   "foreground",
		Location: cfg.Location,
	}, logger)
	driver := foreground.New(engine, foreground.Config{MaxSleep: cfg.ForegroundSleep}, logger)

	// Control messages to the background worker
	var publisher control.Publisher = control.Discard{}
	if cfg.SQSQueueURL != "" {
		sqsPublisher, err := control.NewSQSPublisher(ctx, control.SQSConfig{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs publisher unavailable, worker will rely on periodic wakes",
				zap.Error(err),
			)
		} else {
			publisher = sqsPublisher
		}
	}

	reminders := reminder.New(res.Store, publisher, driver, permission, reminder.Config{
		Location: cfg.Location,
	}, logger)

	handler := api.NewHandler(logger, reminders)
	if res.Redis != nil {
		handler = api.NewHandlerWithIdempotency(logger, reminders, redis.NewIdempotencyService(res.Redis, logger)).
			WithWriteLimit(redis.NewWriteLimiter(res.Redis, logger, cfg.RateLimitPerMinute, time.Minute))
	}

	go driver.Run(ctx)
	logger.Info("foreground driver started")

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(logger, handler, breakers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
