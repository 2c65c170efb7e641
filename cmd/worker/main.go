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
	"github.com/lalithlochan/vigil/internal/cleanup"
	"github.com/lalithlochan/vigil/internal/config"
	"github.com/lalithlochan/vigil/internal/control"
	"github.com/lalithlochan/vigil/internal/delivery"
	"github.com/lalithlochan/vigil/internal/observ"
	"github.com/lalithlochan/vigil/internal/worker"
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

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "worker")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting vigil worker",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.WorkerPort),
		zap.Duration("wake_interval", cfg.WakeInterval),
		zap.Duration("retention", cfg.Retention),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := app.Open(ctx, cfg, "worker", logger)
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
		Driver:   "background",
		Location: cfg.Location,
	}, logger)

	w := worker.New(res.Store, engine, cleanup.New(res.Store, logger), worker.Config{
		WakeInterval: cfg.WakeInterval,
		Retention:    cfg.Retention,
	}, logger)

	go w.Start(ctx)
	logger.Info("background worker started")

	if cfg.SQSQueueURL != "" {
		consumer, err := control.NewSQSConsumer(ctx, control.SQSConfig{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs consumer unavailable, relying on periodic wakes", zap.Error(err))
		} else {
			go consumer.Run(ctx, w)
			logger.Info("control channel consumer started", zap.String("queue_url", cfg.SQSQueueURL))
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.WorkerPort),
		Handler:      api.NewWorkerRouter(logger, api.NewWakeHandler(logger, w), breakers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
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

		logger.Info("worker stopped gracefully")
	}

	return nil
}
