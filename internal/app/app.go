// Package app wires the pieces both processes share: the schedule store,
// the display backends and the permission gate.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/circuitbreaker"
	"github.com/lalithlochan/vigil/internal/config"
	"github.com/lalithlochan/vigil/internal/db"
	"github.com/lalithlochan/vigil/internal/delivery"
	"github.com/lalithlochan/vigil/internal/redis"
)

// Resources holds the store and optional Redis client for one process.
type Resources struct {
	Store db.Store
	// Permissions is the permission state shared with the other process. It
	// lives in the same backend as Store.
	Permissions db.PermissionStore
	// Redis is nil when Redis is unreachable and the store is postgres.
	Redis *redis.Client

	closers []func()
}

// Close releases connections in reverse order of opening.
func (r *Resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// Open connects the configured store backend for the named process. Redis is
// always attempted because idempotency and rate limiting use it; it is only
// required when it is also the store.
func Open(ctx context.Context, cfg *config.Config, process string, logger *zap.Logger) (*Resources, error) {
	res := &Resources{}

	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
	}, logger)
	if err != nil {
		if cfg.StoreBackend == config.StoreRedis {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Warn("redis unavailable, idempotency and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		res.Redis = redisClient
		res.closers = append(res.closers, func() { _ = redisClient.Close() })
	}

	switch cfg.StoreBackend {
	case config.StoreRedis:
		store := redis.NewStore(redisClient, logger)
		res.Store = store
		res.Permissions = store

	default:
		database, err := db.New(ctx, db.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,

			ApplicationName: "vigil-" + process,
		}, logger)
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		res.closers = append(res.closers, database.Close)
		repo := db.NewRepository(database, logger)
		res.Store = repo
		res.Permissions = repo
	}

	logger.Info("schedule store ready", zap.String("backend", cfg.StoreBackend))
	return res, nil
}

// Notifiers builds the display chain: SNS push, SES email and the device
// webhook when configured, each behind its own circuit breaker, with the
// log notifier last so every type has a backend.
func Notifiers(ctx context.Context, cfg *config.Config, logger *zap.Logger) (delivery.Notifier, []*circuitbreaker.CircuitBreaker) {
	var (
		chain    []delivery.Notifier
		breakers []*circuitbreaker.CircuitBreaker
	)
	protect := func(name string, n delivery.Notifier) {
		cb := circuitbreaker.New(circuitbreaker.DefaultConfig(name), logger)
		chain = append(chain, circuitbreaker.NewProtectedNotifier(n, cb, logger))
		breakers = append(breakers, cb)
	}

	if cfg.SNSTopicARN != "" {
		sns, err := delivery.NewSNSNotifier(ctx, delivery.SNSConfig{
			Region:   cfg.SNSRegion,
			TopicARN: cfg.SNSTopicARN,
		}, logger)
		if err != nil {
			logger.Warn("SNS notifier unavailable, push display disabled", zap.Error(err))
		} else {
			protect("sns", sns)
		}
	}

	if cfg.SESFromEmail != "" && cfg.SESToEmail != "" {
		ses, err := delivery.NewSESNotifier(ctx, delivery.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
			ToEmail:   cfg.SESToEmail,
		}, logger)
		if err != nil {
			logger.Warn("SES notifier unavailable, email display disabled", zap.Error(err))
		} else {
			protect("ses", ses)
		}
	}

	if cfg.WebhookURL != "" {
		protect("webhook", delivery.NewWebhookNotifier(delivery.WebhookConfig{
			URL:     cfg.WebhookURL,
			Timeout: time.Duration(cfg.WebhookTimeout) * time.Second,
		}, logger))
	}

	chain = append(chain, delivery.NewLogNotifier(logger))

	logger.Info("display backends initialized",
		zap.Bool("sns_enabled", cfg.SNSTopicARN != ""),
		zap.Bool("ses_enabled", cfg.SESFromEmail != "" && cfg.SESToEmail != ""),
		zap.Bool("webhook_enabled", cfg.WebhookURL != ""),
	)

	return delivery.NewMultiNotifier(logger, chain...), breakers
}

// Permission returns the gate shared through permissions. NOTIFICATION_PERMISSION
// is recorded as the initial state unless another process already recorded
// one.
func Permission(ctx context.Context, cfg *config.Config, permissions db.PermissionStore) (*delivery.PermissionGate, error) {
	p, err := delivery.ParsePermission(cfg.NotificationPermission)
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFICATION_PERMISSION: %w", err)
	}

	gate := delivery.NewSharedPermissionGate(permissions, p)
	if err := gate.Seed(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed notification permission: %w", err)
	}
	return gate, nil
}
