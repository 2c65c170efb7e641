package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Port       int // foreground process HTTP port
	WorkerPort int // background worker HTTP port
	LogLevel   string
	Env        string

	// Timezone is the IANA name of the user's timezone. Quiet hours and
	// daily reminder times are evaluated in it.
	Timezone string
	Location *time.Location

	// StoreBackend selects the schedule store: postgres or redis.
	StoreBackend string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// AWS Services
	AWSRegion string

	// SQS control channel
	SQSRegion   string
	SQSQueueURL string

	// SNS push display backend
	SNSRegion   string
	SNSTopicARN string

	// SES email display backend
	SESFromEmail string
	SESToEmail   string

	// Webhook display backend
	WebhookURL     string
	WebhookTimeout int // seconds

	// Scheduling
	WakeInterval    time.Duration
	Retention       time.Duration
	ForegroundSleep time.Duration

	// NotificationPermission is the initial permission state: granted,
	// denied or default.
	NotificationPermission string

	// RateLimitPerMinute caps /v1 requests per client.
	RateLimitPerMinute int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:       8080,
		WorkerPort: 8081,
		LogLevel:   "info",
		Env:        "development",
		Timezone:   "Local",

		StoreBackend: StorePostgres,

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "vigil",
		DBPassword: "",
		DBName:     "vigil",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:   "localhost",
		RedisPort:   6379,
		RedisDB:     0,
		RedisPrefix: "vigil",

		AWSRegion: "us-east-1",

		WebhookTimeout: 10,

		WakeInterval:    15 * time.Minute,
		Retention:       7 * 24 * time.Hour,
		ForegroundSleep: 60 * time.Second,

		NotificationPermission: "default",
		RateLimitPerMinute:     60,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	if cfg.WorkerPort, err = intEnv("WORKER_PORT", cfg.WorkerPort); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if tz := os.Getenv("TIMEZONE"); tz != "" {
		cfg.Timezone = tz
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		cfg.StoreBackend = backend
	}
	if cfg.StoreBackend != StorePostgres && cfg.StoreBackend != StoreRedis {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: must be postgres or redis", cfg.StoreBackend)
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		cfg.RedisPrefix = prefix
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}
	cfg.SQSQueueURL = os.Getenv("SQS_QUEUE_URL")

	// SNS config
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}
	cfg.SNSTopicARN = os.Getenv("SNS_TOPIC_ARN")

	// SES config
	cfg.SESFromEmail = os.Getenv("SES_FROM_EMAIL")
	cfg.SESToEmail = os.Getenv("SES_TO_EMAIL")

	// Webhook config
	cfg.WebhookURL = os.Getenv("WEBHOOK_URL")
	if cfg.WebhookTimeout, err = intEnv("WEBHOOK_TIMEOUT", cfg.WebhookTimeout); err != nil {
		return nil, err
	}

	// Scheduling
	if cfg.WakeInterval, err = durationEnv("WAKE_INTERVAL_SECONDS", cfg.WakeInterval, time.Second); err != nil {
		return nil, err
	}
	if cfg.Retention, err = durationEnv("RETENTION_DAYS", cfg.Retention, 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ForegroundSleep, err = durationEnv("FOREGROUND_MAX_SLEEP_SECONDS", cfg.ForegroundSleep, time.Second); err != nil {
		return nil, err
	}

	if p := os.Getenv("NOTIFICATION_PERMISSION"); p != "" {
		cfg.NotificationPermission = p
	}

	if cfg.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// durationEnv reads a positive integer count of unit.
func durationEnv(key string, def, unit time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return time.Duration(n) * unit, nil
}
