// Package config loads and validates app config from env and an optional
// .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Port is the HTTP listen port.
	Port string `mapstructure:"VERIGATE_PORT"`
	// BaseURL is the externally reachable base URL used in verify links.
	BaseURL string `mapstructure:"VERIGATE_BASE_URL"`
	// DBPath is the SQLite database path.
	DBPath string `mapstructure:"VERIGATE_DB_PATH"`
	// LogLevel accepts debug/info/warn/error.
	LogLevel string `mapstructure:"VERIGATE_LOG_LEVEL"`
	// LogFormat accepts text or json.
	LogFormat string `mapstructure:"VERIGATE_LOG_FORMAT"`

	// TokenTTL is how long a pending session stays valid (e.g. "15m").
	TokenTTL time.Duration `mapstructure:"VERIGATE_TOKEN_TTL"`

	// WebhookURL is the downstream notification endpoint.
	WebhookURL string `mapstructure:"VERIGATE_WEBHOOK_URL"`
	// APISecret authenticates both directions: the X-API-Secret header sent
	// with deliveries, and the gate on session issuance and the live feed.
	APISecret string `mapstructure:"VERIGATE_API_SECRET"`
	// RetryMaxAttempts is the total delivery attempts per record.
	RetryMaxAttempts uint64 `mapstructure:"VERIGATE_RETRY_MAX_ATTEMPTS"`
	// RetryBase is the first retry delay; it doubles per attempt.
	RetryBase time.Duration `mapstructure:"VERIGATE_RETRY_BASE"`
	// DeliveryWorkers bounds the delivery worker pool.
	DeliveryWorkers int `mapstructure:"VERIGATE_DELIVERY_WORKERS"`
	// DeliveryQueueSize bounds the queue between submissions and workers.
	DeliveryQueueSize int `mapstructure:"VERIGATE_DELIVERY_QUEUE_SIZE"`
	// DeliveryTimeout caps a single webhook POST.
	DeliveryTimeout time.Duration `mapstructure:"VERIGATE_DELIVERY_TIMEOUT"`

	// ArchiveDir is where completed records are written as JSON files.
	ArchiveDir string `mapstructure:"VERIGATE_ARCHIVE_DIR"`
	// GeoIPDBPath is an optional MaxMind City database; absent means all
	// geolocation fields resolve to the Unknown sentinel.
	GeoIPDBPath string `mapstructure:"VERIGATE_GEOIP_DB"`

	// RateLimitRequests per RateLimitWindow per client IP on public routes.
	RateLimitRequests int           `mapstructure:"VERIGATE_RATE_LIMIT_REQUESTS"`
	RateLimitWindow   time.Duration `mapstructure:"VERIGATE_RATE_LIMIT_WINDOW"`

	// Optional S3-compatible mirror for the archive.
	S3Endpoint  string `mapstructure:"VERIGATE_S3_ENDPOINT"`
	S3Bucket    string `mapstructure:"VERIGATE_S3_BUCKET"`
	S3Region    string `mapstructure:"VERIGATE_S3_REGION"`
	S3AccessKey string `mapstructure:"VERIGATE_S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"VERIGATE_S3_SECRET_KEY"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored; env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("VERIGATE_PORT", "3000")
	v.SetDefault("VERIGATE_BASE_URL", "http://localhost:3000")
	v.SetDefault("VERIGATE_DB_PATH", "verigate.db")
	v.SetDefault("VERIGATE_LOG_LEVEL", "info")
	v.SetDefault("VERIGATE_LOG_FORMAT", "text")
	v.SetDefault("VERIGATE_TOKEN_TTL", "15m")
	v.SetDefault("VERIGATE_WEBHOOK_URL", "")
	v.SetDefault("VERIGATE_API_SECRET", "")
	v.SetDefault("VERIGATE_RETRY_MAX_ATTEMPTS", 5)
	v.SetDefault("VERIGATE_RETRY_BASE", "1s")
	v.SetDefault("VERIGATE_DELIVERY_WORKERS", 2)
	v.SetDefault("VERIGATE_DELIVERY_QUEUE_SIZE", 64)
	v.SetDefault("VERIGATE_DELIVERY_TIMEOUT", "10s")
	v.SetDefault("VERIGATE_ARCHIVE_DIR", "data")
	v.SetDefault("VERIGATE_GEOIP_DB", "")
	v.SetDefault("VERIGATE_RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("VERIGATE_RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("VERIGATE_S3_ENDPOINT", "")
	v.SetDefault("VERIGATE_S3_BUCKET", "")
	v.SetDefault("VERIGATE_S3_REGION", "us-east-1")
	v.SetDefault("VERIGATE_S3_ACCESS_KEY", "")
	v.SetDefault("VERIGATE_S3_SECRET_KEY", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.APISecret == "" {
		return nil, errors.New("config: VERIGATE_API_SECRET must be set")
	}
	if cfg.WebhookURL == "" {
		return nil, errors.New("config: VERIGATE_WEBHOOK_URL must be set")
	}
	if cfg.TokenTTL <= 0 {
		return nil, errors.New("config: VERIGATE_TOKEN_TTL must be positive")
	}
	if cfg.RetryMaxAttempts == 0 {
		return nil, errors.New("config: VERIGATE_RETRY_MAX_ATTEMPTS must be at least 1")
	}

	return &cfg, nil
}
