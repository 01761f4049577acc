package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("VERIGATE_API_SECRET", "hunter2")
	t.Setenv("VERIGATE_WEBHOOK_URL", "http://localhost:9000/webhook")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != "3000" {
		t.Errorf("port = %q, want 3000", cfg.Port)
	}
	if cfg.TokenTTL != 15*time.Minute {
		t.Errorf("token ttl = %v, want 15m", cfg.TokenTTL)
	}
	if cfg.RetryMaxAttempts != 5 {
		t.Errorf("retry attempts = %d, want 5", cfg.RetryMaxAttempts)
	}
	if cfg.RetryBase != time.Second {
		t.Errorf("retry base = %v, want 1s", cfg.RetryBase)
	}
	if cfg.DeliveryWorkers != 2 || cfg.DeliveryQueueSize != 64 {
		t.Errorf("delivery pool = %d/%d, want 2/64", cfg.DeliveryWorkers, cfg.DeliveryQueueSize)
	}
	if cfg.RateLimitRequests != 100 || cfg.RateLimitWindow != 15*time.Minute {
		t.Errorf("rate limit = %d/%v, want 100/15m", cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	if cfg.ArchiveDir != "data" {
		t.Errorf("archive dir = %q, want data", cfg.ArchiveDir)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("VERIGATE_PORT", "8080")
	t.Setenv("VERIGATE_TOKEN_TTL", "5m")
	t.Setenv("VERIGATE_LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Port)
	}
	if cfg.TokenTTL != 5*time.Minute {
		t.Errorf("token ttl = %v, want 5m", cfg.TokenTTL)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("log format = %q, want json", cfg.LogFormat)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing api secret", map[string]string{
			"VERIGATE_WEBHOOK_URL": "http://localhost:9000/webhook",
		}},
		{"missing webhook url", map[string]string{
			"VERIGATE_API_SECRET": "hunter2",
		}},
		{"non-positive ttl", map[string]string{
			"VERIGATE_API_SECRET":  "hunter2",
			"VERIGATE_WEBHOOK_URL": "http://localhost:9000/webhook",
			"VERIGATE_TOKEN_TTL":   "0s",
		}},
		{"zero retry attempts", map[string]string{
			"VERIGATE_API_SECRET":         "hunter2",
			"VERIGATE_WEBHOOK_URL":        "http://localhost:9000/webhook",
			"VERIGATE_RETRY_MAX_ATTEMPTS": "0",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}
