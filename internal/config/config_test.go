package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 8080 {
		t.Fatalf("Port = %d, want 8080", cfg.Port)
	}
	if len(cfg.Symbols) != 1 || cfg.Symbols[0] != "BTCUSDT" {
		t.Fatalf("Symbols = %v, want [BTCUSDT]", cfg.Symbols)
	}
	if cfg.PublishInterval != 250*time.Millisecond {
		t.Fatalf("PublishInterval = %s, want 250ms", cfg.PublishInterval)
	}
	if cfg.OiPollInterval != 10*time.Second {
		t.Fatalf("OiPollInterval = %s, want 10s", cfg.OiPollInterval)
	}
	if cfg.SubscriberQueue != 64 {
		t.Fatalf("SubscriberQueue = %d, want 64", cfg.SubscriberQueue)
	}
	if cfg.MaxLeverage != 20 {
		t.Fatalf("MaxLeverage = %d, want 20", cfg.MaxLeverage)
	}
	if !cfg.StartingMargin.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("StartingMargin = %s, want 100", cfg.StartingMargin)
	}
	if cfg.LoggerQueueLimit != 1024 || cfg.LoggerDropHaltThreshold != 5000 {
		t.Fatalf("logger bounds = %d/%d, want 1024/5000",
			cfg.LoggerQueueLimit, cfg.LoggerDropHaltThreshold)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("SYMBOLS", "ethusdt, solusdt")
	t.Setenv("PUBLISH_INTERVAL", "500ms")
	t.Setenv("MAX_LEVERAGE", "5")
	t.Setenv("STARTING_MARGIN", "250.5")
	t.Setenv("MOCK_OI", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Addr() != "127.0.0.1:9999" {
		t.Fatalf("Addr = %s", cfg.Addr())
	}
	// Symbols normalise to upper case.
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "ETHUSDT" || cfg.Symbols[1] != "SOLUSDT" {
		t.Fatalf("Symbols = %v", cfg.Symbols)
	}
	if cfg.PublishInterval != 500*time.Millisecond {
		t.Fatalf("PublishInterval = %s", cfg.PublishInterval)
	}
	if cfg.MaxLeverage != 5 {
		t.Fatalf("MaxLeverage = %d", cfg.MaxLeverage)
	}
	if !cfg.StartingMargin.Equal(decimal.RequireFromString("250.5")) {
		t.Fatalf("StartingMargin = %s", cfg.StartingMargin)
	}
	if !cfg.MockOi {
		t.Fatal("MockOi not set")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port zero", "PORT", "0"},
		{"port overflow", "PORT", "70000"},
		{"leverage", "MAX_LEVERAGE", "0"},
		{"publish interval", "PUBLISH_INTERVAL", "10ms"},
		{"bad chat id", "TELEGRAM_CHAT_ID", "notanumber"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load accepted %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	open := &Config{}
	if !open.OriginAllowed("https://anything.example.com") {
		t.Fatal("empty allow-list must accept all origins")
	}

	cfg := &Config{AllowedOrigins: []string{"https://dash.example.com"}}
	if !cfg.OriginAllowed("https://dash.example.com") {
		t.Fatal("listed origin rejected")
	}
	if !cfg.OriginAllowed("HTTPS://DASH.EXAMPLE.COM") {
		t.Fatal("origin match must be case-insensitive")
	}
	if cfg.OriginAllowed("https://evil.example.com") {
		t.Fatal("unlisted origin accepted")
	}
}
