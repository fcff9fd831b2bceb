package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	if cfg.App.Name != "tickwatch" {
		t.Fatalf("unexpected app name: %s", cfg.App.Name)
	}
	if cfg.Feed.URL != "wss://ws.kraken.com" {
		t.Fatalf("unexpected feed url: %s", cfg.Feed.URL)
	}
	if len(cfg.Feed.Instruments) != 1 || cfg.Feed.Instruments[0] != "XBT/USD" {
		t.Fatalf("unexpected instruments: %v", cfg.Feed.Instruments)
	}
	if cfg.Feed.MinBackoff != 10*time.Second || cfg.Feed.MaxBackoff != 120*time.Second {
		t.Fatalf("unexpected backoff bounds: %s/%s", cfg.Feed.MinBackoff, cfg.Feed.MaxBackoff)
	}
	if cfg.Feed.MinSendSpacing != 1200*time.Millisecond {
		t.Fatalf("unexpected send spacing: %s", cfg.Feed.MinSendSpacing)
	}
	if cfg.Alerting.DedupWindow != 180*time.Second {
		t.Fatalf("unexpected dedup window: %s", cfg.Alerting.DedupWindow)
	}
	if cfg.Alerting.QuietStart != 23 || cfg.Alerting.QuietEnd != 7 {
		t.Fatalf("unexpected quiet hours: %d-%d", cfg.Alerting.QuietStart, cfg.Alerting.QuietEnd)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("unexpected backend: %s", cfg.Storage.Backend)
	}
	if cfg.Telemetry.BufferSize != 400 {
		t.Fatalf("unexpected telemetry buffer: %d", cfg.Telemetry.BufferSize)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("load defaults: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no instruments", func(c *Config) { c.Feed.Instruments = nil }},
		{"growth below one", func(c *Config) { c.Feed.GrowthFactor = 0.5 }},
		{"jitter above one", func(c *Config) { c.Feed.JitterFraction = 1.5 }},
		{"max below min backoff", func(c *Config) { c.Feed.MaxBackoff = time.Second }},
		{"quiet hour out of range", func(c *Config) { c.Alerting.QuietStart = 24 }},
		{"bad timezone", func(c *Config) { c.Alerting.Timezone = "Mars/Olympus" }},
		{"telegram without token", func(c *Config) { c.Alerting.Telegram.Enabled = true }},
		{"webhook without url", func(c *Config) { c.Alerting.Webhook.Enabled = true }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"zero telemetry buffer", func(c *Config) { c.Telemetry.BufferSize = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
