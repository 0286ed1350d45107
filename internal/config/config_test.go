package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
instance:
  id: test-capture
data:
  dir: /tmp/tickvault
venues:
  binance:
    ws_url: wss://stream.binance.com:9443
    rest_url: https://api.binance.com
    rate_limit_per_sec: 20
    rate_limit_burst: 40
captures:
  - symbol: BTCUSDT
    venue: binance
  - symbol: ETHUSDT
    venue: binance
`

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempFile(t, validYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-capture" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-capture")
	}
	if cfg.Data.Dir != "/tmp/tickvault" {
		t.Errorf("Data.Dir = %q, want %q", cfg.Data.Dir, "/tmp/tickvault")
	}
	if len(cfg.Captures) != 2 {
		t.Fatalf("len(Captures) = %d, want 2", len(cfg.Captures))
	}
	if cfg.Captures[0].Symbol != "BTCUSDT" || cfg.Captures[0].Venue != "binance" {
		t.Errorf("Captures[0] = %+v, want BTCUSDT on binance", cfg.Captures[0])
	}
	if cfg.Venues["binance"].RateLimitPerSec != 20 {
		t.Errorf("RateLimitPerSec = %v, want 20", cfg.Venues["binance"].RateLimitPerSec)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_API_SECRET", "secret123")

	yaml := `
instance:
  id: test-capture
data:
  dir: /tmp/tickvault
venues:
  binance:
    ws_url: wss://stream.binance.com:9443
    rest_url: https://api.binance.com
    api_secret: ${TEST_API_SECRET}
captures:
  - symbol: BTCUSDT
    venue: binance
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.Venues["binance"].APISecret; got != "secret123" {
		t.Errorf("APISecret = %q, want %q", got, "secret123")
	}
}

func TestLoadAndValidate_Defaults(t *testing.T) {
	path := writeTempFile(t, validYAML)

	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	if cfg.Feed.ReconnectBaseDelay != DefaultReconnectBase {
		t.Errorf("ReconnectBaseDelay = %v, want %v", cfg.Feed.ReconnectBaseDelay, DefaultReconnectBase)
	}
	if cfg.Backfill.PageSize != DefaultPageSize {
		t.Errorf("PageSize = %d, want %d", cfg.Backfill.PageSize, DefaultPageSize)
	}
	if cfg.Writer.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v, want 5s", cfg.Writer.FlushInterval)
	}
	if cfg.Reconciler.MaxHeld != DefaultMaxHeld {
		t.Errorf("MaxHeld = %d, want %d", cfg.Reconciler.MaxHeld, DefaultMaxHeld)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want /metrics", cfg.Metrics.Path)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing instance id", func(c *Config) { c.Instance.ID = "" }},
		{"missing data dir", func(c *Config) { c.Data.Dir = "" }},
		{"no venues", func(c *Config) { c.Venues = nil }},
		{"no captures", func(c *Config) { c.Captures = nil }},
		{"unknown venue", func(c *Config) { c.Captures[0].Venue = "nope" }},
		{"duplicate capture", func(c *Config) { c.Captures = append(c.Captures, c.Captures[0]) }},
		{"missing symbol", func(c *Config) { c.Captures[0].Symbol = "" }},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 99999 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempFile(t, validYAML)
			cfg, err := LoadWithDefaults(path)
			if err != nil {
				t.Fatalf("LoadWithDefaults failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestMirror_DisabledWithoutHost(t *testing.T) {
	path := writeTempFile(t, validYAML)
	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.Mirror.Enabled() {
		t.Error("mirror should be disabled when postgres host is empty")
	}
}
