package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.BaseURL != "http://localhost:1780" {
		t.Fatalf("unexpected base url %q", cfg.Service.BaseURL)
	}
	if cfg.Service.PageSize != 15 {
		t.Fatalf("expected page size 15, got %d", cfg.Service.PageSize)
	}
	if cfg.Retry.InitialDelay != 500*time.Millisecond || cfg.Retry.MaxDelay != 10*time.Second {
		t.Fatalf("unexpected retry delays: %+v", cfg.Retry)
	}
	if len(cfg.Retry.Statuses) != 4 {
		t.Fatalf("expected 4 retryable statuses, got %v", cfg.Retry.Statuses)
	}
	if cfg.Poll.Interval != 100*time.Millisecond || cfg.Poll.MaxAttempts != 1000 {
		t.Fatalf("unexpected poll config: %+v", cfg.Poll)
	}
	if cfg.Store.Driver != DriverSQLite || cfg.Store.Table != "telefonbuch_scrape" {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if !cfg.SupervisorEnabled() {
		t.Fatal("expected supervisor enabled by default")
	}
	if got := cfg.RequestTimeout(); got != 30*time.Second {
		t.Fatalf("expected request timeout 30s, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
service:
  base_url: http://127.0.0.1:9999
  command: ""
  page_size: 30
  max_restarts: 0
  settle_delay: 250ms
http:
  timeout_seconds: 5
retry:
  max_attempts: 3
  initial_delay: 10ms
  max_delay: 40ms
poll:
  interval: 5ms
  max_attempts: 7
query:
  alphabet: abc1
  length: 2
store:
  driver: postgres
  dsn: postgres://scraper@localhost/scrape
  table: scrape_rows
scrape:
  only_keys: [aa, ab]
  limit_keys: 2
archive:
  dir: /tmp/pages
metrics:
  listen_addr: ":9102"
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.BaseURL != "http://127.0.0.1:9999" || cfg.Service.PageSize != 30 {
		t.Fatalf("expected service overrides, got %+v", cfg.Service)
	}
	if cfg.SupervisorEnabled() {
		t.Fatal("expected supervisor disabled with empty command")
	}
	if cfg.Service.SettleDelay != 250*time.Millisecond {
		t.Fatalf("expected settle delay 250ms, got %v", cfg.Service.SettleDelay)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.MaxDelay != 40*time.Millisecond {
		t.Fatalf("expected retry overrides, got %+v", cfg.Retry)
	}
	if cfg.Poll.MaxAttempts != 7 {
		t.Fatalf("expected poll overrides, got %+v", cfg.Poll)
	}
	if cfg.Store.Driver != DriverPostgres || cfg.Store.Table != "scrape_rows" {
		t.Fatalf("expected store overrides, got %+v", cfg.Store)
	}
	if len(cfg.Scrape.OnlyKeys) != 2 || cfg.Scrape.LimitKeys != 2 {
		t.Fatalf("expected scrape overrides, got %+v", cfg.Scrape)
	}
	if cfg.Archive.Dir != "/tmp/pages" || cfg.Metrics.ListenAddr != ":9102" {
		t.Fatalf("expected archive/metrics overrides, got %+v %+v", cfg.Archive, cfg.Metrics)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Service: ServiceConfig{BaseURL: "http://localhost:1780", PageSize: 15},
		HTTP:    HTTPConfig{TimeoutSeconds: 30},
		Retry:   RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Second},
		Poll:    PollConfig{MaxAttempts: 1},
		Query:   QueryConfig{Alphabet: "ab", Length: 2},
		Store:   StoreConfig{Driver: DriverSQLite, Path: "scrape.db"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing base url", func(c *Config) { c.Service.BaseURL = "" }, "service.base_url"},
		{"invalid page size", func(c *Config) { c.Service.PageSize = 0 }, "service.page_size"},
		{"negative restarts", func(c *Config) { c.Service.MaxRestarts = -1 }, "service.max_restarts"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"invalid retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"inverted retry delays", func(c *Config) { c.Retry.MaxDelay = 0 }, "retry.max_delay"},
		{"invalid poll attempts", func(c *Config) { c.Poll.MaxAttempts = 0 }, "poll.max_attempts"},
		{"empty alphabet", func(c *Config) { c.Query.Alphabet = "" }, "query.alphabet"},
		{"invalid key length", func(c *Config) { c.Query.Length = 0 }, "query.length"},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.dsn"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"negative key limit", func(c *Config) { c.Scrape.LimitKeys = -1 }, "scrape.limit_keys"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
