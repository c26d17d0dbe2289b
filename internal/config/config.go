// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all scraper configuration knobs loaded via Viper. It is
// built once at startup and passed by value into each component.
type Config struct {
	Service ServiceConfig `mapstructure:"service"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Poll    PollConfig    `mapstructure:"poll"`
	Query   QueryConfig   `mapstructure:"query"`
	Store   StoreConfig   `mapstructure:"store"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServiceConfig describes the backing directory service and how to run it.
type ServiceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// Command starts the service; empty means the service is managed externally.
	Command           string        `mapstructure:"command"`
	Args              []string      `mapstructure:"args"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout"`
	MaxRestarts       int           `mapstructure:"max_restarts"`
	ReuseRunning      bool          `mapstructure:"reuse_running"`
	PageSize          int           `mapstructure:"page_size"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// HTTPConfig configures the HTTP client used against the service.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	Accept         string `mapstructure:"accept"`
}

// RetryConfig configures exponential backoff for transient transport failures.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Statuses     []int         `mapstructure:"statuses"`
}

// PollConfig configures polling while the service is still computing results.
type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// QueryConfig defines the key space.
type QueryConfig struct {
	Alphabet string `mapstructure:"alphabet"`
	Length   int    `mapstructure:"length"`
}

// StoreConfig selects and configures the relational store.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ScrapeConfig narrows a run for debugging.
type ScrapeConfig struct {
	OnlyKeys  []string `mapstructure:"only_keys"`
	LimitKeys int      `mapstructure:"limit_keys"`
}

// ArchiveConfig enables the raw page archive when Dir is set.
type ArchiveConfig struct {
	Dir string `mapstructure:"dir"`
}

// MetricsConfig enables the status server when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	// APIKey protects the /v1 status routes when set.
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.base_url", "http://localhost:1780")
	v.SetDefault("service.command", "wine")
	v.SetDefault("service.args", []string{
		"C:/Program Files (x86)/TVG/DasTelefonbuch Intranet/dastelefonbuch.exe",
		"-debug",
	})
	v.SetDefault("service.settle_delay", "2s")
	v.SetDefault("service.stop_timeout", "5s")
	v.SetDefault("service.max_restarts", 1)
	v.SetDefault("service.reuse_running", false)
	// the service only honors 15 regardless of what the preferences say
	v.SetDefault("service.page_size", 15)
	v.SetDefault("service.requests_per_second", 0)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36")
	v.SetDefault("http.accept",
		"text/xml_bytes,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	v.SetDefault("retry.max_attempts", 100)
	v.SetDefault("retry.initial_delay", "500ms")
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("retry.statuses", []int{500, 502, 503, 504})
	v.SetDefault("poll.interval", "100ms")
	v.SetDefault("poll.max_attempts", 1000)
	v.SetDefault("query.alphabet", "abcdefghijklmnopqrstuvwxyz0123456789äöüß")
	v.SetDefault("query.length", 2)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "telefonbuch-scrape.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "telefonbuch_scrape")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("scrape.only_keys", []string{})
	v.SetDefault("scrape.limit_keys", 0)
	v.SetDefault("archive.dir", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Service.BaseURL == "" {
		return fmt.Errorf("service.base_url is required")
	}
	if c.Service.PageSize <= 0 {
		return fmt.Errorf("service.page_size must be > 0")
	}
	if c.Service.MaxRestarts < 0 {
		return fmt.Errorf("service.max_restarts must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.initial_delay >= 0")
	}
	if c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("poll.max_attempts must be > 0")
	}
	if c.Query.Alphabet == "" {
		return fmt.Errorf("query.alphabet is required")
	}
	if c.Query.Length <= 0 {
		return fmt.Errorf("query.length must be > 0")
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Store.Driver)
	}
	if c.Scrape.LimitKeys < 0 {
		return fmt.Errorf("scrape.limit_keys must be >= 0")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// SupervisorEnabled reports whether the scraper owns the service process.
func (c Config) SupervisorEnabled() bool {
	return strings.TrimSpace(c.Service.Command) != ""
}
