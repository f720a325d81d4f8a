// Package config defines the configuration of the simulated ledger service
// and its validation rules.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SIMLEDGER_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger" yaml:"ledger"`
	Targets  TargetsConfig  `toml:"targets" yaml:"targets"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite" yaml:"sqlite"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	Cache    CacheConfig    `toml:"cache" yaml:"cache"`
	S3       S3Config       `toml:"s3" yaml:"s3"`
	Archive  ArchiveConfig  `toml:"archive" yaml:"archive"`
	Feed     FeedConfig     `toml:"feed" yaml:"feed"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
	Mode     string         `toml:"mode" yaml:"mode"`
	LogLevel string         `toml:"log_level" yaml:"log_level"`
}

// LedgerConfig holds the account, pool defaults and position limits.
type LedgerConfig struct {
	Account        string   `toml:"account" yaml:"account"`
	SpotBalance    float64  `toml:"spot_balance" yaml:"spot_balance"`
	FuturesBalance float64  `toml:"futures_balance" yaml:"futures_balance"`
	MaxPositions   int      `toml:"max_positions" yaml:"max_positions"`
	MaxLeverage    int      `toml:"max_leverage" yaml:"max_leverage"`
	MinMargin      float64  `toml:"min_margin" yaml:"min_margin"`
	LockTTL        Duration `toml:"lock_ttl" yaml:"lock_ttl"`
	SeedExample    bool     `toml:"seed_example" yaml:"seed_example"`
}

// TargetsConfig controls ladder correction notices.
type TargetsConfig struct {
	// NotifyThrottle is the minimum gap between two correction notices for
	// the same position.
	NotifyThrottle Duration `toml:"notify_throttle" yaml:"notify_throttle"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Backend string `toml:"backend" yaml:"backend"` // memory | sqlite | postgres
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// SQLiteConfig holds the local database file location.
type SQLiteConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr" yaml:"addr"`
	Password   string `toml:"password" yaml:"password"`
	DB         int    `toml:"db" yaml:"db"`
	PoolSize   int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled" yaml:"tls_enabled"`
	Namespace  string `toml:"namespace" yaml:"namespace"`
}

// CacheConfig selects the price cache, lock, limiter and bus backend.
type CacheConfig struct {
	Backend  string   `toml:"backend" yaml:"backend"` // memory | redis
	PriceTTL Duration `toml:"price_ttl" yaml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
}

// ArchiveConfig controls the history archive.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled" yaml:"enabled"`
	Prefix   string   `toml:"prefix" yaml:"prefix"`
	Interval Duration `toml:"interval" yaml:"interval"`
}

// FeedConfig controls the price poller.
type FeedConfig struct {
	URL      string   `toml:"url" yaml:"url"`
	Interval Duration `toml:"interval" yaml:"interval"`
	Timeout  Duration `toml:"timeout" yaml:"timeout"`
	Symbols  []string `toml:"symbols" yaml:"symbols"`
}

// Duration wraps time.Duration so TOML and YAML carry it as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port" yaml:"port"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	APIKey      string   `toml:"api_key" yaml:"api_key"`
	RateLimit   int      `toml:"rate_limit" yaml:"rate_limit"`
	RateWindow  Duration `toml:"rate_window" yaml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
	Timeout           Duration `toml:"timeout" yaml:"timeout"`
}

// Defaults returns a Config populated with sensible defaults for every field.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			Account:        "default",
			SpotBalance:    5000,
			FuturesBalance: 10000,
			MaxPositions:   20,
			MaxLeverage:    100,
			MinMargin:      5,
			LockTTL:        Duration{5 * time.Second},
			SeedExample:    true,
		},
		Targets: TargetsConfig{NotifyThrottle: Duration{3 * time.Second}},
		Storage: StorageConfig{Backend: "sqlite"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "simledger",
			User:          "simledger",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "data/simledger.db"},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			Namespace:  "simledger",
		},
		Cache: CacheConfig{Backend: "memory", PriceTTL: Duration{10 * time.Minute}},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Archive: ArchiveConfig{Prefix: "archive", Interval: Duration{24 * time.Hour}},
		Feed: FeedConfig{
			Interval: Duration{5 * time.Second},
			Timeout:  Duration{10 * time.Second},
		},
		Server: ServerConfig{
			Port:       8080,
			RateLimit:  120,
			RateWindow: Duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{
				"position_opened", "position_closed", "position_activated",
				"liquidation", "targets_corrected", "error",
			},
			Timeout: Duration{15 * time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var (
	validModes     = []string{"server", "feed", "full"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validStorage   = []string{"memory", "sqlite", "postgres"}
	validCache     = []string{"memory", "redis"}
)

// Validate checks Config for obviously invalid or missing values and returns a
// single error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validModes, c.Mode) {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: %s)", c.Mode, strings.Join(validModes, ", ")))
	}
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", ")))
	}

	if strings.TrimSpace(c.Ledger.Account) == "" {
		errs = append(errs, "ledger: account must not be empty")
	}
	if c.Ledger.SpotBalance < 0 || c.Ledger.FuturesBalance < 0 {
		errs = append(errs, "ledger: starting balances must not be negative")
	}
	if c.Ledger.MaxPositions < 1 {
		errs = append(errs, "ledger: max_positions must be >= 1")
	}
	if c.Ledger.MaxLeverage < 1 {
		errs = append(errs, "ledger: max_leverage must be >= 1")
	}
	if c.Ledger.MinMargin < 0 {
		errs = append(errs, "ledger: min_margin must not be negative")
	}
	if c.Ledger.LockTTL.Duration <= 0 {
		errs = append(errs, "ledger: lock_ttl must be positive")
	}

	switch {
	case !slices.Contains(validStorage, c.Storage.Backend):
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: %s)", c.Storage.Backend, strings.Join(validStorage, ", ")))
	case c.Storage.Backend == "sqlite" && strings.TrimSpace(c.SQLite.Path) == "":
		errs = append(errs, "sqlite: path must not be empty")
	case c.Storage.Backend == "postgres" && c.Postgres.DSN == "":
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Storage.Backend == "postgres" {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if !slices.Contains(validCache, c.Cache.Backend) {
		errs = append(errs, fmt.Sprintf("cache: unknown backend %q (valid: %s)", c.Cache.Backend, strings.Join(validCache, ", ")))
	}
	if c.Cache.Backend == "redis" {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	if c.Mode != "server" && c.Feed.URL != "" && c.Feed.Interval.Duration <= 0 {
		errs = append(errs, "feed: interval must be positive")
	}

	if c.Mode != "feed" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
