// Package config defines the top-level configuration for the trading
// core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADECORE_* environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Exchange ExchangeConfig `toml:"exchange"`
	Trading  TradingConfig  `toml:"trading"`
	Risk     RiskConfig     `toml:"risk"`
	Feed     FeedConfig     `toml:"feed"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Log      LogConfig      `toml:"log"`
	Mode     string         `toml:"mode"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ExchangeConfig holds exchange API endpoints and credentials. The API
// secret may come in plaintext or from an encrypted key file unlocked
// with key_password.
type ExchangeConfig struct {
	Name             string   `toml:"name"`
	RestHost         string   `toml:"rest_host"`
	WsHost           string   `toml:"ws_host"`
	APIKey           string   `toml:"api_key"`
	APISecret        string   `toml:"api_secret"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	RecvWindow       duration `toml:"recv_window"`
}

// TradingConfig holds the pairs this instance trades and the fee model
// applied to estimates.
type TradingConfig struct {
	Pairs          []string `toml:"pairs"`
	FeeBps         float64  `toml:"fee_bps"`
	MaxSlippageBps float64  `toml:"max_slippage_bps"`
}

// RiskConfig holds the guardrails enforced before any order leaves the
// process. A zero max_spread_percent disables the spread check.
type RiskConfig struct {
	MaxOpenPositions int     `toml:"max_open_positions"`
	MaxOrderNotional float64 `toml:"max_order_notional"`
	MaxDailyLoss     float64 `toml:"max_daily_loss"`
	MaxSpreadPercent float64 `toml:"max_spread_percent"`
}

// FeedConfig holds market-data ingestion parameters.
type FeedConfig struct {
	DepthLevels      int      `toml:"depth_levels"`
	SnapshotInterval duration `toml:"snapshot_interval"`
	StaleAfter       duration `toml:"stale_after"`
	Timeframes       []string `toml:"timeframes"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKeys            []string `toml:"api_keys"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogConfig holds log level and file rotation parameters. An empty
// file means stdout only.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "tradecore",
			User:          "tradecore",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradecore-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Exchange: ExchangeConfig{
			Name:       "sim",
			RestHost:   "https://api.exchange.local",
			WsHost:     "wss://stream.exchange.local",
			RecvWindow: duration{5 * time.Second},
		},
		Trading: TradingConfig{
			Pairs:          []string{"BTC/USDT", "ETH/USDT"},
			FeeBps:         10,
			MaxSlippageBps: 50,
		},
		Risk: RiskConfig{
			MaxOpenPositions: 10,
			MaxOrderNotional: 100_000,
			MaxDailyLoss:     5_000,
			MaxSpreadPercent: 1,
		},
		Feed: FeedConfig{
			DepthLevels:      20,
			SnapshotInterval: duration{time.Second},
			StaleAfter:       duration{10 * time.Second},
			Timeframes:       []string{"1m", "1h"},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"order.filled", "position.closed", "position.liquidated", "error"},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Mode: "full",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"ingest":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Log.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, ingest, archive, full)", c.Mode))
	}

	// Log
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("unknown log level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if c.Log.File != "" {
		if c.Log.MaxSizeMB < 1 {
			errs = append(errs, "log: max_size_mb must be >= 1 when a log file is set")
		}
		if c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
			errs = append(errs, "log: max_backups and max_age_days must not be negative")
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only required when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	// Trading modes need exchange credentials from somewhere.
	needsExchange := c.Mode == "ingest" || c.Mode == "full"
	if needsExchange {
		if c.Exchange.RestHost == "" {
			errs = append(errs, "exchange: rest_host must not be empty for mode "+c.Mode)
		}
		if c.Exchange.WsHost == "" {
			errs = append(errs, "exchange: ws_host must not be empty for mode "+c.Mode)
		}
		if c.Exchange.APISecret == "" && c.Exchange.EncryptedKeyPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Exchange.EncryptedKeyPath != "" && c.Exchange.KeyPassword == "" {
			errs = append(errs, "exchange: key_password is required when encrypted_key_path is set")
		}
	}

	// Trading
	if len(c.Trading.Pairs) == 0 {
		errs = append(errs, "trading: at least one pair is required")
	}
	for _, pair := range c.Trading.Pairs {
		if !strings.Contains(pair, "/") {
			errs = append(errs, fmt.Sprintf("trading: pair %q must be BASE/QUOTE", pair))
		}
	}
	if c.Trading.FeeBps < 0 {
		errs = append(errs, "trading: fee_bps must not be negative")
	}
	if c.Trading.MaxSlippageBps < 0 {
		errs = append(errs, "trading: max_slippage_bps must not be negative")
	}

	// Risk
	if c.Risk.MaxOpenPositions < 1 {
		errs = append(errs, "risk: max_open_positions must be >= 1")
	}
	if c.Risk.MaxOrderNotional <= 0 {
		errs = append(errs, "risk: max_order_notional must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be > 0")
	}
	if c.Risk.MaxSpreadPercent < 0 {
		errs = append(errs, "risk: max_spread_percent must not be negative")
	}

	// Feed
	if c.Feed.DepthLevels < 1 {
		errs = append(errs, "feed: depth_levels must be >= 1")
	}
	if c.Feed.SnapshotInterval.Duration <= 0 {
		errs = append(errs, "feed: snapshot_interval must be positive")
	}
	if c.Feed.StaleAfter.Duration <= 0 {
		errs = append(errs, "feed: stale_after must be positive")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMinute < 1 {
			errs = append(errs, "server: rate_limit_per_minute must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
