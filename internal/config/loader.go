package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads configuration in layers: built-in defaults, then an optional TOML
// file, then TRADECORE_* environment variables (a .env file is honored if
// present). The result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env file is fine; it is a convenience for local runs.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides mutates cfg with values from TRADECORE_* environment
// variables. Only variables that are set and non-empty take effect.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "TRADECORE_DB_DSN")
	setStr(&cfg.Database.Host, "TRADECORE_DB_HOST")
	setInt(&cfg.Database.Port, "TRADECORE_DB_PORT")
	setStr(&cfg.Database.Database, "TRADECORE_DB_NAME")
	setStr(&cfg.Database.User, "TRADECORE_DB_USER")
	setStr(&cfg.Database.Password, "TRADECORE_DB_PASSWORD")
	setStr(&cfg.Database.SSLMode, "TRADECORE_DB_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "TRADECORE_DB_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "TRADECORE_DB_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "TRADECORE_DB_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADECORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADECORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADECORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADECORE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "TRADECORE_REDIS_TLS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADECORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADECORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADECORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADECORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADECORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADECORE_S3_USE_SSL")

	// ── Exchange ──
	setStr(&cfg.Exchange.Name, "TRADECORE_EXCHANGE_NAME")
	setStr(&cfg.Exchange.RestHost, "TRADECORE_EXCHANGE_REST_HOST")
	setStr(&cfg.Exchange.WsHost, "TRADECORE_EXCHANGE_WS_HOST")
	setStr(&cfg.Exchange.APIKey, "TRADECORE_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "TRADECORE_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedKeyPath, "TRADECORE_EXCHANGE_KEY_PATH")
	setStr(&cfg.Exchange.KeyPassword, "TRADECORE_EXCHANGE_KEY_PASSWORD")
	setDuration(&cfg.Exchange.RecvWindow, "TRADECORE_EXCHANGE_RECV_WINDOW")

	// ── Trading ──
	setStringSlice(&cfg.Trading.Pairs, "TRADECORE_TRADING_PAIRS")
	setFloat64(&cfg.Trading.FeeBps, "TRADECORE_TRADING_FEE_BPS")
	setFloat64(&cfg.Trading.MaxSlippageBps, "TRADECORE_TRADING_MAX_SLIPPAGE_BPS")

	// ── Risk ──
	setInt(&cfg.Risk.MaxOpenPositions, "TRADECORE_RISK_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Risk.MaxOrderNotional, "TRADECORE_RISK_MAX_ORDER_NOTIONAL")
	setFloat64(&cfg.Risk.MaxDailyLoss, "TRADECORE_RISK_MAX_DAILY_LOSS")
	setFloat64(&cfg.Risk.MaxSpreadPercent, "TRADECORE_RISK_MAX_SPREAD_PERCENT")

	// ── Feed ──
	setInt(&cfg.Feed.DepthLevels, "TRADECORE_FEED_DEPTH_LEVELS")
	setDuration(&cfg.Feed.SnapshotInterval, "TRADECORE_FEED_SNAPSHOT_INTERVAL")
	setDuration(&cfg.Feed.StaleAfter, "TRADECORE_FEED_STALE_AFTER")
	setStringSlice(&cfg.Feed.Timeframes, "TRADECORE_FEED_TIMEFRAMES")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRADECORE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "TRADECORE_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "TRADECORE_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADECORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADECORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADECORE_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.APIKeys, "TRADECORE_SERVER_API_KEYS")
	setInt(&cfg.Server.RateLimitPerMinute, "TRADECORE_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADECORE_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADECORE_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADECORE_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADECORE_NOTIFY_EVENTS")

	// ── Log / Mode ──
	setStr(&cfg.Log.Level, "TRADECORE_LOG_LEVEL")
	setStr(&cfg.Log.File, "TRADECORE_LOG_FILE")
	setStr(&cfg.Mode, "TRADECORE_MODE")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
