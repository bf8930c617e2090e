package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/quantari/tradecore/internal/blob/s3"
	"github.com/quantari/tradecore/internal/cache/redis"
	"github.com/quantari/tradecore/internal/config"
	"github.com/quantari/tradecore/internal/crypto"
	"github.com/quantari/tradecore/internal/domain"
	"github.com/quantari/tradecore/internal/exchange"
	"github.com/quantari/tradecore/internal/notify"
	"github.com/quantari/tradecore/internal/store/postgres"
)

// exchangeRestLimit caps signed REST calls to the exchange per minute. The
// bucket is shared across all callers of the client through the distributed
// rate limiter.
const exchangeRestLimit = 600

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	OrderStore    domain.OrderStore
	PositionStore domain.PositionStore
	BalanceStore  domain.BalanceStore
	AuditStore    domain.AuditStore

	// Caches and coordination
	PriceCache  domain.PriceCache
	BookCache   domain.BookCache
	CandleCache domain.CandleCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Exchange REST client; nil when no credentials are configured, in
	// which case order submission runs in local-only mode.
	Exchange *exchange.Client

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require a database connection.
// Ingest only streams market data into Redis.
func needsPostgres(mode string) bool {
	switch mode {
	case "serve", "archive", "full":
		return true
	default:
		return false
	}
}

// needsArchiveWrite reports whether the mode uploads archives.
func needsArchiveWrite(cfg *config.Config) bool {
	switch cfg.Mode {
	case "archive":
		return true
	case "full":
		return cfg.Archive.Enabled
	default:
		return false
	}
}

// needsArchiveRead reports whether the mode serves archived records over
// the HTTP API. Any server mode with archival configured gets the read
// side, so a serve-only replica can point at the bucket a full deployment
// writes.
func needsArchiveRead(cfg *config.Config) bool {
	switch cfg.Mode {
	case "serve", "full":
		return cfg.Archive.Enabled
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.BalanceStore = postgres.NewBalanceStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis (every mode: caches, bus, locks, rate limiting) ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.BookCache = redis.NewBookCache(redisClient)
	deps.CandleCache = redis.NewCandleCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that read or write archives) ---
	if needsArchiveRead(cfg) || needsArchiveWrite(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		if needsArchiveRead(cfg) {
			deps.BlobReader = s3blob.NewReader(s3Client)
		}
		if needsArchiveWrite(cfg) {
			deps.BlobWriter = s3blob.NewWriter(s3Client)
			if deps.OrderStore != nil && deps.PositionStore != nil && deps.AuditStore != nil {
				deps.Archiver = s3blob.NewArchiver(
					deps.BlobWriter,
					deps.OrderStore,
					deps.PositionStore,
					deps.AuditStore,
				)
			}
		}
	}

	// --- Exchange REST client ---
	client, err := buildExchangeClient(cfg, deps.RateLimiter)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: exchange: %w", err)
	}
	deps.Exchange = client

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildExchangeClient resolves API credentials and constructs the signed
// REST client. A configuration without credentials yields a nil client:
// order submission then stays local, which is the paper-trading setup.
func buildExchangeClient(cfg *config.Config, limiter domain.RateLimiter) (*exchange.Client, error) {
	if cfg.Exchange.RestHost == "" {
		return nil, nil
	}
	if cfg.Exchange.APISecret == "" && cfg.Exchange.EncryptedKeyPath == "" {
		return nil, nil
	}

	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     cfg.Exchange.APISecret,
		EncryptedPath: cfg.Exchange.EncryptedKeyPath,
		Password:      cfg.Exchange.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load api secret: %w", err)
	}

	signer := &crypto.RequestSigner{
		Key:    cfg.Exchange.APIKey,
		Secret: secret,
	}
	client := exchange.NewClient(cfg.Exchange.RestHost, signer)
	client.SetRecvWindow(cfg.Exchange.RecvWindow.Duration)
	if limiter != nil {
		client.SetRateLimiter(limiter, exchangeRestLimit, time.Minute)
	}
	return client, nil
}
