package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	s3blob "github.com/alanyoungcy/simledger/internal/blob/s3"
	cachemem "github.com/alanyoungcy/simledger/internal/cache/memory"
	"github.com/alanyoungcy/simledger/internal/cache/redis"
	"github.com/alanyoungcy/simledger/internal/config"
	"github.com/alanyoungcy/simledger/internal/domain"
	"github.com/alanyoungcy/simledger/internal/ledger"
	"github.com/alanyoungcy/simledger/internal/metrics"
	"github.com/alanyoungcy/simledger/internal/notify"
	"github.com/alanyoungcy/simledger/internal/server/handler"
	"github.com/alanyoungcy/simledger/internal/service"
	storemem "github.com/alanyoungcy/simledger/internal/store/memory"
	"github.com/alanyoungcy/simledger/internal/store/postgres"
	"github.com/alanyoungcy/simledger/internal/store/sqlite"
)

// Dependencies bundles the backends and services every mode and CLI command
// runs against. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Stores domain.Stores

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage, nil unless archive.enabled
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.HistoryArchiver

	Ledger   *ledger.Ledger
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	Positions *service.PositionService
	Portfolio *service.PortfolioService
	Prices    *service.PriceService

	// Checks feed GET /api/health, one per external backend.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}
	account := cfg.Ledger.Account

	// --- Stores ---
	switch cfg.Storage.Backend {
	case "memory":
		deps.Stores = storemem.New()
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fail("sqlite dir", err)
			}
		}
		db, err := sqlite.Open(cfg.SQLite.Path, account, logger)
		if err != nil {
			return fail("sqlite", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Stores = db.Stores()
		deps.Checks["sqlite"] = db.Ping
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		}, logger)
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Stores = pgClient.Stores(account)
		deps.Checks["postgres"] = pgClient.Ping
	default:
		return fail("storage", fmt.Errorf("unknown backend %q", cfg.Storage.Backend))
	}

	// --- Caches, locks, limiter and bus ---
	ttl := cfg.Cache.PriceTTL.Duration
	waitEvery := cfg.Feed.Interval.Duration
	switch cfg.Cache.Backend {
	case "memory":
		deps.PriceCache = cachemem.NewPriceCache()
		deps.RateLimiter = cachemem.NewRateLimiter(waitEvery)
		deps.LockManager = cachemem.NewLockManager()
		deps.SignalBus = cachemem.NewSignalBus()
	case "redis":
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, ttl)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, waitEvery)
		deps.LockManager = redis.NewLockManager(redisClient, logger)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	default:
		return fail("cache", fmt.Errorf("unknown backend %q", cfg.Cache.Backend))
	}

	// --- S3 history archive ---
	if cfg.Archive.Enabled {
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
			return fail("s3", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.BlobReader,
			deps.Stores.History,
			deps.Stores.Audit,
			cfg.Archive.Prefix,
			account,
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	senders := []notify.Sender{notify.NewBusSender(deps.SignalBus)}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger,
		notify.WithLimiter(deps.RateLimiter, cfg.Targets.NotifyThrottle.Duration),
		notify.WithTimeout(cfg.Notify.Timeout.Duration),
	)
	closers = append(closers, deps.Notifier.Wait)

	// --- Ledger and services ---
	deps.Metrics = metrics.New()
	deps.Ledger = ledger.New(deps.Stores.Balances, ledger.Defaults{
		Spot:    cfg.Ledger.SpotBalance,
		Futures: cfg.Ledger.FuturesBalance,
	}, logger)

	deps.Positions = service.NewPositionService(service.PositionConfig{
		Account:      account,
		MaxPositions: cfg.Ledger.MaxPositions,
		MaxLeverage:  cfg.Ledger.MaxLeverage,
		MinMargin:    cfg.Ledger.MinMargin,
		LockTTL:      cfg.Ledger.LockTTL.Duration,
	}, service.PositionDeps{
		Stores:   deps.Stores,
		Ledger:   deps.Ledger,
		Prices:   deps.PriceCache,
		Bus:      deps.SignalBus,
		Locks:    deps.LockManager,
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
		Logger:   logger,
	})
	deps.Portfolio = service.NewPortfolioService(deps.Stores, deps.Ledger, deps.Archiver, logger)
	deps.Prices = service.NewPriceService(deps.PriceCache, deps.SignalBus, deps.Positions, deps.Metrics, logger)

	if cfg.Ledger.SeedExample {
		if err := deps.Positions.SeedExample(ctx); err != nil {
			return fail("seed example", err)
		}
	}

	return deps, cleanup, nil
}
