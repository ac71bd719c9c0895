package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	s3blob "github.com/oddslane/hedgebot/internal/blob/s3"
	"github.com/oddslane/hedgebot/internal/cache/redis"
	"github.com/oddslane/hedgebot/internal/config"
	"github.com/oddslane/hedgebot/internal/crypto"
	"github.com/oddslane/hedgebot/internal/domain"
	"github.com/oddslane/hedgebot/internal/guard"
	"github.com/oddslane/hedgebot/internal/notify"
	"github.com/oddslane/hedgebot/internal/store/postgres"
	"github.com/oddslane/hedgebot/internal/venue/kalshi"
	"github.com/oddslane/hedgebot/internal/venue/polymarket"
)

// Dependencies bundles everything the operating modes need. It is built by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Postgres *postgres.Client
	Pairs    domain.PairStore
	Trades   domain.TradeStore
	Audit    domain.AuditStore

	Redis     *redis.Client
	Snapshots domain.SnapshotCache
	Limiter   domain.RateLimiter
	Locks     domain.LockManager
	Bus       domain.EventBus

	// Venues holds the guarded adapters keyed by venue name; Guards holds
	// the protections themselves for status reporting.
	Venues map[domain.VenueName]domain.VenueAdapter
	Guards map[string]*guard.Guard

	// Blob storage, nil unless archiving is enabled.
	S3         *s3blob.Client
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifier is nil when no sender is configured.
	Notifier *notify.Notifier
}

// Wire constructs the concrete dependency implementations from config and
// returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pg.Close)

	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pg.Pool()
	deps.Postgres = pg
	deps.Pairs = postgres.NewPairStore(pool)
	deps.Trades = postgres.NewTradeStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis ---
	rd, err := redis.New(ctx, redis.ClientConfig{
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
	closers = append(closers, func() { _ = rd.Close() })

	deps.Redis = rd
	deps.Snapshots = redis.NewSnapshotCache(rd, cfg.Matcher.SnapshotTTL.Duration)
	deps.Limiter = redis.NewRateLimiter(rd)
	deps.Locks = redis.NewLockManager(rd)
	deps.Bus = redis.NewEventBus(rd)

	// --- Venue adapters behind guards ---
	venues, guards, err := wireVenues(ctx, cfg, deps.Limiter, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Venues = venues
	deps.Guards = guards

	// --- S3 cold storage ---
	if cfg.Archive.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
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
		closers = append(closers, func() { _ = s3c.Close() })

		deps.S3 = s3c
		deps.BlobWriter = s3blob.NewWriter(s3c)
		deps.BlobReader = s3blob.NewReader(s3c)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Trades, deps.Pairs, deps.Audit, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(deps.Bus, senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}

// wireVenues builds one authenticated client per venue and wraps each in
// its guard. The wallet key is required (config validation enforces it);
// the Kalshi RSA key only degrades order placement, since market reads are
// public on both venues and matching and settlement still work without it.
func wireVenues(ctx context.Context, cfg *config.Config, limiter domain.RateLimiter, logger *slog.Logger) (map[domain.VenueName]domain.VenueAdapter, map[string]*guard.Guard, error) {
	guardCfg := guard.Config{
		RateLimit:   cfg.Guard.RateLimit,
		RateWindow:  cfg.Guard.RateWindow.Duration,
		Threshold:   cfg.Guard.BreakerThreshold,
		Cooldown:    cfg.Guard.BreakerCooldown.Duration,
		HalfOpenMax: cfg.Guard.BreakerHalfOpenMax,
	}

	// Polymarket signs orders with an Ethereum key.
	privateKey, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(privateKey, cfg.Polymarket.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: polymarket signer: %w", err)
	}
	poly := polymarket.New(cfg.Polymarket, signer, cfg.Wallet.FunderAddress)
	if err := poly.DeriveAPIKey(ctx); err != nil {
		logger.WarnContext(ctx, "polymarket api key derivation failed, order placement will fail until it succeeds",
			slog.String("error", err.Error()),
		)
	}

	// Kalshi signs requests with an RSA key loaded from disk.
	kal := kalshi.New(cfg.Kalshi)
	if cfg.Kalshi.RsaPrivateKeyPath != "" {
		pemBytes, err := os.ReadFile(cfg.Kalshi.RsaPrivateKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: read kalshi rsa key %s: %w", cfg.Kalshi.RsaPrivateKeyPath, err)
		}
		if err := kal.SetRSAPrivateKey(pemBytes); err != nil {
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
	} else {
		logger.Warn("kalshi rsa key not configured, order placement will fail")
	}

	polyGuard := guard.New(domain.VenuePolymarket, limiter, guardCfg, logger)
	kalGuard := guard.New(domain.VenueKalshi, limiter, guardCfg, logger)

	venues := map[domain.VenueName]domain.VenueAdapter{
		domain.VenuePolymarket: guard.WrapVenue(poly, polyGuard),
		domain.VenueKalshi:     guard.WrapVenue(kal, kalGuard),
	}
	guards := map[string]*guard.Guard{
		string(domain.VenuePolymarket): polyGuard,
		string(domain.VenueKalshi):     kalGuard,
	}
	return venues, guards, nil
}
