package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/mintmarket/internal/blob/s3"
	"github.com/alanyoungcy/mintmarket/internal/cache/redis"
	"github.com/alanyoungcy/mintmarket/internal/config"
	"github.com/alanyoungcy/mintmarket/internal/domain"
	"github.com/alanyoungcy/mintmarket/internal/market"
	"github.com/alanyoungcy/mintmarket/internal/notify"
	"github.com/alanyoungcy/mintmarket/internal/registry"
	"github.com/alanyoungcy/mintmarket/internal/store/postgres"
	"github.com/alanyoungcy/mintmarket/internal/token"
)

// Dependencies bundles everything the application modes need: the ledger core
// (engine, registry, payment ledgers) plus the optional infrastructure behind
// it. Optional fields are nil when their backend is disabled in the config.
type Dependencies struct {
	// Ledger core
	Engine   *market.Engine
	Registry *registry.Registry
	Token    *token.Token
	Native   *token.NativeLedger

	// Stores (Postgres, optional). Concrete types so the archival loop can
	// reach DeleteBefore after a verified upload.
	TradeStore *postgres.TradeStore
	EventStore *postgres.EventStore

	// Redis (optional)
	Bus         domain.EventBus
	RateLimiter domain.RateLimiter

	// Blob storage (S3, optional)
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (trade + event history) ---
	if cfg.Postgres.Enabled {
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
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.EventStore = postgres.NewEventStore(pool)
	}

	// --- Redis (event bus + rate limiter) ---
	if cfg.Redis.Enabled {
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

		deps.Bus = redis.NewEventBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- S3 blob storage (history archival) ---
	if cfg.S3.Enabled {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		if deps.TradeStore != nil && deps.EventStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.TradeStore, deps.EventStore)
		}
	}

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

	// --- Event sink fan-out ---
	sinks := []domain.EventSink{logSink(logger)}
	if deps.EventStore != nil {
		sinks = append(sinks, storeSink(deps.EventStore))
	}
	if deps.Bus != nil {
		sinks = append(sinks, busSink(deps.Bus))
	}
	sinks = append(sinks, notify.NewEventSink(deps.Notifier))
	sink := newFanOutSink(sinks...)

	// --- Ledger core ---
	deps.Native = token.NewNativeLedger()
	deps.Token = token.New(cfg.Token.Name, cfg.Token.Symbol, cfg.Token.Decimals, cfg.OwnerAddress())
	deps.Registry = registry.New(registry.Config{
		Name:             cfg.Registry.Name,
		Symbol:           cfg.Registry.Symbol,
		Address:          cfg.RegistryAddress(),
		Market:           cfg.MarketAddress(),
		ChainID:          cfg.Registry.ChainID,
		SigningDomain:    cfg.Registry.SigningDomain,
		SignatureVersion: cfg.Registry.SignatureVersion,
	}, sink, logger)

	var recorder market.TradeRecorder
	if deps.TradeStore != nil {
		recorder = &tradeRecorder{store: deps.TradeStore}
	}
	deps.Engine = market.New(market.Config{
		Owner:   cfg.OwnerAddress(),
		Address: cfg.MarketAddress(),
		FeeBps:  cfg.Market.FeeBps,
		Grace:   cfg.Market.ExpiryGrace.Duration,
	}, deps.Native, sink, recorder, logger)
	deps.Engine.RegisterCollection(deps.Registry)
	deps.Engine.RegisterToken(cfg.TokenAddress(), deps.Token)

	return deps, cleanup, nil
}
