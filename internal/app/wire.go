package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/copybot/internal/blob/s3"
	"github.com/alanyoungcy/copybot/internal/cache/redis"
	"github.com/alanyoungcy/copybot/internal/config"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/events"
	"github.com/alanyoungcy/copybot/internal/notify"
	"github.com/alanyoungcy/copybot/internal/platform/monad"
	"github.com/alanyoungcy/copybot/internal/server/handler"
	"github.com/alanyoungcy/copybot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. Optional
// backends are nil when their section is disabled.
type Dependencies struct {
	Chain *monad.Client

	// Stores (postgres.enabled)
	AuditStore      domain.AuditStore
	CopyStore       domain.CopyStore
	OrderMapStore   domain.OrderMapStore
	DeadLetterStore domain.DeadLetterStore

	// Caches (redis.enabled)
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	SharedSeen  domain.SeenSet

	// Blob storage (archive.enabled)
	BlobWriter domain.BlobWriter

	Notifier *notify.Notifier
	Events   *events.Bus

	// Pingers feeds the health endpoint.
	Pingers map[string]handler.Pinger
}

// Wire connects every enabled backend and returns the dependencies together
// with a cleanup function that releases them in reverse order.
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

	deps := &Dependencies{
		Events:  events.NewBus(logger),
		Pingers: make(map[string]handler.Pinger),
	}

	// --- Chain ---
	chain, err := monad.Dial(ctx, monad.Config{
		RPCURL:    cfg.Chain.RPCURL,
		Timeout:   cfg.Chain.Timeout.Duration,
		MaxBlocks: uint64(cfg.Chain.MaxBlocks),
	}, logger)
	if err != nil {
		return fail("chain", err)
	}
	closers = append(closers, chain.Close)
	deps.Chain = chain

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pg.Pool()
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.CopyStore = postgres.NewCopyStore(pool)
		deps.OrderMapStore = postgres.NewOrderMapStore(pool)
		deps.DeadLetterStore = postgres.NewDeadLetterStore(pool)
		deps.Events.SetAuditStore(deps.AuditStore)
		deps.Pingers["postgres"] = pg
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.SharedSeen = redis.NewSeenSet(rc, "tx", cfg.Redis.SeenTTL.Duration)
		deps.Events.SetSignalBus(deps.SignalBus)
		deps.Pingers["redis"] = rc
	}

	// --- S3 ---
	if cfg.Archive.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
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
		deps.BlobWriter = s3blob.NewWriter(sc, cfg.S3.Prefix)
		deps.Pingers["s3"] = s3Pinger{sc}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)
	if deps.Notifier.Enabled() {
		deps.Events.SetNotifier(deps.Notifier)
	}

	return deps, cleanup, nil
}

// s3Pinger adapts the bucket health check to handler.Pinger.
type s3Pinger struct{ c *s3blob.Client }

func (p s3Pinger) Ping(ctx context.Context) error { return p.c.Health(ctx) }
