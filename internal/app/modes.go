package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/copybot/internal/blob/s3"
	"github.com/alanyoungcy/copybot/internal/crypto"
	"github.com/alanyoungcy/copybot/internal/decoder"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/events"
	"github.com/alanyoungcy/copybot/internal/executor"
	"github.com/alanyoungcy/copybot/internal/monitor"
	"github.com/alanyoungcy/copybot/internal/pipeline"
	"github.com/alanyoungcy/copybot/internal/platform/kuru"
	"github.com/alanyoungcy/copybot/internal/risk"
	"github.com/alanyoungcy/copybot/internal/server"
	"github.com/alanyoungcy/copybot/internal/server/handler"
	"github.com/alanyoungcy/copybot/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// CopyMode mirrors source wallet activity onto the exchange.
func (a *App) CopyMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting copy mode",
		slog.Bool("dry_run", a.cfg.Copy.DryRun),
		slog.Int("source_wallets", len(a.cfg.Chain.SourceWallets)),
	)

	copier, exchangeAddr, err := a.buildCopier(deps)
	if err != nil {
		return err
	}

	mon := a.newMonitor(deps)
	proc := pipeline.NewTransactionProcessor(deps.Chain, a.newDecoder(), copier, a.cfg.Chain.Contract, a.logger)
	orch := pipeline.NewOrchestrator(mon, proc, copier, copier, pipeline.Intervals{
		Poll:    a.cfg.Chain.PollInterval.Duration,
		Retry:   a.cfg.Retry.Interval.Duration,
		Cleanup: a.cfg.Tracker.CleanupInterval.Duration,
		Stats:   a.cfg.Copy.StatsInterval.Duration,
		Archive: a.cfg.Archive.Interval.Duration,
	}, a.logger)
	orch.AddCleaner(copier.Tracker())
	orch.AddCleaner(mon)

	if a.cfg.Exchange.WSURL != "" {
		orch.SetFillFeed(kuru.NewWSClient(a.cfg.Exchange.WSURL, exchangeAddr, a.cfg.Exchange.Markets, copier, a.logger))
	}
	if deps.BlobWriter != nil {
		orch.SetArchiver(s3blob.NewDeadLetterArchiver(deps.BlobWriter, copier.Retries(), deps.AuditStore, a.logger))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, mon, server.Handlers{
			Status:      handler.NewStatusHandler(a.cfg.Mode, a.cfg.Copy.DryRun, a.startedAt, mon, copier),
			Orders:      handler.NewOrderHandler(copier.Tracker(), deps.CopyStore, a.logger),
			DeadLetters: handler.NewDeadLetterHandler(copier.Retries(), deps.DeadLetterStore, a.logger),
			Stats:       handler.NewStatsHandler(copier, a.logger),
		})
	}

	return g.Wait()
}

// MonitorMode follows the source wallets and reports what they do without
// placing orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Int("source_wallets", len(a.cfg.Chain.SourceWallets)),
	)

	mon := a.newMonitor(deps)
	watcher := newWatchHandler(deps.Events, a.logger)
	proc := pipeline.NewTransactionProcessor(deps.Chain, a.newDecoder(), watcher, a.cfg.Chain.Contract, a.logger)
	orch := pipeline.NewOrchestrator(mon, proc, nil, nil, pipeline.Intervals{
		Poll:    a.cfg.Chain.PollInterval.Duration,
		Cleanup: a.cfg.Tracker.CleanupInterval.Duration,
	}, a.logger)
	orch.AddCleaner(mon)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, mon, server.Handlers{
			Status: handler.NewStatusHandler(a.cfg.Mode, false, a.startedAt, mon, nil),
		})
	}

	return g.Wait()
}

// buildCopier assembles the exchange client, risk rules and copier. It
// returns the address whose fills the websocket feed should follow.
func (a *App) buildCopier(deps *Dependencies) (*executor.Copier, string, error) {
	key, err := crypto.KeySource{
		RawKey:   a.cfg.Wallet.PrivateKey,
		KeyFile:  a.cfg.Wallet.EncryptedKeyPath,
		Password: a.cfg.Wallet.KeyPassword,
	}.Load()
	if err != nil {
		return nil, "", fmt.Errorf("app: load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return nil, "", fmt.Errorf("app: signer: %w", err)
	}

	address := strings.ToLower(signer.Address().Hex())
	if a.cfg.Wallet.Address != "" && !strings.EqualFold(a.cfg.Wallet.Address, address) {
		a.logger.Warn("configured wallet address does not match the key, using the key's address",
			slog.String("configured", a.cfg.Wallet.Address),
			slog.String("derived", address),
		)
	}

	exchange := kuru.NewClient(kuru.Config{
		BaseURL:     a.cfg.Exchange.APIURL,
		Timeout:     a.cfg.Exchange.Timeout.Duration,
		Address:     address,
		MarginToken: a.cfg.Exchange.MarginToken,
		RateLimit:   a.cfg.Exchange.RateLimit,
		RateWindow:  a.cfg.Exchange.RateWindow.Duration,
	}, signer, a.logger)
	if deps.RateLimiter != nil {
		exchange.SetRateLimiter(deps.RateLimiter)
	}

	var placer executor.OrderPlacer = exchange
	if a.cfg.Copy.DryRun {
		placer = executor.NewDryRunPlacer(a.logger)
	}

	cp := a.cfg.Copy
	calc, err := risk.NewCalculator(risk.CalculatorConfig{
		CopyRatio:         cp.CopyRatio.Decimal,
		MaxPositionSize:   cp.MaxPositionSize.Null(),
		MinOrderSize:      cp.MinOrderSize.Null(),
		TickSize:          cp.TickSize.Null(),
		MarginRequirement: cp.MarginRequirement.Null(),
		RespectBalance:    cp.RespectBalance,
		EnforceMinimum:    cp.EnforceMinimum,
	})
	if err != nil {
		return nil, "", fmt.Errorf("app: position sizing: %w", err)
	}
	validator := risk.NewValidator(risk.ValidatorConfig{
		MinBalance:       cp.MinBalance.Null(),
		MinOrderSize:     cp.MinOrderSize.Null(),
		MaxPositionSize:  cp.MaxPositionSize.Null(),
		MaxTotalExposure: cp.MaxTotalExposure.Null(),
		MarketWhitelist:  cp.MarketWhitelist,
		MarketBlacklist:  cp.MarketBlacklist,
	})

	rc := a.cfg.Retry
	retries := executor.NewRetryQueue(executor.RetryConfig{
		MaxRetries:       rc.MaxRetries,
		BaseDelay:        rc.BaseDelay.Duration,
		Multiplier:       rc.Multiplier,
		CircuitThreshold: rc.CircuitThreshold,
		CircuitWindow:    rc.CircuitWindow.Duration,
		CircuitCooldown:  rc.CircuitCooldown.Duration,
	}, a.logger)
	tracker := executor.NewOrderTracker(a.cfg.Tracker.OrderTTL.Duration, a.logger)

	copier := executor.NewCopier(executor.CopierConfig{
		OrderType:     domain.OrderType(strings.ToLower(cp.OrderType)),
		CallTimeout:   cp.CallTimeout.Duration,
		SourceWallets: a.cfg.Chain.SourceWallets,
		DryRun:        cp.DryRun,
	}, exchange, placer, calc, validator, tracker, retries, a.logger)
	if deps.Events != nil {
		copier.SetEmitter(deps.Events)
	}
	if deps.CopyStore != nil {
		copier.SetCopyStore(deps.CopyStore)
	}
	if deps.OrderMapStore != nil {
		copier.SetOrderMapStore(deps.OrderMapStore)
	}
	if deps.DeadLetterStore != nil {
		copier.SetDeadLetterStore(deps.DeadLetterStore)
	}
	return copier, address, nil
}

func (a *App) newMonitor(deps *Dependencies) *monitor.WalletMonitor {
	local := monitor.NewMemorySeenSet(a.cfg.Redis.SeenTTL.Duration)
	var seen domain.SeenSet = local
	if deps.SharedSeen != nil {
		seen = monitor.NewTieredSeenSet(local, deps.SharedSeen, a.logger)
	}
	return monitor.New(monitor.Config{
		Wallets:   a.cfg.Chain.SourceWallets,
		Contract:  a.cfg.Chain.Contract,
		FromBlock: uint64(a.cfg.Chain.FromBlock),
	}, deps.Chain, seen, a.logger)
}

func (a *App) newDecoder() *decoder.Decoder {
	return decoder.New(decoder.Config{
		PriceDecimals: int32(a.cfg.Chain.PriceDecimals),
		SizeDecimals:  int32(a.cfg.Chain.SizeDecimals),
		DefaultMarket: a.cfg.Chain.DefaultMarket,
	}, a.logger)
}

// startHTTPServer serves the status API and, with Redis, the event websocket.
// The server stops when ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, mon *monitor.WalletMonitor, handlers server.Handlers) {
	handlers.Health = handler.NewHealthHandler(deps.Pingers, a.logger)
	eventHandler := handler.NewEventHandler(deps.Events, deps.AuditStore, a.logger)
	if deps.SignalBus != nil {
		eventHandler.SetStream(deps.SignalBus, events.Stream)
	}
	handlers.Events = eventHandler
	if handlers.Status == nil {
		handlers.Status = handler.NewStatusHandler(a.cfg.Mode, a.cfg.Copy.DryRun, a.startedAt, mon, nil)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, ws.Config{
			Mode:      a.cfg.Mode,
			DryRun:    a.cfg.Copy.DryRun,
			StartedAt: a.startedAt,
			Channel:   events.Channel,
		}, a.logger)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
				// The API stays up without live events.
				a.logger.ErrorContext(ctx, "event relay stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// watchHandler reports source wallet activity in monitor mode.
type watchHandler struct {
	events events.Emitter
	logger *slog.Logger
}

var _ pipeline.EventHandler = (*watchHandler)(nil)

func newWatchHandler(emitter events.Emitter, logger *slog.Logger) *watchHandler {
	return &watchHandler{events: emitter, logger: logger.With(slog.String("component", "watcher"))}
}

func (w *watchHandler) OnTrade(ctx context.Context, t domain.Trade) {
	w.logger.InfoContext(ctx, "source trade",
		slog.String("trader", t.TraderAddress),
		slog.String("market", t.Market),
		slog.String("side", string(t.Side)),
		slog.String("price", t.Price.String()),
		slog.String("size", t.Size.String()),
		slog.String("tx_hash", t.TxHash),
	)
	w.events.Emit(ctx, domain.LifecycleEvent{Type: domain.EventTradeDetected, Trade: &t})
}

func (w *watchHandler) OnOrderCreated(ctx context.Context, o domain.OrderCreated) {
	w.logger.InfoContext(ctx, "source order created",
		slog.String("order_id", o.OrderID),
		slog.String("trader", o.Trader),
		slog.String("market", o.Market),
		slog.String("side", string(o.Side)),
		slog.String("price", o.Price.String()),
		slog.String("size", o.Size.String()),
	)
}

func (w *watchHandler) OnOrdersCanceled(ctx context.Context, c domain.OrdersCanceled) {
	w.logger.InfoContext(ctx, "source orders canceled",
		slog.String("trader", c.Trader),
		slog.String("market", c.Market),
		slog.Int("count", len(c.OrderIDs)),
	)
}

// errUnsupportedMode is returned by Run for modes it does not know.
var errUnsupportedMode = errors.New("app: unsupported mode")
