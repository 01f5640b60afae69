package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/executor"
)

// Monitor yields new source transactions. monitor.WalletMonitor implements it.
type Monitor interface {
	Poll(ctx context.Context) ([]domain.Transaction, error)
	Start()
	Stop()
}

// RetryProcessor re-attempts due retry items.
type RetryProcessor interface {
	ProcessRetryQueue(ctx context.Context) int
}

// Cleaner sweeps expired in-memory state and reports how much it removed.
type Cleaner interface {
	Cleanup() int
}

// StatsSource reports copier counters.
type StatsSource interface {
	Stats() executor.Stats
}

// FillFeed delivers exchange fills until ctx is done.
type FillFeed interface {
	Run(ctx context.Context) error
}

// Archiver ships dead letters to cold storage.
type Archiver interface {
	Archive(ctx context.Context) (int, error)
}

// Intervals configures how often each loop runs. A zero interval disables
// the loop, except Poll which falls back to DefaultPollInterval.
type Intervals struct {
	Poll    time.Duration
	Retry   time.Duration
	Cleanup time.Duration
	Stats   time.Duration
	Archive time.Duration
}

// DefaultPollInterval is the chain poll period when none is configured.
const DefaultPollInterval = 5 * time.Second

// Orchestrator runs the copy pipeline loops.
type Orchestrator struct {
	monitor   Monitor
	processor *TransactionProcessor
	retries   RetryProcessor
	stats     StatsSource
	cleaners  []Cleaner
	feed      FillFeed
	archiver  Archiver
	intervals Intervals
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. retries and stats may be nil, as in
// monitor mode where nothing is copied.
func NewOrchestrator(
	monitor Monitor,
	processor *TransactionProcessor,
	retries RetryProcessor,
	stats StatsSource,
	intervals Intervals,
	logger *slog.Logger,
) *Orchestrator {
	if intervals.Poll <= 0 {
		intervals.Poll = DefaultPollInterval
	}
	return &Orchestrator{
		monitor:   monitor,
		processor: processor,
		retries:   retries,
		stats:     stats,
		intervals: intervals,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// AddCleaner registers state swept on the cleanup interval.
func (o *Orchestrator) AddCleaner(c Cleaner) { o.cleaners = append(o.cleaners, c) }

// SetFillFeed runs feed alongside the poll loop.
func (o *Orchestrator) SetFillFeed(feed FillFeed) { o.feed = feed }

// SetArchiver enables the dead-letter archive loop.
func (o *Orchestrator) SetArchiver(a Archiver) { o.archiver = a }

// Run starts every configured loop and blocks until ctx is cancelled or a
// loop fails. Cancellation is a clean stop and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline starting",
		slog.Duration("poll_interval", o.intervals.Poll),
		slog.Bool("fill_feed", o.feed != nil),
		slog.Bool("archive", o.archiver != nil && o.intervals.Archive > 0),
	)

	o.monitor.Start()
	defer o.monitor.Stop()

	g, ctx := errgroup.WithContext(ctx)

	o.loop(ctx, g, "poll", o.intervals.Poll, o.pollOnce)

	if o.retries != nil {
		o.loop(ctx, g, "retry", o.intervals.Retry, func(ctx context.Context) {
			if n := o.retries.ProcessRetryQueue(ctx); n > 0 {
				o.logger.InfoContext(ctx, "retried orders", slog.Int("succeeded", n))
			}
		})
	}

	if len(o.cleaners) > 0 {
		o.loop(ctx, g, "cleanup", o.intervals.Cleanup, o.cleanupOnce)
	}

	if o.stats != nil {
		o.loop(ctx, g, "stats", o.intervals.Stats, o.logStats)
	}

	if o.archiver != nil {
		o.loop(ctx, g, "archive", o.intervals.Archive, func(ctx context.Context) {
			n, err := o.archiver.Archive(ctx)
			if err != nil {
				o.logger.ErrorContext(ctx, "dead-letter archive failed", slog.String("error", err.Error()))
				return
			}
			if n > 0 {
				o.logger.InfoContext(ctx, "archived dead letters", slog.Int("count", n))
			}
		})
	}

	if o.feed != nil {
		g.Go(func() error {
			err := o.feed.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return fmt.Errorf("fill feed: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped")
	return nil
}

// loop runs fn once and then on every tick. Loops with a non-positive
// interval are not started.
func (o *Orchestrator) loop(ctx context.Context, g *errgroup.Group, name string, every time.Duration, fn func(context.Context)) {
	if every <= 0 {
		o.logger.Debug("loop disabled", slog.String("loop", name))
		return
	}
	g.Go(func() error {
		fn(ctx)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				fn(ctx)
			}
		}
	})
}

// PollOnce runs one monitor poll and processes what it returned.
func (o *Orchestrator) PollOnce(ctx context.Context) ProcessResult {
	txs, err := o.monitor.Poll(ctx)
	if err != nil && ctx.Err() == nil {
		o.logger.ErrorContext(ctx, "monitor poll failed", slog.String("error", err.Error()))
	}
	// Poll may return a partial batch together with an error.
	if len(txs) == 0 {
		return ProcessResult{}
	}
	res := o.processor.Process(ctx, txs)
	o.logger.DebugContext(ctx, "processed transactions",
		slog.Int("transactions", res.Transactions),
		slog.Int("logs", res.Logs),
		slog.Int("events", res.Events),
		slog.Int("failed", res.Failed),
	)
	return res
}

func (o *Orchestrator) pollOnce(ctx context.Context) { o.PollOnce(ctx) }

func (o *Orchestrator) cleanupOnce(ctx context.Context) {
	removed := 0
	for _, c := range o.cleaners {
		removed += c.Cleanup()
	}
	if removed > 0 {
		o.logger.DebugContext(ctx, "swept expired entries", slog.Int("removed", removed))
	}
}

func (o *Orchestrator) logStats(ctx context.Context) {
	s := o.stats.Stats()
	o.logger.InfoContext(ctx, "copy stats",
		slog.Int64("trades_detected", s.TradesDetected),
		slog.Int64("successful_trades", s.SuccessfulTrades),
		slog.Int64("failed_trades", s.FailedTrades),
		slog.Int64("rejected_trades", s.RejectedTrades),
		slog.Int64("skipped_trades", s.SkippedTrades),
		slog.Int64("successful_orders", s.SuccessfulOrders),
		slog.Int64("orders_canceled", s.OrdersCanceled),
		slog.Int64("retried_orders", s.RetriedOrders),
		slog.Int("retry_queue_size", s.RetryQueueSize),
		slog.Int("dead_letter_size", s.DeadLetterSize),
		slog.Bool("circuit_open", s.CircuitOpen),
		slog.Int("open_orders", s.OpenOrders),
		slog.Float64("fill_rate", s.FillRate),
	)
}
