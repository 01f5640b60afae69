// Package executor sizes, validates and places mirrored orders, and owns the
// retry queue and fill tracker that back them.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Account reports the funds and positions the copier sizes against.
type Account interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
	Positions(ctx context.Context, market string) ([]domain.Position, error)
}

// OrderPlacer submits and cancels orders on the exchange.
type OrderPlacer interface {
	PlaceLimitOrder(ctx context.Context, market string, side domain.Side, price, size decimal.Decimal, postOnly bool) (string, error)
	PlaceMarketOrder(ctx context.Context, market string, side domain.Side, size decimal.Decimal) (string, error)
	CancelOrders(ctx context.Context, market string, orderIDs []string) error
}

// Sizer computes the mirrored order size.
type Sizer interface {
	Calculate(sourceSize, balance decimal.Decimal, price *decimal.Decimal) (decimal.Decimal, error)
}

// Policy applies the pre-trade checks to a candidate trade.
type Policy interface {
	Validate(trade domain.Trade, balance, netPosition decimal.Decimal) domain.ValidationResult
}

// Emitter receives lifecycle events. Implementations must not block for long.
type Emitter interface {
	Emit(ctx context.Context, ev domain.LifecycleEvent)
}

// CopierConfig controls order placement.
type CopierConfig struct {
	OrderType domain.OrderType
	// CallTimeout bounds every exchange call.
	CallTimeout time.Duration
	// SourceWallets restricts OnTrade and OnOrderCreated to these traders.
	// Empty accepts every trader.
	SourceWallets []string
	DryRun        bool
}

const defaultCallTimeout = 10 * time.Second

type mirroredOrder struct {
	id     string
	market string
}

// Copier mirrors source wallet activity onto the exchange. Trades are meant
// to be fed from a single goroutine so per-market ordering holds. The retry
// loop runs on another goroutine, so every snapshot, size, validate and place
// sequence runs under exec: a sizing decision always sees the balance left by
// the previous order.
type Copier struct {
	cfg       CopierConfig
	account   Account
	placer    OrderPlacer
	sizer     Sizer
	policy    Policy
	tracker   *OrderTracker
	retries   *RetryQueue
	emitter   Emitter
	copies    domain.CopyStore
	orderMaps domain.OrderMapStore
	dead      domain.DeadLetterStore
	wallets   map[string]struct{}
	logger    *slog.Logger
	now       func() time.Time

	stats counters

	exec sync.Mutex

	mu       sync.Mutex
	mirrored map[string]mirroredOrder
}

var _ CircuitObserver = (*Copier)(nil)

// NewCopier wires a Copier and registers it as the retry queue's circuit
// observer.
func NewCopier(
	cfg CopierConfig,
	account Account,
	placer OrderPlacer,
	sizer Sizer,
	policy Policy,
	tracker *OrderTracker,
	retries *RetryQueue,
	logger *slog.Logger,
) *Copier {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.OrderType == "" {
		cfg.OrderType = domain.OrderTypeLimit
	}
	wallets := make(map[string]struct{}, len(cfg.SourceWallets))
	for _, w := range cfg.SourceWallets {
		wallets[strings.ToLower(w)] = struct{}{}
	}

	c := &Copier{
		cfg:      cfg,
		account:  account,
		placer:   placer,
		sizer:    sizer,
		policy:   policy,
		tracker:  tracker,
		retries:  retries,
		emitter:  nopEmitter{},
		wallets:  wallets,
		logger:   logger.With(slog.String("component", "copier")),
		now:      time.Now,
		mirrored: make(map[string]mirroredOrder),
	}
	retries.SetObserver(c)
	return c
}

// SetEmitter routes lifecycle events to e.
func (c *Copier) SetEmitter(e Emitter) {
	if e != nil {
		c.emitter = e
	}
}

// SetCopyStore enables persistence of placed orders.
func (c *Copier) SetCopyStore(s domain.CopyStore) {
	c.copies = s
}

// SetOrderMapStore enables persistence of the source to mirror order map.
func (c *Copier) SetOrderMapStore(s domain.OrderMapStore) {
	c.orderMaps = s
}

// SetDeadLetterStore persists retry items that exhaust their retries.
func (c *Copier) SetDeadLetterStore(s domain.DeadLetterStore) {
	c.dead = s
}

// SetClock replaces the time source. Must be called before use.
func (c *Copier) SetClock(now func() time.Time) {
	c.now = now
}

// Tracker returns the fill tracker.
func (c *Copier) Tracker() *OrderTracker { return c.tracker }

// Retries returns the retry queue.
func (c *Copier) Retries() *RetryQueue { return c.retries }

// ---------------------------------------------------------------------------
// Chain event handlers
// ---------------------------------------------------------------------------

// OnTrade copies a fill made by a tracked source wallet.
func (c *Copier) OnTrade(ctx context.Context, trade domain.Trade) {
	if !c.tracked(trade.TraderAddress) {
		c.logger.DebugContext(ctx, "ignoring trade from untracked trader",
			slog.String("trade_id", trade.ID),
			slog.String("trader", trade.TraderAddress),
		)
		return
	}
	c.ProcessTrade(ctx, trade)
}

// OnOrderCreated mirrors a resting order placed by a tracked source wallet.
func (c *Copier) OnOrderCreated(ctx context.Context, order domain.OrderCreated) {
	if !c.tracked(order.Trader) {
		return
	}
	c.ProcessOrder(ctx, order)
}

// OnOrdersCanceled cancels our mirrors of the canceled source orders.
func (c *Copier) OnOrdersCanceled(ctx context.Context, ev domain.OrdersCanceled) {
	if !c.tracked(ev.Trader) {
		return
	}
	c.CancelMirrored(ctx, ev)
}

// HandleFill applies an exchange fill to the tracker.
func (c *Copier) HandleFill(ctx context.Context, fill domain.Fill) {
	state, ok := c.tracker.OnFill(fill.OrderID, fill.Size)
	if !ok {
		return
	}
	if state.Status == domain.OrderStatusFilled {
		c.emit(ctx, domain.LifecycleEvent{
			Type:    domain.EventOrderFilled,
			OrderID: fill.OrderID,
			Detail:  map[string]any{"size": state.Size.String(), "market": fill.Market},
		})
	}
}

func (c *Copier) tracked(trader string) bool {
	if len(c.wallets) == 0 {
		return true
	}
	_, ok := c.wallets[strings.ToLower(trader)]
	return ok
}

// ---------------------------------------------------------------------------
// Trades
// ---------------------------------------------------------------------------

// ProcessTrade copies one source trade. It returns the placed order id, or
// ok == false when the trade was skipped, rejected or failed. Failures are
// handled here and never escape.
func (c *Copier) ProcessTrade(ctx context.Context, trade domain.Trade) (orderID string, ok bool) {
	log := c.logger.With(
		slog.String("trade_id", trade.ID),
		slog.String("market", trade.Market),
		slog.String("side", string(trade.Side)),
	)
	c.stats.inc(cntTradesDetected)
	c.emit(ctx, domain.LifecycleEvent{Type: domain.EventTradeDetected, Trade: &trade})

	log.InfoContext(ctx, "processing trade",
		slog.String("size", trade.Size.String()),
		slog.String("price", trade.Price.String()),
	)

	orderID, err := c.attempt(ctx, trade, log)
	switch {
	case err == nil && orderID == "":
		return "", false
	case err == nil:
		c.stats.inc(cntSuccessfulTrades)
		return orderID, true
	}

	c.stats.inc(cntFailedTrades)
	if !c.retries.IsRetriable(err) {
		log.ErrorContext(ctx, "trade failed with permanent error",
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		c.emit(ctx, domain.LifecycleEvent{
			Type:   domain.EventOrderFailed,
			Trade:  &trade,
			Reason: err.Error(),
		})
		return "", false
	}

	item := c.retries.Enqueue(trade, err, 0, nil)
	c.retries.RecordFailure()
	log.WarnContext(ctx, "trade enqueued for retry",
		slog.String("retry_id", item.ID),
		slog.String("kind", string(item.Kind)),
		slog.String("error", err.Error()),
	)
	c.emit(ctx, domain.LifecycleEvent{
		Type:   domain.EventOrderEnqueued,
		Trade:  &trade,
		Reason: err.Error(),
		Detail: map[string]any{"retry_id": item.ID, "next_retry_at": item.NextRetryAt},
	})
	return "", false
}

// ProcessTrades copies each trade in order and returns the ids of the
// orders that were placed.
func (c *Copier) ProcessTrades(ctx context.Context, trades []domain.Trade) []string {
	ids := make([]string, 0, len(trades))
	for _, t := range trades {
		if id, ok := c.ProcessTrade(ctx, t); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// attempt sizes, validates and places one trade. An empty id with a nil
// error means the trade was skipped or rejected by policy.
func (c *Copier) attempt(ctx context.Context, trade domain.Trade, log *slog.Logger) (string, error) {
	c.exec.Lock()
	defer c.exec.Unlock()

	balance, net, err := c.snapshot(ctx, trade.Market)
	if err != nil {
		return "", err
	}

	size, err := c.sizer.Calculate(trade.Size, balance, &trade.Price)
	if err != nil {
		return "", fmt.Errorf("executor: size trade: %w", err)
	}
	if size.IsZero() {
		c.stats.inc(cntSkippedTrades)
		log.InfoContext(ctx, "trade sized to zero, skipping",
			slog.String("source_size", trade.Size.String()),
			slog.String("balance", balance.String()),
		)
		c.emit(ctx, domain.LifecycleEvent{
			Type:   domain.EventTradeSkipped,
			Trade:  &trade,
			Reason: "calculated size is zero",
			Detail: map[string]any{"balance": balance.String()},
		})
		return "", nil
	}

	mirror := trade.WithSize(size)
	if res := c.policy.Validate(mirror, balance, net); !res.Valid {
		c.stats.inc(cntRejectedTrades)
		log.WarnContext(ctx, "trade rejected", slog.String("reason", res.Reason))
		c.emit(ctx, domain.LifecycleEvent{
			Type:   domain.EventTradeRejected,
			Trade:  &mirror,
			Reason: res.Reason,
		})
		return "", nil
	}

	orderID, err := c.place(ctx, mirror, c.cfg.OrderType, false)
	if err != nil {
		return "", err
	}

	c.tracker.Register(orderID, size)
	c.retries.RecordSuccess()
	c.record(ctx, orderID, trade, mirror, c.cfg.OrderType)

	log.InfoContext(ctx, "mirror order placed",
		slog.String("order_id", orderID),
		slog.String("size", size.String()),
	)
	c.emit(ctx, domain.LifecycleEvent{
		Type:    domain.EventOrderPlaced,
		Trade:   &mirror,
		OrderID: orderID,
	})
	return orderID, nil
}

// ProcessRetryQueue re-attempts every due retry and returns how many
// succeeded. Nothing is attempted while the circuit is open.
func (c *Copier) ProcessRetryQueue(ctx context.Context) int {
	if c.retries.IsCircuitOpen() {
		c.logger.WarnContext(ctx, "circuit breaker open, skipping retry cycle")
		return 0
	}

	due := c.retries.DueRetries()
	if len(due) == 0 {
		return 0
	}
	c.logger.InfoContext(ctx, "processing retry queue", slog.Int("due", len(due)))

	succeeded := 0
	for i, item := range due {
		if ctx.Err() != nil || c.retries.IsCircuitOpen() {
			for _, rest := range due[i:] {
				c.retries.Requeue(rest)
			}
			break
		}
		switch c.retryGate(item) {
		case gateExhausted:
			c.deadLetter(ctx, item, nil)
			continue
		case gateBlocked:
			c.retries.Requeue(item)
			continue
		}
		if c.retryOne(ctx, item) {
			succeeded++
		}
	}
	return succeeded
}

type gate int

const (
	gateAttempt gate = iota
	gateExhausted
	gateBlocked
)

// retryGate decides what happens to a due item. Only an exhausted retry
// budget dead-letters it; an open circuit leaves it untouched for a later
// cycle.
func (c *Copier) retryGate(item domain.RetryItem) gate {
	if item.RetryCount >= c.retries.Config().MaxRetries {
		return gateExhausted
	}
	if !c.retries.ShouldRetry(item.RetryCount) {
		return gateBlocked
	}
	return gateAttempt
}

func (c *Copier) retryOne(ctx context.Context, item domain.RetryItem) bool {
	trade := item.Trade
	log := c.logger.With(
		slog.String("retry_id", item.ID),
		slog.String("trade_id", trade.ID),
		slog.Int("attempt", item.RetryCount+1),
	)

	orderID, err := c.attempt(ctx, trade, log)
	switch {
	case err == nil && orderID == "":
		log.InfoContext(ctx, "retry dropped by sizing or policy")
		return false
	case err == nil:
		c.stats.inc(cntSuccessfulTrades)
		c.stats.inc(cntRetriedOrders)
		log.InfoContext(ctx, "retry succeeded", slog.String("order_id", orderID))
		c.emit(ctx, domain.LifecycleEvent{
			Type:    domain.EventOrderRetried,
			Trade:   &trade,
			OrderID: orderID,
			Detail:  map[string]any{"retry_id": item.ID, "attempt": item.RetryCount + 1},
		})
		return true
	}

	if !c.retries.IsRetriable(err) {
		c.stats.inc(cntFailedTrades)
		log.ErrorContext(ctx, "retry failed with permanent error", slog.String("error", err.Error()))
		c.emit(ctx, domain.LifecycleEvent{
			Type:   domain.EventOrderFailed,
			Trade:  &trade,
			Reason: err.Error(),
		})
		return false
	}

	c.deadLetter(ctx, item, err)
	return false
}

// deadLetter calls MarkFailed and reports whichever way it went.
func (c *Copier) deadLetter(ctx context.Context, item domain.RetryItem, err error) {
	updated, dead := c.retries.MarkFailed(item, err)
	if dead {
		if c.dead != nil {
			if perr := c.dead.Insert(ctx, updated); perr != nil {
				c.logger.WarnContext(ctx, "persist dead letter failed",
					slog.String("retry_id", updated.ID),
					slog.String("error", perr.Error()),
				)
			}
		}
		c.emit(ctx, domain.LifecycleEvent{
			Type:   domain.EventOrderDeadLettered,
			Trade:  &updated.Trade,
			Reason: updated.Error,
			Detail: map[string]any{"retry_id": updated.ID, "retry_count": updated.RetryCount},
		})
		return
	}
	c.logger.WarnContext(ctx, "retry failed, rescheduled",
		slog.String("retry_id", updated.ID),
		slog.Int("retry_count", updated.RetryCount),
		slog.Time("next_retry_at", updated.NextRetryAt),
	)
	c.emit(ctx, domain.LifecycleEvent{
		Type:   domain.EventOrderEnqueued,
		Trade:  &updated.Trade,
		Reason: updated.Error,
		Detail: map[string]any{"retry_id": updated.ID, "retry_count": updated.RetryCount},
	})
}

// ---------------------------------------------------------------------------
// Resting orders
// ---------------------------------------------------------------------------

// ProcessOrder mirrors a source limit order with a post-only limit order of
// our own. Resting orders are not retried.
func (c *Copier) ProcessOrder(ctx context.Context, order domain.OrderCreated) (string, bool) {
	log := c.logger.With(
		slog.String("source_order_id", order.OrderID),
		slog.String("market", order.Market),
		slog.String("side", string(order.Side)),
	)

	c.exec.Lock()
	defer c.exec.Unlock()

	balance, net, err := c.snapshot(ctx, order.Market)
	if err != nil {
		c.stats.inc(cntFailedOrders)
		log.WarnContext(ctx, "account snapshot failed, skipping order", slog.String("error", err.Error()))
		return "", false
	}

	size, err := c.sizer.Calculate(order.Size, balance, &order.Price)
	if err != nil {
		c.stats.inc(cntFailedOrders)
		log.WarnContext(ctx, "sizing failed, skipping order", slog.String("error", err.Error()))
		return "", false
	}
	if size.IsZero() {
		log.InfoContext(ctx, "order sized to zero, skipping")
		return "", false
	}

	candidate := domain.Trade{
		ID:            domain.MirrorPrefix + order.OrderID,
		TraderAddress: order.Trader,
		Market:        order.Market,
		Side:          order.Side,
		Price:         order.Price,
		Size:          size,
		Timestamp:     c.now().UTC(),
		TxHash:        order.TxHash,
	}
	if res := c.policy.Validate(candidate, balance, net); !res.Valid {
		c.stats.inc(cntRejectedOrders)
		log.WarnContext(ctx, "order rejected", slog.String("reason", res.Reason))
		return "", false
	}

	orderID, err := c.place(ctx, candidate, domain.OrderTypeLimit, true)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			c.stats.inc(cntRejectedOrders)
		} else {
			c.stats.inc(cntFailedOrders)
		}
		log.WarnContext(ctx, "mirror order failed",
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return "", false
	}

	c.tracker.Register(orderID, size)
	c.stats.inc(cntSuccessfulOrders)
	c.putMapping(ctx, order.OrderID, orderID, order.Market)

	source := domain.Trade{ID: order.OrderID, TraderAddress: order.Trader}
	c.record(ctx, orderID, source, candidate, domain.OrderTypeLimit)

	log.InfoContext(ctx, "mirror order placed", slog.String("order_id", orderID))
	c.emit(ctx, domain.LifecycleEvent{
		Type:    domain.EventOrderMirrored,
		Trade:   &candidate,
		OrderID: orderID,
		Detail:  map[string]any{"source_order_id": order.OrderID},
	})
	return orderID, true
}

// CancelMirrored cancels the mirrors of the given source orders and returns
// how many were canceled. Unknown source ids are ignored.
func (c *Copier) CancelMirrored(ctx context.Context, ev domain.OrdersCanceled) int {
	c.exec.Lock()
	defer c.exec.Unlock()

	byMarket := make(map[string][]string)
	sources := make(map[string][]string)
	for _, src := range ev.OrderIDs {
		m, ok := c.lookupMapping(ctx, src)
		if !ok {
			continue
		}
		byMarket[m.market] = append(byMarket[m.market], m.id)
		sources[m.market] = append(sources[m.market], src)
	}
	if len(byMarket) == 0 {
		c.logger.DebugContext(ctx, "no mirrored orders to cancel",
			slog.String("source_order_ids", strings.Join(ev.OrderIDs, ",")),
		)
		return 0
	}

	canceled := 0
	for market, ids := range byMarket {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		err := c.placer.CancelOrders(callCtx, market, ids)
		cancel()
		if err != nil {
			c.logger.ErrorContext(ctx, "cancel mirrored orders failed",
				slog.String("market", market),
				slog.String("order_ids", strings.Join(ids, ",")),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, id := range ids {
			c.tracker.Remove(id)
		}
		c.deleteMappings(ctx, sources[market])
		c.stats.add(cntOrdersCanceled, int64(len(ids)))
		canceled += len(ids)

		c.logger.InfoContext(ctx, "mirrored orders canceled",
			slog.String("market", market),
			slog.Int("count", len(ids)),
		)
		for _, id := range ids {
			c.emit(ctx, domain.LifecycleEvent{
				Type:    domain.EventOrderCanceled,
				OrderID: id,
				Detail:  map[string]any{"market": market},
			})
		}
	}
	return canceled
}

func (c *Copier) putMapping(ctx context.Context, source, mirrored, market string) {
	c.mu.Lock()
	c.mirrored[source] = mirroredOrder{id: mirrored, market: market}
	c.mu.Unlock()

	if c.orderMaps == nil {
		return
	}
	if err := c.orderMaps.Put(ctx, source, mirrored, market); err != nil {
		c.logger.WarnContext(ctx, "persist order mapping failed",
			slog.String("source_order_id", source),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Copier) lookupMapping(ctx context.Context, source string) (mirroredOrder, bool) {
	c.mu.Lock()
	m, ok := c.mirrored[source]
	c.mu.Unlock()
	if ok || c.orderMaps == nil {
		return m, ok
	}

	id, market, err := c.orderMaps.Get(ctx, source)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "load order mapping failed",
				slog.String("source_order_id", source),
				slog.String("error", err.Error()),
			)
		}
		return mirroredOrder{}, false
	}
	return mirroredOrder{id: id, market: market}, true
}

func (c *Copier) deleteMappings(ctx context.Context, sources []string) {
	c.mu.Lock()
	for _, s := range sources {
		delete(c.mirrored, s)
	}
	c.mu.Unlock()

	if c.orderMaps == nil {
		return
	}
	if err := c.orderMaps.Delete(ctx, sources); err != nil {
		c.logger.WarnContext(ctx, "delete order mappings failed", slog.String("error", err.Error()))
	}
}

// MirroredOrder returns our order id for a source order id.
func (c *Copier) MirroredOrder(sourceOrderID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.mirrored[sourceOrderID]
	return m.id, ok
}

// ---------------------------------------------------------------------------
// Exchange calls
// ---------------------------------------------------------------------------

// snapshot returns the balance and the signed net position in market.
func (c *Copier) snapshot(ctx context.Context, market string) (decimal.Decimal, decimal.Decimal, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	balance, err := c.account.Balance(callCtx)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("executor: get balance: %w", err)
	}
	positions, err := c.account.Positions(callCtx, market)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("executor: get positions: %w", err)
	}
	return balance, domain.NetPosition(positions), nil
}

func (c *Copier) place(ctx context.Context, t domain.Trade, orderType domain.OrderType, postOnly bool) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	var (
		id  string
		err error
	)
	if orderType == domain.OrderTypeMarket {
		id, err = c.placer.PlaceMarketOrder(callCtx, t.Market, t.Side, t.Size)
	} else {
		id, err = c.placer.PlaceLimitOrder(callCtx, t.Market, t.Side, t.Price, t.Size, postOnly)
	}
	if err != nil {
		return "", fmt.Errorf("executor: place %s order: %w", orderType, err)
	}
	if id == "" {
		return "", fmt.Errorf("executor: place %s order: %w: empty order id", orderType, domain.ErrOrderExecution)
	}
	return id, nil
}

func (c *Copier) record(ctx context.Context, orderID string, source, mirror domain.Trade, orderType domain.OrderType) {
	if c.copies == nil {
		return
	}
	rec := domain.CopiedOrder{
		OrderID:       orderID,
		SourceTradeID: source.ID,
		SourceTrader:  source.TraderAddress,
		Market:        mirror.Market,
		Side:          mirror.Side,
		Type:          orderType,
		Price:         mirror.Price,
		Size:          mirror.Size,
		DryRun:        c.cfg.DryRun,
		CreatedAt:     c.now().UTC(),
	}
	if err := c.copies.Insert(ctx, rec); err != nil {
		c.logger.WarnContext(ctx, "record copied order failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}

// ---------------------------------------------------------------------------
// Stats and events
// ---------------------------------------------------------------------------

// Stats returns the counters together with queue and tracker gauges.
func (c *Copier) Stats() Stats {
	s := c.stats.snapshot()
	rs := c.retries.Stats()
	s.RetryQueueSize = rs.QueueSize
	s.DeadLetterSize = rs.DeadLetterSize
	s.CircuitOpen = rs.CircuitOpen
	s.TrackedOrders = c.tracker.Len()
	s.OpenOrders = len(c.tracker.Open())
	s.FillRate = c.tracker.FillRate()
	return s
}

// ResetStats zeroes the counters and forgets the in-memory order mapping.
func (c *Copier) ResetStats() {
	c.stats.reset()
	c.mu.Lock()
	c.mirrored = make(map[string]mirroredOrder)
	c.mu.Unlock()
}

// CircuitOpened implements CircuitObserver.
func (c *Copier) CircuitOpened(failures int) {
	c.emit(context.Background(), domain.LifecycleEvent{
		Type:   domain.EventCircuitOpened,
		Reason: fmt.Sprintf("%d failures within window", failures),
	})
}

// CircuitClosed implements CircuitObserver.
func (c *Copier) CircuitClosed() {
	c.emit(context.Background(), domain.LifecycleEvent{Type: domain.EventCircuitClosed})
}

func (c *Copier) emit(ctx context.Context, ev domain.LifecycleEvent) {
	if ev.At.IsZero() {
		ev.At = c.now().UTC()
	}
	c.emitter.Emit(ctx, ev)
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, domain.LifecycleEvent) {}
