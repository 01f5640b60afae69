package executor

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// DefaultOrderTTL is how long a filled order stays tracked.
const DefaultOrderTTL = time.Hour

// OrderTracker keeps the cumulative fill state of every order we placed.
// It is safe for concurrent use.
type OrderTracker struct {
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	orders map[string]*domain.OrderFillState
}

// NewOrderTracker creates a tracker that forgets filled orders after ttl.
func NewOrderTracker(ttl time.Duration, logger *slog.Logger) *OrderTracker {
	if ttl <= 0 {
		ttl = DefaultOrderTTL
	}
	return &OrderTracker{
		ttl:    ttl,
		logger: logger.With(slog.String("component", "order_tracker")),
		now:    time.Now,
		orders: make(map[string]*domain.OrderFillState),
	}
}

// SetClock replaces the time source. Must be called before use.
func (t *OrderTracker) SetClock(now func() time.Time) {
	t.now = now
}

// Register starts tracking orderID in the OPEN state. Registering an id
// again resets its state.
func (t *OrderTracker) Register(orderID string, size decimal.Decimal) {
	now := t.now().UTC()

	t.mu.Lock()
	t.orders[orderID] = &domain.OrderFillState{
		OrderID:   orderID,
		Size:      size,
		Filled:    decimal.Zero,
		Status:    domain.OrderStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.mu.Unlock()

	t.logger.Debug("order registered",
		slog.String("order_id", orderID),
		slog.String("size", size.String()),
	)
}

// OnFill applies an incremental fill. Unknown ids are ignored and reported
// with ok == false. The cumulative fill is capped at the order size.
func (t *OrderTracker) OnFill(orderID string, size decimal.Decimal) (state domain.OrderFillState, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, found := t.orders[orderID]
	if !found {
		t.logger.Warn("fill for unknown order", slog.String("order_id", orderID))
		return domain.OrderFillState{}, false
	}
	if !size.IsPositive() {
		t.logger.Warn("ignoring non-positive fill",
			slog.String("order_id", orderID),
			slog.String("size", size.String()),
		)
		return *s, true
	}

	filled := s.Filled.Add(size)
	if filled.GreaterThan(s.Size) {
		t.logger.Warn("fill exceeds order size, capping",
			slog.String("order_id", orderID),
			slog.String("order_size", s.Size.String()),
			slog.String("filled", filled.String()),
		)
		filled = s.Size
	}

	s.Filled = filled
	s.UpdatedAt = t.now().UTC()
	switch {
	case s.Filled.GreaterThanOrEqual(s.Size):
		s.Status = domain.OrderStatusFilled
	case s.Filled.IsPositive():
		s.Status = domain.OrderStatusPartiallyFilled
	}
	return *s, true
}

// Get returns the state of orderID.
func (t *OrderTracker) Get(orderID string) (domain.OrderFillState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.orders[orderID]
	if !ok {
		return domain.OrderFillState{}, false
	}
	return *s, true
}

// All returns every tracked order, oldest first.
func (t *OrderTracker) All() []domain.OrderFillState {
	return t.collect(func(domain.OrderFillState) bool { return true })
}

// Open returns the orders that are not yet FILLED, oldest first.
func (t *OrderTracker) Open() []domain.OrderFillState {
	return t.collect(func(s domain.OrderFillState) bool {
		return s.Status != domain.OrderStatusFilled
	})
}

func (t *OrderTracker) collect(keep func(domain.OrderFillState) bool) []domain.OrderFillState {
	t.mu.Lock()
	out := make([]domain.OrderFillState, 0, len(t.orders))
	for _, s := range t.orders {
		if keep(*s) {
			out = append(out, *s)
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Remove stops tracking orderID. It reports whether the id was tracked.
func (t *OrderTracker) Remove(orderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.orders[orderID]; !ok {
		return false
	}
	delete(t.orders, orderID)
	return true
}

// Len returns the number of tracked orders.
func (t *OrderTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.orders)
}

// FillRate returns the fraction of tracked orders that are FILLED, or 0
// when nothing is tracked.
func (t *OrderTracker) FillRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.orders) == 0 {
		return 0
	}
	filled := 0
	for _, s := range t.orders {
		if s.Status == domain.OrderStatusFilled {
			filled++
		}
	}
	return float64(filled) / float64(len(t.orders))
}

// Cleanup drops FILLED orders last updated more than the TTL ago and
// returns how many were removed.
func (t *OrderTracker) Cleanup() int {
	now := t.now()

	t.mu.Lock()
	removed := 0
	for id, s := range t.orders {
		if s.Status == domain.OrderStatusFilled && now.Sub(s.UpdatedAt) > t.ttl {
			delete(t.orders, id)
			removed++
		}
	}
	t.mu.Unlock()

	if removed > 0 {
		t.logger.Info("cleaned up filled orders", slog.Int("count", removed))
	}
	return removed
}
