package executor

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// RetryConfig tunes backoff and the circuit breaker.
type RetryConfig struct {
	MaxRetries       int
	BaseDelay        time.Duration
	Multiplier       float64
	CircuitThreshold int
	CircuitWindow    time.Duration
	CircuitCooldown  time.Duration
}

// DefaultRetryConfig returns the stock retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       3,
		BaseDelay:        time.Second,
		Multiplier:       2.0,
		CircuitThreshold: 10,
		CircuitWindow:    60 * time.Second,
		CircuitCooldown:  300 * time.Second,
	}
}

// CircuitObserver is told about circuit breaker transitions. Calls are made
// without the queue lock held.
type CircuitObserver interface {
	CircuitOpened(failures int)
	CircuitClosed()
}

// RetryQueue holds trades whose execution failed with a transient error,
// a dead-letter list for items that exhausted their budget, and a
// sliding-window circuit breaker. It is safe for concurrent use.
//
// DueRetries preserves arrival order within the due and pending partitions,
// but an item re-enqueued by MarkFailed moves to the back of the queue.
type RetryQueue struct {
	cfg      RetryConfig
	logger   *slog.Logger
	now      func() time.Time
	observer CircuitObserver

	mu       sync.Mutex
	queue    []domain.RetryItem
	dead     []domain.RetryItem
	failures []time.Time
	openedAt time.Time
}

type transition int

const (
	noTransition transition = iota
	circuitOpened
	circuitClosed
)

// NewRetryQueue creates a RetryQueue. Non-positive fields in cfg fall back
// to DefaultRetryConfig.
func NewRetryQueue(cfg RetryConfig, logger *slog.Logger) *RetryQueue {
	def := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = def.CircuitThreshold
	}
	if cfg.CircuitWindow <= 0 {
		cfg.CircuitWindow = def.CircuitWindow
	}
	if cfg.CircuitCooldown <= 0 {
		cfg.CircuitCooldown = def.CircuitCooldown
	}
	return &RetryQueue{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "retry_queue")),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Must be called before use.
func (q *RetryQueue) SetClock(now func() time.Time) {
	q.now = now
}

// SetObserver registers the circuit breaker observer. Must be called before
// use.
func (q *RetryQueue) SetObserver(o CircuitObserver) {
	q.observer = o
}

// Config returns the effective configuration.
func (q *RetryQueue) Config() RetryConfig {
	return q.cfg
}

// CalculateBackoff returns BaseDelay × Multiplier^retryCount.
func (q *RetryQueue) CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := float64(q.cfg.BaseDelay) * math.Pow(q.cfg.Multiplier, float64(retryCount))
	if d > math.MaxInt64 || math.IsInf(d, 0) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Enqueue schedules trade for another attempt. When nextRetryAt is nil the
// attempt is due after CalculateBackoff(retryCount).
func (q *RetryQueue) Enqueue(trade domain.Trade, err error, retryCount int, nextRetryAt *time.Time) domain.RetryItem {
	now := q.now().UTC()
	next := now.Add(q.CalculateBackoff(retryCount))
	if nextRetryAt != nil {
		next = nextRetryAt.UTC()
	}

	item := domain.RetryItem{
		ID:          uuid.NewString(),
		Trade:       trade,
		Error:       errText(err),
		Kind:        domain.KindOf(err),
		RetryCount:  retryCount,
		NextRetryAt: next,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	q.mu.Lock()
	q.queue = append(q.queue, item)
	q.mu.Unlock()

	q.logger.Debug("trade enqueued for retry",
		slog.String("retry_id", item.ID),
		slog.String("trade_id", trade.ID),
		slog.Int("retry_count", retryCount),
		slog.Time("next_retry_at", next),
		slog.String("kind", string(item.Kind)),
	)
	return item
}

// Requeue puts an item back at the end of the queue unchanged.
func (q *RetryQueue) Requeue(item domain.RetryItem) {
	q.mu.Lock()
	q.queue = append(q.queue, item)
	q.mu.Unlock()
}

// Dequeue removes and returns the head of the queue.
func (q *RetryQueue) Dequeue() (domain.RetryItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return domain.RetryItem{}, false
	}
	item := q.queue[0]
	q.queue = q.queue[1:]
	return item, true
}

// Peek returns the head of the queue without removing it.
func (q *RetryQueue) Peek() (domain.RetryItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return domain.RetryItem{}, false
	}
	return q.queue[0], true
}

// ShouldRetry reports whether an item with retryCount may be attempted now.
// It is always false while the circuit is open.
func (q *RetryQueue) ShouldRetry(retryCount int) bool {
	if retryCount >= q.cfg.MaxRetries {
		return false
	}
	if q.IsCircuitOpen() {
		q.logger.Warn("circuit breaker open, rejecting retry")
		return false
	}
	return true
}

// IsRetriable reports whether err is a transient failure. Unknown errors are
// not retried.
func (q *RetryQueue) IsRetriable(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindConnection, domain.KindTimeout, domain.KindExecution:
		return true
	default:
		return false
	}
}

// MarkFailed records a failed attempt for item. The retry count is
// incremented; once it reaches MaxRetries the item moves to the dead-letter
// list for good, otherwise it is re-enqueued with a fresh backoff. err, when
// non-nil, replaces the stored error. dead reports which path was taken.
func (q *RetryQueue) MarkFailed(item domain.RetryItem, err error) (updated domain.RetryItem, dead bool) {
	now := q.now().UTC()
	item.RetryCount++
	item.UpdatedAt = now
	if err != nil {
		item.Error = err.Error()
		item.Kind = domain.KindOf(err)
	}

	q.mu.Lock()
	if item.RetryCount >= q.cfg.MaxRetries {
		q.dead = append(q.dead, item)
		dead = true
	} else {
		item.NextRetryAt = now.Add(q.CalculateBackoff(item.RetryCount))
		q.queue = append(q.queue, item)
	}
	ts := q.recordFailureLocked(now)
	q.mu.Unlock()

	if dead {
		q.logger.Warn("trade moved to dead letter list after max retries",
			slog.String("retry_id", item.ID),
			slog.String("trade_id", item.Trade.ID),
			slog.Int("retry_count", item.RetryCount),
		)
	}
	q.notify(ts...)
	return item, dead
}

// DueRetries removes and returns every item whose NextRetryAt has passed.
func (q *RetryQueue) DueRetries() []domain.RetryItem {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var due []domain.RetryItem
	remaining := q.queue[:0:0]
	for _, item := range q.queue {
		if !item.NextRetryAt.After(now) {
			due = append(due, item)
			continue
		}
		remaining = append(remaining, item)
	}
	q.queue = remaining
	return due
}

// RecordFailure adds a failure to the circuit breaker window.
func (q *RetryQueue) RecordFailure() {
	q.mu.Lock()
	ts := q.recordFailureLocked(q.now())
	q.mu.Unlock()
	q.notify(ts...)
}

// recordFailureLocked first expires a cooled-down circuit so the failure
// lands in a fresh window. It returns the transitions in the order they
// happened.
func (q *RetryQueue) recordFailureLocked(now time.Time) []transition {
	var ts []transition
	if _, t := q.circuitOpenLocked(now); t != noTransition {
		ts = append(ts, t)
	}

	cutoff := now.Add(-q.cfg.CircuitWindow)
	kept := q.failures[:0]
	for _, ts := range q.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	q.failures = append(kept, now)

	if len(q.failures) >= q.cfg.CircuitThreshold && q.openedAt.IsZero() {
		q.openedAt = now
		ts = append(ts, circuitOpened)
	}
	return ts
}

// RecordSuccess clears the failure history and closes the circuit.
func (q *RetryQueue) RecordSuccess() {
	q.mu.Lock()
	t := noTransition
	if !q.openedAt.IsZero() {
		t = circuitClosed
	}
	q.failures = nil
	q.openedAt = time.Time{}
	q.mu.Unlock()
	q.notify(t)
}

// IsCircuitOpen reports the breaker state. An open circuit closes by itself,
// clearing the failure history, once the cooldown has elapsed.
func (q *RetryQueue) IsCircuitOpen() bool {
	q.mu.Lock()
	open, t := q.circuitOpenLocked(q.now())
	q.mu.Unlock()
	q.notify(t)
	return open
}

func (q *RetryQueue) circuitOpenLocked(now time.Time) (bool, transition) {
	if q.openedAt.IsZero() {
		return false, noTransition
	}
	if now.Sub(q.openedAt) >= q.cfg.CircuitCooldown {
		q.openedAt = time.Time{}
		q.failures = nil
		return false, circuitClosed
	}
	return true, noTransition
}

// Size returns the number of pending retries.
func (q *RetryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// DeadLetterSize returns the number of dead-lettered items.
func (q *RetryQueue) DeadLetterSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dead)
}

// Pending returns a copy of the queue in order.
func (q *RetryQueue) Pending() []domain.RetryItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.RetryItem(nil), q.queue...)
}

// DeadLetters returns a copy of the dead-letter list in the order items
// were added.
func (q *RetryQueue) DeadLetters() []domain.RetryItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.RetryItem(nil), q.dead...)
}

// Stats returns a snapshot of queue and breaker state.
func (q *RetryQueue) Stats() domain.RetryStats {
	q.mu.Lock()
	open, t := q.circuitOpenLocked(q.now())
	stats := domain.RetryStats{
		QueueSize:      len(q.queue),
		DeadLetterSize: len(q.dead),
		CircuitOpen:    open,
		FailureCount:   len(q.failures),
	}
	q.mu.Unlock()
	q.notify(t)
	return stats
}

func (q *RetryQueue) notify(ts ...transition) {
	for _, t := range ts {
		q.notifyOne(t)
	}
}

func (q *RetryQueue) notifyOne(t transition) {
	switch t {
	case circuitOpened:
		q.logger.Warn("circuit breaker opened",
			slog.Int("threshold", q.cfg.CircuitThreshold),
			slog.Duration("window", q.cfg.CircuitWindow),
		)
		if q.observer != nil {
			q.observer.CircuitOpened(q.cfg.CircuitThreshold)
		}
	case circuitClosed:
		q.logger.Info("circuit breaker closed")
		if q.observer != nil {
			q.observer.CircuitClosed()
		}
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
