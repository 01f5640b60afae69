package executor

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingObserver struct {
	opened, closed int
}

func (o *recordingObserver) CircuitOpened(int) { o.opened++ }
func (o *recordingObserver) CircuitClosed()    { o.closed++ }

func newTestQueue(cfg RetryConfig) (*RetryQueue, *fakeClock) {
	clock := newFakeClock()
	q := NewRetryQueue(cfg, discardLogger())
	q.SetClock(clock.Now)
	return q, clock
}

func sampleTrade(t *testing.T, id string) domain.Trade {
	t.Helper()
	tr, err := domain.NewTrade(id, "0x1111111111111111111111111111111111111111", "ETH-USDC",
		domain.SideBuy, decimal.NewFromInt(100), decimal.NewFromInt(2), time.Now(),
		"0x3333333333333333333333333333333333333333333333333333333333333333")
	require.NoError(t, err)
	return tr
}

var errConn = fmt.Errorf("kuru: place: %w", domain.ErrConnection)

func TestCalculateBackoff(t *testing.T) {
	q, _ := newTestQueue(RetryConfig{BaseDelay: 500 * time.Millisecond, Multiplier: 3})
	for n, want := range []time.Duration{
		500 * time.Millisecond,
		1500 * time.Millisecond,
		4500 * time.Millisecond,
		13500 * time.Millisecond,
	} {
		assert.Equal(t, want, q.CalculateBackoff(n), "n=%d", n)
	}

	def, _ := newTestQueue(DefaultRetryConfig())
	assert.Equal(t, time.Second, def.CalculateBackoff(0))
	assert.Equal(t, 8*time.Second, def.CalculateBackoff(3))
	assert.Equal(t, time.Duration(1<<63-1), def.CalculateBackoff(10_000))
}

func TestEnqueueSchedulesBackoff(t *testing.T) {
	q, clock := newTestQueue(DefaultRetryConfig())

	item := q.Enqueue(sampleTrade(t, "a"), errConn, 2, nil)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, domain.KindConnection, item.Kind)
	assert.Equal(t, clock.Now().Add(4*time.Second), item.NextRetryAt)
	assert.Equal(t, 1, q.Size())

	at := clock.Now().Add(time.Minute)
	item = q.Enqueue(sampleTrade(t, "b"), errConn, 0, &at)
	assert.Equal(t, at, item.NextRetryAt)

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", head.Trade.ID)
	assert.Equal(t, 2, q.Size())

	head, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a", head.Trade.ID)
	assert.Equal(t, 1, q.Size())
}

func TestDequeueEmpty(t *testing.T) {
	q, _ := newTestQueue(DefaultRetryConfig())
	_, ok := q.Dequeue()
	assert.False(t, ok)
	_, ok = q.Peek()
	assert.False(t, ok)
}

func TestIsRetriable(t *testing.T) {
	q, _ := newTestQueue(DefaultRetryConfig())

	assert.True(t, q.IsRetriable(errConn))
	assert.True(t, q.IsRetriable(fmt.Errorf("x: %w", domain.ErrTimeout)))
	assert.True(t, q.IsRetriable(fmt.Errorf("x: %w", domain.ErrOrderExecution)))
	assert.False(t, q.IsRetriable(fmt.Errorf("x: %w", domain.ErrInsufficientBalance)))
	assert.False(t, q.IsRetriable(fmt.Errorf("x: %w", domain.ErrInvalidOrder)))
	assert.False(t, q.IsRetriable(fmt.Errorf("surprise")))
}

func TestDueRetriesPartitions(t *testing.T) {
	q, clock := newTestQueue(DefaultRetryConfig())
	now := clock.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	q.Enqueue(sampleTrade(t, "1"), errConn, 0, &past)
	q.Enqueue(sampleTrade(t, "2"), errConn, 0, &future)
	q.Enqueue(sampleTrade(t, "3"), errConn, 0, &now)
	q.Enqueue(sampleTrade(t, "4"), errConn, 0, &future)

	due := q.DueRetries()
	require.Len(t, due, 2)
	assert.Equal(t, "1", due[0].Trade.ID)
	assert.Equal(t, "3", due[1].Trade.ID)

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "2", pending[0].Trade.ID)
	assert.Equal(t, "4", pending[1].Trade.ID)
}

func TestMarkFailedDeadLettersAtMax(t *testing.T) {
	q, clock := newTestQueue(RetryConfig{MaxRetries: 3})
	q.Enqueue(sampleTrade(t, "x"), errConn, 0, nil)

	for i := 0; i < 3; i++ {
		item, ok := q.Dequeue()
		require.True(t, ok, "attempt %d", i)
		_, dead := q.MarkFailed(item, errConn)
		assert.Equal(t, i == 2, dead)
	}

	assert.Equal(t, 1, q.DeadLetterSize())
	assert.Equal(t, 0, q.Size())

	clock.Advance(24 * time.Hour)
	assert.Empty(t, q.DueRetries(), "dead letters are never due")

	dl := q.DeadLetters()
	require.Len(t, dl, 1)
	assert.Equal(t, 3, dl[0].RetryCount)
	assert.Equal(t, "x", dl[0].Trade.ID)
}

func TestMarkFailedReschedulesAndKeepsID(t *testing.T) {
	q, clock := newTestQueue(DefaultRetryConfig())
	first := q.Enqueue(sampleTrade(t, "x"), errConn, 0, nil)
	q.Enqueue(sampleTrade(t, "y"), errConn, 0, nil)

	item, _ := q.Dequeue()
	updated, dead := q.MarkFailed(item, fmt.Errorf("again: %w", domain.ErrTimeout))
	require.False(t, dead)
	assert.Equal(t, first.ID, updated.ID)
	assert.Equal(t, 1, updated.RetryCount)
	assert.Equal(t, domain.KindTimeout, updated.Kind)
	assert.Equal(t, clock.Now().Add(2*time.Second), updated.NextRetryAt)

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "y", pending[0].Trade.ID, "re-enqueued item moves to the back")
	assert.Equal(t, "x", pending[1].Trade.ID)
}

func TestCircuitBreakerOpensAndCoolsDown(t *testing.T) {
	q, clock := newTestQueue(RetryConfig{
		CircuitThreshold: 3,
		CircuitWindow:    10 * time.Second,
		CircuitCooldown:  time.Minute,
	})
	obs := &recordingObserver{}
	q.SetObserver(obs)

	q.RecordFailure()
	q.RecordFailure()
	assert.False(t, q.IsCircuitOpen())
	assert.True(t, q.ShouldRetry(0))

	q.RecordFailure()
	assert.True(t, q.IsCircuitOpen())
	assert.False(t, q.ShouldRetry(0), "open circuit blocks every retry")
	assert.Equal(t, 1, obs.opened)

	clock.Advance(59 * time.Second)
	assert.True(t, q.IsCircuitOpen())

	clock.Advance(time.Second)
	assert.False(t, q.IsCircuitOpen())
	assert.Equal(t, 0, q.Stats().FailureCount, "history cleared on cooldown")
	assert.Equal(t, 1, obs.closed)
}

func TestFailureAfterCooldownStartsFreshWindow(t *testing.T) {
	q, clock := newTestQueue(RetryConfig{
		CircuitThreshold: 2,
		CircuitWindow:    10 * time.Minute,
		CircuitCooldown:  time.Minute,
	})
	obs := &recordingObserver{}
	q.SetObserver(obs)

	q.RecordFailure()
	q.RecordFailure()
	require.Equal(t, 1, obs.opened)

	// Nothing checks the breaker while the cooldown runs out.
	clock.Advance(61 * time.Second)
	q.RecordFailure()
	assert.Equal(t, 1, obs.closed)

	assert.False(t, q.IsCircuitOpen())
	assert.Equal(t, 1, q.Stats().FailureCount, "the new failure survives the close")

	q.RecordFailure()
	assert.True(t, q.IsCircuitOpen())
	assert.Equal(t, 2, obs.opened)
}

func TestCircuitBreakerWindowSlides(t *testing.T) {
	q, clock := newTestQueue(RetryConfig{
		CircuitThreshold: 3,
		CircuitWindow:    10 * time.Second,
	})

	q.RecordFailure()
	q.RecordFailure()
	clock.Advance(11 * time.Second)
	q.RecordFailure()
	assert.False(t, q.IsCircuitOpen())
	assert.Equal(t, 1, q.Stats().FailureCount)
}

func TestRecordSuccessResets(t *testing.T) {
	q, _ := newTestQueue(RetryConfig{CircuitThreshold: 2})
	obs := &recordingObserver{}
	q.SetObserver(obs)

	q.RecordFailure()
	q.RecordFailure()
	require.True(t, q.IsCircuitOpen())

	q.RecordSuccess()
	assert.False(t, q.IsCircuitOpen())
	assert.Equal(t, 0, q.Stats().FailureCount)
	assert.Equal(t, 1, obs.closed)

	q.RecordSuccess()
	assert.Equal(t, 1, obs.closed, "closing a closed circuit is not a transition")
}

func TestShouldRetryHonoursMax(t *testing.T) {
	q, _ := newTestQueue(RetryConfig{MaxRetries: 2})
	assert.True(t, q.ShouldRetry(0))
	assert.True(t, q.ShouldRetry(1))
	assert.False(t, q.ShouldRetry(2))
}

func TestMarkFailedFeedsCircuit(t *testing.T) {
	q, _ := newTestQueue(RetryConfig{MaxRetries: 10, CircuitThreshold: 2})
	q.Enqueue(sampleTrade(t, "x"), errConn, 0, nil)

	item, _ := q.Dequeue()
	q.MarkFailed(item, nil)
	item, _ = q.Dequeue()
	q.MarkFailed(item, nil)

	stats := q.Stats()
	assert.True(t, stats.CircuitOpen)
	assert.Equal(t, 1, stats.QueueSize)
	assert.Equal(t, 2, stats.FailureCount)
}
