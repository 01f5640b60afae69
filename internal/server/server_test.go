package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/executor"
	"github.com/alanyoungcy/copybot/internal/server/handler"
	"github.com/alanyoungcy/copybot/internal/server/ws"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type monitorState struct{}

func (monitorState) Wallets() []string         { return []string{"0xabc"} }
func (monitorState) LastBlock() (uint64, bool) { return 42, true }
func (monitorState) Running() bool             { return true }

type copierFake struct {
	mu     sync.Mutex
	resets int
}

func (c *copierFake) Stats() executor.Stats { return executor.Stats{TradesDetected: 7, FillRate: 0.5} }
func (c *copierFake) ResetStats() {
	c.mu.Lock()
	c.resets++
	c.mu.Unlock()
}

type trackerFake struct{}

func (trackerFake) All() []domain.OrderFillState {
	return []domain.OrderFillState{
		{OrderID: "a", Size: decimal.NewFromInt(1), Filled: decimal.NewFromInt(1), Status: domain.OrderStatusFilled},
		{OrderID: "b", Size: decimal.NewFromInt(2), Status: domain.OrderStatusOpen},
	}
}

func (trackerFake) Open() []domain.OrderFillState {
	return []domain.OrderFillState{{OrderID: "b", Size: decimal.NewFromInt(2), Status: domain.OrderStatusOpen}}
}

type deadLetterFake struct{}

func (deadLetterFake) DeadLetters() []domain.RetryItem {
	return []domain.RetryItem{{ID: "r1", RetryCount: 3}}
}

type recentFake struct{ asked int }

func (r *recentFake) Recent(n int) []domain.LifecycleEvent {
	r.asked = n
	return []domain.LifecycleEvent{{Type: domain.EventOrderPlaced, OrderID: "o1"}}
}

type denyLimiter struct{ allow bool }

func (l denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, nil
}

func (l denyLimiter) Wait(context.Context, string, int, time.Duration) error { return nil }

func newTestHandler(t *testing.T, cfg Config, limiter domain.RateLimiter) (http.Handler, *copierFake, *recentFake) {
	t.Helper()
	log := discardLogger()
	copier := &copierFake{}
	recent := &recentFake{}
	h := NewHandler(cfg, Handlers{
		Health:      handler.NewHealthHandler(map[string]handler.Pinger{"redis": pinger{}}, log),
		Status:      handler.NewStatusHandler("copy", true, time.Now().Add(-time.Minute), monitorState{}, copier),
		Orders:      handler.NewOrderHandler(trackerFake{}, nil, log),
		DeadLetters: handler.NewDeadLetterHandler(deadLetterFake{}, nil, log),
		Events:      handler.NewEventHandler(recent, nil, log),
		Stats:       handler.NewStatsHandler(copier, log),
	}, nil, limiter, log)
	return h, copier, recent
}

func do(t *testing.T, h http.Handler, method, target string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestStatusReportsModeMonitorAndStats(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{}, nil)

	rec, body := do(t, h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "copy", body["mode"])
	assert.Equal(t, true, body["dry_run"])
	assert.GreaterOrEqual(t, body["uptime_seconds"], float64(59))

	mon := body["monitor"].(map[string]any)
	assert.Equal(t, float64(42), mon["last_block"])
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(7), stats["trades_detected"])
}

func TestOrdersOpenFilter(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{}, nil)

	_, body := do(t, h, http.MethodGet, "/api/orders", nil)
	assert.Equal(t, float64(2), body["count"])

	_, body = do(t, h, http.MethodGet, "/api/orders?open=true", nil)
	assert.Equal(t, float64(1), body["count"])
	orders := body["orders"].([]any)
	assert.Equal(t, "b", orders[0].(map[string]any)["order_id"])
}

func TestOptionalStoresReturnNotImplemented(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{}, nil)

	for _, target := range []string{"/api/orders/history", "/api/audit", "/api/dead-letters?source=store"} {
		rec, _ := do(t, h, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusNotImplemented, rec.Code, target)
	}

	rec, body := do(t, h, http.MethodGet, "/api/dead-letters", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])
}

func TestEventsLimitIsCapped(t *testing.T) {
	h, _, recent := newTestHandler(t, Config{}, nil)

	_, body := do(t, h, http.MethodGet, "/api/events?limit=9999", nil)
	assert.Equal(t, 500, recent.asked)
	assert.Equal(t, float64(1), body["count"])

	do(t, h, http.MethodGet, "/api/events", nil)
	assert.Equal(t, 50, recent.asked)
}

type streamFake struct {
	msgs  []domain.StreamMessage
	err   error
	name  string
	after string
	count int
}

func (s *streamFake) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	s.name, s.after, s.count = stream, lastID, count
	return s.msgs, s.err
}

func TestEventsStreamNeedsRedis(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{}, nil)

	rec, _ := do(t, h, http.MethodGet, "/api/events?source=stream", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestEventsStreamPagesFromCursor(t *testing.T) {
	stream := &streamFake{msgs: []domain.StreamMessage{
		{ID: "5-0", Payload: []byte(`{"type":"order_placed","order_id":"o1"}`)},
		{ID: "6-0", Payload: []byte(`not json`)},
	}}
	events := handler.NewEventHandler(&recentFake{}, nil, discardLogger())
	events.SetStream(stream, "copybot:events:stream")
	h := NewHandler(Config{}, Handlers{Events: events}, nil, nil, discardLogger())

	rec, body := do(t, h, http.MethodGet, "/api/events?source=stream&after=4-0&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "copybot:events:stream", stream.name)
	assert.Equal(t, "4-0", stream.after)
	assert.Equal(t, 2, stream.count)

	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, "6-0", body["next"], "cursor moves past entries that are skipped")
	ev := body["events"].([]any)[0].(map[string]any)
	assert.Equal(t, "5-0", ev["id"])
	assert.Equal(t, "o1", ev["event"].(map[string]any)["order_id"])
}

func TestEventsStreamEmptyKeepsCursor(t *testing.T) {
	events := handler.NewEventHandler(&recentFake{}, nil, discardLogger())
	events.SetStream(&streamFake{}, "s")
	h := NewHandler(Config{}, Handlers{Events: events}, nil, nil, discardLogger())

	_, body := do(t, h, http.MethodGet, "/api/events?source=stream&after=9-0", nil)
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, "9-0", body["next"])
	assert.Empty(t, body["events"])
}

func TestEventsStreamReadError(t *testing.T) {
	events := handler.NewEventHandler(&recentFake{}, nil, discardLogger())
	events.SetStream(&streamFake{err: errors.New("redis down")}, "s")
	h := NewHandler(Config{}, Handlers{Events: events}, nil, nil, discardLogger())

	rec, _ := do(t, h, http.MethodGet, "/api/events?source=stream", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatsResetRequiresPost(t *testing.T) {
	h, copier, _ := newTestHandler(t, Config{}, nil)

	rec, _ := do(t, h, http.MethodGet, "/api/stats/reset", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/stats/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, copier.resets)
}

func TestAuth(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{APIKey: "s3cret"}, nil)

	rec, _ := do(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health is public")

	rec, body := do(t, h, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing api key", body["error"])

	rec, _ = do(t, h, http.MethodGet, "/api/status", map[string]string{"X-API-Key": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/status", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/status?api_key=s3cret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthDegraded(t *testing.T) {
	log := discardLogger()
	h := NewHandler(Config{}, Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": pinger{},
			"redis":    pinger{err: errors.New("connection refused")},
		}, log),
	}, nil, nil, log)

	rec, body := do(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "connection refused", checks["redis"])
}

func TestRateLimit(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{RateLimit: 1, RateWindow: 30 * time.Second}, denyLimiter{})
	rec, _ := do(t, h, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	h, _, _ = newTestHandler(t, Config{RateLimit: 1, RateWindow: time.Second}, denyLimiter{allow: true})
	rec, _ = do(t, h, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{CORSOrigins: []string{"https://dash.example"}, APIKey: "k"}, nil)

	rec, _ := do(t, h, http.MethodOptions, "/api/status", map[string]string{"Origin": "https://dash.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = do(t, h, http.MethodOptions, "/api/status", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

// chanBus is a SignalBus whose subscription is a channel the test feeds.
type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error      { return nil }
func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *chanBus) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	return b.ch, nil
}

func TestHubRelaysFilteredEvents(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	hub := ws.NewHub(bus, ws.Config{Mode: "copy", Channel: "copybot:events"}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(NewHandler(Config{}, Handlers{}, hub, nil, discardLogger()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var status map[string]any
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "bot_status", status["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "types": []string{"order_placed"}}))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	// Give the read pump time to apply the filter before events flow.
	time.Sleep(50 * time.Millisecond)

	bus.ch <- []byte(`{"type":"trade_detected"}`)
	bus.ch <- []byte(`{"type":"order_placed","order_id":"o9"}`)

	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "order_placed", ev["type"])
	assert.Equal(t, "o9", ev["order_id"])
}
