package kuru

import (
	"context"
	"encoding/json"
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
)

const wallet = "0x2222222222222222222222222222222222222222"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticSigner struct {
	method, path string
	body         []byte
}

func (s *staticSigner) Headers(method, path string, body []byte) (map[string]string, error) {
	s.method, s.path, s.body = method, path, body
	return map[string]string{"X-Kuru-Signature": "0xsig"}, nil
}

type countingLimiter struct {
	waits int
	err   error
}

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(_ context.Context, key string, limit int, window time.Duration) error {
	l.waits++
	return l.err
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *staticSigner) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	signer := &staticSigner{}
	c := NewClient(Config{BaseURL: srv.URL, Address: wallet, MarginToken: "USDC", Timeout: 2 * time.Second}, signer, discardLogger())
	return c, signer
}

func TestBalance(t *testing.T) {
	c, signer := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/"+wallet+"/balance", r.URL.Path)
		assert.Equal(t, "USDC", r.URL.Query().Get("token"))
		assert.Equal(t, "0xsig", r.Header.Get("X-Kuru-Signature"))
		w.Write([]byte(`{"balance":"1234.5"}`))
	})

	bal, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("1234.5")))
	assert.Equal(t, http.MethodGet, signer.method)
	assert.Empty(t, signer.body)
}

func TestPositions(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ETH-USDC", r.URL.Query().Get("market"))
		w.Write([]byte(`{"positions":[
			{"market":"ETH-USDC","side":"long","size":"3"},
			{"market":"ETH-USDC","side":"SELL","size":"1"}
		]}`))
	})

	pos, err := c.Positions(context.Background(), "ETH-USDC")
	require.NoError(t, err)
	require.Len(t, pos, 2)
	assert.Equal(t, domain.PositionLong, pos[0].Side)
	assert.Equal(t, domain.PositionShort, pos[1].Side)
	assert.True(t, domain.NetPosition(pos).Equal(decimal.NewFromInt(2)))
}

func TestPlaceLimitOrderSignsBody(t *testing.T) {
	var got orderRequest
	c, signer := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"order_id":"k-1"}`))
	})

	id, err := c.PlaceLimitOrder(context.Background(), "ETH-USDC", domain.SideBuy,
		decimal.NewFromInt(100), decimal.RequireFromString("1.5"), true)
	require.NoError(t, err)
	assert.Equal(t, "k-1", id)
	assert.Equal(t, domain.OrderTypeLimit, got.Type)
	assert.True(t, got.PostOnly)
	require.NotNil(t, got.Price)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, http.MethodPost, signer.method)
	assert.Equal(t, "/orders", signer.path)
	assert.Contains(t, string(signer.body), `"post_only":true`)
}

func TestPlaceMarketOrderOmitsPrice(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NotContains(t, string(body), "price")
		assert.Contains(t, string(body), `"type":"market"`)
		w.Write([]byte(`{"order_id":"k-2"}`))
	})

	id, err := c.PlaceMarketOrder(context.Background(), "ETH-USDC", domain.SideSell, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, "k-2", id)
}

func TestPlaceOrderWithoutID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	_, err := c.PlaceMarketOrder(context.Background(), "ETH-USDC", domain.SideSell, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrOrderExecution)
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
		kind   domain.ErrorKind
	}{
		{http.StatusBadRequest, `{"error":"bad size"}`, domain.ErrInvalidOrder, domain.KindInvalidOrder},
		{http.StatusUnprocessableEntity, `nope`, domain.ErrInvalidOrder, domain.KindInvalidOrder},
		{http.StatusPaymentRequired, `{}`, domain.ErrInsufficientBalance, domain.KindInsufficientFunds},
		{http.StatusBadRequest, `{"message":"Insufficient margin"}`, domain.ErrInsufficientBalance, domain.KindInsufficientFunds},
		{http.StatusTooManyRequests, `slow down`, domain.ErrRateLimited, domain.KindConnection},
		{http.StatusBadGateway, `upstream`, domain.ErrOrderExecution, domain.KindExecution},
		{http.StatusUnauthorized, `who`, domain.ErrUnauthorized, domain.KindUnknown},
	}
	for _, tc := range cases {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(tc.body))
		})
		_, err := c.PlaceMarketOrder(context.Background(), "ETH-USDC", domain.SideBuy, decimal.NewFromInt(1))
		require.Error(t, err, "status %d", tc.status)
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		assert.Equal(t, tc.kind, domain.KindOf(err), "status %d", tc.status)
	}

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.Balance(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnection, "429 is retriable")
}

func TestTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url, Address: wallet}, nil, discardLogger())
	_, err := c.Balance(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnection)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()
	c = NewClient(Config{BaseURL: slow.URL, Address: wallet, Timeout: 20 * time.Millisecond}, nil, discardLogger())
	_, err = c.Balance(context.Background())
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestCancelOrders(t *testing.T) {
	calls := 0
	var got cancelRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/orders/cancel", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.CancelOrders(context.Background(), "ETH-USDC", nil))
	assert.Zero(t, calls, "empty cancel sends nothing")

	require.NoError(t, c.CancelOrders(context.Background(), "ETH-USDC", []string{"a", "b"}))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"a", "b"}, got.OrderIDs)
}

func TestRateLimiterConsulted(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balance":"1"}`))
	})
	lim := &countingLimiter{}
	c.SetRateLimiter(lim)

	_, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.Zero(t, lim.waits, "no limit configured")

	c.cfg.RateLimit = 5
	_, err = c.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, lim.waits)
}

type fillRecorder struct {
	mu    sync.Mutex
	fills []domain.Fill
	got   chan struct{}
}

func (r *fillRecorder) HandleFill(_ context.Context, f domain.Fill) {
	r.mu.Lock()
	r.fills = append(r.fills, f)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func TestWSClientDispatchesFills(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subs := make(chan WSCommand, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd WSCommand
		if conn.ReadJSON(&cmd) != nil {
			return
		}
		subs <- cmd

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"fill","order_id":"k-1","market":"ETH-USDC","size":"0.5","price":"101","timestamp":1700000000000}`))
		// hold the connection open until the client goes away
		conn.ReadMessage()
	}))
	defer srv.Close()

	rec := &fillRecorder{got: make(chan struct{}, 1)}
	ws := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), wallet, []string{"ETH-USDC"}, rec, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Run(ctx) }()

	select {
	case cmd := <-subs:
		assert.Equal(t, "subscribe", cmd.Type)
		assert.Equal(t, fillChannel, cmd.Channel)
		assert.Equal(t, wallet, cmd.Address)
		assert.Equal(t, []string{"ETH-USDC"}, cmd.Markets)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
	}

	select {
	case <-rec.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no fill dispatched")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.fills, 1)
	f := rec.fills[0]
	assert.Equal(t, "k-1", f.OrderID)
	assert.True(t, f.Size.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), f.At)
}

func TestWSClientReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	connects := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		connects++
		mu.Unlock()
		// drop immediately after the subscription
		conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	ws := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), wallet, nil, &fillRecorder{got: make(chan struct{}, 1)}, discardLogger())
	ws.baseDelay = 5 * time.Millisecond
	ws.maxDelay = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, ws.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, connects, 2)
}
