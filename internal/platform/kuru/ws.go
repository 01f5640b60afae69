package kuru

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copybot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second

	fillChannel = "fills"
)

// FillHandler receives fills for our own orders.
type FillHandler interface {
	HandleFill(ctx context.Context, fill domain.Fill)
}

// WSCommand is a subscription request sent to the feed.
type WSCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Markets []string `json:"markets,omitempty"`
	Address string   `json:"address,omitempty"`
}

type fillMessage struct {
	Type      string          `json:"type"`
	OrderID   string          `json:"order_id"`
	Market    string          `json:"market"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"` // unix millis
}

// WSClient follows the fill channel for one wallet and a set of markets.
// Run owns the connection and reconnects with exponential backoff.
type WSClient struct {
	url     string
	address string
	markets []string
	handler FillHandler
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	// retry delays, overridable in tests
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewWSClient creates a fill feed client.
func NewWSClient(url, address string, markets []string, handler FillHandler, logger *slog.Logger) *WSClient {
	return &WSClient{
		url:       url,
		address:   address,
		markets:   markets,
		handler:   handler,
		logger:    logger.With(slog.String("component", "kuru_ws")),
		baseDelay: reconnectDelay,
		maxDelay:  maxReconnectDelay,
	}
}

// Run connects, subscribes and dispatches fills until ctx is cancelled.
func (w *WSClient) Run(ctx context.Context) error {
	delay := w.baseDelay
	for {
		err := w.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		w.logger.WarnContext(ctx, "fill feed disconnected",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > w.maxDelay {
			delay = w.maxDelay
		}
	}
}

// session runs one connection until it fails.
func (w *WSClient) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("kuru/ws: connect: %w: %w", domain.ErrWSDisconnect, err)
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := w.send(WSCommand{
		Type:    "subscribe",
		Channel: fillChannel,
		Markets: w.markets,
		Address: w.address,
	}); err != nil {
		return fmt.Errorf("kuru/ws: subscribe: %w", err)
	}
	w.logger.InfoContext(ctx, "fill feed subscribed", slog.Int("markets", len(w.markets)))

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.pingLoop(sessionCtx)
	go func() {
		<-sessionCtx.Done()
		// unblocks ReadMessage on shutdown
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("kuru/ws: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		w.handleMessage(ctx, raw)
	}
}

func (w *WSClient) send(cmd WSCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return domain.ErrWSDisconnect
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			conn := w.conn
			if conn == nil {
				w.mu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage routes one frame. Frames that are not fills are ignored.
func (w *WSClient) handleMessage(ctx context.Context, raw []byte) {
	var msg fillMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.logger.DebugContext(ctx, "dropping unparseable frame", slog.String("error", err.Error()))
		return
	}
	if msg.Type != "fill" || msg.OrderID == "" {
		return
	}
	at := time.Now().UTC()
	if msg.Timestamp > 0 {
		at = time.UnixMilli(msg.Timestamp).UTC()
	}
	w.handler.HandleFill(ctx, domain.Fill{
		OrderID: msg.OrderID,
		Market:  msg.Market,
		Size:    msg.Size,
		Price:   msg.Price,
		At:      at,
	})
}
