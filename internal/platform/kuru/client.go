// Package kuru talks to the Kuru exchange: REST for account state and order
// entry, a websocket feed for fills on our own orders.
package kuru

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copybot/internal/domain"
)

const rateLimitKey = "kuru:rest"

// RequestSigner produces authentication headers for one request.
type RequestSigner interface {
	Headers(method, path string, body []byte) (map[string]string, error)
}

// Config holds the REST connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Address is the trading wallet whose balance and positions are read.
	Address string
	// MarginToken selects the balance to size against. Empty means the
	// exchange default.
	MarginToken string
	// RateLimit caps requests per RateWindow when a limiter is set.
	RateLimit  int
	RateWindow time.Duration
}

// Client is the exchange connector.
type Client struct {
	http    *resty.Client
	cfg     Config
	signer  RequestSigner
	limiter domain.RateLimiter
	logger  *slog.Logger
}

// NewClient creates a Client. signer may be nil for read-only use.
func NewClient(cfg Config, signer RequestSigner, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("Accept", "application/json"),
		cfg:    cfg,
		signer: signer,
		logger: logger.With(slog.String("component", "kuru")),
	}
}

// SetRateLimiter throttles every request through l.
func (c *Client) SetRateLimiter(l domain.RateLimiter) { c.limiter = l }

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type positionJSON struct {
	Market string          `json:"market"`
	Side   string          `json:"side"`
	Size   decimal.Decimal `json:"size"`
}

type positionsResponse struct {
	Positions []positionJSON `json:"positions"`
}

type orderRequest struct {
	Market   string           `json:"market"`
	Side     string           `json:"side"`
	Type     domain.OrderType `json:"type"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Size     decimal.Decimal  `json:"size"`
	PostOnly bool             `json:"post_only,omitempty"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
}

type cancelRequest struct {
	Market   string   `json:"market"`
	OrderIDs []string `json:"order_ids"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Balance returns the available margin balance.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	var out balanceResponse
	query := map[string]string{}
	if c.cfg.MarginToken != "" {
		query["token"] = c.cfg.MarginToken
	}
	if err := c.do(ctx, http.MethodGet, "/accounts/"+c.cfg.Address+"/balance", query, nil, &out); err != nil {
		return decimal.Zero, fmt.Errorf("kuru: balance: %w", err)
	}
	return out.Balance, nil
}

// Positions returns the open positions in market.
func (c *Client) Positions(ctx context.Context, market string) ([]domain.Position, error) {
	var out positionsResponse
	if err := c.do(ctx, http.MethodGet, "/accounts/"+c.cfg.Address+"/positions", map[string]string{"market": market}, nil, &out); err != nil {
		return nil, fmt.Errorf("kuru: positions: %w", err)
	}
	positions := make([]domain.Position, 0, len(out.Positions))
	for _, p := range out.Positions {
		side := domain.PositionLong
		if strings.EqualFold(p.Side, string(domain.PositionShort)) || strings.EqualFold(p.Side, string(domain.SideSell)) {
			side = domain.PositionShort
		}
		positions = append(positions, domain.Position{Market: p.Market, Side: side, Size: p.Size})
	}
	return positions, nil
}

// PlaceLimitOrder submits a limit order and returns the exchange order id.
func (c *Client) PlaceLimitOrder(ctx context.Context, market string, side domain.Side, price, size decimal.Decimal, postOnly bool) (string, error) {
	id, err := c.place(ctx, orderRequest{
		Market:   market,
		Side:     string(side),
		Type:     domain.OrderTypeLimit,
		Price:    &price,
		Size:     size,
		PostOnly: postOnly,
	})
	if err != nil {
		return "", fmt.Errorf("kuru: place limit order: %w", err)
	}
	return id, nil
}

// PlaceMarketOrder submits a market order and returns the exchange order id.
func (c *Client) PlaceMarketOrder(ctx context.Context, market string, side domain.Side, size decimal.Decimal) (string, error) {
	id, err := c.place(ctx, orderRequest{
		Market: market,
		Side:   string(side),
		Type:   domain.OrderTypeMarket,
		Size:   size,
	})
	if err != nil {
		return "", fmt.Errorf("kuru: place market order: %w", err)
	}
	return id, nil
}

func (c *Client) place(ctx context.Context, req orderRequest) (string, error) {
	var out orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", nil, req, &out); err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("%w: response carried no order id", domain.ErrOrderExecution)
	}
	c.logger.InfoContext(ctx, "order accepted",
		slog.String("order_id", out.OrderID),
		slog.String("market", req.Market),
		slog.String("side", req.Side),
		slog.String("type", string(req.Type)),
		slog.String("size", req.Size.String()),
	)
	return out.OrderID, nil
}

// CancelOrders cancels orderIDs in market with one request.
func (c *Client) CancelOrders(ctx context.Context, market string, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/orders/cancel", nil, cancelRequest{Market: market, OrderIDs: orderIDs}, nil); err != nil {
		return fmt.Errorf("kuru: cancel orders: %w", err)
	}
	return nil
}

// do sends one signed request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	if c.limiter != nil && c.cfg.RateLimit > 0 {
		if err := c.limiter.Wait(ctx, rateLimitKey, c.cfg.RateLimit, c.cfg.RateWindow); err != nil {
			return fmt.Errorf("rate limit: %w", transportError(err))
		}
	}

	req := c.http.R().SetContext(ctx).SetQueryParams(query)
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%w: marshal request: %w", domain.ErrInvalidOrder, err)
		}
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}
	if c.signer != nil {
		headers, err := c.signer.Headers(method, path, payload)
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		req.SetHeaders(headers)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return transportError(err)
	}
	if resp.IsError() {
		return statusError(resp)
	}
	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("%w: decode response: %w", domain.ErrOrderExecution, err)
		}
	}
	return nil
}

func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrConnection, err)
}

// statusError maps a non-2xx response onto the execution sentinels. 5xx and
// anything unlisted count as execution failures.
func statusError(resp *resty.Response) error {
	msg := strings.TrimSpace(resp.String())
	var er errorResponse
	if json.Unmarshal(resp.Body(), &er) == nil {
		if er.Error != "" {
			msg = er.Error
		} else if er.Message != "" {
			msg = er.Message
		}
	}
	code := resp.StatusCode()

	var sentinel error
	switch {
	case code == http.StatusPaymentRequired || strings.Contains(strings.ToLower(msg), "insufficient"):
		sentinel = domain.ErrInsufficientBalance
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		sentinel = domain.ErrInvalidOrder
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: status %d: %s", domain.ErrRateLimited, domain.ErrConnection, code, msg)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		sentinel = domain.ErrUnauthorized
	case code == http.StatusNotFound:
		sentinel = domain.ErrNotFound
	default:
		sentinel = domain.ErrOrderExecution
	}
	return fmt.Errorf("%w: status %d: %s", sentinel, code, msg)
}
