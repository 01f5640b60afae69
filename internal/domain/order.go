package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType selects how a mirrored order is sent to the exchange.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the fill state of a tracked order.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
)

// OrderFillState is the cumulative fill record of one placed order.
// Filled is always within [0, Size].
type OrderFillState struct {
	OrderID   string          `json:"order_id"`
	Size      decimal.Decimal `json:"size"`
	Filled    decimal.Decimal `json:"filled"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Remaining returns the unfilled part of the order.
func (s OrderFillState) Remaining() decimal.Decimal {
	return s.Size.Sub(s.Filled)
}

// Fill is an incremental execution reported by the exchange for one of our
// orders.
type Fill struct {
	OrderID string
	Market  string
	Size    decimal.Decimal
	Price   decimal.Decimal
	At      time.Time
}

// CopiedOrder is the record of a mirrored order placed on the exchange.
type CopiedOrder struct {
	OrderID       string          `json:"order_id"`
	SourceTradeID string          `json:"source_trade_id"`
	SourceTrader  string          `json:"source_trader"`
	Market        string          `json:"market"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	DryRun        bool            `json:"dry_run"`
	CreatedAt     time.Time       `json:"created_at"`
}
