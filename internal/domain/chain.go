package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a chain transaction as seen by the wallet monitor.
type Transaction struct {
	Hash        string
	From        string
	To          string
	BlockNumber uint64
	Timestamp   time.Time
}

// RawLog is an undecoded event log. Topics and Data are kept as hex strings
// so malformed records can reach the decoder and be rejected there.
type RawLog struct {
	Address     string
	Topics      []string
	Data        string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	Timestamp   *time.Time
}

// ChainEvent is implemented by every decoded venue event. Consumers switch
// on the concrete type.
type ChainEvent interface {
	eventTxHash() string
}

// OrderCreated is a resting order placed by a trader on the venue.
type OrderCreated struct {
	OrderID string
	Trader  string
	Market  string
	Side    Side
	Price   decimal.Decimal
	Size    decimal.Decimal
	TxHash  string
}

// OrdersCanceled reports that a trader removed one or more resting orders.
type OrdersCanceled struct {
	OrderIDs []string
	Trader   string
	Market   string
	TxHash   string
}

func (t Trade) eventTxHash() string          { return t.TxHash }
func (o OrderCreated) eventTxHash() string   { return o.TxHash }
func (o OrdersCanceled) eventTxHash() string { return o.TxHash }
