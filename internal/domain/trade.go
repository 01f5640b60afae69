package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side indicates whether a trade or order buys or sells the base asset.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	hashPattern    = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool { return addressPattern.MatchString(s) }

// IsTxHash reports whether s is a 0x-prefixed 32-byte hex hash.
func IsTxHash(s string) bool { return hashPattern.MatchString(s) }

// Trade is an immutable fact describing one fill executed by a source wallet.
// Build it with NewTrade, which enforces the address, hash and quantity rules.
type Trade struct {
	ID            string          `json:"id"`
	TraderAddress string          `json:"trader_address"`
	Market        string          `json:"market"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	Timestamp     time.Time       `json:"timestamp"`
	TxHash        string          `json:"tx_hash"`
}

// NewTrade validates its inputs and returns a Trade. The trader address is
// lower-cased and the timestamp normalised to UTC.
func NewTrade(id, trader, market string, side Side, price, size decimal.Decimal, ts time.Time, txHash string) (Trade, error) {
	switch {
	case id == "":
		return Trade{}, fmt.Errorf("%w: empty trade id", ErrInvalidTrade)
	case !IsAddress(trader):
		return Trade{}, fmt.Errorf("%w: invalid trader address %q", ErrInvalidTrade, trader)
	case !IsTxHash(txHash):
		return Trade{}, fmt.Errorf("%w: invalid tx hash %q", ErrInvalidTrade, txHash)
	case strings.TrimSpace(market) == "":
		return Trade{}, fmt.Errorf("%w: empty market", ErrInvalidTrade)
	case !side.Valid():
		return Trade{}, fmt.Errorf("%w: invalid side %q", ErrInvalidTrade, side)
	case !price.IsPositive():
		return Trade{}, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidTrade, price)
	case !size.IsPositive():
		return Trade{}, fmt.Errorf("%w: size must be positive, got %s", ErrInvalidTrade, size)
	case ts.IsZero():
		return Trade{}, fmt.Errorf("%w: missing timestamp", ErrInvalidTrade)
	}

	return Trade{
		ID:            id,
		TraderAddress: strings.ToLower(trader),
		Market:        market,
		Side:          side,
		Price:         price,
		Size:          size,
		Timestamp:     ts.UTC(),
		TxHash:        txHash,
	}, nil
}

// Notional returns price × size.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// WithSize returns a copy of t carrying a different size. It is used to build
// the mirrored candidate trade, so the id is prefixed to mark it as ours.
func (t Trade) WithSize(size decimal.Decimal) Trade {
	out := t
	out.Size = size
	if !strings.HasPrefix(out.ID, MirrorPrefix) {
		out.ID = MirrorPrefix + t.ID
	}
	return out
}

// MirrorPrefix marks ids of trades derived from a source trade.
const MirrorPrefix = "mirror_"
