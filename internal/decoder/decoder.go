// Package decoder turns raw venue event logs into domain events. Decoding is
// total: malformed input yields ok == false, never an error or a panic.
package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copybot/internal/domain"
)

const wordSize = 32

// Minimum data words per event layout.
const (
	minTradeWords          = 3
	minOrderCreatedWords   = 4
	minOrdersCanceledWords = 1
)

var errMalformed = errors.New("malformed log")

// Config controls fixed-point scales and fallbacks.
type Config struct {
	PriceDecimals int32
	SizeDecimals  int32
	DefaultMarket string
	// Now supplies the timestamp for logs that carry no block time.
	Now func() time.Time
}

// DefaultConfig matches the venue contract: 18-decimal price and size.
func DefaultConfig() Config {
	return Config{
		PriceDecimals: 18,
		SizeDecimals:  18,
		DefaultMarket: "ETH-USDC",
		Now:           time.Now,
	}
}

// Decoder is stateless and safe for concurrent use.
type Decoder struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Decoder. Zero fields in cfg fall back to DefaultConfig.
func New(cfg Config, logger *slog.Logger) *Decoder {
	def := DefaultConfig()
	if cfg.PriceDecimals <= 0 {
		cfg.PriceDecimals = def.PriceDecimals
	}
	if cfg.SizeDecimals <= 0 {
		cfg.SizeDecimals = def.SizeDecimals
	}
	if strings.TrimSpace(cfg.DefaultMarket) == "" {
		cfg.DefaultMarket = def.DefaultMarket
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Decoder{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "decoder")),
	}
}

// Classify identifies the event kind from the first topic.
func (d *Decoder) Classify(log domain.RawLog) EventKind {
	if len(log.Topics) == 0 {
		return KindUnknown
	}
	return KindOf(log.Topics[0])
}

// Decode classifies log and decodes it with the matching layout. Unknown
// events and malformed records return ok == false.
func (d *Decoder) Decode(log domain.RawLog) (ev domain.ChainEvent, ok bool) {
	switch d.Classify(log) {
	case KindTrade:
		if t, ok := d.DecodeTrade(log); ok {
			return t, true
		}
	case KindOrderCreated:
		if o, ok := d.DecodeOrderCreated(log); ok {
			return o, true
		}
	case KindOrdersCanceled:
		if c, ok := d.DecodeOrdersCanceled(log); ok {
			return c, true
		}
	}
	return nil, false
}

// DecodeTrade decodes a trade log: trader in topics[1]; data words price,
// size, side flag (0 buy, 1 sell) and an optional market identifier.
func (d *Decoder) DecodeTrade(log domain.RawLog) (trade domain.Trade, ok bool) {
	defer d.recoverInto(log, &ok)

	trader, words, err := d.parse(log, minTradeWords)
	if err != nil {
		d.reject(log, KindTrade, err)
		return domain.Trade{}, false
	}

	price := d.scaled(words[0], d.cfg.PriceDecimals)
	size := d.scaled(words[1], d.cfg.SizeDecimals)

	sell, err := flag(words[2])
	if err != nil {
		d.reject(log, KindTrade, err)
		return domain.Trade{}, false
	}
	side := domain.SideBuy
	if sell {
		side = domain.SideSell
	}

	market := d.cfg.DefaultMarket
	if len(words) > minTradeWords {
		market = d.market(words[3])
	}

	if !price.IsPositive() || !size.IsPositive() {
		d.logger.Warn("trade log with non-positive quantity dropped",
			slog.String("tx_hash", log.TxHash),
			slog.String("price", price.String()),
			slog.String("size", size.String()),
		)
		return domain.Trade{}, false
	}

	trade, err = domain.NewTrade(
		tradeID(log), trader, market, side, price, size, d.timestamp(log), log.TxHash,
	)
	if err != nil {
		d.reject(log, KindTrade, err)
		return domain.Trade{}, false
	}
	return trade, true
}

// DecodeOrderCreated decodes an order creation log: owner in topics[1]; data
// words order id, size, price, buy flag (1 buy, 0 sell), optional market.
func (d *Decoder) DecodeOrderCreated(log domain.RawLog) (order domain.OrderCreated, ok bool) {
	defer d.recoverInto(log, &ok)

	trader, words, err := d.parse(log, minOrderCreatedWords)
	if err != nil {
		d.reject(log, KindOrderCreated, err)
		return domain.OrderCreated{}, false
	}

	buy, err := flag(words[3])
	if err != nil {
		d.reject(log, KindOrderCreated, err)
		return domain.OrderCreated{}, false
	}
	side := domain.SideSell
	if buy {
		side = domain.SideBuy
	}

	market := d.cfg.DefaultMarket
	if len(words) > minOrderCreatedWords {
		market = d.market(words[4])
	}

	order = domain.OrderCreated{
		OrderID: new(big.Int).SetBytes(words[0]).String(),
		Trader:  trader,
		Market:  market,
		Side:    side,
		Size:    d.scaled(words[1], d.cfg.SizeDecimals),
		Price:   d.scaled(words[2], d.cfg.PriceDecimals),
		TxHash:  log.TxHash,
	}
	if !order.Size.IsPositive() || !order.Price.IsPositive() {
		d.reject(log, KindOrderCreated, fmt.Errorf("%w: non-positive price or size", errMalformed))
		return domain.OrderCreated{}, false
	}
	return order, true
}

// DecodeOrdersCanceled decodes a cancellation log. The data is an ABI
// encoded uint40[]; a single leading id word is also accepted.
func (d *Decoder) DecodeOrdersCanceled(log domain.RawLog) (cancel domain.OrdersCanceled, ok bool) {
	defer d.recoverInto(log, &ok)

	trader, words, err := d.parse(log, minOrdersCanceledWords)
	if err != nil {
		d.reject(log, KindOrdersCanceled, err)
		return domain.OrdersCanceled{}, false
	}

	ids, err := orderIDs(words)
	if err != nil {
		d.reject(log, KindOrdersCanceled, err)
		return domain.OrdersCanceled{}, false
	}

	return domain.OrdersCanceled{
		OrderIDs: ids,
		Trader:   trader,
		TxHash:   log.TxHash,
	}, true
}

// parse validates the common envelope and splits data into 32-byte words.
func (d *Decoder) parse(log domain.RawLog, minWords int) (string, [][]byte, error) {
	if len(log.Topics) < 2 {
		return "", nil, fmt.Errorf("%w: need 2 topics, got %d", errMalformed, len(log.Topics))
	}

	trader, err := topicAddress(log.Topics[1])
	if err != nil {
		return "", nil, err
	}

	if log.Data == "" || log.Data == "0x" {
		return "", nil, fmt.Errorf("%w: empty data", errMalformed)
	}
	raw, err := hexutil.Decode(log.Data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: data: %v", errMalformed, err)
	}

	n := len(raw) / wordSize
	if n < minWords {
		return "", nil, fmt.Errorf("%w: need %d data words, got %d", errMalformed, minWords, n)
	}
	words := make([][]byte, n)
	for i := range words {
		words[i] = raw[i*wordSize : (i+1)*wordSize]
	}
	return trader, words, nil
}

// topicAddress extracts the address held in the low 20 bytes of a topic.
func topicAddress(topic string) (string, error) {
	b, err := hexutil.Decode(topic)
	if err != nil {
		return "", fmt.Errorf("%w: address topic: %v", errMalformed, err)
	}
	if len(b) != wordSize {
		return "", fmt.Errorf("%w: address topic is %d bytes", errMalformed, len(b))
	}
	return strings.ToLower(common.BytesToAddress(b[wordSize-common.AddressLength:]).Hex()), nil
}

func (d *Decoder) scaled(word []byte, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetBytes(word), -decimals)
}

// flag reads a boolean word. Anything other than 0 or 1 is malformed.
func flag(word []byte) (bool, error) {
	v := new(big.Int).SetBytes(word)
	switch {
	case v.Sign() == 0:
		return false, nil
	case v.IsInt64() && v.Int64() == 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: flag word %s is not 0 or 1", errMalformed, v)
	}
}

// market decodes a right-padded UTF-8 identifier, falling back to the
// default when the word is empty or not valid text.
func (d *Decoder) market(word []byte) string {
	text := strings.TrimRight(string(word), "\x00")
	if !utf8.ValidString(text) {
		return d.cfg.DefaultMarket
	}
	text = strings.TrimSpace(text)
	if text == "" || strings.ContainsRune(text, 0) {
		return d.cfg.DefaultMarket
	}
	return text
}

func orderIDs(words [][]byte) ([]string, error) {
	offset := new(big.Int).SetBytes(words[0])
	if len(words) >= 2 && offset.IsInt64() && offset.Int64() == wordSize {
		length := new(big.Int).SetBytes(words[1])
		if !length.IsInt64() || length.Int64() > int64(len(words)-2) {
			return nil, fmt.Errorf("%w: array length %s exceeds data", errMalformed, length)
		}
		n := int(length.Int64())
		ids := make([]string, 0, n)
		for _, w := range words[2 : 2+n] {
			ids = append(ids, new(big.Int).SetBytes(w).String())
		}
		return ids, nil
	}
	return []string{offset.String()}, nil
}

func (d *Decoder) timestamp(log domain.RawLog) time.Time {
	if log.Timestamp != nil && !log.Timestamp.IsZero() {
		return log.Timestamp.UTC()
	}
	return d.cfg.Now().UTC()
}

// tradeID is unique per log so several fills in one transaction stay apart.
func tradeID(log domain.RawLog) string {
	return fmt.Sprintf("%s-%d", log.TxHash, log.LogIndex)
}

func (d *Decoder) reject(log domain.RawLog, kind EventKind, err error) {
	d.logger.Debug("log not decoded",
		slog.String("kind", string(kind)),
		slog.String("tx_hash", log.TxHash),
		slog.Uint64("block", log.BlockNumber),
		slog.String("error", err.Error()),
	)
}

func (d *Decoder) recoverInto(log domain.RawLog, ok *bool) {
	if r := recover(); r != nil {
		*ok = false
		d.logger.Error("panic while decoding log",
			slog.String("tx_hash", log.TxHash),
			slog.Any("panic", r),
		)
	}
}
