// Package monitor watches the chain for transactions that tracked source
// wallets send to the venue contract.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// TransactionSource lists chain transactions starting at a block and reports
// the last block it scanned. A zero fromBlock means "start at the current
// head".
type TransactionSource interface {
	LatestTransactions(ctx context.Context, fromBlock uint64, addresses []string) (txs []domain.Transaction, scannedTo uint64, err error)
}

// Cleaner is implemented by seen sets that need periodic sweeping.
type Cleaner interface {
	Cleanup() int
}

// Config selects what the monitor follows.
type Config struct {
	Wallets  []string
	Contract string
	// FromBlock is the first block to scan. Zero starts at the chain head.
	FromBlock uint64
}

// WalletMonitor turns chain transactions into a stream of new, relevant
// transactions. Poll is meant to be called from one goroutine; the status
// methods may be called from anywhere.
type WalletMonitor struct {
	source   TransactionSource
	seen     domain.SeenSet
	wallets  map[string]struct{}
	addrs    []string
	contract string
	start    uint64
	logger   *slog.Logger

	running atomic.Bool

	mu        sync.Mutex
	cursor    uint64 // next block to scan, zero until the first scan
	lastBlock uint64
	hasBlock  bool
}

// New creates a WalletMonitor. A nil seen set uses an in-memory one.
func New(cfg Config, source TransactionSource, seen domain.SeenSet, logger *slog.Logger) *WalletMonitor {
	if seen == nil {
		seen = NewMemorySeenSet(DefaultSeenTTL)
	}
	wallets := make(map[string]struct{}, len(cfg.Wallets))
	addrs := make([]string, 0, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		w = strings.ToLower(strings.TrimSpace(w))
		if _, dup := wallets[w]; dup || w == "" {
			continue
		}
		wallets[w] = struct{}{}
		addrs = append(addrs, w)
	}
	return &WalletMonitor{
		source:   source,
		seen:     seen,
		wallets:  wallets,
		addrs:    addrs,
		contract: strings.ToLower(strings.TrimSpace(cfg.Contract)),
		start:    cfg.FromBlock,
		logger:   logger.With(slog.String("component", "wallet_monitor")),
	}
}

// Poll returns the transactions from tracked wallets to the venue contract
// that were not returned before. Connection failures are logged and yield an
// empty batch; any other failure is returned wrapped in domain.ErrConnection.
// A seen-set failure returns the transactions accepted so far together with
// the error and leaves the scan cursor in place.
func (m *WalletMonitor) Poll(ctx context.Context) ([]domain.Transaction, error) {
	from := m.nextBlock()
	txs, scannedTo, err := m.source.LatestTransactions(ctx, from, m.addrs)
	if err != nil {
		if errors.Is(err, domain.ErrConnection) || errors.Is(err, domain.ErrTimeout) {
			m.logger.WarnContext(ctx, "chain unavailable, skipping poll",
				slog.Uint64("from_block", from),
				slog.String("error", err.Error()),
			)
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("monitor: get transactions: %w: %w", domain.ErrConnection, err)
	}

	var fresh []domain.Transaction
	for _, tx := range txs {
		if tx.Hash == "" || tx.From == "" || tx.To == "" {
			continue
		}
		if !m.relevant(tx) {
			continue
		}
		isNew, err := m.seen.MarkSeen(ctx, strings.ToLower(tx.Hash))
		if err != nil {
			return fresh, fmt.Errorf("monitor: mark seen: %w", err)
		}
		if !isNew {
			continue
		}
		fresh = append(fresh, tx)
		m.advance(tx.BlockNumber)
	}
	m.moveCursor(scannedTo)

	if len(fresh) > 0 {
		m.logger.InfoContext(ctx, "new source transactions",
			slog.Int("count", len(fresh)),
			slog.Uint64("last_block", m.lastBlockValue()),
		)
	}
	return fresh, nil
}

func (m *WalletMonitor) relevant(tx domain.Transaction) bool {
	if !strings.EqualFold(tx.To, m.contract) {
		return false
	}
	_, ok := m.wallets[strings.ToLower(tx.From)]
	return ok
}

func (m *WalletMonitor) nextBlock() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor > 0 {
		return m.cursor
	}
	return m.start
}

func (m *WalletMonitor) moveCursor(scannedTo uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if scannedTo+1 > m.cursor {
		m.cursor = scannedTo + 1
	}
}

func (m *WalletMonitor) advance(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasBlock || block > m.lastBlock {
		m.lastBlock = block
		m.hasBlock = true
	}
}

func (m *WalletMonitor) lastBlockValue() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBlock
}

// LastBlock returns the highest block that produced a returned transaction.
func (m *WalletMonitor) LastBlock() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBlock, m.hasBlock
}

// Wallets returns the tracked wallets, lower-cased.
func (m *WalletMonitor) Wallets() []string {
	out := make([]string, len(m.addrs))
	copy(out, m.addrs)
	return out
}

// Start marks the monitor as running.
func (m *WalletMonitor) Start() { m.running.Store(true) }

// Stop marks the monitor as stopped.
func (m *WalletMonitor) Stop() { m.running.Store(false) }

// Running reports whether Start was called without a later Stop.
func (m *WalletMonitor) Running() bool { return m.running.Load() }

// Reset forgets seen transactions, the scan cursor and the last processed
// block.
func (m *WalletMonitor) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.cursor = 0
	m.lastBlock = 0
	m.hasBlock = false
	m.mu.Unlock()
	if err := m.seen.Reset(ctx); err != nil {
		return fmt.Errorf("monitor: reset seen set: %w", err)
	}
	return nil
}

// Cleanup sweeps the seen set when it supports sweeping.
func (m *WalletMonitor) Cleanup() int {
	if c, ok := m.seen.(Cleaner); ok {
		return c.Cleanup()
	}
	return 0
}
