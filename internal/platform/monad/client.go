// Package monad reads transactions and receipt logs from the Monad chain
// over JSON-RPC.
package monad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// DefaultMaxBlocks caps how far one LatestTransactions call scans past its
// starting block.
const DefaultMaxBlocks = 1000

// Config holds the RPC connection settings.
type Config struct {
	RPCURL    string
	Timeout   time.Duration
	MaxBlocks uint64
}

// reader is the subset of ethclient.Client the client uses.
type reader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client is the chain connector.
type Client struct {
	rpc       reader
	closer    func()
	signer    types.Signer
	timeout   time.Duration
	maxBlocks uint64
	logger    *slog.Logger
}

// Dial connects to the RPC endpoint and resolves the chain id.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("monad: dial %s: %w: %w", cfg.RPCURL, domain.ErrConnection, err)
	}
	c, err := newClient(ctx, ec, cfg, logger)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close
	return c, nil
}

func newClient(ctx context.Context, rpc reader, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBlocks == 0 {
		cfg.MaxBlocks = DefaultMaxBlocks
	}
	c := &Client{
		rpc:       rpc,
		closer:    func() {},
		timeout:   cfg.Timeout,
		maxBlocks: cfg.MaxBlocks,
		logger:    logger.With(slog.String("component", "monad")),
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	chainID, err := rpc.ChainID(callCtx)
	if err != nil {
		return nil, fmt.Errorf("monad: chain id: %w", classify(err))
	}
	c.signer = types.LatestSignerForChainID(chainID)
	return c, nil
}

// Close releases the RPC connection.
func (c *Client) Close() { c.closer() }

// BlockNumber returns the current head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("monad: block number: %w", classify(err))
	}
	return n, nil
}

// LatestTransactions scans blocks [from, min(head, from+MaxBlocks)] and
// returns the transactions sent from or to any of addresses. A zero from
// scans only the head block. The scan stops at the first block that cannot be
// fetched; scannedTo then points at the block before it so the next call
// resumes there.
func (c *Client) LatestTransactions(ctx context.Context, from uint64, addresses []string) ([]domain.Transaction, uint64, error) {
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, 0, err
	}
	if from == 0 {
		from = head
	}
	if from > head {
		return nil, from - 1, nil
	}
	to := head
	if head-from > c.maxBlocks {
		to = from + c.maxBlocks
		c.logger.WarnContext(ctx, "block range exceeds maximum, limiting scan",
			slog.Uint64("from_block", from),
			slog.Uint64("head", head),
			slog.Uint64("to_block", to),
		)
	}

	watch := make(map[common.Address]struct{}, len(addresses))
	for _, a := range addresses {
		if common.IsHexAddress(a) {
			watch[common.HexToAddress(a)] = struct{}{}
		}
	}

	var out []domain.Transaction
	for n := from; n <= to; n++ {
		if err := ctx.Err(); err != nil {
			return out, n - 1, err
		}
		block, err := c.block(ctx, n)
		if err != nil {
			c.logger.WarnContext(ctx, "fetch block failed, resuming here next scan",
				slog.Uint64("block", n),
				slog.String("error", err.Error()),
			)
			return out, n - 1, nil
		}
		out = append(out, c.match(block, watch)...)
	}
	return out, to, nil
}

func (c *Client) block(ctx context.Context, n uint64) (*types.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	b, err := c.rpc.BlockByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return nil, fmt.Errorf("monad: block %d: %w", n, classify(err))
	}
	return b, nil
}

func (c *Client) match(block *types.Block, watch map[common.Address]struct{}) []domain.Transaction {
	ts := time.Unix(int64(block.Time()), 0).UTC()
	var out []domain.Transaction
	for _, tx := range block.Transactions() {
		from, err := types.Sender(c.signer, tx)
		if err != nil {
			continue
		}
		var to common.Address
		if tx.To() != nil {
			to = *tx.To()
		}
		_, fromHit := watch[from]
		_, toHit := watch[to]
		if !fromHit && !toHit {
			continue
		}
		rec := domain.Transaction{
			Hash:        tx.Hash().Hex(),
			From:        strings.ToLower(from.Hex()),
			BlockNumber: block.NumberU64(),
			Timestamp:   ts,
		}
		if tx.To() != nil {
			rec.To = strings.ToLower(to.Hex())
		}
		out = append(out, rec)
	}
	return out
}

// Logs returns the receipt logs of txHash stamped with the block time.
func (c *Client) Logs(ctx context.Context, txHash string) ([]domain.RawLog, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := c.rpc.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("monad: receipt %s: %w", txHash, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("monad: receipt %s: %w", txHash, classify(err))
	}

	var blockTime *time.Time
	if receipt.BlockNumber != nil {
		header, err := c.rpc.HeaderByNumber(ctx, receipt.BlockNumber)
		if err == nil {
			t := time.Unix(int64(header.Time), 0).UTC()
			blockTime = &t
		}
	}

	out := make([]domain.RawLog, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		topics := make([]string, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = t.Hex()
		}
		out = append(out, domain.RawLog{
			Address:     strings.ToLower(l.Address.Hex()),
			Topics:      topics,
			Data:        hexutil.Encode(l.Data),
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash.Hex(),
			LogIndex:    l.Index,
			Timestamp:   blockTime,
		})
	}
	return out, nil
}

// classify maps an RPC failure onto the domain's transport sentinels.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrConnection, err)
}
