package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// LogSource fetches the event logs a transaction emitted.
type LogSource interface {
	Logs(ctx context.Context, txHash string) ([]domain.RawLog, error)
}

// Decoder turns a raw log into a venue event. ok is false for logs that are
// not venue events or could not be decoded.
type Decoder interface {
	Decode(log domain.RawLog) (ev domain.ChainEvent, ok bool)
}

// ProcessResult counts what one batch of transactions produced.
type ProcessResult struct {
	Transactions int
	Logs         int
	Events       int
	Failed       int
}

// TransactionProcessor fetches the logs of new source transactions, decodes
// them and dispatches the resulting events in log order.
type TransactionProcessor struct {
	logs     LogSource
	decoder  Decoder
	handler  EventHandler
	contract string
	logger   *slog.Logger
}

// NewTransactionProcessor creates a TransactionProcessor. When contract is
// set, logs emitted by other addresses are ignored.
func NewTransactionProcessor(logs LogSource, decoder Decoder, handler EventHandler, contract string, logger *slog.Logger) *TransactionProcessor {
	return &TransactionProcessor{
		logs:     logs,
		decoder:  decoder,
		handler:  handler,
		contract: strings.ToLower(strings.TrimSpace(contract)),
		logger:   logger.With(slog.String("component", "tx_processor")),
	}
}

// Process handles txs in order. A transaction whose logs cannot be fetched is
// logged, counted as failed and skipped.
func (p *TransactionProcessor) Process(ctx context.Context, txs []domain.Transaction) ProcessResult {
	var res ProcessResult
	for _, tx := range txs {
		if ctx.Err() != nil {
			return res
		}
		res.Transactions++

		logs, err := p.logs.Logs(ctx, tx.Hash)
		if err != nil {
			res.Failed++
			p.logger.WarnContext(ctx, "fetch logs failed",
				slog.String("tx_hash", tx.Hash),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, l := range logs {
			if p.contract != "" && l.Address != "" && !strings.EqualFold(l.Address, p.contract) {
				continue
			}
			res.Logs++
			ev, ok := p.decoder.Decode(l)
			if !ok {
				continue
			}
			if Dispatch(ctx, p.handler, ev) {
				res.Events++
			}
		}
	}
	return res
}
