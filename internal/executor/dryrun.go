package executor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// DryRunIDPrefix marks order ids produced by DryRunPlacer.
const DryRunIDPrefix = "dry-run-"

// DryRunPlacer logs orders instead of sending them.
type DryRunPlacer struct {
	logger *slog.Logger
}

var _ OrderPlacer = (*DryRunPlacer)(nil)

// NewDryRunPlacer creates a DryRunPlacer.
func NewDryRunPlacer(logger *slog.Logger) *DryRunPlacer {
	return &DryRunPlacer{logger: logger.With(slog.String("component", "dry_run"))}
}

// PlaceLimitOrder logs the order and returns a synthetic id.
func (p *DryRunPlacer) PlaceLimitOrder(ctx context.Context, market string, side domain.Side, price, size decimal.Decimal, postOnly bool) (string, error) {
	id := DryRunIDPrefix + uuid.NewString()
	p.logger.InfoContext(ctx, "dry run: limit order",
		slog.String("order_id", id),
		slog.String("market", market),
		slog.String("side", string(side)),
		slog.String("price", price.String()),
		slog.String("size", size.String()),
		slog.Bool("post_only", postOnly),
	)
	return id, nil
}

// PlaceMarketOrder logs the order and returns a synthetic id.
func (p *DryRunPlacer) PlaceMarketOrder(ctx context.Context, market string, side domain.Side, size decimal.Decimal) (string, error) {
	id := DryRunIDPrefix + uuid.NewString()
	p.logger.InfoContext(ctx, "dry run: market order",
		slog.String("order_id", id),
		slog.String("market", market),
		slog.String("side", string(side)),
		slog.String("size", size.String()),
	)
	return id, nil
}

// CancelOrders logs the cancellation.
func (p *DryRunPlacer) CancelOrders(ctx context.Context, market string, orderIDs []string) error {
	p.logger.InfoContext(ctx, "dry run: cancel orders",
		slog.String("market", market),
		slog.String("order_ids", strings.Join(orderIDs, ",")),
	)
	return nil
}
