package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// CopyStore implements domain.CopyStore.
type CopyStore struct {
	pool *pgxpool.Pool
}

// NewCopyStore creates a CopyStore backed by pool.
func NewCopyStore(pool *pgxpool.Pool) *CopyStore {
	return &CopyStore{pool: pool}
}

const copiedOrderColumns = `order_id, source_trade_id, source_trader, market, side, order_type,
	price::text, size::text, dry_run, created_at`

// Insert records a placed order. Inserting the same order id twice is a no-op.
func (s *CopyStore) Insert(ctx context.Context, o domain.CopiedOrder) error {
	const query = `
		INSERT INTO copied_orders (
			order_id, source_trade_id, source_trader, market, side, order_type,
			price, size, dry_run, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10)
		ON CONFLICT (order_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		o.OrderID, o.SourceTradeID, o.SourceTrader, o.Market,
		string(o.Side), string(o.Type),
		o.Price.String(), o.Size.String(), o.DryRun, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert copied order %s: %w", o.OrderID, err)
	}
	return nil
}

// ListByMarket returns the orders placed in market, newest first.
func (s *CopyStore) ListByMarket(ctx context.Context, market string, opts domain.ListOpts) ([]domain.CopiedOrder, error) {
	clause, args := windowClause("created_at", opts, []any{market})
	query := `SELECT ` + copiedOrderColumns + ` FROM copied_orders WHERE market = $1` + clause

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copied orders for %s: %w", market, err)
	}
	return collectCopiedOrders(rows)
}

// ListRecent returns the latest limit orders across all markets.
func (s *CopyStore) ListRecent(ctx context.Context, limit int) ([]domain.CopiedOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+copiedOrderColumns+` FROM copied_orders ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent copied orders: %w", err)
	}
	return collectCopiedOrders(rows)
}

func collectCopiedOrders(rows pgx.Rows) ([]domain.CopiedOrder, error) {
	defer rows.Close()

	var out []domain.CopiedOrder
	for rows.Next() {
		var (
			o           domain.CopiedOrder
			side, typ   string
			price, size string
		)
		if err := rows.Scan(&o.OrderID, &o.SourceTradeID, &o.SourceTrader, &o.Market,
			&side, &typ, &price, &size, &o.DryRun, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan copied order: %w", err)
		}
		o.Side = domain.Side(side)
		o.Type = domain.OrderType(typ)
		var err error
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("postgres: copied order %s price: %w", o.OrderID, err)
		}
		if o.Size, err = decimal.NewFromString(size); err != nil {
			return nil, fmt.Errorf("postgres: copied order %s size: %w", o.OrderID, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list copied orders rows: %w", err)
	}
	return out, nil
}

var _ domain.CopyStore = (*CopyStore)(nil)
