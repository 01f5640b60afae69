package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// OrderMapStore implements domain.OrderMapStore so cancellations can be
// mirrored across restarts.
type OrderMapStore struct {
	pool *pgxpool.Pool
}

// NewOrderMapStore creates an OrderMapStore backed by pool.
func NewOrderMapStore(pool *pgxpool.Pool) *OrderMapStore {
	return &OrderMapStore{pool: pool}
}

// Put stores or replaces a mapping.
func (s *OrderMapStore) Put(ctx context.Context, sourceOrderID, mirroredOrderID, market string) error {
	const query = `
		INSERT INTO order_map (source_order_id, mirrored_order_id, market)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_order_id) DO UPDATE
		SET mirrored_order_id = EXCLUDED.mirrored_order_id, market = EXCLUDED.market`
	if _, err := s.pool.Exec(ctx, query, sourceOrderID, mirroredOrderID, market); err != nil {
		return fmt.Errorf("postgres: put order mapping %s: %w", sourceOrderID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound when no mapping exists.
func (s *OrderMapStore) Get(ctx context.Context, sourceOrderID string) (string, string, error) {
	var mirrored, market string
	err := s.pool.QueryRow(ctx,
		`SELECT mirrored_order_id, market FROM order_map WHERE source_order_id = $1`,
		sourceOrderID,
	).Scan(&mirrored, &market)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", fmt.Errorf("postgres: order mapping %s: %w", sourceOrderID, domain.ErrNotFound)
		}
		return "", "", fmt.Errorf("postgres: get order mapping %s: %w", sourceOrderID, err)
	}
	return mirrored, market, nil
}

// Delete removes the mappings for sourceOrderIDs.
func (s *OrderMapStore) Delete(ctx context.Context, sourceOrderIDs []string) error {
	if len(sourceOrderIDs) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM order_map WHERE source_order_id = ANY($1)`, sourceOrderIDs); err != nil {
		return fmt.Errorf("postgres: delete order mappings: %w", err)
	}
	return nil
}

var _ domain.OrderMapStore = (*OrderMapStore)(nil)
