package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// DeadLetterStore implements domain.DeadLetterStore.
type DeadLetterStore struct {
	pool *pgxpool.Pool
}

// NewDeadLetterStore creates a DeadLetterStore backed by pool.
func NewDeadLetterStore(pool *pgxpool.Pool) *DeadLetterStore {
	return &DeadLetterStore{pool: pool}
}

// Insert stores item, replacing an earlier copy with the same id.
func (s *DeadLetterStore) Insert(ctx context.Context, item domain.RetryItem) error {
	tradeJSON, err := json.Marshal(item.Trade)
	if err != nil {
		return fmt.Errorf("postgres: marshal dead letter trade: %w", err)
	}

	const query = `
		INSERT INTO dead_letters (id, trade_id, trade, error, kind, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET error = EXCLUDED.error, kind = EXCLUDED.kind,
		    retry_count = EXCLUDED.retry_count, updated_at = EXCLUDED.updated_at`
	_, err = s.pool.Exec(ctx, query,
		item.ID, item.Trade.ID, tradeJSON, item.Error, string(item.Kind),
		item.RetryCount, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert dead letter %s: %w", item.ID, err)
	}
	return nil
}

// List returns dead letters, most recently failed first.
func (s *DeadLetterStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.RetryItem, error) {
	clause, args := windowClause("updated_at", opts, nil)
	query := `SELECT id, trade, error, kind, retry_count, created_at, updated_at FROM dead_letters WHERE TRUE` + clause

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list dead letters: %w", err)
	}
	defer rows.Close()

	var out []domain.RetryItem
	for rows.Next() {
		var (
			item      domain.RetryItem
			tradeJSON []byte
			kind      string
		)
		if err := rows.Scan(&item.ID, &tradeJSON, &item.Error, &kind,
			&item.RetryCount, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan dead letter: %w", err)
		}
		if err := json.Unmarshal(tradeJSON, &item.Trade); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal dead letter %s trade: %w", item.ID, err)
		}
		item.Kind = domain.ErrorKind(kind)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list dead letters rows: %w", err)
	}
	return out, nil
}

var _ domain.DeadLetterStore = (*DeadLetterStore)(nil)
