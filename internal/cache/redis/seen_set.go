package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/copybot/internal/domain"
)

const resetScanCount = 500

// SeenSet implements domain.SeenSet with one SET NX key per entry, so several
// bot instances following the same wallets never copy a transaction twice.
type SeenSet struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
}

// NewSeenSet stores keys under namespace and expires them after ttl.
func NewSeenSet(c *Client, namespace string, ttl time.Duration) *SeenSet {
	return &SeenSet{
		rdb:       c.Underlying(),
		namespace: keyPrefix + "seen:" + namespace + ":",
		ttl:       ttl,
	}
}

// MarkSeen records key and reports whether it was new.
func (s *SeenSet) MarkSeen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.namespace+key, 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark seen %s: %w", key, err)
	}
	return ok, nil
}

// Reset deletes every key in the namespace.
func (s *SeenSet) Reset(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.namespace+"*", resetScanCount).Iterator()
	batch := make([]string, 0, resetScanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == resetScanCount {
			if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis: reset seen set: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis: reset seen set: scan: %w", err)
	}
	if len(batch) > 0 {
		if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis: reset seen set: %w", err)
		}
	}
	return nil
}

var _ domain.SeenSet = (*SeenSet)(nil)
