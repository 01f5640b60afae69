package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// DefaultSeenTTL is how long a transaction hash is remembered.
const DefaultSeenTTL = 24 * time.Hour

// MemorySeenSet remembers transaction hashes for a bounded time. It is safe
// for concurrent use.
type MemorySeenSet struct {
	mu   sync.Mutex
	seen map[string]time.Time // hash -> first seen
	ttl  time.Duration
	now  func() time.Time
}

var _ domain.SeenSet = (*MemorySeenSet)(nil)

// NewMemorySeenSet creates a set that forgets keys after ttl.
func NewMemorySeenSet(ttl time.Duration) *MemorySeenSet {
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	return &MemorySeenSet{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// SetClock replaces the time source. Must be called before use.
func (s *MemorySeenSet) SetClock(now func() time.Time) {
	s.now = now
}

// MarkSeen records key and reports whether it was new. An expired key counts
// as new.
func (s *MemorySeenSet) MarkSeen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if at, ok := s.seen[key]; ok && now.Sub(at) < s.ttl {
		return false, nil
	}
	s.seen[key] = now
	return true, nil
}

// Reset forgets every key.
func (s *MemorySeenSet) Reset(context.Context) error {
	s.mu.Lock()
	s.seen = make(map[string]time.Time)
	s.mu.Unlock()
	return nil
}

// Cleanup drops expired keys and returns how many were removed. Call it
// periodically to bound memory.
func (s *MemorySeenSet) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, at := range s.seen {
		if now.Sub(at) >= s.ttl {
			delete(s.seen, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered keys, expired or not.
func (s *MemorySeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// TieredSeenSet checks an in-process set first and then a shared one (Redis)
// that survives restarts. When the shared set fails the local answer stands,
// so a Redis outage never drops or duplicates a transaction within the
// process.
type TieredSeenSet struct {
	local  *MemorySeenSet
	shared domain.SeenSet
	logger *slog.Logger
}

var _ domain.SeenSet = (*TieredSeenSet)(nil)

// NewTieredSeenSet layers shared behind local.
func NewTieredSeenSet(local *MemorySeenSet, shared domain.SeenSet, logger *slog.Logger) *TieredSeenSet {
	return &TieredSeenSet{
		local:  local,
		shared: shared,
		logger: logger.With(slog.String("component", "seen_set")),
	}
}

// MarkSeen implements domain.SeenSet.
func (t *TieredSeenSet) MarkSeen(ctx context.Context, key string) (bool, error) {
	fresh, _ := t.local.MarkSeen(ctx, key)
	if !fresh {
		return false, nil
	}
	fresh, err := t.shared.MarkSeen(ctx, key)
	if err != nil {
		t.logger.WarnContext(ctx, "shared seen set unavailable, using local",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return true, nil
	}
	return fresh, nil
}

// Reset clears both tiers.
func (t *TieredSeenSet) Reset(ctx context.Context) error {
	_ = t.local.Reset(ctx)
	return t.shared.Reset(ctx)
}

// Cleanup sweeps the local tier. The shared tier expires keys itself.
func (t *TieredSeenSet) Cleanup() int {
	return t.local.Cleanup()
}
