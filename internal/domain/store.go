package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// CopyStore records every mirrored order the bot placed.
type CopyStore interface {
	Insert(ctx context.Context, order CopiedOrder) error
	ListByMarket(ctx context.Context, market string, opts ListOpts) ([]CopiedOrder, error)
	ListRecent(ctx context.Context, limit int) ([]CopiedOrder, error)
}

// OrderMapStore keeps the mapping from a source trader's order id to the id
// of the order we mirrored it with.
type OrderMapStore interface {
	Put(ctx context.Context, sourceOrderID, mirroredOrderID, market string) error
	Get(ctx context.Context, sourceOrderID string) (mirroredOrderID, market string, err error)
	Delete(ctx context.Context, sourceOrderIDs []string) error
}

// DeadLetterStore keeps retry items that exhausted their retry budget.
type DeadLetterStore interface {
	Insert(ctx context.Context, item RetryItem) error
	List(ctx context.Context, opts ListOpts) ([]RetryItem, error)
}
