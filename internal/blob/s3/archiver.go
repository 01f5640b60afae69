package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// DeadLetterSource lists the retry items that exhausted their budget.
type DeadLetterSource interface {
	DeadLetters() []domain.RetryItem
}

// DeadLetterArchiver uploads dead letters to object storage as JSONL, one
// object per run, skipping items a previous run already uploaded.
type DeadLetterArchiver struct {
	writer domain.BlobWriter
	source DeadLetterSource
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	archived map[string]struct{}
}

// NewDeadLetterArchiver creates an archiver. audit may be nil.
func NewDeadLetterArchiver(writer domain.BlobWriter, source DeadLetterSource, audit domain.AuditStore, logger *slog.Logger) *DeadLetterArchiver {
	return &DeadLetterArchiver{
		writer:             writer,
		source:             source,
		audit:              audit,
		logger:             logger.With(slog.String("component", "archiver")),
		now:                time.Now,
		archived:           make(map[string]struct{}),
	}
}

// SetClock replaces the time source.
func (a *DeadLetterArchiver) SetClock(now func() time.Time) { a.now = now }

// Archive uploads every dead letter not uploaded before and returns how many
// it wrote. Nothing is marked archived unless the upload succeeds.
func (a *DeadLetterArchiver) Archive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var pending []domain.RetryItem
	for _, item := range a.source.DeadLetters() {
		if _, done := a.archived[item.ID]; !done {
			pending = append(pending, item)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(pending)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive dead letters: %w", err)
	}

	now := a.now().UTC()
	path := ArchivePath(now)
	if err := a.writer.PutObject(ctx, path, buf, jsonlContentType); err != nil {
		return 0, fmt.Errorf("s3blob: archive dead letters: %w", err)
	}

	for _, item := range pending {
		a.archived[item.ID] = struct{}{}
	}
	a.logger.InfoContext(ctx, "dead letters archived",
		slog.String("path", path),
		slog.Int("count", len(pending)),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.dead_letters", map[string]any{
			"path":  path,
			"count": len(pending),
			"at":    now.Format(time.RFC3339),
		}); err != nil {
			return len(pending), fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return len(pending), nil
}

// ArchivePath is the object key for an archive written at t:
// deadletters/YYYY/MM/DD/<unix>.jsonl.
func ArchivePath(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("deadletters/%s/%d.jsonl", t.Format("2006/01/02"), t.Unix())
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
