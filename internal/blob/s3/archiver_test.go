package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
)

type memWriter struct {
	objects      map[string][]byte
	contentTypes map[string]string
	err          error
}

func (w *memWriter) PutObject(_ context.Context, key string, body []byte, contentType string) error {
	if w.err != nil {
		return w.err
	}
	w.objects[key] = body
	w.contentTypes[key] = contentType
	return nil
}

type staticSource []domain.RetryItem

func (s *staticSource) DeadLetters() []domain.RetryItem { return *s }

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func newArchiver(src *staticSource) (*DeadLetterArchiver, *memWriter, *memAudit) {
	w := &memWriter{objects: map[string][]byte{}, contentTypes: map[string]string{}}
	audit := &memAudit{}
	a := NewDeadLetterArchiver(w, src, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.SetClock(func() time.Time { return time.Date(2024, 3, 7, 9, 30, 0, 0, time.UTC) })
	return a, w, audit
}

func countLines(t *testing.T, b []byte) int {
	t.Helper()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var item domain.RetryItem
		require.NoError(t, json.Unmarshal(sc.Bytes(), &item))
		n++
	}
	return n
}

func TestArchivePath(t *testing.T) {
	ts := time.Date(2024, 3, 7, 9, 30, 0, 0, time.FixedZone("x", 3600))
	assert.Equal(t, "deadletters/2024/03/07/1709800200.jsonl", ArchivePath(ts))
}

func TestArchiveOnlyNewItems(t *testing.T) {
	src := &staticSource{{ID: "a", Error: "boom"}, {ID: "b", Error: "boom"}}
	a, w, audit := newArchiver(src)
	ctx := context.Background()

	n, err := a.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	path := ArchivePath(a.now())
	assert.Equal(t, 2, countLines(t, w.objects[path]))
	assert.Equal(t, []string{"archive.dead_letters"}, audit.events)

	n, err = a.Archive(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing new")

	*src = append(*src, domain.RetryItem{ID: "c"})
	a.SetClock(func() time.Time { return time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC) })
	n, err = a.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, countLines(t, w.objects[ArchivePath(a.now())]))
}

func TestArchiveFailureRetriesSameItems(t *testing.T) {
	src := &staticSource{{ID: "a"}}
	a, w, _ := newArchiver(src)
	w.err = errors.New("bucket gone")

	_, err := a.Archive(context.Background())
	require.Error(t, err)

	w.err = nil
	n, err := a.Archive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestArchiveWritesJSONLContentType(t *testing.T) {
	src := &staticSource{{ID: "a", Error: "boom"}}
	a, w, _ := newArchiver(src)

	_, err := a.Archive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jsonlContentType, w.contentTypes[ArchivePath(a.now())])
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}
