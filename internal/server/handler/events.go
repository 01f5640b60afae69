package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// RecentEvents returns the newest lifecycle events held in memory.
type RecentEvents interface {
	Recent(n int) []domain.LifecycleEvent
}

// EventStream pages the durable lifecycle stream.
type EventStream interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventHandler serves lifecycle events and the audit log.
type EventHandler struct {
	recent     RecentEvents
	audit      domain.AuditStore
	stream     EventStream
	streamName string
	logger     *slog.Logger
}

// NewEventHandler creates an EventHandler. audit may be nil.
func NewEventHandler(recent RecentEvents, audit domain.AuditStore, logger *slog.Logger) *EventHandler {
	return &EventHandler{recent: recent, audit: audit, logger: logger}
}

// SetStream enables ?source=stream catch-up reads from name.
func (h *EventHandler) SetStream(s EventStream, name string) {
	h.stream = s
	h.streamName = name
}

type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents returns up to ?limit recent lifecycle events, newest first.
// With ?source=stream it pages the durable stream oldest first from the
// ?after cursor and returns the cursor for the next page.
// GET /api/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") == "stream" {
		h.listStream(w, r)
		return
	}
	events := h.recent.Recent(parseLimit(r))
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (h *EventHandler) listStream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, http.StatusNotImplemented, "event stream requires redis")
		return
	}
	after := r.URL.Query().Get("after")
	msgs, err := h.stream.StreamRead(r.Context(), h.streamName, after, parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read event stream failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read event stream")
		return
	}

	next := after
	events := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		next = m.ID
		if !json.Valid(m.Payload) {
			continue
		}
		events = append(events, streamEvent{ID: m.ID, Event: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events), "next": next})
}

// ListAudit pages through the persisted audit log.
// GET /api/audit
func (h *EventHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit log requires postgres")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit log failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}
