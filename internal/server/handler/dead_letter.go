package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// DeadLetterSource lists retry items that exhausted their retries.
type DeadLetterSource interface {
	DeadLetters() []domain.RetryItem
}

// DeadLetterHandler serves in-memory and persisted dead letters.
type DeadLetterHandler struct {
	queue  DeadLetterSource
	store  domain.DeadLetterStore
	logger *slog.Logger
}

// NewDeadLetterHandler creates a DeadLetterHandler. store may be nil.
func NewDeadLetterHandler(queue DeadLetterSource, store domain.DeadLetterStore, logger *slog.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{queue: queue, store: store, logger: logger}
}

// ListDeadLetters returns the dead-letter list of the running process, or the
// persisted list with ?source=store.
// GET /api/dead-letters
func (h *DeadLetterHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	var items []domain.RetryItem
	if r.URL.Query().Get("source") == "store" {
		if h.store == nil {
			writeError(w, http.StatusNotImplemented, "stored dead letters require postgres")
			return
		}
		var err error
		items, err = h.store.List(r.Context(), parseListOpts(r))
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list dead letters failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list dead letters")
			return
		}
	} else {
		items = h.queue.DeadLetters()
	}
	if items == nil {
		items = []domain.RetryItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": items, "count": len(items)})
}
