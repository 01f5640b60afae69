package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// OrderSource lists tracked order fill states.
type OrderSource interface {
	All() []domain.OrderFillState
	Open() []domain.OrderFillState
}

// OrderHandler serves tracked and persisted mirrored orders.
type OrderHandler struct {
	tracker OrderSource
	history domain.CopyStore
	logger  *slog.Logger
}

// NewOrderHandler creates an OrderHandler. history may be nil when
// persistence is disabled.
func NewOrderHandler(tracker OrderSource, history domain.CopyStore, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{tracker: tracker, history: history, logger: logger}
}

// ListOrders returns tracked fill states; ?open=true keeps unfilled ones only.
// GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var orders []domain.OrderFillState
	if queryBool(r, "open") {
		orders = h.tracker.Open()
	} else {
		orders = h.tracker.All()
	}
	if orders == nil {
		orders = []domain.OrderFillState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "count": len(orders)})
}

// ListHistory returns persisted mirrored orders, newest first, optionally for
// a single ?market.
// GET /api/orders/history
func (h *OrderHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "order history requires postgres")
		return
	}

	var (
		orders []domain.CopiedOrder
		err    error
	)
	if market := r.URL.Query().Get("market"); market != "" {
		orders, err = h.history.ListByMarket(r.Context(), market, parseListOpts(r))
	} else {
		orders, err = h.history.ListRecent(r.Context(), parseLimit(r))
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list order history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list order history")
		return
	}
	if orders == nil {
		orders = []domain.CopiedOrder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "count": len(orders)})
}
