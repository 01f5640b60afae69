package handler

import (
	"log/slog"
	"net/http"
)

// StatsResetter clears copier counters.
type StatsResetter interface {
	ResetStats()
}

// StatsHandler resets the copier statistics.
type StatsHandler struct {
	copier StatsResetter
	logger *slog.Logger
}

func NewStatsHandler(copier StatsResetter, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{copier: copier, logger: logger}
}

// ResetStats clears counters and the source-to-mirror order mapping.
// POST /api/stats/reset
func (h *StatsHandler) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.copier.ResetStats()
	h.logger.InfoContext(r.Context(), "stats reset via api", slog.String("remote_addr", r.RemoteAddr))
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
