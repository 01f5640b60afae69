package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/copybot/internal/executor"
)

// StatsSource reports copier counters.
type StatsSource interface {
	Stats() executor.Stats
}

// MonitorState reports what the wallet monitor follows.
type MonitorState interface {
	Wallets() []string
	LastBlock() (uint64, bool)
	Running() bool
}

// StatusHandler serves the bot status for dashboards.
type StatusHandler struct {
	mode      string
	dryRun    bool
	startedAt time.Time
	monitor   MonitorState
	stats     StatsSource
}

// NewStatusHandler creates a StatusHandler. stats is nil in monitor mode.
func NewStatusHandler(mode string, dryRun bool, startedAt time.Time, monitor MonitorState, stats StatsSource) *StatusHandler {
	return &StatusHandler{mode: mode, dryRun: dryRun, startedAt: startedAt, monitor: monitor, stats: stats}
}

// GetStatus responds with mode, uptime, monitor state and copier stats.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"dry_run":        h.dryRun,
		"uptime_seconds": int64(max(time.Since(h.startedAt), 0).Seconds()),
	}
	if h.monitor != nil {
		m := map[string]any{
			"running": h.monitor.Running(),
			"wallets": h.monitor.Wallets(),
		}
		if block, ok := h.monitor.LastBlock(); ok {
			m["last_block"] = block
		}
		resp["monitor"] = m
	}
	if h.stats != nil {
		resp["stats"] = h.stats.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
