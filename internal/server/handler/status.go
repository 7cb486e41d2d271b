package handler

import (
	"net/http"
	"time"

	"github.com/oddsflow/settler/internal/engine"
)

// SweepStatter exposes the engine's sweep counters.
type SweepStatter interface {
	Stats() []engine.SweepStats
}

// StatusHandler reports runtime mode, uptime, and per-sweep counters.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	engine    SweepStatter // nil in ops-only mode
}

// NewStatusHandler creates a StatusHandler. eng may be nil when no engine
// runs in this process.
func NewStatusHandler(mode string, eng SweepStatter) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: time.Now().UTC(),
		engine:    eng,
	}
}

// GetStatus responds with the process status snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.engine != nil {
		resp["sweeps"] = h.engine.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
