package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports how the process is configured.
type StatusHandler struct {
	Mode      string
	Account   string
	Storage   string
	Cache     string
	Version   string
	StartedAt time.Time
}

// GetStatus responds with the run mode, backends and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"account":        h.Account,
		"storage":        h.Storage,
		"cache":          h.Cache,
		"version":        h.Version,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
