package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"calfeed/services/fetcher"
)

// StatusHandler reports refresh state and cache presence per identity.
type StatusHandler struct {
	fetcher *fetcher.Service
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(f *fetcher.Service) *StatusHandler {
	return &StatusHandler{fetcher: f}
}

// Get handles GET /api/status.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	status, err := h.fetcher.Status()
	if err != nil {
		slog.Error("status lookup failed", "error", err)
		http.Error(w, `{"error": "Failed to read status"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
