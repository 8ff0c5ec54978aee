// Package handlers contains the HTTP handlers: the calendar feed, the
// status endpoint, the admin API and the embedded static UI.
package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"calfeed/internal/store"
)

// CalendarHandler serves cached calendar documents.
type CalendarHandler struct {
	store *store.Store
}

// NewCalendarHandler creates a calendar feed handler.
func NewCalendarHandler(st *store.Store) *CalendarHandler {
	return &CalendarHandler{store: st}
}

// Serve handles GET /calendars/{identity}.ics. Responses are marked
// uncacheable so clients always see the latest refresh result.
func (h *CalendarHandler) Serve(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimSuffix(mux.Vars(r)["file"], ".ics")
	if identity == "" || strings.ContainsAny(identity, "./\\") {
		http.Error(w, `{"error": "Invalid calendar name"}`, http.StatusBadRequest)
		return
	}

	doc, err := h.store.Read(identity)
	if err != nil {
		slog.Warn("calendar not cached", "identity", identity)
		http.Error(w, `{"error": "Calendar not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	_, _ = w.Write([]byte(doc))
}
