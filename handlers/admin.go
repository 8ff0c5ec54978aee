package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"calfeed/config"
	"calfeed/services/fetcher"
)

// AdminHandler exposes the password-protected configuration API: read the
// current config, update upstream URLs, and trigger a synchronous resync.
type AdminHandler struct {
	manager *config.Manager
	fetcher *fetcher.Service
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(manager *config.Manager, f *fetcher.Service) *AdminHandler {
	return &AdminHandler{manager: manager, fetcher: f}
}

// adminIdentity is the admin view of one identity. The password hash never
// leaves the settings file.
type adminIdentity struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Zone        string `json:"zone"`
	JSONBaseURL string `json:"jsonBaseUrl,omitempty"`
	FallbackURL string `json:"fallbackUrl,omitempty"`
}

type adminConfig struct {
	Identities    []adminIdentity     `json:"identities"`
	Excludes      []string            `json:"excludes"`
	Renames       []config.RenameRule `json:"renames"`
	FetchInterval string              `json:"fetchInterval"`
}

func adminView(settings *config.Settings) adminConfig {
	cfg := adminConfig{
		Excludes:      settings.Excludes,
		Renames:       settings.Renames,
		FetchInterval: settings.FetchInterval,
	}
	for _, id := range settings.Identities {
		cfg.Identities = append(cfg.Identities, adminIdentity{
			Name:        id.Name,
			Label:       id.Label,
			Zone:        id.Zone,
			JSONBaseURL: id.JSONBaseURL,
			FallbackURL: id.FallbackURL,
		})
	}
	return cfg
}

// GetConfig handles GET /api/admin/config.
func (h *AdminHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := h.manager.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		http.Error(w, `{"error": "Failed to load config"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(adminView(settings))
}

// UpdateConfig handles PUT /api/admin/config: persists new fallback URLs and
// runs a refresh cycle before responding, so the caller sees the effect of
// the change immediately.
func (h *AdminHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URLs map[string]string `json:"urls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if len(req.URLs) == 0 {
		http.Error(w, `{"error": "No URLs provided"}`, http.StatusBadRequest)
		return
	}

	if _, err := h.manager.SetFallbackURLs(req.URLs); err != nil {
		slog.Error("config update failed", "error", err)
		http.Error(w, `{"error": "Failed to save config"}`, http.StatusInternalServerError)
		return
	}
	slog.Info("upstream urls updated", "count", len(req.URLs))

	result, err := h.fetcher.RefreshAll(r.Context())
	if err != nil {
		slog.Error("post-update refresh failed", "error", err)
		http.Error(w, `{"error": "Config saved but refresh failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Resync handles POST /api/admin/resync: runs a refresh cycle synchronously
// and returns its result.
func (h *AdminHandler) Resync(w http.ResponseWriter, r *http.Request) {
	result, err := h.fetcher.RefreshAll(r.Context())
	if err != nil {
		slog.Error("manual refresh failed", "error", err)
		http.Error(w, `{"error": "Refresh failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// RequireAdmin wraps a handler with HTTP basic auth checked against the
// stored bcrypt hash.
func RequireAdmin(manager *config.Manager, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := manager.Load()
		if err != nil {
			slog.Error("config load failed", "error", err)
			http.Error(w, `{"error": "Failed to load config"}`, http.StatusInternalServerError)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || user != settings.AdminUser || settings.AdminPasswordHash == "" ||
			bcrypt.CompareHashAndPassword([]byte(settings.AdminPasswordHash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="calfeed admin"`)
			http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}
