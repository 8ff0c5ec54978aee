// Package config manages the persisted service settings: the configured
// calendar identities, the filter rules, the fetch interval and the shared
// last-successful-fetch timestamp. Settings live in a single JSON file that
// is replaced atomically on every save.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-password/password"
	"github.com/spf13/afero"
	str2duration "github.com/xhit/go-str2duration/v2"
	"golang.org/x/crypto/bcrypt"
)

const defaultInterval = 45 * time.Minute

// IdentityConfig describes one upstream calendar source. An identity with a
// collection and JSON base URL uses the JSON-primary strategy; one with only
// a fallback URL is effectively iCal-only.
type IdentityConfig struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Zone        string `json:"zone"`
	Collection  string `json:"collection,omitempty"`
	JSONBaseURL string `json:"jsonBaseUrl,omitempty"`
	FallbackURL string `json:"fallbackUrl,omitempty"`
	// Keep is the keep-only-if-summary-contains predicate for this identity.
	// With KeepOnly unset the pipeline keeps all events and only renames.
	Keep     string `json:"keep,omitempty"`
	KeepOnly bool   `json:"keepOnly,omitempty"`
}

// RenameRule collapses summaries containing Match to the Canonical label.
type RenameRule struct {
	Match     string `json:"match"`
	Canonical string `json:"canonical"`
}

// Settings is the persisted service configuration plus fetch state.
type Settings struct {
	Identities        []IdentityConfig `json:"identities"`
	Excludes          []string         `json:"excludes"`
	Renames           []RenameRule     `json:"renames"`
	FetchInterval     string           `json:"fetchInterval"`
	WindowYearsBack   int              `json:"windowYearsBack"`
	WindowYearsAhead  int              `json:"windowYearsAhead"`
	AdminUser         string           `json:"adminUser"`
	AdminPasswordHash string           `json:"adminPasswordHash,omitempty"`
	LastFetch         *time.Time       `json:"lastFetch,omitempty"`
}

// Interval returns the configured fetch interval, accepting extended
// duration strings like "45m" or "1h30m". Invalid or missing values fall
// back to the default.
func (s *Settings) Interval() time.Duration {
	if s.FetchInterval == "" {
		return defaultInterval
	}
	d, err := str2duration.ParseDuration(s.FetchInterval)
	if err != nil || d <= 0 {
		return defaultInterval
	}
	return d
}

// Identity looks up an identity by name.
func (s *Settings) Identity(name string) (IdentityConfig, bool) {
	for _, id := range s.Identities {
		if id.Name == name {
			return id, true
		}
	}
	return IdentityConfig{}, false
}

// Defaults returns the out-of-the-box settings: two identities and a
// 45-minute cycle. URLs are expected to come from the environment or the
// admin endpoint.
func Defaults() *Settings {
	return &Settings{
		Identities: []IdentityConfig{
			{Name: "primary", Label: "Primary", Zone: "Europe/Berlin"},
			{Name: "secondary", Label: "Secondary", Zone: "Europe/Berlin"},
		},
		Excludes:         []string{},
		Renames:          []RenameRule{},
		FetchInterval:    "45m",
		WindowYearsBack:  1,
		WindowYearsAhead: 2,
		AdminUser:        "admin",
	}
}

// Manager loads and saves settings. Loads read the settings file (falling
// back to defaults when it does not exist) and then apply environment
// overrides, so env values win over persisted ones for the lifetime of the
// process. Saves replace the whole file atomically.
type Manager struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewManager creates a settings manager backed by the given filesystem.
func NewManager(fs afero.Fs, path string) *Manager {
	return &Manager{fs: fs, path: path}
}

// Load reads the settings file and applies environment overrides. A missing
// file yields the defaults; any other read or decode failure is an error.
func (m *Manager) Load() (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked()
}

func (m *Manager) loadLocked() (*Settings, error) {
	settings := Defaults()

	data, err := afero.ReadFile(m.fs, m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run; defaults plus env.
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		if err := json.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}

	applyEnv(settings)
	return settings, nil
}

// applyEnv overlays environment values onto persisted settings. URLs use
// CALFEED_<NAME>_URL (fallback iCal) and CALFEED_<NAME>_JSON_URL.
func applyEnv(s *Settings) {
	for i := range s.Identities {
		name := strings.ToUpper(s.Identities[i].Name)
		if v := os.Getenv("CALFEED_" + name + "_URL"); v != "" {
			s.Identities[i].FallbackURL = v
		}
		if v := os.Getenv("CALFEED_" + name + "_JSON_URL"); v != "" {
			s.Identities[i].JSONBaseURL = v
		}
		if v := os.Getenv("CALFEED_" + name + "_COLLECTION"); v != "" {
			s.Identities[i].Collection = v
		}
	}
	if v := os.Getenv("FETCH_INTERVAL"); v != "" {
		s.FetchInterval = v
	}
	if v := os.Getenv("ADMIN_USER"); v != "" {
		s.AdminUser = v
	}
}

// Save writes the settings file, whole-file replace via a temp file rename.
func (m *Manager) Save(settings *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(settings)
}

func (m *Manager) saveLocked(settings *Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings temp file: %w", err)
	}
	if err := m.fs.Rename(tmp, m.path); err != nil {
		_ = m.fs.Remove(tmp)
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

// SetLastFetch updates the shared last-successful-fetch timestamp and writes
// it back synchronously.
func (m *Manager) SetLastFetch(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings, err := m.loadLocked()
	if err != nil {
		return err
	}
	utc := t.UTC()
	settings.LastFetch = &utc
	return m.saveLocked(settings)
}

// SetFallbackURLs updates the configured fallback URLs for the named
// identities and persists the result. Unknown names are ignored.
func (m *Manager) SetFallbackURLs(urls map[string]string) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings, err := m.loadLocked()
	if err != nil {
		return nil, err
	}
	for i := range settings.Identities {
		if url, ok := urls[settings.Identities[i].Name]; ok {
			settings.Identities[i].FallbackURL = url
		}
	}
	if err := m.saveLocked(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// EnsureAdmin makes sure an admin password hash exists. ADMIN_PASSWORD from
// the environment wins; otherwise a password is generated once and logged so
// the operator can note it down.
func (m *Manager) EnsureAdmin() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings, err := m.loadLocked()
	if err != nil {
		return err
	}

	plain := os.Getenv("ADMIN_PASSWORD")
	if plain == "" && settings.AdminPasswordHash != "" {
		return nil
	}
	generated := false
	if plain == "" {
		plain, err = password.Generate(20, 4, 0, false, false)
		if err != nil {
			return fmt.Errorf("generate admin password: %w", err)
		}
		generated = true
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	settings.AdminPasswordHash = string(hash)
	if err := m.saveLocked(settings); err != nil {
		return err
	}

	if generated {
		slog.Warn("generated admin password, set ADMIN_PASSWORD to override",
			"user", settings.AdminUser, "password", plain)
	}
	return nil
}
