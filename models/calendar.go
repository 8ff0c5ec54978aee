package models

import "time"

// UpstreamEvent is one record returned by the JSON events API. Start and end
// arrive as formatted date-time strings ("2026-03-20 00:00:00"), not epochs.
// For all-day events the end date is already exclusive (one day past the
// last included day).
type UpstreamEvent struct {
	ID       int64  `json:"id"`
	UID      string `json:"uid,omitempty"`
	Title    string `json:"title"`
	StartDT  string `json:"start_dt"`
	EndDT    string `json:"end_dt"`
	AllDay   bool   `json:"all_day"`
	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"` // may contain HTML
}

// FetchOutcome records the result of one identity's refresh attempt.
type FetchOutcome struct {
	Identity string `json:"identity"`
	OK       bool   `json:"ok"`
	Stage    string `json:"stage,omitempty"` // "json", "ical" or "store"
	Error    string `json:"error,omitempty"`
}

// CycleResult is the outcome of a full refresh cycle across all identities.
// Partial success (one identity fails, another succeeds) is a normal state,
// not an error for the cycle as a whole.
type CycleResult struct {
	CycleID   string                  `json:"cycleId"`
	StartedAt time.Time               `json:"startedAt"`
	Outcomes  map[string]FetchOutcome `json:"outcomes"`
	LastFetch time.Time               `json:"lastFetch"`
}

// IdentityStatus describes one identity's cache state.
type IdentityStatus struct {
	Cached bool `json:"cached"`
}

// StatusResponse is the shape served by GET /api/status.
type StatusResponse struct {
	State      string                    `json:"state"`
	LastFetch  *time.Time                `json:"lastFetch"`
	Identities map[string]IdentityStatus `json:"identities"`
}
