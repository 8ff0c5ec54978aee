package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calfeed/config"
	"calfeed/internal/store"
)

const jsonEvents = `[
	{"id": 1, "title": "Rehearsal", "start_dt": "2026-02-22 17:00:00", "end_dt": "2026-02-22 19:30:00", "all_day": false},
	{"id": 2, "title": "Holidays", "start_dt": "2026-03-20 00:00:00", "end_dt": "2026-03-23 00:00:00", "all_day": true}
]`

const icalDoc = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:1@upstream\r\n" +
	"SUMMARY:Fallback event\r\n" +
	"DTSTART:20260101T100000\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type testEnv struct {
	svc     *Service
	manager *config.Manager
	store   *store.Store
}

func newTestEnv(t *testing.T, settings *config.Settings) *testEnv {
	t.Helper()

	fs := afero.NewMemMapFs()
	manager := config.NewManager(fs, "/data/settings.json")
	require.NoError(t, manager.Save(settings))

	st, err := store.New(fs, "/data/calendars")
	require.NoError(t, err)

	return &testEnv{svc: New(manager, st), manager: manager, store: st}
}

func singleIdentity(id config.IdentityConfig) *config.Settings {
	s := config.Defaults()
	s.Identities = []config.IdentityConfig{id}
	return s
}

func TestRefreshAllJSONSource(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/band/events")
		assert.Regexp(t, `^\d{4}-01-01$`, r.URL.Query().Get("startDate"))
		assert.Regexp(t, `^\d{4}-12-31$`, r.URL.Query().Get("endDate"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, jsonEvents)
	}))
	defer upstream.Close()

	env := newTestEnv(t, singleIdentity(config.IdentityConfig{
		Name: "primary", Label: "Primary", Zone: "Europe/Berlin",
		Collection: "band", JSONBaseURL: upstream.URL,
	}))

	result, err := env.svc.RefreshAll(context.Background())
	require.NoError(t, err)

	outcome := result.Outcomes["primary"]
	assert.True(t, outcome.OK)
	assert.Equal(t, "json", outcome.Stage)

	doc, err := env.store.Read("primary")
	require.NoError(t, err)
	assert.Contains(t, doc, "DTSTART;TZID=Europe/Berlin:20260222T170000")
	assert.Contains(t, doc, "DTSTART;VALUE=DATE:20260320")
}

func TestRefreshAllFallsBackToICal(t *testing.T) {
	jsonUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// An error object instead of the expected list.
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error": "maintenance"}`)
	}))
	defer jsonUpstream.Close()

	icalUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/calendar", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/calendar")
		fmt.Fprint(w, icalDoc)
	}))
	defer icalUpstream.Close()

	env := newTestEnv(t, singleIdentity(config.IdentityConfig{
		Name: "primary", Label: "Primary", Zone: "Europe/Berlin",
		Collection: "band", JSONBaseURL: jsonUpstream.URL,
		FallbackURL: icalUpstream.URL,
	}))

	result, err := env.svc.RefreshAll(context.Background())
	require.NoError(t, err)

	outcome := result.Outcomes["primary"]
	assert.True(t, outcome.OK)
	assert.Equal(t, "ical", outcome.Stage)

	doc, err := env.store.Read("primary")
	require.NoError(t, err)
	assert.Contains(t, doc, "SUMMARY:Fallback event")
}

func TestRefreshAllAppliesFilterToFallback(t *testing.T) {
	icalUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "BEGIN:VCALENDAR\r\n"+
			"BEGIN:VEVENT\r\nSUMMARY:Canceled: thing\r\nEND:VEVENT\r\n"+
			"BEGIN:VEVENT\r\nSUMMARY:Duty: full detail\r\nEND:VEVENT\r\n"+
			"END:VCALENDAR\r\n")
	}))
	defer icalUpstream.Close()

	settings := singleIdentity(config.IdentityConfig{
		Name: "primary", Label: "Primary", Zone: "Europe/Berlin",
		FallbackURL: icalUpstream.URL,
	})
	settings.Excludes = []string{"Canceled"}
	settings.Renames = []config.RenameRule{{Match: "Duty", Canonical: "Duty"}}
	env := newTestEnv(t, settings)

	_, err := env.svc.RefreshAll(context.Background())
	require.NoError(t, err)

	doc, err := env.store.Read("primary")
	require.NoError(t, err)
	assert.NotContains(t, doc, "Canceled")
	assert.Contains(t, doc, "SUMMARY:Duty\r\n")
}

func TestRefreshAllKeepsCachedDocumentOnTotalFailure(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer down.Close()

	env := newTestEnv(t, singleIdentity(config.IdentityConfig{
		Name: "primary", Label: "Primary", Zone: "Europe/Berlin",
		Collection: "band", JSONBaseURL: down.URL, FallbackURL: down.URL,
	}))
	require.NoError(t, env.store.Write("primary", "cached document"))

	result, err := env.svc.RefreshAll(context.Background())
	require.NoError(t, err, "upstream failures must not fail the cycle")

	outcome := result.Outcomes["primary"]
	assert.False(t, outcome.OK)
	assert.NotEmpty(t, outcome.Error)

	doc, err := env.store.Read("primary")
	require.NoError(t, err)
	assert.Equal(t, "cached document", doc, "cached document must survive a failed refresh")
}

func TestRefreshAllRejectsNonICalFallback(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>login page</body></html>")
	}))
	defer upstream.Close()

	env := newTestEnv(t, singleIdentity(config.IdentityConfig{
		Name: "primary", Label: "Primary", Zone: "Europe/Berlin",
		FallbackURL: upstream.URL,
	}))

	result, err := env.svc.RefreshAll(context.Background())
	require.NoError(t, err)

	outcome := result.Outcomes["primary"]
	assert.False(t, outcome.OK)
	assert.Contains(t, outcome.Error, "malformed")
	assert.False(t, env.store.Has("primary"))
}

func TestRefreshAllUnconfiguredIdentity(t *testing.T) {
	env := newTestEnv(t, singleIdentity(config.IdentityConfig{
		Name: "primary", Label: "Primary", Zone: "Europe/Berlin",
	}))

	result, err := env.svc.RefreshAll(context.Background())
	require.NoError(t, err)

	outcome := result.Outcomes["primary"]
	assert.False(t, outcome.OK)
	assert.Contains(t, outcome.Error, "not configured")
}

func TestRefreshAllAdvancesLastFetchDespitePartialFailure(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer ok.Close()

	settings := config.Defaults()
	settings.Identities = []config.IdentityConfig{
		{Name: "primary", Label: "Primary", Zone: "Europe/Berlin", Collection: "a", JSONBaseURL: ok.URL},
		{Name: "secondary", Label: "Secondary", Zone: "Europe/Berlin"},
	}
	env := newTestEnv(t, settings)

	before := time.Now()
	result, err := env.svc.RefreshAll(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Outcomes["primary"].OK)
	assert.False(t, result.Outcomes["secondary"].OK)

	loaded, err := env.manager.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded.LastFetch)
	assert.False(t, loaded.LastFetch.Before(before.UTC().Truncate(time.Second)))
}

func TestRefreshAllEmptyEventListProducesHeaderOnlyDocument(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "  []  ")
	}))
	defer upstream.Close()

	env := newTestEnv(t, singleIdentity(config.IdentityConfig{
		Name: "primary", Label: "Primary", Zone: "Europe/Berlin",
		Collection: "band", JSONBaseURL: upstream.URL,
	}))

	result, err := env.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Outcomes["primary"].OK)

	doc, err := env.store.Read("primary")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc, "BEGIN:VCALENDAR\r\n"))
	assert.Contains(t, doc, "END:VCALENDAR")
	assert.NotContains(t, doc, "BEGIN:VEVENT")
}

func TestConcurrentRefreshesAreSerialized(t *testing.T) {
	var requests atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, "[]")
	}))
	defer upstream.Close()

	env := newTestEnv(t, singleIdentity(config.IdentityConfig{
		Name: "primary", Label: "Primary", Zone: "Europe/Berlin",
		Collection: "band", JSONBaseURL: upstream.URL,
	}))

	var wg sync.WaitGroup
	cycleIDs := make([]string, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.svc.RefreshAll(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			cycleIDs[i] = result.CycleID
		}()
	}
	wg.Wait()

	// Each caller gets its own full cycle, run one after the other.
	assert.Equal(t, int64(2), requests.Load())
	assert.NotEqual(t, cycleIDs[0], cycleIDs[1])
}

func TestStatusReflectsCacheAndLastFetch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer upstream.Close()

	settings := config.Defaults()
	settings.Identities = []config.IdentityConfig{
		{Name: "primary", Label: "Primary", Zone: "Europe/Berlin", Collection: "a", JSONBaseURL: upstream.URL},
		{Name: "secondary", Label: "Secondary", Zone: "Europe/Berlin"},
	}
	env := newTestEnv(t, settings)

	status, err := env.svc.Status()
	require.NoError(t, err)
	assert.Equal(t, "idle", status.State)
	assert.Nil(t, status.LastFetch)
	assert.False(t, status.Identities["primary"].Cached)

	_, err = env.svc.RefreshAll(context.Background())
	require.NoError(t, err)

	status, err = env.svc.Status()
	require.NoError(t, err)
	assert.NotNil(t, status.LastFetch)
	assert.True(t, status.Identities["primary"].Cached)
	assert.False(t, status.Identities["secondary"].Cached)
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Drop the first connection mid-response.
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
				}
			}
			return
		}
		fmt.Fprint(w, "[]")
	}))
	defer upstream.Close()

	env := newTestEnv(t, singleIdentity(config.IdentityConfig{
		Name: "primary", Label: "Primary", Zone: "Europe/Berlin",
		Collection: "band", JSONBaseURL: upstream.URL,
	}))

	result, err := env.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Outcomes["primary"].OK)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGetDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer upstream.Close()

	env := newTestEnv(t, singleIdentity(config.IdentityConfig{
		Name: "primary", Label: "Primary", Zone: "Europe/Berlin",
		FallbackURL: upstream.URL,
	}))

	result, err := env.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Outcomes["primary"].OK)
	assert.Equal(t, int64(1), calls.Load())
}
