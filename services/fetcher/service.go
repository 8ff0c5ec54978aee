// Package fetcher runs the periodic refresh pipeline: for every configured
// identity it fetches upstream calendar data (JSON events API first, raw iCal
// feed as fallback), applies the filter rules, and writes the resulting
// document to the calendar store.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc"

	"calfeed/config"
	"calfeed/ics"
	"calfeed/internal/store"
	"calfeed/metrics"
	"calfeed/models"
)

const userAgent = "calfeed/1.0"

// Service orchestrates refresh cycles. Cycles are serialized: a manual
// refresh requested while a scheduled cycle runs waits for it and then runs
// its own full cycle, so every caller gets a cycle that started after their
// request.
type Service struct {
	manager *config.Manager
	store   *store.Store
	client  *http.Client

	// cycleMu serializes refresh cycles.
	cycleMu sync.Mutex

	stateMu sync.Mutex
	running bool
	last    *models.CycleResult

	cron *cron.Cron
}

// New creates a fetcher service.
func New(manager *config.Manager, st *store.Store) *Service {
	return &Service{
		manager: manager,
		store:   st,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Start runs one refresh cycle immediately and then schedules recurring
// cycles at the configured interval.
func (s *Service) Start(ctx context.Context) error {
	settings, err := s.manager.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	interval := settings.Interval()

	go func() {
		if _, err := s.RefreshAll(ctx); err != nil {
			slog.Error("initial refresh cycle failed", "error", err)
		}
	}()

	s.cron = cron.New()
	_, err = s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if _, err := s.RefreshAll(ctx); err != nil {
			slog.Error("scheduled refresh cycle failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	s.cron.Start()

	slog.Info("fetcher started", "interval", interval.String())
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	// Barrier: a cycle started before Stop may still be running.
	s.cycleMu.Lock()
	s.cycleMu.Unlock() //nolint:staticcheck // lock/unlock pair used as a barrier
	slog.Info("fetcher stopped")
}

// RefreshAll runs one full refresh cycle over all configured identities and
// returns its result. Per-identity upstream failures are recorded in the
// result, not returned as errors; the cycle itself only fails on settings or
// store problems. The shared last-fetch timestamp advances whenever the
// cycle completed, regardless of per-identity outcomes.
func (s *Service) RefreshAll(ctx context.Context) (*models.CycleResult, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	settings, err := s.manager.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	result := &models.CycleResult{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Outcomes:  make(map[string]models.FetchOutcome, len(settings.Identities)),
	}
	s.setRunning(true)
	defer s.setRunning(false)

	slog.Info("refresh cycle started", "cycle", result.CycleID, "identities", len(settings.Identities))

	var (
		mu       sync.Mutex
		storeErr error
		wg       conc.WaitGroup
	)
	for _, id := range settings.Identities {
		id := id
		wg.Go(func() {
			outcome, hardErr := s.refreshIdentity(ctx, settings, id)
			mu.Lock()
			defer mu.Unlock()
			result.Outcomes[id.Name] = outcome
			if hardErr != nil && storeErr == nil {
				storeErr = hardErr
			}
		})
	}
	wg.Wait()

	if storeErr != nil {
		return nil, storeErr
	}

	now := time.Now().UTC()
	if err := s.manager.SetLastFetch(now); err != nil {
		return nil, fmt.Errorf("persist last fetch: %w", err)
	}
	result.LastFetch = now

	metrics.FetchCycles.Inc()
	metrics.LastCycleSeconds.Set(time.Since(result.StartedAt).Seconds())

	s.setLast(result)
	slog.Info("refresh cycle finished", "cycle", result.CycleID,
		"duration", time.Since(result.StartedAt).Round(time.Millisecond).String())
	return result, nil
}

// refreshIdentity fetches one identity, JSON source first, iCal fallback
// second, and stores the produced document. Upstream failures come back as
// an outcome; only store writes are hard errors.
func (s *Service) refreshIdentity(ctx context.Context, settings *config.Settings, id config.IdentityConfig) (models.FetchOutcome, error) {
	rules := rulesFor(settings, id)

	doc, err := s.fetchJSON(ctx, settings, id, rules)
	stage := "json"
	if err != nil {
		slog.Warn("json source failed, trying ical fallback",
			"identity", id.Name, "error", err)

		doc, err = s.fetchICal(ctx, id, rules)
		stage = "ical"
	}
	if err != nil {
		metrics.FetchFailures.WithLabelValues(id.Name).Inc()
		slog.Error("all sources failed, keeping cached document",
			"identity", id.Name, "cached", s.store.Has(id.Name), "error", err)
		return models.FetchOutcome{Identity: id.Name, Stage: stage, Error: err.Error()}, nil
	}

	if err := s.store.Write(id.Name, doc); err != nil {
		return models.FetchOutcome{Identity: id.Name, Stage: "store", Error: err.Error()},
			fmt.Errorf("store %s: %w", id.Name, err)
	}

	slog.Info("identity refreshed", "identity", id.Name, "source", stage, "bytes", len(doc))
	return models.FetchOutcome{Identity: id.Name, OK: true, Stage: stage}, nil
}

// rulesFor combines the global filter settings with one identity's keep
// predicate.
func rulesFor(settings *config.Settings, id config.IdentityConfig) ics.Rules {
	renames := make([]ics.Rename, 0, len(settings.Renames))
	for _, r := range settings.Renames {
		renames = append(renames, ics.Rename{Match: r.Match, Canonical: r.Canonical})
	}
	return ics.Rules{
		Excludes: settings.Excludes,
		Keep:     id.Keep,
		KeepOnly: id.KeepOnly,
		Renames:  renames,
	}
}

// Status reports whether a cycle is currently running, the shared last-fetch
// timestamp, and which identities have a cached document.
func (s *Service) Status() (*models.StatusResponse, error) {
	settings, err := s.manager.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	s.stateMu.Lock()
	running := s.running
	s.stateMu.Unlock()

	state := "idle"
	if running {
		state = "refreshing"
	}

	resp := &models.StatusResponse{
		State:      state,
		LastFetch:  settings.LastFetch,
		Identities: make(map[string]models.IdentityStatus, len(settings.Identities)),
	}
	for _, id := range settings.Identities {
		resp.Identities[id.Name] = models.IdentityStatus{Cached: s.store.Has(id.Name)}
	}
	return resp, nil
}

func (s *Service) setRunning(v bool) {
	s.stateMu.Lock()
	s.running = v
	s.stateMu.Unlock()
}

func (s *Service) setLast(r *models.CycleResult) {
	s.stateMu.Lock()
	s.last = r
	s.stateMu.Unlock()
}

// LastCycle returns the most recent completed cycle result, or nil.
func (s *Service) LastCycle() *models.CycleResult {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.last
}
