package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"calfeed/config"
	"calfeed/ics"
	"calfeed/models"
)

// fetchJSON pulls events for one identity from the JSON events API and
// builds an iCal document from them. The query window spans whole years
// around the current date per the configured window settings.
func (s *Service) fetchJSON(ctx context.Context, settings *config.Settings, id config.IdentityConfig, rules ics.Rules) (string, error) {
	if id.JSONBaseURL == "" || id.Collection == "" {
		return "", ErrConfigMissing
	}

	url := windowURL(id, time.Now(), settings.WindowYearsBack, settings.WindowYearsAhead)
	body, err := s.get(ctx, url, "application/json")
	if err != nil {
		return "", err
	}

	events, err := decodeEvents(body)
	if err != nil {
		return "", err
	}

	return ics.BuildCalendar(events, ics.Source{Label: id.Label, Zone: id.Zone}, rules), nil
}

// windowURL builds the events query URL for a year-aligned window around
// now: back full years before January 1st through ahead full years after
// December 31st.
func windowURL(id config.IdentityConfig, now time.Time, back, ahead int) string {
	base := strings.TrimRight(id.JSONBaseURL, "/")
	return fmt.Sprintf("%s/%s/events?startDate=%d-01-01&endDate=%d-12-31",
		base, id.Collection, now.Year()-back, now.Year()+ahead)
}

// decodeEvents parses the API response. The endpoint returns a JSON list;
// anything else (an error object, HTML) counts as malformed. An empty list
// is a valid response.
func decodeEvents(body []byte) ([]models.UpstreamEvent, error) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, fmt.Errorf("%w: expected a JSON list", ErrMalformedPayload)
	}

	var events []models.UpstreamEvent
	if err := json.Unmarshal([]byte(trimmed), &events); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return events, nil
}

// get performs an HTTP GET with one retry on transient failures. Non-2xx
// responses are not retried; a reachable upstream that rejects the request
// will keep rejecting it.
func (s *Service) get(ctx context.Context, url, accept string) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
			}
			req.Header.Set("User-Agent", userAgent)
			req.Header.Set("Accept", accept)

			resp, err := s.client.Do(req)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return retry.Unrecoverable(
					fmt.Errorf("%w: status %d", ErrUpstreamRejected, resp.StatusCode))
			}

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}
