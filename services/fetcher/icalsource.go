package fetcher

import (
	"context"
	"fmt"
	"strings"

	"calfeed/config"
	"calfeed/ics"
)

// fetchICal pulls one identity's raw iCal feed and runs it through the
// event filter. Used as the fallback when the JSON source is unavailable or
// unconfigured.
func (s *Service) fetchICal(ctx context.Context, id config.IdentityConfig, rules ics.Rules) (string, error) {
	if id.FallbackURL == "" {
		return "", ErrConfigMissing
	}

	body, err := s.get(ctx, id.FallbackURL, "text/calendar")
	if err != nil {
		return "", err
	}

	doc := string(body)
	if !strings.Contains(doc, "BEGIN:VCALENDAR") {
		return "", fmt.Errorf("%w: response is not an iCal document", ErrMalformedPayload)
	}

	return ics.Filter(doc, rules), nil
}
