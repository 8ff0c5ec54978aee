package ics

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"calfeed/models"
)

// Source identifies the calendar an upstream event list belongs to.
type Source struct {
	// Label is embedded in the PRODID line of the generated document.
	Label string
	// Zone is the named timezone emitted as the TZID qualifier on timed
	// events and as the calendar's timezone hint.
	Zone string
}

// BuildCalendar converts upstream JSON event records into an iCal document.
// Events matching the global exclude list are skipped and titles are
// collapsed to their canonical short labels, mirroring what Filter does for
// fetched iCal documents. An empty event list produces a valid header-only
// document.
func BuildCalendar(events []models.UpstreamEvent, src Source, rules Rules) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//calfeed//" + src.Label + "//EN",
		"X-WR-TIMEZONE:" + src.Zone,
	}

	for _, ev := range events {
		if rules.excluded(ev.Title) {
			continue
		}
		lines = appendEvent(lines, ev, src, rules)
	}

	lines = append(lines, "END:VCALENDAR")
	return Join(lines)
}

func appendEvent(lines []string, ev models.UpstreamEvent, src Source, rules Rules) []string {
	uid := ev.UID
	if uid == "" {
		uid = strconv.FormatInt(ev.ID, 10)
	}

	lines = append(lines,
		beginEvent,
		"UID:"+uid,
		summaryKey+":"+rules.canonicalize(ev.Title),
	)

	if ev.AllDay {
		// The upstream end date is already exclusive; emit it as-is.
		lines = append(lines,
			"DTSTART;VALUE=DATE:"+dateValue(ev.StartDT),
			"DTEND;VALUE=DATE:"+dateValue(ev.EndDT),
		)
	} else {
		lines = append(lines,
			"DTSTART;TZID="+src.Zone+":"+dateTimeValue(ev.StartDT),
			"DTEND;TZID="+src.Zone+":"+dateTimeValue(ev.EndDT),
		)
	}

	if ev.Location != "" {
		lines = append(lines, "LOCATION:"+strings.ReplaceAll(ev.Location, ",", "\\,"))
	}

	if desc := normalizeDescription(ev.Notes); desc != "" {
		lines = append(lines, "DESCRIPTION:"+desc)
	}

	return append(lines, endEvent)
}

// dateValue reduces an upstream date string to its first 8 digits (YYYYMMDD)
// for date-only emission.
func dateValue(s string) string {
	digits := digitsOnly(s)
	if len(digits) > 8 {
		digits = digits[:8]
	}
	return digits
}

// dateTimeValue strips separator punctuation from an upstream timestamp and
// inserts the literal time designator between the date and time portions:
// "2026-02-22 17:00:00" becomes "20260222T170000".
func dateTimeValue(s string) string {
	digits := digitsOnly(s)
	if len(digits) <= 8 {
		return digits
	}
	if len(digits) > 14 {
		digits = digits[:14]
	}
	return digits[:8] + "T" + digits[8:]
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeDescription strips HTML tags, trims surrounding whitespace and
// escapes embedded newlines to the literal \n sequence.
func normalizeDescription(s string) string {
	s = strings.TrimSpace(stripHTML(s))
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\\n")
}

// stripHTML reduces HTML-bearing text to its text content. Entities are
// decoded by the tokenizer.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	var b strings.Builder
	tz := html.NewTokenizer(strings.NewReader(s))
	for {
		switch tz.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(tz.Text())
		}
	}
}
