package ics

import "strings"

const (
	beginEvent = "BEGIN:VEVENT"
	endEvent   = "END:VEVENT"

	summaryKey = "SUMMARY"
)

// Rename collapses event summaries containing Match to the Canonical short
// label. Rules are applied in order; the first match wins.
type Rename struct {
	Match     string
	Canonical string
}

// Rules controls how Filter and BuildCalendar treat events.
//
// Excludes always drop a matching event and are checked before Keep.
// Keep is an optional summary substring tied to the calendar identity; it
// only drops non-matching events when KeepOnly is set. With KeepOnly unset
// the pipeline keeps every event and only renames matches.
type Rules struct {
	Excludes []string
	Keep     string
	KeepOnly bool
	Renames  []Rename
}

// excluded reports whether a summary matches any global exclude term.
func (r Rules) excluded(summary string) bool {
	for _, term := range r.Excludes {
		if term != "" && strings.Contains(summary, term) {
			return true
		}
	}
	return false
}

// dropped reports whether a summary should be dropped outright.
func (r Rules) dropped(summary string) bool {
	if r.excluded(summary) {
		return true
	}
	if r.KeepOnly && r.Keep != "" && !strings.Contains(summary, r.Keep) {
		return true
	}
	return false
}

// canonicalize rewrites a summary to its canonical short label when a rename
// rule matches, and returns it unchanged otherwise.
func (r Rules) canonicalize(summary string) string {
	for _, rn := range r.Renames {
		if rn.Match != "" && strings.Contains(summary, rn.Match) {
			return rn.Canonical
		}
	}
	return summary
}

// Filter unfolds a calendar document, applies the rules to each VEVENT
// block, and reassembles the result with CRLF line endings. Lines outside
// event blocks pass through unchanged. A block is emitted in full or dropped
// in full, never partially.
//
// Blocks never nest in the supported input; a BEGIN:VEVENT inside an open
// block is kept as a plain content line of that block.
func Filter(doc string, rules Rules) string {
	lines := Unfold(doc)
	out := make([]string, 0, len(lines))

	var (
		block      []string
		inBlock    bool
		summary    string
		summaryIdx int
	)

	for _, line := range lines {
		switch {
		case !inBlock && line == beginEvent:
			inBlock = true
			block = []string{line}
			summary = ""
			summaryIdx = -1
		case inBlock && line == endEvent:
			block = append(block, line)
			inBlock = false
			if rules.dropped(summary) {
				continue
			}
			if renamed := rules.canonicalize(summary); renamed != summary && summaryIdx >= 0 {
				block[summaryIdx] = summaryKey + ":" + renamed
			}
			out = append(out, block...)
		case inBlock:
			if summaryIdx < 0 {
				if l := ParseLine(line); l.Key == summaryKey {
					summary = l.Value
					summaryIdx = len(block)
				}
			}
			block = append(block, line)
		default:
			out = append(out, line)
		}
	}

	// Unterminated trailing block: no END marker ever arrived, so no
	// disposition can be decided. Best effort is to pass it through.
	if inBlock {
		out = append(out, block...)
	}

	return Join(out)
}
