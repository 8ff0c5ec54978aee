// Package ics implements the calendar ingestion pipeline: a logical-line
// model for iCal text, an event-block filter, and a builder that turns
// upstream JSON event records into an iCal document.
//
// The pipeline deliberately works on raw logical lines instead of a parsed
// object model: filtered documents must pass every unrecognized line through
// byte-for-byte, and re-serializing parsers do not guarantee that.
package ics

import "strings"

// SplitLines splits raw calendar text into physical lines. Lone CR, lone LF
// and CRLF are all treated as line separators. Empty lines are dropped; they
// carry no meaning in an iCal document.
func SplitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Unfold splits raw calendar text into logical lines, merging folded
// continuations: a line starting with a single space or horizontal tab
// continues the previous line, with the fold marker and the whitespace
// removed. Malformed input produces a best-effort split; Unfold never fails.
func Unfold(raw string) []string {
	var out []string
	for _, line := range SplitLines(raw) {
		if (line[0] == ' ' || line[0] == '\t') && len(out) > 0 {
			out[len(out)-1] += line[1:]
			continue
		}
		out = append(out, line)
	}
	return out
}

// Join reassembles logical lines into a document using CRLF separators,
// regardless of the line-break convention of the original input.
func Join(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

// Line is one logical iCal line split at the first colon. The key is the
// raw prefix, case-sensitive, including any property parameters.
type Line struct {
	Key   string
	Value string
}

// ParseLine splits a logical line at the first colon. A line without a colon
// yields an empty key and the whole line as value.
func ParseLine(s string) Line {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return Line{Key: s[:i], Value: s[i+1:]}
	}
	return Line{Value: s}
}
