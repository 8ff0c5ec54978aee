package fetcher

import "errors"

// Failure classes for a single source attempt. Callers match these with
// errors.Is to decide whether a fallback is worth trying; the wrapped detail
// keeps the transport-level cause for the log.
var (
	// ErrUpstreamUnreachable covers network-level failures: DNS, refused
	// connections, timeouts.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrUpstreamRejected covers non-2xx responses from a reachable upstream.
	ErrUpstreamRejected = errors.New("upstream rejected request")

	// ErrMalformedPayload covers responses that arrived but do not parse as
	// the expected format.
	ErrMalformedPayload = errors.New("malformed upstream payload")

	// ErrConfigMissing means an identity has no URL configured for the
	// requested source.
	ErrConfigMissing = errors.New("source not configured")
)
