package proxystream

import "errors"

// Error kinds from spec.md §7 not already owned by internal/fetcher.
var (
	// ErrMalformedRequest covers missing/duplicate pseudo-headers, bad
	// framing, or a payload/method mismatch. Surfaced downstream as 400.
	ErrMalformedRequest = errors.New("proxystream: malformed request")
	// ErrSizeExceeded fires when content_received exceeds the declared
	// content-length. Surfaced downstream as 500 with a stream reset.
	ErrSizeExceeded = errors.New("proxystream: content-length exceeded")
	// ErrStreamReset marks a stream torn down by a peer reset rather than
	// a normal fin; no downstream write is attempted and any backend task
	// is cancelled.
	ErrStreamReset = errors.New("proxystream: stream reset by peer")
)
