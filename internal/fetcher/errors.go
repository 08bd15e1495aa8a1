package fetcher

import "errors"

// Error kinds from spec.md §7, surfaced to a Task's Delegate via OnError.
var (
	// ErrDeadlineExpired fires when a task's deadline timer elapses before
	// the backend responds. Maps to 408 downstream, stat tag HTIO.
	ErrDeadlineExpired = errors.New("fetcher: backend deadline expired")
	// ErrBackendUnreachable covers connection reset, DNS failure, TLS
	// failure, or any other non-timeout network error. Maps to 500
	// downstream, stat tag HCFA.
	ErrBackendUnreachable = errors.New("fetcher: backend unreachable")
	// ErrResponseUnparseable fires when the backend's reply could not be
	// parsed as an HTTP status line. Maps to 500 downstream.
	ErrResponseUnparseable = errors.New("fetcher: backend response unparseable")
)
