package fetcher

import "quicproxy/internal/header"

// Delegate receives the events one Task fires back toward the stream that
// submitted it. Per spec.md §4.5's ordering guarantee, a delegate observes
// at most one OnHeader, then zero or more OnStream calls, terminated by
// exactly one of OnStream(fin=true), OnComplete, or OnError.
type Delegate interface {
	// OnHeader fires once with the status code and response header block.
	OnHeader(status int, headers *header.Block)
	// OnStream fires zero or more times with response body chunks. A call
	// with fin=true is terminal and doubles as completion for streaming
	// clients.
	OnStream(data []byte, fin bool)
	// OnComplete fires once for non-streaming clients after the backend
	// round trip finishes without ever calling OnStream(fin=true).
	OnComplete()
	// OnError fires at most once, terminal, in place of any further
	// OnStream/OnComplete call.
	OnError(err error)
}

// Lookup resolves a Task's delegate on every callback instead of the task
// storing a Delegate value. When it returns ok=false the task silently
// drops that callback. The closure internal/proxystream supplies captures
// the *Stream itself and always returns ok=true; that stream drops
// callbacks arriving after it reached Closed through its own state checks.
type Lookup func() (Delegate, bool)
