package fetcher

import (
	"io"

	"quicproxy/internal/header"
)

// Request is the fully-built upstream request the Proxy Translator (C4)
// hands to the Fetcher Registry. Headers must already have the forbidden
// set stripped and the forwarding headers (Host, X-Real-IP,
// X-Forwarded-For, X-Forwarded-Host) applied; the fetcher does not
// reinterpret them.
type Request struct {
	Method  string
	URL     string
	Headers *header.Block

	// Body carries a buffered upload's full payload. Nil when there is no
	// body or when ChunkedUpload is true (the body instead arrives via
	// Registry.Append after Submit).
	Body io.Reader

	// ChunkedUpload indicates the body will be streamed in via
	// Registry.Append rather than supplied up front in Body.
	ChunkedUpload bool
}
