package header

import "errors"

// Sentinel errors surfaced by request-header validation. The stream state
// machine (internal/proxystream) maps these to the malformed-request error
// kind from spec.md §7.
var (
	ErrDuplicatePseudo  = errors.New("header: duplicate pseudo-header")
	ErrMissingPseudo    = errors.New("header: missing mandatory pseudo-header")
	ErrTrailerOnRequest = errors.New("header: trailers not allowed on request")
)

// mandatoryRequest are the pseudo-headers spec.md §3 requires on a request.
var mandatoryRequest = []string{PseudoMethod, PseudoPath, PseudoAuthority, PseudoScheme}

// ValidateRequest checks that every mandatory request pseudo-header is
// present. Duplicate pseudo-headers are already rejected at Add time, so
// this only needs to check for absence.
func ValidateRequest(b *Block) error {
	for _, name := range mandatoryRequest {
		if !b.Has(name) {
			return ErrMissingPseudo
		}
	}
	return nil
}

// ValidateResponse checks that :status is present, the sole mandatory
// response pseudo-header per spec.md §3.
func ValidateResponse(b *Block) error {
	if !b.Has(PseudoStatus) {
		return ErrMissingPseudo
	}
	return nil
}

// forbiddenUpstream is the set of header names the proxy translator must
// never forward to the backend: HTTP/2 pseudo-headers and their de-colonized
// bare forms, grounded on original_source/stellite/server/quic_proxy_stream.cc's
// ConvertSpdyHeaderToHttpRequest header-copy path (spec.md §4.2 step 4).
var forbiddenUpstream = map[string]bool{
	PseudoAuthority: true,
	PseudoMethod:    true,
	PseudoPath:      true,
	PseudoScheme:    true,
	":version":      true,
	"method":        true,
	"scheme":        true,
	"version":       true,
}

// ForbiddenUpstream reports whether name must be dropped when building the
// upstream request.
func ForbiddenUpstream(name string) bool {
	return forbiddenUpstream[key(name)]
}
