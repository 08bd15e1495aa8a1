package header

import "strconv"

// NewStatusOnly synthesizes a minimal response header block, grounded on
// original_source/stellite/server/proxy_stream.cc's BuildCustomHeader: a
// :status pseudo-header plus content-length. internal/proxystream builds
// every locally generated error response from it.
func NewStatusOnly(status int, contentLength int) *Block {
	b := New()
	b.Set(PseudoStatus, strconv.Itoa(status))
	b.Set("content-length", strconv.Itoa(contentLength))
	return b
}

// NewRedirect synthesizes a minimal redirect response header block,
// adding Location to the status-only form when the caller must fabricate
// a 301/302 itself rather than pass one through from the backend verbatim.
func NewRedirect(status int, location string, contentLength int) *Block {
	b := NewStatusOnly(status, contentLength)
	b.Set("location", location)
	return b
}

// Raw renders the block as "name:value\n" lines and then applies
// original_source/stellite/server/parse_util.cc's HeadersToRaw transform
// verbatim: every '\n' becomes '\0', and a trailing '\0' terminates the
// block. No request or response path in the proxy calls Raw; the QUIC
// codec encodes header blocks with QPACK instead.
func (b *Block) Raw() string {
	var lines []byte
	b.RangeAll(func(name, value string) {
		lines = append(lines, name...)
		lines = append(lines, ':')
		lines = append(lines, value...)
		lines = append(lines, '\n')
	})
	for i, c := range lines {
		if c == '\n' {
			lines[i] = 0
		}
	}
	if len(lines) > 0 {
		lines = append(lines, 0)
	}
	return string(lines)
}
