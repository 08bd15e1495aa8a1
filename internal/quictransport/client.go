package quictransport

import (
	"fmt"
	"io"
	"strconv"

	"quicproxy/internal/header"
)

// WriteRequestHeaders sends a client request's headers as the leading
// HEADERS frame on a freshly opened stream, with no body to follow. It is
// exported for cmd/test-client and other manual diagnostic callers; the
// server itself builds frames directly through writeFrame/encodeHeaders.
func WriteRequestHeaders(w io.Writer, headers *header.Block) error {
	payload, err := encodeHeaders(headers)
	if err != nil {
		return err
	}
	return writeFrame(w, frameHeaders, payload, true)
}

// ReadResponse reads a complete response (one HEADERS frame followed by any
// number of DATA frames) from r and returns the decoded status, headers,
// and concatenated body.
func ReadResponse(r io.Reader) (status int, headers *header.Block, body []byte, err error) {
	kind, payload, fin, err := readFrame(r)
	if err != nil {
		return 0, nil, nil, err
	}
	if kind != frameHeaders {
		return 0, nil, nil, fmt.Errorf("quictransport: expected headers frame, got kind %d", kind)
	}
	headers, err = decodeHeaders(payload)
	if err != nil {
		return 0, nil, nil, err
	}
	statusStr, ok := headers.Get(header.PseudoStatus)
	if !ok {
		return 0, nil, nil, fmt.Errorf("quictransport: response missing :status")
	}
	status, err = strconv.Atoi(statusStr)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("quictransport: invalid :status %q: %w", statusStr, err)
	}

	for !fin {
		var dkind frameKind
		var data []byte
		dkind, data, fin, err = readFrame(r)
		if err != nil {
			return 0, nil, nil, err
		}
		if dkind == frameData {
			body = append(body, data...)
		}
	}
	return status, headers, body, nil
}
