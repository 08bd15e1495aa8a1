package quictransport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/quic-go/qpack"

	"quicproxy/internal/header"
)

// frameKind distinguishes the two frame types this transport puts on a QUIC
// stream. Real HTTP/3 framing (RFC 9114) has a much larger frame catalogue;
// this proxy only ever needs a header block and a body, so the wire format
// here is a minimal length-prefixed codec rather than a full h3 stack.
type frameKind byte

const (
	frameHeaders frameKind = 0
	frameData    frameKind = 1
)

const (
	flagFin      byte = 1 << 0
	frameHdrSize      = 6 // 1 byte kind, 1 byte flags, 4 byte length
	// maxFrameLength bounds a single frame's payload so a malicious or
	// broken peer can't make the decoder allocate without limit.
	maxFrameLength = 16 << 20
)

var errFrameTooLarge = errors.New("quictransport: frame exceeds maximum length")

// writeFrame encodes one frame onto w: kind, fin flag, length, payload.
func writeFrame(w io.Writer, kind frameKind, payload []byte, fin bool) error {
	var hdr [frameHdrSize]byte
	hdr[0] = byte(kind)
	if fin {
		hdr[1] = flagFin
	}
	binary.BigEndian.PutUint32(hdr[2:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// readFrame blocks until one full frame is available on r.
func readFrame(r io.Reader) (kind frameKind, payload []byte, fin bool, err error) {
	var hdr [frameHdrSize]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, false, err
	}
	kind = frameKind(hdr[0])
	fin = hdr[1]&flagFin != 0
	length := binary.BigEndian.Uint32(hdr[2:])
	if length > maxFrameLength {
		return 0, nil, false, errFrameTooLarge
	}
	if length == 0 {
		return kind, nil, fin, nil
	}
	payload = make([]byte, length)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, nil, false, err
	}
	return kind, payload, fin, nil
}

// encodeHeaders renders a header.Block as a QPACK-compressed field list,
// the same static-table-oriented encoding HTTP/3 uses for its HEADERS
// frame payload (RFC 9204), via the quic-go/qpack encoder.
func encodeHeaders(b *header.Block) ([]byte, error) {
	var buf bytes.Buffer
	enc := qpack.NewEncoder(&buf)
	var encErr error
	b.RangeAll(func(name, value string) {
		if encErr != nil {
			return
		}
		encErr = enc.WriteField(qpack.HeaderField{Name: name, Value: value})
	})
	if encErr != nil {
		return nil, encErr
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeHeaders parses a QPACK field list back into a header.Block.
func decodeHeaders(payload []byte) (*header.Block, error) {
	decoder := qpack.NewDecoder(func(qpack.HeaderField) {})
	fields, err := decoder.DecodeFull(payload)
	if err != nil {
		return nil, err
	}
	b := header.New()
	for _, f := range fields {
		if err := b.Add(f.Name, f.Value); err != nil {
			return nil, err
		}
	}
	return b, nil
}
