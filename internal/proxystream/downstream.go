package proxystream

import "quicproxy/internal/header"

// ResetCode mirrors the small set of QUIC stream reset/connection close
// codes the stream state machine can emit, per spec.md §7's "stream-level
// errors use RST_STREAM" / "connection-level close emits CLOSE_CONNECTION".
type ResetCode int

const (
	// ResetNoError cancels a stream cleanly, without signaling an error to
	// the peer (spec.md §4.1's CloseWriteSide/StopReading path).
	ResetNoError ResetCode = iota
	// ResetInternalError cancels a stream because of a local failure.
	ResetInternalError
)

// Downstream is the QUIC-facing side of one stream: the write operations
// the stream state machine drives in response to upstream events. It is
// implemented by internal/quictransport and faked in tests.
type Downstream interface {
	// WriteHeaders sends the response header frame. fin is true iff no
	// body or trailers follow.
	WriteHeaders(status int, headers *header.Block, fin bool) error
	// WriteData sends one body frame. fin is true iff no trailers follow.
	WriteData(data []byte, fin bool) error
	// WriteTrailers sends a trailer frame; always terminal (fin=true).
	WriteTrailers(trailers *header.Block) error
	// Reset aborts the stream without further writes.
	Reset(code ResetCode) error
}
