package quictransport

import (
	"strconv"
	"sync"

	"github.com/quic-go/quic-go"

	"quicproxy/internal/header"
	"quicproxy/internal/proxystream"
)

// quicDownstream adapts one accepted QUIC stream to proxystream.Downstream,
// serializing writes since OnHeader/OnStream/OnError can all reach a stream
// from the fetcher's own goroutine while the read loop is still running on
// the accept goroutine.
type quicDownstream struct {
	mu     sync.Mutex
	stream quic.Stream
}

func newQUICDownstream(s quic.Stream) *quicDownstream {
	return &quicDownstream{stream: s}
}

func (d *quicDownstream) WriteHeaders(status int, headers *header.Block, fin bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !headers.Has(header.PseudoStatus) {
		headers.Set(header.PseudoStatus, strconv.Itoa(status))
	}
	payload, err := encodeHeaders(headers)
	if err != nil {
		return err
	}
	return writeFrame(d.stream, frameHeaders, payload, fin)
}

func (d *quicDownstream) WriteData(data []byte, fin bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return writeFrame(d.stream, frameData, data, fin)
}

func (d *quicDownstream) WriteTrailers(trailers *header.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	payload, err := encodeHeaders(trailers)
	if err != nil {
		return err
	}
	return writeFrame(d.stream, frameHeaders, payload, true)
}

func (d *quicDownstream) Reset(code proxystream.ResetCode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	errCode := quic.StreamErrorCode(0)
	if code == proxystream.ResetInternalError {
		errCode = quic.StreamErrorCode(1)
	}
	d.stream.CancelWrite(errCode)
	d.stream.CancelRead(errCode)
	return nil
}
