// Package proxystream implements the Stream State Machine (C2): it drives a
// single request stream from header-received through body assembly to
// response completion, orchestrating internal/header, internal/translator,
// internal/fetcher and internal/stats per request.
//
// Grounded on original_source/stellite/server/quic_proxy_stream.cc's state
// transitions (OnHeadersComplete / OnDataAvailable / OnClose) and
// proxy_stream.cc's SendResponse/BuildCustomHeader error paths.
package proxystream

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"quicproxy/internal/fetcher"
	"quicproxy/internal/header"
	"quicproxy/internal/logging"
	"quicproxy/internal/stats"
	"quicproxy/internal/translator"
)

// State is one of the five states a stream moves through, per spec.md §4.1.
type State int

const (
	AwaitingHeaders State = iota
	AwaitingBody
	BackendInFlight
	StreamingResponse
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingHeaders:
		return "AwaitingHeaders"
	case AwaitingBody:
		return "AwaitingBody"
	case BackendInFlight:
		return "BackendInFlight"
	case StreamingResponse:
		return "StreamingResponse"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Stream is one QUIC request stream's proxy pipeline. The real system's
// single-threaded-per-connection event loop means C2 never needs its own
// lock; this Go rendering still takes one, because internal/fetcher
// delivers its callbacks from a task's own goroutine rather than a shared
// event-loop thread, so the two call paths (downstream frames, backend
// callbacks) are not naturally serialized the way the original is.
type Stream struct {
	id       uint64
	peer     string
	downstream Downstream
	registry *fetcher.Registry
	cfg      translator.Config
	stats    *stats.Accumulator
	logger   *logging.Logger
	ctx      context.Context
	deadline time.Duration

	mu sync.Mutex

	state State

	reqHeaders      *header.Block
	contentLength   int64
	contentReceived int64
	chunkedUpload   bool
	body            bytes.Buffer

	method        string
	backendURL    string
	backendTaskID fetcher.TaskID

	startedAt time.Time // set when SendRequest fires; zero if never reached

	respHeaderWritten bool
	respStatus        int
}

// New constructs a stream in AwaitingHeaders, ready for OnHeaderAvailable.
// ctx governs the lifetime of the backend fetch this stream may submit.
func New(id uint64, peer string, downstream Downstream, registry *fetcher.Registry, cfg translator.Config, acc *stats.Accumulator, logger *logging.Logger, ctx context.Context, deadline time.Duration) *Stream {
	return &Stream{
		id:            id,
		peer:          peer,
		downstream:    downstream,
		registry:      registry,
		cfg:           cfg,
		stats:         acc,
		logger:        logger,
		ctx:           ctx,
		deadline:      deadline,
		state:         AwaitingHeaders,
		contentLength: -1,
		backendTaskID: fetcher.NoTask,
	}
}

// ID returns the stream's identifier.
func (s *Stream) ID() uint64 { return s.id }

// State reports the stream's current state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnHeaderAvailable implements spec.md §4.1's AwaitingHeaders transitions.
func (s *Stream) OnHeaderAvailable(headers *header.Block, fin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != AwaitingHeaders {
		return
	}

	if err := header.ValidateRequest(headers); err != nil {
		s.sendErrorLocked(400, "bad request: missing pseudo-header")
		return
	}
	if hasTrailerLike(headers) {
		s.sendErrorLocked(500, "trailers not allowed on request")
		return
	}

	s.reqHeaders = headers
	s.method, _ = headers.Get(header.PseudoMethod)

	contentLength, hasContentLength := parseContentLength(headers)
	te, _ := headers.Get("transfer-encoding")
	chunked := te == "chunked"

	if chunked && hasContentLength {
		s.sendErrorLocked(400, "bad request: chunked and content-length both present")
		return
	}

	s.contentLength = -1
	if hasContentLength {
		s.contentLength = contentLength
	}
	s.chunkedUpload = chunked

	method := upperMethod(s.method)
	noPayloadIndicated := !hasContentLength && !chunked && fin
	payloadIndicated := hasContentLength || chunked || !fin

	if isUploadMethod(method) && noPayloadIndicated {
		s.sendErrorLocked(400, "bad request: upload method without payload")
		return
	}
	if isNoPayloadMethod(method) && payloadIndicated {
		s.sendErrorLocked(400, "bad request: non-upload method with payload")
		return
	}

	if fin || (hasContentLength && contentLength == 0) || chunked {
		s.sendRequestLocked(nil)
		return
	}
	s.state = AwaitingBody
}

// OnContentAvailable implements spec.md §4.1's AwaitingBody transitions and
// the size-exceeded invariant from spec.md §3.
func (s *Stream) OnContentAvailable(data []byte, fin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != AwaitingBody && s.state != BackendInFlight {
		return
	}

	s.contentReceived += int64(len(data))
	if s.contentLength >= 0 && s.contentReceived > s.contentLength {
		// spec.md §7's size-exceeded kind: respond 500, then reset the
		// stream so the peer stops sending the oversized body.
		s.sendErrorLocked(500, "content-length exceeded")
		s.downstream.Reset(ResetInternalError)
		return
	}

	if s.chunkedUpload {
		// Chunked uploads already moved to BackendInFlight in
		// OnHeaderAvailable (SendRequest runs with a streaming body);
		// chunks simply forward into the already-running fetcher task.
		if s.backendTaskID != fetcher.NoTask {
			s.registry.Append(s.backendTaskID, data, fin)
		}
		return
	}

	if s.state != AwaitingBody {
		return
	}
	s.body.Write(data)
	if fin {
		body := make([]byte, s.body.Len())
		copy(body, s.body.Bytes())
		s.sendRequestLocked(body)
	}
}

// sendRequestLocked translates the request and submits it to the fetcher
// registry, moving to BackendInFlight. Must hold s.mu.
func (s *Stream) sendRequestLocked(body []byte) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	translated, err := translator.Translate(s.cfg, s.reqHeaders, bodyReader, s.chunkedUpload, s.peer)
	if err != nil {
		s.sendErrorLocked(400, "bad request: "+err.Error())
		return
	}

	if translated.UnknownMethod && s.logger != nil {
		s.logger.Warn("unknown request method, defaulting to GET",
			"error_type", "unknown-method", "method", s.method, "stream_id", s.id)
	}

	s.method = translated.Method
	s.backendURL = translated.URL
	s.chunkedUpload = translated.ChunkedUpload
	s.state = BackendInFlight
	s.startedAt = time.Now()

	lookup := func() (fetcher.Delegate, bool) {
		return s, true
	}

	s.backendTaskID = s.registry.Submit(s.ctx, translated.Request, lookup, s.deadline)
	if s.stats != nil {
		s.stats.IncHTTPSent()
	}
}

// OnHeader implements fetcher.Delegate: writes the response headers
// downstream and moves to StreamingResponse.
func (s *Stream) OnHeader(status int, headers *header.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}

	stripResponseHopHeaders(headers)
	headers.Set("server", "stellite/1.0")

	_, hasCL := headers.Get("content-length")
	te, _ := headers.Get("transfer-encoding")
	fin := !hasCL && te != "chunked"

	s.downstream.WriteHeaders(status, headers, fin)
	s.respHeaderWritten = true
	s.respStatus = status
	s.state = StreamingResponse

	if fin {
		if s.stats != nil {
			s.stats.IncHTTPReceived()
		}
		s.finishLocked(status)
	}
}

// OnStream implements fetcher.Delegate: forwards a response body chunk.
func (s *Stream) OnStream(data []byte, fin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	s.downstream.WriteData(data, fin)
	if fin {
		if s.stats != nil {
			s.stats.IncHTTPReceived()
		}
		s.finishLocked(s.respStatus)
	}
}

// OnComplete implements fetcher.Delegate for non-streaming completions that
// never delivered OnStream(fin=true).
func (s *Stream) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	if !s.respHeaderWritten {
		s.downstream.WriteHeaders(204, header.New(), true)
		s.respStatus = 204
	} else {
		s.downstream.WriteData(nil, true)
	}
	if s.stats != nil {
		s.stats.IncHTTPReceived()
	}
	s.finishLocked(s.respStatus)
}

// OnError implements fetcher.Delegate: maps the fetcher's error kind to a
// downstream status per spec.md §7 and closes the stream.
func (s *Stream) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}

	code := 500
	switch err {
	case fetcher.ErrDeadlineExpired:
		code = 408
		if s.stats != nil {
			s.stats.IncHTTPTimeout()
		}
	case fetcher.ErrBackendUnreachable, fetcher.ErrResponseUnparseable:
		code = 500
		if s.stats != nil {
			s.stats.IncHTTPConnectionFailed()
		}
	default:
		if s.stats != nil {
			s.stats.IncHTTPConnectionFailed()
		}
	}

	s.sendErrorLocked(code, "internal error")
}

// SendErrorResponse writes a minimal error response and closes the stream.
func (s *Stream) SendErrorResponse(code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErrorLocked(code, message)
}

func (s *Stream) sendErrorLocked(code int, message string) {
	if s.state == Closed {
		return
	}
	h := header.NewStatusOnly(code, len(message))
	s.downstream.WriteHeaders(code, h, message == "")
	if message != "" {
		s.downstream.WriteData([]byte(message), true)
	}
	s.finishLocked(code)
}

// CloseWriteSide and StopReading both issue a clean ResetNoError reset and
// close the stream. The stream does not track whether the peer's fin has
// already been observed, so the reset is issued in either case.
func (s *Stream) CloseWriteSide() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(ResetNoError)
}

func (s *Stream) StopReading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(ResetNoError)
}

func (s *Stream) resetLocked(code ResetCode) {
	if s.state == Closed {
		return
	}
	s.downstream.Reset(code)
	s.finishLocked(0)
}

// OnPeerReset marks the stream torn down by a peer reset before
// completion: the backend task is cancelled and no downstream write is
// attempted, per spec.md §7's stream-reset kind.
func (s *Stream) OnPeerReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	if s.backendTaskID != fetcher.NoTask {
		s.registry.Cancel(s.backendTaskID)
	}
	s.finishLocked(0)
}

// finishLocked moves the stream to Closed and emits the access log line.
// Must hold s.mu.
func (s *Stream) finishLocked(status int) {
	if s.state == Closed {
		return
	}
	s.state = Closed

	elapsed := int64(-1)
	if !s.startedAt.IsZero() {
		elapsed = time.Since(s.startedAt).Milliseconds()
	}
	if s.logger != nil {
		url := s.backendURL
		if url == "" && s.reqHeaders != nil {
			if path, ok := s.reqHeaders.Get(header.PseudoPath); ok {
				url = path
			}
		}
		method := s.method
		if method == "" {
			method = "-"
		}
		s.logger.LogAccess(s.peer, elapsed, status, method, url)
	}
}

func hasTrailerLike(h *header.Block) bool {
	_, ok := h.Get("trailer")
	return ok
}

func parseContentLength(h *header.Block) (int64, bool) {
	v, ok := h.Get("content-length")
	if !ok {
		return 0, false
	}
	var n int64
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

func upperMethod(raw string) string {
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func isUploadMethod(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	default:
		return false
	}
}

func isNoPayloadMethod(method string) bool {
	switch method {
	case "GET", "HEAD", "DELETE":
		return true
	default:
		return false
	}
}

// stripResponseHopHeaders implements spec.md §6: content-encoding is
// stripped on the response path so downstream clients always see a clean
// plain body.
func stripResponseHopHeaders(h *header.Block) {
	h.Del("content-encoding")
}
