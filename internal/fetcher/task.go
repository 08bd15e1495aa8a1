package fetcher

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"quicproxy/internal/header"
)

// TaskID identifies one inflight upstream request, a monotonically
// increasing integer assigned by the Registry (spec.md §3 C5 identity).
type TaskID uint64

// NoTask is the sentinel "none" id from spec.md §3 (kInvalidRequestId in
// original_source), held by a stream before SendRequest and never reused.
const NoTask TaskID = 0

// readChunkSize bounds how much of the backend response body is read per
// OnStream delivery, so a large response streams in bounded pieces instead
// of buffering entirely in memory.
const readChunkSize = 32 * 1024

// Task owns one outbound request with a deadline, per spec.md §4.4. It is
// created and destroyed exclusively through its owning Registry.
type Task struct {
	id       TaskID
	registry *Registry
	lookup   Lookup
	deadline time.Duration

	startedAt time.Time

	cancel context.CancelFunc
	timer  *time.Timer

	terminated atomic.Bool // guards single terminal delivery across the
	// deadline-timer goroutine and the fetch goroutine

	uploadWriter *io.PipeWriter
	uploadOnce   sync.Once // makes AppendChunkToUpload's fin idempotent
}

func newTask(id TaskID, r *Registry, lookup Lookup, deadline time.Duration) *Task {
	return &Task{id: id, registry: r, lookup: lookup, deadline: deadline}
}

// delegate resolves the current delegate, or (nil, false) if the owning
// stream has been destroyed. Every callback site must route through this.
func (t *Task) delegate() (Delegate, bool) {
	if t.lookup == nil {
		return nil, false
	}
	return t.lookup()
}

// deliverOnce runs fn as the task's single terminal callback, ignoring any
// later call (deadline vs. fetch-goroutine race).
func (t *Task) deliverOnce(fn func(Delegate)) {
	if !t.terminated.CompareAndSwap(false, true) {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.registry.onTaskFinished(t.id)
	if d, ok := t.delegate(); ok {
		fn(d)
	}
}

// start arms the deadline timer (if any) and runs the upstream round trip.
// ctx is the connection-scoped context; a per-task cancellable child is
// derived from it so Cancel/CancelAll can abort the in-flight HTTP call
// without touching sibling tasks.
func (t *Task) start(ctx context.Context, req Request) {
	t.startedAt = time.Now()

	taskCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	if t.deadline > 0 {
		t.timer = time.AfterFunc(t.deadline, func() {
			// Deliver before cancelling, so the fetch goroutine's
			// context-cancelled round-trip error cannot claim the terminal
			// callback first.
			t.deliverOnce(func(d Delegate) {
				d.OnError(ErrDeadlineExpired)
			})
			cancel()
		})
	}

	body := req.Body
	if req.ChunkedUpload {
		pr, pw := io.Pipe()
		t.uploadWriter = pw
		body = pr
	}

	go t.run(taskCtx, req, body)
}

func (t *Task) run(ctx context.Context, req Request, body io.Reader) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		t.deliverOnce(func(d Delegate) { d.OnError(ErrBackendUnreachable) })
		return
	}
	if req.Headers != nil {
		req.Headers.RangeAll(func(name, value string) {
			if name == "host" || name == "Host" {
				httpReq.Host = value
				return
			}
			httpReq.Header.Add(name, value)
		})
	}

	resp, err := t.registry.client.Do(httpReq)
	if err != nil {
		t.deliverOnce(func(d Delegate) { d.OnError(classifyRoundTripError(err)) })
		return
	}
	defer resp.Body.Close()

	if t.terminated.Load() {
		// Deadline already fired while the round trip was racing to finish;
		// drain nothing further, the delegate has already been told.
		return
	}

	status := resp.StatusCode
	headers := responseHeaderBlock(status, resp.Header)

	if d, ok := t.delegate(); ok {
		d.OnHeader(status, headers)
	}
	if t.terminated.Load() {
		return
	}

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			fin := readErr == io.EOF
			if fin {
				t.deliverOnce(func(d Delegate) { d.OnStream(chunk, true) })
				return
			}
			if d, ok := t.delegate(); ok {
				d.OnStream(chunk, false)
			}
			if t.terminated.Load() {
				return
			}
			continue
		}
		if readErr == io.EOF {
			t.deliverOnce(func(d Delegate) { d.OnStream(nil, true) })
			return
		}
		if readErr != nil {
			t.deliverOnce(func(d Delegate) { d.OnError(ErrBackendUnreachable) })
			return
		}
	}
}

// classifyRoundTripError distinguishes a backend that answered with a
// response net/http could not parse as a status line (spec.md §7's
// response-unparseable kind) from every other network-level failure
// (connection reset, DNS, TLS), which is backend-unreachable.
func classifyRoundTripError(err error) error {
	if strings.Contains(err.Error(), "malformed HTTP") ||
		strings.Contains(err.Error(), "malformed MIME") {
		return ErrResponseUnparseable
	}
	return ErrBackendUnreachable
}

// responseHeaderBlock converts a net/http response into the header.Block
// form the rest of the proxy works in, setting :status per spec.md §3.
func responseHeaderBlock(status int, h http.Header) *header.Block {
	b := header.New()
	b.Set(header.PseudoStatus, itoa(status))
	for name, values := range h {
		for _, v := range values {
			b.Add(name, v)
		}
	}
	return b
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// AppendChunkToUpload forwards one chunk of a chunked client upload into the
// upstream request body pipe. Valid only after Start with ChunkedUpload
// true; repeated fin=true calls after the first are no-ops, per spec.md
// §4.4.
func (t *Task) AppendChunkToUpload(data []byte, fin bool) {
	if t.uploadWriter == nil {
		return
	}
	if len(data) > 0 {
		t.uploadWriter.Write(data)
	}
	if fin {
		t.uploadOnce.Do(func() {
			t.uploadWriter.Close()
		})
	}
}

// cancelLocal aborts the in-flight request without notifying the delegate
// (the registry already removed this task from its map before calling
// this, on the CancelAll/Cancel path).
func (t *Task) cancelLocal() {
	t.terminated.Store(true)
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.cancel != nil {
		t.cancel()
	}
	if t.uploadWriter != nil {
		t.uploadOnce.Do(func() {
			t.uploadWriter.Close()
		})
	}
}

// ID returns the task's registry-assigned identity.
func (t *Task) ID() TaskID { return t.id }

// StartedAt returns when Start was called, the zero value if never started.
func (t *Task) StartedAt() time.Time { return t.startedAt }
