package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quicproxy/internal/header"
)

type recordingDelegate struct {
	mu       sync.Mutex
	status   int
	headers  *header.Block
	chunks   [][]byte
	fin      bool
	complete bool
	err      error
	done     chan struct{}
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{done: make(chan struct{})}
}

func (d *recordingDelegate) OnHeader(status int, headers *header.Block) {
	d.mu.Lock()
	d.status = status
	d.headers = headers
	d.mu.Unlock()
}

func (d *recordingDelegate) OnStream(data []byte, fin bool) {
	d.mu.Lock()
	if len(data) > 0 {
		d.chunks = append(d.chunks, data)
	}
	d.fin = fin
	d.mu.Unlock()
	if fin {
		close(d.done)
	}
}

func (d *recordingDelegate) OnComplete() {
	d.mu.Lock()
	d.complete = true
	d.mu.Unlock()
	close(d.done)
}

func (d *recordingDelegate) OnError(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	close(d.done)
}

func alwaysLookup(d Delegate) Lookup {
	return func() (Delegate, bool) { return d, true }
}

func newTestClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestRegistrySubmitDeliversHeaderAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	r := NewRegistry(newTestClient())
	d := newRecordingDelegate()
	req := Request{Method: http.MethodGet, URL: srv.URL, Headers: header.New()}

	id := r.Submit(context.Background(), req, alwaysLookup(d), 0)
	require.NotEqual(t, NoTask, id)

	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delegate completion")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, http.StatusOK, d.status)
	assert.Nil(t, d.err)
	assert.True(t, d.fin)
	v, ok := d.headers.Get("X-Upstream")
	assert.True(t, ok)
	assert.Equal(t, "yes", v)

	var got []byte
	for _, c := range d.chunks {
		got = append(got, c...)
	}
	assert.Equal(t, "hello world", string(got))
	assert.Equal(t, 0, r.Len())
}

func TestRegistrySubmitBackendUnreachable(t *testing.T) {
	r := NewRegistry(newTestClient())
	d := newRecordingDelegate()
	req := Request{Method: http.MethodGet, URL: "http://127.0.0.1:1", Headers: header.New()}

	r.Submit(context.Background(), req, alwaysLookup(d), 0)

	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delegate error")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.ErrorIs(t, d.err, ErrBackendUnreachable)
}

func TestRegistrySubmitDeadlineExpires(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		srv.Close()
	}()

	r := NewRegistry(newTestClient())
	d := newRecordingDelegate()
	req := Request{Method: http.MethodGet, URL: srv.URL, Headers: header.New()}

	r.Submit(context.Background(), req, alwaysLookup(d), 20*time.Millisecond)

	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deadline")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.ErrorIs(t, d.err, ErrDeadlineExpired)
}

func TestRegistryChunkedUpload(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRegistry(newTestClient())
	d := newRecordingDelegate()
	req := Request{Method: http.MethodPost, URL: srv.URL, Headers: header.New(), ChunkedUpload: true}

	id := r.Submit(context.Background(), req, alwaysLookup(d), 0)
	r.Append(id, []byte("chunk1-"), false)
	r.Append(id, []byte("chunk2"), true)

	select {
	case body := <-received:
		assert.Equal(t, "chunk1-chunk2", body)
	case <-time.After(2 * time.Second):
		t.Fatal("backend never received upload body")
	}

	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delegate completion")
	}
}

func TestRegistryCancelAllStopsDelivery(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		srv.Close()
	}()

	r := NewRegistry(newTestClient())
	d := newRecordingDelegate()
	req := Request{Method: http.MethodGet, URL: srv.URL, Headers: header.New()}

	r.Submit(context.Background(), req, alwaysLookup(d), 0)
	require.Equal(t, 1, r.Len())

	r.CancelAll()
	assert.Equal(t, 0, r.Len())

	select {
	case <-d.done:
		t.Fatal("delegate should not receive any callback after CancelAll")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistryAppendOnUnknownTaskIsNoop(t *testing.T) {
	r := NewRegistry(newTestClient())
	assert.NotPanics(t, func() {
		r.Append(TaskID(999), []byte("x"), true)
	})
}
