package fetcher

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Registry is the Fetcher Registry (C6 of spec.md): it owns the shared
// *http.Client, assigns TaskIDs, and tracks every inflight Task so a
// connection tearing down can cancel all of its outstanding backend
// requests in one call.
//
// Grounded on the teacher's internal/manager style of a mutex-guarded map
// keyed by a monotonic id; the HTTP round trip itself is new, since the
// teacher's own fetch path was a mock.
type Registry struct {
	mu     sync.Mutex
	tasks  map[TaskID]*Task
	nextID uint64
	client *http.Client
}

// NewRegistry returns a Registry that issues requests through client.
// client's CheckRedirect should return http.ErrUseLastResponse so redirects
// are surfaced to the caller rather than followed transparently, per
// spec.md §4.2's always-on stop_on_redirect behavior.
func NewRegistry(client *http.Client) *Registry {
	return &Registry{tasks: make(map[TaskID]*Task), client: client}
}

// Submit starts fetching req and returns the TaskID the caller uses for
// Append/Cancel. lookup resolves the delegate on every callback; deadline
// of zero means unbounded (spec.md §4.4's "no deadline configured"). ctx
// governs the task's lifetime beyond the registry's own Cancel/CancelAll
// (for example a connection-wide shutdown context).
func (r *Registry) Submit(ctx context.Context, req Request, lookup Lookup, deadline time.Duration) TaskID {
	r.mu.Lock()
	r.nextID++
	id := TaskID(r.nextID)
	t := newTask(id, r, lookup, deadline)
	r.tasks[id] = t
	r.mu.Unlock()

	t.start(ctx, req)
	return id
}

// Append forwards one chunk of a chunked client upload to the task named by
// id. A call against an id that has already finished (or never existed) is
// silently ignored, per spec.md §4.5.
func (r *Registry) Append(id TaskID, data []byte, fin bool) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	t.AppendChunkToUpload(data, fin)
}

// Cancel aborts the task named by id without delivering any further
// Delegate callback. A call against an unknown or already-finished id is a
// no-op.
func (r *Registry) Cancel(id TaskID) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if ok {
		delete(r.tasks, id)
	}
	r.mu.Unlock()
	if ok {
		t.cancelLocal()
	}
}

// CancelAll aborts every task currently tracked by the registry, the
// operation a connection's teardown path calls so no Delegate callback
// fires after the owning stream has been destroyed.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = make(map[TaskID]*Task)
	r.mu.Unlock()

	for _, t := range tasks {
		t.cancelLocal()
	}
}

// onTaskFinished removes id from the tracked set. Called by Task just before
// its terminal Delegate callback is delivered, so Len reflects only
// genuinely inflight work by the time the delegate observes completion.
func (r *Registry) onTaskFinished(id TaskID) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
}

// Len reports the number of tasks currently inflight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
