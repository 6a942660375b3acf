package tangguh

import (
	"context"
	"net/http"
	"sync"
)

// DeduplicationCondition decides whether a request may share an in-flight
// network call with identical concurrent requests.
type DeduplicationCondition func(req *Request) bool

// DefaultDeduplicationCondition coalesces GET requests only. Mutating verbs
// always dispatch their own network call.
func DefaultDeduplicationCondition(req *Request) bool {
	return req.Method == http.MethodGet
}

// inflightCall is one coalesced network call. The owner dispatches and
// settles it; everyone else waits on done and shares the settled value.
type inflightCall struct {
	mu      sync.Mutex
	resp    *Response
	err     error
	done    chan struct{}
	waiters int
}

// dedupRegistry tracks in-flight calls by request fingerprint. Entries live
// exactly as long as their network call: complete removes them before
// releasing waiters, so a settled call can never absorb later requests.
type dedupRegistry struct {
	mu    sync.Mutex
	calls map[string]*inflightCall
}

func newDedupRegistry() *dedupRegistry {
	return &dedupRegistry{calls: make(map[string]*inflightCall)}
}

// acquire joins the in-flight call for key, creating it when absent. The
// second return value is true for the owner, who must call complete.
func (d *dedupRegistry) acquire(key string) (*inflightCall, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if call, ok := d.calls[key]; ok {
		call.mu.Lock()
		call.waiters++
		call.mu.Unlock()
		return call, false
	}

	call := &inflightCall{
		done:    make(chan struct{}),
		waiters: 1,
	}
	d.calls[key] = call
	return call, true
}

// complete settles the call for key and releases its waiters.
func (d *dedupRegistry) complete(key string, resp *Response, err error) {
	d.mu.Lock()
	call, ok := d.calls[key]
	if ok {
		delete(d.calls, key)
	}
	d.mu.Unlock()

	if !ok {
		return
	}

	call.mu.Lock()
	call.resp = resp
	call.err = err
	call.mu.Unlock()
	close(call.done)
}

// len reports the number of in-flight calls.
func (d *dedupRegistry) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// wait blocks until the owner settles the call or ctx ends. Waiters that
// give up leave the owner running; only their own call fails.
func (call *inflightCall) wait(ctx context.Context) (*Response, error) {
	select {
	case <-call.done:
		call.mu.Lock()
		resp, err := call.resp, call.err
		call.mu.Unlock()
		return resp, err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}
