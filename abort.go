package tangguh

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// defaultRequestID generates registry ids when the caller did not pin one.
func defaultRequestID() string {
	return uuid.NewString()
}

// abortRegistry maps request ids to cancellation handles. Every dispatched
// call registers on entry and removes itself in a deferred block, so handles
// never outlive their request no matter how the call settles.
type abortRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

func newAbortRegistry() *abortRegistry {
	return &abortRegistry{cancels: make(map[string]context.CancelCauseFunc)}
}

func (a *abortRegistry) register(id string, cancel context.CancelCauseFunc) {
	a.mu.Lock()
	a.cancels[id] = cancel
	a.mu.Unlock()
}

func (a *abortRegistry) remove(id string) {
	a.mu.Lock()
	delete(a.cancels, id)
	a.mu.Unlock()
}

// cancel aborts the identified request with cause. Unknown ids are a no-op,
// covering requests that already settled.
func (a *abortRegistry) cancel(id string, cause error) bool {
	a.mu.Lock()
	cancelFn, ok := a.cancels[id]
	a.mu.Unlock()

	if !ok {
		return false
	}
	cancelFn(cause)
	return true
}

// cancelAll aborts every registered request and reports how many were hit.
func (a *abortRegistry) cancelAll(cause error) int {
	a.mu.Lock()
	handles := make([]context.CancelCauseFunc, 0, len(a.cancels))
	for _, cancelFn := range a.cancels {
		handles = append(handles, cancelFn)
	}
	a.mu.Unlock()

	for _, cancelFn := range handles {
		cancelFn(cause)
	}
	return len(handles)
}

func (a *abortRegistry) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cancels)
}
