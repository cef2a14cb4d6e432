package scripthost

import (
	"sync"
)

// HostFunc is a host function callable from script code.
//
// The receiver and any *Value arguments are borrowed: they stop being
// usable when the function returns. Call Dup on one to keep it.
// A *Value result is consumed and released once the engine holds it,
// unless it is borrowed or the context's global object. A non-nil error
// is raised as a script exception.
type HostFunc func(receiver *Value, args []any) (any, error)

// CallbackRegistry maps callback ids to host functions for one Context.
type CallbackRegistry struct {
	mu      sync.RWMutex
	next    int32
	entries map[int32]HostFunc
}

func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{entries: make(map[int32]HostFunc)}
}

// Register stores fn under a fresh id.
func (r *CallbackRegistry) Register(fn HostFunc) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries[r.next] = fn
	return r.next
}

func (r *CallbackRegistry) Lookup(id int32) (HostFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.entries[id]
	return fn, ok
}

func (r *CallbackRegistry) Remove(id int32) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

func (r *CallbackRegistry) Clear() {
	r.mu.Lock()
	r.entries = make(map[int32]HostFunc)
	r.mu.Unlock()
}

func (r *CallbackRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
