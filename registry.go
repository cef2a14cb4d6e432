package scripthost

import (
	"sync"

	"go.uber.org/zap"
)

// ContextRegistry maps engine context pointers to live contexts. Engines
// reach the host through it, so it implements Host.
type ContextRegistry struct {
	mu       sync.RWMutex
	contexts map[ContextPtr]*Context
}

var (
	defaultRegistry     *ContextRegistry
	defaultRegistryOnce sync.Once
)

// NewContextRegistry creates an empty registry.
func NewContextRegistry() *ContextRegistry {
	return &ContextRegistry{contexts: make(map[ContextPtr]*Context)}
}

// DefaultRegistry returns the process-wide registry used by runtimes
// that do not configure their own.
func DefaultRegistry() *ContextRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewContextRegistry()
	})
	return defaultRegistry
}

func (r *ContextRegistry) insert(c *Context) {
	r.mu.Lock()
	r.contexts[c.ptr] = c
	r.mu.Unlock()
}

func (r *ContextRegistry) remove(ptr ContextPtr) {
	r.mu.Lock()
	delete(r.contexts, ptr)
	r.mu.Unlock()
}

// Lookup returns the live context registered under ptr.
func (r *ContextRegistry) Lookup(ptr ContextPtr) (*Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contexts[ptr]
	return c, ok
}

// Len returns the number of registered contexts.
func (r *ContextRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contexts)
}

// ContextsOf returns the contexts created from rt.
func (r *ContextRegistry) ContextsOf(rt *Runtime) []*Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Context
	for _, c := range r.contexts {
		if c.rt == rt {
			out = append(out, c)
		}
	}
	return out
}

// CallOut dispatches an engine call to a registered host function. A
// missing context or callback yields a nil result.
func (r *ContextRegistry) CallOut(ptr ContextPtr, id int32, receiver Ref, args []any) (any, error) {
	c, ok := r.Lookup(ptr)
	if !ok {
		Logger().Debug("call-out to unknown context", zap.Stringer("context", ptr), zap.Int32("callback", id))
		return nil, nil
	}
	return c.callOut(id, receiver, args)
}

// NormalizeModuleName resolves name relative to base for ctx's module
// system.
func (r *ContextRegistry) NormalizeModuleName(ptr ContextPtr, base, name string) (string, bool) {
	if _, ok := r.Lookup(ptr); !ok {
		return "", false
	}
	return ResolveModuleName(base, name), true
}

// ModuleScript asks ctx's module provider for the source of name.
func (r *ContextRegistry) ModuleScript(ptr ContextPtr, name string) (string, bool) {
	c, ok := r.Lookup(ptr)
	if !ok {
		return "", false
	}
	return c.moduleScript(name)
}
