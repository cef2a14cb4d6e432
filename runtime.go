package scripthost

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Runtime is one engine instance together with the thread that owns it.
type Runtime struct {
	name       string
	engine     Engine
	ptr        RuntimePtr
	dispatcher *Dispatcher
	registry   *ContextRegistry
	log        *zap.Logger

	closing  atomic.Bool
	released atomic.Bool
}

// NewRuntime starts a dispatcher and creates the engine instance on it.
func NewRuntime(cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	log := cfg.Logger.Named("runtime").With(zap.String("runtime", cfg.Name))
	r := &Runtime{
		name:       cfg.Name,
		engine:     cfg.Engine,
		registry:   cfg.Registry,
		log:        log,
		dispatcher: NewDispatcher(cfg.Name, log),
	}

	ptr, err := Post(r.dispatcher, func() (RuntimePtr, error) {
		return r.engine.CreateRuntime(r.registry)
	})
	if err != nil {
		r.dispatcher.Stop()
		return nil, err
	}
	r.ptr = ptr
	log.Debug("runtime created", zap.String("engine", r.engine.Name()), zap.Stringer("ptr", ptr))
	return r, nil
}

// NewRuntimeOf creates a runtime for one of the built-in engine types.
func NewRuntimeOf(engineType string) (*Runtime, error) {
	eng, err := NewEngine(engineType)
	if err != nil {
		return nil, err
	}
	return NewRuntime(Config{Engine: eng})
}

func (r *Runtime) Name() string               { return r.name }
func (r *Runtime) Engine() Engine             { return r.engine }
func (r *Runtime) Ptr() RuntimePtr            { return r.ptr }
func (r *Runtime) Dispatcher() *Dispatcher    { return r.dispatcher }
func (r *Runtime) Registry() *ContextRegistry { return r.registry }
func (r *Runtime) IsReleased() bool           { return r.released.Load() }

// NewContext creates an execution scope and registers it.
func (r *Runtime) NewContext() (*Context, error) {
	if r.closing.Load() {
		return nil, lifecycleError("newContext", detailRuntimeReleased)
	}
	ptr, err := Post(r.dispatcher, func() (ContextPtr, error) {
		return r.engine.CreateContext(r.ptr)
	})
	if err != nil {
		return nil, err
	}
	c := newContext(r, ptr)
	r.registry.insert(c)
	r.log.Debug("context created", zap.Stringer("context", ptr))
	return c, nil
}

// Contexts returns the live contexts created from r.
func (r *Runtime) Contexts() []*Context {
	return r.registry.ContextsOf(r)
}

// Close closes every context of r, releases the engine instance and
// stops the dispatcher. Closing twice is a no-op.
func (r *Runtime) Close() error {
	if !r.closing.CompareAndSwap(false, true) {
		return nil
	}
	for _, c := range r.registry.ContextsOf(r) {
		if err := c.Close(); err != nil {
			r.log.Warn("context close failed", zap.Stringer("context", c.ptr), zap.Error(err))
		}
	}
	err := r.dispatcher.Run(func() error {
		r.engine.ReleaseRuntime(r.ptr)
		return nil
	})
	r.released.Store(true)
	r.dispatcher.Stop()
	r.log.Debug("runtime released")
	return err
}
