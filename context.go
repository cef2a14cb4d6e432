package scripthost

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Context is an isolated execution scope inside a Runtime. It owns
// every Value it hands out, its host callbacks and its plugins.
type Context struct {
	rt        *Runtime
	ptr       ContextPtr
	refs      *ReferenceTable
	callbacks *CallbackRegistry
	undefined *Value
	log       *zap.Logger

	global *Value

	mu       sync.Mutex
	plugins  []Plugin
	provider ModuleProvider

	closing  atomic.Bool
	released atomic.Bool
}

func newContext(rt *Runtime, ptr ContextPtr) *Context {
	c := &Context{
		rt:        rt,
		ptr:       ptr,
		callbacks: NewCallbackRegistry(),
		log:       rt.log.With(zap.Stringer("context", ptr)),
	}
	c.refs = NewReferenceTable(rt.dispatcher, func(h Handle) {
		rt.engine.Release(ptr, h)
	})
	c.undefined = &Value{ctx: c, kind: KindUndefined}
	c.undefined.released.Store(true)
	return c
}

func (c *Context) Runtime() *Runtime { return c.rt }
func (c *Context) Ptr() ContextPtr   { return c.ptr }

// IsReleased reports whether the context has been closed.
func (c *Context) IsReleased() bool {
	return c.released.Load()
}

// Undefined returns the context's undefined sentinel.
func (c *Context) Undefined() *Value {
	return c.undefined
}

// References returns the number of live handles.
func (c *Context) References() int {
	return c.refs.Len()
}

// PendingReleases returns the number of handles released off the owning
// thread and not yet drained.
func (c *Context) PendingReleases() int {
	return c.refs.Pending()
}

// call runs op on the owning thread after draining deferred releases.
func call[T any](c *Context, op string, fn func() (T, error)) (T, error) {
	var zero T
	if c.released.Load() {
		return zero, lifecycleError(op, detailContextReleased)
	}
	return Post(c.rt.dispatcher, func() (T, error) {
		if c.released.Load() {
			return zero, lifecycleError(op, detailContextReleased)
		}
		if err := c.refs.Drain(); err != nil {
			return zero, err
		}
		return fn()
	})
}

// wrap registers an engine reference as an owned Value.
func (c *Context) wrap(ref Ref) *Value {
	if ref.Kind == KindUndefined {
		return c.undefined
	}
	v := &Value{ctx: c, kind: ref.Kind, raw: ref.Handle}
	c.refs.Register(v)
	return v
}

func (c *Context) borrow(ref Ref) *Value {
	if ref.Kind == KindUndefined {
		return c.undefined
	}
	return &Value{ctx: c, kind: ref.Kind, raw: ref.Handle, borrowed: true}
}

// checkException converts a pending engine exception into an error.
func (c *Context) checkException() error {
	if exc := exceptionFrom(c.rt.engine.LastException(c.ptr)); exc != nil {
		return exc
	}
	return nil
}

func (c *Context) evaluate(expected Type, source, fileName string, flags EvalFlags) (any, error) {
	return call(c, "evaluate", func() (any, error) {
		res, err := c.rt.engine.Evaluate(c.ptr, expected, source, fileName, flags)
		if err != nil {
			return nil, err
		}
		if err := c.checkException(); err != nil {
			return nil, err
		}
		return narrow(c.unmarshal(res), expected), nil
	})
}

// Evaluate runs source as a global script and returns its completion
// value.
func (c *Context) Evaluate(source, fileName string) (any, error) {
	return c.evaluate(TypeAny, source, fileName, EvalTypeGlobal)
}

// EvaluateAs runs source and narrows the result to expected. A result
// of another type yields the zero value for expected.
func (c *Context) EvaluateAs(expected Type, source, fileName string) (any, error) {
	return c.evaluate(expected, source, fileName, EvalTypeGlobal)
}

// EvaluateFlags runs source with explicit evaluation flags.
func (c *Context) EvaluateFlags(expected Type, source, fileName string, flags EvalFlags) (any, error) {
	return c.evaluate(expected, source, fileName, flags)
}

// EvaluateModule runs source in module scope.
func (c *Context) EvaluateModule(source, fileName string) (any, error) {
	return c.evaluate(TypeAny, source, fileName, EvalTypeModule)
}

// Compile checks source for syntax errors without running it.
func (c *Context) Compile(source, fileName string) error {
	_, err := c.evaluate(TypeVoid, source, fileName, EvalTypeGlobal|EvalFlagCompileOnly)
	return err
}

func (c *Context) EvaluateInteger(source, fileName string) (int, error) {
	v, err := c.evaluate(TypeInteger, source, fileName, EvalTypeGlobal)
	i, _ := v.(int)
	return i, err
}

func (c *Context) EvaluateDouble(source, fileName string) (float64, error) {
	v, err := c.evaluate(TypeDouble, source, fileName, EvalTypeGlobal)
	f, _ := v.(float64)
	return f, err
}

func (c *Context) EvaluateBoolean(source, fileName string) (bool, error) {
	v, err := c.evaluate(TypeBoolean, source, fileName, EvalTypeGlobal)
	b, _ := v.(bool)
	return b, err
}

func (c *Context) EvaluateString(source, fileName string) (string, error) {
	v, err := c.evaluate(TypeString, source, fileName, EvalTypeGlobal)
	s, _ := v.(string)
	return s, err
}

// EvaluateObject returns any object-shaped result, arrays and functions
// included, or nil.
func (c *Context) EvaluateObject(source, fileName string) (*Value, error) {
	v, err := c.evaluate(TypeObject, source, fileName, EvalTypeGlobal)
	val, _ := v.(*Value)
	return val, err
}

func (c *Context) EvaluateArray(source, fileName string) (*Value, error) {
	v, err := c.evaluate(TypeArray, source, fileName, EvalTypeGlobal)
	val, _ := v.(*Value)
	return val, err
}

func (c *Context) EvaluateFunction(source, fileName string) (*Value, error) {
	v, err := c.evaluate(TypeFunction, source, fileName, EvalTypeGlobal)
	val, _ := v.(*Value)
	return val, err
}

// EvaluateVoid runs source for its side effects.
func (c *Context) EvaluateVoid(source, fileName string) error {
	_, err := c.evaluate(TypeVoid, source, fileName, EvalTypeGlobal)
	return err
}

// Global returns the global object. The handle is pinned to the context
// and Close on it is a no-op.
func (c *Context) Global() (*Value, error) {
	return call(c, "global", func() (*Value, error) {
		if c.global != nil {
			return c.global, nil
		}
		ref, err := c.rt.engine.GlobalObject(c.ptr)
		if err != nil {
			return nil, err
		}
		c.global = &Value{ctx: c, kind: ref.Kind, raw: ref.Handle, pinned: true}
		return c.global, nil
	})
}

func (c *Context) newRef(op string, create func() (Ref, error)) (*Value, error) {
	return call(c, op, func() (*Value, error) {
		ref, err := create()
		if err != nil {
			return nil, err
		}
		return c.wrap(ref), nil
	})
}

// NewObject creates an empty object.
func (c *Context) NewObject() (*Value, error) {
	return c.newRef("newObject", func() (Ref, error) {
		return c.rt.engine.NewObject(c.ptr)
	})
}

// NewArray creates an empty array.
func (c *Context) NewArray() (*Value, error) {
	return c.newRef("newArray", func() (Ref, error) {
		return c.rt.engine.NewArray(c.ptr)
	})
}

// NewError creates an engine error object carrying message.
func (c *Context) NewError(message string) (*Value, error) {
	return c.newRef("newError", func() (Ref, error) {
		return c.rt.engine.NewError(c.ptr, message)
	})
}

// NewFunction wraps fn as a script function value.
func (c *Context) NewFunction(fn HostFunc) (*Value, error) {
	return c.newRef("newFunction", func() (Ref, error) {
		id := c.callbacks.Register(fn)
		ref, err := c.rt.engine.NewFunction(c.ptr, id)
		if err != nil {
			c.callbacks.Remove(id)
		}
		return ref, err
	})
}

// NewValue converts a Go map, slice or scalar into an engine value. Maps
// and slices become fresh objects and arrays.
func (c *Context) NewValue(v any) (any, error) {
	return call(c, "newValue", func() (any, error) {
		m, err := c.marshal("newValue", v, 0)
		if err != nil {
			return nil, err
		}
		switch mv := m.(type) {
		case map[string]any:
			obj, err := c.rt.engine.NewObject(c.ptr)
			if err != nil {
				return nil, err
			}
			for k, e := range mv {
				if err := c.rt.engine.Set(c.ptr, obj.Handle, k, e); err != nil {
					c.rt.engine.Release(c.ptr, obj.Handle)
					return nil, err
				}
			}
			return c.wrap(obj), nil
		case []any:
			arr, err := c.rt.engine.NewArray(c.ptr)
			if err != nil {
				return nil, err
			}
			for _, e := range mv {
				if err := c.rt.engine.ArrayAdd(c.ptr, arr.Handle, e); err != nil {
					c.rt.engine.Release(c.ptr, arr.Handle)
					return nil, err
				}
			}
			return c.wrap(arr), nil
		}
		return v, nil
	})
}

// RegisterFunction installs fn on the global object under name.
func (c *Context) RegisterFunction(name string, fn HostFunc) (*Value, error) {
	g, err := c.Global()
	if err != nil {
		return nil, err
	}
	return g.RegisterFunction(name, fn)
}

// RegisterClass installs a constructor on the global object.
func (c *Context) RegisterClass(name string, ctor HostFunc) (*Value, error) {
	g, err := c.Global()
	if err != nil {
		return nil, err
	}
	return g.RegisterClass(name, ctor)
}

// callOut runs the host function registered under id. Engines call it
// on the owning thread while a script call is in progress.
func (c *Context) callOut(id int32, receiver Ref, args []any) (any, error) {
	if err := c.rt.dispatcher.CheckThread("callOut"); err != nil {
		return nil, err
	}
	if c.released.Load() {
		return nil, nil
	}
	fn, ok := c.callbacks.Lookup(id)
	if !ok {
		c.log.Debug("call-out to unknown callback", zap.Int32("callback", id))
		return nil, nil
	}

	var borrowed []*Value
	lend := func(ref Ref) *Value {
		v := c.borrow(ref)
		if v.borrowed {
			borrowed = append(borrowed, v)
		}
		return v
	}
	recv := lend(receiver)
	in := make([]any, len(args))
	for i, a := range args {
		if ref, ok := a.(Ref); ok {
			in[i] = lend(ref)
		} else {
			in[i] = a
		}
	}
	defer func() {
		for _, v := range borrowed {
			v.released.Store(true)
		}
	}()

	res, err := fn(recv, in)
	if err != nil {
		if val, ok := res.(*Value); ok && val != nil {
			_ = val.Close()
		}
		return nil, err
	}
	out, err := c.marshal("callOut", res, 0)
	if err != nil {
		return nil, err
	}
	if val, ok := res.(*Value); ok && val != nil {
		val.consume()
	}
	return out, nil
}

// SetModuleProvider installs the source provider used for module
// resolution.
func (c *Context) SetModuleProvider(p ModuleProvider) {
	c.mu.Lock()
	c.provider = p
	c.mu.Unlock()
}

func (c *Context) moduleScript(name string) (string, bool) {
	c.mu.Lock()
	p := c.provider
	c.mu.Unlock()
	if p == nil {
		return "", false
	}
	return p.ModuleScript(name)
}

// AddPlugin installs p. Installing the same plugin twice is a no-op.
func (c *Context) AddPlugin(p Plugin) error {
	if c.released.Load() {
		return lifecycleError("addPlugin", detailContextReleased)
	}
	c.mu.Lock()
	for _, installed := range c.plugins {
		if installed == p {
			c.mu.Unlock()
			return nil
		}
	}
	c.plugins = append(c.plugins, p)
	c.mu.Unlock()

	if err := p.Setup(c); err != nil {
		c.mu.Lock()
		for i, installed := range c.plugins {
			if installed == p {
				c.plugins = append(c.plugins[:i], c.plugins[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Plugins returns the installed plugins in install order.
func (c *Context) Plugins() []Plugin {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Plugin(nil), c.plugins...)
}

// Close tears the context down: plugins, callbacks, live handles, the
// release pool and finally the engine scope. Closing twice is a no-op.
func (c *Context) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.rt.registry.remove(c.ptr)

	c.mu.Lock()
	plugins := c.plugins
	c.plugins = nil
	c.mu.Unlock()

	err := c.rt.dispatcher.Run(func() error {
		for i := len(plugins) - 1; i >= 0; i-- {
			plugins[i].Close(c)
		}
		c.callbacks.Clear()
		for _, v := range c.refs.Live() {
			if v.released.CompareAndSwap(false, true) {
				if err := c.refs.ReleaseNow(v); err != nil {
					return err
				}
			}
		}
		if err := c.refs.Drain(); err != nil {
			return err
		}
		if c.global != nil {
			c.global.released.Store(true)
			c.rt.engine.Release(c.ptr, c.global.raw)
		}
		c.released.Store(true)
		c.rt.engine.ReleaseContext(c.ptr)
		return nil
	})
	c.released.Store(true)
	c.log.Debug("context closed")
	return err
}
