package scripthost

import (
	"sync/atomic"
)

// Value is a host-side handle to an engine value owned by one Context.
// Its Kind is fixed at creation. Close releases it; a released Value
// rejects every further operation.
type Value struct {
	ctx  *Context
	kind Kind
	raw  Handle
	id   uint64

	released atomic.Bool
	borrowed bool
	pinned   bool
}

// Kind returns the shape of the value.
func (v *Value) Kind() Kind { return v.kind }

// Context returns the owning context.
func (v *Value) Context() *Context { return v.ctx }

// Handle returns the raw engine handle.
func (v *Value) Handle() Handle { return v.raw }

func (v *Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v *Value) IsObject() bool    { return v.kind != KindUndefined }
func (v *Value) IsArray() bool     { return v.kind == KindArray }
func (v *Value) IsFunction() bool  { return v.kind == KindFunction }
func (v *Value) IsException() bool { return v.kind == KindException }

// IsReleased reports whether the handle has been given back.
func (v *Value) IsReleased() bool {
	return v.released.Load()
}

// Close releases the handle. On the owning thread the engine frees it
// immediately; elsewhere it is queued until the next operation on the
// context. Closing twice is a no-op.
func (v *Value) Close() error {
	if v.kind == KindUndefined || v.borrowed || v.pinned {
		return nil
	}
	if !v.released.CompareAndSwap(false, true) {
		return nil
	}
	refs := v.ctx.refs
	if v.ctx.rt.dispatcher.IsOwner() {
		return refs.ReleaseNow(v)
	}
	refs.ReleaseDeferred(v)
	return nil
}

// consume queues an owned value for release after the engine has taken
// its own reference to it.
func (v *Value) consume() {
	if v.kind == KindUndefined || v.borrowed || v.pinned {
		return
	}
	if v.released.CompareAndSwap(false, true) {
		v.ctx.refs.ReleaseDeferred(v)
	}
}

// Dup returns a new owned handle to the same engine value. Use it to
// keep a borrowed callback argument past the callback.
func (v *Value) Dup() (*Value, error) {
	if v.kind == KindUndefined {
		return v, nil
	}
	c := v.ctx
	return call(c, "dup", func() (*Value, error) {
		raw, err := v.handleIn(c, "dup")
		if err != nil {
			return nil, err
		}
		ref, err := c.rt.engine.Dup(c.ptr, raw)
		if err != nil {
			return nil, err
		}
		return c.wrap(ref), nil
	})
}

// handleIn returns v's raw handle for use in target, rejecting values
// that are released or owned elsewhere.
func (v *Value) handleIn(target *Context, op string) (Handle, error) {
	if v.kind == KindUndefined {
		return Handle{}, nil
	}
	if v.ctx != target {
		if v.ctx.rt != target.rt {
			return Handle{}, lifecycleError(op, detailForeignRuntime)
		}
		return Handle{}, lifecycleError(op, detailForeignValue)
	}
	if v.released.Load() {
		return Handle{}, lifecycleError(op, detailValueReleased)
	}
	return v.raw, nil
}

func (v *Value) self(op string) (Handle, error) {
	if v.kind == KindUndefined {
		return Handle{}, unsupportedError(op, "undefined value")
	}
	return v.handleIn(v.ctx, op)
}

// String renders the value through the engine, or "undefined".
func (v *Value) String() string {
	if v.kind == KindUndefined {
		return "undefined"
	}
	s, err := v.ToString()
	if err != nil {
		return "undefined"
	}
	return s
}

// ToString converts the value with the engine's string conversion.
func (v *Value) ToString() (string, error) {
	c := v.ctx
	return call(c, "toString", func() (string, error) {
		raw, err := v.self("toString")
		if err != nil {
			return "", err
		}
		return c.rt.engine.ToString(c.ptr, raw)
	})
}

// TypeOf classifies the value at runtime.
func (v *Value) TypeOf() (Type, error) {
	if v.kind == KindUndefined {
		return TypeUndefined, nil
	}
	c := v.ctx
	return call(c, "typeOf", func() (Type, error) {
		raw, err := v.self("typeOf")
		if err != nil {
			return TypeUndefined, err
		}
		return c.rt.engine.TypeOf(c.ptr, raw)
	})
}
