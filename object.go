package scripthost

// Get reads a property.
func (v *Value) Get(key string) (any, error) {
	return v.GetAs(TypeAny, key)
}

// GetAs reads a property narrowed to expected.
func (v *Value) GetAs(expected Type, key string) (any, error) {
	c := v.ctx
	return call(c, "get", func() (any, error) {
		raw, err := v.self("get")
		if err != nil {
			return nil, err
		}
		res, err := c.rt.engine.Get(c.ptr, expected, raw, key)
		if err != nil {
			return nil, err
		}
		return narrow(c.unmarshal(res), expected), nil
	})
}

func (v *Value) GetInteger(key string) (int, error) {
	x, err := v.GetAs(TypeInteger, key)
	i, _ := x.(int)
	return i, err
}

func (v *Value) GetDouble(key string) (float64, error) {
	x, err := v.GetAs(TypeDouble, key)
	f, _ := x.(float64)
	return f, err
}

func (v *Value) GetBoolean(key string) (bool, error) {
	x, err := v.GetAs(TypeBoolean, key)
	b, _ := x.(bool)
	return b, err
}

func (v *Value) GetString(key string) (string, error) {
	x, err := v.GetAs(TypeString, key)
	s, _ := x.(string)
	return s, err
}

// GetObject returns any object-shaped property, or nil.
func (v *Value) GetObject(key string) (*Value, error) {
	x, err := v.GetAs(TypeObject, key)
	val, _ := x.(*Value)
	return val, err
}

func (v *Value) GetArray(key string) (*Value, error) {
	x, err := v.GetAs(TypeArray, key)
	val, _ := x.(*Value)
	return val, err
}

func (v *Value) GetFunction(key string) (*Value, error) {
	x, err := v.GetAs(TypeFunction, key)
	val, _ := x.(*Value)
	return val, err
}

// Set writes a property. Go maps and slices are converted into new
// engine objects and arrays.
func (v *Value) Set(key string, value any) error {
	c := v.ctx
	_, err := call(c, "set", func() (struct{}, error) {
		raw, err := v.self("set")
		if err != nil {
			return struct{}{}, err
		}
		m, err := c.marshal("set", value, 0)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, c.rt.engine.Set(c.ptr, raw, key, m)
	})
	return err
}

// Contains reports whether key resolves on the object.
func (v *Value) Contains(key string) (bool, error) {
	c := v.ctx
	return call(c, "contains", func() (bool, error) {
		raw, err := v.self("contains")
		if err != nil {
			return false, err
		}
		return c.rt.engine.Contains(c.ptr, raw, key)
	})
}

// Keys lists the object's enumerable keys.
func (v *Value) Keys() ([]string, error) {
	c := v.ctx
	return call(c, "keys", func() ([]string, error) {
		raw, err := v.self("keys")
		if err != nil {
			return nil, err
		}
		return c.rt.engine.Keys(c.ptr, raw)
	})
}

// Call invokes the method name with v as receiver.
func (v *Value) Call(name string, args ...any) (any, error) {
	return v.CallAs(TypeAny, name, args...)
}

// CallAs invokes the method name and narrows its result to expected.
func (v *Value) CallAs(expected Type, name string, args ...any) (any, error) {
	c := v.ctx
	return call(c, "call", func() (any, error) {
		raw, err := v.self("call")
		if err != nil {
			return nil, err
		}
		in, err := c.marshalArgs("call", args)
		if err != nil {
			return nil, err
		}
		res, err := c.rt.engine.CallFunction(c.ptr, expected, raw, name, in)
		if err != nil {
			return nil, err
		}
		if err := c.checkException(); err != nil {
			return nil, err
		}
		return narrow(c.unmarshal(res), expected), nil
	})
}

// RegisterFunction installs fn on the object under name and returns
// the function value.
func (v *Value) RegisterFunction(name string, fn HostFunc) (*Value, error) {
	c := v.ctx
	return call(c, "registerFunction", func() (*Value, error) {
		raw, err := v.self("registerFunction")
		if err != nil {
			return nil, err
		}
		id := c.callbacks.Register(fn)
		ref, err := c.rt.engine.RegisterHostFunction(c.ptr, raw, name, id)
		if err != nil {
			c.callbacks.Remove(id)
			return nil, err
		}
		return c.wrap(ref), nil
	})
}

// RegisterClass installs a constructor under name. Each call, or each
// `new name(...)` where the engine has it, hands ctor a fresh object as
// its receiver. The object becomes the result unless ctor returns a
// value of its own.
func (v *Value) RegisterClass(name string, ctor HostFunc) (*Value, error) {
	c := v.ctx
	return v.RegisterFunction(name, func(_ *Value, args []any) (any, error) {
		this, err := c.NewObject()
		if err != nil {
			return nil, err
		}
		res, err := ctor(this, args)
		if err != nil {
			_ = this.Close()
			return nil, err
		}
		if res == nil {
			return this, nil
		}
		if own, ok := res.(*Value); !ok || own != this {
			_ = this.Close()
		}
		return res, nil
	})
}

// Len returns the length of an array value.
func (v *Value) Len() (int, error) {
	if v.kind != KindArray {
		return 0, unsupportedError("len", v.kind.String()+" is not an array")
	}
	c := v.ctx
	return call(c, "len", func() (int, error) {
		raw, err := v.self("len")
		if err != nil {
			return 0, err
		}
		return c.rt.engine.ArrayLen(c.ptr, raw)
	})
}

// Index reads an array element.
func (v *Value) Index(i int) (any, error) {
	return v.IndexAs(TypeAny, i)
}

// IndexAs reads an array element narrowed to expected.
func (v *Value) IndexAs(expected Type, i int) (any, error) {
	if v.kind != KindArray {
		return nil, unsupportedError("index", v.kind.String()+" is not an array")
	}
	c := v.ctx
	return call(c, "index", func() (any, error) {
		raw, err := v.self("index")
		if err != nil {
			return nil, err
		}
		res, err := c.rt.engine.ArrayGet(c.ptr, expected, raw, i)
		if err != nil {
			return nil, err
		}
		return narrow(c.unmarshal(res), expected), nil
	})
}

// Push appends values to an array.
func (v *Value) Push(values ...any) error {
	if v.kind != KindArray {
		return unsupportedError("push", v.kind.String()+" is not an array")
	}
	c := v.ctx
	_, err := call(c, "push", func() (struct{}, error) {
		raw, err := v.self("push")
		if err != nil {
			return struct{}{}, err
		}
		in, err := c.marshalArgs("push", values)
		if err != nil {
			return struct{}{}, err
		}
		for _, e := range in {
			if err := c.rt.engine.ArrayAdd(c.ptr, raw, e); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

// Invoke calls a function value. A nil receiver means undefined.
func (v *Value) Invoke(receiver *Value, args ...any) (any, error) {
	return v.InvokeAs(TypeAny, receiver, args...)
}

// InvokeAs calls a function value and narrows its result to expected.
func (v *Value) InvokeAs(expected Type, receiver *Value, args ...any) (any, error) {
	if v.kind != KindFunction {
		return nil, unsupportedError("invoke", v.kind.String()+" is not a function")
	}
	c := v.ctx
	return call(c, "invoke", func() (any, error) {
		fn, err := v.self("invoke")
		if err != nil {
			return nil, err
		}
		var recv Handle
		if receiver != nil {
			if recv, err = receiver.handleIn(c, "invoke"); err != nil {
				return nil, err
			}
		}
		in, err := c.marshalArgs("invoke", args)
		if err != nil {
			return nil, err
		}
		res, err := c.rt.engine.Invoke(c.ptr, expected, recv, fn, in)
		if err != nil {
			return nil, err
		}
		if err := c.checkException(); err != nil {
			return nil, err
		}
		return narrow(c.unmarshal(res), expected), nil
	})
}

// Exception reads name, message and stack from an exception value.
func (v *Value) Exception() (*Exception, error) {
	if v.kind != KindException {
		return nil, unsupportedError("exception", v.kind.String()+" is not an exception")
	}
	name, err := v.GetString("name")
	if err != nil {
		return nil, err
	}
	message, err := v.GetString("message")
	if err != nil {
		return nil, err
	}
	stack, err := v.GetString("stack")
	if err != nil {
		return nil, err
	}
	return &Exception{Name: name, Message: message, Stack: stack}, nil
}
