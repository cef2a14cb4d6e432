package scripthost

import (
	"math"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

const maxExportDepth = 64

// narrow returns v when it matches t and the zero value for t otherwise.
// A discarded handle is released. It runs on the owning thread.
func narrow(v any, t Type) any {
	var out any
	switch t {
	case TypeAny:
		return v
	case TypeVoid:
		out = nil
	case TypeInteger:
		if i, ok := v.(int); ok {
			return i
		}
		out = 0
	case TypeDouble:
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
		out = float64(0)
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b
		}
		out = false
	case TypeString:
		if s, ok := v.(string); ok {
			return s
		}
		out = ""
	case TypeArray, TypeObject, TypeFunction, TypeException:
		if val, ok := v.(*Value); ok && matchesKind(val.kind, t) {
			return val
		}
		out = (*Value)(nil)
	}
	if val, ok := v.(*Value); ok {
		_ = val.Close()
	}
	return out
}

func matchesKind(k Kind, t Type) bool {
	switch t {
	case TypeArray:
		return k == KindArray
	case TypeFunction:
		return k == KindFunction
	case TypeException:
		return k == KindException
	case TypeObject:
		return k != KindUndefined
	}
	return false
}

// marshal converts a host value into the shapes engines accept.
func (c *Context) marshal(op string, v any, depth int) (any, error) {
	if depth > maxExportDepth {
		return nil, unsupportedError(op, "value nesting too deep")
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *Value:
		if x == nil {
			return nil, nil
		}
		return x.handleIn(c, op)
	case bool, string, int, float64:
		return x, nil
	case Handle:
		if err := checkHandle(op, c.ptr, x); err != nil {
			return nil, err
		}
		return x, nil
	case int8:
		return int(x), nil
	case int16:
		return int(x), nil
	case int32:
		return int(x), nil
	case int64:
		if x < math.MinInt || x > math.MaxInt {
			return float64(x), nil
		}
		return int(x), nil
	case uint:
		return unsignedNumber(uint64(x)), nil
	case uint8:
		return int(x), nil
	case uint16:
		return int(x), nil
	case uint32:
		return unsignedNumber(uint64(x)), nil
	case uint64:
		return unsignedNumber(x), nil
	case float32:
		return float64(x), nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			m, err := c.marshal(op, e, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = m
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			m, err := c.marshal(op, e, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m, err := c.marshal(op, iter.Value().Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = m
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			m, err := c.marshal(op, rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	}
	// Left for the engine to wrap natively.
	return v, nil
}

// unsignedNumber keeps values above math.MaxInt as float64 instead of
// wrapping them negative.
func unsignedNumber(n uint64) any {
	if n > math.MaxInt {
		return float64(n)
	}
	return int(n)
}

func (c *Context) marshalArgs(op string, args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		m, err := c.marshal(op, a, 0)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// unmarshal turns an engine result into a host value, registering new
// handles in the reference table.
func (c *Context) unmarshal(v any) any {
	if ref, ok := v.(Ref); ok {
		return c.wrap(ref)
	}
	return v
}

// export copies an engine value into plain Go values. Functions stay
// as owned handles. Runs on the owning thread.
func (c *Context) export(op string, v any, depth int) (any, error) {
	ref, ok := v.(Ref)
	if !ok {
		return v, nil
	}
	switch ref.Kind {
	case KindUndefined:
		return nil, nil
	case KindFunction:
		return c.wrap(ref), nil
	}
	if depth > maxExportDepth {
		c.rt.engine.Release(c.ptr, ref.Handle)
		return nil, unsupportedError(op, "value nesting too deep")
	}
	defer c.rt.engine.Release(c.ptr, ref.Handle)

	eng := c.rt.engine
	if ref.Kind == KindArray {
		n, err := eng.ArrayLen(c.ptr, ref.Handle)
		if err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := 0; i < n; i++ {
			e, err := eng.ArrayGet(c.ptr, TypeAny, ref.Handle, i)
			if err != nil {
				return nil, err
			}
			if out[i], err = c.export(op, e, depth+1); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	keys, err := eng.Keys(c.ptr, ref.Handle)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		e, err := eng.Get(c.ptr, TypeAny, ref.Handle, k)
		if err != nil {
			return nil, err
		}
		if out[k], err = c.export(op, e, depth+1); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Export copies the value into Go maps and slices. Functions are kept
// as owned *Value handles.
func (v *Value) Export() (any, error) {
	if v.kind == KindUndefined {
		return nil, nil
	}
	c := v.ctx
	return call(c, "export", func() (any, error) {
		raw, err := v.self("export")
		if err != nil {
			return nil, err
		}
		if v.kind == KindFunction {
			ref, err := c.rt.engine.Dup(c.ptr, raw)
			if err != nil {
				return nil, err
			}
			return c.wrap(ref), nil
		}
		dup, err := c.rt.engine.Dup(c.ptr, raw)
		if err != nil {
			return nil, err
		}
		return c.export("export", dup, 0)
	})
}

// ToMap exports an object value.
func (v *Value) ToMap() (map[string]any, error) {
	if v.kind == KindArray {
		s, err := v.ToSlice()
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(s))
		for i, e := range s {
			out[strconv.Itoa(i)] = e
		}
		return out, nil
	}
	x, err := v.Export()
	if err != nil {
		return nil, err
	}
	m, ok := x.(map[string]any)
	if !ok {
		return nil, unsupportedError("toMap", v.kind.String()+" is not an object")
	}
	return m, nil
}

// ToSlice exports an array value.
func (v *Value) ToSlice() ([]any, error) {
	if v.kind != KindArray {
		return nil, unsupportedError("toSlice", v.kind.String()+" is not an array")
	}
	x, err := v.Export()
	if err != nil {
		return nil, err
	}
	s, _ := x.([]any)
	return s, nil
}

// Decode exports the value and decodes it into out, which must be a
// pointer. Struct fields match keys case-insensitively or through a
// `script` tag, and scalars are converted weakly.
func (v *Value) Decode(out any) error {
	x, err := v.Export()
	if err != nil {
		return err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "script",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return NewError(ClassConfiguration).Op("decode").Cause(err).Build()
	}
	if err := dec.Decode(x); err != nil {
		return NewError(ClassUnsupported).Op("decode").Cause(err).Build()
	}
	return nil
}
