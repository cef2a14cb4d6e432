package scripthost

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"github.com/yuin/gluamapper"
)

const (
	TypeEngineGo = "go"

	// goHostPackage is the import path host values are exposed under.
	goHostPackage = "host"
)

const maxPanicStack = 16

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// GoEngine adapts yaegi. Host functions and values set on the global
// object are exposed to scripts as exported symbols of package "host";
// "log" becomes host.Log. Host functions have the signature
// func(args ...interface{}) (interface{}, error).
//
// Module scope and CommonJS are not supported.
type GoEngine struct {
	mu       sync.RWMutex
	runtimes map[RuntimePtr]Host
	contexts map[ContextPtr]*goContext
}

type goContext struct {
	ptr     ContextPtr
	rt      RuntimePtr
	host    Host
	i       *interp.Interpreter
	values  *slotTable[reflect.Value]
	symbols map[string]reflect.Value
	globals map[string]interface{}
	fn      map[string]reflect.Value
	lastExc []string
}

func NewGoEngine() *GoEngine {
	return &GoEngine{
		runtimes: make(map[RuntimePtr]Host),
		contexts: make(map[ContextPtr]*goContext),
	}
}

func (e *GoEngine) Name() string {
	return TypeEngineGo
}

func (e *GoEngine) CreateRuntime(host Host) (RuntimePtr, error) {
	ptr := RuntimePtr(nextEnginePtr())
	e.mu.Lock()
	e.runtimes[ptr] = host
	e.mu.Unlock()
	return ptr, nil
}

func (e *GoEngine) ReleaseRuntime(rt RuntimePtr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runtimes, rt)
	for ptr, c := range e.contexts {
		if c.rt == rt {
			c.values.clear()
			delete(e.contexts, ptr)
		}
	}
}

func (e *GoEngine) CreateContext(rt RuntimePtr) (ContextPtr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	host, ok := e.runtimes[rt]
	if !ok {
		return 0, NewError(ClassEngine).Op("createContext").Detail("unknown " + rt.String()).Build()
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return 0, engineError("createContext", err)
	}
	c := &goContext{
		ptr:     ContextPtr(nextEnginePtr()),
		rt:      rt,
		host:    host,
		i:       i,
		values:  newSlotTable[reflect.Value](),
		symbols: make(map[string]reflect.Value),
		globals: make(map[string]interface{}),
		fn:      make(map[string]reflect.Value),
	}
	e.contexts[c.ptr] = c
	return c.ptr, nil
}

func (e *GoEngine) ReleaseContext(ctx ContextPtr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.contexts[ctx]; ok {
		c.values.clear()
		delete(e.contexts, ctx)
	}
}

func (e *GoEngine) context(op string, ctx ContextPtr) (*goContext, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.contexts[ctx]
	if !ok {
		return nil, unknownContext(op, ctx)
	}
	return c, nil
}

func (e *GoEngine) Evaluate(ctx ContextPtr, expected Type, source, fileName string, flags EvalFlags) (any, error) {
	c, err := e.context("evaluate", ctx)
	if err != nil {
		return nil, err
	}
	if flags&EvalTypeMask == EvalTypeModule {
		return nil, unsupportedError("evaluate", "module scope is not supported by the go engine")
	}
	if flags&EvalFlagCompileOnly != 0 {
		if _, err := c.i.Compile(source); err != nil {
			c.record(err, "SyntaxError")
		}
		return nil, nil
	}
	v, err := c.eval(source)
	if err != nil {
		c.record(err, "Error")
		return undefinedRef, nil
	}
	return c.fromNative(v, expected), nil
}

func (c *goContext) eval(source string) (v reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return c.i.Eval(source)
}

func (e *GoEngine) GlobalObject(ctx ContextPtr) (Ref, error) {
	c, err := e.context("globalObject", ctx)
	if err != nil {
		return undefinedRef, err
	}
	return c.refKind(reflect.ValueOf(c.globals), KindObject), nil
}

func (e *GoEngine) NewObject(ctx ContextPtr) (Ref, error) {
	c, err := e.context("newObject", ctx)
	if err != nil {
		return undefinedRef, err
	}
	return c.ref(reflect.ValueOf(map[string]interface{}{})), nil
}

func (e *GoEngine) NewArray(ctx ContextPtr) (Ref, error) {
	c, err := e.context("newArray", ctx)
	if err != nil {
		return undefinedRef, err
	}
	return c.ref(reflect.ValueOf(&[]interface{}{})), nil
}

func (e *GoEngine) NewFunction(ctx ContextPtr, callbackID int32) (Ref, error) {
	c, err := e.context("newFunction", ctx)
	if err != nil {
		return undefinedRef, err
	}
	return c.ref(c.hostFunction(callbackID)), nil
}

func (e *GoEngine) NewError(ctx ContextPtr, message string) (Ref, error) {
	c, err := e.context("newError", ctx)
	if err != nil {
		return undefinedRef, err
	}
	return c.ref(reflect.ValueOf(errors.New(message))), nil
}

func (e *GoEngine) Get(ctx ContextPtr, expected Type, obj Handle, key string) (any, error) {
	c, v, err := e.target("get", ctx, obj)
	if err != nil {
		return nil, err
	}
	if c.isGlobal(v) {
		return c.fromNative(c.global(key), expected), nil
	}
	return c.fromNative(member(v, key), expected), nil
}

func (e *GoEngine) Set(ctx ContextPtr, obj Handle, key string, value any) error {
	c, v, err := e.target("set", ctx, obj)
	if err != nil {
		return err
	}
	nv, err := c.toNative("set", value)
	if err != nil {
		return err
	}
	if c.isGlobal(v) {
		return c.export(key, nv)
	}

	v = reflect.Indirect(v)
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return unsupportedError("set", "map key is not a string")
		}
		v.SetMapIndex(reflect.ValueOf(key).Convert(v.Type().Key()), convertArg(nv, v.Type().Elem()))
		return nil
	case reflect.Struct:
		f := field(v, key)
		if !f.IsValid() || !f.CanSet() {
			return unsupportedError("set", "field "+key+" is not settable")
		}
		f.Set(convertArg(nv, f.Type()))
		return nil
	}
	return unsupportedError("set", v.Kind().String()+" has no properties")
}

func (e *GoEngine) Contains(ctx ContextPtr, obj Handle, key string) (bool, error) {
	c, v, err := e.target("contains", ctx, obj)
	if err != nil {
		return false, err
	}
	if c.isGlobal(v) {
		return c.global(key).IsValid(), nil
	}
	return member(v, key).IsValid(), nil
}

func (e *GoEngine) Keys(ctx ContextPtr, obj Handle) ([]string, error) {
	c, v, err := e.target("keys", ctx, obj)
	if err != nil {
		return nil, err
	}
	if c.isGlobal(v) {
		v = reflect.ValueOf(c.globals)
	}
	var keys []string
	v = reflect.Indirect(v)
	switch v.Kind() {
	case reflect.Map:
		for _, k := range v.MapKeys() {
			keys = append(keys, fmt.Sprint(k.Interface()))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if f := v.Type().Field(i); f.IsExported() {
				keys = append(keys, f.Name)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (e *GoEngine) ArrayGet(ctx ContextPtr, expected Type, arr Handle, index int) (any, error) {
	c, v, err := e.target("arrayGet", ctx, arr)
	if err != nil {
		return nil, err
	}
	v = reflect.Indirect(v)
	if index < 0 || index >= v.Len() {
		return nil, nil
	}
	return c.fromNative(v.Index(index), expected), nil
}

func (e *GoEngine) ArrayAdd(ctx ContextPtr, arr Handle, value any) error {
	c, v, err := e.target("arrayAdd", ctx, arr)
	if err != nil {
		return err
	}
	nv, err := c.toNative("arrayAdd", value)
	if err != nil {
		return err
	}
	if v.Kind() == reflect.Ptr {
		s := v.Elem()
		s.Set(reflect.Append(s, convertArg(nv, s.Type().Elem())))
		return nil
	}
	if v.Kind() != reflect.Slice {
		return unsupportedError("arrayAdd", v.Kind().String()+" is not a slice")
	}
	c.values.set(arr.Ptr, reflect.Append(v, convertArg(nv, v.Type().Elem())))
	return nil
}

func (e *GoEngine) ArrayLen(ctx ContextPtr, arr Handle) (int, error) {
	_, v, err := e.target("arrayLen", ctx, arr)
	if err != nil {
		return 0, err
	}
	return reflect.Indirect(v).Len(), nil
}

// CallFunction calls a method of receiver, or a script-level function
// when the receiver is undefined or the global object.
func (e *GoEngine) CallFunction(ctx ContextPtr, expected Type, receiver Handle, name string, args []any) (any, error) {
	c, err := e.context("callFunction", ctx)
	if err != nil {
		return nil, err
	}
	var f reflect.Value
	recv, err := c.value("callFunction", receiver)
	if err != nil {
		return nil, err
	}
	if receiver.IsUndefined() || c.isGlobal(recv) {
		if f = c.global(name); !f.IsValid() {
			c.lastExc = []string{"ReferenceError", name + " is not defined"}
			return undefinedRef, nil
		}
	} else {
		f = member(recv, name)
	}
	return c.call("callFunction", expected, f, args)
}

func (e *GoEngine) Invoke(ctx ContextPtr, expected Type, receiver, fn Handle, args []any) (any, error) {
	c, err := e.context("invoke", ctx)
	if err != nil {
		return nil, err
	}
	f, err := c.value("invoke", fn)
	if err != nil {
		return nil, err
	}
	return c.call("invoke", expected, f, args)
}

func (e *GoEngine) RegisterHostFunction(ctx ContextPtr, obj Handle, name string, callbackID int32) (Ref, error) {
	c, v, err := e.target("registerHostFunction", ctx, obj)
	if err != nil {
		return undefinedRef, err
	}
	fn := c.hostFunction(callbackID)
	if c.isGlobal(v) {
		if err := c.export(name, fn); err != nil {
			return undefinedRef, err
		}
		return c.ref(fn), nil
	}
	v = reflect.Indirect(v)
	if v.Kind() != reflect.Map || v.Type().Key().Kind() != reflect.String {
		return undefinedRef, unsupportedError("registerHostFunction", "target is not a map")
	}
	v.SetMapIndex(reflect.ValueOf(name).Convert(v.Type().Key()), convertArg(fn, v.Type().Elem()))
	return c.ref(fn), nil
}

func (e *GoEngine) TypeOf(ctx ContextPtr, h Handle) (Type, error) {
	c, err := e.context("typeOf", ctx)
	if err != nil {
		return TypeUndefined, err
	}
	if h.IsUndefined() {
		return TypeUndefined, nil
	}
	v, err := c.value("typeOf", h)
	if err != nil {
		return TypeUndefined, err
	}
	switch goKind(v) {
	case KindArray:
		return TypeArray, nil
	case KindFunction:
		return TypeFunction, nil
	case KindException:
		return TypeException, nil
	}
	return TypeObject, nil
}

func (e *GoEngine) ToString(ctx ContextPtr, h Handle) (string, error) {
	c, err := e.context("toString", ctx)
	if err != nil {
		return "", err
	}
	v, err := c.value("toString", h)
	if err != nil {
		return "", err
	}
	if !v.IsValid() {
		return "undefined", nil
	}
	return fmt.Sprint(v.Interface()), nil
}

func (e *GoEngine) IsError(ctx ContextPtr, h Handle) (bool, error) {
	c, err := e.context("isError", ctx)
	if err != nil {
		return false, err
	}
	v, err := c.value("isError", h)
	if err != nil {
		return false, err
	}
	return goKind(v) == KindException, nil
}

func (e *GoEngine) Dup(ctx ContextPtr, h Handle) (Ref, error) {
	c, err := e.context("dup", ctx)
	if err != nil {
		return undefinedRef, err
	}
	v, err := c.value("dup", h)
	if err != nil {
		return undefinedRef, err
	}
	return c.refKind(v, Kind(h.Tag)), nil
}

func (e *GoEngine) Release(ctx ContextPtr, h Handle) {
	c, err := e.context("release", ctx)
	if err != nil || h.IsUndefined() {
		return
	}
	c.values.release(h.Ptr)
}

func (e *GoEngine) LastException(ctx ContextPtr) []string {
	c, err := e.context("lastException", ctx)
	if err != nil {
		return nil
	}
	exc := c.lastExc
	c.lastExc = nil
	return exc
}

func (e *GoEngine) target(op string, ctx ContextPtr, h Handle) (*goContext, reflect.Value, error) {
	c, err := e.context(op, ctx)
	if err != nil {
		return nil, reflect.Value{}, err
	}
	v, err := c.value(op, h)
	if err != nil {
		return nil, reflect.Value{}, err
	}
	if !v.IsValid() {
		return nil, reflect.Value{}, unsupportedError(op, "undefined value")
	}
	return c, v, nil
}

func (c *goContext) value(op string, h Handle) (reflect.Value, error) {
	if h.IsUndefined() {
		return reflect.Value{}, nil
	}
	if err := checkHandle(op, c.ptr, h); err != nil {
		return reflect.Value{}, err
	}
	v, ok := c.values.get(h.Ptr)
	if !ok {
		return reflect.Value{}, staleHandle(op, h)
	}
	return v, nil
}

func (c *goContext) isGlobal(v reflect.Value) bool {
	return v.Kind() == reflect.Map && v.Pointer() == reflect.ValueOf(c.globals).Pointer()
}

// global resolves name among host exports, then as a script-level
// identifier.
func (c *goContext) global(name string) reflect.Value {
	if v, ok := c.globals[name]; ok {
		return reflect.ValueOf(v)
	}
	if f, ok := c.fn[name]; ok {
		return f
	}
	v, err := c.eval(name)
	if err != nil {
		return reflect.Value{}
	}
	if v.Kind() == reflect.Func {
		c.fn[name] = v
	}
	return v
}

// export publishes a host value as host.<UpperCamelName>.
func (c *goContext) export(name string, v reflect.Value) error {
	if !v.IsValid() {
		delete(c.globals, name)
		delete(c.symbols, exportName(name))
		return nil
	}
	c.globals[name] = v.Interface()
	c.symbols[exportName(name)] = v
	delete(c.fn, name)
	if err := c.i.Use(interp.Exports{goHostPackage + "/" + goHostPackage: c.symbols}); err != nil {
		return engineError("export", err)
	}
	return nil
}

func exportName(name string) string {
	return gluamapper.ToUpperCamelCase(name)
}

func goKind(v reflect.Value) Kind {
	if !v.IsValid() {
		return KindUndefined
	}
	if v.Type().Implements(errorType) {
		return KindException
	}
	switch v.Kind() {
	case reflect.Func:
		return KindFunction
	case reflect.Slice, reflect.Array:
		return KindArray
	case reflect.Ptr:
		if k := v.Type().Elem().Kind(); k == reflect.Slice || k == reflect.Array {
			return KindArray
		}
	}
	return KindObject
}

func (c *goContext) ref(v reflect.Value) Ref {
	return c.refKind(v, goKind(v))
}

func (c *goContext) refKind(v reflect.Value, kind Kind) Ref {
	return Ref{Kind: kind, Handle: handleFor(c.ptr, kind, c.values.put(v))}
}

func (c *goContext) fromNative(v reflect.Value, expected Type) any {
	if expected == TypeVoid || !v.IsValid() {
		return nil
	}
	for v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if expected == TypeDouble {
			return float64(v.Int())
		}
		return int(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if expected == TypeDouble {
			return float64(v.Uint())
		}
		return int(v.Uint())
	case reflect.Float32, reflect.Float64:
		if expected == TypeInteger {
			return int(v.Float())
		}
		return v.Float()
	case reflect.String:
		return v.String()
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return nil
		}
	}
	return c.ref(v)
}

func (c *goContext) toNative(op string, v any) (reflect.Value, error) {
	switch x := v.(type) {
	case nil:
		return reflect.Value{}, nil
	case Handle:
		return c.value(op, x)
	case map[string]any:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			nv, err := c.toNative(op, e)
			if err != nil {
				return reflect.Value{}, err
			}
			out[k] = interfaceOf(nv)
		}
		return reflect.ValueOf(out), nil
	case []any:
		out := make([]interface{}, len(x))
		for i, e := range x {
			nv, err := c.toNative(op, e)
			if err != nil {
				return reflect.Value{}, err
			}
			out[i] = interfaceOf(nv)
		}
		return reflect.ValueOf(out), nil
	}
	return reflect.ValueOf(v), nil
}

func interfaceOf(v reflect.Value) interface{} {
	if !v.IsValid() {
		return nil
	}
	return v.Interface()
}

// member reads a map entry, struct field or method by name.
func member(v reflect.Value, key string) reflect.Value {
	if m := v.MethodByName(key); m.IsValid() {
		return m
	}
	if m := v.MethodByName(exportName(key)); m.IsValid() {
		return m
	}
	v = reflect.Indirect(v)
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}
		}
		return v.MapIndex(reflect.ValueOf(key).Convert(v.Type().Key()))
	case reflect.Struct:
		return field(v, key)
	}
	return reflect.Value{}
}

func field(v reflect.Value, key string) reflect.Value {
	if f := v.FieldByName(key); f.IsValid() {
		return f
	}
	return v.FieldByName(exportName(key))
}

// convertArg adapts v to t where Go allows it. Numeric to string
// conversion is refused.
func convertArg(v reflect.Value, t reflect.Type) reflect.Value {
	if !v.IsValid() {
		return reflect.Zero(t)
	}
	if v.Type().AssignableTo(t) {
		return v
	}
	if t.Kind() == reflect.String && v.Kind() != reflect.String {
		return v
	}
	if v.Type().ConvertibleTo(t) {
		return v.Convert(t)
	}
	return v
}

func (c *goContext) call(op string, expected Type, f reflect.Value, args []any) (res any, err error) {
	if !f.IsValid() || f.Kind() != reflect.Func {
		c.lastExc = []string{"TypeError", "not a function"}
		return undefinedRef, nil
	}
	t := f.Type()
	in := make([]reflect.Value, 0, len(args))
	for i, a := range args {
		nv, err := c.toNative(op, a)
		if err != nil {
			return nil, err
		}
		var pt reflect.Type
		switch {
		case t.IsVariadic() && i >= t.NumIn()-1:
			pt = t.In(t.NumIn() - 1).Elem()
		case i < t.NumIn():
			pt = t.In(i)
		default:
			continue
		}
		in = append(in, convertArg(nv, pt))
	}
	for !t.IsVariadic() && len(in) < t.NumIn() {
		in = append(in, reflect.Zero(t.In(len(in))))
	}

	defer func() {
		if r := recover(); r != nil {
			c.lastExc = []string{"Panic", fmt.Sprint(r)}
			res, err = undefinedRef, nil
		}
	}()
	out := f.Call(in)
	if len(out) == 0 {
		return c.fromNative(reflect.Value{}, expected), nil
	}
	if last := out[len(out)-1]; last.Type().Implements(errorType) && !last.IsNil() {
		c.lastExc = []string{"Error", last.Interface().(error).Error()}
		return undefinedRef, nil
	}
	return c.fromNative(out[0], expected), nil
}

// hostFunction exposes callback id as a variadic Go function.
func (c *goContext) hostFunction(id int32) reflect.Value {
	fn := func(args ...interface{}) (interface{}, error) {
		var lent []int64
		in := make([]any, len(args))
		for i, a := range args {
			out := c.fromNative(reflect.ValueOf(a), TypeAny)
			if ref, ok := out.(Ref); ok {
				lent = append(lent, ref.Handle.Ptr)
			}
			in[i] = out
		}
		defer func() {
			for _, slot := range lent {
				c.values.release(slot)
			}
		}()

		res, err := c.host.CallOut(c.ptr, id, undefinedRef, in)
		if err != nil {
			return nil, err
		}
		v, err := c.toNative("callOut", res)
		if err != nil {
			return nil, err
		}
		return interfaceOf(v), nil
	}
	return reflect.ValueOf(fn)
}

func (c *goContext) record(err error, fallback string) {
	var p interp.Panic
	if errors.As(err, &p) {
		exc := []string{"Panic", fmt.Sprint(p.Value)}
		lines := strings.Split(string(p.Stack), "\n")
		if len(lines) > maxPanicStack {
			lines = lines[:maxPanicStack]
		}
		for _, line := range lines {
			if line = strings.TrimSpace(line); line != "" {
				exc = append(exc, line)
			}
		}
		c.lastExc = exc
		return
	}
	c.lastExc = []string{fallback, err.Error()}
}
