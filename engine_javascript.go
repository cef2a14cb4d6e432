package scripthost

import (
	"encoding/json"
	"errors"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/robertkrimen/otto"
)

const (
	TypeEngineJs = "js"
)

// JsEngine adapts otto. Each context is its own *otto.Otto.
type JsEngine struct {
	mu       sync.RWMutex
	runtimes map[RuntimePtr]Host
	contexts map[ContextPtr]*jsContext
}

type jsContext struct {
	ptr     ContextPtr
	rt      RuntimePtr
	host    Host
	vm      *otto.Otto
	values  *slotTable[otto.Value]
	modules map[string]otto.Value
	hasKey  *otto.Value
	lastExc []string
}

func NewJsEngine() *JsEngine {
	return &JsEngine{
		runtimes: make(map[RuntimePtr]Host),
		contexts: make(map[ContextPtr]*jsContext),
	}
}

func (e *JsEngine) Name() string {
	return TypeEngineJs
}

func (e *JsEngine) CreateRuntime(host Host) (RuntimePtr, error) {
	ptr := RuntimePtr(nextEnginePtr())
	e.mu.Lock()
	e.runtimes[ptr] = host
	e.mu.Unlock()
	return ptr, nil
}

func (e *JsEngine) ReleaseRuntime(rt RuntimePtr) {
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

func (e *JsEngine) CreateContext(rt RuntimePtr) (ContextPtr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	host, ok := e.runtimes[rt]
	if !ok {
		return 0, NewError(ClassEngine).Op("createContext").Detail("unknown " + rt.String()).Build()
	}
	c := &jsContext{
		ptr:     ContextPtr(nextEnginePtr()),
		rt:      rt,
		host:    host,
		vm:      otto.New(),
		values:  newSlotTable[otto.Value](),
		modules: make(map[string]otto.Value),
	}
	e.contexts[c.ptr] = c
	return c.ptr, nil
}

func (e *JsEngine) ReleaseContext(ctx ContextPtr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.contexts[ctx]; ok {
		c.values.clear()
		delete(e.contexts, ctx)
	}
}

func (e *JsEngine) context(op string, ctx ContextPtr) (*jsContext, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.contexts[ctx]
	if !ok {
		return nil, unknownContext(op, ctx)
	}
	return c, nil
}

func (e *JsEngine) Evaluate(ctx ContextPtr, expected Type, source, fileName string, flags EvalFlags) (any, error) {
	c, err := e.context("evaluate", ctx)
	if err != nil {
		return nil, err
	}
	if flags&EvalFlagStrict != 0 {
		source = `"use strict"; ` + source
	}
	if flags&EvalTypeMask == EvalTypeModule {
		if flags&EvalFlagCompileOnly != 0 {
			if _, err := c.vm.Compile(fileName, moduleSource(source)); err != nil {
				c.record(err, "SyntaxError")
			}
			return nil, nil
		}
		exports, err := c.runModule(source, fileName)
		if err != nil {
			c.record(err, "Error")
			return undefinedRef, nil
		}
		return c.fromNative(exports, expected), nil
	}

	script, err := c.vm.Compile(fileName, source)
	if err != nil {
		c.record(err, "SyntaxError")
		return undefinedRef, nil
	}
	if flags&EvalFlagCompileOnly != 0 {
		return nil, nil
	}
	v, err := c.vm.Run(script)
	if err != nil {
		c.record(err, "Error")
		return undefinedRef, nil
	}
	return c.fromNative(v, expected), nil
}

func (e *JsEngine) GlobalObject(ctx ContextPtr) (Ref, error) {
	c, err := e.context("globalObject", ctx)
	if err != nil {
		return undefinedRef, err
	}
	v, err := c.vm.Run("this")
	if err != nil {
		return undefinedRef, engineError("globalObject", err)
	}
	return c.ref(v), nil
}

func (e *JsEngine) NewObject(ctx ContextPtr) (Ref, error) {
	c, err := e.context("newObject", ctx)
	if err != nil {
		return undefinedRef, err
	}
	obj, err := c.vm.Object(`({})`)
	if err != nil {
		return undefinedRef, engineError("newObject", err)
	}
	return c.ref(obj.Value()), nil
}

func (e *JsEngine) NewArray(ctx ContextPtr) (Ref, error) {
	c, err := e.context("newArray", ctx)
	if err != nil {
		return undefinedRef, err
	}
	arr, err := c.vm.Object(`[]`)
	if err != nil {
		return undefinedRef, engineError("newArray", err)
	}
	return c.ref(arr.Value()), nil
}

func (e *JsEngine) NewFunction(ctx ContextPtr, callbackID int32) (Ref, error) {
	c, err := e.context("newFunction", ctx)
	if err != nil {
		return undefinedRef, err
	}
	return c.ref(c.hostFunction(callbackID)), nil
}

func (e *JsEngine) NewError(ctx ContextPtr, message string) (Ref, error) {
	c, err := e.context("newError", ctx)
	if err != nil {
		return undefinedRef, err
	}
	v, err := c.vm.Call("new Error", nil, message)
	if err != nil {
		return undefinedRef, engineError("newError", err)
	}
	return c.ref(v), nil
}

func (e *JsEngine) Get(ctx ContextPtr, expected Type, obj Handle, key string) (any, error) {
	c, o, err := e.object("get", ctx, obj)
	if err != nil {
		return nil, err
	}
	v, err := o.Get(key)
	if err != nil {
		return nil, engineError("get", err)
	}
	return c.fromNative(v, expected), nil
}

func (e *JsEngine) Set(ctx ContextPtr, obj Handle, key string, value any) error {
	c, o, err := e.object("set", ctx, obj)
	if err != nil {
		return err
	}
	v, err := c.toNative("set", value)
	if err != nil {
		return err
	}
	if err := o.Set(key, v); err != nil {
		return engineError("set", err)
	}
	return nil
}

func (e *JsEngine) Contains(ctx ContextPtr, obj Handle, key string) (bool, error) {
	c, o, err := e.object("contains", ctx, obj)
	if err != nil {
		return false, err
	}
	if c.hasKey == nil {
		fn, err := c.vm.Run(`(function (o, k) { return k in o; })`)
		if err != nil {
			return false, engineError("contains", err)
		}
		c.hasKey = &fn
	}
	v, err := c.hasKey.Call(otto.UndefinedValue(), o.Value(), key)
	if err != nil {
		return false, engineError("contains", err)
	}
	return v.ToBoolean()
}

func (e *JsEngine) Keys(ctx ContextPtr, obj Handle) ([]string, error) {
	_, o, err := e.object("keys", ctx, obj)
	if err != nil {
		return nil, err
	}
	return o.Keys(), nil
}

func (e *JsEngine) ArrayGet(ctx ContextPtr, expected Type, arr Handle, index int) (any, error) {
	return e.Get(ctx, expected, arr, strconv.Itoa(index))
}

func (e *JsEngine) ArrayAdd(ctx ContextPtr, arr Handle, value any) error {
	c, o, err := e.object("arrayAdd", ctx, arr)
	if err != nil {
		return err
	}
	v, err := c.toNative("arrayAdd", value)
	if err != nil {
		return err
	}
	if _, err := o.Call("push", v); err != nil {
		return engineError("arrayAdd", err)
	}
	return nil
}

func (e *JsEngine) ArrayLen(ctx ContextPtr, arr Handle) (int, error) {
	_, o, err := e.object("arrayLen", ctx, arr)
	if err != nil {
		return 0, err
	}
	v, err := o.Get("length")
	if err != nil {
		return 0, engineError("arrayLen", err)
	}
	n, err := v.ToInteger()
	return int(n), err
}

func (e *JsEngine) CallFunction(ctx ContextPtr, expected Type, receiver Handle, name string, args []any) (any, error) {
	c, err := e.context("callFunction", ctx)
	if err != nil {
		return nil, err
	}
	in, err := c.toNativeArgs("callFunction", args)
	if err != nil {
		return nil, err
	}

	var v otto.Value
	if receiver.IsUndefined() {
		v, err = c.vm.Call(name, nil, in...)
	} else {
		o, oerr := c.object("callFunction", receiver)
		if oerr != nil {
			return nil, oerr
		}
		v, err = o.Call(name, in...)
	}
	if err != nil {
		c.record(err, "Error")
		return undefinedRef, nil
	}
	return c.fromNative(v, expected), nil
}

func (e *JsEngine) Invoke(ctx ContextPtr, expected Type, receiver, fn Handle, args []any) (any, error) {
	c, err := e.context("invoke", ctx)
	if err != nil {
		return nil, err
	}
	f, err := c.value("invoke", fn)
	if err != nil {
		return nil, err
	}
	this, err := c.value("invoke", receiver)
	if err != nil {
		return nil, err
	}
	in, err := c.toNativeArgs("invoke", args)
	if err != nil {
		return nil, err
	}
	v, err := f.Call(this, in...)
	if err != nil {
		c.record(err, "Error")
		return undefinedRef, nil
	}
	return c.fromNative(v, expected), nil
}

func (e *JsEngine) RegisterHostFunction(ctx ContextPtr, obj Handle, name string, callbackID int32) (Ref, error) {
	c, o, err := e.object("registerHostFunction", ctx, obj)
	if err != nil {
		return undefinedRef, err
	}
	fn := c.hostFunction(callbackID)
	if err := o.Set(name, fn); err != nil {
		return undefinedRef, engineError("registerHostFunction", err)
	}
	return c.ref(fn), nil
}

func (e *JsEngine) TypeOf(ctx ContextPtr, h Handle) (Type, error) {
	c, err := e.context("typeOf", ctx)
	if err != nil {
		return TypeUndefined, err
	}
	v, err := c.value("typeOf", h)
	if err != nil {
		return TypeUndefined, err
	}
	switch {
	case v.IsUndefined():
		return TypeUndefined, nil
	case v.IsNull():
		return TypeNull, nil
	case v.IsBoolean():
		return TypeBoolean, nil
	case v.IsString():
		return TypeString, nil
	case v.IsNumber():
		if _, ok := exportNumber(v).(int); ok {
			return TypeInteger, nil
		}
		return TypeDouble, nil
	}
	switch jsKind(v) {
	case KindArray:
		return TypeArray, nil
	case KindFunction:
		return TypeFunction, nil
	case KindException:
		return TypeException, nil
	}
	return TypeObject, nil
}

func (e *JsEngine) ToString(ctx ContextPtr, h Handle) (string, error) {
	c, err := e.context("toString", ctx)
	if err != nil {
		return "", err
	}
	v, err := c.value("toString", h)
	if err != nil {
		return "", err
	}
	return v.ToString()
}

func (e *JsEngine) IsError(ctx ContextPtr, h Handle) (bool, error) {
	c, err := e.context("isError", ctx)
	if err != nil {
		return false, err
	}
	v, err := c.value("isError", h)
	if err != nil {
		return false, err
	}
	return v.Class() == "Error", nil
}

func (e *JsEngine) Dup(ctx ContextPtr, h Handle) (Ref, error) {
	c, err := e.context("dup", ctx)
	if err != nil {
		return undefinedRef, err
	}
	v, err := c.value("dup", h)
	if err != nil {
		return undefinedRef, err
	}
	return c.ref(v), nil
}

func (e *JsEngine) Release(ctx ContextPtr, h Handle) {
	c, err := e.context("release", ctx)
	if err != nil || h.IsUndefined() {
		return
	}
	c.values.release(h.Ptr)
}

func (e *JsEngine) LastException(ctx ContextPtr) []string {
	c, err := e.context("lastException", ctx)
	if err != nil {
		return nil
	}
	exc := c.lastExc
	c.lastExc = nil
	return exc
}

// WrapCommonJS wraps source so that evaluating it returns the module
// object.
func (e *JsEngine) WrapCommonJS(source, fileName string) string {
	name := jsString(fileName)
	return "(function () { var module = { exports: {}, children: [], id: " + name + ", filename: " + name + " }; " +
		"var exports = module.exports; " +
		"var require = function (name) { return __require(name, module.filename); }; " +
		source + "\n; return module; })();"
}

// Slots returns the number of handles the context holds.
func (e *JsEngine) Slots(ctx ContextPtr) int {
	c, err := e.context("slots", ctx)
	if err != nil {
		return 0
	}
	return c.values.len()
}

func (e *JsEngine) object(op string, ctx ContextPtr, h Handle) (*jsContext, *otto.Object, error) {
	c, err := e.context(op, ctx)
	if err != nil {
		return nil, nil, err
	}
	o, err := c.object(op, h)
	return c, o, err
}

func (c *jsContext) value(op string, h Handle) (otto.Value, error) {
	if h.IsUndefined() {
		return otto.UndefinedValue(), nil
	}
	if err := checkHandle(op, c.ptr, h); err != nil {
		return otto.Value{}, err
	}
	v, ok := c.values.get(h.Ptr)
	if !ok {
		return otto.Value{}, staleHandle(op, h)
	}
	return v, nil
}

func (c *jsContext) object(op string, h Handle) (*otto.Object, error) {
	v, err := c.value(op, h)
	if err != nil {
		return nil, err
	}
	if !v.IsObject() {
		return nil, unsupportedError(op, "not an object")
	}
	return v.Object(), nil
}

func (c *jsContext) ref(v otto.Value) Ref {
	if v.IsUndefined() {
		return undefinedRef
	}
	kind := jsKind(v)
	return Ref{Kind: kind, Handle: handleFor(c.ptr, kind, c.values.put(v))}
}

func jsKind(v otto.Value) Kind {
	switch v.Class() {
	case "Array":
		return KindArray
	case "Function":
		return KindFunction
	case "Error":
		return KindException
	}
	if v.IsFunction() {
		return KindFunction
	}
	return KindObject
}

func (c *jsContext) fromNative(v otto.Value, expected Type) any {
	if expected == TypeVoid {
		return nil
	}
	switch {
	case v.IsUndefined():
		return undefinedRef
	case v.IsNull():
		return nil
	case v.IsNumber():
		switch expected {
		case TypeInteger:
			i, _ := v.ToInteger()
			return int(i)
		case TypeDouble:
			f, _ := v.ToFloat()
			return f
		}
		return exportNumber(v)
	case v.IsBoolean():
		b, _ := v.ToBoolean()
		return b
	case v.IsString():
		return v.String()
	case v.IsObject():
		return c.ref(v)
	}
	return nil
}

// exportNumber returns integral numbers in the safe integer range as
// int and everything else as float64.
func exportNumber(v otto.Value) any {
	x, err := v.Export()
	if err != nil {
		f, _ := v.ToFloat()
		return integral(f)
	}
	switch n := x.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float32:
		return integral(float64(n))
	case float64:
		return integral(n)
	}
	f, _ := v.ToFloat()
	return integral(f)
}

const maxSafeInteger = 1<<53 - 1

func integral(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) <= maxSafeInteger && !(f == 0 && math.Signbit(f)) {
		return int(f)
	}
	return f
}

func (c *jsContext) toNative(op string, v any) (otto.Value, error) {
	switch x := v.(type) {
	case nil:
		return otto.NullValue(), nil
	case Handle:
		return c.value(op, x)
	case map[string]any:
		obj, err := c.vm.Object(`({})`)
		if err != nil {
			return otto.Value{}, engineError(op, err)
		}
		for _, k := range slices.Sorted(maps.Keys(x)) {
			nv, err := c.toNative(op, x[k])
			if err != nil {
				return otto.Value{}, err
			}
			if err := obj.Set(k, nv); err != nil {
				return otto.Value{}, engineError(op, err)
			}
		}
		return obj.Value(), nil
	case []any:
		arr, err := c.vm.Object(`[]`)
		if err != nil {
			return otto.Value{}, engineError(op, err)
		}
		for _, e := range x {
			nv, err := c.toNative(op, e)
			if err != nil {
				return otto.Value{}, err
			}
			if _, err := arr.Call("push", nv); err != nil {
				return otto.Value{}, engineError(op, err)
			}
		}
		return arr.Value(), nil
	}
	nv, err := c.vm.ToValue(v)
	if err != nil {
		return otto.Value{}, engineError(op, err)
	}
	return nv, nil
}

func (c *jsContext) toNativeArgs(op string, args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		nv, err := c.toNative(op, a)
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}

// hostFunction builds a native function that calls back into the host
// with callback id. Handles lent for the call are released when it
// returns.
func (c *jsContext) hostFunction(id int32) otto.Value {
	fn := func(call otto.FunctionCall) otto.Value {
		var lent []int64
		lend := func(v otto.Value) any {
			out := c.fromNative(v, TypeAny)
			if ref, ok := out.(Ref); ok && !ref.Handle.IsUndefined() {
				lent = append(lent, ref.Handle.Ptr)
			}
			return out
		}
		defer func() {
			for _, slot := range lent {
				c.values.release(slot)
			}
		}()

		recv, _ := lend(call.This).(Ref)
		args := make([]any, len(call.ArgumentList))
		for i, a := range call.ArgumentList {
			args[i] = lend(a)
		}

		res, err := c.host.CallOut(c.ptr, id, recv, args)
		if err != nil {
			panic(c.throwable(err))
		}
		v, err := c.toNative("callOut", res)
		if err != nil {
			panic(c.throwable(err))
		}
		return v
	}
	v, _ := c.vm.ToValue(fn)
	return v
}

// throwable converts a host error into a script error value.
func (c *jsContext) throwable(err error) otto.Value {
	var exc *Exception
	if errors.As(err, &exc) {
		return c.vm.MakeCustomError(exc.Name, exc.Message)
	}
	var oe *otto.Error
	if errors.As(err, &oe) {
		name, message := splitErrorTitle(oe.Error())
		return c.vm.MakeCustomError(name, message)
	}
	if errors.Is(err, ErrResolution) {
		return c.vm.MakeCustomError(resolutionErrorName, err.Error())
	}
	return c.vm.MakeCustomError("Error", err.Error())
}

func (c *jsContext) record(err error, fallback string) {
	var oe *otto.Error
	if errors.As(err, &oe) {
		name, message := splitErrorTitle(oe.Error())
		exc := []string{name, message}
		lines := strings.Split(oe.String(), "\n")
		for _, line := range lines[1:] {
			if line = strings.TrimSpace(line); line != "" {
				exc = append(exc, line)
			}
		}
		c.lastExc = exc
		return
	}
	c.lastExc = []string{fallback, err.Error()}
}

func splitErrorTitle(title string) (string, string) {
	name, message, ok := strings.Cut(title, ": ")
	if !ok || strings.ContainsAny(name, " \n") {
		return "Error", title
	}
	return name, message
}

func moduleSource(source string) string {
	return "(function (exports, importModule) { " + source + "\n})"
}

// runModule evaluates source in its own function scope with exports and
// importModule bound, caching the exports under name.
func (c *jsContext) runModule(source, name string) (otto.Value, error) {
	script, err := c.vm.Compile(name, moduleSource(source))
	if err != nil {
		return otto.Value{}, err
	}
	fn, err := c.vm.Run(script)
	if err != nil {
		return otto.Value{}, err
	}
	exports, err := c.vm.Object(`({})`)
	if err != nil {
		return otto.Value{}, err
	}
	c.modules[name] = exports.Value()
	if _, err := fn.Call(otto.UndefinedValue(), exports.Value(), c.importer(name)); err != nil {
		delete(c.modules, name)
		return otto.Value{}, err
	}
	return exports.Value(), nil
}

func (c *jsContext) importer(base string) otto.Value {
	fn := func(call otto.FunctionCall) otto.Value {
		request := call.Argument(0).String()
		resolved, ok := c.host.NormalizeModuleName(c.ptr, base, request)
		if !ok {
			panic(c.vm.MakeCustomError(resolutionErrorName, "could not resolve module '"+request+"'"))
		}
		if exports, ok := c.modules[resolved]; ok {
			return exports
		}
		src, ok := c.host.ModuleScript(c.ptr, resolved)
		if !ok {
			panic(c.vm.MakeCustomError(resolutionErrorName, "could not load module '"+resolved+"'"))
		}
		exports, err := c.runModule(src, resolved)
		if err != nil {
			panic(c.throwable(err))
		}
		return exports
	}
	v, _ := c.vm.ToValue(fn)
	return v
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
