package scripthost

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"net/http"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/ailncode/gluaxmlpath"
	"github.com/ciaos/gluahttp"
	"github.com/cjoudrey/gluaurl"
	"github.com/yuin/gluamapper"
	"github.com/yuin/gluare"
	lua "github.com/yuin/gopher-lua"
	luajson "layeh.com/gopher-json"
	luar "layeh.com/gopher-luar"
)

const (
	TypeEngineLua = "lua"
)

// LuaEngine adapts gopher-lua. Each context is its own *lua.LState with
// the json, url, re, http and xmlpath modules preloaded.
type LuaEngine struct {
	client *http.Client

	mu       sync.RWMutex
	runtimes map[RuntimePtr]Host
	contexts map[ContextPtr]*luaContext
}

type luaContext struct {
	ptr       ContextPtr
	rt        RuntimePtr
	host      Host
	L         *lua.LState
	values    *slotTable[lua.LValue]
	errorMeta *lua.LTable
	arrayMeta *lua.LTable
	lastExc   []string
}

func NewLuaEngine() *LuaEngine {
	return NewLuaEngineWithClient(&http.Client{})
}

// NewLuaEngineWithClient uses client for the preloaded http module.
func NewLuaEngineWithClient(client *http.Client) *LuaEngine {
	return &LuaEngine{
		client:   client,
		runtimes: make(map[RuntimePtr]Host),
		contexts: make(map[ContextPtr]*luaContext),
	}
}

func (e *LuaEngine) Name() string {
	return TypeEngineLua
}

func (e *LuaEngine) CreateRuntime(host Host) (RuntimePtr, error) {
	ptr := RuntimePtr(nextEnginePtr())
	e.mu.Lock()
	e.runtimes[ptr] = host
	e.mu.Unlock()
	return ptr, nil
}

func (e *LuaEngine) ReleaseRuntime(rt RuntimePtr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runtimes, rt)
	for ptr, c := range e.contexts {
		if c.rt == rt {
			c.close()
			delete(e.contexts, ptr)
		}
	}
}

func (e *LuaEngine) CreateContext(rt RuntimePtr) (ContextPtr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	host, ok := e.runtimes[rt]
	if !ok {
		return 0, NewError(ClassEngine).Op("createContext").Detail("unknown " + rt.String()).Build()
	}

	L := lua.NewState()
	luajson.Preload(L)
	L.PreloadModule("url", gluaurl.Loader)
	L.PreloadModule("re", gluare.Loader)
	L.PreloadModule("http", gluahttp.NewHttpModule(e.client).Loader)
	L.PreloadModule("xmlpath", gluaxmlpath.Loader)

	c := &luaContext{
		ptr:       ContextPtr(nextEnginePtr()),
		rt:        rt,
		host:      host,
		L:         L,
		values:    newSlotTable[lua.LValue](),
		errorMeta: L.NewTable(),
		arrayMeta: L.NewTable(),
	}
	L.SetField(c.errorMeta, "__tostring", L.NewFunction(func(L *lua.LState) int {
		t := L.CheckTable(1)
		L.Push(lua.LString(lua.LVAsString(t.RawGetString("name")) + ": " + lua.LVAsString(t.RawGetString("message"))))
		return 1
	}))
	c.installLoader()

	e.contexts[c.ptr] = c
	return c.ptr, nil
}

func (e *LuaEngine) ReleaseContext(ctx ContextPtr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.contexts[ctx]; ok {
		c.close()
		delete(e.contexts, ctx)
	}
}

func (c *luaContext) close() {
	c.values.clear()
	c.L.Close()
}

// installLoader appends a package loader that resolves require() names
// through the host module hooks.
func (c *luaContext) installLoader() {
	pkg, ok := c.L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return
	}
	loaders, ok := c.L.GetField(pkg, "loaders").(*lua.LTable)
	if !ok {
		return
	}
	loaders.Append(c.L.NewFunction(func(L *lua.LState) int {
		request := L.CheckString(1)
		resolved, ok := c.host.NormalizeModuleName(c.ptr, "", request)
		if !ok {
			L.Push(lua.LString("\n\tno host context for '" + request + "'"))
			return 1
		}
		src, ok := c.host.ModuleScript(c.ptr, resolved)
		if !ok {
			L.Push(lua.LString("\n\tno host module '" + resolved + "'"))
			return 1
		}
		fn, err := L.Load(strings.NewReader(src), resolved)
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		L.Push(fn)
		return 1
	}))
}

func (e *LuaEngine) context(op string, ctx ContextPtr) (*luaContext, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.contexts[ctx]
	if !ok {
		return nil, unknownContext(op, ctx)
	}
	return c, nil
}

func (e *LuaEngine) Evaluate(ctx ContextPtr, expected Type, source, fileName string, flags EvalFlags) (any, error) {
	c, err := e.context("evaluate", ctx)
	if err != nil {
		return nil, err
	}
	fn, err := c.L.Load(strings.NewReader(source), fileName)
	if err != nil {
		c.record(err, "SyntaxError")
		return undefinedRef, nil
	}
	if flags&EvalFlagCompileOnly != 0 {
		return nil, nil
	}

	var env *lua.LTable
	if flags&EvalTypeMask == EvalTypeModule {
		env = c.L.NewTable()
		mt := c.L.NewTable()
		c.L.SetField(mt, "__index", c.L.G.Global)
		c.L.SetMetatable(env, mt)
		fn.Env = env
	}

	c.L.Push(fn)
	if err := c.L.PCall(0, 1, nil); err != nil {
		c.record(err, "Error")
		return undefinedRef, nil
	}
	ret := c.L.Get(-1)
	c.L.Pop(1)
	if env != nil && ret == lua.LNil {
		ret = env
	}
	return c.fromNative(ret, expected), nil
}

func (e *LuaEngine) GlobalObject(ctx ContextPtr) (Ref, error) {
	c, err := e.context("globalObject", ctx)
	if err != nil {
		return undefinedRef, err
	}
	return c.ref(c.L.G.Global), nil
}

func (e *LuaEngine) NewObject(ctx ContextPtr) (Ref, error) {
	c, err := e.context("newObject", ctx)
	if err != nil {
		return undefinedRef, err
	}
	return c.ref(c.L.NewTable()), nil
}

func (e *LuaEngine) NewArray(ctx ContextPtr) (Ref, error) {
	c, err := e.context("newArray", ctx)
	if err != nil {
		return undefinedRef, err
	}
	t := c.L.NewTable()
	c.L.SetMetatable(t, c.arrayMeta)
	return c.ref(t), nil
}

func (e *LuaEngine) NewFunction(ctx ContextPtr, callbackID int32) (Ref, error) {
	c, err := e.context("newFunction", ctx)
	if err != nil {
		return undefinedRef, err
	}
	return c.ref(c.hostFunction(callbackID)), nil
}

func (e *LuaEngine) NewError(ctx ContextPtr, message string) (Ref, error) {
	c, err := e.context("newError", ctx)
	if err != nil {
		return undefinedRef, err
	}
	return c.ref(c.errorTable("Error", message)), nil
}

func (e *LuaEngine) Get(ctx ContextPtr, expected Type, obj Handle, key string) (any, error) {
	c, target, err := e.target("get", ctx, obj)
	if err != nil {
		return nil, err
	}
	return c.fromNative(c.L.GetField(target, key), expected), nil
}

func (e *LuaEngine) Set(ctx ContextPtr, obj Handle, key string, value any) error {
	c, target, err := e.target("set", ctx, obj)
	if err != nil {
		return err
	}
	v, err := c.toNative("set", value)
	if err != nil {
		return err
	}
	c.L.SetField(target, key, v)
	return nil
}

func (e *LuaEngine) Contains(ctx ContextPtr, obj Handle, key string) (bool, error) {
	c, target, err := e.target("contains", ctx, obj)
	if err != nil {
		return false, err
	}
	return c.L.GetField(target, key) != lua.LNil, nil
}

func (e *LuaEngine) Keys(ctx ContextPtr, obj Handle) ([]string, error) {
	_, target, err := e.target("keys", ctx, obj)
	if err != nil {
		return nil, err
	}
	switch t := target.(type) {
	case *lua.LTable:
		var keys []string
		t.ForEach(func(k, _ lua.LValue) {
			switch key := k.(type) {
			case lua.LString:
				keys = append(keys, string(key))
			case lua.LNumber:
				keys = append(keys, key.String())
			}
		})
		sort.Strings(keys)
		return keys, nil
	case *lua.LUserData:
		return userDataKeys(t), nil
	}
	return nil, nil
}

// userDataKeys lists the keys of a Go map or struct wrapped by luar.
func userDataKeys(ud *lua.LUserData) []string {
	goValue := gluamapper.ToGoValue(ud, gluamapper.Option{NameFunc: gluamapper.ToUpperCamelCase})
	if wrapped, ok := goValue.(*lua.LUserData); ok {
		goValue = wrapped.Value
	}
	rv := reflect.Indirect(reflect.ValueOf(goValue))
	var keys []string
	switch rv.Kind() {
	case reflect.Map:
		for _, k := range rv.MapKeys() {
			keys = append(keys, fmt.Sprint(k.Interface()))
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if f := rv.Type().Field(i); f.IsExported() {
				keys = append(keys, f.Name)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func (e *LuaEngine) ArrayGet(ctx ContextPtr, expected Type, arr Handle, index int) (any, error) {
	c, t, err := e.table("arrayGet", ctx, arr)
	if err != nil {
		return nil, err
	}
	return c.fromNative(t.RawGetInt(index+1), expected), nil
}

func (e *LuaEngine) ArrayAdd(ctx ContextPtr, arr Handle, value any) error {
	c, t, err := e.table("arrayAdd", ctx, arr)
	if err != nil {
		return err
	}
	v, err := c.toNative("arrayAdd", value)
	if err != nil {
		return err
	}
	t.RawSetInt(t.Len()+1, v)
	return nil
}

func (e *LuaEngine) ArrayLen(ctx ContextPtr, arr Handle) (int, error) {
	_, t, err := e.table("arrayLen", ctx, arr)
	if err != nil {
		return 0, err
	}
	return t.Len(), nil
}

// CallFunction looks name up on receiver, or among the globals when the
// receiver is undefined. Lua has no implicit receiver, so it is not
// passed as self.
func (e *LuaEngine) CallFunction(ctx ContextPtr, expected Type, receiver Handle, name string, args []any) (any, error) {
	c, err := e.context("callFunction", ctx)
	if err != nil {
		return nil, err
	}
	var fn lua.LValue
	if receiver.IsUndefined() {
		fn = c.L.GetGlobal(name)
	} else {
		target, err := c.value("callFunction", receiver)
		if err != nil {
			return nil, err
		}
		fn = c.L.GetField(target, name)
	}
	return c.call("callFunction", expected, fn, args)
}

func (e *LuaEngine) Invoke(ctx ContextPtr, expected Type, receiver, fn Handle, args []any) (any, error) {
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

func (c *luaContext) call(op string, expected Type, fn lua.LValue, args []any) (any, error) {
	in := make([]lua.LValue, len(args))
	for i, a := range args {
		v, err := c.toNative(op, a)
		if err != nil {
			return nil, err
		}
		in[i] = v
	}
	if err := c.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, in...); err != nil {
		c.record(err, "Error")
		return undefinedRef, nil
	}
	ret := c.L.Get(-1)
	c.L.Pop(1)
	return c.fromNative(ret, expected), nil
}

func (e *LuaEngine) RegisterHostFunction(ctx ContextPtr, obj Handle, name string, callbackID int32) (Ref, error) {
	c, target, err := e.target("registerHostFunction", ctx, obj)
	if err != nil {
		return undefinedRef, err
	}
	fn := c.hostFunction(callbackID)
	c.L.SetField(target, name, fn)
	return c.ref(fn), nil
}

func (e *LuaEngine) TypeOf(ctx ContextPtr, h Handle) (Type, error) {
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
	switch x := v.(type) {
	case *lua.LNilType:
		return TypeNull, nil
	case lua.LBool:
		return TypeBoolean, nil
	case lua.LString:
		return TypeString, nil
	case lua.LNumber:
		if _, ok := luaNumber(x).(int); ok {
			return TypeInteger, nil
		}
		return TypeDouble, nil
	}
	switch c.kind(v) {
	case KindArray:
		return TypeArray, nil
	case KindFunction:
		return TypeFunction, nil
	case KindException:
		return TypeException, nil
	}
	return TypeObject, nil
}

func (e *LuaEngine) ToString(ctx ContextPtr, h Handle) (string, error) {
	c, err := e.context("toString", ctx)
	if err != nil {
		return "", err
	}
	v, err := c.value("toString", h)
	if err != nil {
		return "", err
	}
	return c.L.ToStringMeta(v).String(), nil
}

func (e *LuaEngine) IsError(ctx ContextPtr, h Handle) (bool, error) {
	c, err := e.context("isError", ctx)
	if err != nil {
		return false, err
	}
	v, err := c.value("isError", h)
	if err != nil {
		return false, err
	}
	return c.kind(v) == KindException, nil
}

func (e *LuaEngine) Dup(ctx ContextPtr, h Handle) (Ref, error) {
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

func (e *LuaEngine) Release(ctx ContextPtr, h Handle) {
	c, err := e.context("release", ctx)
	if err != nil || h.IsUndefined() {
		return
	}
	c.values.release(h.Ptr)
}

func (e *LuaEngine) LastException(ctx ContextPtr) []string {
	c, err := e.context("lastException", ctx)
	if err != nil {
		return nil
	}
	exc := c.lastExc
	c.lastExc = nil
	return exc
}

// WrapCommonJS runs source as a function body. A non-nil return value
// replaces module.exports. Loaded and preloaded Lua modules win over
// host modules in the wrapped require.
func (e *LuaEngine) WrapCommonJS(source, fileName string) string {
	name := luaString(fileName)
	return "local module = { exports = {}, children = {}, id = " + name + ", filename = " + name + " }\n" +
		"local exports = module.exports\n" +
		"local require = function (name)\n" +
		"  local loaded = package.loaded[name]\n" +
		"  if loaded ~= nil then return loaded end\n" +
		"  local preload = package.preload[name]\n" +
		"  if preload ~= nil then\n" +
		"    loaded = preload(name)\n" +
		"    package.loaded[name] = loaded\n" +
		"    return loaded\n" +
		"  end\n" +
		"  return __require(name, module.filename)\n" +
		"end\n" +
		"local __result = (function (module, exports, require)\n" + source + "\nend)(module, exports, require)\n" +
		"if __result ~= nil then module.exports = __result end\n" +
		"return module"
}

func (e *LuaEngine) target(op string, ctx ContextPtr, h Handle) (*luaContext, lua.LValue, error) {
	c, err := e.context(op, ctx)
	if err != nil {
		return nil, nil, err
	}
	v, err := c.value(op, h)
	if err != nil {
		return nil, nil, err
	}
	switch v.(type) {
	case *lua.LTable, *lua.LUserData:
		return c, v, nil
	}
	return nil, nil, unsupportedError(op, "not a table")
}

func (e *LuaEngine) table(op string, ctx ContextPtr, h Handle) (*luaContext, *lua.LTable, error) {
	c, v, err := e.target(op, ctx, h)
	if err != nil {
		return nil, nil, err
	}
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil, nil, unsupportedError(op, "not a table")
	}
	return c, t, nil
}

func (c *luaContext) value(op string, h Handle) (lua.LValue, error) {
	if h.IsUndefined() {
		return lua.LNil, nil
	}
	if err := checkHandle(op, c.ptr, h); err != nil {
		return nil, err
	}
	v, ok := c.values.get(h.Ptr)
	if !ok {
		return nil, staleHandle(op, h)
	}
	return v, nil
}

func (c *luaContext) kind(v lua.LValue) Kind {
	switch x := v.(type) {
	case *lua.LFunction:
		return KindFunction
	case *lua.LTable:
		mt := c.L.GetMetatable(x)
		if mt == c.errorMeta {
			return KindException
		}
		if mt == c.arrayMeta || x.MaxN() > 0 {
			return KindArray
		}
	}
	return KindObject
}

func (c *luaContext) ref(v lua.LValue) Ref {
	kind := c.kind(v)
	return Ref{Kind: kind, Handle: handleFor(c.ptr, kind, c.values.put(v))}
}

func (c *luaContext) fromNative(v lua.LValue, expected Type) any {
	if expected == TypeVoid {
		return nil
	}
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LString:
		return string(x)
	case lua.LNumber:
		switch expected {
		case TypeInteger:
			return int(x)
		case TypeDouble:
			return float64(x)
		}
		return luaNumber(x)
	}
	return c.ref(v)
}

// luaNumber returns integral numbers as int.
func luaNumber(n lua.LNumber) any {
	f := float64(n)
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int(f)
	}
	return f
}

func (c *luaContext) toNative(op string, v any) (lua.LValue, error) {
	switch x := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(x), nil
	case int:
		return lua.LNumber(x), nil
	case float64:
		return lua.LNumber(x), nil
	case string:
		return lua.LString(x), nil
	case Handle:
		return c.value(op, x)
	case map[string]any:
		t := c.L.CreateTable(0, len(x))
		for _, k := range slices.Sorted(maps.Keys(x)) {
			nv, err := c.toNative(op, x[k])
			if err != nil {
				return nil, err
			}
			t.RawSetString(k, nv)
		}
		return t, nil
	case []any:
		t := c.L.CreateTable(len(x), 0)
		for i, e := range x {
			nv, err := c.toNative(op, e)
			if err != nil {
				return nil, err
			}
			t.RawSetInt(i+1, nv)
		}
		c.L.SetMetatable(t, c.arrayMeta)
		return t, nil
	}
	return luar.New(c.L, v), nil
}

func (c *luaContext) errorTable(name, message string) *lua.LTable {
	t := c.L.NewTable()
	t.RawSetString("name", lua.LString(name))
	t.RawSetString("message", lua.LString(message))
	c.L.SetMetatable(t, c.errorMeta)
	return t
}

func (c *luaContext) errorValue(err error) *lua.LTable {
	var exc *Exception
	if errors.As(err, &exc) {
		return c.errorTable(exc.Name, exc.Message)
	}
	if errors.Is(err, ErrResolution) {
		return c.errorTable(resolutionErrorName, err.Error())
	}
	return c.errorTable("Error", err.Error())
}

// hostFunction builds a Lua function that calls back into the host with
// callback id. Table and function arguments are lent for the call only.
func (c *luaContext) hostFunction(id int32) *lua.LFunction {
	return c.L.NewFunction(func(L *lua.LState) int {
		var lent []int64
		n := L.GetTop()
		args := make([]any, n)
		for i := 1; i <= n; i++ {
			out := c.fromNative(L.Get(i), TypeAny)
			if ref, ok := out.(Ref); ok {
				lent = append(lent, ref.Handle.Ptr)
			}
			args[i-1] = out
		}

		var ret lua.LValue = lua.LNil
		res, err := c.host.CallOut(c.ptr, id, undefinedRef, args)
		if err == nil {
			ret, err = c.toNative("callOut", res)
		}
		for _, slot := range lent {
			c.values.release(slot)
		}
		if err != nil {
			L.Error(c.errorValue(err), 1)
			return 0
		}
		L.Push(ret)
		return 1
	})
}

func (c *luaContext) record(err error, fallback string) {
	var api *lua.ApiError
	if !errors.As(err, &api) {
		c.lastExc = []string{fallback, err.Error()}
		return
	}
	name, message := fallback, ""
	if api.Type == lua.ApiErrorSyntax {
		name = "SyntaxError"
	}
	if t, ok := api.Object.(*lua.LTable); ok && c.L.GetMetatable(t) == c.errorMeta {
		name = lua.LVAsString(t.RawGetString("name"))
		message = lua.LVAsString(t.RawGetString("message"))
	} else if api.Object != nil {
		message = c.L.ToStringMeta(api.Object).String()
	}
	exc := []string{name, message}
	for _, line := range strings.Split(api.StackTrace, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			exc = append(exc, line)
		}
	}
	c.lastExc = exc
}

func luaString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"' || ch == '\\':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case ch < 0x20 || ch == 0x7f:
			fmt.Fprintf(&b, "\\%03d", ch)
		default:
			b.WriteByte(ch)
		}
	}
	b.WriteByte('"')
	return b.String()
}
