package scripthost

import "fmt"

// RuntimePtr identifies an engine instance. Zero is null.
type RuntimePtr int64

func (p RuntimePtr) IsNull() bool   { return p == 0 }
func (p RuntimePtr) String() string { return fmt.Sprintf("runtime(%d)", int64(p)) }

// ContextPtr identifies an engine execution scope. Zero is null.
// Pointers are unique process-wide across all engines.
type ContextPtr int64

func (p ContextPtr) IsNull() bool   { return p == 0 }
func (p ContextPtr) String() string { return fmt.Sprintf("context(%d)", int64(p)) }

// Handle is the engine's raw value representation. The host never
// interprets it; it only hands it back to the engine that produced it.
type Handle struct {
	Tag int64
	U32 int32
	F64 float64
	Ptr int64
}

// IsUndefined reports whether h is the undefined sentinel.
func (h Handle) IsUndefined() bool { return h.Ptr == 0 }

// Ref is returned by an engine for object-shaped and undefined results.
type Ref struct {
	Kind   Kind
	Handle Handle
}

// Kind is the closed set of handle shapes.
type Kind int

const (
	KindUndefined Kind = iota
	KindObject
	KindArray
	KindFunction
	KindException
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindFunction:
		return "function"
	case KindException:
		return "exception"
	default:
		return "undefined"
	}
}

// Type is an expected-result hint, and the runtime classification
// returned by Engine.TypeOf.
type Type int

const (
	TypeAny Type = iota
	TypeInteger
	TypeDouble
	TypeBoolean
	TypeString
	TypeArray
	TypeObject
	TypeFunction
	TypeException
	TypeVoid
	TypeNull      Type = 98
	TypeUndefined Type = 99
)

// EvalFlags is passed through to the engine unchanged.
type EvalFlags int

const (
	EvalTypeGlobal EvalFlags = 0
	EvalTypeModule EvalFlags = 1
	EvalTypeMask   EvalFlags = 3

	EvalFlagStrict           EvalFlags = 1 << 3
	EvalFlagStrip            EvalFlags = 1 << 4
	EvalFlagCompileOnly      EvalFlags = 1 << 5
	EvalFlagBacktraceBarrier EvalFlags = 1 << 6
)

// Host is what an engine calls back into. It is implemented by
// ContextRegistry.
type Host interface {
	// CallOut invokes the host function registered under id in ctx.
	// Receiver and args are only valid until CallOut returns.
	CallOut(ctx ContextPtr, id int32, receiver Ref, args []any) (any, error)
	// NormalizeModuleName resolves name against base for module imports.
	NormalizeModuleName(ctx ContextPtr, base, name string) (string, bool)
	// ModuleScript returns the source of an already-resolved module name.
	ModuleScript(ctx ContextPtr, name string) (string, bool)
}

// Engine is the black-box interpreter boundary. Every method must be
// called on the owning thread of the runtime the pointer belongs to.
//
// Script exceptions are not returned as errors: the engine records them
// and the host reads them back with LastException right after the call.
// Values handed in are nil, bool, int, float64, string, Handle,
// map[string]any, []any or any Go value the engine knows how to wrap.
// Values handed out are nil, bool, int, float64, string or Ref.
type Engine interface {
	Name() string

	CreateRuntime(host Host) (RuntimePtr, error)
	ReleaseRuntime(rt RuntimePtr)
	CreateContext(rt RuntimePtr) (ContextPtr, error)
	ReleaseContext(ctx ContextPtr)

	Evaluate(ctx ContextPtr, expected Type, source, fileName string, flags EvalFlags) (any, error)

	GlobalObject(ctx ContextPtr) (Ref, error)
	NewObject(ctx ContextPtr) (Ref, error)
	NewArray(ctx ContextPtr) (Ref, error)
	NewFunction(ctx ContextPtr, callbackID int32) (Ref, error)
	NewError(ctx ContextPtr, message string) (Ref, error)

	Get(ctx ContextPtr, expected Type, obj Handle, key string) (any, error)
	Set(ctx ContextPtr, obj Handle, key string, value any) error
	Contains(ctx ContextPtr, obj Handle, key string) (bool, error)
	Keys(ctx ContextPtr, obj Handle) ([]string, error)

	ArrayGet(ctx ContextPtr, expected Type, arr Handle, index int) (any, error)
	ArrayAdd(ctx ContextPtr, arr Handle, value any) error
	ArrayLen(ctx ContextPtr, arr Handle) (int, error)

	CallFunction(ctx ContextPtr, expected Type, receiver Handle, name string, args []any) (any, error)
	Invoke(ctx ContextPtr, expected Type, receiver, fn Handle, args []any) (any, error)
	RegisterHostFunction(ctx ContextPtr, obj Handle, name string, callbackID int32) (Ref, error)

	TypeOf(ctx ContextPtr, h Handle) (Type, error)
	ToString(ctx ContextPtr, h Handle) (string, error)
	IsError(ctx ContextPtr, h Handle) (bool, error)

	Dup(ctx ContextPtr, h Handle) (Ref, error)
	Release(ctx ContextPtr, h Handle)

	// LastException returns and clears the pending exception as
	// [name, message, stack lines...], or nil.
	LastException(ctx ContextPtr) []string
}

// CommonJSWrapper is implemented by engines that can host CommonJS
// modules. The wrapped source must evaluate to the module object.
type CommonJSWrapper interface {
	WrapCommonJS(source, fileName string) string
}
