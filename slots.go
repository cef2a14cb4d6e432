package scripthost

import (
	"strconv"
	"sync/atomic"
)

// Engine adapters allocate runtime and context pointers from one
// counter so a single ContextRegistry can serve all of them.
var enginePtrSeq atomic.Int64

func nextEnginePtr() int64 {
	return enginePtrSeq.Add(1)
}

// slotTable maps the Ptr word of a Handle to an engine-native value.
// It is only touched on the owning thread and takes no lock.
type slotTable[T any] struct {
	next  int64
	slots map[int64]T
}

func newSlotTable[T any]() *slotTable[T] {
	return &slotTable[T]{slots: make(map[int64]T)}
}

func (s *slotTable[T]) put(v T) int64 {
	s.next++
	s.slots[s.next] = v
	return s.next
}

func (s *slotTable[T]) get(id int64) (T, bool) {
	v, ok := s.slots[id]
	return v, ok
}

func (s *slotTable[T]) set(id int64, v T) {
	if _, ok := s.slots[id]; ok {
		s.slots[id] = v
	}
}

func (s *slotTable[T]) release(id int64) bool {
	if _, ok := s.slots[id]; !ok {
		return false
	}
	delete(s.slots, id)
	return true
}

func (s *slotTable[T]) len() int {
	return len(s.slots)
}

func (s *slotTable[T]) clear() {
	s.slots = make(map[int64]T)
}

// handleFor packs a slot id into a Handle owned by ctx.
func handleFor(ctx ContextPtr, kind Kind, slot int64) Handle {
	return Handle{Tag: int64(kind), U32: int32(ctx), Ptr: slot}
}

// checkHandle rejects handles minted by a different context.
func checkHandle(op string, ctx ContextPtr, h Handle) error {
	if h.IsUndefined() {
		return nil
	}
	if h.U32 != int32(ctx) {
		return lifecycleError(op, detailForeignValue)
	}
	return nil
}

func staleHandle(op string, h Handle) error {
	return NewError(ClassEngine).Op(op).Detail("stale handle " + strconv.FormatInt(h.Ptr, 10)).Build()
}

func unknownContext(op string, ctx ContextPtr) error {
	return NewError(ClassEngine).Op(op).Detail("unknown " + ctx.String()).Build()
}

var undefinedRef = Ref{Kind: KindUndefined}
