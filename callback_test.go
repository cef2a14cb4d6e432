package scripthost

import (
	"sync"
	"testing"
)

func TestCallbackRegistry(t *testing.T) {
	r := NewCallbackRegistry()

	id := r.Register(func(*Value, []any) (any, error) { return "a", nil })
	if id != 1 {
		t.Errorf("Register() = %d, want 1", id)
	}
	next := r.Register(func(*Value, []any) (any, error) { return "b", nil })
	if next == id {
		t.Fatalf("Register() reused id %d", id)
	}

	fn, ok := r.Lookup(next)
	if !ok {
		t.Fatalf("Lookup(%d) = false", next)
	}
	if got, _ := fn(nil, nil); got != "b" {
		t.Errorf("Lookup(%d)() = %v, want b", next, got)
	}

	r.Remove(id)
	if _, ok := r.Lookup(id); ok {
		t.Errorf("Lookup(%d) after Remove() = true", id)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	r.Clear()
	if r.Len() != 0 {
		t.Errorf("Len() after Clear() = %d", r.Len())
	}
	if again := r.Register(func(*Value, []any) (any, error) { return nil, nil }); again <= next {
		t.Errorf("Register() after Clear() = %d, want > %d", again, next)
	}
}

func TestCallbackRegistry_ConcurrentRegister(t *testing.T) {
	r := NewCallbackRegistry()

	var mu sync.Mutex
	seen := make(map[int32]bool)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := r.Register(func(*Value, []any) (any, error) { return nil, nil })
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 800 || r.Len() != 800 {
		t.Errorf("unique ids = %d, Len() = %d, want 800", len(seen), r.Len())
	}
}
