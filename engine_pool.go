package scripthost

import (
	"sync"

	"go.uber.org/zap"
)

// NewEngine returns a fresh adapter for one of the built-in engine types.
func NewEngine(engineType string) (Engine, error) {
	switch engineType {
	case TypeEngineJs:
		return NewJsEngine(), nil
	case TypeEngineLua:
		return NewLuaEngine(), nil
	case TypeEngineGo:
		return NewGoEngine(), nil
	}
	return nil, NewError(ClassConfiguration).Op("newEngine").Detail("unknown engine type '" + engineType + "'").Build()
}

// RuntimePool keeps idle runtimes of one engine type for reuse.
type RuntimePool struct {
	engineType string
	m          sync.Mutex
	saved      []*Runtime
	closed     bool
}

func InitRuntimePool(engineType string) *RuntimePool {
	return &RuntimePool{
		engineType: engineType,
		saved:      make([]*Runtime, 0, 4),
	}
}

// Get returns an idle runtime or creates a new one.
func (rp *RuntimePool) Get() (*Runtime, error) {
	rp.m.Lock()
	if rp.closed {
		rp.m.Unlock()
		return nil, lifecycleError("pool.get", detailRuntimeReleased)
	}
	n := len(rp.saved)
	if n > 0 {
		x := rp.saved[n-1]
		rp.saved = rp.saved[0 : n-1]
		rp.m.Unlock()
		return x, nil
	}
	rp.m.Unlock()
	return rp.New()
}

// Put returns r to the pool. Released runtimes are dropped and runtimes
// put after Shutdown are closed.
func (rp *RuntimePool) Put(r *Runtime) {
	if r == nil || r.IsReleased() {
		return
	}
	rp.m.Lock()
	if rp.closed {
		rp.m.Unlock()
		_ = r.Close()
		return
	}
	rp.saved = append(rp.saved, r)
	rp.m.Unlock()
}

// Len returns the number of idle runtimes.
func (rp *RuntimePool) Len() int {
	rp.m.Lock()
	defer rp.m.Unlock()
	return len(rp.saved)
}

// Shutdown closes every idle runtime.
func (rp *RuntimePool) Shutdown() {
	rp.m.Lock()
	saved := rp.saved
	rp.saved = nil
	rp.closed = true
	rp.m.Unlock()

	for _, r := range saved {
		if err := r.Close(); err != nil {
			Logger().Warn("runtime close failed", zap.String("runtime", r.Name()), zap.Error(err))
		}
	}
}

func (rp *RuntimePool) New() (*Runtime, error) {
	return NewRuntimeOf(rp.engineType)
}
