package scripthost

import (
	"sync"
)

// ReferenceTable tracks the live handles of one Context and the pool of
// handles released off the owning thread.
type ReferenceTable struct {
	owner   *Dispatcher
	release func(Handle)

	mu   sync.Mutex
	seq  uint64
	live map[uint64]*Value

	poolMu sync.Mutex
	pool   []Handle
}

// NewReferenceTable creates a table that frees handles with release,
// which must only run on owner's thread.
func NewReferenceTable(owner *Dispatcher, release func(Handle)) *ReferenceTable {
	return &ReferenceTable{
		owner:   owner,
		release: release,
		live:    make(map[uint64]*Value),
	}
}

// Register records v as live and assigns its identity.
func (t *ReferenceTable) Register(v *Value) {
	t.mu.Lock()
	t.seq++
	v.id = t.seq
	t.live[v.id] = v
	t.mu.Unlock()
}

func (t *ReferenceTable) forget(v *Value) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[v.id]; !ok {
		return false
	}
	delete(t.live, v.id)
	return true
}

// ReleaseNow frees v's handle through the engine. Owning thread only.
// Releasing a value that is no longer live is a no-op.
func (t *ReferenceTable) ReleaseNow(v *Value) error {
	if err := t.owner.CheckThread("release"); err != nil {
		return err
	}
	if t.forget(v) {
		t.release(v.raw)
	}
	return nil
}

// ReleaseDeferred queues v's handle for the next Drain without touching
// the engine. Safe from any goroutine.
func (t *ReferenceTable) ReleaseDeferred(v *Value) {
	if !t.forget(v) {
		return
	}
	t.poolMu.Lock()
	t.pool = append(t.pool, v.raw)
	t.poolMu.Unlock()
}

// Drain frees every queued handle. Owning thread only.
func (t *ReferenceTable) Drain() error {
	if err := t.owner.CheckThread("drain"); err != nil {
		return err
	}
	t.poolMu.Lock()
	pending := t.pool
	t.pool = nil
	t.poolMu.Unlock()

	for _, h := range pending {
		t.release(h)
	}
	return nil
}

// Live returns a snapshot of the live values.
func (t *ReferenceTable) Live() []*Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Value, 0, len(t.live))
	for _, v := range t.live {
		out = append(out, v)
	}
	return out
}

// Len returns the number of live values.
func (t *ReferenceTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Pending returns the number of handles waiting for Drain.
func (t *ReferenceTable) Pending() int {
	t.poolMu.Lock()
	defer t.poolMu.Unlock()
	return len(t.pool)
}
