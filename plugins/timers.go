package plugins

import (
	"sync"
	"time"

	"github.com/icyseptember2237/scripthost"
	"go.uber.org/zap"
)

// Timers installs setTimeout, clearTimeout, setInterval and
// clearInterval. Callbacks fire on the context's owning thread. One
// Timers may be installed in several contexts; ids are shared but each
// timer belongs to the context that scheduled it.
type Timers struct {
	mu     sync.Mutex
	next   int
	timers map[int]*timer
	log    *zap.Logger
}

type timer struct {
	t        *time.Timer
	ctx      *scripthost.Context
	fn       *scripthost.Value
	args     []any
	repeat   bool
	interval time.Duration
}

func NewTimers() *Timers {
	return &Timers{
		timers: make(map[int]*timer),
		log:    scripthost.Logger().Named("timers"),
	}
}

func (p *Timers) Setup(c *scripthost.Context) error {
	funcs := map[string]scripthost.HostFunc{
		"setTimeout": func(_ *scripthost.Value, args []any) (any, error) {
			return p.schedule(c, "setTimeout", args, false)
		},
		"setInterval": func(_ *scripthost.Value, args []any) (any, error) {
			return p.schedule(c, "setInterval", args, true)
		},
		"clearTimeout": func(_ *scripthost.Value, args []any) (any, error) {
			return p.clear(c, args)
		},
		"clearInterval": func(_ *scripthost.Value, args []any) (any, error) {
			return p.clear(c, args)
		},
	}
	for _, name := range sortedKeys(funcs) {
		fn, err := c.RegisterFunction(name, funcs[name])
		if err != nil {
			return err
		}
		_ = fn.Close()
	}
	return nil
}

// Close stops the timers scheduled by c. Timers of other contexts keep
// running.
func (p *Timers) Close(c *scripthost.Context) {
	var stopped []*timer
	p.mu.Lock()
	for id, t := range p.timers {
		if t.ctx == c {
			stopped = append(stopped, t)
			delete(p.timers, id)
		}
	}
	p.mu.Unlock()
	for _, t := range stopped {
		t.stop()
	}
}

// Pending returns the number of scheduled timers across all contexts.
func (p *Timers) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// PendingFor returns the number of timers scheduled by c.
func (p *Timers) PendingFor(c *scripthost.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.timers {
		if t.ctx == c {
			n++
		}
	}
	return n
}

func (p *Timers) schedule(c *scripthost.Context, op string, args []any, repeat bool) (any, error) {
	cb, ok := functionArg(args, 0)
	if !ok {
		return nil, argError(op, "callback must be a function")
	}
	ms, _ := intArg(args, 1)
	if ms < 0 {
		ms = 0
	}

	// Arguments are borrowed for this call only.
	fn, err := cb.Dup()
	if err != nil {
		return nil, err
	}
	t := &timer{ctx: c, fn: fn, repeat: repeat}
	for _, a := range args[min(2, len(args)):] {
		if v, ok := a.(*scripthost.Value); ok {
			if a, err = v.Dup(); err != nil {
				t.stop()
				return nil, err
			}
		}
		t.args = append(t.args, a)
	}
	delay := time.Duration(ms) * time.Millisecond
	t.interval = delay

	p.mu.Lock()
	p.next++
	id := p.next
	p.timers[id] = t
	t.t = time.AfterFunc(delay, func() { p.fire(c, id) })
	p.mu.Unlock()
	return id, nil
}

func (p *Timers) clear(c *scripthost.Context, args []any) (any, error) {
	id, ok := intArg(args, 0)
	if !ok {
		return nil, nil
	}
	p.mu.Lock()
	t, ok := p.timers[id]
	if ok && t.ctx == c {
		delete(p.timers, id)
	} else {
		ok = false
	}
	p.mu.Unlock()
	if ok {
		t.stop()
	}
	return nil, nil
}

func (p *Timers) fire(c *scripthost.Context, id int) {
	posted := c.Runtime().Dispatcher().PostAsync(func() {
		p.mu.Lock()
		t, ok := p.timers[id]
		if ok && !t.repeat {
			delete(p.timers, id)
		}
		p.mu.Unlock()
		if !ok {
			return
		}

		res, err := t.fn.Invoke(nil, t.args...)
		if v, ok := res.(*scripthost.Value); ok {
			_ = v.Close()
		}
		if err != nil {
			p.log.Warn("timer callback failed", zap.Int("timer", id), zap.Error(err))
		}

		if !t.repeat {
			t.stop()
			return
		}
		p.mu.Lock()
		if _, live := p.timers[id]; live {
			t.t.Reset(t.interval)
		}
		p.mu.Unlock()
	})
	if !posted {
		p.log.Debug("timer dropped, runtime released", zap.Int("timer", id))
	}
}

func (t *timer) stop() {
	if t.t != nil {
		t.t.Stop()
	}
	_ = t.fn.Close()
	for _, a := range t.args {
		if v, ok := a.(*scripthost.Value); ok {
			_ = v.Close()
		}
	}
}
