package scripthost

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type task struct {
	run   func()
	abort func()
}

// Dispatcher owns one goroutine locked to one OS thread and runs
// submitted operations on it in FIFO order.
type Dispatcher struct {
	name string
	log  *zap.Logger

	mu       sync.Mutex
	queue    []task
	released bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	owner    atomic.Int64
	stopOnce sync.Once
}

// NewDispatcher starts the owning goroutine and returns once its thread
// identity is known.
func NewDispatcher(name string, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = Logger()
	}
	d := &Dispatcher{
		name: name,
		log:  log.With(zap.String("dispatcher", name)),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	ready := make(chan struct{})
	go d.loop(ready)
	<-ready
	return d
}

func (d *Dispatcher) loop(ready chan<- struct{}) {
	// The thread stays locked after the loop returns, so the runtime
	// retires it and no other goroutine inherits its identity.
	runtime.LockOSThread()

	d.owner.Store(currentThreadID())
	close(ready)
	d.log.Debug("dispatcher started")

	for {
		select {
		case <-d.wake:
			d.runPending()
		case <-d.quit:
			d.abortPending()
			d.owner.Store(-1)
			d.log.Debug("dispatcher stopped")
			close(d.done)
			return
		}
	}
}

// next pops the oldest task. Nothing is handed out once released; the
// remainder is aborted when the loop exits.
func (d *Dispatcher) next() (task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released || len(d.queue) == 0 {
		return task{}, false
	}
	t := d.queue[0]
	d.queue[0] = task{}
	d.queue = d.queue[1:]
	return t, true
}

func (d *Dispatcher) runPending() {
	for {
		t, ok := d.next()
		if !ok {
			return
		}
		t.run()
	}
}

func (d *Dispatcher) abortPending() {
	d.mu.Lock()
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, t := range pending {
		if t.abort != nil {
			t.abort()
		}
	}
	if len(pending) > 0 {
		d.log.Debug("dropped pending operations", zap.Int("count", len(pending)))
	}
}

func (d *Dispatcher) enqueue(t task) bool {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, t)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Name returns the dispatcher name.
func (d *Dispatcher) Name() string { return d.name }

// IsOwner reports whether the caller runs on the owning thread.
func (d *Dispatcher) IsOwner() bool {
	return currentThreadID() == d.owner.Load()
}

// CheckThread returns a thread-access error when called off the owning
// thread.
func (d *Dispatcher) CheckThread(op string) error {
	if d.IsOwner() {
		return nil
	}
	return threadAccessError(op)
}

// IsReleased reports whether Stop has been called.
func (d *Dispatcher) IsReleased() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

type result[T any] struct {
	val T
	err error
}

// Post runs op on the owning thread and returns its result. Called on
// the owning thread, op runs inline. Once the dispatcher is released
// Post fails fast with ErrRuntimeReleased.
func Post[T any](d *Dispatcher, op func() (T, error)) (T, error) {
	var zero T
	if d.IsOwner() {
		if d.IsReleased() {
			return zero, lifecycleError("post", detailRuntimeReleased)
		}
		return op()
	}

	ch := make(chan result[T], 1)
	t := task{
		run: func() {
			defer func() {
				if r := recover(); r != nil {
					ch <- result[T]{err: NewError(ClassEngine).Op("post").Detail(fmt.Sprint("panic: ", r)).Build()}
				}
			}()
			v, err := op()
			ch <- result[T]{val: v, err: err}
		},
		abort: func() {
			ch <- result[T]{err: lifecycleError("post", detailRuntimeReleased)}
		},
	}
	if !d.enqueue(t) {
		return zero, lifecycleError("post", detailRuntimeReleased)
	}
	res := <-ch
	return res.val, res.err
}

// Run is the void form of Post.
func (d *Dispatcher) Run(op func() error) error {
	_, err := Post(d, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// PostAsync schedules op without waiting. It reports false, dropping
// op, when the dispatcher is released.
func (d *Dispatcher) PostAsync(op func()) bool {
	ok := d.enqueue(task{
		run: func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Warn("async operation panicked", zap.Any("panic", r))
				}
			}()
			op()
		},
	})
	if !ok {
		d.log.Debug("async operation dropped, dispatcher released")
	}
	return ok
}

// Stop releases the dispatcher. Queued operations are dropped and
// blocked posters receive ErrRuntimeReleased. Stop waits for the loop
// to exit unless called from the owning thread.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.released = true
		d.mu.Unlock()
		close(d.quit)
	})
	if !d.IsOwner() {
		<-d.done
	}
}
