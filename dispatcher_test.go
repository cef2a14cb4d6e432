package scripthost

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher(t.Name(), zaptest.NewLogger(t))
	t.Cleanup(d.Stop)
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDispatcher_PostRunsOnOwner(t *testing.T) {
	d := newTestDispatcher(t)

	if d.IsOwner() {
		t.Fatal("IsOwner() = true on the test goroutine")
	}
	owner, err := Post(d, func() (bool, error) {
		return d.IsOwner(), nil
	})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if !owner {
		t.Error("Post() op did not run on the owning thread")
	}
	if err := d.CheckThread("test"); !errors.Is(err, ErrThreadAccess) {
		t.Errorf("CheckThread() error = %v, want ErrThreadAccess", err)
	}
}

func TestDispatcher_PostIsReentrant(t *testing.T) {
	d := newTestDispatcher(t)

	got, err := Post(d, func() (int, error) {
		return Post(d, func() (int, error) {
			return 42, nil
		})
	})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if got != 42 {
		t.Errorf("Post() = %d, want 42", got)
	}
}

func TestDispatcher_PostReturnsError(t *testing.T) {
	d := newTestDispatcher(t)
	want := errors.New("boom")

	if err := d.Run(func() error { return want }); !errors.Is(err, want) {
		t.Errorf("Run() error = %v, want %v", err, want)
	}
}

func TestDispatcher_PostRecoversPanic(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := Post(d, func() (int, error) {
		panic("bad op")
	})
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("Post() error = %v, want ErrEngine", err)
	}

	// The loop survives the panic.
	if err := d.Run(func() error { return nil }); err != nil {
		t.Errorf("Run() after panic error = %v", err)
	}
}

func TestDispatcher_FIFOOrder(t *testing.T) {
	d := newTestDispatcher(t)

	var got []int
	for i := 0; i < 100; i++ {
		if !d.PostAsync(func() { got = append(got, i) }) {
			t.Fatal("PostAsync() = false")
		}
	}
	if err := d.Run(func() error { return nil }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
	if len(got) != 100 {
		t.Errorf("ran %d ops, want 100", len(got))
	}
}

func TestDispatcher_ConcurrentPosters(t *testing.T) {
	d := newTestDispatcher(t)

	var counter int
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = d.Run(func() error {
					counter++
					return nil
				})
			}
		}()
	}
	wg.Wait()

	if counter != 400 {
		t.Errorf("counter = %d, want 400", counter)
	}
}

func TestDispatcher_Stop(t *testing.T) {
	d := NewDispatcher("stop", zaptest.NewLogger(t))
	d.Stop()
	d.Stop()

	if !d.IsReleased() {
		t.Error("IsReleased() = false after Stop()")
	}
	if _, err := Post(d, func() (int, error) { return 1, nil }); !errors.Is(err, ErrRuntimeReleased) {
		t.Errorf("Post() error = %v, want ErrRuntimeReleased", err)
	}
	if d.PostAsync(func() {}) {
		t.Error("PostAsync() = true after Stop()")
	}
}

func TestDispatcher_StopAbortsPending(t *testing.T) {
	d := NewDispatcher("abort", zaptest.NewLogger(t))

	started := make(chan struct{})
	block := make(chan struct{})
	d.PostAsync(func() {
		close(started)
		<-block
	})
	<-started

	errc := make(chan error, 1)
	go func() {
		errc <- d.Run(func() error { return nil })
	}()
	waitFor(t, "queued post", func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.queue) == 1
	})

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	waitFor(t, "release", d.IsReleased)
	close(block)
	<-stopped

	if err := <-errc; !errors.Is(err, ErrRuntimeReleased) {
		t.Errorf("Run() error = %v, want ErrRuntimeReleased", err)
	}
}
