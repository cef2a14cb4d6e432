package plugins

import (
	"errors"
	"testing"
	"time"

	"github.com/icyseptember2237/scripthost"
	"go.uber.org/zap/zaptest"
)

func newTestContext(t *testing.T, eng scripthost.Engine, plugins ...scripthost.Plugin) *scripthost.Context {
	t.Helper()
	rt, err := scripthost.NewRuntime(scripthost.Config{
		Engine:   eng,
		Registry: scripthost.NewContextRegistry(),
		Logger:   zaptest.NewLogger(t),
		Name:     t.Name(),
	})
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	c, err := rt.NewContext()
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	if err := Install(c, plugins...); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	return c
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

func TestInstall_Defaults(t *testing.T) {
	for _, eng := range []scripthost.Engine{scripthost.NewJsEngine(), scripthost.NewLuaEngine()} {
		c := newTestContext(t, eng, Defaults()...)
		g, err := c.Global()
		if err != nil {
			t.Fatalf("Global() error = %v", err)
		}
		for _, name := range []string{"console", "setTimeout", "Buffer", "path", "URL", "os", "http"} {
			if ok, err := g.Contains(name); err != nil || !ok {
				t.Errorf("%s: global %q missing (%v)", eng.Name(), name, err)
			}
		}
		if n := len(c.Plugins()); n != len(Defaults()) {
			t.Errorf("%s: Plugins() = %d, want %d", eng.Name(), n, len(Defaults()))
		}
	}
}

func TestInstall_StopsAtFailure(t *testing.T) {
	c := newTestContext(t, scripthost.NewJsEngine())

	err := Install(c, NewPath(), NewFS(""), NewOS())
	if !errors.Is(err, scripthost.ErrConfiguration) {
		t.Fatalf("Install() error = %v, want ErrConfiguration", err)
	}
	if n := len(c.Plugins()); n != 1 {
		t.Errorf("Plugins() = %d after a failed install, want 1", n)
	}
}
