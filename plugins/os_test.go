package plugins

import (
	"runtime"
	"testing"

	"github.com/icyseptember2237/scripthost"
)

func TestOS(t *testing.T) {
	c := newTestContext(t, scripthost.NewJsEngine(), NewOS())

	if got, err := c.EvaluateString("os.platform", "os.js"); err != nil || got != runtime.GOOS {
		t.Errorf("os.platform = %q, %v, want %q", got, err, runtime.GOOS)
	}
	if got, err := c.EvaluateString("os.arch", "os.js"); err != nil || got != runtime.GOARCH {
		t.Errorf("os.arch = %q, %v, want %q", got, err, runtime.GOARCH)
	}
	if ok, err := c.EvaluateBoolean("os.hostname().length > 0 && os.totalmem() > 0 && os.freemem() >= 0", "os.js"); err != nil || !ok {
		t.Errorf("os host info = %v, %v", ok, err)
	}
	if got, _ := c.EvaluateString("os.type", "os.js"); got == "" {
		t.Error("os.type is empty")
	}
}
