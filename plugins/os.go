package plugins

import (
	"os"
	"runtime"

	"github.com/icyseptember2237/scripthost"
)

// OS installs an os object describing the host.
type OS struct{}

func NewOS() *OS {
	return &OS{}
}

func (p *OS) Setup(c *scripthost.Context) error {
	return namespace(c, "os", map[string]scripthost.HostFunc{
		"hostname": func(*scripthost.Value, []any) (any, error) {
			return os.Hostname()
		},
		"totalmem": func(*scripthost.Value, []any) (any, error) {
			total, _ := memory()
			return total, nil
		},
		"freemem": func(*scripthost.Value, []any) (any, error) {
			_, free := memory()
			return free, nil
		},
	}, map[string]any{
		"platform": runtime.GOOS,
		"arch":     runtime.GOARCH,
		"release":  release(),
		"type":     sysname(),
		"tmpdir":   os.TempDir(),
	})
}

func (p *OS) Close(*scripthost.Context) {}
