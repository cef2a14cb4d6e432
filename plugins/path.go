package plugins

import (
	"path/filepath"
	"strings"

	"github.com/icyseptember2237/scripthost"
)

// Path installs a path object over the host's path conventions.
type Path struct{}

func NewPath() *Path {
	return &Path{}
}

func (p *Path) Setup(c *scripthost.Context) error {
	return namespace(c, "path", map[string]scripthost.HostFunc{
		"join": func(_ *scripthost.Value, args []any) (any, error) {
			return filepath.Join(stringArgs(args)...), nil
		},
		"dirname": func(_ *scripthost.Value, args []any) (any, error) {
			s, _ := stringArg(args, 0)
			return filepath.Dir(s), nil
		},
		"basename": func(_ *scripthost.Value, args []any) (any, error) {
			s, _ := stringArg(args, 0)
			base := filepath.Base(s)
			if ext, ok := stringArg(args, 1); ok && ext != base {
				base = strings.TrimSuffix(base, ext)
			}
			return base, nil
		},
		"extname": func(_ *scripthost.Value, args []any) (any, error) {
			s, _ := stringArg(args, 0)
			return filepath.Ext(s), nil
		},
		"isAbsolute": func(_ *scripthost.Value, args []any) (any, error) {
			s, _ := stringArg(args, 0)
			return filepath.IsAbs(s), nil
		},
		"resolve": func(_ *scripthost.Value, args []any) (any, error) {
			var out string
			for _, s := range stringArgs(args) {
				if filepath.IsAbs(s) {
					out = s
				} else {
					out = filepath.Join(out, s)
				}
			}
			return filepath.Abs(out)
		},
		"normalize": func(_ *scripthost.Value, args []any) (any, error) {
			s, _ := stringArg(args, 0)
			return filepath.Clean(s), nil
		},
	}, map[string]any{
		"sep":       string(filepath.Separator),
		"delimiter": string(filepath.ListSeparator),
	})
}

func (p *Path) Close(*scripthost.Context) {}

func stringArgs(args []any) []string {
	out := make([]string, 0, len(args))
	for i := range args {
		if s, ok := stringArg(args, i); ok {
			out = append(out, s)
		}
	}
	return out
}
