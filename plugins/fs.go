package plugins

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/icyseptember2237/scripthost"
)

// FS installs a synchronous fs object confined to Root.
type FS struct {
	Root string
}

func NewFS(root string) *FS {
	return &FS{Root: root}
}

func (p *FS) Setup(c *scripthost.Context) error {
	if p.Root == "" {
		return scripthost.NewError(scripthost.ClassConfiguration).Op("fs.setup").Detail("root directory is required").Build()
	}
	return namespace(c, "fs", map[string]scripthost.HostFunc{
		"readFileSync":  p.readFile,
		"writeFileSync": p.writeFile,
		"existsSync":    p.exists,
		"mkdirSync":     p.mkdir,
		"readdirSync":   p.readdir,
		"unlinkSync":    p.unlink,
	}, nil)
}

func (p *FS) Close(*scripthost.Context) {}

// resolve maps a script path onto the root. Paths may not escape it.
func (p *FS) resolve(op string, args []any) (string, error) {
	name, ok := stringArg(args, 0)
	if !ok {
		return "", argError(op, "path must be a string")
	}
	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(name, "/")))
	if rel == "." {
		return p.Root, nil
	}
	if !filepath.IsLocal(rel) {
		return "", argError(op, "path escapes root: "+name)
	}
	return filepath.Join(p.Root, rel), nil
}

func (p *FS) readFile(_ *scripthost.Value, args []any) (any, error) {
	path, err := p.resolve("fs.readFileSync", args)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	enc, _ := stringArg(args, 1)
	return Decode(data, enc)
}

func (p *FS) writeFile(_ *scripthost.Value, args []any) (any, error) {
	path, err := p.resolve("fs.writeFileSync", args)
	if err != nil {
		return nil, err
	}
	content, ok := stringArg(args, 1)
	if !ok {
		return nil, argError("fs.writeFileSync", "content must be a string")
	}
	enc, _ := stringArg(args, 2)
	data, err := Encode(content, enc)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return nil, os.WriteFile(path, data, 0o644)
}

func (p *FS) exists(_ *scripthost.Value, args []any) (any, error) {
	path, err := p.resolve("fs.existsSync", args)
	if err != nil {
		return false, nil
	}
	_, err = os.Stat(path)
	return err == nil, nil
}

func (p *FS) mkdir(_ *scripthost.Value, args []any) (any, error) {
	path, err := p.resolve("fs.mkdirSync", args)
	if err != nil {
		return nil, err
	}
	return nil, os.MkdirAll(path, 0o755)
}

func (p *FS) readdir(_ *scripthost.Value, args []any) (any, error) {
	path, err := p.resolve("fs.readdirSync", args)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out, nil
}

func (p *FS) unlink(_ *scripthost.Value, args []any) (any, error) {
	path, err := p.resolve("fs.unlinkSync", args)
	if err != nil {
		return nil, err
	}
	if path == p.Root {
		return nil, argError("fs.unlinkSync", "cannot remove root")
	}
	return nil, os.Remove(path)
}
