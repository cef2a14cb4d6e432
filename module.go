package scripthost

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ModuleProvider supplies module source by resolved name.
type ModuleProvider interface {
	ModuleScript(name string) (string, bool)
}

// ModuleProviderFunc adapts a function to ModuleProvider.
type ModuleProviderFunc func(name string) (string, bool)

func (f ModuleProviderFunc) ModuleScript(name string) (string, bool) { return f(name) }

// MapModuleProvider serves modules from memory.
type MapModuleProvider map[string]string

func (m MapModuleProvider) ModuleScript(name string) (string, bool) {
	src, ok := m[name]
	return src, ok
}

// DirModuleProvider serves modules from files under Root. Names are
// slash separated and may not escape Root.
type DirModuleProvider struct {
	Root string
}

func (p DirModuleProvider) ModuleScript(name string) (string, bool) {
	rel := filepath.FromSlash(strings.TrimPrefix(name, "/"))
	if !filepath.IsLocal(rel) {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(p.Root, rel))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// ResolveModuleName resolves a requested module name against the name
// of the module that requests it.
//
//	ResolveModuleName("/pkg/a.js", "./b.js")      == "/pkg/b.js"
//	ResolveModuleName("/pkg/sub/a.js", "../b.js") == "/pkg/b.js"
//	ResolveModuleName("", "a/b.js")               == "a/b.js"
//	ResolveModuleName("/", "x.js")                == "/x.js"
//
// Rooted results resolve to themselves.
func ResolveModuleName(base, name string) string {
	if name == "" {
		return name
	}
	name = strings.TrimPrefix(collapseSeparators(name), "./")
	if name == "" || name[0] == '/' {
		return name
	}
	if base == "" {
		return name
	}
	base = strings.TrimPrefix(collapseSeparators(base), "./")
	if base == "/" {
		return "/" + name
	}
	if strings.HasSuffix(base, "/") {
		return base + name
	}

	rooted := strings.HasPrefix(base, "/")
	parent := strings.Split(strings.TrimPrefix(base, "/"), "/")
	path := strings.Split(name, "/")
	for len(path) > 0 && path[0] == ".." {
		path = path[1:]
		if len(parent) > 0 {
			parent = parent[:len(parent)-1]
		}
	}
	if len(parent) > 0 {
		parent = parent[:len(parent)-1]
	}

	joined := strings.Join(append(parent, path...), "/")
	if rooted {
		return "/" + joined
	}
	return joined
}

func collapseSeparators(s string) string {
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	return s
}

// CommonJS installs require() in a context. Modules run inside the
// engine's module wrapper and are cached by the name they were
// requested with.
type CommonJS struct {
	ctx     *Context
	wrapper CommonJSWrapper

	// Touched only on the owning thread.
	cache   map[string]*Value
	loading map[string]bool
}

// NewCommonJS installs the module system and its provider in c.
func NewCommonJS(c *Context, provider ModuleProvider) (*CommonJS, error) {
	wrapper, ok := c.rt.engine.(CommonJSWrapper)
	if !ok {
		return nil, unsupportedError("commonjs", c.rt.engine.Name()+" engine has no module wrapper")
	}
	m := &CommonJS{
		ctx:     c,
		wrapper: wrapper,
		cache:   make(map[string]*Value),
		loading: make(map[string]bool),
	}
	c.SetModuleProvider(provider)

	if _, err := c.RegisterFunction("require", func(_ *Value, args []any) (any, error) {
		name, _ := argAt(args, 0).(string)
		return m.require(name, "")
	}); err != nil {
		return nil, err
	}
	if _, err := c.RegisterFunction("__require", func(_ *Value, args []any) (any, error) {
		name, _ := argAt(args, 0).(string)
		base, _ := argAt(args, 1).(string)
		return m.require(name, base)
	}); err != nil {
		return nil, err
	}
	return m, nil
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// Require loads the module requested as name and returns its exports.
func (m *CommonJS) Require(name string) (any, error) {
	return call(m.ctx, "require", func() (any, error) {
		return m.require(name, "")
	})
}

// ExecuteModuleScript runs source as the module fileName and returns
// its exports.
func (m *CommonJS) ExecuteModuleScript(source, fileName string) (any, error) {
	return call(m.ctx, "executeModuleScript", func() (any, error) {
		name := ResolveModuleName("", fileName)
		module, err := m.load(source, name)
		if err != nil {
			return nil, err
		}
		m.store(name, module)
		return module.Get("exports")
	})
}

// Cached reports whether a module was requested as name before.
func (m *CommonJS) Cached(name string) bool {
	ok, _ := call(m.ctx, "cached", func() (bool, error) {
		_, ok := m.cache[name]
		return ok, nil
	})
	return ok
}

func (m *CommonJS) require(path, base string) (any, error) {
	if module, ok := m.cache[path]; ok {
		return module.Get("exports")
	}
	resolved := ResolveModuleName(base, path)
	if m.loading[resolved] {
		return nil, NewError(ClassResolution).Op("require").Detail("circular require of '" + resolved + "'").Build()
	}
	src, ok := m.ctx.moduleScript(resolved)
	if !ok {
		return nil, resolutionError("require", resolved)
	}

	m.loading[resolved] = true
	module, err := m.load(src, resolved)
	delete(m.loading, resolved)
	if err != nil {
		return nil, err
	}
	m.store(path, module)
	m.ctx.log.Debug("module loaded", zap.String("request", path), zap.String("module", resolved))
	return module.Get("exports")
}

func (m *CommonJS) store(key string, module *Value) {
	if old, ok := m.cache[key]; ok {
		_ = old.Close()
	}
	m.cache[key] = module
}

func (m *CommonJS) load(source, name string) (*Value, error) {
	module, err := m.ctx.EvaluateObject(m.wrapper.WrapCommonJS(source, name), name)
	if err != nil {
		return nil, err
	}
	if module == nil {
		return nil, NewError(ClassEngine).Op("require").Detail("module '" + name + "' did not produce a module object").Build()
	}
	return module, nil
}

// Close drops the module cache.
func (m *CommonJS) Close() error {
	if m.ctx.IsReleased() {
		return nil
	}
	_, err := call(m.ctx, "closeModules", func() (struct{}, error) {
		for k, module := range m.cache {
			_ = module.Close()
			delete(m.cache, k)
		}
		return struct{}{}, nil
	})
	return err
}

// ESModules runs module-scope scripts. Imports inside them are
// resolved through the engine's module hooks against the provider.
type ESModules struct {
	ctx *Context
}

// NewESModules installs provider as c's module source.
func NewESModules(c *Context, provider ModuleProvider) *ESModules {
	c.SetModuleProvider(provider)
	return &ESModules{ctx: c}
}

// ExecuteModule resolves name, fetches it from the provider and runs it
// in module scope.
func (m *ESModules) ExecuteModule(name string) (any, error) {
	resolved := ResolveModuleName("", name)
	src, ok := m.ctx.moduleScript(resolved)
	if !ok {
		return nil, resolutionError("executeModule", resolved)
	}
	return m.ctx.EvaluateModule(src, resolved)
}

// ExecuteModuleScript runs source in module scope under fileName.
func (m *ESModules) ExecuteModuleScript(source, fileName string) (any, error) {
	return m.ctx.EvaluateModule(source, ResolveModuleName("", fileName))
}
