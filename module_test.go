package scripthost

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveModuleName(t *testing.T) {
	tests := []struct {
		base, name, want string
	}{
		{"/pkg/a.js", "./b.js", "/pkg/b.js"},
		{"/pkg/sub/a.js", "../b.js", "/pkg/b.js"},
		{"/pkg/a.js", "/abs.js", "/abs.js"},
		{"", "a/b.js", "a/b.js"},
		{"", "./a.js", "a.js"},
		{"/", "x.js", "/x.js"},
		{"/pkg/", "x.js", "/pkg/x.js"},
		{"pkg/a.js", "b.js", "pkg/b.js"},
		{"/a.js", "../../x.js", "/x.js"},
		{"/pkg//a.js", ".//b.js", "/pkg/b.js"},
		{"/pkg/a.js", "", ""},
	}
	for _, tt := range tests {
		if got := ResolveModuleName(tt.base, tt.name); got != tt.want {
			t.Errorf("ResolveModuleName(%q, %q) = %q, want %q", tt.base, tt.name, got, tt.want)
		}
	}
}

func TestResolveModuleName_RootedIsFixedPoint(t *testing.T) {
	bases := []string{"", "/", "/pkg/a.js", "rel/b.js"}
	names := []string{"./b.js", "../c/d.js", "x.js", "//double//slash.js"}
	for _, base := range bases {
		for _, name := range names {
			r := ResolveModuleName("/root/main.js", name)
			if got := ResolveModuleName(base, r); got != r {
				t.Errorf("ResolveModuleName(%q, %q) = %q, want it unchanged", base, r, got)
			}
		}
	}
}

func TestDirModuleProvider(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "lib", "a.js"), []byte("exports.a = 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := DirModuleProvider{Root: root}

	if src, ok := p.ModuleScript("/lib/a.js"); !ok || src != "exports.a = 1;" {
		t.Errorf("ModuleScript(/lib/a.js) = %q, %v", src, ok)
	}
	if _, ok := p.ModuleScript("/lib/missing.js"); ok {
		t.Error("ModuleScript(missing) = true")
	}
	if _, ok := p.ModuleScript("/../outside.js"); ok {
		t.Error("ModuleScript() escaped the root")
	}
}

func newCommonJS(t *testing.T, modules MapModuleProvider) (*Context, *CommonJS) {
	t.Helper()
	c := newTestContext(t, NewJsEngine())
	m, err := NewCommonJS(c, modules)
	if err != nil {
		t.Fatalf("NewCommonJS() error = %v", err)
	}
	return c, m
}

func TestCommonJS_Require(t *testing.T) {
	_, m := newCommonJS(t, MapModuleProvider{
		"/lib/math.js": "exports.add = function (a, b) { return a + b; };",
		"/lib/main.js": "var math = require('./math.js'); module.exports = { sum: math.add(2, 3) };",
	})

	exports, err := m.Require("/lib/main.js")
	if err != nil {
		t.Fatalf("Require() error = %v", err)
	}
	obj, ok := exports.(*Value)
	if !ok {
		t.Fatalf("Require() = %T, want *Value", exports)
	}
	if sum, err := obj.GetInteger("sum"); err != nil || sum != 5 {
		t.Errorf("sum = %d, %v, want 5", sum, err)
	}

	// Entries are keyed by the request as written.
	if !m.Cached("/lib/main.js") || !m.Cached("./math.js") {
		t.Error("Cached() = false for a loaded module")
	}
	if m.Cached("/lib/math.js") {
		t.Error("Cached() = true for a resolved name that was never requested")
	}
}

func TestCommonJS_RequireReturnsCachedExports(t *testing.T) {
	_, m := newCommonJS(t, MapModuleProvider{
		"/state.js": "exports.loads = (typeof loads === 'undefined' ? 0 : loads) + 1; loads = exports.loads;",
	})

	first, err := m.Require("/state.js")
	if err != nil {
		t.Fatalf("Require() error = %v", err)
	}
	second, err := m.Require("/state.js")
	if err != nil {
		t.Fatalf("second Require() error = %v", err)
	}
	if n, _ := second.(*Value).GetInteger("loads"); n != 1 {
		t.Errorf("module ran %d times, want 1", n)
	}
	if err := first.(*Value).Set("marker", true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if ok, _ := second.(*Value).GetBoolean("marker"); !ok {
		t.Error("second Require() returned a different exports object")
	}
}

func TestCommonJS_Resolution(t *testing.T) {
	c, m := newCommonJS(t, MapModuleProvider{
		"/broken.js": "require('./missing.js');",
		"/a.js":      "require('./b.js');",
		"/b.js":      "require('./a.js');",
	})

	if _, err := m.Require("/nope.js"); !errors.Is(err, ErrResolution) {
		t.Errorf("Require(missing) error = %v, want ErrResolution", err)
	}
	if _, err := m.Require("/broken.js"); !errors.Is(err, ErrResolution) {
		t.Errorf("Require(nested missing) error = %v, want ErrResolution", err)
	}
	if _, err := m.Require("/a.js"); !errors.Is(err, ErrResolution) {
		t.Errorf("Require(circular) error = %v, want ErrResolution", err)
	}

	// Scripts see require as a global too.
	_, err := c.Evaluate("require('/nope.js')", "script.js")
	var exc *Exception
	if !errors.As(err, &exc) || exc.Name != "ResolutionError" {
		t.Errorf("Evaluate() error = %v, want ResolutionError", err)
	}
}

func TestCommonJS_ExecuteModuleScript(t *testing.T) {
	_, m := newCommonJS(t, MapModuleProvider{})

	exports, err := m.ExecuteModuleScript("module.exports = 42;", "./inline.js")
	if err != nil {
		t.Fatalf("ExecuteModuleScript() error = %v", err)
	}
	if exports != 42 {
		t.Errorf("ExecuteModuleScript() = %v, want 42", exports)
	}
	if !m.Cached("inline.js") {
		t.Error("ExecuteModuleScript() result not cached under its normalized name")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if m.Cached("inline.js") {
		t.Error("Close() kept cache entries")
	}
}

func TestCommonJS_Unsupported(t *testing.T) {
	c := newTestContext(t, NewGoEngine())
	if _, err := NewCommonJS(c, MapModuleProvider{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("NewCommonJS() error = %v, want ErrUnsupported", err)
	}
}

func TestESModules_ExecuteModule(t *testing.T) {
	c := newTestContext(t, NewJsEngine())
	m := NewESModules(c, MapModuleProvider{
		"/app/util.js":  "exports.twice = function (n) { return n * 2; };",
		"/app/main.js":  "var util = importModule('./util.js'); exports.value = util.twice(21);",
		"/app/again.js": "exports.same = importModule('./util.js') === importModule('/app/util.js');",
		"/app/bad.js":   "importModule('./missing.js');",
	})

	v, err := m.ExecuteModule("/app/main.js")
	if err != nil {
		t.Fatalf("ExecuteModule() error = %v", err)
	}
	if n, err := v.(*Value).GetInteger("value"); err != nil || n != 42 {
		t.Errorf("value = %d, %v, want 42", n, err)
	}

	v, err = m.ExecuteModule("/app/again.js")
	if err != nil {
		t.Fatalf("ExecuteModule() error = %v", err)
	}
	if same, _ := v.(*Value).GetBoolean("same"); !same {
		t.Error("nested imports of one module returned different exports")
	}

	if _, err := m.ExecuteModule("/app/none.js"); !errors.Is(err, ErrResolution) {
		t.Errorf("ExecuteModule(missing) error = %v, want ErrResolution", err)
	}
	if _, err := m.ExecuteModule("/app/bad.js"); !errors.Is(err, ErrResolution) {
		t.Errorf("ExecuteModule(bad import) error = %v, want ErrResolution", err)
	}
}

func TestESModules_ExecuteModuleScript(t *testing.T) {
	c := newTestContext(t, NewJsEngine())
	m := NewESModules(c, MapModuleProvider{
		"/lib/dep.js": "exports.name = 'dep';",
	})

	v, err := m.ExecuteModuleScript("exports.dep = importModule('./lib/dep.js').name;", "/main.js")
	if err != nil {
		t.Fatalf("ExecuteModuleScript() error = %v", err)
	}
	if s, _ := v.(*Value).GetString("dep"); s != "dep" {
		t.Errorf("dep = %q, want dep", s)
	}
}

func TestESModules_UnsupportedOnGoEngine(t *testing.T) {
	c := newTestContext(t, NewGoEngine())
	m := NewESModules(c, MapModuleProvider{"/m.go": "1"})
	if _, err := m.ExecuteModule("/m.go"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ExecuteModule() error = %v, want ErrUnsupported", err)
	}
}
