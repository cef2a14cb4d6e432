package plugins

import (
	"errors"
	"testing"

	"github.com/icyseptember2237/scripthost"
)

func TestParseURL(t *testing.T) {
	u, err := ParseURL("../x/y?q=1&q=2&z=3#frag", "https://user:pw@example.com:8080/a/b/c")
	if err != nil {
		t.Fatalf("ParseURL() error = %v", err)
	}
	want := map[string]any{
		"href":     "https://user:pw@example.com:8080/a/x/y?q=1&q=2&z=3#frag",
		"protocol": "https:",
		"host":     "example.com:8080",
		"hostname": "example.com",
		"port":     "8080",
		"pathname": "/a/x/y",
		"search":   "?q=1&q=2&z=3",
		"hash":     "#frag",
		"origin":   "https://example.com:8080",
		"username": "user",
		"password": "pw",
	}
	for k, v := range want {
		if u[k] != v {
			t.Errorf("%s = %v, want %v", k, u[k], v)
		}
	}
	params, _ := u["searchParams"].(map[string]any)
	if params["q"] != "1" || params["z"] != "3" {
		t.Errorf("searchParams = %v", params)
	}

	for _, tt := range []struct{ raw, base string }{
		{"relative/path", ""},
		{"x", "::bad"},
		{"http://[::1", ""},
	} {
		if _, err := ParseURL(tt.raw, tt.base); !errors.Is(err, scripthost.ErrUnsupported) {
			t.Errorf("ParseURL(%q, %q) error = %v, want ErrUnsupported", tt.raw, tt.base, err)
		}
	}
}

func TestURL_Script(t *testing.T) {
	c := newTestContext(t, scripthost.NewJsEngine(), NewURL())

	if got, err := c.EvaluateString("URL('https://example.com/p?a=b').pathname", "url.js"); err != nil || got != "/p" {
		t.Errorf("URL().pathname = %q, %v", got, err)
	}
	if got, err := c.EvaluateString("URL.parse('/q', 'http://h').href", "url.js"); err != nil || got != "http://h/q" {
		t.Errorf("URL.parse().href = %q, %v", got, err)
	}
}

func TestURL_ObjectURLs(t *testing.T) {
	urls := NewURL()
	c := newTestContext(t, scripthost.NewJsEngine(), urls)

	id, err := c.EvaluateString("var blob = { size: 3 }; URL.createObjectURL(blob)", "blob.js")
	if err != nil {
		t.Fatalf("createObjectURL() error = %v", err)
	}
	if id != "blob:scripthost/1" {
		t.Errorf("createObjectURL() = %q", id)
	}
	v, ok := urls.Object(id)
	if !ok {
		t.Fatalf("Object(%q) = false", id)
	}
	if n, err := v.GetInteger("size"); err != nil || n != 3 {
		t.Errorf("size = %d, %v, want 3", n, err)
	}

	if err := c.EvaluateVoid("URL.revokeObjectURL('"+id+"')", "revoke.js"); err != nil {
		t.Fatalf("revokeObjectURL() error = %v", err)
	}
	if _, ok := urls.Object(id); ok {
		t.Error("Object() still set after revokeObjectURL")
	}
	if !v.IsReleased() {
		t.Error("revoked object was not released")
	}
}

func TestURL_LuaNamespace(t *testing.T) {
	c := newTestContext(t, scripthost.NewLuaEngine(), NewURL())

	got, err := c.EvaluateString("return URL.parse('https://example.com:9000/x').port", "url.lua")
	if err != nil || got != "9000" {
		t.Errorf("URL.parse().port = %q, %v, want 9000", got, err)
	}
}
