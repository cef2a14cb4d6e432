package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/icyseptember2237/scripthost"
)

func TestPath(t *testing.T) {
	c := newTestContext(t, scripthost.NewJsEngine(), NewPath())
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"path.join('a', 'b', '../c')":        filepath.Join("a", "c"),
		"path.dirname('/a/b.txt')":           filepath.Dir("/a/b.txt"),
		"path.basename('/a/b.txt')":          "b.txt",
		"path.basename('/a/b.txt', '.txt')":  "b",
		"path.extname('/a/b.tar.gz')":        ".gz",
		"path.normalize('/a//b/../c')":       filepath.Clean("/a/c"),
		"path.resolve('/base', 'x', '../y')": filepath.Clean("/base/y"),
		"path.resolve('rel')":                filepath.Join(cwd, "rel"),
		"path.sep":                           string(filepath.Separator),
		"String(path.isAbsolute('/x'))":      "true",
		"String(path.isAbsolute('x'))":       "false",
	}
	for src, want := range tests {
		if got, err := c.EvaluateString(src, "path.js"); err != nil || got != want {
			t.Errorf("%s = %q, %v, want %q", src, got, err, want)
		}
	}
}
