package scripthost

import (
	"errors"
	"strings"
	"testing"
)

func TestGoEngine_Evaluate(t *testing.T) {
	c := newTestContext(t, NewGoEngine())

	if got, err := c.EvaluateInteger("1 + 2", "int.go"); err != nil || got != 3 {
		t.Errorf("EvaluateInteger() = %d, %v, want 3", got, err)
	}
	if got, err := c.EvaluateString(`"a" + "b"`, "string.go"); err != nil || got != "ab" {
		t.Errorf("EvaluateString() = %q, %v, want ab", got, err)
	}
	if got, err := c.EvaluateDouble("1.5 * 2", "double.go"); err != nil || got != 3 {
		t.Errorf("EvaluateDouble() = %v, %v, want 3", got, err)
	}
	if got, err := c.EvaluateBoolean("len(\"abc\") == 3", "bool.go"); err != nil || !got {
		t.Errorf("EvaluateBoolean() = %v, %v, want true", got, err)
	}
}

func TestGoEngine_ScriptFunctions(t *testing.T) {
	c := newTestContext(t, NewGoEngine())

	if err := c.EvaluateVoid("func double(n int) int { return n * 2 }", "double.go"); err != nil {
		t.Fatalf("EvaluateVoid() error = %v", err)
	}
	g, err := c.Global()
	if err != nil {
		t.Fatalf("Global() error = %v", err)
	}
	if got, err := g.Call("double", 21); err != nil || got != 42 {
		t.Errorf("Call(double) = %v, %v, want 42", got, err)
	}

	_, err = g.Call("missing")
	var exc *Exception
	if !errors.As(err, &exc) || exc.Name != "ReferenceError" {
		t.Errorf("Call(missing) error = %v, want ReferenceError", err)
	}
}

func TestGoEngine_HostFunctions(t *testing.T) {
	c := newTestContext(t, NewGoEngine())

	if _, err := c.RegisterFunction("add", func(_ *Value, args []any) (any, error) {
		a, _ := args[0].(int)
		b, _ := args[1].(int)
		return a + b, nil
	}); err != nil {
		t.Fatalf("RegisterFunction() error = %v", err)
	}
	if _, err := c.RegisterFunction("fail", func(*Value, []any) (any, error) {
		return nil, errors.New("nope")
	}); err != nil {
		t.Fatalf("RegisterFunction() error = %v", err)
	}

	if err := c.EvaluateVoid(`import "host"`, "import.go"); err != nil {
		t.Fatalf("import error = %v", err)
	}
	got, err := c.EvaluateInteger(`func() int { v, _ := host.Add(2, 3); return v.(int) }()`, "add.go")
	if err != nil || got != 5 {
		t.Errorf("host.Add(2, 3) = %d, %v, want 5", got, err)
	}

	g, err := c.Global()
	if err != nil {
		t.Fatalf("Global() error = %v", err)
	}
	_, err = g.Call("fail")
	var exc *Exception
	if !errors.As(err, &exc) || !strings.Contains(exc.Message, "nope") {
		t.Errorf("Call(fail) error = %v, want the host error", err)
	}
}

func TestGoEngine_Panic(t *testing.T) {
	c := newTestContext(t, NewGoEngine())

	err := c.EvaluateVoid(`panic("boom")`, "panic.go")
	var exc *Exception
	if !errors.As(err, &exc) {
		t.Fatalf("EvaluateVoid() error = %v, want *Exception", err)
	}
	if !strings.Contains(exc.Message, "boom") {
		t.Errorf("exception message = %q, want boom", exc.Message)
	}

	err = c.Compile("func {", "syntax.go")
	if !errors.As(err, &exc) || exc.Name != "SyntaxError" {
		t.Errorf("Compile() error = %v, want SyntaxError", err)
	}
}

func TestGoEngine_ObjectsAndArrays(t *testing.T) {
	c := newTestContext(t, NewGoEngine())

	obj, err := c.NewObject()
	if err != nil {
		t.Fatalf("NewObject() error = %v", err)
	}
	if err := obj.Set("name", "go"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := obj.Set("n", 2); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if s, err := obj.GetString("name"); err != nil || s != "go" {
		t.Errorf("GetString() = %q, %v", s, err)
	}
	if keys, _ := obj.Keys(); strings.Join(keys, ",") != "n,name" {
		t.Errorf("Keys() = %v, want [n name]", keys)
	}

	arr, err := c.NewArray()
	if err != nil {
		t.Fatalf("NewArray() error = %v", err)
	}
	if err := arr.Push(1, "two"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if n, err := arr.Len(); err != nil || n != 2 {
		t.Errorf("Len() = %d, %v, want 2", n, err)
	}
	if v, err := arr.Index(1); err != nil || v != "two" {
		t.Errorf("Index(1) = %v, %v, want two", v, err)
	}

	if _, err := c.EvaluateModule("1", "module.go"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("EvaluateModule() error = %v, want ErrUnsupported", err)
	}
}
