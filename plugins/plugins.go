// Package plugins provides host capabilities for script contexts:
// console logging, timers, buffers, a rooted file system, path and URL
// helpers, HTTP and OS information.
package plugins

import (
	"fmt"
	"sort"
	"strings"

	"github.com/icyseptember2237/scripthost"
)

// Defaults returns the plugin set a module context installs by default.
// FS is left out since it needs a root directory.
func Defaults() []scripthost.Plugin {
	return []scripthost.Plugin{
		NewConsole(nil),
		NewTimers(),
		NewBuffer(),
		NewPath(),
		NewURL(),
		NewOS(),
		NewHTTP(nil),
	}
}

// Install adds each plugin to c, stopping at the first failure.
func Install(c *scripthost.Context, plugins ...scripthost.Plugin) error {
	for _, p := range plugins {
		if err := c.AddPlugin(p); err != nil {
			return fmt.Errorf("install %T: %w", p, err)
		}
	}
	return nil
}

// namespace installs a global object with the given functions and
// constant properties.
func namespace(c *scripthost.Context, name string, funcs map[string]scripthost.HostFunc, props map[string]any) error {
	obj, err := c.NewObject()
	if err != nil {
		return err
	}
	defer obj.Close()

	if err := populate(obj, funcs, props); err != nil {
		return err
	}
	g, err := c.Global()
	if err != nil {
		return err
	}
	return g.Set(name, obj)
}

func populate(obj *scripthost.Value, funcs map[string]scripthost.HostFunc, props map[string]any) error {
	for _, k := range sortedKeys(funcs) {
		fn, err := obj.RegisterFunction(k, funcs[k])
		if err != nil {
			return err
		}
		_ = fn.Close()
	}
	for _, k := range sortedKeys(props) {
		if err := obj.Set(k, props[k]); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func stringArg(args []any, i int) (string, bool) {
	s, ok := arg(args, i).(string)
	return s, ok
}

func intArg(args []any, i int) (int, bool) {
	switch n := arg(args, i).(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func valueArg(args []any, i int) (*scripthost.Value, bool) {
	v, ok := arg(args, i).(*scripthost.Value)
	return v, ok && v != nil && !v.IsUndefined()
}

func functionArg(args []any, i int) (*scripthost.Value, bool) {
	v, ok := valueArg(args, i)
	return v, ok && v.IsFunction()
}

// display renders script arguments the way console output shows them.
func display(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case nil:
			parts[i] = "null"
		case *scripthost.Value:
			parts[i] = v.String()
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, " ")
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case *scripthost.Value:
		return !x.IsUndefined()
	}
	return true
}

func argError(fn, msg string) error {
	return scripthost.NewError(scripthost.ClassUnsupported).Op(fn).Detail(msg).Build()
}
