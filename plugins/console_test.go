package plugins

import (
	"testing"

	"github.com/icyseptember2237/scripthost"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestConsole_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	console := NewConsole(zap.New(core))
	c := newTestContext(t, scripthost.NewJsEngine(), console)

	err := c.EvaluateVoid(`
console.log('a', 1, true);
console.info('info');
console.warn('careful');
console.error('broken');
console.assert(1 === 1, 'never');
console.assert(false, 'bad', 2);
console.trace();
`, "console.js")
	if err != nil {
		t.Fatalf("EvaluateVoid() error = %v", err)
	}

	want := []struct {
		level zapcore.Level
		msg   string
	}{
		{zapcore.DebugLevel, "a 1 true"},
		{zapcore.InfoLevel, "info"},
		{zapcore.WarnLevel, "careful"},
		{zapcore.ErrorLevel, "broken"},
		{zapcore.ErrorLevel, "Assertion failed: bad 2"},
		{zapcore.DebugLevel, "console.trace is not supported"},
	}
	entries := logs.All()
	if len(entries) != len(want) {
		t.Fatalf("logged %d entries, want %d: %v", len(entries), len(want), entries)
	}
	for i, w := range want {
		if e := entries[i]; e.Level != w.level || e.Message != w.msg {
			t.Errorf("entry %d = %v %q, want %v %q", i, e.Level, e.Message, w.level, w.msg)
		}
		if name := entries[i].LoggerName; name != "console" {
			t.Errorf("entry %d logger = %q, want console", i, name)
		}
	}
	if console.Count() != 5 {
		t.Errorf("Count() = %d, want 5", console.Count())
	}
}

func TestConsole_TableAndTimers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := newTestContext(t, scripthost.NewJsEngine(), NewConsole(zap.New(core)))

	err := c.EvaluateVoid(`
console.table({ b: 2, a: [1, 'x'] });
console.time('t');
console.time('t');
console.timeEnd('t');
console.timeEnd('t');
`, "table.js")
	if err != nil {
		t.Fatalf("EvaluateVoid() error = %v", err)
	}

	if n := logs.FilterMessage(`{"a":[1,"x"],"b":2}`).Len(); n != 1 {
		t.Errorf("table entries = %d, want 1: %v", n, logs.All())
	}
	if n := logs.FilterMessage("Timer 't' already exists").Len(); n != 1 {
		t.Errorf("duplicate timer warnings = %d, want 1", n)
	}
	if n := logs.FilterMessageSnippet("t: ").Len(); n != 1 {
		t.Errorf("timeEnd entries = %d, want 1", n)
	}
}

func TestConsole_Lua(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	c := newTestContext(t, scripthost.NewLuaEngine(), NewConsole(zap.New(core)))

	if err := c.EvaluateVoid("console.log('hidden')\nconsole.info('shown', 2)", "console.lua"); err != nil {
		t.Fatalf("EvaluateVoid() error = %v", err)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Message != "shown 2" {
		t.Errorf("entries = %v, want one 'shown 2'", entries)
	}
}
