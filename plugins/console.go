package plugins

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/icyseptember2237/scripthost"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Console installs a console object that writes through zap.
type Console struct {
	log *zap.Logger

	mu     sync.Mutex
	count  int
	timers map[string]time.Time
}

// NewConsole returns a console writing to log, or to the package logger
// when log is nil.
func NewConsole(log *zap.Logger) *Console {
	if log == nil {
		log = scripthost.Logger()
	}
	return &Console{
		log:    log.Named("console"),
		timers: make(map[string]time.Time),
	}
}

func (p *Console) Setup(c *scripthost.Context) error {
	level := func(l zapcore.Level) scripthost.HostFunc {
		return func(_ *scripthost.Value, args []any) (any, error) {
			p.print(l, display(args))
			return nil, nil
		}
	}
	unsupported := func(name string) scripthost.HostFunc {
		return func(_ *scripthost.Value, _ []any) (any, error) {
			p.log.Debug("console." + name + " is not supported")
			return nil, nil
		}
	}

	return namespace(c, "console", map[string]scripthost.HostFunc{
		"log":            level(zapcore.DebugLevel),
		"debug":          level(zapcore.DebugLevel),
		"info":           level(zapcore.InfoLevel),
		"dir":            level(zapcore.InfoLevel),
		"warn":           level(zapcore.WarnLevel),
		"error":          level(zapcore.ErrorLevel),
		"assert":         p.assert,
		"count":          p.counter,
		"table":          p.table,
		"time":           p.time,
		"timeEnd":        p.timeEnd,
		"trace":          unsupported("trace"),
		"clear":          unsupported("clear"),
		"group":          unsupported("group"),
		"groupCollapsed": unsupported("groupCollapsed"),
		"groupEnd":       unsupported("groupEnd"),
	}, nil)
}

func (p *Console) Close(*scripthost.Context) {
	p.mu.Lock()
	p.timers = make(map[string]time.Time)
	p.mu.Unlock()
}

// Count returns the number of lines written so far.
func (p *Console) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *Console) print(l zapcore.Level, msg string) {
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
	if ce := p.log.Check(l, msg); ce != nil {
		ce.Write()
	}
}

func (p *Console) assert(_ *scripthost.Value, args []any) (any, error) {
	if truthy(arg(args, 0)) {
		return nil, nil
	}
	msg := "Assertion failed"
	if len(args) > 1 {
		msg += ": " + display(args[1:])
	}
	p.print(zapcore.ErrorLevel, msg)
	return nil, nil
}

func (p *Console) counter(*scripthost.Value, []any) (any, error) {
	return p.Count(), nil
}

func (p *Console) table(_ *scripthost.Value, args []any) (any, error) {
	v, ok := valueArg(args, 0)
	if !ok {
		return nil, nil
	}
	x, err := v.Export()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(x)
	if err != nil {
		return nil, argError("console.table", err.Error())
	}
	p.print(zapcore.DebugLevel, string(data))
	return nil, nil
}

func (p *Console) time(_ *scripthost.Value, args []any) (any, error) {
	name, _ := stringArg(args, 0)
	p.mu.Lock()
	_, exists := p.timers[name]
	if !exists {
		p.timers[name] = time.Now()
	}
	p.mu.Unlock()
	if exists {
		p.print(zapcore.WarnLevel, fmt.Sprintf("Timer '%s' already exists", name))
	}
	return nil, nil
}

func (p *Console) timeEnd(_ *scripthost.Value, args []any) (any, error) {
	name, _ := stringArg(args, 0)
	p.mu.Lock()
	start, ok := p.timers[name]
	delete(p.timers, name)
	p.mu.Unlock()
	if ok {
		p.print(zapcore.DebugLevel, fmt.Sprintf("%s: %d ms", name, time.Since(start).Milliseconds()))
	}
	return nil, nil
}
