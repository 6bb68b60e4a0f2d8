// Package rules evaluates Lua rule scripts against events.
//
// A rule script defines a global function condition(event) that
// receives the event as a table:
//
//	name = "high-cpu"
//
//	function condition(event)
//	  return type(event.cmd) == "table" and event.cmd.cpu > 90
//	end
//
// A truthy return value means the rule matched. Scripts run in a
// sandbox with only the base, table, string and math libraries; they
// cannot read files, load code, or start processes.
package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/cmdsource/internal/event"
)

// DefaultTimeout bounds a single condition call.
const DefaultTimeout = time.Second

// Engine holds one compiled rule script.
//
// gopher-lua states are not goroutine-safe; Engine serializes calls.
type Engine struct {
	L *lua.LState

	mu      sync.Mutex
	name    string
	timeout time.Duration
	closed  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds each condition call.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New compiles script and runs its top level once. name identifies
// the rule unless the script sets a global "name".
func New(name, script string, opts ...Option) (*Engine, error) {
	e := &Engine{
		L:       newSandboxedState(),
		name:    name,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}

	// Top-level statements run under the same bound as condition calls.
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	e.L.SetContext(ctx)
	err := e.doWithRecovery(func() error { return e.L.DoString(script) })
	e.L.RemoveContext()
	cancel()
	if err != nil {
		e.L.Close()
		return nil, fmt.Errorf("load rule %s: %w", name, err)
	}

	if fn := e.L.GetGlobal("condition"); fn.Type() != lua.LTFunction {
		e.L.Close()
		return nil, fmt.Errorf("load rule %s: %w", name, ErrNoCondition)
	}

	if s, ok := e.L.GetGlobal("name").(lua.LString); ok && s != "" {
		e.name = string(s)
	}

	return e, nil
}

// LoadFile reads and compiles a rule script. The rule is named after
// the file unless the script sets a global "name".
func LoadFile(path string, opts ...Option) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule %s: %w", path, err)
	}

	base := filepath.Base(path)
	return New(strings.TrimSuffix(base, filepath.Ext(base)), string(data), opts...)
}

// Name returns the rule name.
func (e *Engine) Name() string {
	return e.name
}

// Evaluate calls condition(event) and reports whether it returned a
// truthy value. The call is abandoned when ctx is done or the engine
// timeout expires.
func (e *Engine) Evaluate(ctx context.Context, env event.Envelope) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false, ErrEngineClosed
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.L.SetContext(callCtx)
	defer e.L.RemoveContext()

	var matched bool
	err := e.doWithRecovery(func() error {
		err := e.L.CallByParam(lua.P{
			Fn:      e.L.GetGlobal("condition"),
			NRet:    1,
			Protect: true,
		}, toLua(e.L, env.Map()))
		if err != nil {
			return err
		}

		ret := e.L.Get(-1)
		e.L.Pop(1)
		matched = lua.LVAsBool(ret)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rule %s: %w", e.name, err)
	}

	return matched, nil
}

// Close releases the Lua state. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	e.L.Close()
	e.closed = true
	return nil
}

// doWithRecovery executes a function with panic recovery.
func (e *Engine) doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}
