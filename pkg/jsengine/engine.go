// Package jsengine runs user-written rule scripts. A script sees the
// screenshot analysis as a global and calls report() for every problem it
// finds.
package jsengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
)

// Finding is one report() call from a script.
type Finding struct {
	Type        string
	Severity    string
	Description string
	Suggestion  string
	Region      *core.Bounds
	Evidence    map[string]float64
}

// Engine wraps a goja runtime with the simlens script globals.
type Engine struct {
	runtime  *goja.Runtime
	findings []Finding
	name     string // script currently running, for log lines
	platform string
	mu       sync.Mutex
}

// New creates a new JS engine instance. Go structs handed to SetVariable are
// visible to scripts under their JSON field names.
func New() *Engine {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	e := &Engine{runtime: rt}
	e.setupBuiltins()
	return e
}

// setupBuiltins registers all built-in functions and objects
func (e *Engine) setupBuiltins() {
	e.setupConsole()
	e.runtime.Set("json", e.jsonFunc())
	e.runtime.Set("report", e.reportFunc())
	e.runtime.Set("simlens", e.simlensObject())
}

// setupConsole routes console.log, console.warn and console.error to the
// log file.
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(log func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = fmt.Sprint(arg.Export())
			}
			log("[%s] %s", e.name, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	console.Set("log", makeConsoleFunc(logger.Info))
	console.Set("warn", makeConsoleFunc(logger.Warn))
	console.Set("error", makeConsoleFunc(logger.Error))
	e.runtime.Set("console", console)
}

// jsonFunc returns the json() helper function
func (e *Engine) jsonFunc() func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(e.runtime.NewTypeError("json requires 1 argument"))
		}

		parse, _ := goja.AssertFunction(e.runtime.Get("JSON").ToObject(e.runtime).Get("parse"))
		result, err := parse(goja.Undefined(), call.Arguments[0])
		if err != nil {
			panic(e.runtime.NewTypeError(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return result
	}
}

// reportFunc returns report({type, severity, description, suggestion,
// region: {x, y, width, height}, evidence: {...}}).
func (e *Engine) reportFunc() func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 || goja.IsUndefined(call.Arguments[0]) || goja.IsNull(call.Arguments[0]) {
			panic(e.runtime.NewTypeError("report requires an object"))
		}
		raw, ok := call.Arguments[0].Export().(map[string]interface{})
		if !ok {
			panic(e.runtime.NewTypeError("report requires an object"))
		}

		f := Finding{
			Type:        stringField(raw, "type"),
			Severity:    stringField(raw, "severity"),
			Description: stringField(raw, "description"),
			Suggestion:  stringField(raw, "suggestion"),
		}
		if f.Type == "" {
			panic(e.runtime.NewTypeError("report: type is required"))
		}
		if region, ok := raw["region"].(map[string]interface{}); ok {
			f.Region = &core.Bounds{
				X:      int(numberField(region, "x")),
				Y:      int(numberField(region, "y")),
				Width:  int(numberField(region, "width")),
				Height: int(numberField(region, "height")),
			}
		}
		if ev, ok := raw["evidence"].(map[string]interface{}); ok {
			f.Evidence = make(map[string]float64, len(ev))
			for k := range ev {
				f.Evidence[k] = numberField(ev, k)
			}
		}

		e.findings = append(e.findings, f)
		return goja.Undefined()
	}
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func numberField(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// simlensObject returns the simlens global object
func (e *Engine) simlensObject() *goja.Object {
	obj := e.runtime.NewObject()

	// simlens.platform - platform of the device being analyzed
	obj.DefineAccessorProperty("platform", e.runtime.ToValue(func() string {
		return e.platform
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)

	return obj
}

// SetVariable sets a variable accessible in JS as a global
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runtime.Set(name, value)
}

// SetVariables sets multiple variables
func (e *Engine) SetVariables(vars map[string]interface{}) {
	for k, v := range vars {
		e.SetVariable(k, v)
	}
}

// SetPlatform sets the current platform
func (e *Engine) SetPlatform(platform string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.platform = platform
}

// Findings returns the findings reported so far and clears them.
func (e *Engine) Findings() []Finding {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.findings
	e.findings = nil
	return out
}

// Eval evaluates a JavaScript expression and returns the result
func (e *Engine) Eval(script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.runtime.RunString(script)
	if err != nil {
		return nil, core.ErrRuleScript.WithMessage("JS eval error").WithCause(err)
	}
	return result.Export(), nil
}

// EvalString evaluates a JavaScript expression and returns string result
func (e *Engine) EvalString(script string) (string, error) {
	result, err := e.Eval(script)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprintf("%v", result), nil
}

// RunScript runs a named script. The script is interrupted when ctx is
// done, so a runaway loop cannot stall a capture.
func (e *Engine) RunScript(ctx context.Context, name, script string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.name = name
	stop := context.AfterFunc(ctx, func() {
		e.runtime.Interrupt(ctx.Err())
	})
	defer func() {
		stop()
		e.runtime.ClearInterrupt()
	}()

	if _, err := e.runtime.RunScript(name, script); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return core.ErrRuleScript.WithMessage(name + " interrupted").WithCause(cause)
			}
		}
		return core.ErrRuleScript.WithMessage(name + " failed").WithCause(err)
	}
	return nil
}

// Close interrupts any running script. Safe to call multiple times.
func (e *Engine) Close() {
	e.runtime.Interrupt("engine closed")
}
