// Package sandbox runs caller-supplied code inside a host. Code is written
// in Starlark, a Python dialect, and runs in-process on the host goroutine.
// A failure inside the code is reported as data in the Result, never as a
// Go error.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/codewiresh/cadwire/internal/canvas"
	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/protocol"
)

// Context tags the environment the code runs in.
type Context string

const (
	// Document code sees the CAD scene.
	Document Context = "document"
	// Component code sees one canvas component's inputs and outputs.
	Component Context = "component"
)

// ResultGlobal is the global whose value becomes Result.Result.
const ResultGlobal = "result"

// Exception describes the error that stopped the code.
type Exception struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback"`
}

// Result is the outcome of one execution. Stdout and Stderr hold every
// write in order, one chunk per write.
type Result struct {
	Stdout    []string       `json:"stdout"`
	Stderr    []string       `json:"stderr"`
	Succeeded bool           `json:"succeeded"`
	Exception *Exception     `json:"exception,omitempty"`
	Result    protocol.Value `json:"result,omitempty"`
	// Outputs holds set_output values in component context.
	Outputs *protocol.Map `json:"outputs,omitempty"`
}

// Request is one execution.
type Request struct {
	Code    string
	Context Context
	// Component is the component whose code runs; required in component
	// context.
	Component *canvas.Component
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Run executes req on the host. The console is redirected into the Result
// for the duration of the call and restored on every exit path. When ctx is
// done the interpreter is cancelled at its next step. The error return is
// reserved for requests that cannot run at all, such as a document context
// on a host without a scene.
func Run(ctx context.Context, hc *host.Context, req Request) (*Result, error) {
	var stdout, stderr chunks
	restore := hc.Console.Redirect(&stdout, &stderr)
	defer restore()

	thread := &starlark.Thread{
		Name: "exec",
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprint(hc.Console.Stdout(), msg+"\n")
		},
	}

	env := &environment{hc: hc}
	predeclared, err := env.predeclared(req)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(context.Cause(ctx).Error())
		case <-done:
		}
	}()

	globals, execErr := starlark.ExecFileOptions(fileOptions, thread, "<code>", req.Code, predeclared)

	res := &Result{
		Stdout: stdout.list(),
		Stderr: stderr.list(),
	}
	if req.Context == Component {
		res.Outputs = env.outputs
	}
	if execErr != nil {
		res.Exception = classify(execErr)
		slog.Debug("code raised", "context", req.Context, "type", res.Exception.Type, "message", res.Exception.Message)
		return res, nil
	}
	res.Succeeded = true
	if rv, ok := globals[ResultGlobal]; ok {
		v, err := FromStarlark(rv)
		if err != nil {
			v = protocol.String(rv.String())
		}
		res.Result = v
	}
	return res, nil
}

// chunks is an io.Writer keeping each write as its own chunk.
type chunks []string

func (c *chunks) Write(p []byte) (int, error) {
	if len(p) > 0 {
		*c = append(*c, string(p))
	}
	return len(p), nil
}

func (c chunks) list() []string {
	if c == nil {
		return []string{}
	}
	return append([]string(nil), c...)
}

func (e *environment) predeclared(req Request) (starlark.StringDict, error) {
	base := starlark.StringDict{
		"sys":  e.sysModule(),
		"math": math.Module,
		"json": json.Module,
	}
	switch req.Context {
	case Document:
		if e.hc.Scene == nil {
			return nil, fmt.Errorf("document context needs a scene; this is the %s host", e.hc.Kind)
		}
		base["scene"] = e.sceneModule()
		base["add_object_metadata"] = starlark.NewBuiltin("add_object_metadata", e.addObjectMetadata)
	case Component:
		if e.hc.Canvas == nil {
			return nil, fmt.Errorf("component context needs a canvas; this is the %s host", e.hc.Kind)
		}
		if req.Component == nil {
			return nil, fmt.Errorf("component context needs a component")
		}
		e.componentBindings(base, req.Component)
	default:
		return nil, fmt.Errorf("unknown execution context %q", req.Context)
	}
	return base, nil
}

// Exception types, named the way Python names them so agent-written code
// reads naturally.
const (
	ZeroDivisionError = "ZeroDivisionError"
	NameError         = "NameError"
	TypeError         = "TypeError"
	AttributeError    = "AttributeError"
	KeyError          = "KeyError"
	IndexError        = "IndexError"
	ValueError        = "ValueError"
	SyntaxError       = "SyntaxError"
	RuntimeError      = "RuntimeError"
)

// hostError is returned by builtins to choose the exception type.
type hostError struct {
	typ string
	msg string
}

func (e *hostError) Error() string { return e.msg }

func valueError(format string, args ...any) error {
	return &hostError{typ: ValueError, msg: fmt.Sprintf(format, args...)}
}

func keyError(format string, args ...any) error {
	return &hostError{typ: KeyError, msg: fmt.Sprintf(format, args...)}
}

func typeError(format string, args ...any) error {
	return &hostError{typ: TypeError, msg: fmt.Sprintf(format, args...)}
}

func classify(err error) *Exception {
	var he *hostError
	var ee *starlark.EvalError
	var se syntax.Error
	var rl resolve.ErrorList

	switch {
	case errors.As(err, &he):
		exc := &Exception{Type: he.typ, Message: he.msg, Traceback: err.Error()}
		if errors.As(err, &ee) {
			exc.Traceback = ee.Backtrace()
		}
		return exc
	case errors.As(err, &ee):
		typ, msg := classifyMessage(ee.Msg)
		return &Exception{Type: typ, Message: msg, Traceback: ee.Backtrace()}
	case errors.As(err, &se):
		return &Exception{Type: SyntaxError, Message: se.Msg, Traceback: fmt.Sprintf("%s: %s", se.Pos, se.Msg)}
	case errors.As(err, &rl) && len(rl) > 0:
		first := rl[0]
		var tb strings.Builder
		for _, e := range rl {
			fmt.Fprintf(&tb, "%s: %s\n", e.Pos, e.Msg)
		}
		if name, ok := strings.CutPrefix(first.Msg, "undefined: "); ok {
			return &Exception{Type: NameError, Message: fmt.Sprintf("name '%s' is not defined", name), Traceback: tb.String()}
		}
		return &Exception{Type: SyntaxError, Message: first.Msg, Traceback: tb.String()}
	}
	typ, msg := classifyMessage(err.Error())
	return &Exception{Type: typ, Message: msg, Traceback: err.Error()}
}

// classifyMessage maps an interpreter error message onto a Python exception
// type and message.
func classifyMessage(msg string) (string, string) {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "division by zero"):
		return ZeroDivisionError, "division by zero"
	case strings.Contains(lower, "modulo by zero"):
		return ZeroDivisionError, "modulo by zero"
	case strings.HasPrefix(msg, "fail: "):
		return RuntimeError, strings.TrimPrefix(msg, "fail: ")
	case strings.Contains(lower, "has no .") && strings.Contains(lower, "field or method"):
		return AttributeError, msg
	case strings.Contains(lower, "not in dict"), strings.Contains(lower, "key not found"):
		return KeyError, msg
	case strings.Contains(lower, "out of range"):
		return IndexError, msg
	case strings.Contains(lower, "undefined"), strings.Contains(lower, "not defined"):
		return NameError, msg
	case strings.Contains(lower, "unknown binary op"),
		strings.Contains(lower, "unsupported"),
		strings.Contains(lower, "not callable"),
		strings.Contains(lower, "not iterable"),
		strings.Contains(lower, "missing argument"),
		strings.Contains(lower, "unexpected keyword"),
		strings.Contains(lower, "got "),
		strings.Contains(lower, "want "):
		return TypeError, msg
	case strings.Contains(lower, "invalid"):
		return ValueError, msg
	}
	return RuntimeError, msg
}
