// Package executor turns a decoded request into exactly one response:
// resolve, validate, invoke, wrap.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/protocol"
	"github.com/codewiresh/cadwire/internal/registry"
)

// Recorder observes every completed execution. It runs on the host
// goroutine after the response is built.
type Recorder interface {
	Record(req protocol.CommandRequest, resp protocol.CommandResponse, elapsed time.Duration)
}

// Executor runs requests against one host's registry.
type Executor struct {
	reg      *registry.Registry
	recorder Recorder
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithRecorder attaches a Recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// New returns an Executor for reg.
func New(reg *registry.Registry, opts ...Option) *Executor {
	e := &Executor{reg: reg, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Registry returns the registry the executor resolves against.
func (e *Executor) Registry() *registry.Registry { return e.reg }

// Execute runs req on hc and returns its response. It never returns more
// than one response and always echoes req.ID. An unknown name or invalid
// params yield a ValidationError without invoking any handler; a handler
// error is a HandlerError unless it already carries a kind; a panic or a
// result that cannot be serialized is an InternalError.
func (e *Executor) Execute(ctx context.Context, hc *host.Context, req protocol.CommandRequest) protocol.CommandResponse {
	start := e.now()
	resp := e.execute(ctx, hc, req)
	elapsed := e.now().Sub(start)

	if resp.Status == protocol.StatusError {
		slog.Debug("command failed", "id", req.ID, "name", req.Name, "kind", resp.Err.Kind, "err", resp.Err.Message, "elapsed", elapsed)
	} else {
		slog.Debug("command ok", "id", req.ID, "name", req.Name, "elapsed", elapsed)
	}
	if e.recorder != nil {
		e.recorder.Record(req, resp, elapsed)
	}
	return resp
}

func (e *Executor) execute(ctx context.Context, hc *host.Context, req protocol.CommandRequest) protocol.CommandResponse {
	desc, ok := e.reg.Lookup(req.Name)
	if !ok {
		return protocol.Fail(req.ID, protocol.Errorf(protocol.KindValidation, "unknown command %q", req.Name).
			WithDetail(protocol.NewMap().Set("name", protocol.String(req.Name))))
	}
	if desc.Host != "" && hc.Kind != "" && desc.Host != hc.Kind {
		return protocol.Fail(req.ID, protocol.Errorf(protocol.KindValidation, "command %q runs on the %s host, not the %s host", req.Name, desc.Host, hc.Kind))
	}
	args, err := desc.Validate(req.Params)
	if err != nil {
		return protocol.Fail(req.ID, protocol.AsError(err))
	}

	result, err := invoke(ctx, desc, hc, args)
	if err != nil {
		return protocol.Fail(req.ID, classify(err))
	}
	v, err := protocol.ValueOf(result)
	if err != nil {
		slog.Error("unserializable command result", "id", req.ID, "name", req.Name, "err", err)
		return protocol.Fail(req.ID, protocol.Errorf(protocol.KindInternal, "result of %s is not serializable: %v", req.Name, err))
	}
	return protocol.OK(req.ID, v)
}

// panicError marks a recovered handler panic.
type panicError struct {
	value any
}

func (p *panicError) Error() string { return fmt.Sprintf("handler panicked: %v", p.value) }

func invoke(ctx context.Context, desc *registry.Descriptor, hc *host.Context, args registry.Args) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic", "name", desc.Name, "panic", r, "stack", string(debug.Stack()))
			result, err = nil, &panicError{value: r}
		}
	}()
	return desc.Handler(ctx, hc, args)
}

func classify(err error) *protocol.Error {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return pe
	}
	var panicked *panicError
	if errors.As(err, &panicked) {
		return protocol.Errorf(protocol.KindInternal, "%v", panicked)
	}
	return &protocol.Error{Kind: protocol.KindHandler, Message: err.Error()}
}
