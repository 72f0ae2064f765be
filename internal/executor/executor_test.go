package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/codewiresh/cadwire/internal/canvas"
	"github.com/codewiresh/cadwire/internal/commands"
	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/protocol"
	"github.com/codewiresh/cadwire/internal/registry"
	"github.com/codewiresh/cadwire/internal/scene"
)

func cadHost() *host.Context {
	return host.NewCAD(scene.NewDocument(), host.NewConsole(nil, nil))
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

func probeRegistry(calls *int) *registry.Registry {
	count := func(res any, err error) registry.Handler {
		return func(context.Context, *host.Context, registry.Args) (any, error) {
			*calls++
			return res, err
		}
	}
	return registry.MustNew(
		registry.Descriptor{
			Name:    "echo",
			Host:    host.CAD,
			Params:  []registry.Param{{Name: "text", Kind: registry.KindString, Required: true}},
			Handler: func(_ context.Context, _ *host.Context, a registry.Args) (any, error) { *calls++; s, _ := a.String("text"); return s, nil },
		},
		registry.Descriptor{Name: "plain-error", Host: host.CAD, Handler: count(nil, errors.New("boom"))},
		registry.Descriptor{Name: "kinded-error", Host: host.CAD, Handler: count(nil, protocol.Errorf(protocol.KindValidation, "bad layer"))},
		registry.Descriptor{Name: "unserializable", Host: host.CAD, Handler: count(make(chan int), nil)},
		registry.Descriptor{Name: "canvas-only", Host: host.Canvas, Handler: count(nil, nil)},
		registry.Descriptor{
			Name: "panics",
			Host: host.CAD,
			Handler: func(context.Context, *host.Context, registry.Args) (any, error) {
				*calls++
				panic("kaboom")
			},
		},
	)
}

func TestExecuteRejectsBeforeInvoking(t *testing.T) {
	cases := []struct {
		name string
		req  protocol.CommandRequest
	}{
		{"unknown name", protocol.CommandRequest{ID: "1", Name: "nope"}},
		{"missing param", protocol.CommandRequest{ID: "2", Name: "echo"}},
		{"wrong kind", protocol.CommandRequest{ID: "3", Name: "echo", Params: protocol.NewMap().Set("text", protocol.Number(1))}},
		{"unknown param", protocol.CommandRequest{ID: "4", Name: "echo", Params: protocol.NewMap().Set("text", protocol.String("a")).Set("extra", protocol.Bool(true))}},
		{"wrong host", protocol.CommandRequest{ID: "5", Name: "canvas-only"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			e := New(probeRegistry(&calls))
			resp := e.Execute(context.Background(), cadHost(), tc.req)
			if resp.ID != tc.req.ID {
				t.Fatalf("id = %q, want %q", resp.ID, tc.req.ID)
			}
			if resp.Status != protocol.StatusError || resp.Err.Kind != protocol.KindValidation {
				t.Fatalf("got %+v, want ValidationError", resp)
			}
			if calls != 0 {
				t.Fatalf("handler invoked %d times", calls)
			}
		})
	}
}

func TestExecuteClassifiesFailures(t *testing.T) {
	cases := []struct {
		name string
		want protocol.ErrorKind
	}{
		{"plain-error", protocol.KindHandler},
		{"kinded-error", protocol.KindValidation},
		{"unserializable", protocol.KindInternal},
		{"panics", protocol.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			e := New(probeRegistry(&calls))
			resp := e.Execute(context.Background(), cadHost(), protocol.CommandRequest{ID: "x", Name: tc.name})
			if resp.Status != protocol.StatusError {
				t.Fatalf("status = %s", resp.Status)
			}
			if resp.Err.Kind != tc.want {
				t.Fatalf("kind = %s (%s), want %s", resp.Err.Kind, resp.Err.Message, tc.want)
			}
			if calls != 1 {
				t.Fatalf("handler invoked %d times", calls)
			}
		})
	}
}

func TestExecuteOK(t *testing.T) {
	calls := 0
	e := New(probeRegistry(&calls))
	resp := e.Execute(context.Background(), cadHost(), protocol.CommandRequest{
		ID:     "abc",
		Name:   "echo",
		Params: protocol.NewMap().Set("text", protocol.String("hi")),
	})
	if resp.Status != protocol.StatusOK || resp.ID != "abc" {
		t.Fatalf("got %+v", resp)
	}
	if !protocol.Equal(resp.Result, protocol.String("hi")) {
		t.Fatalf("result = %v", resp.Result)
	}
}

type recorded struct {
	req  protocol.CommandRequest
	resp protocol.CommandResponse
}

type memRecorder struct{ entries []recorded }

func (m *memRecorder) Record(req protocol.CommandRequest, resp protocol.CommandResponse, _ time.Duration) {
	m.entries = append(m.entries, recorded{req, resp})
}

func TestRecorderSeesEveryExecution(t *testing.T) {
	calls := 0
	rec := &memRecorder{}
	e := New(probeRegistry(&calls), WithRecorder(rec))
	e.Execute(context.Background(), cadHost(), protocol.CommandRequest{ID: "1", Name: "nope"})
	e.Execute(context.Background(), cadHost(), protocol.CommandRequest{ID: "2", Name: "plain-error"})
	if len(rec.entries) != 2 {
		t.Fatalf("recorded %d entries, want 2", len(rec.entries))
	}
	if rec.entries[1].resp.Err.Kind != protocol.KindHandler {
		t.Fatalf("second entry kind = %s", rec.entries[1].resp.Err.Kind)
	}
}

// ---------------------------------------------------------------------------
// End to end over the real catalogs
// ---------------------------------------------------------------------------

func TestLayerListEndToEnd(t *testing.T) {
	doc := scene.NewDocument()
	if _, err := doc.AddLayer("Walls", ""); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	e := New(registry.MustNew(commands.CAD()...))
	resp := e.Execute(context.Background(), host.NewCAD(doc, host.NewConsole(nil, nil)), protocol.CommandRequest{ID: "L1", Name: "layer-list"})
	if resp.Status != protocol.StatusOK {
		t.Fatalf("got %+v", resp.Err)
	}
	got, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[{"name":"Default","parent":null},{"name":"Walls","parent":null}]`
	if string(got) != want {
		t.Fatalf("result = %s, want %s", got, want)
	}
}

func TestExecuteCodeExceptionIsOK(t *testing.T) {
	e := New(registry.MustNew(commands.CAD()...))
	resp := e.Execute(context.Background(), cadHost(), protocol.CommandRequest{
		ID:     "c1",
		Name:   "execute-code",
		Params: protocol.NewMap().Set("code", protocol.String("print('before')\nx = 1/0\n")),
	})
	if resp.Status != protocol.StatusOK {
		t.Fatalf("status = %s: %+v", resp.Status, resp.Err)
	}
	m, ok := resp.Result.(*protocol.Map)
	if !ok {
		t.Fatalf("result = %T", resp.Result)
	}
	succeeded, _ := m.Get("succeeded")
	if !protocol.Equal(succeeded, protocol.Bool(false)) {
		t.Fatalf("succeeded = %v", succeeded)
	}
	exc, _ := m.Get("exception")
	em, ok := exc.(*protocol.Map)
	if !ok {
		t.Fatalf("exception = %v", exc)
	}
	if typ, _ := em.Get("type"); !protocol.Equal(typ, protocol.String("ZeroDivisionError")) {
		t.Fatalf("exception type = %v", typ)
	}
	stdout, _ := m.Get("stdout")
	if !protocol.Equal(stdout, protocol.List{protocol.String("before\n")}) {
		t.Fatalf("stdout = %v", stdout)
	}
}

func TestComponentCommandsEndToEnd(t *testing.T) {
	g := canvas.NewGraph()
	hc := host.NewCanvas(g, host.NewConsole(nil, nil))
	e := New(registry.MustNew(commands.Canvas()...))

	resp := e.Execute(context.Background(), hc, protocol.CommandRequest{
		ID:   "k1",
		Name: "component-create",
		Params: protocol.NewMap().
			Set("name", protocol.String("Doubler")).
			Set("inputs", protocol.List{protocol.String("x")}).
			Set("outputs", protocol.List{protocol.String("y")}).
			Set("code", protocol.String("set_output('y', inputs['x'] * 2)")),
	})
	if resp.Status != protocol.StatusOK {
		t.Fatalf("create: %+v", resp.Err)
	}
	id, _ := resp.Result.(*protocol.Map).Get("id")

	resp = e.Execute(context.Background(), hc, protocol.CommandRequest{
		ID:   "k2",
		Name: "component-modify",
		Params: protocol.NewMap().
			Set("id", id).
			Set("inputs", protocol.NewMap().Set("x", protocol.Number(21))),
	})
	if resp.Status != protocol.StatusOK {
		t.Fatalf("modify: %+v", resp.Err)
	}

	resp = e.Execute(context.Background(), hc, protocol.CommandRequest{
		ID:     "k3",
		Name:   "component-execute-code",
		Params: protocol.NewMap().Set("id", id),
	})
	if resp.Status != protocol.StatusOK {
		t.Fatalf("execute: %+v", resp.Err)
	}
	c, _ := g.Component(string(id.(protocol.String)))
	out, _ := c.Output("y")
	if !protocol.Equal(out.Value, protocol.Number(42)) {
		t.Fatalf("output y = %v", out.Value)
	}
	if c.State.Level != canvas.LevelOK {
		t.Fatalf("state = %+v", c.State)
	}
}
