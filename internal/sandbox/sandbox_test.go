package sandbox

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/codewiresh/cadwire/internal/canvas"
	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/protocol"
	"github.com/codewiresh/cadwire/internal/scene"
)

func cadHost() (*host.Context, *bytes.Buffer) {
	var console bytes.Buffer
	return host.NewCAD(scene.NewDocument(), host.NewConsole(&console, &console)), &console
}

func runDoc(t *testing.T, hc *host.Context, code string) *Result {
	t.Helper()
	res, err := Run(context.Background(), hc, Request{Code: code, Context: Document})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

// ---------------------------------------------------------------------------
// Output capture
// ---------------------------------------------------------------------------

func TestStdoutVerbatimAndOrdered(t *testing.T) {
	hc, console := cadHost()
	res := runDoc(t, hc, `
print("first")
sys.stdout.write("no newline")
sys.stderr.write("warn\n")
print("a", "b")
`)
	if !res.Succeeded {
		t.Fatalf("unexpected exception: %+v", res.Exception)
	}
	want := []string{"first\n", "no newline", "a b\n"}
	if strings.Join(res.Stdout, "|") != strings.Join(want, "|") {
		t.Fatalf("stdout = %q, want %q", res.Stdout, want)
	}
	if len(res.Stderr) != 1 || res.Stderr[0] != "warn\n" {
		t.Fatalf("stderr = %q", res.Stderr)
	}
	if console.Len() != 0 {
		t.Fatalf("output leaked to the host console: %q", console.String())
	}

	hc.Console.Stdout().Write([]byte("after"))
	if console.String() != "after" {
		t.Fatal("console not restored after the call")
	}
}

func TestEmptyOutputIsEmptyList(t *testing.T) {
	hc, _ := cadHost()
	res := runDoc(t, hc, "x = 1")
	if res.Stdout == nil || res.Stderr == nil || len(res.Stdout) != 0 {
		t.Fatalf("expected empty lists, got %#v %#v", res.Stdout, res.Stderr)
	}
}

// ---------------------------------------------------------------------------
// Exceptions are data
// ---------------------------------------------------------------------------

func TestDivisionByZero(t *testing.T) {
	hc, console := cadHost()
	res := runDoc(t, hc, "print('before')\n1/0\nprint('after')")
	if res.Succeeded {
		t.Fatal("expected failure")
	}
	exc := res.Exception
	if exc == nil || exc.Type != ZeroDivisionError || exc.Message != "division by zero" {
		t.Fatalf("exception = %+v", exc)
	}
	if exc.Traceback == "" {
		t.Fatal("expected a traceback")
	}
	if len(res.Stdout) != 1 || res.Stdout[0] != "before\n" {
		t.Fatalf("output before the failure must be kept: %q", res.Stdout)
	}
	if console.Len() != 0 {
		t.Fatal("console not restored cleanly")
	}
}

func TestExceptionClassification(t *testing.T) {
	tests := []struct {
		code string
		typ  string
	}{
		{"10 // 0", ZeroDivisionError},
		{"10 % 0", ZeroDivisionError},
		{"undefined_name + 1", NameError},
		{"1 + 'a'", TypeError},
		{"{'a': 1}['b']", KeyError},
		{"[1, 2][5]", IndexError},
		{"def f(:\n  pass", SyntaxError},
		{"fail('custom')", RuntimeError},
		{"scene.get('nope')", KeyError},
		{"scene.add_box((0, 0, 0), (1, 1, 0))", ValueError},
		{"scene.add_point('xyz')", TypeError},
		{"'abc'.nope()", AttributeError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			hc, _ := cadHost()
			res := runDoc(t, hc, tt.code)
			if res.Succeeded || res.Exception == nil {
				t.Fatal("expected an exception")
			}
			if res.Exception.Type != tt.typ {
				t.Fatalf("type = %s (%s), want %s", res.Exception.Type, res.Exception.Message, tt.typ)
			}
			if res.Exception.Message == "" || res.Exception.Traceback == "" {
				t.Fatalf("empty exception fields: %+v", res.Exception)
			}
		})
	}
}

func TestNameErrorMessage(t *testing.T) {
	hc, _ := cadHost()
	res := runDoc(t, hc, "x = y")
	if res.Exception == nil || res.Exception.Message != "name 'y' is not defined" {
		t.Fatalf("exception = %+v", res.Exception)
	}
}

func TestCancelledByContext(t *testing.T) {
	hc, _ := cadHost()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := Run(ctx, hc, Request{Code: "while True:\n  pass", Context: Document})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Succeeded || res.Exception == nil {
		t.Fatal("expected the loop to be cancelled")
	}
}

// ---------------------------------------------------------------------------
// Document context
// ---------------------------------------------------------------------------

func TestDocumentContextMutatesScene(t *testing.T) {
	hc, _ := cadHost()
	res := runDoc(t, hc, `
scene.add_layer("Walls")
oid = scene.add_box((0, 0, 0), (4, 2, 3), layer="Walls", name="wall")
meta = add_object_metadata(oid, name="north wall", description="load bearing")
result = {"id": oid, "short_id": meta["short_id"], "count": len(scene.objects("Walls"))}
`)
	if !res.Succeeded {
		t.Fatalf("exception: %+v", res.Exception)
	}
	m, ok := res.Result.(*protocol.Map)
	if !ok {
		t.Fatalf("result = %#v", res.Result)
	}
	idv, _ := m.Get("id")
	obj, found := hc.Scene.Object(string(idv.(protocol.String)))
	if !found {
		t.Fatal("object not in scene")
	}
	if obj.Name != "north wall" || obj.UserText["description"] != "load bearing" || obj.UserText["type"] != "box" {
		t.Fatalf("metadata not applied: %+v", obj)
	}
	if obj.UserText["bbox"] != "[[0,0,0],[4,2,3]]" {
		t.Fatalf("bbox = %q", obj.UserText["bbox"])
	}
	count, _ := m.Get("count")
	if !protocol.Equal(count, protocol.Number(1)) {
		t.Fatalf("count = %v", count)
	}
}

func TestDocumentContextNeedsScene(t *testing.T) {
	hc := host.NewCanvas(canvas.NewGraph(), host.NewConsole(nil, nil))
	if _, err := Run(context.Background(), hc, Request{Code: "1", Context: Document}); err == nil {
		t.Fatal("expected an error without a scene")
	}
}

// ---------------------------------------------------------------------------
// Component context
// ---------------------------------------------------------------------------

func TestComponentContext(t *testing.T) {
	g := canvas.NewGraph()
	src, _ := g.AddComponent(canvas.NewComponent{Name: "Slider", Outputs: []string{"N"}})
	c, _ := g.AddComponent(canvas.NewComponent{Name: "Double", Inputs: []string{"x"}, Outputs: []string{"y"}})
	g.Connect(src.ID, "N", c.ID, "x")
	src.Outputs[0].Value = protocol.Number(21)

	hc := host.NewCanvas(g, host.NewConsole(nil, nil))
	res, err := Run(context.Background(), hc, Request{
		Context:   Component,
		Component: c,
		Code:      "print(component.name)\nset_output('y', inputs['x'] * 2)",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Succeeded {
		t.Fatalf("exception: %+v", res.Exception)
	}
	y, ok := res.Outputs.Get("y")
	if !ok || !protocol.Equal(y, protocol.Number(42)) {
		t.Fatalf("outputs = %v", y)
	}
	if len(res.Stdout) != 1 || res.Stdout[0] != "Double\n" {
		t.Fatalf("stdout = %q", res.Stdout)
	}

	res, _ = Run(context.Background(), hc, Request{Context: Component, Component: c, Code: "set_output('nope', 1)"})
	if res.Succeeded || res.Exception.Type != KeyError {
		t.Fatalf("unknown output should raise KeyError: %+v", res.Exception)
	}
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

func TestConversionRoundTrip(t *testing.T) {
	in := protocol.NewMap().
		Set("n", protocol.Number(3)).
		Set("f", protocol.Number(1.5)).
		Set("list", protocol.List{protocol.Bool(true), protocol.Null{}, protocol.String("s")})
	out, err := FromStarlark(ToStarlark(in))
	if err != nil {
		t.Fatalf("FromStarlark: %v", err)
	}
	if !protocol.Equal(in, out) {
		t.Fatal("round trip changed the value")
	}
}

func TestUnconvertibleResultFallsBackToString(t *testing.T) {
	hc, _ := cadHost()
	res := runDoc(t, hc, "def f():\n  pass\nresult = f")
	if !res.Succeeded {
		t.Fatalf("exception: %+v", res.Exception)
	}
	if res.Result.Kind() != protocol.KindString {
		t.Fatalf("result kind = %s", res.Result.Kind())
	}
}
