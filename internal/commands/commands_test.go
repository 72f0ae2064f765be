package commands

import (
	"context"
	"testing"

	"github.com/codewiresh/cadwire/internal/canvas"
	"github.com/codewiresh/cadwire/internal/executor"
	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/protocol"
	"github.com/codewiresh/cadwire/internal/registry"
	"github.com/codewiresh/cadwire/internal/scene"
)

type harness struct {
	t    *testing.T
	exec *executor.Executor
	hc   *host.Context
	seq  int
}

func newCAD(t *testing.T) *harness {
	return &harness{
		t:    t,
		exec: executor.New(registry.MustNew(CAD()...)),
		hc:   host.NewCAD(scene.NewDocument(), host.NewConsole(nil, nil)),
	}
}

func newCanvas(t *testing.T) *harness {
	return &harness{
		t:    t,
		exec: executor.New(registry.MustNew(Canvas()...)),
		hc:   host.NewCanvas(canvas.NewGraph(), host.NewConsole(nil, nil)),
	}
}

// call runs name with params given as JSON.
func (h *harness) call(name, params string) protocol.CommandResponse {
	h.t.Helper()
	h.seq++
	var m *protocol.Map
	if params != "" {
		v, err := protocol.ParseValue([]byte(params))
		if err != nil {
			h.t.Fatalf("bad test params %s: %v", params, err)
		}
		m = v.(*protocol.Map)
	}
	return h.exec.Execute(context.Background(), h.hc, protocol.CommandRequest{
		ID:     string(rune('a' + h.seq)),
		Name:   name,
		Params: m,
	})
}

// ok runs name and fails the test unless it succeeds.
func (h *harness) ok(name, params string) protocol.Value {
	h.t.Helper()
	resp := h.call(name, params)
	if resp.Status != protocol.StatusOK {
		h.t.Fatalf("%s %s: %v", name, params, resp.Err)
	}
	return resp.Result
}

func (h *harness) fails(name, params string, kind protocol.ErrorKind) {
	h.t.Helper()
	resp := h.call(name, params)
	if resp.Err == nil || resp.Err.Kind != kind {
		h.t.Fatalf("%s %s: got %+v, want %s", name, params, resp.Err, kind)
	}
}

func get(t *testing.T, v protocol.Value, keys ...string) protocol.Value {
	t.Helper()
	for _, k := range keys {
		m, ok := v.(*protocol.Map)
		if !ok {
			t.Fatalf("%v is not a map (looking for %q)", v, k)
		}
		if v, ok = m.Get(k); !ok {
			t.Fatalf("key %q missing from %v", k, m.Keys())
		}
	}
	return v
}

func str(t *testing.T, v protocol.Value, keys ...string) string {
	t.Helper()
	s, ok := get(t, v, keys...).(protocol.String)
	if !ok {
		t.Fatalf("%v is not a string", keys)
	}
	return string(s)
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

func TestCatalogs(t *testing.T) {
	if _, err := registry.New(All()...); err != nil {
		t.Fatalf("combined catalog: %v", err)
	}
	for _, d := range CAD() {
		if d.Host != host.CAD {
			t.Errorf("%s in CAD catalog has host %s", d.Name, d.Host)
		}
	}
	for _, d := range Canvas() {
		if d.Host != host.Canvas {
			t.Errorf("%s in canvas catalog has host %s", d.Name, d.Host)
		}
	}
}

// ---------------------------------------------------------------------------
// CAD
// ---------------------------------------------------------------------------

func TestObjectLifecycle(t *testing.T) {
	h := newCAD(t)

	obj := h.ok("object-create", `{"type":"box","points":[[0,0,0],[2,3,4]],"name":"crate","user_text":{"part":"A1"}}`)
	id := str(t, obj, "id")
	if str(t, obj, "layer") != "Default" || str(t, obj, "metadata", "part") != "A1" {
		t.Fatalf("created %v", obj)
	}

	moved := h.ok("object-modify", `{"id":"`+id+`","translate":[1,0,0],"name":"moved"}`)
	if str(t, moved, "name") != "moved" {
		t.Fatalf("modify returned %v", moved)
	}
	first := get(t, moved, "geometry", "points").(protocol.List)[0]
	if !protocol.Equal(first, protocol.List{protocol.Number(1), protocol.Number(0), protocol.Number(0)}) {
		t.Fatalf("translated point = %v", first)
	}

	page := h.ok("object-query", `{"name":"mov*"}`)
	if get(t, page, "total") != protocol.Number(1) {
		t.Fatalf("query page = %v", page)
	}

	h.ok("object-delete", `{"id":"`+id+`"}`)
	h.fails("object-delete", `{"id":"`+id+`"}`, protocol.KindHandler)
}

func TestObjectCreateRejects(t *testing.T) {
	h := newCAD(t)
	h.fails("object-create", `{"type":"teapot","points":[[0,0,0]]}`, protocol.KindValidation)
	h.fails("object-create", `{"type":"point","points":[[0,0]]}`, protocol.KindValidation)
	h.fails("object-create", `{"type":"sphere","points":[[0,0,0]]}`, protocol.KindHandler)
	h.fails("object-create", `{"type":"point","points":[[0,0,0]],"layer":"Nope"}`, protocol.KindHandler)
}

func TestLayerModify(t *testing.T) {
	h := newCAD(t)
	h.fails("layer-modify", `{"name":"Walls","color":"#ff0000"}`, protocol.KindHandler)

	d := h.ok("layer-modify", `{"name":"Walls::Interior","create":true,"color":"#ff0000","current":true}`)
	if str(t, d, "color") != "#ff0000" || get(t, d, "current") != protocol.Bool(true) || str(t, d, "parent") != "Walls" {
		t.Fatalf("layer = %v", d)
	}

	layers := h.ok("layer-list", "").(protocol.List)
	if len(layers) != 3 {
		t.Fatalf("layers = %v", layers)
	}

	obj := h.ok("object-create", `{"type":"point","points":[[1,1,1]]}`)
	if str(t, obj, "layer") != "Walls::Interior" {
		t.Fatalf("object went to %s", str(t, obj, "layer"))
	}
}

func TestSceneInfo(t *testing.T) {
	h := newCAD(t)
	for i := 0; i < 7; i++ {
		h.ok("object-create", `{"type":"point","points":[[0,0,0]]}`)
	}
	info := h.ok("scene-info", `{"samples":2}`)
	if get(t, info, "object_count") != protocol.Number(7) {
		t.Fatalf("info = %v", info)
	}
	layers := get(t, info, "layers").(protocol.List)
	if n := len(get(t, layers[0], "sample_objects").(protocol.List)); n != 2 {
		t.Fatalf("got %d samples", n)
	}
	h.fails("scene-info", `{"samples":-1}`, protocol.KindValidation)
}

func TestSceneSnapshotImageSize(t *testing.T) {
	h := newCAD(t)
	h.ok("object-create", `{"type":"box","points":[[0,0,0],[2,1,1]]}`)
	snap := h.ok("scene-snapshot", `{"capture_image":true,"max_size":200}`)
	if get(t, snap, "image", "width") != protocol.Number(200) {
		t.Fatalf("image = %v", get(t, snap, "image", "width"))
	}
	h.fails("scene-snapshot", `{"capture_image":true,"max_size":2097152}`, protocol.KindValidation)
}

func TestExecuteCodeBuildsScene(t *testing.T) {
	h := newCAD(t)
	res := h.ok("execute-code", `{"code":"o = scene.add_point([1, 2, 3])\nprint('made', o)\nresult = len(scene.objects())"}`)
	if get(t, res, "succeeded") != protocol.Bool(true) || get(t, res, "result") != protocol.Number(1) {
		t.Fatalf("result = %v", res)
	}
}

func TestDesignBrief(t *testing.T) {
	h := newCAD(t)

	plan := h.ok("design-brief", `{"brief":"A static low-rise in wood"}`)
	if str(t, plan, "parameters", "material") != "wood" || get(t, plan, "parameters", "responsive_panels") != protocol.Bool(false) {
		t.Fatalf("parameters = %v", get(t, plan, "parameters"))
	}
	if _, ok := plan.(*protocol.Map).Get("execution"); ok {
		t.Fatal("execution present without execute")
	}
	if n := h.ok("scene-info", "").(*protocol.Map); get(t, n, "object_count") != protocol.Number(0) {
		t.Fatalf("plan-only brief changed the scene: %v", n)
	}

	built := h.ok("design-brief", `{"brief":"A dynamic low-rise facade that frames views","execute":true}`)
	if get(t, built, "execution", "succeeded") != protocol.Bool(true) {
		t.Fatalf("execution = %v", get(t, built, "execution"))
	}
	panels, ok := get(t, built, "execution", "result", "panels").(protocol.Number)
	if !ok || panels <= 0 {
		t.Fatalf("panels = %v", get(t, built, "execution", "result"))
	}
	page := h.ok("object-query", `{"name":"SunVector"}`)
	if get(t, page, "total") != protocol.Number(1) {
		t.Fatalf("sun vector query = %v", page)
	}

	// Running again replaces the previous design.
	h.ok("design-brief", `{"brief":"A dynamic low-rise facade that frames views","execute":true}`)
	if get(t, h.ok("object-query", `{"name":"BuildingVolume"}`), "total") != protocol.Number(1) {
		t.Fatal("design was duplicated")
	}

	h.fails("design-brief", `{"brief":"  "}`, protocol.KindValidation)
	h.fails("design-brief", `{}`, protocol.KindValidation)
}

// ---------------------------------------------------------------------------
// Canvas
// ---------------------------------------------------------------------------

func TestComponentGraph(t *testing.T) {
	h := newCanvas(t)

	src := h.ok("component-create", `{"name":"Number","outputs":["n"],"code":"set_output('n', 4)"}`)
	dst := h.ok("component-create", `{"name":"Square","inputs":["x"],"outputs":["y"],"code":"set_output('y', inputs['x'] * inputs['x'])","position":[100,0]}`)
	srcID, dstID := str(t, src, "id"), str(t, dst, "id")

	h.ok("component-connect", `{"from":"`+srcID+`","output":"n","to":"`+dstID+`","input":"x"}`)
	h.fails("component-connect", `{"from":"`+srcID+`","output":"missing","to":"`+dstID+`","input":"x"}`, protocol.KindHandler)

	h.ok("component-execute-code", `{"id":"`+srcID+`"}`)
	res := h.ok("component-execute-code", `{"id":"`+dstID+`"}`)
	if get(t, res, "succeeded") != protocol.Bool(true) {
		t.Fatalf("execute = %v", res)
	}
	if y := get(t, res, "outputs", "y"); y != protocol.Number(16) {
		t.Fatalf("y = %v", y)
	}

	q := h.ok("component-query", `{"id":"`+dstID+`"}`).(protocol.List)[0]
	if str(t, q, "state", "level") != "ok" {
		t.Fatalf("state = %v", get(t, q, "state"))
	}

	h.ok("component-delete", `{"id":"`+srcID+`"}`)
	h.fails("component-delete", `{"id":"`+srcID+`"}`, protocol.KindHandler)
}

func TestComponentExecuteFailureSetsErrorState(t *testing.T) {
	h := newCanvas(t)
	c := h.ok("component-create", `{"name":"Broken","code":"fail('boom')"}`)
	id := str(t, c, "id")

	res := h.ok("component-execute-code", `{"id":"`+id+`"}`)
	if get(t, res, "succeeded") != protocol.Bool(false) {
		t.Fatalf("execute = %v", res)
	}
	q := h.ok("component-query", `{"id":"`+id+`"}`).(protocol.List)[0]
	if str(t, q, "state", "level") != "error" {
		t.Fatalf("state = %v", get(t, q, "state"))
	}
}

func TestComponentCreateRejects(t *testing.T) {
	h := newCanvas(t)
	h.fails("component-create", `{"name":"X","inputs":[1]}`, protocol.KindValidation)
	h.fails("component-create", `{"name":"X","position":[1]}`, protocol.KindValidation)
}
