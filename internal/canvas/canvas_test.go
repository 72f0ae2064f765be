package canvas

import (
	"testing"

	"github.com/codewiresh/cadwire/internal/protocol"
)

func mustAdd(t *testing.T, g *Graph, n NewComponent) *Component {
	t.Helper()
	c, err := g.AddComponent(n)
	if err != nil {
		t.Fatalf("AddComponent(%s): %v", n.Name, err)
	}
	return c
}

func TestAddComponent(t *testing.T) {
	g := NewGraph()
	c := mustAdd(t, g, NewComponent{Name: "Slider", Outputs: []string{"N"}})
	if c.Nickname != "Slider" {
		t.Fatalf("nickname defaults to name, got %q", c.Nickname)
	}
	if c.State.Level != LevelOK {
		t.Fatalf("initial state = %+v", c.State)
	}
	if _, ok := g.Component(c.ID); !ok {
		t.Fatal("lookup failed")
	}
	if _, err := g.AddComponent(NewComponent{Name: "Bad", Inputs: []string{"x", "x"}}); err == nil {
		t.Fatal("duplicate input names should fail")
	}
	if _, err := g.AddComponent(NewComponent{Name: " "}); err == nil {
		t.Fatal("blank name should fail")
	}
}

func TestConnectAndResolveInputs(t *testing.T) {
	g := NewGraph()
	a := mustAdd(t, g, NewComponent{Name: "A", Outputs: []string{"out"}})
	b := mustAdd(t, g, NewComponent{Name: "B", Outputs: []string{"out"}})
	sum := mustAdd(t, g, NewComponent{Name: "Sum", Inputs: []string{"x", "y"}, Outputs: []string{"r"}})

	if err := g.Connect(a.ID, "out", sum.ID, "x"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := g.Connect(b.ID, "out", sum.ID, "x"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := g.Connect(a.ID, "out", sum.ID, "x"); err == nil {
		t.Fatal("duplicate wire should fail")
	}

	a.Outputs[0].Value = protocol.Number(1)
	b.Outputs[0].Value = protocol.Number(2)
	y, _ := sum.Input("y")
	y.Value = protocol.String("persisted")

	got := g.InputValues(sum)
	want := protocol.NewMap().
		Set("x", protocol.List{protocol.Number(1), protocol.Number(2)}).
		Set("y", protocol.String("persisted"))
	if !protocol.Equal(got, want) {
		t.Fatalf("InputValues = %s", mustJSON(t, got))
	}

	targets := g.Targets(a.Outputs[0].ID)
	x, _ := sum.Input("x")
	if len(targets) != 1 || targets[0] != x.ID {
		t.Fatalf("Targets = %v", targets)
	}
}

func TestConnectRejectsCycles(t *testing.T) {
	g := NewGraph()
	a := mustAdd(t, g, NewComponent{Name: "A", Inputs: []string{"in"}, Outputs: []string{"out"}})
	b := mustAdd(t, g, NewComponent{Name: "B", Inputs: []string{"in"}, Outputs: []string{"out"}})

	if err := g.Connect(a.ID, "out", a.ID, "in"); err == nil {
		t.Fatal("self wire should fail")
	}
	if err := g.Connect(a.ID, "out", b.ID, "in"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := g.Connect(b.ID, "out", a.ID, "in"); err == nil {
		t.Fatal("back wire should fail")
	}
}

func TestDisconnectAndRemove(t *testing.T) {
	g := NewGraph()
	a := mustAdd(t, g, NewComponent{Name: "A", Outputs: []string{"out"}})
	b := mustAdd(t, g, NewComponent{Name: "B", Inputs: []string{"in"}})

	if err := g.Disconnect(a.ID, "out", b.ID, "in"); err == nil {
		t.Fatal("disconnecting a missing wire should fail")
	}
	g.Connect(a.ID, "out", b.ID, "in")
	if err := g.Disconnect(a.ID, "out", b.ID, "in"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	g.Connect(a.ID, "out", b.ID, "in")
	if err := g.RemoveComponent(a.ID); err != nil {
		t.Fatalf("RemoveComponent: %v", err)
	}
	in, _ := b.Input("in")
	if len(in.Sources) != 0 {
		t.Fatalf("wire survived removal: %v", in.Sources)
	}
	if len(g.Components()) != 1 {
		t.Fatal("component not removed")
	}
	if _, ok := g.Owner(a.Outputs[0].ID); ok {
		t.Fatal("removed parameter still resolvable")
	}
}

func mustJSON(t *testing.T, v protocol.Value) string {
	t.Helper()
	b, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
