// Package canvas is the visual-programming host's component graph. A Graph
// is owned by the canvas host goroutine and is not safe for concurrent use.
package canvas

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/codewiresh/cadwire/internal/protocol"
)

// Level is the severity of a component's runtime state.
type Level string

const (
	LevelOK      Level = "ok"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ParseLevel validates a level tag.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(s)); l {
	case LevelOK, LevelWarning, LevelError:
		return l, nil
	}
	return "", fmt.Errorf("unknown state level %q", s)
}

// State is the last-known outcome of a component's evaluation.
type State struct {
	Level   Level
	Message string
}

// Param is one input or output slot of a component.
type Param struct {
	ID   string
	Name string
	// Sources lists the output parameter ids wired into an input.
	Sources []string
	// Value is the persisted input value or the last computed output.
	Value protocol.Value
}

// Component is a node of the graph.
type Component struct {
	ID       string
	Name     string
	Nickname string
	Category string
	Inputs   []*Param
	Outputs  []*Param
	Code     string
	State    State
	X, Y     float64
}

// Input returns the input parameter called name.
func (c *Component) Input(name string) (*Param, bool) { return findParam(c.Inputs, name) }

// Output returns the output parameter called name.
func (c *Component) Output(name string) (*Param, bool) { return findParam(c.Outputs, name) }

func findParam(ps []*Param, name string) (*Param, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

type paramRef struct {
	comp   *Component
	param  *Param
	output bool
}

// Graph is the live canvas document.
type Graph struct {
	comps  []*Component
	byID   map[string]*Component
	params map[string]paramRef
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		byID:   make(map[string]*Component),
		params: make(map[string]paramRef),
	}
}

// NewComponent describes a component to add.
type NewComponent struct {
	Name     string
	Nickname string
	Category string
	Inputs   []string
	Outputs  []string
	Code     string
	X, Y     float64
}

// AddComponent inserts a component with fresh ids.
func (g *Graph) AddComponent(n NewComponent) (*Component, error) {
	if strings.TrimSpace(n.Name) == "" {
		return nil, fmt.Errorf("component name must not be empty")
	}
	if err := uniqueNames(n.Inputs); err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}
	if err := uniqueNames(n.Outputs); err != nil {
		return nil, fmt.Errorf("outputs: %w", err)
	}
	c := &Component{
		ID:       uuid.NewString(),
		Name:     n.Name,
		Nickname: n.Nickname,
		Category: n.Category,
		Code:     n.Code,
		State:    State{Level: LevelOK},
		X:        n.X,
		Y:        n.Y,
	}
	if c.Nickname == "" {
		c.Nickname = c.Name
	}
	for _, name := range n.Inputs {
		p := &Param{ID: uuid.NewString(), Name: name}
		c.Inputs = append(c.Inputs, p)
		g.params[p.ID] = paramRef{comp: c, param: p}
	}
	for _, name := range n.Outputs {
		p := &Param{ID: uuid.NewString(), Name: name}
		c.Outputs = append(c.Outputs, p)
		g.params[p.ID] = paramRef{comp: c, param: p, output: true}
	}
	g.comps = append(g.comps, c)
	g.byID[c.ID] = c
	return c, nil
}

func uniqueNames(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("parameter name must not be empty")
		}
		if seen[n] {
			return fmt.Errorf("duplicate parameter %q", n)
		}
		seen[n] = true
	}
	return nil
}

// Component returns the component with the given id.
func (g *Graph) Component(id string) (*Component, bool) {
	c, ok := g.byID[id]
	return c, ok
}

// Components returns every component in insertion order.
func (g *Graph) Components() []*Component {
	return append([]*Component(nil), g.comps...)
}

// Owner returns the component that owns parameter id.
func (g *Graph) Owner(paramID string) (*Component, bool) {
	ref, ok := g.params[paramID]
	if !ok {
		return nil, false
	}
	return ref.comp, true
}

// Targets returns the input parameter ids fed by output parameter id, in
// component order.
func (g *Graph) Targets(outputID string) []string {
	var out []string
	for _, c := range g.comps {
		for _, in := range c.Inputs {
			for _, s := range in.Sources {
				if s == outputID {
					out = append(out, in.ID)
				}
			}
		}
	}
	return out
}

// Connect wires the output fromParam of component from into the input
// toParam of component to. Wires that would close a cycle are rejected.
func (g *Graph) Connect(from, fromParam, to, toParam string) error {
	src, dst, err := g.endpoints(from, fromParam, to, toParam)
	if err != nil {
		return err
	}
	for _, s := range dst.Sources {
		if s == src.ID {
			return fmt.Errorf("%s.%s is already wired to %s.%s", from, fromParam, to, toParam)
		}
	}
	if from == to || g.reaches(to, from) {
		return fmt.Errorf("wire %s.%s -> %s.%s would create a cycle", from, fromParam, to, toParam)
	}
	dst.Sources = append(dst.Sources, src.ID)
	return nil
}

// Disconnect removes a wire created by Connect.
func (g *Graph) Disconnect(from, fromParam, to, toParam string) error {
	src, dst, err := g.endpoints(from, fromParam, to, toParam)
	if err != nil {
		return err
	}
	for i, s := range dst.Sources {
		if s == src.ID {
			dst.Sources = append(dst.Sources[:i], dst.Sources[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%s.%s is not wired to %s.%s", from, fromParam, to, toParam)
}

func (g *Graph) endpoints(from, fromParam, to, toParam string) (src, dst *Param, err error) {
	fc, ok := g.byID[from]
	if !ok {
		return nil, nil, fmt.Errorf("component %q not found", from)
	}
	tc, ok := g.byID[to]
	if !ok {
		return nil, nil, fmt.Errorf("component %q not found", to)
	}
	if src, ok = fc.Output(fromParam); !ok {
		return nil, nil, fmt.Errorf("component %q has no output %q", from, fromParam)
	}
	if dst, ok = tc.Input(toParam); !ok {
		return nil, nil, fmt.Errorf("component %q has no input %q", to, toParam)
	}
	return src, dst, nil
}

// reaches reports whether data flows from component a to component b.
func (g *Graph) reaches(a, b string) bool {
	seen := map[string]bool{}
	stack := []string{a}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == b {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, out := range g.byID[id].Outputs {
			for _, t := range g.Targets(out.ID) {
				stack = append(stack, g.params[t].comp.ID)
			}
		}
	}
	return false
}

// RemoveComponent deletes a component and every wire touching it.
func (g *Graph) RemoveComponent(id string) error {
	c, ok := g.byID[id]
	if !ok {
		return fmt.Errorf("component %q not found", id)
	}
	gone := make(map[string]bool)
	for _, p := range append(append([]*Param(nil), c.Inputs...), c.Outputs...) {
		gone[p.ID] = true
		delete(g.params, p.ID)
	}
	for _, other := range g.comps {
		for _, in := range other.Inputs {
			kept := in.Sources[:0]
			for _, s := range in.Sources {
				if !gone[s] {
					kept = append(kept, s)
				}
			}
			in.Sources = kept
		}
	}
	delete(g.byID, id)
	for i, x := range g.comps {
		if x == c {
			g.comps = append(g.comps[:i], g.comps[i+1:]...)
			break
		}
	}
	return nil
}

// InputValues resolves the values a component sees on its inputs. A wired
// input reads its single source's output, or a list when several sources
// feed it; an unwired input reads its persisted value.
func (g *Graph) InputValues(c *Component) *protocol.Map {
	m := protocol.NewMap()
	for _, in := range c.Inputs {
		switch len(in.Sources) {
		case 0:
			m.Set(in.Name, in.Value)
		case 1:
			m.Set(in.Name, g.params[in.Sources[0]].param.Value)
		default:
			list := make(protocol.List, 0, len(in.Sources))
			for _, s := range in.Sources {
				v := g.params[s].param.Value
				if v == nil {
					v = protocol.Null{}
				}
				list = append(list, v)
			}
			m.Set(in.Name, list)
		}
	}
	return m
}
