package introspect

import (
	"github.com/codewiresh/cadwire/internal/canvas"
	"github.com/codewiresh/cadwire/internal/protocol"
)

// WireEnd names the far end of a wire.
type WireEnd struct {
	Component string `json:"component"`
	Param     string `json:"param"`
}

// ParamDescriptor describes one component parameter.
type ParamDescriptor struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Sources []WireEnd      `json:"sources,omitempty"`
	Targets []WireEnd      `json:"targets,omitempty"`
	Value   protocol.Value `json:"value"`
}

// StateDescriptor is a snapshot of a component's runtime state.
type StateDescriptor struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ComponentDescriptor describes one canvas component.
type ComponentDescriptor struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Nickname string            `json:"nickname"`
	Category string            `json:"category"`
	Position [2]float64        `json:"position"`
	Inputs   []ParamDescriptor `json:"inputs"`
	Outputs  []ParamDescriptor `json:"outputs"`
	State    StateDescriptor   `json:"state"`
	Code     *string           `json:"code,omitempty"`
}

// ComponentQuery filters ListComponents. Name accepts shell wildcards.
type ComponentQuery struct {
	ID          string
	Name        string
	Category    string
	IncludeCode bool
}

// ListComponents returns the matching components in graph order.
func ListComponents(g *canvas.Graph, q ComponentQuery) ([]ComponentDescriptor, error) {
	if err := checkPattern(q.Name); err != nil {
		return nil, err
	}
	out := []ComponentDescriptor{}
	for _, c := range g.Components() {
		if q.ID != "" && c.ID != q.ID {
			continue
		}
		if q.Name != "" && !wildcard(q.Name, c.Name) && !wildcard(q.Name, c.Nickname) {
			continue
		}
		if q.Category != "" && c.Category != q.Category {
			continue
		}
		out = append(out, DescribeComponent(g, c, q.IncludeCode))
	}
	return out, nil
}

// DescribeComponent builds the descriptor of one component.
func DescribeComponent(g *canvas.Graph, c *canvas.Component, withCode bool) ComponentDescriptor {
	d := ComponentDescriptor{
		ID:       c.ID,
		Name:     c.Name,
		Nickname: c.Nickname,
		Category: c.Category,
		Position: [2]float64{c.X, c.Y},
		Inputs:   make([]ParamDescriptor, 0, len(c.Inputs)),
		Outputs:  make([]ParamDescriptor, 0, len(c.Outputs)),
		State:    StateDescriptor{Level: string(c.State.Level), Message: c.State.Message},
	}
	for _, in := range c.Inputs {
		pd := ParamDescriptor{ID: in.ID, Name: in.Name, Value: valueOrNull(in.Value)}
		for _, s := range in.Sources {
			pd.Sources = append(pd.Sources, wireEnd(g, s))
		}
		d.Inputs = append(d.Inputs, pd)
	}
	for _, out := range c.Outputs {
		pd := ParamDescriptor{ID: out.ID, Name: out.Name, Value: valueOrNull(out.Value)}
		for _, t := range g.Targets(out.ID) {
			pd.Targets = append(pd.Targets, wireEnd(g, t))
		}
		d.Outputs = append(d.Outputs, pd)
	}
	if withCode {
		code := c.Code
		d.Code = &code
	}
	return d
}

func wireEnd(g *canvas.Graph, paramID string) WireEnd {
	owner, ok := g.Owner(paramID)
	if !ok {
		return WireEnd{Param: paramID}
	}
	for _, p := range owner.Inputs {
		if p.ID == paramID {
			return WireEnd{Component: owner.ID, Param: p.Name}
		}
	}
	for _, p := range owner.Outputs {
		if p.ID == paramID {
			return WireEnd{Component: owner.ID, Param: p.Name}
		}
	}
	return WireEnd{Component: owner.ID, Param: paramID}
}

func valueOrNull(v protocol.Value) protocol.Value {
	if v == nil {
		return protocol.Null{}
	}
	return v
}
