// Package registry holds the closed set of commands a host answers to.
// A Registry is built once at startup and only read afterwards.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/protocol"
)

// Kind is the expected kind of a parameter value.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindAny     Kind = "any"
)

// Param declares one parameter of a command.
type Param struct {
	Name        string
	Kind        Kind
	Required    bool
	Description string
}

// Handler runs a command against the host. The returned value is converted
// with protocol.ValueOf.
type Handler func(ctx context.Context, hc *host.Context, args Args) (any, error)

// Descriptor binds a command name to its parameter schema and handler.
type Descriptor struct {
	Name        string
	Description string
	Host        host.Kind
	Params      []Param
	Handler     Handler
}

// Registry maps command names to descriptors.
type Registry struct {
	byName map[string]*Descriptor
	names  []string
}

// New builds a registry. A duplicate or empty name, a duplicate parameter,
// or a missing handler is a startup error.
func New(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Descriptor, len(descs))}
	for i := range descs {
		d := descs[i]
		if d.Name == "" {
			return nil, fmt.Errorf("command #%d has no name", i)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate command %q", d.Name)
		}
		if d.Handler == nil {
			return nil, fmt.Errorf("command %q has no handler", d.Name)
		}
		seen := make(map[string]bool, len(d.Params))
		for _, p := range d.Params {
			if p.Name == "" || seen[p.Name] {
				return nil, fmt.Errorf("command %q: invalid or duplicate parameter %q", d.Name, p.Name)
			}
			if !p.Kind.valid() {
				return nil, fmt.Errorf("command %q: parameter %q has unknown kind %q", d.Name, p.Name, p.Kind)
			}
			seen[p.Name] = true
		}
		d.Params = append([]Param(nil), d.Params...)
		r.byName[d.Name] = &d
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// MustNew is New for static catalogs.
func MustNew(descs ...Descriptor) *Registry {
	r, err := New(descs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns every command name, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Descriptors returns every descriptor, sorted by name.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.byName[n])
	}
	return out
}

// Validate checks params against the descriptor's schema and returns the
// typed arguments. A nil or explicit-null optional parameter is absent.
func (d *Descriptor) Validate(params *protocol.Map) (Args, error) {
	declared := make(map[string]Param, len(d.Params))
	for _, p := range d.Params {
		declared[p.Name] = p
	}
	for _, k := range params.Keys() {
		if _, ok := declared[k]; !ok {
			return Args{}, protocol.Errorf(protocol.KindValidation, "%s: unknown parameter %q", d.Name, k).
				WithDetail(protocol.NewMap().Set("param", protocol.String(k)))
		}
	}

	vals := make(map[string]protocol.Value, len(d.Params))
	for _, p := range d.Params {
		v, ok := params.Get(p.Name)
		if ok {
			if _, isNull := v.(protocol.Null); isNull {
				ok = false
			}
		}
		if !ok {
			if p.Required {
				return Args{}, protocol.Errorf(protocol.KindValidation, "%s: missing required parameter %q", d.Name, p.Name).
					WithDetail(protocol.NewMap().Set("param", protocol.String(p.Name)))
			}
			continue
		}
		if !p.Kind.accepts(v) {
			return Args{}, protocol.Errorf(protocol.KindValidation, "%s: parameter %q must be %s, got %s", d.Name, p.Name, p.Kind, v.Kind()).
				WithDetail(protocol.NewMap().
					Set("param", protocol.String(p.Name)).
					Set("expected", protocol.String(string(p.Kind))).
					Set("got", protocol.String(v.Kind().String())))
		}
		vals[p.Name] = v
	}
	return Args{vals: vals}, nil
}

func (k Kind) valid() bool {
	switch k {
	case KindString, KindNumber, KindInteger, KindBoolean, KindObject, KindArray, KindAny:
		return true
	}
	return false
}

func (k Kind) accepts(v protocol.Value) bool {
	switch k {
	case KindAny:
		return true
	case KindString:
		return v.Kind() == protocol.KindString
	case KindNumber:
		return v.Kind() == protocol.KindNumber
	case KindInteger:
		n, ok := v.(protocol.Number)
		if !ok {
			return false
		}
		_, ok = n.Int()
		return ok
	case KindBoolean:
		return v.Kind() == protocol.KindBool
	case KindObject:
		return v.Kind() == protocol.KindMap
	case KindArray:
		return v.Kind() == protocol.KindList
	}
	return false
}
