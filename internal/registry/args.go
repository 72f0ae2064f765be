package registry

import (
	"github.com/codewiresh/cadwire/internal/protocol"
)

// Args are validated parameters. Accessors return the zero value and false
// for absent parameters; kinds were checked by Validate.
type Args struct {
	vals map[string]protocol.Value
}

// Has reports whether name was supplied with a non-null value.
func (a Args) Has(name string) bool {
	_, ok := a.vals[name]
	return ok
}

// Value returns the raw value of name.
func (a Args) Value(name string) (protocol.Value, bool) {
	v, ok := a.vals[name]
	return v, ok
}

func (a Args) String(name string) (string, bool) {
	s, ok := a.vals[name].(protocol.String)
	return string(s), ok
}

// StringOr returns name or def when absent.
func (a Args) StringOr(name, def string) string {
	if s, ok := a.String(name); ok {
		return s
	}
	return def
}

func (a Args) Number(name string) (float64, bool) {
	n, ok := a.vals[name].(protocol.Number)
	return float64(n), ok
}

func (a Args) Int(name string) (int, bool) {
	n, ok := a.vals[name].(protocol.Number)
	if !ok {
		return 0, false
	}
	i, ok := n.Int()
	return int(i), ok
}

// IntOr returns name or def when absent.
func (a Args) IntOr(name string, def int) int {
	if i, ok := a.Int(name); ok {
		return i
	}
	return def
}

func (a Args) Bool(name string) (bool, bool) {
	b, ok := a.vals[name].(protocol.Bool)
	return bool(b), ok
}

// BoolOr returns name or def when absent.
func (a Args) BoolOr(name string, def bool) bool {
	if b, ok := a.Bool(name); ok {
		return b
	}
	return def
}

func (a Args) Map(name string) (*protocol.Map, bool) {
	m, ok := a.vals[name].(*protocol.Map)
	return m, ok
}

func (a Args) List(name string) (protocol.List, bool) {
	l, ok := a.vals[name].(protocol.List)
	return l, ok
}

// Strings returns name as a list of strings. Non-string elements fail.
func (a Args) Strings(name string) ([]string, bool) {
	l, ok := a.List(name)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(l))
	for _, v := range l {
		s, ok := v.(protocol.String)
		if !ok {
			return nil, false
		}
		out = append(out, string(s))
	}
	return out, true
}

// Floats returns name as a list of numbers. Non-number elements fail.
func (a Args) Floats(name string) ([]float64, bool) {
	l, ok := a.List(name)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(l))
	for _, v := range l {
		n, ok := v.(protocol.Number)
		if !ok {
			return nil, false
		}
		out = append(out, float64(n))
	}
	return out, true
}
