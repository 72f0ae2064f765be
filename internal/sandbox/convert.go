package sandbox

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/codewiresh/cadwire/internal/protocol"
)

const maxConvertDepth = 64

// ToStarlark converts a protocol value into a fresh, mutable Starlark value.
// Integral numbers become ints.
func ToStarlark(v protocol.Value) starlark.Value {
	switch x := v.(type) {
	case nil, protocol.Null:
		return starlark.None
	case protocol.Bool:
		return starlark.Bool(x)
	case protocol.Number:
		if i, ok := x.Int(); ok && math.Abs(float64(x)) < 1<<53 {
			return starlark.MakeInt64(i)
		}
		return starlark.Float(x)
	case protocol.String:
		return starlark.String(x)
	case protocol.List:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			elems[i] = ToStarlark(e)
		}
		return starlark.NewList(elems)
	case *protocol.Map:
		d := starlark.NewDict(x.Len())
		for _, k := range x.Keys() {
			e, _ := x.Get(k)
			_ = d.SetKey(starlark.String(k), ToStarlark(e))
		}
		return d
	}
	return starlark.None
}

// FromStarlark converts a Starlark value into a protocol value. Dict keys
// must be strings; struct fields come out sorted by name.
func FromStarlark(v starlark.Value) (protocol.Value, error) {
	return fromStarlark(v, 0)
}

func fromStarlark(v starlark.Value, depth int) (protocol.Value, error) {
	if depth > maxConvertDepth {
		return nil, fmt.Errorf("value nested too deeply (cycle?)")
	}
	switch x := v.(type) {
	case starlark.NoneType:
		return protocol.Null{}, nil
	case starlark.Bool:
		return protocol.Bool(x), nil
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return protocol.Number(i), nil
		}
		f := x.Float()
		if math.IsInf(float64(f), 0) {
			return nil, fmt.Errorf("int %s too large", x)
		}
		return protocol.Number(f), nil
	case starlark.Float:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("float %v has no JSON form", f)
		}
		return protocol.Number(f), nil
	case starlark.String:
		return protocol.String(x), nil
	case *starlark.List:
		return iterableToList(x, x.Len(), depth)
	case starlark.Tuple:
		return iterableToList(x, x.Len(), depth)
	case *starlark.Set:
		return iterableToList(x, x.Len(), depth)
	case *starlark.Dict:
		m := protocol.NewMap()
		for _, item := range x.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0].Type())
			}
			ev, err := fromStarlark(item[1], depth+1)
			if err != nil {
				return nil, err
			}
			m.Set(string(k), ev)
		}
		return m, nil
	case *starlarkstruct.Struct:
		names := x.AttrNames()
		sort.Strings(names)
		m := protocol.NewMap()
		for _, n := range names {
			av, err := x.Attr(n)
			if err != nil {
				return nil, err
			}
			ev, err := fromStarlark(av, depth+1)
			if err != nil {
				return nil, err
			}
			m.Set(n, ev)
		}
		return m, nil
	}
	return nil, fmt.Errorf("cannot convert %s to data", v.Type())
}

func iterableToList(it starlark.Iterable, n, depth int) (protocol.Value, error) {
	out := make(protocol.List, 0, n)
	iter := it.Iterate()
	defer iter.Done()
	var e starlark.Value
	for iter.Next(&e) {
		ev, err := fromStarlark(e, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// goToStarlark converts any JSON-encodable Go value, such as an introspect
// descriptor, into Starlark.
func goToStarlark(v any) (starlark.Value, error) {
	pv, err := protocol.ValueOf(v)
	if err != nil {
		return nil, err
	}
	return ToStarlark(pv), nil
}
