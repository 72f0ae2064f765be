// Package commands implements the command handlers of both hosts and
// assembles them into catalogs for the registry.
package commands

import (
	"github.com/codewiresh/cadwire/internal/protocol"
	"github.com/codewiresh/cadwire/internal/registry"
	"github.com/codewiresh/cadwire/internal/scene"
)

// CAD returns the catalog served by the CAD host over the socket transport.
func CAD() []registry.Descriptor {
	return []registry.Descriptor{
		objectCreate,
		objectModify,
		objectQuery,
		objectDelete,
		layerList,
		layerModify,
		sceneInfo,
		sceneSnapshot,
		executeCode,
		designBrief,
	}
}

// Canvas returns the catalog served by the canvas host over HTTP.
func Canvas() []registry.Descriptor {
	return []registry.Descriptor{
		componentQuery,
		componentModify,
		componentExecuteCode,
		componentCreate,
		componentConnect,
		componentDelete,
	}
}

// All returns both catalogs.
func All() []registry.Descriptor {
	return append(CAD(), Canvas()...)
}

func invalid(format string, args ...any) *protocol.Error {
	return protocol.Errorf(protocol.KindValidation, format, args...)
}

// point decodes [x, y, z].
func point(v protocol.Value) (scene.Point3, bool) {
	l, ok := v.(protocol.List)
	if !ok || len(l) != 3 {
		return scene.Point3{}, false
	}
	var xyz [3]float64
	for i, e := range l {
		n, ok := e.(protocol.Number)
		if !ok {
			return scene.Point3{}, false
		}
		xyz[i] = float64(n)
	}
	return scene.Point3{X: xyz[0], Y: xyz[1], Z: xyz[2]}, true
}

func pointArg(args registry.Args, name string) (*scene.Point3, error) {
	v, ok := args.Value(name)
	if !ok {
		return nil, nil
	}
	p, ok := point(v)
	if !ok {
		return nil, invalid("%s must be [x, y, z]", name)
	}
	return &p, nil
}

func pointsArg(args registry.Args, name string) ([]scene.Point3, error) {
	l, ok := args.List(name)
	if !ok {
		return nil, nil
	}
	out := make([]scene.Point3, 0, len(l))
	for i, e := range l {
		p, ok := point(e)
		if !ok {
			return nil, invalid("%s[%d] must be [x, y, z]", name, i)
		}
		out = append(out, p)
	}
	return out, nil
}

// stringMap decodes an object whose values are all strings. A null value
// maps to "" so callers can express removal.
func stringMap(args registry.Args, name string) (map[string]string, error) {
	m, ok := args.Map(name)
	if !ok {
		return nil, nil
	}
	out := make(map[string]string, m.Len())
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		switch s := v.(type) {
		case protocol.String:
			out[k] = string(s)
		case protocol.Null:
			out[k] = ""
		default:
			return nil, invalid("%s.%s must be a string, got %s", name, k, v.Kind())
		}
	}
	return out, nil
}
