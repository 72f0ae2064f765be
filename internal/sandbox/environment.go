package sandbox

import (
	"encoding/json"
	"io"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/codewiresh/cadwire/internal/canvas"
	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/introspect"
	"github.com/codewiresh/cadwire/internal/protocol"
	"github.com/codewiresh/cadwire/internal/scene"
)

type environment struct {
	hc      *host.Context
	comp    *canvas.Component
	outputs *protocol.Map
}

type builtinFn = func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

func module(name string, fns map[string]builtinFn) *starlarkstruct.Module {
	members := make(starlark.StringDict, len(fns))
	for n, fn := range fns {
		members[n] = starlark.NewBuiltin(n, fn)
	}
	return &starlarkstruct.Module{Name: name, Members: members}
}

// ---------------------------------------------------------------------------
// sys
// ---------------------------------------------------------------------------

func (e *environment) sysModule() *starlarkstruct.Module {
	stream := func(name string, w func() io.Writer) starlark.Value {
		write := starlark.NewBuiltin(name+".write", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			n, err := w().Write([]byte(s))
			if err != nil {
				return nil, err
			}
			return starlark.MakeInt(n), nil
		})
		return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{"write": write})
	}
	return &starlarkstruct.Module{
		Name: "sys",
		Members: starlark.StringDict{
			"stdout": stream("stdout", func() io.Writer { return e.hc.Console.Stdout() }),
			"stderr": stream("stderr", func() io.Writer { return e.hc.Console.Stderr() }),
		},
	}
}

// ---------------------------------------------------------------------------
// Document context
// ---------------------------------------------------------------------------

func (e *environment) sceneModule() *starlarkstruct.Module {
	return module("scene", map[string]builtinFn{
		"add_point":         e.addPoint,
		"add_line":          e.addLine,
		"add_polyline":      e.addPolyline,
		"add_box":           e.addBox,
		"add_sphere":        e.addSphere,
		"add_cylinder":      e.addCylinder,
		"objects":           e.objects,
		"find":              e.find,
		"get":               e.get,
		"delete":            e.delete,
		"move":              e.move,
		"add_layer":         e.addLayer,
		"layers":            e.layers,
		"current_layer":     e.currentLayer,
		"set_current_layer": e.setCurrentLayer,
		"set_user_text":     e.setUserText,
	})
}

func toPoint(fn string, v starlark.Value) (scene.Point3, error) {
	seq, ok := v.(starlark.Indexable)
	if !ok || seq.Len() != 3 {
		return scene.Point3{}, typeError("%s: point must be a sequence of 3 numbers, got %s", fn, v.Type())
	}
	var xyz [3]float64
	for i := 0; i < 3; i++ {
		f, ok := starlark.AsFloat(seq.Index(i))
		if !ok {
			return scene.Point3{}, typeError("%s: point coordinate %d is %s, want number", fn, i, seq.Index(i).Type())
		}
		xyz[i] = f
	}
	return scene.Point3{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

func toPoints(fn string, v starlark.Value) ([]scene.Point3, error) {
	it, ok := v.(starlark.Iterable)
	if !ok {
		return nil, typeError("%s: points must be a sequence, got %s", fn, v.Type())
	}
	var out []scene.Point3
	iter := it.Iterate()
	defer iter.Done()
	var p starlark.Value
	for iter.Next(&p) {
		pt, err := toPoint(fn, p)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, nil
}

// create adds an object and returns its id.
func (e *environment) create(fn string, t scene.ObjectType, g scene.Geometry, layer, name string) (starlark.Value, error) {
	obj, err := e.hc.Scene.AddObject(scene.NewObject{Type: t, Name: name, Layer: layer, Geometry: g})
	if err != nil {
		return nil, valueError("%s: %v", fn, err)
	}
	return starlark.String(obj.ID), nil
}

func (e *environment) addPoint(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var at starlark.Value
	var layer, name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "point", &at, "layer?", &layer, "name?", &name); err != nil {
		return nil, err
	}
	p, err := toPoint(b.Name(), at)
	if err != nil {
		return nil, err
	}
	return e.create(b.Name(), scene.TypePoint, scene.Geometry{Points: []scene.Point3{p}}, layer, name)
}

func (e *environment) addLine(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var from, to starlark.Value
	var layer, name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &from, "end", &to, "layer?", &layer, "name?", &name); err != nil {
		return nil, err
	}
	p0, err := toPoint(b.Name(), from)
	if err != nil {
		return nil, err
	}
	p1, err := toPoint(b.Name(), to)
	if err != nil {
		return nil, err
	}
	return e.create(b.Name(), scene.TypeLine, scene.Geometry{Points: []scene.Point3{p0, p1}}, layer, name)
}

func (e *environment) addPolyline(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pts starlark.Value
	var layer, name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "points", &pts, "layer?", &layer, "name?", &name); err != nil {
		return nil, err
	}
	ps, err := toPoints(b.Name(), pts)
	if err != nil {
		return nil, err
	}
	return e.create(b.Name(), scene.TypePolyline, scene.Geometry{Points: ps}, layer, name)
}

func (e *environment) addBox(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var lo, hi starlark.Value
	var layer, name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "min", &lo, "max", &hi, "layer?", &layer, "name?", &name); err != nil {
		return nil, err
	}
	p0, err := toPoint(b.Name(), lo)
	if err != nil {
		return nil, err
	}
	p1, err := toPoint(b.Name(), hi)
	if err != nil {
		return nil, err
	}
	return e.create(b.Name(), scene.TypeBox, scene.Geometry{Points: []scene.Point3{p0, p1}}, layer, name)
}

func (e *environment) addSphere(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var center starlark.Value
	var radius float64
	var layer, name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "center", &center, "radius", &radius, "layer?", &layer, "name?", &name); err != nil {
		return nil, err
	}
	c, err := toPoint(b.Name(), center)
	if err != nil {
		return nil, err
	}
	return e.create(b.Name(), scene.TypeSphere, scene.Geometry{Points: []scene.Point3{c}, Radius: radius}, layer, name)
}

func (e *environment) addCylinder(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var base starlark.Value
	var radius, height float64
	var layer, name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "base", &base, "radius", &radius, "height", &height, "layer?", &layer, "name?", &name); err != nil {
		return nil, err
	}
	c, err := toPoint(b.Name(), base)
	if err != nil {
		return nil, err
	}
	return e.create(b.Name(), scene.TypeCylinder, scene.Geometry{Points: []scene.Point3{c}, Radius: radius, Height: height}, layer, name)
}

func (e *environment) objects(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var layer string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "layer?", &layer); err != nil {
		return nil, err
	}
	objs := e.hc.Scene.Objects()
	if layer != "" {
		objs = e.hc.Scene.ObjectsOnLayer(layer)
	}
	ids := make([]starlark.Value, 0, len(objs))
	for _, o := range objs {
		ids = append(ids, starlark.String(o.ID))
	}
	return starlark.NewList(ids), nil
}

func (e *environment) find(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var q introspect.ObjectQuery
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name?", &q.Name, "layer?", &q.Layer, "short_id?", &q.ShortID, "type?", &q.Type); err != nil {
		return nil, err
	}
	q.Limit = introspect.MaxLimit
	page, err := introspect.ListObjects(e.hc.Scene, q)
	if err != nil {
		return nil, valueError("%s: %v", b.Name(), err)
	}
	return goToStarlark(page.Objects)
}

func (e *environment) lookup(fn, id string) (*scene.Object, error) {
	o, ok := e.hc.Scene.Object(id)
	if !ok {
		return nil, keyError("%s: object %q not found", fn, id)
	}
	return o, nil
}

func (e *environment) get(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id); err != nil {
		return nil, err
	}
	o, err := e.lookup(b.Name(), id)
	if err != nil {
		return nil, err
	}
	return goToStarlark(introspect.DescribeObject(o, nil))
}

func (e *environment) delete(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id); err != nil {
		return nil, err
	}
	if _, err := e.lookup(b.Name(), id); err != nil {
		return nil, err
	}
	if err := e.hc.Scene.DeleteObject(id); err != nil {
		return nil, valueError("%s: %v", b.Name(), err)
	}
	return starlark.None, nil
}

func (e *environment) move(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id string
	var by starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id, "vector", &by); err != nil {
		return nil, err
	}
	if _, err := e.lookup(b.Name(), id); err != nil {
		return nil, err
	}
	d, err := toPoint(b.Name(), by)
	if err != nil {
		return nil, err
	}
	if _, err := e.hc.Scene.ModifyObject(id, scene.ObjectPatch{Translate: &d}); err != nil {
		return nil, valueError("%s: %v", b.Name(), err)
	}
	return starlark.None, nil
}

func (e *environment) addLayer(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, color string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "color?", &color); err != nil {
		return nil, err
	}
	l, err := e.hc.Scene.AddLayer(path, color)
	if err != nil {
		return nil, valueError("%s: %v", b.Name(), err)
	}
	return starlark.String(l.ID), nil
}

func (e *environment) layers(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return goToStarlark(introspect.ListLayers(e.hc.Scene))
}

func (e *environment) currentLayer(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return starlark.String(e.hc.Scene.CurrentLayer()), nil
}

func (e *environment) setCurrentLayer(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	if err := e.hc.Scene.SetCurrentLayer(path); err != nil {
		return nil, keyError("%s: %v", b.Name(), err)
	}
	return starlark.None, nil
}

func (e *environment) setUserText(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id, key, value string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id, "key", &key, "value", &value); err != nil {
		return nil, err
	}
	if _, err := e.lookup(b.Name(), id); err != nil {
		return nil, err
	}
	if err := e.hc.Scene.SetUserText(id, key, value); err != nil {
		return nil, valueError("%s: %v", b.Name(), err)
	}
	return starlark.None, nil
}

// addObjectMetadata stamps the standard metadata keys onto an object as
// user text and returns them as a dict.
func (e *environment) addObjectMetadata(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id, name, description string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "obj_id", &id, "name?", &name, "description?", &description); err != nil {
		return nil, err
	}
	o, err := e.lookup(b.Name(), id)
	if err != nil {
		return nil, err
	}
	min, max := o.BoundingBox()
	bbox, err := json.Marshal([2][3]float64{{min.X, min.Y, min.Z}, {max.X, max.Y, max.Z}})
	if err != nil {
		return nil, err
	}
	meta := protocol.NewMap().
		Set("short_id", protocol.String(o.ShortID)).
		Set("created_at", protocol.String(o.CreatedAt.UTC().Format(time.RFC3339))).
		Set("layer", protocol.String(o.Layer)).
		Set("type", protocol.String(string(o.Type))).
		Set("bbox", protocol.String(bbox)).
		Set("name", protocol.String(name)).
		Set("description", protocol.String(description))

	patch := scene.ObjectPatch{UserText: make(map[string]string)}
	for _, k := range meta.Keys() {
		v, _ := meta.Get(k)
		if s := string(v.(protocol.String)); s != "" {
			patch.UserText[k] = s
		}
	}
	if name != "" {
		patch.Name = &name
	}
	if _, err := e.hc.Scene.ModifyObject(id, patch); err != nil {
		return nil, valueError("%s: %v", b.Name(), err)
	}
	return ToStarlark(meta), nil
}

// ---------------------------------------------------------------------------
// Component context
// ---------------------------------------------------------------------------

func (e *environment) componentBindings(env starlark.StringDict, c *canvas.Component) {
	e.comp = c
	e.outputs = protocol.NewMap()

	env["inputs"] = ToStarlark(e.hc.Canvas.InputValues(c))
	env["set_output"] = starlark.NewBuiltin("set_output", e.setOutput)
	env["component"] = starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"id":       starlark.String(c.ID),
		"name":     starlark.String(c.Name),
		"nickname": starlark.String(c.Nickname),
		"category": starlark.String(c.Category),
	})
}

func (e *environment) setOutput(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "value", &value); err != nil {
		return nil, err
	}
	if _, ok := e.comp.Output(name); !ok {
		return nil, keyError("%s: component %q has no output %q", b.Name(), e.comp.Nickname, name)
	}
	v, err := FromStarlark(value)
	if err != nil {
		return nil, typeError("%s: %v", b.Name(), err)
	}
	e.outputs.Set(name, v)
	return starlark.None, nil
}
