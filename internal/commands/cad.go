package commands

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/codewiresh/cadwire/internal/brief"
	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/introspect"
	"github.com/codewiresh/cadwire/internal/registry"
	"github.com/codewiresh/cadwire/internal/render"
	"github.com/codewiresh/cadwire/internal/sandbox"
	"github.com/codewiresh/cadwire/internal/scene"
)

var objectCreate = registry.Descriptor{
	Name:        "object-create",
	Description: "Create a geometry object. points holds [x, y, z] triples: one for point, sphere and cylinder; two for line and box (min, max corners); two or more for polyline.",
	Host:        host.CAD,
	Params: []registry.Param{
		{Name: "type", Kind: registry.KindString, Required: true, Description: "point, line, polyline, box, sphere or cylinder"},
		{Name: "points", Kind: registry.KindArray, Required: true, Description: "list of [x, y, z]"},
		{Name: "radius", Kind: registry.KindNumber, Description: "sphere and cylinder radius"},
		{Name: "height", Kind: registry.KindNumber, Description: "cylinder height along Z"},
		{Name: "layer", Kind: registry.KindString, Description: "layer path; the current layer when omitted"},
		{Name: "name", Kind: registry.KindString},
		{Name: "user_text", Kind: registry.KindObject, Description: "string key/value metadata"},
	},
	Handler: func(_ context.Context, hc *host.Context, args registry.Args) (any, error) {
		typ, err := scene.ParseObjectType(args.StringOr("type", ""))
		if err != nil {
			return nil, invalid("%v", err)
		}
		pts, err := pointsArg(args, "points")
		if err != nil {
			return nil, err
		}
		text, err := stringMap(args, "user_text")
		if err != nil {
			return nil, err
		}
		radius, _ := args.Number("radius")
		height, _ := args.Number("height")
		obj, err := hc.Scene.AddObject(scene.NewObject{
			Type:     typ,
			Name:     args.StringOr("name", ""),
			Layer:    args.StringOr("layer", ""),
			Geometry: scene.Geometry{Points: pts, Radius: radius, Height: height},
			UserText: text,
		})
		if err != nil {
			return nil, err
		}
		return introspect.DescribeObject(obj, nil), nil
	},
}

var objectModify = registry.Descriptor{
	Name:        "object-modify",
	Description: "Modify an object: rename, move to a layer, translate, replace geometry, select, or edit user text (an empty or null value removes a key).",
	Host:        host.CAD,
	Params: []registry.Param{
		{Name: "id", Kind: registry.KindString, Required: true},
		{Name: "name", Kind: registry.KindString},
		{Name: "layer", Kind: registry.KindString},
		{Name: "translate", Kind: registry.KindArray, Description: "[dx, dy, dz]"},
		{Name: "points", Kind: registry.KindArray, Description: "replacement geometry points"},
		{Name: "radius", Kind: registry.KindNumber},
		{Name: "height", Kind: registry.KindNumber},
		{Name: "selected", Kind: registry.KindBoolean},
		{Name: "user_text", Kind: registry.KindObject},
	},
	Handler: func(_ context.Context, hc *host.Context, args registry.Args) (any, error) {
		id, _ := args.String("id")
		obj, ok := hc.Scene.Object(id)
		if !ok {
			return nil, fmt.Errorf("object %q not found", id)
		}
		var p scene.ObjectPatch
		if s, ok := args.String("name"); ok {
			p.Name = &s
		}
		if s, ok := args.String("layer"); ok {
			p.Layer = &s
		}
		if b, ok := args.Bool("selected"); ok {
			p.Selected = &b
		}
		var err error
		if p.Translate, err = pointArg(args, "translate"); err != nil {
			return nil, err
		}
		if p.UserText, err = stringMap(args, "user_text"); err != nil {
			return nil, err
		}
		if args.Has("points") || args.Has("radius") || args.Has("height") {
			g := obj.Geometry
			if pts, err := pointsArg(args, "points"); err != nil {
				return nil, err
			} else if pts != nil {
				g.Points = pts
			}
			if r, ok := args.Number("radius"); ok {
				g.Radius = r
			}
			if h, ok := args.Number("height"); ok {
				g.Height = h
			}
			p.Geometry = &g
		}
		obj, err = hc.Scene.ModifyObject(id, p)
		if err != nil {
			return nil, err
		}
		return introspect.DescribeObject(obj, nil), nil
	},
}

var objectQuery = registry.Descriptor{
	Name:        "object-query",
	Description: "List objects with their metadata. layer and name accept wildcards (e.g. \"Walls*\"); results are paginated with offset/limit and next_offset.",
	Host:        host.CAD,
	Params: []registry.Param{
		{Name: "id", Kind: registry.KindString, Description: "return a single object"},
		{Name: "layer", Kind: registry.KindString},
		{Name: "name", Kind: registry.KindString},
		{Name: "short_id", Kind: registry.KindString, Description: "exact DDHHMMSS short id"},
		{Name: "type", Kind: registry.KindString},
		{Name: "selected_only", Kind: registry.KindBoolean},
		{Name: "metadata_fields", Kind: registry.KindArray, Description: "user text keys to return; all when omitted"},
		{Name: "offset", Kind: registry.KindInteger},
		{Name: "limit", Kind: registry.KindInteger, Description: fmt.Sprintf("page size, default %d, max %d", introspect.DefaultLimit, introspect.MaxLimit)},
	},
	Handler: func(_ context.Context, hc *host.Context, args registry.Args) (any, error) {
		var fields []string
		if args.Has("metadata_fields") {
			f, ok := args.Strings("metadata_fields")
			if !ok {
				return nil, invalid("metadata_fields must be a list of strings")
			}
			fields = f
		}
		if id, ok := args.String("id"); ok {
			obj, found := hc.Scene.Object(id)
			if !found {
				return nil, fmt.Errorf("object %q not found", id)
			}
			return introspect.ObjectPage{
				Objects: []introspect.ObjectDescriptor{introspect.DescribeObject(obj, fields)},
				Total:   1,
			}, nil
		}
		page, err := introspect.ListObjects(hc.Scene, introspect.ObjectQuery{
			Layer:          args.StringOr("layer", ""),
			Name:           args.StringOr("name", ""),
			ShortID:        args.StringOr("short_id", ""),
			Type:           args.StringOr("type", ""),
			SelectedOnly:   args.BoolOr("selected_only", false),
			MetadataFields: fields,
			Offset:         args.IntOr("offset", 0),
			Limit:          args.IntOr("limit", introspect.DefaultLimit),
		})
		if err != nil {
			return nil, invalid("%v", err)
		}
		return page, nil
	},
}

var objectDelete = registry.Descriptor{
	Name:        "object-delete",
	Description: "Delete an object.",
	Host:        host.CAD,
	Params: []registry.Param{
		{Name: "id", Kind: registry.KindString, Required: true},
	},
	Handler: func(_ context.Context, hc *host.Context, args registry.Args) (any, error) {
		id, _ := args.String("id")
		if err := hc.Scene.DeleteObject(id); err != nil {
			return nil, err
		}
		return map[string]string{"deleted": id}, nil
	},
}

var layerList = registry.Descriptor{
	Name:        "layer-list",
	Description: "List layers in document order as {name, parent}. name is the full path; parent is null for root layers. details adds color, visibility, lock state and object counts.",
	Host:        host.CAD,
	Params: []registry.Param{
		{Name: "details", Kind: registry.KindBoolean},
	},
	Handler: func(_ context.Context, hc *host.Context, args registry.Args) (any, error) {
		if args.BoolOr("details", false) {
			return introspect.ListLayerDetails(hc.Scene), nil
		}
		return introspect.ListLayers(hc.Scene), nil
	},
}

var layerModify = registry.Descriptor{
	Name:        "layer-modify",
	Description: "Change a layer's color (#rrggbb), visibility, lock state, or make it current. create adds the layer and any missing parents first.",
	Host:        host.CAD,
	Params: []registry.Param{
		{Name: "name", Kind: registry.KindString, Required: true, Description: "full layer path, segments joined by ::"},
		{Name: "create", Kind: registry.KindBoolean},
		{Name: "color", Kind: registry.KindString},
		{Name: "visible", Kind: registry.KindBoolean},
		{Name: "locked", Kind: registry.KindBoolean},
		{Name: "current", Kind: registry.KindBoolean},
	},
	Handler: func(_ context.Context, hc *host.Context, args registry.Args) (any, error) {
		name, _ := args.String("name")
		if _, ok := hc.Scene.Layer(name); !ok {
			if !args.BoolOr("create", false) {
				return nil, fmt.Errorf("layer %q not found", name)
			}
			if _, err := hc.Scene.AddLayer(name, ""); err != nil {
				return nil, invalid("%v", err)
			}
		}
		var p scene.LayerPatch
		if s, ok := args.String("color"); ok {
			p.Color = &s
		}
		if b, ok := args.Bool("visible"); ok {
			p.Visible = &b
		}
		if b, ok := args.Bool("locked"); ok {
			p.Locked = &b
		}
		p.Current = args.BoolOr("current", false)
		if _, err := hc.Scene.ModifyLayer(name, p); err != nil {
			return nil, err
		}
		for _, d := range introspect.ListLayerDetails(hc.Scene) {
			if d.Name == name {
				return d, nil
			}
		}
		return nil, fmt.Errorf("layer %q vanished", name)
	},
}

var sceneInfo = registry.Descriptor{
	Name:        "scene-info",
	Description: "Summarize the scene: every layer with its object count and a few sample objects.",
	Host:        host.CAD,
	Params: []registry.Param{
		{Name: "samples", Kind: registry.KindInteger, Description: fmt.Sprintf("sample objects per layer, default %d", introspect.DefaultSamples)},
	},
	Handler: func(_ context.Context, hc *host.Context, args registry.Args) (any, error) {
		n := args.IntOr("samples", introspect.DefaultSamples)
		if n < 0 {
			return nil, invalid("samples must not be negative")
		}
		return introspect.SceneInfo(hc.Scene, n), nil
	},
}

// SnapshotImage is the image part of a scene-snapshot result.
type SnapshotImage struct {
	MediaType string `json:"media_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Data      string `json:"data"`
}

// Snapshot is the scene-snapshot result.
type Snapshot struct {
	Scene introspect.SceneSummary `json:"scene"`
	Image *SnapshotImage          `json:"image,omitempty"`
}

var sceneSnapshot = registry.Descriptor{
	Name:        "scene-snapshot",
	Description: "Snapshot the scene summary and optionally a top-view PNG (base64). Annotations label objects with their short_id; layer limits annotations to one layer.",
	Host:        host.CAD,
	Params: []registry.Param{
		{Name: "capture_image", Kind: registry.KindBoolean},
		{Name: "layer", Kind: registry.KindString},
		{Name: "show_annotations", Kind: registry.KindBoolean, Description: "default true"},
		{Name: "max_size", Kind: registry.KindInteger, Description: fmt.Sprintf("longer image side in pixels, default %d, at most %d", render.DefaultMaxSize, render.MaxImageSize)},
		{Name: "samples", Kind: registry.KindInteger},
	},
	Handler: func(_ context.Context, hc *host.Context, args registry.Args) (any, error) {
		snap := Snapshot{Scene: introspect.SceneInfo(hc.Scene, args.IntOr("samples", introspect.DefaultSamples))}
		if !args.BoolOr("capture_image", false) {
			return snap, nil
		}
		size := args.IntOr("max_size", render.DefaultMaxSize)
		if size > render.MaxImageSize {
			return nil, invalid("max_size %d exceeds %d", size, render.MaxImageSize)
		}
		img, err := render.Capture(hc.Scene, render.Options{
			Layer:           args.StringOr("layer", ""),
			ShowAnnotations: args.BoolOr("show_annotations", true),
			MaxSize:         size,
		})
		if err != nil {
			return nil, err
		}
		snap.Image = &SnapshotImage{
			MediaType: "image/png",
			Width:     img.Width,
			Height:    img.Height,
			Data:      base64.StdEncoding.EncodeToString(img.PNG),
		}
		return snap, nil
	},
}

var executeCode = registry.Descriptor{
	Name: "execute-code",
	Description: "Run Python-dialect (Starlark) code against the document. Predeclared: scene (add_point, add_line, add_polyline, add_box, add_sphere, add_cylinder, objects, find, get, delete, move, add_layer, layers, current_layer, set_current_layer, set_user_text), " +
		"add_object_metadata(obj_id, name, description), sys, math, json. Printed output is returned; an exception is reported in the result, not as an error. Assign result = ... to return a value.",
	Host: host.CAD,
	Params: []registry.Param{
		{Name: "code", Kind: registry.KindString, Required: true},
	},
	Handler: func(ctx context.Context, hc *host.Context, args registry.Args) (any, error) {
		code, _ := args.String("code")
		return sandbox.Run(ctx, hc, sandbox.Request{Code: code, Context: sandbox.Document})
	},
}

// DesignBrief is the design-brief result. Execution is set when the
// generated code was run.
type DesignBrief struct {
	*brief.Interpretation
	Execution *sandbox.Result `json:"execution,omitempty"`
}

var designBrief = registry.Descriptor{
	Name: "design-brief",
	Description: "Interpret a natural-language facade brief (for example \"a dynamic facade that responds to sun angle and frames views\"). " +
		"Returns the extracted keywords, derived parameters, the operation plan and execute-code source that builds it. With execute the code runs against the document.",
	Host: host.CAD,
	Params: []registry.Param{
		{Name: "brief", Kind: registry.KindString, Required: true},
		{Name: "execute", Kind: registry.KindBoolean, Description: "run the generated code, default false"},
	},
	Handler: func(ctx context.Context, hc *host.Context, args registry.Args) (any, error) {
		text, _ := args.String("brief")
		if strings.TrimSpace(text) == "" {
			return nil, invalid("brief must not be empty")
		}
		interp, err := brief.Interpret(text)
		if err != nil {
			return nil, err
		}
		out := DesignBrief{Interpretation: interp}
		if args.BoolOr("execute", false) {
			if out.Execution, err = sandbox.Run(ctx, hc, sandbox.Request{Code: interp.Code, Context: sandbox.Document}); err != nil {
				return nil, err
			}
		}
		return out, nil
	},
}
