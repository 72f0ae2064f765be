package commands

import (
	"context"
	"fmt"

	"github.com/codewiresh/cadwire/internal/canvas"
	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/introspect"
	"github.com/codewiresh/cadwire/internal/registry"
	"github.com/codewiresh/cadwire/internal/sandbox"
)

func component(hc *host.Context, args registry.Args) (*canvas.Component, error) {
	id, _ := args.String("id")
	c, ok := hc.Canvas.Component(id)
	if !ok {
		return nil, fmt.Errorf("component %q not found", id)
	}
	return c, nil
}

var componentQuery = registry.Descriptor{
	Name:        "component-query",
	Description: "List canvas components with their parameter wiring (source/target component and parameter) and last runtime state. name accepts wildcards and matches name or nickname.",
	Host:        host.Canvas,
	Params: []registry.Param{
		{Name: "id", Kind: registry.KindString},
		{Name: "name", Kind: registry.KindString},
		{Name: "category", Kind: registry.KindString},
		{Name: "include_code", Kind: registry.KindBoolean},
	},
	Handler: func(_ context.Context, hc *host.Context, args registry.Args) (any, error) {
		out, err := introspect.ListComponents(hc.Canvas, introspect.ComponentQuery{
			ID:          args.StringOr("id", ""),
			Name:        args.StringOr("name", ""),
			Category:    args.StringOr("category", ""),
			IncludeCode: args.BoolOr("include_code", false),
		})
		if err != nil {
			return nil, invalid("%v", err)
		}
		return out, nil
	},
}

var componentCreate = registry.Descriptor{
	Name:        "component-create",
	Description: "Add a component with named inputs and outputs and optional script code.",
	Host:        host.Canvas,
	Params: []registry.Param{
		{Name: "name", Kind: registry.KindString, Required: true},
		{Name: "nickname", Kind: registry.KindString},
		{Name: "category", Kind: registry.KindString},
		{Name: "inputs", Kind: registry.KindArray, Description: "input parameter names"},
		{Name: "outputs", Kind: registry.KindArray, Description: "output parameter names"},
		{Name: "code", Kind: registry.KindString},
		{Name: "position", Kind: registry.KindArray, Description: "[x, y] on the canvas"},
	},
	Handler: func(_ context.Context, hc *host.Context, args registry.Args) (any, error) {
		n := canvas.NewComponent{
			Name:     args.StringOr("name", ""),
			Nickname: args.StringOr("nickname", ""),
			Category: args.StringOr("category", ""),
			Code:     args.StringOr("code", ""),
		}
		var ok bool
		if args.Has("inputs") {
			if n.Inputs, ok = args.Strings("inputs"); !ok {
				return nil, invalid("inputs must be a list of strings")
			}
		}
		if args.Has("outputs") {
			if n.Outputs, ok = args.Strings("outputs"); !ok {
				return nil, invalid("outputs must be a list of strings")
			}
		}
		if args.Has("position") {
			xy, ok := args.Floats("position")
			if !ok || len(xy) != 2 {
				return nil, invalid("position must be [x, y]")
			}
			n.X, n.Y = xy[0], xy[1]
		}
		c, err := hc.Canvas.AddComponent(n)
		if err != nil {
			return nil, invalid("%v", err)
		}
		return introspect.DescribeComponent(hc.Canvas, c, true), nil
	},
}

var componentModify = registry.Descriptor{
	Name:        "component-modify",
	Description: "Change a component's nickname, code, position, persisted input values, or runtime state.",
	Host:        host.Canvas,
	Params: []registry.Param{
		{Name: "id", Kind: registry.KindString, Required: true},
		{Name: "nickname", Kind: registry.KindString},
		{Name: "code", Kind: registry.KindString},
		{Name: "position", Kind: registry.KindArray},
		{Name: "inputs", Kind: registry.KindObject, Description: "input name to persisted value"},
		{Name: "state", Kind: registry.KindString, Description: "ok, warning or error"},
		{Name: "message", Kind: registry.KindString, Description: "state message"},
	},
	Handler: func(_ context.Context, hc *host.Context, args registry.Args) (any, error) {
		c, err := component(hc, args)
		if err != nil {
			return nil, err
		}

		// Validate everything before touching the component.
		var xy []float64
		if args.Has("position") {
			var ok bool
			if xy, ok = args.Floats("position"); !ok || len(xy) != 2 {
				return nil, invalid("position must be [x, y]")
			}
		}
		var level canvas.Level
		if s, ok := args.String("state"); ok {
			if level, err = canvas.ParseLevel(s); err != nil {
				return nil, invalid("%v", err)
			}
		}
		inputs, _ := args.Map("inputs")
		for _, k := range inputs.Keys() {
			if _, ok := c.Input(k); !ok {
				return nil, fmt.Errorf("component %q has no input %q", c.Nickname, k)
			}
		}

		if s, ok := args.String("nickname"); ok {
			c.Nickname = s
		}
		if s, ok := args.String("code"); ok {
			c.Code = s
		}
		if xy != nil {
			c.X, c.Y = xy[0], xy[1]
		}
		for _, k := range inputs.Keys() {
			p, _ := c.Input(k)
			p.Value, _ = inputs.Get(k)
		}
		if level != "" {
			c.State = canvas.State{Level: level, Message: args.StringOr("message", "")}
		}
		return introspect.DescribeComponent(hc.Canvas, c, true), nil
	},
}

var componentExecuteCode = registry.Descriptor{
	Name: "component-execute-code",
	Description: "Run Python-dialect (Starlark) code in a component's context. Predeclared: inputs (dict), set_output(name, value), component, sys, math, json. " +
		"Runs the component's stored code when code is omitted; save stores the given code. Outputs are written back and the component state reflects the outcome.",
	Host: host.Canvas,
	Params: []registry.Param{
		{Name: "id", Kind: registry.KindString, Required: true},
		{Name: "code", Kind: registry.KindString},
		{Name: "save", Kind: registry.KindBoolean},
	},
	Handler: func(ctx context.Context, hc *host.Context, args registry.Args) (any, error) {
		c, err := component(hc, args)
		if err != nil {
			return nil, err
		}
		code, given := args.String("code")
		if !given {
			code = c.Code
		}
		if args.BoolOr("save", false) && given {
			c.Code = code
		}
		res, err := sandbox.Run(ctx, hc, sandbox.Request{Code: code, Context: sandbox.Component, Component: c})
		if err != nil {
			return nil, err
		}
		if !res.Succeeded {
			c.State = canvas.State{Level: canvas.LevelError, Message: fmt.Sprintf("%s: %s", res.Exception.Type, res.Exception.Message)}
			return res, nil
		}
		for _, k := range res.Outputs.Keys() {
			p, _ := c.Output(k)
			p.Value, _ = res.Outputs.Get(k)
		}
		c.State = canvas.State{Level: canvas.LevelOK}
		if len(res.Stderr) > 0 {
			c.State = canvas.State{Level: canvas.LevelWarning, Message: res.Stderr[len(res.Stderr)-1]}
		}
		return res, nil
	},
}

var componentConnect = registry.Descriptor{
	Name:        "component-connect",
	Description: "Wire an output of one component into an input of another, or remove that wire with disconnect.",
	Host:        host.Canvas,
	Params: []registry.Param{
		{Name: "from", Kind: registry.KindString, Required: true, Description: "source component id"},
		{Name: "output", Kind: registry.KindString, Required: true},
		{Name: "to", Kind: registry.KindString, Required: true, Description: "target component id"},
		{Name: "input", Kind: registry.KindString, Required: true},
		{Name: "disconnect", Kind: registry.KindBoolean},
	},
	Handler: func(_ context.Context, hc *host.Context, args registry.Args) (any, error) {
		from, _ := args.String("from")
		out, _ := args.String("output")
		to, _ := args.String("to")
		in, _ := args.String("input")
		op := hc.Canvas.Connect
		if args.BoolOr("disconnect", false) {
			op = hc.Canvas.Disconnect
		}
		if err := op(from, out, to, in); err != nil {
			return nil, err
		}
		target, _ := hc.Canvas.Component(to)
		return introspect.DescribeComponent(hc.Canvas, target, false), nil
	},
}

var componentDelete = registry.Descriptor{
	Name:        "component-delete",
	Description: "Remove a component and every wire touching it.",
	Host:        host.Canvas,
	Params: []registry.Param{
		{Name: "id", Kind: registry.KindString, Required: true},
	},
	Handler: func(_ context.Context, hc *host.Context, args registry.Args) (any, error) {
		id, _ := args.String("id")
		if err := hc.Canvas.RemoveComponent(id); err != nil {
			return nil, err
		}
		return map[string]string{"deleted": id}, nil
	},
}
