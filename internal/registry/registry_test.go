package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/codewiresh/cadwire/internal/host"
	"github.com/codewiresh/cadwire/internal/protocol"
)

func noop(context.Context, *host.Context, Args) (any, error) { return nil, nil }

func sample() Descriptor {
	return Descriptor{
		Name: "object-create",
		Host: host.CAD,
		Params: []Param{
			{Name: "type", Kind: KindString, Required: true},
			{Name: "points", Kind: KindArray, Required: true},
			{Name: "radius", Kind: KindNumber},
			{Name: "count", Kind: KindInteger},
			{Name: "select", Kind: KindBoolean},
			{Name: "user_text", Kind: KindObject},
			{Name: "extra", Kind: KindAny},
		},
		Handler: noop,
	}
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New(sample(), sample())
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestNewRejectsBadDescriptors(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor
	}{
		{"empty name", Descriptor{Handler: noop}},
		{"no handler", Descriptor{Name: "x"}},
		{"dup param", Descriptor{Name: "x", Handler: noop, Params: []Param{{Name: "a", Kind: KindAny}, {Name: "a", Kind: KindAny}}}},
		{"bad kind", Descriptor{Name: "x", Handler: noop, Params: []Param{{Name: "a", Kind: "float"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.desc); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLookupAndNames(t *testing.T) {
	r := MustNew(
		Descriptor{Name: "layer-list", Handler: noop},
		Descriptor{Name: "execute-code", Handler: noop},
	)
	if _, ok := r.Lookup("layer-list"); !ok {
		t.Fatal("layer-list not found")
	}
	if _, ok := r.Lookup("nope"); ok {
		t.Fatal("unexpected hit")
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "execute-code" || names[1] != "layer-list" {
		t.Fatalf("Names = %v", names)
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestValidateAccepts(t *testing.T) {
	r := MustNew(sample())
	d, _ := r.Lookup("object-create")
	params := protocol.NewMap().
		Set("type", protocol.String("point")).
		Set("points", protocol.List{protocol.List{protocol.Number(0), protocol.Number(0), protocol.Number(0)}}).
		Set("count", protocol.Number(3)).
		Set("radius", protocol.Null{})

	args, err := d.Validate(params)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if s, _ := args.String("type"); s != "point" {
		t.Fatalf("type = %q", s)
	}
	if n, ok := args.Int("count"); !ok || n != 3 {
		t.Fatalf("count = %d %v", n, ok)
	}
	if args.Has("radius") {
		t.Fatal("explicit null should count as absent")
	}
	if args.IntOr("missing", 7) != 7 {
		t.Fatal("IntOr default not applied")
	}
}

func TestValidateRejects(t *testing.T) {
	r := MustNew(sample())
	d, _ := r.Lookup("object-create")
	base := func() *protocol.Map {
		return protocol.NewMap().
			Set("type", protocol.String("point")).
			Set("points", protocol.List{})
	}

	tests := []struct {
		name   string
		params *protocol.Map
		param  string
	}{
		{"missing required", protocol.NewMap().Set("points", protocol.List{}), "type"},
		{"null required", base().Set("type", protocol.Null{}), "type"},
		{"wrong kind", base().Set("radius", protocol.String("big")), "radius"},
		{"fractional integer", base().Set("count", protocol.Number(1.5)), "count"},
		{"bool as object", base().Set("user_text", protocol.Bool(true)), "user_text"},
		{"unknown", base().Set("colour", protocol.String("red")), "colour"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Validate(tt.params)
			var pe *protocol.Error
			if !errors.As(err, &pe) || pe.Kind != protocol.KindValidation {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			m, _ := pe.Detail.(*protocol.Map)
			got, _ := m.Get("param")
			if !protocol.Equal(got, protocol.String(tt.param)) {
				t.Fatalf("detail.param = %v, want %q", got, tt.param)
			}
		})
	}
}

func TestValidateNilParams(t *testing.T) {
	d := &Descriptor{Name: "layer-list", Handler: noop, Params: []Param{{Name: "details", Kind: KindBoolean}}}
	args, err := d.Validate(nil)
	if err != nil {
		t.Fatalf("Validate(nil): %v", err)
	}
	if args.BoolOr("details", false) {
		t.Fatal("absent bool should default")
	}
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

func TestJSONSchema(t *testing.T) {
	d := &Descriptor{
		Name:    "execute-code",
		Handler: noop,
		Params: []Param{
			{Name: "code", Kind: KindString, Required: true, Description: "source"},
			{Name: "extra", Kind: KindAny},
		},
	}
	var schema struct {
		Type       string                    `json:"type"`
		Required   []string                  `json:"required"`
		Properties map[string]map[string]any `json:"properties"`
		Additional bool                      `json:"additionalProperties"`
	}
	if err := json.Unmarshal(d.JSONSchema(), &schema); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if schema.Type != "object" || len(schema.Required) != 1 || schema.Required[0] != "code" {
		t.Fatalf("unexpected schema: %+v", schema)
	}
	if schema.Properties["code"]["type"] != "string" || schema.Properties["code"]["description"] != "source" {
		t.Fatalf("code property = %v", schema.Properties["code"])
	}
	if _, typed := schema.Properties["extra"]["type"]; typed {
		t.Fatal("any-kind parameter should carry no type")
	}
}
