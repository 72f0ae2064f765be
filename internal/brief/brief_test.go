package brief

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("A Dynamic facade for a high-rise tower that responds to Sun Angle and frames views, in aluminum")
	want := map[string][]string{
		"building_type": {"high-rise", "tower"},
		"facade_type":   {"dynamic"},
		"environment":   {"sun angle"},
		"views":         {"views"},
		"materials":     {"aluminum"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("keywords = %v, want %v", got, want)
	}
}

func TestDerive(t *testing.T) {
	tests := []struct {
		brief string
		check func(p Parameters) bool
	}{
		{"", func(p Parameters) bool { return p == Defaults() }},
		{"a static concrete low-rise", func(p Parameters) bool {
			return !p.ResponsivePanels && p.PanelRotationLimit == 0 && p.Material == "concrete" && p.StoryCount == 5 && p.PanelDensity == 0.7
		}},
		{"kinetic louvres on a tower", func(p Parameters) bool {
			return p.StoryCount == 40 && p.Form == "tower" && p.PanelRotationLimit == 90 && p.PanelType == "louvre" && p.PanelDensity == 0.9
		}},
		{"modular framing views", func(p Parameters) bool {
			return p.GridSize == 1.2 && p.StructuralSystem == "modular" && p.ViewPriority == 0.95
		}},
		// Pattern keywords apply after building type, so sparse wins.
		{"sparse high-rise", func(p Parameters) bool { return p.StoryCount == 30 && p.PanelDensity == 0.5 }},
	}
	for _, tt := range tests {
		if p := Derive(ExtractKeywords(tt.brief)); !tt.check(p) {
			t.Errorf("Derive(%q) = %+v", tt.brief, p)
		}
	}
}

func TestPlanResponsiveSteps(t *testing.T) {
	names := func(ops []Operation) []string {
		var out []string
		for _, o := range ops {
			out = append(out, o.Operation)
		}
		return out
	}

	responsive := names(Plan(Defaults()))
	want := []string{
		"initialize_design", "create_building_envelope", "create_facade_system",
		"analyze_sun_angles", "analyze_view_corridors", "generate_panel_rotations",
		"generate_facade_geometry", "finalize_design",
	}
	if !reflect.DeepEqual(responsive, want) {
		t.Fatalf("plan = %v", responsive)
	}

	p := Defaults()
	p.ResponsivePanels = false
	if got := names(Plan(p)); len(got) != 5 || got[3] != "generate_facade_geometry" {
		t.Fatalf("static plan = %v", got)
	}
}

func TestCodeEmbedsParameters(t *testing.T) {
	p := Defaults()
	p.Material = "wood"
	code, err := Code(p)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	for _, want := range []string{`\"material\":\"wood\"`, `panel_color = "#b97a57"`, "scene.add_box", "result ="} {
		if !strings.Contains(code, want) {
			t.Errorf("code missing %s", want)
		}
	}
}
