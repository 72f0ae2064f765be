// Package brief turns a natural-language design brief into parameters, an
// ordered operation plan and sandbox code that builds the design.
package brief

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// Domain is the kind of design a brief describes. Only facades are
// generated today.
const Domain = "facade"

// Parameters drive the generated design.
type Parameters struct {
	GridSize           float64 `json:"grid_size"`
	FloorHeight        float64 `json:"floor_height"`
	PanelDepth         float64 `json:"panel_depth"`
	FacadeOffset       float64 `json:"facade_offset"`
	StoryCount         int     `json:"story_count"`
	ResponsivePanels   bool    `json:"responsive_panels"`
	PanelDensity       float64 `json:"panel_density"`
	ViewPriority       float64 `json:"view_priority"`
	SunPriority        float64 `json:"sun_priority"`
	PanelRotationLimit float64 `json:"panel_rotation_limit"`
	PanelType          string  `json:"panel_type"`
	Material           string  `json:"material"`
	StructuralSystem   string  `json:"structural_system"`
	Form               string  `json:"form,omitempty"`
}

// Defaults returns the parameters used when a brief says nothing.
func Defaults() Parameters {
	return Parameters{
		GridSize:           1.0,
		FloorHeight:        3.0,
		PanelDepth:         0.2,
		FacadeOffset:       0.5,
		StoryCount:         5,
		ResponsivePanels:   true,
		PanelDensity:       0.8,
		ViewPriority:       0.7,
		SunPriority:        0.8,
		PanelRotationLimit: 45,
		PanelType:          "rectangular",
		Material:           "glass",
		StructuralSystem:   "frame",
	}
}

// Category groups the keywords one pattern recognises.
type Category struct {
	Name    string
	Pattern *regexp.Regexp
}

// Categories are matched in this order; later keywords override earlier ones.
var Categories = []Category{
	{"building_type", regexp.MustCompile(`high-rise|mid-rise|low-rise|tower|building`)},
	{"facade_type", regexp.MustCompile(`dynamic|kinetic|adaptive|responsive|static|louvres|sunshade`)},
	{"environment", regexp.MustCompile(`sun angle|solar|daylight|shadowing|climate|weather|temperature`)},
	{"views", regexp.MustCompile(`views|framing views|panorama|outlook|vista`)},
	{"materials", regexp.MustCompile(`glass|metal|wood|aluminum|concrete|transparent|opaque`)},
	{"pattern", regexp.MustCompile(`dense|sparse|porous|pattern|parametric`)},
	{"structure", regexp.MustCompile(`lightweight|modular|prefab`)},
}

var keywords = map[string]func(p *Parameters){
	"high-rise": func(p *Parameters) { p.StoryCount, p.PanelDensity = 30, 0.9 },
	"mid-rise":  func(p *Parameters) { p.StoryCount, p.PanelDensity = 15, 0.8 },
	"low-rise":  func(p *Parameters) { p.StoryCount, p.PanelDensity = 5, 0.7 },
	"tower":     func(p *Parameters) { p.StoryCount, p.PanelDensity, p.Form = 40, 0.85, "tower" },

	"dynamic":    func(p *Parameters) { p.ResponsivePanels, p.PanelRotationLimit = true, 60 },
	"static":     func(p *Parameters) { p.ResponsivePanels, p.PanelRotationLimit = false, 0 },
	"kinetic":    func(p *Parameters) { p.ResponsivePanels, p.PanelRotationLimit = true, 90 },
	"adaptive":   func(p *Parameters) { p.ResponsivePanels, p.PanelRotationLimit = true, 75 },
	"responsive": func(p *Parameters) { p.ResponsivePanels = true },
	"louvres":    func(p *Parameters) { p.PanelType, p.PanelDensity = "louvre", 0.9 },
	"sunshade":   func(p *Parameters) { p.PanelType, p.SunPriority, p.ViewPriority = "louvre", 0.9, 0.5 },

	"sun angle": func(p *Parameters) { p.SunPriority = 0.9 },
	"solar":     func(p *Parameters) { p.SunPriority = 0.9 },
	"daylight":  func(p *Parameters) { p.SunPriority, p.PanelType = 0.8, "perforated" },
	"shadowing": func(p *Parameters) { p.SunPriority, p.PanelDensity = 0.9, 0.9 },

	"views":         func(p *Parameters) { p.ViewPriority = 0.9 },
	"framing views": func(p *Parameters) { p.ViewPriority, p.PanelDensity = 0.95, 0.7 },
	"transparent":   func(p *Parameters) { p.Material, p.PanelDensity = "glass", 0.6 },
	"opaque":        func(p *Parameters) { p.Material, p.PanelDensity = "solid", 0.9 },

	"glass":    func(p *Parameters) { p.Material = "glass" },
	"metal":    func(p *Parameters) { p.Material = "metal" },
	"wood":     func(p *Parameters) { p.Material = "wood" },
	"aluminum": func(p *Parameters) { p.Material = "aluminum" },
	"concrete": func(p *Parameters) { p.Material = "concrete" },

	"dense":      func(p *Parameters) { p.PanelDensity = 0.9 },
	"sparse":     func(p *Parameters) { p.PanelDensity = 0.5 },
	"porous":     func(p *Parameters) { p.PanelDensity, p.PanelType = 0.6, "perforated" },
	"pattern":    func(p *Parameters) { p.PanelType = "patterned" },
	"parametric": func(p *Parameters) { p.PanelType = "parametric" },

	"lightweight": func(p *Parameters) { p.StructuralSystem = "lightweight" },
	"modular":     func(p *Parameters) { p.GridSize, p.StructuralSystem = 1.2, "modular" },
	"prefab":      func(p *Parameters) { p.StructuralSystem = "modular" },
}

// MaterialColors maps a material to the layer color of its panels.
var MaterialColors = map[string]string{
	"glass":    "#96d2ff",
	"metal":    "#b4b4be",
	"wood":     "#b97a57",
	"aluminum": "#c8c8d2",
	"concrete": "#b4b4aa",
	"solid":    "#787878",
}

// Operation is one step of the design plan.
type Operation struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params"`
}

// Interpretation is everything derived from one brief.
type Interpretation struct {
	Brief      string              `json:"brief"`
	Domain     string              `json:"design_domain"`
	Keywords   map[string][]string `json:"keywords"`
	Parameters Parameters          `json:"parameters"`
	Operations []Operation         `json:"operations"`
	Code       string              `json:"code"`
}

// ExtractKeywords returns the keywords found in text, by category, in the
// order they appear. Matching is case-insensitive.
func ExtractKeywords(text string) map[string][]string {
	lower := strings.ToLower(text)
	found := make(map[string][]string)
	for _, c := range Categories {
		if m := c.Pattern.FindAllString(lower, -1); len(m) > 0 {
			found[c.Name] = m
		}
	}
	return found
}

// Derive applies the keyword mappings to the defaults. Categories apply in
// their declared order so the outcome is deterministic.
func Derive(found map[string][]string) Parameters {
	p := Defaults()
	for _, c := range Categories {
		for _, w := range found[c.Name] {
			if apply, ok := keywords[w]; ok {
				apply(&p)
			}
		}
	}
	return p
}

// Plan returns the operation sequence for p.
func Plan(p Parameters) []Operation {
	ops := []Operation{
		{"initialize_design", map[string]any{"design_domain": Domain, "grid_size": p.GridSize, "material": p.Material}},
		{"create_building_envelope", map[string]any{"story_count": p.StoryCount, "floor_height": p.FloorHeight, "grid_size": p.GridSize}},
		{"create_facade_system", map[string]any{
			"offset":            p.FacadeOffset,
			"panel_type":        p.PanelType,
			"panel_density":     p.PanelDensity,
			"material":          p.Material,
			"structural_system": p.StructuralSystem,
		}},
	}
	if p.ResponsivePanels {
		ops = append(ops,
			Operation{"analyze_sun_angles", map[string]any{"priority": p.SunPriority}},
			Operation{"analyze_view_corridors", map[string]any{"priority": p.ViewPriority}},
			Operation{"generate_panel_rotations", map[string]any{
				"rotation_limit": p.PanelRotationLimit,
				"sun_priority":   p.SunPriority,
				"view_priority":  p.ViewPriority,
			}},
		)
	}
	ops = append(ops,
		Operation{"generate_facade_geometry", map[string]any{"panel_depth": p.PanelDepth, "panel_type": p.PanelType}},
		Operation{"finalize_design", map[string]any{"design_domain": Domain, "add_metadata": true}},
	)
	return ops
}

// Interpret runs the whole pipeline on text.
func Interpret(text string) (*Interpretation, error) {
	found := ExtractKeywords(text)
	p := Derive(found)
	code, err := Code(p)
	if err != nil {
		return nil, err
	}
	slog.Debug("design brief interpreted", "categories", len(found), "stories", p.StoryCount, "material", p.Material)
	return &Interpretation{
		Brief:      text,
		Domain:     Domain,
		Keywords:   found,
		Parameters: p,
		Operations: Plan(p),
		Code:       code,
	}, nil
}

// Code returns sandbox code that builds the facade described by p on the
// Design_facade layer tree. Re-running it replaces the previous design.
func Code(p Parameters) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding parameters: %w", err)
	}
	color, ok := MaterialColors[p.Material]
	if !ok {
		color = MaterialColors["solid"]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "params = json.decode(%s)\n", strconv.Quote(string(raw)))
	fmt.Fprintf(&b, "panel_color = %s\n", strconv.Quote(color))
	b.WriteString(facadeBody)
	return b.String(), nil
}

const facadeBody = `
design_layer = "Design_facade"
panel_layer = design_layer + "::Panels"
scene.add_layer(design_layer)
scene.add_layer(panel_layer, panel_color)
for l in [panel_layer, design_layer]:
    for old in scene.objects(layer=l):
        scene.delete(old)
scene.set_current_layer(design_layer)

width = 20.0
length = 30.0
height = params["story_count"] * params["floor_height"]

volume = scene.add_box([0, 0, 0], [width, length, height], name="BuildingVolume")
add_object_metadata(volume, "BuildingVolume", "Main building volume")

grid = params["grid_size"]
cols = int(width / grid)
rows = int(height / grid)
face_y = length + params["facade_offset"]

panels = []
for x in range(cols):
    for z in range(rows):
        if ((x * 7919 + z * 104729) % 1000) / 1000.0 >= params["panel_density"]:
            continue
        lo = [x * grid + grid * 0.1, face_y, z * grid + grid * 0.1]
        hi = [x * grid + grid * 0.9, face_y + params["panel_depth"], z * grid + grid * 0.9]
        name = "Panel_N_%d_%d" % (x, z)
        panel = scene.add_box(lo, hi, layer=panel_layer, name=name)
        add_object_metadata(panel, name, "North facade panel")
        scene.set_user_text(panel, "material", params["material"])
        scene.set_user_text(panel, "panel_type", params["panel_type"])
        panels.append((panel, x, z))

if params["responsive_panels"]:
    sun = scene.add_line([width / 2, length / 2, height + 5], [width / 2, length / 2 - 7.07, height - 2.07], name="SunVector")
    add_object_metadata(sun, "SunVector", "Sun direction used for panel rotation")
    view = scene.add_line([width / 2, length / 2, height / 2], [width / 2, length / 2 + 10, height / 2], name="ViewVector")
    add_object_metadata(view, "ViewVector", "Main view direction")

    limit = params["panel_rotation_limit"]
    for panel, x, z in panels:
        u = x / float(cols)
        v = z / float(rows)
        angle = limit * math.sin(u * math.pi * 2) * math.cos(v * math.pi * 3)
        angle += limit * 0.5 * params["sun_priority"]
        angle -= limit * 0.3 * math.sin(u * math.pi) * params["view_priority"]
        scene.set_user_text(panel, "rotation", str(angle))

print("Design generated successfully")
result = {"volume": volume, "panels": len(panels)}
`
