// Package introspect turns live host state into flat, transport-neutral
// descriptors. Every function is read-only and the returned descriptors hold
// no references into the document.
package introspect

import (
	"path"
	"time"

	"github.com/codewiresh/cadwire/internal/scene"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
	// DefaultSamples is how many objects SceneInfo shows per layer.
	DefaultSamples = 5
)

// LayerRef is the minimal layer descriptor. Name is the full path and
// Parent is null for a root layer.
type LayerRef struct {
	Name   string  `json:"name"`
	Parent *string `json:"parent"`
}

// LayerDetail is the layer descriptor with display state.
type LayerDetail struct {
	Name        string  `json:"name"`
	Parent      *string `json:"parent"`
	Color       string  `json:"color"`
	Visible     bool    `json:"visible"`
	Locked      bool    `json:"locked"`
	Current     bool    `json:"current"`
	ObjectCount int     `json:"object_count"`
}

// GeometryDescriptor carries the defining data of an object.
type GeometryDescriptor struct {
	Points [][3]float64 `json:"points"`
	Radius *float64     `json:"radius,omitempty"`
	Height *float64     `json:"height,omitempty"`
}

// ObjectDescriptor describes one scene object.
type ObjectDescriptor struct {
	ID        string             `json:"id"`
	ShortID   string             `json:"short_id"`
	Type      string             `json:"type"`
	Name      string             `json:"name"`
	Layer     string             `json:"layer"`
	Selected  bool               `json:"selected"`
	CreatedAt string             `json:"created_at"`
	BBox      [2][3]float64      `json:"bbox"`
	Geometry  GeometryDescriptor `json:"geometry"`
	Metadata  map[string]string  `json:"metadata"`
}

// ObjectQuery filters ListObjects. Layer and Name accept shell wildcards.
type ObjectQuery struct {
	Layer        string
	Name         string
	ShortID      string
	Type         string
	SelectedOnly bool
	// MetadataFields limits the returned user text keys; nil returns all.
	MetadataFields []string
	Offset         int
	Limit          int
}

// ObjectPage is one page of ListObjects. NextOffset is absent on the last
// page.
type ObjectPage struct {
	Objects    []ObjectDescriptor `json:"objects"`
	Total      int                `json:"total"`
	Offset     int                `json:"offset"`
	NextOffset *int               `json:"next_offset,omitempty"`
}

// ListLayers returns the layer table in document order.
func ListLayers(doc *scene.Document) []LayerRef {
	layers := doc.Layers()
	out := make([]LayerRef, 0, len(layers))
	for _, l := range layers {
		out = append(out, LayerRef{Name: l.ID, Parent: parentRef(l)})
	}
	return out
}

// ListLayerDetails returns the layer table with display state and counts.
func ListLayerDetails(doc *scene.Document) []LayerDetail {
	counts := make(map[string]int)
	for _, o := range doc.Objects() {
		counts[o.Layer]++
	}
	layers := doc.Layers()
	out := make([]LayerDetail, 0, len(layers))
	for _, l := range layers {
		out = append(out, layerDetail(doc, l, counts[l.ID]))
	}
	return out
}

func layerDetail(doc *scene.Document, l *scene.Layer, count int) LayerDetail {
	return LayerDetail{
		Name:        l.ID,
		Parent:      parentRef(l),
		Color:       l.Color,
		Visible:     l.Visible,
		Locked:      l.Locked,
		Current:     l.ID == doc.CurrentLayer(),
		ObjectCount: count,
	}
}

func parentRef(l *scene.Layer) *string {
	if l.Parent == "" {
		return nil
	}
	p := l.Parent
	return &p
}

// ListObjects returns the objects matching q, one page at a time. A
// malformed wildcard pattern is an error.
func ListObjects(doc *scene.Document, q ObjectQuery) (ObjectPage, error) {
	if err := checkPattern(q.Layer); err != nil {
		return ObjectPage{}, err
	}
	if err := checkPattern(q.Name); err != nil {
		return ObjectPage{}, err
	}
	limit := clampLimit(q.Limit)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var matched []*scene.Object
	for _, o := range doc.Objects() {
		if matchObject(o, q) {
			matched = append(matched, o)
		}
	}

	page := ObjectPage{Objects: []ObjectDescriptor{}, Total: len(matched), Offset: offset}
	if offset >= len(matched) {
		return page, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	for _, o := range matched[offset:end] {
		page.Objects = append(page.Objects, DescribeObject(o, q.MetadataFields))
	}
	if end < len(matched) {
		page.NextOffset = &end
	}
	return page, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}

func matchObject(o *scene.Object, q ObjectQuery) bool {
	if q.Layer != "" && !wildcard(q.Layer, o.Layer) {
		return false
	}
	if q.Name != "" && !wildcard(q.Name, o.Name) {
		return false
	}
	if q.ShortID != "" && q.ShortID != o.ShortID {
		return false
	}
	if q.Type != "" && q.Type != string(o.Type) {
		return false
	}
	if q.SelectedOnly && !o.Selected {
		return false
	}
	return true
}

func checkPattern(p string) error {
	if p == "" {
		return nil
	}
	_, err := path.Match(p, "")
	return err
}

func wildcard(pattern, s string) bool {
	ok, _ := path.Match(pattern, s)
	return ok
}

// DescribeObject builds the descriptor of one object. fields limits the
// metadata keys; nil keeps all of them.
func DescribeObject(o *scene.Object, fields []string) ObjectDescriptor {
	min, max := o.BoundingBox()
	d := ObjectDescriptor{
		ID:        o.ID,
		ShortID:   o.ShortID,
		Type:      string(o.Type),
		Name:      o.Name,
		Layer:     o.Layer,
		Selected:  o.Selected,
		CreatedAt: o.CreatedAt.UTC().Format(time.RFC3339),
		BBox:      [2][3]float64{vec(min), vec(max)},
		Geometry:  describeGeometry(o),
		Metadata:  make(map[string]string),
	}
	if fields == nil {
		for k, v := range o.UserText {
			d.Metadata[k] = v
		}
	} else {
		for _, k := range fields {
			if v, ok := o.UserText[k]; ok {
				d.Metadata[k] = v
			}
		}
	}
	return d
}

func describeGeometry(o *scene.Object) GeometryDescriptor {
	g := GeometryDescriptor{Points: make([][3]float64, 0, len(o.Geometry.Points))}
	for _, p := range o.Geometry.Points {
		g.Points = append(g.Points, vec(p))
	}
	switch o.Type {
	case scene.TypeSphere:
		r := o.Geometry.Radius
		g.Radius = &r
	case scene.TypeCylinder:
		r, h := o.Geometry.Radius, o.Geometry.Height
		g.Radius, g.Height = &r, &h
	}
	return g
}

func vec(p scene.Point3) [3]float64 { return [3]float64{p.X, p.Y, p.Z} }

// LayerSummary is one layer of SceneInfo.
type LayerSummary struct {
	LayerDetail
	SampleObjects []ObjectDescriptor `json:"sample_objects"`
}

// SceneSummary is the overview returned by SceneInfo.
type SceneSummary struct {
	CurrentLayer string         `json:"current_layer"`
	ObjectCount  int            `json:"object_count"`
	Layers       []LayerSummary `json:"layers"`
}

// SceneInfo summarizes the document: every layer with its object count and
// up to samples objects from it.
func SceneInfo(doc *scene.Document, samples int) SceneSummary {
	if samples < 0 {
		samples = 0
	}
	objs := doc.Objects()
	byLayer := make(map[string][]*scene.Object)
	for _, o := range objs {
		byLayer[o.Layer] = append(byLayer[o.Layer], o)
	}
	s := SceneSummary{
		CurrentLayer: doc.CurrentLayer(),
		ObjectCount:  len(objs),
		Layers:       []LayerSummary{},
	}
	for _, l := range doc.Layers() {
		on := byLayer[l.ID]
		ls := LayerSummary{
			LayerDetail:   layerDetail(doc, l, len(on)),
			SampleObjects: []ObjectDescriptor{},
		}
		for i, o := range on {
			if i == samples {
				break
			}
			ls.SampleObjects = append(ls.SampleObjects, DescribeObject(o, nil))
		}
		s.Layers = append(s.Layers, ls)
	}
	return s
}
