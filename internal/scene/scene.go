// Package scene is the CAD host's live document: a layer table and the
// geometry objects placed on it. A Document is owned by the CAD host
// goroutine and is not safe for concurrent use.
package scene

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LayerSeparator joins the segments of a nested layer path.
const LayerSeparator = "::"

// DefaultLayer is created with every document.
const DefaultLayer = "Default"

// ObjectType tags the geometry an object carries.
type ObjectType string

const (
	TypePoint    ObjectType = "point"
	TypeLine     ObjectType = "line"
	TypePolyline ObjectType = "polyline"
	TypeBox      ObjectType = "box"
	TypeSphere   ObjectType = "sphere"
	TypeCylinder ObjectType = "cylinder"
)

// ParseObjectType validates a type tag.
func ParseObjectType(s string) (ObjectType, error) {
	switch t := ObjectType(strings.ToLower(s)); t {
	case TypePoint, TypeLine, TypePolyline, TypeBox, TypeSphere, TypeCylinder:
		return t, nil
	}
	return "", fmt.Errorf("unknown object type %q", s)
}

// Point3 is a point in world coordinates.
type Point3 struct {
	X, Y, Z float64
}

func (p Point3) Add(d Point3) Point3 {
	return Point3{p.X + d.X, p.Y + d.Y, p.Z + d.Z}
}

// Geometry holds the defining data of an object. Which fields are used
// depends on the object type:
//
//	point     Points[0]
//	line      Points[0], Points[1]
//	polyline  Points (two or more)
//	box       Points[0] min corner, Points[1] max corner
//	sphere    Points[0] center, Radius
//	cylinder  Points[0] base center, Radius, Height (along +Z)
type Geometry struct {
	Points []Point3
	Radius float64
	Height float64
}

// Validate checks that g is well formed for t.
func (g Geometry) Validate(t ObjectType) error {
	need := func(n int) error {
		if len(g.Points) != n {
			return fmt.Errorf("%s needs %d point(s), got %d", t, n, len(g.Points))
		}
		return nil
	}
	for _, p := range g.Points {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return fmt.Errorf("%s has a non-finite coordinate", t)
		}
	}
	switch t {
	case TypePoint:
		return need(1)
	case TypeLine:
		return need(2)
	case TypePolyline:
		if len(g.Points) < 2 {
			return fmt.Errorf("polyline needs at least 2 points, got %d", len(g.Points))
		}
	case TypeBox:
		if err := need(2); err != nil {
			return err
		}
		a, b := g.Points[0], g.Points[1]
		if a.X == b.X || a.Y == b.Y || a.Z == b.Z {
			return fmt.Errorf("box corners must differ on every axis")
		}
	case TypeSphere:
		if err := need(1); err != nil {
			return err
		}
		if !(g.Radius > 0) {
			return fmt.Errorf("sphere radius must be positive")
		}
	case TypeCylinder:
		if err := need(1); err != nil {
			return err
		}
		if !(g.Radius > 0) || g.Height == 0 {
			return fmt.Errorf("cylinder needs a positive radius and a non-zero height")
		}
	default:
		return fmt.Errorf("unknown object type %q", t)
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Layer is one entry of the layer table. ID is the full path.
type Layer struct {
	ID      string
	Name    string
	Parent  string // "" for a root layer
	Color   string // #rrggbb
	Visible bool
	Locked  bool
}

// Object is a piece of geometry on a layer.
type Object struct {
	ID        string
	ShortID   string
	Type      ObjectType
	Name      string
	Layer     string
	Geometry  Geometry
	UserText  map[string]string
	Selected  bool
	CreatedAt time.Time
}

// BoundingBox returns the axis-aligned bounds of the object.
func (o *Object) BoundingBox() (min, max Point3) {
	g := o.Geometry
	switch o.Type {
	case TypeSphere:
		c, r := g.Points[0], g.Radius
		return Point3{c.X - r, c.Y - r, c.Z - r}, Point3{c.X + r, c.Y + r, c.Z + r}
	case TypeCylinder:
		c, r := g.Points[0], g.Radius
		z0, z1 := c.Z, c.Z+g.Height
		if z1 < z0 {
			z0, z1 = z1, z0
		}
		return Point3{c.X - r, c.Y - r, z0}, Point3{c.X + r, c.Y + r, z1}
	}
	min, max = g.Points[0], g.Points[0]
	for _, p := range g.Points[1:] {
		min = Point3{math.Min(min.X, p.X), math.Min(min.Y, p.Y), math.Min(min.Z, p.Z)}
		max = Point3{math.Max(max.X, p.X), math.Max(max.Y, p.Y), math.Max(max.Z, p.Z)}
	}
	return min, max
}

// Document is the live scene.
type Document struct {
	layers    []*Layer
	layerByID map[string]*Layer
	objects   []*Object
	objByID   map[string]*Object
	current   string

	// Now is the clock used for creation stamps and short ids.
	Now func() time.Time
}

// NewDocument returns a document holding only the default layer.
func NewDocument() *Document {
	d := &Document{
		layerByID: make(map[string]*Layer),
		objByID:   make(map[string]*Object),
		Now:       time.Now,
	}
	if _, err := d.AddLayer(DefaultLayer, ""); err != nil {
		panic(err)
	}
	d.current = DefaultLayer
	return d
}

// CurrentLayer is where objects go when no layer is named.
func (d *Document) CurrentLayer() string { return d.current }

// SetCurrentLayer changes the current layer.
func (d *Document) SetCurrentLayer(id string) error {
	if _, ok := d.layerByID[id]; !ok {
		return fmt.Errorf("layer %q not found", id)
	}
	d.current = id
	return nil
}

// AddLayer creates the layer at path and any missing ancestors. An existing
// layer is returned unchanged.
func (d *Document) AddLayer(path, color string) (*Layer, error) {
	segs := strings.Split(path, LayerSeparator)
	for _, s := range segs {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("invalid layer path %q", path)
		}
	}
	if color == "" {
		color = "#000000"
	} else if !validColor(color) {
		return nil, fmt.Errorf("invalid layer color %q", color)
	}
	var layer *Layer
	parent := ""
	for i := range segs {
		id := strings.Join(segs[:i+1], LayerSeparator)
		l, ok := d.layerByID[id]
		if !ok {
			l = &Layer{ID: id, Name: segs[i], Parent: parent, Color: "#000000", Visible: true}
			if i == len(segs)-1 {
				l.Color = color
			}
			d.layers = append(d.layers, l)
			d.layerByID[id] = l
		}
		parent = id
		layer = l
	}
	return layer, nil
}

// Layer returns the layer with the given full path.
func (d *Document) Layer(id string) (*Layer, bool) {
	l, ok := d.layerByID[id]
	return l, ok
}

// Layers returns the layer table in creation order.
func (d *Document) Layers() []*Layer {
	return append([]*Layer(nil), d.layers...)
}

// LayerPatch describes a layer modification. Nil fields are left alone.
type LayerPatch struct {
	Color   *string
	Visible *bool
	Locked  *bool
	Current bool
}

// ModifyLayer applies p to the layer id.
func (d *Document) ModifyLayer(id string, p LayerPatch) (*Layer, error) {
	l, ok := d.layerByID[id]
	if !ok {
		return nil, fmt.Errorf("layer %q not found", id)
	}
	if p.Color != nil && !validColor(*p.Color) {
		return nil, fmt.Errorf("invalid layer color %q", *p.Color)
	}
	visible := l.Visible
	if p.Visible != nil {
		visible = *p.Visible
	}
	if !visible && (p.Current || id == d.current) {
		return nil, fmt.Errorf("the current layer cannot be hidden")
	}
	if p.Color != nil {
		l.Color = strings.ToLower(*p.Color)
	}
	if p.Visible != nil {
		l.Visible = *p.Visible
	}
	if p.Locked != nil {
		l.Locked = *p.Locked
	}
	if p.Current {
		d.current = id
	}
	return l, nil
}

func validColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, c := range s[1:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// NewObject describes an object to add.
type NewObject struct {
	Type     ObjectType
	Name     string
	Layer    string // current layer when empty
	Geometry Geometry
	UserText map[string]string
}

// AddObject validates and inserts an object, assigning its id and short id.
func (d *Document) AddObject(n NewObject) (*Object, error) {
	if err := n.Geometry.Validate(n.Type); err != nil {
		return nil, err
	}
	layer := n.Layer
	if layer == "" {
		layer = d.current
	}
	l, ok := d.layerByID[layer]
	if !ok {
		return nil, fmt.Errorf("layer %q not found", layer)
	}
	if l.Locked {
		return nil, fmt.Errorf("layer %q is locked", layer)
	}
	now := d.Now()
	obj := &Object{
		ID:        uuid.NewString(),
		ShortID:   ShortID(now),
		Type:      n.Type,
		Name:      n.Name,
		Layer:     layer,
		Geometry:  cloneGeometry(n.Geometry),
		UserText:  make(map[string]string, len(n.UserText)),
		CreatedAt: now,
	}
	for k, v := range n.UserText {
		obj.UserText[k] = v
	}
	d.objects = append(d.objects, obj)
	d.objByID[obj.ID] = obj
	return obj, nil
}

// ShortID formats t as day, hour, minute and second: DDHHMMSS.
func ShortID(t time.Time) string {
	return t.Format("02150405")
}

func cloneGeometry(g Geometry) Geometry {
	g.Points = append([]Point3(nil), g.Points...)
	return g
}

// Object returns the object with the given id.
func (d *Document) Object(id string) (*Object, bool) {
	o, ok := d.objByID[id]
	return o, ok
}

// Objects returns every object in insertion order.
func (d *Document) Objects() []*Object {
	return append([]*Object(nil), d.objects...)
}

// ObjectsOnLayer returns the objects on layer id in insertion order.
func (d *Document) ObjectsOnLayer(id string) []*Object {
	var out []*Object
	for _, o := range d.objects {
		if o.Layer == id {
			out = append(out, o)
		}
	}
	return out
}

// DeleteObject removes the object id.
func (d *Document) DeleteObject(id string) error {
	o, ok := d.objByID[id]
	if !ok {
		return fmt.Errorf("object %q not found", id)
	}
	if err := d.checkUnlocked(o); err != nil {
		return err
	}
	delete(d.objByID, id)
	for i, x := range d.objects {
		if x == o {
			d.objects = append(d.objects[:i], d.objects[i+1:]...)
			break
		}
	}
	return nil
}

// ObjectPatch describes an object modification. Nil fields are left alone.
type ObjectPatch struct {
	Name      *string
	Layer     *string
	Translate *Point3
	Geometry  *Geometry
	Selected  *bool
	// UserText entries with an empty value are removed.
	UserText map[string]string
}

// ModifyObject applies p to the object id. Either every change applies or
// none does.
func (d *Document) ModifyObject(id string, p ObjectPatch) (*Object, error) {
	o, ok := d.objByID[id]
	if !ok {
		return nil, fmt.Errorf("object %q not found", id)
	}
	if err := d.checkUnlocked(o); err != nil {
		return nil, err
	}
	if p.Layer != nil {
		l, ok := d.layerByID[*p.Layer]
		if !ok {
			return nil, fmt.Errorf("layer %q not found", *p.Layer)
		}
		if l.Locked {
			return nil, fmt.Errorf("layer %q is locked", l.ID)
		}
	}
	geom := o.Geometry
	if p.Geometry != nil {
		if err := p.Geometry.Validate(o.Type); err != nil {
			return nil, err
		}
		geom = cloneGeometry(*p.Geometry)
	}
	if p.Translate != nil {
		geom = cloneGeometry(geom)
		for i := range geom.Points {
			geom.Points[i] = geom.Points[i].Add(*p.Translate)
		}
		if err := geom.Validate(o.Type); err != nil {
			return nil, err
		}
	}

	o.Geometry = geom
	if p.Name != nil {
		o.Name = *p.Name
	}
	if p.Layer != nil {
		o.Layer = *p.Layer
	}
	if p.Selected != nil {
		o.Selected = *p.Selected
	}
	for k, v := range p.UserText {
		if v == "" {
			delete(o.UserText, k)
		} else {
			o.UserText[k] = v
		}
	}
	return o, nil
}

// SetUserText sets one user text entry. An empty value removes the key.
func (d *Document) SetUserText(id, key, value string) error {
	if key == "" {
		return fmt.Errorf("user text key must not be empty")
	}
	_, err := d.ModifyObject(id, ObjectPatch{UserText: map[string]string{key: value}})
	return err
}

func (d *Document) checkUnlocked(o *Object) error {
	if l, ok := d.layerByID[o.Layer]; ok && l.Locked {
		return fmt.Errorf("object %q is on locked layer %q", o.ID, o.Layer)
	}
	return nil
}
