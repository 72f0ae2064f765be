// Package render captures a top view of the scene as a PNG image.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/codewiresh/cadwire/internal/scene"
)

const (
	DefaultMaxSize = 800
	// MaxImageSize is the largest accepted MaxSize.
	MaxImageSize   = 4096
	minSize        = 64
	margin         = 24
	circleSegments = 48
	strokeWidth    = 1.5
)

// Options controls a capture.
type Options struct {
	// Layer limits annotations to one layer; every visible layer is drawn.
	Layer string
	// ShowAnnotations labels each object with its short id.
	ShowAnnotations bool
	// MaxSize bounds the longer image side in pixels.
	MaxSize int
}

// Image is an encoded capture.
type Image struct {
	PNG    []byte
	Width  int
	Height int
}

var (
	background = color.RGBA{0xf4, 0xf4, 0xf4, 0xff}
	labelColor = color.RGBA{0x20, 0x20, 0x80, 0xff}
)

// Capture draws the visible objects of doc projected onto the XY plane.
func Capture(doc *scene.Document, opts Options) (*Image, error) {
	size := opts.MaxSize
	if size <= 0 {
		size = DefaultMaxSize
	}
	size = min(max(size, minSize), MaxImageSize)
	if opts.Layer != "" {
		if _, ok := doc.Layer(opts.Layer); !ok {
			return nil, fmt.Errorf("layer %q not found", opts.Layer)
		}
	}

	var visible []*scene.Object
	for _, o := range doc.Objects() {
		if l, ok := doc.Layer(o.Layer); ok && l.Visible {
			visible = append(visible, o)
		}
	}

	v := fit(visible, size)
	img := image.NewRGBA(image.Rect(0, 0, v.w, v.h))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	for _, o := range visible {
		l, _ := doc.Layer(o.Layer)
		drawObject(img, v, o, parseColor(l.Color))
	}
	if opts.ShowAnnotations {
		face := basicfont.Face7x13
		for _, o := range visible {
			if opts.Layer != "" && o.Layer != opts.Layer {
				continue
			}
			min, max := o.BoundingBox()
			x, y := v.project((min.X+max.X)/2, (min.Y+max.Y)/2)
			d := &font.Drawer{
				Dst:  img,
				Src:  image.NewUniform(labelColor),
				Face: face,
				Dot:  fixed.P(int(x)+4, int(y)-4),
			}
			d.DrawString(o.ShortID)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return &Image{PNG: buf.Bytes(), Width: v.w, Height: v.h}, nil
}

// viewport maps world XY onto pixels; Y grows upward in the world.
type viewport struct {
	minX, maxY float64
	scale      float64
	w, h       int
}

func (v viewport) project(x, y float64) (float32, float32) {
	return float32(margin + (x-v.minX)*v.scale), float32(margin + (v.maxY-y)*v.scale)
}

func fit(objs []*scene.Object, size int) viewport {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, o := range objs {
		lo, hi := o.BoundingBox()
		minX, minY = math.Min(minX, lo.X), math.Min(minY, lo.Y)
		maxX, maxY = math.Max(maxX, hi.X), math.Max(maxY, hi.Y)
	}
	if len(objs) == 0 {
		minX, minY, maxX, maxY = -10, -10, 10, 10
	}
	// Degenerate extents still get a drawable area.
	if maxX-minX < 1e-9 {
		minX, maxX = minX-1, maxX+1
	}
	if maxY-minY < 1e-9 {
		minY, maxY = minY-1, maxY+1
	}
	spanX, spanY := maxX-minX, maxY-minY
	inner := float64(size - 2*margin)
	scale := inner / math.Max(spanX, spanY)
	return viewport{
		minX:  minX,
		maxY:  maxY,
		scale: scale,
		w:     int(math.Ceil(spanX*scale-1e-6)) + 2*margin,
		h:     int(math.Ceil(spanY*scale-1e-6)) + 2*margin,
	}
}

func drawObject(img *image.RGBA, v viewport, o *scene.Object, c color.Color) {
	z := vector.NewRasterizer(v.w, v.h)
	z.DrawOp = draw.Over
	g := o.Geometry

	switch o.Type {
	case scene.TypePoint:
		x, y := v.project(g.Points[0].X, g.Points[0].Y)
		z.MoveTo(x-3, y-3)
		z.LineTo(x+3, y-3)
		z.LineTo(x+3, y+3)
		z.LineTo(x-3, y+3)
		z.ClosePath()
	case scene.TypeLine, scene.TypePolyline:
		for i := 1; i < len(g.Points); i++ {
			a, b := g.Points[i-1], g.Points[i]
			ax, ay := v.project(a.X, a.Y)
			bx, by := v.project(b.X, b.Y)
			stroke(z, ax, ay, bx, by)
		}
	case scene.TypeBox:
		lo, hi := o.BoundingBox()
		x0, y0 := v.project(lo.X, hi.Y)
		x1, y1 := v.project(hi.X, lo.Y)
		stroke(z, x0, y0, x1, y0)
		stroke(z, x1, y0, x1, y1)
		stroke(z, x1, y1, x0, y1)
		stroke(z, x0, y1, x0, y0)
	case scene.TypeSphere, scene.TypeCylinder:
		ctr := g.Points[0]
		r := g.Radius
		for i := 0; i < circleSegments; i++ {
			t0 := 2 * math.Pi * float64(i) / circleSegments
			t1 := 2 * math.Pi * float64(i+1) / circleSegments
			ax, ay := v.project(ctr.X+r*math.Cos(t0), ctr.Y+r*math.Sin(t0))
			bx, by := v.project(ctr.X+r*math.Cos(t1), ctr.Y+r*math.Sin(t1))
			stroke(z, ax, ay, bx, by)
		}
	}
	z.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{})
}

// stroke adds a segment of strokeWidth as a closed quad.
func stroke(z *vector.Rasterizer, ax, ay, bx, by float32) {
	dx, dy := bx-ax, by-ay
	l := float32(math.Hypot(float64(dx), float64(dy)))
	if l == 0 {
		return
	}
	nx, ny := -dy/l*strokeWidth/2, dx/l*strokeWidth/2
	z.MoveTo(ax+nx, ay+ny)
	z.LineTo(bx+nx, by+ny)
	z.LineTo(bx-nx, by-ny)
	z.LineTo(ax-nx, ay-ny)
	z.ClosePath()
}

func parseColor(s string) color.Color {
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return color.Black
	}
	return color.RGBA{r, g, b, 0xff}
}
