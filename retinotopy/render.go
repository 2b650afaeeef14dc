package retinotopy

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// FlatMapRenderer renders a flattened cortical patch as vector graphics: the
// triangulation wireframe, optionally the optimized coordinates overlaid, and
// the anchor targets.
type FlatMapRenderer struct {
	Flat      *FlatMap
	Optimized []Point    // nil skips the overlay
	Anchors   *AnchorSet // nil skips anchor targets

	Scale      float64           // world units per map unit
	Padding    float64           // padding in world units
	Resolution canvas.Resolution // resolution for PNG output
}

// NewFlatMapRenderer creates a renderer with default settings.
func NewFlatMapRenderer(flat *FlatMap) *FlatMapRenderer {
	return &FlatMapRenderer{
		Flat:       flat,
		Scale:      10.0,
		Padding:    5.0,
		Resolution: canvas.DPI(300),
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the flat map as an SVG to the provided writer
func (r *FlatMapRenderer) RenderToSVG(w io.Writer) error {
	minX, minY, width, height := r.bounds()
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, minX, minY, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the flat map as a PNG to the provided writer
func (r *FlatMapRenderer) RenderToPNG(w io.Writer) error {
	minX, minY, width, height := r.bounds()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, minX, minY, height)
	return png.Encode(w, rast)
}

// bounds computes the world-space canvas bounds covering the flat map, any
// optimized overlay, and any anchor targets.
func (r *FlatMapRenderer) bounds() (minX, minY, width, height float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	include := func(p Point) {
		x, y := p.X*r.Scale, p.Y*r.Scale
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
		maxX = math.Max(maxX, x)
		maxY = math.Max(maxY, y)
	}
	for _, p := range r.Flat.Coords {
		include(p)
	}
	for _, p := range r.Optimized {
		include(p)
	}
	if r.Anchors != nil {
		for _, p := range r.Anchors.Targets {
			include(p)
		}
	}
	if math.IsInf(minX, 1) {
		minX, minY, maxX, maxY = 0, 0, 1, 1
	}
	width = (maxX - minX) + 2*r.Padding
	height = (maxY - minY) + 2*r.Padding
	return minX, minY, width, height
}

func (r *FlatMapRenderer) toCanvas(p Point, minX, minY float64) (float64, float64) {
	return p.X*r.Scale - minX + r.Padding, p.Y*r.Scale - minY + r.Padding
}

// renderToCanvas renders to a canvas renderer (shared logic for SVG and PNG)
func (r *FlatMapRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, height float64) {
	width := 0.0
	for _, p := range r.Flat.Coords {
		if x := p.X*r.Scale - minX + r.Padding; x > width {
			width = x
		}
	}
	width += r.Padding

	// White background
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// Original triangulation wireframe in gray
	r.renderWireframe(renderer, r.Flat.Coords, minX, minY, color.RGBA{R: 0xB0, G: 0xB0, B: 0xB0, A: 0xFF}, 0.15)

	// Optimized triangulation overlaid in blue
	if r.Optimized != nil {
		r.renderWireframe(renderer, r.Optimized, minX, minY, color.RGBA{R: 0x1F, G: 0x4E, B: 0xC8, A: 0xFF}, 0.2)
	}

	// Anchor targets as red dots; a line ties each target to its vertex's
	// current position so large residuals stand out.
	if r.Anchors != nil {
		coords := r.Flat.Coords
		if r.Optimized != nil {
			coords = r.Optimized
		}
		tieStyle := canvas.DefaultStyle
		tieStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		tieStyle.Stroke = canvas.Paint{Color: color.RGBA{R: 0xE0, G: 0x70, B: 0x70, A: 0xFF}}
		tieStyle.StrokeWidth = 0.1

		dotStyle := canvas.DefaultStyle
		dotStyle.Fill = canvas.Paint{Color: color.RGBA{R: 0xC0, G: 0x20, B: 0x20, A: 0xFF}}
		dotStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

		for i, tgt := range r.Anchors.Targets {
			tx, ty := r.toCanvas(tgt, minX, minY)
			vx, vy := r.toCanvas(coords[r.Anchors.Vertices[i]], minX, minY)

			tie := &canvas.Path{}
			tie.MoveTo(vx, vy)
			tie.LineTo(tx, ty)
			renderer.RenderPath(tie, tieStyle, canvas.Identity)

			dot := canvas.Circle(0.3)
			renderer.RenderPath(dot.Translate(tx, ty), dotStyle, canvas.Identity)
		}
	}
}

func (r *FlatMapRenderer) renderWireframe(renderer canvasRenderer, coords []Point, minX, minY float64, col color.RGBA, strokeWidth float64) {
	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: canvas.Transparent}
	style.Stroke = canvas.Paint{Color: col}
	style.StrokeWidth = strokeWidth

	edges, _ := edgesFromFaces(r.Flat.Faces)
	for _, e := range edges {
		ax, ay := r.toCanvas(coords[e[0]], minX, minY)
		bx, by := r.toCanvas(coords[e[1]], minX, minY)
		cp := &canvas.Path{}
		cp.MoveTo(ax, ay)
		cp.LineTo(bx, by)
		renderer.RenderPath(cp, style, canvas.Identity)
	}
}
