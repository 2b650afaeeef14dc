package retinotopy

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// AngleRaster renders a quick raster view of a per-vertex property over the
// flat map, with a colorbar-free heat ramp and a text label. It trades the
// vector renderer's quality for speed; useful when eyeballing interpolated
// retinotopy before a long optimization run.
type AngleRaster struct {
	Flat     *FlatMap
	Property string
	Width    int
	Height   int
}

// NewAngleRaster creates a raster renderer with default dimensions.
func NewAngleRaster(flat *FlatMap, property string) *AngleRaster {
	return &AngleRaster{Flat: flat, Property: property, Width: 800, Height: 800}
}

// Render produces the property heat map image.
func (r *AngleRaster) Render() (*image.RGBA, error) {
	values, ok := r.Flat.Prop(r.Property)
	if !ok {
		return nil, fmt.Errorf("property %q not on flat map: %w", r.Property, ErrMissingData)
	}

	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			img.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, p := range r.Flat.Coords {
		minX, minY = math.Min(minX, p.X), math.Min(minY, p.Y)
		maxX, maxY = math.Max(maxX, p.X), math.Max(maxY, p.Y)
		if isDefined(values[i]) {
			lo, hi = math.Min(lo, values[i]), math.Max(hi, values[i])
		}
	}
	if hi <= lo {
		hi = lo + 1
	}
	const margin = 20
	sx := float64(r.Width-2*margin) / math.Max(maxX-minX, 1e-9)
	sy := float64(r.Height-2*margin) / math.Max(maxY-minY, 1e-9)
	scale := math.Min(sx, sy)

	for i, p := range r.Flat.Coords {
		x := margin + int((p.X-minX)*scale)
		y := r.Height - margin - int((p.Y-minY)*scale) // image Y grows downward
		c := color.RGBA{200, 200, 200, 255}            // undefined values in gray
		if isDefined(values[i]) {
			t := (values[i] - lo) / (hi - lo)
			c = heatColor(t)
		}
		drawDot(img, x, y, c)
	}

	drawText(img, 10, 15, fmt.Sprintf("%s [%.3g, %.3g]", r.Property, lo, hi), color.RGBA{0, 0, 0, 255})
	return img, nil
}

// SavePNG renders and writes the image to a file.
func (r *AngleRaster) SavePNG(path string) error {
	img, err := r.Render()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	return png.Encode(f, img)
}

// heatColor maps t in [0, 1] onto a blue-to-red ramp.
func heatColor(t float64) color.RGBA {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return color.RGBA{
		R: uint8(255 * t),
		G: uint8(64 * (1 - math.Abs(2*t-1))),
		B: uint8(255 * (1 - t)),
		A: 255,
	}
}

// drawDot paints a small filled square centered at (cx, cy).
func drawDot(img *image.RGBA, cx, cy int, c color.RGBA) {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			x, y := cx+dx, cy+dy
			if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
				img.Set(x, y, c)
			}
		}
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
