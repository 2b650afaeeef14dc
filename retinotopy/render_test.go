package retinotopy

import (
	"bytes"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderToSVG(t *testing.T) {
	flat := newTestFlatMap(t, retinotopyProps())
	r := NewFlatMapRenderer(flat)
	r.Optimized = []Point{{0.1, 0.1}, {1, 0}, {0, 1}, {1, 1}}
	r.Anchors = &AnchorSet{
		Vertices: []int{0, 3},
		Targets:  []Point{{0.5, 0.5}, {1.2, 1.2}},
		Weights:  []float64{1, 1},
	}

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("RenderToSVG: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "<svg") {
		t.Error("output has no svg element")
	}
	if !strings.Contains(out, "<path") {
		t.Error("output has no path elements")
	}
}

func TestRenderToPNG(t *testing.T) {
	flat := newTestFlatMap(t, retinotopyProps())
	r := NewFlatMapRenderer(flat)

	var buf bytes.Buffer
	if err := r.RenderToPNG(&buf); err != nil {
		t.Fatalf("RenderToPNG: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decoding output PNG: %v", err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		t.Errorf("empty image bounds %v", img.Bounds())
	}
}

func TestAngleRaster(t *testing.T) {
	flat := newTestFlatMap(t, retinotopyProps())
	r := NewAngleRaster(flat, "polar_angle")

	img, err := r.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if img.Bounds().Dx() != 800 || img.Bounds().Dy() != 800 {
		t.Errorf("image bounds %v, want 800x800", img.Bounds())
	}
	// Vertex dots must stand out against the white background.
	colored := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) != (color.RGBA{255, 255, 255, 255}) {
				colored++
			}
		}
	}
	if colored == 0 {
		t.Error("rendered image is entirely white")
	}

	path := filepath.Join(t.TempDir(), "angle.png")
	if err := r.SavePNG(path); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}
}

func TestAngleRasterMissingProperty(t *testing.T) {
	flat := newTestFlatMap(t, nil)
	if _, err := NewAngleRaster(flat, "polar_angle").Render(); err == nil {
		t.Error("Render with a missing property succeeded")
	}
}
