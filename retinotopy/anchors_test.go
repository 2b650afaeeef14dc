package retinotopy

import (
	"errors"
	"math"
	"testing"
)

// stubModel returns fixed candidates for every vertex with defined inputs.
type stubModel struct {
	candidates []Point
}

func (m *stubModel) AngleToCortex(polarAngle, eccentricity []float64) ([][]Point, error) {
	out := make([][]Point, len(polarAngle))
	for i := range polarAngle {
		if math.IsNaN(polarAngle[i]) || math.IsNaN(eccentricity[i]) {
			continue
		}
		out[i] = m.candidates
	}
	return out, nil
}

// newTestFlatMap builds a unit-square flat map with the given properties.
func newTestFlatMap(t *testing.T, props map[string][]float64) *FlatMap {
	t.Helper()
	flat := &FlatMap{
		Labels: []int{0, 1, 2, 3},
		Coords: []Point{{0, 0}, {1, 0}, {0, 1}, {1, 1}},
		Faces:  [][3]int{{0, 1, 2}, {1, 3, 2}},
		store:  newPropertyStore(4),
	}
	for name, vals := range props {
		if err := flat.SetProp(name, vals); err != nil {
			t.Fatalf("SetProp(%q): %v", name, err)
		}
	}
	return flat
}

func retinotopyProps() map[string][]float64 {
	return map[string][]float64{
		"polar_angle":  {10, 20, 30, 40},
		"eccentricity": {1, 2, 3, 4},
		"weight":       {1, 1, 1, 1},
	}
}

func TestBuildAnchorsCloseSelection(t *testing.T) {
	flat := newTestFlatMap(t, retinotopyProps())
	// One candidate inside the cutoff from vertex 0 at (0,0), one outside.
	model := &stubModel{candidates: []Point{{4.9, 0}, {5.1, 0}}}

	set, err := BuildAnchors(flat, model, AnchorOptions{CloseDistance: 5.0})
	if err != nil {
		t.Fatalf("BuildAnchors: %v", err)
	}
	// Vertex 0 keeps only the near candidate. Vertices 1-3 are closer to
	// both candidates, so counts differ per vertex; check vertex 0 directly.
	count := 0
	for i, v := range set.Vertices {
		if v != 0 {
			continue
		}
		count++
		if set.Targets[i] != (Point{4.9, 0}) {
			t.Errorf("vertex 0 anchored to %v, want (4.9, 0)", set.Targets[i])
		}
	}
	if count != 1 {
		t.Errorf("vertex 0 has %d anchors, want 1", count)
	}
}

func TestBuildAnchorsDefaultCloseDistance(t *testing.T) {
	flat := newTestFlatMap(t, retinotopyProps())
	// Mean edge length of the unit-square map is (4+sqrt2)/5; the default
	// selection radius is 20 times that, about 21.7. A candidate more than
	// 40 units from every vertex must be dropped.
	model := &stubModel{candidates: []Point{{30, 30}}}
	set, err := BuildAnchors(flat, model, AnchorOptions{})
	if err != nil {
		t.Fatalf("BuildAnchors: %v", err)
	}
	if set.Len() != 0 {
		t.Errorf("found %d anchors, want 0 beyond the default selection radius", set.Len())
	}
}

func TestBuildAnchorsWeightCutoff(t *testing.T) {
	props := retinotopyProps()
	props["weight"] = []float64{0.05, 0.5, 0, math.NaN()}
	flat := newTestFlatMap(t, props)
	model := &stubModel{candidates: []Point{{0.5, 0.5}}}

	t.Run("explicit cutoff", func(t *testing.T) {
		cutoff := 0.1
		set, err := BuildAnchors(flat, model, AnchorOptions{WeightCutoff: &cutoff})
		if err != nil {
			t.Fatalf("BuildAnchors: %v", err)
		}
		if set.Len() != 1 || set.Vertices[0] != 1 {
			t.Errorf("anchored vertices %v, want only vertex 1 above cutoff 0.1", set.Vertices)
		}
	})

	t.Run("nil cutoff keeps any nonzero weight", func(t *testing.T) {
		set, err := BuildAnchors(flat, model, AnchorOptions{})
		if err != nil {
			t.Fatalf("BuildAnchors: %v", err)
		}
		if set.Len() != 2 {
			t.Errorf("anchored %d vertices %v, want 2 (weights 0.05 and 0.5)", set.Len(), set.Vertices)
		}
	})
}

func TestBuildAnchorsAdaptiveSigma(t *testing.T) {
	flat := newTestFlatMap(t, retinotopyProps())

	t.Run("pair of candidates", func(t *testing.T) {
		model := &stubModel{candidates: []Point{{0.4, 0}, {0.4, 1}}} // 1 apart
		set, err := BuildAnchors(flat, model, AnchorOptions{
			CloseDistance: 10,
			Sigma:         AdaptiveSigma(0.05, 0.3, 2.0),
		})
		if err != nil {
			t.Fatalf("BuildAnchors: %v", err)
		}
		if set.Len() != 8 {
			t.Fatalf("anchor count %d, want 8 (2 candidates x 4 vertices)", set.Len())
		}
		for i, s := range set.Sigmas {
			if math.Abs(s-0.3) > 1e-12 {
				t.Errorf("sigma[%d] = %v, want 0.3 (0.3 x distance 1)", i, s)
			}
		}
	})

	t.Run("lone candidate gets max", func(t *testing.T) {
		model := &stubModel{candidates: []Point{{0.4, 0.4}}}
		set, err := BuildAnchors(flat, model, AnchorOptions{
			CloseDistance: 10,
			Sigma:         AdaptiveSigma(0.05, 0.3, 2.0),
		})
		if err != nil {
			t.Fatalf("BuildAnchors: %v", err)
		}
		for i, s := range set.Sigmas {
			if s != 2.0 {
				t.Errorf("sigma[%d] = %v, want max 2.0 for a lone candidate", i, s)
			}
		}
	})

	t.Run("clipping", func(t *testing.T) {
		// Candidates 0.01 apart: 0.3 x 0.01 = 0.003 clips up to the minimum.
		model := &stubModel{candidates: []Point{{0.4, 0}, {0.4, 0.01}}}
		set, err := BuildAnchors(flat, model, AnchorOptions{
			CloseDistance: 10,
			Sigma:         AdaptiveSigma(0.05, 0.3, 2.0),
		})
		if err != nil {
			t.Fatalf("BuildAnchors: %v", err)
		}
		for i, s := range set.Sigmas {
			if s != 0.05 {
				t.Errorf("sigma[%d] = %v, want clipped minimum 0.05", i, s)
			}
		}
	})
}

func TestBuildAnchorsSigmaOmitted(t *testing.T) {
	flat := newTestFlatMap(t, retinotopyProps())
	model := &stubModel{candidates: []Point{{0.4, 0.4}}}
	set, err := BuildAnchors(flat, model, AnchorOptions{CloseDistance: 10})
	if err != nil {
		t.Fatalf("BuildAnchors: %v", err)
	}
	if set.Sigmas != nil {
		t.Errorf("sigmas = %v, want nil when no sigma spec is given", set.Sigmas)
	}
}

func TestBuildAnchorsScaleMultipliesWeights(t *testing.T) {
	props := retinotopyProps()
	props["weight"] = []float64{0.5, 0.5, 0.5, 0.5}
	flat := newTestFlatMap(t, props)
	model := &stubModel{candidates: []Point{{0.4, 0.4}}}
	set, err := BuildAnchors(flat, model, AnchorOptions{CloseDistance: 10, Scale: 10})
	if err != nil {
		t.Fatalf("BuildAnchors: %v", err)
	}
	for i, w := range set.Weights {
		if w != 5 {
			t.Errorf("weight[%d] = %v, want 5 (scale 10 x weight 0.5)", i, w)
		}
	}
}

func TestBuildAnchorsSourceResolution(t *testing.T) {
	t.Run("named property", func(t *testing.T) {
		props := retinotopyProps()
		props["my_angle"] = []float64{0, 0, 0, 0}
		flat := newTestFlatMap(t, props)
		model := &stubModel{candidates: []Point{{0.4, 0.4}}}
		if _, err := BuildAnchors(flat, model, AnchorOptions{
			PolarAngle:    FieldSource{Name: "my_angle"},
			CloseDistance: 10,
		}); err != nil {
			t.Errorf("BuildAnchors with named source: %v", err)
		}
	})

	t.Run("missing named property", func(t *testing.T) {
		flat := newTestFlatMap(t, retinotopyProps())
		model := &stubModel{candidates: []Point{{0.4, 0.4}}}
		_, err := BuildAnchors(flat, model, AnchorOptions{PolarAngle: FieldSource{Name: "absent"}})
		if !errors.Is(err, ErrMissingData) {
			t.Errorf("error = %v, want ErrMissingData", err)
		}
	})

	t.Run("empirical fallback names", func(t *testing.T) {
		flat := newTestFlatMap(t, map[string][]float64{
			"PRF_polar_angle":    {10, 20, 30, 40},
			"PRF_eccentricity":   {1, 2, 3, 4},
			"variance_explained": {1, 1, 1, 1},
		})
		model := &stubModel{candidates: []Point{{0.4, 0.4}}}
		set, err := BuildAnchors(flat, model, AnchorOptions{CloseDistance: 10})
		if err != nil {
			t.Fatalf("BuildAnchors: %v", err)
		}
		if set.Len() != 4 {
			t.Errorf("anchored %d vertices through fallback names, want 4", set.Len())
		}
	})

	t.Run("explicit values length mismatch", func(t *testing.T) {
		flat := newTestFlatMap(t, retinotopyProps())
		model := &stubModel{candidates: []Point{{0.4, 0.4}}}
		_, err := BuildAnchors(flat, model, AnchorOptions{
			PolarAngle: FieldSource{Values: []float64{1, 2}},
		})
		if !errors.Is(err, ErrLengthMismatch) {
			t.Errorf("error = %v, want ErrLengthMismatch", err)
		}
	})

	t.Run("no data at all", func(t *testing.T) {
		flat := newTestFlatMap(t, nil)
		model := &stubModel{candidates: []Point{{0.4, 0.4}}}
		_, err := BuildAnchors(flat, model, AnchorOptions{})
		if !errors.Is(err, ErrMissingData) {
			t.Errorf("error = %v, want ErrMissingData", err)
		}
	})
}

func TestBuildAnchorsEmptySetCompiles(t *testing.T) {
	props := retinotopyProps()
	props["weight"] = []float64{0.01, 0.01, 0.01, 0.01}
	flat := newTestFlatMap(t, props)
	model := &stubModel{candidates: []Point{{0.5, 0.5}}}

	cutoff := 99.0
	set, err := BuildAnchors(flat, model, AnchorOptions{WeightCutoff: &cutoff})
	if err != nil {
		t.Fatalf("BuildAnchors: %v", err)
	}
	if set.Len() != 0 {
		t.Fatalf("cutoff above every weight kept %d anchors", set.Len())
	}

	// The empty set still yields a valid descriptor that compiles and
	// minimizes as a zero-energy term.
	engine := NewDescentEngine()
	term, err := CompileFields(engine, []FieldSpec{set.FieldSpec(ShapeGaussian)}, flat.Faces, flat.Coords)
	if err != nil {
		t.Fatalf("CompileFields: %v", err)
	}
	res, err := engine.Minimize(term, flat.Coords, MinimizeOptions{MaxSteps: 5})
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if res.InitialEnergy != 0 || res.FinalEnergy != 0 {
		t.Errorf("energies = %v -> %v, want 0 -> 0", res.InitialEnergy, res.FinalEnergy)
	}
	for i, p := range res.Coords {
		if p != flat.Coords[i] {
			t.Errorf("vertex %d moved to %v with no anchors", i, p)
		}
	}
}

func TestBuildAnchorsCustomSelector(t *testing.T) {
	flat := newTestFlatMap(t, retinotopyProps())
	model := &stubModel{candidates: []Point{{0.5, 0.5}}}

	// Selectors receive the vertex index, so per-vertex policies that need
	// more than the position are expressible.
	set, err := BuildAnchors(flat, model, AnchorOptions{
		Select: func(vertex int, candidates []Point) []Point {
			if vertex%2 != 0 {
				return nil
			}
			return candidates
		},
	})
	if err != nil {
		t.Fatalf("BuildAnchors: %v", err)
	}
	if len(set.Vertices) != 2 || set.Vertices[0] != 0 || set.Vertices[1] != 2 {
		t.Errorf("selected vertices = %v, want [0 2]", set.Vertices)
	}
}
