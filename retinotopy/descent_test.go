package retinotopy

import (
	"math"
	"testing"
)

// numericalGradient approximates the gradient of a potential with central
// differences, for checking the analytic gradients.
func numericalGradient(pot potential, x []Point) []Point {
	const h = 1e-6
	grad := make([]Point, len(x))
	probe := make([]Point, len(x))
	copy(probe, x)
	for i := range x {
		probe[i].X = x[i].X + h
		ep := pot.energy(probe)
		probe[i].X = x[i].X - h
		em := pot.energy(probe)
		probe[i].X = x[i].X
		grad[i].X = (ep - em) / (2 * h)

		probe[i].Y = x[i].Y + h
		ep = pot.energy(probe)
		probe[i].Y = x[i].Y - h
		em = pot.energy(probe)
		probe[i].Y = x[i].Y
		grad[i].Y = (ep - em) / (2 * h)
	}
	return grad
}

func TestTermGradientsMatchNumerical(t *testing.T) {
	engine := NewDescentEngine()
	rest := []Point{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	// Evaluate away from the rest configuration so every term has a nonzero
	// gradient, but gently enough that the infinite well stays finite.
	eval := []Point{{-0.05, 0.03}, {1.1, -0.04}, {0.02, 0.93}, {1.02, 1.08}}

	tests := []struct {
		name  string
		kind  FieldKind
		shape FieldShape
		p     TermParams
	}{
		{name: "edge harmonic", kind: FieldEdge, shape: ShapeHarmonic,
			p: TermParams{Scale: 1, Order: 2}},
		{name: "edge harmonic quartic", kind: FieldEdge, shape: ShapeHarmonic,
			p: TermParams{Scale: 0.5, Order: 4}},
		{name: "edge lennard-jones", kind: FieldEdge, shape: ShapeLennardJones,
			p: TermParams{Scale: 1, Order: 2}},
		{name: "angle harmonic", kind: FieldAngle, shape: ShapeHarmonic,
			p: TermParams{Scale: 1, Order: 2}},
		{name: "angle infinite-well", kind: FieldAngle, shape: ShapeInfiniteWell,
			p: TermParams{Scale: 1, Order: 2, Min: 0, Max: math.Pi}},
		{name: "anchor harmonic", kind: FieldAnchor, shape: ShapeHarmonic,
			p: TermParams{Scale: 2, Order: 2, Vertices: []int{0, 3}, Targets: []Point{{1, 1}, {0, 0}}}},
		{name: "anchor gaussian", kind: FieldAnchor, shape: ShapeGaussian,
			p: TermParams{Scale: 2, Order: 2, Sigma: []float64{0.8}, Vertices: []int{0, 3}, Targets: []Point{{1, 1}, {0, 0}}}},
		{name: "perimeter harmonic", kind: FieldPerimeter, shape: ShapeHarmonic,
			p: TermParams{Scale: 1, Order: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.p.Faces = testFaces
			tt.p.Coords = rest
			handle, err := engine.CompileTerm(tt.kind, tt.shape, tt.p)
			if err != nil {
				t.Fatalf("CompileTerm: %v", err)
			}
			pot := handle.(potential)

			analytic := make([]Point, len(eval))
			pot.addGradient(eval, analytic)
			numeric := numericalGradient(pot, eval)

			for i := range eval {
				if math.Abs(analytic[i].X-numeric[i].X) > 1e-4 ||
					math.Abs(analytic[i].Y-numeric[i].Y) > 1e-4 {
					t.Errorf("vertex %d: analytic gradient (%.6f, %.6f), numeric (%.6f, %.6f)",
						i, analytic[i].X, analytic[i].Y, numeric[i].X, numeric[i].Y)
				}
			}
		})
	}
}

func TestMinimizeAnchorConvergence(t *testing.T) {
	engine := NewDescentEngine()
	spec := FieldSpec{
		Kind: FieldAnchor, Shape: ShapeHarmonic,
		Vertices: []int{0}, Targets: []Point{{1, 1}},
		Params: []FieldParam{Scalar("scale", 10)},
	}
	term, err := CompileFields(engine, []FieldSpec{spec}, testFaces, testCoords)
	if err != nil {
		t.Fatalf("CompileFields: %v", err)
	}

	result, err := engine.Minimize(term, testCoords, MinimizeOptions{})
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}

	if d := Distance(result.Coords[0], Point{1, 1}); d > 1e-3 {
		t.Errorf("vertex 0 ended %.6f from target, want < 1e-3", d)
	}
	for i := 1; i < 4; i++ {
		if d := Distance(result.Coords[i], testCoords[i]); d > 1e-12 {
			t.Errorf("unanchored vertex %d moved %.3g", i, d)
		}
	}
	if result.FinalEnergy >= result.InitialEnergy {
		t.Errorf("energy did not decrease: %.6g -> %.6g", result.InitialEnergy, result.FinalEnergy)
	}
	if !result.Converged {
		t.Errorf("expected convergence, stopped after %d steps", result.Steps)
	}
}

func TestMinimizeRespectsStepBudget(t *testing.T) {
	engine := NewDescentEngine()
	spec := FieldSpec{
		Kind: FieldAnchor, Shape: ShapeHarmonic,
		Vertices: []int{0}, Targets: []Point{{5, 5}},
	}
	term, err := CompileFields(engine, []FieldSpec{spec}, testFaces, testCoords)
	if err != nil {
		t.Fatalf("CompileFields: %v", err)
	}
	result, err := engine.Minimize(term, testCoords, MinimizeOptions{MaxSteps: 3})
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if result.Steps > 3 {
		t.Errorf("took %d steps, budget was 3", result.Steps)
	}
	// The target is ~7 units away; 3 steps of at most 0.05 cannot reach it.
	if result.Converged {
		t.Error("reported convergence inside a 3-step budget")
	}
}

func TestMinimizeStopsAtEnergyTarget(t *testing.T) {
	engine := NewDescentEngine()
	spec := FieldSpec{
		Kind: FieldAnchor, Shape: ShapeHarmonic,
		Vertices: []int{0}, Targets: []Point{{0.5, 0}},
	}
	term, err := CompileFields(engine, []FieldSpec{spec}, testFaces, testCoords)
	if err != nil {
		t.Fatalf("CompileFields: %v", err)
	}
	// Ask for only a 10% energy reduction; the minimizer should stop early.
	result, err := engine.Minimize(term, testCoords, MinimizeOptions{MaxPEChange: 0.1})
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if !result.Converged {
		t.Error("expected early convergence at the energy target")
	}
	target := result.InitialEnergy * 0.9
	if result.FinalEnergy > target {
		t.Errorf("final energy %.6g above target %.6g", result.FinalEnergy, target)
	}
	if result.Steps >= DefaultMinimizeOptions().MaxSteps {
		t.Errorf("used the full step budget (%d steps) for a 10%% reduction", result.Steps)
	}
}

func TestMinimizePartitionedStepping(t *testing.T) {
	engine := NewDescentEngine()
	// Anchor every vertex so all partition groups carry gradient.
	spec := FieldSpec{
		Kind: FieldAnchor, Shape: ShapeHarmonic,
		Vertices: []int{0, 1, 2, 3},
		Targets:  []Point{{0.2, 0.2}, {0.8, 0.2}, {0.2, 0.8}, {0.8, 0.8}},
		Params:   []FieldParam{Scalar("scale", 5)},
	}
	term, err := CompileFields(engine, []FieldSpec{spec}, testFaces, testCoords)
	if err != nil {
		t.Fatalf("CompileFields: %v", err)
	}
	result, err := engine.Minimize(term, testCoords, MinimizeOptions{PartitionK: 4})
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	targets := []Point{{0.2, 0.2}, {0.8, 0.2}, {0.2, 0.8}, {0.8, 0.8}}
	for i, tgt := range targets {
		if d := Distance(result.Coords[i], tgt); d > 1e-3 {
			t.Errorf("vertex %d ended %.6f from its anchor", i, d)
		}
	}
}

func TestMinimizeRejectsForeignTerm(t *testing.T) {
	engine := NewDescentEngine()
	if _, err := engine.Minimize(recordedHandle{}, testCoords, MinimizeOptions{}); err == nil {
		t.Error("expected an error for a term compiled by another engine")
	}
	if _, err := engine.Sum(recordedHandle{}); err == nil {
		t.Error("expected Sum to reject a foreign term")
	}
}

func TestEdgeAndAngleTermsHoldRestShape(t *testing.T) {
	engine := NewDescentEngine()
	spec := MeshField()
	term, err := CompileFields(engine, []FieldSpec{spec}, testFaces, testCoords)
	if err != nil {
		t.Fatalf("CompileFields: %v", err)
	}
	pot := term.(potential)
	if e := pot.energy(testCoords); e > 1e-12 {
		t.Errorf("composite energy at rest = %.3g, want 0", e)
	}
	grad := make([]Point, len(testCoords))
	pot.addGradient(testCoords, grad)
	for i, g := range grad {
		if math.Hypot(g.X, g.Y) > 1e-9 {
			t.Errorf("vertex %d has gradient (%.3g, %.3g) at rest", i, g.X, g.Y)
		}
	}
}
