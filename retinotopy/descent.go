package retinotopy

import (
	"fmt"
	"math"
)

// DescentEngine is the in-process reference implementation of Engine: a
// gradient-descent minimizer with per-step backtracking and optional
// partitioned ("nimble") stepping across k vertex groups.
type DescentEngine struct{}

// NewDescentEngine returns an in-process optimization engine.
func NewDescentEngine() *DescentEngine { return &DescentEngine{} }

// potential is the engine-side view of a compiled term.
type potential interface {
	TermHandle
	energy(x []Point) float64
	addGradient(x []Point, grad []Point)
}

// CompileTerm builds an engine term from resolved descriptor parameters.
func (e *DescentEngine) CompileTerm(kind FieldKind, shape FieldShape, p TermParams) (TermHandle, error) {
	switch kind {
	case FieldEdge:
		return newEdgeTerm(shape, p)
	case FieldAngle:
		return newAngleTerm(shape, p)
	case FieldPerimeter:
		return newPerimeterTerm(shape, p)
	case FieldAnchor:
		return newAnchorTerm(shape, p)
	}
	return nil, fmt.Errorf("field type %q: %w", kind, ErrUnsupportedField)
}

// Sum combines terms into a single additive potential. Summation order does
// not affect the energy; the input order is kept for diagnostics only.
func (e *DescentEngine) Sum(terms ...TermHandle) (TermHandle, error) {
	parts := make([]potential, len(terms))
	for i, t := range terms {
		pot, ok := t.(potential)
		if !ok {
			return nil, fmt.Errorf("term %d was not compiled by this engine", i)
		}
		parts[i] = pot
	}
	return &sumTerm{parts: parts}, nil
}

// Minimize runs gradient descent from the initial coordinates until the step
// budget is exhausted, the potential has dropped to (1 - MaxPEChange) of its
// initial value, or no step at any scale improves the potential.
func (e *DescentEngine) Minimize(term TermHandle, initial []Point, opts MinimizeOptions) (MinimizeResult, error) {
	pot, ok := term.(potential)
	if !ok {
		return MinimizeResult{}, fmt.Errorf("term was not compiled by this engine")
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMinimizeOptions().MaxSteps
	}
	if opts.MaxStepSize <= 0 {
		opts.MaxStepSize = DefaultMinimizeOptions().MaxStepSize
	}
	if opts.MaxPEChange <= 0 || opts.MaxPEChange > 1 {
		opts.MaxPEChange = DefaultMinimizeOptions().MaxPEChange
	}
	if opts.PartitionK <= 0 {
		opts.PartitionK = DefaultMinimizeOptions().PartitionK
	}

	x := make([]Point, len(initial))
	copy(x, initial)

	pe := pot.energy(x)
	result := MinimizeResult{InitialEnergy: pe}
	target := pe * (1 - opts.MaxPEChange)

	// Partition vertices round-robin into k groups. With k == 1 this is a
	// plain full-gradient step.
	k := opts.PartitionK
	if k > len(x) && len(x) > 0 {
		k = len(x)
	}
	groups := make([][]int, k)
	for i := range x {
		groups[i%k] = append(groups[i%k], i)
	}

	grad := make([]Point, len(x))
	saved := make([]Point, len(x))

	for step := 0; step < opts.MaxSteps && pe > target; step++ {
		result.Steps = step + 1
		improved := false

		for _, group := range groups {
			for i := range grad {
				grad[i] = Point{}
			}
			pot.addGradient(x, grad)

			maxg := 0.0
			for _, i := range group {
				if g := math.Hypot(grad[i].X, grad[i].Y); g > maxg {
					maxg = g
				}
			}
			if maxg < 1e-14 {
				continue
			}

			// Move the group by at most MaxStepSize, halving the step until
			// the total potential improves.
			dt := opts.MaxStepSize / maxg
			for _, i := range group {
				saved[i] = x[i]
			}
			accepted := false
			for try := 0; try < 32; try++ {
				for _, i := range group {
					x[i] = Point{X: saved[i].X - dt*grad[i].X, Y: saved[i].Y - dt*grad[i].Y}
				}
				if cand := pot.energy(x); cand < pe {
					pe = cand
					accepted = true
					improved = true
					break
				}
				dt /= 2
			}
			if !accepted {
				for _, i := range group {
					x[i] = saved[i]
				}
			}
		}

		if !improved {
			result.Converged = true
			break
		}
	}
	if pe <= target {
		result.Converged = true
	}

	result.Coords = x
	result.FinalEnergy = pe
	return result, nil
}

// ---- edge term ----

type edgeTerm struct {
	shape FieldShape
	edges [][2]int
	rest  []float64
	scale float64
	order float64
}

func newEdgeTerm(shape FieldShape, p TermParams) (*edgeTerm, error) {
	if shape != ShapeHarmonic && shape != ShapeLennardJones {
		return nil, fmt.Errorf("shape %q not supported for edges: %w", shape, ErrUnsupportedField)
	}
	if p.Coords == nil {
		return nil, fmt.Errorf("edge term needs reference coordinates: %w", ErrMalformedDescriptor)
	}
	edges, _ := edgesFromFaces(p.Faces)
	rest := make([]float64, len(edges))
	for i, e := range edges {
		rest[i] = Distance(p.Coords[e[0]], p.Coords[e[1]])
	}
	return &edgeTerm{shape: shape, edges: edges, rest: rest, scale: p.Scale, order: p.Order}, nil
}

func (t *edgeTerm) Describe() string {
	return fmt.Sprintf("edge[%s scale=%g order=%g edges=%d]", t.shape, t.scale, t.order, len(t.edges))
}

func (t *edgeTerm) energy(x []Point) float64 {
	total := 0.0
	for i, e := range t.edges {
		r := Distance(x[e[0]], x[e[1]])
		total += shapeEnergy(t.shape, r, t.rest[i], t.scale, t.order)
	}
	return total
}

func (t *edgeTerm) addGradient(x []Point, grad []Point) {
	for i, e := range t.edges {
		a, b := x[e[0]], x[e[1]]
		r := Distance(a, b)
		if r < 1e-12 {
			continue
		}
		dEdr := shapeDerivative(t.shape, r, t.rest[i], t.scale, t.order)
		ux := (b.X - a.X) / r
		uy := (b.Y - a.Y) / r
		grad[e[1]].X += dEdr * ux
		grad[e[1]].Y += dEdr * uy
		grad[e[0]].X -= dEdr * ux
		grad[e[0]].Y -= dEdr * uy
	}
}

// shapeEnergy evaluates a radial shape function at deviation (r vs rest r0).
func shapeEnergy(shape FieldShape, r, r0, c, q float64) float64 {
	switch shape {
	case ShapeLennardJones:
		if r < 1e-12 {
			r = 1e-12
		}
		ratio := r0 / r
		return c * (1 + math.Pow(ratio, q) - 2*math.Pow(ratio, q/2))
	default: // harmonic
		return c / q * math.Pow(math.Abs(r-r0), q)
	}
}

func shapeDerivative(shape FieldShape, r, r0, c, q float64) float64 {
	switch shape {
	case ShapeLennardJones:
		if r < 1e-12 {
			r = 1e-12
		}
		return c * q * (math.Pow(r0, q/2)/math.Pow(r, q/2+1) - math.Pow(r0, q)/math.Pow(r, q+1))
	default: // harmonic
		d := r - r0
		if d == 0 {
			return 0
		}
		return c * math.Pow(math.Abs(d), q-1) * sign(d)
	}
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// ---- angle term ----

type corner struct {
	apex, b, c int
	rest       float64
}

type angleTerm struct {
	shape   FieldShape
	corners []corner
	scale   float64
	order   float64
	min     float64
	max     float64
}

func newAngleTerm(shape FieldShape, p TermParams) (*angleTerm, error) {
	switch shape {
	case ShapeHarmonic, ShapeLennardJones, ShapeInfiniteWell:
	default:
		return nil, fmt.Errorf("shape %q not supported for angles: %w", shape, ErrUnsupportedField)
	}
	if p.Coords == nil {
		return nil, fmt.Errorf("angle term needs reference coordinates: %w", ErrMalformedDescriptor)
	}
	var corners []corner
	for _, f := range p.Faces {
		rotations := [3][3]int{{f[0], f[1], f[2]}, {f[1], f[2], f[0]}, {f[2], f[0], f[1]}}
		for _, rot := range rotations {
			rest := cornerAngle(p.Coords[rot[0]], p.Coords[rot[1]], p.Coords[rot[2]])
			corners = append(corners, corner{apex: rot[0], b: rot[1], c: rot[2], rest: rest})
		}
	}
	return &angleTerm{shape: shape, corners: corners, scale: p.Scale, order: p.Order, min: p.Min, max: p.Max}, nil
}

func (t *angleTerm) Describe() string {
	return fmt.Sprintf("angle[%s scale=%g order=%g corners=%d]", t.shape, t.scale, t.order, len(t.corners))
}

// cornerAngle measures the interior angle at apex a between rays to b and c.
func cornerAngle(a, b, c Point) float64 {
	ux, uy := b.X-a.X, b.Y-a.Y
	vx, vy := c.X-a.X, c.Y-a.Y
	ru := math.Hypot(ux, uy)
	rv := math.Hypot(vx, vy)
	if ru < 1e-12 || rv < 1e-12 {
		return 0
	}
	cos := (ux*vx + uy*vy) / (ru * rv)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return math.Acos(cos)
}

func (t *angleTerm) angleEnergy(theta, rest float64) float64 {
	switch t.shape {
	case ShapeInfiniteWell:
		m, M := t.min, t.max
		if theta <= m || theta >= M {
			return math.Inf(1)
		}
		u := math.Pow((rest-m)/(theta-m), t.order)
		v := math.Pow((M-rest)/(M-theta), t.order)
		return t.scale * ((u-1)*(u-1) + (v-1)*(v-1))
	case ShapeLennardJones:
		return shapeEnergy(ShapeLennardJones, theta, rest, t.scale, t.order)
	default:
		return shapeEnergy(ShapeHarmonic, theta, rest, t.scale, t.order)
	}
}

func (t *angleTerm) angleDerivative(theta, rest float64) float64 {
	switch t.shape {
	case ShapeInfiniteWell:
		m, M := t.min, t.max
		if theta <= m || theta >= M {
			return 0
		}
		u := math.Pow((rest-m)/(theta-m), t.order)
		v := math.Pow((M-rest)/(M-theta), t.order)
		du := -t.order * u / (theta - m)
		dv := t.order * v / (M - theta)
		return t.scale * (2*(u-1)*du + 2*(v-1)*dv)
	case ShapeLennardJones:
		return shapeDerivative(ShapeLennardJones, theta, rest, t.scale, t.order)
	default:
		return shapeDerivative(ShapeHarmonic, theta, rest, t.scale, t.order)
	}
}

func (t *angleTerm) energy(x []Point) float64 {
	total := 0.0
	for _, cr := range t.corners {
		total += t.angleEnergy(cornerAngle(x[cr.apex], x[cr.b], x[cr.c]), cr.rest)
	}
	return total
}

func (t *angleTerm) addGradient(x []Point, grad []Point) {
	for _, cr := range t.corners {
		a, b, c := x[cr.apex], x[cr.b], x[cr.c]
		ru := Distance(a, b)
		rv := Distance(a, c)
		if ru < 1e-12 || rv < 1e-12 {
			continue
		}
		theta := cornerAngle(a, b, c)
		sin := math.Sin(theta)
		if sin < 1e-9 {
			continue
		}
		dEdTheta := t.angleDerivative(theta, cr.rest)
		if dEdTheta == 0 {
			continue
		}
		cos := math.Cos(theta)
		ux, uy := (b.X-a.X)/ru, (b.Y-a.Y)/ru
		vx, vy := (c.X-a.X)/rv, (c.Y-a.Y)/rv

		// dTheta/dB and dTheta/dC from the acos(u . v) form.
		dbx := -(vx - cos*ux) / (ru * sin)
		dby := -(vy - cos*uy) / (ru * sin)
		dcx := -(ux - cos*vx) / (rv * sin)
		dcy := -(uy - cos*vy) / (rv * sin)

		grad[cr.b].X += dEdTheta * dbx
		grad[cr.b].Y += dEdTheta * dby
		grad[cr.c].X += dEdTheta * dcx
		grad[cr.c].Y += dEdTheta * dcy
		grad[cr.apex].X -= dEdTheta * (dbx + dcx)
		grad[cr.apex].Y -= dEdTheta * (dby + dcy)
	}
}

// ---- anchor term ----

type anchorTerm struct {
	shape    FieldShape
	vertices []int
	targets  []Point
	weights  []float64
	sigmas   []float64 // always per-anchor when gaussian
	order    float64
}

func newAnchorTerm(shape FieldShape, p TermParams) (*anchorTerm, error) {
	if shape != ShapeHarmonic && shape != ShapeGaussian {
		return nil, fmt.Errorf("shape %q not supported for anchors: %w", shape, ErrUnsupportedField)
	}
	n := len(p.Vertices)
	weights := make([]float64, n)
	for i := range weights {
		if p.Weights != nil {
			weights[i] = p.Weights[i]
		} else {
			weights[i] = p.Scale
		}
	}
	var sigmas []float64
	if shape == ShapeGaussian {
		sigmas = make([]float64, n)
		for i := range sigmas {
			switch {
			case len(p.Sigma) == 0:
				sigmas[i] = 2.0
			case len(p.Sigma) == 1:
				sigmas[i] = p.Sigma[0]
			default:
				sigmas[i] = p.Sigma[i]
			}
		}
	}
	return &anchorTerm{
		shape:    shape,
		vertices: append([]int(nil), p.Vertices...),
		targets:  append([]Point(nil), p.Targets...),
		weights:  weights,
		sigmas:   sigmas,
		order:    p.Order,
	}, nil
}

func (t *anchorTerm) Describe() string {
	return fmt.Sprintf("anchor[%s anchors=%d order=%g]", t.shape, len(t.vertices), t.order)
}

func (t *anchorTerm) energy(x []Point) float64 {
	total := 0.0
	for i, v := range t.vertices {
		r := Distance(x[v], t.targets[i])
		if t.shape == ShapeGaussian {
			total += t.weights[i] * (1 - math.Exp(-0.5*math.Pow(r/t.sigmas[i], t.order)))
		} else {
			total += t.weights[i] / t.order * math.Pow(r, t.order)
		}
	}
	return total
}

func (t *anchorTerm) addGradient(x []Point, grad []Point) {
	for i, v := range t.vertices {
		p := x[v]
		tgt := t.targets[i]
		r := Distance(p, tgt)
		if r < 1e-12 {
			continue
		}
		var dEdr float64
		if t.shape == ShapeGaussian {
			s := t.sigmas[i]
			ratio := r / s
			dEdr = t.weights[i] * math.Exp(-0.5*math.Pow(ratio, t.order)) *
				0.5 * t.order * math.Pow(ratio, t.order-1) / s
		} else {
			dEdr = t.weights[i] * math.Pow(r, t.order-1)
		}
		grad[v].X += dEdr * (p.X - tgt.X) / r
		grad[v].Y += dEdr * (p.Y - tgt.Y) / r
	}
}

// ---- perimeter term ----

type perimeterTerm struct {
	vertices []int
	ref      []Point
	scale    float64
	order    float64
}

func newPerimeterTerm(shape FieldShape, p TermParams) (*perimeterTerm, error) {
	if shape != ShapeHarmonic {
		return nil, fmt.Errorf("shape %q not supported for perimeters: %w", shape, ErrUnsupportedField)
	}
	if p.Coords == nil {
		return nil, fmt.Errorf("perimeter term needs reference coordinates: %w", ErrMalformedDescriptor)
	}
	vertices := perimeterVertices(p.Faces)
	ref := make([]Point, len(vertices))
	for i, v := range vertices {
		ref[i] = p.Coords[v]
	}
	return &perimeterTerm{vertices: vertices, ref: ref, scale: p.Scale, order: p.Order}, nil
}

func (t *perimeterTerm) Describe() string {
	return fmt.Sprintf("perimeter[harmonic scale=%g order=%g vertices=%d]", t.scale, t.order, len(t.vertices))
}

func (t *perimeterTerm) energy(x []Point) float64 {
	total := 0.0
	for i, v := range t.vertices {
		r := Distance(x[v], t.ref[i])
		total += t.scale / t.order * math.Pow(r, t.order)
	}
	return total
}

func (t *perimeterTerm) addGradient(x []Point, grad []Point) {
	for i, v := range t.vertices {
		p := x[v]
		r := Distance(p, t.ref[i])
		if r < 1e-12 {
			continue
		}
		dEdr := t.scale * math.Pow(r, t.order-1)
		grad[v].X += dEdr * (p.X - t.ref[i].X) / r
		grad[v].Y += dEdr * (p.Y - t.ref[i].Y) / r
	}
}

// ---- sum term ----

type sumTerm struct {
	parts []potential
}

func (t *sumTerm) Describe() string {
	return fmt.Sprintf("sum[%d terms]", len(t.parts))
}

func (t *sumTerm) energy(x []Point) float64 {
	total := 0.0
	for _, p := range t.parts {
		total += p.energy(x)
	}
	return total
}

func (t *sumTerm) addGradient(x []Point, grad []Point) {
	for _, p := range t.parts {
		p.addGradient(x, grad)
	}
}
