package retinotopy

import (
	"fmt"
	"math"
)

// FieldSource names or carries a per-vertex retinotopic data array. A zero
// FieldSource resolves through the conventional empirical property names; a
// Name resolves that property; explicit Values are used as-is.
type FieldSource struct {
	Name   string
	Values []float64
}

func (s FieldSource) resolve(flat *FlatMap, kind string) ([]float64, error) {
	if s.Values != nil {
		if len(s.Values) != flat.VertexCount() {
			return nil, fmt.Errorf("%s source has %d values for %d vertices: %w",
				kind, len(s.Values), flat.VertexCount(), ErrLengthMismatch)
		}
		return s.Values, nil
	}
	if s.Name != "" {
		if v, ok := flat.Prop(s.Name); ok {
			return v, nil
		}
		return nil, fmt.Errorf("property %q not found for %s: %w", s.Name, kind, ErrMissingData)
	}
	if v, ok := flat.EmpiricalData(kind); ok {
		return v, nil
	}
	return nil, fmt.Errorf("no %s data on mesh: %w", kind, ErrMissingData)
}

type sigmaKind int

const (
	sigmaNone sigmaKind = iota
	sigmaUniform
	sigmaAdaptive
)

// SigmaSpec controls the per-anchor smoothing radius attached to an anchor
// set. The adaptive form derives sigma from the spacing of a vertex's anchor
// candidates, clipped to [Min, Max].
type SigmaSpec struct {
	kind     sigmaKind
	Min      float64
	Fraction float64
	Max      float64
}

// SigmaNone omits sigmas from the anchor set.
func SigmaNone() SigmaSpec { return SigmaSpec{kind: sigmaNone} }

// UniformSigma attaches the same sigma to every anchor.
func UniformSigma(v float64) SigmaSpec {
	return SigmaSpec{kind: sigmaUniform, Min: v, Max: v}
}

// AdaptiveSigma derives each anchor's sigma as fraction times the smallest
// distance to another anchor of the same vertex, clipped to [min, max].
// Vertices with a single anchor get max.
func AdaptiveSigma(min, fraction, max float64) SigmaSpec {
	return SigmaSpec{kind: sigmaAdaptive, Min: min, Fraction: fraction, Max: max}
}

// DefaultSigma is the adaptive spec used by the registration pipeline.
func DefaultSigma() SigmaSpec { return AdaptiveSigma(0.05, 0.3, 2.0) }

// SelectFunc filters one vertex's anchor candidates. It receives the flat-map
// vertex index and the full candidate list, so selectors can consult
// per-vertex data beyond the position.
type SelectFunc func(vertex int, candidates []Point) []Point

// CloseSelect keeps candidates within dist of the vertex's position on flat.
func CloseSelect(flat *FlatMap, dist float64) SelectFunc {
	return func(vertex int, candidates []Point) []Point {
		pos := flat.Coords[vertex]
		var kept []Point
		for _, c := range candidates {
			if Distance(pos, c) <= dist {
				kept = append(kept, c)
			}
		}
		return kept
	}
}

// AnchorOptions configures BuildAnchors.
type AnchorOptions struct {
	PolarAngle   FieldSource
	Eccentricity FieldSource
	Weight       FieldSource

	// WeightCutoff excludes vertices with weight below the cutoff. When nil,
	// any nonzero weight passes.
	WeightCutoff *float64

	// Scale multiplies every anchor weight. Zero means 1.
	Scale float64

	Sigma SigmaSpec

	// Select filters each vertex's candidates. When nil, candidates within
	// CloseDistance of the vertex are kept; a zero CloseDistance defaults to
	// 20 times the flat map's mean edge length.
	Select        SelectFunc
	CloseDistance float64
}

// BuildAnchors resolves retinotopic data on the flat map, queries the model
// for candidate positions, and flattens the surviving (vertex, target) pairs
// into parallel anchor arrays.
func BuildAnchors(flat *FlatMap, model RetinotopyModel, opts AnchorOptions) (*AnchorSet, error) {
	n := flat.VertexCount()

	angle, err := opts.PolarAngle.resolve(flat, "polar_angle")
	if err != nil {
		return nil, err
	}
	ecc, err := opts.Eccentricity.resolve(flat, "eccentricity")
	if err != nil {
		return nil, err
	}
	weight, werr := opts.Weight.resolve(flat, "weight")
	if werr != nil {
		if opts.Weight.Name != "" || opts.Weight.Values != nil {
			return nil, werr
		}
		// No weight data at all: every vertex with retinotopic data counts
		// fully.
		weight = make([]float64, n)
		for i := range weight {
			weight[i] = 1
		}
	}

	// Mask out vertices without usable data or with insufficient weight by
	// handing the model NaN coordinates.
	qAngle := make([]float64, n)
	qEcc := make([]float64, n)
	for i := 0; i < n; i++ {
		qAngle[i], qEcc[i] = math.NaN(), math.NaN()
		if !isDefined(angle[i]) || !isDefined(ecc[i]) || !isDefined(weight[i]) {
			continue
		}
		if opts.WeightCutoff == nil {
			if weight[i] == 0 {
				continue
			}
		} else if weight[i] < *opts.WeightCutoff {
			continue
		}
		qAngle[i], qEcc[i] = angle[i], ecc[i]
	}

	candidates, err := model.AngleToCortex(qAngle, qEcc)
	if err != nil {
		return nil, err
	}

	sel := opts.Select
	if sel == nil {
		dist := opts.CloseDistance
		if dist <= 0 {
			dist = 20 * flat.MeanEdgeLength()
		}
		sel = CloseSelect(flat, dist)
	}

	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}

	set := &AnchorSet{}
	if opts.Sigma.kind != sigmaNone {
		set.Sigmas = []float64{}
	}
	for v := 0; v < n; v++ {
		kept := sel(v, candidates[v])
		if len(kept) == 0 {
			continue
		}
		for _, tgt := range kept {
			set.Vertices = append(set.Vertices, v)
			set.Targets = append(set.Targets, tgt)
			set.Weights = append(set.Weights, scale*weight[v])
		}
		switch opts.Sigma.kind {
		case sigmaUniform:
			for range kept {
				set.Sigmas = append(set.Sigmas, opts.Sigma.Max)
			}
		case sigmaAdaptive:
			set.Sigmas = append(set.Sigmas, adaptiveSigmas(kept, opts.Sigma)...)
		}
	}
	return set, nil
}

// adaptiveSigmas computes one sigma per candidate of a single vertex: the
// spec fraction of the distance to the candidate's nearest sibling, clipped
// to [Min, Max]. A lone candidate gets Max.
func adaptiveSigmas(pts []Point, spec SigmaSpec) []float64 {
	out := make([]float64, len(pts))
	if len(pts) == 1 {
		out[0] = spec.Max
		return out
	}
	for i := range pts {
		dmin := math.Inf(1)
		for j := range pts {
			if i == j {
				continue
			}
			if d := Distance(pts[i], pts[j]); d < dmin {
				dmin = d
			}
		}
		s := spec.Fraction * dmin
		if s < spec.Min {
			s = spec.Min
		} else if s > spec.Max {
			s = spec.Max
		}
		out[i] = s
	}
	return out
}
