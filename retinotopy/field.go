package retinotopy

import (
	"fmt"
	"math"
	"strings"
)

// FieldKind tags a potential field descriptor with its term type.
type FieldKind string

// FieldShape selects the functional form of a field term.
type FieldShape string

const (
	FieldMesh      FieldKind = "mesh"
	FieldEdge      FieldKind = "edge"
	FieldAngle     FieldKind = "angle"
	FieldAnchor    FieldKind = "anchor"
	FieldPerimeter FieldKind = "perimeter"
)

const (
	ShapeHarmonic     FieldShape = "harmonic"
	ShapeLennardJones FieldShape = "lennard-jones"
	ShapeGaussian     FieldShape = "gaussian"
	ShapeInfiniteWell FieldShape = "infinite-well"
)

// FieldParam is one named parameter of a field descriptor. A non-nil Vector
// takes precedence over Scalar; anchor terms use vectors for per-anchor
// weights and smoothing radii.
type FieldParam struct {
	Name   string
	Scalar float64
	Vector []float64
}

// Scalar builds a named scalar parameter.
func Scalar(name string, value float64) FieldParam {
	return FieldParam{Name: name, Scalar: value}
}

// Vector builds a named per-anchor vector parameter.
func Vector(name string, values []float64) FieldParam {
	return FieldParam{Name: name, Vector: values}
}

// FieldSpec describes one energy term: a type tag, a shape tag for types
// with shape variants, named parameters, and, for anchor terms, the parallel
// vertex/target payload arrays.
type FieldSpec struct {
	Kind   FieldKind
	Shape  FieldShape
	Params []FieldParam

	// Anchor payload: one target point per entry, vertices may repeat.
	Vertices []int
	Targets  []Point
}

// EdgeField describes an edge-length preservation term.
func EdgeField(shape FieldShape, params ...FieldParam) FieldSpec {
	return FieldSpec{Kind: FieldEdge, Shape: shape, Params: params}
}

// AngleField describes a corner-angle preservation term.
func AngleField(shape FieldShape, params ...FieldParam) FieldSpec {
	return FieldSpec{Kind: FieldAngle, Shape: shape, Params: params}
}

// PerimeterField describes a boundary-pinning term.
func PerimeterField(shape FieldShape, params ...FieldParam) FieldSpec {
	return FieldSpec{Kind: FieldPerimeter, Shape: shape, Params: params}
}

// MeshField describes the standard composite term: harmonic edge +
// infinite-well angle + harmonic perimeter. Recognized parameters are
// edge_scale and angle_scale.
func MeshField(params ...FieldParam) FieldSpec {
	return FieldSpec{Kind: FieldMesh, Params: params}
}

// paramSlot is one entry of a shape's fixed parameter schema: a name, its
// default, and whether a per-anchor vector may override the scalar.
type paramSlot struct {
	name        string
	def         float64
	allowVector bool
}

type fieldSchema struct {
	slots []paramSlot
}

// Parameter schemas per field kind and shape. The mesh kind has no shape;
// its schema lives in compileMesh.
var fieldSchemas = map[FieldKind]map[FieldShape]fieldSchema{
	FieldEdge: {
		ShapeHarmonic:     {slots: []paramSlot{{"scale", 1.0, false}, {"order", 2.0, false}}},
		ShapeLennardJones: {slots: []paramSlot{{"scale", 1.0, false}, {"order", 2.0, false}}},
	},
	FieldAngle: {
		ShapeHarmonic:     {slots: []paramSlot{{"scale", 1.0, false}, {"order", 2.0, false}}},
		ShapeLennardJones: {slots: []paramSlot{{"scale", 1.0, false}, {"order", 2.0, false}}},
		ShapeInfiniteWell: {slots: []paramSlot{{"scale", 1.0, false}, {"order", 2.0, false}, {"min", 0.0, false}, {"max", math.Pi, false}}},
	},
	FieldAnchor: {
		ShapeHarmonic: {slots: []paramSlot{{"scale", 1.0, true}, {"order", 2.0, false}}},
		ShapeGaussian: {slots: []paramSlot{{"scale", 1.0, true}, {"order", 2.0, false}, {"sigma", 2.0, true}}},
	},
	FieldPerimeter: {
		ShapeHarmonic: {slots: []paramSlot{{"scale", 1.0, false}, {"order", 2.0, false}}},
	},
}

// paramTable builds a case-insensitive name -> parameter map once per
// descriptor; a later declaration of the same name overrides an earlier one.
func paramTable(params []FieldParam) map[string]FieldParam {
	table := make(map[string]FieldParam, len(params))
	for _, p := range params {
		table[strings.ToLower(p.Name)] = p
	}
	return table
}

// resolveParams fills a TermParams from the schema slots and the descriptor's
// parameter table: named matches override schema defaults; absent names use
// the defaults.
func resolveParams(schema fieldSchema, table map[string]FieldParam) (TermParams, error) {
	tp := TermParams{Scale: 1, Order: 2}
	for _, slot := range schema.slots {
		value := slot.def
		var vector []float64
		if p, ok := table[slot.name]; ok {
			if p.Vector != nil {
				if !slot.allowVector {
					return TermParams{}, fmt.Errorf("parameter %q does not accept a vector: %w",
						slot.name, ErrMalformedDescriptor)
				}
				vector = p.Vector
			} else {
				value = p.Scalar
			}
		}
		switch slot.name {
		case "scale":
			tp.Scale = value
			tp.Weights = vector
		case "order":
			tp.Order = value
		case "min":
			tp.Min = value
		case "max":
			tp.Max = value
		case "sigma":
			if vector != nil {
				tp.Sigma = vector
			} else if _, ok := table["sigma"]; ok {
				tp.Sigma = []float64{value}
			} else {
				tp.Sigma = []float64{slot.def}
			}
		}
	}
	return tp, nil
}

// compileSpec resolves one descriptor into an engine term. Kind and shape
// tags are matched case-insensitively, like parameter names.
func compileSpec(engine Engine, spec FieldSpec, faces [][3]int, coords []Point) (TermHandle, error) {
	spec.Kind = FieldKind(strings.ToLower(string(spec.Kind)))
	if spec.Kind == FieldMesh {
		return compileMesh(engine, spec, faces, coords)
	}
	shapes, ok := fieldSchemas[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("field type %q: %w", spec.Kind, ErrUnsupportedField)
	}
	schema, ok := shapes[FieldShape(strings.ToLower(string(spec.Shape)))]
	if !ok {
		return nil, fmt.Errorf("shape %q not supported for type %q: %w",
			spec.Shape, spec.Kind, ErrUnsupportedField)
	}
	tp, err := resolveParams(schema, paramTable(spec.Params))
	if err != nil {
		return nil, err
	}
	tp.Faces = faces
	tp.Coords = coords

	if spec.Kind == FieldAnchor {
		if len(spec.Vertices) != len(spec.Targets) {
			return nil, fmt.Errorf("anchor has %d vertices and %d targets: %w",
				len(spec.Vertices), len(spec.Targets), ErrMalformedDescriptor)
		}
		for _, v := range spec.Vertices {
			if v < 0 || v >= len(coords) {
				return nil, fmt.Errorf("anchor vertex %d outside mesh of %d vertices: %w",
					v, len(coords), ErrMalformedDescriptor)
			}
		}
		if tp.Weights != nil && len(tp.Weights) != len(spec.Vertices) {
			return nil, fmt.Errorf("anchor has %d weights for %d anchors: %w",
				len(tp.Weights), len(spec.Vertices), ErrLengthMismatch)
		}
		if len(tp.Sigma) > 1 && len(tp.Sigma) != len(spec.Vertices) {
			return nil, fmt.Errorf("anchor has %d sigmas for %d anchors: %w",
				len(tp.Sigma), len(spec.Vertices), ErrLengthMismatch)
		}
		tp.Vertices = spec.Vertices
		tp.Targets = spec.Targets
	} else if spec.Vertices != nil || spec.Targets != nil {
		return nil, fmt.Errorf("field type %q does not accept anchor payload: %w",
			spec.Kind, ErrMalformedDescriptor)
	}

	return engine.CompileTerm(spec.Kind, FieldShape(strings.ToLower(string(spec.Shape))), tp)
}

// compileMesh expands the standard composite: harmonic edge + infinite-well
// angle + harmonic perimeter, with edge_scale and angle_scale parameters.
func compileMesh(engine Engine, spec FieldSpec, faces [][3]int, coords []Point) (TermHandle, error) {
	table := paramTable(spec.Params)
	edgeScale, angleScale := 1.0, 1.0
	if p, ok := table["edge_scale"]; ok && p.Vector == nil {
		edgeScale = p.Scalar
	}
	if p, ok := table["angle_scale"]; ok && p.Vector == nil {
		angleScale = p.Scalar
	}
	parts := []FieldSpec{
		EdgeField(ShapeHarmonic, Scalar("scale", edgeScale)),
		AngleField(ShapeInfiniteWell, Scalar("scale", angleScale)),
		PerimeterField(ShapeHarmonic),
	}
	terms := make([]TermHandle, 0, len(parts))
	for _, part := range parts {
		term, err := compileSpec(engine, part, faces, coords)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return engine.Sum(terms...)
}

// CompileFields resolves an ordered descriptor list into a single compiled
// energy term. A single-descriptor list compiles to its term directly with
// no sum wrapping; longer lists compile to the engine's additive combinator.
// Compilation is all-or-nothing: the first bad descriptor aborts before any
// further engine calls.
func CompileFields(engine Engine, specs []FieldSpec, faces [][3]int, coords []Point) (TermHandle, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("field descriptor list is empty: %w", ErrMalformedDescriptor)
	}
	terms := make([]TermHandle, 0, len(specs))
	for i, spec := range specs {
		term, err := compileSpec(engine, spec, faces, coords)
		if err != nil {
			return nil, fmt.Errorf("descriptor %d: %w", i, err)
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return engine.Sum(terms...)
}
