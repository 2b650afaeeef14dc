package retinotopy

import "math"

// Point represents a 2D coordinate in a flattened map or in the visual field.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance calculates Euclidean distance between two points.
func Distance(p1, p2 Point) float64 {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// AffineMatrix for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty.
// Flat mesh model files carry one of these to place model coordinates in
// the registration space.
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns an identity matrix (no transformation).
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: 0, C: 0, D: 1, Ty: 0}
}

// TransformPoint applies an affine transform to a point.
func TransformPoint(p Point, m AffineMatrix) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// AnchorSet holds the flattened anchor constraints produced by BuildAnchors:
// parallel arrays of mesh vertex indices (repeated once per surviving
// candidate), target points, per-anchor weights, and optionally per-anchor
// smoothing radii. Sigmas is nil when no sigma spec was given.
type AnchorSet struct {
	Vertices []int     `json:"vertices"`
	Targets  []Point   `json:"targets"`
	Weights  []float64 `json:"weights"`
	Sigmas   []float64 `json:"sigmas,omitempty"`
}

// Len returns the number of anchors in the set.
func (a *AnchorSet) Len() int { return len(a.Vertices) }

// FieldSpec converts the anchor set into an anchor field descriptor with the
// given shape. Suffix parameters are appended verbatim after the scale and
// sigma parameters.
func (a *AnchorSet) FieldSpec(shape FieldShape, suffix ...FieldParam) FieldSpec {
	params := []FieldParam{{Name: "scale", Vector: a.Weights}}
	if a.Sigmas != nil {
		params = append(params, FieldParam{Name: "sigma", Vector: a.Sigmas})
	}
	params = append(params, suffix...)
	return FieldSpec{
		Kind:     FieldAnchor,
		Shape:    shape,
		Params:   params,
		Vertices: a.Vertices,
		Targets:  a.Targets,
	}
}

// MQTTConfig holds MQTT connection settings for progress publishing.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// SubjectConfig identifies the input hemisphere surface for a run.
type SubjectConfig struct {
	ID        string `yaml:"id" json:"id"`
	Chirality string `yaml:"chirality" json:"chirality"` // "lh" or "rh"
	Surface   string `yaml:"surface" json:"surface"`     // JSON surface path
}

// TemplateConfig identifies the canonical symmetric template surface.
type TemplateConfig struct {
	Surface    string     `yaml:"surface" json:"surface"`
	SphereName string     `yaml:"sphereName,omitempty" json:"sphereName,omitempty"`
	Pole       [3]float64 `yaml:"pole,omitempty" json:"pole,omitempty"`
}

// OutputConfig names the artifacts a run should write. Empty fields disable
// the corresponding output.
type OutputConfig struct {
	Surface string `yaml:"surface,omitempty" json:"surface,omitempty"` // registered surface JSON
	SVG     string `yaml:"svg,omitempty" json:"svg,omitempty"`         // flat-map diagnostic SVG
	PNG     string `yaml:"png,omitempty" json:"png,omitempty"`         // flat-map diagnostic PNG
}

// Config represents the full run configuration file.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	Subject  SubjectConfig  `yaml:"subject" json:"subject"`
	Template TemplateConfig `yaml:"template" json:"template"`

	ModelDir  string `yaml:"modelDir,omitempty" json:"modelDir,omitempty"`
	ModelName string `yaml:"model,omitempty" json:"model,omitempty"`

	Radius          float64 `yaml:"radius,omitempty" json:"radius,omitempty"` // radians
	EdgeScale       float64 `yaml:"edgeScale,omitempty" json:"edgeScale,omitempty"`
	AngleScale      float64 `yaml:"angleScale,omitempty" json:"angleScale,omitempty"`
	FunctionalScale float64 `yaml:"functionalScale,omitempty" json:"functionalScale,omitempty"`
	WeightCutoff    *float64 `yaml:"weightCutoff,omitempty" json:"weightCutoff,omitempty"`

	MaxSteps    int     `yaml:"maxSteps,omitempty" json:"maxSteps,omitempty"`
	MaxStepSize float64 `yaml:"maxStepSize,omitempty" json:"maxStepSize,omitempty"`
	MaxPEChange float64 `yaml:"maxPeChange,omitempty" json:"maxPeChange,omitempty"`
	PartitionK  int     `yaml:"partitionK,omitempty" json:"partitionK,omitempty"`

	RegistrationName string       `yaml:"registrationName,omitempty" json:"registrationName,omitempty"`
	Output           OutputConfig `yaml:"output,omitempty" json:"output,omitempty"`
}
