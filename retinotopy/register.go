package retinotopy

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Stage identifies a step of the registration pipeline. Stages always run in
// order; each one consumes the previous stage's output.
type Stage int

const (
	StageRawProperties Stage = iota
	StageTemplateInterpolated
	StageFlatProjected
	StageOptimized
	StageBackProjected
	StageRegistered
)

func (s Stage) String() string {
	switch s {
	case StageRawProperties:
		return "RAW_PROPERTIES"
	case StageTemplateInterpolated:
		return "TEMPLATE_INTERPOLATED"
	case StageFlatProjected:
		return "FLAT_PROJECTED"
	case StageOptimized:
		return "OPTIMIZED"
	case StageBackProjected:
		return "BACK_PROJECTED"
	case StageRegistered:
		return "REGISTERED"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Hemisphere bundles a subject hemisphere's surface mesh with its topology
// and spherical registrations. Chirality is "lh" or "rh"; right hemispheres
// are mirrored across the X axis before being compared with the left-handed
// symmetric template.
type Hemisphere struct {
	ID        string
	Chirality string
	Mesh      *Mesh
	Topology  *Topology
}

// Template is the canonical symmetric surface the optimization runs on. The
// Sphere registration provides the coordinates that get flattened; Pole is
// the projection center (the occipital pole for the standard models).
type Template struct {
	Topology *Topology
	Sphere   *Registration
	Pole     r3.Vec
}

// RegisterOptions configures RegisterRetinotopy. Zero values select the
// documented defaults.
type RegisterOptions struct {
	Model  RetinotopyModel
	Engine Engine // nil selects the in-process descent engine

	// Radius is the angular radius of the flattening projection, in radians.
	// Zero means pi/3.
	Radius float64

	PolarAngle   FieldSource
	Eccentricity FieldSource
	Weight       FieldSource

	// WeightCutoff excludes low-confidence vertices from anchoring. Nil means
	// 0.1; point at zero to keep every vertex with nonzero weight.
	WeightCutoff *float64

	EdgeScale       float64 // zero means 1
	AngleScale      float64 // zero means 1
	FunctionalScale float64 // zero means 1

	Sigma         *SigmaSpec // nil selects DefaultSigma
	CloseDistance float64

	MaxSteps    int
	MaxStepSize float64
	MaxPEChange float64
	PartitionK  int

	// RegistrationName is the name the result is registered under on the
	// subject topology. Empty means "retinotopy".
	RegistrationName string

	// SkipRegistration computes the warped coordinates without storing them
	// on the subject topology.
	SkipRegistration bool

	Publisher *ProgressPublisher
}

func (o *RegisterOptions) fillDefaults() {
	if o.Engine == nil {
		o.Engine = NewDescentEngine()
	}
	if o.Radius <= 0 {
		o.Radius = math.Pi / 3
	}
	if o.WeightCutoff == nil {
		cutoff := 0.1
		o.WeightCutoff = &cutoff
	}
	if o.EdgeScale == 0 {
		o.EdgeScale = 1
	}
	if o.AngleScale == 0 {
		o.AngleScale = 1
	}
	if o.FunctionalScale == 0 {
		o.FunctionalScale = 1
	}
	if o.Sigma == nil {
		sigma := DefaultSigma()
		o.Sigma = &sigma
	}
	if o.RegistrationName == "" {
		o.RegistrationName = "retinotopy"
	}
}

// RegisterResult carries the final registration along with every
// intermediate artifact, mainly for diagnostics and rendering.
type RegisterResult struct {
	// Registered holds per-vertex coordinates for the subject topology in
	// registration space. Nil when SkipRegistration was requested and the
	// subject shares no registration with the template.
	Registered []r3.Vec

	// Warped is the template sphere with the optimized patch spliced in.
	Warped []r3.Vec

	Flat      *FlatMap
	Optimized []Point
	Minimize  MinimizeResult
	Anchors   *AnchorSet
}

// PrepareHemisphere runs the first three pipeline stages: it resolves the
// subject's retinotopic properties, interpolates them onto the template
// topology through a shared registration, and projects the template sphere
// to a flat map carrying the interpolated properties.
func PrepareHemisphere(hemi *Hemisphere, tmpl *Template, opts *RegisterOptions) (*FlatMap, error) {
	opts.fillDefaults()

	// Stage 1: raw properties off the subject mesh. Vertices lacking any of
	// the three properties are silenced by zeroing their weight.
	angle, err := resolveMeshSource(hemi.Mesh, opts.PolarAngle, "polar_angle")
	if err != nil {
		return nil, err
	}
	ecc, err := resolveMeshSource(hemi.Mesh, opts.Eccentricity, "eccentricity")
	if err != nil {
		return nil, err
	}
	weight, err := resolveMeshSource(hemi.Mesh, opts.Weight, "weight")
	if err != nil {
		if opts.Weight.Name != "" || opts.Weight.Values != nil {
			return nil, err
		}
		weight = make([]float64, hemi.Mesh.VertexCount())
		for i := range weight {
			weight[i] = 1
		}
	}
	n := hemi.Mesh.VertexCount()
	cAngle := make([]float64, n)
	cEcc := make([]float64, n)
	cWeight := make([]float64, n)
	for i := 0; i < n; i++ {
		if isDefined(angle[i]) && isDefined(ecc[i]) && isDefined(weight[i]) {
			cAngle[i], cEcc[i], cWeight[i] = angle[i], ecc[i], weight[i]
		}
	}
	log.Printf("registration: %s stage complete (%d vertices)", StageRawProperties, n)
	opts.Publisher.PublishStage(hemi.ID, StageRawProperties, n)

	// Stage 2: transport the properties onto the template topology. Right
	// hemispheres are mirrored so the left-handed template matches.
	subjTopo := hemi.Topology
	if hemi.Chirality == "rh" {
		subjTopo = subjTopo.MirroredX()
	}
	tAngle, err := tmpl.Topology.Interpolate(subjTopo, cAngle, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("interpolating polar angle: %w", err)
	}
	tEcc, err := tmpl.Topology.Interpolate(subjTopo, cEcc, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("interpolating eccentricity: %w", err)
	}
	tWeight, err := tmpl.Topology.Interpolate(subjTopo, cWeight, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("interpolating weight: %w", err)
	}
	log.Printf("registration: %s stage complete (%d template vertices)",
		StageTemplateInterpolated, tmpl.Topology.VertexCount)
	opts.Publisher.PublishStage(hemi.ID, StageTemplateInterpolated, tmpl.Topology.VertexCount)

	// Stage 3: flatten the template sphere around the pole.
	sphere, err := NewMesh(tmpl.Sphere.Coords, tmpl.Topology.Faces)
	if err != nil {
		return nil, err
	}
	if err := sphere.SetProp("polar_angle", tAngle); err != nil {
		return nil, err
	}
	if err := sphere.SetProp("eccentricity", tEcc); err != nil {
		return nil, err
	}
	if err := sphere.SetProp("weight", tWeight); err != nil {
		return nil, err
	}
	proj := NewProjection(tmpl.Pole, opts.Radius)
	flat, err := proj.Project(sphere)
	if err != nil {
		return nil, err
	}
	log.Printf("registration: %s stage complete (%d flat vertices, %d faces)",
		StageFlatProjected, flat.VertexCount(), len(flat.Faces))
	opts.Publisher.PublishStage(hemi.ID, StageFlatProjected, flat.VertexCount())
	return flat, nil
}

func resolveMeshSource(m *Mesh, s FieldSource, kind string) ([]float64, error) {
	if s.Values != nil {
		if len(s.Values) != m.VertexCount() {
			return nil, fmt.Errorf("%s source has %d values for %d vertices: %w",
				kind, len(s.Values), m.VertexCount(), ErrLengthMismatch)
		}
		return s.Values, nil
	}
	if s.Name != "" {
		if v, ok := m.Prop(s.Name); ok {
			return v, nil
		}
		return nil, fmt.Errorf("property %q not found for %s: %w", s.Name, kind, ErrMissingData)
	}
	if v, ok := m.EmpiricalData(kind); ok {
		return v, nil
	}
	return nil, fmt.Errorf("no %s data on mesh: %w", kind, ErrMissingData)
}

// RegisterRetinotopy runs the full pipeline: prepare the hemisphere, minimize
// the composite potential field over the flat map, project the optimized
// coordinates back to the sphere, and record the deformation as a new
// registration on the subject topology.
func RegisterRetinotopy(hemi *Hemisphere, tmpl *Template, opts RegisterOptions) (*RegisterResult, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("no retinotopy model given: %w", ErrMissingData)
	}
	flat, err := PrepareHemisphere(hemi, tmpl, &opts)
	if err != nil {
		return nil, err
	}

	// Stage 4: compile the composite potential and minimize. The edge and
	// angle terms preserve local geometry, the perimeter term pins the patch
	// boundary, and the anchors pull vertices toward the model's prediction.
	anchors, err := BuildAnchors(flat, opts.Model, AnchorOptions{
		WeightCutoff:  opts.WeightCutoff,
		Scale:         opts.FunctionalScale,
		Sigma:         *opts.Sigma,
		CloseDistance: opts.CloseDistance,
	})
	if err != nil {
		return nil, err
	}
	specs := []FieldSpec{
		EdgeField(ShapeHarmonic, Scalar("scale", opts.EdgeScale)),
		AngleField(ShapeInfiniteWell, Scalar("scale", opts.AngleScale)),
		PerimeterField(ShapeHarmonic),
		anchors.FieldSpec(ShapeGaussian),
	}
	term, err := CompileFields(opts.Engine, specs, flat.Faces, flat.Coords)
	if err != nil {
		return nil, err
	}
	minimized, err := opts.Engine.Minimize(term, flat.Coords, MinimizeOptions{
		MaxSteps:    opts.MaxSteps,
		MaxStepSize: opts.MaxStepSize,
		MaxPEChange: opts.MaxPEChange,
		PartitionK:  opts.PartitionK,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("registration: %s stage complete (%d anchors, %d steps, PE %.6g -> %.6g)",
		StageOptimized, anchors.Len(), minimized.Steps, minimized.InitialEnergy, minimized.FinalEnergy)
	opts.Publisher.PublishStage(hemi.ID, StageOptimized, minimized.Steps)

	// Stage 5: unproject the optimized patch and splice it into a copy of the
	// template sphere.
	warpedPatch := flat.Projection().Unproject(minimized.Coords)
	warped := make([]r3.Vec, len(tmpl.Sphere.Coords))
	copy(warped, tmpl.Sphere.Coords)
	for i, lbl := range flat.Labels {
		warped[lbl] = warpedPatch[i]
	}
	log.Printf("registration: %s stage complete", StageBackProjected)
	opts.Publisher.PublishStage(hemi.ID, StageBackProjected, len(warped))

	result := &RegisterResult{
		Warped:    warped,
		Flat:      flat,
		Optimized: minimized.Coords,
		Minimize:  minimized,
		Anchors:   anchors,
	}

	// Stage 6: carry the deformation over to the subject. Each subject vertex
	// is addressed in the template's undeformed sphere and re-materialized at
	// the same barycentric address in the warped sphere.
	subjTopo := hemi.Topology
	if hemi.Chirality == "rh" {
		subjTopo = subjTopo.MirroredX()
	}
	name, ok := tmpl.Topology.sharedRegistration(subjTopo)
	if !ok {
		return nil, fmt.Errorf("subject and template share no registration: %w", ErrIncompatibleTopology)
	}
	subjReg, err := subjTopo.Lookup(name)
	if err != nil {
		return nil, err
	}
	tmplReg, err := tmpl.Topology.Lookup(name)
	if err != nil {
		return nil, err
	}
	addrs := tmplReg.Address(subjReg.Coords)
	registered, err := tmplReg.Unaddress(addrs, warped)
	if err != nil {
		return nil, err
	}
	if hemi.Chirality == "rh" {
		for i, c := range registered {
			registered[i] = r3.Vec{X: -c.X, Y: c.Y, Z: c.Z}
		}
	}
	result.Registered = registered
	if !opts.SkipRegistration {
		if _, err := hemi.Topology.Register(opts.RegistrationName, registered); err != nil {
			return nil, err
		}
	}
	log.Printf("registration: %s stage complete (registered as %q)", StageRegistered, opts.RegistrationName)
	opts.Publisher.PublishStage(hemi.ID, StageRegistered, len(registered))
	return result, nil
}
