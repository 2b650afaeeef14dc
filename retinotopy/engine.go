package retinotopy

// TermParams carries the resolved parameters of one field descriptor across
// the engine boundary. Arrays are copied or treated as read-only on the
// engine side; no mutable state is shared back.
type TermParams struct {
	Scale float64
	Order float64
	Min   float64
	Max   float64

	// Sigma is nil when the shape has no smoothing parameter, a single
	// element for a uniform radius, or one element per anchor.
	Sigma []float64

	// Weights overrides Scale per anchor when non-nil.
	Weights []float64

	// Anchor payload.
	Vertices []int
	Targets  []Point

	// Mesh geometry the term is defined over. Coords are the reference
	// coordinates at compile time; the minimizer evaluates terms at its own
	// evolving coordinates.
	Faces  [][3]int
	Coords []Point
}

// TermHandle is an opaque reference to a compiled energy term. Handles are
// only meaningful to the engine that produced them.
type TermHandle interface {
	// Describe returns a short human-readable summary for diagnostics.
	Describe() string
}

// MinimizeOptions controls a minimization run. Zero values select the
// defaults from DefaultMinimizeOptions.
type MinimizeOptions struct {
	MaxSteps    int     // step budget
	MaxStepSize float64 // maximum distance a vertex may move per step
	MaxPEChange float64 // fraction of the initial potential to remove before stopping (0 < x <= 1)
	PartitionK  int     // gradient partition count; > 1 enables nimble stepping
}

// DefaultMinimizeOptions returns the standard registration settings.
func DefaultMinimizeOptions() MinimizeOptions {
	return MinimizeOptions{
		MaxSteps:    2000,
		MaxStepSize: 0.05,
		MaxPEChange: 1.0,
		PartitionK:  4,
	}
}

// MinimizeResult reports the outcome of a minimization.
type MinimizeResult struct {
	Coords        []Point // final coordinates, one per vertex, input order
	InitialEnergy float64
	FinalEnergy   float64
	Steps         int
	Converged     bool // stopped by the energy rule or a vanished gradient, not the step budget
}

// Engine is the optimization engine boundary: it compiles descriptors into
// opaque terms, combines terms additively, and minimizes a term over vertex
// coordinates. Implementations may be in-process or bridge to an external
// engine; the core assumes nothing about their internal concurrency.
type Engine interface {
	CompileTerm(kind FieldKind, shape FieldShape, params TermParams) (TermHandle, error)
	Sum(terms ...TermHandle) (TermHandle, error)
	Minimize(term TermHandle, initial []Point, opts MinimizeOptions) (MinimizeResult, error)
}
