package retinotopy

import "errors"

// Sentinel errors for the registration core. Call sites wrap these with
// fmt.Errorf("...: %w", Err...) so callers can branch with errors.Is.
var (
	// ErrMalformedDescriptor indicates a potential field descriptor that does
	// not follow the descriptor grammar (e.g. anchor payload arrays of
	// different lengths, or vertex indices outside the mesh).
	ErrMalformedDescriptor = errors.New("malformed field descriptor")

	// ErrUnsupportedField indicates an unknown field kind or shape tag.
	ErrUnsupportedField = errors.New("unsupported field type or shape")

	// ErrMissingData indicates required per-vertex data (polar angle or
	// eccentricity) that is absent and has no empirical fallback.
	ErrMissingData = errors.New("missing retinotopy data")

	// ErrLengthMismatch indicates a per-vertex array whose length does not
	// match the vertex count it is paired with.
	ErrLengthMismatch = errors.New("per-vertex array length mismatch")

	// ErrIncompatibleTopology indicates two topologies that share no
	// registration name and therefore cannot be interpolated between.
	ErrIncompatibleTopology = errors.New("no shared registration between topologies")

	// ErrModelFileFormat indicates a flat mesh model file that is malformed
	// or carries an unsupported version tag.
	ErrModelFileFormat = errors.New("invalid flat mesh model file")

	// ErrNotFound indicates a named registration that is absent from a
	// topology.
	ErrNotFound = errors.New("registration not found")
)
