package retinotopy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// propertyStore maps property names to per-vertex scalar arrays. Undefined
// entries are NaN; a whole property is absent when its name is unset.
type propertyStore struct {
	n     int
	props map[string][]float64
}

func newPropertyStore(n int) propertyStore {
	return propertyStore{n: n, props: make(map[string][]float64)}
}

// set stores a per-vertex property, copying values.
func (ps *propertyStore) set(name string, values []float64) error {
	if len(values) != ps.n {
		return fmt.Errorf("property %q has %d values for %d vertices: %w",
			name, len(values), ps.n, ErrLengthMismatch)
	}
	cp := make([]float64, ps.n)
	copy(cp, values)
	ps.props[name] = cp
	return nil
}

func (ps *propertyStore) get(name string) ([]float64, bool) {
	v, ok := ps.props[name]
	return v, ok
}

// Conventional property names tried, in priority order, when a field source
// is left unspecified.
var empiricalNames = map[string][]string{
	"polar_angle":  {"polar_angle", "PRF_polar_angle"},
	"eccentricity": {"eccentricity", "PRF_eccentricity"},
	"weight":       {"weight", "variance_explained", "PRF_variance_explained", "retinotopy_weight"},
}

// empirical returns the first property found among the conventional names
// for the given kind ("polar_angle", "eccentricity", or "weight").
func (ps *propertyStore) empirical(kind string) ([]float64, bool) {
	for _, name := range empiricalNames[kind] {
		if v, ok := ps.props[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Mesh is a triangulated surface: stable integer vertex labels, 3D vertex
// coordinates, triangular faces, and named per-vertex scalar properties.
type Mesh struct {
	Labels []int
	Coords []r3.Vec
	Faces  [][3]int

	store propertyStore
}

// NewMesh builds a mesh over the given coordinates and faces. Vertex labels
// default to 0..n-1. Faces referencing vertices outside the coordinate array
// are rejected.
func NewMesh(coords []r3.Vec, faces [][3]int) (*Mesh, error) {
	n := len(coords)
	for fi, f := range faces {
		for _, v := range f {
			if v < 0 || v >= n {
				return nil, fmt.Errorf("face %d references vertex %d of %d: %w",
					fi, v, n, ErrLengthMismatch)
			}
		}
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i
	}
	cp := make([]r3.Vec, n)
	copy(cp, coords)
	fcp := make([][3]int, len(faces))
	copy(fcp, faces)
	return &Mesh{Labels: labels, Coords: cp, Faces: fcp, store: newPropertyStore(n)}, nil
}

// SetProp stores a named per-vertex property. Use NaN for undefined entries.
func (m *Mesh) SetProp(name string, values []float64) error {
	return m.store.set(name, values)
}

// Prop retrieves a named per-vertex property.
func (m *Mesh) Prop(name string) ([]float64, bool) {
	return m.store.get(name)
}

// EmpiricalData retrieves per-vertex data for the given kind by trying the
// conventional property names in priority order.
func (m *Mesh) EmpiricalData(kind string) ([]float64, bool) {
	return m.store.empirical(kind)
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int { return len(m.Coords) }

// edgesFromFaces returns the unique undirected edges of a face list together
// with the number of faces adjacent to each edge.
func edgesFromFaces(faces [][3]int) (edges [][2]int, faceCount []int) {
	type key struct{ a, b int }
	idx := make(map[key]int)
	for _, f := range faces {
		pairs := [3][2]int{{f[0], f[1]}, {f[1], f[2]}, {f[2], f[0]}}
		for _, p := range pairs {
			a, b := p[0], p[1]
			if a > b {
				a, b = b, a
			}
			k := key{a, b}
			if i, ok := idx[k]; ok {
				faceCount[i]++
				continue
			}
			idx[k] = len(edges)
			edges = append(edges, [2]int{a, b})
			faceCount = append(faceCount, 1)
		}
	}
	return edges, faceCount
}

// perimeterVertices returns the sorted vertex indices lying on the boundary
// of the face list (vertices of edges adjacent to exactly one face).
func perimeterVertices(faces [][3]int) []int {
	edges, count := edgesFromFaces(faces)
	seen := make(map[int]bool)
	var out []int
	for i, e := range edges {
		if count[i] != 1 {
			continue
		}
		for _, v := range e {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	// deterministic order
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// FlatMap is a flattened 2D projection of a spherical mesh patch: the
// optimization domain. Labels maps flat vertices back to the parent mesh's
// vertex indices.
type FlatMap struct {
	Labels []int
	Coords []Point
	Faces  [][3]int

	store propertyStore
	proj  Projection
}

// SetProp stores a named per-vertex property on the flat map.
func (f *FlatMap) SetProp(name string, values []float64) error {
	return f.store.set(name, values)
}

// Prop retrieves a named per-vertex property.
func (f *FlatMap) Prop(name string) ([]float64, bool) {
	return f.store.get(name)
}

// EmpiricalData retrieves per-vertex data by conventional property names.
func (f *FlatMap) EmpiricalData(kind string) ([]float64, bool) {
	return f.store.empirical(kind)
}

// VertexCount returns the number of vertices in the flat map.
func (f *FlatMap) VertexCount() int { return len(f.Coords) }

// Projection returns the projection that produced this flat map.
func (f *FlatMap) Projection() Projection { return f.proj }

// MeanEdgeLength returns the average edge length of the flat map.
func (f *FlatMap) MeanEdgeLength() float64 {
	edges, _ := edgesFromFaces(f.Faces)
	if len(edges) == 0 {
		return 0
	}
	total := 0.0
	for _, e := range edges {
		total += Distance(f.Coords[e[0]], f.Coords[e[1]])
	}
	return total / float64(len(edges))
}

// isDefined reports whether a per-vertex value is usable (not NaN).
func isDefined(v float64) bool { return !math.IsNaN(v) }
