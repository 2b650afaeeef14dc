package retinotopy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Topology is the face connectivity of a mesh, independent of any coordinate
// embedding. It owns zero or more named Registrations: alternate coordinate
// assignments over the same connectivity.
type Topology struct {
	VertexCount int
	Faces       [][3]int

	regs  map[string]*Registration
	order []string // registration insertion order

	vertexFaces [][]int // vertex index -> adjacent face indices
}

// NewTopology builds a topology over vertexCount vertices and the given
// triangular faces.
func NewTopology(vertexCount int, faces [][3]int) (*Topology, error) {
	vf := make([][]int, vertexCount)
	for fi, f := range faces {
		for _, v := range f {
			if v < 0 || v >= vertexCount {
				return nil, fmt.Errorf("face %d references vertex %d of %d: %w",
					fi, v, vertexCount, ErrLengthMismatch)
			}
			vf[v] = append(vf[v], fi)
		}
	}
	fcp := make([][3]int, len(faces))
	copy(fcp, faces)
	return &Topology{
		VertexCount: vertexCount,
		Faces:       fcp,
		regs:        make(map[string]*Registration),
		vertexFaces: vf,
	}, nil
}

// Registration is a named, immutable coordinate assignment over a topology's
// connectivity.
type Registration struct {
	Name   string
	Coords []r3.Vec

	topo *Topology
}

// Register adds or overwrites a named coordinate set. Overwriting keeps the
// name's original position in the registration order.
func (t *Topology) Register(name string, coords []r3.Vec) (*Registration, error) {
	if len(coords) != t.VertexCount {
		return nil, fmt.Errorf("registration %q has %d coordinates for %d vertices: %w",
			name, len(coords), t.VertexCount, ErrLengthMismatch)
	}
	cp := make([]r3.Vec, len(coords))
	copy(cp, coords)
	reg := &Registration{Name: name, Coords: cp, topo: t}
	if _, exists := t.regs[name]; !exists {
		t.order = append(t.order, name)
	}
	t.regs[name] = reg
	return reg, nil
}

// Lookup retrieves a named registration.
func (t *Topology) Lookup(name string) (*Registration, error) {
	reg, ok := t.regs[name]
	if !ok {
		return nil, fmt.Errorf("registration %q: %w", name, ErrNotFound)
	}
	return reg, nil
}

// RegistrationNames returns the registration names in insertion order.
func (t *Topology) RegistrationNames() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// MirroredX returns a transient copy of the topology whose registrations have
// their X coordinates negated. This stands in for the mirrored right
// hemisphere when interpolating onto a left-handed symmetric template.
func (t *Topology) MirroredX() *Topology {
	m := &Topology{
		VertexCount: t.VertexCount,
		Faces:       t.Faces,
		regs:        make(map[string]*Registration, len(t.regs)),
		order:       append([]string(nil), t.order...),
		vertexFaces: t.vertexFaces,
	}
	for name, reg := range t.regs {
		coords := make([]r3.Vec, len(reg.Coords))
		for i, c := range reg.Coords {
			coords[i] = r3.Vec{X: -c.X, Y: c.Y, Z: c.Z}
		}
		m.regs[name] = &Registration{Name: name, Coords: coords, topo: m}
	}
	return m
}

// sharedRegistration returns the first registration name, in the receiver's
// own insertion order, that the source topology also carries. The policy is
// deliberately "first compatible name wins", not "best match".
func (t *Topology) sharedRegistration(src *Topology) (string, bool) {
	for _, name := range t.order {
		if _, ok := src.regs[name]; ok {
			return name, true
		}
	}
	return "", false
}

// Interpolate transports per-vertex source values onto this topology through
// a registration name shared by both topologies. Values equal to NaN are
// treated as undefined; any target vertex whose interpolation draws on an
// undefined source value receives fill instead. Order 0 selects nearest-
// vertex interpolation; order >= 1 uses barycentric linear interpolation.
func (t *Topology) Interpolate(src *Topology, values []float64, order int, fill float64) ([]float64, error) {
	if len(values) != src.VertexCount {
		return nil, fmt.Errorf("source has %d vertices, got %d values: %w",
			src.VertexCount, len(values), ErrLengthMismatch)
	}
	name, ok := t.sharedRegistration(src)
	if !ok {
		return nil, fmt.Errorf("interpolating between topologies: %w", ErrIncompatibleTopology)
	}
	tgtReg := t.regs[name]
	srcReg := src.regs[name]

	out := make([]float64, t.VertexCount)
	for i, p := range tgtReg.Coords {
		if order <= 0 {
			j := srcReg.nearestVertex(p)
			if j < 0 || !isDefined(values[j]) {
				out[i] = fill
			} else {
				out[i] = values[j]
			}
			continue
		}
		addr := srcReg.addressPoint(p)
		v := 0.0
		defined := true
		face := src.Faces[addr.Face]
		for k := 0; k < 3; k++ {
			if addr.Weights[k] == 0 {
				continue
			}
			if !isDefined(values[face[k]]) {
				defined = false
				break
			}
			v += addr.Weights[k] * values[face[k]]
		}
		if defined {
			out[i] = v
		} else {
			out[i] = fill
		}
	}
	return out, nil
}

// Address is a barycentric-style location within a registration: a face
// index and the barycentric weights of the addressed point in that face.
type Address struct {
	Face    int
	Weights [3]float64
}

// nearestVertex returns the index of the registration vertex closest to p,
// or -1 for an empty registration.
func (r *Registration) nearestVertex(p r3.Vec) int {
	best := -1
	bestDist := math.MaxFloat64
	for i, c := range r.Coords {
		d := r3.Norm2(r3.Sub(c, p))
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// addressPoint locates p within the registration's faces. The point is
// projected radially onto each candidate face's plane (the registration
// coordinates are assumed to lie on a sphere about the origin). Candidate
// faces are those adjacent to the nearest vertex; if none contains the
// point, the adjacent face with the least-negative barycentric weight is
// used with its weights clamped and renormalized, so addressing is total.
func (r *Registration) addressPoint(p r3.Vec) Address {
	nv := r.nearestVertex(p)
	bestFace := -1
	var bestW [3]float64
	bestMin := math.Inf(-1)
	for _, fi := range r.topo.vertexFaces[nv] {
		w, ok := r.faceBarycentric(fi, p)
		if !ok {
			continue
		}
		minW := math.Min(w[0], math.Min(w[1], w[2]))
		if minW > bestMin {
			bestMin = minW
			bestFace = fi
			bestW = w
		}
		if minW >= -1e-9 {
			break
		}
	}
	if bestFace < 0 {
		if len(r.topo.vertexFaces[nv]) == 0 {
			// The nearest vertex belongs to no face; pin to the closest
			// face corner instead.
			return r.nearestCornerAddress(p)
		}
		// Degenerate neighborhood: pin to the nearest vertex itself.
		fi := r.topo.vertexFaces[nv][0]
		var w [3]float64
		for k, v := range r.topo.Faces[fi] {
			if v == nv {
				w[k] = 1
			}
		}
		return Address{Face: fi, Weights: w}
	}
	// Clamp slightly-outside weights and renormalize.
	total := 0.0
	for k := range bestW {
		if bestW[k] < 0 {
			bestW[k] = 0
		}
		total += bestW[k]
	}
	if total > 0 {
		for k := range bestW {
			bestW[k] /= total
		}
	}
	return Address{Face: bestFace, Weights: bestW}
}

// nearestCornerAddress pins p to the closest vertex that appears in a face,
// with full barycentric weight on that corner.
func (r *Registration) nearestCornerAddress(p r3.Vec) Address {
	bestFace, bestCorner := 0, 0
	bestDist := math.MaxFloat64
	for fi, f := range r.topo.Faces {
		for k, v := range f {
			if d := r3.Norm2(r3.Sub(r.Coords[v], p)); d < bestDist {
				bestDist = d
				bestFace, bestCorner = fi, k
			}
		}
	}
	var w [3]float64
	w[bestCorner] = 1
	return Address{Face: bestFace, Weights: w}
}

// faceBarycentric computes the barycentric weights of p radially projected
// onto the plane of face fi. Returns false when the projection is undefined
// (ray parallel to the face plane or degenerate face).
func (r *Registration) faceBarycentric(fi int, p r3.Vec) ([3]float64, bool) {
	f := r.topo.Faces[fi]
	a, b, c := r.Coords[f[0]], r.Coords[f[1]], r.Coords[f[2]]
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	pn := r3.Dot(p, n)
	if math.Abs(pn) < 1e-18 {
		return [3]float64{}, false
	}
	// Central projection of p onto the face plane.
	q := r3.Scale(r3.Dot(a, n)/pn, p)

	v0 := r3.Sub(b, a)
	v1 := r3.Sub(c, a)
	v2 := r3.Sub(q, a)
	d00 := r3.Dot(v0, v0)
	d01 := r3.Dot(v0, v1)
	d11 := r3.Dot(v1, v1)
	d20 := r3.Dot(v2, v0)
	d21 := r3.Dot(v2, v1)
	den := d00*d11 - d01*d01
	if math.Abs(den) < 1e-18 {
		return [3]float64{}, false
	}
	w1 := (d11*d20 - d01*d21) / den
	w2 := (d00*d21 - d01*d20) / den
	return [3]float64{1 - w1 - w2, w1, w2}, true
}

// Address locates each point within the registration, returning one
// barycentric address per point.
func (r *Registration) Address(points []r3.Vec) []Address {
	out := make([]Address, len(points))
	for i, p := range points {
		out[i] = r.addressPoint(p)
	}
	return out
}

// Unaddress resolves addresses against an alternate coordinate set sharing
// this registration's topology. Resolving an address against the coordinates
// it was computed from reproduces the original points (up to the clamping
// addressPoint applies).
func (r *Registration) Unaddress(addrs []Address, coords []r3.Vec) ([]r3.Vec, error) {
	if len(coords) != r.topo.VertexCount {
		return nil, fmt.Errorf("unaddress coordinates have %d entries for %d vertices: %w",
			len(coords), r.topo.VertexCount, ErrLengthMismatch)
	}
	out := make([]r3.Vec, len(addrs))
	for i, addr := range addrs {
		f := r.topo.Faces[addr.Face]
		var v r3.Vec
		for k := 0; k < 3; k++ {
			v = r3.Add(v, r3.Scale(addr.Weights[k], coords[f[k]]))
		}
		out[i] = v
	}
	return out, nil
}
