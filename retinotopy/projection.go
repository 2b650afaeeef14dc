package retinotopy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Projection is an azimuthal equidistant flattening of a spherical mesh patch
// about a reference pole, restricted to an angular radius. The projected map
// preserves arc length along rays from the pole, which keeps edge geometry
// near the pole close to isometric.
type Projection struct {
	Center r3.Vec  // unit direction of the reference pole
	Radius float64 // angular radius in radians

	sphereRadius float64 // set when a mesh is projected
	e1, e2       r3.Vec  // orthonormal tangent basis at the pole
}

// NewProjection builds a projection about the given pole direction with the
// given angular radius (radians).
func NewProjection(center r3.Vec, radius float64) Projection {
	c := r3.Unit(center)
	// Pick a reference axis not parallel to the pole for the tangent basis.
	ref := r3.Vec{X: 0, Y: 0, Z: 1}
	if math.Abs(c.Z) > 0.9 {
		ref = r3.Vec{X: 1, Y: 0, Z: 0}
	}
	e1 := r3.Unit(r3.Cross(ref, c))
	e2 := r3.Cross(c, e1)
	return Projection{Center: c, Radius: radius, e1: e1, e2: e2}
}

// Project flattens the mesh patch within the projection's angular radius,
// returning a flat map whose Labels index the parent mesh's vertices. Faces
// are kept when all three corners fall inside the patch. Parent properties
// are carried over, restricted to the kept vertices.
func (p Projection) Project(m *Mesh) (*FlatMap, error) {
	n := m.VertexCount()
	keep := make([]int, 0, n)
	index := make([]int, n) // parent vertex -> flat index, -1 when dropped
	coords := make([]Point, 0, n)
	radiusSum := 0.0

	for i := range index {
		index[i] = -1
	}
	for i, v := range m.Coords {
		norm := r3.Norm(v)
		if norm == 0 {
			continue
		}
		u := r3.Scale(1/norm, v)
		cosAng := r3.Dot(u, p.Center)
		if cosAng > 1 {
			cosAng = 1
		} else if cosAng < -1 {
			cosAng = -1
		}
		ang := math.Acos(cosAng)
		if ang > p.Radius {
			continue
		}
		var pt Point
		if ang > 1e-12 {
			d := r3.Sub(u, r3.Scale(cosAng, p.Center))
			d = r3.Unit(d)
			pt = Point{X: ang * r3.Dot(d, p.e1), Y: ang * r3.Dot(d, p.e2)}
		}
		index[i] = len(keep)
		keep = append(keep, i)
		coords = append(coords, pt)
		radiusSum += norm
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("no vertices within radius %.4f of the projection pole: %w",
			p.Radius, ErrMissingData)
	}
	p.sphereRadius = radiusSum / float64(len(keep))

	var faces [][3]int
	for _, f := range m.Faces {
		a, b, c := index[f[0]], index[f[1]], index[f[2]]
		if a >= 0 && b >= 0 && c >= 0 {
			faces = append(faces, [3]int{a, b, c})
		}
	}

	flat := &FlatMap{
		Labels: keep,
		Coords: coords,
		Faces:  faces,
		store:  newPropertyStore(len(keep)),
		proj:   p,
	}
	for name, values := range m.store.props {
		sub := make([]float64, len(keep))
		for j, vi := range keep {
			sub[j] = values[vi]
		}
		if err := flat.SetProp(name, sub); err != nil {
			return nil, err
		}
	}
	return flat, nil
}

// Unproject maps flat coordinates back onto the sphere the flat map was
// projected from, returning one 3D coordinate per flat vertex.
func (p Projection) Unproject(coords []Point) []r3.Vec {
	out := make([]r3.Vec, len(coords))
	radius := p.sphereRadius
	if radius == 0 {
		radius = 1
	}
	for i, q := range coords {
		ang := math.Hypot(q.X, q.Y)
		if ang < 1e-15 {
			out[i] = r3.Scale(radius, p.Center)
			continue
		}
		d := r3.Add(r3.Scale(q.X/ang, p.e1), r3.Scale(q.Y/ang, p.e2))
		v := r3.Add(r3.Scale(math.Cos(ang), p.Center), r3.Scale(math.Sin(ang), d))
		out[i] = r3.Scale(radius, v)
	}
	return out
}
