package retinotopy

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

// tetraCoords are four unit-sphere directions forming a tetrahedron, a
// minimal closed triangulation for addressing tests.
func tetraCoords() []r3.Vec {
	s := 1 / math.Sqrt(3)
	return []r3.Vec{
		{X: s, Y: s, Z: s},
		{X: s, Y: -s, Z: -s},
		{X: -s, Y: s, Z: -s},
		{X: -s, Y: -s, Z: s},
	}
}

var tetraFaces = [][3]int{{0, 1, 2}, {0, 2, 3}, {0, 3, 1}, {1, 3, 2}}

func newTetraTopology(t *testing.T) *Topology {
	t.Helper()
	topo, err := NewTopology(4, tetraFaces)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	return topo
}

func TestTopologyRegisterLookup(t *testing.T) {
	topo := newTetraTopology(t)
	coords := tetraCoords()

	if _, err := topo.Register("sphere", coords); err != nil {
		t.Fatalf("Register: %v", err)
	}
	reg, err := topo.Lookup("sphere")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	for i, c := range reg.Coords {
		if c != coords[i] {
			t.Errorf("registration coord %d = %v, want %v", i, c, coords[i])
		}
	}

	if _, err := topo.Lookup("absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(absent) error = %v, want ErrNotFound", err)
	}

	if _, err := topo.Register("short", coords[:2]); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Register with 2 coords error = %v, want ErrLengthMismatch", err)
	}
}

func TestTopologyRegistrationOrder(t *testing.T) {
	topo := newTetraTopology(t)
	coords := tetraCoords()
	for _, name := range []string{"first", "second", "third"} {
		if _, err := topo.Register(name, coords); err != nil {
			t.Fatalf("Register(%q): %v", name, err)
		}
	}
	// Re-registering an existing name must keep its original position.
	if _, err := topo.Register("first", coords); err != nil {
		t.Fatalf("re-Register: %v", err)
	}
	names := topo.RegistrationNames()
	want := []string{"first", "second", "third"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("RegistrationNames() = %v, want %v", names, want)
		}
	}
}

func TestTopologyInterpolateNearest(t *testing.T) {
	src := newTetraTopology(t)
	tgt := newTetraTopology(t)
	coords := tetraCoords()
	if _, err := src.Register("sphere", coords); err != nil {
		t.Fatal(err)
	}
	if _, err := tgt.Register("sphere", coords); err != nil {
		t.Fatal(err)
	}

	values := []float64{1, 2, math.NaN(), 4}
	got, err := tgt.Interpolate(src, values, 0, -1)
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	want := []float64{1, 2, -1, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("interpolated[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTopologyInterpolateBarycentric(t *testing.T) {
	src := newTetraTopology(t)
	tgt := newTetraTopology(t)
	coords := tetraCoords()
	if _, err := src.Register("sphere", coords); err != nil {
		t.Fatal(err)
	}
	// Target vertices sit at face midpoints of the source triangulation, so
	// linear interpolation mixes exactly two or three source values.
	mid := func(a, b r3.Vec) r3.Vec { return r3.Unit(r3.Add(a, b)) }
	tgtCoords := []r3.Vec{
		mid(coords[0], coords[1]),
		mid(coords[0], coords[2]),
		mid(coords[1], coords[2]),
		coords[3],
	}
	if _, err := tgt.Register("sphere", tgtCoords); err != nil {
		t.Fatal(err)
	}

	values := []float64{0, 2, 4, 8}
	got, err := tgt.Interpolate(src, values, 1, -1)
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	want := []float64{1, 2, 3, 8}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("interpolated[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTopologyInterpolateNoSharedRegistration(t *testing.T) {
	src := newTetraTopology(t)
	tgt := newTetraTopology(t)
	if _, err := src.Register("a", tetraCoords()); err != nil {
		t.Fatal(err)
	}
	if _, err := tgt.Register("b", tetraCoords()); err != nil {
		t.Fatal(err)
	}
	_, err := tgt.Interpolate(src, []float64{1, 2, 3, 4}, 0, 0)
	if !errors.Is(err, ErrIncompatibleTopology) {
		t.Errorf("error = %v, want ErrIncompatibleTopology", err)
	}
}

func TestTopologyFirstSharedRegistrationWins(t *testing.T) {
	coords := tetraCoords()
	// A permuted copy that swaps vertices 0 and 1 so the two registrations
	// give observably different nearest-vertex interpolations.
	swapped := []r3.Vec{coords[1], coords[0], coords[2], coords[3]}

	tgt := newTetraTopology(t)
	if _, err := tgt.Register("alpha", coords); err != nil {
		t.Fatal(err)
	}
	if _, err := tgt.Register("beta", coords); err != nil {
		t.Fatal(err)
	}

	src := newTetraTopology(t)
	if _, err := src.Register("beta", swapped); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Register("alpha", coords); err != nil {
		t.Fatal(err)
	}

	// Both names are shared; "alpha" comes first in the receiver's insertion
	// order, so the identity mapping wins even though "beta" was registered
	// first on the source.
	values := []float64{1, 2, 3, 4}
	got, err := tgt.Interpolate(src, values, 0, -1)
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	for i, want := range []float64{1, 2, 3, 4} {
		if got[i] != want {
			t.Fatalf("interpolated = %v, want identity mapping through alpha", got)
		}
	}

	// With only "beta" shared, the swapped mapping shows through.
	srcBeta := newTetraTopology(t)
	if _, err := srcBeta.Register("beta", swapped); err != nil {
		t.Fatal(err)
	}
	got, err = tgt.Interpolate(srcBeta, values, 0, -1)
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	if got[0] != 2 || got[1] != 1 {
		t.Errorf("interpolated = %v, want vertices 0 and 1 swapped through beta", got)
	}
}

func TestTopologyMirroredX(t *testing.T) {
	topo := newTetraTopology(t)
	coords := tetraCoords()
	if _, err := topo.Register("sphere", coords); err != nil {
		t.Fatal(err)
	}
	mirrored := topo.MirroredX()
	reg, err := mirrored.Lookup("sphere")
	if err != nil {
		t.Fatalf("Lookup on mirrored topology: %v", err)
	}
	for i, c := range reg.Coords {
		if c.X != -coords[i].X || c.Y != coords[i].Y || c.Z != coords[i].Z {
			t.Errorf("mirrored coord %d = %v, want X negated of %v", i, c, coords[i])
		}
	}
	// The original is untouched.
	orig, _ := topo.Lookup("sphere")
	if orig.Coords[0] != coords[0] {
		t.Errorf("original registration mutated: %v", orig.Coords[0])
	}
}

func TestRegistrationAddressUnaddressRoundTrip(t *testing.T) {
	topo := newTetraTopology(t)
	coords := tetraCoords()
	reg, err := topo.Register("sphere", coords)
	if err != nil {
		t.Fatal(err)
	}

	// Addressing points of the registration itself and unaddressing against
	// the same coordinates must reproduce them.
	mid := func(a, b r3.Vec) r3.Vec { return r3.Unit(r3.Add(a, b)) }
	points := []r3.Vec{coords[0], coords[2], mid(coords[0], coords[1]), mid(coords[2], coords[3])}

	addrs := reg.Address(points)
	back, err := reg.Unaddress(addrs, coords)
	if err != nil {
		t.Fatalf("Unaddress: %v", err)
	}
	for i := range points {
		// The round trip lands on the chord rather than the arc, so compare
		// directions.
		a := r3.Unit(points[i])
		b := r3.Unit(back[i])
		if r3.Norm(r3.Sub(a, b)) > 1e-9 {
			t.Errorf("point %d round-tripped to %v, want direction %v", i, b, a)
		}
	}

	if _, err := reg.Unaddress(addrs, coords[:2]); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Unaddress with short coords error = %v, want ErrLengthMismatch", err)
	}
}

func TestTopologyInterpolateIsolatedVertex(t *testing.T) {
	// Source topology with one face and an isolated fourth vertex that sits
	// closest to every query point. Addressing must fall back to a face
	// corner instead of the isolated vertex's (empty) face list.
	src, err := NewTopology(4, [][3]int{{0, 1, 2}})
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	if _, err := src.Register("sym", []r3.Vec{
		{X: 0.6, Z: -0.8},
		{Y: 1},
		{X: 1},
		{Z: -1}, // isolated
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tgt := newTetraTopology(t)
	queries := make([]r3.Vec, 4)
	for i := range queries {
		queries[i] = r3.Vec{Z: -1}
	}
	if _, err := tgt.Register("sym", queries); err != nil {
		t.Fatalf("Register: %v", err)
	}

	values := []float64{10, 20, 30, 40}
	out, err := tgt.Interpolate(src, values, 1, -1)
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	// The closest face corner to (0, 0, -1) is source vertex 0.
	for i, v := range out {
		if v != 10 {
			t.Errorf("out[%d] = %v, want 10", i, v)
		}
	}

	reg, err := src.Lookup("sym")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	addrs := reg.Address(queries)
	for i, a := range addrs {
		if a.Weights != [3]float64{1, 0, 0} {
			t.Errorf("address %d = %+v, want full weight on corner 0", i, a)
		}
	}
}
