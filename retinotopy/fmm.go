package retinotopy

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
)

// MeshModel is a flat mesh model of retinotopy loaded from an .fmm file: a
// triangulation whose vertices carry both a position on the flattened cortical
// map and ideal retinotopic coordinates. Queries go the inverse direction of
// the file: from visual field position to cortical map position.
type MeshModel struct {
	Faces  [][3]int
	Cortex []Point   // cortical map coordinates, file transform applied
	Angle  []float64 // polar angle, degrees
	Ecc    []float64 // eccentricity, degrees
	Area   []float64 // visual area label

	field []Point // visual field position per vertex
	areas map[float64]*areaIndex
}

// areaIndex accelerates visual-field point location within one visual area.
type areaIndex struct {
	tree        *quadtree.Quadtree
	vertexFaces map[int][]int // vertex -> indices into faces
	faces       [][3]int      // faces fully inside the area
}

type fieldVertex struct {
	pt  orb.Point
	idx int
}

func (v fieldVertex) Point() orb.Point { return v.pt }

// LoadMeshModel parses a flat mesh model file. Files ending in .gz are
// decompressed transparently.
func LoadMeshModel(path string) (*MeshModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %v: %w", path, err, ErrModelFileFormat)
		}
		defer gz.Close()
		r = gz
	}
	m, err := parseMeshModel(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func parseMeshModel(r io.Reader) (*MeshModel, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line, err := nextLine(sc)
	if err != nil {
		return nil, err
	}
	if line != "Flat Mesh Model Version: 1.0" {
		return nil, fmt.Errorf("unrecognized header %q: %w", line, ErrModelFileFormat)
	}

	n, err := headerCount(sc, "vertex_count")
	if err != nil {
		return nil, err
	}
	t, err := headerCount(sc, "triangle_count")
	if err != nil {
		return nil, err
	}

	xform, err := headerTransform(sc)
	if err != nil {
		return nil, err
	}

	m := &MeshModel{
		Faces:  make([][3]int, 0, t),
		Cortex: make([]Point, 0, n),
		Angle:  make([]float64, 0, n),
		Ecc:    make([]float64, 0, n),
		Area:   make([]float64, 0, n),
	}

	for i := 0; i < n; i++ {
		line, err := nextLine(sc)
		if err != nil {
			return nil, fmt.Errorf("vertex %d: %w", i, err)
		}
		halves := strings.Split(line, "::")
		if len(halves) != 2 {
			return nil, fmt.Errorf("vertex %d: expected 'x,y :: angle,ecc,area', got %q: %w", i, line, ErrModelFileFormat)
		}
		xy, err := parseFloats(halves[0], 2)
		if err != nil {
			return nil, fmt.Errorf("vertex %d: %w", i, err)
		}
		ret, err := parseFloats(halves[1], 3)
		if err != nil {
			return nil, fmt.Errorf("vertex %d: %w", i, err)
		}
		m.Cortex = append(m.Cortex, TransformPoint(Point{X: xy[0], Y: xy[1]}, xform))
		m.Angle = append(m.Angle, ret[0])
		m.Ecc = append(m.Ecc, ret[1])
		m.Area = append(m.Area, ret[2])
	}

	for i := 0; i < t; i++ {
		line, err := nextLine(sc)
		if err != nil {
			return nil, fmt.Errorf("triangle %d: %w", i, err)
		}
		idx, err := parseFloats(line, 3)
		if err != nil {
			return nil, fmt.Errorf("triangle %d: %w", i, err)
		}
		var face [3]int
		for j, v := range idx {
			k := int(v)
			if float64(k) != v || k < 1 || k > n {
				return nil, fmt.Errorf("triangle %d: vertex index %v out of range 1..%d: %w", i, v, n, ErrModelFileFormat)
			}
			face[j] = k - 1 // file indices are 1-based
		}
		m.Faces = append(m.Faces, face)
	}

	m.buildIndex()
	return m, nil
}

func nextLine(sc *bufio.Scanner) (string, error) {
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			return line, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read model: %w", err)
	}
	return "", fmt.Errorf("unexpected end of file: %w", ErrModelFileFormat)
}

func headerCount(sc *bufio.Scanner, key string) (int, error) {
	line, err := nextLine(sc)
	if err != nil {
		return 0, err
	}
	val, ok := strings.CutPrefix(line, key+":")
	if !ok {
		return 0, fmt.Errorf("expected %q header, got %q: %w", key, line, ErrModelFileFormat)
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad %s %q: %w", key, line, ErrModelFileFormat)
	}
	return n, nil
}

func headerTransform(sc *bufio.Scanner) (AffineMatrix, error) {
	line, err := nextLine(sc)
	if err != nil {
		return AffineMatrix{}, err
	}
	val, ok := strings.CutPrefix(line, "transform:")
	if !ok {
		return AffineMatrix{}, fmt.Errorf("expected transform header, got %q: %w", line, ErrModelFileFormat)
	}
	// Brackets are tolerated: "transform: [1,0,0; 0,1,0]" and the bare form
	// parse identically.
	cleaned := strings.NewReplacer("[", "", "]", "").Replace(val)
	rows := strings.Split(cleaned, ";")
	if len(rows) != 2 {
		return AffineMatrix{}, fmt.Errorf("transform needs two rows, got %q: %w", line, ErrModelFileFormat)
	}
	top, err := parseFloats(rows[0], 3)
	if err != nil {
		return AffineMatrix{}, err
	}
	bottom, err := parseFloats(rows[1], 3)
	if err != nil {
		return AffineMatrix{}, err
	}
	return AffineMatrix{A: top[0], B: top[1], Tx: top[2], C: bottom[0], D: bottom[1], Ty: bottom[2]}, nil
}

func parseFloats(s string, want int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != want {
		return nil, fmt.Errorf("expected %d comma-separated values in %q: %w", want, s, ErrModelFileFormat)
	}
	out := make([]float64, want)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q: %w", p, ErrModelFileFormat)
		}
		out[i] = v
	}
	return out, nil
}

// buildIndex computes visual field positions and a per-area quadtree over
// them, plus the faces restricted to each area.
func (m *MeshModel) buildIndex() {
	m.field = make([]Point, len(m.Cortex))
	for i := range m.field {
		m.field[i] = visualFieldPoint(m.Angle[i], m.Ecc[i])
	}

	m.areas = make(map[float64]*areaIndex)
	for i, a := range m.Area {
		idx, ok := m.areas[a]
		if !ok {
			bound := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
			for j, aa := range m.Area {
				if aa != a {
					continue
				}
				p := m.field[j]
				if p.X < bound.Min[0] {
					bound.Min[0] = p.X
				}
				if p.Y < bound.Min[1] {
					bound.Min[1] = p.Y
				}
				if p.X > bound.Max[0] {
					bound.Max[0] = p.X
				}
				if p.Y > bound.Max[1] {
					bound.Max[1] = p.Y
				}
			}
			idx = &areaIndex{
				tree:        quadtree.New(bound.Pad(1e-9)),
				vertexFaces: make(map[int][]int),
			}
			m.areas[a] = idx
		}
		idx.tree.Add(fieldVertex{pt: orb.Point{m.field[i].X, m.field[i].Y}, idx: i})
	}

	for _, f := range m.Faces {
		a := m.Area[f[0]]
		if m.Area[f[1]] != a || m.Area[f[2]] != a {
			continue // faces spanning areas are not query targets
		}
		idx := m.areas[a]
		fi := len(idx.faces)
		idx.faces = append(idx.faces, f)
		for _, v := range f {
			idx.vertexFaces[v] = append(idx.vertexFaces[v], fi)
		}
	}
}

// AngleToCortex locates each (polar angle, eccentricity) pair in the visual
// field triangulation of every visual area and interpolates the cortical map
// position. Inputs that fall outside an area's triangulation yield no
// candidate for that area.
func (m *MeshModel) AngleToCortex(polarAngle, eccentricity []float64) ([][]Point, error) {
	if len(polarAngle) != len(eccentricity) {
		return nil, fmt.Errorf("polar angle and eccentricity lengths differ (%d vs %d): %w",
			len(polarAngle), len(eccentricity), ErrLengthMismatch)
	}
	out := make([][]Point, len(polarAngle))
	var buf []orb.Pointer
	for i := range polarAngle {
		if math.IsNaN(polarAngle[i]) || math.IsNaN(eccentricity[i]) {
			continue
		}
		target := visualFieldPoint(polarAngle[i], eccentricity[i])
		for _, idx := range m.areas {
			buf = idx.tree.KNearest(buf[:0], orb.Point{target.X, target.Y}, 5)
			if pt, ok := m.locate(idx, buf, target); ok {
				out[i] = append(out[i], pt)
			}
		}
	}
	return out, nil
}

// locate tests the faces adjacent to the nearest field vertices for
// containment and interpolates cortical coordinates barycentrically.
func (m *MeshModel) locate(idx *areaIndex, near []orb.Pointer, target Point) (Point, bool) {
	const eps = 1e-9
	for _, ptr := range near {
		v := ptr.(fieldVertex).idx
		for _, fi := range idx.vertexFaces[v] {
			f := idx.faces[fi]
			w, ok := triangleBarycentric(m.field[f[0]], m.field[f[1]], m.field[f[2]], target)
			if !ok || w[0] < -eps || w[1] < -eps || w[2] < -eps {
				continue
			}
			return Point{
				X: w[0]*m.Cortex[f[0]].X + w[1]*m.Cortex[f[1]].X + w[2]*m.Cortex[f[2]].X,
				Y: w[0]*m.Cortex[f[0]].Y + w[1]*m.Cortex[f[1]].Y + w[2]*m.Cortex[f[2]].Y,
			}, true
		}
	}
	return Point{}, false
}

// triangleBarycentric solves for the barycentric weights of p in triangle
// (a, b, c). Degenerate triangles report no solution.
func triangleBarycentric(a, b, c, p Point) ([3]float64, bool) {
	d00 := (b.X - a.X) * (c.Y - a.Y)
	d01 := (c.X - a.X) * (b.Y - a.Y)
	det := d00 - d01
	if math.Abs(det) < 1e-15 {
		return [3]float64{}, false
	}
	w1 := ((p.X-a.X)*(c.Y-a.Y) - (c.X-a.X)*(p.Y-a.Y)) / det
	w2 := ((b.X-a.X)*(p.Y-a.Y) - (p.X-a.X)*(b.Y-a.Y)) / det
	return [3]float64{1 - w1 - w2, w1, w2}, true
}
