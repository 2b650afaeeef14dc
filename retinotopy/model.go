package retinotopy

import (
	"fmt"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"sync"
)

// RetinotopyModel maps retinotopic coordinates (polar angle in degrees,
// eccentricity in degrees) to candidate positions on a flattened cortical
// map. A vertex may land in several visual areas at once, so each input
// yields zero or more candidate points.
type RetinotopyModel interface {
	AngleToCortex(polarAngle, eccentricity []float64) ([][]Point, error)
}

// visualFieldPoint converts retinotopic coordinates to a Cartesian point in
// the visual field. Polar angle follows the neuroscience convention: 0 deg is
// the upper vertical meridian and angles grow clockwise, so the mathematical
// angle is (90 - theta) converted to radians.
func visualFieldPoint(angleDeg, ecc float64) Point {
	phi := (90 - angleDeg) * math.Pi / 180
	return Point{X: ecc * math.Cos(phi), Y: ecc * math.Sin(phi)}
}

// WedgeDipoleModel is an analytic model of V1-V3 retinotopy based on the
// wedge-dipole log map w = K*log((z+A)/(z+B)). It needs no model file and is
// mainly useful for tests and quick diagnostics.
type WedgeDipoleModel struct {
	K float64
	A float64
	B float64
}

// DefaultWedgeDipoleModel returns a wedge-dipole model with parameters in the
// range reported for human V1.
func DefaultWedgeDipoleModel() *WedgeDipoleModel {
	return &WedgeDipoleModel{K: 18.0, A: 0.75, B: 90.0}
}

// AngleToCortex produces one candidate per visual area (V1, V2, V3) for each
// vertex. Vertices with undefined coordinates produce no candidates.
func (m *WedgeDipoleModel) AngleToCortex(polarAngle, eccentricity []float64) ([][]Point, error) {
	if len(polarAngle) != len(eccentricity) {
		return nil, fmt.Errorf("polar angle and eccentricity lengths differ (%d vs %d): %w",
			len(polarAngle), len(eccentricity), ErrLengthMismatch)
	}
	out := make([][]Point, len(polarAngle))
	for i := range polarAngle {
		ang, ecc := polarAngle[i], eccentricity[i]
		if math.IsNaN(ang) || math.IsNaN(ecc) || ecc < 0 {
			continue
		}
		phi := (90 - ang) * math.Pi / 180
		if phi > math.Pi/2 {
			phi = math.Pi / 2
		} else if phi < -math.Pi/2 {
			phi = -math.Pi / 2
		}
		// t in [-1, 1] spans the hemifield; each area compresses it into its
		// own angular band before the log map.
		t := phi / (math.Pi / 2)
		psis := [3]float64{
			t * math.Pi / 4,
			sign(t) * (math.Pi/4 + (1-math.Abs(t))*math.Pi/8),
			sign(t) * (3*math.Pi/8 + math.Abs(t)*math.Pi/8),
		}
		pts := make([]Point, 0, 3)
		for _, psi := range psis {
			z := cmplx.Rect(ecc, psi)
			w := complex(m.K, 0) * cmplx.Log((z+complex(m.A, 0))/(z+complex(m.B, 0)))
			pts = append(pts, Point{X: real(w), Y: imag(w)})
		}
		out[i] = pts
	}
	return out, nil
}

// ModelCache loads flat mesh model files from a directory and keeps every
// parsed model for the lifetime of the cache. Loads are serialized so a model
// file is parsed at most once even under concurrent use.
type ModelCache struct {
	dir    string
	mu     sync.Mutex
	models map[string]*MeshModel
}

// NewModelCache returns a cache that resolves model names under dir.
func NewModelCache(dir string) *ModelCache {
	return &ModelCache{dir: dir, models: make(map[string]*MeshModel)}
}

// Load returns the model registered under name, parsing <name>.fmm or
// <name>.fmm.gz from the cache directory on first use.
func (c *ModelCache) Load(name string) (*MeshModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[name]; ok {
		return m, nil
	}
	var lastErr error
	for _, candidate := range []string{name + ".fmm", name + ".fmm.gz"} {
		path := filepath.Join(c.dir, candidate)
		if _, err := os.Stat(path); err != nil {
			lastErr = err
			continue
		}
		m, err := LoadMeshModel(path)
		if err != nil {
			return nil, err
		}
		c.models[name] = m
		return m, nil
	}
	return nil, fmt.Errorf("model %q not found in %s: %w (%v)", name, c.dir, ErrNotFound, lastErr)
}

// Clear drops all cached models.
func (c *ModelCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = make(map[string]*MeshModel)
}
