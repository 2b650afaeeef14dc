package retinotopy

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// SurfaceFile is the JSON interchange format for a hemisphere surface:
// coordinates, faces, named per-vertex properties, and named spherical
// registrations. Property entries may be null for undefined values; they
// round-trip as NaN in memory. RegistrationOrder fixes the priority used
// when two topologies look for a shared registration; names missing from it
// are appended in sorted order.
type SurfaceFile struct {
	ID                string                  `json:"id,omitempty"`
	Chirality         string                  `json:"chirality,omitempty"`
	Coords            [][3]float64            `json:"coords"`
	Faces             [][3]int                `json:"faces"`
	Properties        map[string][]*float64   `json:"properties,omitempty"`
	Registrations     map[string][][3]float64 `json:"registrations,omitempty"`
	RegistrationOrder []string                `json:"registrationOrder,omitempty"`
}

// LoadSurface reads a surface JSON file.
func LoadSurface(path string) (*SurfaceFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading surface file: %w", err)
	}
	var s SurfaceFile
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing surface JSON %s: %w", path, err)
	}
	if len(s.Coords) == 0 {
		return nil, fmt.Errorf("surface %s has no vertices", path)
	}
	return &s, nil
}

// SaveSurface writes a surface JSON file.
func SaveSurface(path string, s *SurfaceFile) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling surface JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing surface file: %w", err)
	}
	return nil
}

// registrationNames returns the file's registration names in priority order.
func (s *SurfaceFile) registrationNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, name := range s.RegistrationOrder {
		if _, ok := s.Registrations[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var rest []string
	for name := range s.Registrations {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// Hemisphere converts the file into a subject hemisphere: mesh, properties,
// and a topology carrying every registration.
func (s *SurfaceFile) Hemisphere() (*Hemisphere, error) {
	coords := vecsFromTriples(s.Coords)
	mesh, err := NewMesh(coords, s.Faces)
	if err != nil {
		return nil, err
	}
	for name, vals := range s.Properties {
		dense := make([]float64, len(vals))
		for i, v := range vals {
			if v == nil {
				dense[i] = math.NaN()
			} else {
				dense[i] = *v
			}
		}
		if err := mesh.SetProp(name, dense); err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
	}
	topo, err := NewTopology(len(coords), s.Faces)
	if err != nil {
		return nil, err
	}
	for _, name := range s.registrationNames() {
		if _, err := topo.Register(name, vecsFromTriples(s.Registrations[name])); err != nil {
			return nil, fmt.Errorf("registration %q: %w", name, err)
		}
	}
	return &Hemisphere{
		ID:        s.ID,
		Chirality: s.Chirality,
		Mesh:      mesh,
		Topology:  topo,
	}, nil
}

// Template converts the file into a registration template. The sphereName
// argument selects which registration is flattened; empty selects the first
// in priority order. Pole is the projection center.
func (s *SurfaceFile) Template(sphereName string, pole r3.Vec) (*Template, error) {
	hemi, err := s.Hemisphere()
	if err != nil {
		return nil, err
	}
	if sphereName == "" {
		names := s.registrationNames()
		if len(names) == 0 {
			return nil, fmt.Errorf("template surface carries no registrations: %w", ErrMissingData)
		}
		sphereName = names[0]
	}
	sphere, err := hemi.Topology.Lookup(sphereName)
	if err != nil {
		return nil, err
	}
	return &Template{Topology: hemi.Topology, Sphere: sphere, Pole: pole}, nil
}

// SurfaceFromHemisphere serializes a hemisphere, including any registrations
// added during a run, back to the interchange format.
func SurfaceFromHemisphere(hemi *Hemisphere) *SurfaceFile {
	s := &SurfaceFile{
		ID:            hemi.ID,
		Chirality:     hemi.Chirality,
		Coords:        triplesFromVecs(hemi.Mesh.Coords),
		Faces:         hemi.Mesh.Faces,
		Properties:    make(map[string][]*float64),
		Registrations: make(map[string][][3]float64),
	}
	for name, vals := range hemi.Mesh.store.props {
		sparse := make([]*float64, len(vals))
		for i := range vals {
			if isDefined(vals[i]) {
				v := vals[i]
				sparse[i] = &v
			}
		}
		s.Properties[name] = sparse
	}
	for _, name := range hemi.Topology.RegistrationNames() {
		reg, err := hemi.Topology.Lookup(name)
		if err != nil {
			continue
		}
		s.Registrations[name] = triplesFromVecs(reg.Coords)
		s.RegistrationOrder = append(s.RegistrationOrder, name)
	}
	return s
}

func vecsFromTriples(ts [][3]float64) []r3.Vec {
	out := make([]r3.Vec, len(ts))
	for i, t := range ts {
		out[i] = r3.Vec{X: t[0], Y: t[1], Z: t[2]}
	}
	return out
}

func triplesFromVecs(vs []r3.Vec) [][3]float64 {
	out := make([][3]float64, len(vs))
	for i, v := range vs {
		out[i] = [3]float64{v.X, v.Y, v.Z}
	}
	return out
}
