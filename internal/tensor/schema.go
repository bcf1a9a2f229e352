// Package tensor describes the structured scientific profile space: the
// ordered list of named components that make up a tensor embedding.
package tensor

import (
	"fmt"
	"math"
	"strings"
)

// DefaultComponents is the profile layout used when config does not
// override it. Order is significant: it fixes each component's index.
var DefaultComponents = []string{
	"hydration_index",
	"barrier_repair",
	"sensitivity_risk",
	"irritation_potential",
	"exfoliation_strength",
	"antioxidant_capacity",
	"comedogenicity",
	"photosensitivity",
	"ph_dependency",
	"formulation_stability",
}

// Schema maps component names to vector positions.
type Schema struct {
	names []string
	index map[string]int
}

// NewSchema builds a schema. Names must be unique and non-empty.
func NewSchema(names []string) (*Schema, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("tensor schema needs at least one component")
	}
	s := &Schema{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			return nil, fmt.Errorf("tensor component %d has no name", i)
		}
		if _, dup := s.index[n]; dup {
			return nil, fmt.Errorf("duplicate tensor component %q", n)
		}
		s.names[i] = n
		s.index[n] = i
	}
	return s, nil
}

// MustSchema is NewSchema for static component lists.
func MustSchema(names []string) *Schema {
	s, err := NewSchema(names)
	if err != nil {
		panic(err)
	}
	return s
}

// Dim is D_t, the tensor space dimensionality.
func (s *Schema) Dim() int { return len(s.names) }

// Names returns the component names in index order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Index returns the position of a component.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[strings.ToLower(strings.TrimSpace(name))]
	return i, ok
}

// Has reports whether name is a component of the schema.
func (s *Schema) Has(name string) bool {
	_, ok := s.Index(name)
	return ok
}

// Vector lays out named components as a tensor embedding. Components absent
// from values are zero. Unknown names are an error.
func (s *Schema) Vector(values map[string]float64) ([]float64, error) {
	vec := make([]float64, len(s.names))
	for name, v := range values {
		i, ok := s.Index(name)
		if !ok {
			return nil, fmt.Errorf("unknown tensor component %q", name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("tensor component %q is not finite", name)
		}
		vec[i] = v
	}
	return vec, nil
}

// Components is the inverse of Vector. vec must have Dim() entries.
func (s *Schema) Components(vec []float64) (map[string]float64, error) {
	if len(vec) != len(s.names) {
		return nil, fmt.Errorf("tensor vector has %d entries, schema has %d", len(vec), len(s.names))
	}
	out := make(map[string]float64, len(vec))
	for i, v := range vec {
		out[s.names[i]] = v
	}
	return out, nil
}
