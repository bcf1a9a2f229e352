// Package atom holds the skincare knowledge model: atoms, the directed
// relationships between them, and the evidence behind their claims.
package atom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lazypower/dermagraph/internal/access"
)

var (
	// ErrNotFound is returned when an atom id does not exist.
	ErrNotFound = errors.New("atom: not found")

	// ErrDimensionMismatch is returned when an embedding does not have the
	// dimensionality of its space.
	ErrDimensionMismatch = errors.New("atom: embedding dimension mismatch")
)

// Type classifies an atom.
type Type string

const (
	Ingredient        Type = "INGREDIENT"
	Product           Type = "PRODUCT"
	Brand             Type = "BRAND"
	Company           Type = "COMPANY"
	Regulation        Type = "REGULATION"
	Trend             Type = "TREND"
	ScientificConcept Type = "SCIENTIFIC_CONCEPT"
	MarketData        Type = "MARKET_DATA"
)

var validTypes = map[Type]bool{
	Ingredient: true, Product: true, Brand: true, Company: true,
	Regulation: true, Trend: true, ScientificConcept: true, MarketData: true,
}

// Valid reports whether t is a known atom type.
func (t Type) Valid() bool { return validTypes[t] }

// ParseType parses an atom type name, case-insensitive.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid atom type %q", s)
	}
	return t, nil
}

// Atom is a unit of domain knowledge.
type Atom struct {
	ID        string           `json:"id"`
	Type      Type             `json:"atom_type"`
	Title     string           `json:"title"`
	Summary   string           `json:"summary,omitempty"`
	Threshold access.Threshold `json:"knowledge_threshold"`

	SemanticEmbedding []float64          `json:"-"`
	TensorEmbedding   []float64          `json:"-"`
	TensorComponents  map[string]float64 `json:"tensor_components,omitempty"`

	CreatedAt int64 `json:"created_at,omitempty"`
	UpdatedAt int64 `json:"updated_at,omitempty"`
}

// Dimensions is the fixed dimensionality of the two embedding spaces.
type Dimensions struct {
	Semantic int
	Tensor   int
}

// Validate checks the atom's identity fields and that both embeddings match
// dims exactly. A mismatch wraps ErrDimensionMismatch.
func (a *Atom) Validate(dims Dimensions) error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("atom id required")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("atom %s: invalid type %q", a.ID, a.Type)
	}
	if strings.TrimSpace(a.Title) == "" {
		return fmt.Errorf("atom %s: title required", a.ID)
	}
	if !a.Threshold.Valid() {
		return fmt.Errorf("atom %s: invalid knowledge threshold %d", a.ID, int(a.Threshold))
	}
	return a.CheckDimensions(dims)
}

// CheckDimensions verifies both embeddings against dims.
func (a *Atom) CheckDimensions(dims Dimensions) error {
	if err := CheckDimension("semantic", a.SemanticEmbedding, dims.Semantic); err != nil {
		return fmt.Errorf("atom %s: %w", a.ID, err)
	}
	if err := CheckDimension("tensor", a.TensorEmbedding, dims.Tensor); err != nil {
		return fmt.Errorf("atom %s: %w", a.ID, err)
	}
	return nil
}

// CheckDimension returns ErrDimensionMismatch when len(vec) != want.
func CheckDimension(space string, vec []float64, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: %s space expects %d, got %d", ErrDimensionMismatch, space, want, len(vec))
	}
	return nil
}
