// Package vectorindex answers nearest-neighbour queries over the two
// embedding spaces atoms live in.
package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Space selects one of the two embedding spaces.
type Space string

const (
	Semantic Space = "semantic"
	Tensor   Space = "tensor"
)

// Spaces lists every space in a stable order.
var Spaces = []Space{Semantic, Tensor}

func (s Space) Valid() bool { return s == Semantic || s == Tensor }

func (s Space) String() string { return string(s) }

// ParseSpace parses a space name, case-insensitive.
func ParseSpace(v string) (Space, error) {
	s := Space(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid vector space %q", v)
	}
	return s, nil
}

// Match is one neighbour. Distance is cosine distance (1 - cosine) in the
// semantic space and euclidean distance in the tensor space.
type Match struct {
	AtomID   string
	Distance float64
}

// Client queries a vector index. Implementations must be safe for
// concurrent use. Results are ordered by ascending distance, ties by atom id.
type Client interface {
	Query(ctx context.Context, space Space, vector []float64, topK int) ([]Match, error)
}

// SortMatches orders matches nearest first, then by atom id.
func SortMatches(m []Match) {
	sort.SliceStable(m, func(i, j int) bool {
		if m[i].Distance != m[j].Distance {
			return m[i].Distance < m[j].Distance
		}
		return m[i].AtomID < m[j].AtomID
	})
}
