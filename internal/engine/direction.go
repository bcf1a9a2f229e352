package engine

import (
	"fmt"
	"strings"

	"github.com/lazypower/dermagraph/internal/atom"
)

// Direction selects which side of the seed a causal chain explores.
type Direction string

const (
	Upstream   Direction = "upstream"
	Downstream Direction = "downstream"
	Both       Direction = "both"
)

// ParseDirection parses a direction name, case-insensitive.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case Upstream, Downstream, Both:
		return d, nil
	}
	return "", fmt.Errorf("invalid direction %q", s)
}

func (d Direction) sides() []Direction {
	if d == Both {
		return []Direction{Upstream, Downstream}
	}
	return []Direction{d}
}

// causalRule says which edges one traversal side follows: the edge
// orientation relative to the current atom and the admitted types.
type causalRule struct {
	edges atom.EdgeDirection
	types map[atom.RelationshipType]bool
}

// Upstream walks to causes: atoms with an edge pointing at the current one.
// Downstream walks to effects along outbound edges.
var causalRules = map[Direction]causalRule{
	Upstream: {
		edges: atom.Inbound,
		types: map[atom.RelationshipType]bool{
			atom.PrerequisiteOf: true,
			atom.Enables:        true,
			atom.Causes:         true,
		},
	},
	Downstream: {
		edges: atom.Outbound,
		types: map[atom.RelationshipType]bool{
			atom.ConsequenceOf:  true,
			atom.Enables:        true,
			atom.Causes:         true,
			atom.Inhibits:       true,
			atom.PrerequisiteOf: true,
		},
	},
}

const (
	minDepth = 1
	maxDepth = 5
)

func clampDepth(d int) int {
	if d < minDepth {
		return minDepth
	}
	if d > maxDepth {
		return maxDepth
	}
	return d
}
