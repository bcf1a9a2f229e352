package atom

import (
	"context"
	"sort"
)

// Repository is the read side of the knowledge store. Implementations must
// be safe for concurrent use.
type Repository interface {
	// GetAtom returns ErrNotFound (possibly wrapped) for unknown ids.
	GetAtom(ctx context.Context, id string) (*Atom, error)
	// GetAtoms returns the atoms that exist among ids; missing ids are absent
	// from the map.
	GetAtoms(ctx context.Context, ids []string) (map[string]*Atom, error)
	// GetRelationships returns edges touching atomID in the given direction.
	GetRelationships(ctx context.Context, atomID string, dir EdgeDirection) ([]Relationship, error)
	// GetRelationshipBetween returns the highest precedence edge between a
	// and b in either direction, or nil when there is none.
	GetRelationshipBetween(ctx context.Context, a, b string) (*Relationship, error)
	// RelationshipsBetween returns every edge between a and b in either
	// direction, ordered by precedence.
	RelationshipsBetween(ctx context.Context, a, b string) ([]Relationship, error)
	GetEvidence(ctx context.Context, atomID string) ([]Evidence, error)
}

// SortByPrecedence orders edges so the one that matters most for
// compatibility comes first: conflict, caution, synergy, neutral, then
// everything else; ties by strength descending, then id.
func SortByPrecedence(rels []Relationship) {
	sort.SliceStable(rels, func(i, j int) bool {
		ci, cj := rels[i].Type.Class(), rels[j].Type.Class()
		if ci != cj {
			return ci > cj
		}
		if rels[i].Strength != rels[j].Strength {
			return rels[i].Strength > rels[j].Strength
		}
		return rels[i].ID < rels[j].ID
	})
}

// SortByNeighbour orders edges by the endpoint opposite to id, then type,
// then id, giving traversal a stable expansion order.
func SortByNeighbour(rels []Relationship, id string) {
	sort.SliceStable(rels, func(i, j int) bool {
		oi, oj := rels[i].Other(id), rels[j].Other(id)
		if oi != oj {
			return oi < oj
		}
		if rels[i].Type != rels[j].Type {
			return rels[i].Type < rels[j].Type
		}
		return rels[i].ID < rels[j].ID
	})
}
