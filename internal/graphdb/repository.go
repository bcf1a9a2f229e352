package graphdb

import (
	"context"
	"fmt"

	"github.com/lazypower/dermagraph/internal/atom"
)

func (c *Client) GetAtom(ctx context.Context, id string) (*atom.Atom, error) {
	rows, err := c.read(ctx, `MATCH (a:Atom {id: $id}) RETURN a {.*} AS a`, map[string]any{"id": id}, "a")
	if err != nil {
		return nil, fmt.Errorf("get atom %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("get atom %q: %w", id, atom.ErrNotFound)
	}
	return atomFromProps(rows[0])
}

func (c *Client) GetAtoms(ctx context.Context, ids []string) (map[string]*atom.Atom, error) {
	out := make(map[string]*atom.Atom, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := c.read(ctx, `
UNWIND $ids AS id
MATCH (a:Atom {id: id})
RETURN DISTINCT a {.*} AS a
`, map[string]any{"ids": ids}, "a")
	if err != nil {
		return nil, fmt.Errorf("get atoms: %w", err)
	}
	for _, row := range rows {
		a, err := atomFromProps(row)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, nil
}

var relationshipQueries = map[atom.EdgeDirection]string{
	atom.Outbound:     `MATCH (:Atom {id: $id})-[r:RELATES]->(:Atom) RETURN r {.*} AS r`,
	atom.Inbound:      `MATCH (:Atom)-[r:RELATES]->(:Atom {id: $id}) RETURN r {.*} AS r`,
	atom.AnyDirection: `MATCH (:Atom {id: $id})-[r:RELATES]-(:Atom) RETURN DISTINCT r {.*} AS r`,
}

// GetRelationships returns edges ordered by the neighbouring atom id.
func (c *Client) GetRelationships(ctx context.Context, atomID string, dir atom.EdgeDirection) ([]atom.Relationship, error) {
	query, ok := relationshipQueries[dir]
	if !ok {
		return nil, fmt.Errorf("get relationships: invalid direction %s", dir)
	}
	rows, err := c.read(ctx, query, map[string]any{"id": atomID}, "r")
	if err != nil {
		return nil, fmt.Errorf("get relationships of %s: %w", atomID, err)
	}
	rels, err := relationshipsFromRows(rows)
	if err != nil {
		return nil, err
	}
	atom.SortByNeighbour(rels, atomID)
	return rels, nil
}

func (c *Client) RelationshipsBetween(ctx context.Context, a, b string) ([]atom.Relationship, error) {
	rows, err := c.read(ctx, `
MATCH (:Atom {id: $a})-[r:RELATES]-(:Atom {id: $b})
RETURN DISTINCT r {.*} AS r
`, map[string]any{"a": a, "b": b}, "r")
	if err != nil {
		return nil, fmt.Errorf("relationships between %s and %s: %w", a, b, err)
	}
	rels, err := relationshipsFromRows(rows)
	if err != nil {
		return nil, err
	}
	atom.SortByPrecedence(rels)
	return rels, nil
}

func (c *Client) GetRelationshipBetween(ctx context.Context, a, b string) (*atom.Relationship, error) {
	rels, err := c.RelationshipsBetween(ctx, a, b)
	if err != nil || len(rels) == 0 {
		return nil, err
	}
	return &rels[0], nil
}

// GetEvidence returns an atom's evidence, strongest first.
func (c *Client) GetEvidence(ctx context.Context, atomID string) ([]atom.Evidence, error) {
	rows, err := c.read(ctx, `MATCH (e:Evidence {atom_id: $id}) RETURN e {.*} AS e`, map[string]any{"id": atomID}, "e")
	if err != nil {
		return nil, fmt.Errorf("get evidence of %s: %w", atomID, err)
	}
	out := make([]atom.Evidence, 0, len(rows))
	for _, row := range rows {
		e, err := evidenceFromProps(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	atom.SortEvidence(out)
	return out, nil
}

func relationshipsFromRows(rows []any) ([]atom.Relationship, error) {
	rels := make([]atom.Relationship, 0, len(rows))
	for _, row := range rows {
		r, err := relationshipFromProps(row)
		if err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, nil
}
