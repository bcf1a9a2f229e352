package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/atom"
)

var relationshipNamespace = uuid.MustParse("8a0c5f3e-7d7b-4c53-9d6e-2f1f3b8c9a41")

// RelationshipID derives a stable id from an edge's identity so re-seeding
// the same edge updates it in place.
func RelationshipID(from, to string, typ atom.RelationshipType) string {
	return uuid.NewSHA1(relationshipNamespace, []byte(from+"|"+to+"|"+string(typ))).String()
}

// UpsertRelationship creates or updates an edge keyed by (from, to, type).
// Both endpoints must exist.
func (db *DB) UpsertRelationship(ctx context.Context, r *atom.Relationship) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = RelationshipID(r.FromID, r.ToID, r.Type)
	}

	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO relationships (id, from_atom_id, to_atom_id, relationship_type, strength,
			evidence_description, threshold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?)
		ON CONFLICT(from_atom_id, to_atom_id, relationship_type) DO UPDATE SET
			strength = excluded.strength, evidence_description = excluded.evidence_description,
			threshold = excluded.threshold, updated_at = excluded.updated_at
	`, r.ID, r.FromID, r.ToID, string(r.Type), r.Strength, r.EvidenceDescription, int(r.Threshold), now, now)
	if err != nil {
		return fmt.Errorf("upsert relationship %s -> %s: %w", r.FromID, r.ToID, err)
	}
	return nil
}

const relationshipColumns = `id, from_atom_id, to_atom_id, relationship_type, strength, evidence_description, threshold`

// GetRelationships returns the edges touching atomID in dir, ordered by
// neighbour id so traversal expands deterministically.
func (db *DB) GetRelationships(ctx context.Context, atomID string, dir atom.EdgeDirection) ([]atom.Relationship, error) {
	var query string
	var args []any
	switch dir {
	case atom.Outbound:
		query = `SELECT ` + relationshipColumns + ` FROM relationships WHERE from_atom_id = ?`
		args = []any{atomID}
	case atom.Inbound:
		query = `SELECT ` + relationshipColumns + ` FROM relationships WHERE to_atom_id = ?`
		args = []any{atomID}
	case atom.AnyDirection:
		query = `SELECT ` + relationshipColumns + ` FROM relationships WHERE from_atom_id = ? OR to_atom_id = ?`
		args = []any{atomID, atomID}
	default:
		return nil, fmt.Errorf("get relationships: invalid direction %v", dir)
	}

	rels, err := db.queryRelationships(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get relationships of %s: %w", atomID, err)
	}
	atom.SortByNeighbour(rels, atomID)
	return rels, nil
}

// RelationshipsBetween returns every edge between a and b, either direction,
// ordered by compatibility precedence.
func (db *DB) RelationshipsBetween(ctx context.Context, a, b string) ([]atom.Relationship, error) {
	rels, err := db.queryRelationships(ctx, `
		SELECT `+relationshipColumns+` FROM relationships
		WHERE (from_atom_id = ? AND to_atom_id = ?) OR (from_atom_id = ? AND to_atom_id = ?)
	`, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("relationships between %s and %s: %w", a, b, err)
	}
	atom.SortByPrecedence(rels)
	return rels, nil
}

// GetRelationshipBetween returns the highest precedence edge between a and b,
// or nil when none exists.
func (db *DB) GetRelationshipBetween(ctx context.Context, a, b string) (*atom.Relationship, error) {
	rels, err := db.RelationshipsBetween(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, nil
	}
	return &rels[0], nil
}

// ListRelationships returns every edge ordered by id.
func (db *DB) ListRelationships(ctx context.Context) ([]atom.Relationship, error) {
	rels, err := db.queryRelationships(ctx, `SELECT `+relationshipColumns+` FROM relationships ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	return rels, nil
}

func (db *DB) queryRelationships(ctx context.Context, query string, args ...any) ([]atom.Relationship, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []atom.Relationship
	for rows.Next() {
		var r atom.Relationship
		var typ string
		var desc sql.NullString
		var threshold int
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &typ, &r.Strength, &desc, &threshold); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		r.Type = atom.RelationshipType(typ)
		r.EvidenceDescription = desc.String
		r.Threshold = access.Threshold(threshold)
		rels = append(rels, r)
	}
	return rels, rows.Err()
}
