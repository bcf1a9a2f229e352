package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/dermagraph/internal/atom"
)

var evidenceNamespace = uuid.MustParse("c4f2d8b1-1e5a-4b6f-8f0e-6a9d2c7e5b13")

// UpsertEvidence stores a claim about an atom. Evidence without an id is
// keyed by (atom, claim, source, year).
func (db *DB) UpsertEvidence(ctx context.Context, e *atom.Evidence) error {
	if e.AtomID == "" || e.Claim == "" {
		return fmt.Errorf("evidence needs atom id and claim")
	}
	if !e.Level.Valid() {
		return fmt.Errorf("evidence for %s: invalid level %d", e.AtomID, int(e.Level))
	}
	if e.ID == "" {
		key := e.AtomID + "|" + e.Claim + "|" + e.Source + "|" + strconv.Itoa(e.Year)
		e.ID = uuid.NewSHA1(evidenceNamespace, []byte(key)).String()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO evidence (id, atom_id, claim, evidence_level, sample_size, source, year, created_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?)
		ON CONFLICT(id) DO UPDATE SET claim = excluded.claim, evidence_level = excluded.evidence_level,
			sample_size = excluded.sample_size, source = excluded.source, year = excluded.year
	`, e.ID, e.AtomID, e.Claim, int(e.Level), e.SampleSize, e.Source, e.Year, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert evidence for %s: %w", e.AtomID, err)
	}
	return nil
}

// GetEvidence returns an atom's evidence, strongest first.
func (db *DB) GetEvidence(ctx context.Context, atomID string) ([]atom.Evidence, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, atom_id, claim, evidence_level, sample_size, source, year
		FROM evidence WHERE atom_id = ?
	`, atomID)
	if err != nil {
		return nil, fmt.Errorf("get evidence: %w", err)
	}
	defer rows.Close()

	var out []atom.Evidence
	for rows.Next() {
		var e atom.Evidence
		var level int
		var source sql.NullString
		if err := rows.Scan(&e.ID, &e.AtomID, &e.Claim, &level, &e.SampleSize, &source, &e.Year); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		e.Level = atom.EvidenceLevel(level)
		e.Source = source.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	atom.SortEvidence(out)
	return out, nil
}
