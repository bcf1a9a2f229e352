package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/atom"
)

// TensorModel is the model tag recorded for tensor embeddings, which are
// laid out from named components rather than produced by a model.
const TensorModel = "tensor-schema"

// batchSize bounds the number of ids in one IN clause.
const batchSize = 200

// UpsertAtom creates or replaces an atom and both of its embeddings in one
// transaction. Embedding dimensionality is validated against db.Dims; a
// mismatch is rejected with atom.ErrDimensionMismatch and nothing is written.
func (db *DB) UpsertAtom(ctx context.Context, a *atom.Atom, semanticModel string) error {
	if err := a.Validate(db.Dims); err != nil {
		return err
	}

	components, err := encodeComponents(a.TensorComponents)
	if err != nil {
		return fmt.Errorf("upsert atom %s: %w", a.ID, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert atom: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO atoms (id, atom_type, title, summary, threshold, tensor_components, created_at, updated_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET atom_type = excluded.atom_type, title = excluded.title,
			summary = excluded.summary, threshold = excluded.threshold,
			tensor_components = excluded.tensor_components, updated_at = excluded.updated_at
	`, a.ID, string(a.Type), a.Title, a.Summary, int(a.Threshold), components, now, now)
	if err != nil {
		return fmt.Errorf("upsert atom %s: %w", a.ID, err)
	}

	if err := saveEmbedding(ctx, tx, a.ID, SpaceSemantic, a.SemanticEmbedding, semanticModel); err != nil {
		return err
	}
	if err := saveEmbedding(ctx, tx, a.ID, SpaceTensor, a.TensorEmbedding, TensorModel); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert atom %s: %w", a.ID, err)
	}
	a.UpdatedAt = now
	return nil
}

// GetAtom returns an atom with its embeddings, or a wrapped atom.ErrNotFound.
func (db *DB) GetAtom(ctx context.Context, id string) (*atom.Atom, error) {
	found, err := db.GetAtoms(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	a, ok := found[id]
	if !ok {
		return nil, fmt.Errorf("get atom %q: %w", id, atom.ErrNotFound)
	}
	return a, nil
}

// GetAtoms loads the atoms among ids that exist, with their embeddings.
func (db *DB) GetAtoms(ctx context.Context, ids []string) (map[string]*atom.Atom, error) {
	out := make(map[string]*atom.Atom, len(ids))
	ids = uniqueIDs(ids)
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		if err := db.loadAtomBatch(ctx, batch, out); err != nil {
			return nil, err
		}
		if err := db.loadEmbeddingBatch(ctx, batch, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (db *DB) loadAtomBatch(ctx context.Context, ids []string, out map[string]*atom.Atom) error {
	placeholders, args := inClause(ids)
	rows, err := db.QueryContext(ctx, `
		SELECT id, atom_type, title, summary, threshold, tensor_components, created_at, updated_at
		FROM atoms WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("get atoms: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAtom(rows)
		if err != nil {
			return err
		}
		out[a.ID] = a
	}
	return rows.Err()
}

func (db *DB) loadEmbeddingBatch(ctx context.Context, ids []string, out map[string]*atom.Atom) error {
	placeholders, args := inClause(ids)
	rows, err := db.QueryContext(ctx, `
		SELECT atom_id, space, embedding FROM atom_embeddings WHERE atom_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("get atom embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, space string
		var blob []byte
		if err := rows.Scan(&id, &space, &blob); err != nil {
			return fmt.Errorf("scan atom embedding: %w", err)
		}
		a, ok := out[id]
		if !ok {
			continue
		}
		switch space {
		case SpaceSemantic:
			a.SemanticEmbedding = decodeEmbedding(blob)
		case SpaceTensor:
			a.TensorEmbedding = decodeEmbedding(blob)
		}
	}
	return rows.Err()
}

// ListAtoms returns every atom ordered by id. Embeddings are not loaded.
func (db *DB) ListAtoms(ctx context.Context) ([]atom.Atom, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, atom_type, title, summary, threshold, tensor_components, created_at, updated_at
		FROM atoms ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list atoms: %w", err)
	}
	defer rows.Close()

	var atoms []atom.Atom
	for rows.Next() {
		a, err := scanAtom(rows)
		if err != nil {
			return nil, err
		}
		atoms = append(atoms, *a)
	}
	return atoms, rows.Err()
}

// CountAtoms returns the number of stored atoms.
func (db *DB) CountAtoms(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM atoms").Scan(&n)
	return n, err
}

// DeleteAtom removes an atom; its edges, evidence and embeddings cascade.
func (db *DB) DeleteAtom(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, "DELETE FROM atoms WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete atom: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete atom %q: %w", id, atom.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAtom(row rowScanner) (*atom.Atom, error) {
	var a atom.Atom
	var typ string
	var threshold int
	var summary, components sql.NullString
	if err := row.Scan(&a.ID, &typ, &a.Title, &summary, &threshold, &components, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan atom: %w", err)
	}
	a.Type = atom.Type(typ)
	a.Threshold = access.Threshold(threshold)
	a.Summary = summary.String
	if components.Valid && components.String != "" {
		if err := json.Unmarshal([]byte(components.String), &a.TensorComponents); err != nil {
			return nil, fmt.Errorf("decode tensor components of %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func encodeComponents(c map[string]float64) (string, error) {
	if len(c) == 0 {
		return "", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode tensor components: %w", err)
	}
	return string(b), nil
}

func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
