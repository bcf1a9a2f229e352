package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Embedding space names as stored in atom_embeddings.space.
const (
	SpaceSemantic = "semantic"
	SpaceTensor   = "tensor"
)

// EmbeddingRecord holds one atom's vector in one space.
type EmbeddingRecord struct {
	AtomID     string
	Space      string
	Embedding  []float64
	Model      string
	Dimensions int
	CreatedAt  int64
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveEmbedding(ctx context.Context, ex execer, atomID, space string, embedding []float64, model string) error {
	now := time.Now().UnixMilli()
	blob := encodeEmbedding(embedding)

	_, err := ex.ExecContext(ctx, `
		INSERT INTO atom_embeddings (atom_id, space, embedding, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(atom_id, space) DO UPDATE SET embedding = ?, model = ?, dimensions = ?, created_at = ?
	`, atomID, space, blob, model, len(embedding), now,
		blob, model, len(embedding), now)
	if err != nil {
		return fmt.Errorf("save %s embedding: %w", space, err)
	}
	return nil
}

// GetEmbedding returns the embedding of an atom in a space, or nil if not found.
func (db *DB) GetEmbedding(ctx context.Context, atomID, space string) (*EmbeddingRecord, error) {
	v := EmbeddingRecord{Space: space}
	var blob []byte

	err := db.QueryRowContext(ctx, `
		SELECT atom_id, embedding, model, dimensions, created_at
		FROM atom_embeddings WHERE atom_id = ? AND space = ?
	`, atomID, space).Scan(&v.AtomID, &blob, &v.Model, &v.Dimensions, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	v.Embedding = decodeEmbedding(blob)
	return &v, nil
}

// AllEmbeddings returns every stored vector of one space, ordered by atom id.
// Rows are returned as stored; callers validate dimensionality.
func (db *DB) AllEmbeddings(ctx context.Context, space string) ([]EmbeddingRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT atom_id, embedding, model, dimensions, created_at
		FROM atom_embeddings WHERE space = ?
		ORDER BY atom_id
	`, space)
	if err != nil {
		return nil, fmt.Errorf("all embeddings: %w", err)
	}
	defer rows.Close()

	var records []EmbeddingRecord
	for rows.Next() {
		v := EmbeddingRecord{Space: space}
		var blob []byte
		if err := rows.Scan(&v.AtomID, &blob, &v.Model, &v.Dimensions, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		v.Embedding = decodeEmbedding(blob)
		records = append(records, v)
	}
	return records, rows.Err()
}

// DeleteEmbedding removes one space's vector for an atom.
func (db *DB) DeleteEmbedding(ctx context.Context, atomID, space string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM atom_embeddings WHERE atom_id = ? AND space = ?", atomID, space)
	if err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	return nil
}
