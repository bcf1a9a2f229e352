package vectorindex

import (
	"context"
	"fmt"
	"math"

	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/embedding"
	"github.com/lazypower/dermagraph/internal/logger"
	"github.com/lazypower/dermagraph/internal/store"
)

// EmbeddingSource lists the stored vectors of one space.
type EmbeddingSource interface {
	AllEmbeddings(ctx context.Context, space string) ([]store.EmbeddingRecord, error)
}

// Local is an exact brute-force index over the embeddings held in the
// relational store. Suitable for corpora of a few tens of thousands of atoms.
type Local struct {
	src  EmbeddingSource
	dims atom.Dimensions
	log  *logger.Logger
}

func NewLocal(src EmbeddingSource, dims atom.Dimensions, log *logger.Logger) *Local {
	return &Local{src: src, dims: dims, log: log.With("component", "LocalVectorIndex")}
}

func (l *Local) Query(ctx context.Context, space Space, vector []float64, topK int) ([]Match, error) {
	if !space.Valid() {
		return nil, fmt.Errorf("local index: invalid space %q", space)
	}
	want := l.dims.Semantic
	if space == Tensor {
		want = l.dims.Tensor
	}
	if err := atom.CheckDimension(string(space), vector, want); err != nil {
		return nil, fmt.Errorf("local index query: %w", err)
	}
	if topK <= 0 {
		return nil, nil
	}

	records, err := l.src.AllEmbeddings(ctx, string(space))
	if err != nil {
		return nil, fmt.Errorf("local index scan %s: %w", space, err)
	}

	matches := make([]Match, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(r.Embedding) != want {
			l.log.Warn("skipping stored embedding with wrong dimensionality",
				"atom_id", r.AtomID, "space", space, "want", want, "got", len(r.Embedding))
			continue
		}
		matches = append(matches, Match{AtomID: r.AtomID, Distance: distance(space, vector, r.Embedding)})
	}

	SortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func distance(space Space, a, b []float64) float64 {
	if space == Tensor {
		return EuclideanDistance(a, b)
	}
	return CosineDistance(a, b)
}

// CosineDistance is 1 - cosine similarity, in [0, 2]. A zero vector is at
// distance 1 from everything.
func CosineDistance(a, b []float64) float64 {
	return 1 - embedding.CosineSimilarity(a, b)
}

// EuclideanDistance is the L2 distance between equal-length vectors.
func EuclideanDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
