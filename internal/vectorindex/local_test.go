package vectorindex

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/logger"
	"github.com/lazypower/dermagraph/internal/store"
)

type staticSource map[string][]store.EmbeddingRecord

func (s staticSource) AllEmbeddings(_ context.Context, space string) ([]store.EmbeddingRecord, error) {
	return s[space], nil
}

var dims = atom.Dimensions{Semantic: 2, Tensor: 2}

func TestLocalSemanticQuery(t *testing.T) {
	src := staticSource{
		"semantic": {
			{AtomID: "a", Embedding: []float64{1, 0}},
			{AtomID: "b", Embedding: []float64{0, 1}},
			{AtomID: "c", Embedding: []float64{1, 1}},
			{AtomID: "broken", Embedding: []float64{1, 0, 0}},
		},
	}
	idx := NewLocal(src, dims, logger.Nop())

	got, err := idx.Query(context.Background(), Semantic, []float64{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, got, 3, "mismatched row is skipped")
	assert.Equal(t, "a", got[0].AtomID)
	assert.InDelta(t, 0, got[0].Distance, 1e-9)
	assert.Equal(t, "c", got[1].AtomID)
	assert.InDelta(t, 1-1/math.Sqrt2, got[1].Distance, 1e-9)
	assert.Equal(t, "b", got[2].AtomID)
	assert.InDelta(t, 1, got[2].Distance, 1e-9)
}

func TestLocalTensorQueryTopK(t *testing.T) {
	src := staticSource{
		"tensor": {
			{AtomID: "far", Embedding: []float64{3, 4}},
			{AtomID: "tie-b", Embedding: []float64{1, 0}},
			{AtomID: "tie-a", Embedding: []float64{0, 1}},
		},
	}
	idx := NewLocal(src, dims, logger.Nop())

	got, err := idx.Query(context.Background(), Tensor, []float64{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tie-a", got[0].AtomID, "ties broken by atom id")
	assert.Equal(t, "tie-b", got[1].AtomID)
	assert.InDelta(t, 1, got[0].Distance, 1e-9)
}

func TestLocalRejectsBadQueries(t *testing.T) {
	idx := NewLocal(staticSource{}, dims, logger.Nop())
	ctx := context.Background()

	_, err := idx.Query(ctx, Semantic, []float64{1, 2, 3}, 5)
	assert.ErrorIs(t, err, atom.ErrDimensionMismatch)

	_, err = idx.Query(ctx, Space("colour"), []float64{1, 2}, 5)
	assert.Error(t, err)

	got, err := idx.Query(ctx, Semantic, []float64{1, 2}, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocalHonoursCancellation(t *testing.T) {
	src := staticSource{"semantic": {{AtomID: "a", Embedding: []float64{1, 0}}}}
	idx := NewLocal(src, dims, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.Query(ctx, Semantic, []float64{1, 0}, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseSpace(t *testing.T) {
	s, err := ParseSpace(" Tensor ")
	require.NoError(t, err)
	assert.Equal(t, Tensor, s)

	_, err = ParseSpace("visual")
	assert.Error(t, err)
}
