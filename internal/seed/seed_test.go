package seed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/embedding"
	"github.com/lazypower/dermagraph/internal/store"
	"github.com/lazypower/dermagraph/internal/tensor"
)

const semanticDims = 32

func setup(t *testing.T, ds *Dataset) (*store.DB, *Seeder) {
	t.Helper()
	schema := tensor.MustSchema(tensor.DefaultComponents)
	db, err := store.OpenMemory(atom.Dimensions{Semantic: semanticDims, Tensor: schema.Dim()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	emb, err := embedding.NewTFIDF(ds.Documents(), semanticDims)
	require.NoError(t, err)
	return db, NewSeeder(db, emb, schema, nil, 4, nil)
}

func TestBuiltinDatasetIsValid(t *testing.T) {
	ds, err := Builtin()
	require.NoError(t, err)
	assert.NotEmpty(t, ds.Atoms)
	assert.NotEmpty(t, ds.Relationships)
}

func TestApplyBuiltin(t *testing.T) {
	ds, err := Builtin()
	require.NoError(t, err)
	db, s := setup(t, ds)
	ctx := context.Background()

	stats, err := s.Apply(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, len(ds.Atoms), stats.Atoms)
	assert.Equal(t, len(ds.Relationships), stats.Relationships)

	n, err := db.CountAtoms(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(ds.Atoms), n)

	// profile text is projected through the lexicon
	tret, err := db.GetAtom(ctx, "tretinoin")
	require.NoError(t, err)
	assert.Equal(t, access.T5, tret.Threshold)
	assert.Len(t, tret.TensorEmbedding, len(tensor.DefaultComponents))
	assert.Len(t, tret.SemanticEmbedding, semanticDims)
	assert.Equal(t, 0.9, tret.TensorComponents["photosensitivity"])

	// unset relationship thresholds take the stricter endpoint
	rel, err := db.GetRelationshipBetween(ctx, "retinol", "collagen-synthesis")
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, access.T4, rel.Threshold)

	ev, err := db.GetEvidence(ctx, "retinol")
	require.NoError(t, err)
	require.Len(t, ev, 2)
	assert.Equal(t, atom.MetaAnalysis, ev[0].Level)
}

func TestApplyIsIdempotent(t *testing.T) {
	ds, err := Builtin()
	require.NoError(t, err)
	db, s := setup(t, ds)
	ctx := context.Background()

	_, err = s.Apply(ctx, ds)
	require.NoError(t, err)
	first, err := db.ListRelationships(ctx)
	require.NoError(t, err)

	_, err = s.Apply(ctx, ds)
	require.NoError(t, err)
	second, err := db.ListRelationships(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n, err := db.CountAtoms(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(ds.Atoms), n)

	ev, err := db.GetEvidence(ctx, "niacinamide")
	require.NoError(t, err)
	assert.Len(t, ev, 2)
}

type failingEmbedder struct{ embedding.Service }

func (failingEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, errors.New("model offline")
}

func TestApplyStopsOnEmbedFailure(t *testing.T) {
	ds, err := Builtin()
	require.NoError(t, err)
	db, s := setup(t, ds)
	s.embedder = failingEmbedder{s.embedder}

	_, err = s.Apply(context.Background(), ds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")

	n, err := db.CountAtoms(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestParseRejectsInvalidDatasets(t *testing.T) {
	cases := map[string]string{
		"unknown field": `
atoms:
  - id: a
    type: INGREDIENT
    title: A
    threshold: T1
    colour: red
`,
		"bad threshold": `
atoms:
  - id: a
    type: INGREDIENT
    title: A
    threshold: T9
`,
		"missing title": `
atoms:
  - id: a
    type: INGREDIENT
    threshold: T1
`,
		"unknown atom type": `
atoms:
  - id: a
    type: SERUM
    title: A
    threshold: T1
`,
		"duplicate atom": `
atoms:
  - {id: a, type: INGREDIENT, title: A, threshold: T1}
  - {id: a, type: INGREDIENT, title: A, threshold: T1}
`,
		"dangling relationship": `
atoms:
  - {id: a, type: INGREDIENT, title: A, threshold: T1}
relationships:
  - {from: a, to: b, type: CAUSES, strength: 0.5}
`,
		"self loop": `
atoms:
  - {id: a, type: INGREDIENT, title: A, threshold: T1}
relationships:
  - {from: a, to: a, type: CAUSES, strength: 0.5}
`,
		"strength out of range": `
atoms:
  - {id: a, type: INGREDIENT, title: A, threshold: T1}
  - {id: b, type: INGREDIENT, title: B, threshold: T1}
relationships:
  - {from: a, to: b, type: CAUSES, strength: 1.5}
`,
		"bad evidence level": `
atoms:
  - id: a
    type: INGREDIENT
    title: A
    threshold: T1
    evidence:
      - {claim: works, level: VIBES}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	ds, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, ds.Atoms)
}
