package atom

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/dermagraph/internal/access"
)

func validAtom() *Atom {
	return &Atom{
		ID:                "niacinamide",
		Type:              Ingredient,
		Title:             "Niacinamide",
		Threshold:         access.T2,
		SemanticEmbedding: []float64{0.1, 0.2, 0.3},
		TensorEmbedding:   []float64{0.5, 0.5},
	}
}

func TestAtomValidate(t *testing.T) {
	dims := Dimensions{Semantic: 3, Tensor: 2}
	require.NoError(t, validAtom().Validate(dims))

	a := validAtom()
	a.SemanticEmbedding = []float64{0.1, 0.2}
	err := a.Validate(dims)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	a = validAtom()
	a.TensorEmbedding = []float64{0.1, 0.2, 0.3}
	assert.True(t, errors.Is(a.Validate(dims), ErrDimensionMismatch))

	a = validAtom()
	a.Type = "SERUM"
	assert.Error(t, a.Validate(dims))

	a = validAtom()
	a.Threshold = 0
	assert.Error(t, a.Validate(dims))
}

func TestRelationshipValidate(t *testing.T) {
	r := Relationship{FromID: "a", ToID: "b", Type: Caution, Strength: 0.8, Threshold: access.T2}
	require.NoError(t, r.Validate())

	bad := r
	bad.Strength = 1.2
	assert.Error(t, bad.Validate())

	bad = r
	bad.ToID = "a"
	assert.Error(t, bad.Validate())

	bad = r
	bad.Type = "LIKES"
	assert.Error(t, bad.Validate())
}

func TestRelationshipClass(t *testing.T) {
	assert.Equal(t, ClassConflict, ConflictsWith.Class())
	assert.Equal(t, ClassCaution, SequenceDependent.Class())
	assert.Equal(t, ClassCaution, ConcentrationDependent.Class())
	assert.Equal(t, ClassSynergy, SynergizesWith.Class())
	assert.Equal(t, ClassNeutral, Neutral.Class())
	assert.Equal(t, ClassNone, Enables.Class())
}

func TestSortByPrecedence(t *testing.T) {
	rels := []Relationship{
		{ID: "r1", Type: SynergizesWith, Strength: 0.9},
		{ID: "r2", Type: Enables, Strength: 1},
		{ID: "r3", Type: Caution, Strength: 0.3},
		{ID: "r4", Type: ConflictsWith, Strength: 0.2},
		{ID: "r5", Type: Caution, Strength: 0.7},
	}
	SortByPrecedence(rels)
	var ids []string
	for _, r := range rels {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"r4", "r5", "r3", "r1", "r2"}, ids)
}

func TestSortByNeighbour(t *testing.T) {
	rels := []Relationship{
		{ID: "1", FromID: "x", ToID: "c", Type: Enables},
		{ID: "2", FromID: "a", ToID: "x", Type: Causes},
		{ID: "3", FromID: "x", ToID: "b", Type: Enables},
	}
	SortByNeighbour(rels, "x")
	assert.Equal(t, "a", rels[0].Other("x"))
	assert.Equal(t, "b", rels[1].Other("x"))
	assert.Equal(t, "c", rels[2].Other("x"))
}

func TestSortEvidence(t *testing.T) {
	ev := []Evidence{
		{ID: "e1", Level: InVitro, Year: 2020},
		{ID: "e2", Level: MetaAnalysis, Year: 2015},
		{ID: "e3", Level: MetaAnalysis, Year: 2021},
	}
	SortEvidence(ev)
	assert.Equal(t, "e3", ev[0].ID)
	assert.Equal(t, "e2", ev[1].ID)
	assert.Equal(t, "e1", ev[2].ID)
}

func TestParseEvidenceLevel(t *testing.T) {
	l, err := ParseEvidenceLevel("human_controlled")
	require.NoError(t, err)
	assert.Equal(t, HumanControlled, l)
	assert.True(t, GoldStandard > MetaAnalysis)

	_, err = ParseEvidenceLevel("hearsay")
	assert.Error(t, err)
}
