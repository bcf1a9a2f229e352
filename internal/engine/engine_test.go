package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/apperr"
	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/tensor"
)

func TestNewRejectsMismatchedDimensions(t *testing.T) {
	f := newFixture()
	f.cfg.Embedding.Dimensions = 8
	_, err := New(Deps{Repo: f.repo, Index: f.index, Embedder: f.embedder, Schema: testSchema}, f.cfg)
	assert.True(t, errors.Is(err, atom.ErrDimensionMismatch))

	f = newFixture()
	_, err = New(Deps{Repo: f.repo, Index: f.index, Embedder: f.embedder, Schema: tensor.MustSchema([]string{"hydration"})}, f.cfg)
	assert.True(t, errors.Is(err, atom.ErrDimensionMismatch))

	_, err = New(Deps{Index: f.index, Embedder: f.embedder, Schema: testSchema}, f.cfg)
	assert.Error(t, err)
}

func TestGetAtom(t *testing.T) {
	f := newFixture()
	f.repo.add("retinol", access.T3, nil)
	f.repo.add("bakuchiol", access.T1, nil)
	f.repo.add("tretinoin", access.T6, nil)
	f.repo.link("retinol", "bakuchiol", atom.RelatedTo, 0.5, access.T1)
	f.repo.link("tretinoin", "retinol", atom.RelatedTo, 0.5, access.T1)
	f.repo.link("bakuchiol", "retinol", atom.SynergizesWith, 0.5, access.T7)
	f.repo.evidence["retinol"] = []atom.Evidence{
		{ID: "e1", AtomID: "retinol", Claim: "reduces fine lines", Level: atom.HumanPilot, Year: 2021},
		{ID: "e2", AtomID: "retinol", Claim: "increases collagen", Level: atom.MetaAnalysis, Year: 2015},
	}
	e := f.engine(t)
	ctx := context.Background()

	d, err := e.GetAtom(ctx, "retinol", access.Registered)
	require.NoError(t, err)
	assert.Equal(t, "retinol", d.Atom.ID)
	require.Len(t, d.Evidence, 2)
	assert.Equal(t, "increases collagen", d.Evidence[0].Claim)
	require.Len(t, d.Relationships, 1)
	assert.Equal(t, "bakuchiol", d.Relationships[0].ToID)

	d, err = e.GetAtom(ctx, "retinol", access.Expert)
	require.NoError(t, err)
	assert.Len(t, d.Relationships, 3)

	_, err = e.GetAtom(ctx, "retinol", access.Public)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = e.GetAtom(ctx, "nope", access.Expert)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	d, err = e.GetAtom(ctx, "bakuchiol", access.Public)
	require.NoError(t, err)
	assert.NotNil(t, d.Evidence)
	assert.Empty(t, d.Relationships)
}

func TestUniqueSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, uniqueSorted([]string{"b", " a", "", "b", "a"}))
	assert.Empty(t, uniqueSorted(nil))
}
