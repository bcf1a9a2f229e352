package engine

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/apperr"
	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/vectorindex"
)

// seedSerums lays out a small catalogue around a vitamin C query.
func seedSerums(f *fixture) {
	f.repo.add("vitamin-c", access.T1, []float64{1, 0, 0})
	f.repo.add("ascorbyl-glucoside", access.T2, []float64{0.9, 0.1, 0})
	f.repo.add("niacinamide", access.T2, []float64{0.5, 0.5, 0})
	f.repo.add("hyaluronic-acid", access.T1, []float64{0.1, 0, 0.9})
	f.repo.add("retinol", access.T2, []float64{0, 1, 0})
	f.repo.add("ceramide", access.T1, []float64{0, 0, 1})

	f.repo.atoms["retinol"].TensorEmbedding = []float64{0.2, 0.9}
	f.repo.atoms["retinol"].TensorComponents = map[string]float64{"hydration": 0.2, "irritation": 0.9}
	f.repo.atoms["hyaluronic-acid"].TensorEmbedding = []float64{1, 0}
	f.repo.atoms["hyaluronic-acid"].TensorComponents = map[string]float64{"hydration": 1, "irritation": 0}

	f.embedder.vectors["vitamin c serum"] = []float64{1, 0, 0}
}

func metricsBody(t *testing.T, f *fixture) string {
	t.Helper()
	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestSearchSemanticOnlyWhenTensorSpaceDown(t *testing.T) {
	f := newFixture()
	seedSerums(f)
	f.index.fail = map[vectorindex.Space]error{vectorindex.Tensor: errors.New("connection refused")}
	e := f.engine(t)

	resp, err := e.Search(context.Background(), SearchRequest{
		QueryText: "vitamin c serum",
		Weights:   &Weights{Semantic: 1, Tensor: 0},
		Limit:     5,
	}, access.Public)
	require.NoError(t, err)

	assert.True(t, resp.Partial)
	assert.Equal(t, []vectorindex.Space{vectorindex.Tensor}, resp.UnavailableSpaces)
	assert.Equal(t, Weights{Semantic: 1, Tensor: 0}, resp.Weights)
	assert.Equal(t,
		[]string{"vitamin-c", "ascorbyl-glucoside", "niacinamide", "hyaluronic-acid", "ceramide"},
		ids(resp.Results))
	for _, r := range resp.Results {
		assert.Zero(t, r.TensorSim)
		assert.Equal(t, r.SemanticSim, r.CombinedScore)
	}
	assert.Contains(t, metricsBody(t, f), `dermagraph_search_requests_total{outcome="partial"} 1`)
	assert.Contains(t, metricsBody(t, f), `dermagraph_vector_space_failures_total{space="tensor"} 1`)
}

func TestSearchTensorOnlyWhenSemanticTimesOut(t *testing.T) {
	f := newFixture()
	seedSerums(f)
	f.index.stall = map[vectorindex.Space]bool{vectorindex.Semantic: true}
	e := f.engine(t)

	resp, err := e.Search(context.Background(), SearchRequest{
		QueryText:     "vitamin c serum",
		Limit:         3,
		TensorProfile: map[string]float64{"hydration": 1, "irritation": 0},
	}, access.Public)
	require.NoError(t, err)

	assert.True(t, resp.Partial)
	assert.Equal(t, []vectorindex.Space{vectorindex.Semantic}, resp.UnavailableSpaces)
	assert.Equal(t, Weights{Semantic: 0, Tensor: 1}, resp.Weights)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "hyaluronic-acid", resp.Results[0].Atom.ID)
	assert.Equal(t, 1.0, resp.Results[0].CombinedScore)
}

func TestSearchEmbedFailureCountsAsSemanticOutage(t *testing.T) {
	f := newFixture()
	seedSerums(f)
	f.embedder.err = errors.New("ollama: connection refused")
	e := f.engine(t)

	resp, err := e.Search(context.Background(), SearchRequest{QueryText: "vitamin c serum", Limit: 3}, access.Public)
	require.NoError(t, err)
	assert.True(t, resp.Partial)
	assert.Equal(t, []vectorindex.Space{vectorindex.Semantic}, resp.UnavailableSpaces)
}

func TestSearchBothSpacesDown(t *testing.T) {
	f := newFixture()
	seedSerums(f)
	f.index.fail = map[vectorindex.Space]error{
		vectorindex.Semantic: errors.New("down"),
		vectorindex.Tensor:   errors.New("down"),
	}
	e := f.engine(t)

	_, err := e.Search(context.Background(), SearchRequest{QueryText: "vitamin c serum", Limit: 3}, access.Public)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindServiceUnavailable))
	assert.Contains(t, metricsBody(t, f), `dermagraph_search_requests_total{outcome="error"} 1`)
}

func TestSearchCancelled(t *testing.T) {
	f := newFixture()
	seedSerums(f)
	e := f.engine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := e.Search(ctx, SearchRequest{QueryText: "vitamin c serum", Limit: 3}, access.Public)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSearchIsDeterministic(t *testing.T) {
	f := newFixture()
	seedSerums(f)
	e := f.engine(t)
	req := SearchRequest{QueryText: "vitamin c serum", Limit: 6}

	first, err := e.Search(context.Background(), req, access.Expert)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := e.Search(context.Background(), req, access.Expert)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSearchWeightNormalization(t *testing.T) {
	f := newFixture()
	seedSerums(f)
	e := f.engine(t)

	raw, err := e.Search(context.Background(), SearchRequest{
		QueryText: "vitamin c serum", Limit: 6, Weights: &Weights{Semantic: 0.6, Tensor: 0.3},
	}, access.Public)
	require.NoError(t, err)
	norm, err := e.Search(context.Background(), SearchRequest{
		QueryText: "vitamin c serum", Limit: 6, Weights: &Weights{Semantic: 2.0 / 3.0, Tensor: 1.0 / 3.0},
	}, access.Public)
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0, raw.Weights.Semantic, 1e-9)
	assert.InDelta(t, 1.0/3.0, raw.Weights.Tensor, 1e-9)
	require.Equal(t, ids(norm.Results), ids(raw.Results))
	for i := range raw.Results {
		assert.InDelta(t, norm.Results[i].CombinedScore, raw.Results[i].CombinedScore, 1e-9)
	}
}

func TestSearchScoresAreBounded(t *testing.T) {
	f := newFixture()
	seedSerums(f)
	f.repo.add("far", access.T1, []float64{-1, 0, 0}).TensorEmbedding = []float64{40, -40}
	e := f.engine(t)

	for _, w := range []Weights{{1, 0}, {0, 1}, {0.5, 0.5}, {0.2, 0.9}, {0.03, 0.29}} {
		resp, err := e.Search(context.Background(), SearchRequest{QueryText: "vitamin c serum", Limit: 10, Weights: &w}, access.Expert)
		require.NoError(t, err)
		for _, r := range resp.Results {
			assert.GreaterOrEqual(t, r.SemanticSim, 0.0)
			assert.LessOrEqual(t, r.SemanticSim, 1.0)
			assert.Greater(t, r.TensorSim, 0.0)
			assert.LessOrEqual(t, r.TensorSim, 1.0)
			assert.GreaterOrEqual(t, r.CombinedScore, 0.0)
			assert.LessOrEqual(t, r.CombinedScore, 1.0)
		}
	}
}

func TestCombinedScoreStaysWithinUnitInterval(t *testing.T) {
	w, ok := Weights{Semantic: 0.03, Tensor: 0.29}.normalize()
	require.True(t, ok)
	assert.Equal(t, 1.0, combined(w, 1, 1), "exact match in both spaces")

	for a := 1; a <= 100; a++ {
		for b := 1; b <= 100; b++ {
			w, _ := Weights{Semantic: float64(a) / 100, Tensor: float64(b) / 100}.normalize()
			if got := combined(w, 1, 1); got > 1 {
				t.Fatalf("weights %.2f/%.2f scored %v", float64(a)/100, float64(b)/100, got)
			}
		}
	}
	assert.Equal(t, 0.0, combined(Weights{Semantic: 1}, 0, 0))
}

func TestSearchDefaultsWeightsFromConfig(t *testing.T) {
	f := newFixture()
	seedSerums(f)
	e := f.engine(t)

	resp, err := e.Search(context.Background(), SearchRequest{QueryText: "vitamin c serum", Limit: 2}, access.Public)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, resp.Weights.Semantic, 1e-9)
	assert.InDelta(t, 0.4, resp.Weights.Tensor, 1e-9)
	assert.Equal(t, 6, f.index.topK[vectorindex.Semantic], "candidates = limit x multiplier")
	assert.Equal(t, 6, f.index.topK[vectorindex.Tensor])
}

func TestSearchCapsLimit(t *testing.T) {
	f := newFixture()
	f.cfg.Search.MaxLimit = 2
	seedSerums(f)
	e := f.engine(t)

	resp, err := e.Search(context.Background(), SearchRequest{QueryText: "vitamin c serum", Limit: 50}, access.Public)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
}

func TestSearchAccessGate(t *testing.T) {
	f := newFixture()
	seedSerums(f)
	f.repo.add("tretinoin", access.T5, []float64{1, 0, 0})
	e := f.engine(t)
	req := SearchRequest{QueryText: "vitamin c serum", Limit: 10}

	resp, err := e.Search(context.Background(), req, access.Registered)
	require.NoError(t, err)
	assert.NotContains(t, ids(resp.Results), "tretinoin")

	for _, level := range []access.Level{access.Professional, access.Expert} {
		resp, err := e.Search(context.Background(), req, level)
		require.NoError(t, err)
		assert.Contains(t, ids(resp.Results), "tretinoin", level.String())
	}
}

func TestSearchFilters(t *testing.T) {
	f := newFixture()
	seedSerums(f)
	f.repo.atoms["ceramide"].Type = atom.Product
	e := f.engine(t)
	ctx := context.Background()

	resp, err := e.Search(ctx, SearchRequest{
		QueryText: "vitamin c serum", Limit: 10,
		Filters: SearchFilters{AtomTypes: []atom.Type{atom.Product}},
	}, access.Public)
	require.NoError(t, err)
	assert.Equal(t, []string{"ceramide"}, ids(resp.Results))

	resp, err = e.Search(ctx, SearchRequest{
		QueryText: "vitamin c serum", Limit: 10,
		Filters: SearchFilters{Thresholds: []access.Threshold{access.T1}},
	}, access.Public)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"vitamin-c", "hyaluronic-acid", "ceramide"}, ids(resp.Results))

	resp, err = e.Search(ctx, SearchRequest{
		QueryText: "vitamin c serum", Limit: 10,
		Filters: SearchFilters{TensorRanges: []TensorRange{{Component: "irritation", Min: 0.8, Max: 1}}},
	}, access.Public)
	require.NoError(t, err)
	assert.Equal(t, []string{"retinol"}, ids(resp.Results))
}

func TestSearchExcludesCorruptRecords(t *testing.T) {
	f := newFixture()
	seedSerums(f)
	f.repo.atoms["niacinamide"].SemanticEmbedding = []float64{1, 0}
	f.index.ghosts = map[vectorindex.Space][]vectorindex.Match{
		vectorindex.Semantic: {{AtomID: "deleted-atom", Distance: 0}},
	}
	e := f.engine(t)

	resp, err := e.Search(context.Background(), SearchRequest{QueryText: "vitamin c serum", Limit: 10}, access.Public)
	require.NoError(t, err)
	got := ids(resp.Results)
	assert.NotContains(t, got, "deleted-atom")
	assert.NotContains(t, got, "niacinamide")
	assert.Contains(t, metricsBody(t, f), `dermagraph_corrupt_records_total{component="search"} 2`)
}

func TestSearchValidation(t *testing.T) {
	f := newFixture()
	seedSerums(f)
	e := f.engine(t)

	cases := []struct {
		name string
		req  SearchRequest
		kind apperr.Kind
	}{
		{"blank query", SearchRequest{QueryText: "   ", Limit: 5}, apperr.KindValidation},
		{"long query", SearchRequest{QueryText: strings.Repeat("é", MaxQueryRunes+1), Limit: 5}, apperr.KindValidation},
		{"zero limit", SearchRequest{QueryText: "q", Limit: 0}, apperr.KindValidation},
		{"zero weights", SearchRequest{QueryText: "q", Limit: 5, Weights: &Weights{}}, apperr.KindInvalidWeights},
		{"weight above one", SearchRequest{QueryText: "q", Limit: 5, Weights: &Weights{Semantic: 1.5}}, apperr.KindValidation},
		{"negative weight", SearchRequest{QueryText: "q", Limit: 5, Weights: &Weights{Semantic: 0.5, Tensor: -0.1}}, apperr.KindValidation},
		{"unknown type", SearchRequest{QueryText: "q", Limit: 5, Filters: SearchFilters{AtomTypes: []atom.Type{"SERUM"}}}, apperr.KindValidation},
		{"unknown threshold", SearchRequest{QueryText: "q", Limit: 5, Filters: SearchFilters{Thresholds: []access.Threshold{9}}}, apperr.KindValidation},
		{"unknown component", SearchRequest{QueryText: "q", Limit: 5, Filters: SearchFilters{TensorRanges: []TensorRange{{Component: "gloss", Max: 1}}}}, apperr.KindValidation},
		{"empty range", SearchRequest{QueryText: "q", Limit: 5, Filters: SearchFilters{TensorRanges: []TensorRange{{Component: "hydration", Min: 0.9, Max: 0.1}}}}, apperr.KindValidation},
		{"bad profile", SearchRequest{QueryText: "q", Limit: 5, TensorProfile: map[string]float64{"gloss": 1}}, apperr.KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Search(context.Background(), tc.req, access.Public)
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}

	_, err := e.Search(context.Background(), SearchRequest{QueryText: "q", Limit: 5}, access.Level(0))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestWeightsNormalize(t *testing.T) {
	w, ok := Weights{Semantic: 0.3, Tensor: 0.3}.normalize()
	require.True(t, ok)
	assert.InDelta(t, 0.5, w.Semantic, 1e-12)

	w, ok = Weights{Semantic: 0.25, Tensor: 0.75}.normalize()
	require.True(t, ok)
	assert.Equal(t, Weights{Semantic: 0.25, Tensor: 0.75}, w)

	_, ok = Weights{}.normalize()
	assert.False(t, ok)
}

func TestSimilarityMappings(t *testing.T) {
	assert.Equal(t, 1.0, semanticSimilarity(0))
	assert.Equal(t, 0.0, semanticSimilarity(1.7))
	assert.Equal(t, 1.0, semanticSimilarity(-0.1))
	assert.Equal(t, 1.0, tensorSimilarity(0))
	assert.Equal(t, 0.5, tensorSimilarity(1))
}
