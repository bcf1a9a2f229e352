package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/dermagraph/internal/config"
	"github.com/lazypower/dermagraph/internal/embedding"
	"github.com/lazypower/dermagraph/internal/engine"
	"github.com/lazypower/dermagraph/internal/logger"
	"github.com/lazypower/dermagraph/internal/metrics"
	"github.com/lazypower/dermagraph/internal/seed"
	"github.com/lazypower/dermagraph/internal/store"
	"github.com/lazypower/dermagraph/internal/tensor"
	"github.com/lazypower/dermagraph/internal/vectorindex"
)

type downIndex struct{}

func (downIndex) Query(context.Context, vectorindex.Space, []float64, int) ([]vectorindex.Match, error) {
	return nil, errors.New("connection refused")
}

// testServer serves the builtin dataset from an in-memory store. A non-nil
// index replaces the local one.
func testServer(t *testing.T, index vectorindex.Client) (*Server, *metrics.Collector) {
	t.Helper()
	cfg := config.Default()
	cfg.Embedding.Dimensions = 64

	db, err := store.OpenMemory(cfg.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ds, err := seed.Builtin()
	require.NoError(t, err)
	emb, err := embedding.NewTFIDF(ds.Documents(), cfg.Embedding.Dimensions)
	require.NoError(t, err)
	schema := tensor.MustSchema(cfg.Tensor.Components)
	_, err = seed.NewSeeder(db, emb, schema, nil, 2, nil).Apply(context.Background(), ds)
	require.NoError(t, err)

	if index == nil {
		index = vectorindex.NewLocal(db, cfg.Dimensions(), logger.Nop())
	}
	m := metrics.New()
	eng, err := engine.New(engine.Deps{
		Repo:     db,
		Index:    index,
		Embedder: emb,
		Schema:   schema,
		Metrics:  m,
	}, cfg)
	require.NoError(t, err)

	return New(Options{Engine: eng, Repository: db, Metrics: m, Version: "test-version"}), m
}

func do(t *testing.T, srv *Server, method, path, body, level string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if level != "" {
		req.Header.Set(AccessLevelHeader, level)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func errorKind(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	k, _ := e["kind"].(string)
	return k
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)

	w, body := do(t, srv, "GET", "/api/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-version", body["version"])
	assert.Equal(t, true, body["repository"])
}

func TestSearchEndpoint(t *testing.T) {
	srv, m := testServer(t, nil)

	w, body := do(t, srv, "POST", "/api/search", `{"query":"vitamin c antioxidant serum","limit":3}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, body["partial"])
	results := body["results"].([]any)
	assert.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 3)
	first := results[0].(map[string]any)
	assert.Contains(t, first, "combined_score")
	assert.Contains(t, first["atom"], "knowledge_threshold")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `route="/api/search"`)
}

func TestSearchEndpointErrors(t *testing.T) {
	srv, _ := testServer(t, nil)

	cases := []struct {
		name   string
		body   string
		level  string
		status int
		kind   string
	}{
		{"zero weights", `{"query":"retinol","weights":{"semantic":0,"tensor":0}}`, "", 400, "invalid_weights"},
		{"missing query", `{"limit":3}`, "", 400, "validation"},
		{"malformed", `{"query":`, "", 400, "validation"},
		{"unknown field", `{"query":"retinol","colour":"red"}`, "", 400, "validation"},
		{"bad threshold filter", `{"query":"retinol","filters":{"thresholds":["T9"]}}`, "", 400, "validation"},
		{"bad access level", `{"query":"retinol"}`, "ROOT", 400, "validation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := do(t, srv, "POST", "/api/search", tc.body, tc.level)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.kind, errorKind(body))
		})
	}
}

func TestSearchEndpointUnavailable(t *testing.T) {
	srv, _ := testServer(t, downIndex{})

	w, body := do(t, srv, "POST", "/api/search", `{"query":"retinol"}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "service_unavailable", errorKind(body))
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestGetAtomEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)

	w, body := do(t, srv, "GET", "/api/atoms/niacinamide", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["evidence"], 2)

	w, body = do(t, srv, "GET", "/api/atoms/tretinoin", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorKind(body))

	w, _ = do(t, srv, "GET", "/api/atoms/tretinoin", "", "professional")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCausalChainEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)

	downstreamIDs := func(body map[string]any) []string {
		var ids []string
		for _, lvl := range body["downstream"].([]any) {
			for _, n := range lvl.(map[string]any)["nodes"].([]any) {
				ids = append(ids, n.(map[string]any)["atom"].(map[string]any)["id"].(string))
			}
		}
		return ids
	}

	w, body := do(t, srv, "GET", "/api/atoms/barrier-damage/causal-chain?direction=downstream&depth=2", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"skin-sensitivity"}, downstreamIDs(body))
	assert.Empty(t, body["upstream"])

	w, body = do(t, srv, "GET", "/api/atoms/barrier-damage/causal-chain?direction=downstream", "", "registered")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"skin-sensitivity", "transepidermal-water-loss"}, downstreamIDs(body))

	for _, q := range []string{"depth=0", "depth=9", "depth=two", "direction=sideways"} {
		w, body = do(t, srv, "GET", "/api/atoms/barrier-damage/causal-chain?"+q, "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Equal(t, "validation", errorKind(body), q)
	}

	w, _ = do(t, srv, "GET", "/api/atoms/nothing-here/causal-chain", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCompatibilityEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)

	w, body := do(t, srv, "POST", "/api/compatibility", `{"atom_ids":["retinol","glycolic-acid"]}`, "PROFESSIONAL")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 88.0, body["overall_score"])
	assert.Equal(t, true, body["compatible"])
	assert.Equal(t, []any{"Alternate nights to limit irritation."}, body["recommendations"])

	// the caution is professional-only
	w, body = do(t, srv, "POST", "/api/compatibility", `{"atom_ids":["retinol","glycolic-acid"]}`, "REGISTERED")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100.0, body["overall_score"])
	assert.Empty(t, body["recommendations"])

	w, body = do(t, srv, "POST", "/api/compatibility", `{"atom_ids":["niacinamide","retinol"]}`, "REGISTERED")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100.0, body["overall_score"])
	assert.Equal(t, true, body["compatible"])
	assert.Empty(t, body["warnings"])

	w, body = do(t, srv, "POST", "/api/compatibility", `{"atom_ids":["retinol","benzoyl-peroxide"]}`, "REGISTERED")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["compatible"])
	assert.Equal(t, 72.0, body["overall_score"])

	w, body = do(t, srv, "POST", "/api/compatibility", `{"atom_ids":["retinol","unknown"]}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorKind(body))

	w, _ = do(t, srv, "POST", "/api/compatibility", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// tretinoin is professional-only
	w, body = do(t, srv, "POST", "/api/compatibility", `{"atom_ids":["retinol","tretinoin"]}`, "REGISTERED")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorKind(body))
}

func TestCompatibilityEndpointAtomLimit(t *testing.T) {
	srv, _ := testServer(t, nil)

	repeated := strings.Repeat(`"retinol","glycolic-acid",`, 11)
	w, body := do(t, srv, "POST", "/api/compatibility",
		`{"atom_ids":[`+strings.TrimSuffix(repeated, ",")+`]}`, "PROFESSIONAL")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []any{"glycolic-acid", "retinol"}, body["atom_ids"])
	assert.Equal(t, 88.0, body["overall_score"])

	ids := make([]string, 0, 21)
	for i := 0; i < 21; i++ {
		ids = append(ids, fmt.Sprintf("%q", fmt.Sprintf("atom-%02d", i)))
	}
	w, body = do(t, srv, "POST", "/api/compatibility", `{"atom_ids":[`+strings.Join(ids, ",")+`]}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", errorKind(body))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)
	do(t, srv, "GET", "/api/atoms/niacinamide", "", "")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `route="/api/atoms/{atomID}"`)
}
