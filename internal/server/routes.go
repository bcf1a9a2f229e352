package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/dermagraph/internal/apperr"
	"github.com/lazypower/dermagraph/internal/engine"
)

const (
	defaultChainDepth = 3
	maxChainDepth     = 5
)

type searchRequest struct {
	Query         string               `json:"query" validate:"required"`
	Weights       *engine.Weights      `json:"weights"`
	Filters       engine.SearchFilters `json:"filters"`
	Limit         int                  `json:"limit" validate:"gte=0"`
	TensorProfile map[string]float64   `json:"tensor_profile"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(r, "search", &req); err != nil {
		writeError(w, r, err)
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = s.engine.DefaultLimit()
	}

	resp, err := s.engine.Search(r.Context(), engine.SearchRequest{
		QueryText:     req.Query,
		Filters:       req.Filters,
		Weights:       req.Weights,
		Limit:         limit,
		TensorProfile: req.TensorProfile,
	}, levelFrom(r.Context()))
	if err != nil {
		s.logFailure(r, "search", err)
		writeError(w, r, err)
		return
	}
	if resp.Results == nil {
		resp.Results = []engine.RankedAtom{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAtom(w http.ResponseWriter, r *http.Request) {
	detail, err := s.engine.GetAtom(r.Context(), chi.URLParam(r, "atomID"), levelFrom(r.Context()))
	if err != nil {
		s.logFailure(r, "atom", err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleCausalChain(w http.ResponseWriter, r *http.Request) {
	const op = "causal_chain"
	q := r.URL.Query()

	dir := engine.Both
	if v := q.Get("direction"); v != "" {
		parsed, err := engine.ParseDirection(v)
		if err != nil {
			writeError(w, r, apperr.Validation(op, "%v", err))
			return
		}
		dir = parsed
	}

	depth := defaultChainDepth
	if v := q.Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxChainDepth {
			writeError(w, r, apperr.Validation(op, "depth must be an integer between 1 and %d", maxChainDepth))
			return
		}
		depth = n
	}

	chain, err := s.engine.TraverseCausalChain(r.Context(), chi.URLParam(r, "atomID"), dir, depth, levelFrom(r.Context()))
	if err != nil {
		s.logFailure(r, op, err)
		writeError(w, r, err)
		return
	}

	type levelJSON struct {
		Depth int                `json:"depth"`
		Nodes []engine.ChainNode `json:"nodes"`
	}
	group := func(d engine.Direction) []levelJSON {
		out := []levelJSON{}
		for i, nodes := range chain.Levels(d) {
			out = append(out, levelJSON{Depth: i + 1, Nodes: nodes})
		}
		return out
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"seed":       chain.Seed,
		"direction":  dir,
		"max_depth":  chain.MaxDepth,
		"upstream":   group(engine.Upstream),
		"downstream": group(engine.Downstream),
	})
}

type compatibilityRequest struct {
	AtomIDs []string `json:"atom_ids" validate:"required,dive,required"`
}

func (s *Server) handleCompatibility(w http.ResponseWriter, r *http.Request) {
	var req compatibilityRequest
	if err := decode(r, "compatibility", &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.engine.AnalyzeCompatibility(r.Context(), req.AtomIDs, levelFrom(r.Context()))
	if err != nil {
		s.logFailure(r, "compatibility", err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// logFailure logs server-side failures with their cause. Caller errors are
// not logged.
func (s *Server) logFailure(r *http.Request, op string, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindInvalidWeights, apperr.KindNotFound:
		return
	}
	s.log.Error("request failed", "op", op, "kind", apperr.KindOf(err), "error", err)
}
