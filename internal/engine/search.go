package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/apperr"
	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/vectorindex"
)

// MaxQueryRunes bounds the query text.
const MaxQueryRunes = 500

// TensorRange keeps atoms whose named component lies within [Min, Max].
// Atoms that do not carry the component are excluded.
type TensorRange struct {
	Component string  `json:"component"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

// SearchFilters narrow results after scoring. Empty sets match everything.
type SearchFilters struct {
	AtomTypes    []atom.Type        `json:"atom_types,omitempty"`
	Thresholds   []access.Threshold `json:"thresholds,omitempty"`
	TensorRanges []TensorRange      `json:"tensor_ranges,omitempty"`
}

// SearchRequest is a hybrid search. Nil Weights use the configured
// defaults. TensorProfile, when set, is the tensor-space query; otherwise
// it is derived from QueryText.
type SearchRequest struct {
	QueryText     string
	Filters       SearchFilters
	Weights       *Weights
	Limit         int
	TensorProfile map[string]float64
}

// SearchResponse is the ranked result. Partial is set when one space could
// not be queried; the ranking then uses the other space alone.
type SearchResponse struct {
	Results           []RankedAtom        `json:"results"`
	Partial           bool                `json:"partial"`
	UnavailableSpaces []vectorindex.Space `json:"unavailable_spaces,omitempty"`
	Weights           Weights             `json:"weights"`
}

type spaceResult struct {
	space   vectorindex.Space
	matches []vectorindex.Match
	err     error
}

// Search ranks atoms by a weighted blend of semantic and tensor similarity.
func (e *Engine) Search(ctx context.Context, req SearchRequest, level access.Level) (*SearchResponse, error) {
	const op = "search"
	start := time.Now()

	resp, err := e.search(ctx, op, req, level)
	switch {
	case err != nil:
		e.metrics.ObserveSearch("error", time.Since(start))
	case resp.Partial:
		e.metrics.ObserveSearch("partial", time.Since(start))
	default:
		e.metrics.ObserveSearch("ok", time.Since(start))
	}
	return resp, err
}

func (e *Engine) search(ctx context.Context, op string, req SearchRequest, level access.Level) (*SearchResponse, error) {
	weights, limit, err := e.validateSearch(op, req, level)
	if err != nil {
		return nil, err
	}

	// resolve the tensor query up front so a bad profile is a caller error,
	// not a space outage
	tensorQuery, err := e.tensorQuery(ctx, op, req)
	if err != nil {
		return nil, err
	}

	topK := limit * e.candidateMultiplier
	semCh := make(chan spaceResult, 1)
	tenCh := make(chan spaceResult, 1)

	go func() {
		m, err := e.lookup(ctx, vectorindex.Semantic, topK, func(lctx context.Context) ([]float64, error) {
			vec, err := e.embedder.Embed(lctx, req.QueryText)
			if err != nil {
				return nil, fmt.Errorf("embed query: %w", err)
			}
			return vec, atom.CheckDimension("semantic", vec, e.dims.Semantic)
		})
		semCh <- spaceResult{vectorindex.Semantic, m, err}
	}()
	go func() {
		m, err := e.lookup(ctx, vectorindex.Tensor, topK, func(context.Context) ([]float64, error) {
			return tensorQuery, nil
		})
		tenCh <- spaceResult{vectorindex.Tensor, m, err}
	}()

	sem := <-semCh
	ten := <-tenCh

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp := &SearchResponse{Weights: weights}
	var failures []error
	for _, r := range []spaceResult{sem, ten} {
		if r.err == nil {
			continue
		}
		e.metrics.SpaceFailed(string(r.space))
		e.log.Warn("vector space unavailable", "space", r.space, "error", r.err)
		resp.UnavailableSpaces = append(resp.UnavailableSpaces, r.space)
		failures = append(failures, r.err)
	}
	switch len(failures) {
	case 2:
		return nil, apperr.Unavailable(op, "both vector spaces are unavailable", errors.Join(failures...))
	case 1:
		resp.Partial = true
		if sem.err != nil {
			resp.Weights = Weights{Semantic: 0, Tensor: 1}
		} else {
			resp.Weights = Weights{Semantic: 1, Tensor: 0}
		}
	}

	semSims := make(map[string]float64, len(sem.matches))
	for _, m := range sem.matches {
		semSims[m.AtomID] = semanticSimilarity(m.Distance)
	}
	tenSims := make(map[string]float64, len(ten.matches))
	for _, m := range ten.matches {
		tenSims[m.AtomID] = tensorSimilarity(m.Distance)
	}

	ids := make([]string, 0, len(semSims)+len(tenSims))
	for id := range semSims {
		ids = append(ids, id)
	}
	for id := range tenSims {
		if _, dup := semSims[id]; !dup {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	atoms, err := e.repo.GetAtoms(ctx, ids)
	if err != nil {
		return nil, e.repoError(ctx, op, err)
	}

	filter := newSearchFilter(req.Filters)
	results := make([]RankedAtom, 0, len(ids))
	for _, id := range ids {
		a, ok := atoms[id]
		if !ok {
			e.corrupt(op, fmt.Errorf("vector index references unknown atom"), "atom_id", id)
			continue
		}
		if err := a.CheckDimensions(e.dims); err != nil {
			e.corrupt(op, err, "atom_id", id)
			continue
		}
		if !filter.match(a) || !access.IsVisible(a.Threshold, level) {
			continue
		}
		s, t := semSims[id], tenSims[id]
		results = append(results, RankedAtom{
			Atom:          a,
			SemanticSim:   s,
			TensorSim:     t,
			CombinedScore: combined(resp.Weights, s, t),
		})
	}

	resp.Results = rank(results, limit)
	return resp, nil
}

// lookup queries one space under its own timeout. vector builds the query
// vector inside that budget.
func (e *Engine) lookup(ctx context.Context, space vectorindex.Space, topK int, vector func(context.Context) ([]float64, error)) ([]vectorindex.Match, error) {
	lctx := ctx
	if e.lookupTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, e.lookupTimeout)
		defer cancel()
	}
	vec, err := vector(lctx)
	if err != nil {
		return nil, err
	}
	return e.index.Query(lctx, space, vec, topK)
}

func (e *Engine) validateSearch(op string, req SearchRequest, level access.Level) (Weights, int, error) {
	if !level.Valid() {
		return Weights{}, 0, apperr.Validation(op, "invalid access level")
	}
	text := strings.TrimSpace(req.QueryText)
	if text == "" {
		return Weights{}, 0, apperr.Validation(op, "query text required")
	}
	if n := utf8.RuneCountInString(req.QueryText); n > MaxQueryRunes {
		return Weights{}, 0, apperr.Validation(op, "query text is %d characters, limit is %d", n, MaxQueryRunes)
	}
	if req.Limit <= 0 {
		return Weights{}, 0, apperr.Validation(op, "limit must be positive")
	}
	limit := req.Limit
	if e.maxLimit > 0 && limit > e.maxLimit {
		limit = e.maxLimit
	}

	w := e.defaultWeights
	if req.Weights != nil {
		w = *req.Weights
	}
	if !validWeight(w.Semantic) || !validWeight(w.Tensor) {
		return Weights{}, 0, apperr.Validation(op, "weights must be within [0,1]")
	}
	norm, ok := w.normalize()
	if !ok {
		return Weights{}, 0, apperr.New(apperr.KindInvalidWeights, op, "semantic and tensor weights are both zero")
	}

	for _, t := range req.Filters.AtomTypes {
		if !t.Valid() {
			return Weights{}, 0, apperr.Validation(op, "unknown atom type %q", t)
		}
	}
	for _, t := range req.Filters.Thresholds {
		if !t.Valid() {
			return Weights{}, 0, apperr.Validation(op, "unknown knowledge threshold %d", int(t))
		}
	}
	for _, r := range req.Filters.TensorRanges {
		if !e.schema.Has(r.Component) {
			return Weights{}, 0, apperr.Validation(op, "unknown tensor component %q", r.Component)
		}
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Min > r.Max {
			return Weights{}, 0, apperr.Validation(op, "tensor range for %q is empty", r.Component)
		}
	}
	return norm, limit, nil
}

func (e *Engine) tensorQuery(ctx context.Context, op string, req SearchRequest) ([]float64, error) {
	if len(req.TensorProfile) > 0 {
		vec, err := e.schema.Vector(req.TensorProfile)
		if err != nil {
			return nil, apperr.Validation(op, "tensor profile: %v", err)
		}
		return vec, nil
	}
	vec, err := e.encoder.Encode(ctx, req.QueryText)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, "encode tensor query", err)
	}
	return vec, nil
}

type searchFilter struct {
	types      map[atom.Type]bool
	thresholds map[access.Threshold]bool
	ranges     []TensorRange
}

func newSearchFilter(f SearchFilters) searchFilter {
	sf := searchFilter{ranges: f.TensorRanges}
	if len(f.AtomTypes) > 0 {
		sf.types = make(map[atom.Type]bool, len(f.AtomTypes))
		for _, t := range f.AtomTypes {
			sf.types[t] = true
		}
	}
	if len(f.Thresholds) > 0 {
		sf.thresholds = make(map[access.Threshold]bool, len(f.Thresholds))
		for _, t := range f.Thresholds {
			sf.thresholds[t] = true
		}
	}
	return sf
}

func (f searchFilter) match(a *atom.Atom) bool {
	if f.types != nil && !f.types[a.Type] {
		return false
	}
	if f.thresholds != nil && !f.thresholds[a.Threshold] {
		return false
	}
	for _, r := range f.ranges {
		v, ok := lookupComponent(a.TensorComponents, r.Component)
		if !ok || v < r.Min || v > r.Max {
			return false
		}
	}
	return true
}

func lookupComponent(c map[string]float64, name string) (float64, bool) {
	if v, ok := c[name]; ok {
		return v, true
	}
	name = strings.ToLower(strings.TrimSpace(name))
	for k, v := range c {
		if strings.ToLower(k) == name {
			return v, true
		}
	}
	return 0, false
}
