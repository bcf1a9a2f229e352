// Package engine answers the three reasoning queries over the atom graph:
// hybrid search, causal chain traversal and compatibility analysis. Every
// result passes through the access gate before it is returned.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/apperr"
	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/config"
	"github.com/lazypower/dermagraph/internal/embedding"
	"github.com/lazypower/dermagraph/internal/logger"
	"github.com/lazypower/dermagraph/internal/metrics"
	"github.com/lazypower/dermagraph/internal/tensor"
	"github.com/lazypower/dermagraph/internal/vectorindex"
)

// Deps are the engine's collaborators. Metrics may be nil.
type Deps struct {
	Repo     atom.Repository
	Index    vectorindex.Client
	Embedder embedding.Service
	Encoder  tensor.Encoder
	Schema   *tensor.Schema
	Metrics  *metrics.Collector
	Log      *logger.Logger
}

// Scoring holds the compatibility score weights.
type Scoring struct {
	ConflictPenalty float64
	CautionPenalty  float64
	SynergyBonus    float64
}

// Engine holds only immutable collaborators and settings; it is safe for
// concurrent use.
type Engine struct {
	repo     atom.Repository
	index    vectorindex.Client
	embedder embedding.Service
	encoder  tensor.Encoder
	schema   *tensor.Schema
	metrics  *metrics.Collector
	log      *logger.Logger

	dims                atom.Dimensions
	candidateMultiplier int
	lookupTimeout       time.Duration
	defaultWeights      Weights
	defaultLimit        int
	maxLimit            int
	maxConcurrency      int
	scoring             Scoring
}

// New wires an engine. The embedder's dimensionality and the tensor
// schema must agree with cfg.
func New(deps Deps, cfg config.Config) (*Engine, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("engine: repository required")
	case deps.Index == nil:
		return nil, fmt.Errorf("engine: vector index required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("engine: embedding service required")
	case deps.Schema == nil:
		return nil, fmt.Errorf("engine: tensor schema required")
	}

	dims := cfg.Dimensions()
	if deps.Embedder.Dimensions() != dims.Semantic {
		return nil, fmt.Errorf("engine: embedder %s produces %d dimensions, configured %d: %w",
			deps.Embedder.Model(), deps.Embedder.Dimensions(), dims.Semantic, atom.ErrDimensionMismatch)
	}
	if deps.Schema.Dim() != dims.Tensor {
		return nil, fmt.Errorf("engine: tensor schema has %d components, configured %d: %w",
			deps.Schema.Dim(), dims.Tensor, atom.ErrDimensionMismatch)
	}

	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	enc := deps.Encoder
	if enc == nil {
		enc = tensor.NewLexiconEncoder(deps.Schema, tensor.DefaultLexicon)
	}

	mult := cfg.Search.CandidateMultiplier
	if mult < 3 {
		mult = 3
	}
	conc := cfg.Engine.MaxConcurrency
	if conc < 1 {
		conc = 1
	}

	return &Engine{
		repo:     deps.Repo,
		index:    deps.Index,
		embedder: deps.Embedder,
		encoder:  enc,
		schema:   deps.Schema,
		metrics:  deps.Metrics,
		log:      log.With("component", "Engine"),

		dims:                dims,
		candidateMultiplier: mult,
		lookupTimeout:       cfg.Search.LookupTimeout,
		defaultWeights:      Weights{Semantic: cfg.Search.DefaultWeights.Semantic, Tensor: cfg.Search.DefaultWeights.Tensor},
		defaultLimit:        cfg.Search.DefaultLimit,
		maxLimit:            cfg.Search.MaxLimit,
		maxConcurrency:      conc,
		scoring: Scoring{
			ConflictPenalty: cfg.Compatibility.ConflictPenalty,
			CautionPenalty:  cfg.Compatibility.CautionPenalty,
			SynergyBonus:    cfg.Compatibility.SynergyBonus,
		},
	}, nil
}

// DefaultLimit is the search limit entry points use when the caller gives none.
func (e *Engine) DefaultLimit() int { return e.defaultLimit }

// AtomDetail is one atom with its evidence and the relationships the caller
// may see.
type AtomDetail struct {
	Atom          *atom.Atom          `json:"atom"`
	Evidence      []atom.Evidence     `json:"evidence"`
	Relationships []atom.Relationship `json:"relationships"`
}

// GetAtom returns an atom with its evidence, strongest first. An atom the
// caller may not see is reported as not found.
func (e *Engine) GetAtom(ctx context.Context, id string, level access.Level) (*AtomDetail, error) {
	const op = "atom"
	if !level.Valid() {
		return nil, apperr.Validation(op, "invalid access level")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Validation(op, "atom id required")
	}

	a, err := e.lookupVisible(ctx, op, id, level)
	if err != nil {
		return nil, err
	}

	ev, err := e.repo.GetEvidence(ctx, id)
	if err != nil {
		return nil, e.repoError(ctx, op, err)
	}
	atom.SortEvidence(ev)

	rels, err := e.repo.GetRelationships(ctx, id, atom.AnyDirection)
	if err != nil {
		return nil, e.repoError(ctx, op, err)
	}
	neighbours := make([]string, 0, len(rels))
	for _, r := range rels {
		neighbours = append(neighbours, r.Other(id))
	}
	others, err := e.repo.GetAtoms(ctx, neighbours)
	if err != nil {
		return nil, e.repoError(ctx, op, err)
	}
	visible := make([]atom.Relationship, 0, len(rels))
	for _, r := range rels {
		other, ok := others[r.Other(id)]
		if !ok || !access.IsVisible(r.Threshold, level) || !access.IsVisible(other.Threshold, level) {
			continue
		}
		visible = append(visible, r)
	}
	atom.SortByNeighbour(visible, id)

	if ev == nil {
		ev = []atom.Evidence{}
	}
	return &AtomDetail{Atom: a, Evidence: ev, Relationships: visible}, nil
}

// lookupVisible loads one atom, folding "hidden from this caller" into
// not found.
func (e *Engine) lookupVisible(ctx context.Context, op, id string, level access.Level) (*atom.Atom, error) {
	a, err := e.repo.GetAtom(ctx, id)
	if errors.Is(err, atom.ErrNotFound) {
		return nil, apperr.NotFound(op, "atom %q not found", id)
	}
	if err != nil {
		return nil, e.repoError(ctx, op, err)
	}
	if !access.IsVisible(a.Threshold, level) {
		return nil, apperr.NotFound(op, "atom %q not found", id)
	}
	return a, nil
}

// repoError classifies a repository failure. Caller cancellation is passed
// through untouched.
func (e *Engine) repoError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return apperr.Wrap(apperr.KindInternal, op, "repository lookup failed", err)
}

// corrupt logs a record excluded from a result. It never fails the request.
func (e *Engine) corrupt(op string, err error, kv ...interface{}) {
	e.metrics.CorruptRecord(op)
	e.log.Warn("excluding corrupt record", append([]interface{}{"op", op, "kind", apperr.KindCorruptData, "error", err}, kv...)...)
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
