package engine

import (
	"math"
	"sort"

	"github.com/lazypower/dermagraph/internal/atom"
)

// Weights balance the two similarity signals.
type Weights struct {
	Semantic float64 `json:"semantic"`
	Tensor   float64 `json:"tensor"`
}

// normalize rescales w to sum to 1. ok is false when both weights are zero.
func (w Weights) normalize() (Weights, bool) {
	sum := w.Semantic + w.Tensor
	if sum == 0 {
		return Weights{}, false
	}
	if sum == 1 {
		return w, true
	}
	return Weights{Semantic: w.Semantic / sum, Tensor: w.Tensor / sum}, true
}

func validWeight(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// semanticSimilarity maps a cosine distance onto [0,1].
func semanticSimilarity(d float64) float64 {
	return clamp(1-d, 0, 1)
}

// tensorSimilarity maps a euclidean distance onto (0,1].
func tensorSimilarity(d float64) float64 {
	if d < 0 {
		d = 0
	}
	return 1 / (1 + d)
}

// combined blends the two similarities. Renormalized weights can sum to a
// hair over 1, so the result is clamped to [0,1].
func combined(w Weights, semSim, tenSim float64) float64 {
	return clamp(w.Semantic*semSim+w.Tensor*tenSim, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

// RankedAtom is one search hit.
type RankedAtom struct {
	Atom          *atom.Atom `json:"atom"`
	SemanticSim   float64    `json:"semantic_similarity"`
	TensorSim     float64    `json:"tensor_similarity"`
	CombinedScore float64    `json:"combined_score"`
}

// rank orders by combined score, then semantic similarity, then id, and
// keeps the first limit.
func rank(results []RankedAtom, limit int) []RankedAtom {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if a.SemanticSim != b.SemanticSim {
			return a.SemanticSim > b.SemanticSim
		}
		return a.Atom.ID < b.Atom.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
