package engine

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/apperr"
	"github.com/lazypower/dermagraph/internal/atom"
)

// MaxCompatibilityAtoms bounds one analysis; pairs grow quadratically.
const MaxCompatibilityAtoms = 20

// PairFinding is the governing relationship for one pair of atoms.
type PairFinding struct {
	AtomA        string             `json:"atom_a"`
	AtomB        string             `json:"atom_b"`
	Relationship *atom.Relationship `json:"relationship"`
	Class        atom.Class         `json:"-"`
}

// CompatibilityResult scores a set of atoms used together. NotApplicable is
// set when fewer than two distinct atoms were given.
type CompatibilityResult struct {
	AtomIDs         []string      `json:"atom_ids"`
	OverallScore    float64       `json:"overall_score"`
	Compatible      bool          `json:"compatible"`
	NotApplicable   bool          `json:"not_applicable,omitempty"`
	Synergies       []PairFinding `json:"synergies"`
	Conflicts       []PairFinding `json:"conflicts"`
	Cautions        []PairFinding `json:"cautions"`
	Warnings        []string      `json:"warnings"`
	Recommendations []string      `json:"recommendations"`
}

// AnalyzeCompatibility examines every pair among atomIDs. For each pair
// the visible relationship of highest precedence decides its effect: a
// conflict outweighs a caution, which outweighs a synergy.
func (e *Engine) AnalyzeCompatibility(ctx context.Context, atomIDs []string, level access.Level) (*CompatibilityResult, error) {
	const op = "compatibility"
	if !level.Valid() {
		return nil, apperr.Validation(op, "invalid access level")
	}
	ids := uniqueSorted(atomIDs)
	if len(ids) > MaxCompatibilityAtoms {
		return nil, apperr.Validation(op, "at most %d atoms may be analyzed together", MaxCompatibilityAtoms)
	}

	res := &CompatibilityResult{
		AtomIDs:         ids,
		OverallScore:    100,
		Compatible:      true,
		Synergies:       []PairFinding{},
		Conflicts:       []PairFinding{},
		Cautions:        []PairFinding{},
		Warnings:        []string{},
		Recommendations: []string{},
	}
	if len(ids) < 2 {
		res.NotApplicable = true
		e.metrics.CompatibilityVerdict("not_applicable")
		return res, nil
	}

	atoms, err := e.repo.GetAtoms(ctx, ids)
	if err != nil {
		return nil, e.repoError(ctx, op, err)
	}
	for _, id := range ids {
		// hidden atoms report exactly like missing ones
		if a, ok := atoms[id]; !ok || !access.IsVisible(a.Threshold, level) {
			return nil, apperr.NotFound(op, "atom %q not found", id)
		}
	}

	type pair struct{ a, b string }
	var pairs []pair
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			pairs = append(pairs, pair{ids[i], ids[j]})
		}
	}

	governing := make([]*atom.Relationship, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)
	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			rels, err := e.repo.RelationshipsBetween(gctx, p.a, p.b)
			if err != nil {
				return fmt.Errorf("relationships between %s and %s: %w", p.a, p.b, err)
			}
			governing[i] = e.governingRelationship(rels, atoms[p.a], atoms[p.b], level)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, e.repoError(ctx, op, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	score := 100.0
	for i, p := range pairs {
		r := governing[i]
		if r == nil {
			continue
		}
		f := PairFinding{AtomA: p.a, AtomB: p.b, Relationship: r, Class: r.Type.Class()}
		a, b := atoms[p.a], atoms[p.b]
		switch f.Class {
		case atom.ClassConflict:
			score -= e.scoring.ConflictPenalty * r.Strength
			res.Conflicts = append(res.Conflicts, f)
			res.Warnings = append(res.Warnings, conflictWarning(r, a, b))
		case atom.ClassCaution:
			score -= e.scoring.CautionPenalty * r.Strength
			res.Cautions = append(res.Cautions, f)
			res.Recommendations = append(res.Recommendations, cautionAdvice(r, a, b))
		case atom.ClassSynergy:
			score += e.scoring.SynergyBonus * r.Strength
			res.Synergies = append(res.Synergies, f)
		}
	}

	res.OverallScore = round2(clamp(score, 0, 100))
	res.Compatible = len(res.Conflicts) == 0
	if res.Compatible {
		e.metrics.CompatibilityVerdict("compatible")
	} else {
		e.metrics.CompatibilityVerdict("incompatible")
	}
	return res, nil
}

// governingRelationship picks the highest precedence edge the caller may
// see, or nil when no visible edge has a compatibility meaning.
func (e *Engine) governingRelationship(rels []atom.Relationship, a, b *atom.Atom, level access.Level) *atom.Relationship {
	if !access.IsVisible(a.Threshold, level) || !access.IsVisible(b.Threshold, level) {
		return nil
	}
	visible := make([]atom.Relationship, 0, len(rels))
	for _, r := range rels {
		if access.IsVisible(r.Threshold, level) {
			visible = append(visible, r)
		}
	}
	atom.SortByPrecedence(visible)
	if len(visible) == 0 || visible[0].Type.Class() < atom.ClassNeutral {
		return nil
	}
	return &visible[0]
}

func conflictWarning(r *atom.Relationship, a, b *atom.Atom) string {
	if r.EvidenceDescription != "" {
		return r.EvidenceDescription
	}
	return fmt.Sprintf("%s and %s conflict; avoid using them together.", a.Title, b.Title)
}

func cautionAdvice(r *atom.Relationship, a, b *atom.Atom) string {
	if r.EvidenceDescription != "" {
		return r.EvidenceDescription
	}
	switch r.Type {
	case atom.SequenceDependent:
		return fmt.Sprintf("Apply %s and %s in the recommended order.", a.Title, b.Title)
	case atom.ConcentrationDependent:
		return fmt.Sprintf("Check the concentrations of %s and %s when combining.", a.Title, b.Title)
	default:
		return fmt.Sprintf("Use %s and %s together with care.", a.Title, b.Title)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
