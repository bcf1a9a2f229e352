package engine

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/apperr"
	"github.com/lazypower/dermagraph/internal/atom"
)

// ChainNode is an atom reached from the seed, with the edge that reached it.
type ChainNode struct {
	Atom         *atom.Atom         `json:"atom"`
	Relationship *atom.Relationship `json:"relationship"`
	Depth        int                `json:"depth"`
	Direction    Direction          `json:"direction"`
}

// CausalChain is the result of a traversal. Each side lists nodes in
// breadth-first order; an atom appears at most once per side, at its
// shallowest depth.
type CausalChain struct {
	Seed       *atom.Atom  `json:"seed"`
	Upstream   []ChainNode `json:"upstream"`
	Downstream []ChainNode `json:"downstream"`
	MaxDepth   int         `json:"max_depth"`
}

// Levels groups one side's nodes by depth. Index 0 is depth 1.
func (c *CausalChain) Levels(dir Direction) [][]ChainNode {
	nodes := c.Upstream
	if dir == Downstream {
		nodes = c.Downstream
	}
	var levels [][]ChainNode
	for _, n := range nodes {
		for len(levels) < n.Depth {
			levels = append(levels, nil)
		}
		levels[n.Depth-1] = append(levels[n.Depth-1], n)
	}
	return levels
}

// TraverseCausalChain walks causal edges from seedID up to maxDepth hops.
// maxDepth is clamped to [1,5]. Atoms and edges the caller may not see are
// not traversed through.
func (e *Engine) TraverseCausalChain(ctx context.Context, seedID string, dir Direction, depth int, level access.Level) (*CausalChain, error) {
	const op = "causal_chain"
	if !level.Valid() {
		return nil, apperr.Validation(op, "invalid access level")
	}
	dir, err := ParseDirection(string(dir))
	if err != nil {
		return nil, apperr.Validation(op, "%v", err)
	}
	seedID = strings.TrimSpace(seedID)
	if seedID == "" {
		return nil, apperr.Validation(op, "seed atom id required")
	}
	depth = clampDepth(depth)

	seed, err := e.lookupVisible(ctx, op, seedID, level)
	if err != nil {
		return nil, err
	}

	chain := &CausalChain{Seed: seed, Upstream: []ChainNode{}, Downstream: []ChainNode{}, MaxDepth: depth}
	for _, side := range dir.sides() {
		nodes, err := e.walk(ctx, op, seed.ID, side, depth, level)
		if err != nil {
			return nil, err
		}
		if side == Upstream {
			chain.Upstream = nodes
		} else {
			chain.Downstream = nodes
		}
	}
	e.metrics.ObserveTraversal(len(chain.Upstream) + len(chain.Downstream))
	return chain, nil
}

// walk is a level-synchronous breadth-first search. Edge lookups for one
// frontier run concurrently; results are merged in frontier order so the
// output does not depend on scheduling.
func (e *Engine) walk(ctx context.Context, op, seedID string, side Direction, depth int, level access.Level) ([]ChainNode, error) {
	rule := causalRules[side]
	visited := map[string]bool{seedID: true}
	frontier := []string{seedID}
	nodes := []ChainNode{}

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		edges := make([][]atom.Relationship, len(frontier))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxConcurrency)
		for i, id := range frontier {
			i, id := i, id
			g.Go(func() error {
				rels, err := e.repo.GetRelationships(gctx, id, rule.edges)
				if err != nil {
					return fmt.Errorf("relationships of %s: %w", id, err)
				}
				kept := make([]atom.Relationship, 0, len(rels))
				for _, r := range rels {
					if rule.types[r.Type] {
						kept = append(kept, r)
					}
				}
				atom.SortByNeighbour(kept, id)
				edges[i] = kept
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, e.repoError(ctx, op, err)
		}

		var ids []string
		for i, rels := range edges {
			for _, r := range rels {
				ids = append(ids, r.Other(frontier[i]))
			}
		}
		atoms, err := e.repo.GetAtoms(ctx, ids)
		if err != nil {
			return nil, e.repoError(ctx, op, err)
		}

		var next []string
		for i, rels := range edges {
			for j := range rels {
				r := rels[j]
				other := r.Other(frontier[i])
				if visited[other] {
					continue
				}
				a, ok := atoms[other]
				if !ok {
					e.corrupt(op, fmt.Errorf("relationship %s references unknown atom", r.ID), "atom_id", other)
					continue
				}
				if !access.IsVisible(r.Threshold, level) || !access.IsVisible(a.Threshold, level) {
					continue
				}
				visited[other] = true
				next = append(next, other)
				nodes = append(nodes, ChainNode{Atom: a, Relationship: &r, Depth: d, Direction: side})
			}
		}
		frontier = next
	}
	return nodes, nil
}
