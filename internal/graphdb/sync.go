package graphdb

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/lazypower/dermagraph/internal/atom"
)

// Source is the slice of the SQLite store mirrored into the graph.
type Source interface {
	ListAtoms(ctx context.Context) ([]atom.Atom, error)
	GetAtoms(ctx context.Context, ids []string) (map[string]*atom.Atom, error)
	ListRelationships(ctx context.Context) ([]atom.Relationship, error)
	GetEvidence(ctx context.Context, atomID string) ([]atom.Evidence, error)
}

// SyncStats counts what one Sync wrote.
type SyncStats struct {
	Atoms         int
	Relationships int
	Evidence      int
}

const syncBatchSize = 200

// Sync mirrors every atom, relationship and evidence record from src.
// Writes are MERGEs keyed by id, so re-running converges.
func (c *Client) Sync(ctx context.Context, src Source) (SyncStats, error) {
	var stats SyncStats

	list, err := src.ListAtoms(ctx)
	if err != nil {
		return stats, fmt.Errorf("graph sync: list atoms: %w", err)
	}
	var evidence []map[string]any
	for _, batch := range chunk(list, syncBatchSize) {
		ids := make([]string, len(batch))
		for i, a := range batch {
			ids[i] = a.ID
		}
		full, err := src.GetAtoms(ctx, ids)
		if err != nil {
			return stats, fmt.Errorf("graph sync: load atoms: %w", err)
		}
		nodes := make([]map[string]any, 0, len(batch))
		for _, id := range ids {
			a, ok := full[id]
			if !ok {
				continue
			}
			props, err := atomProps(a)
			if err != nil {
				return stats, err
			}
			nodes = append(nodes, props)

			ev, err := src.GetEvidence(ctx, id)
			if err != nil {
				return stats, fmt.Errorf("graph sync: evidence of %s: %w", id, err)
			}
			for i := range ev {
				evidence = append(evidence, evidenceProps(&ev[i]))
			}
		}
		if err := c.write(ctx, mergeAtoms, "nodes", nodes); err != nil {
			return stats, fmt.Errorf("graph sync: atoms: %w", err)
		}
		stats.Atoms += len(nodes)
	}

	rels, err := src.ListRelationships(ctx)
	if err != nil {
		return stats, fmt.Errorf("graph sync: list relationships: %w", err)
	}
	for _, batch := range chunk(rels, syncBatchSize) {
		params := make([]map[string]any, len(batch))
		for i := range batch {
			params[i] = relationshipProps(&batch[i])
		}
		if err := c.write(ctx, mergeRelationships, "rels", params); err != nil {
			return stats, fmt.Errorf("graph sync: relationships: %w", err)
		}
		stats.Relationships += len(params)
	}

	for _, batch := range chunk(evidence, syncBatchSize) {
		if err := c.write(ctx, mergeEvidence, "evidence", batch); err != nil {
			return stats, fmt.Errorf("graph sync: evidence: %w", err)
		}
		stats.Evidence += len(batch)
	}

	c.log.Info("graph sync complete", "atoms", stats.Atoms, "relationships", stats.Relationships, "evidence", stats.Evidence)
	return stats, nil
}

const mergeAtoms = `
UNWIND $nodes AS n
MERGE (a:Atom {id: n.id})
SET a += n
`

const mergeRelationships = `
UNWIND $rels AS r
MATCH (a:Atom {id: r.from_id})
MATCH (b:Atom {id: r.to_id})
MERGE (a)-[e:RELATES {type: r.type}]->(b)
SET e += r
`

const mergeEvidence = `
UNWIND $evidence AS ev
MERGE (e:Evidence {id: ev.id})
SET e += ev
`

func (c *Client) write(ctx context.Context, query, param string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{param: rows})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
