package vectorindex

import (
	"context"
	"fmt"

	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/logger"
)

// AtomSource is the slice of the store the syncer reads.
type AtomSource interface {
	ListAtoms(ctx context.Context) ([]atom.Atom, error)
	GetAtoms(ctx context.Context, ids []string) (map[string]*atom.Atom, error)
}

// Upserter accepts points, as Qdrant does.
type Upserter interface {
	Upsert(ctx context.Context, points []Point) error
}

// SyncStats summarizes one sync run.
type SyncStats struct {
	Pushed  int
	Skipped int
}

// Syncer copies every atom's embeddings from the store into a remote index.
// Point ids are derived from atom ids, so a re-run overwrites in place.
type Syncer struct {
	src       AtomSource
	dst       Upserter
	dims      atom.Dimensions
	batchSize int
	log       *logger.Logger
}

func NewSyncer(src AtomSource, dst Upserter, dims atom.Dimensions, batchSize int, log *logger.Logger) *Syncer {
	if batchSize <= 0 {
		batchSize = 128
	}
	return &Syncer{src: src, dst: dst, dims: dims, batchSize: batchSize, log: log.With("component", "VectorIndexSyncer")}
}

func (s *Syncer) Sync(ctx context.Context) (SyncStats, error) {
	var stats SyncStats

	list, err := s.src.ListAtoms(ctx)
	if err != nil {
		return stats, fmt.Errorf("sync: list atoms: %w", err)
	}

	for start := 0; start < len(list); start += s.batchSize {
		end := start + s.batchSize
		if end > len(list) {
			end = len(list)
		}
		ids := make([]string, 0, end-start)
		for _, a := range list[start:end] {
			ids = append(ids, a.ID)
		}

		atoms, err := s.src.GetAtoms(ctx, ids)
		if err != nil {
			return stats, fmt.Errorf("sync: load atoms: %w", err)
		}

		points := make([]Point, 0, len(ids))
		for _, id := range ids {
			a, ok := atoms[id]
			if !ok {
				continue
			}
			if err := a.CheckDimensions(s.dims); err != nil {
				s.log.Warn("skipping atom with invalid embeddings", "atom_id", id, "error", err)
				stats.Skipped++
				continue
			}
			points = append(points, Point{
				AtomID:   a.ID,
				Semantic: a.SemanticEmbedding,
				Tensor:   a.TensorEmbedding,
				Payload: map[string]any{
					"atom_type": string(a.Type),
					"threshold": int(a.Threshold),
				},
			})
		}

		if err := s.dst.Upsert(ctx, points); err != nil {
			return stats, fmt.Errorf("sync: upsert batch at %d: %w", start, err)
		}
		stats.Pushed += len(points)
		s.log.Debug("synced batch", "from", start, "points", len(points))
	}

	s.log.Info("vector index sync complete", "pushed", stats.Pushed, "skipped", stats.Skipped)
	return stats, nil
}
