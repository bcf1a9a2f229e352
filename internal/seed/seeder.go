package seed

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/embedding"
	"github.com/lazypower/dermagraph/internal/logger"
	"github.com/lazypower/dermagraph/internal/tensor"
)

// Writer is the write side of the store.
type Writer interface {
	UpsertAtom(ctx context.Context, a *atom.Atom, semanticModel string) error
	UpsertRelationship(ctx context.Context, r *atom.Relationship) error
	UpsertEvidence(ctx context.Context, e *atom.Evidence) error
}

// Stats counts what one Apply wrote.
type Stats struct {
	Atoms         int
	Relationships int
	Evidence      int
}

// Seeder turns a dataset into stored atoms with both embeddings.
type Seeder struct {
	store       Writer
	embedder    embedding.Service
	schema      *tensor.Schema
	encoder     tensor.Encoder
	concurrency int
	log         *logger.Logger
}

func NewSeeder(store Writer, embedder embedding.Service, schema *tensor.Schema, encoder tensor.Encoder, concurrency int, log *logger.Logger) *Seeder {
	if encoder == nil {
		encoder = tensor.NewLexiconEncoder(schema, tensor.DefaultLexicon)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Seeder{
		store:       store,
		embedder:    embedder,
		schema:      schema,
		encoder:     encoder,
		concurrency: concurrency,
		log:         log.With("component", "Seeder"),
	}
}

// Apply embeds and upserts every atom, then the relationships and evidence.
// Everything is keyed by id, so applying the same dataset twice leaves the
// store unchanged.
func (s *Seeder) Apply(ctx context.Context, ds *Dataset) (Stats, error) {
	var stats Stats

	atoms := make([]*atom.Atom, len(ds.Atoms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range ds.Atoms {
		i := i
		g.Go(func() error {
			a, err := s.build(gctx, &ds.Atoms[i])
			if err != nil {
				return err
			}
			atoms[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	thresholds := make(map[string]access.Threshold, len(atoms))
	for _, a := range atoms {
		if err := s.store.UpsertAtom(ctx, a, s.embedder.Model()); err != nil {
			return stats, fmt.Errorf("seed atom %s: %w", a.ID, err)
		}
		thresholds[a.ID] = a.Threshold
		stats.Atoms++
	}

	for _, spec := range ds.Relationships {
		r := &atom.Relationship{
			FromID:              spec.From,
			ToID:                spec.To,
			Type:                spec.Type,
			Strength:            spec.Strength,
			EvidenceDescription: spec.Evidence,
			Threshold:           spec.Threshold,
		}
		if r.Threshold == 0 {
			r.Threshold = max(thresholds[spec.From], thresholds[spec.To])
		}
		if err := s.store.UpsertRelationship(ctx, r); err != nil {
			return stats, fmt.Errorf("seed relationship %s -> %s: %w", spec.From, spec.To, err)
		}
		stats.Relationships++
	}

	for _, a := range ds.Atoms {
		for _, ev := range a.Evidence {
			e := &atom.Evidence{
				AtomID:     a.ID,
				Claim:      ev.Claim,
				Level:      ev.Level,
				SampleSize: ev.SampleSize,
				Source:     ev.Source,
				Year:       ev.Year,
			}
			if err := s.store.UpsertEvidence(ctx, e); err != nil {
				return stats, fmt.Errorf("seed evidence for %s: %w", a.ID, err)
			}
			stats.Evidence++
		}
	}

	s.log.Info("dataset applied", "atoms", stats.Atoms, "relationships", stats.Relationships, "evidence", stats.Evidence)
	return stats, nil
}

func (s *Seeder) build(ctx context.Context, spec *AtomSpec) (*atom.Atom, error) {
	semantic, err := s.embedder.Embed(ctx, embedding.AtomText(spec.Title, spec.Summary))
	if err != nil {
		return nil, fmt.Errorf("embed atom %s: %w", spec.ID, err)
	}

	components := spec.Tensor
	if len(components) == 0 {
		text := spec.Profile
		if text == "" {
			text = embedding.AtomText(spec.Title, spec.Summary)
		}
		vec, err := s.encoder.Encode(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("encode profile of %s: %w", spec.ID, err)
		}
		if components, err = s.schema.Components(vec); err != nil {
			return nil, fmt.Errorf("encode profile of %s: %w", spec.ID, err)
		}
	}
	vec, err := s.schema.Vector(components)
	if err != nil {
		return nil, fmt.Errorf("atom %s: %w", spec.ID, err)
	}

	return &atom.Atom{
		ID:                spec.ID,
		Type:              spec.Type,
		Title:             spec.Title,
		Summary:           spec.Summary,
		Threshold:         spec.Threshold,
		SemanticEmbedding: semantic,
		TensorEmbedding:   vec,
		TensorComponents:  components,
	}, nil
}
