package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/config"
	"github.com/lazypower/dermagraph/internal/metrics"
	"github.com/lazypower/dermagraph/internal/tensor"
	"github.com/lazypower/dermagraph/internal/vectorindex"
)

var testSchema = tensor.MustSchema([]string{"hydration", "irritation"})

const testSemanticDims = 3

type fakeRepo struct {
	mu       sync.Mutex
	atoms    map[string]*atom.Atom
	rels     []atom.Relationship
	evidence map[string][]atom.Evidence
	calls    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{atoms: map[string]*atom.Atom{}, evidence: map[string][]atom.Evidence{}}
}

func (r *fakeRepo) add(id string, th access.Threshold, semantic []float64) *atom.Atom {
	if semantic == nil {
		semantic = []float64{0.1, 0.1, 0.1}
	}
	a := &atom.Atom{
		ID:                id,
		Type:              atom.Ingredient,
		Title:             id,
		Threshold:         th,
		SemanticEmbedding: semantic,
		TensorEmbedding:   []float64{0.5, 0.5},
		TensorComponents:  map[string]float64{"hydration": 0.5, "irritation": 0.5},
	}
	r.atoms[id] = a
	return a
}

func (r *fakeRepo) link(from, to string, typ atom.RelationshipType, strength float64, th access.Threshold) {
	r.rels = append(r.rels, atom.Relationship{
		ID:        from + ":" + string(typ) + ":" + to,
		FromID:    from,
		ToID:      to,
		Type:      typ,
		Strength:  strength,
		Threshold: th,
	})
}

func (r *fakeRepo) GetAtom(_ context.Context, id string) (*atom.Atom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	a, ok := r.atoms[id]
	if !ok {
		return nil, atom.ErrNotFound
	}
	return a, nil
}

func (r *fakeRepo) GetAtoms(_ context.Context, ids []string) (map[string]*atom.Atom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	out := make(map[string]*atom.Atom, len(ids))
	for _, id := range ids {
		if a, ok := r.atoms[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (r *fakeRepo) GetRelationships(_ context.Context, id string, dir atom.EdgeDirection) ([]atom.Relationship, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	var out []atom.Relationship
	for _, rel := range r.rels {
		isOut := rel.FromID == id && (dir == atom.Outbound || dir == atom.AnyDirection)
		isIn := rel.ToID == id && (dir == atom.Inbound || dir == atom.AnyDirection)
		if isOut || isIn {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (r *fakeRepo) RelationshipsBetween(_ context.Context, a, b string) ([]atom.Relationship, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	var out []atom.Relationship
	for _, rel := range r.rels {
		if (rel.FromID == a && rel.ToID == b) || (rel.FromID == b && rel.ToID == a) {
			out = append(out, rel)
		}
	}
	atom.SortByPrecedence(out)
	return out, nil
}

func (r *fakeRepo) GetRelationshipBetween(ctx context.Context, a, b string) (*atom.Relationship, error) {
	rels, _ := r.RelationshipsBetween(ctx, a, b)
	if len(rels) == 0 {
		return nil, nil
	}
	return &rels[0], nil
}

func (r *fakeRepo) GetEvidence(_ context.Context, id string) ([]atom.Evidence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]atom.Evidence(nil), r.evidence[id]...), nil
}

// fakeIndex scans the repository's atoms. Spaces listed in fail return
// that error; spaces listed in stall block until their context ends.
type fakeIndex struct {
	repo   *fakeRepo
	fail   map[vectorindex.Space]error
	stall  map[vectorindex.Space]bool
	ghosts map[vectorindex.Space][]vectorindex.Match

	mu   sync.Mutex
	topK map[vectorindex.Space]int
}

func (f *fakeIndex) Query(ctx context.Context, space vectorindex.Space, vec []float64, topK int) ([]vectorindex.Match, error) {
	f.mu.Lock()
	if f.topK == nil {
		f.topK = map[vectorindex.Space]int{}
	}
	f.topK[space] = topK
	f.mu.Unlock()

	if f.stall[space] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.fail[space]; err != nil {
		return nil, err
	}

	f.repo.mu.Lock()
	var out []vectorindex.Match
	for id, a := range f.repo.atoms {
		stored, dist := a.SemanticEmbedding, vectorindex.CosineDistance
		if space == vectorindex.Tensor {
			stored, dist = a.TensorEmbedding, vectorindex.EuclideanDistance
		}
		if len(stored) != len(vec) {
			continue
		}
		out = append(out, vectorindex.Match{AtomID: id, Distance: dist(vec, stored)})
	}
	f.repo.mu.Unlock()

	out = append(out, f.ghosts[space]...)
	vectorindex.SortMatches(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float64{1, 1, 1}, nil
}

func (f *fakeEmbedder) Model() string   { return "fake" }
func (f *fakeEmbedder) Dimensions() int { return testSemanticDims }

type fixture struct {
	repo     *fakeRepo
	index    *fakeIndex
	embedder *fakeEmbedder
	metrics  *metrics.Collector
	cfg      config.Config
}

func newFixture() *fixture {
	repo := newFakeRepo()
	cfg := config.Default()
	cfg.Embedding.Dimensions = testSemanticDims
	cfg.Tensor.Components = testSchema.Names()
	cfg.Search.LookupTimeout = 200 * time.Millisecond
	return &fixture{
		repo:     repo,
		index:    &fakeIndex{repo: repo},
		embedder: &fakeEmbedder{vectors: map[string][]float64{}},
		metrics:  metrics.New(),
		cfg:      cfg,
	}
}

func (f *fixture) engine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Deps{
		Repo:     f.repo,
		Index:    f.index,
		Embedder: f.embedder,
		Schema:   testSchema,
		Metrics:  f.metrics,
	}, f.cfg)
	require.NoError(t, err)
	return e
}

func ids(results []RankedAtom) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Atom.ID
	}
	return out
}

func nodeIDs(nodes []ChainNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Atom.ID
	}
	return out
}
