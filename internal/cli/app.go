package cli

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/config"
	"github.com/lazypower/dermagraph/internal/embedding"
	"github.com/lazypower/dermagraph/internal/engine"
	"github.com/lazypower/dermagraph/internal/graphdb"
	"github.com/lazypower/dermagraph/internal/logger"
	"github.com/lazypower/dermagraph/internal/metrics"
	"github.com/lazypower/dermagraph/internal/store"
	"github.com/lazypower/dermagraph/internal/tensor"
	"github.com/lazypower/dermagraph/internal/vectorindex"
)

// app holds the collaborators one command invocation needs. The SQLite
// store is always open: it is the write side and the source of the local
// vector index and the graph mirror.
type app struct {
	cfg     config.Config
	log     *logger.Logger
	db      *store.DB
	graph   *graphdb.Client
	cache   *embedding.RedisCache
	metrics *metrics.Collector
	schema  *tensor.Schema
}

// loadApp reads configuration, applies flag overrides and opens the store.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	schema, err := tensor.NewSchema(cfg.Tensor.Components)
	if err != nil {
		return nil, err
	}

	path := cfg.Database.Path
	if path == "" {
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(path, cfg.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	log.Debug("opened store", "path", path, "dims", cfg.Dimensions())

	return &app{cfg: cfg, log: log, db: db, schema: schema}, nil
}

func (a *app) Close() {
	if a.graph != nil {
		if err := a.graph.Close(context.Background()); err != nil {
			a.log.Warn("close neo4j driver", "error", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("close redis cache", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("close database", "error", err)
	}
	a.log.Sync()
}

// repository returns the read side the engine queries: the store itself,
// or the Neo4j mirror when configured.
func (a *app) repository(ctx context.Context) (atom.Repository, error) {
	if a.cfg.Repository.Backend != "neo4j" {
		return a.db, nil
	}
	if a.graph == nil {
		g, err := a.openGraph(ctx)
		if err != nil {
			return nil, err
		}
		a.graph = g
	}
	return a.graph, nil
}

func (a *app) openGraph(ctx context.Context) (*graphdb.Client, error) {
	n := a.cfg.Repository.Neo4j
	g, err := graphdb.Open(ctx, graphdb.Config{
		URI:      n.URI,
		User:     n.User,
		Password: n.Password,
		Database: n.Database,
	}, a.log)
	if err != nil {
		return nil, err
	}
	g.EnsureSchema(ctx)
	return g, nil
}

// embedder builds the semantic embedding service. The TF-IDF vocabulary is
// fitted to docs, or to the atoms already stored when docs is nil, so seed
// and query time agree on the layout.
func (a *app) embedder(ctx context.Context, docs []string) (embedding.Service, error) {
	ec := a.cfg.Embedding

	var svc embedding.Service
	switch ec.Provider {
	case "ollama":
		if !embedding.ProbeOllama(ctx, ec.OllamaURL, ec.OllamaModel) {
			a.log.Warn("ollama probe failed, embedding calls may fail", "url", ec.OllamaURL, "model", ec.OllamaModel)
		}
		svc = embedding.NewOllama(ec.OllamaURL, ec.OllamaModel, ec.Dimensions, ec.Timeout)
	default:
		if docs == nil {
			list, err := a.db.ListAtoms(ctx)
			if err != nil {
				return nil, fmt.Errorf("list atoms for tfidf: %w", err)
			}
			for _, at := range list {
				docs = append(docs, embedding.AtomText(at.Title, at.Summary))
			}
		}
		t, err := embedding.NewTFIDF(docs, ec.Dimensions)
		if err != nil {
			return nil, err
		}
		a.log.Debug("tfidf embedder ready", "documents", len(docs), "vocabulary", t.VocabularySize())
		svc = t
	}

	if ec.Cache.RedisAddr == "" {
		return svc, nil
	}
	cache, err := embedding.NewRedisCache(ctx, ec.Cache.RedisAddr, ec.Cache.RedisPassword, ec.Cache.RedisDB)
	if err != nil {
		a.log.Warn("embedding cache disabled", "error", err)
		return svc, nil
	}
	a.cache = cache
	return embedding.NewCached(svc, cache, ec.Cache.TTL, a.log), nil
}

// vectorIndex builds the query-side index, guarded by circuit breakers
// when enabled.
func (a *app) vectorIndex() (vectorindex.Client, error) {
	vc := a.cfg.VectorIndex

	var idx vectorindex.Client
	switch vc.Provider {
	case "qdrant":
		q, err := a.qdrant()
		if err != nil {
			return nil, err
		}
		idx = q
	default:
		idx = vectorindex.NewLocal(a.db, a.cfg.Dimensions(), a.log)
	}

	if !vc.Breaker.Enabled {
		return idx, nil
	}
	bc := vectorindex.BreakerConfig{
		MaxRequests:      vc.Breaker.MaxRequests,
		Interval:         vc.Breaker.Interval,
		Timeout:          vc.Breaker.Timeout,
		FailureThreshold: vc.Breaker.FailureThreshold,
		MinRequests:      vc.Breaker.MinRequests,
	}
	return vectorindex.NewBreaker(idx, bc, a.log, func(space vectorindex.Space, _, to gobreaker.State) {
		a.metrics.SetBreakerOpen(string(space), to == gobreaker.StateOpen)
	}), nil
}

func (a *app) qdrant() (*vectorindex.Qdrant, error) {
	qc := a.cfg.VectorIndex.Qdrant
	return vectorindex.NewQdrant(vectorindex.QdrantConfig{
		URL:        qc.URL,
		Collection: qc.Collection,
		APIKey:     qc.APIKey,
		Dims:       a.cfg.Dimensions(),
		Timeout:    qc.Timeout,
	}, a.log)
}

// engine wires the reasoning engine over the configured backends.
func (a *app) engine(ctx context.Context) (*engine.Engine, error) {
	repo, err := a.repository(ctx)
	if err != nil {
		return nil, err
	}
	emb, err := a.embedder(ctx, nil)
	if err != nil {
		return nil, err
	}
	idx, err := a.vectorIndex()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Deps{
		Repo:     repo,
		Index:    idx,
		Embedder: emb,
		Schema:   a.schema,
		Metrics:  a.metrics,
		Log:      a.log,
	}, a.cfg)
}

func accessLevel() (access.Level, error) {
	return access.ParseLevel(accessFlag)
}
