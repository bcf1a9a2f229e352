package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lazypower/dermagraph/internal/access"
	"github.com/lazypower/dermagraph/internal/engine"
	"github.com/lazypower/dermagraph/internal/logger"
	"github.com/lazypower/dermagraph/internal/metrics"
)

// Reasoner is the query surface the API exposes.
type Reasoner interface {
	Search(ctx context.Context, req engine.SearchRequest, level access.Level) (*engine.SearchResponse, error)
	TraverseCausalChain(ctx context.Context, seedID string, dir engine.Direction, depth int, level access.Level) (*engine.CausalChain, error)
	AnalyzeCompatibility(ctx context.Context, atomIDs []string, level access.Level) (*engine.CompatibilityResult, error)
	GetAtom(ctx context.Context, id string, level access.Level) (*engine.AtomDetail, error)
	DefaultLimit() int
}

// Pinger reports whether the backing repository is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options configure a Server. Metrics and Repository may be nil.
type Options struct {
	Engine     Reasoner
	Repository Pinger
	Metrics    *metrics.Collector
	Log        *logger.Logger
	Version    string
	// DefaultLevel applies to requests without an X-Access-Level header.
	DefaultLevel   access.Level
	RequestTimeout time.Duration
	// Tokens, when set, derives clearance from bearer tokens instead of
	// the X-Access-Level header.
	Tokens         *TokenVerifier
	AllowedOrigins []string
}

// Server is the dermagraph HTTP API server.
type Server struct {
	engine         Reasoner
	repo           Pinger
	metrics        *metrics.Collector
	log            *logger.Logger
	version        string
	defaultLevel   access.Level
	requestTimeout time.Duration
	tokens         *TokenVerifier
	origins        []string
	router         chi.Router
	started        time.Time
}

// New creates a Server and wires its routes.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	level := opts.DefaultLevel
	if !level.Valid() {
		level = access.Public
	}
	s := &Server{
		engine:         opts.Engine,
		repo:           opts.Repository,
		metrics:        opts.Metrics,
		log:            log.With("component", "HTTPServer"),
		version:        opts.Version,
		defaultLevel:   level,
		requestTimeout: opts.RequestTimeout,
		tokens:         opts.Tokens,
		origins:        opts.AllowedOrigins,
		started:        time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.instrument)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", AccessLevelHeader, "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.accessLevel)
			if s.requestTimeout > 0 {
				r.Use(middleware.Timeout(s.requestTimeout))
			}
			r.Post("/search", s.handleSearch)
			r.Get("/atoms/{atomID}", s.handleGetAtom)
			r.Get("/atoms/{atomID}/causal-chain", s.handleCausalChain)
			r.Post("/compatibility", s.handleCompatibility)
		})
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	repoOK := true
	if s.repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.repo.PingContext(ctx); err != nil {
			s.log.Warn("repository ping failed", "error", err)
			repoOK = false
		}
	}

	status := http.StatusOK
	state := "ok"
	if !repoOK {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":     state,
		"version":    s.version,
		"uptime":     time.Since(s.started).Seconds(),
		"repository": repoOK,
	})
}
