// Package config loads dermagraph's YAML configuration, applies
// DERMAGRAPH_* environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/tensor"
)

// Config holds all dermagraph configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Log           LogConfig           `yaml:"log"`
	Repository    RepositoryConfig    `yaml:"repository"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Tensor        TensorConfig        `yaml:"tensor"`
	VectorIndex   VectorIndexConfig   `yaml:"vector_index"`
	Search        SearchConfig        `yaml:"search"`
	Engine        EngineConfig        `yaml:"engine"`
	Compatibility CompatibilityConfig `yaml:"compatibility"`
}

type ServerConfig struct {
	Bind            string        `yaml:"bind" validate:"required"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	// AllowedOrigins enables CORS for browser clients; empty disables it.
	AllowedOrigins []string   `yaml:"allowed_origins" validate:"dive,required"`
	Auth           AuthConfig `yaml:"auth"`
}

// AuthConfig enables bearer-token clearance. With a secret set, the
// access level comes from a signed HS256 token and X-Access-Level is
// ignored.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // empty resolves to store.DefaultDBPath()
}

type LogConfig struct {
	Mode string `yaml:"mode" validate:"oneof=dev prod"`
}

type RepositoryConfig struct {
	Backend string      `yaml:"backend" validate:"oneof=sqlite neo4j"`
	Neo4j   Neo4jConfig `yaml:"neo4j"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type EmbeddingConfig struct {
	Provider    string        `yaml:"provider" validate:"oneof=ollama tfidf"`
	OllamaURL   string        `yaml:"ollama_url"`
	OllamaModel string        `yaml:"ollama_model"`
	Dimensions  int           `yaml:"dimensions" validate:"min=1"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	Cache       CacheConfig   `yaml:"cache"`
}

type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"` // empty disables caching
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"min=0"`
	TTL           time.Duration `yaml:"ttl" validate:"min=0"`
}

type TensorConfig struct {
	Components []string `yaml:"components" validate:"min=1,dive,required"`
}

type VectorIndexConfig struct {
	Provider string        `yaml:"provider" validate:"oneof=local qdrant"`
	Qdrant   QdrantConfig  `yaml:"qdrant"`
	Breaker  BreakerConfig `yaml:"breaker"`
}

type QdrantConfig struct {
	URL        string        `yaml:"url"`
	Collection string        `yaml:"collection"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout" validate:"min=0"`
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval" validate:"min=0"`
	Timeout          time.Duration `yaml:"timeout" validate:"min=0"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gte=0,lte=1"`
	MinRequests      uint32        `yaml:"min_requests"`
}

type SearchConfig struct {
	CandidateMultiplier int           `yaml:"candidate_multiplier" validate:"min=3"`
	LookupTimeout       time.Duration `yaml:"lookup_timeout" validate:"gt=0"`
	DefaultWeights      WeightsConfig `yaml:"default_weights"`
	DefaultLimit        int           `yaml:"default_limit" validate:"min=1"`
	MaxLimit            int           `yaml:"max_limit" validate:"min=1,gtefield=DefaultLimit"`
}

type WeightsConfig struct {
	Semantic float64 `yaml:"semantic" validate:"gte=0,lte=1"`
	Tensor   float64 `yaml:"tensor" validate:"gte=0,lte=1"`
}

type EngineConfig struct {
	MaxConcurrency int `yaml:"max_concurrency" validate:"min=1"`
}

type CompatibilityConfig struct {
	ConflictPenalty float64 `yaml:"conflict_penalty" validate:"gte=0"`
	CautionPenalty  float64 `yaml:"caution_penalty" validate:"gte=0"`
	SynergyBonus    float64 `yaml:"synergy_bonus" validate:"gte=0"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:            "127.0.0.1",
			Port:            37780,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{Mode: "dev"},
		Repository: RepositoryConfig{
			Backend: "sqlite",
			Neo4j:   Neo4jConfig{Database: "neo4j"},
		},
		Embedding: EmbeddingConfig{
			Provider:    "tfidf",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "nomic-embed-text",
			Dimensions:  256,
			Timeout:     30 * time.Second,
			Cache:       CacheConfig{TTL: 24 * time.Hour},
		},
		Tensor: TensorConfig{Components: append([]string(nil), tensor.DefaultComponents...)},
		VectorIndex: VectorIndexConfig{
			Provider: "local",
			Qdrant:   QdrantConfig{Collection: "dermagraph_atoms", Timeout: 10 * time.Second},
			Breaker: BreakerConfig{
				Enabled:          true,
				MaxRequests:      3,
				Interval:         30 * time.Second,
				Timeout:          30 * time.Second,
				FailureThreshold: 0.5,
				MinRequests:      5,
			},
		},
		Search: SearchConfig{
			CandidateMultiplier: 3,
			LookupTimeout:       2 * time.Second,
			DefaultWeights:      WeightsConfig{Semantic: 0.6, Tensor: 0.4},
			DefaultLimit:        10,
			MaxLimit:            100,
		},
		Engine: EngineConfig{MaxConcurrency: 8},
		Compatibility: CompatibilityConfig{
			ConflictPenalty: 40,
			CautionPenalty:  15,
			SynergyBonus:    10,
		},
	}
}

// DefaultPath returns ~/.dermagraph/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".dermagraph", "config.yaml"), nil
}

// Load reads path over the defaults, then applies environment overrides and
// validates. An empty path tries DefaultPath and tolerates its absence; an
// explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays DERMAGRAPH_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	str("DERMAGRAPH_BIND", &c.Server.Bind)
	if v := getenv("DERMAGRAPH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DERMAGRAPH_PORT: %w", err)
		}
		c.Server.Port = port
	}
	str("DERMAGRAPH_JWT_SECRET", &c.Server.Auth.JWTSecret)
	str("DERMAGRAPH_DB", &c.Database.Path)
	str("DERMAGRAPH_LOG_MODE", &c.Log.Mode)

	str("DERMAGRAPH_REPOSITORY", &c.Repository.Backend)
	str("DERMAGRAPH_NEO4J_URI", &c.Repository.Neo4j.URI)
	str("DERMAGRAPH_NEO4J_USER", &c.Repository.Neo4j.User)
	str("DERMAGRAPH_NEO4J_PASSWORD", &c.Repository.Neo4j.Password)

	str("DERMAGRAPH_EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("DERMAGRAPH_OLLAMA_URL", &c.Embedding.OllamaURL)
	str("DERMAGRAPH_OLLAMA_MODEL", &c.Embedding.OllamaModel)
	str("DERMAGRAPH_REDIS_ADDR", &c.Embedding.Cache.RedisAddr)
	str("DERMAGRAPH_REDIS_PASSWORD", &c.Embedding.Cache.RedisPassword)

	str("DERMAGRAPH_VECTOR_INDEX", &c.VectorIndex.Provider)
	str("DERMAGRAPH_QDRANT_URL", &c.VectorIndex.Qdrant.URL)
	str("DERMAGRAPH_QDRANT_API_KEY", &c.VectorIndex.Qdrant.APIKey)
	return nil
}

var validate = validator.New()

// Validate checks field ranges and the cross-field rules struct tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Repository.Backend == "neo4j" && c.Repository.Neo4j.URI == "" {
		return fmt.Errorf("repository.neo4j.uri required for the neo4j backend")
	}
	if c.Embedding.Provider == "ollama" && (c.Embedding.OllamaURL == "" || c.Embedding.OllamaModel == "") {
		return fmt.Errorf("embedding.ollama_url and embedding.ollama_model required for the ollama provider")
	}
	if c.VectorIndex.Provider == "qdrant" && (c.VectorIndex.Qdrant.URL == "" || c.VectorIndex.Qdrant.Collection == "") {
		return fmt.Errorf("vector_index.qdrant.url and collection required for the qdrant provider")
	}
	if c.Search.DefaultWeights.Semantic+c.Search.DefaultWeights.Tensor == 0 {
		return fmt.Errorf("search.default_weights must not both be zero")
	}
	if _, err := tensor.NewSchema(c.Tensor.Components); err != nil {
		return fmt.Errorf("tensor.components: %w", err)
	}
	return nil
}

// Dimensions returns the fixed dimensionality of both embedding spaces.
func (c *Config) Dimensions() atom.Dimensions {
	return atom.Dimensions{Semantic: c.Embedding.Dimensions, Tensor: len(c.Tensor.Components)}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
