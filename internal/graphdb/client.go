// Package graphdb keeps the atom graph in Neo4j. It serves the same
// read interface as the SQLite store, so the engine can run against
// either, and can mirror the store into the graph.
package graphdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/logger"
)

// Config locates the Neo4j server.
type Config struct {
	URI         string
	User        string
	Password    string
	Database    string
	Timeout     time.Duration
	MaxPoolSize int
}

// Client is a Neo4j-backed atom.Repository.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logger.Logger
}

var _ atom.Repository = (*Client)(nil)

// Open connects and verifies connectivity before returning.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("graphdb: uri required")
	}
	if log == nil {
		log = logger.Nop()
	}
	user := strings.TrimSpace(cfg.User)
	if user == "" {
		user = "neo4j"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pool := cfg.MaxPoolSize
	if pool <= 0 {
		pool = 50
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(user, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = pool
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("graphdb: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graphdb: verify connectivity: %w", err)
	}

	return &Client{
		driver:   driver,
		database: cfg.Database,
		log:      log.With("client", "Neo4j"),
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.driver == nil {
		return nil
	}
	err := c.driver.Close(ctx)
	c.driver = nil
	return err
}

var schemaStatements = []string{
	`CREATE CONSTRAINT atom_id_unique IF NOT EXISTS FOR (a:Atom) REQUIRE a.id IS UNIQUE`,
	`CREATE CONSTRAINT evidence_id_unique IF NOT EXISTS FOR (e:Evidence) REQUIRE e.id IS UNIQUE`,
	`CREATE INDEX evidence_atom_idx IF NOT EXISTS FOR (e:Evidence) ON (e.atom_id)`,
}

// EnsureSchema creates constraints and indexes. Failures are logged and
// skipped since restricted users may not be allowed to manage schema.
func (c *Client) EnsureSchema(ctx context.Context) {
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range schemaStatements {
		res, err := session.Run(ctx, stmt, nil)
		if err == nil {
			_, err = res.Consume(ctx)
		}
		if err != nil {
			c.log.Warn("neo4j schema init failed (continuing)", "error", err)
		}
	}
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: c.database})
}

// read runs query in a read transaction and returns the value of column
// key from every record.
func (c *Client) read(ctx context.Context, query string, params map[string]any, key string) ([]any, error) {
	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		values := make([]any, 0, len(records))
		for _, rec := range records {
			v, ok := rec.Get(key)
			if !ok {
				return nil, fmt.Errorf("column %q missing from result", key)
			}
			values = append(values, v)
		}
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]any), nil
}

// PingContext verifies the server is reachable.
func (c *Client) PingContext(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}
