// File path: sqlmind.go

// Package sqlmind assembles the hybrid retrieval and caching subsystem
// for natural language to SQL assistance: an embedding provider, a
// Milvus-backed vector store, a Neo4j (or in-memory) graph store, a
// per-scope retrieval engine pool and a two-layer query cache.
package sqlmind

import (
	"context"
	"errors"
	"fmt"

	"github.com/joho/godotenv"

	"github.com/sqlmind-ai/sqlmind/internal/common"
	"github.com/sqlmind-ai/sqlmind/internal/embedding"
	"github.com/sqlmind-ai/sqlmind/internal/graph"
	"github.com/sqlmind-ai/sqlmind/internal/graph/memory"
	"github.com/sqlmind-ai/sqlmind/internal/graph/neo4j"
	"github.com/sqlmind-ai/sqlmind/internal/querycache"
	"github.com/sqlmind-ai/sqlmind/internal/retrieval"
	"github.com/sqlmind-ai/sqlmind/internal/vector"
)

// App owns the wired subsystem. Construct it once per process with New
// and release backend resources with Close.
type App struct {
	Provider embedding.Provider
	Vectors  vector.Store
	Graph    graph.Store
	Pool     *retrieval.Pool
	Cache    *querycache.Cache
}

// New loads configuration from the environment (including a .env file
// when present) and wires every component. A missing or unreachable
// Neo4j endpoint falls back to the in-memory graph store so retrieval
// keeps all three signals inside a single process.
func New(ctx context.Context) (*App, error) {
	if err := godotenv.Load(); err != nil {
		common.Logger().Debug("sqlmind: no .env file loaded", "error", err)
	}

	embedCfg, err := embedding.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load embedding config: %w", err)
	}
	provider, err := embedding.NewProvider(embedCfg)
	if err != nil {
		return nil, fmt.Errorf("build embedding provider: %w", err)
	}

	vectors, err := vector.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("build vector store: %w", err)
	}

	graphStore := buildGraphStore(ctx)

	engineCfg, err := retrieval.LoadEngineConfig()
	if err != nil {
		return nil, fmt.Errorf("load retrieval config: %w", err)
	}
	pool := retrieval.NewPool(engineCfg, provider, vectors, graphStore)

	cacheCfg, err := querycache.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load query cache config: %w", err)
	}
	cache := querycache.New(cacheCfg, pool)

	return &App{
		Provider: provider,
		Vectors:  vectors,
		Graph:    graphStore,
		Pool:     pool,
		Cache:    cache,
	}, nil
}

func buildGraphStore(ctx context.Context) graph.Store {
	client, err := neo4j.NewFromEnv(ctx)
	if err != nil {
		common.Logger().Warn("sqlmind: neo4j unreachable, using in-memory graph", "error", err)
		return memory.NewStore()
	}
	if client == nil {
		common.Logger().Info("sqlmind: neo4j not configured, using in-memory graph")
		return memory.NewStore()
	}
	return neo4j.NewStore(client)
}

// Close releases backend connections.
func (a *App) Close() error {
	var errs []error
	if a.Graph != nil {
		if err := a.Graph.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Vectors != nil {
		if err := a.Vectors.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
