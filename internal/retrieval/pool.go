// File path: internal/retrieval/pool.go
package retrieval

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/sqlmind-ai/sqlmind/internal/common"
	"github.com/sqlmind-ai/sqlmind/internal/corpus"
	"github.com/sqlmind-ai/sqlmind/internal/embedding"
	"github.com/sqlmind-ai/sqlmind/internal/graph"
	"github.com/sqlmind-ai/sqlmind/internal/querycache"
	"github.com/sqlmind-ai/sqlmind/internal/vector"
)

// QuickResult is the trimmed answer QuickRetrieve returns for cache
// style lookups.
type QuickResult struct {
	Question    string  `json:"question"`
	SQL         string  `json:"sql"`
	Explanation string  `json:"explanation"`
	Score       float64 `json:"score"`
}

// PoolHealth summarizes backend reachability for a health endpoint.
type PoolHealth struct {
	Embedding      embedding.Health `json:"embedding"`
	EmbeddingError string           `json:"embedding_error,omitempty"`
	VectorStore    bool             `json:"vector_store"`
	GraphStore     bool             `json:"graph_store"`
	Engines        int              `json:"engines"`
}

type engineEntry struct {
	done   chan struct{}
	engine *Engine
	err    error
}

// Pool hands out one initialized Engine per scope. Concurrent callers
// asking for the same scope share a single initialization; a failed
// initialization is forgotten so the next caller can retry.
type Pool struct {
	cfg      EngineConfig
	provider embedding.Provider
	vectors  vector.Store
	graphs   graph.Store

	mu      sync.Mutex
	engines map[string]*engineEntry

	initCount atomic.Int64

	// corpusProber is replaceable in tests.
	corpusProber func(ctx context.Context, scope string) bool
}

// NewPool wires a pool over shared backends.
func NewPool(cfg EngineConfig, provider embedding.Provider, vectors vector.Store, graphs graph.Store) *Pool {
	p := &Pool{
		cfg:      cfg,
		provider: provider,
		vectors:  vectors,
		graphs:   graphs,
		engines:  make(map[string]*engineEntry),
	}
	p.corpusProber = p.probeCorpus
	return p
}

// GetEngine returns the engine for a scope, initializing it on first
// use. The empty scope is a valid default scope with its own engine.
func (p *Pool) GetEngine(ctx context.Context, scope string) (*Engine, error) {
	p.mu.Lock()
	entry, ok := p.engines[scope]
	if !ok {
		entry = &engineEntry{done: make(chan struct{})}
		p.engines[scope] = entry
	}
	p.mu.Unlock()

	if !ok {
		p.initialize(ctx, scope, entry)
	} else {
		select {
		case <-entry.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if entry.err != nil {
		return nil, entry.err
	}
	return entry.engine, nil
}

func (p *Pool) initialize(ctx context.Context, scope string, entry *engineEntry) {
	defer close(entry.done)
	p.initCount.Add(1)
	engine, err := NewEngine(p.cfg, p.provider, p.vectors, p.graphs)
	if err == nil {
		err = engine.Initialize(ctx)
	}
	if err != nil {
		entry.err = err
		p.mu.Lock()
		delete(p.engines, scope)
		p.mu.Unlock()
		common.Logger().Warn("retrieval: engine init failed", "scope", scope, "error", err)
		return
	}
	engine.markScope(scope)
	entry.engine = engine
}

// InitCount reports how many engine initializations have run.
func (p *Pool) InitCount() int64 { return p.initCount.Load() }

// Warmup initializes engines for the given scopes ahead of traffic.
func (p *Pool) Warmup(ctx context.Context, scopes []string) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, scope := range scopes {
		scope := scope
		group.Go(func() error {
			_, err := p.GetEngine(ctx, scope)
			return err
		})
	}
	return group.Wait()
}

// HealthCheck probes the embedding provider and backend availability.
func (p *Pool) HealthCheck(ctx context.Context) PoolHealth {
	health := PoolHealth{
		VectorStore: p.vectors.Available(),
		GraphStore:  p.graphs.Available(),
	}
	probe, err := embedding.HealthCheck(ctx, p.provider, "")
	health.Embedding = probe
	if err != nil {
		health.EmbeddingError = err.Error()
	}
	p.mu.Lock()
	health.Engines = len(p.engines)
	p.mu.Unlock()
	return health
}

// HasCorpus reports whether a scope has any stored pairs without
// initializing an engine for it.
func (p *Pool) HasCorpus(ctx context.Context, scope string) bool {
	return p.corpusProber(ctx, scope)
}

func (p *Pool) probeCorpus(ctx context.Context, scope string) bool {
	exists, err := p.vectors.HasCollection(ctx, scope)
	if err != nil || !exists {
		return false
	}
	stats, err := p.vectors.Stats(ctx, scope)
	if err != nil {
		return false
	}
	return stats.Count > 0
}

// QuickRetrieve is the cheap cache-style lookup: it returns an empty
// slice without touching an engine when the scope has no corpus, and
// otherwise returns every candidate at or above minSimilarity, best
// first.
func (p *Pool) QuickRetrieve(ctx context.Context, query, scope string, topK int, minSimilarity float64) ([]QuickResult, error) {
	if !p.HasCorpus(ctx, scope) {
		return nil, nil
	}
	engine, err := p.GetEngine(ctx, scope)
	if err != nil {
		return nil, err
	}
	results := engine.Retrieve(ctx, query, nil, scope, topK)
	quick := make([]QuickResult, 0, len(results))
	for _, result := range results {
		if result.Final < minSimilarity {
			continue
		}
		quick = append(quick, QuickResult{
			Question:    result.Pair.Question,
			SQL:         result.Pair.SQL,
			Explanation: result.Explanation,
			Score:       result.Final,
		})
	}
	return quick, nil
}

// SearchCorpus implements querycache.SemanticSearcher: it returns the
// semantically closest stored question for a cache scope.
func (p *Pool) SearchCorpus(ctx context.Context, scope querycache.Scope, query string) (querycache.SemanticMatch, bool, error) {
	retrievalScope := cacheScopeName(scope)
	if !p.HasCorpus(ctx, retrievalScope) {
		return querycache.SemanticMatch{}, false, nil
	}
	engine, err := p.GetEngine(ctx, retrievalScope)
	if err != nil {
		return querycache.SemanticMatch{}, false, err
	}
	results := engine.Retrieve(ctx, query, nil, retrievalScope, 1)
	if len(results) == 0 {
		return querycache.SemanticMatch{}, false, nil
	}
	best := results[0]
	return querycache.SemanticMatch{
		Question: best.Pair.Question,
		SQL:      best.Pair.SQL,
		Score:    best.Semantic,
	}, true, nil
}

// ClearCache purges memoized embeddings shared by the pool's engines.
func (p *Pool) ClearCache() {
	if purger, ok := p.provider.(interface{ Purge() }); ok {
		purger.Purge()
	}
}

func cacheScopeName(scope querycache.Scope) string {
	parts := make([]string, 0, 2)
	if scope.Tenant != "" {
		parts = append(parts, scope.Tenant)
	}
	if scope.Database != "" {
		parts = append(parts, scope.Database)
	}
	return corpus.SanitizeScope(strings.Join(parts, "_"))
}

var _ querycache.SemanticSearcher = (*Pool)(nil)
