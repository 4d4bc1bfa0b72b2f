// File path: internal/retrieval/engine.go
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sqlmind-ai/sqlmind/internal/common"
	"github.com/sqlmind-ai/sqlmind/internal/common/telemetry"
	"github.com/sqlmind-ai/sqlmind/internal/corpus"
	"github.com/sqlmind-ai/sqlmind/internal/embedding"
	"github.com/sqlmind-ai/sqlmind/internal/graph"
	"github.com/sqlmind-ai/sqlmind/internal/vector"
)

// Engine fans retrieval out across the vector and graph backends and
// fuses the returned signals into a single ranked list. A degraded
// backend never fails a retrieval; it only removes its signal.
type Engine struct {
	cfg      EngineConfig
	provider embedding.Provider
	vectors  vector.Store
	graphs   graph.Store
	fuser    *Fuser

	mu     sync.Mutex
	scopes map[string]struct{}
}

// NewEngine wires the engine against concrete backends. The graph
// store may be an in-memory fallback; the vector store and embedding
// provider are required.
func NewEngine(cfg EngineConfig, provider embedding.Provider, vectors vector.Store, graphs graph.Store) (*Engine, error) {
	if provider == nil {
		return nil, errors.New("retrieval: embedding provider is required")
	}
	if vectors == nil {
		return nil, errors.New("retrieval: vector store is required")
	}
	if graphs == nil {
		return nil, errors.New("retrieval: graph store is required")
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultEngineConfig().SearchTimeout
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultEngineConfig().TopK
	}
	fuser, err := NewFuser(cfg.Fusion)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		provider: provider,
		vectors:  vectors,
		graphs:   graphs,
		fuser:    fuser,
		scopes:   make(map[string]struct{}),
	}, nil
}

// Initialize prepares backend schemas. Graph schema failures degrade
// rather than abort: structural and pattern signals simply stay empty
// until the store recovers.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.graphs.EnsureSchema(ctx); err != nil {
		common.Logger().Warn("retrieval: graph schema setup failed, continuing degraded", "error", err)
	}
	return nil
}

// Retrieve runs the three-signal search for a natural language query.
// It never returns an error: any backend failure is logged and the
// remaining signals are fused. A fully degraded system yields an empty
// slice.
func (e *Engine) Retrieve(ctx context.Context, query string, schemaCtx *corpus.SchemaContext, scope string, topK int) []corpus.RetrievalResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	e.markScope(scope)

	start := time.Now()
	ctx, finish := telemetry.StartSpan(ctx, "retrieval.retrieve")
	defer finish("scope", scope)

	queryType := corpus.ClassifyQueryType(query)
	difficulty := corpus.EstimateDifficulty(query)
	tables := relevantTables(query, schemaCtx)

	var semantic, structural, pattern []corpus.RetrievalResult
	if e.cfg.Parallel {
		var group errgroup.Group
		group.Go(func() error {
			semantic = e.semanticSearch(ctx, query, scope, topK)
			return nil
		})
		group.Go(func() error {
			structural = e.structuralSearch(ctx, tables, scope, topK)
			return nil
		})
		group.Go(func() error {
			pattern = e.patternSearch(ctx, queryType, difficulty, scope, topK)
			return nil
		})
		_ = group.Wait()
	} else {
		semantic = e.semanticSearch(ctx, query, scope, topK)
		structural = e.structuralSearch(ctx, tables, scope, topK)
		pattern = e.patternSearch(ctx, queryType, difficulty, scope, topK)
	}

	fused := e.fuser.Fuse(semantic, structural, pattern)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	telemetry.RecordRetrieval(time.Since(start))
	return fused
}

func (e *Engine) semanticSearch(ctx context.Context, query, scope string, topK int) []corpus.RetrievalResult {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()
	vec, err := e.provider.Embed(ctx, query)
	if err != nil {
		common.Logger().Warn("retrieval: query embedding failed", "scope", scope, "error", err)
		return nil
	}
	filter := fmt.Sprintf("scope_id == %d", corpus.ScopeID(scope))
	hits, err := e.vectors.Search(ctx, scope, vec, topK, filter)
	if err != nil {
		common.Logger().Warn("retrieval: semantic search failed", "scope", scope, "error", err)
		return nil
	}
	results := make([]corpus.RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, corpus.RetrievalResult{Pair: hit.Pair, Semantic: hit.Score})
	}
	return results
}

func (e *Engine) structuralSearch(ctx context.Context, tables []string, scope string, topK int) []corpus.RetrievalResult {
	if len(tables) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()
	results, err := e.graphs.StructuralSearch(ctx, tables, scope, topK)
	if err != nil {
		common.Logger().Warn("retrieval: structural search failed", "scope", scope, "error", err)
		return nil
	}
	return results
}

func (e *Engine) patternSearch(ctx context.Context, queryType string, difficulty int, scope string, topK int) []corpus.RetrievalResult {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()
	results, err := e.graphs.PatternSearch(ctx, queryType, difficulty, scope, topK)
	if err != nil {
		common.Logger().Warn("retrieval: pattern search failed", "scope", scope, "error", err)
		return nil
	}
	return results
}

// Store persists a question/SQL pair into both backends and returns
// the pair with identifiers and classification defaults filled in.
// A single backend failure is logged as a partial write; the call only
// errors when neither backend accepted the pair.
func (e *Engine) Store(ctx context.Context, pair corpus.QAPair, schemaCtx *corpus.SchemaContext) (corpus.QAPair, error) {
	if strings.TrimSpace(pair.Question) == "" {
		return corpus.QAPair{}, errors.New("retrieval: question is required")
	}
	if pair.ID == "" {
		pair.ID = uuid.NewString()
	}
	if pair.CreatedAt.IsZero() {
		pair.CreatedAt = time.Now().UTC()
	}
	if pair.QueryType == "" {
		pair.QueryType = corpus.ClassifyQueryType(pair.SQL)
	}
	if pair.DifficultyLevel == 0 {
		pair.DifficultyLevel = corpus.EstimateDifficulty(pair.SQL)
	}
	if pair.QueryPattern == "" {
		pair.QueryPattern = pair.QueryType
	}
	if len(pair.UsedTables) == 0 && pair.SQL != "" {
		pair.UsedTables = corpus.ExtractTables(pair.SQL)
	}
	e.markScope(pair.Scope)

	var vecErr error
	vec, err := e.provider.Embed(ctx, pair.Question)
	if err != nil {
		vecErr = fmt.Errorf("embed question: %w", err)
	} else if err := e.vectors.EnsureCollection(ctx, pair.Scope, len(vec)); err != nil {
		vecErr = fmt.Errorf("ensure collection: %w", err)
	} else if err := e.vectors.Insert(ctx, pair.Scope, pair, vec); err != nil {
		vecErr = fmt.Errorf("insert vector: %w", err)
	}

	var graphErr error
	if err := e.graphs.StoreWithContext(ctx, pair, schemaCtx); err != nil {
		graphErr = fmt.Errorf("store graph context: %w", err)
	}

	switch {
	case vecErr != nil && graphErr != nil:
		return corpus.QAPair{}, fmt.Errorf("retrieval: store %s failed: %v; %v", pair.ID, vecErr, graphErr)
	case vecErr != nil:
		common.Logger().Warn("retrieval: partial write, vector side failed",
			"id", pair.ID, "scope", pair.Scope, "error", vecErr)
	case graphErr != nil:
		common.Logger().Warn("retrieval: partial write, graph side failed",
			"id", pair.ID, "scope", pair.Scope, "error", graphErr)
	}
	return pair, nil
}

// Update applies a partial patch to a stored pair. When the question
// text changes the pair is re-embedded; otherwise the stored vector is
// reused. An empty scope probes every scope seen by this engine.
func (e *Engine) Update(ctx context.Context, scope, id string, patch corpus.Patch) error {
	if id == "" {
		return corpus.ErrNotFound
	}
	if scope == "" {
		located, found, err := e.locateScope(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return corpus.ErrNotFound
		}
		scope = located
	}
	var newVec []float32
	if patch.Question != nil {
		vec, err := e.provider.Embed(ctx, *patch.Question)
		if err != nil {
			return fmt.Errorf("re-embed question: %w", err)
		}
		newVec = vec
	}
	if err := e.vectors.Update(ctx, scope, id, patch, newVec); err != nil {
		return err
	}
	// Refresh the graph projection from the updated pair so structural
	// and pattern signals stay in step with the vector side.
	updated, _, found, err := e.vectors.Get(ctx, scope, id)
	if err != nil || !found {
		return err
	}
	if err := e.graphs.StoreWithContext(ctx, updated, nil); err != nil {
		common.Logger().Warn("retrieval: graph refresh after update failed",
			"id", id, "scope", scope, "error", err)
	}
	return nil
}

// Delete removes a pair from both backends. An empty scope probes all
// known scopes. Missing pairs report corpus.ErrNotFound.
func (e *Engine) Delete(ctx context.Context, scope, id string) error {
	if id == "" {
		return corpus.ErrNotFound
	}
	if scope == "" {
		located, found, err := e.locateScope(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return corpus.ErrNotFound
		}
		scope = located
	}
	_, _, found, err := e.vectors.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	graphErr := e.graphs.Delete(ctx, id)
	if graphErr != nil && !errors.Is(graphErr, corpus.ErrNotFound) {
		common.Logger().Warn("retrieval: graph delete failed", "id", id, "error", graphErr)
	}
	if !found {
		if graphErr == nil {
			return nil
		}
		return corpus.ErrNotFound
	}
	return e.vectors.Delete(ctx, scope, id)
}

// Stats reports the vector collection statistics for a scope.
func (e *Engine) Stats(ctx context.Context, scope string) (vector.CollectionStats, error) {
	return e.vectors.Stats(ctx, scope)
}

// ListAll returns up to limit stored pairs for a scope.
func (e *Engine) ListAll(ctx context.Context, scope string, limit int) ([]corpus.QAPair, error) {
	return e.vectors.List(ctx, scope, limit)
}

func (e *Engine) markScope(scope string) {
	e.mu.Lock()
	e.scopes[scope] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) knownScopes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	scopes := make([]string, 0, len(e.scopes))
	for scope := range e.scopes {
		scopes = append(scopes, scope)
	}
	return scopes
}

func (e *Engine) locateScope(ctx context.Context, id string) (string, bool, error) {
	for _, scope := range e.knownScopes() {
		_, _, found, err := e.vectors.Get(ctx, scope, id)
		if err != nil {
			return "", false, err
		}
		if found {
			return scope, true, nil
		}
	}
	return "", false, nil
}

// relevantTables gathers candidate table names from the schema context
// whose names appear in the query, plus any explicit references when
// the query embeds SQL fragments.
func relevantTables(query string, schemaCtx *corpus.SchemaContext) []string {
	lowered := strings.ToLower(query)
	seen := make(map[string]struct{})
	var tables []string
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}
	if schemaCtx != nil {
		for _, table := range schemaCtx.Tables {
			if strings.Contains(lowered, strings.ToLower(table.Name)) {
				add(table.Name)
			}
		}
	}
	for _, table := range corpus.ExtractTables(query) {
		add(table)
	}
	return tables
}
