// File path: internal/graph/memory/store.go
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sqlmind-ai/sqlmind/internal/corpus"
	"github.com/sqlmind-ai/sqlmind/internal/graph"
)

type patternKey struct {
	queryType  string
	difficulty int
}

type record struct {
	pair corpus.QAPair
	// linkedTables holds only the tables that existed in the schema graph
	// when the pair was stored, mirroring the MATCH-only edge semantics of
	// the Cypher backend.
	linkedTables map[string]struct{}
	pattern      patternKey
}

// Store is a mutex-guarded in-memory graph used when no Cypher backend is
// configured, and by tests.
type Store struct {
	mu sync.RWMutex
	// schema tables per scope: scope -> table name -> columns
	schema map[string]map[string][]string
	// pattern usage per scope
	usage map[string]map[patternKey]int64
	// records per scope, keyed by pair id
	records map[string]map[string]*record
}

func NewStore() *Store {
	return &Store{
		schema:  make(map[string]map[string][]string),
		usage:   make(map[string]map[patternKey]int64),
		records: make(map[string]map[string]*record),
	}
}

func (s *Store) Available() bool { return s != nil }

func (s *Store) EnsureSchema(ctx context.Context) error { return nil }

func (s *Store) mergeSchemaLocked(scope string, schemaCtx *corpus.SchemaContext) {
	tables, ok := s.schema[scope]
	if !ok {
		tables = make(map[string][]string)
		s.schema[scope] = tables
	}
	for _, table := range schemaCtx.Tables {
		name := strings.ToLower(strings.TrimSpace(table.Name))
		if name == "" {
			continue
		}
		existing := tables[name]
		for _, column := range table.Columns {
			column = strings.ToLower(strings.TrimSpace(column))
			if column == "" || containsString(existing, column) {
				continue
			}
			existing = append(existing, column)
		}
		tables[name] = existing
	}
}

func (s *Store) StoreWithContext(ctx context.Context, pair corpus.QAPair, schemaCtx *corpus.SchemaContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if schemaCtx != nil {
		s.mergeSchemaLocked(pair.Scope, schemaCtx)
	}
	tables := pair.UsedTables
	if len(tables) == 0 && strings.TrimSpace(pair.SQL) != "" {
		tables = corpus.ExtractTables(pair.SQL)
	}
	known := s.schema[pair.Scope]
	linked := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		name := strings.ToLower(strings.TrimSpace(table))
		if _, ok := known[name]; ok {
			linked[name] = struct{}{}
		}
	}
	queryType := pair.QueryPattern
	if queryType == "" {
		queryType = pair.QueryType
	}
	key := patternKey{queryType: queryType, difficulty: pair.DifficultyLevel}

	scoped, ok := s.records[pair.Scope]
	if !ok {
		scoped = make(map[string]*record)
		s.records[pair.Scope] = scoped
	}
	prev, existed := scoped[pair.ID]
	scoped[pair.ID] = &record{pair: pair, linkedTables: linked, pattern: key}

	if queryType != "" {
		usage, ok := s.usage[pair.Scope]
		if !ok {
			usage = make(map[patternKey]int64)
			s.usage[pair.Scope] = usage
		}
		// Usage counts distinct pairs following the pattern: re-storing the
		// same id with the same shape must not inflate the count.
		if !existed || prev.pattern != key {
			usage[key]++
		}
		if existed && prev.pattern != key && prev.pattern.queryType != "" {
			if usage[prev.pattern] > 0 {
				usage[prev.pattern]--
			}
		}
	}
	return nil
}

func (s *Store) StructuralSearch(ctx context.Context, tables []string, scope string, topK int) ([]corpus.RetrievalResult, error) {
	if len(tables) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	requested := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		requested[strings.ToLower(strings.TrimSpace(table))] = struct{}{}
	}
	denom := float64(len(tables))
	if denom < 1 {
		denom = 1
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]corpus.RetrievalResult, 0, topK)
	for _, rec := range s.records[scope] {
		overlap := 0
		for name := range rec.linkedTables {
			if _, ok := requested[name]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		results = append(results, corpus.RetrievalResult{
			Pair:       rec.pair,
			Structural: float64(overlap) / denom,
		})
	}
	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Store) PatternSearch(ctx context.Context, queryType string, difficulty int, scope string, topK int) ([]corpus.RetrievalResult, error) {
	if strings.TrimSpace(queryType) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	key := patternKey{queryType: queryType, difficulty: difficulty}
	s.mu.RLock()
	defer s.mu.RUnlock()
	usage := s.usage[scope][key]
	if usage == 0 {
		return nil, nil
	}
	score := graph.NormalizeUsage(usage)
	results := make([]corpus.RetrievalResult, 0, topK)
	for _, rec := range s.records[scope] {
		if rec.pattern != key {
			continue
		}
		results = append(results, corpus.RetrievalResult{Pair: rec.pair, Pattern: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Pair.SuccessRate == results[j].Pair.SuccessRate {
			return results[i].Pair.ID < results[j].Pair.ID
		}
		return results[i].Pair.SuccessRate > results[j].Pair.SuccessRate
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for scope, scoped := range s.records {
		rec, ok := scoped[id]
		if !ok {
			continue
		}
		delete(scoped, id)
		if rec.pattern.queryType != "" {
			if usage := s.usage[scope]; usage[rec.pattern] > 0 {
				usage[rec.pattern]--
			}
		}
		return nil
	}
	return corpus.ErrNotFound
}

func (s *Store) Close() error { return nil }

var _ graph.Store = (*Store)(nil)

func sortResults(results []corpus.RetrievalResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Structural == results[j].Structural {
			return results[i].Pair.ID < results[j].Pair.ID
		}
		return results[i].Structural > results[j].Structural
	})
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
