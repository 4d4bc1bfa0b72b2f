// File path: internal/querycache/cache.go
package querycache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sqlmind-ai/sqlmind/internal/common/telemetry"
)

// Scope isolates cache entries between tenants and databases. Entries
// never leak across scopes.
type Scope struct {
	Tenant   string `json:"tenant"`
	Database string `json:"database"`
}

// HitKind identifies which lookup path produced a Hit.
type HitKind string

const (
	HitExact     HitKind = "exact"
	HitSemantic  HitKind = "semantic"
	HitExactText HitKind = "exact_text"
)

// Hit is a successful cache lookup. Result is nil when the SQL is
// known but no execution result has been cached for it; the caller
// must re-execute in that case.
type Hit struct {
	Kind       HitKind         `json:"kind"`
	Question   string          `json:"question"`
	SQL        string          `json:"sql"`
	Result     json.RawMessage `json:"result,omitempty"`
	Similarity float64         `json:"similarity"`
}

// SemanticMatch is the best corpus candidate for a cached question.
type SemanticMatch struct {
	Question string
	SQL      string
	Score    float64
}

// SemanticSearcher answers semantic lookups against the stored corpus.
// The retrieval pool satisfies this interface.
type SemanticSearcher interface {
	SearchCorpus(ctx context.Context, scope Scope, query string) (SemanticMatch, bool, error)
}

// Stats is a point-in-time snapshot of cache behaviour.
type Stats struct {
	Size      int     `json:"size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

type entry struct {
	key       string
	scope     Scope
	question  string
	sql       string
	result    json.RawMessage
	expiresAt time.Time
	hits      int64
}

// Cache is a two-layer query result cache: an exact LRU layer keyed by
// normalized query text, and an optional semantic layer backed by the
// retrieval corpus. Lookups never return errors; a failed or slow
// semantic probe is just a miss.
type Cache struct {
	cfg      Config
	searcher SemanticSearcher

	mu       sync.Mutex
	order    *list.List
	elements map[string]*list.Element

	now func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New builds a cache. The searcher may be nil, which disables the
// semantic layer even in full mode.
func New(cfg Config, searcher SemanticSearcher) *Cache {
	defaults := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaults.MaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.Mode == "" {
		cfg.Mode = defaults.Mode
	}
	if cfg.SemanticThreshold <= 0 || cfg.SemanticThreshold > 1 {
		cfg.SemanticThreshold = defaults.SemanticThreshold
	}
	if cfg.RaceTimeout <= 0 {
		cfg.RaceTimeout = defaults.RaceTimeout
	}
	return &Cache{
		cfg:      cfg,
		searcher: searcher,
		order:    list.New(),
		elements: make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Check looks a query up. In simple mode only the exact layer runs.
// In full mode the exact and semantic layers race under RaceTimeout:
// the first hit wins and cancels the other side, a fast miss waits for
// the slower side, and hitting the timeout is a miss.
func (c *Cache) Check(ctx context.Context, scope Scope, query string) (Hit, bool) {
	normalized := normalizeQuery(query)
	if normalized == "" {
		return Hit{}, false
	}
	if c.cfg.Mode != ModeFull || c.searcher == nil {
		if hit, ok := c.exactLookup(scope, normalized); ok {
			c.recordHit(hit.Kind)
			return hit, true
		}
		c.recordMiss()
		return Hit{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RaceTimeout)
	defer cancel()

	type outcome struct {
		hit Hit
		ok  bool
	}
	results := make(chan outcome, 2)
	go func() {
		hit, ok := c.exactLookup(scope, normalized)
		results <- outcome{hit, ok}
	}()
	go func() {
		hit, ok := c.semanticLookup(ctx, scope, query, normalized)
		results <- outcome{hit, ok}
	}()

	for completed := 0; completed < 2; {
		select {
		case out := <-results:
			completed++
			if out.ok {
				cancel()
				c.recordHit(out.hit.Kind)
				return out.hit, true
			}
		case <-ctx.Done():
			c.recordMiss()
			return Hit{}, false
		}
	}
	c.recordMiss()
	return Hit{}, false
}

func (c *Cache) exactLookup(scope Scope, normalized string) (Hit, bool) {
	key := cacheKey(scope, normalized)
	c.mu.Lock()
	defer c.mu.Unlock()
	element, ok := c.elements[key]
	if !ok {
		return Hit{}, false
	}
	stored := element.Value.(*entry)
	if !c.now().Before(stored.expiresAt) {
		c.removeLocked(element)
		return Hit{}, false
	}
	c.order.MoveToFront(element)
	stored.hits++
	return Hit{Kind: HitExact, Question: stored.question, SQL: stored.sql, Result: stored.result, Similarity: 1.0}, true
}

func (c *Cache) semanticLookup(ctx context.Context, scope Scope, query, normalized string) (Hit, bool) {
	match, found, err := c.searcher.SearchCorpus(ctx, scope, query)
	if err != nil || !found {
		return Hit{}, false
	}
	if normalizeQuery(match.Question) == normalized {
		result, _ := c.storedResult(scope, normalized)
		return Hit{Kind: HitExactText, Question: match.Question, SQL: match.SQL, Result: result, Similarity: 1.0}, true
	}
	if match.Score >= c.cfg.SemanticThreshold {
		result, _ := c.storedResult(scope, normalizeQuery(match.Question))
		return Hit{Kind: HitSemantic, Question: match.Question, SQL: match.SQL, Result: result, Similarity: match.Score}, true
	}
	return Hit{}, false
}

// storedResult fetches the cached execution result for a question the
// semantic layer matched. No LRU promotion: the hit is attributed to
// the semantic path, not the exact one.
func (c *Cache) storedResult(scope Scope, normalized string) (json.RawMessage, bool) {
	key := cacheKey(scope, normalized)
	c.mu.Lock()
	defer c.mu.Unlock()
	element, ok := c.elements[key]
	if !ok {
		return nil, false
	}
	stored := element.Value.(*entry)
	if !c.now().Before(stored.expiresAt) {
		return nil, false
	}
	return stored.result, true
}

// Store records a query, its answer and an opaque execution result in
// the exact layer. A nil result means the SQL has not been executed
// yet. Empty queries or answers are ignored.
func (c *Cache) Store(scope Scope, query, sql string, result json.RawMessage) {
	normalized := normalizeQuery(query)
	if normalized == "" || strings.TrimSpace(sql) == "" {
		return
	}
	key := cacheKey(scope, normalized)
	c.mu.Lock()
	defer c.mu.Unlock()
	if element, ok := c.elements[key]; ok {
		stored := element.Value.(*entry)
		stored.question = query
		stored.sql = sql
		stored.result = result
		stored.expiresAt = c.now().Add(c.cfg.TTL)
		c.order.MoveToFront(element)
		return
	}
	c.sweepExpiredLocked()
	element := c.order.PushFront(&entry{
		key:       key,
		scope:     scope,
		question:  query,
		sql:       sql,
		result:    result,
		expiresAt: c.now().Add(c.cfg.TTL),
	})
	c.elements[key] = element
	for len(c.elements) > c.cfg.MaxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions.Add(1)
		telemetry.RecordQueryCacheEviction()
	}
}

// Invalidate drops every entry for a scope and returns how many were
// removed.
func (c *Cache) Invalidate(scope Scope) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		if element.Value.(*entry).scope == scope {
			c.removeLocked(element)
			removed++
		}
		element = next
	}
	return removed
}

// Clear empties the exact layer for every scope.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.elements = make(map[string]*list.Element)
}

// Stats reports current size and lifetime hit counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	size := len(c.elements)
	c.mu.Unlock()
	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := Stats{
		Size:      size,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

func (c *Cache) recordHit(kind HitKind) {
	c.hits.Add(1)
	telemetry.RecordQueryCacheHit(string(kind))
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	telemetry.RecordQueryCacheMiss()
}

func (c *Cache) removeLocked(element *list.Element) {
	stored := element.Value.(*entry)
	c.order.Remove(element)
	delete(c.elements, stored.key)
}

// sweepExpiredLocked trims stale entries from the cold end of the LRU
// list so they do not count against MaxSize.
func (c *Cache) sweepExpiredLocked() {
	now := c.now()
	for element := c.order.Back(); element != nil; {
		prev := element.Prev()
		if now.Before(element.Value.(*entry).expiresAt) {
			element = prev
			continue
		}
		c.removeLocked(element)
		element = prev
	}
}

// normalizeQuery canonicalizes a query for exact matching: code fences
// and surrounding quotes are stripped, case is folded and interior
// whitespace is collapsed.
func normalizeQuery(query string) string {
	trimmed := strings.TrimSpace(query)
	trimmed = strings.TrimPrefix(trimmed, "```sql")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.Trim(trimmed, "\"'`")
	trimmed = strings.ToLower(trimmed)
	return strings.Join(strings.Fields(trimmed), " ")
}

func cacheKey(scope Scope, normalized string) string {
	sum := sha256.Sum256([]byte(scope.Tenant + "|" + scope.Database + "|" + normalized))
	return hex.EncodeToString(sum[:])
}
