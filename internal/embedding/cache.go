// File path: internal/embedding/cache.go
package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sqlmind-ai/sqlmind/internal/common/telemetry"
)

type memoEntry struct {
	key       string
	vector    []float32
	expiresAt time.Time
}

// memoCache is an LRU with per-entry TTL. Expired entries are dropped lazily
// on read; capacity overflow evicts the least recently used entry.
type memoCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	ll       *list.List
}

func newMemoCache(capacity int, ttl time.Duration) *memoCache {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &memoCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		ll:       list.New(),
	}
}

func (c *memoCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(memoEntry)
	if time.Now().After(entry.expiresAt) {
		c.ll.Remove(elem)
		delete(c.items, key)
		return nil, false
	}
	c.ll.MoveToFront(elem)
	return entry.vector, true
}

// Set overwrites any existing entry for the key. Since identical inputs map
// to identical vectors, last-writer-wins is safe under concurrent misses.
func (c *memoCache) Set(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := memoEntry{key: key, vector: vector, expiresAt: time.Now().Add(c.ttl)}
	if elem, ok := c.items[key]; ok {
		elem.Value = entry
		c.ll.MoveToFront(elem)
		return
	}
	elem := c.ll.PushFront(entry)
	c.items[key] = elem
	if c.ll.Len() > c.capacity {
		tail := c.ll.Back()
		if tail != nil {
			c.ll.Remove(tail)
			delete(c.items, tail.Value.(memoEntry).key)
		}
	}
}

func (c *memoCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.capacity)
	c.ll = list.New()
}

func (c *memoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// cachedProvider memoizes embeddings by (provider, model, hash(text)).
type cachedProvider struct {
	inner Provider
	model string
	cache *memoCache
}

func newCachedProvider(inner Provider, model string, ttl time.Duration, capacity int) *cachedProvider {
	return &cachedProvider{inner: inner, model: model, cache: newMemoCache(capacity, ttl)}
}

func (c *cachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.memoKey(text)
	if vec, ok := c.cache.Get(key); ok {
		telemetry.RecordEmbeddingCache(true)
		return vec, nil
	}
	telemetry.RecordEmbeddingCache(false)
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec)
	return vec, nil
}

func (c *cachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, len(texts))
	missing := make([]string, 0, len(texts))
	missingIdx := make([]int, 0, len(texts))
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.memoKey(text)); ok {
			telemetry.RecordEmbeddingCache(true)
			vectors[i] = vec
			continue
		}
		telemetry.RecordEmbeddingCache(false)
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}
	fresh, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for i, vec := range fresh {
		vectors[missingIdx[i]] = vec
		c.cache.Set(c.memoKey(missing[i]), vec)
	}
	return vectors, nil
}

func (c *cachedProvider) Dimensions() int { return c.inner.Dimensions() }
func (c *cachedProvider) Name() string    { return c.inner.Name() }

// Purge drops all memoized vectors.
func (c *cachedProvider) Purge() { c.cache.Purge() }

func (c *cachedProvider) memoKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.inner.Name() + "|" + c.model + "|" + hex.EncodeToString(sum[:])
}
