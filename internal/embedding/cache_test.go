// File path: internal/embedding/cache_test.go
package embedding

import (
	"context"
	"testing"
	"time"
)

func TestCachedProviderMemoizes(t *testing.T) {
	inner := &fakeProvider{}
	cached := newCachedProvider(inner, "test-model", time.Minute, 16)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "show active users")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	second, err := cached.Embed(ctx, "show active users")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if got := inner.callCount(); got != 1 {
		t.Fatalf("expected a single backend call, got %d", got)
	}
	if len(first) != len(second) {
		t.Fatalf("cached vector differs: %d vs %d", len(first), len(second))
	}
}

func TestCachedProviderBatchFillsOnlyMisses(t *testing.T) {
	inner := &fakeProvider{}
	cached := newCachedProvider(inner, "test-model", time.Minute, 16)
	ctx := context.Background()

	if _, err := cached.Embed(ctx, "alpha"); err != nil {
		t.Fatalf("seed embed: %v", err)
	}
	vectors, err := cached.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatalf("batch embed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			t.Fatalf("vector %d is empty", i)
		}
	}
	// One call for the seed, one batch call for the two misses.
	if got := inner.callCount(); got != 2 {
		t.Fatalf("expected 2 backend calls, got %d", got)
	}
}

func TestMemoCacheExpiresEntries(t *testing.T) {
	cache := newMemoCache(16, 10*time.Millisecond)
	cache.Set("k", []float32{1, 2, 3})
	if _, ok := cache.Get("k"); !ok {
		t.Fatal("fresh entry should be present")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.Get("k"); ok {
		t.Fatal("expired entry should be dropped")
	}
	if cache.Len() != 0 {
		t.Fatalf("expired entry still counted, len=%d", cache.Len())
	}
}

func TestMemoCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := newMemoCache(2, time.Minute)
	cache.Set("a", []float32{1})
	cache.Set("b", []float32{2})
	// Touch "a" so "b" is the eviction candidate.
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("a should be present")
	}
	cache.Set("c", []float32{3})
	if _, ok := cache.Get("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("a should have survived")
	}
	if _, ok := cache.Get("c"); !ok {
		t.Fatal("c should be present")
	}
}

func TestCachedProviderPurge(t *testing.T) {
	inner := &fakeProvider{}
	cached := newCachedProvider(inner, "test-model", time.Minute, 16)
	ctx := context.Background()
	if _, err := cached.Embed(ctx, "alpha"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	cached.Purge()
	if _, err := cached.Embed(ctx, "alpha"); err != nil {
		t.Fatalf("embed after purge: %v", err)
	}
	if got := inner.callCount(); got != 2 {
		t.Fatalf("purge should force a backend call, got %d calls", got)
	}
}
