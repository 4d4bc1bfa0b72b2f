// File path: internal/common/telemetry/telemetry.go
package telemetry

import (
	"context"
	"expvar"
	"sync"
	"time"

	"github.com/sqlmind-ai/sqlmind/internal/common"
)

type spanKey struct{}

type span struct {
	name  string
	start time.Time
}

var (
	initOnce sync.Once

	vectorSearchTotal     *expvar.Int
	vectorSearchLatencyMS *expvar.Int

	graphQueryTotal     *expvar.Map
	graphQueryLatencyMS *expvar.Map

	embeddingCacheHits   *expvar.Int
	embeddingCacheMisses *expvar.Int

	retrievalTotal     *expvar.Int
	retrievalLatencyMS *expvar.Int

	queryCacheHits      *expvar.Map
	queryCacheMisses    *expvar.Int
	queryCacheEvictions *expvar.Int
)

func ensureInit() {
	initOnce.Do(func() {
		vectorSearchTotal = expvar.NewInt("sqlmind_vector_search_total")
		vectorSearchLatencyMS = expvar.NewInt("sqlmind_vector_search_latency_ms")

		graphQueryTotal = expvar.NewMap("sqlmind_graph_query_total")
		graphQueryLatencyMS = expvar.NewMap("sqlmind_graph_query_latency_ms")

		embeddingCacheHits = expvar.NewInt("sqlmind_embedding_cache_hits")
		embeddingCacheMisses = expvar.NewInt("sqlmind_embedding_cache_misses")

		retrievalTotal = expvar.NewInt("sqlmind_retrieval_total")
		retrievalLatencyMS = expvar.NewInt("sqlmind_retrieval_latency_ms")

		queryCacheHits = expvar.NewMap("sqlmind_query_cache_hits")
		queryCacheMisses = expvar.NewInt("sqlmind_query_cache_misses")
		queryCacheEvictions = expvar.NewInt("sqlmind_query_cache_evictions")
	})
}

// StartSpan records a lightweight debug span. The returned func finishes the
// span and logs the duration alongside any supplied attributes.
func StartSpan(ctx context.Context, name string) (context.Context, func(attrs ...interface{})) {
	ensureInit()
	sp := &span{name: name, start: time.Now()}
	ctx = context.WithValue(ctx, spanKey{}, sp)
	logger := common.Logger()
	logger.Debug("trace: start", "span", name)
	return ctx, func(attrs ...interface{}) {
		duration := time.Since(sp.start)
		logger.Debug("trace: end", append([]interface{}{"span", name, "dur", duration}, attrs...)...)
	}
}

func RecordVectorSearch(duration time.Duration) {
	ensureInit()
	vectorSearchTotal.Add(1)
	vectorSearchLatencyMS.Add(duration.Milliseconds())
}

func RecordGraphQuery(backend string, duration time.Duration) {
	ensureInit()
	graphQueryTotal.Add(backend, 1)
	graphQueryLatencyMS.Add(backend, duration.Milliseconds())
}

func RecordEmbeddingCache(hit bool) {
	ensureInit()
	if hit {
		embeddingCacheHits.Add(1)
		return
	}
	embeddingCacheMisses.Add(1)
}

func RecordRetrieval(duration time.Duration) {
	ensureInit()
	retrievalTotal.Add(1)
	retrievalLatencyMS.Add(duration.Milliseconds())
}

func RecordQueryCacheHit(kind string) {
	ensureInit()
	queryCacheHits.Add(kind, 1)
}

func RecordQueryCacheMiss() {
	ensureInit()
	queryCacheMisses.Add(1)
}

func RecordQueryCacheEviction() {
	ensureInit()
	queryCacheEvictions.Add(1)
}
