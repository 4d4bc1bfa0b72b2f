// File path: internal/retrieval/fakes_test.go
package retrieval

import (
	"context"
	"sync"

	"github.com/sqlmind-ai/sqlmind/internal/corpus"
	"github.com/sqlmind-ai/sqlmind/internal/vector"
)

// fakeEmbedder is a deterministic embedding.Provider for engine tests.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), 1, 0}
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Name() string    { return "fake" }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeVectors is an in-memory vector.Store with scriptable failures.
type fakeVectors struct {
	mu    sync.Mutex
	pairs map[string]map[string]corpus.QAPair
	vecs  map[string]map[string][]float32
	hits  map[string][]vector.SearchHit

	searchErr error
	insertErr error

	lastUpdateVec []float32
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{
		pairs: make(map[string]map[string]corpus.QAPair),
		vecs:  make(map[string]map[string][]float32),
		hits:  make(map[string][]vector.SearchHit),
	}
}

func (f *fakeVectors) Available() bool { return true }

func (f *fakeVectors) EnsureCollection(ctx context.Context, scope string, dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureLocked(scope)
	return nil
}

func (f *fakeVectors) ensureLocked(scope string) {
	if _, ok := f.pairs[scope]; !ok {
		f.pairs[scope] = make(map[string]corpus.QAPair)
		f.vecs[scope] = make(map[string][]float32)
	}
}

func (f *fakeVectors) HasCollection(ctx context.Context, scope string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pairs[scope]
	return ok, nil
}

func (f *fakeVectors) Insert(ctx context.Context, scope string, pair corpus.QAPair, vec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.ensureLocked(scope)
	f.pairs[scope][pair.ID] = pair
	f.vecs[scope][pair.ID] = vec
	return nil
}

func (f *fakeVectors) Search(ctx context.Context, scope string, vec []float32, topK int, filter string) ([]vector.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	hits := f.hits[scope]
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return append([]vector.SearchHit(nil), hits...), nil
}

func (f *fakeVectors) Get(ctx context.Context, scope, id string) (corpus.QAPair, []float32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pair, ok := f.pairs[scope][id]
	if !ok {
		return corpus.QAPair{}, nil, false, nil
	}
	return pair, f.vecs[scope][id], true, nil
}

func (f *fakeVectors) List(ctx context.Context, scope string, limit int) ([]corpus.QAPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pairs := make([]corpus.QAPair, 0, len(f.pairs[scope]))
	for _, pair := range f.pairs[scope] {
		pairs = append(pairs, pair)
		if len(pairs) == limit {
			break
		}
	}
	return pairs, nil
}

func (f *fakeVectors) Update(ctx context.Context, scope, id string, patch corpus.Patch, newVec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pair, ok := f.pairs[scope][id]
	if !ok {
		return corpus.ErrNotFound
	}
	f.lastUpdateVec = newVec
	f.pairs[scope][id] = patch.Apply(pair)
	if newVec != nil {
		f.vecs[scope][id] = newVec
	}
	return nil
}

func (f *fakeVectors) Delete(ctx context.Context, scope, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pairs[scope], id)
	delete(f.vecs[scope], id)
	return nil
}

func (f *fakeVectors) Stats(ctx context.Context, scope string) (vector.CollectionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return vector.CollectionStats{
		Collection: corpus.CollectionName(scope),
		Count:      int64(len(f.pairs[scope])),
	}, nil
}

func (f *fakeVectors) Close() error { return nil }

var _ vector.Store = (*fakeVectors)(nil)

// fakeGraph is a scriptable graph.Store.
type fakeGraph struct {
	mu         sync.Mutex
	stored     []corpus.QAPair
	structural []corpus.RetrievalResult
	pattern    []corpus.RetrievalResult

	schemaErr error
	storeErr  error
	searchErr error
	deleted   []string
	deleteErr error
}

func (f *fakeGraph) Available() bool { return true }

func (f *fakeGraph) EnsureSchema(ctx context.Context) error { return f.schemaErr }

func (f *fakeGraph) StoreWithContext(ctx context.Context, pair corpus.QAPair, schemaCtx *corpus.SchemaContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = append(f.stored, pair)
	return nil
}

func (f *fakeGraph) StructuralSearch(ctx context.Context, tables []string, scope string, topK int) ([]corpus.RetrievalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return append([]corpus.RetrievalResult(nil), f.structural...), nil
}

func (f *fakeGraph) PatternSearch(ctx context.Context, queryType string, difficulty int, scope string, topK int) ([]corpus.RetrievalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return append([]corpus.RetrievalResult(nil), f.pattern...), nil
}

func (f *fakeGraph) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeGraph) Close() error { return nil }

func (f *fakeGraph) storedPairs() []corpus.QAPair {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]corpus.QAPair(nil), f.stored...)
}
