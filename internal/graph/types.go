// File path: internal/graph/types.go
package graph

import (
	"context"

	"github.com/sqlmind-ai/sqlmind/internal/corpus"
)

// Store defines the operations required of a property-graph backend holding
// QAPair, Table, Column, QueryPattern and Entity nodes.
type Store interface {
	// Available reports whether the backend is reachable and ready.
	Available() bool
	// EnsureSchema guarantees the required constraints and indexes exist.
	EnsureSchema(ctx context.Context) error
	// StoreWithContext upserts the QAPair node together with its table,
	// pattern and entity relationships. Tables absent from the schema graph
	// are skipped, not fatal.
	StoreWithContext(ctx context.Context, pair corpus.QAPair, schemaCtx *corpus.SchemaContext) error
	// StructuralSearch scores candidates by shared-table overlap:
	// overlap / max(len(tables), 1).
	StructuralSearch(ctx context.Context, tables []string, scope string, topK int) ([]corpus.RetrievalResult, error)
	// PatternSearch scores candidates by normalized historical usage of the
	// (queryType, difficulty) pattern, capped at 1.0.
	PatternSearch(ctx context.Context, queryType string, difficulty int, scope string, topK int) ([]corpus.RetrievalResult, error)
	// Delete removes the QAPair node and its relationships.
	Delete(ctx context.Context, id string) error
	// Close releases backend resources.
	Close() error
}

// PatternUsageNorm is the usage count at which a query pattern's popularity
// score saturates at 1.0.
const PatternUsageNorm = 10.0

// NormalizeUsage maps a raw pattern usage count onto [0, 1].
func NormalizeUsage(count int64) float64 {
	if count <= 0 {
		return 0
	}
	score := float64(count) / PatternUsageNorm
	if score > 1 {
		return 1
	}
	return score
}
