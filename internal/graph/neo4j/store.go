// File path: internal/graph/neo4j/store.go
package neo4j

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sqlmind-ai/sqlmind/internal/corpus"
	"github.com/sqlmind-ai/sqlmind/internal/graph"
)

// Store implements graph.Store on top of the Cypher HTTP client.
type Store struct {
	client *Client
}

// NewStore wraps a connected client.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

func (s *Store) Available() bool {
	return s != nil && s.client.Available()
}

// EnsureSchema creates the uniqueness constraint and lookup indexes used by
// the retrieval queries.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("neo4j store not configured")
	}
	statements := []string{
		`CREATE CONSTRAINT qapair_id IF NOT EXISTS FOR (q:QAPair) REQUIRE q.id IS UNIQUE`,
		`CREATE INDEX qapair_scope IF NOT EXISTS FOR (q:QAPair) ON (q.scope)`,
		`CREATE INDEX table_scope_name IF NOT EXISTS FOR (t:Table) ON (t.scope, t.name)`,
		`CREATE INDEX pattern_scope IF NOT EXISTS FOR (p:QueryPattern) ON (p.scope, p.query_type, p.difficulty)`,
		`CREATE INDEX entity_scope_name IF NOT EXISTS FOR (e:Entity) ON (e.scope, e.name)`,
	}
	for _, stmt := range statements {
		if err := s.client.Exec(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// StoreWithContext upserts the QAPair node and its relationships. Edges to
// Table nodes are MATCH-only: tables missing from the schema graph are
// skipped rather than invented. When the pair carries no table hints but has
// SQL text, tables are heuristically extracted first.
func (s *Store) StoreWithContext(ctx context.Context, pair corpus.QAPair, schemaCtx *corpus.SchemaContext) error {
	if strings.TrimSpace(pair.ID) == "" {
		return errors.New("neo4j: pair id required")
	}
	createdAt := pair.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	params := map[string]interface{}{
		"id":           pair.ID,
		"question":     pair.Question,
		"sql":          pair.SQL,
		"scope":        pair.Scope,
		"difficulty":   pair.DifficultyLevel,
		"query_type":   pair.QueryType,
		"success_rate": pair.SuccessRate,
		"verified":     pair.Verified,
		"created_at":   createdAt.Format(time.RFC3339),
	}
	upsert := `MERGE (q:QAPair {id: $id})
SET q.question = $question,
    q.sql = $sql,
    q.scope = $scope,
    q.difficulty_level = $difficulty,
    q.query_type = $query_type,
    q.success_rate = $success_rate,
    q.verified = $verified,
    q.created_at = $created_at`
	if err := s.client.Exec(ctx, upsert, params); err != nil {
		return fmt.Errorf("upsert qa pair: %w", err)
	}

	if schemaCtx != nil {
		if err := s.mergeSchemaTables(ctx, pair.Scope, schemaCtx); err != nil {
			return err
		}
	}

	tables := pair.UsedTables
	if len(tables) == 0 && strings.TrimSpace(pair.SQL) != "" {
		tables = corpus.ExtractTables(pair.SQL)
	}
	if len(tables) > 0 {
		link := `MATCH (q:QAPair {id: $id})
UNWIND $tables AS table_name
MATCH (t:Table {name: table_name, scope: $scope})
MERGE (q)-[:USES_TABLES]->(t)`
		if err := s.client.Exec(ctx, link, map[string]interface{}{
			"id": pair.ID, "tables": lowercaseAll(tables), "scope": pair.Scope,
		}); err != nil {
			return fmt.Errorf("link tables: %w", err)
		}
	}

	queryType := pair.QueryPattern
	if queryType == "" {
		queryType = pair.QueryType
	}
	if queryType != "" {
		// usage_count tracks distinct pairs following the pattern, so it
		// only moves when the FOLLOWS_PATTERN edge is first created.
		pattern := `MATCH (q:QAPair {id: $id})
MERGE (p:QueryPattern {query_type: $query_type, difficulty: $difficulty, scope: $scope})
ON CREATE SET p.usage_count = 0
MERGE (q)-[r:FOLLOWS_PATTERN]->(p)
ON CREATE SET p.usage_count = p.usage_count + 1`
		if err := s.client.Exec(ctx, pattern, map[string]interface{}{
			"id": pair.ID, "query_type": queryType,
			"difficulty": pair.DifficultyLevel, "scope": pair.Scope,
		}); err != nil {
			return fmt.Errorf("merge pattern: %w", err)
		}
	}

	if len(pair.Entities) > 0 {
		entities := `MATCH (q:QAPair {id: $id})
UNWIND $entities AS entity_name
MERGE (e:Entity {name: entity_name, scope: $scope})
MERGE (q)-[:MENTIONS_ENTITY]->(e)`
		if err := s.client.Exec(ctx, entities, map[string]interface{}{
			"id": pair.ID, "entities": pair.Entities, "scope": pair.Scope,
		}); err != nil {
			return fmt.Errorf("merge entities: %w", err)
		}
	}
	return nil
}

func (s *Store) mergeSchemaTables(ctx context.Context, scope string, schemaCtx *corpus.SchemaContext) error {
	for _, table := range schemaCtx.Tables {
		name := strings.ToLower(strings.TrimSpace(table.Name))
		if name == "" {
			continue
		}
		merge := `MERGE (t:Table {name: $name, scope: $scope})`
		if err := s.client.Exec(ctx, merge, map[string]interface{}{"name": name, "scope": scope}); err != nil {
			return fmt.Errorf("merge table %s: %w", name, err)
		}
		if len(table.Columns) == 0 {
			continue
		}
		columns := `MATCH (t:Table {name: $name, scope: $scope})
UNWIND $columns AS column_name
MERGE (c:Column {name: column_name, table: $name, scope: $scope})
MERGE (t)-[:HAS_COLUMN]->(c)`
		if err := s.client.Exec(ctx, columns, map[string]interface{}{
			"name": name, "scope": scope, "columns": lowercaseAll(table.Columns),
		}); err != nil {
			return fmt.Errorf("merge columns for %s: %w", name, err)
		}
	}
	return nil
}

// StructuralSearch returns candidates ranked by shared-table overlap.
func (s *Store) StructuralSearch(ctx context.Context, tables []string, scope string, topK int) ([]corpus.RetrievalResult, error) {
	if len(tables) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	query := `MATCH (q:QAPair {scope: $scope})-[:USES_TABLES]->(t:Table)
WHERE t.name IN $tables
WITH q, count(DISTINCT t) AS overlap
RETURN q.id, q.question, q.sql, q.difficulty_level, q.query_type, q.success_rate, q.verified, overlap
ORDER BY overlap DESC
LIMIT $limit`
	rows, err := s.client.Query(ctx, query, map[string]interface{}{
		"scope": scope, "tables": lowercaseAll(tables), "limit": topK,
	})
	if err != nil {
		return nil, err
	}
	denom := float64(len(tables))
	if denom < 1 {
		denom = 1
	}
	results := make([]corpus.RetrievalResult, 0, len(rows.Values))
	for _, row := range rows.Values {
		if len(row) < 8 {
			continue
		}
		pair := pairFromRow(row, scope)
		overlap := rawFloat(row[7])
		results = append(results, corpus.RetrievalResult{
			Pair:       pair,
			Structural: overlap / denom,
		})
	}
	return results, nil
}

// PatternSearch returns candidates whose stored pattern matches the query
// shape, scored by normalized pattern usage.
func (s *Store) PatternSearch(ctx context.Context, queryType string, difficulty int, scope string, topK int) ([]corpus.RetrievalResult, error) {
	if strings.TrimSpace(queryType) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	query := `MATCH (q:QAPair {scope: $scope})-[:FOLLOWS_PATTERN]->(p:QueryPattern {query_type: $query_type, difficulty: $difficulty})
RETURN q.id, q.question, q.sql, q.difficulty_level, q.query_type, q.success_rate, q.verified, p.usage_count
ORDER BY q.success_rate DESC
LIMIT $limit`
	rows, err := s.client.Query(ctx, query, map[string]interface{}{
		"scope": scope, "query_type": queryType, "difficulty": difficulty, "limit": topK,
	})
	if err != nil {
		return nil, err
	}
	results := make([]corpus.RetrievalResult, 0, len(rows.Values))
	for _, row := range rows.Values {
		if len(row) < 8 {
			continue
		}
		pair := pairFromRow(row, scope)
		usage := int64(rawFloat(row[7]))
		results = append(results, corpus.RetrievalResult{
			Pair:    pair,
			Pattern: graph.NormalizeUsage(usage),
		})
	}
	return results, nil
}

// Delete detaches and removes the QAPair node. Missing ids are reported via
// corpus.ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	rows, err := s.client.Query(ctx,
		`MATCH (q:QAPair {id: $id}) DETACH DELETE q RETURN count(q)`,
		map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	if len(rows.Values) > 0 && len(rows.Values[0]) > 0 && rawFloat(rows.Values[0][0]) == 0 {
		return corpus.ErrNotFound
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}

var _ graph.Store = (*Store)(nil)

func pairFromRow(row []json.RawMessage, scope string) corpus.QAPair {
	pair := corpus.QAPair{Scope: scope}
	pair.ID = rawString(row[0])
	pair.Question = rawString(row[1])
	pair.SQL = rawString(row[2])
	pair.DifficultyLevel = int(rawFloat(row[3]))
	pair.QueryType = rawString(row[4])
	pair.SuccessRate = rawFloat(row[5])
	pair.Verified = rawBool(row[6])
	return pair
}

func rawString(raw json.RawMessage) string {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

func rawFloat(raw json.RawMessage) float64 {
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0
	}
	return value
}

func rawBool(raw json.RawMessage) bool {
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil {
		return false
	}
	return value
}

func lowercaseAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
