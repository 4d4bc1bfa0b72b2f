// File path: internal/corpus/types.go
package corpus

import (
	"errors"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ErrNotFound reports that a QAPair id could not be located in any store.
var ErrNotFound = errors.New("corpus: pair not found")

// QAPair is a stored (question, SQL) exemplar used as a retrieval corpus
// entry. ID is unique within its scope; the embedding vector is owned by the
// vector store once the pair is persisted.
type QAPair struct {
	ID              string    `json:"id"`
	Question        string    `json:"question"`
	SQL             string    `json:"sql"`
	Scope           string    `json:"scope"`
	DifficultyLevel int       `json:"difficulty_level"`
	QueryType       string    `json:"query_type"`
	SuccessRate     float64   `json:"success_rate"`
	Verified        bool      `json:"verified"`
	CreatedAt       time.Time `json:"created_at"`

	UsedTables   []string `json:"used_tables,omitempty"`
	UsedColumns  []string `json:"used_columns,omitempty"`
	Entities     []string `json:"entities,omitempty"`
	QueryPattern string   `json:"query_pattern,omitempty"`
}

// Patch describes a partial update to a stored QAPair. Nil fields are left
// unchanged.
type Patch struct {
	Question        *string  `json:"question,omitempty"`
	SQL             *string  `json:"sql,omitempty"`
	DifficultyLevel *int     `json:"difficulty_level,omitempty"`
	QueryType       *string  `json:"query_type,omitempty"`
	SuccessRate     *float64 `json:"success_rate,omitempty"`
	Verified        *bool    `json:"verified,omitempty"`
	UsedTables      []string `json:"used_tables,omitempty"`
	Entities        []string `json:"entities,omitempty"`
}

// Apply returns a copy of pair with the patch applied.
func (p Patch) Apply(pair QAPair) QAPair {
	if p.Question != nil {
		pair.Question = *p.Question
	}
	if p.SQL != nil {
		pair.SQL = *p.SQL
	}
	if p.DifficultyLevel != nil {
		pair.DifficultyLevel = *p.DifficultyLevel
	}
	if p.QueryType != nil {
		pair.QueryType = *p.QueryType
	}
	if p.SuccessRate != nil {
		pair.SuccessRate = *p.SuccessRate
	}
	if p.Verified != nil {
		pair.Verified = *p.Verified
	}
	if p.UsedTables != nil {
		pair.UsedTables = append([]string(nil), p.UsedTables...)
	}
	if p.Entities != nil {
		pair.Entities = append([]string(nil), p.Entities...)
	}
	return pair
}

// RetrievalResult carries a QAPair plus its independently computed similarity
// scores and the fused final score.
type RetrievalResult struct {
	Pair        QAPair  `json:"pair"`
	Semantic    float64 `json:"semantic"`
	Structural  float64 `json:"structural"`
	Pattern     float64 `json:"pattern"`
	Quality     float64 `json:"quality"`
	Final       float64 `json:"final"`
	Explanation string  `json:"explanation,omitempty"`
}

// SchemaTable describes one table known to the schema graph for a scope.
type SchemaTable struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns,omitempty"`
}

// SchemaContext carries the schema tables relevant to a query or ingest call.
type SchemaContext struct {
	Tables []SchemaTable `json:"tables,omitempty"`
}

// TableNames returns the names of all tables in the context.
func (s *SchemaContext) TableNames() []string {
	if s == nil || len(s.Tables) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		if trimmed := strings.TrimSpace(table.Name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

const maxCollectionNameLen = 64

// SanitizeScope maps an arbitrary scope identifier onto the character set
// allowed for collection names: ASCII letters, digits and underscores, with a
// leading letter or underscore.
func SanitizeScope(scope string) string {
	trimmed := strings.TrimSpace(scope)
	if trimmed == "" {
		return "default"
	}
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" {
		return "default"
	}
	first := name[0]
	if first != '_' && (first < 'a' || first > 'z') && (first < 'A' || first > 'Z') {
		name = "_" + name
	}
	if len(name) > maxCollectionNameLen {
		name = name[:maxCollectionNameLen]
	}
	return name
}

// CollectionName derives the deterministic vector collection name for a scope.
func CollectionName(scope string) string {
	return "qa_pairs_" + SanitizeScope(scope)
}

// ScopeID derives the numeric scope identifier stored alongside each vector
// record. Numeric scopes pass through; everything else is hashed.
func ScopeID(scope string) int64 {
	trimmed := strings.TrimSpace(scope)
	if trimmed == "" {
		return 0
	}
	if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return id
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(trimmed))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}
