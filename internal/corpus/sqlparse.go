// File path: internal/corpus/sqlparse.go
package corpus

import (
	"regexp"
	"strings"
)

// tableRefPattern matches the identifier following a FROM or JOIN keyword.
// Quoted and schema-qualified identifiers are accepted; derived tables
// ("FROM (SELECT ...") do not match.
var tableRefPattern = regexp.MustCompile(`(?is)\b(?:from|join)\s+[` + "`" + `"\[]?([a-zA-Z_][a-zA-Z0-9_$.]*)`)

// ExtractTables pulls table names out of FROM/JOIN clauses. The extraction is
// best-effort: output is a hint, a possibly-empty set, never an error.
func ExtractTables(sql string) []string {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	matches := tableRefPattern.FindAllStringSubmatch(sql, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	tables := make([]string, 0, len(matches))
	for _, match := range matches {
		name := strings.ToLower(strings.TrimSpace(match[1]))
		// Keep the bare table name when schema-qualified.
		if idx := strings.LastIndex(name, "."); idx >= 0 && idx < len(name)-1 {
			name = name[idx+1:]
		}
		if name == "" || name == "select" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}
	return tables
}

// Keyword vocabularies for query-shape classification. The corpus serves
// bilingual (English/Chinese) questions, so both vocabularies are checked.
var (
	aggregateKeywords = []string{
		"sum", "count", "avg", "average", "total", "aggregate",
		"最大", "最小", "平均", "总", "合计", "统计", "多少",
	}
	joinKeywords = []string{
		"join", "combine with",
		"关联", "连接", "联表",
	}
	groupKeywords = []string{
		"group", "per ", "by each", "breakdown",
		"分组", "每个", "各",
	}
	orderKeywords = []string{
		"order", "sort", "rank", "top ", "highest", "lowest",
		"排序", "排名", "前", "最高", "最低",
	}
)

// Query type tags produced by ClassifyQueryType.
const (
	QueryTypeAggregate = "AGGREGATE"
	QueryTypeJoin      = "JOIN"
	QueryTypeGroup     = "GROUP"
	QueryTypeOrder     = "ORDER"
	QueryTypeSelect    = "SELECT"
)

// ClassifyQueryType tags a question with its dominant query shape using
// substring matching against fixed vocabularies.
func ClassifyQueryType(question string) string {
	lowered := strings.ToLower(question)
	switch {
	case containsAny(lowered, aggregateKeywords):
		return QueryTypeAggregate
	case containsAny(lowered, joinKeywords):
		return QueryTypeJoin
	case containsAny(lowered, groupKeywords):
		return QueryTypeGroup
	case containsAny(lowered, orderKeywords):
		return QueryTypeOrder
	default:
		return QueryTypeSelect
	}
}

// EstimateDifficulty scores a question from 1 (single-table lookup) to 5,
// incrementing once per detected structural feature.
func EstimateDifficulty(question string) int {
	lowered := strings.ToLower(question)
	difficulty := 1
	if containsAny(lowered, joinKeywords) {
		difficulty++
	}
	if containsAny(lowered, groupKeywords) {
		difficulty++
	}
	if containsAny(lowered, []string{"having", "subquery", "(select", "子查询", "嵌套"}) {
		difficulty++
	}
	if containsAny(lowered, []string{"union", "合并"}) {
		difficulty++
	}
	if difficulty > 5 {
		difficulty = 5
	}
	return difficulty
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
