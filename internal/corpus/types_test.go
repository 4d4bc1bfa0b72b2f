// File path: internal/corpus/types_test.go
package corpus

import (
	"strings"
	"testing"
)

func TestSanitizeScope(t *testing.T) {
	cases := []struct {
		scope string
		want  string
	}{
		{"", "default"},
		{"   ", "default"},
		{"tenant_db", "tenant_db"},
		{"Tenant-1.prod", "Tenant_1_prod"},
		{"42analytics", "_42analytics"},
		{"数据库", "___"},
	}
	for _, tc := range cases {
		if got := SanitizeScope(tc.scope); got != tc.want {
			t.Errorf("SanitizeScope(%q) = %q, want %q", tc.scope, got, tc.want)
		}
	}
	long := strings.Repeat("a", 100)
	if got := SanitizeScope(long); len(got) != 64 {
		t.Errorf("SanitizeScope(long) length = %d, want 64", len(got))
	}
}

func TestCollectionName(t *testing.T) {
	if got := CollectionName("tenant1"); got != "qa_pairs_tenant1" {
		t.Fatalf("CollectionName = %q", got)
	}
	if got := CollectionName(""); got != "qa_pairs_default" {
		t.Fatalf("CollectionName(empty) = %q", got)
	}
}

func TestScopeID(t *testing.T) {
	if got := ScopeID("12345"); got != 12345 {
		t.Fatalf("numeric scope should pass through, got %d", got)
	}
	if got := ScopeID(""); got != 0 {
		t.Fatalf("empty scope should map to 0, got %d", got)
	}
	hashed := ScopeID("tenant_db")
	if hashed <= 0 {
		t.Fatalf("hashed scope id must be positive, got %d", hashed)
	}
	if again := ScopeID("tenant_db"); again != hashed {
		t.Fatalf("scope id not stable: %d vs %d", hashed, again)
	}
	if other := ScopeID("tenant_db2"); other == hashed {
		t.Fatalf("distinct scopes collided on %d", hashed)
	}
}

func TestPatchApply(t *testing.T) {
	base := QAPair{
		ID:              "p1",
		Question:        "original question",
		SQL:             "SELECT 1",
		DifficultyLevel: 2,
		SuccessRate:     0.5,
		UsedTables:      []string{"users"},
	}
	question := "updated question"
	rate := 0.9
	verified := true
	patch := Patch{
		Question:    &question,
		SuccessRate: &rate,
		Verified:    &verified,
		UsedTables:  []string{"orders", "items"},
	}
	got := patch.Apply(base)
	if got.Question != question || got.SuccessRate != rate || !got.Verified {
		t.Fatalf("patched fields not applied: %+v", got)
	}
	if got.SQL != base.SQL || got.DifficultyLevel != base.DifficultyLevel {
		t.Fatalf("untouched fields changed: %+v", got)
	}
	if len(got.UsedTables) != 2 || got.UsedTables[0] != "orders" {
		t.Fatalf("used tables not replaced: %v", got.UsedTables)
	}
	// Base must be untouched.
	if base.Question != "original question" || len(base.UsedTables) != 1 {
		t.Fatalf("Apply mutated its input: %+v", base)
	}
}
