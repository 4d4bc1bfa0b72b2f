// File path: internal/retrieval/fusion_test.go
package retrieval

import (
	"math"
	"strings"
	"testing"

	"github.com/sqlmind-ai/sqlmind/internal/corpus"
)

func newTestFuser(t *testing.T) *Fuser {
	t.Helper()
	fuser, err := NewFuser(DefaultFusionConfig())
	if err != nil {
		t.Fatalf("new fuser: %v", err)
	}
	return fuser
}

func result(id string, semantic, structural, pattern float64) corpus.RetrievalResult {
	return corpus.RetrievalResult{
		Pair:       corpus.QAPair{ID: id, Question: "question " + id},
		Semantic:   semantic,
		Structural: structural,
		Pattern:    pattern,
	}
}

func TestNewFuserValidatesConfig(t *testing.T) {
	bad := DefaultFusionConfig()
	bad.SemanticWeight = 0.9
	if _, err := NewFuser(bad); err == nil {
		t.Fatal("expected error for weights not summing to 1")
	}
	bad = DefaultFusionConfig()
	bad.MidSemantic = 0.95
	if _, err := NewFuser(bad); err == nil {
		t.Fatal("expected error for unordered brackets")
	}
}

func TestFuseMergesDuplicatesByMax(t *testing.T) {
	fuser := newTestFuser(t)
	semantic := []corpus.RetrievalResult{result("p1", 0.8, 0, 0)}
	structural := []corpus.RetrievalResult{result("p1", 0, 0.6, 0)}
	pattern := []corpus.RetrievalResult{result("p1", 0, 0, 0.4)}

	fused := fuser.Fuse(semantic, structural, pattern)
	if len(fused) != 1 {
		t.Fatalf("duplicates not merged, got %d results", len(fused))
	}
	got := fused[0]
	if got.Semantic != 0.8 || got.Structural != 0.6 || got.Pattern != 0.4 {
		t.Fatalf("sub-scores not max-merged: %+v", got)
	}
	// Semantic 0.8 falls in the mid bracket: 0.70/0.15/0.10/0.05.
	want := 0.70*0.8 + 0.15*0.6 + 0.10*0.4
	if math.Abs(got.Final-want) > 1e-9 {
		t.Fatalf("final = %f, want %f", got.Final, want)
	}
}

func TestFuseMergeNeverLowersAScore(t *testing.T) {
	fuser := newTestFuser(t)
	// The same pair appears twice in different streams with different
	// semantic scores; the higher one must win.
	a := result("p1", 0.9, 0, 0)
	b := result("p1", 0.3, 0.5, 0)
	fused := fuser.Fuse([]corpus.RetrievalResult{a}, []corpus.RetrievalResult{b}, nil)
	if len(fused) != 1 {
		t.Fatalf("expected 1 result, got %d", len(fused))
	}
	if fused[0].Semantic != 0.9 || fused[0].Structural != 0.5 {
		t.Fatalf("merge lowered a score: %+v", fused[0])
	}
}

func TestFuseBracketWeights(t *testing.T) {
	fuser := newTestFuser(t)
	cases := []struct {
		semantic float64
		weight   float64
	}{
		{0.95, 0.80},
		{0.75, 0.70},
		{0.55, 0.60},
		{0.30, 0.40},
	}
	for _, tc := range cases {
		fused := fuser.Fuse([]corpus.RetrievalResult{result("p", tc.semantic, 0, 0)}, nil, nil)
		want := tc.weight * tc.semantic
		if math.Abs(fused[0].Final-want) > 1e-9 {
			t.Errorf("semantic %.2f: final = %f, want %f", tc.semantic, fused[0].Final, want)
		}
	}
}

func TestFuseStrongSemanticBeatsStructuralOnly(t *testing.T) {
	fuser := newTestFuser(t)
	semantic := []corpus.RetrievalResult{result("near", 0.93, 0, 0)}
	structural := []corpus.RetrievalResult{result("tables", 0, 0.8, 0)}
	fused := fuser.Fuse(semantic, structural, nil)
	if len(fused) != 2 {
		t.Fatalf("expected 2 results, got %d", len(fused))
	}
	if fused[0].Pair.ID != "near" {
		t.Fatalf("near-duplicate should rank first, got %s", fused[0].Pair.ID)
	}
	if fused[0].Final <= fused[1].Final {
		t.Fatalf("ordering inconsistent: %f vs %f", fused[0].Final, fused[1].Final)
	}
}

func TestQualityScore(t *testing.T) {
	cases := []struct {
		pair corpus.QAPair
		want float64
	}{
		{corpus.QAPair{}, 0},
		{corpus.QAPair{SuccessRate: 1.0}, 0.5},
		{corpus.QAPair{Verified: true}, 0.3},
		{corpus.QAPair{DifficultyLevel: 2}, 0.2},
		{corpus.QAPair{DifficultyLevel: 3}, 0.2},
		{corpus.QAPair{DifficultyLevel: 4}, 0},
		{corpus.QAPair{SuccessRate: 1.0, Verified: true, DifficultyLevel: 2}, 1.0},
	}
	for _, tc := range cases {
		if got := qualityScore(tc.pair); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("qualityScore(%+v) = %f, want %f", tc.pair, got, tc.want)
		}
	}
}

func TestFuseScoresStayInBounds(t *testing.T) {
	fuser := newTestFuser(t)
	pair := corpus.QAPair{ID: "p", SuccessRate: 1.0, Verified: true, DifficultyLevel: 2}
	fused := fuser.Fuse([]corpus.RetrievalResult{{Pair: pair, Semantic: 1.0}},
		[]corpus.RetrievalResult{{Pair: pair, Structural: 1.0}},
		[]corpus.RetrievalResult{{Pair: pair, Pattern: 1.0}})
	if fused[0].Final < 0 || fused[0].Final > 1 {
		t.Fatalf("final out of bounds: %f", fused[0].Final)
	}
}

func TestFuseTieBreaking(t *testing.T) {
	fuser := newTestFuser(t)
	// Identical scores: ties break by id ascending.
	fused := fuser.Fuse([]corpus.RetrievalResult{
		result("b", 0.6, 0, 0),
		result("a", 0.6, 0, 0),
	}, nil, nil)
	if fused[0].Pair.ID != "a" || fused[1].Pair.ID != "b" {
		t.Fatalf("tie not broken by id: %s, %s", fused[0].Pair.ID, fused[1].Pair.ID)
	}
}

func TestFuseExplanationNamesSignals(t *testing.T) {
	fuser := newTestFuser(t)
	fused := fuser.Fuse([]corpus.RetrievalResult{result("p", 0.9, 0, 0)},
		[]corpus.RetrievalResult{result("p", 0, 0.5, 0)}, nil)
	explanation := fused[0].Explanation
	if !strings.Contains(explanation, "semantic") || !strings.Contains(explanation, "shared tables") {
		t.Fatalf("explanation missing signals: %q", explanation)
	}
}

func TestFuseSkipsEmptyIDs(t *testing.T) {
	fuser := newTestFuser(t)
	fused := fuser.Fuse([]corpus.RetrievalResult{{Semantic: 0.9}}, nil, nil)
	if len(fused) != 0 {
		t.Fatalf("result without id kept: %+v", fused)
	}
}
