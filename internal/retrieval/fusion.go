// File path: internal/retrieval/fusion.go
package retrieval

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sqlmind-ai/sqlmind/internal/corpus"
)

// FusionConfig carries the base weight tuple and the semantic-strength
// bracket boundaries. The base weights apply in the mid bracket; the other
// brackets use fixed tuples chosen so a strong semantic signal is not diluted
// and a weak one cannot veto strong structural evidence.
type FusionConfig struct {
	SemanticWeight   float64 `json:"semantic_weight"`
	StructuralWeight float64 `json:"structural_weight"`
	PatternWeight    float64 `json:"pattern_weight"`
	QualityWeight    float64 `json:"quality_weight"`

	HighSemantic float64 `json:"high_semantic"`
	MidSemantic  float64 `json:"mid_semantic"`
	LowSemantic  float64 `json:"low_semantic"`
}

// DefaultFusionConfig returns the tuned defaults: 0.60/0.20/0.10/0.10 base
// weights with brackets at 0.9, 0.7 and 0.5.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		SemanticWeight:   0.60,
		StructuralWeight: 0.20,
		PatternWeight:    0.10,
		QualityWeight:    0.10,
		HighSemantic:     0.9,
		MidSemantic:      0.7,
		LowSemantic:      0.5,
	}
}

const weightSumTolerance = 1e-6

// Fuser merges semantic, structural and pattern result streams into a single
// ranked list.
type Fuser struct {
	cfg FusionConfig
}

// NewFuser validates the configuration; the base weight tuple must sum to 1.
func NewFuser(cfg FusionConfig) (*Fuser, error) {
	sum := cfg.SemanticWeight + cfg.StructuralWeight + cfg.PatternWeight + cfg.QualityWeight
	if math.Abs(sum-1.0) > weightSumTolerance {
		return nil, fmt.Errorf("retrieval: fusion weights must sum to 1.0, got %.4f", sum)
	}
	if !(cfg.LowSemantic < cfg.MidSemantic && cfg.MidSemantic < cfg.HighSemantic) {
		return nil, fmt.Errorf("retrieval: fusion brackets must be ordered, got %.2f/%.2f/%.2f",
			cfg.LowSemantic, cfg.MidSemantic, cfg.HighSemantic)
	}
	return &Fuser{cfg: cfg}, nil
}

// Fuse merges the three streams by QAPair id: duplicate ids keep the maximum
// of each sub-score across streams, so a pair surfaced by two methods is
// never penalized relative to a single-method find. Output is sorted by
// fused score descending, ties broken by semantic score then id.
func (f *Fuser) Fuse(semantic, structural, pattern []corpus.RetrievalResult) []corpus.RetrievalResult {
	merged := make(map[string]*corpus.RetrievalResult)
	order := make([]string, 0, len(semantic)+len(structural)+len(pattern))
	absorb := func(stream []corpus.RetrievalResult) {
		for _, res := range stream {
			id := res.Pair.ID
			if id == "" {
				continue
			}
			existing, ok := merged[id]
			if !ok {
				clone := res
				merged[id] = &clone
				order = append(order, id)
				continue
			}
			existing.Semantic = math.Max(existing.Semantic, res.Semantic)
			existing.Structural = math.Max(existing.Structural, res.Structural)
			existing.Pattern = math.Max(existing.Pattern, res.Pattern)
			// Prefer the richer pair payload; graph rows may omit fields the
			// vector record carries and vice versa.
			if existing.Pair.Question == "" && res.Pair.Question != "" {
				existing.Pair = res.Pair
			}
		}
	}
	absorb(semantic)
	absorb(structural)
	absorb(pattern)

	results := make([]corpus.RetrievalResult, 0, len(order))
	for _, id := range order {
		res := merged[id]
		res.Quality = qualityScore(res.Pair)
		ws, wst, wp, wq := f.weightsFor(res.Semantic)
		final := ws*res.Semantic + wst*res.Structural + wp*res.Pattern + wq*res.Quality
		res.Final = clamp01(final)
		res.Explanation = explain(*res)
		results = append(results, *res)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Final != results[j].Final {
			return results[i].Final > results[j].Final
		}
		if results[i].Semantic != results[j].Semantic {
			return results[i].Semantic > results[j].Semantic
		}
		return results[i].Pair.ID < results[j].Pair.ID
	})
	return results
}

// weightsFor selects the weight tuple by semantic strength. Every tuple sums
// to 1.0.
func (f *Fuser) weightsFor(semantic float64) (ws, wst, wp, wq float64) {
	switch {
	case semantic >= f.cfg.HighSemantic:
		return 0.80, 0.10, 0.05, 0.05
	case semantic >= f.cfg.MidSemantic:
		return 0.70, 0.15, 0.10, 0.05
	case semantic >= f.cfg.LowSemantic:
		return f.cfg.SemanticWeight, f.cfg.StructuralWeight, f.cfg.PatternWeight, f.cfg.QualityWeight
	default:
		return 0.40, 0.35, 0.20, 0.05
	}
}

// qualityScore derives a [0,1] quality signal from verification, success
// rate and difficulty band. Pairs in the sweet-spot difficulty [2,3] get the
// band bonus.
func qualityScore(pair corpus.QAPair) float64 {
	score := 0.5 * pair.SuccessRate
	if pair.Verified {
		score += 0.3
	}
	if pair.DifficultyLevel >= 2 && pair.DifficultyLevel <= 3 {
		score += 0.2
	}
	return clamp01(score)
}

func explain(res corpus.RetrievalResult) string {
	signals := make([]string, 0, 4)
	if res.Semantic > 0 {
		signals = append(signals, fmt.Sprintf("semantic %.2f", res.Semantic))
	}
	if res.Structural > 0 {
		signals = append(signals, fmt.Sprintf("shared tables %.2f", res.Structural))
	}
	if res.Pattern > 0 {
		signals = append(signals, fmt.Sprintf("pattern usage %.2f", res.Pattern))
	}
	if res.Quality > 0 {
		signals = append(signals, fmt.Sprintf("quality %.2f", res.Quality))
	}
	if len(signals) == 0 {
		return "no matching signals"
	}
	return "matched by " + strings.Join(signals, ", ")
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
