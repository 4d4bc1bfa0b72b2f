// File path: internal/retrieval/config.go
package retrieval

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EngineConfig controls the retrieval fan-out and ranking behaviour.
type EngineConfig struct {
	// Parallel runs the three searches concurrently. Sequential mode is
	// kept for debugging backend issues.
	Parallel bool `json:"parallel"`
	// SearchTimeout bounds each individual backend search.
	SearchTimeout time.Duration `json:"search_timeout"`
	// TopK is the default candidate count per signal when the caller
	// passes zero.
	TopK   int          `json:"top_k"`
	Fusion FusionConfig `json:"fusion"`
}

// DefaultEngineConfig returns the settings used when nothing is
// configured in the environment.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Parallel:      true,
		SearchTimeout: 12 * time.Second,
		TopK:          5,
		Fusion:        DefaultFusionConfig(),
	}
}

// LoadEngineConfig builds an EngineConfig from defaults overlaid with
// RETRIEVAL_* and FUSION_* environment variables.
func LoadEngineConfig() (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if raw := os.Getenv("RETRIEVAL_PARALLEL"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return EngineConfig{}, fmt.Errorf("parse RETRIEVAL_PARALLEL: %w", err)
		}
		cfg.Parallel = parsed
	}
	if raw := os.Getenv("RETRIEVAL_SEARCH_TIMEOUT"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return EngineConfig{}, fmt.Errorf("parse RETRIEVAL_SEARCH_TIMEOUT: %w", err)
		}
		cfg.SearchTimeout = parsed
	}
	if raw := os.Getenv("RETRIEVAL_TOP_K"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return EngineConfig{}, fmt.Errorf("parse RETRIEVAL_TOP_K: %q", raw)
		}
		cfg.TopK = parsed
	}
	for env, target := range map[string]*float64{
		"FUSION_SEMANTIC_WEIGHT":   &cfg.Fusion.SemanticWeight,
		"FUSION_STRUCTURAL_WEIGHT": &cfg.Fusion.StructuralWeight,
		"FUSION_PATTERN_WEIGHT":    &cfg.Fusion.PatternWeight,
		"FUSION_QUALITY_WEIGHT":    &cfg.Fusion.QualityWeight,
	} {
		raw := os.Getenv(env)
		if raw == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return EngineConfig{}, fmt.Errorf("parse %s: %w", env, err)
		}
		*target = parsed
	}
	return cfg, nil
}
