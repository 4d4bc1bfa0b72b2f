// File path: internal/querycache/config.go
package querycache

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Mode selects how much work a cache lookup performs.
const (
	// ModeSimple checks the exact layer only.
	ModeSimple = "simple"
	// ModeFull races the exact and semantic layers.
	ModeFull = "full"
)

// Config controls cache sizing, expiry and lookup behaviour.
type Config struct {
	// MaxSize caps the number of exact entries before LRU eviction.
	MaxSize int `json:"max_size"`
	// TTL is the lifetime of an exact entry.
	TTL time.Duration `json:"ttl"`
	// Mode is ModeSimple or ModeFull.
	Mode string `json:"mode"`
	// SemanticThreshold is the minimum similarity for a semantic hit.
	SemanticThreshold float64 `json:"semantic_threshold"`
	// RaceTimeout bounds the full-mode lookup race.
	RaceTimeout time.Duration `json:"race_timeout"`
}

// DefaultConfig returns the cache settings used when nothing is
// configured in the environment.
func DefaultConfig() Config {
	return Config{
		MaxSize:           1000,
		TTL:               3600 * time.Second,
		Mode:              ModeSimple,
		SemanticThreshold: 0.95,
		RaceTimeout:       2 * time.Second,
	}
}

// LoadConfig builds a Config from defaults overlaid with QUERY_CACHE_*
// environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if raw := os.Getenv("QUERY_CACHE_MAX_SIZE"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("parse QUERY_CACHE_MAX_SIZE: %q", raw)
		}
		cfg.MaxSize = parsed
	}
	if raw := os.Getenv("QUERY_CACHE_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("parse QUERY_CACHE_TTL: %q", raw)
		}
		cfg.TTL = parsed
	}
	if raw := os.Getenv("QUERY_CACHE_MODE"); raw != "" {
		if raw != ModeSimple && raw != ModeFull {
			return Config{}, fmt.Errorf("parse QUERY_CACHE_MODE: %q", raw)
		}
		cfg.Mode = raw
	}
	if raw := os.Getenv("QUERY_CACHE_SEMANTIC_THRESHOLD"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 || parsed > 1 {
			return Config{}, fmt.Errorf("parse QUERY_CACHE_SEMANTIC_THRESHOLD: %q", raw)
		}
		cfg.SemanticThreshold = parsed
	}
	if raw := os.Getenv("QUERY_CACHE_RACE_TIMEOUT"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("parse QUERY_CACHE_RACE_TIMEOUT: %q", raw)
		}
		cfg.RaceTimeout = parsed
	}
	return cfg, nil
}
