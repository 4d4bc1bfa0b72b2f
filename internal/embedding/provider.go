// File path: internal/embedding/provider.go
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sqlmind-ai/sqlmind/internal/common"
)

// Supported backend kinds.
const (
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
)

var (
	// ErrMissingAPIKey is a configuration error: the selected backend
	// requires credentials that were not supplied.
	ErrMissingAPIKey = errors.New("embedding: api key required")
	// ErrDimensionChanged is a configuration error: the backend started
	// returning vectors of a different length than previously observed.
	ErrDimensionChanged = errors.New("embedding: vector dimension changed")
)

// Provider turns text into fixed-dimension vectors.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the vector length, or 0 when no embedding has been
	// produced yet.
	Dimensions() int
	Name() string
}

// Health reports the result of a provider health probe.
type Health struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Latency    time.Duration `json:"latency"`
	Dimensions int           `json:"dimensions"`
}

// NewProvider constructs the configured backend wrapped with retry and memo
// layers.
func NewProvider(cfg Config) (Provider, error) {
	var backend Provider
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI, "":
		p, err := newOpenAIProvider(cfg)
		if err != nil {
			return nil, err
		}
		backend = p
	case ProviderLocal:
		backend = newLocalProvider(cfg)
	default:
		return nil, fmt.Errorf("embedding: unsupported provider %q", cfg.Provider)
	}
	retrying := newRetryingProvider(backend, cfg.MaxRetries, cfg.RetryDelay)
	cached := newCachedProvider(retrying, cfg.Model, cfg.CacheTTL, cfg.CacheSize)
	common.Logger().Info("embedding: provider configured",
		"provider", backend.Name(), "model", cfg.Model,
		"cache_ttl", cfg.CacheTTL, "cache_size", cfg.CacheSize)
	return cached, nil
}

// HealthCheck performs one embedding call and reports latency and output
// dimension. A dimension change against an already-initialized provider is
// fatal configuration drift, surfaced as ErrDimensionChanged.
func HealthCheck(ctx context.Context, p Provider, model string) (Health, error) {
	known := p.Dimensions()
	start := time.Now()
	vec, err := p.Embed(ctx, "health check probe")
	latency := time.Since(start)
	if err != nil {
		return Health{Provider: p.Name(), Model: model, Latency: latency}, err
	}
	if known > 0 && len(vec) != known {
		return Health{Provider: p.Name(), Model: model, Latency: latency, Dimensions: len(vec)},
			fmt.Errorf("%w: had %d, got %d", ErrDimensionChanged, known, len(vec))
	}
	return Health{Provider: p.Name(), Model: model, Latency: latency, Dimensions: len(vec)}, nil
}

// retryingProvider retries transient failures with bounded exponential
// backoff. Configuration errors pass through untouched.
type retryingProvider struct {
	inner      Provider
	maxRetries int
	baseDelay  time.Duration
}

func newRetryingProvider(inner Provider, maxRetries int, baseDelay time.Duration) *retryingProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &retryingProvider{inner: inner, maxRetries: maxRetries, baseDelay: baseDelay}
}

func (r *retryingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := r.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("embedding: empty result")
	}
	return vectors[0], nil
}

func (r *retryingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var lastErr error
	delay := r.baseDelay
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		vectors, err := r.inner.EmbedBatch(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if isFatal(err) {
			return nil, err
		}
		lastErr = err
		common.Logger().Warn("embedding: transient failure, retrying",
			"provider", r.inner.Name(), "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("embedding: %d attempts failed: %w", r.maxRetries, lastErr)
}

func (r *retryingProvider) Dimensions() int { return r.inner.Dimensions() }
func (r *retryingProvider) Name() string    { return r.inner.Name() }

func isFatal(err error) bool {
	return errors.Is(err, ErrMissingAPIKey) ||
		errors.Is(err, ErrDimensionChanged) ||
		errors.Is(err, context.Canceled)
}
