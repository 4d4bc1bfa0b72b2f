// File path: internal/embedding/provider_test.go
package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeProvider is a scriptable backend for wrapper tests.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	dim   int
	// failures counts down: each call fails with err until it hits zero.
	failures int
	err      error
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	dim := f.dim
	if dim == 0 {
		dim = 4
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, dim)
		vec[0] = float32(len(texts[i]))
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeProvider) Dimensions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dim == 0 {
		return 4
	}
	return f.dim
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRetryingProviderRecoversFromTransientFailure(t *testing.T) {
	inner := &fakeProvider{failures: 2, err: errors.New("connection reset")}
	retrying := newRetryingProvider(inner, 3, time.Millisecond)
	vec, err := retrying.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected recovery after retries, got %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("unexpected vector length %d", len(vec))
	}
	if got := inner.callCount(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestRetryingProviderExhaustsRetries(t *testing.T) {
	cause := errors.New("connection reset")
	inner := &fakeProvider{failures: 10, err: cause}
	retrying := newRetryingProvider(inner, 3, time.Millisecond)
	_, err := retrying.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if got := inner.callCount(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
}

func TestRetryingProviderDoesNotRetryConfigurationErrors(t *testing.T) {
	inner := &fakeProvider{failures: 10, err: ErrMissingAPIKey}
	retrying := newRetryingProvider(inner, 5, time.Millisecond)
	_, err := retrying.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if got := inner.callCount(); got != 1 {
		t.Fatalf("configuration error retried %d times", got)
	}

	inner = &fakeProvider{failures: 10, err: ErrDimensionChanged}
	retrying = newRetryingProvider(inner, 5, time.Millisecond)
	if _, err := retrying.Embed(context.Background(), "hello"); !errors.Is(err, ErrDimensionChanged) {
		t.Fatalf("expected ErrDimensionChanged, got %v", err)
	}
	if got := inner.callCount(); got != 1 {
		t.Fatalf("dimension error retried %d times", got)
	}
}

func TestRetryingProviderHonorsContext(t *testing.T) {
	inner := &fakeProvider{failures: 10, err: errors.New("slow backend")}
	retrying := newRetryingProvider(inner, 5, 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := retrying.Embed(ctx, "hello")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error while waiting for backoff, got %v", err)
	}
}

func TestHealthCheckReportsDimensions(t *testing.T) {
	inner := &fakeProvider{dim: 8}
	health, err := HealthCheck(context.Background(), inner, "test-model")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if health.Dimensions != 8 {
		t.Fatalf("dimensions = %d, want 8", health.Dimensions)
	}
	if health.Provider != "fake" || health.Model != "test-model" {
		t.Fatalf("unexpected identity: %+v", health)
	}
}

func TestNewProviderRejectsUnknownBackend(t *testing.T) {
	cfg := Config{Provider: "quantum"}
	if _, err := NewProvider(cfg); err == nil {
		t.Fatal("expected error for unknown provider kind")
	}
}
