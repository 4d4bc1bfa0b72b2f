// File path: internal/embedding/local.go
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

const defaultLocalEndpoint = "http://127.0.0.1:8080"

// localProvider talks to a locally hosted embedding server exposing an
// OpenAI-shaped /v1/embeddings endpoint.
type localProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
	batchSize  int
	dims       atomic.Int32
}

func newLocalProvider(cfg Config) *localProvider {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultLocalEndpoint
	}
	return &localProvider{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      cfg.Model,
		batchSize:  cfg.BatchSize,
	}
}

type localEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type localEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (l *localProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := l.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("embedding: empty result")
	}
	return vectors[0], nil
}

func (l *localProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batchSize := l.batchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := l.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, chunk...)
	}
	return vectors, nil
}

func (l *localProvider) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(localEmbedRequest{Model: l.model, Input: texts})
	if err != nil {
		return nil, err
	}
	endpoint := l.baseURL + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local embedding request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("local embedding failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var decoded localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode local embedding response: %w", err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(texts), len(decoded.Data))
	}
	vectors := make([][]float32, 0, len(decoded.Data))
	for _, data := range decoded.Data {
		if err := l.checkDimension(len(data.Embedding)); err != nil {
			return nil, err
		}
		vectors = append(vectors, data.Embedding)
	}
	return vectors, nil
}

func (l *localProvider) checkDimension(dim int) error {
	if dim == 0 {
		return errors.New("embedding: zero-length vector returned")
	}
	if !l.dims.CompareAndSwap(0, int32(dim)) {
		if known := int(l.dims.Load()); known != dim {
			return fmt.Errorf("%w: had %d, got %d", ErrDimensionChanged, known, dim)
		}
	}
	return nil
}

func (l *localProvider) Dimensions() int { return int(l.dims.Load()) }
func (l *localProvider) Name() string    { return ProviderLocal }
