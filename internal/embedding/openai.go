// File path: internal/embedding/openai.go
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	openai "github.com/sashabaranov/go-openai"
)

// openAIProvider speaks the OpenAI embeddings API, including compatible
// third-party endpoints configured via BaseURL.
type openAIProvider struct {
	client    *openai.Client
	model     string
	batchSize int
	dims      atomic.Int32
}

func newOpenAIProvider(cfg Config) (*openAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &openAIProvider{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
	}, nil
}

func (o *openAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("embedding: empty result")
	}
	return vectors[0], nil
}

func (o *openAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batchSize := o.batchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[start:end],
			Model: openai.EmbeddingModel(o.model),
		})
		if err != nil {
			return nil, fmt.Errorf("create embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding: expected %d vectors, got %d", end-start, len(resp.Data))
		}
		for _, data := range resp.Data {
			if err := o.checkDimension(len(data.Embedding)); err != nil {
				return nil, err
			}
			vectors = append(vectors, data.Embedding)
		}
	}
	return vectors, nil
}

func (o *openAIProvider) checkDimension(dim int) error {
	if dim == 0 {
		return errors.New("embedding: zero-length vector returned")
	}
	if !o.dims.CompareAndSwap(0, int32(dim)) {
		if known := int(o.dims.Load()); known != dim {
			return fmt.Errorf("%w: had %d, got %d", ErrDimensionChanged, known, dim)
		}
	}
	return nil
}

func (o *openAIProvider) Dimensions() int { return int(o.dims.Load()) }
func (o *openAIProvider) Name() string    { return ProviderOpenAI }
