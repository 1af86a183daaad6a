package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "dune-rag/backend/pkg/errors"
	"dune-rag/backend/pkg/logger"
)

// Embedder turns text into vectors for the vector indexes
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)
}

// EmbeddingAdapter calls the OpenAI-compatible embeddings endpoint
type EmbeddingAdapter struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewEmbeddingAdapter creates an embedding adapter
func NewEmbeddingAdapter(baseURL, apiKey, model string, timeout time.Duration) *EmbeddingAdapter {
	if apiKey == "" {
		apiKey = "dummy-key"
	}
	return &EmbeddingAdapter{
		client:  openai.NewClientWithConfig(clientConfig(baseURL, apiKey)),
		model:   model,
		timeout: timeout,
		logger:  logger.Named("embeddings"),
	}
}

// EmbedQuery embeds a single query string
func (e *EmbeddingAdapter) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments embeds texts, preserving input order
func (e *EmbeddingAdapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		if apperrors.IsTimeout(err) {
			return nil, apperrors.NewContextTimeout("embeddings", e.timeout, err)
		}
		return nil, apperrors.NewAgentLLMFailed(e.model, 1, isRetryableStatus(err), err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.NewAgentLLMFailed(e.model, 1, false, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = Float32ToFloat64(d.Embedding)
	}

	e.logger.Debug("Embedded texts", zap.Int("count", len(texts)), zap.String("model", e.model))
	return out, nil
}

// Float32ToFloat64 widens an embedding for the Neo4j driver, which stores
// list properties as float64
func Float32ToFloat64(v []float32) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
