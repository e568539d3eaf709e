// Package openai implements embeddings.Provider using the OpenAI API.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no embedding model is configured.
const DefaultModel = openai.EmbeddingModelTextEmbedding3Small

// Embedder is the remote embedding backend.
type Embedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewEmbedder creates an OpenAI embedder. An empty model selects
// DefaultModel.
func NewEmbedder(model string, opts ...option.RequestOption) *Embedder {
	client := openai.NewClient(opts...)
	m := openai.EmbeddingModel(model)
	if model == "" {
		m = DefaultModel
	}
	return &Embedder{
		client: &client,
		model:  m,
	}
}

// Name identifies the backend.
func (e *Embedder) Name() string { return "openai" }

// Embed generates embeddings for the given texts in one API call.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: e.model,
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}
