// Package app wires configuration into a ready pipeline: the vector
// store fallback chain, the embedding and generation backends, and the
// optional answer cache.
package app

import (
	"context"
	"log/slog"

	"github.com/openai/openai-go/option"

	"github.com/barekit/sage/pkg/cache"
	"github.com/barekit/sage/pkg/config"
	"github.com/barekit/sage/pkg/embeddings"
	embollama "github.com/barekit/sage/pkg/embeddings/ollama"
	embopenai "github.com/barekit/sage/pkg/embeddings/openai"
	"github.com/barekit/sage/pkg/generation"
	genollama "github.com/barekit/sage/pkg/generation/ollama"
	genopenai "github.com/barekit/sage/pkg/generation/openai"
	"github.com/barekit/sage/pkg/pipeline"
	"github.com/barekit/sage/pkg/vectorstore/factory"
)

// NewPipeline builds the full question-answering pipeline from
// configuration. Backend choices are made once here and are read-only
// afterwards.
func NewPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store := factory.Open(ctx, factory.Config{
		DBPath:      cfg.DBPath,
		Collection:  cfg.Collection,
		QdrantHost:  cfg.QdrantHost,
		QdrantPort:  cfg.QdrantPort,
		PostgresDSN: cfg.PostgresDSN,
		Dimension:   cfg.Dimension,
	}, logger)

	var embedder embeddings.Provider
	var generator generation.Provider
	if cfg.UseRemoteBackends() {
		embedder = embopenai.NewEmbedder(cfg.EmbeddingModel, option.WithAPIKey(cfg.OpenAIAPIKey))
		generator = genopenai.New(cfg.LLMModel, option.WithAPIKey(cfg.OpenAIAPIKey))
	} else {
		embedder = embollama.NewEmbedder(embollama.Config{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.EmbeddingModel,
		})
		generator = genollama.New(genollama.Config{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
		})
	}
	logger.Info("backends selected",
		"embedding", embedder.Name(), "generation", generator.Name())

	p, err := pipeline.New(store, embedder, generator, pipeline.Config{
		TopK:        cfg.TopK,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr != "" {
		c, err := cache.NewRedis(ctx, cfg.RedisAddr, cache.DefaultTTL, logger)
		if err != nil {
			logger.Warn("answer cache unavailable, continuing without it", "error", err)
		} else {
			logger.Info("answer cache enabled", "addr", cfg.RedisAddr)
			p.WithCache(c)
		}
	}
	return p, nil
}
