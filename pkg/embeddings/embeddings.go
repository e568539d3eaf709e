// Package embeddings maps text to fixed-dimension vectors through a
// pluggable backend.
package embeddings

import (
	"context"
	"fmt"
	"log/slog"
)

// Provider is the capability every embedding backend implements.
// Exactly one backend is active per pipeline, chosen at construction.
type Provider interface {
	// Name identifies the backend, e.g. "openai" or "ollama".
	Name() string
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Error wraps a failure from an embedding backend.
type Error struct {
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding backend %s: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// EmbedOne embeds a single text. Backend failures are wrapped in *Error
// and propagate: a failed query embedding is never substituted with a
// zero vector.
func EmbedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vectors, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, &Error{Backend: p.Name(), Err: err}
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, &Error{Backend: p.Name(), Err: fmt.Errorf("no embedding returned")}
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in groups of at most batchSize, one backend
// call per group, preserving input order. Ingest is best-effort across
// a large corpus: a failed group degrades to nil vectors for its items
// and the run continues with a logged warning, unlike query-time
// embedding which always propagates failure.
func EmbedBatch(ctx context.Context, p Provider, texts []string, batchSize int, logger *slog.Logger) [][]float32 {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		group := texts[start:end]

		got, err := p.Embed(ctx, group)
		if err != nil || len(got) != len(group) {
			logger.Warn("embedding batch failed, substituting empty vectors",
				"backend", p.Name(), "batch_start", start, "batch_size", len(group), "error", err)
			for range group {
				vectors = append(vectors, nil)
			}
			continue
		}
		vectors = append(vectors, got...)
	}
	return vectors
}
