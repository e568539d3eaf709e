// Package factory selects a vector store backend from configuration.
//
// Construction strategies are attempted in a fixed order — qdrant,
// pgvector, local — and the first one that initializes wins. The
// selected backend's identity is logged so a deployment never hides
// which engine is actually serving queries.
package factory

import (
	"context"
	"log/slog"

	"github.com/barekit/sage/pkg/vectorstore"
	"github.com/barekit/sage/pkg/vectorstore/local"
	"github.com/barekit/sage/pkg/vectorstore/pgvector"
	"github.com/barekit/sage/pkg/vectorstore/qdrant"
)

// Config holds connection settings for every backend. A backend is
// attempted only when its settings are present.
type Config struct {
	// Local store settings; always usable.
	DBPath     string
	Collection string

	// Qdrant settings; attempted first when Host is set.
	QdrantHost string
	QdrantPort int

	// Postgres/pgvector settings; attempted when DSN is set.
	PostgresDSN string

	// Dimension of the collection's vectors. Required by the
	// index-backed engines, which create their collection up front.
	// The local store infers it from the first Add instead.
	Dimension int
}

// Open walks the strategy list and returns the first store that
// initializes. The local store cannot fail to construct, so Open always
// succeeds.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) vectorstore.Store {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.QdrantHost != "" {
		s, err := qdrant.New(cfg.QdrantHost, cfg.QdrantPort, cfg.Collection, uint64(cfg.Dimension))
		if err == nil {
			logger.Info("vector store selected", "backend", s.Name(), "collection", cfg.Collection)
			return s
		}
		logger.Warn("qdrant store unavailable, falling back", "error", err)
	}

	if cfg.PostgresDSN != "" {
		s, err := pgvector.New(cfg.PostgresDSN, cfg.Collection, cfg.Dimension)
		if err == nil {
			logger.Info("vector store selected", "backend", s.Name(), "collection", cfg.Collection)
			return s
		}
		logger.Warn("pgvector store unavailable, falling back", "error", err)
	}

	s := local.New(cfg.DBPath, cfg.Collection, logger)
	logger.Info("vector store selected", "backend", s.Name(), "collection", cfg.Collection)
	return s
}
