// Package pipeline orchestrates retrieval-augmented answering: embed
// the question, rank stored fragments by similarity, and condition a
// generation backend on the retrieved context.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/barekit/sage/pkg/chunker"
	"github.com/barekit/sage/pkg/embeddings"
	"github.com/barekit/sage/pkg/generation"
	"github.com/barekit/sage/pkg/vectorstore"
)

// NoInformationAnswer is returned verbatim when retrieval finds
// nothing; no generation call is made in that case.
const NoInformationAnswer = "I don't have any relevant information to answer your question."

// systemInstruction grounds the model: answer only from the supplied
// context, cite source titles, and use a fixed fallback phrase when the
// context is insufficient.
const systemInstruction = `You are a helpful support assistant. Answer the user's question based ONLY on the provided context.
If the answer cannot be found in the context, say "I don't have enough information to answer that question based on the available documentation."
Always cite the source document title when providing information.`

// snippetLength caps source snippets in answers.
const snippetLength = 200

// ingestBatchSize is how many texts go to the embedding backend per
// call during ingest.
const ingestBatchSize = 100

var (
	// ErrEmptyQuestion rejects empty or whitespace-only questions
	// before any backend call.
	ErrEmptyQuestion = errors.New("question must not be empty")
	// ErrInvalidTopK rejects negative top_k overrides.
	ErrInvalidTopK = errors.New("top_k must be positive")
	// ErrNoGenerator is returned by AnswerQuestion on an ingest-only
	// pipeline.
	ErrNoGenerator = errors.New("no generation provider configured")
)

// Source attributes part of an answer to a stored document.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Answer is a generated answer with its supporting sources, ordered by
// ascending distance.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Cache is an optional answer cache. Both operations are best-effort;
// implementations must degrade to a miss instead of failing a query.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// Config holds pipeline defaults.
type Config struct {
	TopK        int     // default 3
	MaxTokens   int     // default 500
	Temperature float32 // default 0.7
}

// Pipeline answers questions end-to-end. It holds no persistent state
// beyond references to the store and providers and is safe to
// reconstruct from configuration at any time.
//
// Concurrent AnswerQuestion calls are independent units of work; the
// per-call top-k override is threaded as a parameter and never written
// to shared state. Ingest operations take the exclusive side of the
// store discipline so queries observe either the pre-ingest or the
// fully-ingested collection, never a partial one.
type Pipeline struct {
	store     vectorstore.Store
	embedder  embeddings.Provider
	generator generation.Provider // nil for ingest-only pipelines
	cache     Cache               // optional

	topK        int
	maxTokens   int
	temperature float32
	logger      *slog.Logger

	mu sync.RWMutex
}

// New creates a pipeline. The store and embedder are required; the
// generator may be nil for ingest-only use.
func New(store vectorstore.Store, embedder embeddings.Provider, generator generation.Provider, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("vector store is required")
	}
	if embedder == nil {
		return nil, errors.New("embedding provider is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:       store,
		embedder:    embedder,
		generator:   generator,
		topK:        cfg.TopK,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// WithCache attaches an answer cache. Call before serving traffic.
func (p *Pipeline) WithCache(c Cache) *Pipeline {
	p.cache = c
	return p
}

// AnswerQuestion answers one question. topK overrides the pipeline
// default for this call only; zero means "use the default", negative is
// invalid.
func (p *Pipeline) AnswerQuestion(ctx context.Context, question string, topK int) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if topK < 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidTopK, topK)
	}
	if topK == 0 {
		topK = p.topK
	}

	cacheKey := answerKey(question, topK)
	if p.cache != nil {
		if raw, ok := p.cache.Get(ctx, cacheKey); ok {
			var answer Answer
			if err := json.Unmarshal(raw, &answer); err == nil {
				p.logger.Debug("answer served from cache", "top_k", topK)
				return &answer, nil
			}
		}
	}

	vector, err := embeddings.EmbedOne(ctx, p.embedder, question)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	results, err := p.store.Search(ctx, vector, topK)
	p.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	if len(results) == 0 {
		return &Answer{Answer: NoInformationAnswer, Sources: []Source{}}, nil
	}

	if p.generator == nil {
		return nil, ErrNoGenerator
	}

	prompt := buildPrompt(question, results)
	text, err := generation.Generate(ctx, p.generator, prompt, generation.Options{
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return nil, err
	}

	answer := &Answer{Answer: text, Sources: sourcesFrom(results)}
	if p.cache != nil {
		if raw, err := json.Marshal(answer); err == nil {
			p.cache.Set(ctx, cacheKey, raw)
		}
	}
	return answer, nil
}

// Ingest embeds chunks and appends them to the store. Batches that fail
// to embed are dropped with a warning so one bad batch cannot abort or
// poison a large ingest run.
func (p *Pipeline) Ingest(ctx context.Context, chunks []chunker.Chunk) error {
	records := p.embedChunks(ctx, chunks)
	if len(records) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.Add(ctx, records); err != nil {
		return fmt.Errorf("add records: %w", err)
	}
	p.logger.Info("ingested chunks", "records", len(records), "backend", p.store.Name())
	return nil
}

// Reindex clears the collection and ingests chunks under one exclusive
// section, so concurrent queries see the old collection or the new one,
// never a partial state. This is the supported path for re-crawling a
// source: plain Ingest always appends.
func (p *Pipeline) Reindex(ctx context.Context, chunks []chunker.Chunk) error {
	records := p.embedChunks(ctx, chunks)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear collection: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	if err := p.store.Add(ctx, records); err != nil {
		return fmt.Errorf("add records: %w", err)
	}
	p.logger.Info("reindexed collection", "records", len(records), "backend", p.store.Name())
	return nil
}

// Count reports the number of indexed records.
func (p *Pipeline) Count(ctx context.Context) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store.Count(ctx)
}

// StoreName identifies the active vector store backend.
func (p *Pipeline) StoreName() string { return p.store.Name() }

func (p *Pipeline) embedChunks(ctx context.Context, chunks []chunker.Chunk) []vectorstore.Record {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors := embeddings.EmbedBatch(ctx, p.embedder, texts, ingestBatchSize, p.logger)

	records := make([]vectorstore.Record, 0, len(chunks))
	dropped := 0
	for i, c := range chunks {
		if len(vectors[i]) == 0 {
			dropped++
			continue
		}
		records = append(records, vectorstore.Record{
			Vector: vectors[i],
			Text:   c.Text,
			Metadata: vectorstore.Metadata{
				SourceURL:   c.SourceURL,
				SourceTitle: c.SourceTitle,
				ChunkIndex:  c.ChunkIndex,
			},
		})
	}
	if dropped > 0 {
		p.logger.Warn("dropped chunks whose embedding batch failed", "dropped", dropped)
	}
	return records
}

// buildPrompt assembles the grounded prompt: each retrieved text is
// prefixed with its ordinal position and source title, in ranking
// order.
func buildPrompt(question string, results []vectorstore.Result) generation.Prompt {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Document %d (Source: %s):\n%s", i+1, r.SourceTitle, r.Text)
	}
	user := fmt.Sprintf("Context:\n%s\n\nQuestion: %s\n\nAnswer:", b.String(), question)
	return generation.Prompt{System: systemInstruction, User: user}
}

// sourcesFrom mirrors the result set as attributions, snippets
// truncated at snippetLength characters.
func sourcesFrom(results []vectorstore.Result) []Source {
	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{
			Title:   r.SourceTitle,
			URL:     r.SourceURL,
			Snippet: snippet(r.Text),
		}
	}
	return sources
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLength {
		return text
	}
	return string(runes[:snippetLength]) + "..."
}

func answerKey(question string, topK int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d|%s", topK, question))
	return fmt.Sprintf("answer:%x", sum)
}
