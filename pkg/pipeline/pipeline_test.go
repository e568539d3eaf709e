package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barekit/sage/pkg/chunker"
	"github.com/barekit/sage/pkg/embeddings"
	"github.com/barekit/sage/pkg/generation"
	"github.com/barekit/sage/pkg/vectorstore"
	"github.com/barekit/sage/pkg/vectorstore/local"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// stubEmbedder produces a deterministic bag-of-words vector, so texts
// sharing words land near each other under cosine distance.
type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *stubEmbedder) Name() string { return "stub-embed" }

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fail {
		return nil, errors.New("embedding backend down")
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = hashVector(text)
	}
	return vectors, nil
}

func (s *stubEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func hashVector(text string) []float32 {
	const dim = 64
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%dim]++
	}
	return vec
}

// stubGenerator echoes a fixed answer and records call counts.
type stubGenerator struct {
	mu      sync.Mutex
	calls   int
	fail    bool
	answer  string
	prompts []generation.Prompt
}

func (s *stubGenerator) Name() string { return "stub-gen" }

func (s *stubGenerator) Generate(_ context.Context, prompt generation.Prompt, _ generation.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if s.fail {
		return "", errors.New("generation backend down")
	}
	if s.answer == "" {
		return "stub answer", nil
	}
	return s.answer, nil
}

func (s *stubGenerator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestPipeline(t *testing.T, emb *stubEmbedder, gen *stubGenerator) *Pipeline {
	t.Helper()
	store := local.New(t.TempDir(), "docs", testLogger())
	p, err := New(store, emb, gen, Config{}, testLogger())
	require.NoError(t, err)
	return p
}

func chunksFor(texts map[string][2]string) []chunker.Chunk {
	var chunks []chunker.Chunk
	i := 0
	for text, meta := range texts {
		chunks = append(chunks, chunker.Chunk{
			ChunkID:     fmt.Sprintf("chunk-%d", i),
			Text:        text,
			SourceURL:   meta[0],
			SourceTitle: meta[1],
			ChunkIndex:  0,
			TotalChunks: 1,
		})
		i++
	}
	return chunks
}

func TestEmptyQuestionRejectedBeforeBackends(t *testing.T) {
	emb := &stubEmbedder{}
	gen := &stubGenerator{}
	p := newTestPipeline(t, emb, gen)

	for _, q := range []string{"", "   ", "\n\t "} {
		_, err := p.AnswerQuestion(context.Background(), q, 0)
		require.ErrorIs(t, err, ErrEmptyQuestion, "question %q", q)
	}
	assert.Equal(t, 0, emb.callCount())
	assert.Equal(t, 0, gen.callCount())
}

func TestNegativeTopKRejected(t *testing.T) {
	emb := &stubEmbedder{}
	gen := &stubGenerator{}
	p := newTestPipeline(t, emb, gen)

	_, err := p.AnswerQuestion(context.Background(), "valid question", -1)
	require.ErrorIs(t, err, ErrInvalidTopK)
	assert.Equal(t, 0, emb.callCount())
}

func TestEmptyStoreReturnsCannedAnswer(t *testing.T) {
	emb := &stubEmbedder{}
	gen := &stubGenerator{}
	p := newTestPipeline(t, emb, gen)

	answer, err := p.AnswerQuestion(context.Background(), "anything at all", 0)
	require.NoError(t, err)
	assert.Equal(t, NoInformationAnswer, answer.Answer)
	assert.Empty(t, answer.Sources)
	assert.Equal(t, 0, gen.callCount(), "no generation call on empty retrieval")
}

func TestAnswerQuestionEndToEnd(t *testing.T) {
	emb := &stubEmbedder{}
	gen := &stubGenerator{answer: "Go to Settings > Security to reset it (Password Help)."}
	p := newTestPipeline(t, emb, gen)

	ctx := context.Background()
	require.NoError(t, p.Ingest(ctx, []chunker.Chunk{
		{ChunkID: "c1", Text: "Reset your password via Settings > Security.", SourceURL: "/help/pw", SourceTitle: "Password Help"},
		{ChunkID: "c2", Text: "Contact support at help@example.com", SourceURL: "/help/contact", SourceTitle: "Contact"},
	}))

	answer, err := p.AnswerQuestion(ctx, "How do I reset my password?", 1)
	require.NoError(t, err)
	assert.Equal(t, gen.answer, answer.Answer)

	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "Password Help", answer.Sources[0].Title)
	assert.Equal(t, "/help/pw", answer.Sources[0].URL)
	assert.Equal(t, "Reset your password via Settings > Security.", answer.Sources[0].Snippet)

	// The prompt carries the ordinal, the source title and the text.
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0].User, "Document 1 (Source: Password Help):")
	assert.Contains(t, gen.prompts[0].User, "Reset your password via Settings > Security.")
	assert.Contains(t, gen.prompts[0].User, "Question: How do I reset my password?")
	assert.Contains(t, gen.prompts[0].System, "ONLY on the provided context")
}

func TestSourcesFollowResultOrderAndCardinality(t *testing.T) {
	emb := &stubEmbedder{}
	gen := &stubGenerator{}
	p := newTestPipeline(t, emb, gen)

	ctx := context.Background()
	require.NoError(t, p.Ingest(ctx, chunksFor(map[string][2]string{
		"alpha beta gamma":  {"/1", "One"},
		"delta epsilon":     {"/2", "Two"},
		"zeta eta theta":    {"/3", "Three"},
		"iota kappa lambda": {"/4", "Four"},
	})))

	answer, err := p.AnswerQuestion(ctx, "alpha beta", 3)
	require.NoError(t, err)
	assert.Len(t, answer.Sources, 3)
}

func TestSnippetTruncation(t *testing.T) {
	long := strings.Repeat("security policy ", 20) // > 200 chars
	emb := &stubEmbedder{}
	gen := &stubGenerator{}
	p := newTestPipeline(t, emb, gen)

	ctx := context.Background()
	require.NoError(t, p.Ingest(ctx, []chunker.Chunk{
		{ChunkID: "c1", Text: long, SourceURL: "/long", SourceTitle: "Long"},
	}))

	answer, err := p.AnswerQuestion(ctx, "security policy", 1)
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	snippet := answer.Sources[0].Snippet
	assert.True(t, strings.HasSuffix(snippet, "..."))
	assert.Len(t, []rune(snippet), 203)
}

func TestEmbeddingErrorPropagates(t *testing.T) {
	emb := &stubEmbedder{fail: true}
	gen := &stubGenerator{}
	p := newTestPipeline(t, emb, gen)

	_, err := p.AnswerQuestion(context.Background(), "a question", 0)
	require.Error(t, err)
	var embErr *embeddings.Error
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, 0, gen.callCount())
}

func TestGenerationErrorPropagates(t *testing.T) {
	emb := &stubEmbedder{}
	gen := &stubGenerator{fail: true}
	p := newTestPipeline(t, emb, gen)

	ctx := context.Background()
	require.NoError(t, p.Ingest(ctx, []chunker.Chunk{
		{ChunkID: "c1", Text: "some indexed text", SourceURL: "/1", SourceTitle: "One"},
	}))

	_, err := p.AnswerQuestion(ctx, "some indexed text", 0)
	require.Error(t, err)
	var genErr *generation.Error
	require.ErrorAs(t, err, &genErr)
}

func TestIngestFailedBatchDegradesWithoutError(t *testing.T) {
	emb := &stubEmbedder{fail: true}
	gen := &stubGenerator{}
	p := newTestPipeline(t, emb, gen)

	ctx := context.Background()
	err := p.Ingest(ctx, []chunker.Chunk{
		{ChunkID: "c1", Text: "will not embed", SourceURL: "/1", SourceTitle: "One"},
	})
	require.NoError(t, err, "ingest is best-effort")

	n, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "failed-batch chunks are dropped, not stored")
}

func TestReindexReplacesCollection(t *testing.T) {
	emb := &stubEmbedder{}
	gen := &stubGenerator{}
	p := newTestPipeline(t, emb, gen)

	ctx := context.Background()
	require.NoError(t, p.Ingest(ctx, []chunker.Chunk{
		{ChunkID: "c1", Text: "old content", SourceURL: "/old", SourceTitle: "Old"},
		{ChunkID: "c2", Text: "more old content", SourceURL: "/old2", SourceTitle: "Old2"},
	}))

	require.NoError(t, p.Reindex(ctx, []chunker.Chunk{
		{ChunkID: "c3", Text: "fresh content", SourceURL: "/new", SourceTitle: "New"},
	}))

	n, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// countingStore records the topK each Search observes, to prove that
// concurrent per-call overrides never leak between callers.
type countingStore struct {
	mu       sync.Mutex
	searches []int
}

func (s *countingStore) Name() string { return "counting" }

func (s *countingStore) Add(context.Context, []vectorstore.Record) error { return nil }

func (s *countingStore) Clear(context.Context) error { return nil }

func (s *countingStore) Count(context.Context) (int, error) { return 0, nil }

func (s *countingStore) Search(_ context.Context, _ []float32, topK int) ([]vectorstore.Result, error) {
	s.mu.Lock()
	s.searches = append(s.searches, topK)
	s.mu.Unlock()
	results := make([]vectorstore.Result, topK)
	for i := range results {
		results[i] = vectorstore.Result{
			Text:        fmt.Sprintf("doc %d", i),
			SourceTitle: fmt.Sprintf("Title %d", i),
			Distance:    float64(i) / 10,
		}
	}
	return results, nil
}

func TestConcurrentTopKOverridesAreIndependent(t *testing.T) {
	store := &countingStore{}
	emb := &stubEmbedder{}
	gen := &stubGenerator{}
	p, err := New(store, emb, gen, Config{}, testLogger())
	require.NoError(t, err)

	const iterations = 50
	var wg sync.WaitGroup
	errCh := make(chan error, 2*iterations)

	ask := func(topK int) {
		defer wg.Done()
		answer, err := p.AnswerQuestion(context.Background(), "concurrent question", topK)
		if err != nil {
			errCh <- err
			return
		}
		if len(answer.Sources) != topK {
			errCh <- fmt.Errorf("topK %d observed %d sources", topK, len(answer.Sources))
		}
	}

	for i := 0; i < iterations; i++ {
		wg.Add(2)
		go ask(2)
		go ask(5)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, k := range store.searches {
		assert.Contains(t, []int{2, 5}, k)
	}
}

// mapCache is an in-memory pipeline.Cache for tests.
type mapCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func TestAnswerCacheShortCircuitsBackends(t *testing.T) {
	emb := &stubEmbedder{}
	gen := &stubGenerator{}
	p := newTestPipeline(t, emb, gen)
	p.WithCache(&mapCache{m: map[string][]byte{}})

	ctx := context.Background()
	require.NoError(t, p.Ingest(ctx, []chunker.Chunk{
		{ChunkID: "c1", Text: "cached topic text", SourceURL: "/1", SourceTitle: "One"},
	}))
	genCallsAfterIngest := gen.callCount()

	first, err := p.AnswerQuestion(ctx, "cached topic text", 1)
	require.NoError(t, err)
	second, err := p.AnswerQuestion(ctx, "cached topic text", 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, genCallsAfterIngest+1, gen.callCount(), "second answer served from cache")

	// A different topK is a different cache entry.
	_, err = p.AnswerQuestion(ctx, "cached topic text", 2)
	require.NoError(t, err)
	assert.Equal(t, genCallsAfterIngest+2, gen.callCount())
}

func TestIngestOnlyPipelineRefusesToAnswer(t *testing.T) {
	store := local.New(t.TempDir(), "docs", testLogger())
	emb := &stubEmbedder{}
	p, err := New(store, emb, nil, Config{}, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Ingest(ctx, []chunker.Chunk{
		{ChunkID: "c1", Text: "indexed text", SourceURL: "/1", SourceTitle: "One"},
	}))

	_, err = p.AnswerQuestion(ctx, "indexed text", 0)
	require.ErrorIs(t, err, ErrNoGenerator)
}
