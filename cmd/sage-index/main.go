// Command sage-index crawls a site, chunks the extracted text, embeds
// the chunks and reindexes the vector store with the result.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/barekit/sage/pkg/app"
	"github.com/barekit/sage/pkg/chunker"
	"github.com/barekit/sage/pkg/config"
	"github.com/barekit/sage/pkg/crawler"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("indexing failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	baseURL := cfg.BaseURL
	if len(os.Args) > 1 {
		baseURL = os.Args[1]
	}
	if baseURL == "" {
		return fmt.Errorf("no base URL: pass it as an argument or set BASE_URL")
	}

	c, err := crawler.New(crawler.Config{
		BaseURL:  baseURL,
		MaxDepth: cfg.MaxCrawlDepth,
		MaxPages: cfg.MaxPages,
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("crawling", "base_url", baseURL,
		"max_depth", cfg.MaxCrawlDepth, "max_pages", cfg.MaxPages)
	pages, err := c.Crawl(ctx)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("no pages crawled from %s", baseURL)
	}
	logger.Info("crawl finished", "pages", len(pages))

	ch := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	var chunks []chunker.Chunk
	for _, page := range pages {
		chunks = append(chunks, ch.ProcessPage(page.URL, page.Title, page.Content)...)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks produced from %d pages", len(pages))
	}
	logger.Info("chunking finished", "chunks", len(chunks))

	p, err := app.NewPipeline(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}

	if err := p.Reindex(ctx, chunks); err != nil {
		return fmt.Errorf("reindex: %w", err)
	}

	count, err := p.Count(ctx)
	if err != nil {
		return err
	}
	logger.Info("indexing finished", "indexed_records", count)
	return nil
}
