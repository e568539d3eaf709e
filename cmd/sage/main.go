// Command sage serves the Q&A support bot API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/barekit/sage/pkg/api"
	"github.com/barekit/sage/pkg/app"
	"github.com/barekit/sage/pkg/config"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
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

	p, err := app.NewPipeline(ctx, cfg, logger)
	if err != nil {
		// Serve anyway: pipeline routes answer 503 until fixed.
		logger.Error("failed to initialize pipeline", "error", err)
		p = nil
	}

	var answerer api.Answerer
	if p != nil {
		answerer = p
	}
	server := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler: api.NewServer(api.ServerConfig{
			Logger:         logger,
			Pipeline:       answerer,
			Collection:     cfg.Collection,
			EmbeddingModel: cfg.EmbeddingModel,
			LLMModel:       cfg.LLMModel,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
