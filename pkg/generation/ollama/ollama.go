// Package ollama implements generation.Provider against a local Ollama
// daemon using its non-streaming generate endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/barekit/sage/pkg/generation"
)

// DefaultBaseURL is the fixed local endpoint of the Ollama daemon.
const DefaultBaseURL = "http://localhost:11434"

// DefaultModel is used when no chat model is configured.
const DefaultModel = "llama3.2"

// Provider is the local daemon generation backend.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client
}

// Config configures the Ollama provider.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// New creates an Ollama chat provider.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Provider{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Name identifies the backend.
func (p *Provider) Name() string { return "ollama" }

// Generate posts the flattened prompt to /api/generate with the
// temperature and token limit mapped to Ollama's native option names.
func (p *Provider) Generate(ctx context.Context, prompt generation.Prompt, opts generation.Options) (string, error) {
	options := map[string]any{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	body, err := json.Marshal(map[string]any{
		"model":   p.model,
		"prompt":  prompt.System + "\n\n" + prompt.User,
		"stream":  false,
		"options": options,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama generate failed: %s: %s", resp.Status, msg)
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Response, nil
}
