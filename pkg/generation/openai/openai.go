// Package openai implements generation.Provider using the OpenAI chat
// completions API.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/barekit/sage/pkg/generation"
)

// DefaultModel is used when no chat model is configured.
const DefaultModel = openai.ChatModelGPT4oMini

// Provider is the remote generation backend.
type Provider struct {
	client *openai.Client
	model  string
}

// New creates an OpenAI chat provider. An empty model selects
// DefaultModel.
func New(model string, opts ...option.RequestOption) *Provider {
	client := openai.NewClient(opts...)
	if model == "" {
		model = DefaultModel
	}
	return &Provider{
		client: &client,
		model:  model,
	}
}

// Name identifies the backend.
func (p *Provider) Name() string { return "openai" }

// Generate sends the prompt as a system/user message pair.
func (p *Provider) Generate(ctx context.Context, prompt generation.Prompt, opts generation.Options) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		},
		Model: p.model,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(float64(opts.Temperature))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}
