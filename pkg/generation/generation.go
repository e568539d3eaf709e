// Package generation turns an assembled prompt into a natural-language
// answer through a pluggable backend.
package generation

import (
	"context"
	"fmt"
)

// Prompt is a system/user instruction pair.
type Prompt struct {
	System string
	User   string
}

// Options are per-call generation parameters.
type Options struct {
	MaxTokens   int
	Temperature float32
}

// Provider is the capability every generation backend implements.
// Exactly one backend is active per pipeline, chosen at construction.
type Provider interface {
	// Name identifies the backend, e.g. "openai" or "ollama".
	Name() string
	// Generate produces an answer for the prompt. Failures are not
	// retried and never converted into a placeholder answer.
	Generate(ctx context.Context, prompt Prompt, opts Options) (string, error)
}

// Error wraps a failure from a generation backend.
type Error struct {
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generation backend %s: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Generate invokes the provider and wraps any failure in *Error so
// callers can classify it with errors.As.
func Generate(ctx context.Context, p Provider, prompt Prompt, opts Options) (string, error) {
	answer, err := p.Generate(ctx, prompt, opts)
	if err != nil {
		return "", &Error{Backend: p.Name(), Err: err}
	}
	return answer, nil
}
