// Package oracle turns prompts into summaries through a language model
// backend, with retries, rate limiting and a chunked fallback for inputs
// larger than the model's context window.
package oracle

import (
	"context"
	"errors"
	"fmt"
)

// Oracle is what the reducer needs from a model.
type Oracle interface {
	// Summarize sends prompt and returns at most maxTokens of output.
	Summarize(ctx context.Context, prompt string, maxTokens int) (string, error)
	// SummarizeLong summarizes text that does not fit the context window by
	// chunking it and reducing the partial summaries. name picks a grammar
	// for syntax-aware chunking.
	SummarizeLong(ctx context.Context, name, text string, maxTokens int) (string, error)
	CountTokens(text string) int
	ContextWindow() int
}

// Generator is a single model backend.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

func (f GeneratorFunc) Name() string { return "func" }

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f(ctx, prompt, maxTokens)
}

var errEmptyResponse = errors.New("model returned an empty response")

// Error reports a summarization that failed after every retry.
type Error struct {
	Provider string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: summarization failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFailure reports whether err is an oracle failure.
func IsFailure(err error) bool {
	var oe *Error
	return errors.As(err, &oe)
}
