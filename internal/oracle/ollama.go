package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// DefaultOllamaHost is used when neither config nor OLLAMA_HOST names one.
const DefaultOllamaHost = "http://localhost:11434"

// Ollama generates with a local Ollama server.
type Ollama struct {
	client      *ollama.Client
	model       string
	temperature float64
}

func NewOllama(model, host string, temperature float64, timeout time.Duration) (*Ollama, error) {
	if host == "" {
		host = DefaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	httpClient := &http.Client{Timeout: timeout}
	return &Ollama{
		client:      ollama.NewClient(u, httpClient),
		model:       model,
		temperature: temperature,
	}, nil
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	options := map[string]any{"temperature": o.temperature}
	if maxTokens > 0 {
		options["num_predict"] = maxTokens
	}
	req := &ollama.GenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Options: options,
	}

	var text strings.Builder
	if err := o.client.Generate(ctx, req, func(gr ollama.GenerateResponse) error {
		text.WriteString(gr.Response)
		return nil
	}); err != nil {
		return "", err
	}
	return text.String(), nil
}
