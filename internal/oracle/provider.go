package oracle

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// ProviderConfig selects and configures a Generator.
type ProviderConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	Timeout     time.Duration
}

// DefaultModels maps each provider to the model used when none is set.
var DefaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"gemini":    "gemini-1.5-flash",
	"ollama":    "llama3.1",
	"echo":      "echo",
}

// Providers lists the accepted provider names.
func Providers() []string {
	return []string{"openai", "anthropic", "gemini", "ollama", "echo"}
}

// NormalizeProvider maps aliases onto canonical provider names.
func NormalizeProvider(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "claude":
		return "anthropic"
	case "google":
		return "gemini"
	case "", "offline", "dummy":
		return "echo"
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

// NewGenerator builds the backend named by cfg.Provider. API keys fall back
// to the provider's usual environment variables.
func NewGenerator(ctx context.Context, cfg ProviderConfig) (Generator, error) {
	provider := NormalizeProvider(cfg.Provider)
	model := cfg.Model
	if model == "" {
		model = DefaultModels[provider]
	}

	switch provider {
	case "openai":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_KEY"))
		if key == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai: missing OPENAI_API_KEY")
		}
		return NewOpenAI(model, key, cfg.BaseURL, float32(cfg.Temperature)), nil
	case "anthropic":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("anthropic: missing ANTHROPIC_API_KEY")
		}
		return NewAnthropic(model, key, cfg.Temperature), nil
	case "gemini":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY"))
		return NewGemini(ctx, model, key, float32(cfg.Temperature))
	case "ollama":
		host := firstNonEmpty(cfg.BaseURL, os.Getenv("OLLAMA_HOST"))
		return NewOllama(model, host, cfg.Temperature, cfg.Timeout)
	case "echo":
		return Echo{}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q (expected one of %s)", cfg.Provider, strings.Join(Providers(), ", "))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
