package llm

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Options selects and configures a provider for New.
type Options struct {
	Provider   Provider
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// New builds a Client for the configured provider. When no API key is
// given it falls back to the provider's conventional environment
// variable.
func New(ctx context.Context, opts Options) (Client, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(envKey(opts.Provider))
	}

	switch opts.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			APIKey:     apiKey,
			BaseURL:    opts.BaseURL,
			Model:      opts.Model,
			Timeout:    opts.Timeout,
			MaxRetries: opts.MaxRetries,
		}), nil
	case ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:     apiKey,
			BaseURL:    opts.BaseURL,
			Model:      opts.Model,
			Timeout:    opts.Timeout,
			MaxRetries: opts.MaxRetries,
		}), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey: apiKey,
			Model:  opts.Model,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}

func envKey(p Provider) string {
	switch p {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	}
	return ""
}
