// Package llm wraps the chat-completion providers behind one small
// client interface. Providers share the request shape; each adapts it
// to its own wire format.
package llm

import (
	"context"
	"time"
)

// Message roles on the chat wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-independent completion request.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Client is a chat-completion provider.
type Client interface {
	// Complete returns the full response text.
	Complete(ctx context.Context, req Request) (string, error)
	// Stream emits response chunks as they arrive. Both channels close
	// when the stream ends; at most one error is sent.
	Stream(ctx context.Context, req Request) (<-chan string, <-chan error)
}

// Provider selects an LLM backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:     apiKey,
		BaseURL:    "https://api.anthropic.com/v1",
		Model:      "claude-sonnet-4-5",
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:     apiKey,
		BaseURL:    "https://api.openai.com/v1",
		Model:      "gpt-4o-mini",
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey: apiKey,
		Model:  "gemini-2.5-flash",
	}
}

// retryable reports whether a status code is worth another attempt.
func retryable(status int) bool {
	return status == 429 || status >= 500
}

// backoff is the delay before retry attempt n (1-based).
func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
