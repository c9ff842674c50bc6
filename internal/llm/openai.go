package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OpenAIClient talks to the OpenAI Chat Completions API.
type OpenAIClient struct {
	config     OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIClient creates a client from the given configuration,
// filling in defaults for unset fields.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	def := DefaultOpenAIConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &OpenAIClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *OpenAIClient) buildRequest(req Request, stream bool) openAIRequest {
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
	}
	return openAIRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (c *OpenAIClient) setHeaders(httpReq *http.Request, stream bool) {
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
}

// Complete sends the request and returns the first choice's content.
// Rate limits and server errors are retried with exponential backoff.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.config.APIKey == "" {
		return "", fmt.Errorf("openai API key not configured")
	}
	payload, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, backoff(attempt-1)); err != nil {
				return "", err
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(httpReq, false)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}
		if retryable(resp.StatusCode) {
			lastErr = fmt.Errorf("openai API returned status %d: %s", resp.StatusCode, string(body))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("openai API returned status %d: %s", resp.StatusCode, string(body))
		}

		var parsed openAIResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		if parsed.Error != nil {
			return "", fmt.Errorf("openai API error: %s", parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return "", fmt.Errorf("openai API returned no choices")
		}
		return parsed.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("openai request failed after %d attempts: %w", c.config.MaxRetries, lastErr)
}

// Stream sends the request with streaming enabled and emits content
// deltas as they arrive.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		if c.config.APIKey == "" {
			errorChan <- fmt.Errorf("openai API key not configured")
			return
		}
		payload, err := json.Marshal(c.buildRequest(req, true))
		if err != nil {
			errorChan <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			errorChan <- fmt.Errorf("failed to create request: %w", err)
			return
		}
		c.setHeaders(httpReq, true)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			errorChan <- fmt.Errorf("request failed: %w", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			errorChan <- fmt.Errorf("openai API returned status %d: %s", resp.StatusCode, string(body))
			return
		}

		streamSSE(ctx, resp.Body, contentChan, errorChan, func(data string) (string, bool) {
			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return "", false
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				return chunk.Choices[0].Delta.Content, true
			}
			return "", false
		})
	}()

	return contentChan, errorChan
}
