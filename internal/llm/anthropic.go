package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	config     AnthropicConfig
	httpClient *http.Client
}

// NewAnthropicClient creates a client from the given configuration,
// filling in defaults for unset fields.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	def := DefaultAnthropicConfig(cfg.APIKey)
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
	return &AnthropicClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (c *AnthropicClient) buildRequest(req Request, stream bool) anthropicRequest {
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return anthropicRequest{
		Model:       c.config.Model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (c *AnthropicClient) setHeaders(httpReq *http.Request, stream bool) {
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
}

// Complete sends the request and returns the concatenated text content.
// Rate limits and server errors are retried with exponential backoff.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.config.APIKey == "" {
		return "", fmt.Errorf("anthropic API key not configured")
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

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/messages", bytes.NewReader(payload))
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
			lastErr = fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(body))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(body))
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		if parsed.Error != nil {
			return "", fmt.Errorf("anthropic API error: %s", parsed.Error.Message)
		}
		var text strings.Builder
		for _, block := range parsed.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		return text.String(), nil
	}
	return "", fmt.Errorf("anthropic request failed after %d attempts: %w", c.config.MaxRetries, lastErr)
}

// Stream sends the request with streaming enabled and emits text deltas
// as they arrive.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		if c.config.APIKey == "" {
			errorChan <- fmt.Errorf("anthropic API key not configured")
			return
		}
		payload, err := json.Marshal(c.buildRequest(req, true))
		if err != nil {
			errorChan <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/messages", bytes.NewReader(payload))
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
			errorChan <- fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(body))
			return
		}

		streamSSE(ctx, resp.Body, contentChan, errorChan, func(data string) (string, bool) {
			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				return "", false
			}
			if event.Type == "content_block_delta" && event.Delta.Text != "" {
				return event.Delta.Text, true
			}
			return "", false
		})
	}()

	return contentChan, errorChan
}

// streamSSE scans an event stream and forwards extracted text chunks.
// extract parses one data payload; the stream ends at EOF or "[DONE]".
func streamSSE(ctx context.Context, body io.Reader, contentChan chan<- string, errorChan chan<- error, extract func(string) (string, bool)) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			if data == "[DONE]" {
				return
			}
			continue
		}
		text, ok := extract(data)
		if !ok {
			continue
		}
		select {
		case contentChan <- text:
		case <-ctx.Done():
			errorChan <- ctx.Err()
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			errorChan <- ctx.Err()
			return
		}
		errorChan <- fmt.Errorf("stream read failed: %w", err)
	}
}
