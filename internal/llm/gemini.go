package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient talks to the Gemini API through the official GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a client from the given configuration,
// filling in defaults for unset fields.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiConfig(cfg.APIKey).Model
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.Model}, nil
}

func geminiArgs(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, config
}

// Complete sends the request and returns the response text.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	contents, config := geminiArgs(req)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Stream sends the request and emits response chunks as they arrive.
func (c *GeminiClient) Stream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		contents, config := geminiArgs(req)
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, config) {
			if err != nil {
				errorChan <- fmt.Errorf("gemini stream failed: %w", err)
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case contentChan <- text:
			case <-ctx.Done():
				errorChan <- ctx.Err()
				return
			}
		}
	}()

	return contentChan, errorChan
}

// Close releases the underlying SDK client. The genai SDK's client holds
// no closeable resources, so there is nothing to release.
func (c *GeminiClient) Close() error {
	return nil
}
