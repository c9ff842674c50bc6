// Package retrieval fetches themed code context from the semantic-search
// service. The retrieved chunks ground generated explanations in how the
// site's templates and import jobs actually behave; when the service is
// unreachable the explanation simply proceeds without them.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roamhq/roam-saas-ai/internal/core"
)

// Search parameters sent with every query.
const (
	topK           = 10
	scoreThreshold = 0.2
)

// Config points the client at a semantic-search endpoint.
type Config struct {
	URL     string
	Corpus  string
	Timeout time.Duration
}

// Client calls the semantic-search service.
type Client struct {
	config     Config
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a search client. A zero timeout defaults to 15s.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.Named("retrieval"),
	}
}

type searchRequest struct {
	Query          string  `json:"query"`
	RewriteQuery   bool    `json:"rewrite_query"`
	TopK           int     `json:"top_k"`
	Reranking      bool    `json:"reranking"`
	ScoreThreshold float64 `json:"score_threshold"`
	Corpus         string  `json:"corpus,omitempty"`
}

type searchResult struct {
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
	Content  []struct {
		Text string `json:"text"`
	} `json:"content"`
}

type searchResponse struct {
	Data []searchResult `json:"data"`
}

// Retrieve returns formatted code context for the question, or the
// empty string. Transport and decode failures are logged and swallowed
// so a missing search service degrades the answer instead of failing
// the request.
func (c *Client) Retrieve(ctx context.Context, intent core.ParsedIntent, tenant string) string {
	if c.config.URL == "" {
		return ""
	}

	payload, err := json.Marshal(searchRequest{
		Query:          buildQuery(intent, tenant),
		RewriteQuery:   true,
		TopK:           topK,
		Reranking:      true,
		ScoreThreshold: scoreThreshold,
		Corpus:         c.config.Corpus,
	})
	if err != nil {
		c.log.Warn("failed to marshal search request", zap.Error(err))
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(payload))
	if err != nil {
		c.log.Warn("failed to create search request", zap.Error(err))
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("semantic search unavailable", zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("semantic search returned error", zap.Int("status", resp.StatusCode))
		return ""
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.log.Warn("failed to decode search response", zap.Error(err))
		return ""
	}
	return formatResults(parsed.Data)
}

// buildQuery combines the raw question with a domain descriptor and a
// theme hint so embeddings prefer the right corpus slice.
func buildQuery(intent core.ParsedIntent, tenant string) string {
	parts := []string{strings.TrimSpace(intent.RawQuestion)}
	switch intent.Domain {
	case core.DomainAtdwImport:
		parts = append(parts, "ATDW product import process, status handling, category mapping, region postcode filtering")
	case core.DomainPageComponent:
		component := intent.ComponentType
		if component == "" {
			component = "products"
		}
		parts = append(parts, fmt.Sprintf("How does the %s component work: filters, relations, sorting, limit", component))
	}
	if tenant != "" {
		parts = append(parts, "site theme: "+tenant)
	}
	return strings.Join(parts, " ")
}

// formatResults renders results as "--- file (score: X) ---" sections.
func formatResults(results []searchResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- %s (score: %.2f) ---\n", r.Filename, r.Score)
		for j, chunk := range r.Content {
			if j > 0 {
				b.WriteString("\n")
			}
			b.WriteString(chunk.Text)
		}
	}
	return b.String()
}
