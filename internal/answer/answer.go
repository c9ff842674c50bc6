// Package answer turns a collected trace into prose. The generator
// prompts the LLM with the question, the component or import snapshot,
// the trace, retrieved code context, and recent conversation history;
// when the model is unavailable a deterministic summary keeps the
// endpoint useful.
package answer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/roamhq/roam-saas-ai/internal/core"
	"github.com/roamhq/roam-saas-ai/internal/llm"
)

const (
	answerTemperature = 0.7
	answerMaxTokens   = 1024
)

// History packing limits. Old turns give the model continuity but the
// newest turns matter most, so the oldest drop first.
const (
	historyBudget       = 3000
	historyMessageLimit = 500
)

const pagePersona = `You are a friendly helper for the people who manage a tourism website. You explain why products do or do not appear on a page.

Rules:
- Talk about "component settings", "categories", "regions", and "the product list". Never mention source files, function names, internal step names, database tables, or raw numeric ids.
- Ground every claim in the data provided. If the data does not answer the question, say what you can and ask one clarifying question.
- Answer in two or three short paragraphs of plain language.`

const importPersona = `You are a friendly helper for the people who manage a tourism website. You explain whether and why a product listing from the ATDW (Australian Tourism Data Warehouse) feed was imported into the site.

Rules:
- Talk about "the listing", "import regions", "postcodes", and "categories". Never mention source files, function names, internal step names, database tables, or raw numeric ids.
- Ground every claim in the data provided. If the data does not answer the question, say what you can and ask one clarifying question.
- Answer in two or three short paragraphs of plain language.`

// Input carries everything the generator may draw on for one answer.
type Input struct {
	Intent  core.ParsedIntent
	Tenant  string
	Config  *core.ComponentConfig
	Import  *core.AtdwImportConfig
	Trace   []core.TraceStep
	Targets []int64
	Context string
	History []core.ChatMessage
}

// Generator produces explanations.
type Generator struct {
	llm llm.Client
	log *zap.Logger
}

// NewGenerator creates a generator backed by the given model client.
func NewGenerator(client llm.Client, log *zap.Logger) *Generator {
	return &Generator{llm: client, log: log.Named("answer")}
}

// Explain returns the model's prose for the collected data. Any model
// failure degrades to the deterministic fallback summary.
func (g *Generator) Explain(ctx context.Context, input Input) string {
	text, err := g.llm.Complete(ctx, g.request(input))
	if err != nil {
		g.log.Warn("generation failed, using deterministic fallback", zap.Error(err))
		return Fallback(input)
	}
	if strings.TrimSpace(text) == "" {
		g.log.Warn("model returned an empty answer, using deterministic fallback")
		return Fallback(input)
	}
	return text
}

// Stream forwards the model's chunks verbatim. The caller owns event
// framing; a failed stream surfaces on the error channel.
func (g *Generator) Stream(ctx context.Context, input Input) (<-chan string, <-chan error) {
	return g.llm.Stream(ctx, g.request(input))
}

func (g *Generator) request(input Input) llm.Request {
	return llm.Request{
		System:      persona(input.Intent.Domain),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildUserPrompt(input)}},
		MaxTokens:   answerMaxTokens,
		Temperature: answerTemperature,
	}
}

func persona(domain string) string {
	if domain == core.DomainAtdwImport {
		return importPersona
	}
	return pagePersona
}

// buildUserPrompt packs the question and every piece of collected
// evidence into one message.
func buildUserPrompt(input Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", input.Intent.RawQuestion)
	if input.Intent.PageURI != "" {
		fmt.Fprintf(&b, "Page: %s\n", input.Intent.PageURI)
	}
	if len(input.Targets) > 0 {
		ids := make([]string, 0, len(input.Targets))
		for _, id := range input.Targets {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		fmt.Fprintf(&b, "Asked-about product ids: %s\n", strings.Join(ids, ", "))
	}

	if input.Config != nil {
		b.WriteString("\n== Component settings ==\n")
		b.WriteString(formatComponentConfig(*input.Config))
		b.WriteString("\n")
	}
	if input.Import != nil {
		b.WriteString("\n== Import record ==\n")
		b.WriteString(formatImportConfig(*input.Import))
		b.WriteString("\n")
	}
	if len(input.Trace) > 0 {
		b.WriteString("\n== What the data shows ==\n")
		b.WriteString(formatTrace(input.Trace))
		b.WriteString("\n")
	}
	if input.Context != "" {
		b.WriteString("\n== How the site's code works ==\n")
		b.WriteString(input.Context)
		b.WriteString("\n")
	}
	if history := packHistory(input.History); history != "" {
		b.WriteString("\n== Conversation so far ==\n")
		b.WriteString(history)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// packHistory renders the newest turns that fit the character budget,
// each message trimmed, oldest dropped first.
func packHistory(history []core.ChatMessage) string {
	history = core.SanitizeHistory(history)
	var kept []string
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		content := trimMessage(history[i].Content)
		line := history[i].Role + ": " + content
		if total+len(line) > historyBudget {
			break
		}
		kept = append(kept, line)
		total += len(line)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}

func trimMessage(content string) string {
	runes := []rune(content)
	if len(runes) <= historyMessageLimit {
		return content
	}
	return string(runes[:historyMessageLimit]) + "…"
}
