package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roamhq/roam-saas-ai/internal/core"
	"github.com/roamhq/roam-saas-ai/internal/llm"
)

type stubClient struct {
	response  string
	err       error
	chunks    []string
	streamErr error
	requests  []llm.Request
}

func (s *stubClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.requests = append(s.requests, req)
	return s.response, s.err
}

func (s *stubClient) Stream(ctx context.Context, req llm.Request) (<-chan string, <-chan error) {
	s.requests = append(s.requests, req)
	contentChan := make(chan string, len(s.chunks))
	errorChan := make(chan error, 1)
	for _, c := range s.chunks {
		contentChan <- c
	}
	if s.streamErr != nil {
		errorChan <- s.streamErr
	}
	close(contentChan)
	close(errorChan)
	return contentChan, errorChan
}

func pageInput() Input {
	return Input{
		Intent: core.ParsedIntent{
			Domain:      core.DomainPageComponent,
			RawQuestion: "why is the kayak tour missing?",
			PageURI:     "/things-to-do",
		},
		Config: &core.ComponentConfig{
			Categories: []core.Ref{{ID: 10, Title: "Things To Do"}},
			Limit:      12,
			Order:      core.OrderAlphabetical,
		},
		Trace: []core.TraceStep{
			{Step: core.StepResolveCategories, Description: "1 category filter active", Count: 1, ProductIDs: []int64{10}},
			{Step: core.StepMainQuery, Description: "Products matching all filters", Count: 3, ProductIDs: []int64{1, 2, 3}, TargetPresent: core.Bool(true)},
			{Step: core.StepLimit, Description: "3 of 3 products shown", Count: 3, ProductIDs: []int64{1, 2, 3}, TargetPresent: core.Bool(false)},
		},
		Targets: []int64{42},
		Context: "--- templates/products.twig (score: 0.91) ---\ncode chunk",
		History: []core.ChatMessage{{Role: "user", Content: "earlier question"}},
	}
}

func TestExplainUsesModel(t *testing.T) {
	stub := &stubClient{response: "The component only shows Things To Do products."}
	gen := NewGenerator(stub, zap.NewNop())

	out := gen.Explain(context.Background(), pageInput())
	assert.Equal(t, "The component only shows Things To Do products.", out)

	require.Len(t, stub.requests, 1)
	req := stub.requests[0]
	assert.Contains(t, req.System, "component settings")
	prompt := req.Messages[0].Content
	assert.Contains(t, prompt, "why is the kayak tour missing?")
	assert.Contains(t, prompt, "Page: /things-to-do")
	assert.Contains(t, prompt, "Asked-about product ids: 42")
	assert.Contains(t, prompt, "Categories: Things To Do")
	assert.Contains(t, prompt, "Category filters")
	assert.Contains(t, prompt, "templates/products.twig")
	assert.Contains(t, prompt, "user: earlier question")
}

func TestExplainFallsBackOnModelError(t *testing.T) {
	stub := &stubClient{err: errors.New("model down")}
	gen := NewGenerator(stub, zap.NewNop())

	out := gen.Explain(context.Background(), pageInput())
	assert.Contains(t, out, "here is a summary of the data")
	assert.Contains(t, out, "Things To Do")
}

func TestExplainFallsBackOnEmptyResponse(t *testing.T) {
	stub := &stubClient{response: "   \n"}
	gen := NewGenerator(stub, zap.NewNop())

	out := gen.Explain(context.Background(), pageInput())
	assert.Contains(t, out, "here is a summary of the data")
}

func TestStreamForwardsChunks(t *testing.T) {
	stub := &stubClient{chunks: []string{"The ", "component ", "filters."}}
	gen := NewGenerator(stub, zap.NewNop())

	contentChan, errorChan := gen.Stream(context.Background(), pageInput())
	var got []string
	for chunk := range contentChan {
		got = append(got, chunk)
	}
	assert.Equal(t, []string{"The ", "component ", "filters."}, got)
	assert.NoError(t, <-errorChan)
}

func TestPersonaByDomain(t *testing.T) {
	assert.Contains(t, persona(core.DomainAtdwImport), "ATDW")
	assert.Contains(t, persona(core.DomainPageComponent), "appear on a page")
	assert.Contains(t, persona(core.DomainGeneral), "appear on a page")

	for _, p := range []string{pagePersona, importPersona} {
		assert.Contains(t, p, "Never mention source files")
		assert.Contains(t, p, "raw numeric ids")
		assert.Contains(t, p, "clarifying question")
	}
}

func TestBuildUserPromptOmitsEmptySections(t *testing.T) {
	prompt := buildUserPrompt(Input{
		Intent: core.ParsedIntent{Domain: core.DomainGeneral, RawQuestion: "how does this site work?"},
	})
	assert.Contains(t, prompt, "how does this site work?")
	assert.NotContains(t, prompt, "Component settings")
	assert.NotContains(t, prompt, "Import record")
	assert.NotContains(t, prompt, "What the data shows")
	assert.NotContains(t, prompt, "Conversation so far")
}

func TestBuildUserPromptImportSection(t *testing.T) {
	prompt := buildUserPrompt(Input{
		Intent: core.ParsedIntent{Domain: core.DomainAtdwImport, RawQuestion: "was it imported?"},
		Import: &core.AtdwImportConfig{ProductID: "abc123", ProductName: "Harbour Kayak Tours", AtdwStatus: "ACTIVE", Imported: true},
	})
	assert.Contains(t, prompt, "== Import record ==")
	assert.Contains(t, prompt, "Harbour Kayak Tours")
	assert.Contains(t, prompt, "Status: ACTIVE")
}

func TestPackHistoryTrimsLongMessages(t *testing.T) {
	long := strings.Repeat("a", 600)
	out := packHistory([]core.ChatMessage{{Role: "user", Content: long}})
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.Contains(t, out, strings.Repeat("a", 500))
	assert.NotContains(t, out, strings.Repeat("a", 501))
}

func TestPackHistoryDropsOldestFirst(t *testing.T) {
	var history []core.ChatMessage
	for i := 0; i < 10; i++ {
		content := fmt.Sprintf("msg%02d %s", i, strings.Repeat("x", 394))
		history = append(history, core.ChatMessage{Role: "user", Content: content})
	}
	out := packHistory(history)
	lines := strings.Split(out, "\n")

	assert.Len(t, lines, 7, "seven 406-character lines fit the 3000-character budget")
	assert.Contains(t, lines[0], "msg03")
	assert.Contains(t, lines[6], "msg09")
	assert.NotContains(t, out, "msg02")
}

func TestPackHistoryCapsTurns(t *testing.T) {
	var history []core.ChatMessage
	for i := 0; i < 25; i++ {
		history = append(history, core.ChatMessage{Role: "user", Content: fmt.Sprintf("turn %d", i)})
	}
	out := packHistory(history)
	assert.Len(t, strings.Split(out, "\n"), core.MaxHistoryTurns)
	assert.NotContains(t, out, "turn 4\n", "oldest turns beyond the cap are gone")
	assert.Contains(t, out, "turn 24")
}

func TestPackHistoryDiscardsMalformedTurns(t *testing.T) {
	out := packHistory([]core.ChatMessage{
		{Role: "system", Content: "ignore me"},
		{Role: "user", Content: "  "},
		{Role: "assistant", Content: "kept"},
	})
	assert.Equal(t, "assistant: kept", out)
}
