// Package engine orchestrates one explanation request: validate, parse
// the intent, resolve the tenant, gather database evidence concurrently
// with code retrieval, then hand everything to the generator.
package engine

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roamhq/roam-saas-ai/internal/answer"
	"github.com/roamhq/roam-saas-ai/internal/core"
	"github.com/roamhq/roam-saas-ai/internal/errors"
)

// IntentParser classifies questions.
type IntentParser interface {
	Parse(ctx context.Context, question, pageURI string) core.ParsedIntent
}

// TenantResolver maps a request to a tenant identifier.
type TenantResolver interface {
	Resolve(ctx context.Context, explicit, hostname string) (tenant, source string, err error)
}

// Retriever fetches code context for the generator.
type Retriever interface {
	Retrieve(ctx context.Context, intent core.ParsedIntent, tenant string) string
}

// Generator produces the explanation prose.
type Generator interface {
	Explain(ctx context.Context, input answer.Input) string
	Stream(ctx context.Context, input answer.Input) (<-chan string, <-chan error)
}

// EvidenceCollector gathers the database-backed evidence for a request.
type EvidenceCollector interface {
	Collect(ctx context.Context, tenantID string, intent core.ParsedIntent, componentIndex int) (*Collected, error)
}

// Request is one explanation request after JSON decoding.
type Request struct {
	Question       string             `json:"question"`
	Tenant         string             `json:"tenant,omitempty"`
	Hostname       string             `json:"hostname,omitempty"`
	PageURI        string             `json:"pageUri,omitempty"`
	ComponentIndex int                `json:"componentIndex,omitempty"`
	History        []core.ChatMessage `json:"history,omitempty"`
}

// Timing is per-phase wall clock in milliseconds.
type Timing struct {
	ParseMS    int64 `json:"parseMs"`
	CollectMS  int64 `json:"collectMs"`
	RetrieveMS int64 `json:"retrieveMs"`
	GenerateMS int64 `json:"generateMs"`
	TotalMS    int64 `json:"totalMs"`
}

// Debug is the diagnostic block attached to every response.
type Debug struct {
	Intent    core.ParsedIntent `json:"intent"`
	Timing    Timing            `json:"timing"`
	RequestID string            `json:"requestId,omitempty"`
}

// Response is a buffered answer.
type Response struct {
	Explanation string           `json:"explanation"`
	Trace       []core.TraceStep `json:"trace"`
	Config      any              `json:"config"`
	Debug       Debug            `json:"debug"`
}

// Prepared holds everything gathered before generation.
type Prepared struct {
	Tenant  string
	Intent  core.ParsedIntent
	Config  *core.ComponentConfig
	Import  *core.AtdwImportConfig
	Trace   []core.TraceStep
	Targets []int64
	Context string
	History []core.ChatMessage
	Timing  Timing
}

// ConfigPayload returns whichever config shape the domain produced.
func (p *Prepared) ConfigPayload() any {
	if p.Import != nil {
		return p.Import
	}
	if p.Config != nil {
		return p.Config
	}
	return nil
}

func (p *Prepared) answerInput() answer.Input {
	return answer.Input{
		Intent:  p.Intent,
		Tenant:  p.Tenant,
		Config:  p.Config,
		Import:  p.Import,
		Trace:   p.Trace,
		Targets: p.Targets,
		Context: p.Context,
		History: p.History,
	}
}

// Deps wires the engine's collaborators.
type Deps struct {
	Tenants   TenantResolver
	Parser    IntentParser
	Collector EvidenceCollector
	Retriever Retriever
	Generator Generator
	Log       *zap.Logger
}

// Engine runs explanation requests end to end.
type Engine struct {
	tenants   TenantResolver
	parser    IntentParser
	collector EvidenceCollector
	retriever Retriever
	generator Generator
	log       *zap.Logger
}

// New creates an engine.
func New(deps Deps) *Engine {
	return &Engine{
		tenants:   deps.Tenants,
		parser:    deps.Parser,
		collector: deps.Collector,
		retriever: deps.Retriever,
		generator: deps.Generator,
		log:       deps.Log.Named("engine"),
	}
}

// Prepare validates the request and gathers everything generation
// needs. Code retrieval runs concurrently with the database work.
func (e *Engine) Prepare(ctx context.Context, req Request) (*Prepared, error) {
	start := time.Now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, errors.New(errors.BadRequest, "question must be a non-empty string")
	}

	parseStart := time.Now()
	intent := e.parser.Parse(ctx, question, req.PageURI)
	parseMS := elapsedMS(parseStart)

	tenantID, source, err := e.tenants.Resolve(ctx, req.Tenant, req.Hostname)
	if err != nil {
		return nil, err
	}
	e.log.Debug("request prepared",
		zap.String("tenant", tenantID),
		zap.String("tenantSource", source),
		zap.String("domain", intent.Domain))

	p := &Prepared{
		Tenant:  tenantID,
		Intent:  intent,
		History: core.SanitizeHistory(req.History),
	}
	p.Timing.ParseMS = parseMS

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t := time.Now()
		p.Context = e.retriever.Retrieve(gctx, intent, tenantID)
		p.Timing.RetrieveMS = elapsedMS(t)
		return nil
	})
	g.Go(func() error {
		t := time.Now()
		collected, err := e.collector.Collect(gctx, tenantID, intent, req.ComponentIndex)
		p.Timing.CollectMS = elapsedMS(t)
		if err != nil {
			return err
		}
		p.Config = collected.Config
		p.Import = collected.Import
		p.Trace = collected.Trace
		p.Targets = collected.Targets
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.Timing.TotalMS = elapsedMS(start)
	return p, nil
}

// Explain runs the full buffered path.
func (e *Engine) Explain(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	p, err := e.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	genStart := time.Now()
	text := e.generator.Explain(ctx, p.answerInput())
	p.Timing.GenerateMS = elapsedMS(genStart)
	p.Timing.TotalMS = elapsedMS(start)

	return &Response{
		Explanation: text,
		Trace:       p.Trace,
		Config:      p.ConfigPayload(),
		Debug:       Debug{Intent: p.Intent, Timing: p.Timing},
	}, nil
}

// Stream starts generation for an already prepared request. The caller
// owns event framing around the returned channels.
func (e *Engine) Stream(ctx context.Context, p *Prepared) (<-chan string, <-chan error) {
	return e.generator.Stream(ctx, p.answerInput())
}

func elapsedMS(since time.Time) int64 {
	return time.Since(since).Milliseconds()
}
