// Package intent turns a raw question into a structured ParsedIntent.
// Classification goes through the LLM; a deterministic admin-URL rule
// runs first and a regex classifier covers model failures, so parsing
// always yields a usable intent.
package intent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roamhq/roam-saas-ai/internal/core"
	"github.com/roamhq/roam-saas-ai/internal/llm"
)

// Classification keeps the model terse and deterministic.
const (
	classifyTemperature = 0.1
	classifyMaxTokens   = 256
)

const classifyPrompt = `You classify questions about a tourism website so the right data can be collected. Respond with a single JSON object and nothing else.

Fields:
  "domain": one of
      "page_component" - why a page shows, hides, or orders products
      "atdw_import"    - whether an ATDW/Atlas product was imported into the site
      "general"        - anything else
  "pageUri": the page path if the question names one (e.g. "/things-to-do"), else omit
  "pageName": the page title if the question names one, else omit
  "componentType": the page-builder component being asked about, lower-case (default "products")
  "productNames": product titles mentioned in the question, as an array of strings
  "atdwProductId": the ATDW product id if one appears in the question, else omit
  "questionType": one of
      "why_included" - why something appears
      "why_excluded" - why something is missing
      "what_shows"   - what the page or component will display
      "why_order"    - why things appear in this order
      "general"      - none of the above`

// adminEntryRe matches the CMS edit URL for a product entry. A question
// asked from that screen is always about the import pipeline.
var adminEntryRe = regexp.MustCompile(`^/admin/entries/products/(\d+)-(.+)$`)

// atdwQuestionRe is the rule-based domain classifier used when the
// model response cannot be parsed.
var atdwQuestionRe = regexp.MustCompile(`(?i)\batdw\b|\batlas\b|\bimport(?:ed)?\b.*\bproduct\b|\bproduct\b.*\bimport`)

var validDomains = map[string]bool{
	core.DomainPageComponent: true,
	core.DomainAtdwImport:    true,
	core.DomainGeneral:       true,
}

var validQuestionTypes = map[string]bool{
	core.QuestionWhyIncluded: true,
	core.QuestionWhyExcluded: true,
	core.QuestionWhatShows:   true,
	core.QuestionWhyOrder:    true,
	core.QuestionGeneral:     true,
}

// Completer is the slice of the LLM client the parser needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Parser classifies questions.
type Parser struct {
	llm Completer
	log *zap.Logger
}

// NewParser creates an intent parser backed by the given model client.
func NewParser(client Completer, log *zap.Logger) *Parser {
	return &Parser{llm: client, log: log.Named("intent")}
}

// intentWire is the JSON shape the model is asked to produce.
type intentWire struct {
	Domain        string   `json:"domain"`
	PageURI       string   `json:"pageUri"`
	PageName      string   `json:"pageName"`
	ComponentType string   `json:"componentType"`
	ProductNames  []string `json:"productNames"`
	AtdwProductID string   `json:"atdwProductId"`
	QuestionType  string   `json:"questionType"`
}

// Parse classifies the question. pageURI is the optional page hint sent
// by the widget; an admin entry URL forces the import domain regardless
// of what the model decides.
func (p *Parser) Parse(ctx context.Context, question, pageURI string) core.ParsedIntent {
	intent := p.classify(ctx, question, pageURI)
	intent.RawQuestion = question

	adminName, fromAdmin := adminProductName(pageURI)
	if fromAdmin {
		intent.Domain = core.DomainAtdwImport
		intent.ProductNames = mergeNames(adminName, intent.ProductNames)
		intent.PageURI = ""
	} else if intent.PageURI == "" {
		intent.PageURI = pageURI
	}

	intent.ComponentType = strings.ToLower(strings.TrimSpace(intent.ComponentType))
	if intent.ComponentType == "" {
		intent.ComponentType = "products"
	}
	if !fromAdmin {
		intent.ProductNames = mergeNames("", intent.ProductNames)
	}
	return intent
}

func (p *Parser) classify(ctx context.Context, question, pageURI string) core.ParsedIntent {
	prompt := question
	if pageURI != "" {
		prompt += "\n\nCurrent page: " + pageURI
	}
	raw, err := p.llm.Complete(ctx, llm.Request{
		System:      classifyPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   classifyMaxTokens,
		Temperature: classifyTemperature,
	})
	if err != nil {
		p.log.Warn("intent model unavailable, using rule-based classifier", zap.Error(err))
		return fallbackClassify(question)
	}

	obj, ok := firstJSONObject(raw)
	if !ok {
		p.log.Warn("intent response carried no JSON object")
		return fallbackClassify(question)
	}
	var wire intentWire
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		p.log.Warn("failed to decode intent response", zap.Error(err))
		return fallbackClassify(question)
	}

	intent := core.ParsedIntent{
		Domain:        wire.Domain,
		PageURI:       wire.PageURI,
		PageName:      wire.PageName,
		ComponentType: wire.ComponentType,
		ProductNames:  wire.ProductNames,
		AtdwProductID: strings.TrimSpace(wire.AtdwProductID),
		QuestionType:  wire.QuestionType,
	}
	if !validDomains[intent.Domain] {
		intent.Domain = classifyDomain(question)
	}
	if !validQuestionTypes[intent.QuestionType] {
		intent.QuestionType = core.QuestionGeneral
	}
	return intent
}

// fallbackClassify is the rule-based classifier for when the model is
// unavailable or unparseable.
func fallbackClassify(question string) core.ParsedIntent {
	return core.ParsedIntent{
		Domain:        classifyDomain(question),
		ComponentType: "products",
		QuestionType:  questionTypeHeuristic(question),
	}
}

func classifyDomain(question string) string {
	if atdwQuestionRe.MatchString(question) {
		return core.DomainAtdwImport
	}
	return core.DomainPageComponent
}

func questionTypeHeuristic(question string) string {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "order") || strings.Contains(q, "sort"):
		return core.QuestionWhyOrder
	case strings.Contains(q, "why") && (strings.Contains(q, "not") || strings.Contains(q, "missing") || strings.Contains(q, "isn")):
		return core.QuestionWhyExcluded
	case strings.Contains(q, "why"):
		return core.QuestionWhyIncluded
	case strings.Contains(q, "what") && strings.Contains(q, "show"):
		return core.QuestionWhatShows
	default:
		return core.QuestionGeneral
	}
}

// adminProductName derives a product name from a CMS entry edit URL.
// "/admin/entries/products/4120-harbour-kayak-tours" yields
// "Harbour Kayak Tours".
func adminProductName(pageURI string) (string, bool) {
	m := adminEntryRe.FindStringSubmatch(pageURI)
	if m == nil {
		return "", false
	}
	slug := strings.ReplaceAll(m[2], "-", " ")
	name := cases.Title(language.English).String(slug)
	return strings.TrimSpace(name), true
}

// mergeNames prepends the admin-derived name and dedupes the rest
// case-insensitively, preserving order.
func mergeNames(adminName string, names []string) []string {
	out := make([]string, 0, len(names)+1)
	seen := make(map[string]bool, len(names)+1)
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, name)
	}
	add(adminName)
	for _, n := range names {
		add(n)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// firstJSONObject extracts the first balanced top-level JSON object
// from s. A byte state machine tracks brace depth and skips string
// contents; ASCII delimiters never appear inside UTF-8 continuation
// bytes, so byte iteration is safe.
func firstJSONObject(s string) (string, bool) {
	var depth int
	start := -1
	var inString, escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
