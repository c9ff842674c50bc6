// Package core holds the shared types that flow between the intent
// parser, the data collectors, the explanation generator, and the HTTP
// surface. It has no dependencies on the rest of the module so every
// layer can import it freely.
package core

import "strings"

// Intent domains.
const (
	DomainPageComponent = "page_component"
	DomainAtdwImport    = "atdw_import"
	DomainGeneral       = "general"
)

// Question classes the intent parser distinguishes.
const (
	QuestionWhyIncluded = "why_included"
	QuestionWhyExcluded = "why_excluded"
	QuestionWhatShows   = "what_shows"
	QuestionWhyOrder    = "why_order"
	QuestionGeneral     = "general"
)

// Sort orders a products component can be configured with.
const (
	OrderAlphabetical = "alphabetically"
	OrderEventDate    = "eventDate"
	OrderRandom       = "random"
)

// Trace step names for the page-component filter chain, in execution order.
const (
	StepResolveCategories = "resolve_categories"
	StepResolveRegions    = "resolve_regions"
	StepRegionToProducts  = "region_to_products"
	StepResolveTaxonomy   = "resolve_taxonomy"
	StepMainQuery         = "main_query"
	StepMergeExplicit     = "merge_explicit"
	StepApplyExcludes     = "apply_excludes"
	StepSort              = "sort"
	StepLimit             = "limit"

	// StepBlockConfig is emitted for non-products blocks and for pages
	// where no matching block exists.
	StepBlockConfig = "block_config"
)

// Trace step names for the ATDW import collector, in execution order.
const (
	StepAtdwLookup          = "atdw_lookup"
	StepAtdwRegionConfig    = "atdw_region_config"
	StepAtdwPostcodeMatch   = "atdw_postcode_match"
	StepAtdwStatusEval      = "atdw_status_eval"
	StepAtdwCategoryMapping = "atdw_category_mapping"
	StepAtdwEntryState      = "atdw_entry_state"
	StepAtdwEntryLink       = "atdw_entry_link"
)

// ParsedIntent is the structured form of a user question.
type ParsedIntent struct {
	Domain        string   `json:"domain"`
	PageURI       string   `json:"pageUri,omitempty"`
	PageName      string   `json:"pageName,omitempty"`
	ComponentType string   `json:"componentType"`
	ProductNames  []string `json:"productNames"`
	AtdwProductID string   `json:"atdwProductId,omitempty"`
	QuestionType  string   `json:"questionType"`
	RawQuestion   string   `json:"rawQuestion"`
}

// Ref is an element reference carrying the title alongside the id so
// explanations can name things instead of quoting numbers.
type Ref struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// RefIDs extracts the ids of a relation list in order.
func RefIDs(refs []Ref) []int64 {
	if len(refs) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}

// TraceStep is one verifiable snapshot in a collection trace.
//
// Count always equals len(ProductIDs) when ProductIDs carries the
// surviving set for the step. TargetPresent is nil when the caller
// supplied no targets or the step has no meaningful product set.
type TraceStep struct {
	Step          string         `json:"step"`
	Description   string         `json:"description"`
	Count         int            `json:"count"`
	ProductIDs    []int64        `json:"productIds"`
	TargetPresent *bool          `json:"targetPresent"`
	Details       map[string]any `json:"details,omitempty"`
}

// Presence evaluates the target predicate for one step: true if any
// target appears in ids, false if targets exist and none do, nil if no
// targets were supplied.
func Presence(ids, targets []int64) *bool {
	if len(targets) == 0 {
		return nil
	}
	present := false
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for _, t := range targets {
		if _, ok := set[t]; ok {
			present = true
			break
		}
	}
	return &present
}

// Bool returns a pointer to b, for the trace fields that distinguish
// false from absent.
func Bool(b bool) *bool { return &b }

// ComponentConfig is the resolved configuration of a products block.
// A Limit of -1 means the author set no display limit; zero is a real
// limit and produces an empty final list.
type ComponentConfig struct {
	Categories       []Ref   `json:"categories"`
	Regions          []Ref   `json:"regions"`
	Tiers            []Ref   `json:"tiers"`
	Taxonomy         []Ref   `json:"taxonomy"`
	ExplicitProducts []Ref   `json:"explicitProducts"`
	ExcludeProducts  []Ref   `json:"excludeProducts"`
	Limit            int     `json:"limit"`
	Order            string  `json:"order"`
	Style            *string `json:"style"`
	Layout           string  `json:"layout"`
}

// HasFilters reports whether any of the category, region, tier, or
// taxonomy dimensions is populated. Explicit product lists do not count
// as filters.
func (c ComponentConfig) HasFilters() bool {
	return len(c.Categories) > 0 || len(c.Regions) > 0 || len(c.Tiers) > 0 || len(c.Taxonomy) > 0
}

// AtdwImportConfig is the snapshot of one external-import product
// record plus the derived sets the import explanation draws on.
type AtdwImportConfig struct {
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	Category     string `json:"category"`
	AtdwStatus   string `json:"atdwStatus"`
	Imported     bool   `json:"imported"`
	HasEntry     bool   `json:"hasEntry"`
	EntryID      *int64 `json:"entryId,omitempty"`
	Postcode     string `json:"postcode,omitempty"`
	City         string `json:"city,omitempty"`
	Organisation string `json:"organisation,omitempty"`
	Reason       string `json:"reason,omitempty"`
	LastUpdated  string `json:"lastUpdated,omitempty"`

	ConfiguredRegions   []string `json:"configuredRegions,omitempty"`
	ConfiguredPostcodes []string `json:"configuredPostcodes,omitempty"`
	MatchingRegions     []string `json:"matchingRegions,omitempty"`
	MappedCategories    []string `json:"mappedCategories,omitempty"`
	EntryCategories     []string `json:"entryCategories,omitempty"`
}

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MaxHistoryTurns caps how much history a request may carry.
const MaxHistoryTurns = 20

// SanitizeHistory drops malformed turns and keeps the most recent
// MaxHistoryTurns. Roles other than user and assistant are discarded.
func SanitizeHistory(history []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		role := strings.TrimSpace(m.Role)
		if role != "user" && role != "assistant" {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, ChatMessage{Role: role, Content: m.Content})
	}
	if len(out) > MaxHistoryTurns {
		out = out[len(out)-MaxHistoryTurns:]
	}
	return out
}

// Block is one page-builder unit on a page: its type, position, scalar
// field values, and relation lists keyed by field handle.
type Block struct {
	ID          int64
	TypeHandle  string
	SortOrder   int
	FieldValues map[string]any
	Relations   map[string][]Ref
}

// Relation returns the named relation list, or nil.
func (b Block) Relation(handle string) []Ref {
	if b.Relations == nil {
		return nil
	}
	return b.Relations[handle]
}
