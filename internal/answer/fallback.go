package answer

import (
	"fmt"
	"strings"

	"github.com/roamhq/roam-saas-ai/internal/core"
)

const fallbackIntro = "I couldn't generate a full explanation just now, so here is a summary of the data.\n\n"

// Fallback paraphrases the collected data without a model: the active
// filters, the final count, and the stage where the asked-about
// product disappeared.
func Fallback(input Input) string {
	if input.Intent.Domain == core.DomainAtdwImport {
		return importFallback(input)
	}
	return pageFallback(input)
}

func pageFallback(input Input) string {
	var parts []string
	if input.Config != nil {
		parts = append(parts, describeFilters(*input.Config))
	}
	if len(input.Trace) > 0 {
		last := input.Trace[len(input.Trace)-1]
		if last.Step == core.StepBlockConfig {
			parts = append(parts, "This component does not run product filters; its settings are summarised above.")
		} else {
			parts = append(parts, fmt.Sprintf("The final list contains %d %s.", last.Count, plural(last.Count, "product", "products")))
		}
	}
	if step := firstAbsentStep(input.Trace); step != "" {
		parts = append(parts, fmt.Sprintf("The product you asked about drops out at the %s stage.", strings.ToLower(stepLabel(step))))
	} else if p := lastPresence(input.Trace); p != nil && *p {
		parts = append(parts, "The product you asked about is in the final list.")
	}
	if len(parts) == 0 {
		return fallbackIntro + "No component data could be collected for this question."
	}
	return fallbackIntro + strings.Join(parts, " ")
}

func importFallback(input Input) string {
	if input.Import == nil {
		names := strings.Join(input.Intent.ProductNames, ", ")
		if names == "" {
			names = input.Intent.AtdwProductID
		}
		if names == "" {
			return fallbackIntro + "No ATDW record could be matched to the question."
		}
		return fallbackIntro + fmt.Sprintf("No ATDW record matched %s. The listing may never have reached this site's feed.", names)
	}

	cfg := *input.Import
	verb := "was imported"
	if !cfg.Imported {
		verb = "was not imported"
	}
	parts := []string{fmt.Sprintf("The listing %q has status %s and %s.", cfg.ProductName, cfg.AtdwStatus, verb)}
	if cfg.Reason != "" {
		parts = append(parts, "Recorded reason: "+cfg.Reason+".")
	}
	if len(cfg.MatchingRegions) > 0 {
		parts = append(parts, fmt.Sprintf("Its postcode %s falls inside %s.", cfg.Postcode, strings.Join(cfg.MatchingRegions, ", ")))
	} else if cfg.Postcode != "" && len(cfg.ConfiguredRegions) > 0 {
		parts = append(parts, fmt.Sprintf("Its postcode %s does not fall inside any configured import region.", cfg.Postcode))
	}
	if cfg.HasEntry {
		parts = append(parts, "A website entry is linked to it.")
	} else {
		parts = append(parts, "No website entry is linked to it.")
	}
	return fallbackIntro + strings.Join(parts, " ")
}

// describeFilters summarises the filtering dimensions of a component
// in one sentence.
func describeFilters(cfg core.ComponentConfig) string {
	var clauses []string
	appendClause := func(label string, refs []core.Ref) {
		if len(refs) == 0 {
			return
		}
		titles := make([]string, 0, len(refs))
		for _, r := range refs {
			titles = append(titles, r.Title)
		}
		clauses = append(clauses, fmt.Sprintf("%s (%s)", label, strings.Join(titles, ", ")))
	}
	appendClause("categories", cfg.Categories)
	appendClause("regions", cfg.Regions)
	appendClause("tiers", cfg.Tiers)
	appendClause("taxonomy", cfg.Taxonomy)

	var out string
	if len(clauses) == 0 {
		out = "This component has no category, region, tier, or taxonomy filters."
	} else {
		out = "This component filters by " + strings.Join(clauses, " and ") + "."
	}
	if n := len(cfg.ExplicitProducts); n > 0 {
		out += fmt.Sprintf(" It also hand-picks %d %s.", n, plural(n, "product", "products"))
	}
	if n := len(cfg.ExcludeProducts); n > 0 {
		out += fmt.Sprintf(" %d %s explicitly excluded.", n, plural(n, "product is", "products are"))
	}
	return out
}

// firstAbsentStep names the step where the asked-about product
// disappeared for good: the first absent step after the last step that
// still showed it present.
func firstAbsentStep(trace []core.TraceStep) string {
	lastTrue := -1
	for i, s := range trace {
		if s.TargetPresent != nil && *s.TargetPresent {
			lastTrue = i
		}
	}
	for i := lastTrue + 1; i < len(trace); i++ {
		s := trace[i]
		if s.TargetPresent != nil && !*s.TargetPresent {
			return s.Step
		}
	}
	return ""
}

// lastPresence is the target marker of the latest step that carries one.
func lastPresence(trace []core.TraceStep) *bool {
	for i := len(trace) - 1; i >= 0; i-- {
		if trace[i].TargetPresent != nil {
			return trace[i].TargetPresent
		}
	}
	return nil
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return singular
	}
	return pluralForm
}
