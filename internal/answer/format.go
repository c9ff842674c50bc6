package answer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roamhq/roam-saas-ai/internal/core"
)

// Detail truncation limits. Long detail payloads add noise without
// adding evidence, so they are summarised or dropped.
const (
	maxDetailItems = 10
	maxDetailChars = 400
)

// stepLabels maps trace step names to the plain-language labels the
// prompt and the fallback text use.
var stepLabels = map[string]string{
	core.StepResolveCategories:   "Category filters",
	core.StepResolveRegions:      "Region filters",
	core.StepRegionToProducts:    "Products in those regions",
	core.StepResolveTaxonomy:     "Taxonomy filters",
	core.StepMainQuery:           "Filter matching",
	core.StepMergeExplicit:       "Hand-picked products",
	core.StepApplyExcludes:       "Exclusions",
	core.StepSort:                "Ordering",
	core.StepLimit:               "Display limit",
	core.StepBlockConfig:         "Component configuration",
	core.StepAtdwLookup:          "Record lookup",
	core.StepAtdwRegionConfig:    "Configured import regions",
	core.StepAtdwPostcodeMatch:   "Postcode check",
	core.StepAtdwStatusEval:      "Listing status",
	core.StepAtdwCategoryMapping: "Category mapping",
	core.StepAtdwEntryState:      "Website entry",
	core.StepAtdwEntryLink:       "Website entry",
}

// stepLabel returns the human label for a step, falling back to the
// raw name for anything unmapped.
func stepLabel(step string) string {
	if label, ok := stepLabels[step]; ok {
		return label
	}
	return step
}

// formatTrace renders the trace as a numbered list with target markers
// and truncated detail payloads.
func formatTrace(trace []core.TraceStep) string {
	var b strings.Builder
	for i, step := range trace {
		fmt.Fprintf(&b, "%d. %s: %s (%d products)", i+1, stepLabel(step.Step), step.Description, step.Count)
		if step.TargetPresent != nil {
			if *step.TargetPresent {
				b.WriteString(" [asked-about product present]")
			} else {
				b.WriteString(" [asked-about product absent]")
			}
		}
		if details := formatDetails(step.Details); details != "" {
			b.WriteString("\n   details: ")
			b.WriteString(details)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatDetails serialises a detail map, replacing any array longer
// than maxDetailItems with an item count and dropping payloads that
// still exceed maxDetailChars.
func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return ""
	}
	out, err := json.Marshal(truncateArrays(generic))
	if err != nil {
		return ""
	}
	if len(out) > maxDetailChars {
		return ""
	}
	return string(out)
}

func truncateArrays(v any) any {
	switch t := v.(type) {
	case []any:
		if len(t) > maxDetailItems {
			return fmt.Sprintf("[%d items]", len(t))
		}
		for i := range t {
			t[i] = truncateArrays(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = truncateArrays(t[k])
		}
		return t
	default:
		return v
	}
}

// formatComponentConfig renders a products-component configuration as
// labelled lines the model can quote from.
func formatComponentConfig(cfg core.ComponentConfig) string {
	var b strings.Builder
	writeRefLine(&b, "Categories", cfg.Categories)
	writeRefLine(&b, "Regions", cfg.Regions)
	writeRefLine(&b, "Tiers", cfg.Tiers)
	writeRefLine(&b, "Taxonomy", cfg.Taxonomy)
	writeRefLine(&b, "Hand-picked products", cfg.ExplicitProducts)
	writeRefLine(&b, "Excluded products", cfg.ExcludeProducts)
	if cfg.Limit >= 0 {
		fmt.Fprintf(&b, "Limit: %d\n", cfg.Limit)
	} else {
		b.WriteString("Limit: none\n")
	}
	if cfg.Order != "" {
		fmt.Fprintf(&b, "Order: %s\n", cfg.Order)
	}
	if cfg.Layout != "" {
		fmt.Fprintf(&b, "Layout: %s\n", cfg.Layout)
	}
	if cfg.Style != nil {
		fmt.Fprintf(&b, "Style: %s\n", *cfg.Style)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeRefLine(b *strings.Builder, label string, refs []core.Ref) {
	if len(refs) == 0 {
		fmt.Fprintf(b, "%s: (none)\n", label)
		return
	}
	titles := make([]string, 0, len(refs))
	for _, r := range refs {
		titles = append(titles, r.Title)
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(titles, ", "))
}

// formatImportConfig renders an import-record snapshot.
func formatImportConfig(cfg core.AtdwImportConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s (ATDW id %s)\n", cfg.ProductName, cfg.ProductID)
	fmt.Fprintf(&b, "ATDW category: %s\n", cfg.Category)
	fmt.Fprintf(&b, "Status: %s\n", cfg.AtdwStatus)
	fmt.Fprintf(&b, "Imported: %s\n", yesNo(cfg.Imported))
	fmt.Fprintf(&b, "Linked website entry: %s\n", yesNo(cfg.HasEntry))
	if location := strings.TrimSpace(cfg.City + " " + cfg.Postcode); location != "" {
		fmt.Fprintf(&b, "Location: %s\n", location)
	}
	if cfg.Organisation != "" {
		fmt.Fprintf(&b, "Operator: %s\n", cfg.Organisation)
	}
	if cfg.Reason != "" {
		fmt.Fprintf(&b, "Recorded reason: %s\n", cfg.Reason)
	}
	if cfg.LastUpdated != "" {
		fmt.Fprintf(&b, "Last updated: %s\n", cfg.LastUpdated)
	}
	writeStringLine(&b, "Configured import regions", cfg.ConfiguredRegions)
	writeStringLine(&b, "Matching regions", cfg.MatchingRegions)
	writeStringLine(&b, "Mapped categories", cfg.MappedCategories)
	writeStringLine(&b, "Entry categories", cfg.EntryCategories)
	return strings.TrimRight(b.String(), "\n")
}

func writeStringLine(b *strings.Builder, label string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(values, ", "))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
