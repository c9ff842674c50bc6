package answer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roamhq/roam-saas-ai/internal/core"
)

func TestFormatTraceMarksTargets(t *testing.T) {
	trace := []core.TraceStep{
		{Step: core.StepResolveCategories, Description: "1 category filter active", Count: 1},
		{Step: core.StepMainQuery, Description: "Products matching all filters", Count: 3, TargetPresent: core.Bool(true)},
		{Step: core.StepLimit, Description: "2 of 3 products shown", Count: 2, TargetPresent: core.Bool(false)},
	}
	out := formatTrace(trace)
	lines := strings.Split(out, "\n")

	assert.Equal(t, "1. Category filters: 1 category filter active (1 products)", lines[0])
	assert.Contains(t, lines[1], "Filter matching")
	assert.Contains(t, lines[1], "[asked-about product present]")
	assert.Contains(t, lines[2], "Display limit")
	assert.Contains(t, lines[2], "[asked-about product absent]")
}

func TestFormatTraceUnknownStepKeepsName(t *testing.T) {
	out := formatTrace([]core.TraceStep{{Step: "mystery_step", Description: "odd", Count: 0}})
	assert.Contains(t, out, "mystery_step")
}

func TestFormatTraceIncludesSmallDetails(t *testing.T) {
	trace := []core.TraceStep{{
		Step:        core.StepResolveRegions,
		Description: "1 region filter active",
		Details:     map[string]any{"selected": []string{"Eurobodalla"}},
	}}
	out := formatTrace(trace)
	assert.Contains(t, out, `details: {"selected":["Eurobodalla"]}`)
}

func TestFormatDetailsTruncatesLongArrays(t *testing.T) {
	ids := make([]int64, 12)
	for i := range ids {
		ids[i] = int64(i)
	}
	out := formatDetails(map[string]any{"byPostcode": ids, "regions": []string{"Eurobodalla"}})
	assert.Contains(t, out, `"byPostcode":"[12 items]"`)
	assert.Contains(t, out, `"regions":["Eurobodalla"]`)
}

func TestFormatDetailsTruncatesNestedArrays(t *testing.T) {
	nested := map[string]any{"outer": map[string]any{"inner": make([]int, 11)}}
	out := formatDetails(nested)
	assert.Contains(t, out, `"inner":"[11 items]"`)
}

func TestFormatDetailsDropsOversizedPayloads(t *testing.T) {
	out := formatDetails(map[string]any{"blob": strings.Repeat("x", 500)})
	assert.Empty(t, out)
}

func TestFormatDetailsEmpty(t *testing.T) {
	assert.Empty(t, formatDetails(nil))
	assert.Empty(t, formatDetails(map[string]any{}))
}

func TestFormatComponentConfig(t *testing.T) {
	style := "cards"
	cfg := core.ComponentConfig{
		Categories:       []core.Ref{{ID: 10, Title: "Things To Do"}, {ID: 11, Title: "Tours"}},
		ExplicitProducts: []core.Ref{{ID: 300, Title: "Featured Lodge"}},
		Limit:            12,
		Order:            core.OrderAlphabetical,
		Layout:           "grid",
		Style:            &style,
	}
	out := formatComponentConfig(cfg)

	assert.Contains(t, out, "Categories: Things To Do, Tours")
	assert.Contains(t, out, "Regions: (none)")
	assert.Contains(t, out, "Hand-picked products: Featured Lodge")
	assert.Contains(t, out, "Limit: 12")
	assert.Contains(t, out, "Order: alphabetically")
	assert.Contains(t, out, "Layout: grid")
	assert.Contains(t, out, "Style: cards")
}

func TestFormatComponentConfigUnlimited(t *testing.T) {
	out := formatComponentConfig(core.ComponentConfig{Limit: -1})
	assert.Contains(t, out, "Limit: none")
}

func TestFormatImportConfig(t *testing.T) {
	entryID := int64(4120)
	cfg := core.AtdwImportConfig{
		ProductID:         "56b23f9f2880253f7f3c5175",
		ProductName:       "Harbour Kayak Tours",
		Category:          "TOUR",
		AtdwStatus:        "ACTIVE",
		Imported:          true,
		HasEntry:          true,
		EntryID:           &entryID,
		Postcode:          "2536",
		City:              "Batemans Bay",
		ConfiguredRegions: []string{"Eurobodalla"},
		MatchingRegions:   []string{"Eurobodalla"},
		MappedCategories:  []string{"Tours"},
	}
	out := formatImportConfig(cfg)

	assert.Contains(t, out, "Product: Harbour Kayak Tours (ATDW id 56b23f9f2880253f7f3c5175)")
	assert.Contains(t, out, "Status: ACTIVE")
	assert.Contains(t, out, "Imported: yes")
	assert.Contains(t, out, "Linked website entry: yes")
	assert.Contains(t, out, "Location: Batemans Bay 2536")
	assert.Contains(t, out, "Matching regions: Eurobodalla")
	assert.NotContains(t, out, "Recorded reason")
}
