package answer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roamhq/roam-saas-ai/internal/core"
)

func TestFallbackPageComponent(t *testing.T) {
	input := pageInput()
	out := Fallback(input)

	assert.Contains(t, out, "filters by categories (Things To Do)")
	assert.Contains(t, out, "The final list contains 3 products.")
	assert.Contains(t, out, "drops out at the display limit stage")
}

func TestFallbackPageTargetStillPresent(t *testing.T) {
	input := pageInput()
	input.Trace[2].TargetPresent = core.Bool(true)
	out := Fallback(input)

	assert.Contains(t, out, "is in the final list")
	assert.NotContains(t, out, "drops out")
}

func TestFallbackNamesLastDisappearance(t *testing.T) {
	input := pageInput()
	input.Trace = []core.TraceStep{
		{Step: core.StepRegionToProducts, Count: 2, TargetPresent: core.Bool(false)},
		{Step: core.StepMergeExplicit, Count: 3, TargetPresent: core.Bool(true)},
		{Step: core.StepLimit, Count: 1, TargetPresent: core.Bool(false)},
	}
	out := Fallback(input)

	assert.Contains(t, out, "display limit stage",
		"a hand-picked product that reappeared only counts as gone from the later step")
	assert.NotContains(t, out, "in those regions stage")
}

func TestFallbackPageNoFilters(t *testing.T) {
	input := pageInput()
	input.Config = &core.ComponentConfig{
		ExplicitProducts: []core.Ref{{ID: 1, Title: "A"}, {ID: 2, Title: "B"}},
	}
	input.Trace = nil
	input.Targets = nil
	out := Fallback(input)

	assert.Contains(t, out, "no category, region, tier, or taxonomy filters")
	assert.Contains(t, out, "hand-picks 2 products")
}

func TestFallbackBlockConfig(t *testing.T) {
	input := Input{
		Intent: core.ParsedIntent{Domain: core.DomainPageComponent, RawQuestion: "why is the gallery here?"},
		Trace: []core.TraceStep{
			{Step: core.StepBlockConfig, Description: "The gallery component does not run product filters", Count: 0},
		},
	}
	out := Fallback(input)
	assert.Contains(t, out, "does not run product filters")
}

func TestFallbackNoData(t *testing.T) {
	out := Fallback(Input{Intent: core.ParsedIntent{Domain: core.DomainGeneral, RawQuestion: "hi"}})
	assert.Contains(t, out, "No component data could be collected")
}

func TestFallbackImportRecord(t *testing.T) {
	out := Fallback(Input{
		Intent: core.ParsedIntent{Domain: core.DomainAtdwImport},
		Import: &core.AtdwImportConfig{
			ProductName:       "Harbour Kayak Tours",
			AtdwStatus:        "INACTIVE",
			Imported:          false,
			Reason:            "status not active",
			Postcode:          "2536",
			ConfiguredRegions: []string{"Eurobodalla"},
		},
	})

	assert.Contains(t, out, `The listing "Harbour Kayak Tours" has status INACTIVE and was not imported.`)
	assert.Contains(t, out, "Recorded reason: status not active.")
	assert.Contains(t, out, "does not fall inside any configured import region")
	assert.Contains(t, out, "No website entry is linked")
}

func TestFallbackImportMatchedRegion(t *testing.T) {
	out := Fallback(Input{
		Intent: core.ParsedIntent{Domain: core.DomainAtdwImport},
		Import: &core.AtdwImportConfig{
			ProductName:     "Harbour Kayak Tours",
			AtdwStatus:      "ACTIVE",
			Imported:        true,
			HasEntry:        true,
			Postcode:        "2536",
			MatchingRegions: []string{"Eurobodalla"},
		},
	})

	assert.Contains(t, out, "was imported")
	assert.Contains(t, out, "postcode 2536 falls inside Eurobodalla")
	assert.Contains(t, out, "A website entry is linked")
}

func TestFallbackImportMiss(t *testing.T) {
	out := Fallback(Input{
		Intent: core.ParsedIntent{
			Domain:       core.DomainAtdwImport,
			ProductNames: []string{"Harbour Kayak Tours"},
		},
	})
	assert.Contains(t, out, "No ATDW record matched Harbour Kayak Tours")

	out = Fallback(Input{Intent: core.ParsedIntent{Domain: core.DomainAtdwImport}})
	assert.Contains(t, out, "No ATDW record could be matched")
}

func TestFirstAbsentStep(t *testing.T) {
	tests := []struct {
		name  string
		trace []core.TraceStep
		want  string
	}{
		{
			name: "absent at the end",
			trace: []core.TraceStep{
				{Step: core.StepMainQuery, TargetPresent: core.Bool(true)},
				{Step: core.StepApplyExcludes, TargetPresent: core.Bool(false)},
				{Step: core.StepLimit, TargetPresent: core.Bool(false)},
			},
			want: core.StepApplyExcludes,
		},
		{
			name: "reappearance resets the search",
			trace: []core.TraceStep{
				{Step: core.StepMainQuery, TargetPresent: core.Bool(false)},
				{Step: core.StepMergeExplicit, TargetPresent: core.Bool(true)},
				{Step: core.StepLimit, TargetPresent: core.Bool(false)},
			},
			want: core.StepLimit,
		},
		{
			name: "present throughout",
			trace: []core.TraceStep{
				{Step: core.StepMainQuery, TargetPresent: core.Bool(true)},
				{Step: core.StepLimit, TargetPresent: core.Bool(true)},
			},
			want: "",
		},
		{
			name: "never present",
			trace: []core.TraceStep{
				{Step: core.StepRegionToProducts, TargetPresent: core.Bool(false)},
			},
			want: core.StepRegionToProducts,
		},
		{
			name:  "no targets",
			trace: []core.TraceStep{{Step: core.StepMainQuery}},
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstAbsentStep(tt.trace))
		})
	}
}
