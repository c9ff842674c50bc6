package pipeline

import (
	"fmt"
	"strings"

	"github.com/roamhq/roam-saas-ai/internal/core"
)

// internalColumns are matrix-content bookkeeping columns, never shown
// as component settings.
var internalColumns = map[string]struct{}{
	"id":          {},
	"elementId":   {},
	"siteId":      {},
	"dateCreated": {},
	"dateUpdated": {},
	"uid":         {},
}

// Inspect summarises a non-products block. It reports populated
// relations and non-trivial settings in a single trace step and maps
// the relation fields onto a minimal config. No filter semantics are
// implied; the component simply shows what it was given.
func Inspect(block core.Block) (core.ComponentConfig, []core.TraceStep) {
	cfg := ConfigFromBlock(block)

	relations := make(map[string]any)
	for handle, refs := range block.Relations {
		if len(refs) == 0 {
			continue
		}
		relations[handle] = refTitles(refs)
	}

	settings := make(map[string]any)
	prefix := "field_" + block.TypeHandle + "_"
	for column, value := range block.FieldValues {
		if _, internal := internalColumns[column]; internal {
			continue
		}
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		settings[strings.TrimPrefix(column, prefix)] = value
	}

	details := map[string]any{"componentType": block.TypeHandle}
	if len(relations) > 0 {
		details["relations"] = relations
	}
	if len(settings) > 0 {
		details["settings"] = settings
	}

	step := core.TraceStep{
		Step:        core.StepBlockConfig,
		Description: fmt.Sprintf("The %s component does not run product filters; reporting its configuration", block.TypeHandle),
		Count:       0,
		ProductIDs:  []int64{},
		Details:     details,
	}
	return cfg, []core.TraceStep{step}
}
