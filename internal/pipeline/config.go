package pipeline

import (
	"strconv"
	"strings"

	"github.com/roamhq/roam-saas-ai/internal/core"
	"github.com/roamhq/roam-saas-ai/internal/schema"
)

// ConfigFromBlock maps a block's relations and scalar fields onto the
// component configuration the chain consumes. The explicit product
// list is the block's products and includeProducts relations merged in
// order. A block with no limit value carries -1, meaning no display
// limit; an authored zero is kept and yields an empty final list.
func ConfigFromBlock(b core.Block) core.ComponentConfig {
	cfg := core.ComponentConfig{
		Categories: b.Relation(schema.HandleIncludeCategories),
		Regions:    b.Relation(schema.HandleIncludeRegions),
		Tiers:      b.Relation(schema.HandleIncludeTiers),
		Taxonomy:   b.Relation(schema.HandleIncludeTaxonomy),
		ExplicitProducts: mergeRefs(
			b.Relation(schema.HandleProducts),
			b.Relation(schema.HandleIncludeProducts),
		),
		ExcludeProducts: b.Relation(schema.HandleExcludeProducts),
	}

	cfg.Limit = intField(b, "limit", -1)
	cfg.Order = stringField(b, "order")
	cfg.Layout = stringField(b, "layout")
	if style := stringField(b, "style"); style != "" {
		cfg.Style = &style
	}
	return cfg
}

func mergeRefs(lists ...[]core.Ref) []core.Ref {
	seen := make(map[int64]struct{})
	var out []core.Ref
	for _, list := range lists {
		for _, ref := range list {
			if _, dup := seen[ref.ID]; dup {
				continue
			}
			seen[ref.ID] = struct{}{}
			out = append(out, ref)
		}
	}
	return out
}

// intField coerces a scalar block field to an int, falling back to def
// when the column is absent or unreadable. Column types vary by driver,
// so numeric strings are accepted too.
func intField(b core.Block, handle string, def int) int {
	v, ok := b.FieldValues[schema.ScalarColumn(b.TypeHandle, handle)]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}

func stringField(b core.Block, handle string) string {
	v, ok := b.FieldValues[schema.ScalarColumn(b.TypeHandle, handle)]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case []byte:
		return strings.TrimSpace(string(s))
	}
	return ""
}
