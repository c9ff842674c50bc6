// Package pipeline turns a page-builder block into a final product
// list, recording every step as a verifiable trace. The chain runs a
// fixed sequence regardless of which concurrent branches finish first,
// so the trace order is deterministic.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roamhq/roam-saas-ai/internal/core"
)

// Store is the query surface the chain needs for one request. The
// craft package provides an implementation bound to a session and a
// resolved schema.
type Store interface {
	StripAncestors(ctx context.Context, ids []int64) ([]int64, error)
	RegionPostcodes(ctx context.Context, regionIDs []int64) ([]string, error)
	ProductsByPostcodes(ctx context.Context, postcodes []string) ([]int64, error)
	ProductsByRegionRelations(ctx context.Context, regionIDs []int64) ([]int64, error)
	ProductsRelatedToAny(ctx context.Context, ids []int64) ([]int64, error)
	Titles(ctx context.Context, ids []int64) (map[int64]string, error)
	NextEventDates(ctx context.Context, ids []int64) (map[int64]time.Time, error)
}

// Chain is the nine-step filter pipeline for products blocks.
type Chain struct {
	store Store
	log   *zap.Logger
}

// NewChain returns a Chain backed by store.
func NewChain(store Store, log *zap.Logger) *Chain {
	return &Chain{store: store, log: log.Named("pipeline")}
}

// Run walks the chain over a block's configuration. targets are the
// product ids the question asks about; each step reports whether any
// of them survived so far.
func (c *Chain) Run(ctx context.Context, cfg core.ComponentConfig, targets []int64) ([]core.TraceStep, error) {
	trace := make([]core.TraceStep, 0, 9)

	categories, droppedCats, err := c.resolveHierarchy(ctx, cfg.Categories)
	if err != nil {
		return nil, err
	}
	trace = append(trace, resolveStep(core.StepResolveCategories, "category", categories, droppedCats))

	regions, droppedRegions, err := c.resolveHierarchy(ctx, cfg.Regions)
	if err != nil {
		return nil, err
	}
	trace = append(trace, resolveStep(core.StepResolveRegions, "region", regions, droppedRegions))

	regionActive := len(regions) > 0
	regionSet, regionDetails, err := c.regionProducts(ctx, regions)
	if err != nil {
		return nil, err
	}
	trace = append(trace, regionStep(regionSet, regionDetails, regionActive, targets))

	taxonomy, droppedTax, err := c.resolveHierarchy(ctx, cfg.Taxonomy)
	if err != nil {
		return nil, err
	}
	trace = append(trace, resolveStep(core.StepResolveTaxonomy, "taxonomy", taxonomy, droppedTax))

	dims := activeDimensions(categories, cfg.Tiers, taxonomy)
	andActive := len(dims) > 0
	main, mainStep, err := c.mainQuery(ctx, regionSet, regionActive, dims, targets)
	if err != nil {
		return nil, err
	}
	trace = append(trace, mainStep)

	filtersActive := regionActive || andActive
	merged, mergeStep := mergeExplicit(main, cfg.ExplicitProducts, filtersActive, targets)
	trace = append(trace, mergeStep)

	remaining, excludeStep := applyExcludes(merged, cfg.ExcludeProducts, targets)
	trace = append(trace, excludeStep)

	sorted, sortStep, err := c.sortProducts(ctx, remaining, cfg.Order, targets)
	if err != nil {
		return nil, err
	}
	trace = append(trace, sortStep)

	limitStep, err := c.applyLimit(ctx, sorted, cfg.Limit, targets)
	if err != nil {
		return nil, err
	}
	trace = append(trace, limitStep)

	return trace, nil
}

// resolveHierarchy strips selected ancestors whose descendant is also
// selected. Fewer than two selections cannot overlap, so no query is
// made.
func (c *Chain) resolveHierarchy(ctx context.Context, refs []core.Ref) (kept, dropped []core.Ref, err error) {
	if len(refs) < 2 {
		return refs, nil, nil
	}
	keptIDs, err := c.store.StripAncestors(ctx, core.RefIDs(refs))
	if err != nil {
		return nil, nil, err
	}
	keep := make(map[int64]struct{}, len(keptIDs))
	for _, id := range keptIDs {
		keep[id] = struct{}{}
	}
	for _, ref := range refs {
		if _, ok := keep[ref.ID]; ok {
			kept = append(kept, ref)
		} else {
			dropped = append(dropped, ref)
		}
	}
	return kept, dropped, nil
}

func resolveStep(step, noun string, kept, dropped []core.Ref) core.TraceStep {
	details := map[string]any{}
	if len(kept) > 0 {
		details["selected"] = refTitles(kept)
	}
	if len(dropped) > 0 {
		details["droppedParents"] = refTitles(dropped)
	}
	if len(details) == 0 {
		details = nil
	}

	desc := fmt.Sprintf("No %s filters configured", noun)
	if len(kept) > 0 {
		desc = fmt.Sprintf("%d %s filters active", len(kept), noun)
		if len(dropped) > 0 {
			desc = fmt.Sprintf("%d %s filters active, %d parents removed in favour of their children", len(kept), noun, len(dropped))
		}
	}
	return core.TraceStep{
		Step:        step,
		Description: desc,
		Count:       len(kept),
		ProductIDs:  core.RefIDs(kept),
		Details:     details,
	}
}

// regionProducts unions the products matched by region postcodes with
// those directly related to a region. The two lookups run
// concurrently.
func (c *Chain) regionProducts(ctx context.Context, regions []core.Ref) ([]int64, map[string]any, error) {
	if len(regions) == 0 {
		return nil, nil, nil
	}
	regionIDs := core.RefIDs(regions)

	var (
		postcodes  []string
		byPostcode []int64
		byRelation []int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		postcodes, err = c.store.RegionPostcodes(gctx, regionIDs)
		if err != nil {
			return err
		}
		byPostcode, err = c.store.ProductsByPostcodes(gctx, postcodes)
		return err
	})
	g.Go(func() error {
		var err error
		byRelation, err = c.store.ProductsByRegionRelations(gctx, regionIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	details := map[string]any{
		"regions":    refTitles(regions),
		"postcodes":  postcodes,
		"byPostcode": len(byPostcode),
		"byRelation": len(byRelation),
	}
	return union(byPostcode, byRelation), details, nil
}

func regionStep(products []int64, details map[string]any, active bool, targets []int64) core.TraceStep {
	step := core.TraceStep{
		Step:       core.StepRegionToProducts,
		Count:      len(products),
		ProductIDs: emptyIfNil(products),
		Details:    details,
	}
	if !active {
		step.Description = "No region filters; this stage passes everything through"
		return step
	}
	step.Description = fmt.Sprintf("%d products are in the selected regions", len(products))
	step.TargetPresent = core.Presence(products, targets)
	return step
}

// dimension is one non-empty relation filter of the multi-dimensional
// AND.
type dimension struct {
	name string
	ids  []int64
}

func activeDimensions(categories, tiers, taxonomy []core.Ref) []dimension {
	var dims []dimension
	for _, d := range []dimension{
		{name: "categories", ids: core.RefIDs(categories)},
		{name: "tiers", ids: core.RefIDs(tiers)},
		{name: "taxonomy", ids: core.RefIDs(taxonomy)},
	} {
		if len(d.ids) > 0 {
			dims = append(dims, d)
		}
	}
	return dims
}

// mainQuery computes the filtered working set: the intersection of the
// region set and the per-dimension relation sets, whichever of the two
// sides are active.
func (c *Chain) mainQuery(ctx context.Context, regionSet []int64, regionActive bool, dims []dimension, targets []int64) ([]int64, core.TraceStep, error) {
	counts := make(map[string]int, len(dims))
	var andSet []int64
	for i, d := range dims {
		set, err := c.store.ProductsRelatedToAny(ctx, d.ids)
		if err != nil {
			return nil, core.TraceStep{}, err
		}
		counts[d.name] = len(set)
		if i == 0 {
			andSet = set
		} else {
			andSet = intersect(andSet, set)
		}
	}

	var main []int64
	var desc string
	switch {
	case regionActive && len(dims) > 0:
		main = intersect(regionSet, andSet)
		desc = fmt.Sprintf("%d products match both the region set and every other filter", len(main))
	case regionActive:
		main = regionSet
		desc = fmt.Sprintf("%d products carried over from the region filters", len(main))
	case len(dims) > 0:
		main = andSet
		desc = fmt.Sprintf("%d products match every active filter", len(main))
	default:
		desc = "No filters active; only explicitly selected products will appear"
	}

	details := map[string]any{}
	if len(counts) > 0 {
		details["perDimension"] = counts
	}
	if len(details) == 0 {
		details = nil
	}
	step := core.TraceStep{
		Step:          core.StepMainQuery,
		Description:   desc,
		Count:         len(main),
		ProductIDs:    emptyIfNil(main),
		TargetPresent: core.Presence(main, targets),
		Details:       details,
	}
	return main, step, nil
}

// mergeExplicit folds the block's hand-picked products into the working
// set. With no filters active the explicit list is the whole set.
func mergeExplicit(main []int64, explicit []core.Ref, filtersActive bool, targets []int64) ([]int64, core.TraceStep) {
	explicitIDs := core.RefIDs(explicit)
	var merged []int64
	var desc string
	if filtersActive {
		merged = union(main, explicitIDs)
		desc = fmt.Sprintf("%d explicitly selected products merged in, %d total", len(explicitIDs), len(merged))
	} else {
		merged = append([]int64(nil), explicitIDs...)
		desc = fmt.Sprintf("No filters active; using the %d explicitly selected products", len(explicitIDs))
	}

	details := map[string]any{}
	if len(explicit) > 0 {
		details["explicit"] = refTitles(explicit)
	}
	if len(details) == 0 {
		details = nil
	}
	return merged, core.TraceStep{
		Step:          core.StepMergeExplicit,
		Description:   desc,
		Count:         len(merged),
		ProductIDs:    emptyIfNil(merged),
		TargetPresent: core.Presence(merged, targets),
		Details:       details,
	}
}

// applyExcludes subtracts the block's excluded products.
func applyExcludes(current []int64, excludes []core.Ref, targets []int64) ([]int64, core.TraceStep) {
	remaining := subtract(current, core.RefIDs(excludes))
	removed := len(current) - len(remaining)

	desc := "No excluded products configured"
	details := map[string]any{}
	if len(excludes) > 0 {
		desc = fmt.Sprintf("%d products removed by the exclude list", removed)
		details["excluded"] = refTitles(excludes)
		details["removed"] = removed
	}
	if len(details) == 0 {
		details = nil
	}
	return remaining, core.TraceStep{
		Step:          core.StepApplyExcludes,
		Description:   desc,
		Count:         len(remaining),
		ProductIDs:    emptyIfNil(remaining),
		TargetPresent: core.Presence(remaining, targets),
		Details:       details,
	}
}

// applyLimit slices the sorted set and reports the final products with
// their titles.
func (c *Chain) applyLimit(ctx context.Context, sorted []int64, limit int, targets []int64) (core.TraceStep, error) {
	final := sorted
	if limit >= 0 && len(final) > limit {
		final = final[:limit]
	}

	titles, err := c.store.Titles(ctx, final)
	if err != nil {
		return core.TraceStep{}, err
	}
	products := make([]core.Ref, 0, len(final))
	for _, id := range final {
		products = append(products, core.Ref{ID: id, Title: titles[id]})
	}

	desc := fmt.Sprintf("all %d products shown, no display limit set", len(final))
	details := map[string]any{"products": products}
	if limit >= 0 {
		desc = fmt.Sprintf("%d of %d products shown after applying limit %d", len(final), len(sorted), limit)
		details["limit"] = limit
	}

	return core.TraceStep{
		Step:          core.StepLimit,
		Description:   desc,
		Count:         len(final),
		ProductIDs:    emptyIfNil(final),
		TargetPresent: core.Presence(final, targets),
		Details:       details,
	}, nil
}

func refTitles(refs []core.Ref) []string {
	titles := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.Title != "" {
			titles = append(titles, r.Title)
			continue
		}
		titles = append(titles, fmt.Sprintf("#%d", r.ID))
	}
	return titles
}

func emptyIfNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// union appends b's members missing from a, preserving first-seen
// order.
func union(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, id := range a {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range b {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// intersect keeps a's members also present in b, preserving a's order.
func intersect(a, b []int64) []int64 {
	in := make(map[int64]struct{}, len(b))
	for _, id := range b {
		in[id] = struct{}{}
	}
	out := make([]int64, 0, len(a))
	for _, id := range a {
		if _, ok := in[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// subtract removes b's members from a, preserving a's order.
func subtract(a, b []int64) []int64 {
	drop := make(map[int64]struct{}, len(b))
	for _, id := range b {
		drop[id] = struct{}{}
	}
	out := make([]int64, 0, len(a))
	for _, id := range a {
		if _, gone := drop[id]; !gone {
			out = append(out, id)
		}
	}
	return out
}
