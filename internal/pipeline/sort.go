package pipeline

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/roamhq/roam-saas-ai/internal/core"
)

// sortProducts orders the working set per the block's order setting.
// Membership never changes here; only position does.
func (c *Chain) sortProducts(ctx context.Context, ids []int64, order string, targets []int64) ([]int64, core.TraceStep, error) {
	sorted := ids
	var desc string
	var err error

	switch order {
	case core.OrderAlphabetical:
		sorted, err = c.sortAlphabetically(ctx, ids)
		desc = "Sorted alphabetically by title"
	case core.OrderEventDate:
		sorted, err = c.sortByEventDate(ctx, ids)
		desc = "Sorted by next event date, earliest first; products without a date go last"
	case core.OrderRandom:
		desc = "Random order; the list shuffles on each page load"
	case "":
		desc = "No ordering configured; stored order kept"
	default:
		desc = fmt.Sprintf("Unrecognised order %q; stored order kept", order)
	}
	if err != nil {
		return nil, core.TraceStep{}, err
	}

	details := map[string]any{}
	if order != "" {
		details["order"] = order
	}
	if len(details) == 0 {
		details = nil
	}
	return sorted, core.TraceStep{
		Step:          core.StepSort,
		Description:   desc,
		Count:         len(sorted),
		ProductIDs:    emptyIfNil(sorted),
		TargetPresent: core.Presence(sorted, targets),
		Details:       details,
	}, nil
}

// sortAlphabetically orders by localized title comparison, stable with
// an id tiebreak for equal titles.
func (c *Chain) sortAlphabetically(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) < 2 {
		return ids, nil
	}
	titles, err := c.store.Titles(ctx, ids)
	if err != nil {
		return nil, err
	}
	col := collate.New(language.English)
	sorted := append([]int64(nil), ids...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if cmp := col.CompareString(titles[sorted[i]], titles[sorted[j]]); cmp != 0 {
			return cmp < 0
		}
		return sorted[i] < sorted[j]
	})
	return sorted, nil
}

// sortByEventDate orders by the next event date ascending. Products
// without a date sort after dated ones; ties break on id.
func (c *Chain) sortByEventDate(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) < 2 {
		return ids, nil
	}
	dates, err := c.store.NextEventDates(ctx, ids)
	if err != nil {
		return nil, err
	}
	sorted := append([]int64(nil), ids...)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, iok := dates[sorted[i]]
		dj, jok := dates[sorted[j]]
		switch {
		case iok && jok:
			if !di.Equal(dj) {
				return di.Before(dj)
			}
		case iok:
			return true
		case jok:
			return false
		}
		return sorted[i] < sorted[j]
	})
	return sorted, nil
}
