package atdw

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roamhq/roam-saas-ai/internal/core"
)

// A postcode within this numeric distance of a configured one is
// reported as "nearby" when the product's own postcode misses every
// region.
const nearbyPostcodeRange = 50

// nearbyPostcodeCap bounds how many nearby postcodes a trace step
// reports.
const nearbyPostcodeCap = 10

// Store is the tenant-scoped query surface the collector needs. The
// craft package implements it.
type Store interface {
	// RecordByProductID returns the import record with the exact ATDW
	// product id, or nil when none exists.
	RecordByProductID(ctx context.Context, productID string) (*Record, error)
	// RecordsByName returns up to ten records matching a product name,
	// most recently updated first.
	RecordsByName(ctx context.Context, name string) ([]Record, error)
	// TableStats summarises the whole import ledger.
	TableStats(ctx context.Context) (Stats, error)
	// RegionCategories returns the enabled product-regions with their
	// configured postcodes.
	RegionCategories(ctx context.Context) ([]RegionCategory, error)
	// MappingCategories resolves an ATDW type slug to the product
	// categories it maps to. The bool reports whether a mapping
	// category with that slug exists at all.
	MappingCategories(ctx context.Context, slug string) ([]core.Ref, bool, error)
	// EntryCategories returns the categories related to a website
	// entry.
	EntryCategories(ctx context.Context, entryID int64) ([]core.Ref, error)
	// EntryState reports the linked website entry, or nil when the
	// entry no longer exists.
	EntryState(ctx context.Context, entryID int64) (*EntryState, error)
}

// Collector walks the import decision for one ATDW product and emits a
// trace step per stage.
type Collector struct {
	store Store
	log   *zap.Logger
}

// NewCollector returns a Collector backed by store.
func NewCollector(store Store, log *zap.Logger) *Collector {
	return &Collector{store: store, log: log.Named("atdw")}
}

// Run resolves the record named by the intent and reports the region
// configuration, postcode match, import status, category mapping, and
// linked-entry state. A miss on the lookup step returns a single-step
// trace with ledger statistics and a nil config.
func (c *Collector) Run(ctx context.Context, intent core.ParsedIntent) (*core.AtdwImportConfig, []core.TraceStep, error) {
	record, searched, err := c.lookup(ctx, intent)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		step, err := c.missStep(ctx, searched)
		if err != nil {
			return nil, nil, err
		}
		return nil, []core.TraceStep{step}, nil
	}

	pl := parsePayload(record.Payload)
	city, postcode := pl.firstLocation()
	cfg := &core.AtdwImportConfig{
		ProductID:    record.ProductID,
		ProductName:  record.ProductName,
		Category:     record.Category,
		AtdwStatus:   record.Status,
		Imported:     record.Imported,
		HasEntry:     record.EntryID != nil,
		EntryID:      record.EntryID,
		Postcode:     postcode,
		City:         city,
		Organisation: pl.Organisation,
		Reason:       record.Reason,
		LastUpdated:  record.LastUpdated.Format(time.RFC3339),
	}

	trace := []core.TraceStep{lookupStep(record, searched)}

	regions, err := c.store.RegionCategories(ctx)
	if err != nil {
		return nil, nil, err
	}
	trace = append(trace, regionConfigStep(cfg, regions))
	trace = append(trace, postcodeMatchStep(cfg, regions))
	trace = append(trace, statusStep(record, cfg))

	mappingStep, err := c.categoryMapping(ctx, record, pl, cfg)
	if err != nil {
		return nil, nil, err
	}
	trace = append(trace, mappingStep)

	entryStep, err := c.entryStep(ctx, record)
	if err != nil {
		return nil, nil, err
	}
	trace = append(trace, entryStep)

	return cfg, trace, nil
}

// lookup finds the import record, by exact product id first and then
// by each supplied name. It also returns the terms it searched so a
// miss can report them.
func (c *Collector) lookup(ctx context.Context, intent core.ParsedIntent) (*Record, []string, error) {
	var searched []string
	if id := strings.TrimSpace(intent.AtdwProductID); id != "" {
		searched = append(searched, id)
		record, err := c.store.RecordByProductID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if record != nil {
			return record, searched, nil
		}
	}
	for _, name := range intent.ProductNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		searched = append(searched, name)
		records, err := c.store.RecordsByName(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		if len(records) > 0 {
			return &records[0], searched, nil
		}
	}
	return nil, searched, nil
}

// missStep reports ledger statistics when nothing matched, giving the
// generator enough to ask a useful clarifying question.
func (c *Collector) missStep(ctx context.Context, searched []string) (core.TraceStep, error) {
	stats, err := c.store.TableStats(ctx)
	if err != nil {
		return core.TraceStep{}, err
	}
	details := map[string]any{
		"searched":        searched,
		"totalRecords":    stats.Total,
		"importedRecords": stats.Imported,
	}
	if len(stats.ByStatus) > 0 {
		details["byStatus"] = stats.ByStatus
	}
	if stats.LastUpdated != nil {
		details["lastSync"] = stats.LastUpdated.Format(time.RFC3339)
	}
	c.log.Debug("atdw lookup missed", zap.Strings("searched", searched), zap.Int("total", stats.Total))
	return core.TraceStep{
		Step:          core.StepAtdwLookup,
		Description:   fmt.Sprintf("No ATDW import record matched %s", quoteList(searched)),
		Count:         0,
		ProductIDs:    []int64{},
		TargetPresent: core.Bool(false),
		Details:       details,
	}, nil
}

func lookupStep(record *Record, searched []string) core.TraceStep {
	details := map[string]any{
		"productId":   record.ProductID,
		"productName": record.ProductName,
		"category":    record.Category,
		"status":      record.Status,
		"imported":    record.Imported,
	}
	if record.EntryID != nil {
		details["entryId"] = *record.EntryID
	}
	return core.TraceStep{
		Step:          core.StepAtdwLookup,
		Description:   fmt.Sprintf("Found ATDW record %q (%s) for %s", record.ProductName, record.ProductID, quoteList(searched)),
		Count:         1,
		ProductIDs:    []int64{record.ID},
		TargetPresent: core.Bool(true),
		Details:       details,
	}
}

func regionConfigStep(cfg *core.AtdwImportConfig, regions []RegionCategory) core.TraceStep {
	var summaries []map[string]any
	for _, r := range regions {
		cfg.ConfiguredRegions = append(cfg.ConfiguredRegions, r.Title)
		cfg.ConfiguredPostcodes = append(cfg.ConfiguredPostcodes, r.Postcodes...)
		summaries = append(summaries, map[string]any{
			"title":     r.Title,
			"postcodes": len(r.Postcodes),
		})
	}
	cfg.ConfiguredPostcodes = dedupeStrings(cfg.ConfiguredPostcodes)
	desc := fmt.Sprintf("%d region(s) configured with %d postcode(s) in total", len(regions), len(cfg.ConfiguredPostcodes))
	if len(regions) == 0 {
		desc = "No regions configured; imports are not filtered by postcode"
	}
	return core.TraceStep{
		Step:        core.StepAtdwRegionConfig,
		Description: desc,
		Count:       len(regions),
		Details: map[string]any{
			"regions":        summaries,
			"totalPostcodes": len(cfg.ConfiguredPostcodes),
		},
	}
}

func postcodeMatchStep(cfg *core.AtdwImportConfig, regions []RegionCategory) core.TraceStep {
	filtering := len(cfg.ConfiguredPostcodes) > 0
	inSet := false
	for _, r := range regions {
		for _, pc := range r.Postcodes {
			if pc == cfg.Postcode && pc != "" {
				inSet = true
				cfg.MatchingRegions = append(cfg.MatchingRegions, r.Title)
				break
			}
		}
	}
	details := map[string]any{
		"postcode":              cfg.Postcode,
		"city":                  cfg.City,
		"regionFilteringActive": filtering,
	}
	if len(cfg.MatchingRegions) > 0 {
		details["matchingRegions"] = cfg.MatchingRegions
	}
	var desc string
	switch {
	case !filtering:
		desc = "Region filtering is inactive; every postcode qualifies"
	case inSet:
		desc = fmt.Sprintf("Postcode %s is inside the configured regions", cfg.Postcode)
	case cfg.Postcode == "":
		desc = "The ATDW record carries no postcode, so it matches no region"
	default:
		desc = fmt.Sprintf("Postcode %s is outside every configured region", cfg.Postcode)
		if nearby := nearbyPostcodes(cfg.Postcode, cfg.ConfiguredPostcodes); len(nearby) > 0 {
			details["nearbyPostcodes"] = nearby
		}
	}
	return core.TraceStep{
		Step:          core.StepAtdwPostcodeMatch,
		Description:   desc,
		Count:         len(cfg.MatchingRegions),
		TargetPresent: core.Bool(inSet || !filtering),
		Details:       details,
	}
}

func statusStep(record *Record, cfg *core.AtdwImportConfig) core.TraceStep {
	details := map[string]any{
		"status":      record.Status,
		"imported":    record.Imported,
		"hasEntry":    cfg.HasEntry,
		"lastUpdated": cfg.LastUpdated,
	}
	if record.EntryID != nil {
		details["entryId"] = *record.EntryID
	}
	if record.Reason != "" {
		details["reason"] = record.Reason
	}
	verdict := "was not imported"
	if record.Imported {
		verdict = "was imported"
	}
	return core.TraceStep{
		Step:        core.StepAtdwStatusEval,
		Description: fmt.Sprintf("Record status is %s and the product %s", record.Status, verdict),
		Count:       1,
		Details:     details,
	}
}

// categoryMapping resolves the record's top-level type and each
// vertical classification through the ATDW category mapping group, and
// reads the categories already on the linked entry.
func (c *Collector) categoryMapping(ctx context.Context, record *Record, pl payload, cfg *core.AtdwImportConfig) (core.TraceStep, error) {
	types := []string{}
	if t := strings.TrimSpace(record.Category); t != "" {
		types = append(types, t)
	}
	types = append(types, pl.classificationTypes()...)
	types = dedupeStrings(types)

	var mapped []string
	var unmapped []string
	for _, t := range types {
		refs, found, err := c.store.MappingCategories(ctx, strings.ToLower(t))
		if err != nil {
			return core.TraceStep{}, err
		}
		if !found || len(refs) == 0 {
			unmapped = append(unmapped, t)
			continue
		}
		for _, ref := range refs {
			mapped = append(mapped, ref.Title)
		}
	}
	cfg.MappedCategories = dedupeStrings(mapped)

	if record.EntryID != nil {
		refs, err := c.store.EntryCategories(ctx, *record.EntryID)
		if err != nil {
			return core.TraceStep{}, err
		}
		for _, ref := range refs {
			cfg.EntryCategories = append(cfg.EntryCategories, ref.Title)
		}
	}

	details := map[string]any{
		"atdwTypes": types,
		"mapped":    cfg.MappedCategories,
	}
	if len(unmapped) > 0 {
		details["unmappedTypes"] = unmapped
	}
	if len(cfg.EntryCategories) > 0 {
		details["entryCategories"] = cfg.EntryCategories
	}
	desc := fmt.Sprintf("%d of %d ATDW type(s) map to site categories", len(types)-len(unmapped), len(types))
	if len(types) == 0 {
		desc = "The record carries no ATDW type to map"
	}
	return core.TraceStep{
		Step:        core.StepAtdwCategoryMapping,
		Description: desc,
		Count:       len(cfg.MappedCategories),
		Details:     details,
	}, nil
}

// entryStep reports the linked website entry, or the absence of one.
func (c *Collector) entryStep(ctx context.Context, record *Record) (core.TraceStep, error) {
	if record.EntryID == nil {
		return core.TraceStep{
			Step:        core.StepAtdwEntryLink,
			Description: "No website entry is linked to this ATDW record",
			Count:       0,
			Details:     map[string]any{"hasEntry": false},
		}, nil
	}
	state, err := c.store.EntryState(ctx, *record.EntryID)
	if err != nil {
		return core.TraceStep{}, err
	}
	if state == nil {
		c.log.Warn("linked entry missing", zap.Int64("entryId", *record.EntryID))
		return core.TraceStep{
			Step:        core.StepAtdwEntryLink,
			Description: fmt.Sprintf("Entry %d is linked but no longer exists", *record.EntryID),
			Count:       0,
			Details:     map[string]any{"hasEntry": true, "entryId": *record.EntryID, "entryExists": false},
		}, nil
	}
	details := map[string]any{
		"entryId":       *record.EntryID,
		"enabled":       state.Enabled,
		"custom":        state.Custom,
		"typeId":        state.TypeID,
		"categoryCount": state.CategoryCount,
		"imageCount":    state.ImageCount,
	}
	if state.ExpiryDate != nil {
		details["expiryDate"] = state.ExpiryDate.Format(time.RFC3339)
	}
	status := "disabled"
	if state.Enabled {
		status = "enabled"
	}
	return core.TraceStep{
		Step:        core.StepAtdwEntryState,
		Description: fmt.Sprintf("Linked entry %d is %s with %d categories and %d images", *record.EntryID, status, state.CategoryCount, state.ImageCount),
		Count:       1,
		Details:     details,
	}, nil
}

// nearbyPostcodes returns configured postcodes numerically close to
// the product's, nearest first, capped.
func nearbyPostcodes(postcode string, configured []string) []string {
	target, err := strconv.Atoi(postcode)
	if err != nil {
		return nil
	}
	type candidate struct {
		value    string
		distance int
	}
	var close []candidate
	for _, pc := range dedupeStrings(configured) {
		n, err := strconv.Atoi(pc)
		if err != nil {
			continue
		}
		d := n - target
		if d < 0 {
			d = -d
		}
		if d > 0 && d <= nearbyPostcodeRange {
			close = append(close, candidate{value: pc, distance: d})
		}
	}
	sort.SliceStable(close, func(i, j int) bool { return close[i].distance < close[j].distance })
	if len(close) > nearbyPostcodeCap {
		close = close[:nearbyPostcodeCap]
	}
	out := make([]string, 0, len(close))
	for _, c := range close {
		out = append(out, c.value)
	}
	return out
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func quoteList(items []string) string {
	if len(items) == 0 {
		return "the request"
	}
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = strconv.Quote(s)
	}
	return strings.Join(quoted, ", ")
}
