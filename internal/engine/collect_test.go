package engine

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roamhq/roam-saas-ai/internal/core"
	"github.com/roamhq/roam-saas-ai/internal/craft"
	"github.com/roamhq/roam-saas-ai/internal/kv"
	"github.com/roamhq/roam-saas-ai/internal/schema"
)

// newTestCollector wires a collector over sqlmock with a pre-cached
// schema snapshot, so no test has to mock schema discovery.
func newTestCollector(t *testing.T) (*Collector, sqlmock.Sqlmock, *kv.Memory) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	// Relation and field-value lookups fork per block.
	mock.MatchExpectationsInOrder(false)

	cache := kv.NewMemory()
	info := schema.Info{
		Tenant: "roam",
		FieldIDs: map[string]int64{
			"global:" + schema.PageBuilderHandle: 10,
		},
		SectionIDs: map[string]int64{
			schema.SectionProducts: 3,
			schema.SectionPages:    1,
			schema.SectionHomepage: 2,
		},
		MatrixContentTable: "craft_matrixcontent_pagebuilder",
		CachedAt:           time.Now().UTC(),
	}
	encoded, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, cache.Put(context.Background(), "schema:roam", string(encoded), schema.TTL))

	store := craft.NewStore(db, zap.NewNop())
	collector := NewCollector(store, schema.NewResolver(cache, zap.NewNop()), cache, zap.NewNop())
	return collector, mock, cache
}

func pageIntent(names ...string) core.ParsedIntent {
	return core.ParsedIntent{
		Domain:        core.DomainPageComponent,
		PageURI:       "/stay",
		ComponentType: "products",
		ProductNames:  names,
		QuestionType:  core.QuestionWhyExcluded,
	}
}

func expectResolvePage(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta(`es.uri = $1`)).
		WithArgs("/stay").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "uri", "sectionId"}).
			AddRow(int64(7), "Stay", "/stay", int64(1)))
}

func expectBlockFetch(mock sqlmock.Sqlmock, blockID int64, typeHandle string) {
	mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_matrixblocks`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "handle", "sortOrder"}).
			AddRow(blockID, typeHandle, int64(1)))
}

func expectEmptyFieldValues(mock sqlmock.Sqlmock, blockID int64) {
	mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_matrixcontent_pagebuilder`)).
		WithArgs(blockID).
		WillReturnRows(sqlmock.NewRows([]string{"elementId", "field_products_limit"}))
}

func TestCollectGeneralDomainSkipsDatabase(t *testing.T) {
	collector, mock, _ := newTestCollector(t)

	got, err := collector.Collect(context.Background(), "roam", core.ParsedIntent{Domain: core.DomainGeneral}, 0)
	require.NoError(t, err)
	assert.Equal(t, &Collected{}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectProductsBlockRunsChain(t *testing.T) {
	collector, mock, cache := newTestCollector(t)

	// Target name resolution, then page, block, relations and values.
	mock.ExpectQuery(regexp.QuoteMeta(`LOWER(c.title) LIKE LOWER($2)`)).
		WithArgs(int64(3), "%Harbour Kayak%").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(301)))
	expectResolvePage(mock)
	expectBlockFetch(mock, 901, "products")
	mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_relations`)).
		WithArgs(int64(901)).
		WillReturnRows(sqlmock.NewRows([]string{"handle", "targetId", "title"}).
			AddRow(schema.HandleProducts, int64(300), "Featured Lodge").
			AddRow(schema.HandleProducts, int64(301), "Harbour Kayak Tours"))
	expectEmptyFieldValues(mock, 901)
	// An explicit-only block needs no filter queries; only the final
	// title fetch runs.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "elementId", COALESCE(title, '')`)).
		WithArgs(int64(300), int64(301)).
		WillReturnRows(sqlmock.NewRows([]string{"elementId", "title"}).
			AddRow(int64(300), "Featured Lodge").
			AddRow(int64(301), "Harbour Kayak Tours"))

	got, err := collector.Collect(context.Background(), "roam", pageIntent("Harbour Kayak"), 0)
	require.NoError(t, err)
	require.NotNil(t, got.Config)

	assert.Equal(t, []int64{301}, got.Targets)
	assert.Equal(t, -1, got.Config.Limit, "missing limit column means unlimited")
	assert.Len(t, got.Config.ExplicitProducts, 2)

	require.Len(t, got.Trace, 9)
	steps := make([]string, 0, len(got.Trace))
	for _, s := range got.Trace {
		steps = append(steps, s.Step)
	}
	assert.Equal(t, []string{
		core.StepResolveCategories,
		core.StepResolveRegions,
		core.StepRegionToProducts,
		core.StepResolveTaxonomy,
		core.StepMainQuery,
		core.StepMergeExplicit,
		core.StepApplyExcludes,
		core.StepSort,
		core.StepLimit,
	}, steps)

	final := got.Trace[8]
	assert.Equal(t, []int64{300, 301}, final.ProductIDs)
	assert.Equal(t, 2, final.Count)
	require.NotNil(t, final.TargetPresent)
	assert.True(t, *final.TargetPresent)

	// The computed trace is now cached for the component.
	raw, ok, err := cache.Get(context.Background(), traceKey("roam", "/stay", "products", 0))
	require.NoError(t, err)
	require.True(t, ok)
	var entry cachedTrace
	require.NoError(t, json.Unmarshal([]byte(raw), &entry))
	assert.Len(t, entry.Trace, 9)
	require.NotNil(t, entry.Config)
	assert.Equal(t, -1, entry.Config.Limit)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectCacheHitSkipsChain(t *testing.T) {
	collector, mock, cache := newTestCollector(t)

	entry := cachedTrace{
		Config: &core.ComponentConfig{Limit: 3},
		Trace: []core.TraceStep{
			{Step: core.StepMergeExplicit, ProductIDs: []int64{300, 301}, TargetPresent: core.Bool(true)},
			{Step: core.StepSort, ProductIDs: []int64{300, 301, 999}, TargetPresent: core.Bool(false)},
			{Step: core.StepLimit, ProductIDs: []int64{300}},
		},
	}
	encoded, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, cache.Put(context.Background(), traceKey("roam", "/stay", "products", 0), string(encoded), traceTTL))

	// Only the target lookup touches the database on a cache hit.
	mock.ExpectQuery(regexp.QuoteMeta(`LOWER(c.title) LIKE LOWER($2)`)).
		WithArgs(int64(3), "%Ghost Lodge%").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(999)))

	got, err := collector.Collect(context.Background(), "roam", pageIntent("Ghost Lodge"), 0)
	require.NoError(t, err)

	assert.Equal(t, []int64{999}, got.Targets)
	require.NotNil(t, got.Config)
	assert.Equal(t, 3, got.Config.Limit)
	require.Len(t, got.Trace, 3)

	// Markers are rescored against this request's targets; steps cached
	// without a marker keep none.
	require.NotNil(t, got.Trace[0].TargetPresent)
	assert.False(t, *got.Trace[0].TargetPresent)
	require.NotNil(t, got.Trace[1].TargetPresent)
	assert.True(t, *got.Trace[1].TargetPresent)
	assert.Nil(t, got.Trace[2].TargetPresent)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectPageMissListsAvailablePages(t *testing.T) {
	collector, mock, cache := newTestCollector(t)

	// Both URI spellings miss.
	missing := sqlmock.NewRows([]string{"id", "title", "uri", "sectionId"})
	mock.ExpectQuery(regexp.QuoteMeta(`es.uri = $1`)).WithArgs("/lost").WillReturnRows(missing)
	mock.ExpectQuery(regexp.QuoteMeta(`es.uri = $1`)).WithArgs("lost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "uri", "sectionId"}))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY c.title`)).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "uri", "sectionId"}).
			AddRow(int64(5), "Home", craft.HomeURI, int64(2)).
			AddRow(int64(7), "Stay", "/stay", int64(1)))

	intent := pageIntent()
	intent.PageURI = "/lost"
	got, err := collector.Collect(context.Background(), "roam", intent, 0)
	require.NoError(t, err)

	require.Len(t, got.Trace, 1)
	step := got.Trace[0]
	assert.Equal(t, core.StepBlockConfig, step.Step)
	assert.Contains(t, step.Description, `"/lost"`)
	assert.Equal(t, "/lost", step.Details["requestedUri"])
	available, ok := step.Details["availablePages"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, available, 2)
	assert.Nil(t, got.Config)

	// Misses are never cached.
	_, ok, err = cache.Get(context.Background(), traceKey("roam", "/lost", "products", 0))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectComponentMissListsBlockTypes(t *testing.T) {
	collector, mock, _ := newTestCollector(t)

	expectResolvePage(mock)
	// No products block, so the step reports what the page does have.
	mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_matrixblocks`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "handle", "sortOrder"}))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_matrixblocks`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "handle", "sortOrder"}).
			AddRow(int64(901), "hero", int64(1)).
			AddRow(int64(902), "gallery", int64(2)))
	for _, id := range []int64{901, 902} {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_relations`)).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"handle", "targetId", "title"}))
		expectEmptyFieldValues(mock, id)
	}

	got, err := collector.Collect(context.Background(), "roam", pageIntent(), 0)
	require.NoError(t, err)

	require.Len(t, got.Trace, 1)
	step := got.Trace[0]
	assert.Equal(t, core.StepBlockConfig, step.Step)
	assert.Equal(t, `Page "Stay" has no "products" component`, step.Description)
	assert.Equal(t, []string{"hero", "gallery"}, step.Details["blockTypes"])
	assert.Equal(t, "/stay", step.Details["pageUri"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectComponentIndexOutOfRange(t *testing.T) {
	collector, mock, cache := newTestCollector(t)

	expectResolvePage(mock)
	expectBlockFetch(mock, 901, "products")
	mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_relations`)).
		WithArgs(int64(901)).
		WillReturnRows(sqlmock.NewRows([]string{"handle", "targetId", "title"}))
	expectEmptyFieldValues(mock, 901)

	got, err := collector.Collect(context.Background(), "roam", pageIntent(), 5)
	require.NoError(t, err)

	require.Len(t, got.Trace, 1)
	step := got.Trace[0]
	assert.Equal(t, core.StepBlockConfig, step.Step)
	assert.Contains(t, step.Description, "component 5 was asked about")
	assert.Equal(t, 1, step.Details["componentCount"])
	assert.Nil(t, got.Config)

	_, ok, err := cache.Get(context.Background(), traceKey("roam", "/stay", "products", 5))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectNonProductsBlockInspects(t *testing.T) {
	collector, mock, _ := newTestCollector(t)

	expectResolvePage(mock)
	expectBlockFetch(mock, 902, "gallery")
	mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_relations`)).
		WithArgs(int64(902)).
		WillReturnRows(sqlmock.NewRows([]string{"handle", "targetId", "title"}).
			AddRow("images", int64(81), "Summer shoot"))
	expectEmptyFieldValues(mock, 902)

	intent := pageIntent()
	intent.ComponentType = "gallery"
	got, err := collector.Collect(context.Background(), "roam", intent, 0)
	require.NoError(t, err)

	require.Len(t, got.Trace, 1)
	assert.Equal(t, core.StepBlockConfig, got.Trace[0].Step)
	assert.Contains(t, got.Trace[0].Description, "gallery component does not run product filters")
	require.NotNil(t, got.Config)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectImportRecordMiss(t *testing.T) {
	collector, mock, _ := newTestCollector(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE "productId" = $1`)).
		WithArgs("56b23f9f2880253f7f3c5175").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta(`COUNT(*) FILTER (WHERE imported)`)).
		WillReturnRows(sqlmock.NewRows([]string{"total", "imported", "last"}).
			AddRow(120, 95, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY status`)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("ACTIVE", 90).
			AddRow("INACTIVE", 30))

	intent := core.ParsedIntent{
		Domain:        core.DomainAtdwImport,
		AtdwProductID: "56b23f9f2880253f7f3c5175",
		QuestionType:  core.QuestionWhyExcluded,
	}
	got, err := collector.Collect(context.Background(), "roam", intent, 0)
	require.NoError(t, err)

	assert.Nil(t, got.Import)
	require.Len(t, got.Trace, 1)
	step := got.Trace[0]
	assert.Equal(t, core.StepAtdwLookup, step.Step)
	assert.Contains(t, step.Description, "No ATDW import record matched")
	assert.Equal(t, 120, step.Details["totalRecords"])
	assert.Equal(t, 95, step.Details["importedRecords"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRescoreTrace(t *testing.T) {
	trace := []core.TraceStep{
		{Step: core.StepMainQuery, ProductIDs: []int64{1, 2}, TargetPresent: core.Bool(false)},
		{Step: core.StepSort, ProductIDs: []int64{3}, TargetPresent: core.Bool(true)},
		{Step: core.StepResolveCategories, ProductIDs: []int64{2}},
	}

	rescoreTrace(trace, []int64{2})
	require.NotNil(t, trace[0].TargetPresent)
	assert.True(t, *trace[0].TargetPresent)
	require.NotNil(t, trace[1].TargetPresent)
	assert.False(t, *trace[1].TargetPresent)
	assert.Nil(t, trace[2].TargetPresent, "unmarked steps stay unmarked")

	// Without targets every marker clears.
	rescoreTrace(trace, nil)
	assert.Nil(t, trace[0].TargetPresent)
	assert.Nil(t, trace[1].TargetPresent)
}

func TestTraceKey(t *testing.T) {
	assert.Equal(t, "trace:roam:/stay:products:0", traceKey("roam", "/stay", "products", 0))
}
