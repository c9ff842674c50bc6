package craft

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var atdwTestColumns = []string{
	"id", "productId", "productName", "category", "status",
	"imported", "entryId", "reason", "payload", "dateUpdated",
}

func TestAtdwRecordByProductID(t *testing.T) {
	sess, mock := newTestSession(t)
	updated := time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_atdw_products`)).
		WithArgs("56b23f9f2880253f7f3c5175").
		WillReturnRows(sqlmock.NewRows(atdwTestColumns).
			AddRow(7, "56b23f9f2880253f7f3c5175", "Harbour Kayak Tours", "TOUR", "ACTIVE",
				true, 4120, nil, `{"status":"ACTIVE"}`, updated))

	rec, err := sess.AtdwRecordByProductID(context.Background(), "56b23f9f2880253f7f3c5175")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Harbour Kayak Tours", rec.ProductName)
	assert.True(t, rec.Imported)
	require.NotNil(t, rec.EntryID)
	assert.Equal(t, int64(4120), *rec.EntryID)
	assert.Equal(t, "", rec.Reason)
	assert.Equal(t, updated, rec.LastUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtdwRecordByProductIDMiss(t *testing.T) {
	sess, mock := newTestSession(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_atdw_products`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(atdwTestColumns))

	rec, err := sess.AtdwRecordByProductID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtdwRecordsByNameTightHit(t *testing.T) {
	sess, mock := newTestSession(t)
	updated := time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`payload::text LIKE $1`)).
		WithArgs(`%"title":"Harbour Kayak%`).
		WillReturnRows(sqlmock.NewRows(atdwTestColumns).
			AddRow(7, "56b2", "Harbour Kayak Tours", "TOUR", "ACTIVE", true, nil, nil, "{}", updated))

	records, err := sess.AtdwRecordsByName(context.Background(), `Harbour Kay%ak"`)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Harbour Kayak Tours", records[0].ProductName)
	assert.Nil(t, records[0].EntryID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtdwRecordsByNameBroadFallback(t *testing.T) {
	sess, mock := newTestSession(t)
	updated := time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`payload::text LIKE $1`)).
		WithArgs(`%"title":"Kayak%`).
		WillReturnRows(sqlmock.NewRows(atdwTestColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`"productName" ILIKE $1`)).
		WithArgs("%Kayak%").
		WillReturnRows(sqlmock.NewRows(atdwTestColumns).
			AddRow(8, "77aa", "Kayak Hire", "HIRE", "ACTIVE", false, nil, "no matching region", "{}", updated))

	records, err := sess.AtdwRecordsByName(context.Background(), "Kayak")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Kayak Hire", records[0].ProductName)
	assert.Equal(t, "no matching region", records[0].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtdwRecordsByNameBlankAfterSanitize(t *testing.T) {
	sess, mock := newTestSession(t)

	records, err := sess.AtdwRecordsByName(context.Background(), `%"\`)
	require.NoError(t, err)
	assert.Nil(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtdwTableStats(t *testing.T) {
	sess, mock := newTestSession(t)
	last := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`COUNT(*) FILTER (WHERE imported)`)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "imported", "max"}).AddRow(412, 388, last))
	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY status`)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("ACTIVE", 388).
			AddRow("EXPIRED", 24).
			AddRow(nil, 0))

	stats, err := sess.AtdwTableStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 412, stats.Total)
	assert.Equal(t, 388, stats.Imported)
	assert.Equal(t, map[string]int{"ACTIVE": 388, "EXPIRED": 24}, stats.ByStatus)
	require.NotNil(t, stats.LastUpdated)
	assert.Equal(t, last, *stats.LastUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtdwRegionCategories(t *testing.T) {
	sess, mock := newTestSession(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_categories`)).
		WithArgs("productRegions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "postcodes"}).
			AddRow(11, "Eurobodalla", `[{"col1":"","col2":"2536"},{"col1":"","col2":"2537"}]`).
			AddRow(12, "Snowy Valleys", nil))

	regions, err := sess.AtdwRegionCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "Eurobodalla", regions[0].Title)
	assert.Equal(t, []string{"2536", "2537"}, regions[0].Postcodes)
	assert.Empty(t, regions[1].Postcodes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtdwMappingCategories(t *testing.T) {
	sess, mock := newTestSession(t)
	mock.ExpectQuery(regexp.QuoteMeta(`LOWER(es.slug) = $2`)).
		WithArgs("atdwCategoryMapping", "tour").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(501))
	mock.ExpectQuery(regexp.QuoteMeta(`r."sourceId" = $1`)).
		WithArgs(int64(501)).
		WillReturnRows(sqlmock.NewRows([]string{"targetId", "title"}).
			AddRow(300, "Tours").
			AddRow(301, "Experiences"))

	refs, found, err := sess.AtdwMappingCategories(context.Background(), "TOUR")
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, refs, 2)
	assert.Equal(t, "Tours", refs[0].Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtdwMappingCategoriesUnmapped(t *testing.T) {
	sess, mock := newTestSession(t)
	mock.ExpectQuery(regexp.QuoteMeta(`LOWER(es.slug) = $2`)).
		WithArgs("atdwCategoryMapping", "kayaking").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	refs, found, err := sess.AtdwMappingCategories(context.Background(), "KAYAKING")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, refs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtdwEntryState(t *testing.T) {
	sess, mock := newTestSession(t)
	columns := []string{"enabled", "typeId", "handle", "expiryDate", "categories", "images"}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_entries`)).
		WithArgs(int64(4120)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(true, 9, "atdwProduct", nil, 2, 5))

	state, err := sess.AtdwEntryState(context.Background(), 4120)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Enabled)
	assert.False(t, state.Custom)
	assert.Equal(t, 2, state.CategoryCount)
	assert.Equal(t, 5, state.ImageCount)
	assert.Nil(t, state.ExpiryDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtdwEntryStateCustomType(t *testing.T) {
	sess, mock := newTestSession(t)
	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	columns := []string{"enabled", "typeId", "handle", "expiryDate", "categories", "images"}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_entries`)).
		WithArgs(int64(9001)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(false, 4, "product", expiry, 0, 0))

	state, err := sess.AtdwEntryState(context.Background(), 9001)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.Enabled)
	assert.True(t, state.Custom)
	require.NotNil(t, state.ExpiryDate)
	assert.Equal(t, expiry, *state.ExpiryDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtdwEntryStateMissing(t *testing.T) {
	sess, mock := newTestSession(t)
	columns := []string{"enabled", "typeId", "handle", "expiryDate", "categories", "images"}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM roam.craft_entries`)).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(columns))

	state, err := sess.AtdwEntryState(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.NoError(t, mock.ExpectationsWereMet())
}
