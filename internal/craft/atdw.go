package craft

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/roamhq/roam-saas-ai/internal/atdw"
	"github.com/roamhq/roam-saas-ai/internal/core"
	"github.com/roamhq/roam-saas-ai/internal/errors"
	"github.com/roamhq/roam-saas-ai/internal/schema"
)

// atdwColumns is the shared select list for import-ledger reads.
const atdwColumns = `id, "productId", "productName", category, status, imported, "entryId", reason, payload::text, "dateUpdated"`

func scanAtdwRecord(rows *sql.Rows) (atdw.Record, error) {
	var (
		rec     atdw.Record
		entryID sql.NullInt64
		reason  sql.NullString
		payload sql.NullString
	)
	err := rows.Scan(&rec.ID, &rec.ProductID, &rec.ProductName, &rec.Category, &rec.Status,
		&rec.Imported, &entryID, &reason, &payload, &rec.LastUpdated)
	if err != nil {
		return atdw.Record{}, err
	}
	if entryID.Valid {
		id := entryID.Int64
		rec.EntryID = &id
	}
	rec.Reason = reason.String
	rec.Payload = payload.String
	return rec, nil
}

// AtdwRecordByProductID returns the import record with the exact ATDW
// product id, or nil when none exists.
func (s *Session) AtdwRecordByProductID(ctx context.Context, productID string) (*atdw.Record, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE "productId" = $1
		LIMIT 1`, atdwColumns, s.table("craft_atdw_products"))
	rows, err := s.conn.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "atdw record lookup failed", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanAtdwRecord(rows)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "atdw record scan failed", err)
	}
	return &rec, rows.Err()
}

// AtdwRecordsByName finds import records for a product name. A tight
// pass matches the title inside the raw ATDW payload; only if that
// finds nothing does a broad pass match the stored product name.
func (s *Session) AtdwRecordsByName(ctx context.Context, name string) ([]atdw.Record, error) {
	name = sanitizeLike(name)
	if name == "" {
		return nil, nil
	}
	tight := `%"title":"` + name + `%`
	records, err := s.atdwRecordsWhere(ctx, `payload::text LIKE $1`, tight)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		return records, nil
	}
	return s.atdwRecordsWhere(ctx, `"productName" ILIKE $1`, "%"+name+"%")
}

func (s *Session) atdwRecordsWhere(ctx context.Context, where string, arg any) ([]atdw.Record, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
		ORDER BY "dateUpdated" DESC
		LIMIT 10`, atdwColumns, s.table("craft_atdw_products"), where)
	rows, err := s.conn.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "atdw record search failed", err)
	}
	defer rows.Close()
	var records []atdw.Record
	for rows.Next() {
		rec, err := scanAtdwRecord(rows)
		if err != nil {
			return nil, errors.Wrap(errors.DatabaseFailure, "atdw record scan failed", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AtdwTableStats summarises the import ledger.
func (s *Session) AtdwTableStats(ctx context.Context) (atdw.Stats, error) {
	stats := atdw.Stats{ByStatus: make(map[string]int)}
	query := fmt.Sprintf(`
		SELECT COUNT(*), COUNT(*) FILTER (WHERE imported), MAX("dateUpdated")
		FROM %s`, s.table("craft_atdw_products"))
	var last sql.NullTime
	if err := s.conn.QueryRowContext(ctx, query).Scan(&stats.Total, &stats.Imported, &last); err != nil {
		return atdw.Stats{}, errors.Wrap(errors.DatabaseFailure, "atdw stats query failed", err)
	}
	if last.Valid {
		t := last.Time
		stats.LastUpdated = &t
	}

	byStatus := fmt.Sprintf(`
		SELECT status, COUNT(*)
		FROM %s
		GROUP BY status`, s.table("craft_atdw_products"))
	rows, err := s.conn.QueryContext(ctx, byStatus)
	if err != nil {
		return atdw.Stats{}, errors.Wrap(errors.DatabaseFailure, "atdw status breakdown failed", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status sql.NullString
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return atdw.Stats{}, errors.Wrap(errors.DatabaseFailure, "atdw status scan failed", err)
		}
		if strings.TrimSpace(status.String) == "" {
			continue
		}
		stats.ByStatus[status.String] = count
	}
	return stats, rows.Err()
}

// AtdwRegionCategories returns the enabled product-region categories
// with their configured postcodes.
func (s *Session) AtdwRegionCategories(ctx context.Context) ([]atdw.RegionCategory, error) {
	query := fmt.Sprintf(`
		SELECT cat.id, con.title, con."field_roam_categories_regionPostcodes"
		FROM %s cat
		JOIN %s g ON g.id = cat."groupId"
		JOIN %s e ON e.id = cat.id
		LEFT JOIN %s con ON con."elementId" = cat.id
		WHERE g.handle = $1
		  AND e.enabled = true
		  AND e."dateDeleted" IS NULL
		ORDER BY con.title`,
		s.table("craft_categories"), s.table("craft_categorygroups"),
		s.table("craft_elements"), s.table("craft_content"))
	rows, err := s.conn.QueryContext(ctx, query, schema.GroupProductRegions)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "region category query failed", err)
	}
	defer rows.Close()
	var regions []atdw.RegionCategory
	for rows.Next() {
		var (
			region atdw.RegionCategory
			title  sql.NullString
			raw    sql.NullString
		)
		if err := rows.Scan(&region.ID, &title, &raw); err != nil {
			return nil, errors.Wrap(errors.DatabaseFailure, "region category scan failed", err)
		}
		region.Title = title.String
		region.Postcodes = parsePostcodes(raw.String)
		regions = append(regions, region)
	}
	return regions, rows.Err()
}

// AtdwMappingCategories resolves an ATDW type slug through the mapping
// category group to the site categories it relates to. The bool
// reports whether a mapping entry with that slug exists.
func (s *Session) AtdwMappingCategories(ctx context.Context, slug string) ([]core.Ref, bool, error) {
	lookup := fmt.Sprintf(`
		SELECT cat.id
		FROM %s cat
		JOIN %s g ON g.id = cat."groupId"
		JOIN %s e ON e.id = cat.id
		JOIN %s es ON es."elementId" = cat.id
		WHERE g.handle = $1
		  AND LOWER(es.slug) = $2
		  AND e.enabled = true
		  AND e."dateDeleted" IS NULL
		LIMIT 1`,
		s.table("craft_categories"), s.table("craft_categorygroups"),
		s.table("craft_elements"), s.table("craft_elements_sites"))
	var mappingID int64
	err := s.conn.QueryRowContext(ctx, lookup, schema.GroupAtdwCategoryMapping, strings.ToLower(slug)).Scan(&mappingID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.DatabaseFailure, "mapping category lookup failed", err)
	}

	refs, err := s.relatedRefs(ctx, mappingID)
	if err != nil {
		return nil, true, err
	}
	return refs, true, nil
}

// AtdwEntryCategories returns the categories related to a website
// entry.
func (s *Session) AtdwEntryCategories(ctx context.Context, entryID int64) ([]core.Ref, error) {
	return s.relatedRefs(ctx, entryID)
}

// relatedRefs returns the enabled categories an element relates to.
func (s *Session) relatedRefs(ctx context.Context, sourceID int64) ([]core.Ref, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT r."targetId", con.title
		FROM %s r
		JOIN %s cat ON cat.id = r."targetId"
		JOIN %s te ON te.id = cat.id
		LEFT JOIN %s con ON con."elementId" = cat.id
		WHERE r."sourceId" = $1
		  AND te.enabled = true
		  AND te."dateDeleted" IS NULL
		ORDER BY con.title`,
		s.table("craft_relations"), s.table("craft_categories"),
		s.table("craft_elements"), s.table("craft_content"))
	rows, err := s.conn.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "related category query failed", err)
	}
	defer rows.Close()
	var refs []core.Ref
	for rows.Next() {
		var ref core.Ref
		var title sql.NullString
		if err := rows.Scan(&ref.ID, &title); err != nil {
			return nil, errors.Wrap(errors.DatabaseFailure, "related category scan failed", err)
		}
		ref.Title = title.String
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// AtdwEntryState reports the website entry linked to an import record,
// or nil when the entry row is gone.
func (s *Session) AtdwEntryState(ctx context.Context, entryID int64) (*atdw.EntryState, error) {
	query := fmt.Sprintf(`
		SELECT e.enabled, en."typeId", et.handle, en."expiryDate",
		  (SELECT COUNT(*) FROM %s r JOIN %s c ON c.id = r."targetId" WHERE r."sourceId" = en.id),
		  (SELECT COUNT(*) FROM %s r JOIN %s a ON a.id = r."targetId" WHERE r."sourceId" = en.id)
		FROM %s en
		JOIN %s e ON e.id = en.id
		JOIN %s et ON et.id = en."typeId"
		WHERE en.id = $1
		  AND e."dateDeleted" IS NULL
		LIMIT 1`,
		s.table("craft_relations"), s.table("craft_categories"),
		s.table("craft_relations"), s.table("craft_assets"),
		s.table("craft_entries"), s.table("craft_elements"), s.table("craft_entrytypes"))
	var (
		state  atdw.EntryState
		expiry sql.NullTime
	)
	err := s.conn.QueryRowContext(ctx, query, entryID).
		Scan(&state.Enabled, &state.TypeID, &state.TypeHandle, &expiry, &state.CategoryCount, &state.ImageCount)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "entry state query failed", err)
	}
	if expiry.Valid {
		t := expiry.Time
		state.ExpiryDate = &t
	}
	state.Custom = state.TypeHandle != AtdwEntryTypeHandle
	return &state, nil
}
