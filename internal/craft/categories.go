package craft

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roamhq/roam-saas-ai/internal/errors"
)

// StripAncestors removes from ids every category that has a descendant
// also present in ids, using the nested-set bounds. Input order is
// preserved for the survivors.
func (s *Session) StripAncestors(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) < 2 {
		return ids, nil
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT p."elementId"
		FROM %s p
		JOIN %s ch
		  ON ch."structureId" = p."structureId"
		 AND p.lft < ch.lft
		 AND p.rgt > ch.rgt
		WHERE p."elementId" IN (%s)
		  AND ch."elementId" IN (%s)
		  AND p."elementId" <> ch."elementId"`,
		s.table("craft_structureelements"), s.table("craft_structureelements"),
		placeholders(len(ids), 1), placeholders(len(ids), len(ids)+1))

	args := append(int64Args(ids), int64Args(ids)...)
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "ancestor lookup failed", err)
	}
	ancestors, err := collectIDs(rows)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "ancestor scan failed", err)
	}

	drop := make(map[int64]struct{}, len(ancestors))
	for _, id := range ancestors {
		drop[id] = struct{}{}
	}
	kept := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	return kept, nil
}

// postcodeRow is one entry of the region postcode table field.
type postcodeRow struct {
	Col1 string `json:"col1"`
	Col2 string `json:"col2"`
}

// parsePostcodes extracts the trimmed, non-empty postcodes (col2) from
// a region's postcode table JSON.
func parsePostcodes(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var entries []postcodeRow
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if pc := strings.TrimSpace(e.Col2); pc != "" {
			out = append(out, pc)
		}
	}
	return out
}

// RegionPostcodes collects the deduplicated postcodes configured on
// the given region categories.
func (s *Session) RegionPostcodes(ctx context.Context, regionIDs []int64) ([]string, error) {
	if len(regionIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT c."field_roam_categories_regionPostcodes"
		FROM %s c
		WHERE c."elementId" IN (%s)`,
		s.table("craft_content"), placeholders(len(regionIDs), 1))

	rows, err := s.conn.QueryContext(ctx, query, int64Args(regionIDs)...)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "postcode lookup failed", err)
	}
	defer rows.Close()

	var postcodes []string
	seen := make(map[string]struct{})
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(errors.DatabaseFailure, "postcode scan failed", err)
		}
		for _, pc := range parsePostcodes(raw.String) {
			if _, dup := seen[pc]; dup {
				continue
			}
			seen[pc] = struct{}{}
			postcodes = append(postcodes, pc)
		}
	}
	return postcodes, rows.Err()
}
