package craft

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roamhq/roam-saas-ai/internal/errors"
	"github.com/roamhq/roam-saas-ai/internal/schema"
)

// ProductsByPostcodes finds enabled products whose locations field
// matches any of the postcodes through the content search index.
// Keywords are space padded, so each postcode is matched as " {pc} ".
func (s *Session) ProductsByPostcodes(ctx context.Context, sch *schema.Info, postcodes []string) ([]int64, error) {
	if len(postcodes) == 0 {
		return nil, nil
	}
	fieldID, ok := sch.GlobalField(schema.HandleLocations)
	if !ok {
		s.log.Warn("locations field missing, postcode matching disabled", zap.String("tenant", s.tenant))
		return nil, nil
	}

	conditions := make([]string, 0, len(postcodes))
	args := []any{fieldID}
	for i, pc := range postcodes {
		conditions = append(conditions, fmt.Sprintf("si.keywords LIKE $%d", i+2))
		args = append(args, "% "+sanitizeLike(pc)+" %")
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT si."elementId"
		FROM %s si
		JOIN %s e ON e.id = si."elementId"
		WHERE si."fieldId" = $1
		  AND e.enabled = true
		  AND e."dateDeleted" IS NULL
		  AND (%s)`,
		s.table("craft_searchindex"), s.table("craft_elements"),
		joinOr(conditions))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "postcode product lookup failed", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "postcode product scan failed", err)
	}
	return ids, nil
}

// ProductsByRegionRelations finds enabled products in the products
// section directly related to any of the region categories.
func (s *Session) ProductsByRegionRelations(ctx context.Context, sch *schema.Info, regionIDs []int64) ([]int64, error) {
	return s.productsRelatedTo(ctx, sch, regionIDs, "region relation")
}

// ProductsRelatedToAny returns the enabled products in the products
// section related to at least one of the given element ids. This is
// the per-dimension primitive of the multi-dimensional AND.
func (s *Session) ProductsRelatedToAny(ctx context.Context, sch *schema.Info, ids []int64) ([]int64, error) {
	return s.productsRelatedTo(ctx, sch, ids, "relation dimension")
}

func (s *Session) productsRelatedTo(ctx context.Context, sch *schema.Info, targetIDs []int64, what string) ([]int64, error) {
	if len(targetIDs) == 0 {
		return nil, nil
	}
	sectionID, ok := sch.Section(schema.SectionProducts)
	if !ok {
		s.log.Warn("products section missing", zap.String("tenant", s.tenant))
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT r."sourceId"
		FROM %s r
		JOIN %s en ON en.id = r."sourceId"
		JOIN %s e ON e.id = r."sourceId"
		WHERE r."targetId" IN (%s)
		  AND en."sectionId" = $%d
		  AND e.enabled = true
		  AND e."dateDeleted" IS NULL`,
		s.table("craft_relations"), s.table("craft_entries"), s.table("craft_elements"),
		placeholders(len(targetIDs), 1), len(targetIDs)+1)

	args := append(int64Args(targetIDs), sectionID)
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, what+" lookup failed", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, what+" scan failed", err)
	}
	return ids, nil
}

// Titles fetches element titles keyed by id.
func (s *Session) Titles(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}

	query := fmt.Sprintf(`
		SELECT "elementId", COALESCE(title, '')
		FROM %s
		WHERE "elementId" IN (%s)`,
		s.table("craft_content"), placeholders(len(ids), 1))

	rows, err := s.conn.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "title lookup failed", err)
	}
	defer rows.Close()

	titles := make(map[int64]string, len(ids))
	for rows.Next() {
		var id int64
		var title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, errors.Wrap(errors.DatabaseFailure, "title scan failed", err)
		}
		titles[id] = title
	}
	return titles, rows.Err()
}

// NextEventDates fetches the next-event-date field for the given
// products. Products with no date are absent from the result.
func (s *Session) NextEventDates(ctx context.Context, ids []int64) (map[int64]time.Time, error) {
	if len(ids) == 0 {
		return map[int64]time.Time{}, nil
	}

	query := fmt.Sprintf(`
		SELECT "elementId", "field_roam_products_nextEventDate"
		FROM %s
		WHERE "elementId" IN (%s)`,
		s.table("craft_content"), placeholders(len(ids), 1))

	rows, err := s.conn.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "event date lookup failed", err)
	}
	defer rows.Close()

	dates := make(map[int64]time.Time)
	for rows.Next() {
		var id int64
		var at sql.NullTime
		if err := rows.Scan(&id, &at); err != nil {
			return nil, errors.Wrap(errors.DatabaseFailure, "event date scan failed", err)
		}
		if at.Valid {
			dates[id] = at.Time
		}
	}
	return dates, rows.Err()
}

// ProductIDsByNames resolves product names to entry ids with a
// case-insensitive contains match, capped per name. Used to identify
// the targets a question asks about.
func (s *Session) ProductIDsByNames(ctx context.Context, sch *schema.Info, names []string) ([]int64, error) {
	sectionID, ok := sch.Section(schema.SectionProducts)
	if !ok {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT e.id
		FROM %s e
		JOIN %s c ON c."elementId" = e.id
		JOIN %s en ON en.id = e.id
		WHERE en."sectionId" = $1
		  AND LOWER(c.title) LIKE LOWER($2)
		  AND e.enabled = true
		  AND e."dateDeleted" IS NULL
		LIMIT 5`,
		s.table("craft_elements"), s.table("craft_content"), s.table("craft_entries"))

	var out []int64
	seen := make(map[int64]struct{})
	for _, name := range names {
		cleaned := sanitizeLike(name)
		if cleaned == "" {
			continue
		}
		rows, err := s.conn.QueryContext(ctx, query, sectionID, "%"+cleaned+"%")
		if err != nil {
			return nil, errors.Wrap(errors.DatabaseFailure, "product name lookup failed", err)
		}
		ids, err := collectIDs(rows)
		if err != nil {
			return nil, errors.Wrap(errors.DatabaseFailure, "product name scan failed", err)
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

func joinOr(conditions []string) string {
	out := ""
	for i, c := range conditions {
		if i > 0 {
			out += " OR "
		}
		out += c
	}
	return out
}
