package craft

import (
	"context"
	"fmt"

	"github.com/roamhq/roam-saas-ai/internal/errors"
	"github.com/roamhq/roam-saas-ai/internal/schema"
)

// HomeURI is how the content store spells the homepage URI.
const HomeURI = "__home__"

// Page is a resolved page element.
type Page struct {
	ID        int64
	Title     string
	URI       string
	SectionID int64
}

// uriCandidates lists the URI spellings tried, in order, for a
// requested page path.
func uriCandidates(uri string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(c string) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	add(uri)
	if uri == "" || uri == "/" {
		add(HomeURI)
	}
	if len(uri) > 0 && uri[0] == '/' {
		add(uri[1:])
	} else if uri != "" {
		add("/" + uri)
	}
	return out
}

// ResolvePage finds the live page for uri, trying each candidate
// spelling in order. A page must be enabled, not deleted, and neither
// a draft nor a revision. Returns nil when nothing matches.
func (s *Session) ResolvePage(ctx context.Context, uri string) (*Page, error) {
	query := fmt.Sprintf(`
		SELECT e.id, COALESCE(c.title, ''), es.uri, COALESCE(en."sectionId", 0)
		FROM %s e
		JOIN %s es ON es."elementId" = e.id
		LEFT JOIN %s c ON c."elementId" = e.id
		LEFT JOIN %s en ON en.id = e.id
		WHERE es.uri = $1
		  AND e.enabled = true
		  AND es.enabled = true
		  AND e."dateDeleted" IS NULL
		  AND e."revisionId" IS NULL
		  AND e."draftId" IS NULL
		LIMIT 1`,
		s.table("craft_elements"), s.table("craft_elements_sites"),
		s.table("craft_content"), s.table("craft_entries"))

	for _, candidate := range uriCandidates(uri) {
		rows, err := s.conn.QueryContext(ctx, query, candidate)
		if err != nil {
			return nil, errors.Wrap(errors.DatabaseFailure, "page lookup failed", err)
		}

		var page *Page
		if rows.Next() {
			page = &Page{}
			if err := rows.Scan(&page.ID, &page.Title, &page.URI, &page.SectionID); err != nil {
				rows.Close()
				return nil, errors.Wrap(errors.DatabaseFailure, "page scan failed", err)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, errors.Wrap(errors.DatabaseFailure, "page lookup failed", err)
		}
		if page != nil {
			return page, nil
		}
	}
	return nil, nil
}

// AvailablePages lists live pages in the pages and homepage sections,
// for describing what exists when a requested page is missing.
func (s *Session) AvailablePages(ctx context.Context, sch *schema.Info, limit int) ([]Page, error) {
	var sectionIDs []int64
	for _, handle := range []string{schema.SectionPages, schema.SectionHomepage} {
		if id, ok := sch.Section(handle); ok {
			sectionIDs = append(sectionIDs, id)
		}
	}
	if len(sectionIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT e.id, COALESCE(c.title, ''), es.uri, en."sectionId"
		FROM %s e
		JOIN %s es ON es."elementId" = e.id
		JOIN %s en ON en.id = e.id
		LEFT JOIN %s c ON c."elementId" = e.id
		WHERE en."sectionId" IN (%s)
		  AND e.enabled = true
		  AND es.enabled = true
		  AND e."dateDeleted" IS NULL
		  AND e."revisionId" IS NULL
		  AND e."draftId" IS NULL
		ORDER BY c.title
		LIMIT %d`,
		s.table("craft_elements"), s.table("craft_elements_sites"),
		s.table("craft_entries"), s.table("craft_content"),
		placeholders(len(sectionIDs), 1), limit)

	rows, err := s.conn.QueryContext(ctx, query, int64Args(sectionIDs)...)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "page listing failed", err)
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.Title, &p.URI, &p.SectionID); err != nil {
			return nil, errors.Wrap(errors.DatabaseFailure, "page scan failed", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}
