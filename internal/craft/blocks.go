package craft

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roamhq/roam-saas-ai/internal/core"
	"github.com/roamhq/roam-saas-ai/internal/errors"
	"github.com/roamhq/roam-saas-ai/internal/schema"
)

// BlocksForPage returns the page-builder blocks of a page in sort
// order. When typeHandle is non-empty only blocks of that matrix type
// are returned. Relations and field values are fetched per block in a
// fork-join.
func (s *Session) BlocksForPage(ctx context.Context, sch *schema.Info, pageID int64, typeHandle string) ([]core.Block, error) {
	query := fmt.Sprintf(`
		SELECT mb.id, mbt.handle, mb."sortOrder"
		FROM %s mb
		JOIN %s mbt ON mbt.id = mb."typeId"
		JOIN %s e ON e.id = mb.id
		WHERE mb."ownerId" = $1
		  AND e.enabled = true
		  AND e."dateDeleted" IS NULL`,
		s.table("craft_matrixblocks"), s.table("craft_matrixblocktypes"), s.table("craft_elements"))
	args := []any{pageID}
	if typeHandle != "" {
		query += ` AND mbt.handle = $2`
		args = append(args, typeHandle)
	}
	query += ` ORDER BY mb."sortOrder" ASC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "block lookup failed", err)
	}
	var blocks []core.Block
	for rows.Next() {
		var b core.Block
		var sortOrder sql.NullInt64
		if err := rows.Scan(&b.ID, &b.TypeHandle, &sortOrder); err != nil {
			rows.Close()
			return nil, errors.Wrap(errors.DatabaseFailure, "block scan failed", err)
		}
		b.SortOrder = int(sortOrder.Int64)
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(errors.DatabaseFailure, "block lookup failed", err)
	}
	rows.Close()

	g, gctx := errgroup.WithContext(ctx)
	for i := range blocks {
		b := &blocks[i]
		g.Go(func() error {
			relations, err := s.blockRelations(gctx, b.ID)
			if err != nil {
				return err
			}
			b.Relations = relations
			return nil
		})
		g.Go(func() error {
			values, err := s.blockFieldValues(gctx, sch, b.ID)
			if err != nil {
				return err
			}
			b.FieldValues = values
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// blockRelations gathers all relations of a block keyed by field
// handle, deduplicated per handle with server-side order preserved.
func (s *Session) blockRelations(ctx context.Context, blockID int64) (map[string][]core.Ref, error) {
	query := fmt.Sprintf(`
		SELECT f.handle, r."targetId", COALESCE(c.title, '')
		FROM %s r
		JOIN %s f ON f.id = r."fieldId"
		LEFT JOIN %s c ON c."elementId" = r."targetId"
		WHERE r."sourceId" = $1
		ORDER BY f.handle, r."sortOrder"`,
		s.table("craft_relations"), s.table("craft_fields"), s.table("craft_content"))

	rows, err := s.conn.QueryContext(ctx, query, blockID)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "relation lookup failed", err)
	}
	defer rows.Close()

	relations := make(map[string][]core.Ref)
	seen := make(map[string]map[int64]struct{})
	for rows.Next() {
		var handle string
		var ref core.Ref
		if err := rows.Scan(&handle, &ref.ID, &ref.Title); err != nil {
			return nil, errors.Wrap(errors.DatabaseFailure, "relation scan failed", err)
		}
		if seen[handle] == nil {
			seen[handle] = make(map[int64]struct{})
		}
		if _, dup := seen[handle][ref.ID]; dup {
			continue
		}
		seen[handle][ref.ID] = struct{}{}
		relations[handle] = append(relations[handle], ref)
	}
	return relations, rows.Err()
}

// blockFieldValues reads the block's matrix-content row as a column
// keyed map. The table name is re-validated against the content table
// regex before composition.
func (s *Session) blockFieldValues(ctx context.Context, sch *schema.Info, blockID int64) (map[string]any, error) {
	table := sch.MatrixContentTable
	if !schema.ValidContentTable(table) {
		return nil, errors.Newf(errors.SchemaIncomplete, "unsafe matrix content table %q", table)
	}

	query := fmt.Sprintf(`SELECT * FROM %s WHERE "elementId" = $1 LIMIT 1`, s.table(table))
	rows, err := s.conn.QueryContext(ctx, query, blockID)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "field value lookup failed", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "field value columns failed", err)
	}

	values := make(map[string]any, len(columns))
	if rows.Next() {
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(errors.DatabaseFailure, "field value scan failed", err)
		}
		for i, col := range columns {
			switch v := raw[i].(type) {
			case []byte:
				values[col] = string(v)
			default:
				values[col] = v
			}
		}
	}
	return values, rows.Err()
}

