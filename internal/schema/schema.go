// Package schema discovers the per-tenant content-model identifiers
// the query layer needs: numeric field and section ids for well-known
// handles, and the derived matrix-content table name. Lookups are
// cached per tenant for an hour.
package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/roamhq/roam-saas-ai/internal/errors"
	"github.com/roamhq/roam-saas-ai/internal/kv"
	"github.com/roamhq/roam-saas-ai/internal/tenant"
)

// Well-known identifiers in every tenant's content model.
const (
	// PageBuilderHandle is the global matrix field pages are built from.
	PageBuilderHandle = "pageBuilder"
	// ProductsBlockTypeHandle is the block type carrying product filters.
	ProductsBlockTypeHandle = "products"

	SectionProducts = "products"
	SectionPages    = "pages"
	SectionHomepage = "homepage"

	// Relation fields a products block can carry.
	HandleProducts          = "products"
	HandleIncludeProducts   = "includeProducts"
	HandleExcludeProducts   = "excludeProducts"
	HandleIncludeCategories = "includeCategories"
	HandleIncludeRegions    = "includeRegions"
	HandleIncludeTiers      = "includeTiers"
	HandleIncludeTaxonomy   = "includeTaxonomy"

	// Global fields.
	HandleLocations        = "roam_products_locations"
	HandleDescription      = "roam_products_description"
	HandleNextEventDate    = "roam_products_nextEventDate"
	HandleTier             = "roam_products_tier"
	HandleRegionPostcodes  = "roam_categories_regionPostcodes"
	HandleRegionLocalities = "roam_categories_regionLocalities"

	// Category groups.
	GroupProductRegions      = "productRegions"
	GroupAtdwCategoryMapping = "atdwCategoryMapping"
)

// RelationHandles lists the relation fields harvested from a block, in
// presentation order.
var RelationHandles = []string{
	HandleProducts,
	HandleIncludeProducts,
	HandleExcludeProducts,
	HandleIncludeCategories,
	HandleIncludeRegions,
	HandleIncludeTiers,
	HandleIncludeTaxonomy,
}

var globalHandles = []string{
	PageBuilderHandle,
	HandleLocations,
	HandleDescription,
	HandleNextEventDate,
	HandleTier,
	HandleRegionPostcodes,
	HandleRegionLocalities,
}

var sectionHandles = []string{SectionProducts, SectionPages, SectionHomepage}

// contentTableRe gates the derived matrix-content table name before it
// may ever be composed into SQL.
var contentTableRe = regexp.MustCompile(`^craft_matrixcontent_[a-z0-9_]+$`)

// ValidContentTable reports whether name is a safe matrix-content
// table identifier.
func ValidContentTable(name string) bool {
	return contentTableRe.MatchString(name)
}

// ScalarColumn names the matrix-content column holding a block-type
// scalar field, e.g. field_products_limit.
func ScalarColumn(blockType, handle string) string {
	return "field_" + blockType + "_" + handle
}

// TTL is how long a schema snapshot stays fresh.
const TTL = time.Hour

const keyPrefix = "schema:"

// Info is one tenant's schema snapshot. FieldIDs is keyed by plain
// handle for block-type context fields and by "global:{handle}" for
// global context fields.
type Info struct {
	Tenant             string           `json:"tenant"`
	FieldIDs           map[string]int64 `json:"fieldIds"`
	SectionIDs         map[string]int64 `json:"sections"`
	MatrixContentTable string           `json:"matrixContentTable"`
	BlockTypeUID       string           `json:"pageBuilderBlockTypeUid,omitempty"`
	CachedAt           time.Time        `json:"cachedAt"`
}

// Field returns the id of a block-type context field.
func (i *Info) Field(handle string) (int64, bool) {
	id, ok := i.FieldIDs[handle]
	return id, ok
}

// GlobalField returns the id of a global context field.
func (i *Info) GlobalField(handle string) (int64, bool) {
	id, ok := i.FieldIDs["global:"+handle]
	return id, ok
}

// Section returns the id of a section by handle.
func (i *Info) Section(handle string) (int64, bool) {
	id, ok := i.SectionIDs[handle]
	return id, ok
}

// Querier is the slice of database/sql the resolver needs. Both
// *sql.DB and *sql.Conn satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Resolver loads and caches schema snapshots.
type Resolver struct {
	cache kv.Store
	ttl   time.Duration
	group singleflight.Group
	log   *zap.Logger
}

// NewResolver creates a Resolver backed by the given cache.
func NewResolver(cache kv.Store, log *zap.Logger) *Resolver {
	return &Resolver{cache: cache, ttl: TTL, log: log.Named("schema")}
}

// Get returns the schema for tenantID, rebuilding from the database
// when the cached snapshot is absent or stale. Concurrent rebuilds for
// one tenant are collapsed into a single flight.
func (r *Resolver) Get(ctx context.Context, db Querier, tenantID string) (*Info, error) {
	key := keyPrefix + tenantID

	raw, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.Warn("schema cache read failed", zap.String("tenant", tenantID), zap.Error(err))
	} else if ok {
		var info Info
		if err := json.Unmarshal([]byte(raw), &info); err == nil && time.Since(info.CachedAt) < r.ttl {
			return &info, nil
		}
	}

	v, err, _ := r.group.Do(tenantID, func() (any, error) {
		info, err := r.build(ctx, db, tenantID)
		if err != nil {
			return nil, err
		}
		if encoded, err := json.Marshal(info); err == nil {
			if err := r.cache.Put(ctx, key, string(encoded), r.ttl); err != nil {
				r.log.Warn("schema cache write failed", zap.String("tenant", tenantID), zap.Error(err))
			}
		}
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Info), nil
}

// Refresh drops the cached snapshot so the next Get rebuilds it.
func (r *Resolver) Refresh(ctx context.Context, tenantID string) error {
	return r.cache.Delete(ctx, keyPrefix+tenantID)
}

func (r *Resolver) build(ctx context.Context, db Querier, tenantID string) (*Info, error) {
	if !tenant.Valid(tenantID) {
		return nil, errors.Newf(errors.BadTenant, "invalid tenant identifier %q", tenantID)
	}

	info := &Info{
		Tenant:     tenantID,
		FieldIDs:   make(map[string]int64),
		SectionIDs: make(map[string]int64),
		CachedAt:   time.Now().UTC(),
	}

	// 1. The block type whose fields carry the component configuration.
	uid, err := r.blockTypeUID(ctx, db, tenantID)
	if err != nil {
		return nil, err
	}
	info.BlockTypeUID = uid

	// 2. Fields in that block type's context.
	if uid != "" {
		if err := r.loadFields(ctx, db, tenantID, "matrixBlockType:"+uid, "", info.FieldIDs); err != nil {
			return nil, err
		}
	} else {
		r.log.Warn("products block type not found", zap.String("tenant", tenantID))
	}

	// 3. Global fields, keyed global:{handle}.
	if err := r.loadGlobalFields(ctx, db, tenantID, info.FieldIDs); err != nil {
		return nil, err
	}

	// 4. Sections.
	if err := r.loadSections(ctx, db, tenantID, info.SectionIDs); err != nil {
		return nil, err
	}

	// 5. Derive the matrix-content table from the page-builder handle.
	if _, ok := info.GlobalField(PageBuilderHandle); !ok {
		return nil, errors.Newf(errors.SchemaIncomplete,
			"tenant %q has no %s field", tenantID, PageBuilderHandle)
	}
	table := "craft_matrixcontent_" + strings.ToLower(PageBuilderHandle)
	if !ValidContentTable(table) {
		return nil, errors.Newf(errors.SchemaIncomplete, "derived content table %q is unsafe", table)
	}
	info.MatrixContentTable = table

	return info, nil
}

func (r *Resolver) blockTypeUID(ctx context.Context, db Querier, tenantID string) (string, error) {
	query := fmt.Sprintf(`SELECT uid FROM %s.craft_matrixblocktypes WHERE handle = $1`, tenantID)
	rows, err := db.QueryContext(ctx, query, ProductsBlockTypeHandle)
	if err != nil {
		return "", errors.Wrap(errors.DatabaseFailure, "block type lookup failed", err)
	}
	defer rows.Close()

	var uid string
	if rows.Next() {
		if err := rows.Scan(&uid); err != nil {
			return "", errors.Wrap(errors.DatabaseFailure, "block type scan failed", err)
		}
	}
	return uid, rows.Err()
}

func (r *Resolver) loadFields(ctx context.Context, db Querier, tenantID, fieldContext, prefix string, out map[string]int64) error {
	query := fmt.Sprintf(`SELECT handle, id FROM %s.craft_fields WHERE context = $1`, tenantID)
	rows, err := db.QueryContext(ctx, query, fieldContext)
	if err != nil {
		return errors.Wrap(errors.DatabaseFailure, "field lookup failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var handle string
		var id int64
		if err := rows.Scan(&handle, &id); err != nil {
			return errors.Wrap(errors.DatabaseFailure, "field scan failed", err)
		}
		out[prefix+handle] = id
	}
	return rows.Err()
}

func (r *Resolver) loadGlobalFields(ctx context.Context, db Querier, tenantID string, out map[string]int64) error {
	query := fmt.Sprintf(
		`SELECT handle, id FROM %s.craft_fields WHERE context = 'global' AND handle IN (%s)`,
		tenantID, placeholders(len(globalHandles), 1))
	args := make([]any, len(globalHandles))
	for i, h := range globalHandles {
		args[i] = h
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(errors.DatabaseFailure, "global field lookup failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var handle string
		var id int64
		if err := rows.Scan(&handle, &id); err != nil {
			return errors.Wrap(errors.DatabaseFailure, "global field scan failed", err)
		}
		out["global:"+handle] = id
	}
	return rows.Err()
}

func (r *Resolver) loadSections(ctx context.Context, db Querier, tenantID string, out map[string]int64) error {
	query := fmt.Sprintf(
		`SELECT handle, id FROM %s.craft_sections WHERE handle IN (%s)`,
		tenantID, placeholders(len(sectionHandles), 1))
	args := make([]any, len(sectionHandles))
	for i, h := range sectionHandles {
		args[i] = h
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(errors.DatabaseFailure, "section lookup failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var handle string
		var id int64
		if err := rows.Scan(&handle, &id); err != nil {
			return errors.Wrap(errors.DatabaseFailure, "section scan failed", err)
		}
		out[handle] = id
	}
	return rows.Err()
}

// placeholders renders "$start, $start+1, ..." for n bind parameters.
func placeholders(n, start int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", start+i)
	}
	return b.String()
}
