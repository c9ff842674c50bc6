package craft

import (
	"context"
	"time"

	"github.com/roamhq/roam-saas-ai/internal/atdw"
	"github.com/roamhq/roam-saas-ai/internal/core"
	"github.com/roamhq/roam-saas-ai/internal/schema"
)

// ComponentQueries binds a session to a resolved schema so the filter
// chain can run without carrying either around. It satisfies the
// pipeline's store interface.
type ComponentQueries struct {
	sess *Session
	sch  *schema.Info
}

// NewComponentQueries returns the chain-facing query surface for one
// request.
func NewComponentQueries(sess *Session, sch *schema.Info) *ComponentQueries {
	return &ComponentQueries{sess: sess, sch: sch}
}

func (q *ComponentQueries) StripAncestors(ctx context.Context, ids []int64) ([]int64, error) {
	return q.sess.StripAncestors(ctx, ids)
}

func (q *ComponentQueries) RegionPostcodes(ctx context.Context, regionIDs []int64) ([]string, error) {
	return q.sess.RegionPostcodes(ctx, regionIDs)
}

func (q *ComponentQueries) ProductsByPostcodes(ctx context.Context, postcodes []string) ([]int64, error) {
	return q.sess.ProductsByPostcodes(ctx, q.sch, postcodes)
}

func (q *ComponentQueries) ProductsByRegionRelations(ctx context.Context, regionIDs []int64) ([]int64, error) {
	return q.sess.ProductsByRegionRelations(ctx, q.sch, regionIDs)
}

func (q *ComponentQueries) ProductsRelatedToAny(ctx context.Context, ids []int64) ([]int64, error) {
	return q.sess.ProductsRelatedToAny(ctx, q.sch, ids)
}

func (q *ComponentQueries) Titles(ctx context.Context, ids []int64) (map[int64]string, error) {
	return q.sess.Titles(ctx, ids)
}

func (q *ComponentQueries) NextEventDates(ctx context.Context, ids []int64) (map[int64]time.Time, error) {
	return q.sess.NextEventDates(ctx, ids)
}

// ImportQueries exposes a session under the names the import collector
// expects. It satisfies atdw.Store.
type ImportQueries struct {
	sess *Session
}

// NewImportQueries returns the collector-facing query surface for one
// request.
func NewImportQueries(sess *Session) *ImportQueries {
	return &ImportQueries{sess: sess}
}

func (q *ImportQueries) RecordByProductID(ctx context.Context, productID string) (*atdw.Record, error) {
	return q.sess.AtdwRecordByProductID(ctx, productID)
}

func (q *ImportQueries) RecordsByName(ctx context.Context, name string) ([]atdw.Record, error) {
	return q.sess.AtdwRecordsByName(ctx, name)
}

func (q *ImportQueries) TableStats(ctx context.Context) (atdw.Stats, error) {
	return q.sess.AtdwTableStats(ctx)
}

func (q *ImportQueries) RegionCategories(ctx context.Context) ([]atdw.RegionCategory, error) {
	return q.sess.AtdwRegionCategories(ctx)
}

func (q *ImportQueries) MappingCategories(ctx context.Context, slug string) ([]core.Ref, bool, error) {
	return q.sess.AtdwMappingCategories(ctx, slug)
}

func (q *ImportQueries) EntryCategories(ctx context.Context, entryID int64) ([]core.Ref, error) {
	return q.sess.AtdwEntryCategories(ctx, entryID)
}

func (q *ImportQueries) EntryState(ctx context.Context, entryID int64) (*atdw.EntryState, error) {
	return q.sess.AtdwEntryState(ctx, entryID)
}

var _ atdw.Store = (*ImportQueries)(nil)
