package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roamhq/roam-saas-ai/internal/atdw"
	"github.com/roamhq/roam-saas-ai/internal/core"
	"github.com/roamhq/roam-saas-ai/internal/craft"
	"github.com/roamhq/roam-saas-ai/internal/kv"
	"github.com/roamhq/roam-saas-ai/internal/pipeline"
	"github.com/roamhq/roam-saas-ai/internal/schema"
)

// traceTTL bounds how long a computed trace answers for a page
// component before the chain runs again.
const traceTTL = 5 * time.Minute

// availablePageLimit caps the page listing on a page miss. Detail
// arrays longer than ten entries are elided from prompts, so listing
// more would never reach the model.
const availablePageLimit = 10

// Collected is the evidence one request gathered.
type Collected struct {
	Config  *core.ComponentConfig
	Import  *core.AtdwImportConfig
	Trace   []core.TraceStep
	Targets []int64
}

// Collector owns the database work for one request: session checkout,
// schema resolution, page and block lookup, and dispatch to the filter
// chain, the block inspector, or the import collector. The session is
// released on every path.
type Collector struct {
	store   *craft.Store
	schemas *schema.Resolver
	cache   kv.Store
	log     *zap.Logger
}

// NewCollector creates a collector.
func NewCollector(store *craft.Store, schemas *schema.Resolver, cache kv.Store, log *zap.Logger) *Collector {
	return &Collector{store: store, schemas: schemas, cache: cache, log: log.Named("collect")}
}

// Collect gathers evidence for the intent. General questions carry no
// database work and return an empty result.
func (c *Collector) Collect(ctx context.Context, tenantID string, intent core.ParsedIntent, componentIndex int) (*Collected, error) {
	if intent.Domain == core.DomainGeneral {
		return &Collected{}, nil
	}

	sess, err := c.store.Session(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if intent.Domain == core.DomainAtdwImport {
		collector := atdw.NewCollector(craft.NewImportQueries(sess), c.log)
		cfg, trace, err := collector.Run(ctx, intent)
		if err != nil {
			return nil, err
		}
		return &Collected{Import: cfg, Trace: trace}, nil
	}
	return c.collectPage(ctx, sess, tenantID, intent, componentIndex)
}

func (c *Collector) collectPage(ctx context.Context, sess *craft.Session, tenantID string, intent core.ParsedIntent, componentIndex int) (*Collected, error) {
	sch, err := c.schemas.Get(ctx, sess, tenantID)
	if err != nil {
		return nil, err
	}
	if componentIndex < 0 {
		componentIndex = 0
	}

	out := &Collected{}
	key := traceKey(tenantID, intent.PageURI, intent.ComponentType, componentIndex)

	// The cache lookup and the name resolution depend on nothing but
	// the schema, so they fork.
	var cached *cachedTrace
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cached = c.cachedTrace(gctx, key)
		return nil
	})
	g.Go(func() error {
		targets, err := sess.ProductIDsByNames(gctx, sch, intent.ProductNames)
		if err != nil {
			return err
		}
		out.Targets = targets
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if cached != nil {
		rescoreTrace(cached.Trace, out.Targets)
		out.Config = cached.Config
		out.Trace = cached.Trace
		return out, nil
	}

	page, err := sess.ResolvePage(ctx, intent.PageURI)
	if err != nil {
		return nil, err
	}
	if page == nil {
		step, err := c.pageMissStep(ctx, sess, sch, intent.PageURI)
		if err != nil {
			return nil, err
		}
		out.Trace = []core.TraceStep{step}
		return out, nil
	}

	blocks, err := sess.BlocksForPage(ctx, sch, page.ID, intent.ComponentType)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		step, err := c.componentMissStep(ctx, sess, sch, page, intent.ComponentType)
		if err != nil {
			return nil, err
		}
		out.Trace = []core.TraceStep{step}
		return out, nil
	}
	if componentIndex >= len(blocks) {
		out.Trace = []core.TraceStep{{
			Step: core.StepBlockConfig,
			Description: fmt.Sprintf("The page has %d %q components but component %d was asked about",
				len(blocks), intent.ComponentType, componentIndex),
			Count:      0,
			ProductIDs: []int64{},
			Details: map[string]any{
				"componentType":  intent.ComponentType,
				"componentCount": len(blocks),
				"requestedIndex": componentIndex,
			},
		}}
		return out, nil
	}

	block := blocks[componentIndex]
	if block.TypeHandle == schema.ProductsBlockTypeHandle {
		cfg := pipeline.ConfigFromBlock(block)
		chain := pipeline.NewChain(craft.NewComponentQueries(sess, sch), c.log)
		trace, err := chain.Run(ctx, cfg, out.Targets)
		if err != nil {
			return nil, err
		}
		out.Config = &cfg
		out.Trace = trace
	} else {
		cfg, trace := pipeline.Inspect(block)
		out.Config = &cfg
		out.Trace = trace
	}

	c.storeTrace(ctx, key, out)
	return out, nil
}

func (c *Collector) pageMissStep(ctx context.Context, sess *craft.Session, sch *schema.Info, uri string) (core.TraceStep, error) {
	pages, err := sess.AvailablePages(ctx, sch, availablePageLimit)
	if err != nil {
		return core.TraceStep{}, err
	}
	available := make([]map[string]any, 0, len(pages))
	for _, p := range pages {
		available = append(available, map[string]any{"title": p.Title, "uri": p.URI})
	}
	return core.TraceStep{
		Step:        core.StepBlockConfig,
		Description: fmt.Sprintf("No live page matches %q; the pages that do exist are in the details", uri),
		Count:       0,
		ProductIDs:  []int64{},
		Details: map[string]any{
			"requestedUri":   uri,
			"availablePages": available,
		},
	}, nil
}

func (c *Collector) componentMissStep(ctx context.Context, sess *craft.Session, sch *schema.Info, page *craft.Page, componentType string) (core.TraceStep, error) {
	all, err := sess.BlocksForPage(ctx, sch, page.ID, "")
	if err != nil {
		return core.TraceStep{}, err
	}
	var types []string
	seen := make(map[string]struct{}, len(all))
	for _, b := range all {
		if _, dup := seen[b.TypeHandle]; dup {
			continue
		}
		seen[b.TypeHandle] = struct{}{}
		types = append(types, b.TypeHandle)
	}
	return core.TraceStep{
		Step:        core.StepBlockConfig,
		Description: fmt.Sprintf("Page %q has no %q component", page.Title, componentType),
		Count:       0,
		ProductIDs:  []int64{},
		Details: map[string]any{
			"pageTitle":     page.Title,
			"pageUri":       page.URI,
			"componentType": componentType,
			"blockTypes":    types,
		},
	}, nil
}

func traceKey(tenantID, pageURI, componentType string, index int) string {
	return fmt.Sprintf("trace:%s:%s:%s:%d", tenantID, pageURI, componentType, index)
}

// cachedTrace is the KV value under a trace key.
type cachedTrace struct {
	Config *core.ComponentConfig `json:"config"`
	Trace  []core.TraceStep      `json:"trace"`
}

func (c *Collector) cachedTrace(ctx context.Context, key string) *cachedTrace {
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("trace cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var entry cachedTrace
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.log.Warn("corrupt trace cache entry", zap.String("key", key), zap.Error(err))
		return nil
	}
	if len(entry.Trace) == 0 {
		return nil
	}
	return &entry
}

func (c *Collector) storeTrace(ctx context.Context, key string, out *Collected) {
	encoded, err := json.Marshal(cachedTrace{Config: out.Config, Trace: out.Trace})
	if err != nil {
		return
	}
	if err := c.cache.Put(ctx, key, string(encoded), traceTTL); err != nil {
		c.log.Warn("trace cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// rescoreTrace recomputes target markers on a cached trace, because
// the cached run's targets are not this request's targets. Steps that
// carried no marker when cached keep none.
func rescoreTrace(trace []core.TraceStep, targets []int64) {
	for i := range trace {
		if trace[i].TargetPresent == nil {
			continue
		}
		trace[i].TargetPresent = core.Presence(trace[i].ProductIDs, targets)
	}
}
