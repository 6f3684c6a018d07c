package harvest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skumap/shelfcrawler/internal/catalog"
	"github.com/skumap/shelfcrawler/internal/pacing"
)

// gridWorld is the shared backing store for fixture sessions and the fixture
// extractor: grids keyed by canonical URL, plus fault injection knobs.
type gridWorld struct {
	mu         sync.Mutex
	grids      map[string][]gridPage
	panicOn    string
	timeoutOn  string
	relaunches int
}

type gridPage struct {
	records []catalog.Record
	hasNext bool
}

func (w *gridWorld) factory() catalog.SessionFactory {
	return func(ctx context.Context) (catalog.Session, error) {
		return &gridSession{world: w}, nil
	}
}

type gridSession struct {
	world *gridWorld
	url   string
	page  int
}

func (s *gridSession) Navigate(ctx context.Context, url string) (catalog.Outcome, error) {
	s.world.mu.Lock()
	timeout := s.world.timeoutOn == url
	s.world.mu.Unlock()
	if timeout {
		return catalog.OutcomeTimeout, nil
	}
	s.url = url
	s.page = 0
	return catalog.OutcomeOK, nil
}

func (s *gridSession) Location(ctx context.Context) (string, error) { return s.url, nil }
func (s *gridSession) HTML(ctx context.Context) (string, error)     { return "", nil }
func (s *gridSession) Click(ctx context.Context, selector string) (bool, error) {
	return true, nil
}
func (s *gridSession) ScrollToBottom(ctx context.Context) (bool, error) { return false, nil }
func (s *gridSession) Relaunch(ctx context.Context) error {
	s.world.mu.Lock()
	s.world.relaunches++
	s.world.mu.Unlock()
	return nil
}
func (s *gridSession) Close() error { return nil }

// gridExtractor serves pages out of the world keyed by the session's current
// URL and page index.
type gridExtractor struct {
	world *gridWorld
}

func (e *gridExtractor) ListSubcategories(ctx context.Context, s catalog.Session) ([]catalog.CrawlTarget, error) {
	return nil, nil
}

func (e *gridExtractor) ListItems(ctx context.Context, s catalog.Session) ([]catalog.Record, bool, error) {
	gs := s.(*gridSession)
	e.world.mu.Lock()
	defer e.world.mu.Unlock()
	if e.world.panicOn == gs.url {
		panic("fixture: extractor blew up")
	}
	pages := e.world.grids[gs.url]
	if gs.page >= len(pages) {
		return nil, false, nil
	}
	p := pages[gs.page]
	return p.records, p.hasNext, nil
}

func (e *gridExtractor) AdvancePage(ctx context.Context, s catalog.Session) (bool, error) {
	gs := s.(*gridSession)
	gs.page++
	return true, nil
}

// endlessExtractor advertises a next page forever and mints fresh SKUs on
// every page, so only the page cap can stop pagination.
type endlessExtractor struct {
	perPage int
}

func (e *endlessExtractor) ListSubcategories(ctx context.Context, s catalog.Session) ([]catalog.CrawlTarget, error) {
	return nil, nil
}

func (e *endlessExtractor) ListItems(ctx context.Context, s catalog.Session) ([]catalog.Record, bool, error) {
	gs := s.(*gridSession)
	records := make([]catalog.Record, 0, e.perPage)
	for i := 0; i < e.perPage; i++ {
		records = append(records, catalog.ProductRecord{
			ExternalID: fmt.Sprintf("p%d-i%d", gs.page, i),
			Title:      fmt.Sprintf("item %d on page %d", i, gs.page),
		})
	}
	return records, true, nil
}

func (e *endlessExtractor) AdvancePage(ctx context.Context, s catalog.Session) (bool, error) {
	gs := s.(*gridSession)
	gs.page++
	return true, nil
}

func product(sku, title string) catalog.Record {
	return catalog.ProductRecord{ExternalID: sku, Title: title, URL: "https://shop.example/p/" + sku}
}

func newTestHarvester(cfg Config, world *gridWorld, extractor catalog.Extractor, seen *catalog.SeenSet) *Harvester {
	return New(cfg, world.factory(), extractor, nil, nil, pacing.New(pacing.Range{}, pacing.Range{}), seen, zap.NewNop())
}

func TestHarvestCountsOnlyFirstSighting(t *testing.T) {
	t.Parallel()

	// Page one yields three products and advertises a next page; page two
	// yields two new products plus a repeat of the first.
	world := &gridWorld{grids: map[string][]gridPage{
		"https://shop.example/aisle/soda": {
			{records: []catalog.Record{product("sku-1", "cola"), product("sku-2", "root beer"), product("sku-3", "ginger ale")}, hasNext: true},
			{records: []catalog.Record{product("sku-4", "tonic"), product("sku-5", "seltzer"), product("sku-1", "cola")}},
		},
	}}
	h := newTestHarvester(Config{Concurrency: 1, MaxPages: 2}, world, &gridExtractor{world: world}, nil)

	res := h.Harvest(context.Background(), []catalog.LeafTask{{URL: "https://shop.example/aisle/soda", Category: "Soda"}})

	require.Len(t, res.Items, 5)
	require.Equal(t, 2, res.PagesScanned)
	require.Zero(t, res.BatchesFailed)
	require.Zero(t, res.URLsAbandoned)
	var skus []string
	for _, it := range res.Items {
		require.Equal(t, "https://shop.example/aisle/soda", it.Origin)
		skus = append(skus, it.Record.Identity())
	}
	require.ElementsMatch(t, []string{"sku-1", "sku-2", "sku-3", "sku-4", "sku-5"}, skus)
}

func TestHarvestIsIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	world := &gridWorld{grids: map[string][]gridPage{
		"https://shop.example/aisle/tea": {
			{records: []catalog.Record{product("sku-10", "green"), product("sku-11", "black")}},
		},
	}}
	seen := catalog.NewSeenSet()
	h := newTestHarvester(Config{Concurrency: 1, MaxPages: 3}, world, &gridExtractor{world: world}, seen)
	tasks := []catalog.LeafTask{{URL: "https://shop.example/aisle/tea", Category: "Tea"}}

	first := h.Harvest(context.Background(), tasks)
	require.Len(t, first.Items, 2)

	second := h.Harvest(context.Background(), tasks)
	require.Empty(t, second.Items)
	require.Zero(t, second.URLsAbandoned)
}

func TestHarvestPanicStaysInItsBatch(t *testing.T) {
	t.Parallel()

	world := &gridWorld{
		grids: map[string][]gridPage{
			"https://shop.example/aisle/a": {{records: []catalog.Record{product("sku-a", "a")}}},
			"https://shop.example/aisle/b": {{records: []catalog.Record{product("sku-b", "b")}}},
			"https://shop.example/aisle/c": {{records: []catalog.Record{product("sku-c", "c")}}},
		},
		panicOn: "https://shop.example/aisle/b",
	}
	h := newTestHarvester(Config{Concurrency: 3, MaxPages: 1}, world, &gridExtractor{world: world}, nil)

	res := h.Harvest(context.Background(), []catalog.LeafTask{
		{URL: "https://shop.example/aisle/a", Category: "A"},
		{URL: "https://shop.example/aisle/b", Category: "B"},
		{URL: "https://shop.example/aisle/c", Category: "C"},
	})

	require.Equal(t, 1, res.BatchesFailed)
	var skus []string
	for _, it := range res.Items {
		skus = append(skus, it.Record.Identity())
	}
	require.ElementsMatch(t, []string{"sku-a", "sku-c"}, skus)
}

func TestHarvestStopsAtPageCap(t *testing.T) {
	t.Parallel()

	world := &gridWorld{}
	h := newTestHarvester(Config{Concurrency: 1, MaxPages: 4}, world, &endlessExtractor{perPage: 2}, nil)

	res := h.Harvest(context.Background(), []catalog.LeafTask{{URL: "https://shop.example/aisle/endless", Category: "Endless"}})

	require.Equal(t, 4, res.PagesScanned)
	require.Len(t, res.Items, 8)
}

func TestHarvestStopsAfterStaleWrapAround(t *testing.T) {
	t.Parallel()

	// The paginator wraps back to the same three products forever: after one
	// productive page and three stale ones the grid is treated as exhausted
	// well before the page cap.
	page := gridPage{
		records: []catalog.Record{product("sku-20", "x"), product("sku-21", "y"), product("sku-22", "z")},
		hasNext: true,
	}
	world := &gridWorld{grids: map[string][]gridPage{
		"https://shop.example/aisle/wrap": {page, page, page, page, page, page, page, page},
	}}
	h := newTestHarvester(Config{Concurrency: 1, MaxPages: 50}, world, &gridExtractor{world: world}, nil)

	res := h.Harvest(context.Background(), []catalog.LeafTask{{URL: "https://shop.example/aisle/wrap", Category: "Wrap"}})

	require.Len(t, res.Items, 3)
	require.Equal(t, 4, res.PagesScanned)
}

func TestHarvestURLsOnlyCollapsesByCanonicalURL(t *testing.T) {
	t.Parallel()

	world := &gridWorld{grids: map[string][]gridPage{
		"https://shop.example/aisle/jam": {
			{records: []catalog.Record{
				catalog.ProductRecord{ExternalID: "sku-30", URL: "https://Shop.Example/p/jam?ref=grid"},
				catalog.ProductRecord{ExternalID: "sku-31", URL: "https://shop.example/p/jam"},
			}},
		},
	}}
	h := newTestHarvester(Config{Concurrency: 1, MaxPages: 1, URLsOnly: true}, world, &gridExtractor{world: world}, nil)

	res := h.Harvest(context.Background(), []catalog.LeafTask{{URL: "https://shop.example/aisle/jam", Category: "Jam"}})

	require.Len(t, res.Items, 1)
	rec, ok := res.Items[0].Record.(catalog.URLRecord)
	require.True(t, ok)
	require.Equal(t, "https://shop.example/p/jam", rec.Identity())
}

func TestHarvestAbandonsUnreachableURL(t *testing.T) {
	t.Parallel()

	world := &gridWorld{
		grids: map[string][]gridPage{
			"https://shop.example/aisle/ok": {{records: []catalog.Record{product("sku-40", "ok")}}},
		},
		timeoutOn: "https://shop.example/aisle/stuck",
	}
	h := newTestHarvester(Config{Concurrency: 1, MaxPages: 1, MaxRetries: 2}, world, &gridExtractor{world: world}, nil)

	res := h.Harvest(context.Background(), []catalog.LeafTask{
		{URL: "https://shop.example/aisle/stuck", Category: "Stuck"},
		{URL: "https://shop.example/aisle/ok", Category: "OK"},
	})

	require.Equal(t, 1, res.URLsAbandoned)
	require.Zero(t, res.BatchesFailed)
	require.Len(t, res.Items, 1)
	require.Equal(t, "sku-40", res.Items[0].Record.Identity())
}

func TestHarvestEmptyInputIsNotAnError(t *testing.T) {
	t.Parallel()

	world := &gridWorld{}
	h := newTestHarvester(Config{Concurrency: 4, MaxPages: 5}, world, &gridExtractor{world: world}, nil)

	res := h.Harvest(context.Background(), nil)

	require.Empty(t, res.Items)
	require.Zero(t, res.BatchesFailed)
	require.Zero(t, res.URLsAbandoned)
	require.Zero(t, res.PagesScanned)
}
