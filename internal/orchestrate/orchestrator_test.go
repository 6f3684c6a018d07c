package orchestrate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skumap/shelfcrawler/internal/catalog"
	"github.com/skumap/shelfcrawler/internal/sink/memory"
)

// site is a canned retailer: category pages mapping to subcategory links and
// leaf pages mapping to a single grid page of records.
type site struct {
	mu       sync.Mutex
	children map[string][]catalog.CrawlTarget
	grids    map[string][]catalog.Record
}

func (w *site) factory() catalog.SessionFactory {
	return func(ctx context.Context) (catalog.Session, error) {
		return &siteSession{world: w}, nil
	}
}

type siteSession struct {
	world *site
	url   string
}

func (s *siteSession) Navigate(ctx context.Context, url string) (catalog.Outcome, error) {
	s.url = url
	return catalog.OutcomeOK, nil
}
func (s *siteSession) Location(ctx context.Context) (string, error) { return s.url, nil }
func (s *siteSession) HTML(ctx context.Context) (string, error)    { return "", nil }
func (s *siteSession) Click(ctx context.Context, selector string) (bool, error) {
	return false, nil
}
func (s *siteSession) ScrollToBottom(ctx context.Context) (bool, error) { return false, nil }
func (s *siteSession) Relaunch(ctx context.Context) error              { return nil }
func (s *siteSession) Close() error                                    { return nil }

type siteExtractor struct {
	world *site
}

func (e *siteExtractor) ListSubcategories(ctx context.Context, s catalog.Session) ([]catalog.CrawlTarget, error) {
	ss := s.(*siteSession)
	e.world.mu.Lock()
	defer e.world.mu.Unlock()
	return e.world.children[ss.url], nil
}

func (e *siteExtractor) ListItems(ctx context.Context, s catalog.Session) ([]catalog.Record, bool, error) {
	ss := s.(*siteSession)
	e.world.mu.Lock()
	defer e.world.mu.Unlock()
	return e.world.grids[ss.url], false, nil
}

func (e *siteExtractor) AdvancePage(ctx context.Context, s catalog.Session) (bool, error) {
	return false, nil
}

func beverageSite() *site {
	return &site{
		children: map[string][]catalog.CrawlTarget{
			"https://shop.example/beverages": {
				{Name: "Soda", URL: "https://shop.example/beverages/soda"},
				{Name: "Juice", URL: "https://shop.example/beverages/juice"},
			},
		},
		grids: map[string][]catalog.Record{
			"https://shop.example/beverages/soda": {
				catalog.ProductRecord{ExternalID: "sku-1", Title: "cola"},
				catalog.ProductRecord{ExternalID: "sku-2", Title: "tonic"},
			},
			"https://shop.example/beverages/juice": {
				catalog.ProductRecord{ExternalID: "sku-3", Title: "orange"},
			},
		},
	}
}

func newTestOrchestrator(world *site, sink *memory.Sink) *Orchestrator {
	return New(
		Config{RetailerID: "shop-example", DiscoveryConcurrency: 2, HarvestConcurrency: 2},
		map[string][]catalog.CrawlTarget{
			"shop-example": {{Name: "Beverages", URL: "https://shop.example/beverages"}},
		},
		Deps{
			Sessions:  world.factory(),
			Extractor: &siteExtractor{world: world},
			Records:   sink,
			Trees:     sink,
			Logger:    zap.NewNop(),
		},
	)
}

func TestRunFlatCrawlDeliversRecords(t *testing.T) {
	t.Parallel()

	sink := memory.New()
	o := newTestOrchestrator(beverageSite(), sink)

	report, err := o.RunFlatCrawl(context.Background(), "", 3, 5)
	require.NoError(t, err)

	require.Equal(t, StateDelivered, report.State)
	require.Equal(t, 1, report.TargetsResolved)
	require.Equal(t, 2, report.LeavesDiscovered)
	require.Equal(t, 3, report.ItemsHarvested)
	require.Zero(t, report.LeavesEmpty)
	require.False(t, report.PartiallyFailed)
	require.Len(t, sink.Records(), 3)

	last := o.LastReport()
	require.NotNil(t, last)
	require.Equal(t, report.RunID, last.RunID)
}

func TestRunFlatCrawlNoTargets(t *testing.T) {
	t.Parallel()

	sink := memory.New()
	o := newTestOrchestrator(beverageSite(), sink)

	report, err := o.RunFlatCrawl(context.Background(), "no-such-retailer", 3, 5)
	require.ErrorIs(t, err, catalog.ErrNoTargets)
	require.Equal(t, StateNoTargets, report.State)
	require.Empty(t, sink.Records())
	require.Empty(t, sink.Trees())
}

func TestRunFlatCrawlSinkFailurePropagates(t *testing.T) {
	t.Parallel()

	sink := memory.New()
	sink.FailWith(errors.New("bucket unavailable"))
	o := newTestOrchestrator(beverageSite(), sink)

	report, err := o.RunFlatCrawl(context.Background(), "", 3, 5)
	require.ErrorIs(t, err, catalog.ErrSinkDelivery)
	require.Equal(t, StatePartiallyFailed, report.State)
	require.Equal(t, 3, report.ItemsHarvested)
}

func TestRunHierarchicalCrawlAttachesProducts(t *testing.T) {
	t.Parallel()

	sink := memory.New()
	o := newTestOrchestrator(beverageSite(), sink)

	report, err := o.RunHierarchicalCrawl(context.Background(), "Beverages", 3, 5)
	require.NoError(t, err)
	require.Equal(t, StateDelivered, report.State)

	trees := sink.Trees()
	require.Len(t, trees, 1)
	h := trees[0]
	require.False(t, h.Departments)
	require.Equal(t, "Beverages", h.Root.Name)

	soda := h.Root.Find("Soda")
	require.NotNil(t, soda)
	require.Len(t, soda.Products, 2)
	juice := h.Root.Find("Juice")
	require.NotNil(t, juice)
	require.Len(t, juice.Products, 1)
}

func TestRunFromHierarchyFileWithFilter(t *testing.T) {
	t.Parallel()

	doc := `{"departments":[
		{"name":"Beverages","link_url":"https://shop.example/beverages","sub_items":[
			{"name":"Soda","link_url":"https://shop.example/beverages/soda","sub_items":[]},
			{"name":"Juice","link_url":"https://shop.example/beverages/juice","sub_items":[]}
		]}
	]}`
	h, err := catalog.ParseHierarchy([]byte(doc))
	require.NoError(t, err)

	sink := memory.New()
	o := newTestOrchestrator(beverageSite(), sink)

	report, err := o.RunFromHierarchyFile(context.Background(), h, "Soda", 5, 2)
	require.NoError(t, err)
	require.Equal(t, StateDelivered, report.State)
	require.Equal(t, 1, report.LeavesDiscovered)
	require.Equal(t, 2, report.ItemsHarvested)

	trees := sink.Trees()
	require.Len(t, trees, 1)
	require.False(t, trees[0].Departments)
	require.Equal(t, "Soda", trees[0].Root.Name)
	require.Len(t, trees[0].Root.Products, 2)
}

func TestRunFromHierarchyFileFilterMissFallsBackToFullTree(t *testing.T) {
	t.Parallel()

	doc := `{"departments":[
		{"name":"Beverages","link_url":"https://shop.example/beverages","sub_items":[
			{"name":"Soda","link_url":"https://shop.example/beverages/soda","sub_items":[]},
			{"name":"Juice","link_url":"https://shop.example/beverages/juice","sub_items":[]}
		]}
	]}`
	h, err := catalog.ParseHierarchy([]byte(doc))
	require.NoError(t, err)

	sink := memory.New()
	o := newTestOrchestrator(beverageSite(), sink)

	report, err := o.RunFromHierarchyFile(context.Background(), h, "Snacks", 5, 2)
	require.NoError(t, err)
	require.Equal(t, 2, report.LeavesDiscovered)
	require.Equal(t, 3, report.ItemsHarvested)

	trees := sink.Trees()
	require.Len(t, trees, 1)
	require.True(t, trees[0].Departments)
}

func TestRunFromHierarchyFileEmptyTree(t *testing.T) {
	t.Parallel()

	sink := memory.New()
	o := newTestOrchestrator(beverageSite(), sink)

	_, err := o.RunFromHierarchyFile(context.Background(), nil, "", 5, 2)
	require.ErrorIs(t, err, catalog.ErrNoTargets)
}
