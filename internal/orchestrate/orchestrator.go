// Package orchestrate drives a crawl end to end: resolve targets, discover
// category trees, harvest their leaves, assemble the output shape, and hand
// the finished batch to a sink. Per-URL and per-subtree failures are recorded
// in the delivery report; only empty target resolution and sink delivery
// failures surface as errors.
package orchestrate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skumap/shelfcrawler/internal/assemble"
	"github.com/skumap/shelfcrawler/internal/catalog"
	"github.com/skumap/shelfcrawler/internal/discover"
	"github.com/skumap/shelfcrawler/internal/harvest"
	"github.com/skumap/shelfcrawler/internal/metrics"
	"github.com/skumap/shelfcrawler/internal/pacing"
	"github.com/skumap/shelfcrawler/internal/probe"
)

// State names one phase of a crawl run.
type State string

// Run states. PartiallyFailed is recorded, not terminal: a run that lost
// subtrees or batches still aggregates and delivers what it has. NoTargets is
// the one hard stop, reached before any browser work starts.
const (
	StateIdle            State = "idle"
	StateDiscovering     State = "discovering"
	StateHarvesting      State = "harvesting"
	StateAggregating     State = "aggregating"
	StateDelivered       State = "delivered"
	StatePartiallyFailed State = "partially_failed"
	StateNoTargets       State = "no_targets"
)

// Run modes.
const (
	ModeFlat         = "flat"
	ModeHierarchical = "hierarchical"
	ModeFromFile     = "from_file"
)

// DeliveryReport summarizes one run. Every run that gets past target
// resolution produces one, including runs that lost work along the way.
type DeliveryReport struct {
	RunID            string    `json:"run_id"`
	Mode             string    `json:"mode"`
	State            State     `json:"state"`
	TargetsResolved  int       `json:"targets_resolved"`
	LeavesDiscovered int       `json:"leaves_discovered"`
	ItemsHarvested   int       `json:"items_harvested"`
	PagesScanned     int       `json:"pages_scanned"`
	BatchesFailed    int       `json:"batches_failed"`
	LeavesEmpty      int       `json:"leaves_empty"`
	NodesAbandoned   int       `json:"nodes_abandoned"`
	URLsAbandoned    int       `json:"urls_abandoned"`
	PartiallyFailed  bool      `json:"partially_failed"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Config carries the per-process crawl settings; per-run knobs like depth and
// page caps arrive as run arguments.
type Config struct {
	RetailerID           string
	DiscoveryConcurrency int
	HarvestConcurrency   int
	MaxRetries           int
	URLsOnly             bool
}

// Deps are the injected capabilities. Solver and Probe may be nil; Records
// and Trees are required by the modes that deliver to them.
type Deps struct {
	Sessions  catalog.SessionFactory
	Extractor catalog.Extractor
	Blocks    catalog.BlockDetector
	Solver    catalog.CaptchaSolver
	Pacer     *pacing.Pacer
	Probe     *probe.Checker
	Records   catalog.RecordSink
	Trees     catalog.TreeSink
	Logger    *zap.Logger
}

// Orchestrator runs crawls against a named target registry.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	targets map[string][]catalog.CrawlTarget

	mu    sync.Mutex
	state State
	last  *DeliveryReport
}

// New builds an Orchestrator over a registry of named target groups.
func New(cfg Config, targets map[string][]catalog.CrawlTarget, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Pacer == nil {
		deps.Pacer = pacing.New(pacing.Range{}, pacing.Range{})
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		targets: targets,
		state:   StateIdle,
	}
}

// State returns the current run phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastReport returns the most recent delivery report, or nil before the
// first run finishes.
func (o *Orchestrator) LastReport() *DeliveryReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	cp := *o.last
	return &cp
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// resolveTargets selects the crawl entry points. An empty filter takes every
// registered group in stable name order; otherwise the filter matches a group
// name first, then an individual target name.
func (o *Orchestrator) resolveTargets(filter string) []catalog.CrawlTarget {
	if filter == "" {
		names := make([]string, 0, len(o.targets))
		for name := range o.targets {
			names = append(names, name)
		}
		sort.Strings(names)
		var all []catalog.CrawlTarget
		for _, name := range names {
			all = append(all, o.targets[name]...)
		}
		return all
	}
	if group, ok := o.targets[filter]; ok {
		return group
	}
	for _, group := range o.targets {
		for _, target := range group {
			if target.Name == filter {
				return []catalog.CrawlTarget{target}
			}
		}
	}
	return nil
}

// RunFlatCrawl discovers each resolved target's subtree, harvests its leaves,
// and delivers a flat record batch to the record sink.
func (o *Orchestrator) RunFlatCrawl(ctx context.Context, filter string, maxDepth, maxPages int) (*DeliveryReport, error) {
	report := o.newReport(ModeFlat)
	targets := o.resolveTargets(filter)
	if len(targets) == 0 {
		return o.finishNoTargets(report, filter)
	}
	report.TargetsResolved = len(targets)
	o.probeTargets(ctx, targets)

	_, leaves := o.discoverAll(ctx, report, targets, maxDepth)
	items := o.harvestLeaves(ctx, report, leaves, maxPages)

	o.setState(StateAggregating)
	records := assemble.Flat(items)
	report.LeavesEmpty = countEmptyLeaves(leaves, items)

	if err := o.deps.Records.DeliverRecords(ctx, records); err != nil {
		return o.finishFailedDelivery(report, err)
	}
	return o.finishDelivered(report), nil
}

// RunHierarchicalCrawl discovers each resolved target's subtree and delivers
// a category tree with harvested items attached to its leaves.
func (o *Orchestrator) RunHierarchicalCrawl(ctx context.Context, filter string, maxDepth, maxPages int) (*DeliveryReport, error) {
	report := o.newReport(ModeHierarchical)
	targets := o.resolveTargets(filter)
	if len(targets) == 0 {
		return o.finishNoTargets(report, filter)
	}
	report.TargetsResolved = len(targets)
	o.probeTargets(ctx, targets)

	trees, leaves := o.discoverAll(ctx, report, targets, maxDepth)
	items := o.harvestLeaves(ctx, report, leaves, maxPages)

	o.setState(StateAggregating)
	report.LeavesEmpty = countEmptyLeaves(leaves, items)
	hierarchy := o.assembleHierarchy(trees, items)

	if err := o.deps.Trees.DeliverTree(ctx, hierarchy); err != nil {
		return o.finishFailedDelivery(report, err)
	}
	return o.finishDelivered(report), nil
}

// RunFromHierarchyFile skips discovery: it harvests the leaves of a
// precomputed tree, optionally narrowed to the first node matching
// filterName, and delivers the tree with items attached. When the filter
// matches nothing the full tree is used and the available top-level names are
// logged.
func (o *Orchestrator) RunFromHierarchyFile(ctx context.Context, h *catalog.Hierarchy, filterName string, maxPages, concurrency int) (*DeliveryReport, error) {
	report := o.newReport(ModeFromFile)
	if h == nil || h.Root == nil {
		return o.finishNoTargets(report, filterName)
	}

	root := h.Root
	departments := h.Departments
	if filterName != "" {
		if found := root.Find(filterName); found != nil {
			root = found
			departments = false
		} else {
			o.deps.Logger.Warn("filter matched no node, using full tree",
				zap.String("filter", filterName),
				zap.Strings("available", h.TopLevelNames()),
			)
		}
	}

	leaves := root.LeafTasks()
	if len(leaves) == 0 {
		return o.finishNoTargets(report, filterName)
	}
	report.TargetsResolved = 1
	report.LeavesDiscovered = len(leaves)

	if concurrency <= 0 {
		concurrency = o.cfg.HarvestConcurrency
	}
	o.setState(StateHarvesting)
	harvester := harvest.New(
		harvest.Config{
			Concurrency: concurrency,
			MaxPages:    maxPages,
			MaxRetries:  o.cfg.MaxRetries,
			URLsOnly:    o.cfg.URLsOnly,
			RetailerID:  o.cfg.RetailerID,
		},
		o.deps.Sessions, o.deps.Extractor, o.deps.Blocks, o.deps.Solver, o.deps.Pacer,
		catalog.NewSeenSet(), o.deps.Logger,
	)
	res := harvester.Harvest(ctx, leaves)
	o.absorbHarvest(report, res)

	o.setState(StateAggregating)
	report.LeavesEmpty = countEmptyLeaves(leaves, res.Items)
	assembled := assemble.Hierarchical(root, res.Items, o.cfg.URLsOnly)
	hierarchy := &catalog.Hierarchy{Root: assembled, Departments: departments}

	if err := o.deps.Trees.DeliverTree(ctx, hierarchy); err != nil {
		return o.finishFailedDelivery(report, err)
	}
	return o.finishDelivered(report), nil
}

func (o *Orchestrator) newReport(mode string) *DeliveryReport {
	return &DeliveryReport{
		RunID:     uuid.NewString(),
		Mode:      mode,
		State:     StateIdle,
		StartedAt: time.Now().UTC(),
	}
}

// probeTargets runs the plain-HTTP reachability check when configured. The
// result is advisory only.
func (o *Orchestrator) probeTargets(ctx context.Context, targets []catalog.CrawlTarget) {
	if o.deps.Probe == nil {
		return
	}
	for _, target := range targets {
		if err := o.deps.Probe.Check(ctx, target.URL); err != nil {
			o.deps.Logger.Warn("target probe failed, continuing with browser crawl",
				zap.String("target", target.Name),
				zap.Error(err),
			)
		}
	}
}

// discoverAll expands every target subtree. A target whose root URL cannot
// even be parsed is dropped and recorded; everything else the discoverer
// absorbs itself.
func (o *Orchestrator) discoverAll(ctx context.Context, report *DeliveryReport, targets []catalog.CrawlTarget, maxDepth int) ([]*catalog.CategoryNode, []catalog.LeafTask) {
	o.setState(StateDiscovering)
	d := discover.New(
		discover.Config{Concurrency: o.cfg.DiscoveryConcurrency, MaxDepth: maxDepth},
		o.deps.Sessions, o.deps.Extractor, o.deps.Blocks, o.deps.Pacer, o.deps.Logger,
	)

	var trees []*catalog.CategoryNode
	var leaves []catalog.LeafTask
	for _, target := range targets {
		res, err := d.Discover(ctx, target)
		if err != nil {
			o.deps.Logger.Error("target dropped from run",
				zap.String("target", target.Name),
				zap.String("url", target.URL),
				zap.Error(err),
			)
			report.NodesAbandoned++
			o.markPartialFailure(report)
			continue
		}
		trees = append(trees, res.Tree)
		leaves = append(leaves, res.Leaves...)
		report.NodesAbandoned += res.NodesAbandoned
		if res.NodesAbandoned > 0 {
			o.markPartialFailure(report)
		}
	}
	report.LeavesDiscovered = len(leaves)
	return trees, leaves
}

func (o *Orchestrator) harvestLeaves(ctx context.Context, report *DeliveryReport, leaves []catalog.LeafTask, maxPages int) []catalog.HarvestedItem {
	o.setState(StateHarvesting)
	harvester := harvest.New(
		harvest.Config{
			Concurrency: o.cfg.HarvestConcurrency,
			MaxPages:    maxPages,
			MaxRetries:  o.cfg.MaxRetries,
			URLsOnly:    o.cfg.URLsOnly,
			RetailerID:  o.cfg.RetailerID,
		},
		o.deps.Sessions, o.deps.Extractor, o.deps.Blocks, o.deps.Solver, o.deps.Pacer,
		catalog.NewSeenSet(), o.deps.Logger,
	)
	res := harvester.Harvest(ctx, leaves)
	o.absorbHarvest(report, res)
	return res.Items
}

func (o *Orchestrator) absorbHarvest(report *DeliveryReport, res *harvest.Result) {
	report.ItemsHarvested = len(res.Items)
	report.PagesScanned = res.PagesScanned
	report.BatchesFailed = res.BatchesFailed
	report.URLsAbandoned = res.URLsAbandoned
	if res.BatchesFailed > 0 || res.URLsAbandoned > 0 {
		o.markPartialFailure(report)
	}
}

// markPartialFailure records lost work without stopping the run.
func (o *Orchestrator) markPartialFailure(report *DeliveryReport) {
	if !report.PartiallyFailed {
		o.setState(StatePartiallyFailed)
		report.PartiallyFailed = true
	}
}

// assembleHierarchy attaches items to one or many discovered trees. A single
// tree keeps the bare-node root shape; multiple targets produce a departments
// document.
func (o *Orchestrator) assembleHierarchy(trees []*catalog.CategoryNode, items []catalog.HarvestedItem) *catalog.Hierarchy {
	if len(trees) == 1 {
		return &catalog.Hierarchy{Root: assemble.Hierarchical(trees[0], items, o.cfg.URLsOnly)}
	}
	root := &catalog.CategoryNode{Children: trees}
	return &catalog.Hierarchy{
		Root:        assemble.Hierarchical(root, items, o.cfg.URLsOnly),
		Departments: true,
	}
}

func (o *Orchestrator) finishNoTargets(report *DeliveryReport, filter string) (*DeliveryReport, error) {
	report.State = StateNoTargets
	report.FinishedAt = time.Now().UTC()
	o.store(report, StateNoTargets)
	metrics.ObserveRun(report.Mode, string(StateNoTargets))
	o.deps.Logger.Error("no crawl targets resolved", zap.String("filter", filter))
	return report, fmt.Errorf("filter %q: %w", filter, catalog.ErrNoTargets)
}

func (o *Orchestrator) finishFailedDelivery(report *DeliveryReport, err error) (*DeliveryReport, error) {
	report.PartiallyFailed = true
	report.State = StatePartiallyFailed
	report.FinishedAt = time.Now().UTC()
	o.store(report, StatePartiallyFailed)
	metrics.ObserveRun(report.Mode, string(StatePartiallyFailed))
	return report, fmt.Errorf("%w: %v", catalog.ErrSinkDelivery, err)
}

func (o *Orchestrator) finishDelivered(report *DeliveryReport) *DeliveryReport {
	report.State = StateDelivered
	report.FinishedAt = time.Now().UTC()
	o.store(report, StateDelivered)
	metrics.ObserveRun(report.Mode, string(StateDelivered))
	o.deps.Logger.Info("run delivered",
		zap.String("run_id", report.RunID),
		zap.String("mode", report.Mode),
		zap.Int("targets", report.TargetsResolved),
		zap.Int("leaves", report.LeavesDiscovered),
		zap.Int("items", report.ItemsHarvested),
		zap.Int("leaves_empty", report.LeavesEmpty),
		zap.Bool("partially_failed", report.PartiallyFailed),
	)
	return report
}

func (o *Orchestrator) store(report *DeliveryReport, s State) {
	o.mu.Lock()
	o.state = s
	o.last = report
	o.mu.Unlock()
}

// countEmptyLeaves counts leaves whose canonical URL yielded no items.
func countEmptyLeaves(leaves []catalog.LeafTask, items []catalog.HarvestedItem) int {
	got := make(map[string]bool, len(items))
	for _, it := range items {
		got[it.Origin] = true
	}
	empty := 0
	for _, leaf := range leaves {
		key := leaf.URL
		if canon, err := catalog.CanonicalURL(leaf.URL); err == nil {
			key = canon
		}
		if !got[key] {
			empty++
		}
	}
	return empty
}
