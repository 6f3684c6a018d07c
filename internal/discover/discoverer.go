// Package discover builds category trees by bounded-concurrency, queue-driven
// breadth-first expansion: a fixed worker pool drains a frontier owned by a
// single coordinator goroutine, one browser page per worker.
package discover

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/skumap/shelfcrawler/internal/catalog"
	"github.com/skumap/shelfcrawler/internal/metrics"
	"github.com/skumap/shelfcrawler/internal/pacing"
)

// Config controls one discovery run.
type Config struct {
	Concurrency int
	// MaxDepth bounds expansion. Nodes at MaxDepth become leaves even when
	// the live page advertises further subcategories; such nodes are marked
	// truncated.
	MaxDepth int
}

// Discoverer expands a root target into a category tree.
type Discoverer struct {
	cfg       Config
	sessions  catalog.SessionFactory
	extractor catalog.Extractor
	blocks    catalog.BlockDetector
	pacer     *pacing.Pacer
	logger    *zap.Logger
}

// New constructs a Discoverer.
func New(
	cfg Config,
	sessions catalog.SessionFactory,
	extractor catalog.Extractor,
	blocks catalog.BlockDetector,
	pacer *pacing.Pacer,
	logger *zap.Logger,
) *Discoverer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		cfg:       cfg,
		sessions:  sessions,
		extractor: extractor,
		blocks:    blocks,
		pacer:     pacer,
		logger:    logger,
	}
}

// Result is the read-only artifact of one traversal.
type Result struct {
	Tree           *catalog.CategoryNode
	Leaves         []catalog.LeafTask
	NodesVisited   int
	NodesAbandoned int
}

type workItem struct {
	node  *catalog.CategoryNode
	depth int
}

type expansion struct {
	item     workItem
	children []catalog.CrawlTarget
	err      error
}

// Discover traverses the category tree under root. A blocked or failed
// subtree is recorded as a childless leaf and never aborts the run; the only
// error returned is a malformed root URL. The visited set strictly grows and
// MaxDepth bounds expansion, so the frontier always empties.
func (d *Discoverer) Discover(ctx context.Context, root catalog.CrawlTarget) (*Result, error) {
	canon, err := catalog.CanonicalURL(root.URL)
	if err != nil {
		return nil, fmt.Errorf("root target %q: %w", root.Name, err)
	}

	rootNode := &catalog.CategoryNode{Name: root.Name, URL: canon}
	visited := catalog.NewSeenSet()
	visited.MarkIfNew(canon)
	// parents maps nodes to their parent's name for log context only. It is
	// dropped when this function returns, so the persisted tree carries no
	// back-references.
	parents := make(map[*catalog.CategoryNode]string)

	work := make(chan workItem)
	results := make(chan expansion)
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx, work, results)
		}()
	}

	res := &Result{Tree: rootNode}
	queue := []workItem{{node: rootNode, depth: 0}}
	inflight := 0
	done := ctx.Done()

	for len(queue) > 0 || inflight > 0 {
		var dispatch chan workItem
		var next workItem
		if len(queue) > 0 {
			dispatch = work
			next = queue[0]
		}
		select {
		case dispatch <- next:
			queue = queue[1:]
			inflight++
		case exp := <-results:
			inflight--
			res.NodesVisited++
			queue = d.absorb(exp, queue, visited, parents, res)
		case <-done:
			// Caller abort: drop pending work, let in-flight items finish.
			d.logger.Warn("discovery canceled, draining in-flight work",
				zap.Int("dropped", len(queue)))
			queue = nil
			done = nil
		}
	}
	close(work)
	wg.Wait()

	res.Leaves = rootNode.LeafTasks()
	d.logger.Info("discovery finished",
		zap.String("root", root.Name),
		zap.Int("nodes_visited", res.NodesVisited),
		zap.Int("nodes_abandoned", res.NodesAbandoned),
		zap.Int("leaves", len(res.Leaves)),
	)
	return res, nil
}

// absorb folds one expansion into the tree and returns the grown frontier.
// It runs only on the coordinator goroutine, which serializes all access to
// the tree, the frontier and the visited set.
func (d *Discoverer) absorb(
	exp expansion,
	queue []workItem,
	visited *catalog.SeenSet,
	parents map[*catalog.CategoryNode]string,
	res *Result,
) []workItem {
	node := exp.item.node
	if exp.err != nil {
		// The node stays a childless leaf; a blocked subtree is not fatal.
		res.NodesAbandoned++
		d.logger.Warn("category node abandoned",
			zap.String("category", node.Name),
			zap.String("url", node.URL),
			zap.String("parent", parents[node]),
			zap.Error(exp.err),
		)
		return queue
	}

	if exp.item.depth >= d.cfg.MaxDepth {
		if len(exp.children) > 0 {
			node.Truncated = true
			d.logger.Debug("depth bound truncated node",
				zap.String("category", node.Name),
				zap.Int("dropped_children", len(exp.children)),
			)
		}
		return queue
	}

	for _, child := range exp.children {
		curl, err := catalog.CanonicalURL(child.URL)
		if err != nil {
			d.logger.Debug("skipping malformed subcategory url",
				zap.String("category", child.Name), zap.Error(err))
			continue
		}
		if !visited.MarkIfNew(curl) {
			continue
		}
		childNode := &catalog.CategoryNode{Name: child.Name, URL: curl}
		node.Children = append(node.Children, childNode)
		parents[childNode] = node.Name
		metrics.AddCategoriesDiscovered(1)
		queue = append(queue, workItem{node: childNode, depth: exp.item.depth + 1})
	}
	return queue
}

// worker drains the frontier with one lazily created session, reused across
// items and closed when the frontier closes.
func (d *Discoverer) worker(ctx context.Context, work <-chan workItem, results chan<- expansion) {
	var sess catalog.Session
	defer func() {
		if sess != nil {
			_ = sess.Close()
		}
	}()
	for item := range work {
		if sess == nil {
			s, err := d.sessions(ctx)
			if err != nil {
				results <- expansion{item: item, err: fmt.Errorf("open session: %w", err)}
				continue
			}
			sess = s
		}
		children, err := d.expand(ctx, sess, item.node.URL)
		results <- expansion{item: item, children: children, err: err}
	}
}

// expand navigates to url and extracts the category-page shape, relaunching
// the session and retrying once when the first attempt is blocked or times
// out.
func (d *Discoverer) expand(ctx context.Context, sess catalog.Session, url string) ([]catalog.CrawlTarget, error) {
	d.pacer.DelayNavigation(ctx)
	if err := d.load(ctx, sess, url); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if rerr := sess.Relaunch(ctx); rerr != nil {
			return nil, rerr
		}
		metrics.AddSessionRelaunches(1)
		d.pacer.DelayNavigation(ctx)
		if err := d.load(ctx, sess, url); err != nil {
			return nil, err
		}
	}
	children, err := d.extractor.ListSubcategories(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("list subcategories: %w", err)
	}
	return children, nil
}

func (d *Discoverer) load(ctx context.Context, sess catalog.Session, url string) error {
	outcome, err := sess.Navigate(ctx, url)
	if err != nil {
		return err
	}
	if outcome == catalog.OutcomeTimeout {
		return catalog.ErrNavigationTimeout
	}
	if d.blocks != nil && d.blocks.IsBlocked(ctx, sess) {
		metrics.AddBlocksDetected(1)
		return catalog.ErrBlocked
	}
	return nil
}
