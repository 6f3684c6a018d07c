// Package harvest walks paginated product grids for a set of leaf category
// URLs. Leaves are partitioned into static batches, one goroutine per batch,
// and a panic in any batch is contained at the batch boundary so the
// remaining batches finish their work.
package harvest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/skumap/shelfcrawler/internal/catalog"
	"github.com/skumap/shelfcrawler/internal/metrics"
	"github.com/skumap/shelfcrawler/internal/pacing"
)

// emptyPageLimit stops pagination after this many consecutive pages that
// yielded zero records not seen before. Paginators on some grids wrap back
// to page one instead of disabling the next control.
const emptyPageLimit = 3

// Config controls a harvest run.
type Config struct {
	Concurrency int
	// MaxPages caps pagination per category regardless of what the next-page
	// control advertises.
	MaxPages int
	// MaxRetries bounds navigation attempts per URL before the URL is
	// abandoned. Zero means the default of 3.
	MaxRetries int
	// URLsOnly harvests product URLs instead of full records.
	URLsOnly bool
	// RetailerID labels per-retailer metrics.
	RetailerID string
}

// Harvester drains leaf category URLs into harvested records.
type Harvester struct {
	cfg       Config
	sessions  catalog.SessionFactory
	extractor catalog.Extractor
	blocks    catalog.BlockDetector
	solver    catalog.CaptchaSolver
	pacer     *pacing.Pacer
	backoff   *backoffPolicy
	seen      *catalog.SeenSet
	logger    *zap.Logger
}

// New builds a Harvester. The solver may be nil; the seen set is shared with
// the caller so repeated runs against the same set stay idempotent.
func New(cfg Config, sessions catalog.SessionFactory, extractor catalog.Extractor, blocks catalog.BlockDetector, solver catalog.CaptchaSolver, pacer *pacing.Pacer, seen *catalog.SeenSet, logger *zap.Logger) *Harvester {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if seen == nil {
		seen = catalog.NewSeenSet()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{
		cfg:       cfg,
		sessions:  sessions,
		extractor: extractor,
		blocks:    blocks,
		solver:    solver,
		pacer:     pacer,
		backoff:   newBackoffPolicy(),
		seen:      seen,
		logger:    logger,
	}
}

// Result summarizes one harvest run.
type Result struct {
	Items         []catalog.HarvestedItem
	BatchesFailed int
	URLsAbandoned int
	PagesScanned  int
}

type batchResult struct {
	items     []catalog.HarvestedItem
	abandoned int
	pages     int
	failed    bool
}

// Harvest partitions tasks into at most cfg.Concurrency batches and walks
// each batch on its own session. Items arrive in batch completion order.
// An empty task list is not an error.
func (h *Harvester) Harvest(ctx context.Context, tasks []catalog.LeafTask) *Result {
	if len(tasks) == 0 {
		h.logger.Warn("harvest invoked with no leaf urls")
		return &Result{}
	}

	batches := partition(tasks, h.cfg.Concurrency)
	metrics.SetHarvestWorkers(len(batches))
	out := make(chan batchResult, len(batches))
	for i, batch := range batches {
		go h.runBatchGuarded(ctx, i, batch, out)
	}

	res := &Result{}
	for range batches {
		br := <-out
		if br.failed {
			res.BatchesFailed++
			metrics.AddBatchFailures(1)
			continue
		}
		res.Items = append(res.Items, br.items...)
		res.URLsAbandoned += br.abandoned
		res.PagesScanned += br.pages
	}
	h.logger.Info("harvest finished",
		zap.Int("leaves", len(tasks)),
		zap.Int("items", len(res.Items)),
		zap.Int("pages", res.PagesScanned),
		zap.Int("batches_failed", res.BatchesFailed),
		zap.Int("urls_abandoned", res.URLsAbandoned),
	)
	return res
}

// partition splits tasks into at most n contiguous batches of near-equal size.
func partition(tasks []catalog.LeafTask, n int) [][]catalog.LeafTask {
	if n > len(tasks) {
		n = len(tasks)
	}
	size := (len(tasks) + n - 1) / n
	var batches [][]catalog.LeafTask
	for start := 0; start < len(tasks); start += size {
		end := start + size
		if end > len(tasks) {
			end = len(tasks)
		}
		batches = append(batches, tasks[start:end])
	}
	return batches
}

func (h *Harvester) runBatchGuarded(ctx context.Context, idx int, tasks []catalog.LeafTask, out chan<- batchResult) {
	defer metrics.WorkerDone()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("harvest batch panicked",
				zap.Int("batch", idx),
				zap.Int("leaves", len(tasks)),
				zap.Any("panic", r),
			)
			out <- batchResult{failed: true}
		}
	}()
	out <- h.runBatch(ctx, idx, tasks)
}

func (h *Harvester) runBatch(ctx context.Context, idx int, tasks []catalog.LeafTask) batchResult {
	var br batchResult
	var sess catalog.Session
	defer func() {
		if sess != nil {
			if err := sess.Close(); err != nil {
				h.logger.Warn("closing harvest session", zap.Int("batch", idx), zap.Error(err))
			}
		}
	}()

	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		origin, err := catalog.CanonicalURL(task.URL)
		if err != nil {
			h.logger.Warn("leaf url abandoned",
				zap.String("url", task.URL),
				zap.String("category", task.Category),
				zap.Error(err),
			)
			br.abandoned++
			metrics.AddURLsAbandoned(1)
			continue
		}
		if sess == nil {
			sess, err = h.sessions(ctx)
			if err != nil {
				h.logger.Warn("leaf url abandoned",
					zap.String("url", origin),
					zap.String("category", task.Category),
					zap.Error(fmt.Errorf("open session: %w", err)),
				)
				br.abandoned++
				metrics.AddURLsAbandoned(1)
				continue
			}
		}
		items, pages, err := h.harvestURL(ctx, sess, origin, task.Category)
		br.pages += pages
		br.items = append(br.items, items...)
		if err != nil {
			h.logger.Warn("leaf url abandoned",
				zap.String("url", origin),
				zap.String("category", task.Category),
				zap.Error(err),
			)
			br.abandoned++
			metrics.AddURLsAbandoned(1)
		}
	}
	return br
}

// harvestURL navigates to one leaf and pages through its grid. Records
// already present in the seen set are dropped, so re-harvesting the same
// grid contributes nothing new.
func (h *Harvester) harvestURL(ctx context.Context, sess catalog.Session, origin, category string) ([]catalog.HarvestedItem, int, error) {
	if err := h.navigateWithRecovery(ctx, sess, origin); err != nil {
		return nil, 0, err
	}

	var items []catalog.HarvestedItem
	page := 1
	pagesScanned := 0
	emptyStreak := 0
	for {
		h.pacer.DelayGrid(ctx)
		records, hasNext, err := h.extractor.ListItems(ctx, sess)
		if err != nil {
			// Keep what previous pages produced; the remainder of this grid
			// is lost, not the whole batch.
			h.logger.Warn("grid extraction stopped early",
				zap.String("url", origin),
				zap.Int("page", page),
				zap.Error(err),
			)
			return items, pagesScanned, nil
		}
		pagesScanned++
		metrics.AddPagesScanned(h.cfg.RetailerID, 1)

		fresh := 0
		for _, rec := range records {
			if h.cfg.URLsOnly {
				rec = catalog.URLRecord{URL: rec.RecordURL()}
			}
			if !h.seen.MarkIfNew(rec.Identity()) {
				continue
			}
			items = append(items, catalog.HarvestedItem{Origin: origin, Record: rec})
			fresh++
		}
		metrics.AddItemsHarvested(h.cfg.RetailerID, fresh)
		if fresh == 0 {
			emptyStreak++
		} else {
			emptyStreak = 0
		}

		if emptyStreak >= emptyPageLimit {
			h.logger.Debug("pagination looks exhausted",
				zap.String("url", origin),
				zap.String("category", category),
				zap.Int("page", page),
			)
			break
		}
		if page >= h.cfg.MaxPages || !hasNext {
			break
		}
		advanced, err := h.extractor.AdvancePage(ctx, sess)
		if err != nil {
			h.logger.Warn("advancing page",
				zap.String("url", origin),
				zap.Int("page", page),
				zap.Error(err),
			)
			break
		}
		if !advanced {
			break
		}
		page++
	}
	return items, pagesScanned, nil
}

// navigateWithRecovery attempts to land on url, relaunching the session and
// backing off after a block, and retrying plain timeouts in place. A nil
// solver skips the challenge-solving path.
func (h *Harvester) navigateWithRecovery(ctx context.Context, sess catalog.Session, url string) error {
	var lastErr error
	for attempt := 1; attempt <= h.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			applied := h.backoff.wait(ctx, attempt-2)
			metrics.ObserveBackoffDelay(applied)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		h.pacer.DelayNavigation(ctx)

		outcome, err := sess.Navigate(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		if outcome == catalog.OutcomeTimeout {
			lastErr = catalog.ErrNavigationTimeout
			continue
		}
		if h.blocks == nil || !h.blocks.IsBlocked(ctx, sess) {
			return nil
		}

		metrics.AddBlocksDetected(1)
		lastErr = catalog.ErrBlocked
		if h.solver != nil && h.solver.Solve(ctx, sess) && !h.blocks.IsBlocked(ctx, sess) {
			return nil
		}
		if rerr := sess.Relaunch(ctx); rerr != nil {
			return fmt.Errorf("relaunch after block: %w", rerr)
		}
		metrics.AddSessionRelaunches(1)
	}
	return fmt.Errorf("navigate %s after %d attempts: %w", url, h.cfg.MaxRetries, lastErr)
}
