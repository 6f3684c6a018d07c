// Package main wires together the shelf crawler binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/skumap/shelfcrawler/internal/api"
	"github.com/skumap/shelfcrawler/internal/catalog"
	"github.com/skumap/shelfcrawler/internal/config"
	"github.com/skumap/shelfcrawler/internal/extract"
	"github.com/skumap/shelfcrawler/internal/logging"
	"github.com/skumap/shelfcrawler/internal/metrics"
	"github.com/skumap/shelfcrawler/internal/orchestrate"
	"github.com/skumap/shelfcrawler/internal/probe"
	"github.com/skumap/shelfcrawler/internal/session"
	gcssink "github.com/skumap/shelfcrawler/internal/sink/gcs"
	"github.com/skumap/shelfcrawler/internal/sink/jsonl"
	pgsink "github.com/skumap/shelfcrawler/internal/sink/postgres"
	pubsubsink "github.com/skumap/shelfcrawler/internal/sink/pubsub"
	"github.com/skumap/shelfcrawler/internal/sink/treefile"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	mode := flag.String("mode", "flat", "Run mode: flat, hierarchical or from-file")
	filter := flag.String("filter", "", "Target group or category name to crawl")
	depth := flag.Int("depth", 0, "Discovery depth (0 uses the configured default)")
	pages := flag.Int("pages", 0, "Per-category page cap (0 uses the configured default)")
	hierarchyPath := flag.String("hierarchy", "", "Precomputed hierarchy file for from-file mode")
	concurrency := flag.Int("concurrency", 0, "Harvest concurrency override for from-file mode")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mode, *filter, *depth, *pages, *hierarchyPath, *concurrency, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, mode, filter string, depth, pages int, hierarchyPath string, concurrency int, logger *zap.Logger) error {
	metrics.Init()

	browser := session.NewBrowser(cfg.BrowserConfig(), cfg.HostBudget(), logger)
	defer browser.Close()

	extractor := extract.New(cfg.ExtractorConfig(), logger)
	blocks := session.NewIndicatorPolicy(cfg.Block.URLMarkers, cfg.Block.MarkerSelector, logger)

	var checker *probe.Checker
	if cfg.Probe.Enabled {
		checker = probe.New(cfg.ProbeTimeout(), cfg.Session.UserAgent, logger)
	}

	records, trees, cleanup, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	orch := orchestrate.New(
		orchestrate.Config{
			RetailerID:           cfg.Crawler.RetailerID,
			DiscoveryConcurrency: cfg.Crawler.DiscoveryConcurrency,
			HarvestConcurrency:   cfg.Crawler.HarvestConcurrency,
			MaxRetries:           cfg.Crawler.MaxRetries,
			URLsOnly:             cfg.Crawler.URLsOnly,
		},
		cfg.Targets,
		orchestrate.Deps{
			Sessions:  browser.Factory(),
			Extractor: extractor,
			Blocks:    blocks,
			Pacer:     cfg.Pacer(),
			Probe:     checker,
			Records:   records,
			Trees:     trees,
			Logger:    logger,
		},
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(orch, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("status server stopped", zap.Error(serveErr))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if depth <= 0 {
		depth = cfg.Crawler.MaxDepthDefault
	}
	if pages <= 0 {
		pages = cfg.Crawler.MaxPagesDefault
	}

	var report *orchestrate.DeliveryReport
	switch mode {
	case orchestrate.ModeFlat:
		if records == nil {
			return errors.New("flat mode requires a record sink (sinks.records_path, sinks.pubsub or sinks.postgres)")
		}
		report, err = orch.RunFlatCrawl(ctx, filter, depth, pages)
	case orchestrate.ModeHierarchical:
		if trees == nil {
			return errors.New("hierarchical mode requires a tree sink (sinks.tree_path or sinks.gcs)")
		}
		report, err = orch.RunHierarchicalCrawl(ctx, filter, depth, pages)
	case "from-file", orchestrate.ModeFromFile:
		if trees == nil {
			return errors.New("from-file mode requires a tree sink (sinks.tree_path or sinks.gcs)")
		}
		if hierarchyPath == "" {
			return errors.New("from-file mode requires -hierarchy")
		}
		f, openErr := os.Open(hierarchyPath)
		if openErr != nil {
			return fmt.Errorf("open hierarchy: %w", openErr)
		}
		var h *catalog.Hierarchy
		h, err = catalog.LoadHierarchy(f)
		_ = f.Close()
		if err != nil {
			return err
		}
		report, err = orch.RunFromHierarchyFile(ctx, h, filter, pages, concurrency)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		return err
	}

	logger.Info("crawl complete",
		zap.String("run_id", report.RunID),
		zap.String("state", string(report.State)),
		zap.Int("items", report.ItemsHarvested),
		zap.Int("leaves", report.LeavesDiscovered),
		zap.Int("leaves_empty", report.LeavesEmpty),
		zap.Int("batches_failed", report.BatchesFailed),
		zap.Int("urls_abandoned", report.URLsAbandoned),
		zap.Bool("partially_failed", report.PartiallyFailed),
	)
	return nil
}

// buildSinks constructs the configured outputs. One record sink and one tree
// sink at most: Pub/Sub wins over Postgres over the JSONL file for records,
// GCS over the local file for trees.
func buildSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) (catalog.RecordSink, catalog.TreeSink, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var records catalog.RecordSink
	switch {
	case cfg.Sinks.PubSub.TopicID != "":
		client, err := gcpubsub.NewClient(ctx, cfg.Sinks.PubSub.ProjectID)
		if err != nil {
			return nil, nil, cleanup, fmt.Errorf("pubsub client: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		sink, err := pubsubsink.New(ctx, client, pubsubsink.Config{
			ProjectID: cfg.Sinks.PubSub.ProjectID,
			TopicID:   cfg.Sinks.PubSub.TopicID,
		})
		if err != nil {
			return nil, nil, cleanup, err
		}
		closers = append(closers, sink.Close)
		records = sink
	case cfg.Sinks.Postgres.DSN != "":
		sink, err := pgsink.New(ctx, pgsink.Config{
			DSN:      cfg.Sinks.Postgres.DSN,
			Table:    cfg.Sinks.Postgres.Table,
			MaxConns: cfg.Sinks.Postgres.MaxConns,
		})
		if err != nil {
			return nil, nil, cleanup, err
		}
		closers = append(closers, sink.Close)
		records = sink
	case cfg.Sinks.RecordsPath != "":
		sink, err := jsonl.New(jsonl.Config{Path: cfg.Sinks.RecordsPath})
		if err != nil {
			return nil, nil, cleanup, err
		}
		records = sink
	}

	var trees catalog.TreeSink
	switch {
	case cfg.Sinks.GCS.Bucket != "":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, cleanup, fmt.Errorf("storage client: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		sink, err := gcssink.New(ctx, client, gcssink.Config{
			Bucket: cfg.Sinks.GCS.Bucket,
			Prefix: cfg.Sinks.GCS.Prefix,
		})
		if err != nil {
			return nil, nil, cleanup, err
		}
		trees = sink
	case cfg.Sinks.TreePath != "":
		sink, err := treefile.New(treefile.Config{Path: cfg.Sinks.TreePath, Indent: cfg.Sinks.TreeIndent})
		if err != nil {
			return nil, nil, cleanup, err
		}
		trees = sink
	}

	if records == nil && trees == nil {
		logger.Warn("no sinks configured, results will not be persisted")
	}
	return records, trees, cleanup, nil
}
