// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	categoriesDiscoveredTotal prometheus.Counter
	pagesScannedTotal         *prometheus.CounterVec
	itemsHarvestedTotal       *prometheus.CounterVec
	blocksDetectedTotal       prometheus.Counter
	sessionRelaunchesTotal    prometheus.Counter
	batchFailuresTotal        prometheus.Counter
	urlsAbandonedTotal        prometheus.Counter
	runsTotal                 *prometheus.CounterVec
	harvestActiveWorkers      prometheus.Gauge
	backoffDelaySeconds       prometheus.Histogram

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		categoriesDiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "shelfcrawler_categories_discovered_total",
			Help: "Total category nodes added to discovered trees.",
		})
		pagesScannedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfcrawler_pages_scanned_total",
			Help: "Total grid pages scanned, labeled by retailer.",
		}, []string{"retailer"})
		itemsHarvestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfcrawler_items_harvested_total",
			Help: "Total deduplicated records harvested, labeled by retailer.",
		}, []string{"retailer"})
		blocksDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "shelfcrawler_blocks_detected_total",
			Help: "Total block or challenge pages detected.",
		})
		sessionRelaunchesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "shelfcrawler_session_relaunches_total",
			Help: "Total browser session relaunches after a detected block.",
		})
		batchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "shelfcrawler_batch_failures_total",
			Help: "Total harvest batches lost to an uncaught worker failure.",
		})
		urlsAbandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "shelfcrawler_urls_abandoned_total",
			Help: "Total leaf URLs abandoned after retry exhaustion.",
		})
		runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfcrawler_runs_total",
			Help: "Total crawl runs, labeled by mode and terminal state.",
		}, []string{"mode", "state"})
		harvestActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shelfcrawler_harvest_active_workers",
			Help: "Harvest batch workers currently running.",
		})
		backoffDelaySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shelfcrawler_backoff_delay_seconds",
			Help:    "Backoff delays applied before navigation retries.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		})
	})
}

// AddCategoriesDiscovered increments the discovered-category counter.
func AddCategoriesDiscovered(n int) {
	if categoriesDiscoveredTotal != nil {
		categoriesDiscoveredTotal.Add(float64(n))
	}
}

// AddPagesScanned increments the scanned-page counter for a retailer.
func AddPagesScanned(retailer string, n int) {
	if pagesScannedTotal != nil {
		pagesScannedTotal.WithLabelValues(retailer).Add(float64(n))
	}
}

// AddItemsHarvested increments the harvested-item counter for a retailer.
func AddItemsHarvested(retailer string, n int) {
	if itemsHarvestedTotal != nil {
		itemsHarvestedTotal.WithLabelValues(retailer).Add(float64(n))
	}
}

// AddBlocksDetected increments the block-page counter.
func AddBlocksDetected(n int) {
	if blocksDetectedTotal != nil {
		blocksDetectedTotal.Add(float64(n))
	}
}

// AddSessionRelaunches increments the relaunch counter.
func AddSessionRelaunches(n int) {
	if sessionRelaunchesTotal != nil {
		sessionRelaunchesTotal.Add(float64(n))
	}
}

// AddBatchFailures increments the failed-batch counter.
func AddBatchFailures(n int) {
	if batchFailuresTotal != nil {
		batchFailuresTotal.Add(float64(n))
	}
}

// AddURLsAbandoned increments the abandoned-URL counter.
func AddURLsAbandoned(n int) {
	if urlsAbandonedTotal != nil {
		urlsAbandonedTotal.Add(float64(n))
	}
}

// ObserveRun records one completed run with its terminal state.
func ObserveRun(mode, state string) {
	if runsTotal != nil {
		runsTotal.WithLabelValues(mode, state).Inc()
	}
}

// SetHarvestWorkers records the number of live harvest workers.
func SetHarvestWorkers(n int) {
	if harvestActiveWorkers != nil {
		harvestActiveWorkers.Set(float64(n))
	}
}

// WorkerDone decrements the live harvest worker gauge.
func WorkerDone() {
	if harvestActiveWorkers != nil {
		harvestActiveWorkers.Dec()
	}
}

// ObserveBackoffDelay records one applied retry backoff.
func ObserveBackoffDelay(d time.Duration) {
	if backoffDelaySeconds != nil {
		backoffDelaySeconds.Observe(d.Seconds())
	}
}
