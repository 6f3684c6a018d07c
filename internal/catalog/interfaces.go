package catalog

import "context"

// Outcome classifies the result of a navigation attempt. A timeout is a
// reported outcome, not an error, so callers decide the retry policy.
type Outcome int

// Navigation outcomes.
const (
	OutcomeOK Outcome = iota
	OutcomeTimeout
)

// Session owns one browser page. Implementations never replace their
// underlying browser silently; Relaunch is an explicit operation invoked by
// the orchestration layer, which owns the failure policy.
type Session interface {
	Navigate(ctx context.Context, url string) (Outcome, error)
	Location(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// Click activates the first element matching selector. It returns false
	// when no actionable element exists (absent or disabled control).
	Click(ctx context.Context, selector string) (bool, error)
	// ScrollToBottom scrolls the page and reports whether the document
	// height grew, the lazy-load completion signal.
	ScrollToBottom(ctx context.Context) (bool, error)
	Relaunch(ctx context.Context) error
	Close() error
}

// SessionFactory creates a fresh Session. Workers call it lazily, one page
// per worker, and reuse the session across their queue items.
type SessionFactory func(ctx context.Context) (Session, error)

// Extractor is the per-target extraction capability. The engine never
// branches on which retailer it is crawling; retailer specifics live behind
// this interface.
type Extractor interface {
	// ListSubcategories reads the category-page shape from the loaded page.
	ListSubcategories(ctx context.Context, s Session) ([]CrawlTarget, error)
	// ListItems reads one page of the grid shape and reports whether a
	// further page is advertised.
	ListItems(ctx context.Context, s Session) ([]Record, bool, error)
	// AdvancePage moves the session to the next grid page. It returns false
	// when no actionable next-page control exists.
	AdvancePage(ctx context.Context, s Session) (bool, error)
}

// BlockDetector classifies the current page against per-retailer block
// indicators.
type BlockDetector interface {
	IsBlocked(ctx context.Context, s Session) bool
}

// CaptchaSolver is an optional challenge-solving capability. Absence means
// blocked pages are abandoned after retry exhaustion.
type CaptchaSolver interface {
	Solve(ctx context.Context, s Session) bool
}

// RecordSink receives a finished, immutable batch of records. Delivery is
// at-least-once; records are already deduplicated by identity key.
type RecordSink interface {
	DeliverRecords(ctx context.Context, records []Record) error
}

// TreeSink receives a completed hierarchy document.
type TreeSink interface {
	DeliverTree(ctx context.Context, tree *Hierarchy) error
}
