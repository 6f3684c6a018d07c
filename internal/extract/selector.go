// Package extract implements the Extractor capability with configured CSS
// selectors. Retailer specifics arrive as selector strings; the extraction
// mechanics are retailer-agnostic.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/skumap/shelfcrawler/internal/catalog"
)

// maxScrollPasses bounds lazy-load stabilization on pages that grow forever.
const maxScrollPasses = 20

// Config names the selectors one retailer's pages answer to.
type Config struct {
	RetailerID string
	// CategoryLinks selects subcategory anchors on a category page.
	CategoryLinks string
	// ProductTile selects one product cell in the grid.
	ProductTile string
	// Title, Price and Link are evaluated relative to each tile.
	Title string
	Price string
	Link  string
	// SKUAttr is the tile attribute carrying the retailer SKU, if any.
	SKUAttr string
	// NextPage selects the pagination control.
	NextPage string
	// LazyLoad enables scroll-growth stabilization before reading the grid.
	LazyLoad bool
}

// SelectorExtractor reads category and grid pages through a Session.
type SelectorExtractor struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a SelectorExtractor.
func New(cfg Config, logger *zap.Logger) *SelectorExtractor {
	return &SelectorExtractor{cfg: cfg, logger: logger}
}

// ListSubcategories reads (name, url) pairs from the loaded category page,
// in DOM order.
func (e *SelectorExtractor) ListSubcategories(ctx context.Context, s catalog.Session) ([]catalog.CrawlTarget, error) {
	doc, base, err := e.document(ctx, s)
	if err != nil {
		return nil, err
	}

	var targets []catalog.CrawlTarget
	doc.Find(e.cfg.CategoryLinks).Each(func(_ int, sel *goquery.Selection) {
		name := strings.TrimSpace(sel.Text())
		href, ok := sel.Attr("href")
		if name == "" || !ok {
			return
		}
		resolved, err := catalog.ResolveURL(base, href)
		if err != nil {
			e.logger.Debug("skipping malformed category link",
				zap.String("href", href), zap.Error(err))
			return
		}
		targets = append(targets, catalog.CrawlTarget{Name: name, URL: resolved})
	})
	return targets, nil
}

// ListItems reads one grid page. Malformed tiles are skipped individually;
// they never fail the page.
func (e *SelectorExtractor) ListItems(ctx context.Context, s catalog.Session) ([]catalog.Record, bool, error) {
	if e.cfg.LazyLoad {
		if err := e.stabilize(ctx, s); err != nil {
			return nil, false, err
		}
	}

	doc, base, err := e.document(ctx, s)
	if err != nil {
		return nil, false, err
	}

	var records []catalog.Record
	doc.Find(e.cfg.ProductTile).Each(func(_ int, tile *goquery.Selection) {
		rec, ok := e.readTile(tile, base)
		if !ok {
			e.logger.Debug("skipping malformed product tile", zap.String("page", base))
			return
		}
		records = append(records, rec)
	})

	return records, e.hasNextControl(doc), nil
}

// AdvancePage clicks the pagination control. False means no actionable
// control was present, the positive last-page signal.
func (e *SelectorExtractor) AdvancePage(ctx context.Context, s catalog.Session) (bool, error) {
	if e.cfg.NextPage == "" {
		return false, nil
	}
	clicked, err := s.Click(ctx, e.cfg.NextPage)
	if err != nil {
		return false, fmt.Errorf("advance page: %w", err)
	}
	return clicked, nil
}

func (e *SelectorExtractor) readTile(tile *goquery.Selection, base string) (catalog.ProductRecord, bool) {
	title := strings.TrimSpace(tile.Find(e.cfg.Title).First().Text())
	price := strings.TrimSpace(tile.Find(e.cfg.Price).First().Text())
	href, _ := tile.Find(e.cfg.Link).First().Attr("href")

	if title == "" && href == "" {
		return catalog.ProductRecord{}, false
	}

	url := ""
	if href != "" {
		if resolved, err := catalog.ResolveURL(base, href); err == nil {
			url = resolved
		}
	}

	sku := ""
	if e.cfg.SKUAttr != "" {
		sku, _ = tile.Attr(e.cfg.SKUAttr)
	}

	return catalog.ProductRecord{
		RetailerID: e.cfg.RetailerID,
		ExternalID: strings.TrimSpace(sku),
		Title:      title,
		Price:      price,
		URL:        url,
	}, true
}

func (e *SelectorExtractor) hasNextControl(doc *goquery.Document) bool {
	if e.cfg.NextPage == "" {
		return false
	}
	control := doc.Find(e.cfg.NextPage).First()
	if control.Length() == 0 {
		return false
	}
	if _, disabled := control.Attr("disabled"); disabled {
		return false
	}
	if aria, _ := control.Attr("aria-disabled"); aria == "true" {
		return false
	}
	if class, _ := control.Attr("class"); strings.Contains(class, "disabled") {
		return false
	}
	return true
}

// stabilize scrolls until two consecutive passes stop growing the document,
// the lazy-load completion signal. This is distinct from pagination: a page
// can stop growing and still advertise a next-page control.
func (e *SelectorExtractor) stabilize(ctx context.Context, s catalog.Session) error {
	still := 0
	for pass := 0; pass < maxScrollPasses && still < 2; pass++ {
		grew, err := s.ScrollToBottom(ctx)
		if err != nil {
			return fmt.Errorf("lazy-load stabilize: %w", err)
		}
		if grew {
			still = 0
		} else {
			still++
		}
	}
	return nil
}

func (e *SelectorExtractor) document(ctx context.Context, s catalog.Session) (*goquery.Document, string, error) {
	html, err := s.HTML(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("read page: %w", err)
	}
	base, err := s.Location(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("read location: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", fmt.Errorf("parse page: %w", err)
	}
	return doc, base, nil
}
