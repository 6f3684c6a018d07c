// Package catalog defines the core types shared across the crawl engine:
// crawl targets, category trees, extracted records, and the capability
// interfaces the orchestration layers are written against.
package catalog

// CrawlTarget is an immutable (name, URL) pair identifying a traversal or
// harvest entry point.
type CrawlTarget struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Record is the variant type over extracted results. Identity returns the
// deduplication key: the retailer SKU when present, else the canonical URL.
type Record interface {
	Identity() string
	RecordURL() string
}

// ProductRecord is a fully extracted product listing.
type ProductRecord struct {
	RetailerID string `json:"retailer_id"`
	ExternalID string `json:"external_id,omitempty"`
	Title      string `json:"title"`
	Price      string `json:"price"`
	URL        string `json:"url"`
	Category   string `json:"category,omitempty"`
}

// Identity returns the retailer SKU, falling back to the canonical URL when
// the retailer exposes none.
func (p ProductRecord) Identity() string {
	if p.ExternalID != "" {
		return p.ExternalID
	}
	if canon, err := CanonicalURL(p.URL); err == nil {
		return canon
	}
	return p.URL
}

// RecordURL returns the product page URL.
func (p ProductRecord) RecordURL() string { return p.URL }

// URLRecord carries only the product URL, used in memory-conservative
// URLs-only harvesting.
type URLRecord struct {
	URL string `json:"url"`
}

// Identity returns the canonical form of the URL.
func (u URLRecord) Identity() string {
	if canon, err := CanonicalURL(u.URL); err == nil {
		return canon
	}
	return u.URL
}

// RecordURL returns the raw URL.
func (u URLRecord) RecordURL() string { return u.URL }

// LeafTask is one harvest work unit: a leaf URL tagged with the category
// label it was discovered under.
type LeafTask struct {
	URL      string
	Category string
}

// HarvestedItem pairs an extracted record with the canonical leaf URL it was
// extracted from, so aggregation can attach it back to the tree.
type HarvestedItem struct {
	Origin string
	Record Record
}
