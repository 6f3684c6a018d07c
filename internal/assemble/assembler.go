// Package assemble shapes harvested items into the two delivery forms: a
// flat record list, or a category tree with products attached to its leaves.
package assemble

import "github.com/skumap/shelfcrawler/internal/catalog"

// Flat strips origins and returns the records in harvest order.
func Flat(items []catalog.HarvestedItem) []catalog.Record {
	records := make([]catalog.Record, 0, len(items))
	for _, it := range items {
		records = append(records, it.Record)
	}
	return records
}

// Hierarchical returns a deep copy of tree with harvested items attached to
// the leaves they came from. Every leaf gets a non-nil product list, empty
// when nothing was harvested for it, so empty leaves serialize as [] rather
// than disappearing. Interior nodes are left untouched.
func Hierarchical(tree *catalog.CategoryNode, items []catalog.HarvestedItem, urlsOnly bool) *catalog.CategoryNode {
	if tree == nil {
		return nil
	}
	byOrigin := make(map[string][]catalog.Record, len(items))
	for _, it := range items {
		byOrigin[it.Origin] = append(byOrigin[it.Origin], it.Record)
	}

	out := tree.Clone()
	var attach func(n *catalog.CategoryNode)
	attach = func(n *catalog.CategoryNode) {
		if !n.IsLeaf() {
			for _, c := range n.Children {
				attach(c)
			}
			return
		}
		recs := byOrigin[leafKey(n.URL)]
		if urlsOnly {
			urls := make([]string, 0, len(recs))
			for _, rec := range recs {
				urls = append(urls, rec.RecordURL())
			}
			n.ProductURLs = urls
			return
		}
		products := make([]catalog.ProductRecord, 0, len(recs))
		for _, rec := range recs {
			if p, ok := rec.(catalog.ProductRecord); ok {
				products = append(products, p)
			}
		}
		n.Products = products
	}
	attach(out)
	return out
}

// leafKey matches a tree leaf against harvest origins, which are always
// canonical. Trees loaded from files may carry raw URLs.
func leafKey(url string) string {
	if canon, err := catalog.CanonicalURL(url); err == nil {
		return canon
	}
	return url
}
