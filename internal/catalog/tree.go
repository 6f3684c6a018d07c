package catalog

import (
	"encoding/json"
	"fmt"
	"io"
)

// CategoryNode is one node of a discovered category tree. The tree is built
// fresh per discovery run and is immutable once traversal completes, except
// for the single mutation of attaching harvested items to leaves. Nodes hold
// no parent references; traversal-local parent labels live in a side table
// owned by the discoverer.
type CategoryNode struct {
	Name     string
	URL      string
	Children []*CategoryNode

	// Products and ProductURLs are nil until aggregation attaches results.
	// A non-nil empty slice serializes as an empty array so the output
	// schema stays shape-stable across leaves with and without items.
	Products    []ProductRecord
	ProductURLs []string

	// Truncated marks a node the depth bound forced into a leaf even though
	// the live page advertised further subcategories.
	Truncated bool
}

// IsLeaf reports whether the node had no children when traversal terminated.
func (n *CategoryNode) IsLeaf() bool { return len(n.Children) == 0 }

type nodeWire struct {
	Name        string           `json:"name"`
	URL         string           `json:"link_url"`
	SubItems    []*CategoryNode  `json:"sub_items"`
	Truncated   bool             `json:"truncated,omitempty"`
	Products    *[]ProductRecord `json:"products,omitempty"`
	ProductURLs *[]string        `json:"product_urls,omitempty"`
}

// MarshalJSON writes the persisted node shape
// {name, link_url, sub_items, products?, product_urls?}.
func (n *CategoryNode) MarshalJSON() ([]byte, error) {
	w := nodeWire{
		Name:      n.Name,
		URL:       n.URL,
		SubItems:  n.Children,
		Truncated: n.Truncated,
	}
	if w.SubItems == nil {
		w.SubItems = []*CategoryNode{}
	}
	if n.Products != nil {
		w.Products = &n.Products
	}
	if n.ProductURLs != nil {
		w.ProductURLs = &n.ProductURLs
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts the persisted node shape, preserving the presence or
// absence of the attachment fields.
func (n *CategoryNode) UnmarshalJSON(data []byte) error {
	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal category node: %w", err)
	}
	n.Name = w.Name
	n.URL = w.URL
	n.Children = w.SubItems
	n.Truncated = w.Truncated
	n.Products = nil
	n.ProductURLs = nil
	if w.Products != nil {
		n.Products = *w.Products
	}
	if w.ProductURLs != nil {
		n.ProductURLs = *w.ProductURLs
	}
	return nil
}

// Clone deep-copies the subtree rooted at n, so aggregation never mutates a
// caller's tree in place.
func (n *CategoryNode) Clone() *CategoryNode {
	if n == nil {
		return nil
	}
	out := &CategoryNode{
		Name:      n.Name,
		URL:       n.URL,
		Truncated: n.Truncated,
	}
	if n.Products != nil {
		out.Products = append([]ProductRecord{}, n.Products...)
	}
	if n.ProductURLs != nil {
		out.ProductURLs = append([]string{}, n.ProductURLs...)
	}
	for _, child := range n.Children {
		out.Children = append(out.Children, child.Clone())
	}
	return out
}

// Find returns the first node whose name matches exactly, in pre-order, or
// nil when no node matches.
func (n *CategoryNode) Find(name string) *CategoryNode {
	if n == nil {
		return nil
	}
	if n.Name == name {
		return n
	}
	for _, child := range n.Children {
		if found := child.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// Leaves collects every leaf of the subtree in pre-order.
func (n *CategoryNode) Leaves() []*CategoryNode {
	if n == nil {
		return nil
	}
	if n.IsLeaf() {
		return []*CategoryNode{n}
	}
	var leaves []*CategoryNode
	for _, child := range n.Children {
		leaves = append(leaves, child.Leaves()...)
	}
	return leaves
}

// LeafTasks enumerates the harvest work units for the subtree: one task per
// leaf, labeled with the leaf's category name.
func (n *CategoryNode) LeafTasks() []LeafTask {
	leaves := n.Leaves()
	tasks := make([]LeafTask, 0, len(leaves))
	for _, leaf := range leaves {
		if leaf.URL == "" {
			continue
		}
		tasks = append(tasks, LeafTask{URL: leaf.URL, Category: leaf.Name})
	}
	return tasks
}

// Hierarchy wraps a category tree together with the on-disk root shape it
// was read in, so a round trip preserves the original document layout. The
// departments shape is {"departments": [node...]}; its Root is a synthetic
// unnamed node holding the departments as children.
type Hierarchy struct {
	Root        *CategoryNode
	Departments bool
}

type departmentsWire struct {
	Departments []*CategoryNode `json:"departments"`
}

// ParseHierarchy reads either accepted root shape: a bare node or a
// departments document.
func ParseHierarchy(data []byte) (*Hierarchy, error) {
	var probe departmentsWire
	if err := json.Unmarshal(data, &probe); err == nil && probe.Departments != nil {
		return &Hierarchy{
			Root:        &CategoryNode{Children: probe.Departments},
			Departments: true,
		}, nil
	}
	var root CategoryNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse hierarchy: %w", err)
	}
	return &Hierarchy{Root: &root}, nil
}

// LoadHierarchy reads a hierarchy document from r.
func LoadHierarchy(r io.Reader) (*Hierarchy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read hierarchy: %w", err)
	}
	return ParseHierarchy(data)
}

// MarshalJSON writes the hierarchy back in the shape it was read in.
func (h *Hierarchy) MarshalJSON() ([]byte, error) {
	if h.Departments {
		depts := h.Root.Children
		if depts == nil {
			depts = []*CategoryNode{}
		}
		return json.Marshal(departmentsWire{Departments: depts})
	}
	return json.Marshal(h.Root)
}

// TopLevelNames lists the names of the first tier of the hierarchy, used to
// log the available choices when a requested filter matches nothing.
func (h *Hierarchy) TopLevelNames() []string {
	if h == nil || h.Root == nil {
		return nil
	}
	nodes := h.Root.Children
	if !h.Departments && h.Root.Name != "" {
		nodes = []*CategoryNode{h.Root}
	}
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	return names
}
