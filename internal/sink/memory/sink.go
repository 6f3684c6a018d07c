// Package memory contains in-memory sink implementations for tests.
package memory

import (
	"context"
	"sync"

	"github.com/skumap/shelfcrawler/internal/catalog"
)

// Sink stores delivered batches for inspection. It implements both the
// record and tree delivery capabilities.
type Sink struct {
	mu      sync.RWMutex
	batches [][]catalog.Record
	trees   []*catalog.Hierarchy
	fail    error
}

// New returns a memory Sink.
func New() *Sink {
	return &Sink{}
}

// FailWith makes every subsequent delivery return err.
func (s *Sink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// DeliverRecords records the batch.
func (s *Sink) DeliverRecords(_ context.Context, records []catalog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	batch := make([]catalog.Record, len(records))
	copy(batch, records)
	s.batches = append(s.batches, batch)
	return nil
}

// DeliverTree records the hierarchy.
func (s *Sink) DeliverTree(_ context.Context, tree *catalog.Hierarchy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.trees = append(s.trees, tree)
	return nil
}

// Batches returns the recorded record batches.
func (s *Sink) Batches() [][]catalog.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]catalog.Record, len(s.batches))
	copy(out, s.batches)
	return out
}

// Records flattens the recorded batches.
func (s *Sink) Records() []catalog.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Record
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// Trees returns the recorded hierarchies.
func (s *Sink) Trees() []*catalog.Hierarchy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*catalog.Hierarchy, len(s.trees))
	copy(out, s.trees)
	return out
}
