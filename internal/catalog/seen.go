package catalog

import "sync"

// SeenSet is a synchronized insert-if-absent string set. One instance backs
// the discoverer's visited-URL tracking and another the harvester's identity
// deduplication; both are created at run start and discarded (or Reset) at
// run end, so no state leaks across independent runs.
type SeenSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewSeenSet returns an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{keys: make(map[string]struct{})}
}

// MarkIfNew stores key if it has not been seen before and returns true.
// Empty keys are never stored.
func (s *SeenSet) MarkIfNew(key string) bool {
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Contains reports whether key was previously marked.
func (s *SeenSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

// Len returns the number of marked keys.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Reset discards all marked keys so the set can back a new run.
func (s *SeenSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]struct{})
}
