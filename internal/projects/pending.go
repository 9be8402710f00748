package projects

import (
	"sort"
	"sync"
)

// PendingSet tracks projects whose creation is in progress. Resources of a
// pending project are never reported as orphans.
type PendingSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewPendingSet creates an empty set.
func NewPendingSet() *PendingSet {
	return &PendingSet{ids: make(map[string]struct{})}
}

// Add marks id as pending.
func (s *PendingSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// Remove clears id.
func (s *PendingSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// IsPending reports whether id is being created.
func (s *PendingSet) IsPending(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// List returns the pending IDs in sorted order.
func (s *PendingSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
