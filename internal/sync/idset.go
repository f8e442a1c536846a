package sync

import (
	"slices"
	"sync"
)

// IDSet is a concurrency-safe set of remote IDs. The engine keeps two per
// relationship: the parents known to be referenced but not yet present
// locally, and the parents a backfill fetch is currently running for.
type IDSet struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

// NewIDSet returns an empty set.
func NewIDSet() *IDSet {
	return &IDSet{ids: make(map[int64]struct{})}
}

// Merge adds ids to the set.
func (s *IDSet) Merge(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

// Replace makes ids the full content of the set.
func (s *IDSet) Replace(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ids)
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

// Claim adds every id not already present and returns exactly those. Two
// concurrent claims of the same id never both receive it.
func (s *IDSet) Claim(ids []int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []int64
	for _, id := range ids {
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		claimed = append(claimed, id)
	}
	return claimed
}

// Release removes ids from the set.
func (s *IDSet) Release(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.ids, id)
	}
}

// Contains reports whether id is in the set.
func (s *IDSet) Contains(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of ids in the set.
func (s *IDSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Snapshot returns the ids in ascending order.
func (s *IDSet) Snapshot() []int64 {
	s.mu.Lock()
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.Unlock()
	slices.Sort(out)
	return out
}
