package state

import "sync"

// ResultLimit bounds the number of results kept per monitor. Once a
// monitor's history reaches this size, recording a new result evicts
// the oldest.
const ResultLimit = 100

// resultStore is a concurrency-safe mapping from monitor name to its
// bounded result history. Probe and story results live in independent
// stores so they contend on independent locks.
type resultStore[T any] struct {
	mu      sync.RWMutex
	results map[string]*ring[T]
	limit   int
}

func newResultStore[T any](limit int) *resultStore[T] {
	return &resultStore[T]{
		results: make(map[string]*ring[T]),
		limit:   limit,
	}
}

// Record appends result to the named history, creating it if absent.
// The history is bounded: the oldest entry is evicted once the limit
// is reached.
func (s *resultStore[T]) Record(name string, result T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.results[name]
	if !ok {
		r = newRing[T](s.limit)
		s.results[name] = r
	}
	r.append(result)
}

// Snapshot returns a copy of the named history, oldest-first. The second
// return is false when the name has no history.
func (s *resultStore[T]) Snapshot(name string) ([]T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[name]
	if !ok {
		return nil, false
	}
	return r.snapshot(), true
}

// Latest returns the newest result for name, or false when there is none.
func (s *resultStore[T]) Latest(name string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero T
	r, ok := s.results[name]
	if !ok {
		return zero, false
	}
	return r.latest()
}

// Len returns the current history length for name.
func (s *resultStore[T]) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[name]
	if !ok {
		return 0
	}
	return r.len()
}

// Prune deletes every history whose name is not in allowed. Used only
// during reload; retained names keep their history untouched.
func (s *resultStore[T]) Prune(allowed map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range s.results {
		if !allowed[name] {
			delete(s.results, name)
		}
	}
}
