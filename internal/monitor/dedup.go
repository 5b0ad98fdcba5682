// internal/monitor/dedup.go
package monitor

import "sync"

// DefaultSeenCapacity bounds the seen-signature set. Once exceeded, the
// oldest half is evicted in bulk.
const DefaultSeenCapacity = 10_000

// SeenSet is a bounded, insertion-ordered signature set used to guarantee
// at-most-once processing per transaction signature.
type SeenSet struct {
	mu       sync.Mutex
	capacity int
	order    []string
	index    map[string]struct{}
}

// NewSeenSet creates a set bounded to capacity entries.
func NewSeenSet(capacity int) *SeenSet {
	if capacity < 2 {
		capacity = 2
	}
	return &SeenSet{
		capacity: capacity,
		order:    make([]string, 0, capacity),
		index:    make(map[string]struct{}, capacity),
	}
}

// Add records a signature. It returns false when the signature was already
// present.
func (s *SeenSet) Add(signature string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[signature]; ok {
		return false
	}

	s.index[signature] = struct{}{}
	s.order = append(s.order, signature)

	if len(s.order) > s.capacity {
		s.evictOldestHalf()
	}
	return true
}

// Contains reports whether a signature has been recorded.
func (s *SeenSet) Contains(signature string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[signature]
	return ok
}

// Len returns the number of tracked signatures.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// evictOldestHalf drops the oldest half of the set, keeping the most recent
// signatures. Caller must hold the lock.
func (s *SeenSet) evictOldestHalf() {
	keep := len(s.order) / 2
	evicted := s.order[:len(s.order)-keep]
	for _, sig := range evicted {
		delete(s.index, sig)
	}
	remaining := make([]string, keep, s.capacity)
	copy(remaining, s.order[len(s.order)-keep:])
	s.order = remaining
}
