package pipeline

import "sync"

// dedupRing remembers the last N event IDs so redelivered reports do not
// double-trigger alerts. Bounded: once full, the oldest ID is forgotten, which
// caps memory while still absorbing the short redelivery windows brokers
// actually produce.
type dedupRing struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	slots []string
	next  int
}

func newDedupRing(capacity int) *dedupRing {
	if capacity <= 0 {
		capacity = 1024
	}
	return &dedupRing{
		seen:  make(map[string]struct{}, capacity),
		slots: make([]string, capacity),
	}
}

// observe records the ID and reports whether it is new. Returns false for an
// ID still inside the remembered window.
func (r *dedupRing) observe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.seen[id]; dup {
		return false
	}

	if evicted := r.slots[r.next]; evicted != "" {
		delete(r.seen, evicted)
	}
	r.slots[r.next] = id
	r.seen[id] = struct{}{}
	r.next = (r.next + 1) % len(r.slots)
	return true
}
