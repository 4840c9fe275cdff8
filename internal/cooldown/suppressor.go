// Package cooldown rate-limits alert emission per (vehicle, rule) pair to
// prevent alert flooding. After an allowed trigger, further triggers for the
// same pair are suppressed until the window elapses.
package cooldown

import (
	"sync"
	"time"

	"github.com/trucktrack/alert-pipeline/internal/core/partition"
)

const shardCount = 64

type shard struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// Suppressor is a sharded last-trigger map. TryAcquire is atomic per key:
// two concurrent evaluations for the same (vehicle, rule) can never both
// pass inside one window. Independent keys proceed without contention.
type Suppressor struct {
	window time.Duration
	shards [shardCount]*shard
}

func NewSuppressor(window time.Duration) *Suppressor {
	s := &Suppressor{window: window}
	for i := range s.shards {
		s.shards[i] = &shard{last: make(map[string]time.Time)}
	}
	return s
}

func cooldownKey(vehicleID, ruleID string) string {
	return vehicleID + ":" + ruleID
}

func (s *Suppressor) shardFor(key string) *shard {
	return s.shards[partition.Index(key, shardCount)]
}

// TryAcquire reports whether an alert for (vehicleID, ruleID) is allowed at
// now, and records now as the last trigger when it is. A suppressed call
// mutates nothing: the window is always measured from the last allowed
// trigger, not from evaluation attempts.
func (s *Suppressor) TryAcquire(vehicleID, ruleID string, now time.Time) bool {
	key := cooldownKey(vehicleID, ruleID)
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	last, ok := sh.last[key]
	if ok && now.Before(last.Add(s.window)) {
		return false
	}

	sh.last[key] = now
	return true
}

// Remaining returns how long until the pair may fire again; zero when it can
// fire now.
func (s *Suppressor) Remaining(vehicleID, ruleID string, now time.Time) time.Duration {
	key := cooldownKey(vehicleID, ruleID)
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	last, ok := sh.last[key]
	if !ok {
		return 0
	}
	remaining := last.Add(s.window).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Clear removes the cooldown entry for a pair.
func (s *Suppressor) Clear(vehicleID, ruleID string) {
	key := cooldownKey(vehicleID, ruleID)
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.last, key)
}

// Window returns the configured cooldown window.
func (s *Suppressor) Window() time.Duration {
	return s.window
}

// sweep removes entries whose last trigger is older than the cutoff. Locks
// one shard at a time, so foreground TryAcquire calls on other shards are
// never blocked by maintenance.
func (s *Suppressor) sweep(cutoff time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, last := range sh.last {
			if last.Before(cutoff) {
				delete(sh.last, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
