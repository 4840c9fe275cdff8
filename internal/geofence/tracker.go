// Package geofence tracks per-(vehicle, zone) membership history and detects
// boundary crossings. Containment testing itself is delegated to a Checker;
// this package only remembers the boolean and reports when it flips.
package geofence

import (
	"strings"
	"sync"
	"time"

	"github.com/trucktrack/alert-pipeline/internal/core/partition"
)

const shardCount = 64

// Direction tags a membership transition.
type Direction string

const (
	DirectionEntered Direction = "ENTERED"
	DirectionExited  Direction = "EXITED"
)

// Transition is one boundary crossing for a (vehicle, zone) pair.
type Transition struct {
	VehicleID string
	ZoneID    string
	Direction Direction
	At        time.Time
}

type membership struct {
	inside   bool
	lastSeen time.Time
}

type trackerShard struct {
	mu    sync.Mutex
	state map[string]membership
}

// Tracker is a sharded concurrent map of membership booleans. Keys for
// different vehicles land in different shards, so containment checks for
// independent vehicles never contend on a lock.
type Tracker struct {
	shards [shardCount]*trackerShard
}

func NewTracker() *Tracker {
	t := &Tracker{}
	for i := range t.shards {
		t.shards[i] = &trackerShard{state: make(map[string]membership)}
	}
	return t
}

func membershipKey(vehicleID, zoneID string) string {
	return vehicleID + ":" + zoneID
}

func (t *Tracker) shardFor(key string) *trackerShard {
	return t.shards[partition.Index(key, shardCount)]
}

// Evaluate records the current containment boolean and reports a transition
// when it differs from the previously stored value. The first observation for
// a pair establishes the baseline and never emits a transition.
func (t *Tracker) Evaluate(vehicleID, zoneID string, insideNow bool, now time.Time) (Transition, bool) {
	key := membershipKey(vehicleID, zoneID)
	shard := t.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	prior, ok := shard.state[key]
	shard.state[key] = membership{inside: insideNow, lastSeen: now}

	if !ok || prior.inside == insideNow {
		return Transition{}, false
	}

	dir := DirectionExited
	if insideNow {
		dir = DirectionEntered
	}
	return Transition{VehicleID: vehicleID, ZoneID: zoneID, Direction: dir, At: now}, true
}

// State returns the recorded membership boolean for a pair, with ok=false
// when the pair has never been observed.
func (t *Tracker) State(vehicleID, zoneID string) (inside bool, ok bool) {
	key := membershipKey(vehicleID, zoneID)
	shard := t.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	m, ok := shard.state[key]
	return m.inside, ok
}

// ClearVehicle drops all membership rows for a vehicle. Used when a vehicle
// is deactivated or goes offline for good, so a later reactivation starts
// from a fresh baseline instead of producing spurious EXITED transitions.
func (t *Tracker) ClearVehicle(vehicleID string) {
	prefix := vehicleID + ":"
	for _, shard := range t.shards {
		shard.mu.Lock()
		for key := range shard.state {
			if strings.HasPrefix(key, prefix) {
				delete(shard.state, key)
			}
		}
		shard.mu.Unlock()
	}
}
