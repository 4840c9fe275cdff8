package pipeline

import (
	"sync"
	"time"

	"github.com/trucktrack/alert-pipeline/internal/classify"
	"github.com/trucktrack/alert-pipeline/internal/core/partition"
)

const fleetShardCount = 64

// VehicleStatus is the pipeline's in-memory view of one vehicle: its last
// classified state and the fix that produced it.
type VehicleStatus struct {
	VehicleID  string         `json:"vehicle_id"`
	State      classify.State `json:"state"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	SpeedKmh   *float64       `json:"speed_kmh,omitempty"`
	LastUpdate time.Time      `json:"last_update"`
}

type fleetShard struct {
	mu       sync.Mutex
	vehicles map[string]VehicleStatus
}

// Fleet is a sharded concurrent registry of vehicle statuses. The offline
// watcher scans it; the processor writes it on every accepted report.
type Fleet struct {
	shards [fleetShardCount]*fleetShard
}

func NewFleet() *Fleet {
	f := &Fleet{}
	for i := range f.shards {
		f.shards[i] = &fleetShard{vehicles: make(map[string]VehicleStatus)}
	}
	return f
}

func (f *Fleet) shardFor(vehicleID string) *fleetShard {
	return f.shards[partition.Index(vehicleID, fleetShardCount)]
}

// Observe records the vehicle's latest classified status.
func (f *Fleet) Observe(status VehicleStatus) {
	shard := f.shardFor(status.VehicleID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.vehicles[status.VehicleID] = status
}

// Get returns the recorded status for a vehicle.
func (f *Fleet) Get(vehicleID string) (VehicleStatus, bool) {
	shard := f.shardFor(vehicleID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	s, ok := shard.vehicles[vehicleID]
	return s, ok
}

// Snapshot copies out every recorded status. Shards are locked one at a time;
// the result is a consistent view per shard, not across the whole fleet, which
// is enough for the watcher's staleness scan.
func (f *Fleet) Snapshot() []VehicleStatus {
	var out []VehicleStatus
	for _, shard := range f.shards {
		shard.mu.Lock()
		for _, s := range shard.vehicles {
			out = append(out, s)
		}
		shard.mu.Unlock()
	}
	return out
}

// MarkUnreachable flips a vehicle to UNREACHABLE if its last update is still
// older than the cutoff. Re-checks under the shard lock so a report racing the
// watcher wins: a fresh fix means no flip and no offline alert.
func (f *Fleet) MarkUnreachable(vehicleID string, cutoff time.Time) (VehicleStatus, bool) {
	shard := f.shardFor(vehicleID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	s, ok := shard.vehicles[vehicleID]
	if !ok || s.State == classify.StateUnreachable || s.LastUpdate.After(cutoff) {
		return s, false
	}

	s.State = classify.StateUnreachable
	shard.vehicles[vehicleID] = s
	return s, true
}
