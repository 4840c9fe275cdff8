// Package poscache is the low-latency store for each vehicle's most recent
// position. It is an optimization, not a source of truth: the pipeline
// tolerates a failing or absent cache and the storage collaborator keeps the
// durable history.
package poscache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss reports that no cached position exists for a vehicle. Distinct from
// an error and distinct from a zero Position — callers fall back to the
// storage collaborator on a miss.
var ErrMiss = errors.New("poscache: no cached position")

// Position is the cached snapshot of a vehicle's last known fix.
type Position struct {
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lng"`
	Altitude   *float64  `json:"alt,omitempty"`
	SpeedKmh   *float64  `json:"speed_kmh,omitempty"`
	Heading    *int      `json:"heading,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store is a TTL-bound position cache. Entries expire on their own after the
// ttl passed to Put; freshness is enforced by the store, not the reader.
type Store interface {
	Put(ctx context.Context, vehicleID string, pos Position, ttl time.Duration) error
	// Get returns ErrMiss when no entry exists (expired or never written).
	Get(ctx context.Context, vehicleID string) (Position, error)
	Invalidate(ctx context.Context, vehicleID string) error
}
