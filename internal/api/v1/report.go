package v1

import (
	"fmt"
	"time"
)

// PositionReport is one GPS sample for a vehicle as delivered by the transport
// collaborator. It separates required envelope fields (event/vehicle identity,
// coordinates, capture time) from optional sensor readings.
type PositionReport struct {
	// EventID is the unique identifier assigned by the producer.
	// It is the idempotency key: redelivered reports carry the same EventID
	// and must not double-trigger alerts.
	EventID string `json:"eventId"`

	// VehicleID identifies the tracked vehicle. Stable across reports.
	VehicleID string `json:"vehicleId"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Optional sensor readings. Absent is distinct from zero: a parked truck
	// reports speed 0, a truck with a dead speed sensor reports nothing.
	Altitude   *float64 `json:"altitude,omitempty"`
	SpeedKmh   *float64 `json:"speed,omitempty"`
	Heading    *int     `json:"heading,omitempty"`
	AccuracyM  *float64 `json:"accuracy,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`

	// Timestamp is when the GPS fix was captured (device clock), ISO-8601 on
	// the wire. Staleness relative to server time drives the UNREACHABLE
	// classification.
	Timestamp time.Time `json:"timestamp"`
}

// Validate ensures the report carries all required envelope fields and that
// coordinates are on the globe. A failing report is rejected individually; it
// never halts the stream.
func (r *PositionReport) Validate() error {
	if r.EventID == "" {
		return fmt.Errorf("eventId is required")
	}

	if r.VehicleID == "" {
		return fmt.Errorf("vehicleId is required")
	}

	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", r.Latitude)
	}

	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", r.Longitude)
	}

	if r.SpeedKmh != nil && *r.SpeedKmh < 0 {
		return fmt.Errorf("speed must not be negative")
	}

	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	return nil
}
