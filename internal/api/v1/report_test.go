package v1

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validReport() *PositionReport {
	speed := 62.5
	return &PositionReport{
		EventID:   "evt-1",
		VehicleID: "truck-1",
		Latitude:  48.8566,
		Longitude: 2.3522,
		SpeedKmh:  &speed,
		Timestamp: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestPositionReport_Validate(t *testing.T) {
	require.NoError(t, validReport().Validate())

	tests := []struct {
		name   string
		mutate func(r *PositionReport)
	}{
		{"missing event id", func(r *PositionReport) { r.EventID = "" }},
		{"missing vehicle id", func(r *PositionReport) { r.VehicleID = "" }},
		{"latitude too high", func(r *PositionReport) { r.Latitude = 90.1 }},
		{"latitude too low", func(r *PositionReport) { r.Latitude = -90.1 }},
		{"longitude too high", func(r *PositionReport) { r.Longitude = 180.1 }},
		{"longitude too low", func(r *PositionReport) { r.Longitude = -180.1 }},
		{"negative speed", func(r *PositionReport) {
			bad := -1.0
			r.SpeedKmh = &bad
		}},
		{"zero timestamp", func(r *PositionReport) { r.Timestamp = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReport()
			tt.mutate(r)
			require.Error(t, r.Validate())
		})
	}
}

func TestPositionReport_OptionalFieldsDistinctFromZero(t *testing.T) {
	// A parked truck reporting speed 0 is valid and distinct from a truck
	// reporting no speed at all.
	r := validReport()
	zero := 0.0
	r.SpeedKmh = &zero
	require.NoError(t, r.Validate())

	r.SpeedKmh = nil
	require.NoError(t, r.Validate())

	var decoded PositionReport
	require.NoError(t, json.Unmarshal([]byte(`{
		"eventId": "evt-2",
		"vehicleId": "truck-1",
		"latitude": 48.85,
		"longitude": 2.35,
		"speed": 0,
		"timestamp": "2026-03-14T09:00:00Z"
	}`), &decoded))
	require.NotNil(t, decoded.SpeedKmh)
	require.Zero(t, *decoded.SpeedKmh)
	require.Nil(t, decoded.Heading)
}
