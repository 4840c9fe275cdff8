package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testThresholds = Thresholds{
	MovingSpeedKmh: 5,
	OfflineAfter:   5 * time.Minute,
}

func speed(v float64) *float64 { return &v }

func TestClassify(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		speedKmh   *float64
		lastUpdate time.Time
		want       State
	}{
		{"fast and fresh is moving", speed(60), now.Add(-time.Minute), StateMoving},
		{"fresh but slow is stationary", speed(3), now.Add(-time.Minute), StateStationary},
		{"fresh with zero speed is stationary", speed(0), now.Add(-time.Second), StateStationary},
		{"speed exactly at threshold is stationary", speed(5), now.Add(-time.Minute), StateStationary},
		{"just above threshold is moving", speed(5.1), now.Add(-time.Minute), StateMoving},
		{"no speed signal but online is stationary", nil, now.Add(-time.Minute), StateStationary},
		{"stale report is unreachable regardless of speed", speed(80), now.Add(-6 * time.Minute), StateUnreachable},
		{"stale report with no speed is unreachable", nil, now.Add(-time.Hour), StateUnreachable},
		{"never seen is unreachable", speed(40), time.Time{}, StateUnreachable},
		{"exactly at offline threshold is still online", speed(40), now.Add(-5 * time.Minute), StateMoving},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.speedKmh, tc.lastUpdate, now, testThresholds)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestClassify_ThresholdsAreConfig(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	strict := Thresholds{MovingSpeedKmh: 50, OfflineAfter: time.Minute}

	// 40 km/h is moving under defaults but stationary under a stricter threshold.
	require.Equal(t, StateMoving, Classify(speed(40), now.Add(-30*time.Second), now, testThresholds))
	require.Equal(t, StateStationary, Classify(speed(40), now.Add(-30*time.Second), now, strict))

	// Two minutes of silence is online under defaults, unreachable under strict.
	require.Equal(t, StateStationary, Classify(speed(0), now.Add(-2*time.Minute), now, testThresholds))
	require.Equal(t, StateUnreachable, Classify(speed(0), now.Add(-2*time.Minute), now, strict))
}
