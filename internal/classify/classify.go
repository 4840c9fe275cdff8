// Package classify derives a vehicle's operational state from its most recent
// position report. Pure functions only: all state lives with the caller.
package classify

import "time"

// State is the operational state of a vehicle at a point in time.
type State string

const (
	StateMoving      State = "MOVING"
	StateStationary  State = "STATIONARY"
	StateUnreachable State = "UNREACHABLE"
)

// Thresholds are the deployment-tunable classification boundaries.
type Thresholds struct {
	// MovingSpeedKmh is the speed a vehicle must exceed to count as moving.
	// A speed exactly equal to the threshold classifies as STATIONARY.
	MovingSpeedKmh float64

	// OfflineAfter is how long after the last report a vehicle counts as
	// unreachable, regardless of the speed it last reported.
	OfflineAfter time.Duration
}

// Classify maps (speed, recency) to an operational state.
// speed is nil when the report carried no speed signal: the vehicle is online
// but we cannot tell whether it moves, so it classifies as STATIONARY.
func Classify(speedKmh *float64, lastUpdate time.Time, now time.Time, th Thresholds) State {
	if lastUpdate.IsZero() || now.Sub(lastUpdate) > th.OfflineAfter {
		return StateUnreachable
	}

	if speedKmh == nil {
		return StateStationary
	}

	if *speedKmh > th.MovingSpeedKmh {
		return StateMoving
	}

	return StateStationary
}
