// Package rules evaluates enabled alert rules against classified vehicle
// state and geofence transitions, producing alert events gated by the
// cooldown suppressor.
package rules

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type is the alert rule type. Evaluation switches exhaustively over this:
// adding a new type is a compile-visible decision point in the engine, not a
// silently ignored default branch.
type Type string

const (
	TypeSpeedLimit    Type = "SPEED_LIMIT"
	TypeOffline       Type = "OFFLINE"
	TypeGeofenceEnter Type = "GEOFENCE_ENTER"
	TypeGeofenceExit  Type = "GEOFENCE_EXIT"
)

// Severity grades an alert event.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Rule is one enabled alert rule as read from the administrative
// collaborator. Group membership and recipient resolution happen there; the
// pipeline receives the flattened result in VehicleScope and NotifyUserIDs.
type Rule struct {
	ID      string
	Name    string
	Type    Type
	Enabled bool

	// Threshold is the rule's limit value (km/h for speed rules), parsed
	// exactly from the admin-supplied string. nil means "use the
	// deployment-wide default".
	Threshold *decimal.Decimal

	// ZoneID scopes geofence rules to one zone.
	ZoneID string

	// OwnerID is the user who created the rule; always notified.
	OwnerID string

	// VehicleScope limits the rule to specific vehicles (resolved from the
	// rule's group scope by the collaborator). Empty means every vehicle.
	VehicleScope []string

	// NotifyUserIDs is the resolved recipient set. Empty means owner only.
	NotifyUserIDs []string

	// Channels is the notification channel set for this rule ("push",
	// "email"). Empty means all channels the recipients have enabled.
	Channels []string
}

// AppliesTo reports whether the rule covers the given vehicle.
func (r Rule) AppliesTo(vehicleID string) bool {
	if len(r.VehicleScope) == 0 {
		return true
	}
	for _, id := range r.VehicleScope {
		if id == vehicleID {
			return true
		}
	}
	return false
}

// Recipients returns the users to notify for this rule.
func (r Rule) Recipients() []string {
	if len(r.NotifyUserIDs) > 0 {
		return r.NotifyUserIDs
	}
	return []string{r.OwnerID}
}

// AlertEvent is a fired alert, write-once, consumed by the notification
// dispatcher and the outbound publisher.
type AlertEvent struct {
	ID              string
	RuleID          string
	RuleName        string
	VehicleID       string
	Type            Type
	Severity        Severity
	Message         string
	Latitude        *float64
	Longitude       *float64
	TriggeredAt     time.Time
	AffectedUserIDs []string
	Channels        []string
}
