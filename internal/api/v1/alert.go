package v1

import "time"

// AlertEvent is the outbound wire shape published to the transport collaborator
// when a rule fires. Position is a snapshot of the triggering report and may be
// absent for alerts raised without a live fix (offline sweep).
type AlertEvent struct {
	EventID         string    `json:"eventId"`
	RuleID          string    `json:"ruleId"`
	VehicleID       string    `json:"vehicleId"`
	AlertType       string    `json:"alertType"`
	Severity        string    `json:"severity"`
	Message         string    `json:"message"`
	Latitude        *float64  `json:"latitude,omitempty"`
	Longitude       *float64  `json:"longitude,omitempty"`
	TriggeredAt     time.Time `json:"triggeredAt"`
	AffectedUserIDs []string  `json:"affectedUserIds"`
}
