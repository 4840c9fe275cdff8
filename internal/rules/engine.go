package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	v1 "github.com/trucktrack/alert-pipeline/internal/api/v1"
	"github.com/trucktrack/alert-pipeline/internal/classify"
	"github.com/trucktrack/alert-pipeline/internal/cooldown"
	"github.com/trucktrack/alert-pipeline/internal/geofence"
)

// Provider supplies the enabled rules of one type. Backed by the
// administrative collaborator's store; the pipeline never writes rules.
type Provider interface {
	Enabled(ctx context.Context, t Type) ([]Rule, error)
}

// Engine evaluates rules against incoming state and membership transitions.
// Side-effect-free except through the cooldown suppressor.
type Engine struct {
	provider          Provider
	cooldown          *cooldown.Suppressor
	defaultSpeedLimit decimal.Decimal
}

func NewEngine(provider Provider, suppressor *cooldown.Suppressor, defaultSpeedLimitKmh float64) *Engine {
	return &Engine{
		provider:          provider,
		cooldown:          suppressor,
		defaultSpeedLimit: decimal.NewFromFloat(defaultSpeedLimitKmh),
	}
}

// Evaluate runs all enabled rules applicable to the report's vehicle and
// returns the alert events that passed their cooldown gate. Rules that fail
// cooldown produce no event and nothing beyond debug tracing.
func (e *Engine) Evaluate(
	ctx context.Context,
	report *v1.PositionReport,
	state classify.State,
	transitions []geofence.Transition,
	now time.Time,
) []AlertEvent {
	var events []AlertEvent

	events = append(events, e.evaluateSpeedLimit(ctx, report, now)...)

	if state == classify.StateUnreachable {
		events = append(events, e.evaluateOffline(ctx, report.VehicleID, report.Timestamp, &report.Latitude, &report.Longitude, now)...)
	}

	events = append(events, e.evaluateGeofence(ctx, report, transitions, now)...)

	return events
}

// EvaluateOffline runs OFFLINE rules for a vehicle that went silent. Used by
// the offline watcher, which has no live report to hand over.
func (e *Engine) EvaluateOffline(ctx context.Context, vehicleID string, lastUpdate time.Time, now time.Time) []AlertEvent {
	return e.evaluateOffline(ctx, vehicleID, lastUpdate, nil, nil, now)
}

func (e *Engine) evaluateSpeedLimit(ctx context.Context, report *v1.PositionReport, now time.Time) []AlertEvent {
	if report.SpeedKmh == nil {
		return nil
	}
	speed := decimal.NewFromFloat(*report.SpeedKmh)

	applicable, err := e.rulesFor(ctx, TypeSpeedLimit, report.VehicleID)
	if err != nil {
		slog.Error("[RuleEngine] Failed to load speed limit rules", "error", err)
		return nil
	}

	var events []AlertEvent
	for _, rule := range applicable {
		threshold := e.defaultSpeedLimit
		if rule.Threshold != nil {
			threshold = *rule.Threshold
		}

		if !speed.GreaterThan(threshold) {
			continue
		}

		if !e.cooldown.TryAcquire(report.VehicleID, rule.ID, now) {
			slog.Debug("[RuleEngine] Speed alert suppressed by cooldown",
				"vehicle_id", report.VehicleID, "rule_id", rule.ID)
			continue
		}

		slog.Info("[RuleEngine] Speed limit exceeded",
			"vehicle_id", report.VehicleID,
			"speed_kmh", *report.SpeedKmh,
			"limit_kmh", threshold.String(),
			"rule_id", rule.ID,
		)

		msg := fmt.Sprintf("Truck %s exceeded speed limit: %.1f km/h (limit: %s km/h)",
			report.VehicleID, *report.SpeedKmh, threshold.String())
		events = append(events, e.newEvent(rule, report.VehicleID, TypeSpeedLimit, SeverityWarning, msg,
			&report.Latitude, &report.Longitude, now))
	}
	return events
}

func (e *Engine) evaluateOffline(ctx context.Context, vehicleID string, lastUpdate time.Time, lat, lon *float64, now time.Time) []AlertEvent {
	applicable, err := e.rulesFor(ctx, TypeOffline, vehicleID)
	if err != nil {
		slog.Error("[RuleEngine] Failed to load offline rules", "error", err)
		return nil
	}

	var events []AlertEvent
	for _, rule := range applicable {
		if !e.cooldown.TryAcquire(vehicleID, rule.ID, now) {
			slog.Debug("[RuleEngine] Offline alert suppressed by cooldown",
				"vehicle_id", vehicleID, "rule_id", rule.ID)
			continue
		}

		msg := fmt.Sprintf("Truck %s is unreachable: no position report since %s",
			vehicleID, lastUpdate.UTC().Format(time.RFC3339))
		if lastUpdate.IsZero() {
			msg = fmt.Sprintf("Truck %s is unreachable: no position report received", vehicleID)
		}
		events = append(events, e.newEvent(rule, vehicleID, TypeOffline, SeverityWarning, msg, lat, lon, now))
	}
	return events
}

func (e *Engine) evaluateGeofence(ctx context.Context, report *v1.PositionReport, transitions []geofence.Transition, now time.Time) []AlertEvent {
	if len(transitions) == 0 {
		return nil
	}

	var events []AlertEvent
	for _, ruleType := range []Type{TypeGeofenceEnter, TypeGeofenceExit} {
		applicable, err := e.rulesFor(ctx, ruleType, report.VehicleID)
		if err != nil {
			slog.Error("[RuleEngine] Failed to load geofence rules", "type", ruleType, "error", err)
			continue
		}

		for _, rule := range applicable {
			for _, tran := range transitions {
				if rule.ZoneID != tran.ZoneID {
					continue
				}
				if !directionMatches(rule.Type, tran.Direction) {
					continue
				}

				if !e.cooldown.TryAcquire(report.VehicleID, rule.ID, now) {
					slog.Debug("[RuleEngine] Geofence alert suppressed by cooldown",
						"vehicle_id", report.VehicleID, "rule_id", rule.ID)
					continue
				}

				action := "entered"
				if tran.Direction == geofence.DirectionExited {
					action = "exited"
				}
				msg := fmt.Sprintf("Truck %s %s geofence '%s'", report.VehicleID, action, rule.Name)
				events = append(events, e.newEvent(rule, report.VehicleID, rule.Type, SeverityInfo, msg,
					&report.Latitude, &report.Longitude, now))
			}
		}
	}
	return events
}

// directionMatches is the decision point for geofence rule types. The switch
// is exhaustive over the Type constants that can reach it; an unknown type is
// a programming error and matches nothing.
func directionMatches(t Type, dir geofence.Direction) bool {
	switch t {
	case TypeGeofenceEnter:
		return dir == geofence.DirectionEntered
	case TypeGeofenceExit:
		return dir == geofence.DirectionExited
	case TypeSpeedLimit, TypeOffline:
		return false
	default:
		slog.Error("[RuleEngine] Unhandled rule type in direction match", "type", t)
		return false
	}
}

func (e *Engine) rulesFor(ctx context.Context, t Type, vehicleID string) ([]Rule, error) {
	all, err := e.provider.Enabled(ctx, t)
	if err != nil {
		return nil, err
	}

	applicable := all[:0:0]
	for _, rule := range all {
		if rule.Enabled && rule.AppliesTo(vehicleID) {
			applicable = append(applicable, rule)
		}
	}
	return applicable, nil
}

func (e *Engine) newEvent(rule Rule, vehicleID string, t Type, sev Severity, msg string, lat, lon *float64, now time.Time) AlertEvent {
	return AlertEvent{
		ID:              uuid.NewString(),
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		VehicleID:       vehicleID,
		Type:            t,
		Severity:        sev,
		Message:         msg,
		Latitude:        lat,
		Longitude:       lon,
		TriggeredAt:     now,
		AffectedUserIDs: rule.Recipients(),
		Channels:        rule.Channels,
	}
}
