// Package pipeline wires position ingestion to alert emission: validation,
// duplicate absorption, state classification, cache write-through, geofence
// evaluation, rule evaluation, and fan-out of fired alerts.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/trucktrack/alert-pipeline/internal/api/v1"
	"github.com/trucktrack/alert-pipeline/internal/classify"
	"github.com/trucktrack/alert-pipeline/internal/geofence"
	"github.com/trucktrack/alert-pipeline/internal/poscache"
	"github.com/trucktrack/alert-pipeline/internal/rules"
)

// AlertPublisher pushes fired alerts to the outbound transport collaborator.
type AlertPublisher interface {
	Publish(ctx context.Context, ev v1.AlertEvent) error
}

// Notifier hands fired alerts to the notification dispatcher.
type Notifier interface {
	Dispatch(ev rules.AlertEvent)
}

// Broadcaster pushes fired alerts to connected live-view clients.
type Broadcaster interface {
	Broadcast(ev v1.AlertEvent)
}

// Options tunes the processor.
type Options struct {
	Thresholds     classify.Thresholds
	CacheTTL       time.Duration
	RecentEventIDs int
}

// Processor handles one position report end to end. Safe for concurrent use:
// every report for a given vehicle flows through sharded state keyed by
// vehicle ID, and reports for distinct vehicles never contend.
type Processor struct {
	thresholds classify.Thresholds
	cacheTTL   time.Duration

	dedup   *dedupRing
	fleet   *Fleet
	cache   poscache.Store
	checker geofence.Checker
	tracker *geofence.Tracker
	engine  *rules.Engine

	publisher   AlertPublisher
	notifier    Notifier
	broadcaster Broadcaster

	now func() time.Time
}

func NewProcessor(
	opts Options,
	cache poscache.Store,
	checker geofence.Checker,
	tracker *geofence.Tracker,
	engine *rules.Engine,
	publisher AlertPublisher,
	notifier Notifier,
	broadcaster Broadcaster,
) *Processor {
	return &Processor{
		thresholds:  opts.Thresholds,
		cacheTTL:    opts.CacheTTL,
		dedup:       newDedupRing(opts.RecentEventIDs),
		fleet:       NewFleet(),
		cache:       cache,
		checker:     checker,
		tracker:     tracker,
		engine:      engine,
		publisher:   publisher,
		notifier:    notifier,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// Fleet exposes the in-memory vehicle status registry for the offline watcher
// and the status API.
func (p *Processor) Fleet() *Fleet {
	return p.fleet
}

// Process runs one position report through the pipeline. An invalid report
// returns an error for the transport to log; a duplicate is absorbed silently.
// Cache and geofence failures degrade: the report still classifies and speed
// rules still evaluate.
func (p *Processor) Process(ctx context.Context, report *v1.PositionReport) error {
	if err := report.Validate(); err != nil {
		return fmt.Errorf("invalid position report: %w", err)
	}

	if !p.dedup.observe(report.EventID) {
		slog.Debug("[Pipeline] Duplicate report absorbed",
			"event_id", report.EventID, "vehicle_id", report.VehicleID)
		return nil
	}

	now := p.now()
	state := classify.Classify(report.SpeedKmh, report.Timestamp, now, p.thresholds)

	p.writeCache(ctx, report)

	p.fleet.Observe(VehicleStatus{
		VehicleID:  report.VehicleID,
		State:      state,
		Latitude:   report.Latitude,
		Longitude:  report.Longitude,
		SpeedKmh:   report.SpeedKmh,
		LastUpdate: report.Timestamp,
	})

	transitions := p.evaluateZones(ctx, report, now)

	events := p.engine.Evaluate(ctx, report, state, transitions, now)
	p.Emit(ctx, events)
	return nil
}

// writeCache is write-through and best-effort: a failing cache is logged and
// processing continues, per the cache's role as an optimization.
func (p *Processor) writeCache(ctx context.Context, report *v1.PositionReport) {
	pos := poscache.Position{
		Latitude:   report.Latitude,
		Longitude:  report.Longitude,
		Altitude:   report.Altitude,
		SpeedKmh:   report.SpeedKmh,
		Heading:    report.Heading,
		RecordedAt: report.Timestamp,
	}
	if err := p.cache.Put(ctx, report.VehicleID, pos, p.cacheTTL); err != nil {
		slog.Warn("[Pipeline] Position cache write failed, continuing",
			"vehicle_id", report.VehicleID, "error", err)
	}
}

// evaluateZones tests the fix against every zone and collects membership
// transitions. Zone listing or containment errors degrade to "no transitions
// for that zone" rather than failing the report.
func (p *Processor) evaluateZones(ctx context.Context, report *v1.PositionReport, now time.Time) []geofence.Transition {
	zoneIDs, err := p.checker.ZoneIDs(ctx)
	if err != nil {
		slog.Error("[Pipeline] Zone listing failed, skipping geofence evaluation", "error", err)
		return nil
	}

	var transitions []geofence.Transition
	for _, zoneID := range zoneIDs {
		inside, err := p.checker.Contains(ctx, zoneID, report.Latitude, report.Longitude)
		if err != nil {
			slog.Error("[Pipeline] Containment check failed",
				"zone_id", zoneID, "vehicle_id", report.VehicleID, "error", err)
			continue
		}
		if tr, flipped := p.tracker.Evaluate(report.VehicleID, zoneID, inside, now); flipped {
			slog.Info("[Pipeline] Geofence transition",
				"vehicle_id", tr.VehicleID, "zone_id", tr.ZoneID, "direction", tr.Direction)
			transitions = append(transitions, tr)
		}
	}
	return transitions
}

// Emit fans fired alerts out to the transport publisher, the notification
// dispatcher, and live-view clients. Sinks are independent: a failing publish
// is logged and never blocks the others.
func (p *Processor) Emit(ctx context.Context, events []rules.AlertEvent) {
	for _, ev := range events {
		wire := toWire(ev)

		if p.publisher != nil {
			if err := p.publisher.Publish(ctx, wire); err != nil {
				slog.Error("[Pipeline] Alert publish failed",
					"alert_id", ev.ID, "vehicle_id", ev.VehicleID, "error", err)
			}
		}
		if p.notifier != nil {
			p.notifier.Dispatch(ev)
		}
		if p.broadcaster != nil {
			p.broadcaster.Broadcast(wire)
		}
	}
}

func toWire(ev rules.AlertEvent) v1.AlertEvent {
	return v1.AlertEvent{
		EventID:         ev.ID,
		RuleID:          ev.RuleID,
		VehicleID:       ev.VehicleID,
		AlertType:       string(ev.Type),
		Severity:        string(ev.Severity),
		Message:         ev.Message,
		Latitude:        ev.Latitude,
		Longitude:       ev.Longitude,
		TriggeredAt:     ev.TriggeredAt,
		AffectedUserIDs: ev.AffectedUserIDs,
	}
}
