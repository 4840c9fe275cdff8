package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// OfflineWatcher periodically scans the fleet registry for vehicles that have
// gone silent. Vehicles that classify as UNREACHABLE from the report path are
// caught immediately; this watcher covers the ones that simply stop reporting.
type OfflineWatcher struct {
	proc     *Processor
	interval time.Duration
}

func NewOfflineWatcher(proc *Processor, interval time.Duration) *OfflineWatcher {
	return &OfflineWatcher{proc: proc, interval: interval}
}

// Run scans on a fixed interval until the context is cancelled.
func (w *OfflineWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("[OfflineWatcher] Starting",
		"interval", w.interval, "offline_after", w.proc.thresholds.OfflineAfter)

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-ctx.Done():
			slog.Info("[OfflineWatcher] Stopping (context cancelled)")
			return nil
		}
	}
}

// sweep flips stale vehicles to UNREACHABLE, fires their offline rules, and
// clears their geofence memberships so reactivation starts from a fresh
// baseline.
func (w *OfflineWatcher) sweep(ctx context.Context) {
	now := w.proc.now()
	cutoff := now.Add(-w.proc.thresholds.OfflineAfter)

	flipped := 0
	for _, status := range w.proc.fleet.Snapshot() {
		if status.LastUpdate.After(cutoff) {
			continue
		}

		stale, changed := w.proc.fleet.MarkUnreachable(status.VehicleID, cutoff)
		if !changed {
			continue
		}
		flipped++

		slog.Warn("[OfflineWatcher] Vehicle went silent",
			"vehicle_id", status.VehicleID,
			"last_update", stale.LastUpdate.UTC().Format(time.RFC3339))

		events := w.proc.engine.EvaluateOffline(ctx, status.VehicleID, stale.LastUpdate, now)
		w.proc.tracker.ClearVehicle(status.VehicleID)
		w.proc.Emit(ctx, events)
	}

	if flipped > 0 {
		slog.Info("[OfflineWatcher] Sweep complete", "vehicles_flipped", flipped)
	}
}
