package cooldown

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically garbage-collects expired cooldown entries so the map
// stays bounded by the set of recently alerting vehicles, not by everything
// ever seen. Entries older than twice the window are safe to drop: they can
// no longer suppress anything.
type Sweeper struct {
	suppressor *Suppressor
	interval   time.Duration
}

func NewSweeper(suppressor *Suppressor, interval time.Duration) *Sweeper {
	return &Sweeper{suppressor: suppressor, interval: interval}
}

// Run sweeps on a ticker until the context is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("[CooldownSweeper] Starting",
		"interval", w.interval,
		"window", w.suppressor.Window(),
	)

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * w.suppressor.Window())
			if removed := w.suppressor.sweep(cutoff); removed > 0 {
				slog.Debug("[CooldownSweeper] Removed expired entries", "count", removed)
			}
		case <-ctx.Done():
			slog.Info("[CooldownSweeper] Stopping (context cancelled)")
			return nil
		}
	}
}
