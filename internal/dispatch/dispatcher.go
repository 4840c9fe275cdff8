package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/trucktrack/alert-pipeline/internal/rules"
	"github.com/trucktrack/alert-pipeline/internal/template"
)

// Options tunes the dispatcher's queue and worker pool.
type Options struct {
	Workers       int
	QueueSize     int
	Retry         RetryPolicy
	DefaultLocale string
}

// Dispatcher consumes alert events from a bounded queue and delivers
// notifications through the configured providers. Enqueueing never blocks the
// pipeline: when the queue is full the event's notifications are dropped and
// counted, while the alert itself has already been published upstream.
type Dispatcher struct {
	queue     chan rules.AlertEvent
	workers   int
	retry     RetryPolicy
	locale    string
	templates *template.Store
	prefs     PreferenceSource
	registry  Registry
	attempts  AttemptStore
	push      PushProvider
	email     EmailProvider
}

func NewDispatcher(
	opts Options,
	templates *template.Store,
	prefs PreferenceSource,
	registry Registry,
	attempts AttemptStore,
	push PushProvider,
	email EmailProvider,
) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	locale := opts.DefaultLocale
	if locale == "" {
		locale = "en"
	}
	return &Dispatcher{
		queue:     make(chan rules.AlertEvent, queueSize),
		workers:   workers,
		retry:     opts.Retry,
		locale:    locale,
		templates: templates,
		prefs:     prefs,
		registry:  registry,
		attempts:  attempts,
		push:      push,
		email:     email,
	}
}

// Dispatch enqueues an alert event for delivery. Non-blocking: a full queue
// drops the event with a warning rather than stalling position processing.
func (d *Dispatcher) Dispatch(ev rules.AlertEvent) {
	select {
	case d.queue <- ev:
	default:
		slog.Warn("[Dispatcher] Queue full, dropping notifications for alert",
			"alert_id", ev.ID, "vehicle_id", ev.VehicleID, "type", ev.Type)
	}
}

// Run starts the worker pool and blocks until the context is cancelled and
// the queue has been drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("[Dispatcher] Starting", "workers", d.workers, "queue_size", cap(d.queue))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.workerLoop(gctx)
			return nil
		})
	}
	err := g.Wait()

	slog.Info("[Dispatcher] Stopped")
	return err
}

func (d *Dispatcher) workerLoop(ctx context.Context) {
	for {
		select {
		case ev := <-d.queue:
			d.process(ctx, ev)
		case <-ctx.Done():
			// Final drain: deliver what is already queued before exiting.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			for {
				select {
				case ev := <-d.queue:
					d.process(shutdownCtx, ev)
				default:
					return
				}
			}
		}
	}
}

// process fans one alert event out to every (recipient, channel) pair. Each
// pair is independent: one failing delivery never blocks the others.
func (d *Dispatcher) process(ctx context.Context, ev rules.AlertEvent) {
	for _, userID := range ev.AffectedUserIDs {
		prefs := d.preferencesFor(ctx, userID)

		for _, ch := range d.channelsFor(ev, prefs) {
			d.deliverOne(ctx, ev, userID, prefs, ch)
		}
	}
}

// preferencesFor loads the user's settings. A failing preference source
// degrades to defaults so an alert is never silently swallowed by a
// collaborator outage.
func (d *Dispatcher) preferencesFor(ctx context.Context, userID string) Preferences {
	prefs, err := d.prefs.Preferences(ctx, userID)
	if err != nil {
		slog.Warn("[Dispatcher] Preference lookup failed, using defaults",
			"user_id", userID, "error", err)
		return Preferences{UserID: userID, Locale: d.locale}
	}
	if prefs.Locale == "" {
		prefs.Locale = d.locale
	}
	return prefs
}

// channelsFor intersects the rule's channel set with the user's enabled
// channels. A rule with no channel set means "every channel the user has on".
func (d *Dispatcher) channelsFor(ev rules.AlertEvent, prefs Preferences) []Channel {
	candidates := []Channel{ChannelPush, ChannelEmail}
	if len(ev.Channels) > 0 {
		candidates = candidates[:0]
		for _, name := range ev.Channels {
			candidates = append(candidates, Channel(name))
		}
	}

	var out []Channel
	for _, ch := range candidates {
		if ch != ChannelPush && ch != ChannelEmail {
			slog.Warn("[Dispatcher] Unknown channel on rule, skipping", "channel", ch, "alert_id", ev.ID)
			continue
		}
		if prefs.Enabled(ch) {
			out = append(out, ch)
		}
	}
	return out
}

func (d *Dispatcher) deliverOne(ctx context.Context, ev rules.AlertEvent, userID string, prefs Preferences, ch Channel) {
	now := time.Now().UTC()
	attempt := &Attempt{
		ID:        uuid.NewString(),
		AlertID:   ev.ID,
		UserID:    userID,
		VehicleID: ev.VehicleID,
		Channel:   ch,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.attempts.Create(ctx, attempt); err != nil {
		// Delivery still proceeds: losing the audit row is better than
		// losing the notification.
		slog.Error("[Dispatcher] Failed to record attempt", "alert_id", ev.ID, "error", err)
	}

	content := d.templates.Render(string(ev.Type), string(ch), prefs.Locale, templateVars(ev))

	var err error
	switch ch {
	case ChannelPush:
		err = d.sendPush(ctx, ev, userID, content)
	case ChannelEmail:
		err = d.sendEmail(ctx, ev, userID, content)
	}

	status := StatusSent
	detail := ""
	switch {
	case err == nil:
	case errors.Is(err, ErrBounced):
		status = StatusBounced
		detail = err.Error()
	default:
		status = StatusFailed
		detail = err.Error()
	}

	if uerr := d.attempts.UpdateStatus(ctx, attempt.ID, status, detail, time.Now().UTC()); uerr != nil {
		slog.Error("[Dispatcher] Failed to update attempt status",
			"attempt_id", attempt.ID, "status", status, "error", uerr)
	}

	if err != nil {
		slog.Warn("[Dispatcher] Delivery failed",
			"alert_id", ev.ID, "user_id", userID, "channel", ch, "status", status, "error", err)
	}
}

// sendPush delivers to every active token the user has. Success means at
// least one token accepted the message; dead tokens are deactivated in the
// registry as the upstream service reports them.
func (d *Dispatcher) sendPush(ctx context.Context, ev rules.AlertEvent, userID string, content template.Rendered) error {
	tokens, err := d.registry.PushTokens(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve push tokens for %s: %w", userID, err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("user %s has no active push tokens", userID)
	}

	data := pushData(ev)
	delivered := 0
	var lastErr error
	for _, token := range tokens {
		err := d.retry.run(ctx, func() error {
			return d.push.SendPush(ctx, token, content, data)
		})
		if err == nil {
			delivered++
			continue
		}
		lastErr = err
		if errors.Is(err, ErrInvalidDestination) {
			slog.Info("[Dispatcher] Deactivating dead push token", "user_id", userID)
			if derr := d.registry.DeactivateToken(ctx, token); derr != nil {
				slog.Error("[Dispatcher] Failed to deactivate token", "user_id", userID, "error", derr)
			}
		}
	}

	if delivered == 0 {
		return fmt.Errorf("push delivery failed for all %d tokens: %w", len(tokens), lastErr)
	}
	return nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, ev rules.AlertEvent, userID string, content template.Rendered) error {
	address, err := d.registry.EmailAddress(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve email for %s: %w", userID, err)
	}

	err = d.retry.run(ctx, func() error {
		return d.email.SendEmail(ctx, address, content)
	})
	if errors.Is(err, ErrBounced) {
		if berr := d.registry.ReportBounce(ctx, userID, address, time.Now().UTC()); berr != nil {
			slog.Error("[Dispatcher] Failed to report bounce", "user_id", userID, "error", berr)
		}
	}
	return err
}

func templateVars(ev rules.AlertEvent) map[string]string {
	vars := map[string]string{
		"message":  ev.Message,
		"vehicle":  ev.VehicleID,
		"rule":     ev.RuleName,
		"type":     string(ev.Type),
		"severity": string(ev.Severity),
		"time":     ev.TriggeredAt.UTC().Format(time.RFC3339),
	}
	if ev.Latitude != nil && ev.Longitude != nil {
		vars["latitude"] = strconv.FormatFloat(*ev.Latitude, 'f', -1, 64)
		vars["longitude"] = strconv.FormatFloat(*ev.Longitude, 'f', -1, 64)
	}
	return vars
}

// pushData is the structured payload attached to push notifications so the
// mobile client can deep-link to the vehicle.
func pushData(ev rules.AlertEvent) map[string]string {
	return map[string]string{
		"alert_id":   ev.ID,
		"alert_type": string(ev.Type),
		"vehicle_id": ev.VehicleID,
		"severity":   string(ev.Severity),
	}
}
