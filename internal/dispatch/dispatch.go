// Package dispatch fans alert events out to per-user notification channels,
// recording one delivery attempt per (recipient, channel) pair.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/trucktrack/alert-pipeline/internal/template"
)

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// Status is the lifecycle state of a delivery attempt. PENDING moves to SENT,
// FAILED, or BOUNCED here; DELIVERED and READ are written by provider
// receipt callbacks outside the pipeline.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusBounced   Status = "BOUNCED"
	StatusRead      Status = "READ"
)

// ErrInvalidDestination marks a destination the provider rejected outright
// (unregistered push token, malformed address). Never retried.
var ErrInvalidDestination = errors.New("invalid destination")

// ErrBounced marks an email the receiving server refused. Never retried.
var ErrBounced = errors.New("email bounced")

// Attempt is one delivery attempt for one recipient on one channel.
type Attempt struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	UserID    string    `json:"user_id"`
	VehicleID string    `json:"vehicle_id"`
	Channel   Channel   `json:"channel"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AttemptStore persists delivery attempts.
type AttemptStore interface {
	Create(ctx context.Context, a *Attempt) error
	UpdateStatus(ctx context.Context, id string, status Status, detail string, at time.Time) error
	ListByAlert(ctx context.Context, alertID string) ([]Attempt, error)
	ListRecent(ctx context.Context, limit int) ([]Attempt, error)
}

// Preferences is a user's notification settings as resolved by the
// administrative collaborator.
type Preferences struct {
	UserID          string
	Locale          string
	EnabledChannels map[Channel]bool
}

// Enabled reports whether the user accepts the given channel. A nil map means
// the user never configured preferences and accepts everything.
func (p Preferences) Enabled(ch Channel) bool {
	if p.EnabledChannels == nil {
		return true
	}
	return p.EnabledChannels[ch]
}

// PreferenceSource resolves per-user notification preferences.
type PreferenceSource interface {
	Preferences(ctx context.Context, userID string) (Preferences, error)
}

// Registry resolves delivery destinations and takes back-reports about dead
// ones.
type Registry interface {
	PushTokens(ctx context.Context, userID string) ([]string, error)
	EmailAddress(ctx context.Context, userID string) (string, error)
	DeactivateToken(ctx context.Context, token string) error
	ReportBounce(ctx context.Context, userID, address string, at time.Time) error
}

// PushProvider delivers one push notification to one device token.
// Implementations return ErrInvalidDestination for tokens the upstream
// service reports as unregistered.
type PushProvider interface {
	SendPush(ctx context.Context, token string, content template.Rendered, data map[string]string) error
}

// EmailProvider delivers one email. Implementations return ErrBounced when
// the receiving server refuses the address.
type EmailProvider interface {
	SendEmail(ctx context.Context, address string, content template.Rendered) error
}
