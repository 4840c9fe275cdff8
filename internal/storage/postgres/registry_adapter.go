package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trucktrack/alert-pipeline/internal/dispatch"
)

// RegistryAdapter implements dispatch.Registry and dispatch.PreferenceSource
// over the recipient read model: device tokens plus per-user notification
// preferences, both synchronized from the administrative collaborator.
type RegistryAdapter struct {
	db *sql.DB
}

func NewRegistryAdapter(db *sql.DB) *RegistryAdapter {
	return &RegistryAdapter{db: db}
}

func (a *RegistryAdapter) PushTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, queryActivePushTokens, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query push tokens for %s: %w", userID, err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan token row: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token rows: %w", err)
	}
	return tokens, nil
}

func (a *RegistryAdapter) DeactivateToken(ctx context.Context, token string) error {
	if _, err := a.db.ExecContext(ctx, queryDeactivateToken, token); err != nil {
		return fmt.Errorf("failed to deactivate token: %w", err)
	}
	return nil
}

func (a *RegistryAdapter) EmailAddress(ctx context.Context, userID string) (string, error) {
	var address string
	err := a.db.QueryRowContext(ctx, queryEmailAddress, userID).Scan(&address)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no deliverable email for user %s", userID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve email for %s: %w", userID, err)
	}
	return address, nil
}

func (a *RegistryAdapter) ReportBounce(ctx context.Context, userID, _ string, at time.Time) error {
	if _, err := a.db.ExecContext(ctx, queryReportBounce, userID, at); err != nil {
		return fmt.Errorf("failed to record bounce for %s: %w", userID, err)
	}
	return nil
}

// Preferences loads the user's notification settings. A user with no row gets
// the defaults: every channel enabled, deployment locale.
func (a *RegistryAdapter) Preferences(ctx context.Context, userID string) (dispatch.Preferences, error) {
	var (
		locale       string
		pushEnabled  bool
		emailEnabled bool
	)
	err := a.db.QueryRowContext(ctx, queryPreferences, userID).Scan(&locale, &pushEnabled, &emailEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Preferences{UserID: userID}, nil
	}
	if err != nil {
		return dispatch.Preferences{}, fmt.Errorf("failed to load preferences for %s: %w", userID, err)
	}

	return dispatch.Preferences{
		UserID: userID,
		Locale: locale,
		EnabledChannels: map[dispatch.Channel]bool{
			dispatch.ChannelPush:  pushEnabled,
			dispatch.ChannelEmail: emailEnabled,
		},
	}, nil
}
