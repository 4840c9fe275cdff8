package postgres

// SQL queries for alert rules, notification attempts, and the recipient
// registry read model.

const (
	// queryEnabledRulesByType fetches the enabled rules of one type. The
	// pipeline calls this per report, so it rides a prepared statement and a
	// (type, enabled) index.
	queryEnabledRulesByType = `
		SELECT
			id, name, type, enabled, threshold, zone_id, owner_id,
			vehicle_scope, notify_user_ids, channels
		FROM alert_rules
		WHERE type = $1
		  AND enabled = TRUE
		ORDER BY id ASC
	`

	// queryInsertAttempt records a delivery attempt in its initial state.
	queryInsertAttempt = `
		INSERT INTO notification_attempts (
			id, alert_id, user_id, vehicle_id, channel, status, detail,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	// queryUpdateAttemptStatus moves an attempt through its lifecycle.
	queryUpdateAttemptStatus = `
		UPDATE notification_attempts
		SET status = $2, detail = $3, updated_at = $4
		WHERE id = $1
	`

	queryAttemptsByAlert = `
		SELECT
			id, alert_id, user_id, vehicle_id, channel, status, detail,
			created_at, updated_at
		FROM notification_attempts
		WHERE alert_id = $1
		ORDER BY created_at ASC
	`

	queryRecentAttempts = `
		SELECT
			id, alert_id, user_id, vehicle_id, channel, status, detail,
			created_at, updated_at
		FROM notification_attempts
		ORDER BY created_at DESC
		LIMIT $1
	`

	// queryActivePushTokens lists the user's live device tokens.
	queryActivePushTokens = `
		SELECT token
		FROM device_tokens
		WHERE user_id = $1
		  AND active = TRUE
		ORDER BY created_at ASC
	`

	// queryDeactivateToken retires a token the push service rejected.
	queryDeactivateToken = `
		UPDATE device_tokens
		SET active = FALSE, deactivated_at = NOW()
		WHERE token = $1
	`

	// queryEmailAddress resolves a deliverable address: present and not
	// known to bounce.
	queryEmailAddress = `
		SELECT email
		FROM notification_preferences
		WHERE user_id = $1
		  AND email IS NOT NULL
		  AND email_bounced_at IS NULL
	`

	queryReportBounce = `
		UPDATE notification_preferences
		SET email_bounced_at = $2
		WHERE user_id = $1
	`

	queryPreferences = `
		SELECT locale, push_enabled, email_enabled
		FROM notification_preferences
		WHERE user_id = $1
	`
)
