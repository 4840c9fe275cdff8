package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/trucktrack/alert-pipeline/internal/dispatch"
)

// AttemptsAdapter implements dispatch.AttemptStore for PostgreSQL.
type AttemptsAdapter struct {
	stmtInsert       *sql.Stmt
	stmtUpdateStatus *sql.Stmt
	stmtByAlert      *sql.Stmt
	stmtRecent       *sql.Stmt
}

// NewAttemptsAdapter prepares the attempt statements. The insert and status
// update sit on the delivery hot path.
func NewAttemptsAdapter(db *sql.DB) (*AttemptsAdapter, error) {
	stmtInsert, err := db.Prepare(queryInsertAttempt)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insertAttempt statement: %w", err)
	}

	stmtUpdate, err := db.Prepare(queryUpdateAttemptStatus)
	if err != nil {
		stmtInsert.Close()
		return nil, fmt.Errorf("failed to prepare updateAttemptStatus statement: %w", err)
	}

	stmtByAlert, err := db.Prepare(queryAttemptsByAlert)
	if err != nil {
		stmtInsert.Close()
		stmtUpdate.Close()
		return nil, fmt.Errorf("failed to prepare attemptsByAlert statement: %w", err)
	}

	stmtRecent, err := db.Prepare(queryRecentAttempts)
	if err != nil {
		stmtInsert.Close()
		stmtUpdate.Close()
		stmtByAlert.Close()
		return nil, fmt.Errorf("failed to prepare recentAttempts statement: %w", err)
	}

	slog.Info("[Postgres] Attempts adapter initialized with prepared statements")

	return &AttemptsAdapter{
		stmtInsert:       stmtInsert,
		stmtUpdateStatus: stmtUpdate,
		stmtByAlert:      stmtByAlert,
		stmtRecent:       stmtRecent,
	}, nil
}

func (a *AttemptsAdapter) Create(ctx context.Context, attempt *dispatch.Attempt) error {
	_, err := a.stmtInsert.ExecContext(ctx,
		attempt.ID, attempt.AlertID, attempt.UserID, attempt.VehicleID,
		string(attempt.Channel), string(attempt.Status), attempt.Detail,
		attempt.CreatedAt, attempt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt %s: %w", attempt.ID, err)
	}
	return nil
}

func (a *AttemptsAdapter) UpdateStatus(ctx context.Context, id string, status dispatch.Status, detail string, at time.Time) error {
	res, err := a.stmtUpdateStatus.ExecContext(ctx, id, string(status), detail, at)
	if err != nil {
		return fmt.Errorf("failed to update attempt %s to %s: %w", id, status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("attempt %s not found", id)
	}
	return nil
}

func (a *AttemptsAdapter) ListByAlert(ctx context.Context, alertID string) ([]dispatch.Attempt, error) {
	rows, err := a.stmtByAlert.QueryContext(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts for alert %s: %w", alertID, err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (a *AttemptsAdapter) ListRecent(ctx context.Context, limit int) ([]dispatch.Attempt, error) {
	rows, err := a.stmtRecent.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]dispatch.Attempt, error) {
	var out []dispatch.Attempt
	for rows.Next() {
		var (
			att     dispatch.Attempt
			channel string
			status  string
		)
		err := rows.Scan(
			&att.ID, &att.AlertID, &att.UserID, &att.VehicleID,
			&channel, &status, &att.Detail, &att.CreatedAt, &att.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		att.Channel = dispatch.Channel(channel)
		att.Status = dispatch.Status(status)
		out = append(out, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempt rows: %w", err)
	}
	return out, nil
}

// Close releases the prepared statements.
func (a *AttemptsAdapter) Close() error {
	var firstErr error
	for _, stmt := range []*sql.Stmt{a.stmtInsert, a.stmtUpdateStatus, a.stmtByAlert, a.stmtRecent} {
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
