package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/trucktrack/alert-pipeline/internal/rules"
)

// RulesAdapter implements rules.Provider against the alert_rules table, which
// the administrative collaborator writes and this service only reads.
type RulesAdapter struct {
	stmtEnabledByType *sql.Stmt
}

func NewRulesAdapter(db *sql.DB) (*RulesAdapter, error) {
	stmt, err := db.Prepare(queryEnabledRulesByType)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare enabledRulesByType statement: %w", err)
	}
	return &RulesAdapter{stmtEnabledByType: stmt}, nil
}

// Enabled returns the enabled rules of one type. A rule whose threshold fails
// to parse is skipped and logged rather than poisoning the whole rule set: a
// single bad admin edit must not disable every other rule.
func (a *RulesAdapter) Enabled(ctx context.Context, t rules.Type) ([]rules.Rule, error) {
	rows, err := a.stmtEnabledByType.QueryContext(ctx, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled rules of type %s: %w", t, err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var (
			r         rules.Rule
			ruleType  string
			threshold sql.NullString
			zoneID    sql.NullString
		)
		err := rows.Scan(
			&r.ID, &r.Name, &ruleType, &r.Enabled, &threshold, &zoneID, &r.OwnerID,
			pq.Array(&r.VehicleScope), pq.Array(&r.NotifyUserIDs), pq.Array(&r.Channels),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert rule row: %w", err)
		}

		r.Type = rules.Type(ruleType)
		r.ZoneID = zoneID.String

		if threshold.Valid {
			d, err := decimal.NewFromString(threshold.String)
			if err != nil {
				slog.Error("[RuleStore] Skipping rule with unparsable threshold",
					"rule_id", r.ID, "threshold", threshold.String, "error", err)
				continue
			}
			r.Threshold = &d
		}

		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert rule rows: %w", err)
	}
	return out, nil
}

// Close releases the prepared statement.
func (a *RulesAdapter) Close() error {
	return a.stmtEnabledByType.Close()
}
