package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/defi-risk-monitor/internal/types"
)

// AlertRepository persists generated alerts and their resolution state
type AlertRepository struct {
	db *PostgresDB
}

// NewAlertRepository creates the repository
func NewAlertRepository(db *PostgresDB) *AlertRepository {
	return &AlertRepository{db: db}
}

// StoreAlert inserts an alert generated by the threshold engine
func (r *AlertRepository) StoreAlert(ctx context.Context, a *types.Alert) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO alerts (
			id, user_id, position_id, metric, severity, title, message,
			metric_value, threshold, operator, resolved, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.UserID, a.PositionID, a.Metric, a.Severity, a.Title, a.Message,
		a.MetricValue, a.Threshold, string(a.Operator), a.Resolved, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// ListForUser returns the user's alerts, newest first. unresolvedOnly filters
// out resolved ones.
func (r *AlertRepository) ListForUser(ctx context.Context, userID string, unresolvedOnly bool, limit int) ([]types.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, user_id, position_id, metric, severity, title, message,
			metric_value, threshold, operator, resolved, created_at, resolved_at
		FROM alerts
		WHERE user_id = $1`
	if unresolvedOnly {
		query += ` AND resolved = false`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []types.Alert
	for rows.Next() {
		var a types.Alert
		var op string
		if err := rows.Scan(&a.ID, &a.UserID, &a.PositionID, &a.Metric, &a.Severity, &a.Title, &a.Message,
			&a.MetricValue, &a.Threshold, &op, &a.Resolved, &a.CreatedAt, &a.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Operator = types.ThresholdOperator(op)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Resolve marks an alert resolved. Resolution is driven externally (user
// action); the engine itself never resolves alerts.
func (r *AlertRepository) Resolve(ctx context.Context, userID, alertID string) error {
	now := time.Now().UTC()
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE alerts SET resolved = true, resolved_at = $1 WHERE id = $2 AND user_id = $3 AND resolved = false`,
		now, alertID, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewServiceError("ALERT_NOT_FOUND", fmt.Sprintf("unresolved alert %s not found for user", alertID))
	}
	return nil
}
