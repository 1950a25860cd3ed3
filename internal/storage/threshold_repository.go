package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/defi-risk-monitor/internal/types"
)

// ThresholdRepository persists alert thresholds
type ThresholdRepository struct {
	db *PostgresDB
}

// NewThresholdRepository creates the repository
func NewThresholdRepository(db *PostgresDB) *ThresholdRepository {
	return &ThresholdRepository{db: db}
}

// Create stores a new threshold. The id is assigned here.
func (r *ThresholdRepository) Create(ctx context.Context, t *types.AlertThreshold) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now().UTC()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO alert_thresholds (id, user_id, position_id, metric, operator, value, enabled, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.UserID, t.PositionID, t.Metric, string(t.Operator), t.Value, t.Enabled, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert threshold: %w", err)
	}
	return nil
}

// ThresholdsForUser returns every threshold the user owns, enabled or not.
// The threshold engine filters for enabled and scope.
func (r *ThresholdRepository) ThresholdsForUser(ctx context.Context, userID string) ([]types.AlertThreshold, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, user_id, position_id, metric, operator, value, enabled, created_at
		FROM alert_thresholds
		WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thresholds: %w", err)
	}
	defer rows.Close()

	var thresholds []types.AlertThreshold
	for rows.Next() {
		var t types.AlertThreshold
		var op string
		if err := rows.Scan(&t.ID, &t.UserID, &t.PositionID, &t.Metric, &op, &t.Value, &t.Enabled, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan threshold: %w", err)
		}
		t.Operator = types.ThresholdOperator(op)
		thresholds = append(thresholds, t)
	}
	return thresholds, rows.Err()
}

// SetEnabled toggles a threshold
func (r *ThresholdRepository) SetEnabled(ctx context.Context, userID, thresholdID string, enabled bool) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE alert_thresholds SET enabled = $1 WHERE id = $2 AND user_id = $3`,
		enabled, thresholdID, userID)
	if err != nil {
		return fmt.Errorf("failed to update threshold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewServiceError("THRESHOLD_NOT_FOUND", fmt.Sprintf("threshold %s not found for user", thresholdID))
	}
	return nil
}

// Delete removes a threshold
func (r *ThresholdRepository) Delete(ctx context.Context, userID, thresholdID string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM alert_thresholds WHERE id = $1 AND user_id = $2`, thresholdID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete threshold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewServiceError("THRESHOLD_NOT_FOUND", fmt.Sprintf("threshold %s not found for user", thresholdID))
	}
	return nil
}
