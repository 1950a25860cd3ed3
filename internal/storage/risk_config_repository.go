package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/defi-risk-monitor/internal/types"
)

// RiskConfigRepository persists user risk profiles. Exactly one profile per
// user may be active; activating a profile deactivates the others in the
// same transaction.
type RiskConfigRepository struct {
	db *PostgresDB
}

// NewRiskConfigRepository creates the repository
func NewRiskConfigRepository(db *PostgresDB) *RiskConfigRepository {
	return &RiskConfigRepository{db: db}
}

// Create stores a new profile. The id is assigned here.
func (r *RiskConfigRepository) Create(ctx context.Context, cfg *types.UserRiskConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.ID = uuid.NewString()
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO risk_configs (
			id, user_id, name, tolerance, active,
			weight_liquidity, weight_volatility, weight_protocol, weight_mev, weight_cross_chain,
			min_tvl_usd, max_slippage_tolerance, volatility_lookback_seconds, min_audit_score,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		cfg.ID, cfg.UserID, cfg.Name, cfg.Tolerance, cfg.Active,
		cfg.Weights.Liquidity, cfg.Weights.Volatility, cfg.Weights.Protocol, cfg.Weights.MEV, cfg.Weights.CrossChain,
		cfg.MinTVLUSD, cfg.MaxSlippageTolerance, int64(cfg.VolatilityLookback.Seconds()), cfg.MinAuditScore,
		cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert risk config: %w", err)
	}
	return nil
}

// ActiveConfig returns the user's active profile, nil when none exists
func (r *RiskConfigRepository) ActiveConfig(ctx context.Context, userID string) (*types.UserRiskConfig, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, user_id, name, tolerance, active,
			weight_liquidity, weight_volatility, weight_protocol, weight_mev, weight_cross_chain,
			min_tvl_usd, max_slippage_tolerance, volatility_lookback_seconds, min_audit_score,
			created_at, updated_at
		FROM risk_configs
		WHERE user_id = $1 AND active = true`, userID)

	cfg, err := scanRiskConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load active risk config: %w", err)
	}
	return cfg, nil
}

// ListForUser returns every profile the user owns, active first
func (r *RiskConfigRepository) ListForUser(ctx context.Context, userID string) ([]types.UserRiskConfig, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, user_id, name, tolerance, active,
			weight_liquidity, weight_volatility, weight_protocol, weight_mev, weight_cross_chain,
			min_tvl_usd, max_slippage_tolerance, volatility_lookback_seconds, min_audit_score,
			created_at, updated_at
		FROM risk_configs
		WHERE user_id = $1
		ORDER BY active DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk configs: %w", err)
	}
	defer rows.Close()

	var configs []types.UserRiskConfig
	for rows.Next() {
		cfg, err := scanRiskConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk config: %w", err)
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

// Activate marks one profile active and deactivates the user's others
// atomically
func (r *RiskConfigRepository) Activate(ctx context.Context, userID, configID string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE risk_configs SET active = false, updated_at = now() WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to deactivate profiles: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE risk_configs SET active = true, updated_at = now() WHERE id = $1 AND user_id = $2`,
		configID, userID)
	if err != nil {
		return fmt.Errorf("failed to activate profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewServiceError("CONFIG_NOT_FOUND", fmt.Sprintf("risk config %s not found for user", configID))
	}

	return tx.Commit(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRiskConfig(row rowScanner) (*types.UserRiskConfig, error) {
	var cfg types.UserRiskConfig
	var lookbackSeconds int64
	err := row.Scan(
		&cfg.ID, &cfg.UserID, &cfg.Name, &cfg.Tolerance, &cfg.Active,
		&cfg.Weights.Liquidity, &cfg.Weights.Volatility, &cfg.Weights.Protocol, &cfg.Weights.MEV, &cfg.Weights.CrossChain,
		&cfg.MinTVLUSD, &cfg.MaxSlippageTolerance, &lookbackSeconds, &cfg.MinAuditScore,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cfg.VolatilityLookback = time.Duration(lookbackSeconds) * time.Second
	return &cfg, nil
}
