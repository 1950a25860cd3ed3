package types

import (
	"fmt"
	"time"
)

// MetricType identifies which RiskMetrics field a threshold applies to
type MetricType string

const (
	// MetricImpermanentLoss tracks divergence loss of LP positions
	MetricImpermanentLoss MetricType = "impermanent_loss"
	// MetricPriceImpact tracks position size relative to pool liquidity
	MetricPriceImpact MetricType = "price_impact"
	// MetricVolatility tracks annualized primary-token volatility
	MetricVolatility MetricType = "volatility"
	// MetricLiquidityRisk tracks the blended liquidity composite
	MetricLiquidityRisk MetricType = "liquidity_risk"
	// MetricProtocolRisk tracks audit/exploit/governance exposure
	MetricProtocolRisk MetricType = "protocol_risk"
	// MetricMEVRisk tracks sandwich/frontrun/oracle exposure
	MetricMEVRisk MetricType = "mev_risk"
	// MetricCrossChainRisk tracks bridge and fragmentation exposure
	MetricCrossChainRisk MetricType = "cross_chain_risk"
	// MetricOverallRisk tracks the composite score
	MetricOverallRisk MetricType = "overall_risk"
)

// ThresholdOperator is the comparison applied between metric and threshold
type ThresholdOperator string

const (
	OpGreaterThan    ThresholdOperator = ">"
	OpGreaterOrEqual ThresholdOperator = ">="
	OpLessThan       ThresholdOperator = "<"
	OpLessOrEqual    ThresholdOperator = "<="
	OpEqual          ThresholdOperator = "=="
)

// Violated applies the operator to (value, threshold)
func (op ThresholdOperator) Violated(value, threshold float64) bool {
	switch op {
	case OpGreaterThan:
		return value > threshold
	case OpGreaterOrEqual:
		return value >= threshold
	case OpLessThan:
		return value < threshold
	case OpLessOrEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	default:
		return false
	}
}

// Valid reports whether the operator is one of the supported comparisons
func (op ThresholdOperator) Valid() bool {
	switch op {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual, OpEqual:
		return true
	}
	return false
}

// AlertThreshold is a user-configured trigger on one risk metric.
// A threshold with a PositionID is scoped to that position and overrides any
// global threshold for the same metric; an empty PositionID makes it global.
type AlertThreshold struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userId"`
	PositionID string            `json:"positionId,omitempty"`
	Metric     MetricType        `json:"metric"`
	Operator   ThresholdOperator `json:"operator"`
	Value      float64           `json:"value"`
	Enabled    bool              `json:"enabled"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Validate checks threshold configuration
func (t *AlertThreshold) Validate() error {
	if t.UserID == "" {
		return &ServiceError{Code: "INVALID_THRESHOLD", Message: "user id is required"}
	}
	if t.Metric == "" {
		return &ServiceError{Code: "INVALID_THRESHOLD", Message: "metric type is required"}
	}
	if !t.Operator.Valid() {
		return &ServiceError{
			Code:    "INVALID_THRESHOLD",
			Message: fmt.Sprintf("unsupported operator %q", t.Operator),
		}
	}
	return nil
}

// AlertSeverity classifies how far a metric breached its threshold
type AlertSeverity string

const (
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a record of one threshold violation. Alerts are created by the
// threshold engine; resolution happens externally (user action) and only the
// state field is exposed here.
type Alert struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	PositionID  string        `json:"positionId"`
	Metric      MetricType    `json:"metric"`
	Severity    AlertSeverity `json:"severity"`
	Title       string        `json:"title"`
	Message     string        `json:"message"`
	MetricValue float64       `json:"metricValue"` // Value that triggered the alert
	Threshold   float64       `json:"threshold"`   // Threshold it violated
	Operator    ThresholdOperator `json:"operator"`
	Resolved    bool          `json:"resolved"`
	CreatedAt   time.Time     `json:"createdAt"`
	ResolvedAt  *time.Time    `json:"resolvedAt,omitempty"`
}

// Key returns the dedupe key for cooldown tracking. Two alerts with the same
// key within the cooldown window are considered duplicates.
func (a *Alert) Key() string {
	return fmt.Sprintf("%s:%s:%s", a.UserID, a.PositionID, a.Metric)
}
