// Package alert evaluates computed risk metrics against user-configured
// thresholds and emits deduplicated alerts for external delivery.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/defi-risk-monitor/internal/logging"
	"github.com/defi-risk-monitor/internal/types"
)

// Severity bands applied to the excess over the threshold. A metric of 0.15
// against a 0.10 threshold exceeds it by 0.05 and stays medium; only a breach
// beyond the band widths escalates.
const (
	criticalExcess = 0.20
	highExcess     = 0.10
)

// Engine evaluates thresholds and enforces the per-key cooldown. Safe for
// concurrent use; the monitor evaluates many positions in parallel.
type Engine struct {
	cooldown time.Duration
	notifier Notifier
	logger   *logging.Logger
	now      func() time.Time

	mu          sync.Mutex
	lastAlerted map[string]time.Time
}

// EngineOption configures the engine
type EngineOption func(*Engine)

// WithNotifier sets the delivery collaborator. Delivery failures are logged
// and never roll back alert creation.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a threshold engine with the given cooldown window
func NewEngine(cooldown time.Duration, opts ...EngineOption) *Engine {
	e := &Engine{
		cooldown:    cooldown,
		logger:      logging.GetGlobalLogger().WithComponent("alert_engine"),
		now:         func() time.Time { return time.Now().UTC() },
		lastAlerted: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate compares the metrics of one position against the user's enabled
// thresholds and returns the alerts generated this cycle. Position-scoped
// thresholds override global ones for the same metric. The same (user,
// position, metric) key is not re-alerted within the cooldown window even if
// still violating.
func (e *Engine) Evaluate(ctx context.Context, userID, positionID string, metrics *types.RiskMetrics, thresholds []types.AlertThreshold) []types.Alert {
	if metrics == nil {
		return nil
	}

	effective := effectiveThresholds(userID, positionID, thresholds)

	var alerts []types.Alert
	for _, t := range effective {
		value, ok := metrics.MetricValue(t.Metric)
		if !ok {
			e.logger.WithField("metric", t.Metric).Warn("threshold references unknown metric, skipping")
			continue
		}
		if !t.Operator.Violated(value, t.Value) {
			continue
		}

		a := e.buildAlert(userID, positionID, t, value)
		if !e.admit(a.Key()) {
			e.logger.WithFields(map[string]interface{}{
				"key":    a.Key(),
				"metric": t.Metric,
			}).Debug("alert suppressed by cooldown")
			continue
		}

		alerts = append(alerts, a)

		if e.notifier != nil {
			if err := e.notifier.Notify(ctx, &a); err != nil {
				e.logger.WithError(err).WithField("alert", a.ID).
					Warn("alert delivery failed, alert retained")
			}
		}
	}
	return alerts
}

// effectiveThresholds returns the enabled thresholds that apply to the
// position: the union of scoped and global ones, where a scoped threshold
// shadows any global threshold on the same metric.
func effectiveThresholds(userID, positionID string, thresholds []types.AlertThreshold) []types.AlertThreshold {
	scopedMetrics := make(map[types.MetricType]bool)
	for _, t := range thresholds {
		if t.Enabled && t.UserID == userID && t.PositionID == positionID && positionID != "" {
			scopedMetrics[t.Metric] = true
		}
	}

	var out []types.AlertThreshold
	for _, t := range thresholds {
		if !t.Enabled || t.UserID != userID {
			continue
		}
		switch t.PositionID {
		case positionID:
			if positionID != "" {
				out = append(out, t)
			}
		case "":
			if !scopedMetrics[t.Metric] {
				out = append(out, t)
			}
		}
	}
	return out
}

// admit records the alert key if it is outside the cooldown window. Expired
// entries are pruned opportunistically.
func (e *Engine) admit(key string) bool {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if last, exists := e.lastAlerted[key]; exists && now.Sub(last) < e.cooldown {
		return false
	}

	for k, last := range e.lastAlerted {
		if now.Sub(last) >= e.cooldown {
			delete(e.lastAlerted, k)
		}
	}

	e.lastAlerted[key] = now
	return true
}

func (e *Engine) buildAlert(userID, positionID string, t types.AlertThreshold, value float64) types.Alert {
	severity := severityFor(t.Operator, value, t.Value)
	return types.Alert{
		ID:          uuid.NewString(),
		UserID:      userID,
		PositionID:  positionID,
		Metric:      t.Metric,
		Severity:    severity,
		Title:       fmt.Sprintf("%s threshold breached", t.Metric),
		Message: fmt.Sprintf("%s is %.4f, violating configured limit %s %.4f",
			t.Metric, value, t.Operator, t.Value),
		MetricValue: value,
		Threshold:   t.Value,
		Operator:    t.Operator,
		CreatedAt:   e.now(),
	}
}

// severityFor derives severity from how far the metric breached the
// threshold in the operator's direction
func severityFor(op types.ThresholdOperator, value, threshold float64) types.AlertSeverity {
	var excess float64
	switch op {
	case types.OpGreaterThan, types.OpGreaterOrEqual:
		excess = value - threshold
	case types.OpLessThan, types.OpLessOrEqual:
		excess = threshold - value
	default:
		excess = 0
	}

	switch {
	case excess > criticalExcess:
		return types.SeverityCritical
	case excess > highExcess:
		return types.SeverityHigh
	default:
		return types.SeverityMedium
	}
}
