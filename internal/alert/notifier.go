package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/defi-risk-monitor/internal/logging"
	"github.com/defi-risk-monitor/internal/types"
)

// Notifier delivers a constructed alert to an external channel. Retry,
// backoff and payload signing belong to the receiving side's integration,
// not here.
type Notifier interface {
	Notify(ctx context.Context, alert *types.Alert) error
}

// WebhookNotifier POSTs alerts as JSON to a configured endpoint
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier with a bounded request timeout
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts the alert. Non-2xx responses are errors.
func (n *WebhookNotifier) Notify(ctx context.Context, alert *types.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes alerts to the structured log, for local runs and tests
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logging.GetGlobalLogger().WithComponent("alert_notifier")}
}

// Notify logs the alert at warn level
func (n *LogNotifier) Notify(ctx context.Context, alert *types.Alert) error {
	n.logger.WithFields(map[string]interface{}{
		"alertId":  alert.ID,
		"user":     alert.UserID,
		"position": alert.PositionID,
		"metric":   alert.Metric,
		"severity": alert.Severity,
		"value":    alert.MetricValue,
	}).Warn(alert.Message)
	return nil
}

// MultiNotifier fans one alert out to several notifiers; the first failure
// is returned but every notifier is attempted.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier combines notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify attempts every notifier
func (n *MultiNotifier) Notify(ctx context.Context, alert *types.Alert) error {
	var firstErr error
	for _, notifier := range n.notifiers {
		if err := notifier.Notify(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
