// Package monitor drives periodic re-evaluation of tracked positions:
// fetch portfolio, read market state and price history, compute risk,
// evaluate thresholds. Positions are independent units of work with no
// cross-position ordering; a position still being processed is skipped,
// never overlapped.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/defi-risk-monitor/internal/aggregator"
	"github.com/defi-risk-monitor/internal/alert"
	"github.com/defi-risk-monitor/internal/chain"
	"github.com/defi-risk-monitor/internal/logging"
	"github.com/defi-risk-monitor/internal/risk"
	"github.com/defi-risk-monitor/internal/types"
)

// TrackedUser couples a user id with the address being monitored
type TrackedUser struct {
	UserID  string
	Address string
}

// UserSource lists the users whose positions the monitor tracks
type UserSource interface {
	TrackedUsers(ctx context.Context) ([]TrackedUser, error)
}

// ConfigSource supplies a user's active risk profile, nil when none exists
type ConfigSource interface {
	ActiveConfig(ctx context.Context, userID string) (*types.UserRiskConfig, error)
}

// ThresholdSource supplies a user's alert thresholds
type ThresholdSource interface {
	ThresholdsForUser(ctx context.Context, userID string) ([]types.AlertThreshold, error)
}

// AlertSink persists generated alerts. Optional; a nil sink drops them after
// delivery.
type AlertSink interface {
	StoreAlert(ctx context.Context, a *types.Alert) error
}

// Deps bundles the monitor's collaborators
type Deps struct {
	Aggregator   *aggregator.Aggregator
	Reader       chain.Reader
	History      chain.HistoryReader      // optional
	StateHistory chain.StateHistoryReader // optional
	Calculator   *risk.Calculator
	Engine       *alert.Engine
	Users        UserSource
	Configs      ConfigSource    // optional
	Thresholds   ThresholdSource // optional
	Alerts       AlertSink       // optional
}

// Monitor is the fixed-interval scheduling loop
type Monitor struct {
	deps          Deps
	interval      time.Duration
	maxConcurrent int
	lookback      time.Duration
	logger        *logging.Logger

	inflightMu sync.Mutex
	inflight   map[string]bool
}

// New creates a monitor. interval is the cycle period, maxConcurrent bounds
// simultaneous position evaluations, lookback is the price-history window.
func New(deps Deps, interval time.Duration, maxConcurrent int, lookback time.Duration) *Monitor {
	if interval <= 0 {
		interval = 45 * time.Second
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	return &Monitor{
		deps:          deps,
		interval:      interval,
		maxConcurrent: maxConcurrent,
		lookback:      lookback,
		logger:        logging.GetGlobalLogger().WithComponent("monitor"),
		inflight:      make(map[string]bool),
	}
}

// Run executes cycles until the context is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.WithField("interval", m.interval.String()).Info("monitor started")

	for {
		m.RunCycle(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle evaluates every tracked user's positions once
func (m *Monitor) RunCycle(ctx context.Context) {
	users, err := m.deps.Users.TrackedUsers(ctx)
	if err != nil {
		m.logger.WithError(err).Error("failed to list tracked users, skipping cycle")
		return
	}

	start := time.Now()
	sem := make(chan struct{}, m.maxConcurrent)
	var wg sync.WaitGroup
	var evaluated, skipped int
	var countMu sync.Mutex

	for _, user := range users {
		summary, err := m.deps.Aggregator.FetchAll(ctx, user.Address)
		if err != nil {
			if errors.Is(err, aggregator.ErrNoPositions) {
				continue
			}
			m.logger.WithError(err).WithField("address", user.Address).
				Warn("portfolio fetch failed, skipping user this cycle")
			continue
		}

		config, thresholds := m.loadUserSettings(ctx, user.UserID)

		for i := range summary.Positions {
			position := summary.Positions[i]
			if !m.claim(position.ID) {
				countMu.Lock()
				skipped++
				countMu.Unlock()
				continue
			}

			wg.Add(1)
			go func(user TrackedUser) {
				defer wg.Done()
				defer m.release(position.ID)
				sem <- struct{}{}
				defer func() { <-sem }()

				m.evaluatePosition(ctx, user, &position, config, thresholds)
				countMu.Lock()
				evaluated++
				countMu.Unlock()
			}(user)
		}
	}
	wg.Wait()

	m.logger.WithFields(map[string]interface{}{
		"users":     len(users),
		"evaluated": evaluated,
		"skipped":   skipped,
		"elapsed":   time.Since(start).String(),
	}).Info("monitoring cycle complete")
}

// claim marks a position as in flight; returns false when a previous cycle
// is still processing it
func (m *Monitor) claim(positionID string) bool {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	if m.inflight[positionID] {
		return false
	}
	m.inflight[positionID] = true
	return true
}

func (m *Monitor) release(positionID string) {
	m.inflightMu.Lock()
	delete(m.inflight, positionID)
	m.inflightMu.Unlock()
}

func (m *Monitor) loadUserSettings(ctx context.Context, userID string) (*types.UserRiskConfig, []types.AlertThreshold) {
	var config *types.UserRiskConfig
	if m.deps.Configs != nil {
		c, err := m.deps.Configs.ActiveConfig(ctx, userID)
		if err != nil {
			m.logger.WithError(err).WithField("user", userID).
				Warn("failed to load risk config, using defaults")
		} else {
			config = c
		}
	}

	var thresholds []types.AlertThreshold
	if m.deps.Thresholds != nil {
		t, err := m.deps.Thresholds.ThresholdsForUser(ctx, userID)
		if err != nil {
			m.logger.WithError(err).WithField("user", userID).
				Warn("failed to load thresholds, skipping alerting this cycle")
		} else {
			thresholds = t
		}
	}
	return config, thresholds
}

// evaluatePosition runs one position through the risk pipeline
func (m *Monitor) evaluatePosition(ctx context.Context, user TrackedUser, position *types.Position, config *types.UserRiskConfig, thresholds []types.AlertThreshold) {
	log := m.logger.WithFields(map[string]interface{}{
		"position": position.ID,
		"user":     user.UserID,
	})

	inputs := risk.Inputs{Position: position, Config: config}

	state, err := m.deps.Reader.PoolState(ctx, position.Chain, position.PoolAddress)
	if err != nil {
		log.WithError(err).Warn("pool state unavailable, scoring with degraded inputs")
	} else {
		inputs.MarketState = state
	}

	if m.deps.History != nil {
		lookback := m.lookback
		if config != nil && config.VolatilityLookback > 0 {
			lookback = config.VolatilityLookback
		}
		to := time.Now().UTC()
		from := to.Add(-lookback)

		if h, err := m.deps.History.PriceHistory(ctx, position.Chain, position.Token0.Address, from, to); err == nil {
			inputs.History0 = h
		}
		if position.Token1 != nil {
			if h, err := m.deps.History.PriceHistory(ctx, position.Chain, position.Token1.Address, from, to); err == nil {
				inputs.History1 = h
			}
		}
	}

	if m.deps.StateHistory != nil {
		if states, err := m.deps.StateHistory.HistoricalPoolStates(ctx, position.Chain, position.PoolAddress, 7*24*time.Hour); err == nil {
			inputs.HistoricalStates = states
		}
	}

	metrics, err := m.deps.Calculator.CalculatePositionRisk(ctx, inputs)
	if err != nil {
		log.WithError(err).Error("risk calculation failed")
		return
	}

	if len(thresholds) == 0 {
		return
	}
	alerts := m.deps.Engine.Evaluate(ctx, user.UserID, position.ID, metrics, thresholds)
	for i := range alerts {
		if m.deps.Alerts == nil {
			continue
		}
		if err := m.deps.Alerts.StoreAlert(ctx, &alerts[i]); err != nil {
			log.WithError(err).WithField("alert", alerts[i].ID).Warn("failed to persist alert")
		}
	}
}

// StaticUsers is a fixed-list UserSource, used when tracked addresses come
// from configuration rather than a database
type StaticUsers []TrackedUser

// TrackedUsers returns the fixed list
func (s StaticUsers) TrackedUsers(ctx context.Context) ([]TrackedUser, error) {
	return s, nil
}
