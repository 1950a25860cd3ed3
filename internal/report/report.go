// Package report assembles the composite risk report: portfolio summary,
// per-position risk metrics, active alerts and the lending stress view in
// one document for downstream rendering.
package report

import (
	"context"
	"time"

	"github.com/defi-risk-monitor/internal/aggregator"
	"github.com/defi-risk-monitor/internal/chain"
	"github.com/defi-risk-monitor/internal/lending"
	"github.com/defi-risk-monitor/internal/logging"
	"github.com/defi-risk-monitor/internal/risk"
	"github.com/defi-risk-monitor/internal/types"
)

// Document is the full composite risk report for one user
type Document struct {
	UserID    string                  `json:"userId"`
	Portfolio *types.PortfolioSummary `json:"portfolio"`

	// PositionMetrics maps position id to its computed risk metrics.
	PositionMetrics map[string]*types.RiskMetrics `json:"positionMetrics"`

	ActiveAlerts []types.Alert   `json:"activeAlerts,omitempty"`
	Lending      *lending.Report `json:"lending,omitempty"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// AlertSource lists a user's unresolved alerts
type AlertSource interface {
	ListForUser(ctx context.Context, userID string, unresolvedOnly bool, limit int) ([]types.Alert, error)
}

// Builder assembles report documents from the live pipeline
type Builder struct {
	aggregator *aggregator.Aggregator
	reader     chain.Reader
	calculator *risk.Calculator
	lending    *lending.Manager
	alerts     AlertSource // optional
	logger     *logging.Logger
}

// NewBuilder creates a report builder
func NewBuilder(agg *aggregator.Aggregator, reader chain.Reader, calc *risk.Calculator, lendingMgr *lending.Manager, alerts AlertSource) *Builder {
	return &Builder{
		aggregator: agg,
		reader:     reader,
		calculator: calc,
		lending:    lendingMgr,
		alerts:     alerts,
		logger:     logging.GetGlobalLogger().WithComponent("report"),
	}
}

// Build assembles the report for one user/address pair. Partial data
// degrades the report rather than failing it; only a total portfolio-fetch
// failure is an error.
func (b *Builder) Build(ctx context.Context, userID, address string, config *types.UserRiskConfig) (*Document, error) {
	summary, err := b.aggregator.FetchAll(ctx, address)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		UserID:          userID,
		Portfolio:       summary,
		PositionMetrics: make(map[string]*types.RiskMetrics, len(summary.Positions)),
		GeneratedAt:     time.Now().UTC(),
	}

	scores := make(map[string]float64, len(summary.Positions))
	states := make(map[string]*types.PoolState)
	var lendingPositions []types.Position

	for i := range summary.Positions {
		p := &summary.Positions[i]

		state, serr := b.reader.PoolState(ctx, p.Chain, p.PoolAddress)
		if serr != nil {
			b.logger.WithError(serr).WithField("position", p.ID).
				Warn("pool state unavailable for report, scoring degraded")
		} else {
			states[p.PoolAddress] = state
		}

		metrics, cerr := b.calculator.CalculatePositionRisk(ctx, risk.Inputs{
			Position:    p,
			MarketState: state,
			Config:      config,
		})
		if cerr != nil {
			b.logger.WithError(cerr).WithField("position", p.ID).Warn("risk calculation failed in report")
			continue
		}
		doc.PositionMetrics[p.ID] = metrics
		scores[p.ID] = metrics.OverallRiskScore

		if p.Kind == types.PositionKindSupply || p.Kind == types.PositionKindBorrow {
			lendingPositions = append(lendingPositions, *p)
		}
	}

	summary.OverallRiskScore = risk.PortfolioRiskScore(summary.Positions, scores)

	if len(lendingPositions) > 0 && b.lending != nil {
		doc.Lending = b.lending.BuildReport(address, lendingPositions, states)
	}

	if b.alerts != nil {
		alerts, aerr := b.alerts.ListForUser(ctx, userID, true, 50)
		if aerr != nil {
			b.logger.WithError(aerr).WithField("user", userID).Warn("failed to load alerts for report")
		} else {
			doc.ActiveAlerts = alerts
		}
	}

	return doc, nil
}
