package risk

import (
	"context"

	"github.com/defi-risk-monitor/internal/types"
)

// Neutral fallbacks used when an optional sub-assessor is absent or fails.
// A fallback-derived score is recorded in RiskMetrics.DegradedSources: it
// means "unassessed", not "measured as moderate".
const (
	// neutralProtocolRisk applies to every protocol sub-component when no
	// ProtocolRiskService answers.
	neutralProtocolRisk = 0.5
	// neutralMEVRisk is deliberately below neutral: MEV exposure is usually
	// low for casual positions.
	neutralMEVRisk = 0.35
	// singleChainBaseline is the fixed cross-chain risk of a position that
	// lives on exactly one chain. The sub-assessor is not invoked for these.
	singleChainBaseline = 0.10
	// neutralCorrelationRisk applies when a return series has fewer than
	// two points.
	neutralCorrelationRisk = 0.5
	// neutralVolatility applies when no price history is available.
	neutralVolatility = 0.5
)

// ProtocolAssessment carries the sub-scores of a protocol trust evaluation.
// All scores are risks in [0,1]: higher means riskier.
type ProtocolAssessment struct {
	AuditRisk          float64 `json:"auditRisk"`
	ExploitHistoryRisk float64 `json:"exploitHistoryRisk"`
	GovernanceRisk     float64 `json:"governanceRisk"`
}

// Composite blends the protocol sub-scores into one value
func (a ProtocolAssessment) Composite() float64 {
	return clamp01(0.4*a.AuditRisk + 0.35*a.ExploitHistoryRisk + 0.25*a.GovernanceRisk)
}

// ProtocolRiskService evaluates protocol trust. Optional: a nil service or a
// failed call falls back to neutralProtocolRisk for every component.
type ProtocolRiskService interface {
	AssessProtocol(ctx context.Context, protocol types.ProtocolID, chain types.ChainID) (*ProtocolAssessment, error)
}

// MEVAssessment carries MEV and oracle exposure sub-scores in [0,1]
type MEVAssessment struct {
	SandwichRisk           float64 `json:"sandwichRisk"`
	FrontrunRisk           float64 `json:"frontrunRisk"`
	OracleManipulationRisk float64 `json:"oracleManipulationRisk"`
	OracleDeviationRisk    float64 `json:"oracleDeviationRisk"`
}

// Composite blends the MEV sub-scores into one value
func (a MEVAssessment) Composite() float64 {
	return clamp01(0.3*a.SandwichRisk + 0.25*a.FrontrunRisk + 0.25*a.OracleManipulationRisk + 0.2*a.OracleDeviationRisk)
}

// MEVRiskService evaluates MEV/oracle exposure for a pool. Optional; falls
// back to neutralMEVRisk.
type MEVRiskService interface {
	AssessPool(ctx context.Context, chain types.ChainID, pool string, state *types.PoolState) (*MEVAssessment, error)
}

// CrossChainAssessment carries bridge and fragmentation sub-scores in [0,1]
type CrossChainAssessment struct {
	BridgeRisk             float64 `json:"bridgeRisk"`
	LiquidityFragmentation float64 `json:"liquidityFragmentation"`
	GovernanceDivergence   float64 `json:"governanceDivergence"`
	TechnicalRisk          float64 `json:"technicalRisk"`
	CorrelationRisk        float64 `json:"correlationRisk"`
}

// Composite blends the cross-chain sub-scores into one value
func (a CrossChainAssessment) Composite() float64 {
	return clamp01(0.3*a.BridgeRisk + 0.2*a.LiquidityFragmentation + 0.15*a.GovernanceDivergence + 0.2*a.TechnicalRisk + 0.15*a.CorrelationRisk)
}

// CrossChainRiskService evaluates positions spanning multiple chains. Only
// invoked for genuinely multi-chain positions; single-chain positions get the
// fixed baseline without a call.
type CrossChainRiskService interface {
	Assess(ctx context.Context, primary types.ChainID, secondary []types.ChainID, states []types.PoolState) (*CrossChainAssessment, error)
}
