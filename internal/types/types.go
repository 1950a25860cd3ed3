// Package types provides common type definitions for the DeFi risk monitor.
package types

// ChainID represents supported blockchain networks
type ChainID string

const (
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = "ethereum"
	// ChainPolygon represents the Polygon network
	ChainPolygon ChainID = "polygon"
	// ChainArbitrum represents the Arbitrum network
	ChainArbitrum ChainID = "arbitrum"
	// ChainOptimism represents the Optimism network
	ChainOptimism ChainID = "optimism"
	// ChainBase represents the Base network
	ChainBase ChainID = "base"
)

// ProtocolID identifies a supported DeFi protocol
type ProtocolID string

const (
	// ProtocolUniswapV3 represents Uniswap V3 concentrated-liquidity pools
	ProtocolUniswapV3 ProtocolID = "uniswap_v3"
	// ProtocolAaveV3 represents Aave V3 lending markets
	ProtocolAaveV3 ProtocolID = "aave_v3"
	// ProtocolCurve represents Curve stable-swap pools
	ProtocolCurve ProtocolID = "curve"
	// ProtocolLido represents Lido liquid staking
	ProtocolLido ProtocolID = "lido"
)

// PositionKind classifies what a position represents within its protocol
type PositionKind string

const (
	// PositionKindLiquidity represents an LP position in an AMM pool
	PositionKindLiquidity PositionKind = "liquidity"
	// PositionKindSupply represents assets supplied to a lending market
	PositionKindSupply PositionKind = "supply"
	// PositionKindBorrow represents assets borrowed from a lending market
	PositionKindBorrow PositionKind = "borrow"
	// PositionKindStake represents staked assets
	PositionKindStake PositionKind = "stake"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NewServiceError creates a ServiceError with a code and message
func NewServiceError(code, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}
