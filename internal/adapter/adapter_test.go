package adapter

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defi-risk-monitor/internal/cache"
	"github.com/defi-risk-monitor/internal/chain"
	"github.com/defi-risk-monitor/internal/types"
)

const (
	wethAddr  = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdcAddr  = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	stethAddr = "0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"
)

// fakeReader is an in-memory chain.Reader with per-protocol canned positions
type fakeReader struct {
	mu             sync.Mutex
	metadata       map[string]*chain.TokenMetadata
	states         map[string]*types.PoolState
	raws           map[types.ProtocolID][]chain.RawPosition
	enumerateCalls int
}

func (f *fakeReader) SupportsChain(c types.ChainID) bool { return c == types.ChainEthereum }

func (f *fakeReader) TokenMetadata(ctx context.Context, c types.ChainID, token string) (*chain.TokenMetadata, error) {
	if m, ok := f.metadata[token]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("no metadata for %s", token)
}

func (f *fakeReader) TokenBalance(ctx context.Context, c types.ChainID, token, owner string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeReader) PoolState(ctx context.Context, c types.ChainID, pool string) (*types.PoolState, error) {
	if s, ok := f.states[pool]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no state for %s", pool)
}

func (f *fakeReader) EnumeratePositions(ctx context.Context, c types.ChainID, protocol types.ProtocolID, owner string) ([]chain.RawPosition, error) {
	f.mu.Lock()
	f.enumerateCalls++
	f.mu.Unlock()
	return f.raws[protocol], nil
}

// fakeFeed prices tokens from a fixed table
type fakeFeed map[string]float64

func (f fakeFeed) TokenPriceUSD(ctx context.Context, c types.ChainID, token string) (float64, error) {
	price, ok := f[token]
	if !ok {
		return 0, fmt.Errorf("no price for %s", token)
	}
	return price, nil
}

func testDeps(t *testing.T, reader *fakeReader, feed fakeFeed) Deps {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := cache.NewService(cache.NewRedisCacheFromClient(client), 5*time.Minute, 30*time.Minute, 30*time.Second)
	return Deps{
		Reader: reader,
		Loader: cache.NewLoader(svc),
		Cache:  svc,
		Feed:   feed,
	}
}

func testRegistries() map[types.ChainID]chain.ProtocolRegistry {
	return map[types.ChainID]chain.ProtocolRegistry{
		types.ChainEthereum: chain.EthereumMainnetRegistry,
	}
}

func TestLidoPositionsNormalized(t *testing.T) {
	reader := &fakeReader{
		metadata: map[string]*chain.TokenMetadata{
			stethAddr: {Address: stethAddr, Symbol: "stETH", Decimals: 18},
		},
		raws: map[types.ProtocolID][]chain.RawPosition{
			types.ProtocolLido: {{
				Protocol:    types.ProtocolLido,
				Chain:       types.ChainEthereum,
				PoolAddress: stethAddr,
				Kind:        types.PositionKindStake,
				Token0:      stethAddr,
				RawAmount0:  "5000000000000000000", // 5 stETH
			}},
		},
	}
	feed := fakeFeed{stethAddr: 2000}
	a := NewLidoAdapter(testDeps(t, reader, feed), testRegistries())

	positions, err := a.Positions(context.Background(), types.ChainEthereum, "0xowner")
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, types.PositionKindStake, p.Kind)
	assert.Equal(t, "stETH", p.Token0.Symbol)
	assert.InDelta(t, 5.0, p.Token0.Amount, 1e-9)
	assert.InDelta(t, 10_000, p.Token0.ValueUSD, 1e-6)
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.FetchedAt.IsZero())
}

func TestPositionsServedFromCacheOnSecondCall(t *testing.T) {
	reader := &fakeReader{
		metadata: map[string]*chain.TokenMetadata{
			stethAddr: {Address: stethAddr, Symbol: "stETH", Decimals: 18},
		},
		raws: map[types.ProtocolID][]chain.RawPosition{
			types.ProtocolLido: {{
				Protocol: types.ProtocolLido, Chain: types.ChainEthereum,
				PoolAddress: stethAddr, Kind: types.PositionKindStake,
				Token0: stethAddr, RawAmount0: "1000000000000000000",
			}},
		},
	}
	a := NewLidoAdapter(testDeps(t, reader, fakeFeed{}), testRegistries())
	ctx := context.Background()

	_, err := a.Positions(ctx, types.ChainEthereum, "0xowner")
	require.NoError(t, err)
	_, err = a.Positions(ctx, types.ChainEthereum, "0xowner")
	require.NoError(t, err)

	assert.Equal(t, 1, reader.enumerateCalls, "second call must be a cache hit")
}

func TestUnreadableTokenMetadataFallsBack(t *testing.T) {
	reader := &fakeReader{
		raws: map[types.ProtocolID][]chain.RawPosition{
			types.ProtocolLido: {{
				Protocol: types.ProtocolLido, Chain: types.ChainEthereum,
				PoolAddress: stethAddr, Kind: types.PositionKindStake,
				Token0: stethAddr, RawAmount0: "2000000000000000000",
			}},
		},
	}
	a := NewLidoAdapter(testDeps(t, reader, fakeFeed{}), testRegistries())

	positions, err := a.Positions(context.Background(), types.ChainEthereum, "0xowner")
	require.NoError(t, err)
	require.Len(t, positions, 1)

	// Symbol degrades to the shortened address, decimals to 18.
	assert.Equal(t, "0xae7a...fE84", positions[0].Token0.Symbol)
	assert.Equal(t, 18, positions[0].Token0.Decimals)
	assert.InDelta(t, 2.0, positions[0].Token0.Amount, 1e-9)
}

func TestUnsupportedChainRejected(t *testing.T) {
	a := NewLidoAdapter(testDeps(t, &fakeReader{}, fakeFeed{}), testRegistries())

	_, err := a.Positions(context.Background(), types.ChainArbitrum, "0xowner")
	require.Error(t, err)

	var adapterErr *Error
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, types.ProtocolLido, adapterErr.Protocol)
	assert.Equal(t, types.ChainArbitrum, adapterErr.Chain)
}

func TestAaveBorrowAndSupplyIDsDistinct(t *testing.T) {
	market := "0xaToken"
	reader := &fakeReader{
		metadata: map[string]*chain.TokenMetadata{
			usdcAddr: {Address: usdcAddr, Symbol: "USDC", Decimals: 6},
		},
		raws: map[types.ProtocolID][]chain.RawPosition{
			types.ProtocolAaveV3: {
				{
					Protocol: types.ProtocolAaveV3, Chain: types.ChainEthereum,
					PoolAddress: market, Kind: types.PositionKindSupply,
					Token0: usdcAddr, RawAmount0: "1000000000", // 1000 USDC
				},
				{
					Protocol: types.ProtocolAaveV3, Chain: types.ChainEthereum,
					PoolAddress: market, Kind: types.PositionKindBorrow,
					Token0: usdcAddr, RawAmount0: "400000000",
				},
			},
		},
	}
	a := NewAaveV3Adapter(testDeps(t, reader, fakeFeed{usdcAddr: 1}), testRegistries())

	positions, err := a.Positions(context.Background(), types.ChainEthereum, "0xowner")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.NotEqual(t, positions[0].ID, positions[1].ID,
		"supply and borrow against one reserve must not collide")
	assert.InDelta(t, 1000, positions[0].Token0.Amount, 1e-9)
	assert.InDelta(t, 400, positions[1].Token0.Amount, 1e-9)
}

func TestUniswapNormalizeDerivesAmountsInRange(t *testing.T) {
	pool := "0xpool"
	lower, upper := -1000, 1000
	reader := &fakeReader{
		metadata: map[string]*chain.TokenMetadata{
			wethAddr: {Address: wethAddr, Symbol: "WETH", Decimals: 18},
			usdcAddr: {Address: usdcAddr, Symbol: "USDC", Decimals: 6},
		},
		states: map[string]*types.PoolState{
			pool: {PoolAddress: pool, Price: 1.0, Liquidity: 1e9},
		},
		raws: map[types.ProtocolID][]chain.RawPosition{
			types.ProtocolUniswapV3: {{
				Protocol: types.ProtocolUniswapV3, Chain: types.ChainEthereum,
				PoolAddress: pool, Kind: types.PositionKindLiquidity,
				Token0: wethAddr, Token1: usdcAddr,
				Liquidity: 1e18, FeeTierBps: 30,
				TickLower: &lower, TickUpper: &upper,
			}},
		},
	}
	a := NewUniswapV3Adapter(testDeps(t, reader, fakeFeed{wethAddr: 2000, usdcAddr: 1}), testRegistries())

	positions, err := a.Positions(context.Background(), types.ChainEthereum, "0xowner")
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	require.NotNil(t, p.Token1)
	want0, want1 := amountsFromLiquidity(1e18, 1.0, sqrtRatioAtTick(lower), sqrtRatioAtTick(upper))
	assert.InDelta(t, want0/math.Pow10(18), p.Token0.Amount, 1e-12)
	assert.InDelta(t, want1/math.Pow10(6), p.Token1.Amount, 1e-6)
	assert.Equal(t, 30, p.FeeTierBps)
}

func TestAmountsFromLiquidityRangePositions(t *testing.T) {
	sqrtLower := sqrtRatioAtTick(-1000)
	sqrtUpper := sqrtRatioAtTick(1000)

	// Below range: all token0.
	a0, a1 := amountsFromLiquidity(100, sqrtLower/2, sqrtLower, sqrtUpper)
	assert.Greater(t, a0, 0.0)
	assert.Zero(t, a1)

	// Above range: all token1.
	a0, a1 = amountsFromLiquidity(100, sqrtUpper*2, sqrtLower, sqrtUpper)
	assert.Zero(t, a0)
	assert.Greater(t, a1, 0.0)

	// In range: both sides.
	a0, a1 = amountsFromLiquidity(100, 1.0, sqrtLower, sqrtUpper)
	assert.Greater(t, a0, 0.0)
	assert.Greater(t, a1, 0.0)
}

func TestSupportsContractRouting(t *testing.T) {
	reader := &fakeReader{
		states: map[string]*types.PoolState{
			"0xlivepool": {PoolAddress: "0xlivepool", CurrentTick: new(int)},
		},
	}
	deps := testDeps(t, reader, fakeFeed{})
	registries := testRegistries()
	ctx := context.Background()

	uni := NewUniswapV3Adapter(deps, registries)
	ok, err := uni.SupportsContract(ctx, types.ChainEthereum, "0xc36442b4a4522e871399cd717abdd847ab11fe88")
	require.NoError(t, err)
	assert.True(t, ok, "NFT manager matches case-insensitively")

	ok, err = uni.SupportsContract(ctx, types.ChainEthereum, "0xlivepool")
	require.NoError(t, err)
	assert.True(t, ok, "a contract answering slot0 with a tick is a V3 pool")

	ok, err = uni.SupportsContract(ctx, types.ChainEthereum, "0xdead")
	require.NoError(t, err)
	assert.False(t, ok)

	aave := NewAaveV3Adapter(deps, registries)
	ok, err = aave.SupportsContract(ctx, types.ChainEthereum, chain.EthereumMainnetRegistry.AavePool)
	require.NoError(t, err)
	assert.True(t, ok)

	curve := NewCurveAdapter(deps, registries)
	ok, err = curve.SupportsContract(ctx, types.ChainEthereum, chain.EthereumMainnetRegistry.CurvePools[0].LPToken)
	require.NoError(t, err)
	assert.True(t, ok)

	lido := NewLidoAdapter(deps, registries)
	ok, err = lido.SupportsContract(ctx, types.ChainPolygon, stethAddr)
	require.NoError(t, err)
	assert.False(t, ok, "unregistered chain supports nothing")
}

func TestCurvePositionsCarryShares(t *testing.T) {
	lp := chain.EthereumMainnetRegistry.CurvePools[0].LPToken
	reader := &fakeReader{
		metadata: map[string]*chain.TokenMetadata{
			lp: {Address: lp, Symbol: "3Crv", Decimals: 18},
		},
		raws: map[types.ProtocolID][]chain.RawPosition{
			types.ProtocolCurve: {{
				Protocol: types.ProtocolCurve, Chain: types.ChainEthereum,
				PoolAddress: chain.EthereumMainnetRegistry.CurvePools[0].Pool,
				Kind:        types.PositionKindLiquidity,
				Token0:      lp, RawAmount0: "3000000000000000000",
				Shares: 3.06,
			}},
		},
	}
	a := NewCurveAdapter(testDeps(t, reader, fakeFeed{}), testRegistries())

	positions, err := a.Positions(context.Background(), types.ChainEthereum, "0xowner")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 3.06, positions[0].Shares, 1e-9)
	assert.Equal(t, types.PositionKindLiquidity, positions[0].Kind)
}

func TestRegistryRejectsDuplicateProtocol(t *testing.T) {
	deps := testDeps(t, &fakeReader{}, fakeFeed{})
	registry := NewRegistry()

	require.NoError(t, registry.Register(NewLidoAdapter(deps, testRegistries())))
	err := registry.Register(NewLidoAdapter(deps, testRegistries()))
	require.Error(t, err)
}
