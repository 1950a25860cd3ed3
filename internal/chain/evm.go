package chain

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	apperrors "github.com/defi-risk-monitor/internal/errors"
	"github.com/defi-risk-monitor/internal/logging"
	"github.com/defi-risk-monitor/internal/ratelimit"
	"github.com/defi-risk-monitor/internal/types"
)

// Function selectors (first 4 bytes of keccak256 of the signature)
var (
	selSymbol         = common.Hex2Bytes("95d89b41") // symbol()
	selName           = common.Hex2Bytes("06fdde03") // name()
	selDecimals       = common.Hex2Bytes("313ce567") // decimals()
	selBalanceOf      = common.Hex2Bytes("70a08231") // balanceOf(address)
	selTotalSupply    = common.Hex2Bytes("18160ddd") // totalSupply()
	selToken0         = common.Hex2Bytes("0dfe1681") // token0()
	selToken1         = common.Hex2Bytes("d21220a7") // token1()
	selSlot0          = common.Hex2Bytes("3850c7bd") // slot0()
	selLiquidity      = common.Hex2Bytes("1a686502") // liquidity()
	selFee            = common.Hex2Bytes("ddca3f43") // fee()
	selGetPool        = common.Hex2Bytes("1698ee82") // getPool(address,address,uint24)
	selTokenOfOwner   = common.Hex2Bytes("2f745c59") // tokenOfOwnerByIndex(address,uint256)
	selPositions      = common.Hex2Bytes("99fbab88") // positions(uint256)
	selReservesList   = common.Hex2Bytes("d1946dbc") // getReservesList()
	selReserveData    = common.Hex2Bytes("35ea6a75") // getReserveData(address)
	selUnderlying     = common.Hex2Bytes("b16a19de") // UNDERLYING_ASSET_ADDRESS()
	selVirtualPrice   = common.Hex2Bytes("bb7b8b80") // get_virtual_price()
)

const rayFactor = 1e27 // Aave rates are expressed in ray

// CurvePoolConfig pairs a Curve pool with its LP token
type CurvePoolConfig struct {
	Pool    string
	LPToken string
}

// ProtocolRegistry holds the protocol entry-point contracts for one chain
type ProtocolRegistry struct {
	UniswapNFTManager string
	UniswapFactory    string
	AavePool          string
	CurvePools        []CurvePoolConfig
	LidoStETH         string
}

// EthereumMainnetRegistry is the default registry for Ethereum mainnet
var EthereumMainnetRegistry = ProtocolRegistry{
	UniswapNFTManager: "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
	UniswapFactory:    "0x1F98431c8aD98523631AE4a59f267346ea31F984",
	AavePool:          "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2",
	CurvePools: []CurvePoolConfig{
		{Pool: "0xbEbc44782C7dB0a1A60Cb6fe97d0b483032FF1C7", LPToken: "0x6c3F90f043a72FA612cbac8115EE7e52BDe6E490"},
		{Pool: "0xDC24316b9AE028F1497c275EB9192a3Ea0f67022", LPToken: "0x06325440D014e39736583c165C2963BA99fAf14E"},
	},
	LidoStETH: "0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84",
}

// ChainEndpoint is one chain's RPC configuration. RPCSecondaryURL, when set,
// is dialed if the primary endpoint cannot be.
type ChainEndpoint struct {
	RPCURL          string
	RPCSecondaryURL string
	CallTimeout     time.Duration
	RPS             int
}

// EVMReaderConfig configures the EVM reader
type EVMReaderConfig struct {
	Chains     map[types.ChainID]ChainEndpoint
	Registries map[types.ChainID]ProtocolRegistry
	PriceFeed  PriceFeed
}

// lendingMarket maps an aToken market id back to its pool and underlying asset
type lendingMarket struct {
	aavePool  string
	asset     string
	debtToken string
}

// EVMReader implements Reader over go-ethereum RPC clients, one per chain.
// Every call is rate limited and bounded by the chain's call timeout.
type EVMReader struct {
	clients    map[types.ChainID]*ethclient.Client
	timeouts   map[types.ChainID]time.Duration
	registries map[types.ChainID]ProtocolRegistry
	limiter    *ratelimit.ChainLimiter
	priceFeed  PriceFeed

	// learnedMarkets lets PoolState resolve aToken market ids discovered
	// during position enumeration.
	marketsMu      sync.RWMutex
	learnedMarkets map[string]lendingMarket
}

// NewEVMReader dials every configured chain and fails if none can be reached
func NewEVMReader(cfg *EVMReaderConfig) (*EVMReader, error) {
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("at least one chain endpoint is required")
	}

	limiter := ratelimit.NewChainLimiter(20)
	clients := make(map[types.ChainID]*ethclient.Client)
	timeouts := make(map[types.ChainID]time.Duration)

	for chainID, ep := range cfg.Chains {
		client, err := ethclient.Dial(ep.RPCURL)
		if err != nil && ep.RPCSecondaryURL != "" {
			logging.GetGlobalLogger().WithError(err).WithField("chain", chainID).
				Warn("primary RPC endpoint failed, dialing secondary")
			client, err = ethclient.Dial(ep.RPCSecondaryURL)
		}
		if err != nil {
			logging.GetGlobalLogger().WithError(err).WithField("chain", chainID).
				Warn("failed to dial RPC endpoint, chain disabled")
			continue
		}
		clients[chainID] = client
		timeout := ep.CallTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		timeouts[chainID] = timeout
		limiter.Register(chainID, ep.RPS)
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no chain endpoint could be reached")
	}

	return &EVMReader{
		clients:        clients,
		timeouts:       timeouts,
		registries:     cfg.Registries,
		limiter:        limiter,
		priceFeed:      cfg.PriceFeed,
		learnedMarkets: make(map[string]lendingMarket),
	}, nil
}

// SupportsChain reports whether a client is connected for the chain
func (r *EVMReader) SupportsChain(chain types.ChainID) bool {
	_, ok := r.clients[chain]
	return ok
}

// call performs one bounded, rate-limited eth_call
func (r *EVMReader) call(ctx context.Context, chain types.ChainID, to string, data []byte) ([]byte, error) {
	client, ok := r.clients[chain]
	if !ok {
		return nil, apperrors.NewUnsupportedChain(chain)
	}

	if err := r.limiter.Wait(ctx, chain); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeouts[chain])
	defer cancel()

	addr := common.HexToAddress(to)
	out, err := client.CallContract(callCtx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewTimeout(fmt.Sprintf("eth_call %s on %s", to, chain))
		}
		return nil, apperrors.NewContractError(fmt.Sprintf("eth_call %s on %s", to, chain), err)
	}
	return out, nil
}

// encodeCall packs a selector with 32-byte-padded arguments
func encodeCall(selector []byte, args ...[]byte) []byte {
	data := make([]byte, 0, 4+32*len(args))
	data = append(data, selector...)
	for _, arg := range args {
		data = append(data, common.LeftPadBytes(arg, 32)...)
	}
	return data
}

// word extracts the i-th 32-byte word of an ABI-encoded result
func word(out []byte, i int) ([]byte, error) {
	if len(out) < (i+1)*32 {
		return nil, apperrors.NewInvalidData(fmt.Sprintf("result too short for word %d", i), nil)
	}
	return out[i*32 : (i+1)*32], nil
}

// decodeUint decodes the i-th word as an unsigned big integer
func decodeUint(out []byte, i int) (*big.Int, error) {
	w, err := word(out, i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

// decodeInt decodes the i-th word as a two's-complement signed integer
func decodeInt(out []byte, i int) (*big.Int, error) {
	w, err := word(out, i)
	if err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(w)
	if w[0]&0x80 != 0 {
		max := new(big.Int).Lsh(big.NewInt(1), 256)
		v.Sub(v, max)
	}
	return v, nil
}

// decodeAddress decodes the i-th word as an address
func decodeAddress(out []byte, i int) (string, error) {
	w, err := word(out, i)
	if err != nil {
		return "", err
	}
	return common.BytesToAddress(w).Hex(), nil
}

// decodeString decodes a dynamic ABI string return value
func decodeString(out []byte) (string, error) {
	if len(out) < 64 {
		// Some older tokens return bytes32 symbols instead of strings.
		if len(out) == 32 {
			return strings.TrimRight(string(out), "\x00"), nil
		}
		return "", apperrors.NewInvalidData("string result too short", nil)
	}
	offset, err := decodeUint(out, 0)
	if err != nil {
		return "", err
	}
	start := int(offset.Int64())
	if start+32 > len(out) {
		return "", apperrors.NewInvalidData("string offset out of range", nil)
	}
	length := new(big.Int).SetBytes(out[start : start+32]).Int64()
	if start+32+int(length) > len(out) {
		return "", apperrors.NewInvalidData("string length out of range", nil)
	}
	return string(out[start+32 : start+32+int(length)]), nil
}

// TokenMetadata reads symbol, name and decimals for a token contract
func (r *EVMReader) TokenMetadata(ctx context.Context, chain types.ChainID, token string) (*TokenMetadata, error) {
	meta := &TokenMetadata{Address: token}

	out, err := r.call(ctx, chain, token, selSymbol)
	if err != nil {
		return nil, err
	}
	if meta.Symbol, err = decodeString(out); err != nil {
		return nil, err
	}

	if out, err = r.call(ctx, chain, token, selName); err == nil {
		meta.Name, _ = decodeString(out)
	}

	out, err = r.call(ctx, chain, token, selDecimals)
	if err != nil {
		return nil, err
	}
	dec, err := decodeUint(out, 0)
	if err != nil {
		return nil, err
	}
	meta.Decimals = int(dec.Int64())
	return meta, nil
}

// TokenBalance reads the raw ERC-20 balance of owner
func (r *EVMReader) TokenBalance(ctx context.Context, chain types.ChainID, token, owner string) (*big.Int, error) {
	out, err := r.call(ctx, chain, token, encodeCall(selBalanceOf, common.HexToAddress(owner).Bytes()))
	if err != nil {
		return nil, err
	}
	return decodeUint(out, 0)
}

// tokenPrice resolves a USD price via the injected feed, 0 when unavailable
func (r *EVMReader) tokenPrice(ctx context.Context, chain types.ChainID, token string) float64 {
	if r.priceFeed == nil {
		return 0
	}
	price, err := r.priceFeed.TokenPriceUSD(ctx, chain, token)
	if err != nil {
		logging.FromContext(ctx).WithError(err).
			WithFields(map[string]interface{}{"chain": chain, "token": token}).
			Debug("price feed lookup failed")
		return 0
	}
	return price
}

// PoolState reads a snapshot of a pool or market. AMM pools are decoded from
// token0/token1 + liquidity; market ids learned during position enumeration
// resolve through the lending path instead.
func (r *EVMReader) PoolState(ctx context.Context, chain types.ChainID, pool string) (*types.PoolState, error) {
	r.marketsMu.RLock()
	market, isLending := r.learnedMarkets[strings.ToLower(pool)]
	r.marketsMu.RUnlock()
	if isLending {
		return r.lendingMarketState(ctx, chain, pool, market)
	}
	return r.ammPoolState(ctx, chain, pool)
}

// ammPoolState decodes a Uniswap-style pool
func (r *EVMReader) ammPoolState(ctx context.Context, chain types.ChainID, pool string) (*types.PoolState, error) {
	out, err := r.call(ctx, chain, pool, selToken0)
	if err != nil {
		return nil, err
	}
	token0, err := decodeAddress(out, 0)
	if err != nil {
		return nil, err
	}
	out, err = r.call(ctx, chain, pool, selToken1)
	if err != nil {
		return nil, err
	}
	token1, err := decodeAddress(out, 0)
	if err != nil {
		return nil, err
	}

	state := &types.PoolState{
		PoolAddress: pool,
		Chain:       chain,
		Timestamp:   time.Now().UTC(),
	}

	// slot0 gives sqrtPriceX96 and the current tick on V3 pools; non-V3 pools
	// simply skip these fields.
	if out, err = r.call(ctx, chain, pool, selSlot0); err == nil {
		if sqrtPrice, derr := decodeUint(out, 0); derr == nil {
			ratio := new(big.Float).SetInt(sqrtPrice)
			ratio.Quo(ratio, new(big.Float).SetFloat64(math.Pow(2, 96)))
			f, _ := ratio.Float64()
			state.Price = f * f
		}
		if tick, derr := decodeInt(out, 1); derr == nil {
			t := int(tick.Int64())
			state.CurrentTick = &t
		}
	}

	if out, err = r.call(ctx, chain, pool, selLiquidity); err == nil {
		if liq, derr := decodeUint(out, 0); derr == nil {
			f, _ := new(big.Float).SetInt(liq).Float64()
			state.Liquidity = f
		}
	}

	state.Token0PriceUSD = r.tokenPrice(ctx, chain, token0)
	state.Token1PriceUSD = r.tokenPrice(ctx, chain, token1)

	// TVL from pool-held balances of both tokens.
	for _, tk := range []struct {
		addr  string
		price float64
	}{{token0, state.Token0PriceUSD}, {token1, state.Token1PriceUSD}} {
		bal, berr := r.TokenBalance(ctx, chain, tk.addr, pool)
		if berr != nil {
			continue
		}
		meta, merr := r.TokenMetadata(ctx, chain, tk.addr)
		decimals := 18
		if merr == nil {
			decimals = meta.Decimals
		}
		f, _ := new(big.Float).SetInt(bal).Float64()
		state.TVLUSD += f / math.Pow10(decimals) * tk.price
	}

	return state, nil
}

// lendingMarketState decodes rates and utilization for an aToken market
func (r *EVMReader) lendingMarketState(ctx context.Context, chain types.ChainID, aToken string, market lendingMarket) (*types.PoolState, error) {
	state := &types.PoolState{
		PoolAddress: aToken,
		Chain:       chain,
		Timestamp:   time.Now().UTC(),
	}

	out, err := r.call(ctx, chain, market.aavePool, encodeCall(selReserveData, common.HexToAddress(market.asset).Bytes()))
	if err != nil {
		return nil, err
	}
	// ReserveData words: 0 configuration, 1 liquidityIndex, 2 currentLiquidityRate,
	// 3 variableBorrowIndex, 4 currentVariableBorrowRate.
	if rate, derr := decodeUint(out, 2); derr == nil {
		f, _ := new(big.Float).SetInt(rate).Float64()
		state.SupplyRateAPR = f / rayFactor
	}
	if rate, derr := decodeUint(out, 4); derr == nil {
		f, _ := new(big.Float).SetInt(rate).Float64()
		state.BorrowRateAPR = f / rayFactor
	}

	price := r.tokenPrice(ctx, chain, market.asset)
	state.Token0PriceUSD = price

	meta, merr := r.TokenMetadata(ctx, chain, market.asset)
	decimals := 18
	if merr == nil {
		decimals = meta.Decimals
	}

	supplyOut, serr := r.call(ctx, chain, aToken, selTotalSupply)
	if serr == nil {
		if supply, derr := decodeUint(supplyOut, 0); derr == nil {
			f, _ := new(big.Float).SetInt(supply).Float64()
			total := f / math.Pow10(decimals)
			state.TVLUSD = total * price
			state.Liquidity = total

			if market.debtToken != "" {
				if debtOut, derr2 := r.call(ctx, chain, market.debtToken, selTotalSupply); derr2 == nil {
					if debt, derr3 := decodeUint(debtOut, 0); derr3 == nil && total > 0 {
						df, _ := new(big.Float).SetInt(debt).Float64()
						state.Utilization = (df / math.Pow10(decimals)) / total
					}
				}
			}
		}
	}

	return state, nil
}

// EnumeratePositions lists an owner's raw positions for one protocol
func (r *EVMReader) EnumeratePositions(ctx context.Context, chain types.ChainID, protocol types.ProtocolID, owner string) ([]RawPosition, error) {
	registry, ok := r.registries[chain]
	if !ok {
		return nil, apperrors.NewUnsupportedChain(chain)
	}

	switch protocol {
	case types.ProtocolUniswapV3:
		return r.uniswapPositions(ctx, chain, registry, owner)
	case types.ProtocolAaveV3:
		return r.aavePositions(ctx, chain, registry, owner)
	case types.ProtocolCurve:
		return r.curvePositions(ctx, chain, registry, owner)
	case types.ProtocolLido:
		return r.lidoPositions(ctx, chain, registry, owner)
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown protocol %q", protocol))
	}
}

// uniswapPositions enumerates position NFTs and resolves each to its pool
func (r *EVMReader) uniswapPositions(ctx context.Context, chain types.ChainID, registry ProtocolRegistry, owner string) ([]RawPosition, error) {
	if registry.UniswapNFTManager == "" {
		return nil, nil
	}

	countOut, err := r.call(ctx, chain, registry.UniswapNFTManager,
		encodeCall(selBalanceOf, common.HexToAddress(owner).Bytes()))
	if err != nil {
		return nil, err
	}
	count, err := decodeUint(countOut, 0)
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	positions := make([]RawPosition, 0, count.Int64())

	for i := int64(0); i < count.Int64(); i++ {
		idOut, err := r.call(ctx, chain, registry.UniswapNFTManager,
			encodeCall(selTokenOfOwner, common.HexToAddress(owner).Bytes(), big.NewInt(i).Bytes()))
		if err != nil {
			log.WithError(err).WithField("index", i).Warn("skipping unreadable position NFT")
			continue
		}
		tokenID, err := decodeUint(idOut, 0)
		if err != nil {
			continue
		}

		posOut, err := r.call(ctx, chain, registry.UniswapNFTManager,
			encodeCall(selPositions, tokenID.Bytes()))
		if err != nil {
			log.WithError(err).WithField("tokenId", tokenID.String()).Warn("skipping unreadable position")
			continue
		}

		// positions(tokenId) words: 0 nonce, 1 operator, 2 token0, 3 token1,
		// 4 fee, 5 tickLower, 6 tickUpper, 7 liquidity, ...
		token0, err0 := decodeAddress(posOut, 2)
		token1, err1 := decodeAddress(posOut, 3)
		fee, err2 := decodeUint(posOut, 4)
		if err0 != nil || err1 != nil || err2 != nil {
			continue
		}
		liquidity, err := decodeUint(posOut, 7)
		if err != nil || liquidity.Sign() == 0 {
			continue // closed position
		}

		raw := RawPosition{
			Protocol:   types.ProtocolUniswapV3,
			Chain:      chain,
			Kind:       types.PositionKindLiquidity,
			Token0:     token0,
			Token1:     token1,
			FeeTierBps: int(fee.Int64() / 100),
		}
		liqF, _ := new(big.Float).SetInt(liquidity).Float64()
		raw.Liquidity = liqF

		if tickLower, derr := decodeInt(posOut, 5); derr == nil {
			t := int(tickLower.Int64())
			raw.TickLower = &t
		}
		if tickUpper, derr := decodeInt(posOut, 6); derr == nil {
			t := int(tickUpper.Int64())
			raw.TickUpper = &t
		}

		// Resolve the pool address through the factory.
		if registry.UniswapFactory != "" {
			poolOut, perr := r.call(ctx, chain, registry.UniswapFactory,
				encodeCall(selGetPool,
					common.HexToAddress(token0).Bytes(),
					common.HexToAddress(token1).Bytes(),
					fee.Bytes()))
			if perr == nil {
				if pool, derr := decodeAddress(poolOut, 0); derr == nil {
					raw.PoolAddress = pool
				}
			}
		}

		positions = append(positions, raw)
	}

	return positions, nil
}

// aavePositions walks the reserve list and reports non-zero supply and borrow
// balances per reserve
func (r *EVMReader) aavePositions(ctx context.Context, chain types.ChainID, registry ProtocolRegistry, owner string) ([]RawPosition, error) {
	if registry.AavePool == "" {
		return nil, nil
	}

	listOut, err := r.call(ctx, chain, registry.AavePool, selReservesList)
	if err != nil {
		return nil, err
	}
	length, err := decodeUint(listOut, 1)
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	ownerBytes := common.HexToAddress(owner).Bytes()
	var positions []RawPosition

	for i := int64(0); i < length.Int64(); i++ {
		asset, derr := decodeAddress(listOut, int(2+i))
		if derr != nil {
			break
		}

		dataOut, cerr := r.call(ctx, chain, registry.AavePool,
			encodeCall(selReserveData, common.HexToAddress(asset).Bytes()))
		if cerr != nil {
			log.WithError(cerr).WithField("asset", asset).Warn("skipping unreadable reserve")
			continue
		}
		// ReserveData words: 8 aTokenAddress, 9 stableDebtTokenAddress,
		// 10 variableDebtTokenAddress.
		aToken, aerr := decodeAddress(dataOut, 8)
		debtToken, _ := decodeAddress(dataOut, 10)
		if aerr != nil {
			continue
		}

		supplyRate := 0.0
		borrowRate := 0.0
		if rate, derr2 := decodeUint(dataOut, 2); derr2 == nil {
			f, _ := new(big.Float).SetInt(rate).Float64()
			supplyRate = f / rayFactor
		}
		if rate, derr2 := decodeUint(dataOut, 4); derr2 == nil {
			f, _ := new(big.Float).SetInt(rate).Float64()
			borrowRate = f / rayFactor
		}

		r.rememberMarket(aToken, lendingMarket{aavePool: registry.AavePool, asset: asset, debtToken: debtToken})

		if bal, berr := r.call(ctx, chain, aToken, encodeCall(selBalanceOf, ownerBytes)); berr == nil {
			if amount, derr2 := decodeUint(bal, 0); derr2 == nil && amount.Sign() > 0 {
				positions = append(positions, RawPosition{
					Protocol:      types.ProtocolAaveV3,
					Chain:         chain,
					PoolAddress:   aToken,
					Kind:          types.PositionKindSupply,
					Token0:        asset,
					RawAmount0:    amount.String(),
					SupplyRateAPR: supplyRate,
				})
			}
		}

		if debtToken == "" {
			continue
		}
		if bal, berr := r.call(ctx, chain, debtToken, encodeCall(selBalanceOf, ownerBytes)); berr == nil {
			if amount, derr2 := decodeUint(bal, 0); derr2 == nil && amount.Sign() > 0 {
				positions = append(positions, RawPosition{
					Protocol:      types.ProtocolAaveV3,
					Chain:         chain,
					PoolAddress:   aToken,
					Kind:          types.PositionKindBorrow,
					Token0:        asset,
					RawAmount0:    amount.String(),
					BorrowRateAPR: borrowRate,
				})
			}
		}
	}

	return positions, nil
}

// curvePositions reports LP token balances for the registered Curve pools
func (r *EVMReader) curvePositions(ctx context.Context, chain types.ChainID, registry ProtocolRegistry, owner string) ([]RawPosition, error) {
	ownerBytes := common.HexToAddress(owner).Bytes()
	var positions []RawPosition

	for _, pool := range registry.CurvePools {
		bal, err := r.call(ctx, chain, pool.LPToken, encodeCall(selBalanceOf, ownerBytes))
		if err != nil {
			logging.FromContext(ctx).WithError(err).WithField("pool", pool.Pool).
				Warn("skipping unreadable curve pool")
			continue
		}
		amount, err := decodeUint(bal, 0)
		if err != nil || amount.Sign() == 0 {
			continue
		}

		raw := RawPosition{
			Protocol:    types.ProtocolCurve,
			Chain:       chain,
			PoolAddress: pool.Pool,
			Kind:        types.PositionKindLiquidity,
			Token0:      pool.LPToken,
			RawAmount0:  amount.String(),
		}

		// Virtual price converts LP shares into underlying value.
		if vpOut, verr := r.call(ctx, chain, pool.Pool, selVirtualPrice); verr == nil {
			if vp, derr := decodeUint(vpOut, 0); derr == nil {
				f, _ := new(big.Float).SetInt(vp).Float64()
				shares, _ := new(big.Float).SetInt(amount).Float64()
				raw.Shares = shares / 1e18 * (f / 1e18)
			}
		}

		positions = append(positions, raw)
	}

	return positions, nil
}

// lidoPositions reports the owner's stETH balance as a staking position
func (r *EVMReader) lidoPositions(ctx context.Context, chain types.ChainID, registry ProtocolRegistry, owner string) ([]RawPosition, error) {
	if registry.LidoStETH == "" {
		return nil, nil
	}

	bal, err := r.call(ctx, chain, registry.LidoStETH,
		encodeCall(selBalanceOf, common.HexToAddress(owner).Bytes()))
	if err != nil {
		return nil, err
	}
	amount, err := decodeUint(bal, 0)
	if err != nil || amount.Sign() == 0 {
		return nil, err
	}

	return []RawPosition{{
		Protocol:    types.ProtocolLido,
		Chain:       chain,
		PoolAddress: registry.LidoStETH,
		Kind:        types.PositionKindStake,
		Token0:      registry.LidoStETH,
		RawAmount0:  amount.String(),
	}}, nil
}

func (r *EVMReader) rememberMarket(aToken string, market lendingMarket) {
	r.marketsMu.Lock()
	r.learnedMarkets[strings.ToLower(aToken)] = market
	r.marketsMu.Unlock()
}

// Close closes every RPC client
func (r *EVMReader) Close() {
	for _, client := range r.clients {
		client.Close()
	}
}
