package adapter

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/defi-risk-monitor/internal/cache"
	"github.com/defi-risk-monitor/internal/chain"
	apperrors "github.com/defi-risk-monitor/internal/errors"
	"github.com/defi-risk-monitor/internal/logging"
	"github.com/defi-risk-monitor/internal/types"
)

// fallbackDecimals is assumed when token metadata cannot be read
const fallbackDecimals = 18

// Deps bundles the collaborators every adapter needs
type Deps struct {
	Reader chain.Reader
	Loader *cache.Loader
	Cache  *cache.Service
	Feed   chain.PriceFeed
}

// base carries the collaborators every adapter shares
type base struct {
	protocol types.ProtocolID
	chains   []types.ChainID
	reader   chain.Reader
	loader   *cache.Loader
	cacheSvc *cache.Service
	feed     chain.PriceFeed
	logger   *logging.Logger
}

func newBase(protocol types.ProtocolID, chains []types.ChainID, deps Deps) base {
	return base{
		protocol: protocol,
		chains:   chains,
		reader:   deps.Reader,
		loader:   deps.Loader,
		cacheSvc: deps.Cache,
		feed:     deps.Feed,
		logger:   logging.GetGlobalLogger().WithComponent(string(protocol) + "_adapter"),
	}
}

func (b *base) Protocol() types.ProtocolID { return b.protocol }

func (b *base) SupportedChains() []types.ChainID {
	out := make([]types.ChainID, len(b.chains))
	copy(out, b.chains)
	return out
}

func (b *base) supportsChain(c types.ChainID) bool {
	for _, sc := range b.chains {
		if sc == c {
			return true
		}
	}
	return b.reader.SupportsChain(c)
}

// cachedPositions serves the adapter's position list through the loader so
// concurrent requests for the same owner share one on-chain fetch
func (b *base) cachedPositions(ctx context.Context, c types.ChainID, owner string, fetch func(ctx context.Context) ([]types.Position, error)) ([]types.Position, error) {
	key := b.cacheSvc.PositionsKey(b.protocol, c, owner)
	var positions []types.Position
	err := b.loader.GetOrFetch(ctx, cache.KeyPositions, key, &positions, func(ctx context.Context) (interface{}, error) {
		return fetch(ctx)
	})
	if err != nil {
		return nil, wrapErr(b.protocol, c, "positions", err)
	}
	return positions, nil
}

// tokenMetadata reads token metadata through the long-TTL cache. Unreadable
// tokens degrade to a shortened-address symbol and 18 decimals rather than
// failing the whole position.
func (b *base) tokenMetadata(ctx context.Context, c types.ChainID, token string) *chain.TokenMetadata {
	key := b.cacheSvc.Key(cache.KeyMetadata, "token", string(c), token)
	var meta chain.TokenMetadata
	err := b.loader.GetOrFetch(ctx, cache.KeyMetadata, key, &meta, func(ctx context.Context) (interface{}, error) {
		return b.reader.TokenMetadata(ctx, c, token)
	})
	if err != nil {
		b.logger.WithError(err).WithFields(map[string]interface{}{
			"chain": c, "token": token,
		}).Warn("token metadata unavailable, using fallback")
		return &chain.TokenMetadata{
			Address:  token,
			Symbol:   shortAddress(token),
			Decimals: fallbackDecimals,
		}
	}
	return &meta
}

// tokenAmount builds a priced TokenAmount from a raw integer amount string
func (b *base) tokenAmount(ctx context.Context, c types.ChainID, token, rawAmount string) types.TokenAmount {
	meta := b.tokenMetadata(ctx, c, token)

	ta := types.TokenAmount{
		Address:   token,
		Symbol:    meta.Symbol,
		Decimals:  meta.Decimals,
		RawAmount: rawAmount,
	}

	if raw, ok := new(big.Int).SetString(rawAmount, 10); ok {
		f, _ := new(big.Float).SetInt(raw).Float64()
		ta.Amount = f / math.Pow10(meta.Decimals)
	}

	if b.feed != nil {
		if price, err := b.feed.TokenPriceUSD(ctx, c, token); err == nil {
			ta.PriceUSD = price
			ta.ValueUSD = ta.Amount * price
		}
	}

	return ta
}

// priceOf resolves a token's USD price, 0 when no feed answer is available
func (b *base) priceOf(ctx context.Context, c types.ChainID, token string) float64 {
	if b.feed == nil {
		return 0
	}
	price, err := b.feed.TokenPriceUSD(ctx, c, token)
	if err != nil {
		return 0
	}
	return price
}

// shortAddress renders 0x1234...abcd for display fallbacks
func shortAddress(addr string) string {
	if len(addr) < 10 {
		return addr
	}
	return fmt.Sprintf("%s...%s", addr[:6], addr[len(addr)-4:])
}

// equalAddress compares hex addresses case-insensitively
func equalAddress(a, b string) bool {
	return b != "" && strings.EqualFold(a, b)
}

func errUnsupportedChain(c types.ChainID) error {
	return apperrors.NewUnsupportedChain(c)
}

func stampPosition(p *types.Position) {
	p.ID = types.PositionID(p.Protocol, p.Chain, p.PoolAddress, p.Owner)
	p.FetchedAt = time.Now().UTC()
}
