package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defi-risk-monitor/internal/types"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewService(NewRedisCacheFromClient(client), 5*time.Minute, 30*time.Minute, 30*time.Second)
	return svc, mr
}

func TestKeyNormalization(t *testing.T) {
	svc, _ := newTestService(t)

	key := svc.PositionsKey(types.ProtocolUniswapV3, types.ChainEthereum, "0xABCDEF")
	assert.Equal(t, "positions:uniswap_v3:ethereum:0xabcdef", key)

	assert.Equal(t, "metadata:curve:ethereum:_", svc.MetadataKey(types.ProtocolCurve, types.ChainEthereum))
	assert.Equal(t, "market:ethereum:0xpool", svc.MarketStateKey(types.ChainEthereum, "0xPOOL"))
}

func TestSetGetRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	in := map[string]int{"a": 1, "b": 2}
	require.NoError(t, svc.Set(ctx, KeyPositions, "positions:test", in))

	var out map[string]int
	found, err := svc.Get(ctx, "positions:test", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestGetMissReturnsFalseNotError(t *testing.T) {
	svc, _ := newTestService(t)

	var out string
	found, err := svc.Get(context.Background(), "absent", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEntriesExpireByKeyType(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, KeyMarketState, "market:test", "v"))

	mr.FastForward(31 * time.Second)

	var out string
	found, err := svc.Get(ctx, "market:test", &out)
	require.NoError(t, err)
	assert.False(t, found, "market-state entries expire after their short TTL")
}

func TestInvalidateAddressRemovesAllProtocols(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	k1 := svc.PositionsKey(types.ProtocolUniswapV3, types.ChainEthereum, "0xOwner")
	k2 := svc.PositionsKey(types.ProtocolAaveV3, types.ChainPolygon, "0xOwner")
	other := svc.PositionsKey(types.ProtocolAaveV3, types.ChainPolygon, "0xOther")
	for _, k := range []string{k1, k2, other} {
		require.NoError(t, svc.Set(ctx, KeyPositions, k, "v"))
	}

	require.NoError(t, svc.InvalidateAddress(ctx, "0xOwner"))

	var out string
	found, _ := svc.Get(ctx, k1, &out)
	assert.False(t, found)
	found, _ = svc.Get(ctx, k2, &out)
	assert.False(t, found)
	found, _ = svc.Get(ctx, other, &out)
	assert.True(t, found, "other owners' entries survive")
}

func TestLoaderFetchesOnceOnConcurrentMiss(t *testing.T) {
	svc, _ := newTestService(t)
	loader := NewLoader(svc)
	ctx := context.Background()

	var fetches atomic.Int64
	release := make(chan struct{})
	fetch := func(ctx context.Context) (interface{}, error) {
		fetches.Add(1)
		<-release
		return "value", nil
	}

	const waiters = 8
	results := make([]string, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out string
			if err := loader.GetOrFetch(ctx, KeyPositions, "shared-key", &out, fetch); err == nil {
				results[i] = out
			}
		}(i)
	}

	// Give every goroutine time to miss the cache and pile onto the
	// in-flight call before releasing the fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), fetches.Load(), "concurrent misses must share one fetch")
	for i, r := range results {
		assert.Equal(t, "value", r, "waiter %d", i)
	}
}

func TestLoaderServesFromCacheAfterFetch(t *testing.T) {
	svc, _ := newTestService(t)
	loader := NewLoader(svc)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (interface{}, error) {
		calls++
		return []int{1, 2, 3}, nil
	}

	var out []int
	require.NoError(t, loader.GetOrFetch(ctx, KeyPositions, "k", &out, fetch))
	require.NoError(t, loader.GetOrFetch(ctx, KeyPositions, "k", &out, fetch))

	assert.Equal(t, 1, calls)
	assert.Equal(t, []int{1, 2, 3}, out)

	hits, misses := loader.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLoaderPropagatesFetchError(t *testing.T) {
	svc, _ := newTestService(t)
	loader := NewLoader(svc)

	wantErr := fmt.Errorf("upstream down")
	var out string
	err := loader.GetOrFetch(context.Background(), KeyPositions, "k", &out, func(ctx context.Context) (interface{}, error) {
		return nil, wantErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)

	// A failed fetch must not poison the cache.
	found, gerr := svc.Get(context.Background(), "k", &out)
	require.NoError(t, gerr)
	assert.False(t, found)
}
