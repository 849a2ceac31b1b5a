package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"dexstats/internal/client"
	"dexstats/internal/config"
	"dexstats/internal/entity"
	"dexstats/internal/onchain"

	gocache "github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	equityAddr = "0x9Ac7fE28967B30e3A4e6e03286d715b42b453d10"
	bridgeAddr = "0x684A8A976635Fb7AD74a0134ACE990A6a0FCCE84"
	tokenXAddr = "0x1000000000000000000000000000000000000011"
	poolXAddr  = "0x2000000000000000000000000000000000000021"
	pairXAddr  = "0x3000000000000000000000000000000000000031"
)

// fakeIndexer serves fixed collections and counts bucket queries.
type fakeIndexer struct {
	tokens      []entity.Token
	pools       []entity.Pool
	pairs       []entity.Pair
	hourly      []entity.VolumeBucket
	daily       []entity.VolumeBucket
	tokenBk     []entity.TokenVolumeBucket
	snaps       []entity.PriceSnapshot
	swaps       []entity.SwapRecord
	bridgeVol   map[string]float64
	bucketCalls int32
}

func (f *fakeIndexer) Tokens(context.Context) ([]entity.Token, error) { return f.tokens, nil }
func (f *fakeIndexer) Pools(context.Context) ([]entity.Pool, error)   { return f.pools, nil }
func (f *fakeIndexer) Pairs(context.Context) ([]entity.Pair, error)   { return f.pairs, nil }

func (f *fakeIndexer) VolumeBuckets(_ context.Context, bucketType entity.BucketType, _ int64) ([]entity.VolumeBucket, error) {
	atomic.AddInt32(&f.bucketCalls, 1)
	if bucketType == entity.BucketHourly {
		return f.hourly, nil
	}
	return f.daily, nil
}

func (f *fakeIndexer) TokenVolumeBuckets(context.Context, int64) ([]entity.TokenVolumeBucket, error) {
	return f.tokenBk, nil
}

func (f *fakeIndexer) PriceSnapshots(context.Context, int64) ([]entity.PriceSnapshot, error) {
	return f.snaps, nil
}

func (f *fakeIndexer) RecentSwaps(context.Context, int) ([]entity.SwapRecord, error) {
	return f.swaps, nil
}

func (f *fakeIndexer) BridgeVolumes(context.Context) (map[string]float64, error) {
	return f.bridgeVol, nil
}

func statsChain() config.ChainNode {
	chain := testChainNode()
	chain.EquityToken = equityAddr
	chain.Bridges = []config.BridgeNode{{Address: bridgeAddr, Symbol: "bUSD"}}
	return chain
}

func findToken(t *testing.T, resp *entity.StatsResponse, addr string) entity.TokenStats {
	t.Helper()
	for _, stat := range resp.Tokens {
		if entity.NormalizeAddress(stat.Address) == entity.NormalizeAddress(addr) {
			return stat
		}
	}
	t.Fatalf("token %s not in response", addr)
	return entity.TokenStats{}
}

func TestComputeFullCycle(t *testing.T) {
	t.Parallel()

	now := testNow()
	indexer := &fakeIndexer{
		tokens: []entity.Token{
			{Address: stableAddr, Symbol: "USDS", Decimals: 18},
			{Address: stableUnitAddr, Symbol: "SU", Decimals: 18},
			{Address: btcAddr, Symbol: "WBTC", Decimals: 18},
			{Address: tokenXAddr, Symbol: "XTK", Decimals: 18},
			{Address: equityAddr, Symbol: "EQT", Decimals: 18},
		},
		pools: []entity.Pool{
			{Address: poolXAddr, Token0: tokenXAddr, Token1: stableAddr, FeeTier: 3000, TxCount: 11},
		},
		pairs: []entity.Pair{
			{Address: pairXAddr, Token0: stableUnitAddr, Token1: tokenXAddr, TxCount: 5},
		},
		hourly: []entity.VolumeBucket{
			{PoolAddress: poolXAddr, StartTime: now.Add(-time.Hour).Unix(), Volume0: raw18(10), TradeCount: 4},
		},
		tokenBk: []entity.TokenVolumeBucket{
			{TokenAddress: tokenXAddr, StartTime: now.Add(-30 * time.Minute).Unix(), Volume: raw18(3)},
		},
		snaps: []entity.PriceSnapshot{
			{PoolAddress: poolXAddr, Ratio: 4.0, Timestamp: now.Add(-time.Hour).Unix()},
		},
		swaps: []entity.SwapRecord{
			{Hash: "0xh1", PoolAddress: poolXAddr, Account: "0xacc", Token0: tokenXAddr, Token1: stableAddr,
				Amount0: 2, Amount1: -8, Timestamp: now.Add(-time.Minute).Unix()},
		},
		bridgeVol: map[string]float64{entity.NormalizeAddress(bridgeAddr): 123},
	}

	reader := &fakeReader{
		sqrt: map[string]onchain.Uint256Result{
			entity.NormalizeAddress(poolXAddr): okResult(sqrtX96(97)), // ratio 4
		},
		balances: map[string]onchain.Uint256Result{
			balanceKey(tokenXAddr, poolXAddr): okResult(e18(10)),
			balanceKey(stableAddr, poolXAddr): okResult(e18(40)),
		},
		reserves: map[string]onchain.ReservesResult{
			entity.NormalizeAddress(pairXAddr): {Reserve0: e18(1000), Reserve1: e18(250), OK: true},
		},
		supplies: map[string]onchain.Uint256Result{
			entity.NormalizeAddress(stableAddr): okResult(e18(1000)),
		},
		minted: map[string]onchain.Uint256Result{
			entity.NormalizeAddress(bridgeAddr): okResult(e18(500)),
		},
		equity: okResult(e18(7)),
	}

	feed := &fakeFeed{market: client.FeedMarketData{PriceUSD: 100000, Change1h: 1, Change24h: 2}}
	computer := NewStatsComputer(statsChain(), indexer, reader, newTestResolver(feed),
		gocache.New(time.Minute, time.Minute), zap.NewNop(), func() time.Time { return now })

	resp, err := computer.Compute(context.Background())
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, int64(testChainID), resp.ChainID)
	assert.Equal(t, now, resp.ComputedAt)

	stable := findToken(t, resp, stableAddr)
	assert.Equal(t, 1.0, stable.PriceUSD)
	assert.InDelta(t, 1000.0, stable.FDVUSD, 1e-6)

	wbtc := findToken(t, resp, btcAddr)
	assert.Equal(t, 100000.0, wbtc.PriceUSD)

	equity := findToken(t, resp, equityAddr)
	assert.InDelta(t, 7.0, equity.PriceUSD, 1e-9)

	// Token X is priced one hop through its stable pool.
	xtk := findToken(t, resp, tokenXAddr)
	assert.InDelta(t, 4.0, xtk.PriceUSD, 1e-9)
	assert.InDelta(t, 12.0, xtk.Volume1h, 1e-9)
	require.NotNil(t, xtk.Change1h)
	assert.InDelta(t, 0.0, *xtk.Change1h, 1e-9)
	assert.Len(t, xtk.Sparkline, entity.SparklinePoints)

	require.Len(t, resp.Pools, 1)
	assert.InDelta(t, 80.0, resp.Pools[0].LiquidityUSD, 1e-9)
	assert.InDelta(t, 4.0, resp.Pools[0].Token0.PriceUSD, 1e-9)
	assert.InDelta(t, 40.0, resp.Pools[0].Volume1d, 1e-9)
	assert.Equal(t, uint64(11), resp.Pools[0].TxCount)
	assert.Equal(t, uint64(4), resp.Pools[0].Trades1d)

	require.Len(t, resp.Pairs, 1)
	assert.InDelta(t, 2000.0, resp.Pairs[0].LiquidityUSD, 1e-9)

	require.Len(t, resp.Transactions, 1)
	assert.InDelta(t, 8.0, resp.Transactions[0].ValueUSD, 1e-9)

	assert.InDelta(t, 80.0, resp.Protocol.PoolTVLUSD, 1e-9)
	assert.InDelta(t, 2000.0, resp.Protocol.PairTVLUSD, 1e-9)
	assert.InDelta(t, 500.0, resp.Protocol.BridgeTVLUSD, 1e-6)
	assert.InDelta(t, 40.0, resp.Protocol.PoolVolume24hUSD, 1e-9)
	assert.Zero(t, resp.Protocol.PairVolume24hUSD)
	assert.InDelta(t, 123.0, resp.Protocol.BridgeVolume24hUSD, 1e-9)
}

func TestComputeSynthesizesKnownTokens(t *testing.T) {
	t.Parallel()

	// The indexer reports nothing; the configured known contracts are still
	// seeded and priced.
	indexer := &fakeIndexer{bridgeVol: map[string]float64{}}
	reader := &fakeReader{}
	feed := &fakeFeed{market: client.FeedMarketData{PriceUSD: 90000}}

	computer := NewStatsComputer(statsChain(), indexer, reader, newTestResolver(feed),
		gocache.New(time.Minute, time.Minute), zap.NewNop(), func() time.Time { return testNow() })

	resp, err := computer.Compute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, findToken(t, resp, stableAddr).PriceUSD)
	assert.Equal(t, 1.0, findToken(t, resp, stableUnitAddr).PriceUSD)
	assert.Equal(t, 90000.0, findToken(t, resp, btcAddr).PriceUSD)
}

func TestYearlyBucketsCached(t *testing.T) {
	t.Parallel()

	indexer := &fakeIndexer{daily: []entity.VolumeBucket{{PoolAddress: poolXAddr}}}
	computer := NewStatsComputer(statsChain(), indexer, &fakeReader{}, newTestResolver(&fakeFeed{}),
		gocache.New(time.Minute, time.Minute), zap.NewNop(), nil)

	now := testNow()
	first, err := computer.yearlyBuckets(context.Background(), now)
	require.NoError(t, err)
	second, err := computer.yearlyBuckets(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&indexer.bucketCalls))
}
