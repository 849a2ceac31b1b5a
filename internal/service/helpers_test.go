package service

import (
	"context"
	"math/big"
	"sync"

	"dexstats/internal/client"
	"dexstats/internal/config"
	"dexstats/internal/entity"
	"dexstats/internal/onchain"

	"go.uber.org/zap"
)

const (
	testChainID = 30

	btcAddr        = "0x542fDA317318eBF1d3DEAf76E0b632741A7e677d"
	stableAddr     = "0xeF213441A85df4d7ACbDae0Cf78004e1E486bB96"
	stableUnitAddr = "0xe700691Da7B9851F2F35f8b8182C69C53ccad9DB"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func raw18(n int64) string {
	return e18(n).String()
}

func okResult(v *big.Int) onchain.Uint256Result {
	return onchain.Uint256Result{Value: v, OK: true}
}

// fakeReader serves batched reads from fixed maps keyed by normalized
// address. Absent keys come back as failed per-element results.
type fakeReader struct {
	sqrt       map[string]onchain.Uint256Result
	sqrtErr    error
	balances   map[string]onchain.Uint256Result
	balanceErr error
	reserves   map[string]onchain.ReservesResult
	reserveErr error
	supplies   map[string]onchain.Uint256Result
	supplyErr  error
	minted     map[string]onchain.Uint256Result
	mintedErr  error
	equity     onchain.Uint256Result
	equityErr  error
}

func balanceKey(token, holder string) string {
	return entity.NormalizeAddress(token) + "|" + entity.NormalizeAddress(holder)
}

func (f *fakeReader) SqrtPrices(_ context.Context, pools []string) ([]onchain.Uint256Result, error) {
	if f.sqrtErr != nil {
		return nil, f.sqrtErr
	}
	out := make([]onchain.Uint256Result, len(pools))
	for i, p := range pools {
		out[i] = f.sqrt[entity.NormalizeAddress(p)]
	}
	return out, nil
}

func (f *fakeReader) Balances(_ context.Context, queries []onchain.BalanceQuery) ([]onchain.Uint256Result, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	out := make([]onchain.Uint256Result, len(queries))
	for i, q := range queries {
		out[i] = f.balances[balanceKey(q.Token, q.Holder)]
	}
	return out, nil
}

func (f *fakeReader) Reserves(_ context.Context, pairs []string) ([]onchain.ReservesResult, error) {
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	out := make([]onchain.ReservesResult, len(pairs))
	for i, p := range pairs {
		out[i] = f.reserves[entity.NormalizeAddress(p)]
	}
	return out, nil
}

func (f *fakeReader) TotalSupplies(_ context.Context, tokens []string) ([]onchain.Uint256Result, error) {
	if f.supplyErr != nil {
		return nil, f.supplyErr
	}
	out := make([]onchain.Uint256Result, len(tokens))
	for i, tok := range tokens {
		out[i] = f.supplies[entity.NormalizeAddress(tok)]
	}
	return out, nil
}

func (f *fakeReader) BridgeMinted(_ context.Context, bridges []string) ([]onchain.Uint256Result, error) {
	if f.mintedErr != nil {
		return nil, f.mintedErr
	}
	out := make([]onchain.Uint256Result, len(bridges))
	for i, b := range bridges {
		out[i] = f.minted[entity.NormalizeAddress(b)]
	}
	return out, nil
}

func (f *fakeReader) EquityPrice(_ context.Context, _ string) (onchain.Uint256Result, error) {
	return f.equity, f.equityErr
}

// fakeFeed counts calls and can block MarketData on a gate so tests can
// observe in-flight state.
type fakeFeed struct {
	mu            sync.Mutex
	spotCalls     int
	marketCalls   int
	spot          float64
	spotErr       error
	market        client.FeedMarketData
	marketErr     error
	marketGate    chan struct{}
	marketStarted chan struct{}
}

func (f *fakeFeed) SpotPrice(context.Context) (float64, error) {
	f.mu.Lock()
	f.spotCalls++
	spot, err := f.spot, f.spotErr
	f.mu.Unlock()
	return spot, err
}

func (f *fakeFeed) MarketData(context.Context) (client.FeedMarketData, error) {
	f.mu.Lock()
	f.marketCalls++
	started, gate := f.marketStarted, f.marketGate
	data, err := f.market, f.marketErr
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	return data, err
}

func (f *fakeFeed) counts() (spot, market int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spotCalls, f.marketCalls
}

func testChainNode() config.ChainNode {
	return config.ChainNode{
		ChainID:         testChainID,
		Name:            "testnet",
		BTCPeggedTokens: []string{btcAddr},
		Stablecoins:     []string{stableAddr},
		StableUnit:      stableUnitAddr,
	}
}

func newTestResolver(feed client.PriceFeed) *KnownPriceResolver {
	cfg := &config.Config{
		Chains: []config.ChainNode{testChainNode()},
		PriceFeeds: config.PriceFeedsConfig{
			SpotCacheTTLSeconds:   60,
			MarketCacheTTLSeconds: 300,
		},
	}
	return NewKnownPriceResolver(cfg, feed, zap.NewNop())
}
