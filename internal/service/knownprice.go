package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dexstats/internal/client"
	"dexstats/internal/config"
	"dexstats/internal/entity"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrPriceUnavailable is returned when both feeds fail and no previously
// cached price exists.
var ErrPriceUnavailable = errors.New("btc price unavailable")

const (
	spotCacheKey   = "btc:spot"
	marketCacheKey = "btc:market"
)

// KnownPriceResolver classifies token addresses per chain and resolves USD
// prices for the two externally priced categories. Stablecoins resolve to
// exactly 1.0 by policy; BTC-pegged tokens resolve to the global BTC spot
// price, cached for a short TTL and deduplicated across concurrent callers.
type KnownPriceResolver struct {
	feed   client.PriceFeed
	cache  *gocache.Cache
	group  singleflight.Group
	logger *zap.Logger

	spotTTL   time.Duration
	marketTTL time.Duration

	mu           sync.Mutex
	marketFlight *marketFlight
	lastSpot     float64

	btcByChain    map[int64]map[string]struct{}
	stableByChain map[int64]map[string]struct{}
}

type marketFlight struct {
	done chan struct{}
	data client.FeedMarketData
	err  error
}

// NewKnownPriceResolver builds a resolver from the per-chain known-contract
// configuration. The cache is constructed here and owned by the resolver;
// nothing global.
func NewKnownPriceResolver(cfg *config.Config, feed client.PriceFeed, logger *zap.Logger) *KnownPriceResolver {
	btc := make(map[int64]map[string]struct{})
	stable := make(map[int64]map[string]struct{})
	for _, chain := range cfg.Chains {
		btc[chain.ChainID] = addressSet(chain.BTCPeggedTokens)
		stableSet := addressSet(chain.Stablecoins)
		if chain.StableUnit != "" {
			stableSet[entity.NormalizeAddress(chain.StableUnit)] = struct{}{}
		}
		stable[chain.ChainID] = stableSet
	}
	return &KnownPriceResolver{
		feed:          feed,
		cache:         gocache.New(gocache.NoExpiration, 10*time.Minute),
		logger:        logger.Named("KnownPriceResolver"),
		spotTTL:       time.Duration(cfg.PriceFeeds.SpotCacheTTLSeconds) * time.Second,
		marketTTL:     time.Duration(cfg.PriceFeeds.MarketCacheTTLSeconds) * time.Second,
		btcByChain:    btc,
		stableByChain: stable,
	}
}

func addressSet(addrs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		set[entity.NormalizeAddress(a)] = struct{}{}
	}
	return set
}

// Categorize tags a token address as BTC-pegged, stablecoin or unknown for
// the given chain.
func (r *KnownPriceResolver) Categorize(chainID int64, addr string) entity.PriceCategory {
	n := entity.NormalizeAddress(addr)
	if set, ok := r.btcByChain[chainID]; ok {
		if _, hit := set[n]; hit {
			return entity.CategoryBTCPegged
		}
	}
	if set, ok := r.stableByChain[chainID]; ok {
		if _, hit := set[n]; hit {
			return entity.CategoryStablecoin
		}
	}
	return entity.CategoryUnknown
}

// Resolve returns the direct USD price for a known token address, 0 for
// unknown addresses. Only BTC-pegged lookups can fail.
func (r *KnownPriceResolver) Resolve(ctx context.Context, chainID int64, addr string) (float64, entity.PriceCategory, error) {
	switch category := r.Categorize(chainID, addr); category {
	case entity.CategoryStablecoin:
		return 1.0, category, nil
	case entity.CategoryBTCPegged:
		price, err := r.BTCPrice(ctx)
		if err != nil {
			return 0, category, err
		}
		return price, category, nil
	default:
		return 0, entity.CategoryUnknown, nil
	}
}

// BTCPrice returns the cached spot price, piggybacks on an in-flight rich
// market fetch when one is underway, and otherwise issues a single-flighted
// plain fetch. On both feeds failing the last known price is served.
func (r *KnownPriceResolver) BTCPrice(ctx context.Context) (float64, error) {
	if cached, found := r.cache.Get(spotCacheKey); found {
		return cached.(float64), nil
	}

	r.mu.Lock()
	if flight := r.marketFlight; flight != nil {
		r.mu.Unlock()
		select {
		case <-flight.done:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		if flight.err == nil {
			return flight.data.PriceUSD, nil
		}
		// The rich fetch failed; fall through to the plain path so its
		// stale-price fallback applies.
	} else {
		r.mu.Unlock()
	}

	value, err, _ := r.group.Do(spotCacheKey, func() (interface{}, error) {
		price, err := r.feed.SpotPrice(ctx)
		if err != nil {
			return 0.0, err
		}
		r.storeSpot(price)
		return price, nil
	})
	if err != nil {
		r.mu.Lock()
		last := r.lastSpot
		r.mu.Unlock()
		if last > 0 {
			r.logger.Warn("Both price feeds failed, serving last known BTC price",
				zap.Float64("price", last), zap.Error(err))
			return last, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	return value.(float64), nil
}

// BTCMarketData returns the rich feed result (price, percent changes, 24
// hourly samples), independently cached and deduplicated. Concurrent callers
// including plain BTCPrice callers share one in-flight fetch.
func (r *KnownPriceResolver) BTCMarketData(ctx context.Context) (client.FeedMarketData, error) {
	if cached, found := r.cache.Get(marketCacheKey); found {
		return cached.(client.FeedMarketData), nil
	}

	r.mu.Lock()
	if flight := r.marketFlight; flight != nil {
		r.mu.Unlock()
		select {
		case <-flight.done:
		case <-ctx.Done():
			return client.FeedMarketData{}, ctx.Err()
		}
		return flight.data, flight.err
	}
	// Re-check under the lock: a fetch that completed after the first cache
	// check stores its result before clearing the flight handle.
	if cached, found := r.cache.Get(marketCacheKey); found {
		r.mu.Unlock()
		return cached.(client.FeedMarketData), nil
	}
	flight := &marketFlight{done: make(chan struct{})}
	r.marketFlight = flight
	r.mu.Unlock()

	flight.data, flight.err = r.feed.MarketData(ctx)

	r.mu.Lock()
	if flight.err == nil {
		r.lastSpot = flight.data.PriceUSD
		r.cache.Set(marketCacheKey, flight.data, r.marketTTL)
		r.cache.Set(spotCacheKey, flight.data.PriceUSD, r.spotTTL)
	}
	r.marketFlight = nil
	r.mu.Unlock()
	close(flight.done)

	if flight.err != nil {
		return client.FeedMarketData{}, flight.err
	}
	return flight.data, nil
}

func (r *KnownPriceResolver) storeSpot(price float64) {
	r.cache.Set(spotCacheKey, price, r.spotTTL)
	r.mu.Lock()
	r.lastSpot = price
	r.mu.Unlock()
}
