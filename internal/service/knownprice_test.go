package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"dexstats/internal/client"
	"dexstats/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize(t *testing.T) {
	t.Parallel()

	r := newTestResolver(&fakeFeed{})

	assert.Equal(t, entity.CategoryBTCPegged, r.Categorize(testChainID, btcAddr))
	assert.Equal(t, entity.CategoryStablecoin, r.Categorize(testChainID, stableAddr))
	// The protocol stable unit counts as a stablecoin.
	assert.Equal(t, entity.CategoryStablecoin, r.Categorize(testChainID, stableUnitAddr))
	// Address comparison is case-insensitive.
	assert.Equal(t, entity.CategoryStablecoin, r.Categorize(testChainID, strings.ToUpper(stableAddr)))

	assert.Equal(t, entity.CategoryUnknown, r.Categorize(testChainID, "0xdeadbeef"))
	assert.Equal(t, entity.CategoryUnknown, r.Categorize(999, stableAddr))
}

func TestResolveStablecoinExactlyOne(t *testing.T) {
	t.Parallel()

	r := newTestResolver(&fakeFeed{spotErr: errors.New("must not be called")})
	price, category, err := r.Resolve(context.Background(), testChainID, stableAddr)
	require.NoError(t, err)
	assert.Equal(t, entity.CategoryStablecoin, category)
	assert.Equal(t, 1.0, price)
}

func TestResolveUnknownIsZeroWithoutError(t *testing.T) {
	t.Parallel()

	r := newTestResolver(&fakeFeed{})
	price, category, err := r.Resolve(context.Background(), testChainID, "0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, entity.CategoryUnknown, category)
	assert.Zero(t, price)
}

func TestBTCPriceCachedAfterFirstFetch(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{spot: 100000}
	r := newTestResolver(feed)

	price, err := r.BTCPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100000.0, price)

	price, err = r.BTCPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100000.0, price)

	spotCalls, _ := feed.counts()
	assert.Equal(t, 1, spotCalls)
}

func TestBTCPriceStaleFallback(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{spotErr: errors.New("both feeds down")}
	r := newTestResolver(feed)
	r.storeSpot(95000)
	r.cache.Delete(spotCacheKey)

	price, err := r.BTCPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 95000.0, price)
}

func TestBTCPriceUnavailable(t *testing.T) {
	t.Parallel()

	r := newTestResolver(&fakeFeed{spotErr: errors.New("both feeds down")})
	_, err := r.BTCPrice(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestBTCMarketDataCachesSpotToo(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{market: client.FeedMarketData{PriceUSD: 111, Change24h: -2}}
	r := newTestResolver(feed)

	data, err := r.BTCMarketData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 111.0, data.PriceUSD)

	// The rich fetch populates the spot cache as well; a plain price call
	// must not hit the feed again.
	price, err := r.BTCPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 111.0, price)

	spotCalls, marketCalls := feed.counts()
	assert.Zero(t, spotCalls)
	assert.Equal(t, 1, marketCalls)

	_, err = r.BTCMarketData(context.Background())
	require.NoError(t, err)
	_, marketCalls = feed.counts()
	assert.Equal(t, 1, marketCalls)
}

func TestBTCPricePiggybacksOnMarketFlight(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{
		market:        client.FeedMarketData{PriceUSD: 123},
		marketGate:    make(chan struct{}),
		marketStarted: make(chan struct{}, 1),
	}
	r := newTestResolver(feed)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		data, err := r.BTCMarketData(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 123.0, data.PriceUSD)
	}()

	// Once the feed call has started, the flight handle is registered and a
	// plain price caller must join it instead of fetching on its own.
	<-feed.marketStarted
	priceCh := make(chan float64, 1)
	go func() {
		price, err := r.BTCPrice(context.Background())
		assert.NoError(t, err)
		priceCh <- price
	}()

	close(feed.marketGate)
	wg.Wait()
	assert.Equal(t, 123.0, <-priceCh)

	spotCalls, marketCalls := feed.counts()
	assert.Zero(t, spotCalls)
	assert.Equal(t, 1, marketCalls)
}

func TestBTCMarketDataCoalescesConcurrentCallers(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{
		market:        client.FeedMarketData{PriceUSD: 321},
		marketGate:    make(chan struct{}),
		marketStarted: make(chan struct{}, 1),
	}
	r := newTestResolver(feed)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan float64, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := r.BTCMarketData(context.Background())
			assert.NoError(t, err)
			results <- data.PriceUSD
		}()
	}

	<-feed.marketStarted
	close(feed.marketGate)
	wg.Wait()
	close(results)

	for price := range results {
		assert.Equal(t, 321.0, price)
	}
	_, marketCalls := feed.counts()
	assert.Equal(t, 1, marketCalls)
}
