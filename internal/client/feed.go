package client

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"dexstats/internal/config"
	"dexstats/internal/entity"
	"dexstats/internal/pkg/metrics"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// FeedSample is one point of the trailing-day BTC price series.
type FeedSample struct {
	Timestamp int64
	PriceUSD  float64
}

// FeedMarketData is the rich feed result: spot price, percent changes over
// the two lookback windows, and 24 trailing hourly samples.
type FeedMarketData struct {
	PriceUSD  float64
	Change1h  float64
	Change24h float64
	Hourly    []FeedSample
}

// PriceFeed fetches the chain base asset's spot price. Both operations try
// the primary feed first and fall back to the secondary on failure.
type PriceFeed interface {
	SpotPrice(ctx context.Context) (float64, error)
	MarketData(ctx context.Context) (FeedMarketData, error)
}

// FeedClient implements PriceFeed against two HTTP feeds: a market-data
// style primary (price series) and a ticker-style fallback (spot plus 24h
// change only).
type FeedClient struct {
	client      *fasthttp.Client
	primaryURL  string
	fallbackURL string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewFeedClient builds the spot-price feed client.
func NewFeedClient(cfg config.PriceFeedsConfig, logger *zap.Logger) *FeedClient {
	return &FeedClient{
		client:      &fasthttp.Client{},
		primaryURL:  cfg.PrimaryURL,
		fallbackURL: cfg.FallbackURL,
		timeout:     time.Duration(cfg.RequestTimeoutMillis) * time.Millisecond,
		logger:      logger.Named("FeedClient"),
	}
}

func (c *FeedClient) fetch(ctx context.Context, requestURL string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(requestURL)
	req.Header.SetMethod(fasthttp.MethodGet)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.DoTimeout(req, resp, c.timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", requestURL, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("request to %s failed with status %d", requestURL, resp.StatusCode())
	}
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

type primaryChartResponse struct {
	Prices [][2]float64 `json:"prices"` // [ms timestamp, price]
}

type fallbackTickerResponse struct {
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// SpotPrice implements PriceFeed.
func (c *FeedClient) SpotPrice(ctx context.Context) (float64, error) {
	data, err := c.MarketData(ctx)
	if err != nil {
		return 0, err
	}
	return data.PriceUSD, nil
}

// MarketData implements PriceFeed.
func (c *FeedClient) MarketData(ctx context.Context) (FeedMarketData, error) {
	primary, primaryErr := c.fetchPrimary(ctx)
	if primaryErr == nil {
		return primary, nil
	}
	metrics.FeedFailures.WithLabelValues("primary").Inc()
	c.logger.Warn("Primary price feed failed, trying fallback", zap.Error(primaryErr))

	fallback, fallbackErr := c.fetchFallback(ctx)
	if fallbackErr == nil {
		return fallback, nil
	}
	metrics.FeedFailures.WithLabelValues("fallback").Inc()
	c.logger.Error("Fallback price feed failed", zap.Error(fallbackErr))
	return FeedMarketData{}, fmt.Errorf("both price feeds failed: primary: %v, fallback: %w", primaryErr, fallbackErr)
}

func (c *FeedClient) fetchPrimary(ctx context.Context) (FeedMarketData, error) {
	body, err := c.fetch(ctx, c.primaryURL+"/market_chart?vs_currency=usd&days=1")
	if err != nil {
		return FeedMarketData{}, err
	}
	var chart primaryChartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return FeedMarketData{}, fmt.Errorf("failed to unmarshal primary feed response: %w", err)
	}
	if len(chart.Prices) == 0 {
		return FeedMarketData{}, fmt.Errorf("primary feed returned an empty price series")
	}

	samples := make([]FeedSample, 0, len(chart.Prices))
	for _, point := range chart.Prices {
		samples = append(samples, FeedSample{
			Timestamp: int64(point[0]) / 1000,
			PriceUSD:  point[1],
		})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp < samples[j].Timestamp })

	current := samples[len(samples)-1].PriceUSD
	hourly := downsampleHourly(samples)

	return FeedMarketData{
		PriceUSD:  current,
		Change1h:  percentChangeSince(samples, current, time.Hour),
		Change24h: percentChangeSince(samples, current, 24*time.Hour),
		Hourly:    hourly,
	}, nil
}

func (c *FeedClient) fetchFallback(ctx context.Context) (FeedMarketData, error) {
	body, err := c.fetch(ctx, c.fallbackURL+"/ticker/24hr?symbol=BTCUSDT")
	if err != nil {
		return FeedMarketData{}, err
	}
	var ticker fallbackTickerResponse
	if err := json.Unmarshal(body, &ticker); err != nil {
		return FeedMarketData{}, fmt.Errorf("failed to unmarshal fallback feed response: %w", err)
	}
	price, err := strconv.ParseFloat(ticker.LastPrice, 64)
	if err != nil || price <= 0 {
		return FeedMarketData{}, fmt.Errorf("fallback feed returned unusable price %q", ticker.LastPrice)
	}
	change24h, _ := strconv.ParseFloat(ticker.PriceChangePercent, 64)

	// The ticker feed carries no price series; changes degrade to what it
	// reports and the hourly curve stays empty.
	return FeedMarketData{
		PriceUSD:  price,
		Change24h: change24h,
	}, nil
}

// downsampleHourly reduces a dense trailing-day series to the fixed 24
// hourly sample points, taking the sample closest to each hour mark.
func downsampleHourly(samples []FeedSample) []FeedSample {
	if len(samples) == 0 {
		return nil
	}
	end := samples[len(samples)-1].Timestamp
	out := make([]FeedSample, 0, entity.SparklinePoints)
	for i := entity.SparklinePoints - 1; i >= 0; i-- {
		target := end - int64(i)*3600
		idx := sort.Search(len(samples), func(j int) bool { return samples[j].Timestamp >= target })
		if idx == len(samples) {
			idx = len(samples) - 1
		} else if idx > 0 && target-samples[idx-1].Timestamp < samples[idx].Timestamp-target {
			idx--
		}
		out = append(out, FeedSample{Timestamp: target, PriceUSD: samples[idx].PriceUSD})
	}
	return out
}

func percentChangeSince(samples []FeedSample, current float64, lookback time.Duration) float64 {
	if len(samples) == 0 {
		return 0
	}
	target := samples[len(samples)-1].Timestamp - int64(lookback.Seconds())
	idx := sort.Search(len(samples), func(j int) bool { return samples[j].Timestamp >= target })
	if idx == len(samples) {
		idx = len(samples) - 1
	}
	past := samples[idx].PriceUSD
	if past == 0 {
		return 0
	}
	return (current - past) / past * 100
}
