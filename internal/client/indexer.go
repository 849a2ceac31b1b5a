package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"dexstats/internal/config"
	"dexstats/internal/entity"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// IndexerSource is the query collaborator supplying raw entities and event
// history for one chain. All results are best-effort: callers degrade a
// failed or empty query to an empty collection.
type IndexerSource interface {
	Tokens(ctx context.Context) ([]entity.Token, error)
	Pools(ctx context.Context) ([]entity.Pool, error)
	Pairs(ctx context.Context) ([]entity.Pair, error)
	VolumeBuckets(ctx context.Context, bucketType entity.BucketType, from int64) ([]entity.VolumeBucket, error)
	TokenVolumeBuckets(ctx context.Context, from int64) ([]entity.TokenVolumeBucket, error)
	PriceSnapshots(ctx context.Context, from int64) ([]entity.PriceSnapshot, error)
	RecentSwaps(ctx context.Context, limit int) ([]entity.SwapRecord, error)
	BridgeVolumes(ctx context.Context) (map[string]float64, error)
}

// IndexerClient implements IndexerSource over HTTP with bounded retry,
// fixed backoff and sticky primary-to-fallback failover.
type IndexerClient struct {
	client     *fasthttp.Client
	selector   *failoverSelector
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewIndexerClient builds a client for one chain's indexer endpoints.
// now may be nil outside of tests.
func NewIndexerClient(chain config.ChainNode, cfg config.IndexerConfig, logger *zap.Logger, now func() time.Time) *IndexerClient {
	return &IndexerClient{
		client: &fasthttp.Client{},
		selector: newFailoverSelector(
			chain.IndexerPrimaryURL,
			chain.IndexerFallbackURL,
			time.Duration(cfg.FailoverCooldownSec)*time.Second,
			now,
		),
		timeout:    time.Duration(cfg.RequestTimeoutMillis) * time.Millisecond,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Duration(cfg.RetryDelayMs) * time.Millisecond,
		logger:     logger.Named("IndexerClient"),
	}
}

// get fetches path from the current base URL with retries. When the primary
// exhausts its retry budget the selector trips and the request is attempted
// once more against the fallback.
func (c *IndexerClient) get(ctx context.Context, path string, out interface{}) error {
	base := c.selector.current()
	err := c.getFrom(ctx, base, path, out)
	if err == nil {
		return nil
	}
	if !c.selector.onFallback() {
		c.logger.Warn("Indexer primary unavailable, switching to fallback",
			zap.String("path", path), zap.Error(err))
		c.selector.trip()
		if fb := c.selector.current(); fb != base {
			return c.getFrom(ctx, fb, path, out)
		}
	}
	return err
}

func (c *IndexerClient) getFrom(ctx context.Context, base, path string, out interface{}) error {
	requestURL := base + path

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		req := fasthttp.AcquireRequest()
		req.SetRequestURI(requestURL)
		req.Header.SetMethod(fasthttp.MethodGet)
		resp := fasthttp.AcquireResponse()

		err := c.do(ctx, req, resp)
		if err != nil {
			lastErr = fmt.Errorf("request to %s failed: %w", requestURL, err)
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
			continue
		}
		if resp.StatusCode() != fasthttp.StatusOK {
			lastErr = fmt.Errorf("request to %s failed with status %d", requestURL, resp.StatusCode())
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
			continue
		}

		err = json.Unmarshal(resp.Body(), out)
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		if err != nil {
			lastErr = fmt.Errorf("failed to unmarshal response from %s: %w", requestURL, err)
			continue
		}
		return nil
	}
	return lastErr
}

func (c *IndexerClient) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if deadline, ok := ctx.Deadline(); ok {
		return c.client.DoDeadline(req, resp, deadline)
	}
	return c.client.DoTimeout(req, resp, c.timeout)
}

// Tokens implements IndexerSource.
func (c *IndexerClient) Tokens(ctx context.Context) ([]entity.Token, error) {
	var tokens []entity.Token
	if err := c.get(ctx, "/tokens", &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Pools implements IndexerSource.
func (c *IndexerClient) Pools(ctx context.Context) ([]entity.Pool, error) {
	var pools []entity.Pool
	if err := c.get(ctx, "/pools", &pools); err != nil {
		return nil, err
	}
	return pools, nil
}

// Pairs implements IndexerSource.
func (c *IndexerClient) Pairs(ctx context.Context) ([]entity.Pair, error) {
	var pairs []entity.Pair
	if err := c.get(ctx, "/pairs", &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

// VolumeBuckets implements IndexerSource.
func (c *IndexerClient) VolumeBuckets(ctx context.Context, bucketType entity.BucketType, from int64) ([]entity.VolumeBucket, error) {
	path := "/buckets?" + url.Values{
		"type": {string(bucketType)},
		"from": {strconv.FormatInt(from, 10)},
	}.Encode()
	var buckets []entity.VolumeBucket
	if err := c.get(ctx, path, &buckets); err != nil {
		return nil, err
	}
	return buckets, nil
}

// TokenVolumeBuckets implements IndexerSource.
func (c *IndexerClient) TokenVolumeBuckets(ctx context.Context, from int64) ([]entity.TokenVolumeBucket, error) {
	path := "/token-buckets?from=" + strconv.FormatInt(from, 10)
	var buckets []entity.TokenVolumeBucket
	if err := c.get(ctx, path, &buckets); err != nil {
		return nil, err
	}
	return buckets, nil
}

// PriceSnapshots implements IndexerSource.
func (c *IndexerClient) PriceSnapshots(ctx context.Context, from int64) ([]entity.PriceSnapshot, error) {
	path := "/snapshots?from=" + strconv.FormatInt(from, 10)
	var snaps []entity.PriceSnapshot
	if err := c.get(ctx, path, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// RecentSwaps implements IndexerSource.
func (c *IndexerClient) RecentSwaps(ctx context.Context, limit int) ([]entity.SwapRecord, error) {
	path := "/swaps?limit=" + strconv.Itoa(limit)
	var swaps []entity.SwapRecord
	if err := c.get(ctx, path, &swaps); err != nil {
		return nil, err
	}
	return swaps, nil
}

// BridgeVolumes implements IndexerSource. Keys are normalized bridge
// contract addresses, values 24h USD volume.
func (c *IndexerClient) BridgeVolumes(ctx context.Context) (map[string]float64, error) {
	volumes := make(map[string]float64)
	if err := c.get(ctx, "/bridge-volumes", &volumes); err != nil {
		return nil, err
	}
	normalized := make(map[string]float64, len(volumes))
	for addr, v := range volumes {
		normalized[entity.NormalizeAddress(addr)] = v
	}
	return normalized, nil
}
