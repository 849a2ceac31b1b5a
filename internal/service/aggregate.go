package service

import (
	"context"
	"time"

	"dexstats/internal/entity"
	"dexstats/internal/onchain"
	"dexstats/internal/pkg/metrics"
	"dexstats/internal/pkg/utils"

	"go.uber.org/zap"
)

// Window durations for volume aggregation.
const (
	Window1h   = time.Hour
	Window24h  = 24 * time.Hour
	Window7d   = 7 * 24 * time.Hour
	Window30d  = 30 * 24 * time.Hour
	Window365d = 365 * 24 * time.Hour
)

// PoolSides is the token pair of a pool of either generation, used to price
// volume buckets and project pool volume onto tokens.
type PoolSides struct {
	Token0 string
	Token1 string
}

// BuildPoolSides indexes both pool generations by normalized address.
func BuildPoolSides(pools []entity.Pool, pairs []entity.Pair) map[string]PoolSides {
	sides := make(map[string]PoolSides, len(pools)+len(pairs))
	for _, p := range pools {
		sides[entity.NormalizeAddress(p.Address)] = PoolSides{Token0: p.Token0, Token1: p.Token1}
	}
	for _, p := range pairs {
		sides[entity.NormalizeAddress(p.Address)] = PoolSides{Token0: p.Token0, Token1: p.Token1}
	}
	return sides
}

// Aggregator sums TVL and windowed volume across both pool generations.
type Aggregator struct {
	chainLabel string
	logger     *zap.Logger
}

// NewAggregator returns an aggregator; chainLabel tags its metrics.
func NewAggregator(chainLabel string, logger *zap.Logger) *Aggregator {
	return &Aggregator{chainLabel: chainLabel, logger: logger.Named("Aggregator")}
}

// PoolTVLs computes per-pool TVL for generation A by reading the balances
// both pool tokens hold at the pool contract in one batched round. A side
// without a resolved price contributes nothing; a pool with both sides
// unresolved or both reads failed contributes 0.
func (a *Aggregator) PoolTVLs(
	ctx context.Context,
	reader onchain.Reader,
	pools []entity.Pool,
	tokensByAddr map[string]entity.Token,
	prices entity.PriceMap,
) (map[string]float64, float64) {
	tvls := make(map[string]float64, len(pools))
	if len(pools) == 0 {
		return tvls, 0
	}

	queries := make([]onchain.BalanceQuery, 0, len(pools)*2)
	for _, pool := range pools {
		queries = append(queries,
			onchain.BalanceQuery{Token: pool.Token0, Holder: pool.Address},
			onchain.BalanceQuery{Token: pool.Token1, Holder: pool.Address},
		)
	}
	balances, err := reader.Balances(ctx, queries)
	if err != nil {
		a.logger.Warn("Batched balance read failed, pool TVL degraded to zero", zap.Error(err))
		return tvls, 0
	}

	var total float64
	for i, pool := range pools {
		tvl := a.sideValue(balances[2*i], pool.Token0, tokensByAddr, prices) +
			a.sideValue(balances[2*i+1], pool.Token1, tokensByAddr, prices)
		tvls[entity.NormalizeAddress(pool.Address)] = tvl
		total += tvl
	}
	return tvls, total
}

func (a *Aggregator) sideValue(balance onchain.Uint256Result, tokenAddr string, tokensByAddr map[string]entity.Token, prices entity.PriceMap) float64 {
	if !balance.OK {
		return 0
	}
	price := prices.Get(tokenAddr)
	if price == 0 {
		return 0
	}
	token, ok := tokensByAddr[entity.NormalizeAddress(tokenAddr)]
	if !ok {
		return 0
	}
	return utils.ToTokenUnits(balance.Value, token.Decimals) * price
}

// PairTVLs computes per-pair TVL for generation B. These pairs always hold
// the protocol stable unit on one side, so TVL is twice the price-weighted
// stable reserve regardless of whether the other side is priced.
func (a *Aggregator) PairTVLs(
	ctx context.Context,
	reader onchain.Reader,
	pairs []entity.Pair,
	stableUnit string,
	tokensByAddr map[string]entity.Token,
	prices entity.PriceMap,
) (map[string]float64, float64) {
	tvls := make(map[string]float64, len(pairs))
	if len(pairs) == 0 {
		return tvls, 0
	}

	addrs := make([]string, len(pairs))
	for i, pair := range pairs {
		addrs[i] = pair.Address
	}
	reserves, err := reader.Reserves(ctx, addrs)
	if err != nil {
		a.logger.Warn("Batched reserves read failed, pair TVL degraded to zero", zap.Error(err))
		return tvls, 0
	}

	stable := entity.NormalizeAddress(stableUnit)
	stablePrice := prices.Get(stable)
	var total float64
	for i, pair := range pairs {
		if !reserves[i].OK || stablePrice == 0 {
			tvls[entity.NormalizeAddress(pair.Address)] = 0
			continue
		}
		stableToken, ok := tokensByAddr[stable]
		if !ok {
			continue
		}
		var stableReserve float64
		switch stable {
		case entity.NormalizeAddress(pair.Token0):
			stableReserve = utils.ToTokenUnits(reserves[i].Reserve0, stableToken.Decimals)
		case entity.NormalizeAddress(pair.Token1):
			stableReserve = utils.ToTokenUnits(reserves[i].Reserve1, stableToken.Decimals)
		default:
			// Not actually paired with the stable unit; nothing safe to assume.
			continue
		}
		tvl := 2 * stableReserve * stablePrice
		tvls[entity.NormalizeAddress(pair.Address)] = tvl
		total += tvl
	}
	return tvls, total
}

// PoolVolumes sums bucket volume per pool for buckets starting at or after
// from, in USD. Whichever side has a resolved price carries the bucket; a
// bucket with neither side priced is excluded from totals and counted on
// the coverage-gap metric instead of being masked as zero activity.
func (a *Aggregator) PoolVolumes(
	buckets []entity.VolumeBucket,
	sides map[string]PoolSides,
	tokensByAddr map[string]entity.Token,
	prices entity.PriceMap,
	from int64,
) map[string]float64 {
	volumes := make(map[string]float64)
	for _, bucket := range buckets {
		if bucket.StartTime < from {
			continue
		}
		poolKey := entity.NormalizeAddress(bucket.PoolAddress)
		side, ok := sides[poolKey]
		if !ok {
			continue
		}
		usd, ok := a.bucketUSD(bucket, side, tokensByAddr, prices)
		if !ok {
			metrics.VolumeCoverageGap.WithLabelValues(a.chainLabel).Inc()
			continue
		}
		volumes[poolKey] += usd
	}
	return volumes
}

func (a *Aggregator) bucketUSD(bucket entity.VolumeBucket, side PoolSides, tokensByAddr map[string]entity.Token, prices entity.PriceMap) (float64, bool) {
	if price := prices.Get(side.Token0); price != 0 {
		if token, ok := tokensByAddr[entity.NormalizeAddress(side.Token0)]; ok {
			return utils.ParseTokenUnits(bucket.Volume0, token.Decimals) * price, true
		}
	}
	if price := prices.Get(side.Token1); price != 0 {
		if token, ok := tokensByAddr[entity.NormalizeAddress(side.Token1)]; ok {
			return utils.ParseTokenUnits(bucket.Volume1, token.Decimals) * price, true
		}
	}
	return 0, false
}

// TradeCounts sums bucket trade counts per pool for buckets at or after from.
func (a *Aggregator) TradeCounts(buckets []entity.VolumeBucket, from int64) map[string]uint64 {
	counts := make(map[string]uint64)
	for _, bucket := range buckets {
		if bucket.StartTime < from {
			continue
		}
		counts[entity.NormalizeAddress(bucket.PoolAddress)] += bucket.TradeCount
	}
	return counts
}

// TokenVolumesDirect sums per-token hourly buckets at or after from, priced
// at the token's current price. Used for the short (1h, 24h) windows only.
func (a *Aggregator) TokenVolumesDirect(
	buckets []entity.TokenVolumeBucket,
	tokensByAddr map[string]entity.Token,
	prices entity.PriceMap,
	from int64,
) map[string]float64 {
	volumes := make(map[string]float64)
	for _, bucket := range buckets {
		if bucket.StartTime < from {
			continue
		}
		key := entity.NormalizeAddress(bucket.TokenAddress)
		price := prices.Get(key)
		if price == 0 {
			continue
		}
		token, ok := tokensByAddr[key]
		if !ok {
			continue
		}
		volumes[key] += utils.ParseTokenUnits(bucket.Volume, token.Decimals) * price
	}
	return volumes
}

// ProjectTokenVolumes derives per-token volume for the long windows by
// projecting every pool's windowed USD volume onto both of its constituent
// tokens. Each trade is therefore counted once per pool side rather than
// once per trade; the doubled convention is intentional and relied on by
// downstream consumers.
func (a *Aggregator) ProjectTokenVolumes(poolVolumes map[string]float64, sides map[string]PoolSides) map[string]float64 {
	volumes := make(map[string]float64)
	for poolAddr, usd := range poolVolumes {
		side, ok := sides[poolAddr]
		if !ok {
			continue
		}
		volumes[entity.NormalizeAddress(side.Token0)] += usd
		volumes[entity.NormalizeAddress(side.Token1)] += usd
	}
	return volumes
}
