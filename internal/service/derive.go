package service

import (
	"context"
	"math"
	"math/big"

	"dexstats/internal/entity"
	"dexstats/internal/onchain"

	"go.uber.org/zap"
)

// Reference is the one-hop reference pool selected for a token: the first
// pool in iteration order that links it to an already-priced counterpart.
type Reference struct {
	Pool        entity.Pool
	Counterpart string
	IsToken0    bool // whether the referenced token is the pool's token0
}

// DerivationEngine fills a seeded PriceMap by one-hop derivation through
// generation-A pools. First-match, single-hop only: tokens more than one hop
// from a known-priced token stay unresolved, and a derived price is never
// revisited within a cycle.
type DerivationEngine struct {
	logger *zap.Logger
}

// NewDerivationEngine returns a derivation engine.
func NewDerivationEngine(logger *zap.Logger) *DerivationEngine {
	return &DerivationEngine{logger: logger.Named("DerivationEngine")}
}

// SelectReferences picks, for every token with price 0 in the map, the first
// pool where it appears and its counterpart already has a non-zero price.
// The returned map is keyed by normalized token address. Tokens that already
// have a price get a reference too (used by the history engine) but are not
// re-derived.
func SelectReferences(tokens []entity.Token, prices entity.PriceMap, pools []entity.Pool) map[string]Reference {
	refs := make(map[string]Reference)
	for _, token := range tokens {
		key := entity.NormalizeAddress(token.Address)
		for _, pool := range pools {
			if !pool.Involves(token.Address) {
				continue
			}
			counterpart, isToken0 := pool.Counterpart(token.Address)
			if prices.Get(counterpart) == 0 {
				continue
			}
			refs[key] = Reference{Pool: pool, Counterpart: counterpart, IsToken0: isToken0}
			break
		}
	}
	return refs
}

// Derive resolves prices for all still-unpriced tokens that have a
// reference, reading every reference pool's current sqrt price in one
// batched round. Returns the references so later phases reuse them.
func (e *DerivationEngine) Derive(
	ctx context.Context,
	reader onchain.Reader,
	tokens []entity.Token,
	tokensByAddr map[string]entity.Token,
	prices entity.PriceMap,
	pools []entity.Pool,
) map[string]Reference {
	refs := SelectReferences(tokens, prices, pools)

	// Collect the pools needed for unresolved tokens only.
	type pending struct {
		tokenAddr string
		ref       Reference
	}
	var work []pending
	poolIndex := make(map[string]int)
	var poolAddrs []string
	for _, token := range tokens {
		key := entity.NormalizeAddress(token.Address)
		if prices.Get(key) != 0 {
			continue
		}
		ref, ok := refs[key]
		if !ok {
			continue
		}
		poolKey := entity.NormalizeAddress(ref.Pool.Address)
		if _, seen := poolIndex[poolKey]; !seen {
			poolIndex[poolKey] = len(poolAddrs)
			poolAddrs = append(poolAddrs, ref.Pool.Address)
		}
		work = append(work, pending{tokenAddr: key, ref: ref})
	}
	if len(work) == 0 {
		return refs
	}

	sqrtPrices, err := reader.SqrtPrices(ctx, poolAddrs)
	if err != nil {
		e.logger.Warn("Batched slot0 read failed, leaving tokens unresolved",
			zap.Int("tokenCount", len(work)), zap.Error(err))
		return refs
	}

	derived := 0
	for _, item := range work {
		result := sqrtPrices[poolIndex[entity.NormalizeAddress(item.ref.Pool.Address)]]
		if !result.OK {
			continue
		}
		token0, ok0 := tokensByAddr[entity.NormalizeAddress(item.ref.Pool.Token0)]
		token1, ok1 := tokensByAddr[entity.NormalizeAddress(item.ref.Pool.Token1)]
		if !ok0 || !ok1 {
			continue
		}
		ratio := PoolRatio(result.Value, token0.Decimals, token1.Decimals)
		price := DerivePrice(ratio, prices.Get(item.ref.Counterpart), item.ref.IsToken0)
		if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
			continue
		}
		if prices.SetIfUnset(item.tokenAddr, price) {
			derived++
		}
	}
	e.logger.Debug("One-hop price derivation completed",
		zap.Int("candidates", len(work)), zap.Int("derived", derived))
	return refs
}

// PoolRatio converts a Q64.96 square-root price to the pool's token0 price
// expressed in token1 units: (sqrtPriceX96 / 2^96)^2 * 10^(dec0-dec1).
func PoolRatio(sqrtPriceX96 *big.Int, decimals0, decimals1 uint8) float64 {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return 0
	}
	q96 := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	sqrt := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), q96)
	ratio, _ := new(big.Float).Mul(sqrt, sqrt).Float64()
	return ratio * math.Pow(10, float64(decimals0)-float64(decimals1))
}

// DerivePrice turns a pool ratio and the counterpart's USD price into the
// unknown token's USD price. A zero ratio on the division side yields 0
// (unresolved) instead of infinity.
func DerivePrice(ratio, counterpartPrice float64, isToken0 bool) float64 {
	if counterpartPrice == 0 {
		return 0
	}
	if isToken0 {
		return ratio * counterpartPrice
	}
	if ratio == 0 {
		return 0
	}
	return counterpartPrice / ratio
}
