package service

import (
	"context"
	"math"
	"time"

	"dexstats/internal/client"
	"dexstats/internal/config"
	"dexstats/internal/entity"
	"dexstats/internal/onchain"
	"dexstats/internal/pkg/utils"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	recentSwapLimit = 50
	// Snapshots are fetched slightly past the longest lookback so the
	// tolerance window around now-24h is always covered.
	snapshotLookback      = 25 * time.Hour
	equityPriceDecimals   = 18
	bridgeCounterDecimals = 18
)

// yearlyVolumeKey is the secondary-cache key prefix for the 365d bucket fetch.
const yearlyVolumeKey = "yearly-buckets"

// StatsComputer performs one full stats computation for a single chain:
// parallel source fetches, price seeding and derivation, then history and
// aggregation over the completed price map.
type StatsComputer struct {
	chain    config.ChainNode
	indexer  client.IndexerSource
	reader   onchain.Reader
	resolver *KnownPriceResolver
	derive   *DerivationEngine
	history  *HistoryEngine
	agg      *Aggregator
	yearly   *gocache.Cache
	logger   *zap.Logger
	now      func() time.Time
}

// NewStatsComputer wires a computer for one chain. yearlyCache holds the
// expensive 365-day bucket fetch for its longer TTL; now may be nil outside
// of tests.
func NewStatsComputer(
	chain config.ChainNode,
	indexer client.IndexerSource,
	reader onchain.Reader,
	resolver *KnownPriceResolver,
	yearlyCache *gocache.Cache,
	logger *zap.Logger,
	now func() time.Time,
) *StatsComputer {
	if now == nil {
		now = time.Now
	}
	logger = logger.Named("StatsComputer").With(zap.Int64("chainID", chain.ChainID))
	return &StatsComputer{
		chain:    chain,
		indexer:  indexer,
		reader:   reader,
		resolver: resolver,
		derive:   NewDerivationEngine(logger),
		history:  NewHistoryEngine(logger),
		agg:      NewAggregator(chain.Name, logger),
		yearly:   yearlyCache,
		logger:   logger,
		now:      now,
	}
}

// sources is everything fetched concurrently before derivation begins.
type sources struct {
	tokens        []entity.Token
	pools         []entity.Pool
	pairs         []entity.Pair
	hourlyBuckets []entity.VolumeBucket
	dailyBuckets  []entity.VolumeBucket
	yearlyBuckets []entity.VolumeBucket
	tokenBuckets  []entity.TokenVolumeBucket
	snapshots     []entity.PriceSnapshot
	swaps         []entity.SwapRecord
	bridgeVolumes map[string]float64
	market        client.FeedMarketData
}

// Compute runs one full computation cycle and assembles the response.
func (s *StatsComputer) Compute(ctx context.Context) (*entity.StatsResponse, error) {
	now := s.now()
	src := s.fetchSources(ctx, now)

	tokensByAddr := s.buildTokenIndex(src.tokens)
	src.tokens = appendSynthesized(src.tokens, tokensByAddr, s.chain)

	prices := s.seedPrices(ctx, src.tokens)
	refs := s.derive.Derive(ctx, s.reader, src.tokens, tokensByAddr, prices, src.pools)

	sides := BuildPoolSides(src.pools, src.pairs)
	snapshots := BuildSnapshotIndex(src.snapshots)

	var (
		poolTVLs, pairTVLs map[string]float64
		poolTVLTotal       float64
		pairTVLTotal       float64
		supplies           []onchain.Uint256Result
		bridgeMinted       []onchain.Uint256Result
		supplyAddrs        []string
		bridgeAddrs        []string
	)
	for _, bridge := range s.chain.Bridges {
		bridgeAddrs = append(bridgeAddrs, bridge.Address)
	}
	for _, token := range src.tokens {
		supplyAddrs = append(supplyAddrs, token.Address)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		poolTVLs, poolTVLTotal = s.agg.PoolTVLs(gctx, s.reader, src.pools, tokensByAddr, prices)
		return nil
	})
	g.Go(func() error {
		pairTVLs, pairTVLTotal = s.agg.PairTVLs(gctx, s.reader, src.pairs, s.chain.StableUnit, tokensByAddr, prices)
		return nil
	})
	g.Go(func() error {
		var err error
		supplies, err = s.reader.TotalSupplies(gctx, supplyAddrs)
		if err != nil {
			s.logger.Warn("Total supply batch failed, FDV degraded to zero", zap.Error(err))
			supplies = make([]onchain.Uint256Result, len(supplyAddrs))
		}
		return nil
	})
	g.Go(func() error {
		var err error
		bridgeMinted, err = s.reader.BridgeMinted(gctx, bridgeAddrs)
		if err != nil {
			s.logger.Warn("Bridge minted batch failed, bridge TVL degraded to zero", zap.Error(err))
			bridgeMinted = make([]onchain.Uint256Result, len(bridgeAddrs))
		}
		return nil
	})
	_ = g.Wait()

	trades24h := s.agg.TradeCounts(src.hourlyBuckets, now.Add(-Window24h).Unix())
	poolVol24h := s.agg.PoolVolumes(src.hourlyBuckets, sides, tokensByAddr, prices, now.Add(-Window24h).Unix())
	poolVol7d := s.agg.PoolVolumes(src.dailyBuckets, sides, tokensByAddr, prices, now.Add(-Window7d).Unix())
	poolVol30d := s.agg.PoolVolumes(src.dailyBuckets, sides, tokensByAddr, prices, now.Add(-Window30d).Unix())
	poolVol365d := s.agg.PoolVolumes(src.yearlyBuckets, sides, tokensByAddr, prices, now.Add(-Window365d).Unix())

	tokenVol1h := s.agg.TokenVolumesDirect(src.tokenBuckets, tokensByAddr, prices, now.Add(-Window1h).Unix())
	tokenVol1d := s.agg.TokenVolumesDirect(src.tokenBuckets, tokensByAddr, prices, now.Add(-Window24h).Unix())
	tokenVol1w := s.agg.ProjectTokenVolumes(poolVol7d, sides)
	tokenVol1m := s.agg.ProjectTokenVolumes(poolVol30d, sides)
	tokenVol1y := s.agg.ProjectTokenVolumes(poolVol365d, sides)

	resp := &entity.StatsResponse{
		ChainID:    s.chain.ChainID,
		ComputedAt: now,
	}

	for i, token := range src.tokens {
		key := entity.NormalizeAddress(token.Address)
		price := prices.Get(key)
		if price == 0 {
			continue
		}
		tp := s.tokenPricing(token, price, refs, prices)
		ch1h, ch24h := s.history.Changes(tp, src.market, snapshots, now)

		stat := entity.TokenStats{
			Token:     token,
			PriceUSD:  price,
			Change1h:  ch1h,
			Change24h: ch24h,
			Volume1h:  tokenVol1h[key],
			Volume1d:  tokenVol1d[key],
			Volume1w:  tokenVol1w[key],
			Volume1m:  tokenVol1m[key],
			Volume1y:  tokenVol1y[key],
			Sparkline: s.history.Sparkline(tp, src.market, snapshots, now),
		}
		if i < len(supplies) && supplies[i].OK {
			fdv := utils.ToTokenUnits(supplies[i].Value, token.Decimals) * price
			if !math.IsNaN(fdv) && !math.IsInf(fdv, 0) {
				stat.FDVUSD = fdv
			}
		}
		resp.Tokens = append(resp.Tokens, stat)
	}

	for _, pool := range src.pools {
		key := entity.NormalizeAddress(pool.Address)
		resp.Pools = append(resp.Pools, entity.PoolStats{
			Address:      pool.Address,
			FeeTier:      pool.FeeTier,
			Token0:       s.tokenLeg(pool.Token0, tokensByAddr, prices),
			Token1:       s.tokenLeg(pool.Token1, tokensByAddr, prices),
			LiquidityUSD: poolTVLs[key],
			TxCount:      pool.TxCount,
			Trades1d:     trades24h[key],
			Volume1d:     poolVol24h[key],
			Volume30d:    poolVol30d[key],
		})
	}
	for _, pair := range src.pairs {
		key := entity.NormalizeAddress(pair.Address)
		resp.Pairs = append(resp.Pairs, entity.PairStats{
			Address:      pair.Address,
			Token0:       s.tokenLeg(pair.Token0, tokensByAddr, prices),
			Token1:       s.tokenLeg(pair.Token1, tokensByAddr, prices),
			LiquidityUSD: pairTVLs[key],
			TxCount:      pair.TxCount,
			Trades1d:     trades24h[key],
			Volume1d:     poolVol24h[key],
			Volume30d:    poolVol30d[key],
		})
	}

	resp.Transactions = s.buildTransactions(src.swaps, sides, tokensByAddr, prices)

	var bridgeTVL, bridgeVol float64
	for i, bridge := range s.chain.Bridges {
		if i < len(bridgeMinted) && bridgeMinted[i].OK {
			// Bridge assets are 1:1 with the stable unit, so minted
			// counters convert straight to USD.
			bridgeTVL += utils.ToTokenUnits(bridgeMinted[i].Value, bridgeCounterDecimals)
		}
		bridgeVol += src.bridgeVolumes[entity.NormalizeAddress(bridge.Address)]
	}

	resp.Protocol = entity.ProtocolStats{
		PoolTVLUSD:         poolTVLTotal,
		PairTVLUSD:         pairTVLTotal,
		BridgeTVLUSD:       bridgeTVL,
		PoolVolume24hUSD:   sumVolumes(poolVol24h, src.pools),
		PairVolume24hUSD:   sumPairVolumes(poolVol24h, src.pairs),
		BridgeVolume24hUSD: bridgeVol,
	}
	return resp, nil
}

// fetchSources issues all independent fetches concurrently and joins them.
// Every failure degrades to an empty collection: a partial source never
// aborts the cycle.
func (s *StatsComputer) fetchSources(ctx context.Context, now time.Time) *sources {
	src := &sources{bridgeVolumes: map[string]float64{}}
	g, gctx := errgroup.WithContext(ctx)

	fetch := func(name string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil {
				s.logger.Warn("Source fetch failed, degrading to empty",
					zap.String("source", name), zap.Error(err))
			}
			return nil
		})
	}

	fetch("tokens", func() error {
		var err error
		src.tokens, err = s.indexer.Tokens(gctx)
		return err
	})
	fetch("pools", func() error {
		var err error
		src.pools, err = s.indexer.Pools(gctx)
		return err
	})
	fetch("pairs", func() error {
		var err error
		src.pairs, err = s.indexer.Pairs(gctx)
		return err
	})
	fetch("hourly-buckets", func() error {
		var err error
		src.hourlyBuckets, err = s.indexer.VolumeBuckets(gctx, entity.BucketHourly, now.Add(-Window24h).Unix())
		return err
	})
	fetch("daily-buckets", func() error {
		var err error
		src.dailyBuckets, err = s.indexer.VolumeBuckets(gctx, entity.BucketDaily, now.Add(-Window30d).Unix())
		return err
	})
	fetch("yearly-buckets", func() error {
		var err error
		src.yearlyBuckets, err = s.yearlyBuckets(gctx, now)
		return err
	})
	fetch("token-buckets", func() error {
		var err error
		src.tokenBuckets, err = s.indexer.TokenVolumeBuckets(gctx, now.Add(-Window24h).Unix())
		return err
	})
	fetch("snapshots", func() error {
		var err error
		src.snapshots, err = s.indexer.PriceSnapshots(gctx, now.Add(-snapshotLookback).Unix())
		return err
	})
	fetch("swaps", func() error {
		var err error
		src.swaps, err = s.indexer.RecentSwaps(gctx, recentSwapLimit)
		return err
	})
	fetch("bridge-volumes", func() error {
		volumes, err := s.indexer.BridgeVolumes(gctx)
		if err != nil {
			return err
		}
		src.bridgeVolumes = volumes
		return nil
	})
	fetch("btc-market", func() error {
		var err error
		src.market, err = s.resolver.BTCMarketData(gctx)
		return err
	})

	_ = g.Wait()
	return src
}

// yearlyBuckets consults the secondary long-TTL cache before hitting the
// indexer for the expensive 365-day fetch.
func (s *StatsComputer) yearlyBuckets(ctx context.Context, now time.Time) ([]entity.VolumeBucket, error) {
	if cached, found := s.yearly.Get(yearlyVolumeKey); found {
		return cached.([]entity.VolumeBucket), nil
	}
	buckets, err := s.indexer.VolumeBuckets(ctx, entity.BucketDaily, now.Add(-Window365d).Unix())
	if err != nil {
		return nil, err
	}
	s.yearly.Set(yearlyVolumeKey, buckets, gocache.DefaultExpiration)
	return buckets, nil
}

func (s *StatsComputer) buildTokenIndex(tokens []entity.Token) map[string]entity.Token {
	byAddr := make(map[string]entity.Token, len(tokens))
	for _, token := range tokens {
		byAddr[entity.NormalizeAddress(token.Address)] = token
	}
	return byAddr
}

// appendSynthesized adds placeholder tokens for configured known contracts
// the indexer did not report, so seeding and TVL still cover them.
func appendSynthesized(tokens []entity.Token, byAddr map[string]entity.Token, chain config.ChainNode) []entity.Token {
	known := append(append([]string{}, chain.BTCPeggedTokens...), chain.Stablecoins...)
	if chain.StableUnit != "" {
		known = append(known, chain.StableUnit)
	}
	for _, addr := range known {
		key := entity.NormalizeAddress(addr)
		if _, ok := byAddr[key]; ok {
			continue
		}
		synthesized := entity.Token{Address: addr, Decimals: 18, ChainID: chain.ChainID}
		byAddr[key] = synthesized
		tokens = append(tokens, synthesized)
	}
	return tokens
}

// seedPrices resolves the known categories into a fresh price map and reads
// the equity token's on-chain price accessor.
func (s *StatsComputer) seedPrices(ctx context.Context, tokens []entity.Token) entity.PriceMap {
	prices := make(entity.PriceMap, len(tokens))
	for _, token := range tokens {
		price, category, err := s.resolver.Resolve(ctx, s.chain.ChainID, token.Address)
		if err != nil {
			s.logger.Warn("Known price resolution failed",
				zap.String("token", token.Address),
				zap.String("category", category.String()),
				zap.Error(err))
			continue
		}
		if price > 0 {
			prices.SetIfUnset(token.Address, price)
		}
	}
	if s.chain.EquityToken != "" {
		result, err := s.reader.EquityPrice(ctx, s.chain.EquityToken)
		if err != nil || !result.OK {
			s.logger.Warn("Equity token price accessor failed", zap.Error(err))
		} else if price := utils.ToTokenUnits(result.Value, equityPriceDecimals); price > 0 {
			prices.SetIfUnset(s.chain.EquityToken, price)
		}
	}
	return prices
}

func (s *StatsComputer) tokenPricing(token entity.Token, price float64, refs map[string]Reference, prices entity.PriceMap) TokenPricing {
	tp := TokenPricing{
		Address:  token.Address,
		Category: s.resolver.Categorize(s.chain.ChainID, token.Address),
		Current:  price,
	}
	if ref, ok := refs[entity.NormalizeAddress(token.Address)]; ok {
		refCopy := ref
		tp.Ref = &refCopy
		tp.CounterCategory = s.resolver.Categorize(s.chain.ChainID, ref.Counterpart)
		tp.CounterCurrent = prices.Get(ref.Counterpart)
	}
	return tp
}

func (s *StatsComputer) tokenLeg(addr string, tokensByAddr map[string]entity.Token, prices entity.PriceMap) entity.TokenLeg {
	leg := entity.TokenLeg{Address: addr, PriceUSD: prices.Get(addr)}
	if token, ok := tokensByAddr[entity.NormalizeAddress(addr)]; ok {
		leg.Symbol = token.Symbol
		leg.Decimals = token.Decimals
	}
	return leg
}

func (s *StatsComputer) buildTransactions(swaps []entity.SwapRecord, sides map[string]PoolSides, tokensByAddr map[string]entity.Token, prices entity.PriceMap) []entity.TransactionRecord {
	records := make([]entity.TransactionRecord, 0, len(swaps))
	for _, swap := range swaps {
		record := entity.TransactionRecord{
			Hash:      swap.Hash,
			Timestamp: swap.Timestamp,
			Account:   swap.Account,
			Token0:    s.tokenLeg(swap.Token0, tokensByAddr, prices),
			Token1:    s.tokenLeg(swap.Token1, tokensByAddr, prices),
			Amount0:   swap.Amount0,
			Amount1:   swap.Amount1,
		}
		if record.Token0.PriceUSD != 0 {
			record.ValueUSD = math.Abs(swap.Amount0) * record.Token0.PriceUSD
		} else if record.Token1.PriceUSD != 0 {
			record.ValueUSD = math.Abs(swap.Amount1) * record.Token1.PriceUSD
		}
		records = append(records, record)
	}
	return records
}

func sumVolumes(volumes map[string]float64, pools []entity.Pool) float64 {
	var total float64
	for _, pool := range pools {
		total += volumes[entity.NormalizeAddress(pool.Address)]
	}
	return total
}

func sumPairVolumes(volumes map[string]float64, pairs []entity.Pair) float64 {
	var total float64
	for _, pair := range pairs {
		total += volumes[entity.NormalizeAddress(pair.Address)]
	}
	return total
}
