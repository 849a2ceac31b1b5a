package service

import (
	"math"
	"sort"
	"time"

	"dexstats/internal/client"
	"dexstats/internal/entity"

	"go.uber.org/zap"
)

// Snapshot tolerance windows: a historical point is only trusted when a
// recorded snapshot lies this close to the lookback instant.
const (
	Tolerance1h        = 30 * time.Minute
	Tolerance24h       = 60 * time.Minute
	sparklineTolerance = 30 * time.Minute
)

// SnapshotIndex holds per-pool price snapshots, time-ordered, keyed by
// normalized pool address.
type SnapshotIndex map[string][]entity.PriceSnapshot

// BuildSnapshotIndex groups snapshots by pool and sorts each pool's series
// by timestamp.
func BuildSnapshotIndex(snaps []entity.PriceSnapshot) SnapshotIndex {
	index := make(SnapshotIndex)
	for _, snap := range snaps {
		key := entity.NormalizeAddress(snap.PoolAddress)
		index[key] = append(index[key], snap)
	}
	for key := range index {
		series := index[key]
		sort.Slice(series, func(i, j int) bool { return series[i].Timestamp < series[j].Timestamp })
	}
	return index
}

// ClosestSnapshot finds the snapshot nearest to target: binary search for
// the first snapshot at/after target, compare against its predecessor, and
// accept the closer one only when it lies within tolerance.
func ClosestSnapshot(series []entity.PriceSnapshot, target int64, tolerance time.Duration) (entity.PriceSnapshot, bool) {
	if len(series) == 0 {
		return entity.PriceSnapshot{}, false
	}
	idx := sort.Search(len(series), func(i int) bool { return series[i].Timestamp >= target })

	best := -1
	switch {
	case idx == len(series):
		best = idx - 1
	case idx == 0:
		best = 0
	default:
		if target-series[idx-1].Timestamp <= series[idx].Timestamp-target {
			best = idx - 1
		} else {
			best = idx
		}
	}

	distance := series[best].Timestamp - target
	if distance < 0 {
		distance = -distance
	}
	if distance > int64(tolerance.Seconds()) {
		return entity.PriceSnapshot{}, false
	}
	return series[best], true
}

// TokenPricing carries everything the history engine needs about one token:
// its own category, resolved current price, and its one-hop reference pool
// with the counterpart's category and current price.
type TokenPricing struct {
	Address         string
	Category        entity.PriceCategory
	Current         float64
	Ref             *Reference
	CounterCategory entity.PriceCategory
	CounterCurrent  float64
}

// HistoryEngine reconstructs approximate historical prices at the fixed 1h
// and 24h lookbacks and the 24-point hourly sparkline.
type HistoryEngine struct {
	logger *zap.Logger
}

// NewHistoryEngine returns a history engine.
func NewHistoryEngine(logger *zap.Logger) *HistoryEngine {
	return &HistoryEngine{logger: logger.Named("HistoryEngine")}
}

// Changes computes percent-change-1h and percent-change-24h for a token.
// A nil result means the metric is omitted (unresolvable or non-finite).
func (e *HistoryEngine) Changes(tp TokenPricing, market client.FeedMarketData, index SnapshotIndex, now time.Time) (*float64, *float64) {
	ch1h := e.changeAt(tp, market, index, now, time.Hour, Tolerance1h, market.Change1h)
	ch24h := e.changeAt(tp, market, index, now, 24*time.Hour, Tolerance24h, market.Change24h)
	return ch1h, ch24h
}

func (e *HistoryEngine) changeAt(tp TokenPricing, market client.FeedMarketData, index SnapshotIndex, now time.Time, lookback time.Duration, tolerance time.Duration, feedChange float64) *float64 {
	if tp.Current <= 0 {
		return nil
	}
	switch tp.Category {
	case entity.CategoryStablecoin:
		return float64Ptr(0)
	case entity.CategoryBTCPegged:
		return float64Ptr(feedChange)
	}
	if tp.Ref == nil {
		return nil
	}

	target := now.Add(-lookback).Unix()
	series := index[entity.NormalizeAddress(tp.Ref.Pool.Address)]
	snap, ok := ClosestSnapshot(series, target, tolerance)
	if !ok {
		// No usable snapshot: reason from the counterpart category. A
		// stable-paired ratio is assumed constant over time, a BTC-paired
		// token is assumed to track the BTC curve.
		switch tp.CounterCategory {
		case entity.CategoryStablecoin:
			return float64Ptr(0)
		case entity.CategoryBTCPegged:
			return float64Ptr(feedChange)
		default:
			return nil
		}
	}

	historical := historicalTokenPrice(snap.Ratio, tp, feedChange)
	return percentChange(tp.Current, historical)
}

// historicalTokenPrice combines a snapshot ratio with the reconstructed
// historical counterpart price.
func historicalTokenPrice(ratio float64, tp TokenPricing, feedChange float64) float64 {
	counterHistorical := tp.CounterCurrent
	if tp.CounterCategory == entity.CategoryBTCPegged {
		denom := 1 + feedChange/100
		if denom == 0 {
			return 0
		}
		counterHistorical = tp.CounterCurrent / denom
	}
	if tp.Ref.IsToken0 {
		return ratio * counterHistorical
	}
	if ratio == 0 {
		return 0
	}
	return counterHistorical / ratio
}

func percentChange(current, historical float64) *float64 {
	if historical <= 0 {
		return nil
	}
	change := (current - historical) / historical * 100
	if math.IsNaN(change) || math.IsInf(change, 0) {
		return nil
	}
	return float64Ptr(change)
}

func float64Ptr(v float64) *float64 { return &v }

// Sparkline builds the fixed-length hourly price series from now-24h to
// now, oldest point first.
func (e *HistoryEngine) Sparkline(tp TokenPricing, market client.FeedMarketData, index SnapshotIndex, now time.Time) []float64 {
	if tp.Current <= 0 {
		return nil
	}
	targets := sparklineTargets(now)

	switch tp.Category {
	case entity.CategoryStablecoin:
		return flatLine(tp.Current)
	case entity.CategoryBTCPegged:
		return interpolatedCurve(market.Hourly, targets, tp.Current)
	}
	if tp.Ref == nil {
		return flatLine(tp.Current)
	}

	counterCurve := counterpartCurve(tp, market, targets)

	series := index[entity.NormalizeAddress(tp.Ref.Pool.Address)]
	points := make([]float64, entity.SparklinePoints)
	resolved := 0
	for i, target := range targets {
		snap, ok := ClosestSnapshot(series, target, sparklineTolerance)
		if !ok {
			continue
		}
		var value float64
		if tp.Ref.IsToken0 {
			value = snap.Ratio * counterCurve[i]
		} else if snap.Ratio != 0 {
			value = counterCurve[i] / snap.Ratio
		}
		if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		points[i] = value
		resolved++
	}

	// Mostly-gap data is worse than a scaled reference curve.
	if resolved < 2 {
		return scaledCurve(counterCurve, tp.Current, tp.CounterCurrent)
	}
	fillGaps(points)
	return points
}

func sparklineTargets(now time.Time) []int64 {
	targets := make([]int64, entity.SparklinePoints)
	end := now.Unix()
	for i := 0; i < entity.SparklinePoints; i++ {
		targets[i] = end - int64(entity.SparklinePoints-1-i)*3600
	}
	return targets
}

func flatLine(value float64) []float64 {
	points := make([]float64, entity.SparklinePoints)
	for i := range points {
		points[i] = value
	}
	return points
}

func counterpartCurve(tp TokenPricing, market client.FeedMarketData, targets []int64) []float64 {
	switch tp.CounterCategory {
	case entity.CategoryBTCPegged:
		return interpolatedCurve(market.Hourly, targets, tp.CounterCurrent)
	case entity.CategoryStablecoin:
		return flatLine(1.0)
	default:
		return flatLine(tp.CounterCurrent)
	}
}

// interpolatedCurve samples the feed's hourly series linearly at each target
// timestamp, clamping beyond the series ends. An empty series degrades to a
// flat line at fallback.
func interpolatedCurve(samples []client.FeedSample, targets []int64, fallback float64) []float64 {
	if len(samples) == 0 {
		return flatLine(fallback)
	}
	points := make([]float64, len(targets))
	for i, target := range targets {
		points[i] = interpolateAt(samples, target)
	}
	return points
}

func interpolateAt(samples []client.FeedSample, ts int64) float64 {
	idx := sort.Search(len(samples), func(i int) bool { return samples[i].Timestamp >= ts })
	if idx == 0 {
		return samples[0].PriceUSD
	}
	if idx == len(samples) {
		return samples[len(samples)-1].PriceUSD
	}
	left, right := samples[idx-1], samples[idx]
	span := right.Timestamp - left.Timestamp
	if span == 0 {
		return right.PriceUSD
	}
	frac := float64(ts-left.Timestamp) / float64(span)
	return left.PriceUSD + (right.PriceUSD-left.PriceUSD)*frac
}

// scaledCurve rescales the counterpart curve so its final point equals the
// token's current price.
func scaledCurve(counterCurve []float64, current, counterCurrent float64) []float64 {
	if counterCurrent <= 0 {
		return flatLine(current)
	}
	scale := current / counterCurrent
	points := make([]float64, len(counterCurve))
	for i, v := range counterCurve {
		points[i] = v * scale
	}
	return points
}

// fillGaps applies last-observation-carried-forward to zero entries, with
// leading gaps backfilled from the first available value.
func fillGaps(points []float64) {
	first := -1
	for i, v := range points {
		if v != 0 {
			first = i
			break
		}
	}
	if first < 0 {
		return
	}
	for i := 0; i < first; i++ {
		points[i] = points[first]
	}
	last := points[first]
	for i := first + 1; i < len(points); i++ {
		if points[i] == 0 {
			points[i] = last
		} else {
			last = points[i]
		}
	}
}
