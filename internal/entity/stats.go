package entity

import "time"

// SparklinePoints is the fixed length of the hourly price sparkline,
// covering now-24h .. now.
const SparklinePoints = 24

// TokenStats is the per-token slice of the produced interface. Change
// percentages are pointers so that an uncomputable change is omitted rather
// than emitted as 0 or a non-finite number.
type TokenStats struct {
	Token
	PriceUSD  float64   `json:"priceUSD"`
	Change1h  *float64  `json:"change1h,omitempty"`
	Change24h *float64  `json:"change24h,omitempty"`
	FDVUSD    float64   `json:"fdvUSD"`
	Volume1h  float64   `json:"volume1h"`
	Volume1d  float64   `json:"volume1d"`
	Volume1w  float64   `json:"volume1w"`
	Volume1m  float64   `json:"volume1m"`
	Volume1y  float64   `json:"volume1y"`
	Sparkline []float64 `json:"sparkline,omitempty"`
}

// TokenLeg is the token sub-object embedded in pool/pair stats.
type TokenLeg struct {
	Address  string  `json:"address"`
	Symbol   string  `json:"symbol"`
	Decimals uint8   `json:"decimals"`
	PriceUSD float64 `json:"priceUSD"`
}

// PoolStats covers one generation-A pool.
type PoolStats struct {
	Address      string   `json:"address"`
	FeeTier      uint32   `json:"feeTier"`
	Token0       TokenLeg `json:"token0"`
	Token1       TokenLeg `json:"token1"`
	LiquidityUSD float64  `json:"liquidityUSD"`
	TxCount      uint64   `json:"txCount"`
	Trades1d     uint64   `json:"trades1d"`
	Volume1d     float64  `json:"volume1d"`
	Volume30d    float64  `json:"volume30d"`
}

// PairStats covers one generation-B pair.
type PairStats struct {
	Address      string   `json:"address"`
	Token0       TokenLeg `json:"token0"`
	Token1       TokenLeg `json:"token1"`
	LiquidityUSD float64  `json:"liquidityUSD"`
	TxCount      uint64   `json:"txCount"`
	Trades1d     uint64   `json:"trades1d"`
	Volume1d     float64  `json:"volume1d"`
	Volume30d    float64  `json:"volume30d"`
}

// TransactionRecord is one recent trade with both legs and its USD value.
type TransactionRecord struct {
	Hash      string   `json:"hash"`
	Timestamp int64    `json:"timestamp"`
	Account   string   `json:"account"`
	ValueUSD  float64  `json:"valueUSD"`
	Token0    TokenLeg `json:"token0"`
	Token1    TokenLeg `json:"token1"`
	Amount0   float64  `json:"amount0"`
	Amount1   float64  `json:"amount1"`
}

// ProtocolStats are the chain-wide rollups, split by pool generation plus
// the bridge category which bypasses the derivation engine entirely.
type ProtocolStats struct {
	PoolTVLUSD         float64 `json:"poolTVLUSD"`
	PairTVLUSD         float64 `json:"pairTVLUSD"`
	BridgeTVLUSD       float64 `json:"bridgeTVLUSD"`
	PoolVolume24hUSD   float64 `json:"poolVolume24hUSD"`
	PairVolume24hUSD   float64 `json:"pairVolume24hUSD"`
	BridgeVolume24hUSD float64 `json:"bridgeVolume24hUSD"`
}

// StatsResponse is the assembled per-chain statistics object served from the
// orchestrator cache.
type StatsResponse struct {
	ChainID      int64               `json:"chainID"`
	Tokens       []TokenStats        `json:"tokens"`
	Pools        []PoolStats         `json:"pools"`
	Pairs        []PairStats         `json:"pairs"`
	Transactions []TransactionRecord `json:"transactions"`
	Protocol     ProtocolStats       `json:"protocol"`
	ComputedAt   time.Time           `json:"computedAt"`
}
