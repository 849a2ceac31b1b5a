package entity

// Pool is a generation-A (concentrated liquidity) pool: fee-tiered, price
// state read live from slot0 as a Q64.96 square-root ratio.
type Pool struct {
	Address string `json:"address"`
	Token0  string `json:"token0"`
	Token1  string `json:"token1"`
	FeeTier uint32 `json:"feeTier"`
	TxCount uint64 `json:"txCount"`
	ChainID int64  `json:"chainID"`
}

// Involves reports whether addr is one of the pool's two sides.
func (p Pool) Involves(addr string) bool {
	n := NormalizeAddress(addr)
	return NormalizeAddress(p.Token0) == n || NormalizeAddress(p.Token1) == n
}

// Counterpart returns the other side of the pool for addr, and whether addr
// is token0.
func (p Pool) Counterpart(addr string) (other string, isToken0 bool) {
	if NormalizeAddress(p.Token0) == NormalizeAddress(addr) {
		return p.Token1, true
	}
	return p.Token0, false
}

// Pair is a generation-B (constant product) pool. By protocol convention one
// side is always the stable unit, so TVL follows from the stable reserve
// alone. No historical price snapshots exist for this generation.
type Pair struct {
	Address string `json:"address"`
	Token0  string `json:"token0"`
	Token1  string `json:"token1"`
	TxCount uint64 `json:"txCount"`
	ChainID int64  `json:"chainID"`
}

// PriceSnapshot is a pool price ratio recorded by the indexer at swap time.
// Ratio is token0 priced in token1, decimals already applied.
type PriceSnapshot struct {
	PoolAddress string  `json:"poolAddress"`
	Ratio       float64 `json:"ratio"`
	Timestamp   int64   `json:"timestamp"`
}

// SwapRecord is a recent trade as reported by the indexer.
type SwapRecord struct {
	Hash        string  `json:"hash"`
	PoolAddress string  `json:"poolAddress"`
	Account     string  `json:"account"`
	Token0      string  `json:"token0"`
	Token1      string  `json:"token1"`
	Amount0     float64 `json:"amount0"`
	Amount1     float64 `json:"amount1"`
	Timestamp   int64   `json:"timestamp"`
}
