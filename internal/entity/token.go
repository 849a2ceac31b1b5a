package entity

import "strings"

// Token represents an ERC20 token known to the engine for one chain.
// Addresses are compared case-insensitively; NormalizeAddress is the
// canonical form used as map key everywhere.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	ChainID  int64  `json:"chainID"`
}

// PriceCategory classifies how a token's USD price is obtained.
type PriceCategory int

const (
	CategoryUnknown PriceCategory = iota
	CategoryBTCPegged
	CategoryStablecoin
)

func (c PriceCategory) String() string {
	switch c {
	case CategoryBTCPegged:
		return "btc-pegged"
	case CategoryStablecoin:
		return "stablecoin"
	default:
		return "unknown"
	}
}

// NormalizeAddress lowercases an address for case-insensitive lookups.
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}

// PriceMap maps normalized token address to its resolved USD price for the
// current computation cycle. Zero means "unresolved"; derivation only fills
// zeros and never overwrites a non-zero entry.
type PriceMap map[string]float64

// Get returns the resolved price for addr, or 0 if unresolved.
func (m PriceMap) Get(addr string) float64 {
	return m[NormalizeAddress(addr)]
}

// SetIfUnset stores price under addr unless a non-zero price is already
// present. Returns true if the value was stored.
func (m PriceMap) SetIfUnset(addr string, price float64) bool {
	key := NormalizeAddress(addr)
	if m[key] != 0 {
		return false
	}
	m[key] = price
	return true
}
