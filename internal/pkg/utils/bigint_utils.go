package utils

import (
	"math/big"
)

// ToTokenUnits converts a raw fixed-point amount to a float64 in whole token
// units, dividing by 10^decimals. Nil amounts convert to 0.
func ToTokenUnits(amount *big.Int, decimals uint8) float64 {
	if amount == nil {
		return 0
	}
	amountFloat := new(big.Float).SetInt(amount)
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value, _ := new(big.Float).Quo(amountFloat, divisor).Float64()
	return value
}

// ParseTokenUnits parses a decimal string of raw fixed-point units (as the
// indexer emits them) into whole token units. Malformed strings convert to 0
// rather than erroring; callers treat them as missing data.
func ParseTokenUnits(raw string, decimals uint8) float64 {
	if raw == "" {
		return 0
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return 0
	}
	return ToTokenUnits(amount, decimals)
}
