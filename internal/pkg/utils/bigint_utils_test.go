package utils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToTokenUnits(t *testing.T) {
	t.Parallel()

	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	assert.Equal(t, 1.0, ToTokenUnits(one, 18))

	half := new(big.Int).Div(one, big.NewInt(2))
	assert.InDelta(t, 0.5, ToTokenUnits(half, 18), 1e-12)

	assert.Equal(t, 1500.0, ToTokenUnits(big.NewInt(1500), 0))
	assert.InDelta(t, 0.00000123, ToTokenUnits(big.NewInt(123), 8), 1e-15)
	assert.Zero(t, ToTokenUnits(nil, 18))
}

func TestParseTokenUnits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, ParseTokenUnits("1000000000000000000", 18))
	assert.InDelta(t, 42.5, ParseTokenUnits("42500000", 6), 1e-12)

	assert.Zero(t, ParseTokenUnits("", 18))
	assert.Zero(t, ParseTokenUnits("not-a-number", 18))
	assert.Zero(t, ParseTokenUnits("0x1234", 18))
}
