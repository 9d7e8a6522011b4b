package oracle

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	base  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	quote = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

func TestSetDecimal(t *testing.T) {
	o := NewStaticOracle(8)
	require.NoError(t, o.SetDecimal(base, quote, "1.0023"))

	p, dec, err := o.Price(context.Background(), base, quote)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), dec)
	assert.Equal(t, uint256.NewInt(100_230_000), p)
}

func TestSetDecimalRejectsNegative(t *testing.T) {
	o := NewStaticOracle(8)
	assert.Error(t, o.SetDecimal(base, quote, "-1"))
	assert.Error(t, o.SetDecimal(base, quote, "not-a-number"))
}

func TestSamePairIsPar(t *testing.T) {
	o := NewStaticOracle(8)
	p, dec, err := o.Price(context.Background(), base, base)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), dec)
	assert.Equal(t, uint256.NewInt(100_000_000), p)
}

func TestInversePairFallback(t *testing.T) {
	o := NewStaticOracle(8)
	require.NoError(t, o.SetDecimal(base, quote, "2.0"))

	// quote/base is served from the inverse of base/quote.
	p, _, err := o.Price(context.Background(), quote, base)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(50_000_000), p)
}

func TestUnknownPair(t *testing.T) {
	o := NewStaticOracle(8)
	_, _, err := o.Price(context.Background(), base, quote)
	assert.Error(t, err)
}
