package sharemath

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

const M = 1_000_000 // one whole unit at 6 decimals

func TestScale(t *testing.T) {
	assert.Equal(t, u(M), Scale(6))
	assert.Equal(t, u(1), Scale(0))
	assert.Equal(t, u(1_000_000_000_000_000_000), Scale(18))
}

func TestAssetToSharesAtPar(t *testing.T) {
	shares, err := AssetToShares(u(150*M), u(M), 6)
	require.NoError(t, err)
	assert.Equal(t, u(150*M), shares)
}

func TestAssetToSharesZeroPrice(t *testing.T) {
	_, err := AssetToShares(u(M), u(0), 6)
	assert.ErrorIs(t, err, ErrZeroPrice)
	_, err = AssetToShares(u(M), nil, 6)
	assert.ErrorIs(t, err, ErrZeroPrice)
}

func TestRoundTripNeverGains(t *testing.T) {
	// Floor division may lose dust on each leg, but a round trip can never
	// come back with more than went in.
	prices := []uint64{M, 999_999, 1_090_000, 3, 7_777_777}
	amounts := []uint64{1, 999, M, 123_456_789, 987 * M}
	for _, p := range prices {
		for _, a := range amounts {
			shares, err := AssetToShares(u(a), u(p), 6)
			require.NoError(t, err)
			back, err := SharesToAsset(shares, u(p), 6)
			require.NoError(t, err)
			assert.False(t, back.Gt(u(a)), "price %d amount %d: %s > %d", p, a, back.Dec(), a)
		}
	}
}

func TestSharesToAssetAppreciated(t *testing.T) {
	// 100 shares at price 1.09 pay out 109 units.
	amount, err := SharesToAsset(u(100*M), u(1_090_000), 6)
	require.NoError(t, err)
	assert.Equal(t, u(109*M), amount)
}

func TestPricePerShareFirstRound(t *testing.T) {
	// No supply outstanding prices a share at exactly one whole unit.
	pps, err := PricePerShare(u(0), u(500*M), u(500*M), 6)
	require.NoError(t, err)
	assert.Equal(t, u(M), pps)

	pps, err = PricePerShare(nil, u(0), u(0), 6)
	require.NoError(t, err)
	assert.Equal(t, u(M), pps)
}

func TestPricePerShareExcludesPending(t *testing.T) {
	// 1000 shares backing 1100 of assets, 100 of which is undeployed new
	// principal: the share price reflects only the 1000 that earned.
	pps, err := PricePerShare(u(1000*M), u(1100*M), u(100*M), 6)
	require.NoError(t, err)
	assert.Equal(t, u(M), pps)
}

func TestPricePerSharePendingAboveBalance(t *testing.T) {
	_, err := PricePerShare(u(M), u(100), u(200), 6)
	assert.ErrorIs(t, err, ErrUnderflow)
}

func TestSharesFromReceiptUnpriced(t *testing.T) {
	// Zero-round (never deposited) and current-round receipts only count
	// their already-settled shares.
	shares, err := SharesFromReceipt(0, 5, u(100*M), u(7*M), nil, 6)
	require.NoError(t, err)
	assert.Equal(t, u(7*M), shares)

	shares, err = SharesFromReceipt(5, 5, u(100*M), u(7*M), nil, 6)
	require.NoError(t, err)
	assert.Equal(t, u(7*M), shares)
}

func TestSharesFromReceiptClosedRound(t *testing.T) {
	// Principal from a closed round converts at that round's price and adds
	// to the carried shares: 100 / 1.25 + 7 = 87.
	shares, err := SharesFromReceipt(3, 5, u(100*M), u(7*M), u(1_250_000), 6)
	require.NoError(t, err)
	assert.Equal(t, u(87*M), shares)
}

func TestSharesFromReceiptClosedRoundNoPrice(t *testing.T) {
	_, err := SharesFromReceipt(3, 5, u(100*M), u(0), u(0), 6)
	assert.ErrorIs(t, err, ErrZeroPrice)
}
