package vault

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

const M = 1_000_000 // one whole unit at 6 decimals

const (
	perf10pct  = 10 * FeeScale         // 10% performance fee
	mgmt2pctWk = 2 * FeeScale * 7 / 365 // 2% annual, pro-rated weekly
)

func TestVaultFeesLosingRoundChargesNothing(t *testing.T) {
	// Locked went 1000 -> 900: no performance fee AND no management fee.
	perf, mgmt, total, err := VaultFees(u(900*M), u(1000*M), u(0), perf10pct, mgmt2pctWk)
	require.NoError(t, err)
	assert.True(t, perf.IsZero())
	assert.True(t, mgmt.IsZero())
	assert.True(t, total.IsZero())
}

func TestVaultFeesFlatRoundChargesNothing(t *testing.T) {
	perf, mgmt, total, err := VaultFees(u(1000*M), u(1000*M), u(0), perf10pct, mgmt2pctWk)
	require.NoError(t, err)
	assert.True(t, perf.IsZero())
	assert.True(t, mgmt.IsZero())
	assert.True(t, total.IsZero())
}

func TestVaultFeesGain(t *testing.T) {
	// 1000 -> 1100: gain 100, perf fee 10. Management fee applies to the
	// whole 1100 at the weekly rate.
	perf, mgmt, total, err := VaultFees(u(1100*M), u(1000*M), u(0), perf10pct, 0)
	require.NoError(t, err)
	assert.Equal(t, u(10*M), perf)
	assert.True(t, mgmt.IsZero())
	assert.Equal(t, u(10*M), total)

	_, mgmt, _, err = VaultFees(u(1100*M), u(1000*M), u(0), 0, mgmt2pctWk)
	require.NoError(t, err)
	// 1100e6 * 38356 / 1e8 = 421_916
	assert.Equal(t, u(421_916), mgmt)
}

func TestVaultFeesExcludesPendingFromGain(t *testing.T) {
	// Balance grew only because new deposits arrived; net of pending there is
	// no gain and no fee.
	perf, mgmt, total, err := VaultFees(u(1200*M), u(1000*M), u(200*M), perf10pct, mgmt2pctWk)
	require.NoError(t, err)
	assert.True(t, perf.IsZero())
	assert.True(t, mgmt.IsZero())
	assert.True(t, total.IsZero())
}

func TestVaultFeesPendingAboveBalance(t *testing.T) {
	// More pending than balance clamps the fee base to zero instead of
	// underflowing.
	perf, mgmt, total, err := VaultFees(u(100*M), u(0), u(200*M), perf10pct, mgmt2pctWk)
	require.NoError(t, err)
	assert.True(t, perf.IsZero())
	assert.True(t, mgmt.IsZero())
	assert.True(t, total.IsZero())
}

func TestVaultFeesBothComponents(t *testing.T) {
	perf, mgmt, total, err := VaultFees(u(1100*M), u(1000*M), u(0), perf10pct, mgmt2pctWk)
	require.NoError(t, err)
	assert.Equal(t, u(10*M), perf)
	assert.Equal(t, u(421_916), mgmt)
	assert.Equal(t, new(uint256.Int).Add(perf, mgmt), total)
}
