package vault

import (
	"github.com/holiman/uint256"

	"github.com/vaultgate/vaultgate/internal/vault/sharemath"
)

// FeeScale is the fixed-point scale for fee percentages: 1% == 1 * FeeScale.
// Fee percentages entering this package are pre-scaled; the management fee is
// additionally pre-rated to the weekly (per-round) equivalent by the caller.
const FeeScale = 1_000_000

var feeDivisor = uint256.NewInt(100 * FeeScale)

// VaultFees computes the performance and management fee for a round close.
//
// A round whose balance net of new deposits did not grow past the previously
// locked amount charges no fee at all: value destroyed in a losing round is
// never also taxed. Otherwise the performance fee applies to the gain and the
// management fee to the whole locked balance net of pending deposits. All
// division floors.
func VaultFees(currentBalance, lastLockedAmount, pendingAmount *uint256.Int, performanceFeePct, managementFeePct uint64) (performanceFee, managementFee, totalFee *uint256.Int, err error) {
	zero := func() (*uint256.Int, *uint256.Int, *uint256.Int, error) {
		return uint256.NewInt(0), uint256.NewInt(0), uint256.NewInt(0), nil
	}

	lockedSansPending := uint256.NewInt(0)
	if currentBalance.Gt(pendingAmount) {
		lockedSansPending.Sub(currentBalance, pendingAmount)
	}
	if !lockedSansPending.Gt(lastLockedAmount) {
		return zero()
	}

	gain := new(uint256.Int).Sub(lockedSansPending, lastLockedAmount)

	performanceFee = uint256.NewInt(0)
	if performanceFeePct > 0 {
		num, overflow := new(uint256.Int).MulOverflow(gain, uint256.NewInt(performanceFeePct))
		if overflow {
			return nil, nil, nil, sharemath.ErrOverflow
		}
		performanceFee = num.Div(num, feeDivisor)
	}

	managementFee = uint256.NewInt(0)
	if managementFeePct > 0 {
		num, overflow := new(uint256.Int).MulOverflow(lockedSansPending, uint256.NewInt(managementFeePct))
		if overflow {
			return nil, nil, nil, sharemath.ErrOverflow
		}
		managementFee = num.Div(num, feeDivisor)
	}

	totalFee, overflow := new(uint256.Int).AddOverflow(performanceFee, managementFee)
	if overflow {
		return nil, nil, nil, sharemath.ErrOverflow
	}
	return performanceFee, managementFee, totalFee, nil
}
