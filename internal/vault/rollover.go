package vault

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/vaultgate/vaultgate/internal/vault/sharemath"
)

var (
	ErrBalanceBelowQueued = errors.New("vault: balance below queued withdrawals")
	ErrSupplyBelowQueued  = errors.New("vault: share supply below queued shares")
)

// RolloverParams is the read-only input snapshot for a round close.
type RolloverParams struct {
	Decimals uint8

	// Total assets under the vault's control after the strategy position is
	// closed out, including amounts set aside for older queued withdrawals.
	TotalBalance *uint256.Int
	ShareSupply  *uint256.Int

	// Withdrawals queued in already-closed rounds: the asset amount set aside
	// and the shares it backs.
	LastQueuedWithdrawAmount *uint256.Int
	LastQueuedWithdrawShares *uint256.Int

	// Shares whose withdrawal was initiated during the round being closed;
	// they are priced at the new price.
	CurrentQueuedWithdrawShares *uint256.Int

	TotalPending     *uint256.Int
	LastLockedAmount *uint256.Int

	PerformanceFeePct uint64 // percent * FeeScale
	ManagementFeePct  uint64 // weekly equivalent, percent * FeeScale
}

// RolloverResult is what the caller applies to live state, all-or-nothing.
type RolloverResult struct {
	NewLockedAmount      *uint256.Int
	QueuedWithdrawAmount *uint256.Int
	NewPricePerShare     *uint256.Int
	MintShares           *uint256.Int
	PerformanceFee       *uint256.Int
	ManagementFee        *uint256.Int
	TotalFee             *uint256.Int
}

// Rollover computes a round transition. It is side-effect-free: applying the
// result (advancing the round, minting shares, moving fees) is the caller's
// job and must happen atomically with this computation under the vault lock.
//
// Conservation: NewLockedAmount + QueuedWithdrawAmount + TotalFee ==
// TotalBalance.
func Rollover(p RolloverParams) (RolloverResult, error) {
	if p.LastQueuedWithdrawAmount.Gt(p.TotalBalance) {
		return RolloverResult{}, ErrBalanceBelowQueued
	}
	if p.LastQueuedWithdrawShares.Gt(p.ShareSupply) {
		return RolloverResult{}, ErrSupplyBelowQueued
	}

	// Older queued withdrawals are no longer the vault's money; they are
	// excluded from the fee base.
	balanceForFees := new(uint256.Int).Sub(p.TotalBalance, p.LastQueuedWithdrawAmount)

	perfFee, mgmtFee, totalFee, err := VaultFees(balanceForFees, p.LastLockedAmount, p.TotalPending, p.PerformanceFeePct, p.ManagementFeePct)
	if err != nil {
		return RolloverResult{}, err
	}

	balanceAfterFee := new(uint256.Int).Sub(p.TotalBalance, totalFee)
	if p.LastQueuedWithdrawAmount.Gt(balanceAfterFee) {
		return RolloverResult{}, ErrBalanceBelowQueued
	}

	// The new price reflects active participants only: queued withdrawals are
	// excluded from both supply and balance.
	supplySansQueued := new(uint256.Int).Sub(p.ShareSupply, p.LastQueuedWithdrawShares)
	balanceSansQueued := new(uint256.Int).Sub(balanceAfterFee, p.LastQueuedWithdrawAmount)
	newPPS, err := sharemath.PricePerShare(supplySansQueued, balanceSansQueued, p.TotalPending, p.Decimals)
	if err != nil {
		return RolloverResult{}, err
	}

	// This round's fresh withdrawal requests are priced at the new price and
	// join the carried-forward pool.
	currentQueuedAmount, err := sharemath.SharesToAsset(p.CurrentQueuedWithdrawShares, newPPS, p.Decimals)
	if err != nil {
		return RolloverResult{}, err
	}
	queuedWithdrawAmount, overflow := currentQueuedAmount.AddOverflow(currentQueuedAmount, p.LastQueuedWithdrawAmount)
	if overflow {
		return RolloverResult{}, sharemath.ErrOverflow
	}

	// New deposits are minted at the post-fee, post-loss price so arriving
	// capital never absorbs a loss that predates it.
	mintShares, err := sharemath.AssetToShares(p.TotalPending, newPPS, p.Decimals)
	if err != nil {
		return RolloverResult{}, err
	}

	if queuedWithdrawAmount.Gt(balanceAfterFee) {
		return RolloverResult{}, ErrBalanceBelowQueued
	}
	newLocked := new(uint256.Int).Sub(balanceAfterFee, queuedWithdrawAmount)

	return RolloverResult{
		NewLockedAmount:      newLocked,
		QueuedWithdrawAmount: queuedWithdrawAmount,
		NewPricePerShare:     newPPS,
		MintShares:           mintShares,
		PerformanceFee:       perfFee,
		ManagementFee:        mgmtFee,
		TotalFee:             totalFee,
	}, nil
}
