package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DepositReceipt is the per-account pending-deposit record. Amount only
// reflects principal deposited during the current, unclosed round; once the
// round closes the amount is convertible to shares at that round's finalized
// price and must be treated as zero new principal.
type DepositReceipt struct {
	Round            uint32
	Amount           *uint256.Int
	UnredeemedShares *uint256.Int
	Processed        bool
}

func NewDepositReceipt() *DepositReceipt {
	return &DepositReceipt{
		Amount:           uint256.NewInt(0),
		UnredeemedShares: uint256.NewInt(0),
	}
}

func (r *DepositReceipt) Clone() *DepositReceipt {
	if r == nil {
		return nil
	}
	return &DepositReceipt{
		Round:            r.Round,
		Amount:           new(uint256.Int).Set(r.Amount),
		UnredeemedShares: new(uint256.Int).Set(r.UnredeemedShares),
		Processed:        r.Processed,
	}
}

// Withdrawal records a request to exit at the price finalized for Round.
// At most one open request per account.
type Withdrawal struct {
	Round     uint32
	Shares    *uint256.Int
	Initiated bool
}

func NewWithdrawal() *Withdrawal {
	return &Withdrawal{Shares: uint256.NewInt(0)}
}

func (w *Withdrawal) Clone() *Withdrawal {
	if w == nil {
		return nil
	}
	return &Withdrawal{Round: w.Round, Shares: new(uint256.Int).Set(w.Shares), Initiated: w.Initiated}
}

// VaultState is the live round-lifecycle state. Round starts at 1, advances
// exactly once per rollover and is never reused.
type VaultState struct {
	Round uint32

	// Deposits accumulated this round, awaiting deployment.
	TotalPending *uint256.Int

	// Shares queued for exit in already-closed rounds (priced and set aside).
	QueuedWithdrawShares *uint256.Int
	// Shares queued during the current, still-open round.
	CurrentQueuedWithdrawShares *uint256.Int
	// Assets set aside to pay closed-round withdrawals.
	QueuedWithdrawAmount *uint256.Int

	LockedAmount     *uint256.Int
	LastLockedAmount *uint256.Int

	ShareSupply *uint256.Int

	LastRollTime time.Time
}

func NewVaultState() VaultState {
	return VaultState{
		Round:                       1,
		TotalPending:                uint256.NewInt(0),
		QueuedWithdrawShares:        uint256.NewInt(0),
		CurrentQueuedWithdrawShares: uint256.NewInt(0),
		QueuedWithdrawAmount:        uint256.NewInt(0),
		LockedAmount:                uint256.NewInt(0),
		LastLockedAmount:            uint256.NewInt(0),
		ShareSupply:                 uint256.NewInt(0),
	}
}

func (s VaultState) Clone() VaultState {
	return VaultState{
		Round:                       s.Round,
		TotalPending:                new(uint256.Int).Set(s.TotalPending),
		QueuedWithdrawShares:        new(uint256.Int).Set(s.QueuedWithdrawShares),
		CurrentQueuedWithdrawShares: new(uint256.Int).Set(s.CurrentQueuedWithdrawShares),
		QueuedWithdrawAmount:        new(uint256.Int).Set(s.QueuedWithdrawAmount),
		LockedAmount:                new(uint256.Int).Set(s.LockedAmount),
		LastLockedAmount:            new(uint256.Int).Set(s.LastLockedAmount),
		ShareSupply:                 new(uint256.Int).Set(s.ShareSupply),
		LastRollTime:                s.LastRollTime,
	}
}

// RoundRecord is the immutable per-round history entry written at rollover.
type RoundRecord struct {
	Round          uint32
	PricePerShare  *uint256.Int
	LockedAmount   *uint256.Int
	PendingAmount  *uint256.Int
	SharesMinted   *uint256.Int
	PerformanceFee *uint256.Int
	ManagementFee  *uint256.Int
	TotalFee       *uint256.Int
	RolledAt       time.Time
}

// Product governs one non-base asset's conversion terms at the bridge.
// Spreads are basis points, capped at 100 (1%).
type Product struct {
	Asset             common.Address
	Decimals          uint8
	MMSpreadBps       uint64
	ProviderSpreadBps uint64
	IssueAddress      common.Address
	RedeemAddress     common.Address
	Whitelisted       bool
	LastSetAt         time.Time
}

// SwapBooking is the record emitted when the bridge books a swap. Funds for
// AmountOut have not arrived yet; they are tracked in the pending ledger.
type SwapBooking struct {
	ID        string
	FromAsset common.Address
	ToAsset   common.Address
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	BookedAt  time.Time
}
