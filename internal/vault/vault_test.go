package vault

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultgate/vaultgate/internal/pkg/apperrors"
	"github.com/vaultgate/vaultgate/internal/pkg/metrics"
	"github.com/vaultgate/vaultgate/internal/strategy"
	"github.com/vaultgate/vaultgate/internal/token"
)

var (
	vaultAddr    = common.HexToAddress("0x0000000000000000000000000000000000000100")
	assetAddr    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	feeRecipient = common.HexToAddress("0x0000000000000000000000000000000000000200")
	stratAddr    = common.HexToAddress("0x0000000000000000000000000000000000000500")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	bob          = common.HexToAddress("0x00000000000000000000000000000000000000B1")
)

type fixture struct {
	v    *Vault
	bank *token.MemBank
	now  time.Time
}

func newFixture(t *testing.T, pnlBps int64) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	f.bank = token.NewMemBank(vaultAddr)
	f.bank.Mint(assetAddr, alice, u(1_000_000*M))
	f.bank.Mint(assetAddr, bob, u(1_000_000*M))

	strat := strategy.NewSim(f.bank, assetAddr, vaultAddr, stratAddr, pnlBps)
	f.v = New(Params{
		Address:           vaultAddr,
		Asset:             assetAddr,
		Decimals:          6,
		Cap:               u(100_000 * M),
		MinDeposit:        u(1 * M),
		PerformanceFeePct: perf10pct,
		ManagementFeePct:  0,
		RoundDuration:     168 * time.Hour,
		FeeRecipient:      feeRecipient,
	}, f.bank, strat, WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) roll(t *testing.T) {
	t.Helper()
	_, err := f.v.RollToNextRound(context.Background())
	require.NoError(t, err)
}

func assertErrType(t *testing.T, err error, typ apperrors.ErrorType) {
	t.Helper()
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, typ, appErr.Type)
}

func TestDepositAndFirstRoll(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.v.Deposit(ctx, alice, u(1000*M)))
	assert.Equal(t, u(1000*M), f.v.State().TotalPending)
	assert.Equal(t, u(1000*M), f.bank.BalanceOf(assetAddr, vaultAddr))

	rec, err := f.v.RollToNextRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.Round)
	assert.Equal(t, u(M), rec.PricePerShare)
	assert.Equal(t, u(1000*M), rec.SharesMinted)
	assert.True(t, rec.TotalFee.IsZero())

	s := f.v.State()
	assert.Equal(t, uint32(2), s.Round)
	assert.Equal(t, u(1000*M), s.ShareSupply)
	assert.Equal(t, u(1000*M), s.LockedAmount)
	assert.True(t, s.TotalPending.IsZero())

	// Locked funds are deployed to the strategy after the roll.
	assert.True(t, f.bank.BalanceOf(assetAddr, vaultAddr).IsZero())

	shares, err := f.v.Shares(alice)
	require.NoError(t, err)
	assert.Equal(t, u(1000*M), shares)
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	assertErrType(t, f.v.Deposit(ctx, alice, u(0)), apperrors.ErrInvalidRequest)
	assertErrType(t, f.v.Deposit(ctx, alice, nil), apperrors.ErrInvalidRequest)
	assertErrType(t, f.v.Deposit(ctx, alice, u(M-1)), apperrors.ErrInvalidRequest)
	assertErrType(t, f.v.Deposit(ctx, alice, u(100_001*M)), apperrors.ErrCapExceeded)

	// Cap applies to locked + pending, not a single deposit.
	require.NoError(t, f.v.Deposit(ctx, alice, u(90_000*M)))
	assertErrType(t, f.v.Deposit(ctx, bob, u(20_000*M)), apperrors.ErrCapExceeded)
	require.NoError(t, f.v.Deposit(ctx, bob, u(10_000*M)))
}

func TestDepositTopsUpSameRound(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.v.Deposit(ctx, alice, u(300*M)))
	require.NoError(t, f.v.Deposit(ctx, alice, u(200*M)))

	r := f.v.ReceiptOf(alice)
	assert.Equal(t, uint32(1), r.Round)
	assert.Equal(t, u(500*M), r.Amount)
}

func TestDepositAcrossRoundsSettlesOldReceipt(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.v.Deposit(ctx, alice, u(100*M)))
	f.roll(t)

	require.NoError(t, f.v.Deposit(ctx, alice, u(50*M)))
	r := f.v.ReceiptOf(alice)
	assert.Equal(t, uint32(2), r.Round)
	assert.Equal(t, u(50*M), r.Amount)
	// Round-1 principal became 100 shares at the finalized price of 1.0.
	assert.Equal(t, u(100*M), r.UnredeemedShares)

	shares, err := f.v.Shares(alice)
	require.NoError(t, err)
	assert.Equal(t, u(100*M), shares)
}

func TestRollNotReadyUntilRoundDuration(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.v.Deposit(ctx, alice, u(100*M)))
	f.roll(t) // first roll is always allowed

	_, err := f.v.RollToNextRound(ctx)
	assertErrType(t, err, apperrors.ErrRoundNotReady)

	f.advance(167 * time.Hour)
	_, err = f.v.RollToNextRound(ctx)
	assertErrType(t, err, apperrors.ErrRoundNotReady)

	f.advance(time.Hour)
	f.roll(t)
	assert.Equal(t, uint32(3), f.v.Round())
}

func TestRoundsAreMonotonic(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.v.Deposit(context.Background(), alice, u(100*M)))

	f.roll(t)
	for want := uint32(3); want <= 5; want++ {
		f.advance(168 * time.Hour)
		f.roll(t)
		assert.Equal(t, want, f.v.Round())
	}

	history := f.v.Rounds(0)
	require.Len(t, history, 4)
	// Newest first, each round exactly once.
	for i, rec := range history {
		assert.Equal(t, uint32(4-i), rec.Round)
	}
}

func TestRoundPriceFinalizedOnce(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	_, ok := f.v.RoundPrice(1)
	assert.False(t, ok)

	require.NoError(t, f.v.Deposit(ctx, alice, u(100*M)))
	f.roll(t)

	p1, ok := f.v.RoundPrice(1)
	require.True(t, ok)
	assert.Equal(t, u(M), p1)

	f.advance(168 * time.Hour)
	f.roll(t)

	// Rolling again finalizes round 2 and leaves round 1 untouched.
	p1again, ok := f.v.RoundPrice(1)
	require.True(t, ok)
	assert.Equal(t, p1, p1again)
	_, ok = f.v.RoundPrice(2)
	assert.True(t, ok)
}

func TestGainRoundChargesFee(t *testing.T) {
	f := newFixture(t, 1000) // +10% per round
	ctx := context.Background()

	require.NoError(t, f.v.Deposit(ctx, alice, u(1000*M)))
	f.roll(t)
	f.advance(168 * time.Hour)

	rec, err := f.v.RollToNextRound(ctx)
	require.NoError(t, err)

	// 1000 grew to 1100: gain 100, 10% performance fee.
	assert.Equal(t, u(10*M), rec.PerformanceFee)
	assert.Equal(t, u(10*M), rec.TotalFee)
	assert.Equal(t, u(10*M), f.bank.BalanceOf(assetAddr, feeRecipient))

	// Post-fee price: 1090 / 1000.
	assert.Equal(t, u(1_090_000), rec.PricePerShare)

	balance, err := f.v.AccountVaultBalance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, u(1090*M), balance)
}

func TestLossRoundChargesNoFee(t *testing.T) {
	f := newFixture(t, -1000) // -10% per round
	ctx := context.Background()

	require.NoError(t, f.v.Deposit(ctx, alice, u(1000*M)))
	f.roll(t)
	f.advance(168 * time.Hour)

	rec, err := f.v.RollToNextRound(ctx)
	require.NoError(t, err)

	assert.True(t, rec.TotalFee.IsZero())
	assert.True(t, f.bank.BalanceOf(assetAddr, feeRecipient).IsZero())
	assert.Equal(t, u(900_000), rec.PricePerShare)
	assert.Equal(t, u(900*M), rec.LockedAmount)
}

func TestRedeemMovesReceiptShares(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.v.Deposit(ctx, alice, u(100*M)))
	f.roll(t)

	// Partial redeem, then max for the rest.
	require.NoError(t, f.v.Redeem(ctx, alice, u(40*M)))
	r := f.v.ReceiptOf(alice)
	assert.True(t, r.Processed)
	assert.True(t, r.Amount.IsZero())
	assert.Equal(t, u(60*M), r.UnredeemedShares)

	redeemed, err := f.v.MaxRedeem(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, u(60*M), redeemed)

	// Nothing left: max redeem is a no-op, a sized redeem is an error.
	redeemed, err = f.v.MaxRedeem(ctx, alice)
	require.NoError(t, err)
	assert.True(t, redeemed.IsZero())
	assertErrType(t, f.v.Redeem(ctx, alice, u(M)), apperrors.ErrInsufficient)
}

func TestWithdrawLifecycle(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.v.Deposit(ctx, alice, u(1000*M)))
	f.roll(t)

	// Initiate folds receipt shares in automatically.
	require.NoError(t, f.v.InitiateWithdraw(ctx, alice, u(400*M)))
	w := f.v.WithdrawalOf(alice)
	assert.Equal(t, uint32(2), w.Round)
	assert.Equal(t, u(400*M), w.Shares)

	// Same-round top-up accumulates.
	require.NoError(t, f.v.InitiateWithdraw(ctx, alice, u(100*M)))
	assert.Equal(t, u(500*M), f.v.WithdrawalOf(alice).Shares)

	// Not payable until the round closes.
	_, err := f.v.CompleteWithdraw(ctx, alice)
	assertErrType(t, err, apperrors.ErrRoundNotReady)

	f.advance(168 * time.Hour)
	f.roll(t)

	s := f.v.State()
	assert.Equal(t, u(500*M), s.QueuedWithdrawShares)
	assert.Equal(t, u(500*M), s.QueuedWithdrawAmount)

	// A new request while the old one is unprocessed is a hard error.
	assertErrType(t, f.v.InitiateWithdraw(ctx, alice, u(100*M)), apperrors.ErrWithdrawOpen)

	before := f.bank.BalanceOf(assetAddr, alice)
	amount, err := f.v.CompleteWithdraw(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, u(500*M), amount)

	after := f.bank.BalanceOf(assetAddr, alice)
	assert.Equal(t, u(500*M), new(uint256.Int).Sub(after, before))

	s = f.v.State()
	assert.True(t, s.QueuedWithdrawShares.IsZero())
	assert.True(t, s.QueuedWithdrawAmount.IsZero())
	assert.Equal(t, u(500*M), s.ShareSupply)

	// Completed request clears the slot; a fresh one can start.
	_, err = f.v.CompleteWithdraw(ctx, alice)
	assertErrType(t, err, apperrors.ErrInvalidRequest)
	require.NoError(t, f.v.InitiateWithdraw(ctx, alice, u(100*M)))
}

func TestInitiateWithdrawInsufficientShares(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.v.Deposit(ctx, alice, u(100*M)))
	f.roll(t)

	assertErrType(t, f.v.InitiateWithdraw(ctx, alice, u(101*M)), apperrors.ErrInsufficient)
	assertErrType(t, f.v.InitiateWithdraw(ctx, bob, u(M)), apperrors.ErrInsufficient)
}

func TestFailedInitiateLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.v.Deposit(ctx, alice, u(100*M)))
	f.roll(t)
	before := f.v.ReceiptOf(alice)

	assertErrType(t, f.v.InitiateWithdraw(ctx, alice, u(500*M)), apperrors.ErrInsufficient)

	// The rejection must not have folded the receipt into the balance or
	// queued anything.
	after := f.v.ReceiptOf(alice)
	assert.Equal(t, before.Amount, after.Amount)
	assert.Equal(t, before.UnredeemedShares, after.UnredeemedShares)
	assert.Equal(t, before.Processed, after.Processed)
	assert.Nil(t, f.v.WithdrawalOf(alice))
	assert.True(t, f.v.State().CurrentQueuedWithdrawShares.IsZero())

	// A valid initiate still goes through afterwards.
	require.NoError(t, f.v.InitiateWithdraw(ctx, alice, u(100*M)))
}

func TestValidationRejectionsCountInMetrics(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	depositRejected := testutil.ToFloat64(metrics.DepositsTotal.WithLabelValues("rejected"))
	initiateRejected := testutil.ToFloat64(metrics.WithdrawalsTotal.WithLabelValues("initiate", "rejected"))

	assertErrType(t, f.v.Deposit(ctx, alice, u(0)), apperrors.ErrInvalidRequest)
	assertErrType(t, f.v.Deposit(ctx, alice, u(200_000*M)), apperrors.ErrCapExceeded)
	assertErrType(t, f.v.InitiateWithdraw(ctx, alice, u(M)), apperrors.ErrInsufficient)

	assert.Equal(t, depositRejected+2, testutil.ToFloat64(metrics.DepositsTotal.WithLabelValues("rejected")))
	assert.Equal(t, initiateRejected+1, testutil.ToFloat64(metrics.WithdrawalsTotal.WithLabelValues("initiate", "rejected")))
}

func TestWithdrawPaidAtItsRoundPrice(t *testing.T) {
	// Withdrawal queued in a +10% round is paid at that round's close price,
	// not at prices from later rounds.
	f := newFixture(t, 1000)
	ctx := context.Background()

	require.NoError(t, f.v.Deposit(ctx, alice, u(1000*M)))
	f.roll(t)

	require.NoError(t, f.v.InitiateWithdraw(ctx, alice, u(100*M)))
	f.advance(168 * time.Hour)
	f.roll(t) // closes round 2 at 1.09

	f.advance(168 * time.Hour)
	f.roll(t) // round 3 appreciates further; queued money must not

	amount, err := f.v.CompleteWithdraw(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, u(109*M), amount)
}
