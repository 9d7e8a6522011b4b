package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/oracle"
	"github.com/vaultgate/vaultgate/internal/pkg/apperrors"
	"github.com/vaultgate/vaultgate/internal/token"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

const M = 1_000_000 // one whole unit at 6 decimals

var (
	bridgeAddr = common.HexToAddress("0x0000000000000000000000000000000000000300")
	vaultAddr  = common.HexToAddress("0x0000000000000000000000000000000000000100")
	collector  = common.HexToAddress("0x0000000000000000000000000000000000000400")
	usdc       = common.HexToAddress("0x0000000000000000000000000000000000000001")
	pt         = common.HexToAddress("0x0000000000000000000000000000000000000002")
	issueAddr  = common.HexToAddress("0x0000000000000000000000000000000000000E01")
	redeemAddr = common.HexToAddress("0x0000000000000000000000000000000000000E02")
	someone    = common.HexToAddress("0x00000000000000000000000000000000000000B1")
)

type fixture struct {
	b    *Bridge
	bank *token.MemBank
	px   *oracle.StaticOracle
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	f.bank = token.NewMemBank(bridgeAddr)
	f.px = oracle.NewStaticOracle(8)
	require.NoError(t, f.px.SetDecimal(pt, usdc, "1.0"))

	f.b = New(Params{
		Address:            bridgeAddr,
		BaseAsset:          usdc,
		BaseDecimals:       6,
		VaultAddress:       vaultAddr,
		FeeCollector:       collector,
		Timelock:           6 * time.Hour,
		MinProviderSwapUSD: decimal.NewFromInt(100_000),
		ParDeviationBps:    200,
	}, f.bank, f.px, WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) product(spreadMM, spreadProvider uint64) model.Product {
	return model.Product{
		Asset:             pt,
		Decimals:          6,
		MMSpreadBps:       spreadMM,
		ProviderSpreadBps: spreadProvider,
		IssueAddress:      issueAddr,
		RedeemAddress:     redeemAddr,
		Whitelisted:       true,
	}
}

// whitelist registers the product and waits out its timelock.
func (f *fixture) whitelist(t *testing.T, p model.Product) {
	t.Helper()
	require.NoError(t, f.b.SetProduct(context.Background(), p))
	f.advance(6 * time.Hour)
}

func assertErrType(t *testing.T, err error, typ apperrors.ErrorType) {
	t.Helper()
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, typ, appErr.Type)
}

func TestSetProductValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.product(101, 10)
	assertErrType(t, f.b.SetProduct(ctx, p), apperrors.ErrInvalidRequest)

	p = f.product(20, 101)
	assertErrType(t, f.b.SetProduct(ctx, p), apperrors.ErrInvalidRequest)

	p = f.product(20, 10)
	p.Asset = usdc
	assertErrType(t, f.b.SetProduct(ctx, p), apperrors.ErrInvalidRequest)

	p = f.product(20, 10)
	p.Decimals = 0
	assertErrType(t, f.b.SetProduct(ctx, p), apperrors.ErrInvalidRequest)

	require.NoError(t, f.b.SetProduct(ctx, f.product(100, 100)))
}

func TestSwapTimelock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bank.Mint(usdc, vaultAddr, u(200_000*M))

	require.NoError(t, f.b.SetProduct(ctx, f.product(20, 10)))

	_, err := f.b.Swap(ctx, vaultAddr, usdc, pt, u(200_000*M))
	assertErrType(t, err, apperrors.ErrProductLocked)

	f.advance(6*time.Hour - time.Minute)
	_, err = f.b.Swap(ctx, vaultAddr, usdc, pt, u(200_000*M))
	assertErrType(t, err, apperrors.ErrProductLocked)

	f.advance(time.Minute)
	_, err = f.b.Swap(ctx, vaultAddr, usdc, pt, u(200_000*M))
	require.NoError(t, err)
}

func TestRewhitelistRestartsTimelock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bank.Mint(usdc, vaultAddr, u(400_000*M))

	f.whitelist(t, f.product(20, 10))
	_, err := f.b.Swap(ctx, vaultAddr, usdc, pt, u(200_000*M))
	require.NoError(t, err)

	// Updating the product locks it again.
	require.NoError(t, f.b.SetProduct(ctx, f.product(20, 10)))
	_, err = f.b.Swap(ctx, vaultAddr, usdc, pt, u(200_000*M))
	assertErrType(t, err, apperrors.ErrProductLocked)
}

func TestSwapRestrictedToVault(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, f.product(20, 10))

	_, err := f.b.Swap(context.Background(), someone, usdc, pt, u(200_000*M))
	assertErrType(t, err, apperrors.ErrAuthFailed)
}

func TestSwapRequiresWhitelist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.product(20, 10)
	p.Whitelisted = false
	f.whitelist(t, p)

	_, err := f.b.Swap(ctx, vaultAddr, usdc, pt, u(200_000*M))
	assertErrType(t, err, apperrors.ErrNotWhitelisted)

	// Unknown asset is equally refused.
	_, err = f.b.Swap(ctx, vaultAddr, usdc, someone, u(200_000*M))
	assertErrType(t, err, apperrors.ErrNotWhitelisted)
}

func TestSwapLegsMustIncludeBaseOnce(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, f.product(20, 10))

	_, err := f.b.Swap(context.Background(), vaultAddr, usdc, usdc, u(200_000*M))
	assertErrType(t, err, apperrors.ErrInvalidRequest)
}

func TestSwapBelowProviderMinimum(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, f.product(20, 10))
	f.bank.Mint(usdc, vaultAddr, u(50_000*M))

	_, err := f.b.Swap(context.Background(), vaultAddr, usdc, pt, u(50_000*M))
	assertErrType(t, err, apperrors.ErrInvalidRequest)
}

func TestSwapBooksPendingLedger(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, f.product(20, 10))
	f.bank.Mint(usdc, vaultAddr, u(200_000*M))

	booking, err := f.b.Swap(context.Background(), vaultAddr, usdc, pt, u(200_000*M))
	require.NoError(t, err)

	// 20 bps of 200k goes to the collector, the rest to the provider leg.
	assert.Equal(t, u(400*M), f.bank.BalanceOf(usdc, collector))
	assert.Equal(t, u(199_600*M), booking.AmountIn)
	// At par less the 10 bps provider spread: 199_600 * 0.999.
	assert.Equal(t, u(199_400_400_000), booking.AmountOut)

	sale, settled := f.b.Pending(usdc)
	assert.Equal(t, u(199_600*M), sale)
	assert.True(t, settled.IsZero())

	sale, settled = f.b.Pending(pt)
	assert.True(t, sale.IsZero())
	assert.Equal(t, u(199_400_400_000), settled)

	// The bridge holds the outbound funds until the purchase is initiated.
	assert.Equal(t, u(199_600*M), f.bank.BalanceOf(usdc, bridgeAddr))
	assert.True(t, f.bank.BalanceOf(usdc, vaultAddr).IsZero())
}

func TestInitiatePurchaseForwardsToProvider(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, f.product(20, 10))
	f.bank.Mint(usdc, vaultAddr, u(200_000*M))

	_, err := f.b.Swap(context.Background(), vaultAddr, usdc, pt, u(200_000*M))
	require.NoError(t, err)

	forwarded, err := f.b.InitiatePurchase(context.Background(), usdc)
	require.NoError(t, err)
	assert.Equal(t, u(199_600*M), forwarded)
	assert.Equal(t, u(199_600*M), f.bank.BalanceOf(usdc, issueAddr))

	sale, _ := f.b.Pending(usdc)
	assert.True(t, sale.IsZero())

	// Nothing left to forward.
	forwarded, err = f.b.InitiatePurchase(context.Background(), usdc)
	require.NoError(t, err)
	assert.True(t, forwarded.IsZero())
}

func TestInitiatePurchaseRoutesPerProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pt2 := common.HexToAddress("0x0000000000000000000000000000000000000003")
	issueAddr2 := common.HexToAddress("0x0000000000000000000000000000000000000E03")
	redeemAddr2 := common.HexToAddress("0x0000000000000000000000000000000000000E04")
	require.NoError(t, f.px.SetDecimal(pt2, usdc, "1.0"))

	second := f.product(20, 10)
	second.Asset = pt2
	second.IssueAddress = issueAddr2
	second.RedeemAddress = redeemAddr2
	f.whitelist(t, f.product(20, 10))
	f.whitelist(t, second)

	f.bank.Mint(usdc, vaultAddr, u(350_000*M))
	_, err := f.b.Swap(ctx, vaultAddr, usdc, pt, u(200_000*M))
	require.NoError(t, err)
	_, err = f.b.Swap(ctx, vaultAddr, usdc, pt2, u(150_000*M))
	require.NoError(t, err)

	forwarded, err := f.b.InitiatePurchase(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, u(349_300*M), forwarded)

	// Each product's issue leg receives exactly what its own swap booked.
	assert.Equal(t, u(199_600*M), f.bank.BalanceOf(usdc, issueAddr))
	assert.Equal(t, u(149_700*M), f.bank.BalanceOf(usdc, issueAddr2))

	sale, _ := f.b.Pending(usdc)
	assert.True(t, sale.IsZero())
}

func TestSettleSweepClampsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.whitelist(t, f.product(20, 10))

	// Provider owes 500; deliveries arrive as 300, then 250.
	f.b.RestoreSettled(pt, u(500*M))

	f.bank.Mint(pt, bridgeAddr, u(300*M))
	res, err := f.b.SettlePurchase(ctx, pt)
	require.NoError(t, err)
	assert.Equal(t, u(300*M), res.Swept)
	assert.Equal(t, u(300*M), res.AppliedToPending)
	assert.Equal(t, u(200*M), res.RemainingPending)
	assert.Equal(t, u(300*M), f.bank.BalanceOf(pt, vaultAddr))

	// The 250 overshoots the remaining 200: the counter clamps at zero
	// instead of going negative, and the full delivery still reaches the
	// vault.
	f.bank.Mint(pt, bridgeAddr, u(250*M))
	res, err = f.b.SettlePurchase(ctx, pt)
	require.NoError(t, err)
	assert.Equal(t, u(250*M), res.Swept)
	assert.Equal(t, u(200*M), res.AppliedToPending)
	assert.True(t, res.RemainingPending.IsZero())
	assert.Equal(t, u(550*M), f.bank.BalanceOf(pt, vaultAddr))

	// A late surplus sweeps through with nothing pending.
	f.bank.Mint(pt, bridgeAddr, u(50*M))
	res, err = f.b.SettlePurchase(ctx, pt)
	require.NoError(t, err)
	assert.Equal(t, u(50*M), res.Swept)
	assert.True(t, res.AppliedToPending.IsZero())
	assert.True(t, res.RemainingPending.IsZero())
}

func TestSettleWithNothingHeld(t *testing.T) {
	f := newFixture(t)
	f.b.RestoreSettled(pt, u(100*M))

	res, err := f.b.SettlePurchase(context.Background(), pt)
	require.NoError(t, err)
	assert.True(t, res.Swept.IsZero())
	assert.True(t, res.AppliedToPending.IsZero())
	assert.Equal(t, u(100*M), res.RemainingPending)
}

func TestSwapProductBackToBase(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, f.product(20, 10))
	f.bank.Mint(pt, vaultAddr, u(200_000*M))

	booking, err := f.b.Swap(context.Background(), vaultAddr, pt, usdc, u(200_000*M))
	require.NoError(t, err)

	assert.Equal(t, u(400*M), f.bank.BalanceOf(pt, collector))
	assert.Equal(t, u(199_600*M), booking.AmountIn)
	assert.Equal(t, u(199_400_400_000), booking.AmountOut)

	sale, _ := f.b.Pending(pt)
	assert.Equal(t, u(199_600*M), sale)
	_, settled := f.b.Pending(usdc)
	assert.Equal(t, u(199_400_400_000), settled)

	// Redemptions forward to the product's redeem leg.
	forwarded, err := f.b.InitiatePurchase(context.Background(), pt)
	require.NoError(t, err)
	assert.Equal(t, u(199_600*M), forwarded)
	assert.Equal(t, u(199_600*M), f.bank.BalanceOf(pt, redeemAddr))
}

func TestOracleDeviationClampsToPar(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, f.product(0, 0))
	f.bank.Mint(usdc, vaultAddr, u(400_000*M))

	// 5% off par exceeds the 2% band: the swap prices at par.
	require.NoError(t, f.px.SetDecimal(pt, usdc, "1.05"))
	booking, err := f.b.Swap(context.Background(), vaultAddr, usdc, pt, u(200_000*M))
	require.NoError(t, err)
	assert.Equal(t, u(200_000*M), booking.AmountOut)

	// 1% off par is inside the band and is honored.
	require.NoError(t, f.px.SetDecimal(pt, usdc, "1.01"))
	booking, err = f.b.Swap(context.Background(), vaultAddr, usdc, pt, u(200_000*M))
	require.NoError(t, err)
	assert.Equal(t, u(198_019_801_980), booking.AmountOut)
}
