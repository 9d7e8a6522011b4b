// Package bridge is the market-maker settlement boundary. Issuance and
// redemption of product tokens is T+0, not same-block: money leaves the
// vault's custody before the counter-asset arrives, so the bridge keeps a
// pending ledger of what went out and what is owed back.
package bridge

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/oracle"
	"github.com/vaultgate/vaultgate/internal/pkg/apperrors"
	"github.com/vaultgate/vaultgate/internal/pkg/logger"
	"github.com/vaultgate/vaultgate/internal/pkg/metrics"
	"github.com/vaultgate/vaultgate/internal/token"
)

const bpsDenominator = 10_000

// Repo is the optional write-through persistence for products and the
// pending ledger.
type Repo interface {
	SaveProduct(ctx context.Context, p *model.Product) error
	SaveSale(ctx context.Context, asset, product common.Address, amount *uint256.Int) error
	SaveSettled(ctx context.Context, asset common.Address, amount *uint256.Int) error
}

type Publisher interface {
	Publish(eventType string, data map[string]any)
}

type Params struct {
	Address            common.Address
	BaseAsset          common.Address
	BaseDecimals       uint8
	VaultAddress       common.Address
	FeeCollector       common.Address
	Timelock           time.Duration
	MinProviderSwapUSD decimal.Decimal
	ParDeviationBps    uint64
}

// Bridge tracks per-asset pending settlement amounts across swaps with the
// external provider.
type Bridge struct {
	mu sync.Mutex

	p      Params
	bank   token.Bank
	oracle oracle.Oracle
	repo   Repo
	events Publisher
	clock  func() time.Time
	log    *slog.Logger

	products map[common.Address]*model.Product
	// Amount of asset pulled from the vault, awaiting forwarding to the
	// provider. Keyed by the held asset and the product leg that booked it,
	// so each forward reaches the sweeper of the product it funds.
	pendingSale map[saleKey]*uint256.Int
	// Amount of asset the provider still owes back to the vault.
	pendingSettled map[common.Address]*uint256.Int
}

// saleKey identifies one sale bucket: the asset the bridge holds and the
// product whose swap booked it.
type saleKey struct {
	asset   common.Address
	product common.Address
}

type Option func(*Bridge)

func WithRepo(r Repo) Option              { return func(b *Bridge) { b.repo = r } }
func WithPublisher(p Publisher) Option    { return func(b *Bridge) { b.events = p } }
func WithClock(c func() time.Time) Option { return func(b *Bridge) { b.clock = c } }

func New(p Params, bank token.Bank, o oracle.Oracle, opts ...Option) *Bridge {
	b := &Bridge{
		p:              p,
		bank:           bank,
		oracle:         o,
		clock:          time.Now,
		log:            logger.Component("bridge"),
		products:       make(map[common.Address]*model.Product),
		pendingSale:    make(map[saleKey]*uint256.Int),
		pendingSettled: make(map[common.Address]*uint256.Int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetProduct whitelists (or re-whitelists) a product and restarts its
// timelock. Spreads above 1% are rejected.
func (b *Bridge) SetProduct(ctx context.Context, p model.Product) error {
	if p.MMSpreadBps > 100 || p.ProviderSpreadBps > 100 {
		return apperrors.NewInvalidRequest("product spread exceeds 100 bps")
	}
	if p.Asset == b.p.BaseAsset {
		return apperrors.NewInvalidRequest("base asset cannot be a product")
	}
	if p.Decimals == 0 || p.Decimals > 18 {
		return apperrors.NewInvalidRequest("product decimals must be in 1..18")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := p
	stored.LastSetAt = b.clock()
	b.products[p.Asset] = &stored
	if b.repo != nil {
		if err := b.repo.SaveProduct(ctx, &stored); err != nil {
			b.log.Error("persist product failed", "asset", p.Asset.Hex(), "error", err)
		}
	}
	b.publish("product_set", map[string]any{"asset": p.Asset.Hex(), "whitelisted": stored.Whitelisted})
	return nil
}

// RestoreProducts loads persisted products without restarting timelocks.
func (b *Bridge) RestoreProducts(products []*model.Product) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range products {
		cp := *p
		b.products[p.Asset] = &cp
	}
}

// RestoreSale loads one persisted sale bucket.
func (b *Bridge) RestoreSale(asset, product common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingSale[saleKey{asset, product}] = new(uint256.Int).Set(amount)
}

// RestoreSettled loads one persisted settled-pending counter.
func (b *Bridge) RestoreSettled(asset common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingSettled[asset] = new(uint256.Int).Set(amount)
}

// Swap converts between the base asset and a whitelisted product. It books
// the expected inbound amount speculatively: the provider's delivery happens
// in a later, separate settlement call.
func (b *Bridge) Swap(ctx context.Context, caller, fromAsset, toAsset common.Address, amount *uint256.Int) (model.SwapBooking, error) {
	if amount == nil || amount.IsZero() {
		return model.SwapBooking{}, apperrors.NewInvalidRequest("swap amount must be positive")
	}
	if caller != b.p.VaultAddress {
		return model.SwapBooking{}, apperrors.New(apperrors.ErrAuthFailed, "swap restricted to the vault", nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var productAsset common.Address
	switch {
	case fromAsset == b.p.BaseAsset && toAsset != b.p.BaseAsset:
		productAsset = toAsset
	case toAsset == b.p.BaseAsset && fromAsset != b.p.BaseAsset:
		productAsset = fromAsset
	default:
		return model.SwapBooking{}, apperrors.NewInvalidRequest("exactly one swap leg must be the base asset")
	}

	product, ok := b.products[productAsset]
	if !ok || !product.Whitelisted {
		return model.SwapBooking{}, apperrors.New(apperrors.ErrNotWhitelisted, "product not whitelisted", nil)
	}
	now := b.clock()
	if unlockAt := product.LastSetAt.Add(b.p.Timelock); now.Before(unlockAt) {
		return model.SwapBooking{}, apperrors.Newf(apperrors.ErrProductLocked, "product locked until %s", unlockAt.UTC().Format(time.RFC3339))
	}

	price, priceDecimals, err := b.clampedPrice(ctx, product)
	if err != nil {
		metrics.SwapsTotal.WithLabelValues("error").Inc()
		return model.SwapBooking{}, apperrors.New(apperrors.ErrUpstream, "oracle price unavailable", err)
	}

	usd, err := b.usdValue(fromAsset, product, amount, price, priceDecimals)
	if err != nil {
		return model.SwapBooking{}, apperrors.Wrap(err)
	}
	if usd.LessThan(b.p.MinProviderSwapUSD) {
		return model.SwapBooking{}, apperrors.Newf(apperrors.ErrInvalidRequest, "swap value %s USD below provider minimum %s", usd.StringFixed(2), b.p.MinProviderSwapUSD.StringFixed(2))
	}

	// Our own spread comes off the top; the remainder is what actually goes
	// to the provider.
	mmFee := new(uint256.Int).Mul(amount, uint256.NewInt(product.MMSpreadBps))
	mmFee.Div(mmFee, uint256.NewInt(bpsDenominator))
	amountIn := new(uint256.Int).Sub(amount, mmFee)

	amountOut, err := b.convert(fromAsset, product, amountIn, price, priceDecimals)
	if err != nil {
		return model.SwapBooking{}, apperrors.Wrap(err)
	}

	if err := b.bank.TransferFrom(fromAsset, b.p.Address, b.p.VaultAddress, b.p.Address, amount); err != nil {
		metrics.SwapsTotal.WithLabelValues("rejected").Inc()
		return model.SwapBooking{}, apperrors.New(apperrors.ErrInsufficient, "swap funding transfer failed", err)
	}
	if !mmFee.IsZero() {
		if err := b.bank.Transfer(fromAsset, b.p.Address, b.p.FeeCollector, mmFee); err != nil {
			metrics.SwapsTotal.WithLabelValues("error").Inc()
			return model.SwapBooking{}, apperrors.New(apperrors.ErrUpstream, "spread transfer failed", err)
		}
	}

	b.addSale(fromAsset, product.Asset, amountIn)
	b.addPending(b.pendingSettled, toAsset, amountOut)
	b.persistSale(ctx, fromAsset, product.Asset)
	b.persistSettled(ctx, toAsset)

	booking := model.SwapBooking{
		ID:        uuid.New().String(),
		FromAsset: fromAsset,
		ToAsset:   toAsset,
		AmountIn:  new(uint256.Int).Set(amountIn),
		AmountOut: new(uint256.Int).Set(amountOut),
		BookedAt:  now,
	}
	metrics.SwapsTotal.WithLabelValues("ok").Inc()
	b.publish("swap_booked", map[string]any{
		"id":         booking.ID,
		"from":       fromAsset.Hex(),
		"to":         toAsset.Hex(),
		"amount_in":  amountIn.Dec(),
		"amount_out": amountOut.Dec(),
	})
	return booking, nil
}

// InitiatePurchase forwards accumulated sale-pending funds of asset to the
// provider, product by product: base-asset buckets go to the issue address
// of the product that booked them, product buckets to that product's redeem
// address.
func (b *Bridge) InitiatePurchase(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	held := b.bank.BalanceOf(asset, b.p.Address)
	forwarded := uint256.NewInt(0)
	for _, product := range b.sortedProducts() {
		if held.IsZero() {
			break
		}
		pending := b.sale(asset, product.Asset)
		if pending.IsZero() {
			continue
		}
		sweeper := product.RedeemAddress
		if asset == b.p.BaseAsset {
			sweeper = product.IssueAddress
		}
		forward := new(uint256.Int).Set(pending)
		if held.Lt(forward) {
			forward.Set(held)
		}
		if err := b.bank.Transfer(asset, b.p.Address, sweeper, forward); err != nil {
			return nil, apperrors.New(apperrors.ErrUpstream, "forward to provider failed", err)
		}
		pending.Sub(pending, forward)
		held.Sub(held, forward)
		forwarded.Add(forwarded, forward)
		b.persistSale(ctx, asset, product.Asset)
	}
	if !forwarded.IsZero() {
		b.publish("purchase_initiated", map[string]any{"asset": asset.Hex(), "amount": forwarded.Dec()})
	}
	return forwarded, nil
}

// SettlementResult reports one settlement sweep.
type SettlementResult struct {
	Swept            *uint256.Int
	AppliedToPending *uint256.Int
	RemainingPending *uint256.Int
}

// SettlePurchase sweeps whatever balance of asset the bridge now holds back
// to the vault and decrements the settled-pending counter by
// min(swept, pending). The clamp keeps the counter from going negative when
// the provider delivers more or less than booked, and from double-crediting
// across partial arrivals. The sweep is deliberately total: residual dust is
// consolidated back to the vault rather than stranded here.
func (b *Bridge) SettlePurchase(ctx context.Context, asset common.Address) (SettlementResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settleTPlus0Transfer(ctx, asset)
}

func (b *Bridge) settleTPlus0Transfer(ctx context.Context, asset common.Address) (SettlementResult, error) {
	pending := b.pending(b.pendingSettled, asset)
	held := b.bank.BalanceOf(asset, b.p.Address)

	if !held.IsZero() {
		if err := b.bank.Transfer(asset, b.p.Address, b.p.VaultAddress, held); err != nil {
			metrics.SettlementsTotal.WithLabelValues("error").Inc()
			return SettlementResult{}, apperrors.New(apperrors.ErrUpstream, "settlement sweep transfer failed", err)
		}
	}

	applied := new(uint256.Int).Set(held)
	if pending.Lt(applied) {
		applied = new(uint256.Int).Set(pending)
	}
	pending.Sub(pending, applied)
	b.persistSettled(ctx, asset)

	metrics.SettlementsTotal.WithLabelValues("ok").Inc()
	b.publish("settlement", map[string]any{
		"asset":   asset.Hex(),
		"swept":   held.Dec(),
		"applied": applied.Dec(),
		"pending": pending.Dec(),
	})
	return SettlementResult{
		Swept:            held,
		AppliedToPending: applied,
		RemainingPending: new(uint256.Int).Set(pending),
	}, nil
}

// Pending returns the (sale, settled) counters for an asset. The sale side
// sums every product bucket holding that asset.
func (b *Bridge) Pending(asset common.Address) (*uint256.Int, *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sale := uint256.NewInt(0)
	for k, v := range b.pendingSale {
		if k.asset == asset {
			sale.Add(sale, v)
		}
	}
	return sale, new(uint256.Int).Set(b.pending(b.pendingSettled, asset))
}

func (b *Bridge) Products() []*model.Product {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*model.Product, 0, len(b.products))
	for _, p := range b.products {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// --- internals (lock held) ---

// clampedPrice bounds an oracle malfunction on a near-par product: a raw
// answer deviating from par by more than the threshold is replaced by par.
func (b *Bridge) clampedPrice(ctx context.Context, product *model.Product) (*uint256.Int, uint8, error) {
	raw, priceDecimals, err := b.oracle.Price(ctx, product.Asset, b.p.BaseAsset)
	if err != nil {
		return nil, 0, err
	}
	par := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(priceDecimals)))
	diff := new(uint256.Int)
	if raw.Gt(par) {
		diff.Sub(raw, par)
	} else {
		diff.Sub(par, raw)
	}
	limit := new(uint256.Int).Mul(par, uint256.NewInt(b.p.ParDeviationBps))
	scaled := new(uint256.Int).Mul(diff, uint256.NewInt(bpsDenominator))
	if scaled.Gt(limit) {
		b.log.Warn("oracle price outside par band, clamping",
			"asset", product.Asset.Hex(), "raw", raw.Dec(), "par", par.Dec())
		return par, priceDecimals, nil
	}
	return raw, priceDecimals, nil
}

// convert prices amountIn of fromAsset into the counter-asset through the
// provider's spread. price is product-per-base scaled by 10^priceDecimals.
func (b *Bridge) convert(fromAsset common.Address, product *model.Product, amountIn, price *uint256.Int, priceDecimals uint8) (*uint256.Int, error) {
	priceScale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(priceDecimals)))
	fromScale := pow10(b.p.BaseDecimals)
	toScale := pow10(product.Decimals)
	if fromAsset != b.p.BaseAsset {
		fromScale, toScale = toScale, fromScale
	}

	var out *uint256.Int
	var overflow bool
	if fromAsset == b.p.BaseAsset {
		// base -> product: divide by the product's base price.
		out, overflow = new(uint256.Int).MulOverflow(amountIn, priceScale)
		if overflow {
			return nil, apperrors.New(apperrors.ErrOverflow, "swap conversion overflow", nil)
		}
		out, overflow = out.MulOverflow(out, toScale)
		if overflow {
			return nil, apperrors.New(apperrors.ErrOverflow, "swap conversion overflow", nil)
		}
		den := new(uint256.Int).Mul(price, fromScale)
		if den.IsZero() {
			return nil, apperrors.New(apperrors.ErrUpstream, "zero oracle price", nil)
		}
		out.Div(out, den)
	} else {
		// product -> base: multiply by the product's base price.
		out, overflow = new(uint256.Int).MulOverflow(amountIn, price)
		if overflow {
			return nil, apperrors.New(apperrors.ErrOverflow, "swap conversion overflow", nil)
		}
		out, overflow = out.MulOverflow(out, toScale)
		if overflow {
			return nil, apperrors.New(apperrors.ErrOverflow, "swap conversion overflow", nil)
		}
		den := new(uint256.Int).Mul(priceScale, fromScale)
		out.Div(out, den)
	}

	// Provider spread reduces what comes back.
	out.Mul(out, uint256.NewInt(bpsDenominator-product.ProviderSpreadBps))
	out.Div(out, uint256.NewInt(bpsDenominator))
	return out, nil
}

// usdValue normalizes the outgoing amount to USD for the provider-minimum
// check. The base asset is treated as a USD stable.
func (b *Bridge) usdValue(fromAsset common.Address, product *model.Product, amount, price *uint256.Int, priceDecimals uint8) (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(amount.Dec())
	if err != nil {
		return decimal.Zero, err
	}
	if fromAsset == b.p.BaseAsset {
		return amt.Shift(-int32(b.p.BaseDecimals)), nil
	}
	px, err := decimal.NewFromString(price.Dec())
	if err != nil {
		return decimal.Zero, err
	}
	return amt.Shift(-int32(product.Decimals)).Mul(px.Shift(-int32(priceDecimals))), nil
}

// sortedProducts returns the products in address order so forwards are
// deterministic.
func (b *Bridge) sortedProducts() []*model.Product {
	out := make([]*model.Product, 0, len(b.products))
	for _, p := range b.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Asset[:], out[j].Asset[:]) < 0
	})
	return out
}

func (b *Bridge) sale(asset, product common.Address) *uint256.Int {
	k := saleKey{asset, product}
	v, ok := b.pendingSale[k]
	if !ok {
		v = uint256.NewInt(0)
		b.pendingSale[k] = v
	}
	return v
}

func (b *Bridge) addSale(asset, product common.Address, amount *uint256.Int) {
	v := b.sale(asset, product)
	v.Add(v, amount)
}

func (b *Bridge) pending(m map[common.Address]*uint256.Int, asset common.Address) *uint256.Int {
	v, ok := m[asset]
	if !ok {
		v = uint256.NewInt(0)
		m[asset] = v
	}
	return v
}

func (b *Bridge) addPending(m map[common.Address]*uint256.Int, asset common.Address, amount *uint256.Int) {
	v := b.pending(m, asset)
	v.Add(v, amount)
}

func (b *Bridge) persistSale(ctx context.Context, asset, product common.Address) {
	if b.repo == nil {
		return
	}
	if err := b.repo.SaveSale(ctx, asset, product, b.sale(asset, product)); err != nil {
		b.log.Error("persist sale ledger failed", "asset", asset.Hex(), "product", product.Hex(), "error", err)
	}
}

func (b *Bridge) persistSettled(ctx context.Context, asset common.Address) {
	if b.repo == nil {
		return
	}
	if err := b.repo.SaveSettled(ctx, asset, b.pending(b.pendingSettled, asset)); err != nil {
		b.log.Error("persist settled ledger failed", "asset", asset.Hex(), "error", err)
	}
}

func (b *Bridge) publish(eventType string, data map[string]any) {
	if b.events != nil {
		b.events.Publish(eventType, data)
	}
}

func pow10(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
}
