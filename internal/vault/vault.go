package vault

import (
	"context"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/pkg/apperrors"
	"github.com/vaultgate/vaultgate/internal/pkg/logger"
	"github.com/vaultgate/vaultgate/internal/pkg/metrics"
	"github.com/vaultgate/vaultgate/internal/token"
	"github.com/vaultgate/vaultgate/internal/vault/sharemath"
)

// Strategy is the adapter to the external yield strategy. The vault only
// relies on reported balances around round boundaries.
type Strategy interface {
	TotalBalance(ctx context.Context) (*uint256.Int, error)
	OpenPosition(ctx context.Context, amount *uint256.Int) error
	ClosePosition(ctx context.Context) (*uint256.Int, error)
}

// Repo is the optional write-through persistence behind the vault. The
// in-memory state is authoritative; persistence failures are logged, not
// fatal, matching the gateway's degraded-mode behavior elsewhere.
type Repo interface {
	SaveReceipt(ctx context.Context, account common.Address, r *model.DepositReceipt) error
	SaveWithdrawal(ctx context.Context, account common.Address, w *model.Withdrawal) error
	SaveShareBalance(ctx context.Context, account common.Address, shares *uint256.Int) error
	SaveState(ctx context.Context, s model.VaultState) error
	SaveRound(ctx context.Context, rec model.RoundRecord) error
}

// Publisher receives lifecycle events for the websocket stream.
type Publisher interface {
	Publish(eventType string, data map[string]any)
}

type Params struct {
	Address           common.Address
	Asset             common.Address
	Decimals          uint8
	Cap               *uint256.Int
	MinDeposit        *uint256.Int
	PerformanceFeePct uint64 // percent * FeeScale
	ManagementFeePct  uint64 // weekly equivalent, percent * FeeScale
	RoundDuration     time.Duration
	FeeRecipient      common.Address
}

// Vault owns all round-lifecycle state. A single mutex serializes every
// state-mutating entry point; invariants hold before and after each call,
// never mid-operation.
type Vault struct {
	mu sync.Mutex

	p        Params
	bank     token.Bank
	strategy Strategy
	repo     Repo
	events   Publisher
	clock    func() time.Time
	log      *slog.Logger

	state         model.VaultState
	receipts      map[common.Address]*model.DepositReceipt
	withdrawals   map[common.Address]*model.Withdrawal
	shareBalances map[common.Address]*uint256.Int
	roundPrice    map[uint32]*uint256.Int
	rounds        []model.RoundRecord
}

type Option func(*Vault)

func WithRepo(r Repo) Option             { return func(v *Vault) { v.repo = r } }
func WithPublisher(p Publisher) Option   { return func(v *Vault) { v.events = p } }
func WithClock(c func() time.Time) Option { return func(v *Vault) { v.clock = c } }

func New(p Params, bank token.Bank, strat Strategy, opts ...Option) *Vault {
	v := &Vault{
		p:             p,
		bank:          bank,
		strategy:      strat,
		clock:         time.Now,
		log:           logger.Component("vault"),
		state:         model.NewVaultState(),
		receipts:      make(map[common.Address]*model.DepositReceipt),
		withdrawals:   make(map[common.Address]*model.Withdrawal),
		shareBalances: make(map[common.Address]*uint256.Int),
		roundPrice:    make(map[uint32]*uint256.Int),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Restore replaces in-memory state with a persisted snapshot. Called once at
// startup, before the vault is exposed to traffic.
func (v *Vault) Restore(state model.VaultState, receipts map[common.Address]*model.DepositReceipt, withdrawals map[common.Address]*model.Withdrawal, balances map[common.Address]*uint256.Int, prices map[uint32]*uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = state.Clone()
	for a, r := range receipts {
		v.receipts[a] = r.Clone()
	}
	for a, w := range withdrawals {
		v.withdrawals[a] = w.Clone()
	}
	for a, b := range balances {
		v.shareBalances[a] = new(uint256.Int).Set(b)
	}
	for r, p := range prices {
		v.roundPrice[r] = new(uint256.Int).Set(p)
	}
}

// RestoreRounds loads persisted round history, oldest first.
func (v *Vault) RestoreRounds(recs []model.RoundRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rounds = append(v.rounds[:0], recs...)
}

// Deposit records principal for the current round and pulls the funds in.
// The token pull happens before any state change so a failed transfer leaves
// nothing to undo.
func (v *Vault) Deposit(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		metrics.DepositsTotal.WithLabelValues("rejected").Inc()
		return apperrors.NewInvalidRequest("deposit amount must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.p.MinDeposit != nil && amount.Lt(v.p.MinDeposit) {
		metrics.DepositsTotal.WithLabelValues("rejected").Inc()
		return apperrors.Newf(apperrors.ErrInvalidRequest, "deposit below minimum %s", v.p.MinDeposit.Dec())
	}

	used, overflow := new(uint256.Int).AddOverflow(v.state.LockedAmount, v.state.TotalPending)
	if !overflow {
		used, overflow = used.AddOverflow(used, amount)
	}
	if overflow {
		metrics.DepositsTotal.WithLabelValues("rejected").Inc()
		return apperrors.New(apperrors.ErrOverflow, "deposit overflows vault accounting", nil)
	}
	if v.p.Cap != nil && used.Gt(v.p.Cap) {
		metrics.DepositsTotal.WithLabelValues("rejected").Inc()
		return apperrors.Newf(apperrors.ErrCapExceeded, "vault cap %s exceeded", v.p.Cap.Dec())
	}

	// Precompute the receipt mutation so arithmetic failures surface before
	// money moves.
	r := v.receipt(caller)
	next := r.Clone()
	if r.Round != 0 && r.Round < v.state.Round {
		unredeemed, err := v.settledShares(r)
		if err != nil {
			metrics.DepositsTotal.WithLabelValues("rejected").Inc()
			return apperrors.Wrap(err)
		}
		next.Round = v.state.Round
		next.Amount = new(uint256.Int).Set(amount)
		next.UnredeemedShares = unredeemed
		next.Processed = false
	} else {
		next.Round = v.state.Round
		if _, overflow := next.Amount.AddOverflow(next.Amount, amount); overflow {
			metrics.DepositsTotal.WithLabelValues("rejected").Inc()
			return apperrors.New(apperrors.ErrOverflow, "deposit overflows receipt", nil)
		}
	}
	newPending, overflow := new(uint256.Int).AddOverflow(v.state.TotalPending, amount)
	if overflow {
		metrics.DepositsTotal.WithLabelValues("rejected").Inc()
		return apperrors.New(apperrors.ErrOverflow, "deposit overflows pending total", nil)
	}

	if err := v.bank.TransferFrom(v.p.Asset, v.p.Address, caller, v.p.Address, amount); err != nil {
		metrics.DepositsTotal.WithLabelValues("rejected").Inc()
		return apperrors.New(apperrors.ErrInsufficient, "deposit transfer failed", err)
	}

	v.receipts[caller] = next
	v.state.TotalPending = newPending

	v.persistReceipt(ctx, caller)
	v.persistState(ctx)
	metrics.DepositsTotal.WithLabelValues("ok").Inc()
	metrics.PendingAmount.Set(u256Float(v.state.TotalPending, v.p.Decimals))
	v.publish("deposit", map[string]any{
		"account": caller.Hex(),
		"amount":  amount.Dec(),
		"round":   v.state.Round,
	})
	return nil
}

// InitiateWithdraw queues shares for exit at the price the current round will
// finalize. A second call in the same round tops up; an uncompleted request
// from an earlier round is a hard error.
func (v *Vault) InitiateWithdraw(ctx context.Context, caller common.Address, shares *uint256.Int) error {
	if shares == nil || shares.IsZero() {
		metrics.WithdrawalsTotal.WithLabelValues("initiate", "rejected").Inc()
		return apperrors.NewInvalidRequest("withdraw shares must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	// All checks run against the combined position before anything is
	// written: a rejected initiate leaves receipt, balance and withdrawal
	// exactly as they were.
	w := v.withdrawals[caller]
	if w != nil && w.Initiated && !w.Shares.IsZero() && w.Round < v.state.Round {
		metrics.WithdrawalsTotal.WithLabelValues("initiate", "rejected").Inc()
		return apperrors.New(apperrors.ErrWithdrawOpen, "an earlier withdrawal is still unprocessed", nil)
	}

	r := v.receipt(caller)
	settled, err := v.settledShares(r)
	if err != nil {
		metrics.WithdrawalsTotal.WithLabelValues("initiate", "rejected").Inc()
		return apperrors.Wrap(err)
	}
	bal := v.shareBalance(caller)
	available, overflow := new(uint256.Int).AddOverflow(bal, settled)
	if overflow {
		metrics.WithdrawalsTotal.WithLabelValues("initiate", "rejected").Inc()
		return apperrors.New(apperrors.ErrOverflow, "share balance overflow", nil)
	}
	if available.Lt(shares) {
		metrics.WithdrawalsTotal.WithLabelValues("initiate", "rejected").Inc()
		return apperrors.Newf(apperrors.ErrInsufficient, "insufficient shares: have %s, want %s", available.Dec(), shares.Dec())
	}
	topUp := w != nil && w.Initiated && w.Round == v.state.Round
	if topUp {
		if _, overflow := new(uint256.Int).AddOverflow(w.Shares, shares); overflow {
			metrics.WithdrawalsTotal.WithLabelValues("initiate", "rejected").Inc()
			return apperrors.New(apperrors.ErrOverflow, "withdrawal overflows share counter", nil)
		}
	}

	// Fold any receipt shares into the spendable balance now that the
	// request is known to succeed.
	if !settled.IsZero() {
		if _, err := v.redeemLocked(ctx, caller, nil, true); err != nil {
			return err
		}
	}

	if topUp {
		w.Shares.Add(w.Shares, shares)
	} else {
		w = &model.Withdrawal{Round: v.state.Round, Shares: new(uint256.Int).Set(shares), Initiated: true}
		v.withdrawals[caller] = w
	}

	bal.Sub(bal, shares)
	v.state.CurrentQueuedWithdrawShares.Add(v.state.CurrentQueuedWithdrawShares, shares)

	v.persistWithdrawal(ctx, caller)
	v.persistBalance(ctx, caller)
	v.persistState(ctx)
	metrics.WithdrawalsTotal.WithLabelValues("initiate", "ok").Inc()
	v.publish("withdraw_initiated", map[string]any{
		"account": caller.Hex(),
		"shares":  shares.Dec(),
		"round":   v.state.Round,
	})
	return nil
}

// CompleteWithdraw pays out a withdrawal whose round has closed, at that
// round's finalized price.
func (v *Vault) CompleteWithdraw(ctx context.Context, caller common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	w := v.withdrawals[caller]
	if w == nil || !w.Initiated || w.Shares.IsZero() {
		metrics.WithdrawalsTotal.WithLabelValues("complete", "rejected").Inc()
		return nil, apperrors.NewInvalidRequest("no withdrawal initiated")
	}
	if w.Round >= v.state.Round {
		metrics.WithdrawalsTotal.WithLabelValues("complete", "rejected").Inc()
		return nil, apperrors.New(apperrors.ErrRoundNotReady, "withdrawal round not closed yet", nil)
	}
	pps, ok := v.roundPrice[w.Round]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrInternal, "no finalized price for round %d", w.Round)
	}
	amount, err := sharemath.SharesToAsset(w.Shares, pps, v.p.Decimals)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	if w.Shares.Gt(v.state.QueuedWithdrawShares) || w.Shares.Gt(v.state.ShareSupply) {
		return nil, apperrors.New(apperrors.ErrInternal, "queued share accounting out of sync", nil)
	}
	if amount.Gt(v.state.QueuedWithdrawAmount) {
		return nil, apperrors.New(apperrors.ErrInternal, "queued amount accounting out of sync", nil)
	}

	if err := v.bank.Transfer(v.p.Asset, v.p.Address, caller, amount); err != nil {
		metrics.WithdrawalsTotal.WithLabelValues("complete", "rejected").Inc()
		return nil, apperrors.New(apperrors.ErrUpstream, "withdrawal payout transfer failed", err)
	}

	v.state.QueuedWithdrawShares.Sub(v.state.QueuedWithdrawShares, w.Shares)
	v.state.QueuedWithdrawAmount.Sub(v.state.QueuedWithdrawAmount, amount)
	v.state.ShareSupply.Sub(v.state.ShareSupply, w.Shares) // burn
	w.Shares = uint256.NewInt(0)
	w.Initiated = false

	v.persistWithdrawal(ctx, caller)
	v.persistState(ctx)
	metrics.WithdrawalsTotal.WithLabelValues("complete", "ok").Inc()
	v.publish("withdraw_completed", map[string]any{
		"account": caller.Hex(),
		"amount":  amount.Dec(),
	})
	return amount, nil
}

// Redeem moves a specific number of receipt shares into the caller's
// spendable balance.
func (v *Vault) Redeem(ctx context.Context, caller common.Address, shares *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, err := v.redeemLocked(ctx, caller, shares, false)
	return err
}

// MaxRedeem moves every settled receipt share into the caller's spendable
// balance. A zero balance is a no-op, not an error.
func (v *Vault) MaxRedeem(ctx context.Context, caller common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.redeemLocked(ctx, caller, nil, true)
}

func (v *Vault) redeemLocked(ctx context.Context, caller common.Address, shares *uint256.Int, isMax bool) (*uint256.Int, error) {
	r := v.receipt(caller)
	unredeemed, err := v.settledShares(r)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	if isMax {
		shares = unredeemed
		if shares.IsZero() {
			return uint256.NewInt(0), nil
		}
	}
	if shares == nil || shares.IsZero() {
		return nil, apperrors.NewInvalidRequest("redeem shares must be positive")
	}
	if shares.Gt(unredeemed) {
		return nil, apperrors.Newf(apperrors.ErrInsufficient, "insufficient unredeemed shares: have %s", unredeemed.Dec())
	}

	if r.Round != 0 && r.Round < v.state.Round {
		// Principal has been priced into shares; it is no new money now.
		r.Amount = uint256.NewInt(0)
		r.Processed = true
	}
	r.UnredeemedShares = new(uint256.Int).Sub(unredeemed, shares)

	bal := v.shareBalance(caller)
	bal.Add(bal, shares)

	v.persistReceipt(ctx, caller)
	v.persistBalance(ctx, caller)
	return new(uint256.Int).Set(shares), nil
}

// RollToNextRound closes the current round: close out the strategy, charge
// fees, finalize the price, mint shares for pending deposits, set aside the
// newly queued withdrawals and redeploy the rest. Operator-triggered; rejects
// until the round readiness time.
func (v *Vault) RollToNextRound(ctx context.Context) (model.RoundRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock()
	if !v.state.LastRollTime.IsZero() {
		ready := v.state.LastRollTime.Add(v.p.RoundDuration)
		if now.Before(ready) {
			metrics.RolloversTotal.WithLabelValues("not_ready").Inc()
			return model.RoundRecord{}, apperrors.Newf(apperrors.ErrRoundNotReady, "round %d not ready until %s", v.state.Round, ready.UTC().Format(time.RFC3339))
		}
	}
	if _, ok := v.roundPrice[v.state.Round]; ok {
		return model.RoundRecord{}, apperrors.Newf(apperrors.ErrInternal, "price for round %d already finalized", v.state.Round)
	}

	if _, err := v.strategy.ClosePosition(ctx); err != nil {
		metrics.RolloversTotal.WithLabelValues("error").Inc()
		return model.RoundRecord{}, apperrors.New(apperrors.ErrUpstream, "strategy close failed", err)
	}
	totalBalance := v.bank.BalanceOf(v.p.Asset, v.p.Address)

	res, err := Rollover(RolloverParams{
		Decimals:                    v.p.Decimals,
		TotalBalance:                totalBalance,
		ShareSupply:                 v.state.ShareSupply,
		LastQueuedWithdrawAmount:    v.state.QueuedWithdrawAmount,
		LastQueuedWithdrawShares:    v.state.QueuedWithdrawShares,
		CurrentQueuedWithdrawShares: v.state.CurrentQueuedWithdrawShares,
		TotalPending:                v.state.TotalPending,
		LastLockedAmount:            v.state.LockedAmount,
		PerformanceFeePct:           v.p.PerformanceFeePct,
		ManagementFeePct:            v.p.ManagementFeePct,
	})
	if err != nil {
		metrics.RolloversTotal.WithLabelValues("error").Inc()
		if err == sharemath.ErrOverflow {
			return model.RoundRecord{}, apperrors.New(apperrors.ErrOverflow, "rollover arithmetic overflow", err)
		}
		return model.RoundRecord{}, apperrors.Wrap(err)
	}

	// Fees leave before the state commit; the transfer draws on a balance the
	// computation just accounted for, so a failure here aborts cleanly.
	if !res.TotalFee.IsZero() {
		if err := v.bank.Transfer(v.p.Asset, v.p.Address, v.p.FeeRecipient, res.TotalFee); err != nil {
			metrics.RolloversTotal.WithLabelValues("error").Inc()
			return model.RoundRecord{}, apperrors.New(apperrors.ErrUpstream, "fee transfer failed", err)
		}
	}

	closing := v.state.Round
	pendingThisRound := new(uint256.Int).Set(v.state.TotalPending)

	v.roundPrice[closing] = new(uint256.Int).Set(res.NewPricePerShare)
	v.state.QueuedWithdrawShares.Add(v.state.QueuedWithdrawShares, v.state.CurrentQueuedWithdrawShares)
	v.state.CurrentQueuedWithdrawShares = uint256.NewInt(0)
	v.state.QueuedWithdrawAmount = new(uint256.Int).Set(res.QueuedWithdrawAmount)
	v.state.LastLockedAmount = v.state.LockedAmount
	v.state.LockedAmount = new(uint256.Int).Set(res.NewLockedAmount)
	v.state.ShareSupply.Add(v.state.ShareSupply, res.MintShares)
	v.state.TotalPending = uint256.NewInt(0)
	v.state.Round = closing + 1
	v.state.LastRollTime = now

	rec := model.RoundRecord{
		Round:          closing,
		PricePerShare:  new(uint256.Int).Set(res.NewPricePerShare),
		LockedAmount:   new(uint256.Int).Set(res.NewLockedAmount),
		PendingAmount:  pendingThisRound,
		SharesMinted:   new(uint256.Int).Set(res.MintShares),
		PerformanceFee: res.PerformanceFee,
		ManagementFee:  res.ManagementFee,
		TotalFee:       res.TotalFee,
		RolledAt:       now,
	}
	v.rounds = append(v.rounds, rec)
	v.persistState(ctx)
	v.persistRound(ctx, rec)

	metrics.RolloversTotal.WithLabelValues("ok").Inc()
	metrics.PricePerShare.Set(u256Float(res.NewPricePerShare, v.p.Decimals))
	metrics.LockedAmount.Set(u256Float(res.NewLockedAmount, v.p.Decimals))
	metrics.PendingAmount.Set(0)
	v.publish("round_rolled", map[string]any{
		"round":           closing,
		"price_per_share": res.NewPricePerShare.Dec(),
		"locked":          res.NewLockedAmount.Dec(),
		"minted":          res.MintShares.Dec(),
		"total_fee":       res.TotalFee.Dec(),
	})

	// Redeploy after the commit. If the strategy refuses, the round stands
	// and the funds stay in the vault; the failure needs operator attention.
	if err := v.strategy.OpenPosition(ctx, v.state.LockedAmount); err != nil {
		v.log.Error("position not opened after roll; funds remain idle in vault",
			"round", v.state.Round, "error", err)
		return rec, apperrors.New(apperrors.ErrUpstream, "round rolled but position open failed", err)
	}
	return rec, nil
}

// --- views ---

func (v *Vault) State() model.VaultState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Clone()
}

func (v *Vault) Round() uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Round
}

// RoundPrice returns the finalized price for a closed round.
func (v *Vault) RoundPrice(round uint32) (*uint256.Int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.roundPrice[round]
	if !ok {
		return nil, false
	}
	return new(uint256.Int).Set(p), true
}

// Rounds returns up to limit closed-round records, newest first.
func (v *Vault) Rounds(limit int) []model.RoundRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	if limit <= 0 || limit > len(v.rounds) {
		limit = len(v.rounds)
	}
	out := make([]model.RoundRecord, 0, limit)
	for i := len(v.rounds) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, v.rounds[i])
	}
	return out
}

// TotalBalance reports all assets under vault control: deployed plus held.
func (v *Vault) TotalBalance(ctx context.Context) (*uint256.Int, error) {
	deployed, err := v.strategy.TotalBalance(ctx)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrUpstream, "strategy balance unavailable", err)
	}
	held := v.bank.BalanceOf(v.p.Asset, v.p.Address)
	total, overflow := held.AddOverflow(held, deployed)
	if overflow {
		return nil, apperrors.New(apperrors.ErrOverflow, "total balance overflow", nil)
	}
	return total, nil
}

// PricePerShare is the live (unfinalized) share price.
func (v *Vault) PricePerShare(ctx context.Context) (*uint256.Int, error) {
	total, err := v.TotalBalance(ctx)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	pps, err := sharemath.PricePerShare(v.state.ShareSupply, total, v.state.TotalPending, v.p.Decimals)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	return pps, nil
}

// Shares returns the account's full share position, redeemed or not.
func (v *Vault) Shares(account common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	unredeemed, err := v.settledShares(v.receipt(account))
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	total, overflow := unredeemed.AddOverflow(unredeemed, v.shareBalance(account))
	if overflow {
		return nil, apperrors.New(apperrors.ErrOverflow, "share balance overflow", nil)
	}
	return total, nil
}

// AccountVaultBalance values the account's shares at the live price.
func (v *Vault) AccountVaultBalance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	pps, err := v.PricePerShare(ctx)
	if err != nil {
		return nil, err
	}
	shares, err := v.Shares(account)
	if err != nil {
		return nil, err
	}
	amount, err := sharemath.SharesToAsset(shares, pps, v.p.Decimals)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	return amount, nil
}

func (v *Vault) ReceiptOf(account common.Address) *model.DepositReceipt {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.receipt(account).Clone()
}

func (v *Vault) WithdrawalOf(account common.Address) *model.Withdrawal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.withdrawals[account].Clone()
}

func (v *Vault) Params() Params { return v.p }

// --- internals (lock held) ---

func (v *Vault) receipt(account common.Address) *model.DepositReceipt {
	r, ok := v.receipts[account]
	if !ok {
		r = model.NewDepositReceipt()
		v.receipts[account] = r
	}
	return r
}

func (v *Vault) shareBalance(account common.Address) *uint256.Int {
	b, ok := v.shareBalances[account]
	if !ok {
		b = uint256.NewInt(0)
		v.shareBalances[account] = b
	}
	return b
}

func (v *Vault) settledShares(r *model.DepositReceipt) (*uint256.Int, error) {
	var price *uint256.Int
	if r.Round != 0 && r.Round < v.state.Round {
		p, ok := v.roundPrice[r.Round]
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrInternal, "no finalized price for round %d", r.Round)
		}
		price = p
	}
	return sharemath.SharesFromReceipt(r.Round, v.state.Round, r.Amount, r.UnredeemedShares, price, v.p.Decimals)
}

func (v *Vault) publish(eventType string, data map[string]any) {
	if v.events != nil {
		v.events.Publish(eventType, data)
	}
}

func (v *Vault) persistReceipt(ctx context.Context, account common.Address) {
	if v.repo == nil {
		return
	}
	if err := v.repo.SaveReceipt(ctx, account, v.receipts[account]); err != nil {
		v.log.Error("persist receipt failed", "account", account.Hex(), "error", err)
	}
}

func (v *Vault) persistWithdrawal(ctx context.Context, account common.Address) {
	if v.repo == nil {
		return
	}
	if err := v.repo.SaveWithdrawal(ctx, account, v.withdrawals[account]); err != nil {
		v.log.Error("persist withdrawal failed", "account", account.Hex(), "error", err)
	}
}

func (v *Vault) persistBalance(ctx context.Context, account common.Address) {
	if v.repo == nil {
		return
	}
	if err := v.repo.SaveShareBalance(ctx, account, v.shareBalance(account)); err != nil {
		v.log.Error("persist share balance failed", "account", account.Hex(), "error", err)
	}
}

func (v *Vault) persistState(ctx context.Context) {
	if v.repo == nil {
		return
	}
	if err := v.repo.SaveState(ctx, v.state); err != nil {
		v.log.Error("persist vault state failed", "error", err)
	}
}

func (v *Vault) persistRound(ctx context.Context, rec model.RoundRecord) {
	if v.repo == nil {
		return
	}
	if err := v.repo.SaveRound(ctx, rec); err != nil {
		v.log.Error("persist round record failed", "round", rec.Round, "error", err)
	}
}

func u256Float(v *uint256.Int, decimals uint8) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f / math.Pow10(int(decimals))
}
