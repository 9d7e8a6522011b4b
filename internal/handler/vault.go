package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"

	"github.com/vaultgate/vaultgate/internal/middleware"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/vault"
)

type VaultHandler struct {
	vault *vault.Vault
}

func NewVaultHandler(v *vault.Vault) *VaultHandler {
	return &VaultHandler{vault: v}
}

type amountRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type sharesRequest struct {
	Shares string `json:"shares"`
	Max    bool   `json:"max"`
}

// parseAmount accepts a base-10 integer string in the asset's smallest unit.
func parseAmount(s string) (*uint256.Int, error) {
	return uint256.FromDecimal(s)
}

func (h *VaultHandler) Deposit(c *gin.Context) {
	account := c.MustGet(middleware.ContextAccountKey).(*model.Account)

	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount: " + err.Error()})
		return
	}

	if err := h.vault.Deposit(c.Request.Context(), account.Address, amount); err != nil {
		middleware.AddAuditContext(c, "error", err.Error())
		c.Error(err)
		return
	}

	middleware.AddAuditContext(c, "action", "deposit")
	middleware.AddAuditContext(c, "amount", amount.Dec())

	c.JSON(http.StatusOK, gin.H{
		"status":  "pending",
		"account": account.Address.Hex(),
		"amount":  amount.Dec(),
		"round":   h.vault.Round(),
	})
}

func (h *VaultHandler) InitiateWithdraw(c *gin.Context) {
	account := c.MustGet(middleware.ContextAccountKey).(*model.Account)

	var req sharesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	shares, err := parseAmount(req.Shares)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shares: " + err.Error()})
		return
	}

	if err := h.vault.InitiateWithdraw(c.Request.Context(), account.Address, shares); err != nil {
		middleware.AddAuditContext(c, "error", err.Error())
		c.Error(err)
		return
	}

	middleware.AddAuditContext(c, "action", "initiate_withdraw")
	middleware.AddAuditContext(c, "shares", shares.Dec())

	w := h.vault.WithdrawalOf(account.Address)
	c.JSON(http.StatusOK, gin.H{
		"status": "queued",
		"round":  w.Round,
		"shares": w.Shares.Dec(),
	})
}

func (h *VaultHandler) CompleteWithdraw(c *gin.Context) {
	account := c.MustGet(middleware.ContextAccountKey).(*model.Account)

	amount, err := h.vault.CompleteWithdraw(c.Request.Context(), account.Address)
	if err != nil {
		middleware.AddAuditContext(c, "error", err.Error())
		c.Error(err)
		return
	}

	middleware.AddAuditContext(c, "action", "complete_withdraw")
	middleware.AddAuditContext(c, "amount", amount.Dec())

	c.JSON(http.StatusOK, gin.H{
		"status": "paid",
		"amount": amount.Dec(),
	})
}

// Redeem converts settled receipt shares into the spendable balance. With
// {"max": true} it redeems everything; otherwise "shares" is required.
func (h *VaultHandler) Redeem(c *gin.Context) {
	account := c.MustGet(middleware.ContextAccountKey).(*model.Account)

	var req sharesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Max {
		redeemed, err := h.vault.MaxRedeem(c.Request.Context(), account.Address)
		if err != nil {
			c.Error(err)
			return
		}
		middleware.AddAuditContext(c, "action", "max_redeem")
		c.JSON(http.StatusOK, gin.H{"redeemed": redeemed.Dec()})
		return
	}

	shares, err := parseAmount(req.Shares)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shares: " + err.Error()})
		return
	}
	if err := h.vault.Redeem(c.Request.Context(), account.Address, shares); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "action", "redeem")
	c.JSON(http.StatusOK, gin.H{"redeemed": shares.Dec()})
}

func (h *VaultHandler) GetAccount(c *gin.Context) {
	account := c.MustGet(middleware.ContextAccountKey).(*model.Account)

	shares, err := h.vault.Shares(account.Address)
	if err != nil {
		c.Error(err)
		return
	}
	balance, err := h.vault.AccountVaultBalance(c.Request.Context(), account.Address)
	if err != nil {
		c.Error(err)
		return
	}

	resp := gin.H{
		"address": account.Address.Hex(),
		"shares":  shares.Dec(),
		"balance": balance.Dec(),
	}
	r := h.vault.ReceiptOf(account.Address)
	resp["receipt"] = gin.H{
		"round":             r.Round,
		"amount":            r.Amount.Dec(),
		"unredeemed_shares": r.UnredeemedShares.Dec(),
		"processed":         r.Processed,
	}
	if w := h.vault.WithdrawalOf(account.Address); w != nil && w.Initiated {
		resp["withdrawal"] = gin.H{
			"round":  w.Round,
			"shares": w.Shares.Dec(),
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *VaultHandler) GetVault(c *gin.Context) {
	s := h.vault.State()
	p := h.vault.Params()

	resp := gin.H{
		"round":                  s.Round,
		"asset":                  p.Asset.Hex(),
		"decimals":               p.Decimals,
		"locked_amount":          s.LockedAmount.Dec(),
		"total_pending":          s.TotalPending.Dec(),
		"share_supply":           s.ShareSupply.Dec(),
		"queued_withdraw_shares": s.QueuedWithdrawShares.Dec(),
		"queued_withdraw_amount": s.QueuedWithdrawAmount.Dec(),
	}
	if p.Cap != nil {
		resp["cap"] = p.Cap.Dec()
	}
	if !s.LastRollTime.IsZero() {
		resp["next_roll_at"] = s.LastRollTime.Add(p.RoundDuration).UTC()
	}
	if pps, err := h.vault.PricePerShare(c.Request.Context()); err == nil {
		resp["price_per_share"] = pps.Dec()
	}
	if total, err := h.vault.TotalBalance(c.Request.Context()); err == nil {
		resp["total_balance"] = total.Dec()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *VaultHandler) ListRounds(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rounds := h.vault.Rounds(limit)

	out := make([]gin.H, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, gin.H{
			"round":           r.Round,
			"price_per_share": r.PricePerShare.Dec(),
			"locked_amount":   r.LockedAmount.Dec(),
			"pending_amount":  r.PendingAmount.Dec(),
			"shares_minted":   r.SharesMinted.Dec(),
			"performance_fee": r.PerformanceFee.Dec(),
			"management_fee":  r.ManagementFee.Dec(),
			"total_fee":       r.TotalFee.Dec(),
			"rolled_at":       r.RolledAt.UTC(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rounds": out})
}
