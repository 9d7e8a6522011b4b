package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/vaultgate/vaultgate/internal/bridge"
	"github.com/vaultgate/vaultgate/internal/middleware"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/service"
	"github.com/vaultgate/vaultgate/internal/vault"
)

// AdminHandler exposes the operator surface: round rolls, product
// whitelisting and the provider settlement legs.
type AdminHandler struct {
	vault    *vault.Vault
	bridge   *bridge.Bridge
	auditSvc *service.AuditService
}

func NewAdminHandler(v *vault.Vault, b *bridge.Bridge, auditSvc *service.AuditService) *AdminHandler {
	return &AdminHandler{vault: v, bridge: b, auditSvc: auditSvc}
}

func (h *AdminHandler) Roll(c *gin.Context) {
	rec, err := h.vault.RollToNextRound(c.Request.Context())
	if err != nil {
		middleware.AddAuditContext(c, "error", err.Error())
		c.Error(err)
		return
	}

	middleware.AddAuditContext(c, "action", "roll")
	middleware.AddAuditContext(c, "round", rec.Round)

	c.JSON(http.StatusOK, gin.H{
		"round":           rec.Round,
		"price_per_share": rec.PricePerShare.Dec(),
		"locked_amount":   rec.LockedAmount.Dec(),
		"shares_minted":   rec.SharesMinted.Dec(),
		"performance_fee": rec.PerformanceFee.Dec(),
		"management_fee":  rec.ManagementFee.Dec(),
		"total_fee":       rec.TotalFee.Dec(),
	})
}

type productRequest struct {
	Asset             string `json:"asset" binding:"required"`
	Decimals          uint8  `json:"decimals" binding:"required"`
	MMSpreadBps       uint64 `json:"mm_spread_bps"`
	ProviderSpreadBps uint64 `json:"provider_spread_bps"`
	IssueAddress      string `json:"issue_address" binding:"required"`
	RedeemAddress     string `json:"redeem_address" binding:"required"`
	Whitelisted       bool   `json:"whitelisted"`
}

func (h *AdminHandler) SetProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Asset) || !common.IsHexAddress(req.IssueAddress) || !common.IsHexAddress(req.RedeemAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	p := model.Product{
		Asset:             common.HexToAddress(req.Asset),
		Decimals:          req.Decimals,
		MMSpreadBps:       req.MMSpreadBps,
		ProviderSpreadBps: req.ProviderSpreadBps,
		IssueAddress:      common.HexToAddress(req.IssueAddress),
		RedeemAddress:     common.HexToAddress(req.RedeemAddress),
		Whitelisted:       req.Whitelisted,
	}
	if err := h.bridge.SetProduct(c.Request.Context(), p); err != nil {
		middleware.AddAuditContext(c, "error", err.Error())
		c.Error(err)
		return
	}

	middleware.AddAuditContext(c, "action", "set_product")
	middleware.AddAuditContext(c, "asset", req.Asset)

	c.JSON(http.StatusOK, gin.H{"status": "set", "asset": p.Asset.Hex()})
}

func (h *AdminHandler) ListProducts(c *gin.Context) {
	products := h.bridge.Products()
	out := make([]gin.H, 0, len(products))
	for _, p := range products {
		out = append(out, gin.H{
			"asset":               p.Asset.Hex(),
			"decimals":            p.Decimals,
			"mm_spread_bps":       p.MMSpreadBps,
			"provider_spread_bps": p.ProviderSpreadBps,
			"issue_address":       p.IssueAddress.Hex(),
			"redeem_address":      p.RedeemAddress.Hex(),
			"whitelisted":         p.Whitelisted,
			"last_set_at":         p.LastSetAt.UTC(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"products": out})
}

type swapRequest struct {
	FromAsset string `json:"from_asset" binding:"required"`
	ToAsset   string `json:"to_asset" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

// Swap moves vault funds through the bridge into a product (or back). The
// operator acts for the vault, so the vault address is the swap caller.
func (h *AdminHandler) Swap(c *gin.Context) {
	var req swapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.FromAsset) || !common.IsHexAddress(req.ToAsset) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount: " + err.Error()})
		return
	}

	booking, err := h.bridge.Swap(c.Request.Context(), h.vault.Params().Address,
		common.HexToAddress(req.FromAsset), common.HexToAddress(req.ToAsset), amount)
	if err != nil {
		middleware.AddAuditContext(c, "error", err.Error())
		c.Error(err)
		return
	}

	middleware.AddAuditContext(c, "action", "swap")
	middleware.AddAuditContext(c, "booking_id", booking.ID)

	c.JSON(http.StatusOK, gin.H{
		"id":         booking.ID,
		"from_asset": booking.FromAsset.Hex(),
		"to_asset":   booking.ToAsset.Hex(),
		"amount_in":  booking.AmountIn.Dec(),
		"amount_out": booking.AmountOut.Dec(),
		"booked_at":  booking.BookedAt.UTC(),
	})
}

type assetRequest struct {
	Asset string `json:"asset" binding:"required"`
}

func (h *AdminHandler) InitiatePurchase(c *gin.Context) {
	var req assetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Asset) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	forwarded, err := h.bridge.InitiatePurchase(c.Request.Context(), common.HexToAddress(req.Asset))
	if err != nil {
		middleware.AddAuditContext(c, "error", err.Error())
		c.Error(err)
		return
	}

	middleware.AddAuditContext(c, "action", "initiate_purchase")

	c.JSON(http.StatusOK, gin.H{"forwarded": forwarded.Dec()})
}

func (h *AdminHandler) Settle(c *gin.Context) {
	var req assetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Asset) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	res, err := h.bridge.SettlePurchase(c.Request.Context(), common.HexToAddress(req.Asset))
	if err != nil {
		middleware.AddAuditContext(c, "error", err.Error())
		c.Error(err)
		return
	}

	middleware.AddAuditContext(c, "action", "settle")

	c.JSON(http.StatusOK, gin.H{
		"swept":              res.Swept.Dec(),
		"applied_to_pending": res.AppliedToPending.Dec(),
		"remaining_pending":  res.RemainingPending.Dec(),
	})
}

// GetPending reports the settlement ledger for one asset, or for the base
// asset and every product when no asset is given.
func (h *AdminHandler) GetPending(c *gin.Context) {
	if asset := c.Query("asset"); asset != "" {
		if !common.IsHexAddress(asset) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
			return
		}
		sale, settled := h.bridge.Pending(common.HexToAddress(asset))
		c.JSON(http.StatusOK, gin.H{
			"asset":           asset,
			"pending_sale":    sale.Dec(),
			"pending_settled": settled.Dec(),
		})
		return
	}

	assets := []common.Address{h.vault.Params().Asset}
	for _, p := range h.bridge.Products() {
		assets = append(assets, p.Asset)
	}
	out := make([]gin.H, 0, len(assets))
	for _, a := range assets {
		sale, settled := h.bridge.Pending(a)
		out = append(out, gin.H{
			"asset":           a.Hex(),
			"pending_sale":    sale.Dec(),
			"pending_settled": settled.Dec(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"pending": out})
}

func (h *AdminHandler) ListAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	account := c.Query("account")

	var from, to *time.Time
	if s := c.Query("from"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			from = &t
		}
	}
	if s := c.Query("to"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			to = &t
		}
	}

	entries, err := h.auditSvc.List(c.Request.Context(), account, limit, from, to)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
