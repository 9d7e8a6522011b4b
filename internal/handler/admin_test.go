package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/vaultgate/vaultgate/internal/bridge"
	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/middleware"
	"github.com/vaultgate/vaultgate/internal/oracle"
	"github.com/vaultgate/vaultgate/internal/strategy"
	"github.com/vaultgate/vaultgate/internal/token"
	"github.com/vaultgate/vaultgate/internal/vault"
)

func newAdminRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)

	vaultAddr := common.HexToAddress("0x0000000000000000000000000000000000000100")
	bridgeAddr := common.HexToAddress("0x0000000000000000000000000000000000000300")
	asset := common.HexToAddress("0x0000000000000000000000000000000000000001")

	bank := token.NewMemBank(vaultAddr, bridgeAddr)
	strat := strategy.NewSim(bank, asset, vaultAddr,
		common.HexToAddress("0x0000000000000000000000000000000000000500"), 0)

	v := vault.New(vault.Params{
		Address:       vaultAddr,
		Asset:         asset,
		Decimals:      6,
		Cap:           uint256.NewInt(1_000_000_000_000),
		MinDeposit:    uint256.NewInt(1),
		RoundDuration: 168 * time.Hour,
		FeeRecipient:  common.HexToAddress("0x0000000000000000000000000000000000000200"),
	}, bank, strat)

	b := bridge.New(bridge.Params{
		Address:            bridgeAddr,
		BaseAsset:          asset,
		BaseDecimals:       6,
		VaultAddress:       vaultAddr,
		FeeCollector:       common.HexToAddress("0x0000000000000000000000000000000000000400"),
		Timelock:           6 * time.Hour,
		MinProviderSwapUSD: decimal.NewFromInt(100_000),
		ParDeviationBps:    200,
	}, bank, oracle.NewStaticOracle(8))

	h := NewAdminHandler(v, b, nil)

	router := gin.New()
	admin := router.Group("/v1/admin")
	admin.Use(middleware.AdminMiddleware(cfg))
	admin.GET("/pending", h.GetPending)
	admin.POST("/roll", h.Roll)
	return router
}

func TestAdminRoutesRequireKey(t *testing.T) {
	router := newAdminRouter(&config.Config{
		Auth: config.AuthConfig{AdminKey: "admin"},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/pending", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/admin/pending", nil)
	req.Header.Set(middleware.HeaderAdminKey, "wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong admin key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/admin/pending", nil)
	req.Header.Set(middleware.HeaderAdminKey, "admin")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with admin key, got %d", rec.Code)
	}
}

func TestAdminRoutesRefuseWhenUnconfigured(t *testing.T) {
	router := newAdminRouter(&config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/pending", nil)
	req.Header.Set(middleware.HeaderAdminKey, "anything")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with no admin key configured, got %d", rec.Code)
	}
}
