package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/vaultgate/vaultgate/internal/bridge"
	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/handler"
	"github.com/vaultgate/vaultgate/internal/middleware"
	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/oracle"
	"github.com/vaultgate/vaultgate/internal/pkg/logger"
	"github.com/vaultgate/vaultgate/internal/repository"
	"github.com/vaultgate/vaultgate/internal/service"
	"github.com/vaultgate/vaultgate/internal/strategy"
	"github.com/vaultgate/vaultgate/internal/stream"
	"github.com/vaultgate/vaultgate/internal/token"
	"github.com/vaultgate/vaultgate/internal/vault"
)

func main() {
	// 0. Initialize Logger
	logger.Init("info")

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Persistence
	// Postgres (optional): in-memory state is authoritative, the DB is a
	// write-through snapshot that survives restarts.
	var (
		db         *repository.VaultRepo
		bridgeRepo *repository.BridgeRepo
		auditRepo  service.AuditRepo
	)
	if cfg.Database.DSN != "" {
		gdb, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("✅ Connected to PostgreSQL")
			db = repository.NewVaultRepo(gdb)
			bridgeRepo = repository.NewBridgeRepo(gdb)
			auditRepo = repository.NewPostgresAuditRepo(gdb)
		} else {
			logger.Error("⚠️ Failed to connect to DB, running memory-only", "error", err)
		}
	}

	// Idempotency (Redis > Memory)
	var idempotencyStore middleware.IdempotencyStore
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			ttl := time.Duration(cfg.Redis.IdempotencyTTLSeconds) * time.Second
			idempotencyStore = repository.NewRedisIdempotencyStore(redisClient, ttl)
		} else {
			logger.Error("⚠️ Failed to connect to Redis, falling back to memory", "error", err)
		}
	}
	if idempotencyStore == nil {
		idempotencyStore = middleware.NewInMemIdempotencyStore()
	}

	// 3. Initialize Core Services
	accountManager := service.NewAccountManager(cfg)

	auditSvc, err := service.NewAuditService("./logs", auditRepo)
	if err != nil {
		log.Fatalf("Failed to initialize audit service: %v", err)
	}

	hub := stream.NewHub()

	vaultAddr := common.HexToAddress(cfg.Vault.Address)
	bridgeAddr := common.HexToAddress(cfg.Bridge.Address)
	assetAddr := common.HexToAddress(cfg.Vault.Asset)

	bank := token.NewMemBank(vaultAddr, bridgeAddr)
	seedAccounts(bank, cfg, assetAddr, accountManager)

	strat := strategy.NewSim(bank, assetAddr, vaultAddr,
		common.HexToAddress(cfg.Strategy.Address), cfg.Strategy.PnlBps)

	px := oracle.NewStaticOracle(cfg.Oracle.Decimals)
	for pair, price := range cfg.Oracle.Prices {
		base, quote, ok := strings.Cut(pair, "/")
		if !ok {
			log.Fatalf("Bad oracle pair %q, want base/quote", pair)
		}
		if err := px.SetDecimal(common.HexToAddress(base), common.HexToAddress(quote), price); err != nil {
			log.Fatalf("Bad oracle price for %s: %v", pair, err)
		}
	}

	vaultSvc := vault.New(vaultParams(cfg, vaultAddr, assetAddr), bank, strat,
		vaultOptions(db, hub)...)
	bridgeSvc := bridge.New(bridgeParams(cfg, bridgeAddr, vaultAddr, assetAddr), bank, px,
		bridgeOptions(bridgeRepo, hub)...)

	restoreState(vaultSvc, bridgeSvc, db, bridgeRepo)

	for _, pc := range cfg.Products {
		p := model.Product{
			Asset:             common.HexToAddress(pc.Asset),
			Decimals:          pc.Decimals,
			MMSpreadBps:       pc.MMSpreadBps,
			ProviderSpreadBps: pc.ProviderSpreadBps,
			IssueAddress:      common.HexToAddress(pc.IssueAddress),
			RedeemAddress:     common.HexToAddress(pc.RedeemAddress),
			Whitelisted:       pc.Whitelisted,
		}
		if err := bridgeSvc.SetProduct(context.Background(), p); err != nil {
			log.Fatalf("Failed to register product %s: %v", pc.Asset, err)
		}
	}

	// 4. Initialize Handlers
	vaultHandler := handler.NewVaultHandler(vaultSvc)
	adminHandler := handler.NewAdminHandler(vaultSvc, bridgeSvc, auditSvc)

	// 5. Setup Router
	r := gin.Default()

	// Global Middleware
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.AuditMiddleware(auditSvc))

	// Health Check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":         "ok",
			"service":        "vaultgate",
			"round":          vaultSvc.Round(),
			"stream_clients": hub.ClientCount(),
		})
	})

	// Metrics Endpoint
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// Event Stream
	r.GET("/v1/stream", hub.Handler)

	// API V1 Routes
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg, accountManager))
	v1.Use(middleware.RateLimitMiddleware(accountManager))
	v1.Use(middleware.IdempotencyMiddleware(idempotencyStore))
	{
		v1.POST("/deposit", vaultHandler.Deposit)
		v1.POST("/withdrawals", vaultHandler.InitiateWithdraw)
		v1.POST("/withdrawals/complete", vaultHandler.CompleteWithdraw)
		v1.POST("/redeem", vaultHandler.Redeem)
		v1.GET("/account", vaultHandler.GetAccount)
		v1.GET("/vault", vaultHandler.GetVault)
		v1.GET("/rounds", vaultHandler.ListRounds)
	}

	admin := r.Group("/v1/admin")
	admin.Use(middleware.AdminMiddleware(cfg))
	{
		admin.POST("/roll", adminHandler.Roll)
		admin.POST("/products", adminHandler.SetProduct)
		admin.GET("/products", adminHandler.ListProducts)
		admin.POST("/swap", adminHandler.Swap)
		admin.POST("/purchase", adminHandler.InitiatePurchase)
		admin.POST("/settle", adminHandler.Settle)
		admin.GET("/pending", adminHandler.GetPending)
		admin.GET("/audit", adminHandler.ListAudit)
	}

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 VaultGate started", "port", cfg.Server.Port, "round", vaultSvc.Round())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	auditSvc.Close()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}

func vaultParams(cfg *config.Config, vaultAddr, assetAddr common.Address) vault.Params {
	return vault.Params{
		Address:           vaultAddr,
		Asset:             assetAddr,
		Decimals:          cfg.Vault.AssetDecimals,
		Cap:               mustAmount("vault.cap", cfg.Vault.Cap),
		MinDeposit:        mustAmount("vault.min_deposit", cfg.Vault.MinDeposit),
		PerformanceFeePct: cfg.Vault.PerformanceFeeScaled(),
		ManagementFeePct:  cfg.Vault.WeeklyManagementFeeScaled(),
		RoundDuration:     time.Duration(cfg.Vault.RoundDurationHours) * time.Hour,
		FeeRecipient:      common.HexToAddress(cfg.Vault.FeeRecipient),
	}
}

func bridgeParams(cfg *config.Config, bridgeAddr, vaultAddr, assetAddr common.Address) bridge.Params {
	return bridge.Params{
		Address:            bridgeAddr,
		BaseAsset:          assetAddr,
		BaseDecimals:       cfg.Vault.AssetDecimals,
		VaultAddress:       vaultAddr,
		FeeCollector:       common.HexToAddress(cfg.Bridge.FeeCollector),
		Timelock:           time.Duration(cfg.Bridge.TimelockHours) * time.Hour,
		MinProviderSwapUSD: decimal.NewFromFloat(cfg.Bridge.MinProviderSwapUSD),
		ParDeviationBps:    cfg.Bridge.ParDeviationBps,
	}
}

func vaultOptions(db *repository.VaultRepo, hub *stream.Hub) []vault.Option {
	opts := []vault.Option{vault.WithPublisher(hub)}
	if db != nil {
		opts = append(opts, vault.WithRepo(db))
	}
	return opts
}

func bridgeOptions(repo *repository.BridgeRepo, hub *stream.Hub) []bridge.Option {
	opts := []bridge.Option{bridge.WithPublisher(hub)}
	if repo != nil {
		opts = append(opts, bridge.WithRepo(repo))
	}
	return opts
}

// restoreState rehydrates vault and bridge memory from the DB snapshot.
func restoreState(v *vault.Vault, b *bridge.Bridge, db *repository.VaultRepo, br *repository.BridgeRepo) {
	ctx := context.Background()
	if db != nil {
		state, found, err := db.LoadState(ctx)
		if err != nil {
			log.Fatalf("Failed to load vault state: %v", err)
		}
		if found {
			receipts, err := db.LoadReceipts(ctx)
			if err != nil {
				log.Fatalf("Failed to load receipts: %v", err)
			}
			withdrawals, err := db.LoadWithdrawals(ctx)
			if err != nil {
				log.Fatalf("Failed to load withdrawals: %v", err)
			}
			balances, err := db.LoadShareBalances(ctx)
			if err != nil {
				log.Fatalf("Failed to load share balances: %v", err)
			}
			prices, err := db.LoadRoundPrices(ctx)
			if err != nil {
				log.Fatalf("Failed to load round prices: %v", err)
			}
			v.Restore(state, receipts, withdrawals, balances, prices)

			rounds, err := db.ListRounds(ctx, 500)
			if err != nil {
				log.Fatalf("Failed to load round history: %v", err)
			}
			// ListRounds is newest-first; history is kept oldest-first.
			for i, j := 0, len(rounds)-1; i < j; i, j = i+1, j-1 {
				rounds[i], rounds[j] = rounds[j], rounds[i]
			}
			v.RestoreRounds(rounds)
			logger.Info("Vault state restored", "round", state.Round, "receipts", len(receipts))
		}
	}
	if br != nil {
		products, err := br.LoadProducts(ctx)
		if err != nil {
			log.Fatalf("Failed to load products: %v", err)
		}
		b.RestoreProducts(products)
		sales, err := br.LoadSales(ctx)
		if err != nil {
			log.Fatalf("Failed to load sale ledger: %v", err)
		}
		for _, s := range sales {
			b.RestoreSale(s.Asset, s.Product, s.Amount)
		}
		settled, err := br.LoadSettled(ctx)
		if err != nil {
			log.Fatalf("Failed to load settled ledger: %v", err)
		}
		for asset, amount := range settled {
			b.RestoreSettled(asset, amount)
		}
	}
}

// seedAccounts funds configured accounts in sim mode so deposits have
// something to pull from.
func seedAccounts(bank *token.MemBank, cfg *config.Config, asset common.Address, am *service.AccountManager) {
	if cfg.Strategy.Mode != "sim" {
		return
	}
	seed := mustAmount("vault.cap", cfg.Vault.Cap)
	for _, a := range am.List() {
		bank.Mint(asset, a.Address, seed)
	}
	logger.Info("Sim mode: seeded account balances", "accounts", len(am.List()), "amount", seed.Dec())
}

func mustAmount(name, s string) *uint256.Int {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		log.Fatalf("Bad %s %q: %v", name, s, err)
	}
	return v
}
