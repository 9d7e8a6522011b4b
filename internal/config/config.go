package config

import (
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Auth     AuthConfig      `mapstructure:"auth"`
	Database DatabaseConfig  `mapstructure:"database"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Vault    VaultConfig     `mapstructure:"vault"`
	Bridge   BridgeConfig    `mapstructure:"bridge"`
	Strategy StrategyConfig  `mapstructure:"strategy"`
	Oracle   OracleConfig    `mapstructure:"oracle"`
	Products []ProductConfig `mapstructure:"products"`
	Accounts []AccountConfig `mapstructure:"accounts"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AuthConfig struct {
	RequireAPIKey bool   `mapstructure:"require_api_key"`
	AdminKey      string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr                  string `mapstructure:"addr"`
	Password              string `mapstructure:"password"`
	DB                    int    `mapstructure:"db"`
	IdempotencyTTLSeconds int    `mapstructure:"idempotency_ttl_seconds"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// VaultConfig describes the single vault this gateway runs.
// Fee percentages are plain percent (20.0 == 20%); the management fee is
// annualized and pro-rated to a weekly equivalent at load time.
type VaultConfig struct {
	Address            string  `mapstructure:"address"`
	Asset              string  `mapstructure:"asset"`
	AssetDecimals      uint8   `mapstructure:"asset_decimals"`
	Cap                string  `mapstructure:"cap"`
	MinDeposit         string  `mapstructure:"min_deposit"`
	PerformanceFeePct  float64 `mapstructure:"performance_fee_pct"`
	ManagementFeePct   float64 `mapstructure:"management_fee_pct"`
	RoundDurationHours int     `mapstructure:"round_duration_hours"`
	FeeRecipient       string  `mapstructure:"fee_recipient"`
}

type BridgeConfig struct {
	Address            string  `mapstructure:"address"`
	FeeCollector       string  `mapstructure:"fee_collector"`
	TimelockHours      int     `mapstructure:"timelock_hours"`
	MinProviderSwapUSD float64 `mapstructure:"min_provider_swap_usd"`
	ParDeviationBps    uint64  `mapstructure:"par_deviation_bps"`
}

type StrategyConfig struct {
	Mode    string `mapstructure:"mode"` // "sim" is the only built-in mode
	Address string `mapstructure:"address"`
	PnlBps  int64  `mapstructure:"pnl_bps"` // per-round simulated PnL, negative for a loss
}

type OracleConfig struct {
	Decimals uint8             `mapstructure:"decimals"`
	Prices   map[string]string `mapstructure:"prices"` // "base/quote" -> decimal price
}

type ProductConfig struct {
	Asset             string `mapstructure:"asset"`
	Decimals          uint8  `mapstructure:"decimals"`
	MMSpreadBps       uint64 `mapstructure:"mm_spread_bps"`
	ProviderSpreadBps uint64 `mapstructure:"provider_spread_bps"`
	IssueAddress      string `mapstructure:"issue_address"`
	RedeemAddress     string `mapstructure:"redeem_address"`
	Whitelisted       bool   `mapstructure:"whitelisted"`
}

type AccountConfig struct {
	Address string  `mapstructure:"address"`
	APIKey  string  `mapstructure:"api_key"`
	QPS     float64 `mapstructure:"qps"`
	Burst   int     `mapstructure:"burst"`
}

// FeeScale is the fixed-point scale for fee percentages: 1% == 1 * FeeScale.
const FeeScale = 1_000_000

// PerformanceFeeScaled returns the performance fee as percent * FeeScale.
func (v VaultConfig) PerformanceFeeScaled() uint64 {
	return uint64(math.Round(v.PerformanceFeePct * FeeScale))
}

// WeeklyManagementFeeScaled converts the annualized management fee to the
// per-round (weekly) equivalent, as percent * FeeScale.
func (v VaultConfig) WeeklyManagementFeeScaled() uint64 {
	return uint64(math.Round(v.ManagementFeePct * FeeScale * 7 / 365))
}

func (v VaultConfig) Validate() error {
	if v.Asset == "" {
		return fmt.Errorf("vault.asset is required")
	}
	if v.AssetDecimals == 0 || v.AssetDecimals > 18 {
		return fmt.Errorf("vault.asset_decimals must be in 1..18")
	}
	if v.PerformanceFeePct < 0 || v.PerformanceFeePct >= 100 {
		return fmt.Errorf("vault.performance_fee_pct out of range")
	}
	if v.ManagementFeePct < 0 || v.ManagementFeePct >= 100 {
		return fmt.Errorf("vault.management_fee_pct out of range")
	}
	return nil
}

func (p ProductConfig) Validate() error {
	if p.Asset == "" {
		return fmt.Errorf("product asset is required")
	}
	// Spreads are capped at 1%.
	if p.MMSpreadBps > 100 || p.ProviderSpreadBps > 100 {
		return fmt.Errorf("product %s: spread exceeds 100 bps", p.Asset)
	}
	return nil
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. VAULTGATE_VAULT_ASSET
	viper.SetEnvPrefix("vaultgate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("auth.require_api_key", false)
	viper.SetDefault("auth.admin_key", "")
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("redis.idempotency_ttl_seconds", 86400)
	viper.SetDefault("vault.address", "0x0000000000000000000000000000000000000100")
	viper.SetDefault("vault.asset", "0x0000000000000000000000000000000000000001")
	viper.SetDefault("vault.asset_decimals", 6)
	viper.SetDefault("vault.cap", "100000000000000") // 100M at 6 decimals
	viper.SetDefault("vault.min_deposit", "1")
	viper.SetDefault("vault.performance_fee_pct", 10.0)
	viper.SetDefault("vault.management_fee_pct", 2.0)
	viper.SetDefault("vault.round_duration_hours", 168)
	viper.SetDefault("vault.fee_recipient", "0x0000000000000000000000000000000000000200")
	viper.SetDefault("bridge.address", "0x0000000000000000000000000000000000000300")
	viper.SetDefault("bridge.fee_collector", "0x0000000000000000000000000000000000000400")
	viper.SetDefault("bridge.timelock_hours", 6)
	viper.SetDefault("bridge.min_provider_swap_usd", 100000.0)
	viper.SetDefault("bridge.par_deviation_bps", 200)
	viper.SetDefault("strategy.mode", "sim")
	viper.SetDefault("strategy.address", "0x0000000000000000000000000000000000000500")
	viper.SetDefault("strategy.pnl_bps", 0)
	viper.SetDefault("oracle.decimals", 8)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Vault.Validate(); err != nil {
		return nil, err
	}
	for _, p := range cfg.Products {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}
