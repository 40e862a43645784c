// Package config defines all configuration for the Trading Core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via TRADINGCORE_* environment variables.
//
// Grounded on the teacher's internal/config.Load: a single viper instance,
// mapstructure tags, env-prefix override for secrets, and a Validate()
// pass that fails fast — generalized from one venue's wallet/API block to
// a list of per-venue adapter configurations (§9: "multi-venue from day
// one").
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun      bool          `mapstructure:"dry_run"`
	StrategyDir string        `mapstructure:"strategy_dir"`
	Venues      []VenueConfig `mapstructure:"venues"`
	Listen      ListenConfig  `mapstructure:"listen"`
	Router      RouterConfig  `mapstructure:"router"`
	IPC         IPCConfig     `mapstructure:"ipc"`
	Store       StoreConfig   `mapstructure:"store"`
	Logging     LoggingConfig `mapstructure:"logging"`
}

// VenueConfig configures one (venue, variant) adapter instance. Credentials
// are NOT set here — those live in the Strategy Registry's per-strategy
// files (§4.F) — this block only carries what the adapter itself needs to
// reach the venue: which host, which rate limits.
type VenueConfig struct {
	Venue                string  `mapstructure:"venue"`   // "binance" | "okx"
	Variant              string  `mapstructure:"variant"` // "SPOT" | "USDT_PERP" | "COIN_PERP"
	IsTestnet            bool    `mapstructure:"is_testnet"`
	ProxyURL             string  `mapstructure:"proxy_url"`
	OrderRatePerSec      float64 `mapstructure:"order_rate_per_sec"`
	OrderBurst           float64 `mapstructure:"order_burst"`
	CancelRatePerSec     float64 `mapstructure:"cancel_rate_per_sec"`
	CancelBurst          float64 `mapstructure:"cancel_burst"`
	MarketDataRatePerSec float64 `mapstructure:"market_data_rate_per_sec"`
	MarketDataBurst      float64 `mapstructure:"market_data_burst"`
}

// ListenConfig controls the HTTP surface that carries the Query Facade,
// health introspection, and the three IPC channels as WebSocket endpoints
// (§10 Supplementary Features).
type ListenConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RouterConfig tunes the Order Router. RetentionTTL is not passed to the
// Router: terminal entries are always kept for router.DefaultRetentionTTL.
type RouterConfig struct {
	PIDTag        string        `mapstructure:"pid_tag"`
	RetentionTTL  time.Duration `mapstructure:"retention_ttl"`
	RetireEvery   time.Duration `mapstructure:"retire_every"`
}

// IPCConfig tunes the three IPC Broker channels.
type IPCConfig struct {
	OrdersWorkers       int `mapstructure:"orders_workers"`
	MarketBufferSize    int `mapstructure:"market_buffer_size"`
	ReportsBufferSize   int `mapstructure:"reports_buffer_size"`
}

// StoreConfig sets where the registry snapshot is persisted (JSON files).
// The in-flight order table is kept in memory only.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive overrides use env vars: TRADINGCORE_DRY_RUN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADINGCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if os.Getenv("TRADINGCORE_DRY_RUN") == "true" || os.Getenv("TRADINGCORE_DRY_RUN") == "1" {
		cfg.DryRun = true
	}
	if dir := os.Getenv("TRADINGCORE_STRATEGY_DIR"); dir != "" {
		cfg.StrategyDir = dir
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.Addr == "" {
		cfg.Listen.Addr = ":8090"
	}
	if cfg.Router.RetentionTTL == 0 {
		cfg.Router.RetentionTTL = 5 * time.Minute
	}
	if cfg.Router.RetireEvery == 0 {
		cfg.Router.RetireEvery = time.Minute
	}
	if cfg.Router.PIDTag == "" {
		cfg.Router.PIDTag = fmt.Sprintf("pid%d", os.Getpid())
	}
	if cfg.IPC.OrdersWorkers == 0 {
		cfg.IPC.OrdersWorkers = 8
	}
	if cfg.IPC.MarketBufferSize == 0 {
		cfg.IPC.MarketBufferSize = 256
	}
	if cfg.IPC.ReportsBufferSize == 0 {
		cfg.IPC.ReportsBufferSize = 64
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = "data"
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.StrategyDir == "" {
		return fmt.Errorf("strategy_dir is required (set TRADINGCORE_STRATEGY_DIR)")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}
	for i, v := range c.Venues {
		if v.Venue == "" {
			return fmt.Errorf("venues[%d].venue is required", i)
		}
		if v.Variant == "" {
			return fmt.Errorf("venues[%d].variant is required", i)
		}
	}
	if c.Listen.Addr == "" {
		return fmt.Errorf("listen.addr is required")
	}
	return nil
}
