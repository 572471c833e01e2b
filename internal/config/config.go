// Package config defines all configuration for the gateway. Config is loaded
// from an optional YAML file with sensitive fields overridable via
// environment variables (PRIVATE_KEY, USE_TESTNET per the external
// interface, plus operational overrides for logging and upstream tuning).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"perp-gateway/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Network  string         `mapstructure:"network"` // overridden by USE_TESTNET
	Listen   ListenConfig   `mapstructure:"listen"`
	Signer   SignerConfig   `mapstructure:"signer"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	TwapCfg  TwapConfig     `mapstructure:"twap"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	DryRun   bool           `mapstructure:"dry_run"`
}

// ListenConfig controls the HTTP surface's bind address.
type ListenConfig struct {
	Addr string `mapstructure:"addr"` // default ":3001" per the external contract
}

// SignerConfig holds the material used to sign upstream exchange actions.
// PrivateKey is read from the PRIVATE_KEY env var; never logged.
type SignerConfig struct {
	PrivateKey   string `mapstructure:"private_key"`
	ChainID      int    `mapstructure:"chain_id"`
	VaultAddress string `mapstructure:"vault_address"` // optional; overridden by VAULT_ADDRESS
}

// UpstreamConfig tunes the ExchangeTransport/InfoTransport HTTP client.
type UpstreamConfig struct {
	MainnetBaseURL  string        `mapstructure:"mainnet_base_url"`
	TestnetBaseURL  string        `mapstructure:"testnet_base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	AssetIdTTL      time.Duration `mapstructure:"asset_id_ttl"`
	WarmCacheFile   string        `mapstructure:"warm_cache_file"`
}

// TwapConfig bounds the TWAP scheduler's accepted parameters.
type TwapConfig struct {
	MinIntervals       int `mapstructure:"min_intervals"`
	MaxIntervals       int `mapstructure:"max_intervals"`
	MinDurationMinutes int `mapstructure:"min_duration_minutes"`
	MaxDurationMinutes int `mapstructure:"max_duration_minutes"`
}

// LoggingConfig selects slog's handler and minimum level.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// defaults applies the configuration's documented defaults before the YAML
// file and environment are layered on top.
func defaults(v *viper.Viper) {
	v.SetDefault("network", "mainnet")
	v.SetDefault("listen.addr", ":3001")
	v.SetDefault("signer.chain_id", 42161)
	v.SetDefault("upstream.mainnet_base_url", "https://api.hyperliquid.xyz")
	v.SetDefault("upstream.testnet_base_url", "https://api.hyperliquid-testnet.xyz")
	v.SetDefault("upstream.timeout", 10*time.Second)
	v.SetDefault("upstream.poll_interval", 2*time.Second)
	v.SetDefault("upstream.asset_id_ttl", 5*time.Minute)
	v.SetDefault("upstream.warm_cache_file", "data/asset_ids.json")
	v.SetDefault("twap.min_intervals", 2)
	v.SetDefault("twap.max_intervals", 100)
	v.SetDefault("twap.min_duration_minutes", 5)
	v.SetDefault("twap.max_duration_minutes", 1440)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads config from an optional YAML file with environment overrides.
// path may be empty, in which case only defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Sensitive and contract-mandated fields always come from the
	// environment per the external interface, overriding the file.
	if key := os.Getenv("PRIVATE_KEY"); key != "" {
		cfg.Signer.PrivateKey = key
	}
	if addr := os.Getenv("VAULT_ADDRESS"); addr != "" {
		cfg.Signer.VaultAddress = addr
	}
	if v, ok := os.LookupEnv("USE_TESTNET"); ok {
		if v == "false" {
			cfg.Network = string(types.Mainnet)
		} else {
			cfg.Network = string(types.Testnet)
		}
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch types.Network(c.Network) {
	case types.Mainnet, types.Testnet:
	default:
		return fmt.Errorf("network must be %q or %q", types.Mainnet, types.Testnet)
	}
	if c.Signer.PrivateKey == "" {
		return fmt.Errorf("signer.private_key is required (set PRIVATE_KEY)")
	}
	if c.Listen.Addr == "" {
		return fmt.Errorf("listen.addr is required")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be > 0")
	}
	if c.Upstream.PollInterval <= 0 {
		return fmt.Errorf("upstream.poll_interval must be > 0")
	}
	if c.TwapCfg.MinIntervals < 2 || c.TwapCfg.MaxIntervals < c.TwapCfg.MinIntervals {
		return fmt.Errorf("twap interval bounds are invalid")
	}
	return nil
}
