// Package config defines all configuration for the market-making bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun       bool               `mapstructure:"dry_run"`
	Wallet       WalletConfig       `mapstructure:"wallet"`
	API          APIConfig          `mapstructure:"api"`
	Chain        ChainConfig        `mapstructure:"chain"`
	MarketSource MarketSourceConfig `mapstructure:"market_source"`
	Reconciler   ReconcilerConfig   `mapstructure:"reconciler"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Store        StoreConfig        `mapstructure:"store"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds Polymarket API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	WSUserURL    string `mapstructure:"ws_user_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// ChainConfig points the adapter at the Polygon RPC, the two CTF Exchange
// contracts orders are signed against (standard vs. neg-risk markets use
// different verifying contracts in the EIP-712 domain), the two contracts
// it reads balances from, and the external merge subprocess.
type ChainConfig struct {
	RPCURL              string `mapstructure:"rpc_url"`
	CTFAddress          string `mapstructure:"ctf_address"`
	USDCAddress         string `mapstructure:"usdc_address"`
	ExchangeAddress     string `mapstructure:"exchange_address"`
	NegRiskExchangeAddr string `mapstructure:"neg_risk_exchange_address"`
	MergeBinPath        string `mapstructure:"merge_bin_path"`
}

// MarketSourceConfig points MarketConfigStore's TabularSource at its three
// tables. Paths may be local files or http(s) URLs.
type MarketSourceConfig struct {
	AllMarketsPath      string `mapstructure:"all_markets_path"`
	SelectedMarketsPath string `mapstructure:"selected_markets_path"`
	ParamsPath          string `mapstructure:"params_path"`
}

// ReconcilerConfig tunes the fixed-cadence reconciliation loop (spec §4.6).
type ReconcilerConfig struct {
	TickInterval          time.Duration `mapstructure:"tick_interval"`           // default 5s
	PendingTTL            time.Duration `mapstructure:"pending_ttl"`             // default 15s
	MarketsRefreshEvery   int           `mapstructure:"markets_refresh_every"`   // default 6 ticks (30s)
	PositionGraceWindow   time.Duration `mapstructure:"position_grace_window"`   // default 5s, spec §4.2
}

// EngineConfig tunes TradingEngine's per-market algorithm (spec §4.8).
type EngineConfig struct {
	MinMergeSize   string        `mapstructure:"min_merge_size"`   // decimal string, default "1"
	TailSleep      time.Duration `mapstructure:"tail_sleep"`       // default 2s
	DefaultMaxSize string        `mapstructure:"default_max_size"` // loaded but not read; a market row without max_size falls back to its trade_size
}

// StoreConfig sets where RiskState is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig selects slog's handler and level.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug|info|warn|error
	Format string `mapstructure:"format"` // json|text
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Reconciler.TickInterval == 0 {
		c.Reconciler.TickInterval = 5 * time.Second
	}
	if c.Reconciler.PendingTTL == 0 {
		c.Reconciler.PendingTTL = 15 * time.Second
	}
	if c.Reconciler.MarketsRefreshEvery == 0 {
		c.Reconciler.MarketsRefreshEvery = 6
	}
	if c.Reconciler.PositionGraceWindow == 0 {
		c.Reconciler.PositionGraceWindow = 5 * time.Second
	}
	if c.Engine.MinMergeSize == "" {
		c.Engine.MinMergeSize = "1"
	}
	if c.Engine.TailSleep == 0 {
		c.Engine.TailSleep = 2 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks all required fields and value ranges, joining every
// violation it finds rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Wallet.PrivateKey == "" {
		errs = append(errs, fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)"))
	}
	if c.Wallet.ChainID == 0 {
		errs = append(errs, fmt.Errorf("wallet.chain_id is required (137 for mainnet)"))
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		errs = append(errs, fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)"))
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		errs = append(errs, fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2"))
	}
	if c.API.CLOBBaseURL == "" {
		errs = append(errs, fmt.Errorf("api.clob_base_url is required"))
	}
	if c.Chain.ExchangeAddress == "" {
		errs = append(errs, fmt.Errorf("chain.exchange_address is required"))
	}
	if c.Chain.NegRiskExchangeAddr == "" {
		errs = append(errs, fmt.Errorf("chain.neg_risk_exchange_address is required"))
	}
	if c.MarketSource.AllMarketsPath == "" {
		errs = append(errs, fmt.Errorf("market_source.all_markets_path is required"))
	}
	if c.MarketSource.SelectedMarketsPath == "" {
		errs = append(errs, fmt.Errorf("market_source.selected_markets_path is required"))
	}
	if c.Reconciler.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("reconciler.tick_interval must be > 0"))
	}
	if c.Reconciler.MarketsRefreshEvery <= 0 {
		errs = append(errs, fmt.Errorf("reconciler.markets_refresh_every must be > 0"))
	}
	if c.Store.DataDir == "" {
		errs = append(errs, fmt.Errorf("store.data_dir is required"))
	}

	return errors.Join(errs...)
}
