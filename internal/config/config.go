package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        LoggingConfig    `yaml:"log"`
	Keeper     KeeperConfig     `yaml:"keeper"`
	Vaults     []VaultConfig    `yaml:"vaults"`
	Volatility VolatilityConfig `yaml:"volatility"`
	RFQ        RFQConfig        `yaml:"rfq"`
	Settlement SettlementConfig `yaml:"settlement"`
	Chain      ChainConfig      `yaml:"chain"`
	PriceFeed  PriceFeedConfig  `yaml:"pricefeed"`
	State      StateConfig      `yaml:"state"`
	Timescale  TimescaleConfig  `yaml:"timescale"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type KeeperConfig struct {
	TickInterval               time.Duration `yaml:"tick_interval"`
	ReconcileInterval          time.Duration `yaml:"reconcile_interval"`
	RateLimitInterval          time.Duration `yaml:"rate_limit_interval"`
	MaxConsecutiveFailures     int           `yaml:"max_consecutive_failures"`
	RiskFreeRate               float64       `yaml:"risk_free_rate"`
	EpochDurationDays          float64       `yaml:"epoch_duration_days"`
	StrikeDeltaBps             int           `yaml:"strike_delta_bps"`
	VolatilityLookbackDays     int           `yaml:"volatility_lookback_days"`
	UtilizationSafetyMarginBps int           `yaml:"utilization_safety_margin_bps"`
	MinTradeableNotional       uint64        `yaml:"min_tradeable_notional"`
	MaxRollFraction            float64       `yaml:"max_roll_fraction"`
	TokenDecimals              int32         `yaml:"token_decimals"`
	PremiumDecimals            int32         `yaml:"premium_decimals"`
	MaxDivergence              float64       `yaml:"max_divergence"`
	HaltOnDivergence           *bool         `yaml:"halt_on_divergence"`
	AutoReconcile              *bool         `yaml:"auto_reconcile"`
	FundingAccount             string        `yaml:"funding_account"`
	SigningKeyEnv              string        `yaml:"signing_key_env"`
}

// HaltOnDivergenceValue reports whether high-divergence ticks stop before the auction.
func (k KeeperConfig) HaltOnDivergenceValue() bool {
	return k.HaltOnDivergence == nil || *k.HaltOnDivergence
}

// AutoReconcileValue reports whether shortfalls are repaired automatically.
func (k KeeperConfig) AutoReconcileValue() bool {
	return k.AutoReconcile == nil || *k.AutoReconcile
}

type VaultConfig struct {
	AssetID     string `yaml:"asset_id"`
	Address     string `yaml:"address"`
	Ticker      string `yaml:"ticker"`
	Mint        string `yaml:"mint"`
	PriceFeedID string `yaml:"price_feed_id"`
}

type VolatilityConfig struct {
	OnChainWeight     float64 `yaml:"onchain_weight"`
	OffChainWeight    float64 `yaml:"offchain_weight"`
	MinSamples        int     `yaml:"min_samples"`
	OnChainAdjustment float64 `yaml:"onchain_adjustment"`
}

type RFQConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	MaxPremiumMultiple float64       `yaml:"max_premium_multiple"`
	MinPremiumRatio    *float64      `yaml:"min_premium_ratio"`
	Makers             []MakerConfig `yaml:"makers"`
}

// MinPremiumRatioValue returns the premium floor relative to the theoretical price.
func (r RFQConfig) MinPremiumRatioValue() float64 {
	if r.MinPremiumRatio == nil {
		return 0.8
	}
	return *r.MinPremiumRatio
}

type MakerConfig struct {
	ID        string `yaml:"id"`
	URL       string `yaml:"url"`
	Transport string `yaml:"transport"`
	APIKeyEnv string `yaml:"api_key_env"`
	Address   string `yaml:"address"`
}

// APIKey resolves the maker credential from the environment.
func (m MakerConfig) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.APIKeyEnv)
}

type SettlementConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

type ChainConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type PriceFeedConfig struct {
	HermesURL      string        `yaml:"hermes_url"`
	YahooURL       string        `yaml:"yahoo_url"`
	Timeout        time.Duration `yaml:"timeout"`
	Retries        int           `yaml:"retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	Retention      time.Duration `yaml:"retention"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TimescaleConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DSN           string        `yaml:"dsn"`
	Schema        string        `yaml:"schema"`
	QueueSize     int           `yaml:"queue_size"`
	ConnTimeout   time.Duration `yaml:"conn_timeout"`
	InsertTimeout time.Duration `yaml:"insert_timeout"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled == nil || *m.Enabled
}

var assetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = "json"
	}
	k := &cfg.Keeper
	if k.TickInterval == 0 {
		k.TickInterval = time.Minute
	}
	if k.ReconcileInterval == 0 {
		k.ReconcileInterval = 10 * time.Minute
	}
	if k.RateLimitInterval == 0 {
		k.RateLimitInterval = 60 * time.Second
	}
	if k.MaxConsecutiveFailures == 0 {
		k.MaxConsecutiveFailures = 3
	}
	if k.RiskFreeRate == 0 {
		k.RiskFreeRate = 0.05
	}
	if k.EpochDurationDays == 0 {
		k.EpochDurationDays = 7
	}
	if k.StrikeDeltaBps == 0 {
		k.StrikeDeltaBps = 1000
	}
	if k.VolatilityLookbackDays == 0 {
		k.VolatilityLookbackDays = 30
	}
	if k.MinTradeableNotional == 0 {
		k.MinTradeableNotional = 10_000
	}
	if k.MaxRollFraction == 0 {
		k.MaxRollFraction = 0.5
	}
	if k.TokenDecimals == 0 {
		k.TokenDecimals = 6
	}
	if k.PremiumDecimals == 0 {
		k.PremiumDecimals = 6
	}
	if k.MaxDivergence == 0 {
		k.MaxDivergence = 0.25
	}
	if k.FundingAccount == "" {
		k.FundingAccount = os.Getenv("KEEPER_FUNDING_ACCOUNT")
	}
	if k.SigningKeyEnv == "" {
		k.SigningKeyEnv = "KEEPER_SIGNING_KEY"
	}

	v := &cfg.Volatility
	if v.OnChainWeight == 0 && v.OffChainWeight == 0 {
		v.OnChainWeight = 0.5
		v.OffChainWeight = 0.5
	}
	if v.MinSamples == 0 {
		v.MinSamples = 5
	}
	if v.OnChainAdjustment == 0 {
		v.OnChainAdjustment = 1.075
	}

	if cfg.RFQ.Timeout == 0 {
		cfg.RFQ.Timeout = 10 * time.Second
	}
	if cfg.RFQ.MaxPremiumMultiple == 0 {
		cfg.RFQ.MaxPremiumMultiple = 3
	}
	for i := range cfg.RFQ.Makers {
		if cfg.RFQ.Makers[i].Transport == "" {
			cfg.RFQ.Makers[i].Transport = "ws"
		}
	}

	if cfg.Settlement.MaxAttempts == 0 {
		cfg.Settlement.MaxAttempts = 5
	}
	if cfg.Settlement.BackoffBase == 0 {
		cfg.Settlement.BackoffBase = 200 * time.Millisecond
	}
	if cfg.Settlement.BackoffMax == 0 {
		cfg.Settlement.BackoffMax = 10 * time.Second
	}

	if cfg.Chain.BaseURL == "" {
		cfg.Chain.BaseURL = "http://127.0.0.1:8899"
	}
	if cfg.Chain.Timeout == 0 {
		cfg.Chain.Timeout = 30 * time.Second
	}

	p := &cfg.PriceFeed
	if p.HermesURL == "" {
		p.HermesURL = "https://hermes.pyth.network"
	}
	if p.YahooURL == "" {
		p.YahooURL = "https://query1.finance.yahoo.com"
	}
	if p.Timeout == 0 {
		p.Timeout = 10 * time.Second
	}
	if p.Retries == 0 {
		p.Retries = 3
	}
	if p.RetryDelay == 0 {
		p.RetryDelay = 2 * time.Second
	}
	if p.SampleInterval == 0 {
		p.SampleInterval = time.Hour
	}
	if p.Retention == 0 {
		p.Retention = 90 * 24 * time.Hour
	}

	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/optionsfi-keeper.db"
	}

	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
	if cfg.Timescale.ConnTimeout == 0 {
		cfg.Timescale.ConnTimeout = 5 * time.Second
	}
	if cfg.Timescale.InsertTimeout == 0 {
		cfg.Timescale.InsertTimeout = 2 * time.Second
	}

	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 5 * time.Second
	}

	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
}

func validate(cfg *Config) error {
	if cfg.Keeper.TickInterval <= 0 {
		return errors.New("keeper.tick_interval must be > 0")
	}
	if cfg.Keeper.ReconcileInterval <= 0 {
		return errors.New("keeper.reconcile_interval must be > 0")
	}
	if cfg.Keeper.UtilizationSafetyMarginBps < 0 || cfg.Keeper.UtilizationSafetyMarginBps >= 10_000 {
		return errors.New("keeper.utilization_safety_margin_bps must be within [0, 10000)")
	}
	if cfg.Keeper.MaxRollFraction < 0 || cfg.Keeper.MaxRollFraction > 1 {
		return errors.New("keeper.max_roll_fraction must be within [0, 1]")
	}
	if cfg.Keeper.EpochDurationDays <= 0 {
		return errors.New("keeper.epoch_duration_days must be > 0")
	}
	if len(cfg.Vaults) == 0 {
		return errors.New("at least one vault is required")
	}
	seen := make(map[string]struct{}, len(cfg.Vaults))
	for i, vault := range cfg.Vaults {
		if !assetIDPattern.MatchString(vault.AssetID) {
			return fmt.Errorf("vaults[%d].asset_id %q is invalid", i, vault.AssetID)
		}
		if _, dup := seen[vault.AssetID]; dup {
			return fmt.Errorf("vaults[%d].asset_id %q is duplicated", i, vault.AssetID)
		}
		seen[vault.AssetID] = struct{}{}
		if strings.TrimSpace(vault.Address) == "" {
			return fmt.Errorf("vaults[%d].address is required", i)
		}
	}
	if cfg.Volatility.OnChainWeight < 0 || cfg.Volatility.OffChainWeight < 0 {
		return errors.New("volatility weights must be >= 0")
	}
	if cfg.Volatility.OnChainWeight+cfg.Volatility.OffChainWeight <= 0 {
		return errors.New("volatility weights must sum to > 0")
	}
	if cfg.RFQ.Timeout <= 0 {
		return errors.New("rfq.timeout must be > 0")
	}
	if cfg.RFQ.MinPremiumRatioValue() < 0 {
		return errors.New("rfq.min_premium_ratio must be >= 0")
	}
	if len(cfg.RFQ.Makers) == 0 {
		return errors.New("at least one rfq maker is required")
	}
	for i, maker := range cfg.RFQ.Makers {
		if maker.ID == "" {
			return fmt.Errorf("rfq.makers[%d].id is required", i)
		}
		if maker.URL == "" {
			return fmt.Errorf("rfq.makers[%d].url is required", i)
		}
		switch maker.Transport {
		case "ws", "http":
		default:
			return fmt.Errorf("rfq.makers[%d].transport %q must be ws or http", i, maker.Transport)
		}
	}
	if cfg.Settlement.MaxAttempts < 1 {
		return errors.New("settlement.max_attempts must be >= 1")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	if cfg.Telegram.OperatorEnabled && !cfg.Telegram.Enabled {
		return errors.New("telegram.operator_enabled requires telegram.enabled")
	}
	return nil
}
