package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Vaults: []VaultConfig{{
			AssetID: "NVDAx",
			Address: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
			Ticker:  "NVDA",
		}},
		RFQ: RFQConfig{Makers: []MakerConfig{{ID: "alpha", URL: "wss://maker.example/rfq"}}},
	}
}

func TestKeeperDefaults(t *testing.T) {
	cfg := validConfig()
	applyDefaults(cfg)
	if cfg.Keeper.TickInterval != time.Minute {
		t.Fatalf("expected tick interval 1m, got %v", cfg.Keeper.TickInterval)
	}
	if cfg.Keeper.MaxConsecutiveFailures != 3 {
		t.Fatalf("expected failure threshold 3, got %d", cfg.Keeper.MaxConsecutiveFailures)
	}
	if cfg.Keeper.RiskFreeRate != 0.05 {
		t.Fatalf("expected risk free rate 0.05, got %v", cfg.Keeper.RiskFreeRate)
	}
	if cfg.Keeper.StrikeDeltaBps != 1000 {
		t.Fatalf("expected strike delta 1000, got %d", cfg.Keeper.StrikeDeltaBps)
	}
	if cfg.Keeper.MaxDivergence != 0.25 {
		t.Fatalf("expected max divergence 0.25, got %v", cfg.Keeper.MaxDivergence)
	}
	if !cfg.Keeper.HaltOnDivergenceValue() {
		t.Fatalf("expected halt on divergence default")
	}
	if !cfg.Keeper.AutoReconcileValue() {
		t.Fatalf("expected auto reconcile default")
	}
}

func TestVolatilityDefaults(t *testing.T) {
	cfg := validConfig()
	applyDefaults(cfg)
	if cfg.Volatility.OnChainWeight != 0.5 || cfg.Volatility.OffChainWeight != 0.5 {
		t.Fatalf("expected equal weights, got %v/%v", cfg.Volatility.OnChainWeight, cfg.Volatility.OffChainWeight)
	}
	if cfg.Volatility.OnChainAdjustment != 1.075 {
		t.Fatalf("expected 24/7 adjustment 1.075, got %v", cfg.Volatility.OnChainAdjustment)
	}
}

func TestVolatilityWeightsKeptWhenOneSet(t *testing.T) {
	cfg := validConfig()
	cfg.Volatility.OffChainWeight = 1
	applyDefaults(cfg)
	if cfg.Volatility.OnChainWeight != 0 || cfg.Volatility.OffChainWeight != 1 {
		t.Fatalf("expected explicit weights preserved, got %v/%v", cfg.Volatility.OnChainWeight, cfg.Volatility.OffChainWeight)
	}
}

func TestRFQAndSettlementDefaults(t *testing.T) {
	cfg := validConfig()
	applyDefaults(cfg)
	if cfg.RFQ.Timeout != 10*time.Second {
		t.Fatalf("expected rfq timeout 10s, got %v", cfg.RFQ.Timeout)
	}
	if cfg.RFQ.MaxPremiumMultiple != 3 {
		t.Fatalf("expected premium multiple 3, got %v", cfg.RFQ.MaxPremiumMultiple)
	}
	if cfg.RFQ.MinPremiumRatioValue() != 0.8 {
		t.Fatalf("expected premium floor 0.8, got %v", cfg.RFQ.MinPremiumRatioValue())
	}
	if cfg.RFQ.Makers[0].Transport != "ws" {
		t.Fatalf("expected ws transport default, got %q", cfg.RFQ.Makers[0].Transport)
	}
	if cfg.Settlement.MaxAttempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", cfg.Settlement.MaxAttempts)
	}
	if cfg.Settlement.BackoffBase != 200*time.Millisecond {
		t.Fatalf("expected backoff base 200ms, got %v", cfg.Settlement.BackoffBase)
	}
}

func TestMinPremiumRatioExplicitZero(t *testing.T) {
	zero := 0.0
	cfg := validConfig()
	cfg.RFQ.MinPremiumRatio = &zero
	applyDefaults(cfg)
	if cfg.RFQ.MinPremiumRatioValue() != 0 {
		t.Fatalf("expected floor disabled, got %v", cfg.RFQ.MinPremiumRatioValue())
	}
}

func TestMetricsDefaults(t *testing.T) {
	cfg := validConfig()
	applyDefaults(cfg)
	if !cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled default")
	}
	if cfg.Metrics.Address == "" {
		t.Fatalf("expected metrics address default")
	}
}

func TestValidateRejectsBadAssetID(t *testing.T) {
	cfg := validConfig()
	cfg.Vaults[0].AssetID = "bad asset!"
	applyDefaults(cfg)
	if err := validate(cfg); err == nil || !strings.Contains(err.Error(), "asset_id") {
		t.Fatalf("expected asset_id error, got %v", err)
	}
}

func TestValidateRejectsDuplicateVault(t *testing.T) {
	cfg := validConfig()
	cfg.Vaults = append(cfg.Vaults, cfg.Vaults[0])
	applyDefaults(cfg)
	if err := validate(cfg); err == nil || !strings.Contains(err.Error(), "duplicated") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	cfg := validConfig()
	cfg.RFQ.Makers[0].Transport = "grpc"
	applyDefaults(cfg)
	if err := validate(cfg); err == nil || !strings.Contains(err.Error(), "transport") {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestValidateRejectsNegativeWeights(t *testing.T) {
	cfg := validConfig()
	cfg.Volatility.OnChainWeight = -1
	cfg.Volatility.OffChainWeight = 1
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected weight error")
	}
}

func TestValidateRequiresMakers(t *testing.T) {
	cfg := validConfig()
	cfg.RFQ.Makers = nil
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected maker error")
	}
}

func TestValidateOperatorRequiresTelegram(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.OperatorEnabled = true
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected telegram error")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
keeper:
  tick_interval: 30s
  utilization_safety_margin_bps: 250
  halt_on_divergence: false
vaults:
  - asset_id: NVDAx
    address: 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
    ticker: NVDA
rfq:
  timeout: 1500ms
  makers:
    - id: alpha
      url: https://maker.example/rfq
      transport: http
settlement:
  max_attempts: 3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Keeper.TickInterval != 30*time.Second {
		t.Fatalf("expected 30s tick, got %v", cfg.Keeper.TickInterval)
	}
	if cfg.Keeper.UtilizationSafetyMarginBps != 250 {
		t.Fatalf("expected margin 250, got %d", cfg.Keeper.UtilizationSafetyMarginBps)
	}
	if cfg.Keeper.HaltOnDivergenceValue() {
		t.Fatalf("expected halt on divergence disabled")
	}
	if cfg.RFQ.Timeout != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s rfq timeout, got %v", cfg.RFQ.Timeout)
	}
	if cfg.Settlement.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cfg.Settlement.MaxAttempts)
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
