package pricing

import (
	"testing"
	"time"
)

func TestEngineUsesContractTerms(t *testing.T) {
	e := NewEngine(0.05, 1000, 30)
	res := e.Price(100, 0.35, 0.12)
	want := Price(Input{Spot: 100, StrikePercent: 1.1, DaysToExpiry: 30, Volatility: 0.35, RiskFreeRate: 0.05})
	if res.TheoreticalPremium != want.TheoreticalPremium {
		t.Fatalf("expected %v, got %v", want.TheoreticalPremium, res.TheoreticalPremium)
	}
	if res.Divergence != 0.12 {
		t.Fatalf("expected divergence carried, got %v", res.Divergence)
	}
}

func TestEngineExpiry(t *testing.T) {
	e := NewEngine(0.05, 1000, 7)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := e.Expiry(now); !got.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", got)
	}
}
