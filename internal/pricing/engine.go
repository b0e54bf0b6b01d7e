package pricing

import "time"

// Engine fixes the contract terms the keeper writes every epoch so callers
// only supply market inputs.
type Engine struct {
	RiskFreeRate   float64
	StrikeDeltaBps int
	TenorDays      float64
}

func NewEngine(riskFreeRate float64, strikeDeltaBps int, tenorDays float64) *Engine {
	return &Engine{RiskFreeRate: riskFreeRate, StrikeDeltaBps: strikeDeltaBps, TenorDays: tenorDays}
}

func (e *Engine) Price(spot, vol, divergence float64) Result {
	res := Price(Input{
		Spot:          spot,
		StrikePercent: StrikePercent(e.StrikeDeltaBps),
		DaysToExpiry:  e.TenorDays,
		Volatility:    vol,
		RiskFreeRate:  e.RiskFreeRate,
	})
	res.Divergence = divergence
	return res
}

// Expiry is the option expiry for a contract written at now.
func (e *Engine) Expiry(now time.Time) time.Time {
	return now.Add(time.Duration(e.TenorDays * float64(24*time.Hour)))
}

// Years converts the tenor to the Black-Scholes time unit.
func (e *Engine) Years() float64 {
	return e.TenorDays / daysPerYear
}
