// Package pricing prices the covered calls the vault writes.
package pricing

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

const daysPerYear = 365

type Input struct {
	Spot          float64
	StrikePercent float64
	DaysToExpiry  float64
	Volatility    float64
	RiskFreeRate  float64
}

type Result struct {
	// TheoreticalPremium is per unit of underlying, in quote currency.
	TheoreticalPremium float64
	PremiumBps         int
	Strike             float64
	Delta              float64
	VolatilityUsed     float64
	// Divergence carries the volatility source disagreement through to the
	// auction record.
	Divergence float64
}

// CallPremium is the Black-Scholes price of a European call with continuous
// compounding and no dividends. An expired option is worth nothing; zero
// volatility collapses to the discounted intrinsic value.
func CallPremium(spot, strike, years, vol, rate float64) float64 {
	if years <= 0 || spot <= 0 || strike <= 0 {
		return 0
	}
	discount := math.Exp(-rate * years)
	if vol <= 0 {
		return math.Max(spot-strike, 0) * discount
	}
	d1, d2 := d1d2(spot, strike, years, vol, rate)
	return spot*normCDF(d1) - strike*discount*normCDF(d2)
}

// CallDelta is dC/dS.
func CallDelta(spot, strike, years, vol, rate float64) float64 {
	if years <= 0 || vol <= 0 || spot <= 0 || strike <= 0 {
		if spot > strike {
			return 1
		}
		return 0
	}
	d1, _ := d1d2(spot, strike, years, vol, rate)
	return normCDF(d1)
}

func vega(spot, strike, years, vol, rate float64) float64 {
	d1, _ := d1d2(spot, strike, years, vol, rate)
	return spot * normPDF(d1) * math.Sqrt(years)
}

func d1d2(spot, strike, years, vol, rate float64) (float64, float64) {
	sqrtT := math.Sqrt(years)
	d1 := (math.Log(spot/strike) + (rate+0.5*vol*vol)*years) / (vol * sqrtT)
	return d1, d1 - vol*sqrtT
}

func normCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

func normPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

// Price is a pure function of its input.
func Price(in Input) Result {
	strike := in.Spot * in.StrikePercent
	years := in.DaysToExpiry / daysPerYear
	premium := CallPremium(in.Spot, strike, years, in.Volatility, in.RiskFreeRate)
	return Result{
		TheoreticalPremium: premium,
		PremiumBps:         PremiumBps(premium, in.Spot),
		Strike:             strike,
		Delta:              CallDelta(in.Spot, strike, years, in.Volatility, in.RiskFreeRate),
		VolatilityUsed:     in.Volatility,
	}
}

// PremiumBps expresses a per-unit premium as basis points of spot.
func PremiumBps(premium, spot float64) int {
	if spot <= 0 {
		return 0
	}
	return int(math.Round(premium / spot * 10_000))
}

// StrikePercent converts an out-of-the-money offset in bps to a strike
// multiplier on spot.
func StrikePercent(deltaBps int) float64 {
	return 1 + float64(deltaBps)/10_000
}

// ImpliedVolatility inverts CallPremium with Newton-Raphson. ok is false when
// the premium is outside the no-arbitrage band or the search fails to converge.
func ImpliedVolatility(premium, spot, strike, years, rate float64) (float64, bool) {
	if years <= 0 || premium <= 0 || spot <= 0 || strike <= 0 {
		return 0, false
	}
	lower := math.Max(spot-strike*math.Exp(-rate*years), 0)
	if premium <= lower || premium >= spot {
		return 0, false
	}
	vol := 0.3
	for i := 0; i < 100; i++ {
		diff := CallPremium(spot, strike, years, vol, rate) - premium
		if math.Abs(diff) < 1e-8 {
			return vol, true
		}
		v := vega(spot, strike, years, vol, rate)
		if v < 1e-10 {
			break
		}
		vol = math.Min(math.Max(vol-diff/v, 0.01), 5)
	}
	if math.Abs(CallPremium(spot, strike, years, vol, rate)-premium) < 1e-4 {
		return vol, true
	}
	return 0, false
}
