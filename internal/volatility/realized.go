package volatility

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	TradingDaysPerYear = 252
	year               = 365 * 24 * time.Hour
)

type Sample struct {
	Time  time.Time
	Price float64
}

// Realized is the annualized sample standard deviation of log returns.
func Realized(samples []Sample, periodsPerYear float64, minSamples int) (float64, error) {
	clean := usable(samples)
	if minSamples < 3 {
		minSamples = 3
	}
	if len(clean) < minSamples {
		return 0, fmt.Errorf("%w: %d usable samples, need %d", ErrDataUnavailable, len(clean), minSamples)
	}
	returns := make([]float64, 0, len(clean)-1)
	for i := 1; i < len(clean); i++ {
		returns = append(returns, math.Log(clean[i].Price/clean[i-1].Price))
	}
	// StdDev is the unbiased (n-1) estimator.
	return stat.StdDev(returns, nil) * math.Sqrt(periodsPerYear), nil
}

// PeriodsPerYear derives the annualization factor from the mean spacing of
// the samples, on a calendar-year basis.
func PeriodsPerYear(samples []Sample) float64 {
	clean := usable(samples)
	if len(clean) < 2 {
		return 365
	}
	span := clean[len(clean)-1].Time.Sub(clean[0].Time)
	if span <= 0 {
		return 365
	}
	spacing := span / time.Duration(len(clean)-1)
	return float64(year) / float64(spacing)
}

func usable(samples []Sample) []Sample {
	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Price > 0 && !math.IsInf(s.Price, 0) && !math.IsNaN(s.Price) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
