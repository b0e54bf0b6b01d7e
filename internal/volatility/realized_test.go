package volatility

import (
	"errors"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func daily(prices ...float64) []Sample {
	out := make([]Sample, len(prices))
	for i, p := range prices {
		out[i] = Sample{Time: t0.Add(time.Duration(i) * 24 * time.Hour), Price: p}
	}
	return out
}

func TestRealizedMatchesSampleStdev(t *testing.T) {
	samples := daily(100, 102, 101, 103, 104)
	got, err := Realized(samples, TradingDaysPerYear, 3)
	if err != nil {
		t.Fatalf("realized: %v", err)
	}
	r := []float64{math.Log(102.0 / 100), math.Log(101.0 / 102), math.Log(103.0 / 101), math.Log(104.0 / 103)}
	var mean float64
	for _, v := range r {
		mean += v
	}
	mean /= 4
	var ss float64
	for _, v := range r {
		ss += (v - mean) * (v - mean)
	}
	want := math.Sqrt(ss/3) * math.Sqrt(TradingDaysPerYear)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRealizedFlatSeriesIsZero(t *testing.T) {
	got, err := Realized(daily(50, 50, 50, 50), TradingDaysPerYear, 3)
	if err != nil {
		t.Fatalf("realized: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected zero vol, got %v", got)
	}
}

func TestRealizedInsufficientSamples(t *testing.T) {
	_, err := Realized(daily(100, 101, 0, -1), TradingDaysPerYear, 3)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected data unavailable, got %v", err)
	}
}

func TestRealizedSortsSamples(t *testing.T) {
	ordered := daily(100, 110, 105, 108)
	shuffled := []Sample{ordered[2], ordered[0], ordered[3], ordered[1]}
	a, _ := Realized(ordered, 365, 3)
	b, _ := Realized(shuffled, 365, 3)
	if a != b {
		t.Fatalf("expected order independence, got %v vs %v", a, b)
	}
}

func TestPeriodsPerYear(t *testing.T) {
	if got := PeriodsPerYear(daily(1, 2, 3)); math.Abs(got-365) > 1e-9 {
		t.Fatalf("expected 365 for daily samples, got %v", got)
	}
	hourly := []Sample{{Time: t0, Price: 1}, {Time: t0.Add(time.Hour), Price: 1}, {Time: t0.Add(2 * time.Hour), Price: 1}}
	if got := PeriodsPerYear(hourly); math.Abs(got-365*24) > 1e-9 {
		t.Fatalf("expected 8760 for hourly samples, got %v", got)
	}
}
