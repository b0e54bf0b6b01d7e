package vault

import "github.com/shopspring/decimal"

const bpsDenominator = 10_000

// Capacity is the headroom left under the utilization cap for the current epoch.
type Capacity struct {
	Max       uint64
	Exposed   uint64
	Available uint64
	// OK is false when Available is below the minimum tradeable notional.
	OK bool
	// Violated is set when the vault already holds more exposure than the cap
	// allows.
	Violated bool
}

type CapacityEvaluator struct {
	SafetyMarginBps int
	MinTradeable    uint64
}

func NewCapacityEvaluator(safetyMarginBps int, minTradeable uint64) *CapacityEvaluator {
	return &CapacityEvaluator{SafetyMarginBps: safetyMarginBps, MinTradeable: minTradeable}
}

func (e *CapacityEvaluator) Evaluate(s State) Capacity {
	capBps := int64(s.UtilizationCapBps) - int64(e.SafetyMarginBps)
	if capBps < 0 {
		capBps = 0
	}
	// totalAssets * capBps can exceed uint64.
	capUnits := decimal.NewFromUint64(s.TotalAssets).
		Mul(decimal.NewFromInt(capBps)).
		Div(decimal.NewFromInt(bpsDenominator)).
		Truncate(0)
	maxUnits := capUnits.BigInt().Uint64()

	out := Capacity{Max: maxUnits, Exposed: s.EpochNotionalExposed}
	rawCap := decimal.NewFromUint64(s.TotalAssets).
		Mul(decimal.NewFromInt(int64(s.UtilizationCapBps))).
		Div(decimal.NewFromInt(bpsDenominator)).
		Truncate(0)
	if decimal.NewFromUint64(s.EpochNotionalExposed).GreaterThan(rawCap) {
		out.Violated = true
	}
	if s.EpochNotionalExposed < maxUnits {
		out.Available = maxUnits - s.EpochNotionalExposed
	}
	out.OK = out.Available > 0 && out.Available >= e.MinTradeable
	return out
}

// RollNotional sizes the next roll: the available headroom bounded by
// fraction of total assets.
func RollNotional(c Capacity, totalAssets uint64, fraction float64) uint64 {
	if fraction <= 0 {
		return c.Available
	}
	bound := decimal.NewFromUint64(totalAssets).
		Mul(decimal.NewFromFloat(fraction)).
		Truncate(0).
		BigInt().Uint64()
	if bound < c.Available {
		return bound
	}
	return c.Available
}
