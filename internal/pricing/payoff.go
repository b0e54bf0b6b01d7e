package pricing

import "github.com/shopspring/decimal"

// CallPayoff is the value at expiry of a call on notional base units of the
// underlying, paid in the underlying: notional*(spot-strike)/spot when the
// option finishes in the money.
func CallPayoff(spot, strike float64, notional uint64) (uint64, bool) {
	if strike <= 0 || spot <= strike {
		return 0, false
	}
	payoff := decimal.NewFromUint64(notional).
		Mul(decimal.NewFromFloat(spot - strike)).
		Div(decimal.NewFromFloat(spot)).
		Truncate(0)
	return payoff.BigInt().Uint64(), true
}
