package vault

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrAmountOutOfRange = errors.New("vault: amount out of range")

// ToBaseUnits converts a token amount to integer base units, truncating
// sub-unit dust.
func ToBaseUnits(amount float64, decimals int32) (uint64, error) {
	if amount < 0 {
		return 0, ErrAmountOutOfRange
	}
	units := decimal.NewFromFloat(amount).Shift(decimals).Truncate(0)
	if !units.BigInt().IsUint64() {
		return 0, ErrAmountOutOfRange
	}
	return units.BigInt().Uint64(), nil
}

// PremiumToUnderlying converts a premium in quote-token base units to base
// units of the underlying at spot, truncating dust.
func PremiumToUnderlying(premium uint64, spot float64, premiumDecimals, tokenDecimals int32) (uint64, error) {
	if spot <= 0 {
		return 0, ErrAmountOutOfRange
	}
	units := decimal.NewFromUint64(premium).
		Shift(-premiumDecimals).
		Div(decimal.NewFromFloat(spot)).
		Shift(tokenDecimals).
		Truncate(0)
	if !units.BigInt().IsUint64() {
		return 0, ErrAmountOutOfRange
	}
	return units.BigInt().Uint64(), nil
}

// FromBaseUnits converts base units to a token amount.
func FromBaseUnits(units uint64, decimals int32) float64 {
	f, _ := decimal.NewFromUint64(units).Shift(-decimals).Float64()
	return f
}
