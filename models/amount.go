package models

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of fractional digits of the currency.
const MinorUnitExponent = 2

const (
	// maxFractionDigits bounds how many fractional digits an amount may be
	// written with, trailing zeros included.
	maxFractionDigits = 32

	// maxExponent is the largest decimal exponent that can still fit in
	// int64 minor units.
	maxExponent = 19 - MinorUnitExponent
)

var (
	// ErrAmountNotPositive is returned for zero or negative amounts.
	ErrAmountNotPositive = errors.New("amount must be positive")
	// ErrAmountPrecision is returned when an amount has more than two fractional digits.
	ErrAmountPrecision = errors.New("amount has more than two decimal places")
	// ErrAmountTooLarge is returned when an amount does not fit in int64 minor units.
	ErrAmountTooLarge = errors.New("amount is too large")
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// ToMinorUnits converts a decimal amount such as 30.25 into 3025 minor units.
// Only strictly positive amounts with at most two fractional digits are accepted.
//
// The exponent is checked before any arithmetic: rescaling a value such as
// 1e-50000000 would otherwise allocate and multiply huge big.Ints.
func ToMinorUnits(d decimal.Decimal) (int64, error) {
	if !d.IsPositive() {
		return 0, ErrAmountNotPositive
	}
	if exp := d.Exponent(); exp < -maxFractionDigits {
		return 0, ErrAmountPrecision
	} else if exp > maxExponent {
		return 0, ErrAmountTooLarge
	}
	scaled := d.Shift(MinorUnitExponent)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrAmountPrecision
	}
	if scaled.GreaterThan(maxMinor) {
		return 0, ErrAmountTooLarge
	}
	return scaled.IntPart(), nil
}

// FormatMinorUnits renders minor units with exactly two fractional digits: 7000 -> "70.00".
func FormatMinorUnits(minor int64) string {
	return decimal.New(minor, -MinorUnitExponent).StringFixed(MinorUnitExponent)
}
