// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BTCDecimals is the number of fractional digits in one bitcoin.
const BTCDecimals int32 = 8

// FormatAmount formats an amount in smallest units as a fixed-point decimal
// string with exactly `decimals` fractional digits.
// For example, FormatAmount(50000, 8) returns "0.00050000".
func FormatAmount(amount int64, decimals int32) string {
	return decimal.New(amount, -decimals).StringFixed(decimals)
}

// ParseAmount parses a decimal string to smallest units. Inputs carrying more
// than `decimals` fractional digits are rejected rather than truncated.
// For example, ParseAmount("0.001", 8) returns 100000.
func ParseAmount(s string, decimals int32) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount string")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	if !d.Equal(d.Truncate(decimals)) {
		return 0, fmt.Errorf("amount %q has more than %d fractional digits", s, decimals)
	}

	units := d.Shift(decimals)
	if !units.IsInteger() || !units.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount overflow: %s", s)
	}

	return units.IntPart(), nil
}

// SatoshisToBTC converts satoshis to a BTC string with 8 decimals.
func SatoshisToBTC(satoshis int64) string {
	return FormatAmount(satoshis, BTCDecimals)
}

// BTCToSatoshis converts a BTC string to satoshis.
func BTCToSatoshis(btc string) (int64, error) {
	return ParseAmount(btc, BTCDecimals)
}

// SatoshisToDecimal converts satoshis to a decimal BTC value.
func SatoshisToDecimal(satoshis int64) decimal.Decimal {
	return decimal.New(satoshis, -BTCDecimals)
}

// FormatBalance renders a balance the way the wallet displays it,
// e.g. "0.00150000 BTC".
func FormatBalance(satoshis int64) string {
	return SatoshisToBTC(satoshis) + " BTC"
}
