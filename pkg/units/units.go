// Package units converts between human-readable token amounts and integer
// minor units scaled by a token's decimals.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxDecimals bounds the decimals a token may declare
const MaxDecimals = 77

// ParseUnits converts a decimal string such as "1.5" into minor units for a
// token with the given decimals. Digits beyond the token precision are
// rounded half up.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return nil, fmt.Errorf("invalid decimals: %d", decimals)
	}

	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("amount is required")
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %s", amount)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative: %s", amount)
	}

	return d.Shift(int32(decimals)).Round(0).BigInt(), nil
}

// FormatUnits renders minor units as a decimal string without trailing zeros
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

// IsZero reports whether amount is empty or parses to zero
func IsZero(amount string) bool {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return true
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return true
	}
	return d.IsZero()
}
