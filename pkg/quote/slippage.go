package quote

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"smartswap/pkg/apperr"
)

// MaxBps is 100% expressed in basis points
const MaxBps = 10_000

var ErrInvalidSlippage = apperr.Validation("INVALID_SLIPPAGE", "Slippage must be a percentage between 0 and 100 with at most two decimals")

// ParseSlippageBps converts a percentage string ("0.5") into basis points (50)
func ParseSlippageBps(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, ErrInvalidSlippage.Wrap(err)
	}

	bps := d.Shift(2)
	if d.IsNegative() || !bps.Equal(bps.Truncate(0)) || bps.GreaterThan(decimal.NewFromInt(MaxBps)) {
		return 0, ErrInvalidSlippage
	}
	return bps.IntPart(), nil
}

// MinAmountOut applies the slippage guard: amountOut * (10000 - bps) / 10000,
// truncating toward zero.
func MinAmountOut(amountOut *big.Int, bps int64) *big.Int {
	if amountOut == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amountOut, big.NewInt(MaxBps-bps))
	return out.Quo(out, big.NewInt(MaxBps))
}
