package precision

import (
	"github.com/shopspring/decimal"

	"perp-gateway/internal/gatewayerr"
	"perp-gateway/pkg/types"
)

// FormatSize rounds x to the nearest multiple of 10^-szDecimals and renders
// it with exactly szDecimals digits after the decimal point (R3). Rounding
// is to-nearest, unlike price formatting which truncates.
func FormatSize(x decimal.Decimal, szDecimals int) string {
	rounded := x.Round(int32(szDecimals))
	return rounded.StringFixed(int32(szDecimals))
}

// FormatPrice enforces R1 (<=5 significant digits, exempting only integers
// that already carry >= MaxSignificantDigits integer digits) and R2 (decimal
// places <= MAX_DECIMALS(isPerp) - szDecimals), truncating toward zero as
// required by the formatting policy (never rounding).
func FormatPrice(x decimal.Decimal, szDecimals int, isPerp bool) (string, error) {
	if x.IsNegative() {
		return "", gatewayerr.New(gatewayerr.KindPrecision, "price must be non-negative")
	}

	decimalCeiling := types.MaxDecimals(isPerp) - szDecimals
	if decimalCeiling < 0 {
		decimalCeiling = 0
	}

	truncated := x.Truncate(int32(decimalCeiling))

	intDigits := integerDigitCount(truncated)

	if truncated.Truncate(0).Equal(truncated) && intDigits >= types.MaxSignificantDigits {
		// Already an integer with at least MaxSignificantDigits digits: R1's
		// "integer prices exempt" clause applies outright, unmodified.
		return truncated.String(), nil
	}

	scale := intDigits - types.MaxSignificantDigits

	if scale > 0 {
		// More integer digits than allowed significant figures: zero out
		// the low-order integer digits (toward zero), no decimals survive.
		factor := decimal.New(1, int32(scale))
		final := truncated.Div(factor).Truncate(0).Mul(factor)
		return final.String(), nil
	}

	sigDecimals := -scale
	finalDecimals := decimalCeiling
	if sigDecimals < finalDecimals {
		finalDecimals = sigDecimals
	}
	final := truncated.Truncate(int32(finalDecimals))
	return final.StringFixed(int32(finalDecimals)), nil
}

// integerDigitCount returns the number of digits left of the decimal point
// in |x|, treating zero as one digit.
func integerDigitCount(x decimal.Decimal) int {
	intPart := x.Abs().Truncate(0)
	s := intPart.String()
	if s == "0" {
		return 1
	}
	return len(s)
}

// QuantizeToTick rounds price to the nearest multiple of tick (half away
// from zero), used when synthesizing IOC prices before the R1/R2 check.
func QuantizeToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	units := price.Div(tick).Round(0)
	return units.Mul(tick)
}
